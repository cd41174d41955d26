package vmm

// AspaceBase and AspaceSize bound the guest-physical address space every
// VM's AddressSpace covers. Constant across architectures.
const (
	AspaceBase uint64 = 0x0
	AspaceSize uint64 = 0x7fff_ffff_f000
)

// PageSize is the granularity every alignment rule in this package uses.
const PageSize = 4096

// AlignDown4K rounds addr down to the nearest 4 KiB boundary.
func AlignDown4K(addr uint64) uint64 { return addr &^ (PageSize - 1) }

// AlignUp4K rounds size up to the nearest 4 KiB multiple.
func AlignUp4K(size uint64) uint64 { return (size + PageSize - 1) &^ (PageSize - 1) }

// IsPageAligned4K reports whether addr is a 4 KiB multiple.
func IsPageAligned4K(addr uint64) bool { return addr&(PageSize-1) == 0 }

// PageTable is the host-supplied two-stage (nested) translation seam: the
// data structure itself, and the allocation primitives that back it, are
// external collaborators. AddressSpace drives it through this interface
// and never reaches into its internals.
type PageTable interface {
	// MapLinear installs a linear GPA->HPA mapping of length bytes with the
	// given flags.
	MapLinear(gpa, hpa, length uint64, flags MemFlags) error
	// MapAlloc installs a mapping backed by host-allocated pages, handed out
	// on demand. When zeroed is true, pages are zero-filled on first touch.
	MapAlloc(gpa, length uint64, flags MemFlags, zeroed bool) error
	// Unmap removes a mapping previously installed by MapLinear or
	// MapAlloc. The range must exactly match a previously installed one.
	Unmap(gpa, length uint64) error
	// Translate resolves gpa to the ordered list of host-virtual byte
	// fragments backing [gpa, gpa+length). It never assumes the backing
	// store is contiguous.
	Translate(gpa, length uint64) ([][]byte, error)
	// ResolveFault services a nested page fault at gpa with the given
	// access flags. For MapAlloc regions this may install a page on
	// demand; for anything else it fails.
	ResolveFault(gpa uint64, access AccessFlags) error
	// RootHPA is the host-physical address of the stage-2 root, immutable
	// after construction.
	RootHPA() uint64
}
