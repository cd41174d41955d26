package vmm

import (
	"sync"
	"unsafe"
)

// AddressSpace is the guest-physical address space: a two-stage page table
// rooted at a fixed host-physical address, covering [AspaceBase,
// AspaceBase+AspaceSize). It is the sole mutable field of a VM and is
// always accessed under its own mutex; the stage-2 root itself is
// immutable after construction and needs no lock to read.
type AddressSpace struct {
	mu sync.Mutex
	pt PageTable

	lastFaultValid bool
	lastFaultGPA   uint64
	lastFaultAcc   AccessFlags
}

// NewAddressSpace wraps a host-supplied PageTable. The PageTable is
// expected to already cover [AspaceBase, AspaceBase+AspaceSize).
func NewAddressSpace(pt PageTable) *AddressSpace {
	return &AddressSpace{pt: pt}
}

// RootHPA is the immutable stage-2 root, safe to read without the lock.
func (as *AddressSpace) RootHPA() uint64 { return as.pt.RootHPA() }

// MapLinear installs a linear GPA->HPA mapping.
func (as *AddressSpace) MapLinear(gpa, hpa, length uint64, flags MemFlags) error {
	as.mu.Lock()
	defer as.mu.Unlock()
	if err := as.pt.MapLinear(gpa, hpa, length, flags); err != nil {
		return errHostError("map_linear", err)
	}
	recordMapOperation()
	return nil
}

// MapAlloc installs a host-allocated, on-demand-backed mapping. This is
// the dynamic map_region operation of §4.2 when kind=Allocated.
func (as *AddressSpace) MapAlloc(gpa, length uint64, flags MemFlags, zeroed bool) error {
	as.mu.Lock()
	defer as.mu.Unlock()
	if err := as.pt.MapAlloc(gpa, length, flags, zeroed); err != nil {
		return errHostError("map_alloc", err)
	}
	recordMapOperation()
	return nil
}

// UnmapRegion removes a previously installed mapping. The range must
// exactly match one installed by MapLinear or MapAlloc.
func (as *AddressSpace) UnmapRegion(gpa, length uint64) error {
	as.mu.Lock()
	defer as.mu.Unlock()
	if err := as.pt.Unmap(gpa, length); err != nil {
		return errHostError("unmap_region", err)
	}
	recordUnmapOperation()
	return nil
}

// ResolveFault services a NestedPageFault exit. Resolving the same fault
// signature twice in a row is a no-op after the first success, per the
// manager's idempotence invariant.
func (as *AddressSpace) ResolveFault(gpa uint64, access AccessFlags) error {
	as.mu.Lock()
	defer as.mu.Unlock()

	if as.lastFaultValid && as.lastFaultGPA == gpa && as.lastFaultAcc == access {
		return nil
	}
	if err := as.pt.ResolveFault(gpa, access); err != nil {
		as.lastFaultValid = false
		return errTranslationFailed("resolve_fault", "fault not resolvable")
	}
	as.lastFaultValid = true
	as.lastFaultGPA = gpa
	as.lastFaultAcc = access
	return nil
}

// Translate returns the ordered, possibly non-contiguous, host-virtual
// byte fragments backing [gpa, gpa+length).
func (as *AddressSpace) Translate(gpa, length uint64) ([][]byte, error) {
	as.mu.Lock()
	defer as.mu.Unlock()
	frags, err := as.pt.Translate(gpa, length)
	if err != nil {
		return nil, errTranslationFailed("translate", "guest pointer does not resolve")
	}
	return frags, nil
}

// ImageLoadRegion returns the raw fragmented buffer covering [gpa,
// gpa+size) for bulk image loading. It fails if any byte in the range is
// unmapped.
func (as *AddressSpace) ImageLoadRegion(gpa, size uint64) ([][]byte, error) {
	return as.Translate(gpa, size)
}

// copyFromFragments copies n bytes starting at byte offset 0 of frags into
// dst, walking fragment boundaries.
func copyFromFragments(frags [][]byte, dst []byte) error {
	need := len(dst)
	pos := 0
	for _, f := range frags {
		if pos >= need {
			break
		}
		n := copy(dst[pos:], f)
		pos += n
	}
	if pos < need {
		return errTranslationFailed("read_of", "insufficient backing fragments")
	}
	return nil
}

// copyToFragments writes src into frags, walking fragment boundaries.
func copyToFragments(frags [][]byte, src []byte) error {
	need := len(src)
	pos := 0
	for _, f := range frags {
		if pos >= need {
			break
		}
		n := copy(f, src[pos:])
		pos += n
	}
	if pos < need {
		return errTranslationFailed("write_of", "insufficient backing fragments")
	}
	return nil
}

// ReadOf performs the typed, fragmentation-aware guest read described in
// §4.1: gpa must be aligned to T's natural alignment, the backing
// fragments are walked without assuming contiguity, and T is reconstructed
// from the resulting byte stream using unaligned read semantics.
func ReadOf[T any](as *AddressSpace, gpa uint64) (T, error) {
	var zero T
	align := uint64(unsafe.Alignof(zero))
	if gpa%align != 0 {
		return zero, errInvalidInput("read_of", "misaligned guest pointer")
	}
	size := uint64(unsafe.Sizeof(zero))
	frags, err := as.Translate(gpa, size)
	if err != nil {
		return zero, err
	}
	buf := make([]byte, size)
	if err := copyFromFragments(frags, buf); err != nil {
		return zero, err
	}
	var out T
	copy(unsafe.Slice((*byte)(unsafe.Pointer(&out)), size), buf)
	return out, nil
}

// WriteOf is the symmetric typed write: it splits v's bytes across the
// returned fragments in order.
func WriteOf[T any](as *AddressSpace, gpa uint64, v T) error {
	align := uint64(unsafe.Alignof(v))
	if gpa%align != 0 {
		return errInvalidInput("write_of", "misaligned guest pointer")
	}
	size := uint64(unsafe.Sizeof(v))
	frags, err := as.Translate(gpa, size)
	if err != nil {
		return err
	}
	buf := make([]byte, size)
	copy(buf, unsafe.Slice((*byte)(unsafe.Pointer(&v)), size))
	return copyToFragments(frags, buf)
}
