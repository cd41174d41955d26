package vmm

// VMType influences host scheduler priority; the manager does not
// interpret it beyond carrying it in the Config snapshot.
type VMType int

const (
	VMTypeStandard VMType = iota
	VMTypeRealtime
	VMTypeService
)

// InterruptMode selects the device-wiring path in wireDevices.
type InterruptMode int

const (
	InterruptVirtualised InterruptMode = iota
	InterruptPassthrough
)

// RegionKind distinguishes an identity-mapped RAM region from one backed
// by on-demand host allocation.
type RegionKind int

const (
	RegionIdentity RegionKind = iota
	RegionAllocated
)

// MemoryRegion is one configured RAM region. Regions are installed in
// configuration order. The Device flag is invalid here — it belongs to
// PassthroughRange — and is stripped with a warning if present.
type MemoryRegion struct {
	GuestPhysBase uint64
	Size          uint64
	Flags         MemFlags
	Kind          RegionKind
}

// PassthroughRange is one configured passthrough device window, mapped
// linearly GPA->HPA. CanonicalizePassthrough aligns, sorts, and merges a
// slice of these.
type PassthroughRange struct {
	GuestPhysBase uint64
	HostPhysBase  uint64
	Length        uint64
	Name          string
}

// ImageLoad carries the guest-physical addresses the caller uses to place
// boot images; the manager does not itself perform image loading beyond
// exposing ImageLoadRegion.
type ImageLoad struct {
	Kernel  uint64
	BIOS    *uint64
	DTB     *uint64
	Ramdisk *uint64
}

// Config is the runtime configuration record derived once, externally,
// from whatever format the embedding environment parses (TOML, JSON, a
// programmatic builder — out of scope here).
type Config struct {
	ID      uint64
	Name    string
	VMType  VMType
	VcpuCount int

	// PhysCPUIDs, if present, must have length == VcpuCount: per-vCPU
	// physical-id pinning (MPIDR/hart id/APIC id source).
	PhysCPUIDs []uint64
	// PhysCPUSets, if present, must have length == VcpuCount: per-vCPU
	// scheduling affinity masks.
	PhysCPUSets []uint64

	BSPEntry uint64
	APEntry  uint64

	ImageLoad ImageLoad

	MemoryRegions []MemoryRegion

	// EmuDevices is opaque to the manager; it is handed verbatim to the
	// caller-supplied BusFactory.
	EmuDevices any

	PassthroughDevices []PassthroughRange
	PassthroughSPIs    []uint32

	InterruptMode InterruptMode
}

// AffinityTuple is one derived (vcpu_id, affinity_mask, physical_id)
// triple used to create and pin a vCPU. PhysicalID feeds the
// architecture-specific vCPU identity (MPIDR, hart id, ...); it is never
// used for scheduling. AffinityMask, when present, is.
type AffinityTuple struct {
	VcpuID       int
	AffinityMask uint64
	HasAffinity  bool
	PhysicalID   uint64
}

// DeriveAffinity computes the per-vCPU affinity tuples described in the
// runtime config. PhysicalID defaults to the vCPU id itself when
// PhysCPUIDs is absent or short.
func DeriveAffinity(cfg Config) []AffinityTuple {
	tuples := make([]AffinityTuple, cfg.VcpuCount)
	for i := 0; i < cfg.VcpuCount; i++ {
		t := AffinityTuple{VcpuID: i, PhysicalID: uint64(i)}
		if i < len(cfg.PhysCPUIDs) {
			t.PhysicalID = cfg.PhysCPUIDs[i]
		}
		if i < len(cfg.PhysCPUSets) {
			t.AffinityMask = cfg.PhysCPUSets[i]
			t.HasAffinity = true
		}
		tuples[i] = t
	}
	return tuples
}
