package vmm

// ExitKind is the closed, architecture-neutral tag of why a vCPU stopped
// running.
type ExitKind uint8

const (
	ExitMmioRead ExitKind = iota
	ExitMmioWrite
	ExitIoRead
	ExitIoWrite
	ExitSysRegRead
	ExitSysRegWrite
	ExitNestedPageFault
	// ExitExternal covers any cause the manager does not handle itself:
	// halt, shutdown request, IPI wake, debug stop, and so on. The vCPU
	// collaborator supplies an opaque Code for diagnostics.
	ExitExternal
)

func (k ExitKind) String() string {
	switch k {
	case ExitMmioRead:
		return "mmio_read"
	case ExitMmioWrite:
		return "mmio_write"
	case ExitIoRead:
		return "io_read"
	case ExitIoWrite:
		return "io_write"
	case ExitSysRegRead:
		return "sysreg_read"
	case ExitSysRegWrite:
		return "sysreg_write"
	case ExitNestedPageFault:
		return "nested_page_fault"
	case ExitExternal:
		return "external"
	default:
		return "unknown"
	}
}

// ExitReason is the union of every field any exit variant can carry. Only
// the fields relevant to Kind are meaningful; the dispatcher in vm.go
// never reads a field outside its variant.
type ExitReason struct {
	Kind ExitKind

	// MmioRead / MmioWrite / NestedPageFault
	GPA uint64
	// MmioRead / MmioWrite / IoRead / IoWrite
	Width Width
	// MmioRead / IoRead / SysRegRead
	DestReg Reg
	// MmioWrite / IoWrite / SysRegWrite
	Value uint64
	// IoRead / IoWrite
	Port uint16
	// SysRegRead / SysRegWrite
	Addr uint64
	// NestedPageFault
	AccessFlags AccessFlags
	// ExitExternal
	Code uint64
}

// VcpuCreateConfig is the architecture-specific payload the vCPU
// collaborator needs to instantiate a vCPU: the physical identity (MPIDR,
// hart id, APIC id, ...) derived from Config affinity, plus whatever else
// the architecture's vCPU implementation requires. The manager treats it
// as opaque and only constructs the PhysicalID field itself.
type VcpuCreateConfig struct {
	VcpuID     int
	PhysicalID uint64
	Arch       any
}

// VcpuSetupConfig is the architecture-specific payload passed to
// Vcpu.Setup: the initial program counter, the stage-2 root, and whatever
// per-architecture boot state (PSCI entry args, reset vector, ...) the
// caller supplies.
type VcpuSetupConfig struct {
	Entry      uint64
	Stage2Root uint64
	Arch       any
}

// Vcpu is the manager's view of a vCPU: a shared-ownership handle created
// by an external collaborator. The manager calls Setup, Bind/Unbind, Run,
// and SetReg (to write back read results) and otherwise treats the handle
// as opaque. It does not hold a
// back-pointer to its owning VM; identity is the plain (vmID, vcpuID) pair
// threaded through the Host abstraction instead.
type Vcpu interface {
	// Setup configures the vCPU's initial architectural state. Called once,
	// during VM creation.
	Setup(cfg VcpuSetupConfig) error
	// Bind attaches the vCPU to the calling physical CPU; Unbind detaches
	// it. run_vcpu calls Bind before its loop and Unbind after.
	Bind() error
	Unbind() error
	// Run enters guest mode and blocks until the next exit.
	Run() (ExitReason, error)
	// GetReg / SetReg access general-purpose register state; used by the
	// dispatcher to write back MmioRead/IoRead/SysRegRead results.
	GetReg(r Reg) (uint64, error)
	SetReg(r Reg, v uint64) error
}

// VcpuFactory instantiates a Vcpu handle for one (vcpu_id, affinity)
// tuple. Supplied by the caller of Create; the manager never constructs a
// concrete vCPU type itself.
type VcpuFactory func(cfg VcpuCreateConfig) (Vcpu, error)
