package vmm

import (
	"errors"
	"sync/atomic"
	"time"
)

// VcpuMask addresses a subset of a VM's own vCPUs for interrupt injection.
// Bit i targets vCPU i; MaxVcpus bits is always enough to address every
// configured vCPU.
type VcpuMask uint64

// Dependencies are the external collaborators Create wires together. The
// manager never constructs a concrete Vcpu, DeviceBus, or PageTable type
// itself.
type Dependencies struct {
	Host    Host
	NewVcpu VcpuFactory
	NewBus  BusFactory
	// Timers obtains the architecture's per-vCPU virtual-timer model; nil
	// on architectures without one.
	Timers TimerFactory
}

// VM is the top-level aggregate: a stable id, a snapshot of its creation
// config, an ordered set of vCPU handles, a device bus, and the one
// mutable field — the address space — behind its own lock. Lifecycle is
// two lock-free, monotonic booleans.
type VM struct {
	id     uint64
	config Config
	host   Host

	vcpus      []Vcpu
	affinity   []AffinityTuple
	bus        DeviceBus
	as         *AddressSpace
	passthrough []PassthroughRange

	running      atomic.Bool
	shuttingDown atomic.Bool
}

// Create instantiates a VM: it probes virtualisation support, derives
// affinity, instantiates every vCPU, installs the address space, builds
// the device bus, performs architecture-specific wiring, and sets up each
// vCPU's initial architectural state. It does not start execution;
// execution begins on the first RunVcpu.
func Create(cfg Config, deps Dependencies) (*VM, error) {
	start := time.Now()

	if ok, err := deps.Host.HasHardwareSupport(); err != nil || !ok {
		return nil, errUnsupported("create", "host lacks virtualisation support")
	}
	if cfg.VcpuCount <= 0 {
		return nil, errInvalidInput("create", "vcpu_count must be > 0")
	}
	if cfg.VcpuCount > MaxVcpus {
		return nil, errInvalidInput("create", "vcpu_count exceeds MaxVcpus")
	}

	affinity := DeriveAffinity(cfg)

	vcpus := make([]Vcpu, cfg.VcpuCount)
	for _, t := range affinity {
		v, err := deps.NewVcpu(VcpuCreateConfig{VcpuID: t.VcpuID, PhysicalID: t.PhysicalID})
		if err != nil {
			return nil, errHostError("create", err)
		}
		vcpus[t.VcpuID] = v
	}

	pt, err := deps.Host.NewPageTable(cfg.ID)
	if err != nil {
		return nil, errHostError("create", err)
	}
	as := NewAddressSpace(pt)

	if err := installRAMRegions(deps.Host, as, cfg.MemoryRegions); err != nil {
		return nil, err
	}
	canon, err := installPassthrough(as, cfg.PassthroughDevices)
	if err != nil {
		return nil, err
	}

	bus, err := deps.NewBus(cfg)
	if err != nil {
		return nil, errHostError("create", err)
	}

	if err := wireDevices(cfg, bus, affinity, deps.Timers); err != nil {
		return nil, err
	}

	root := as.RootHPA()
	for i, v := range vcpus {
		entry := cfg.APEntry
		if i == 0 {
			entry = cfg.BSPEntry
		}
		if err := v.Setup(VcpuSetupConfig{Entry: entry, Stage2Root: root}); err != nil {
			return nil, errHostError("create", err)
		}
	}

	vm := &VM{
		id:          cfg.ID,
		config:      cfg,
		host:        deps.Host,
		vcpus:       vcpus,
		affinity:    affinity,
		bus:         bus,
		as:          as,
		passthrough: canon,
	}
	recordVMCreate(time.Since(start))
	return vm, nil
}

// ID returns the VM's stable numeric identity.
func (vm *VM) ID() uint64 { return vm.id }

// Config returns the creation-time configuration snapshot.
func (vm *VM) Config() Config { return vm.config }

// AddressSpace exposes the guest-physical address space for map/unmap and
// typed I/O (see ReadOf / WriteOf).
func (vm *VM) AddressSpace() *AddressSpace { return vm.as }

// Bus exposes the device bus, primarily so tests and callers can drive
// AllocIVC/ReleaseIVC directly; VM also exposes thin wrappers below.
func (vm *VM) Bus() DeviceBus { return vm.bus }

// Vcpu returns the handle for vcpuID, or false if it is out of range —
// the manager's vcpu(vcpu_id) lookup invariant.
func (vm *VM) Vcpu(vcpuID int) (Vcpu, bool) {
	if vcpuID < 0 || vcpuID >= len(vm.vcpus) {
		return nil, false
	}
	return vm.vcpus[vcpuID], true
}

func (vm *VM) vcpuCount() int { return len(vm.vcpus) }

// Boot transitions the VM from created to running. It refuses if
// virtualisation support has disappeared, or if the VM is already
// running; the running flag can only ever go false->true once.
func (vm *VM) Boot() error {
	if ok, err := vm.host.HasHardwareSupport(); err != nil || !ok {
		return errUnsupported("boot", "host lacks virtualisation support")
	}
	if !vm.running.CompareAndSwap(false, true) {
		return errBadState("boot", "vm already running")
	}
	return nil
}

// Shutdown marks the VM terminal. The flag cannot be cleared once set;
// concurrent RunVcpu calls observe it at their next loop turn.
func (vm *VM) Shutdown() error {
	if !vm.shuttingDown.CompareAndSwap(false, true) {
		return errBadState("shutdown", "vm already shutting down")
	}
	recordVMShutdown()
	return nil
}

// IsRunning and IsShuttingDown expose the lifecycle flags for callers that
// need to poll rather than drive a RunVcpu loop themselves.
func (vm *VM) IsRunning() bool      { return vm.running.Load() }
func (vm *VM) IsShuttingDown() bool { return vm.shuttingDown.Load() }

// RunVcpu pins vcpuID to the calling physical CPU, then loops calling the
// vCPU's Run and dispatching each exit until an exit goes unhandled (which
// always includes External), returning that final exit reason.
func (vm *VM) RunVcpu(vcpuID int) (ExitReason, error) {
	vc, ok := vm.Vcpu(vcpuID)
	if !ok {
		return ExitReason{}, errInvalidInput("run_vcpu", "vcpu id out of range")
	}
	if err := vc.Bind(); err != nil {
		return ExitReason{}, errHostError("run_vcpu", err)
	}
	defer vc.Unbind()

	var reason ExitReason
	for {
		if vm.shuttingDown.Load() {
			reason = ExitReason{Kind: ExitExternal}
			break
		}

		iterStart := time.Now()
		r, err := vc.Run()
		recordRunVcpuIteration(time.Since(iterStart))
		if err != nil {
			recordHostError()
			return r, errHostError("run_vcpu", err)
		}
		reason = r
		recordDispatch(reason.Kind)

		handled, err := vm.dispatch(vc, reason)
		if err != nil {
			return reason, err
		}
		if !handled {
			break
		}
	}
	return reason, nil
}

// dispatch implements the exhaustive, first-match dispatch table of
// §4.1. It reports whether the loop should continue and any error from a
// device or address-space handler, which the caller surfaces immediately
// without retry.
func (vm *VM) dispatch(vc Vcpu, reason ExitReason) (bool, error) {
	switch reason.Kind {
	case ExitMmioRead:
		v, err := vm.bus.ReadMMIO(reason.GPA, reason.Width)
		if err != nil {
			return false, err
		}
		if err := vc.SetReg(reason.DestReg, v); err != nil {
			return false, errHostError("run_vcpu", err)
		}
		return true, nil
	case ExitMmioWrite:
		if err := vm.bus.WriteMMIO(reason.GPA, reason.Width, reason.Value); err != nil {
			return false, err
		}
		return true, nil
	case ExitIoRead:
		v, err := vm.bus.ReadPort(reason.Port, reason.Width)
		if err != nil {
			return false, err
		}
		if err := vc.SetReg(Reg(0), v); err != nil {
			return false, errHostError("run_vcpu", err)
		}
		return true, nil
	case ExitIoWrite:
		if err := vm.bus.WritePort(reason.Port, reason.Width, reason.Value); err != nil {
			return false, err
		}
		return true, nil
	case ExitSysRegRead:
		v, err := vm.bus.ReadSysReg(reason.Addr, Qword)
		if err != nil {
			return false, err
		}
		if err := vc.SetReg(reason.DestReg, v); err != nil {
			return false, errHostError("run_vcpu", err)
		}
		return true, nil
	case ExitSysRegWrite:
		if err := vm.bus.WriteSysReg(reason.Addr, Qword, reason.Value); err != nil {
			return false, err
		}
		return true, nil
	case ExitNestedPageFault:
		if err := vm.as.ResolveFault(reason.GPA, reason.AccessFlags); err != nil {
			return false, err
		}
		return true, nil
	default:
		return false, nil
	}
}

// InjectInterrupt validates every targeted vCPU before attempting any
// delivery: a bit outside [0, vcpu_count) cannot address this VM's own
// vCPU table, which is exactly how cross-VM injection is structurally
// forbidden (see DESIGN.md). Partial failure among valid targets is
// reported; already-delivered injections are not rolled back.
func (vm *VM) InjectInterrupt(mask VcpuMask, irq uint32) error {
	if mask == 0 {
		return nil
	}
	for i := 0; i < 64; i++ {
		if mask&(1<<uint(i)) == 0 {
			continue
		}
		if i >= vm.vcpuCount() {
			return errInvalidInput("inject_interrupt", "target vCPU does not belong to this VM")
		}
	}

	var errs []error
	for i := 0; i < vm.vcpuCount(); i++ {
		if mask&(1<<uint(i)) == 0 {
			continue
		}
		if _, err := vm.host.VcpuResidesOn(vm.id, i); err != nil {
			recordInterruptFail()
			errs = append(errs, err)
			continue
		}
		if err := vm.host.InjectIRQ(vm.id, i, irq); err != nil {
			recordInterruptFail()
			errs = append(errs, err)
			continue
		}
		recordInterruptOk()
	}
	if len(errs) > 0 {
		return errHostError("inject_interrupt", errors.Join(errs...))
	}
	return nil
}

// AllocIVCChannel reserves requested bytes, rounded up to a 4 KiB
// multiple, from the device bus for inter-VM shared memory.
func (vm *VM) AllocIVCChannel(requested uint64) (gpa, granted uint64, err error) {
	return vm.bus.AllocIVC(requested)
}

// ReleaseIVCChannel releases a channel previously returned by
// AllocIVCChannel. gpa and size must match exactly.
func (vm *VM) ReleaseIVCChannel(gpa, size uint64) error {
	return vm.bus.ReleaseIVC(gpa, size)
}

// ImageLoadRegion returns the raw fragmented buffer covering [gpa,
// gpa+size) for bulk image loading.
func (vm *VM) ImageLoadRegion(gpa, size uint64) ([][]byte, error) {
	return vm.as.ImageLoadRegion(gpa, size)
}
