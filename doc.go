// Package vmm implements the resource manager at the core of a
// multi-architecture Type-1 hypervisor: it composes a running guest out of
// vCPUs, a two-stage-translated guest-physical address space, and a device
// bus, and drives the per-vCPU exit-dispatch loop that services VM exits.
//
// The package does not implement a vCPU execution primitive, a page-table
// data structure, device models, or host-kernel facilities (physical
// allocator, virt-to-phys, wall clock, IPI delivery) itself. Those are
// supplied by the embedding environment through the [Host], [Vcpu], and
// [PageTable] seams and wired together at [Create] time.
//
// # Basic usage
//
//	cfg := vmm.Config{
//		ID:        1,
//		VcpuCount: 1,
//		BSPEntry:  0x80000,
//		MemoryRegions: []vmm.MemoryRegion{{
//			GuestPhysBase: 0x80000,
//			Size:          0x100_0000,
//			Flags:         vmm.FlagRead | vmm.FlagWrite | vmm.FlagExec,
//			Kind:          vmm.RegionAllocated,
//		}},
//	}
//
//	vm, err := vmm.Create(cfg, deps)
//	if err != nil {
//		log.Fatal(err)
//	}
//	if err := vm.Boot(); err != nil {
//		log.Fatal(err)
//	}
//	reason, err := vm.RunVcpu(0)
//
// # Error handling
//
// All operations return a single result value; there is no exception
// path. Failures are reported through [Error], a closed taxonomy
// ([Unsupported], [BadState], [InvalidInput], [TranslationFailed],
// [HostError]).
package vmm
