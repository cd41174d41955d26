package vmm

import (
	"sync/atomic"
	"time"
)

// Performance counters for the manager, adapted from the teacher's own
// package-level atomic metric block and broadened to the new operation set.
var (
	vmCreateCount      uint64
	vmShutdownCount    uint64
	vcpuRunIterations  uint64
	dispatchMMIORead   uint64
	dispatchMMIOWrite  uint64
	dispatchIORead     uint64
	dispatchIOWrite    uint64
	dispatchSysRegRead uint64
	dispatchSysRegWrite uint64
	dispatchPageFault  uint64
	dispatchExternal   uint64
	mapOperations      uint64
	unmapOperations    uint64
	ivcAllocations     uint64
	ivcReleases        uint64
	interruptsInjected uint64
	interruptFailures  uint64
	hostErrors         uint64

	totalVMCreateTime uint64
	totalRunVcpuTime  uint64
)

// Metrics is a point-in-time snapshot of the manager's performance counters.
type Metrics struct {
	VMCreated            uint64 `json:"vm_created"`
	VMShutdown           uint64 `json:"vm_shutdown"`
	VcpuRunIterations    uint64 `json:"vcpu_run_iterations"`
	DispatchMMIORead     uint64 `json:"dispatch_mmio_read"`
	DispatchMMIOWrite    uint64 `json:"dispatch_mmio_write"`
	DispatchIORead       uint64 `json:"dispatch_io_read"`
	DispatchIOWrite      uint64 `json:"dispatch_io_write"`
	DispatchSysRegRead   uint64 `json:"dispatch_sysreg_read"`
	DispatchSysRegWrite  uint64 `json:"dispatch_sysreg_write"`
	DispatchPageFault    uint64 `json:"dispatch_page_fault"`
	DispatchExternal     uint64 `json:"dispatch_external"`
	MapOperations        uint64 `json:"map_operations"`
	UnmapOperations      uint64 `json:"unmap_operations"`
	IVCAllocations       uint64 `json:"ivc_allocations"`
	IVCReleases          uint64 `json:"ivc_releases"`
	InterruptsInjected   uint64 `json:"interrupts_injected"`
	InterruptFailures    uint64 `json:"interrupt_failures"`
	HostErrors           uint64 `json:"host_errors"`
	AvgVMCreateTimeNs    uint64 `json:"avg_vm_create_time_ns"`
	AvgRunVcpuTimeNs     uint64 `json:"avg_run_vcpu_time_ns"`
}

// GetMetrics returns the current metrics snapshot.
func GetMetrics() Metrics {
	created := atomic.LoadUint64(&vmCreateCount)
	runs := atomic.LoadUint64(&vcpuRunIterations)

	var avgCreate, avgRun uint64
	if created > 0 {
		avgCreate = atomic.LoadUint64(&totalVMCreateTime) / created
	}
	if runs > 0 {
		avgRun = atomic.LoadUint64(&totalRunVcpuTime) / runs
	}

	return Metrics{
		VMCreated:           created,
		VMShutdown:          atomic.LoadUint64(&vmShutdownCount),
		VcpuRunIterations:   runs,
		DispatchMMIORead:    atomic.LoadUint64(&dispatchMMIORead),
		DispatchMMIOWrite:   atomic.LoadUint64(&dispatchMMIOWrite),
		DispatchIORead:      atomic.LoadUint64(&dispatchIORead),
		DispatchIOWrite:     atomic.LoadUint64(&dispatchIOWrite),
		DispatchSysRegRead:  atomic.LoadUint64(&dispatchSysRegRead),
		DispatchSysRegWrite: atomic.LoadUint64(&dispatchSysRegWrite),
		DispatchPageFault:   atomic.LoadUint64(&dispatchPageFault),
		DispatchExternal:    atomic.LoadUint64(&dispatchExternal),
		MapOperations:       atomic.LoadUint64(&mapOperations),
		UnmapOperations:     atomic.LoadUint64(&unmapOperations),
		IVCAllocations:      atomic.LoadUint64(&ivcAllocations),
		IVCReleases:         atomic.LoadUint64(&ivcReleases),
		InterruptsInjected:  atomic.LoadUint64(&interruptsInjected),
		InterruptFailures:   atomic.LoadUint64(&interruptFailures),
		HostErrors:          atomic.LoadUint64(&hostErrors),
		AvgVMCreateTimeNs:   avgCreate,
		AvgRunVcpuTimeNs:    avgRun,
	}
}

// ResetMetrics zeroes every counter. Intended for tests.
func ResetMetrics() {
	atomic.StoreUint64(&vmCreateCount, 0)
	atomic.StoreUint64(&vmShutdownCount, 0)
	atomic.StoreUint64(&vcpuRunIterations, 0)
	atomic.StoreUint64(&dispatchMMIORead, 0)
	atomic.StoreUint64(&dispatchMMIOWrite, 0)
	atomic.StoreUint64(&dispatchIORead, 0)
	atomic.StoreUint64(&dispatchIOWrite, 0)
	atomic.StoreUint64(&dispatchSysRegRead, 0)
	atomic.StoreUint64(&dispatchSysRegWrite, 0)
	atomic.StoreUint64(&dispatchPageFault, 0)
	atomic.StoreUint64(&dispatchExternal, 0)
	atomic.StoreUint64(&mapOperations, 0)
	atomic.StoreUint64(&unmapOperations, 0)
	atomic.StoreUint64(&ivcAllocations, 0)
	atomic.StoreUint64(&ivcReleases, 0)
	atomic.StoreUint64(&interruptsInjected, 0)
	atomic.StoreUint64(&interruptFailures, 0)
	atomic.StoreUint64(&hostErrors, 0)
	atomic.StoreUint64(&totalVMCreateTime, 0)
	atomic.StoreUint64(&totalRunVcpuTime, 0)
}

func recordVMCreate(d time.Duration) {
	atomic.AddUint64(&vmCreateCount, 1)
	atomic.AddUint64(&totalVMCreateTime, uint64(d.Nanoseconds()))
}

func recordVMShutdown() { atomic.AddUint64(&vmShutdownCount, 1) }

func recordRunVcpuIteration(d time.Duration) {
	atomic.AddUint64(&vcpuRunIterations, 1)
	atomic.AddUint64(&totalRunVcpuTime, uint64(d.Nanoseconds()))
}

func recordDispatch(k ExitKind) {
	switch k {
	case ExitMmioRead:
		atomic.AddUint64(&dispatchMMIORead, 1)
	case ExitMmioWrite:
		atomic.AddUint64(&dispatchMMIOWrite, 1)
	case ExitIoRead:
		atomic.AddUint64(&dispatchIORead, 1)
	case ExitIoWrite:
		atomic.AddUint64(&dispatchIOWrite, 1)
	case ExitSysRegRead:
		atomic.AddUint64(&dispatchSysRegRead, 1)
	case ExitSysRegWrite:
		atomic.AddUint64(&dispatchSysRegWrite, 1)
	case ExitNestedPageFault:
		atomic.AddUint64(&dispatchPageFault, 1)
	default:
		atomic.AddUint64(&dispatchExternal, 1)
	}
}

func recordMapOperation()   { atomic.AddUint64(&mapOperations, 1) }
func recordUnmapOperation() { atomic.AddUint64(&unmapOperations, 1) }
func recordIVCAlloc()       { atomic.AddUint64(&ivcAllocations, 1) }
func recordIVCRelease()     { atomic.AddUint64(&ivcReleases, 1) }
func recordInterruptOk()    { atomic.AddUint64(&interruptsInjected, 1) }
func recordInterruptFail()  { atomic.AddUint64(&interruptFailures, 1) }
func recordHostError()      { atomic.AddUint64(&hostErrors, 1) }
