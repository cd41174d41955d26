package vmm

import (
	"testing"
	"time"
)

func TestMetricsRecordAndSnapshot(t *testing.T) {
	ResetMetrics()
	defer ResetMetrics()

	recordVMCreate(10 * time.Millisecond)
	recordVMCreate(30 * time.Millisecond)
	recordVMShutdown()
	recordRunVcpuIteration(5 * time.Millisecond)
	recordDispatch(ExitMmioRead)
	recordDispatch(ExitMmioWrite)
	recordDispatch(ExitIoRead)
	recordDispatch(ExitIoWrite)
	recordDispatch(ExitSysRegRead)
	recordDispatch(ExitSysRegWrite)
	recordDispatch(ExitNestedPageFault)
	recordDispatch(ExitExternal)
	recordMapOperation()
	recordUnmapOperation()
	recordIVCAlloc()
	recordIVCRelease()
	recordInterruptOk()
	recordInterruptFail()
	recordHostError()

	m := GetMetrics()

	if m.VMCreated != 2 {
		t.Errorf("VMCreated = %d, want 2", m.VMCreated)
	}
	if m.AvgVMCreateTimeNs != uint64((20*time.Millisecond).Nanoseconds()) {
		t.Errorf("AvgVMCreateTimeNs = %d, want average of 10ms and 30ms", m.AvgVMCreateTimeNs)
	}
	if m.VMShutdown != 1 {
		t.Errorf("VMShutdown = %d, want 1", m.VMShutdown)
	}
	if m.VcpuRunIterations != 1 {
		t.Errorf("VcpuRunIterations = %d, want 1", m.VcpuRunIterations)
	}
	if m.AvgRunVcpuTimeNs != uint64((5 * time.Millisecond).Nanoseconds()) {
		t.Errorf("AvgRunVcpuTimeNs = %d, want 5ms", m.AvgRunVcpuTimeNs)
	}
	if m.DispatchMMIORead != 1 || m.DispatchMMIOWrite != 1 || m.DispatchIORead != 1 ||
		m.DispatchIOWrite != 1 || m.DispatchSysRegRead != 1 || m.DispatchSysRegWrite != 1 ||
		m.DispatchPageFault != 1 || m.DispatchExternal != 1 {
		t.Errorf("dispatch counters did not each increment exactly once: %+v", m)
	}
	if m.MapOperations != 1 || m.UnmapOperations != 1 {
		t.Errorf("map/unmap counters wrong: %+v", m)
	}
	if m.IVCAllocations != 1 || m.IVCReleases != 1 {
		t.Errorf("ivc counters wrong: %+v", m)
	}
	if m.InterruptsInjected != 1 || m.InterruptFailures != 1 {
		t.Errorf("interrupt counters wrong: %+v", m)
	}
	if m.HostErrors != 1 {
		t.Errorf("HostErrors = %d, want 1", m.HostErrors)
	}
}

func TestResetMetricsZeroesEverything(t *testing.T) {
	recordVMCreate(time.Millisecond)
	recordDispatch(ExitMmioRead)
	ResetMetrics()

	m := GetMetrics()
	if m.VMCreated != 0 || m.DispatchMMIORead != 0 || m.AvgVMCreateTimeNs != 0 {
		t.Errorf("ResetMetrics did not zero everything: %+v", m)
	}
}

func TestRecordDispatchUnknownKindCountsAsExternal(t *testing.T) {
	ResetMetrics()
	defer ResetMetrics()

	recordDispatch(ExitKind(255))
	m := GetMetrics()
	if m.DispatchExternal != 1 {
		t.Errorf("DispatchExternal = %d, want 1 for an unrecognised exit kind", m.DispatchExternal)
	}
}
