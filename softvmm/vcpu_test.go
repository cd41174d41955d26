package softvmm

import (
	"testing"

	vmm "github.com/nimbusvm/vmcore"
)

func TestVcpuWithExitsReplaysInOrder(t *testing.T) {
	h := NewHost(1)
	raw, err := h.NewVcpu(vmm.VcpuCreateConfig{VcpuID: 0})
	if err != nil {
		t.Fatalf("NewVcpu: %v", err)
	}
	vc := raw.(*Vcpu)
	vc.WithExits(
		vmm.ExitReason{Kind: vmm.ExitMmioRead, GPA: 0x1000},
		vmm.ExitReason{Kind: vmm.ExitIoWrite, Port: 0x3f8},
	)

	r1, err := vc.Run()
	if err != nil {
		t.Fatalf("Run 1: %v", err)
	}
	if r1.Kind != vmm.ExitMmioRead || r1.GPA != 0x1000 {
		t.Errorf("first Run() = %+v, want the first queued exit", r1)
	}

	r2, err := vc.Run()
	if err != nil {
		t.Fatalf("Run 2: %v", err)
	}
	if r2.Kind != vmm.ExitIoWrite || r2.Port != 0x3f8 {
		t.Errorf("second Run() = %+v, want the second queued exit", r2)
	}

	r3, err := vc.Run()
	if err != nil {
		t.Fatalf("Run 3: %v", err)
	}
	if r3.Kind != vmm.ExitExternal {
		t.Errorf("Run() past the queued exits = %+v, want ExitExternal", r3)
	}
}

func TestVcpuSetupSeedsEntryRegister(t *testing.T) {
	h := NewHost(1)
	raw, err := h.NewVcpu(vmm.VcpuCreateConfig{VcpuID: 0})
	if err != nil {
		t.Fatalf("NewVcpu: %v", err)
	}
	vc := raw.(*Vcpu)
	if err := vc.Setup(vmm.VcpuSetupConfig{Entry: 0x80000}); err != nil {
		t.Fatalf("Setup: %v", err)
	}
	got, err := vc.GetReg(vmm.Reg(0))
	if err != nil {
		t.Fatalf("GetReg: %v", err)
	}
	if got != 0x80000 {
		t.Errorf("reg0 = 0x%x after Setup, want the entry point 0x80000", got)
	}
}

func TestVcpuGetSetRegRejectsOutOfRange(t *testing.T) {
	h := NewHost(1)
	raw, err := h.NewVcpu(vmm.VcpuCreateConfig{VcpuID: 0})
	if err != nil {
		t.Fatalf("NewVcpu: %v", err)
	}
	vc := raw.(*Vcpu)
	if _, err := vc.GetReg(vmm.Reg(999)); err == nil {
		t.Errorf("expected GetReg to reject an out-of-range register index")
	}
	if err := vc.SetReg(vmm.Reg(999), 1); err == nil {
		t.Errorf("expected SetReg to reject an out-of-range register index")
	}
}

func TestVcpuGetSetRegRoundTrip(t *testing.T) {
	h := NewHost(1)
	raw, err := h.NewVcpu(vmm.VcpuCreateConfig{VcpuID: 0})
	if err != nil {
		t.Fatalf("NewVcpu: %v", err)
	}
	vc := raw.(*Vcpu)
	if err := vc.SetReg(vmm.Reg(5), 0xabc); err != nil {
		t.Fatalf("SetReg: %v", err)
	}
	got, err := vc.GetReg(vmm.Reg(5))
	if err != nil {
		t.Fatalf("GetReg: %v", err)
	}
	if got != 0xabc {
		t.Errorf("got 0x%x, want 0xabc", got)
	}
}
