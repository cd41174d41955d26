//go:build !darwin || !arm64

package darwinhv

import (
	"fmt"

	vmm "github.com/nimbusvm/vmcore"
)

// NewHost returns an error on non-Darwin/ARM64 platforms.
func NewHost() (*HostAdapter, error) {
	return nil, fmt.Errorf("hypervisor: not supported on this platform")
}

// HostAdapter is an opaque placeholder outside Darwin/ARM64 builds.
type HostAdapter struct{}

func (h *HostAdapter) AllocAt(hpa, size uint64) bool  { return false }
func (h *HostAdapter) DeallocAt(hpa, size uint64)     {}
func (h *HostAdapter) VirtToPhys(hva uintptr) (uint64, error) {
	return 0, fmt.Errorf("hypervisor: not supported on this platform")
}
func (h *HostAdapter) NowNanos() uint64                     { return 0 }
func (h *HostAdapter) CurrentVMID() (uint64, bool)           { return 0, false }
func (h *HostAdapter) CurrentVcpuID() (int, bool)            { return 0, false }
func (h *HostAdapter) CurrentPCPUID() (vmm.PhysCPUID, bool)  { return 0, false }
func (h *HostAdapter) VcpuResidesOn(vmID uint64, vcpuID int) (vmm.PhysCPUID, error) {
	return 0, fmt.Errorf("hypervisor: not supported on this platform")
}
func (h *HostAdapter) InjectIRQ(vmID uint64, vcpuID int, irq uint32) error {
	return fmt.Errorf("hypervisor: not supported on this platform")
}
func (h *HostAdapter) HasHardwareSupport() (bool, error) { return false, nil }
func (h *HostAdapter) NewPageTable(vmID uint64) (vmm.PageTable, error) {
	return nil, fmt.Errorf("hypervisor: not supported on this platform")
}
func (h *HostAdapter) NewVcpu(cfg vmm.VcpuCreateConfig) (vmm.Vcpu, error) {
	return nil, fmt.Errorf("hypervisor: not supported on this platform")
}

// Supported returns false on non-Darwin platforms.
func Supported() (bool, error) {
	return false, fmt.Errorf("hypervisor: not supported on this platform")
}

// NewVM returns an error on non-Darwin platforms.
func NewVM() (*VM, error) {
	return nil, fmt.Errorf("hypervisor: not supported on this platform")
}

// Stub implementations for VM methods
func (vm *VM) Close() error {
	return fmt.Errorf("hypervisor: not supported on this platform")
}

func (vm *VM) Map(host []byte, guestPhys uint64, perms MemPerm) error {
	return fmt.Errorf("hypervisor: not supported on this platform")
}

func (vm *VM) Unmap(guestPhys, size uint64) error {
	return fmt.Errorf("hypervisor: not supported on this platform")
}

func (vm *VM) NewVCPU() (*VCPU, error) {
	return nil, fmt.Errorf("hypervisor: not supported on this platform")
}

// Stub implementations for VCPU methods
func (c *VCPU) Close() error {
	return fmt.Errorf("hypervisor: not supported on this platform")
}

func (c *VCPU) GetReg(r Reg) (uint64, error) {
	return 0, fmt.Errorf("hypervisor: not supported on this platform")
}

func (c *VCPU) SetReg(r Reg, v uint64) error {
	return fmt.Errorf("hypervisor: not supported on this platform")
}

func (c *VCPU) GetPC() (uint64, error) {
	return 0, fmt.Errorf("hypervisor: not supported on this platform")
}

func (c *VCPU) SetPC(v uint64) error {
	return fmt.Errorf("hypervisor: not supported on this platform")
}

func (c *VCPU) Run() (ExitInfo, error) {
	return ExitInfo{}, fmt.Errorf("hypervisor: not supported on this platform")
}
