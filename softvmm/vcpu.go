package softvmm

import (
	"fmt"
	"sync"

	vmm "github.com/nimbusvm/vmcore"
)

// Vcpu is a software vCPU: Run replays a queue of vmm.ExitReason values set
// with WithExits, and GetReg/SetReg read and write a plain register file.
// Nothing here executes guest code; it exists to drive the dispatch loop
// in vmm.VM.RunVcpu through an exact, repeatable exit sequence.
type Vcpu struct {
	id   int
	host *Host
	vmID uint64

	mu    sync.Mutex
	regs  [64]uint64
	entry uint64
	exits []vmm.ExitReason
	next  int
	bound bool
}

// WithExits queues the given exit reasons, returned in order by
// successive Run calls. Once exhausted, Run returns ExitExternal.
func (v *Vcpu) WithExits(exits ...vmm.ExitReason) *Vcpu {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.exits = append(v.exits, exits...)
	return v
}

func (v *Vcpu) Setup(cfg vmm.VcpuSetupConfig) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.entry = cfg.Entry
	v.regs[0] = cfg.Entry
	return nil
}

func (v *Vcpu) Bind() error {
	v.mu.Lock()
	v.bound = true
	v.mu.Unlock()
	v.host.setCurrent(v.vmID, v.id, true)
	return nil
}

func (v *Vcpu) Unbind() error {
	v.mu.Lock()
	v.bound = false
	v.mu.Unlock()
	v.host.setCurrent(v.vmID, v.id, false)
	return nil
}

func (v *Vcpu) Run() (vmm.ExitReason, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.next >= len(v.exits) {
		return vmm.ExitReason{Kind: vmm.ExitExternal}, nil
	}
	r := v.exits[v.next]
	v.next++
	return r, nil
}

func (v *Vcpu) GetReg(r vmm.Reg) (uint64, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	idx := int(r)
	if idx < 0 || idx >= len(v.regs) {
		return 0, fmt.Errorf("softvmm: register index %d out of range", idx)
	}
	return v.regs[idx], nil
}

func (v *Vcpu) SetReg(r vmm.Reg, val uint64) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	idx := int(r)
	if idx < 0 || idx >= len(v.regs) {
		return fmt.Errorf("softvmm: register index %d out of range", idx)
	}
	v.regs[idx] = val
	return nil
}
