package softvmm

import (
	"fmt"
	"sort"
	"sync"
	"time"
	"unsafe"

	vmm "github.com/nimbusvm/vmcore"
)

type region struct {
	base uint64
	mem  []byte
}

// Host is a software-only vmm.Host: host-physical memory is just a Go byte
// slice per allocation, and physical-CPU identity is tracked by whichever
// vCPU last called Bind, since there is no real scheduler underneath.
type Host struct {
	mu      sync.Mutex
	regions []region

	current struct {
		vmID  uint64
		vcpu  int
		bound bool
	}

	vmID      uint64
	injected  []InjectedIRQ
	vcpuCount int
	vcpus     map[int]*Vcpu
}

// InjectedIRQ records a single InjectIRQ call, for tests to assert on.
type InjectedIRQ struct {
	VMID   uint64
	VcpuID int
	IRQ    uint32
}

// NewHost returns a Host identified by vmID, used for CurrentVMID.
// InjectedIRQ records carry the vmID passed to InjectIRQ.
func NewHost(vmID uint64) *Host {
	return &Host{vmID: vmID}
}

func (h *Host) AllocAt(hpa, size uint64) bool {
	if size == 0 {
		return false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, r := range h.regions {
		if hpa < r.base+uint64(len(r.mem)) && r.base < hpa+size {
			return false
		}
	}
	h.regions = append(h.regions, region{base: hpa, mem: make([]byte, size)})
	sort.Slice(h.regions, func(i, j int) bool { return h.regions[i].base < h.regions[j].base })
	return true
}

func (h *Host) DeallocAt(hpa, size uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, r := range h.regions {
		if r.base == hpa {
			h.regions = append(h.regions[:i], h.regions[i+1:]...)
			return
		}
	}
}

// Lookup returns the backing slice for [hpa, hpa+length) if some AllocAt
// call fully covers it. Used by PageTable.MapLinear.
func (h *Host) Lookup(hpa, length uint64) ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, r := range h.regions {
		if hpa >= r.base && hpa+length <= r.base+uint64(len(r.mem)) {
			off := hpa - r.base
			return r.mem[off : off+length], nil
		}
	}
	return nil, fmt.Errorf("softvmm: no host region backs hpa 0x%x+%d", hpa, length)
}

func (h *Host) VirtToPhys(hva uintptr) (uint64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, r := range h.regions {
		if len(r.mem) == 0 {
			continue
		}
		base := uintptr(unsafe.Pointer(&r.mem[0]))
		if hva >= base && hva < base+uintptr(len(r.mem)) {
			return r.base + uint64(hva-base), nil
		}
	}
	return 0, fmt.Errorf("softvmm: host virtual address not backed by a known region")
}

func (h *Host) NowNanos() uint64 {
	return uint64(time.Now().UnixNano())
}

func (h *Host) CurrentVMID() (uint64, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.current.bound {
		return 0, false
	}
	return h.current.vmID, true
}

func (h *Host) CurrentVcpuID() (int, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.current.bound {
		return 0, false
	}
	return h.current.vcpu, true
}

func (h *Host) CurrentPCPUID() (vmm.PhysCPUID, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.current.bound {
		return 0, false
	}
	return vmm.PhysCPUID(h.current.vcpu), true
}

func (h *Host) setCurrent(vmID uint64, vcpuID int, bound bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.current.vmID = vmID
	h.current.vcpu = vcpuID
	h.current.bound = bound
}

// VcpuResidesOn reports the vCPU's own id as its physical CPU, a 1:1
// pinning that keeps the scenario deterministic without a real scheduler.
func (h *Host) VcpuResidesOn(vmID uint64, vcpuID int) (vmm.PhysCPUID, error) {
	return vmm.PhysCPUID(vcpuID), nil
}

func (h *Host) InjectIRQ(vmID uint64, vcpuID int, irq uint32) error {
	h.mu.Lock()
	h.injected = append(h.injected, InjectedIRQ{VMID: vmID, VcpuID: vcpuID, IRQ: irq})
	h.mu.Unlock()
	return nil
}

// Injected returns every IRQ delivered to this host so far, for assertions.
func (h *Host) Injected() []InjectedIRQ {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]InjectedIRQ, len(h.injected))
	copy(out, h.injected)
	return out
}

// HasHardwareSupport always reports true: softvmm has no real hardware
// dependency to probe, and Create/Boot gate on this to decide whether a VM
// may exist at all, so a software backend must answer "supported" to be
// usable for tests and for vmctl's no-hypervisor fallback.
func (h *Host) HasHardwareSupport() (bool, error) {
	return true, nil
}

func (h *Host) NewPageTable(vmID uint64) (vmm.PageTable, error) {
	return newPageTable(h), nil
}

// NewVcpu is a vmm.VcpuFactory. The Arch field of cfg is ignored; softvmm
// vCPUs are architecture-neutral register files driven entirely by the
// exit queue supplied through WithExits (see Vcpu).
func (h *Host) NewVcpu(cfg vmm.VcpuCreateConfig) (vmm.Vcpu, error) {
	id := cfg.VcpuID
	vc := &Vcpu{id: id, host: h, vmID: h.vmID}
	h.mu.Lock()
	if id >= h.vcpuCount {
		h.vcpuCount = id + 1
	}
	if h.vcpus == nil {
		h.vcpus = make(map[int]*Vcpu)
	}
	h.vcpus[id] = vc
	h.mu.Unlock()
	return vc, nil
}

// Vcpu returns the concrete *Vcpu created for id, so a test can queue exit
// reasons on it with WithExits after vmm.Create has wired it into a VM.
func (h *Host) Vcpu(id int) (*Vcpu, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	vc, ok := h.vcpus[id]
	return vc, ok
}
