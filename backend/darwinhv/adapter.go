//go:build darwin && arm64

package darwinhv

import (
	"fmt"
	"sort"
	"sync"
	"time"
	"unsafe"

	vmm "github.com/nimbusvm/vmcore"
)

// hostRegion is a (key, backing memory) pair. HostAdapter uses it to track
// allocated host memory keyed by the hpa the caller chose; pageTableAdapter
// reuses the same shape to track guest mappings keyed by gpa.
type hostRegion struct {
	key  uint64
	size uint64
	mem  []byte
}

// HostAdapter implements vmm.Host on top of Apple's Hypervisor.framework.
//
// Hypervisor.framework runs a single VM per process and gives userspace no
// host-physical-address or physical-CPU-topology concept, unlike a
// bare-metal host. The "host physical address" space this adapter hands
// back to vmm is therefore a backend-chosen identifier space: AllocAt
// registers anonymous host memory under the caller-supplied key and
// pageTableAdapter looks that memory back up by key when installing a
// guest mapping.
type HostAdapter struct {
	vm *VM

	mu      sync.Mutex
	regions []hostRegion
	vcpus   map[int]*vcpuAdapter
}

// NewHost creates the process-wide VM and wraps it as a vmm.Host.
func NewHost() (*HostAdapter, error) {
	vm, err := NewVM()
	if err != nil {
		return nil, err
	}
	return &HostAdapter{vm: vm, vcpus: make(map[int]*vcpuAdapter)}, nil
}

func (h *HostAdapter) AllocAt(hpa, size uint64) bool {
	if size == 0 {
		return false
	}
	aligned := alignUpPage(size)
	mem := make([]byte, aligned)

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, r := range h.regions {
		if hpa < r.key+r.size && r.key < hpa+aligned {
			return false
		}
	}
	h.regions = append(h.regions, hostRegion{key: hpa, size: aligned, mem: mem})
	sort.Slice(h.regions, func(i, j int) bool { return h.regions[i].key < h.regions[j].key })
	return true
}

func (h *HostAdapter) DeallocAt(hpa, size uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, r := range h.regions {
		if r.key == hpa {
			h.regions = append(h.regions[:i], h.regions[i+1:]...)
			return
		}
	}
}

func (h *HostAdapter) lookup(hpa, length uint64) ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, r := range h.regions {
		if hpa >= r.key && hpa+length <= r.key+r.size {
			off := hpa - r.key
			return r.mem[off : off+length], nil
		}
	}
	return nil, fmt.Errorf("darwinhv: no host region backs hpa 0x%x+%d", hpa, length)
}

func (h *HostAdapter) VirtToPhys(hva uintptr) (uint64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, r := range h.regions {
		if len(r.mem) == 0 {
			continue
		}
		base := uintptr(unsafe.Pointer(&r.mem[0]))
		if hva >= base && hva < base+uintptr(len(r.mem)) {
			return r.key + uint64(hva-base), nil
		}
	}
	return 0, fmt.Errorf("darwinhv: host virtual address not backed by a known region")
}

func (h *HostAdapter) NowNanos() uint64 {
	return uint64(time.Now().UnixNano())
}

// CurrentVMID, CurrentVcpuID and CurrentPCPUID have no framework-level
// equivalent on Darwin/ARM64: Hypervisor.framework does not expose which
// OS thread a vCPU is bound to, nor a physical core id, to userspace.
func (h *HostAdapter) CurrentVMID() (uint64, bool) { return 0, false }
func (h *HostAdapter) CurrentVcpuID() (int, bool)  { return 0, false }
func (h *HostAdapter) CurrentPCPUID() (vmm.PhysCPUID, bool) {
	return 0, false
}

// VcpuResidesOn reports a constant placement: the framework schedules vCPU
// threads onto physical cores itself and this backend does not pin them.
func (h *HostAdapter) VcpuResidesOn(vmID uint64, vcpuID int) (vmm.PhysCPUID, error) {
	return vmm.PhysCPUID(0), nil
}

func (h *HostAdapter) InjectIRQ(vmID uint64, vcpuID int, irq uint32) error {
	h.mu.Lock()
	vc, ok := h.vcpus[vcpuID]
	h.mu.Unlock()
	if !ok {
		return fmt.Errorf("darwinhv: no vcpu %d registered", vcpuID)
	}
	return vc.raw.SetPendingIRQ(true)
}

func (h *HostAdapter) HasHardwareSupport() (bool, error) {
	return Supported()
}

func (h *HostAdapter) NewPageTable(vmID uint64) (vmm.PageTable, error) {
	return &pageTableAdapter{host: h}, nil
}

// NewVcpu is a vmm.VcpuFactory bound to this host's VM.
func (h *HostAdapter) NewVcpu(cfg vmm.VcpuCreateConfig) (vmm.Vcpu, error) {
	raw, err := h.vm.NewVCPU()
	if err != nil {
		return nil, err
	}
	va := &vcpuAdapter{raw: raw, id: cfg.VcpuID}
	h.mu.Lock()
	h.vcpus[cfg.VcpuID] = va
	h.mu.Unlock()
	return va, nil
}

type vcpuAdapter struct {
	raw *VCPU
	id  int
}

func (v *vcpuAdapter) Setup(cfg vmm.VcpuSetupConfig) error {
	return v.raw.SetPC(cfg.Entry)
}

func (v *vcpuAdapter) Bind() error   { return nil }
func (v *vcpuAdapter) Unbind() error { return nil }

func (v *vcpuAdapter) Run() (vmm.ExitReason, error) {
	info, err := v.raw.Run()
	if err != nil {
		return vmm.ExitReason{}, err
	}
	switch info.Reason {
	case ExitException:
		return vmm.ExitReason{Kind: vmm.ExitExternal, Code: info.ESR, GPA: info.FAR}, nil
	default:
		return vmm.ExitReason{Kind: vmm.ExitExternal}, nil
	}
}

func (v *vcpuAdapter) GetReg(r vmm.Reg) (uint64, error) {
	return v.raw.GetReg(regFromVMM(r))
}

func (v *vcpuAdapter) SetReg(r vmm.Reg, val uint64) error {
	return v.raw.SetReg(regFromVMM(r), val)
}

func regFromVMM(r vmm.Reg) Reg {
	if int(r) >= int(RegX0) && int(r) <= int(RegCPSR) {
		return Reg(r)
	}
	return RegX0
}

// pageTableAdapter implements vmm.PageTable by tracking guest mappings
// keyed by gpa and delegating the actual guest-physical install to
// (*VM).Map / (*VM).Unmap. Translate is served from this bookkeeping since
// Hypervisor.framework exposes no gpa-to-hva lookup of its own.
type pageTableAdapter struct {
	host *HostAdapter

	mu   sync.Mutex
	maps []hostRegion
}

func (pt *pageTableAdapter) MapLinear(gpa, hpa, length uint64, flags vmm.MemFlags) error {
	mem, err := pt.host.lookup(hpa, length)
	if err != nil {
		return err
	}
	return pt.install(gpa, length, mem, flags)
}

func (pt *pageTableAdapter) MapAlloc(gpa, length uint64, flags vmm.MemFlags, zeroed bool) error {
	mem := make([]byte, alignUpPage(length))
	_ = zeroed // freshly allocated Go slices are always zero-filled
	return pt.install(gpa, length, mem, flags)
}

func (pt *pageTableAdapter) install(gpa, length uint64, mem []byte, flags vmm.MemFlags) error {
	if err := pt.host.vm.Map(mem, gpa, flagsToPerm(flags)); err != nil {
		return err
	}
	pt.mu.Lock()
	pt.maps = append(pt.maps, hostRegion{key: gpa, size: uint64(len(mem)), mem: mem})
	sort.Slice(pt.maps, func(i, j int) bool { return pt.maps[i].key < pt.maps[j].key })
	pt.mu.Unlock()
	return nil
}

func (pt *pageTableAdapter) Unmap(gpa, length uint64) error {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	for i, m := range pt.maps {
		if m.key == gpa {
			if err := pt.host.vm.Unmap(gpa, m.size); err != nil {
				return err
			}
			pt.maps = append(pt.maps[:i], pt.maps[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("darwinhv: no mapping at gpa 0x%x", gpa)
}

func (pt *pageTableAdapter) Translate(gpa, length uint64) ([][]byte, error) {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	for _, m := range pt.maps {
		if gpa >= m.key && gpa+length <= m.key+m.size {
			off := gpa - m.key
			return [][]byte{m.mem[off : off+length]}, nil
		}
	}
	return nil, fmt.Errorf("darwinhv: gpa 0x%x+%d not mapped", gpa, length)
}

// ResolveFault is not serviceable by this backend: Hypervisor.framework
// resolves stage-2 translation at hv_vm_map time rather than lazily, so a
// nested page fault here reflects a gap in the map set up at VM creation.
func (pt *pageTableAdapter) ResolveFault(gpa uint64, access vmm.AccessFlags) error {
	return fmt.Errorf("darwinhv: nested page fault at 0x%x is not resolvable by this backend", gpa)
}

func (pt *pageTableAdapter) RootHPA() uint64 {
	return 0
}

func flagsToPerm(flags vmm.MemFlags) MemPerm {
	var p MemPerm
	if flags&vmm.FlagRead != 0 {
		p |= MemRead
	}
	if flags&vmm.FlagWrite != 0 {
		p |= MemWrite
	}
	if flags&vmm.FlagExec != 0 {
		p |= MemExec
	}
	if p == 0 {
		p = MemRead
	}
	return p
}

func alignUpPage(n uint64) uint64 {
	ps := uint64(pageSize())
	return (n + ps - 1) &^ (ps - 1)
}
