package softvmm

import (
	"fmt"
	"sort"
	"sync"

	vmm "github.com/nimbusvm/vmcore"
)

type mapping struct {
	gpa   uint64
	mem   []byte
	flags vmm.MemFlags
}

// PageTable is a pure-Go vmm.PageTable: guest-physical mappings are a
// sorted list of Go byte slices, and Translate/ResolveFault are served
// directly from that list with no separate hardware walk.
type PageTable struct {
	host *Host

	mu   sync.Mutex
	maps []mapping
}

func newPageTable(h *Host) *PageTable {
	return &PageTable{host: h}
}

func (pt *PageTable) MapLinear(gpa, hpa, length uint64, flags vmm.MemFlags) error {
	mem, err := pt.host.Lookup(hpa, length)
	if err != nil {
		return err
	}
	return pt.install(gpa, mem, flags)
}

func (pt *PageTable) MapAlloc(gpa, length uint64, flags vmm.MemFlags, zeroed bool) error {
	mem := make([]byte, length)
	_ = zeroed // freshly allocated Go slices are always zero-filled
	return pt.install(gpa, mem, flags)
}

func (pt *PageTable) install(gpa uint64, mem []byte, flags vmm.MemFlags) error {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	for _, m := range pt.maps {
		if gpa < m.gpa+uint64(len(m.mem)) && m.gpa < gpa+uint64(len(mem)) {
			return fmt.Errorf("softvmm: gpa 0x%x+%d overlaps existing mapping at 0x%x", gpa, len(mem), m.gpa)
		}
	}
	pt.maps = append(pt.maps, mapping{gpa: gpa, mem: mem, flags: flags})
	sort.Slice(pt.maps, func(i, j int) bool { return pt.maps[i].gpa < pt.maps[j].gpa })
	return nil
}

func (pt *PageTable) Unmap(gpa, length uint64) error {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	for i, m := range pt.maps {
		if m.gpa == gpa {
			pt.maps = append(pt.maps[:i], pt.maps[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("softvmm: no mapping at gpa 0x%x", gpa)
}

// Translate returns fragments covering [gpa, gpa+length). A request that
// crosses two adjacent installed mappings comes back as two fragments, in
// order, matching the non-contiguous backing the real page tables use.
func (pt *PageTable) Translate(gpa, length uint64) ([][]byte, error) {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	var frags [][]byte
	remaining := length
	cur := gpa
	for remaining > 0 {
		m, ok := pt.find(cur)
		if !ok {
			return nil, fmt.Errorf("softvmm: gpa 0x%x not mapped", cur)
		}
		off := cur - m.gpa
		avail := uint64(len(m.mem)) - off
		take := remaining
		if take > avail {
			take = avail
		}
		frags = append(frags, m.mem[off:off+take])
		cur += take
		remaining -= take
	}
	return frags, nil
}

func (pt *PageTable) find(gpa uint64) (mapping, bool) {
	for _, m := range pt.maps {
		if gpa >= m.gpa && gpa < m.gpa+uint64(len(m.mem)) {
			return m, true
		}
	}
	return mapping{}, false
}

// ResolveFault validates that access is permitted by the mapping already
// installed at gpa. softvmm never demand-pages, so a fault here means the
// access violated the region's declared flags, or targeted an unmapped gpa.
func (pt *PageTable) ResolveFault(gpa uint64, access vmm.AccessFlags) error {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	m, ok := pt.find(gpa)
	if !ok {
		return fmt.Errorf("softvmm: nested page fault at 0x%x: no mapping installed", gpa)
	}
	if access&vmm.AccessRead != 0 && m.flags&vmm.FlagRead == 0 {
		return fmt.Errorf("softvmm: nested page fault at 0x%x: read not permitted", gpa)
	}
	if access&vmm.AccessWrite != 0 && m.flags&vmm.FlagWrite == 0 {
		return fmt.Errorf("softvmm: nested page fault at 0x%x: write not permitted", gpa)
	}
	if access&vmm.AccessExec != 0 && m.flags&vmm.FlagExec == 0 {
		return fmt.Errorf("softvmm: nested page fault at 0x%x: exec not permitted", gpa)
	}
	return nil
}

func (pt *PageTable) RootHPA() uint64 {
	return 0
}
