package vmm

import "testing"

type fakeMMIODevice struct {
	base, length uint64
	mem          map[uint64]uint64
}

func newFakeMMIODevice(base, length uint64) *fakeMMIODevice {
	return &fakeMMIODevice{base: base, length: length, mem: make(map[uint64]uint64)}
}

func (d *fakeMMIODevice) AddressRange() (uint64, uint64) { return d.base, d.length }
func (d *fakeMMIODevice) ReadMMIO(gpa uint64, width Width) (uint64, error) {
	return d.mem[gpa], nil
}
func (d *fakeMMIODevice) WriteMMIO(gpa uint64, width Width, value uint64) error {
	d.mem[gpa] = value
	return nil
}

type fakePortDevice struct {
	base, length uint16
	mem          map[uint16]uint64
}

func newFakePortDevice(base, length uint16) *fakePortDevice {
	return &fakePortDevice{base: base, length: length, mem: make(map[uint16]uint64)}
}

func (d *fakePortDevice) PortRange() (uint16, uint16) { return d.base, d.length }
func (d *fakePortDevice) ReadPort(port uint16, width Width) (uint64, error) {
	return d.mem[port], nil
}
func (d *fakePortDevice) WritePort(port uint16, width Width, value uint64) error {
	d.mem[port] = value
	return nil
}

type fakeSysRegDevice struct {
	addr uint64
	val  uint64
}

func (d *fakeSysRegDevice) SysRegAddr() uint64 { return d.addr }
func (d *fakeSysRegDevice) ReadSysReg(addr uint64, width Width) (uint64, error) {
	return d.val, nil
}
func (d *fakeSysRegDevice) WriteSysReg(addr uint64, width Width, value uint64) error {
	d.val = value
	return nil
}

type fakeDistributor struct {
	assigned map[uint32]int
}

func (d *fakeDistributor) AssignSPI(spi uint32, vcpuID int) error {
	if d.assigned == nil {
		d.assigned = make(map[uint32]int)
	}
	d.assigned[spi] = vcpuID
	return nil
}

func TestBusMMIORoundTrip(t *testing.T) {
	b := NewBus(0x9000_0000)
	dev := newFakeMMIODevice(0x1000, 0x100)
	if err := b.RegisterMMIO(dev); err != nil {
		t.Fatalf("RegisterMMIO: %v", err)
	}
	if err := b.WriteMMIO(0x1010, Dword, 0x42); err != nil {
		t.Fatalf("WriteMMIO: %v", err)
	}
	got, err := b.ReadMMIO(0x1010, Dword)
	if err != nil {
		t.Fatalf("ReadMMIO: %v", err)
	}
	if got != 0x42 {
		t.Errorf("got 0x%x, want 0x42", got)
	}
}

func TestBusMMIORejectsOverlap(t *testing.T) {
	b := NewBus(0x9000_0000)
	if err := b.RegisterMMIO(newFakeMMIODevice(0x1000, 0x100)); err != nil {
		t.Fatalf("RegisterMMIO: %v", err)
	}
	err := b.RegisterMMIO(newFakeMMIODevice(0x1080, 0x100))
	if kind, ok := KindOf(err); !ok || kind != InvalidInput {
		t.Fatalf("got err %v, want InvalidInput for overlapping range", err)
	}
}

func TestBusMMIOUnmappedAddressFails(t *testing.T) {
	b := NewBus(0x9000_0000)
	_, err := b.ReadMMIO(0x5000, Byte)
	if kind, ok := KindOf(err); !ok || kind != TranslationFailed {
		t.Fatalf("got err %v, want TranslationFailed", err)
	}
}

func TestBusPortRoundTrip(t *testing.T) {
	b := NewBus(0x9000_0000)
	dev := newFakePortDevice(0x3f8, 8)
	if err := b.RegisterPort(dev); err != nil {
		t.Fatalf("RegisterPort: %v", err)
	}
	if err := b.WritePort(0x3f8, Byte, 0x61); err != nil {
		t.Fatalf("WritePort: %v", err)
	}
	got, err := b.ReadPort(0x3f8, Byte)
	if err != nil {
		t.Fatalf("ReadPort: %v", err)
	}
	if got != 0x61 {
		t.Errorf("got 0x%x, want 0x61", got)
	}
}

func TestBusSysRegRoundTripAndRejectsDuplicate(t *testing.T) {
	b := NewBus(0x9000_0000)
	dev := &fakeSysRegDevice{addr: 0x1000_1000}
	if err := b.RegisterSysReg(dev); err != nil {
		t.Fatalf("RegisterSysReg: %v", err)
	}
	if err := b.WriteSysReg(0x1000_1000, Qword, 7); err != nil {
		t.Fatalf("WriteSysReg: %v", err)
	}
	got, err := b.ReadSysReg(0x1000_1000, Qword)
	if err != nil {
		t.Fatalf("ReadSysReg: %v", err)
	}
	if got != 7 {
		t.Errorf("got %d, want 7", got)
	}

	err = b.RegisterSysReg(&fakeSysRegDevice{addr: 0x1000_1000})
	if kind, ok := KindOf(err); !ok || kind != InvalidInput {
		t.Fatalf("got err %v, want InvalidInput for duplicate address", err)
	}
}

func TestBusDistributor(t *testing.T) {
	b := NewBus(0x9000_0000)
	if _, ok := b.Distributor(); ok {
		t.Fatalf("expected no distributor registered")
	}
	d := &fakeDistributor{}
	b.SetDistributor(d)
	got, ok := b.Distributor()
	if !ok || got != d {
		t.Fatalf("Distributor() = %v, %v; want %v, true", got, ok, d)
	}
}

func TestBusAllocIVCRoundsUpAndNeverReuses(t *testing.T) {
	b := NewBus(0x9000_0000)
	gpa1, granted1, err := b.AllocIVC(10)
	if err != nil {
		t.Fatalf("AllocIVC: %v", err)
	}
	if granted1 != PageSize {
		t.Errorf("granted = %d, want rounded up to %d", granted1, PageSize)
	}
	if err := b.ReleaseIVC(gpa1, granted1); err != nil {
		t.Fatalf("ReleaseIVC: %v", err)
	}
	gpa2, _, err := b.AllocIVC(10)
	if err != nil {
		t.Fatalf("AllocIVC: %v", err)
	}
	if gpa2 == gpa1 {
		t.Errorf("AllocIVC reused a released address: gpa2 = gpa1 = 0x%x", gpa1)
	}
	if gpa2 <= gpa1 {
		t.Errorf("gpa2 (0x%x) should be strictly past gpa1 (0x%x)", gpa2, gpa1)
	}
}

func TestBusReleaseIVCRejectsMismatch(t *testing.T) {
	b := NewBus(0x9000_0000)
	gpa, granted, err := b.AllocIVC(4096)
	if err != nil {
		t.Fatalf("AllocIVC: %v", err)
	}
	err = b.ReleaseIVC(gpa, granted+1)
	if kind, ok := KindOf(err); !ok || kind != InvalidInput {
		t.Fatalf("got err %v, want InvalidInput for a size mismatch", err)
	}
	err = b.ReleaseIVC(gpa+granted, granted)
	if kind, ok := KindOf(err); !ok || kind != InvalidInput {
		t.Fatalf("got err %v, want InvalidInput for an address with no live channel", err)
	}
}
