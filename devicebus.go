package vmm

import (
	"sort"
	"sync"
)

// MMIODevice is a device model addressed by guest-physical range. Device
// models, like the page table, are external collaborators; the manager
// only drives them through this interface.
type MMIODevice interface {
	AddressRange() (base, length uint64)
	ReadMMIO(gpa uint64, width Width) (uint64, error)
	WriteMMIO(gpa uint64, width Width, value uint64) error
}

// PortDevice is a device model addressed by x86-style I/O port.
type PortDevice interface {
	PortRange() (base, length uint16)
	ReadPort(port uint16, width Width) (uint64, error)
	WritePort(port uint16, width Width, value uint64) error
}

// SysRegDevice is a device model addressed by architectural system
// register, the path virtualised timers and similar per-vCPU state use.
type SysRegDevice interface {
	SysRegAddr() uint64
	ReadSysReg(addr uint64, width Width) (uint64, error)
	WriteSysReg(addr uint64, width Width, value uint64) error
}

// InterruptDistributor is the architecture-specific virtual interrupt
// controller model (GIC-style SPI routing, APIC-style redirection, ...)
// DeviceWiring looks it up on the bus when InterruptMode is Passthrough.
type InterruptDistributor interface {
	AssignSPI(spi uint32, vcpuID int) error
}

// DeviceBus is the polymorphic aggregate the exit dispatcher routes MMIO,
// PIO, and system-register exits through. Thread safety across concurrent
// vCPUs is the bus's own responsibility; the manager makes no promise
// about how many vCPUs may be inside it simultaneously.
type DeviceBus interface {
	ReadMMIO(gpa uint64, width Width) (uint64, error)
	WriteMMIO(gpa uint64, width Width, value uint64) error
	ReadPort(port uint16, width Width) (uint64, error)
	WritePort(port uint16, width Width, value uint64) error
	ReadSysReg(addr uint64, width Width) (uint64, error)
	WriteSysReg(addr uint64, width Width, value uint64) error

	// AllocIVC reserves a guest-physical region of at least requested
	// bytes, rounded up to a 4 KiB multiple, for inter-VM shared memory.
	AllocIVC(requested uint64) (gpa, granted uint64, err error)
	// ReleaseIVC releases a region previously returned by AllocIVC. gpa and
	// size must exactly match a live allocation.
	ReleaseIVC(gpa, size uint64) error

	// Distributor returns the architecture's interrupt distributor model,
	// if one was registered.
	Distributor() (InterruptDistributor, bool)
	// RegisterSysReg adds a system-register device at runtime; used by
	// DeviceWiring to install per-vCPU virtual timer models.
	RegisterSysReg(dev SysRegDevice) error
}

// BusFactory builds the device bus from the caller's emulated-device
// configuration. The manager never constructs a concrete bus type itself.
type BusFactory func(cfg Config) (DeviceBus, error)

type mmioEntry struct {
	base, end uint64
	dev       MMIODevice
}

type portEntry struct {
	base, end uint16
	dev       PortDevice
}

// Bus is a concrete DeviceBus grounded in the retrieval pack's KVM-style
// vCPU-exit dispatch: handlers are registered against a range and looked
// up by binary search over sorted, non-overlapping ranges, the same shape
// as a PCI BAR table or an ioport handler table.
type Bus struct {
	mu sync.RWMutex

	mmio []mmioEntry
	port []portEntry
	sysreg map[uint64]SysRegDevice

	distributor InterruptDistributor

	ivcBase  uint64
	ivcNext  uint64
	ivcLive  map[uint64]uint64
}

// NewBus constructs an empty Bus. ivcBase is the guest-physical address
// the bus starts handing out IVC channels from.
func NewBus(ivcBase uint64) *Bus {
	return &Bus{
		sysreg:  make(map[uint64]SysRegDevice),
		ivcBase: ivcBase,
		ivcNext: ivcBase,
		ivcLive: make(map[uint64]uint64),
	}
}

// RegisterMMIO installs dev at the range it reports. Ranges must not
// overlap an already-registered device.
func (b *Bus) RegisterMMIO(dev MMIODevice) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	base, length := dev.AddressRange()
	end := base + length
	for _, e := range b.mmio {
		if base < e.end && end > e.base {
			return errInvalidInput("register_mmio", "overlapping device range")
		}
	}
	b.mmio = append(b.mmio, mmioEntry{base: base, end: end, dev: dev})
	sort.Slice(b.mmio, func(i, j int) bool { return b.mmio[i].base < b.mmio[j].base })
	return nil
}

// RegisterPort installs dev at the port range it reports.
func (b *Bus) RegisterPort(dev PortDevice) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	base, length := dev.PortRange()
	end := base + length
	for _, e := range b.port {
		if base < e.end && end > e.base {
			return errInvalidInput("register_port", "overlapping device range")
		}
	}
	b.port = append(b.port, portEntry{base: base, end: end, dev: dev})
	sort.Slice(b.port, func(i, j int) bool { return b.port[i].base < b.port[j].base })
	return nil
}

// RegisterSysReg installs dev at the system-register address it reports.
func (b *Bus) RegisterSysReg(dev SysRegDevice) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	addr := dev.SysRegAddr()
	if _, exists := b.sysreg[addr]; exists {
		return errInvalidInput("register_sysreg", "address already registered")
	}
	b.sysreg[addr] = dev
	return nil
}

// SetDistributor installs the architecture's interrupt distributor model.
func (b *Bus) SetDistributor(d InterruptDistributor) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.distributor = d
}

func (b *Bus) Distributor() (InterruptDistributor, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.distributor, b.distributor != nil
}

func (b *Bus) findMMIO(gpa uint64) (MMIODevice, bool) {
	i := sort.Search(len(b.mmio), func(i int) bool { return b.mmio[i].end > gpa })
	if i < len(b.mmio) && b.mmio[i].base <= gpa {
		return b.mmio[i].dev, true
	}
	return nil, false
}

func (b *Bus) findPort(port uint16) (PortDevice, bool) {
	i := sort.Search(len(b.port), func(i int) bool { return b.port[i].end > port })
	if i < len(b.port) && b.port[i].base <= port {
		return b.port[i].dev, true
	}
	return nil, false
}

func (b *Bus) ReadMMIO(gpa uint64, width Width) (uint64, error) {
	b.mu.RLock()
	dev, ok := b.findMMIO(gpa)
	b.mu.RUnlock()
	if !ok {
		return 0, errTranslationFailed("read_mmio", "no device at this guest address")
	}
	return dev.ReadMMIO(gpa, width)
}

func (b *Bus) WriteMMIO(gpa uint64, width Width, value uint64) error {
	b.mu.RLock()
	dev, ok := b.findMMIO(gpa)
	b.mu.RUnlock()
	if !ok {
		return errTranslationFailed("write_mmio", "no device at this guest address")
	}
	return dev.WriteMMIO(gpa, width, value)
}

func (b *Bus) ReadPort(port uint16, width Width) (uint64, error) {
	b.mu.RLock()
	dev, ok := b.findPort(port)
	b.mu.RUnlock()
	if !ok {
		return 0, errTranslationFailed("read_port", "no device at this port")
	}
	return dev.ReadPort(port, width)
}

func (b *Bus) WritePort(port uint16, width Width, value uint64) error {
	b.mu.RLock()
	dev, ok := b.findPort(port)
	b.mu.RUnlock()
	if !ok {
		return errTranslationFailed("write_port", "no device at this port")
	}
	return dev.WritePort(port, width, value)
}

func (b *Bus) ReadSysReg(addr uint64, width Width) (uint64, error) {
	b.mu.RLock()
	dev, ok := b.sysreg[addr]
	b.mu.RUnlock()
	if !ok {
		return 0, errTranslationFailed("read_sysreg", "no device at this address")
	}
	return dev.ReadSysReg(addr, width)
}

func (b *Bus) WriteSysReg(addr uint64, width Width, value uint64) error {
	b.mu.RLock()
	dev, ok := b.sysreg[addr]
	b.mu.RUnlock()
	if !ok {
		return errTranslationFailed("write_sysreg", "no device at this address")
	}
	return dev.WriteSysReg(addr, width, value)
}

// AllocIVC hands out the next unused 4 KiB-aligned window in the bus's IVC
// region. It never reuses a released window within a VM's lifetime; the
// manager documents leaks on drop as reportable, not unsafe.
func (b *Bus) AllocIVC(requested uint64) (uint64, uint64, error) {
	granted := AlignUp4K(requested)
	if granted == 0 {
		granted = PageSize
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	gpa := b.ivcNext
	b.ivcNext += granted
	b.ivcLive[gpa] = granted
	recordIVCAlloc()
	return gpa, granted, nil
}

// ReleaseIVC releases an exact-match live channel.
func (b *Bus) ReleaseIVC(gpa, size uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	granted, ok := b.ivcLive[gpa]
	if !ok || granted != size {
		return errInvalidInput("release_ivc_channel", "no live channel matches gpa and size")
	}
	delete(b.ivcLive, gpa)
	recordIVCRelease()
	return nil
}
