package vmm

import "log"

// TimerFactory obtains the architecture's per-vCPU virtual-timer model
// from the vCPU collaborator. Supplied by the caller of Create; nil when
// the architecture has no timer virtualisation to wire.
type TimerFactory func(vcpuID int) (SysRegDevice, bool)

// wireDevices performs the architecture-specific finalisation of §4.4,
// executed once during VM creation after the device bus is constructed.
// Architectures without SPIs or timer virtualisation simply have an empty
// PassthroughSPIs set or a nil TimerFactory and this is a no-op for them.
func wireDevices(cfg Config, bus DeviceBus, affinity []AffinityTuple, timers TimerFactory) error {
	switch cfg.InterruptMode {
	case InterruptPassthrough:
		wirePassthroughSPIs(cfg, bus, affinity)
	case InterruptVirtualised:
		wireVirtualTimers(cfg, bus, timers)
	}
	return nil
}

// wirePassthroughSPIs assigns each configured passthrough SPI to the vCPU
// whose physical id matches it. The spec leaves the SPI-to-physical-id
// correspondence to the platform; this binding treats the SPI number
// itself as the hardware affinity key, the GIC convention for a
// single-target SPI route, and falls back to vCPU 0 when no vCPU's
// physical id matches — the fallback the spec explicitly allows.
func wirePassthroughSPIs(cfg Config, bus DeviceBus, affinity []AffinityTuple) {
	if len(cfg.PassthroughSPIs) == 0 {
		return
	}
	dist, ok := bus.Distributor()
	if !ok {
		log.Printf("vmm: interrupt mode is Passthrough but the device bus has no interrupt distributor; %d SPI(s) left unassigned", len(cfg.PassthroughSPIs))
		return
	}
	for _, spi := range cfg.PassthroughSPIs {
		target := 0
		for _, t := range affinity {
			if t.PhysicalID == uint64(spi) {
				target = t.VcpuID
				break
			}
		}
		if err := dist.AssignSPI(spi, target); err != nil {
			log.Printf("vmm: failed to assign SPI %d to vCPU %d: %v", spi, target, err)
		}
	}
}

// wireVirtualTimers registers each vCPU's virtual-timer model as a
// system-register device on the bus.
func wireVirtualTimers(cfg Config, bus DeviceBus, timers TimerFactory) {
	if timers == nil {
		return
	}
	for i := 0; i < cfg.VcpuCount; i++ {
		dev, ok := timers(i)
		if !ok {
			continue
		}
		if err := bus.RegisterSysReg(dev); err != nil {
			log.Printf("vmm: failed to register virtual timer for vCPU %d: %v", i, err)
		}
	}
}
