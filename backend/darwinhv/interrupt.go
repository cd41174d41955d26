//go:build darwin && arm64

package darwinhv

/*
#include <Hypervisor/hv_vcpu.h>

static hv_return_t go_hv_vcpu_set_pending_irq(hv_vcpu_t vcpu, bool pending) {
	return hv_vcpu_set_pending_interrupt(vcpu, HV_INTERRUPT_TYPE_IRQ, pending);
}
*/
import "C"

import "fmt"

// SetPendingIRQ raises or clears the IRQ line on this vCPU.
func (c *VCPU) SetPendingIRQ(pending bool) error {
	if c == nil {
		return fmt.Errorf("hv: VCPU is nil")
	}

	c.closeMu.Lock()
	defer c.closeMu.Unlock()

	if c.closed {
		return fmt.Errorf("hv: VCPU is closed")
	}

	ret := C.go_hv_vcpu_set_pending_irq(C.hv_vcpu_t(c.id), C.bool(pending))
	if err := hvErr(ret); err != nil {
		return fmt.Errorf("failed to set pending irq: %w", err)
	}
	return nil
}
