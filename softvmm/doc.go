// Package softvmm is a pure-Go vmm.Host/vmm.Vcpu/vmm.PageTable triple with
// no hardware-virtualization dependency. It backs vmctl on hosts without a
// supported hypervisor and gives the vmm package's own tests a backend that
// runs anywhere go test does.
//
// Vcpu is scriptable: each instance replays a fixed queue of vmm.ExitReason
// values queued on it with WithExits, so a test can drive a VM through an
// exact S1-style MMIO/IO/fault sequence and assert on the resulting
// register and memory state.
package softvmm
