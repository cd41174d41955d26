// Package darwinhv is the Darwin/ARM64 backend for vmm: it binds Apple's
// Hypervisor.framework through cgo and adapts it to the vmm.Host, vmm.Vcpu,
// and vmm.PageTable seams.
//
// The raw framework bindings (VM, VCPU, Map/Unmap, GetReg/SetReg, Run) stay
// close to the C API's shape. Adapter types built on top of them
// (HostAdapter, vcpuAdapter, pageTableAdapter) are what vmm.Create actually
// drives; callers assembling a vmm.Dependencies on Darwin/ARM64 use this
// package's NewHost rather than the raw VM/VCPU types directly.
//
// # Requirements
//
//   - macOS with Apple Silicon (ARM64)
//   - Hypervisor entitlement: com.apple.security.hypervisor
//   - Code signing with entitlements
//
// # Resource Management
//
// All resources (VMs and vCPUs) must be explicitly closed using Close().
// Finalizers provide safety net cleanup. Only one VM can exist per process,
// which is why this backend supports a single vmm.VM per process too.
//
// # Platform Support
//
// Darwin ARM64 only (Apple Silicon). On other platforms the build-tag-gated
// stub implementations return "not supported" errors.
//
// # Code Signing and Entitlements
//
// Applications must be code signed with hypervisor entitlement:
//
//	<?xml version="1.0" encoding="UTF-8"?>
//	<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN"
//	    "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
//	<plist version="1.0">
//	<dict>
//	    <key>com.apple.security.hypervisor</key>
//	    <true/>
//	</dict>
//	</plist>
//
// Then sign your binary:
//
//	codesign --sign - --force --entitlements=hypervisor.entitlements ./your-app
package darwinhv
