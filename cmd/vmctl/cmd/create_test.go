package cmd

import (
	"os"
	"path/filepath"
	"testing"

	vmm "github.com/nimbusvm/vmcore"
)

func TestBuildConfigDefaultsFromFlags(t *testing.T) {
	scenarioFile = ""
	createVcpus = 2
	createEntry = 0x1000
	createMemBase = 0x2000
	createMemSize = 0x3000

	cfg, err := buildConfig()
	if err != nil {
		t.Fatalf("buildConfig: %v", err)
	}
	if cfg.VcpuCount != 2 || cfg.BSPEntry != 0x1000 {
		t.Fatalf("got %+v, want vcpus=2 entry=0x1000", cfg)
	}
	if len(cfg.MemoryRegions) != 1 || cfg.MemoryRegions[0].GuestPhysBase != 0x2000 || cfg.MemoryRegions[0].Size != 0x3000 {
		t.Fatalf("got regions %+v, want one region at 0x2000 size 0x3000", cfg.MemoryRegions)
	}
}

func TestBuildConfigFromScenarioFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scenario.json")
	const doc = `{
		"id": 7,
		"name": "scenario-vm",
		"vcpu_count": 4,
		"bsp_entry": 4096,
		"memory_regions": [
			{"guest_phys_base": 524288, "size": 1048576, "flags": 7, "kind": 1}
		],
		"passthrough_devices": [
			{"guest_phys_base": 268435456, "host_phys_base": 805306368, "length": 4096, "name": "uart0"}
		],
		"passthrough_spis": [33]
	}`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	scenarioFile = path
	defer func() { scenarioFile = "" }()

	cfg, err := buildConfig()
	if err != nil {
		t.Fatalf("buildConfig: %v", err)
	}
	if cfg.ID != 7 || cfg.Name != "scenario-vm" || cfg.VcpuCount != 4 || cfg.BSPEntry != 4096 {
		t.Fatalf("got %+v, want id=7 name=scenario-vm vcpus=4 entry=4096", cfg)
	}
	if len(cfg.MemoryRegions) != 1 || cfg.MemoryRegions[0].Flags != vmm.MemFlags(7) {
		t.Fatalf("got regions %+v, want one region with flags=7", cfg.MemoryRegions)
	}
	if len(cfg.PassthroughDevices) != 1 || cfg.PassthroughDevices[0].Name != "uart0" {
		t.Fatalf("got passthrough %+v, want one range named uart0", cfg.PassthroughDevices)
	}
	if len(cfg.PassthroughSPIs) != 1 || cfg.PassthroughSPIs[0] != 33 {
		t.Fatalf("got SPIs %+v, want [33]", cfg.PassthroughSPIs)
	}
}

func TestBuildConfigScenarioFileMissingFails(t *testing.T) {
	scenarioFile = filepath.Join(t.TempDir(), "does-not-exist.json")
	defer func() { scenarioFile = "" }()

	if _, err := buildConfig(); err == nil {
		t.Fatal("expected an error for a missing scenario file")
	}
}

func TestBuildConfigScenarioFileBadJSONFails(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	scenarioFile = path
	defer func() { scenarioFile = "" }()

	if _, err := buildConfig(); err == nil {
		t.Fatal("expected an error for malformed scenario JSON")
	}
}
