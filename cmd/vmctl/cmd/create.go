/*
Copyright © 2025 blacktop

Permission is hereby granted, free of charge, to any person obtaining a copy
of this software and associated documentation files (the "Software"), to deal
in the Software without restriction, including without limitation the rights
to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
copies of the Software, and to permit persons to whom the Software is
furnished to do so, subject to the following conditions:

The above copyright notice and this permission notice shall be included in
all copies or substantial portions of the Software.

THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
THE SOFTWARE.
*/
package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	vmm "github.com/nimbusvm/vmcore"
	"github.com/nimbusvm/vmcore/softvmm"
	"github.com/spf13/cobra"
)

var (
	createVcpus   int
	createEntry   uint64
	createMemSize uint64
	createMemBase uint64
	scenarioFile  string
)

func init() {
	createCmd.Flags().IntVar(&createVcpus, "vcpus", 1, "vCPU count")
	createCmd.Flags().Uint64Var(&createEntry, "entry", 0x80000, "BSP entry guest-physical address")
	createCmd.Flags().Uint64Var(&createMemBase, "mem-base", 0x80000, "guest-physical base of the allocated RAM region")
	createCmd.Flags().Uint64Var(&createMemSize, "mem-size", 0x100_0000, "size in bytes of the allocated RAM region")
	createCmd.Flags().StringVarP(&scenarioFile, "scenario", "s", "", "JSON scenario file describing the Config (overrides the other flags)")
	rootCmd.AddCommand(createCmd)
}

// scenarioMemoryRegion and scenarioPassthroughRange mirror vmm.MemoryRegion
// and vmm.PassthroughRange field-for-field, tagged for JSON the way the
// teacher's cmd/hv/cmd/execute.go tags its CPUState fields.
type scenarioMemoryRegion struct {
	GuestPhysBase uint64 `json:"guest_phys_base"`
	Size          uint64 `json:"size"`
	Flags         uint32 `json:"flags"`
	Kind          int    `json:"kind"`
}

type scenarioPassthroughRange struct {
	GuestPhysBase uint64 `json:"guest_phys_base"`
	HostPhysBase  uint64 `json:"host_phys_base"`
	Length        uint64 `json:"length"`
	Name          string `json:"name"`
}

// scenarioConfig is the on-disk shape of a --scenario file. When a scenario
// file is given, buildConfig does not consult the other create flags: a zero
// ID becomes 1, an empty Name becomes "vmctl", and every other field is
// taken from the file as is.
type scenarioConfig struct {
	ID                 uint64                     `json:"id"`
	Name               string                     `json:"name"`
	VMType             int                        `json:"vm_type"`
	VcpuCount          int                        `json:"vcpu_count"`
	PhysCPUIDs         []uint64                   `json:"phys_cpu_ids"`
	PhysCPUSets        []uint64                   `json:"phys_cpu_sets"`
	BSPEntry           uint64                     `json:"bsp_entry"`
	APEntry            uint64                     `json:"ap_entry"`
	MemoryRegions      []scenarioMemoryRegion     `json:"memory_regions"`
	PassthroughDevices []scenarioPassthroughRange `json:"passthrough_devices"`
	PassthroughSPIs    []uint32                   `json:"passthrough_spis"`
	InterruptMode      int                        `json:"interrupt_mode"`
}

// loadScenario reads and decodes a --scenario JSON file: the same
// read-file-then-unmarshal shape as the teacher's runExecute reading its
// --state file.
func loadScenario(path string) (scenarioConfig, error) {
	var sc scenarioConfig
	data, err := os.ReadFile(path)
	if err != nil {
		return sc, fmt.Errorf("read scenario file: %w", err)
	}
	if err := json.Unmarshal(data, &sc); err != nil {
		return sc, fmt.Errorf("parse scenario file: %w", err)
	}
	return sc, nil
}

func (sc scenarioConfig) toConfig() vmm.Config {
	cfg := vmm.Config{
		ID:              sc.ID,
		Name:            sc.Name,
		VMType:          vmm.VMType(sc.VMType),
		VcpuCount:       sc.VcpuCount,
		PhysCPUIDs:      sc.PhysCPUIDs,
		PhysCPUSets:     sc.PhysCPUSets,
		BSPEntry:        sc.BSPEntry,
		APEntry:         sc.APEntry,
		PassthroughSPIs: sc.PassthroughSPIs,
		InterruptMode:   vmm.InterruptMode(sc.InterruptMode),
	}
	if cfg.ID == 0 {
		cfg.ID = 1
	}
	if cfg.Name == "" {
		cfg.Name = "vmctl"
	}
	for _, r := range sc.MemoryRegions {
		cfg.MemoryRegions = append(cfg.MemoryRegions, vmm.MemoryRegion{
			GuestPhysBase: r.GuestPhysBase,
			Size:          r.Size,
			Flags:         vmm.MemFlags(r.Flags),
			Kind:          vmm.RegionKind(r.Kind),
		})
	}
	for _, p := range sc.PassthroughDevices {
		cfg.PassthroughDevices = append(cfg.PassthroughDevices, vmm.PassthroughRange{
			GuestPhysBase: p.GuestPhysBase,
			HostPhysBase:  p.HostPhysBase,
			Length:        p.Length,
			Name:          p.Name,
		})
	}
	return cfg
}

func buildConfig() (vmm.Config, error) {
	if scenarioFile != "" {
		sc, err := loadScenario(scenarioFile)
		if err != nil {
			return vmm.Config{}, err
		}
		return sc.toConfig(), nil
	}
	return vmm.Config{
		ID:        1,
		Name:      "vmctl",
		VMType:    vmm.VMTypeStandard,
		VcpuCount: createVcpus,
		BSPEntry:  createEntry,
		MemoryRegions: []vmm.MemoryRegion{{
			GuestPhysBase: createMemBase,
			Size:          createMemSize,
			Flags:         vmm.FlagRead | vmm.FlagWrite | vmm.FlagExec,
			Kind:          vmm.RegionAllocated,
		}},
	}, nil
}

func buildDependencies(cfg vmm.Config) vmm.Dependencies {
	host := softvmm.NewHost(cfg.ID)
	return vmm.Dependencies{
		Host:    host,
		NewVcpu: host.NewVcpu,
		NewBus: func(vmm.Config) (vmm.DeviceBus, error) {
			return vmm.NewBus(0x9000_0000), nil
		},
	}
}

func newVM(cfg vmm.Config) (*vmm.VM, error) {
	return vmm.Create(cfg, buildDependencies(cfg))
}

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Build a VM from flags or a --scenario JSON file, and report its derived affinity, without running it",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := buildConfig()
		if err != nil {
			return err
		}
		vm, err := newVM(cfg)
		if err != nil {
			return err
		}
		var ramBase, ramEnd uint64
		if len(cfg.MemoryRegions) > 0 {
			ramBase = cfg.MemoryRegions[0].GuestPhysBase
			ramEnd = ramBase + cfg.MemoryRegions[0].Size
		}
		fmt.Printf("vm %d created: %d vcpu(s), entry 0x%x, ram [0x%x, 0x%x)\n",
			vm.ID(), cfg.VcpuCount, cfg.BSPEntry, ramBase, ramEnd)
		for _, t := range vmm.DeriveAffinity(cfg) {
			fmt.Printf("  vcpu %d -> physical id %d (affinity set: %v)\n", t.VcpuID, t.PhysicalID, t.HasAffinity)
		}
		return nil
	},
}
