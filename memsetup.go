package vmm

import (
	"log"
	"sort"
)

// ValidateRegionFlags rejects unknown flag bits on a configured RAM region
// and strips the Device bit, which belongs to passthrough ranges, emitting
// a warning rather than failing.
func ValidateRegionFlags(r MemoryRegion) (MemFlags, error) {
	if r.Flags&^knownMemFlags != 0 {
		return 0, errInvalidInput("install_region", "unknown memory flag bits")
	}
	flags := r.Flags
	if flags&FlagDevice != 0 {
		log.Printf("vmm: region at 0x%x carries the Device flag; stripping it (use a passthrough range instead)", r.GuestPhysBase)
		flags &^= FlagDevice
		flags |= FlagRead | FlagWrite | FlagUser
	}
	return flags, nil
}

// CanonicalizePassthrough aligns each range's base down and length up to 4
// KiB, sorts by guest-physical base, and merges overlapping or adjacent
// ranges. The result is 4 KiB-aligned, pairwise non-overlapping, and
// ascending in GPA.
func CanonicalizePassthrough(ranges []PassthroughRange) []PassthroughRange {
	if len(ranges) == 0 {
		return nil
	}

	aligned := make([]PassthroughRange, len(ranges))
	for i, r := range ranges {
		base := AlignDown4K(r.GuestPhysBase)
		// The host-physical base shifts by the same delta as the
		// guest-physical base so the linear mapping stays consistent.
		delta := r.GuestPhysBase - base
		hostBase := r.HostPhysBase - delta
		length := AlignUp4K(r.Length + delta)
		aligned[i] = PassthroughRange{
			GuestPhysBase: base,
			HostPhysBase:  hostBase,
			Length:        length,
			Name:          r.Name,
		}
	}

	sort.Slice(aligned, func(i, j int) bool {
		return aligned[i].GuestPhysBase < aligned[j].GuestPhysBase
	})

	merged := make([]PassthroughRange, 0, len(aligned))
	merged = append(merged, aligned[0])
	for _, r := range aligned[1:] {
		last := &merged[len(merged)-1]
		lastEnd := last.GuestPhysBase + last.Length
		if r.GuestPhysBase <= lastEnd {
			newEnd := r.GuestPhysBase + r.Length
			if newEnd > lastEnd {
				last.Length = newEnd - last.GuestPhysBase
			}
			if last.Name == "" {
				last.Name = r.Name
			}
			continue
		}
		merged = append(merged, r)
	}
	return merged
}

// installRAMRegions installs the configured RAM regions in configuration
// order, per §4.2: identity regions attempt a host reservation at the
// matching host-physical base and fall back to an unconditional linear
// mapping; allocated regions install through MapAlloc with zero-fill.
func installRAMRegions(host Host, as *AddressSpace, regions []MemoryRegion) error {
	for _, r := range regions {
		flags, err := ValidateRegionFlags(r)
		if err != nil {
			return err
		}
		switch r.Kind {
		case RegionIdentity:
			if !host.AllocAt(r.GuestPhysBase, r.Size) {
				log.Printf("vmm: host reservation failed for identity region at 0x%x; installing the linear mapping anyway", r.GuestPhysBase)
			}
			if err := as.MapLinear(r.GuestPhysBase, r.GuestPhysBase, r.Size, flags); err != nil {
				return err
			}
		case RegionAllocated:
			if err := as.MapAlloc(r.GuestPhysBase, r.Size, flags, true); err != nil {
				return err
			}
		default:
			return errInvalidInput("install_region", "unknown region kind")
		}
	}
	return nil
}

// installPassthrough canonicalises ranges and installs each as a linear
// Device|R|W|User mapping. Overlap with previously installed RAM regions
// is a configuration-layer invariant the manager does not cross-check
// (spec.md §9 leaves this open; see DESIGN.md).
func installPassthrough(as *AddressSpace, ranges []PassthroughRange) ([]PassthroughRange, error) {
	canon := CanonicalizePassthrough(ranges)
	for _, r := range canon {
		flags := FlagDevice | FlagRead | FlagWrite | FlagUser
		if err := as.MapLinear(r.GuestPhysBase, r.HostPhysBase, r.Length, flags); err != nil {
			return nil, err
		}
	}
	return canon, nil
}
