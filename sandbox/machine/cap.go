package machine

import (
	"fmt"
)

//go:generate stringer -type=Cap
type Cap uint32

const (
	CapUserMemory               Cap = 3
	CapSetTSSAddr               Cap = 4
	CapNRVCPUS                  Cap = 9  /* returns recommended max vcpus per vm */
	CapNRMemSlots               Cap = 10 /* returns max memory slots per vm */
	CapSyncMMU                  Cap = 16 /* Changes to host mmap are reflected in guest */
	CapDestroyMemoryRegionWorks Cap = 21
	CapSetGuestDebug            Cap = 23
	CapMaxVCPUs                 Cap = 66
	CapImmediateExit            Cap = 136
)

// ProbedCaps are the extensions reported by the probe command.
var ProbedCaps = []Cap{
	CapUserMemory,
	CapSyncMMU,
	CapDestroyMemoryRegionWorks,
	CapImmediateExit,
	CapSetGuestDebug,
	CapNRVCPUS,
	CapMaxVCPUs,
	CapNRMemSlots,
}

type Capability struct {
	Cap   Cap
	Value int
}

// Capabilities runs KVM_CHECK_EXTENSION for each of caps.
func (h *Hypervisor) Capabilities(caps []Cap) ([]Capability, error) {
	res := make([]Capability, 0, len(caps))
	for _, c := range caps {
		v, err := h.CheckExtension(c)
		if err != nil {
			return res, fmt.Errorf("check extension %s: %w", c, err)
		}
		res = append(res, Capability{Cap: c, Value: v})
	}
	return res, nil
}
