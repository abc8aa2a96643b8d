package sandbox

import (
	"github.com/soulxu/kvmsample/sandbox/machine"
)

// Report is what the probe command prints.
type Report struct {
	Device       string         `json:"device"`
	APIVersion   int            `json:"api_version"`
	RunPageSize  int            `json:"run_page_size"`
	Capabilities map[string]int `json:"capabilities"`
}

// Probe opens device and reports its API version, the vCPU run page size
// and the extensions in machine.ProbedCaps.
func Probe(device string) (*Report, error) {
	return probe(machine.Host, device)
}

func probe(sys machine.Sys, device string) (*Report, error) {
	hv, err := machine.Open(sys, device)
	if err != nil {
		return nil, err
	}
	defer hv.Close()

	size, err := hv.RunPageSize()
	if err != nil {
		return nil, err
	}
	caps, err := hv.Capabilities(machine.ProbedCaps)
	if err != nil {
		return nil, err
	}
	r := &Report{
		Device:       device,
		APIVersion:   hv.APIVersion(),
		RunPageSize:  size,
		Capabilities: make(map[string]int, len(caps)),
	}
	for _, c := range caps {
		r.Capabilities[c.Cap.String()] = c.Value
	}
	return r, nil
}
