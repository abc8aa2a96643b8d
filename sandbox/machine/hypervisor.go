package machine

import (
	"fmt"
	"sync"
)

// Hypervisor is an open connection to the host virtualization device. It
// must outlive every VM created from it.
type Hypervisor struct {
	sys     Sys
	fd      P
	version int

	mu     sync.Mutex
	vms    int
	closed bool
}

// Open opens path read/write and checks the API version.
func Open(sys Sys, path string) (*Hypervisor, error) {
	fd, err := sys.Open(path)
	if err != nil {
		return nil, hostError(ErrDeviceUnavailable, "open "+path, err)
	}
	version, err := sys.APIVersion(fd)
	if err != nil {
		_ = sys.Close(fd)
		return nil, hostError(ErrDeviceUnavailable, "get api version", err)
	}
	if version != APIVersion {
		_ = sys.Close(fd)
		return nil, fmt.Errorf("api version %d, want %d: %w", version, APIVersion, ErrUnsupportedVersion)
	}
	return &Hypervisor{sys: sys, fd: fd, version: version}, nil
}

func (h *Hypervisor) APIVersion() int {
	return h.version
}

func (h *Hypervisor) CheckExtension(c Cap) (int, error) {
	return h.sys.CheckExtension(h.fd, c)
}

// RunPageSize is the size of the kvm_run mapping of every vCPU.
func (h *Hypervisor) RunPageSize() (int, error) {
	size, err := h.sys.VCPUMmapSize(h.fd)
	if err != nil {
		return 0, err
	}
	if size < runHeaderSize {
		return 0, fmt.Errorf("vcpu mmap size %d: %w", size, ErrBadRunPage)
	}
	return size, nil
}

// CreateVM asks the hypervisor for a new, empty VM.
func (h *Hypervisor) CreateVM() (*VM, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, fmt.Errorf("create vm: %w", ErrClosed)
	}
	fd, err := h.sys.CreateVM(h.fd)
	if err != nil {
		return nil, hostError(ErrVMCreation, "create vm", err)
	}
	h.vms++
	return &VM{hv: h, sys: h.sys, fd: fd, vcpus: make(map[int]*VCPU)}, nil
}

func (h *Hypervisor) release() {
	h.mu.Lock()
	h.vms--
	h.mu.Unlock()
}

// Close releases the device. It fails while VMs created from it are open.
func (h *Hypervisor) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil
	}
	if h.vms > 0 {
		return fmt.Errorf("close hypervisor with %d open vms: %w", h.vms, ErrResourcesOutstanding)
	}
	h.closed = true
	return h.sys.Close(h.fd)
}
