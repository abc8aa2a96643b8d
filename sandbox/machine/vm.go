package machine

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// VM owns the per-VM kernel resource and its guest memory. vCPUs are
// children of the VM fd: all of them must be closed before the VM.
type VM struct {
	hv  *Hypervisor
	sys Sys
	fd  P
	mem *GuestMemory

	mu     sync.Mutex
	vcpus  map[int]*VCPU
	closed bool
}

// AttachMemory maps size bytes of zeroed anonymous memory and registers it
// as slot 0 at guest-physical address 0.
func (v *VM) AttachMemory(size int) (*GuestMemory, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.closed {
		return nil, fmt.Errorf("attach memory: %w", ErrClosed)
	}
	if v.mem != nil {
		return nil, fmt.Errorf("slot %d already attached: %w", MemorySlot, ErrMemoryRegistration)
	}
	if size <= 0 {
		return nil, fmt.Errorf("memory size %d: %w", size, ErrOutOfMemory)
	}
	if size%PageSize != 0 {
		return nil, fmt.Errorf("memory size %d is not a multiple of %d: %w", size, PageSize, ErrMemoryRegistration)
	}

	b, err := v.sys.MapAnonymous(size)
	if err != nil {
		return nil, hostError(ErrOutOfMemory, fmt.Sprintf("mmap %d bytes", size), err)
	}
	mem := newGuestMemory(b, MemorySlot)
	if err := v.sys.SetUserMemoryRegion(v.fd, mem.region()); err != nil {
		_ = v.sys.Unmap(b)
		return nil, hostError(ErrMemoryRegistration, "set user memory region", err)
	}
	v.mem = mem
	return mem, nil
}

func (v *VM) Memory() *GuestMemory {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.mem
}

// CreateVCPU creates vCPU id and maps its run page.
func (v *VM) CreateVCPU(id int) (*VCPU, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.closed {
		return nil, fmt.Errorf("create vcpu %d: %w", id, ErrClosed)
	}
	if _, ok := v.vcpus[id]; ok || id < 0 {
		return nil, fmt.Errorf("vcpu %d: %w", id, ErrBadCPU)
	}

	fd, err := v.sys.CreateVCPU(v.fd, id)
	if err != nil {
		return nil, hostError(ErrVCPUCreation, fmt.Sprintf("create vcpu %d", id), err)
	}
	size, err := v.hv.RunPageSize()
	if err != nil {
		_ = v.sys.Close(fd)
		return nil, hostError(ErrRunPageMap, "get vcpu mmap size", err)
	}
	page, err := v.sys.MapShared(fd, size)
	if err != nil {
		_ = v.sys.Close(fd)
		return nil, hostError(ErrRunPageMap, fmt.Sprintf("mmap vcpu %d run page", id), err)
	}

	c := newVCPU(v, id, fd, RunPage(page))
	v.vcpus[id] = c
	return c, nil
}

// VCPUs returns the open vCPUs ordered by id.
func (v *VM) VCPUs() []*VCPU {
	v.mu.Lock()
	defer v.mu.Unlock()

	ids := make([]int, 0, len(v.vcpus))
	for id := range v.vcpus {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	res := make([]*VCPU, 0, len(ids))
	for _, id := range ids {
		res = append(res, v.vcpus[id])
	}
	return res
}

func (v *VM) release(id int) {
	v.mu.Lock()
	delete(v.vcpus, id)
	v.mu.Unlock()
}

// Close unregisters and unmaps guest memory, then closes the VM. It refuses
// while any vCPU is still open.
func (v *VM) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.closed {
		return nil
	}
	if n := len(v.vcpus); n > 0 {
		return fmt.Errorf("close vm with %d open vcpus: %w", n, ErrResourcesOutstanding)
	}

	var errs []error
	if v.mem != nil {
		clr := &UserspaceMemoryRegion{Slot: v.mem.slot}
		if err := v.sys.SetUserMemoryRegion(v.fd, clr); err != nil {
			errs = append(errs, fmt.Errorf("clear memory slot %d: %w", v.mem.slot, err))
		}
		if err := v.sys.Unmap(v.mem.mem); err != nil {
			errs = append(errs, fmt.Errorf("munmap guest memory: %w", err))
		}
		v.mem.mem = nil
	}
	if err := v.sys.Close(v.fd); err != nil {
		errs = append(errs, fmt.Errorf("close vm: %w", err))
	}
	v.closed = true
	v.hv.release()
	return errors.Join(errs...)
}
