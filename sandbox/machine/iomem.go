package machine

import (
	"fmt"
	"io"
	"os"
	"unsafe"
)

// MemorySlot is the only memory slot used: one region, guest-physical 0..size.
const MemorySlot = 0

type UserspaceMemoryRegion struct {
	Slot          uint32
	Flags         uint32
	GuestPhysAddr uint64
	MemorySize    uint64
	UserspaceAddr uint64
}

// GuestMemory is guest physical RAM: an anonymous host mapping registered
// with the VM so that guest-physical address 0 is the first byte of mem.
// Host writes are visible to the guest at once. Accesses are bounds-checked
// but not synchronized; concurrent guest and host access is the guest's
// business.
type GuestMemory struct {
	mem  []byte
	slot uint32
}

func newGuestMemory(mem []byte, slot uint32) *GuestMemory {
	return &GuestMemory{mem: mem, slot: slot}
}

func (g *GuestMemory) Len() uint64 {
	return uint64(len(g.mem))
}

// Slot is the KVM memory slot the region is registered under.
func (g *GuestMemory) Slot() uint32 {
	return g.slot
}

// Base is the host address backing guest-physical address 0.
func (g *GuestMemory) Base() uint64 {
	if len(g.mem) == 0 {
		return 0
	}
	return uint64(uintptr(unsafe.Pointer(&g.mem[0])))
}

func (g *GuestMemory) region() *UserspaceMemoryRegion {
	return &UserspaceMemoryRegion{
		Slot:          g.slot,
		GuestPhysAddr: 0,
		MemorySize:    g.Len(),
		UserspaceAddr: g.Base(),
	}
}

func (g *GuestMemory) check(off int64, n int) error {
	if g.mem == nil {
		return ErrClosed
	}
	if n < 0 || off < 0 || uint64(off) > g.Len() || uint64(n) > g.Len()-uint64(off) {
		return fmt.Errorf("%#x+%#x beyond %#x: %w", off, n, g.Len(), ErrOutOfRange)
	}
	return nil
}

// Slice returns the host view of guest-physical [off, off+n). The slice
// aliases guest memory.
func (g *GuestMemory) Slice(off uint64, n int) ([]byte, error) {
	if err := g.check(int64(off), n); err != nil {
		return nil, err
	}
	return g.mem[off : off+uint64(n)], nil
}

func (g *GuestMemory) ReadAt(b []byte, off int64) (int, error) {
	if g.mem == nil {
		return 0, ErrClosed
	}
	if off < 0 {
		return 0, fmt.Errorf("read at %d: %w", off, ErrOutOfRange)
	}
	if off >= int64(len(g.mem)) {
		return 0, io.EOF
	}
	n := copy(b, g.mem[off:])
	if n < len(b) {
		return n, io.EOF
	}
	return n, nil
}

// WriteAt writes all of b or nothing.
func (g *GuestMemory) WriteAt(b []byte, off int64) (int, error) {
	if err := g.check(off, len(b)); err != nil {
		return 0, err
	}
	return copy(g.mem[off:], b), nil
}

// PageSize is the host page size; guest memory must be a multiple of it.
var PageSize = os.Getpagesize()
