package machine

import (
	"encoding/binary"
	"fmt"
)

//go:generate stringer -type=Exit
type Exit uint32

const (
	EXITUNKNOWN       Exit = 0
	EXITEXCEPTION     Exit = 1
	EXITIO            Exit = 2
	EXITHYPERCALL     Exit = 3
	EXITDEBUG         Exit = 4
	EXITHLT           Exit = 5
	EXITMMIO          Exit = 6
	EXITIRQWINDOWOPEN Exit = 7
	EXITSHUTDOWN      Exit = 8
	EXITFAILENTRY     Exit = 9
	EXITINTR          Exit = 10
	EXITSETTPR        Exit = 11
	EXITTPRACCESS     Exit = 12
	EXITS390SIEIC     Exit = 13
	EXITS390RESET     Exit = 14
	EXITDCR           Exit = 15
	EXITNMI           Exit = 16
	EXITINTERNALERROR Exit = 17

	EXITIOIN  = 0
	EXITIOOUT = 1
)

// kvm_run layout, see include/uapi/linux/kvm.h.
const (
	runImmediateExit = 1
	runExitReason    = 8
	runExitData      = 32
	runHeaderSize    = runExitData + 256
)

// RunPage is a vCPU's shared kvm_run mapping. The hypervisor writes the exit
// reason and its payload there before KVM_RUN returns; the host writes IN and
// MMIO read data back before the next resume.
type RunPage []byte

func (r RunPage) valid() error {
	if len(r) < runHeaderSize {
		return fmt.Errorf("run page is %d bytes: %w", len(r), ErrBadRunPage)
	}
	return nil
}

func (r RunPage) ExitReason() Exit {
	return Exit(binary.LittleEndian.Uint32(r[runExitReason:]))
}

// SetImmediateExit makes the next KVM_RUN return EINTR without entering the guest.
func (r RunPage) SetImmediateExit(on bool) {
	if on {
		r[runImmediateExit] = 1
	} else {
		r[runImmediateExit] = 0
	}
}

func (r RunPage) IO() (uint64, uint64, uint64, uint64, uint64) {
	d := binary.LittleEndian.Uint64(r[runExitData:])
	direction := d & 0xFF
	size := (d >> 8) & 0xFF
	port := (d >> 16) & 0xFFFF
	count := (d >> 32) & 0xFFFFFFFF
	offset := binary.LittleEndian.Uint64(r[runExitData+8:])
	return direction, size, port, count, offset
}

func (r RunPage) MMIO() (addr uint64, data []byte, isWrite bool) {
	addr = binary.LittleEndian.Uint64(r[runExitData:])
	length := binary.LittleEndian.Uint32(r[runExitData+16:])
	if length > 8 {
		length = 8
	}
	data = r[runExitData+8 : runExitData+8+int(length)]
	isWrite = r[runExitData+20] != 0
	return addr, data, isWrite
}

// PortAccess is the payload of an EXITIO exit.
type PortAccess struct {
	Port       uint16
	Direction  uint8
	Size       uint8
	Count      uint32
	DataOffset uint64

	// Data aliases the run page: Count items of Size bytes.
	Data []byte
}

func (p *PortAccess) Out() bool {
	return p.Direction == EXITIOOUT
}

// Item returns the i-th transferred item.
func (p *PortAccess) Item(i int) []byte {
	return p.Data[i*int(p.Size) : (i+1)*int(p.Size)]
}

// Value decodes the first item as a little-endian integer.
func (p *PortAccess) Value() uint32 {
	return leValue(p.Item(0))
}

// MMIOAccess is the payload of an EXITMMIO exit.
type MMIOAccess struct {
	Addr    uint64
	IsWrite bool

	// Data aliases the run page.
	Data []byte
}

// ExitEvent is why the last resume returned. It is decoded afresh after
// every resume and is only valid until the next one.
type ExitEvent struct {
	Reason Exit
	IO     *PortAccess
	MMIO   *MMIOAccess
}

func (e ExitEvent) String() string {
	switch {
	case e.IO != nil:
		return fmt.Sprintf("%s port=%#x dir=%d size=%d count=%d", e.Reason, e.IO.Port, e.IO.Direction, e.IO.Size, e.IO.Count)
	case e.MMIO != nil:
		return fmt.Sprintf("%s addr=%#x len=%d write=%t", e.Reason, e.MMIO.Addr, len(e.MMIO.Data), e.MMIO.IsWrite)
	}
	return e.Reason.String()
}

// Event decodes the exit currently described by the run page.
func (r RunPage) Event() (ExitEvent, error) {
	if err := r.valid(); err != nil {
		return ExitEvent{}, err
	}
	ev := ExitEvent{Reason: r.ExitReason()}
	switch ev.Reason {
	case EXITIO:
		direction, size, port, count, offset := r.IO()
		switch size {
		case 1, 2, 4:
		default:
			return ev, fmt.Errorf("io size %d on port %#x: %w", size, port, ErrDataLenInvalid)
		}
		end := offset + size*count
		if count == 0 || offset < runHeaderSize || end > uint64(len(r)) || end < offset {
			return ev, fmt.Errorf("io data %#x+%d*%d outside %d byte page: %w",
				offset, count, size, len(r), ErrBadRunPage)
		}
		ev.IO = &PortAccess{
			Port:       uint16(port),
			Direction:  uint8(direction),
			Size:       uint8(size),
			Count:      uint32(count),
			DataOffset: offset,
			Data:       r[offset:end],
		}
	case EXITMMIO:
		addr, data, isWrite := r.MMIO()
		ev.MMIO = &MMIOAccess{Addr: addr, Data: data, IsWrite: isWrite}
	}
	return ev, nil
}

func leValue(b []byte) uint32 {
	switch len(b) {
	case 1:
		return uint32(b[0])
	case 2:
		return uint32(binary.LittleEndian.Uint16(b))
	case 4:
		return binary.LittleEndian.Uint32(b)
	}
	return 0
}
