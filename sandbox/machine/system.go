package machine

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	nrbits   = 8
	typebits = 8
	sizebits = 14
	dirbits  = 2

	nrmask   = (1 << nrbits) - 1
	sizemask = (1 << sizebits) - 1
	dirmask  = (1 << dirbits) - 1

	none      = 0
	write     = 1
	read      = 2
	readwrite = 3

	nrshift   = 0
	typeshift = nrshift + nrbits
	sizeshift = typeshift + typebits
	dirshift  = sizeshift + sizebits
)

const KVMIO = 0xAE

// P is a file descriptor, ioctl number or ioctl argument.
type P uintptr

func IIOR(nr, size P) P {
	return IIOC(read, nr, size)
}

func IIOW(nr, size P) P {
	return IIOC(write, nr, size)
}

func IIO(nr P) P {
	return IIOC(none, nr, 0)
}

func IIOC(dir, nr, size P) P {
	return ((dir & dirmask) << dirshift) | (KVMIO << typeshift) |
		((nr & nrmask) << nrshift) | ((size & sizemask) << sizeshift)
}

func Ioctl(fd, op, arg P) (P, error) {
	res, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), uintptr(op), uintptr(arg))
	if errno != 0 {
		return P(res), errno
	}
	return P(res), nil
}

// ioctlPtr keeps the pointer conversion inside the syscall expression so the
// argument stays valid for the duration of the call.
func ioctlPtr(fd, op P, arg unsafe.Pointer) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), uintptr(op), uintptr(arg))
	if errno != 0 {
		return errno
	}
	return nil
}
