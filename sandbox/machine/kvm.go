package machine

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	kvmGetAPIVersion   = 0x00
	kvmCreateVM        = 0x01
	kvmCheckExtension  = 0x03
	kvmGetVCPUMMapSize = 0x04

	kvmCreateVCPU          = 0x41
	kvmSetUserMemoryRegion = 0x46

	kvmRun      = 0x80
	kvmGetRegs  = 0x81
	kvmSetRegs  = 0x82
	kvmGetSregs = 0x83
	kvmSetSregs = 0x84
)

const (
	// DefaultDevice is the host virtualization device.
	DefaultDevice = "/dev/kvm"

	// APIVersion is the only stable KVM API version; it has not changed since 2.6.22.
	APIVersion = 12
)

// Host is the Sys backed by the Linux KVM ioctl interface.
var Host Sys = kvmSys{}

type kvmSys struct{}

func (kvmSys) Open(path string) (P, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return 0, err
	}
	return P(fd), nil
}

func (kvmSys) Close(fd P) error {
	return unix.Close(int(fd))
}

func (kvmSys) APIVersion(kvmFd P) (int, error) {
	v, err := Ioctl(kvmFd, IIO(kvmGetAPIVersion), 0)
	return int(v), err
}

func (kvmSys) CheckExtension(kvmFd P, c Cap) (int, error) {
	v, err := Ioctl(kvmFd, IIO(kvmCheckExtension), P(c))
	return int(v), err
}

func (kvmSys) CreateVM(kvmFd P) (P, error) {
	return Ioctl(kvmFd, IIO(kvmCreateVM), 0)
}

func (kvmSys) VCPUMmapSize(kvmFd P) (int, error) {
	v, err := Ioctl(kvmFd, IIO(kvmGetVCPUMMapSize), 0)
	return int(v), err
}

func (kvmSys) SetUserMemoryRegion(vmFd P, region *UserspaceMemoryRegion) error {
	return ioctlPtr(vmFd,
		IIOW(kvmSetUserMemoryRegion, P(unsafe.Sizeof(UserspaceMemoryRegion{}))),
		unsafe.Pointer(region))
}

func (kvmSys) CreateVCPU(vmFd P, id int) (P, error) {
	return Ioctl(vmFd, IIO(kvmCreateVCPU), P(id))
}

func (kvmSys) MapAnonymous(size int) ([]byte, error) {
	return unix.Mmap(-1, 0, size,
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_PRIVATE|unix.MAP_ANONYMOUS|unix.MAP_NORESERVE)
}

func (kvmSys) MapShared(fd P, size int) ([]byte, error) {
	return unix.Mmap(int(fd), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
}

func (kvmSys) Unmap(b []byte) error {
	return unix.Munmap(b)
}

func (kvmSys) GetRegs(vCpuFd P, regs *Regs) error {
	return ioctlPtr(vCpuFd, IIOR(kvmGetRegs, P(unsafe.Sizeof(Regs{}))), unsafe.Pointer(regs))
}

func (kvmSys) SetRegs(vCpuFd P, regs *Regs) error {
	return ioctlPtr(vCpuFd, IIOW(kvmSetRegs, P(unsafe.Sizeof(Regs{}))), unsafe.Pointer(regs))
}

func (kvmSys) GetSregs(vCpuFd P, sregs *Sregs) error {
	return ioctlPtr(vCpuFd, IIOR(kvmGetSregs, P(unsafe.Sizeof(Sregs{}))), unsafe.Pointer(sregs))
}

func (kvmSys) SetSregs(vCpuFd P, sregs *Sregs) error {
	return ioctlPtr(vCpuFd, IIOW(kvmSetSregs, P(unsafe.Sizeof(Sregs{}))), unsafe.Pointer(sregs))
}

func (kvmSys) Run(vCpuFd P) error {
	_, err := Ioctl(vCpuFd, IIO(kvmRun), 0)
	return err
}
