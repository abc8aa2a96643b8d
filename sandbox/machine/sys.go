package machine

// Sys is the host side of the virtualization facility. Every kernel call made
// by Hypervisor, VM and VCPU goes through it. Host talks to /dev/kvm.
type Sys interface {
	Open(path string) (P, error)
	Close(fd P) error

	APIVersion(kvmFd P) (int, error)
	CheckExtension(kvmFd P, c Cap) (int, error)
	CreateVM(kvmFd P) (P, error)
	VCPUMmapSize(kvmFd P) (int, error)

	SetUserMemoryRegion(vmFd P, region *UserspaceMemoryRegion) error
	CreateVCPU(vmFd P, id int) (P, error)

	MapAnonymous(size int) ([]byte, error)
	MapShared(fd P, size int) ([]byte, error)
	Unmap(b []byte) error

	GetRegs(vCpuFd P, regs *Regs) error
	SetRegs(vCpuFd P, regs *Regs) error
	GetSregs(vCpuFd P, sregs *Sregs) error
	SetSregs(vCpuFd P, sregs *Sregs) error
	Run(vCpuFd P) error
}
