package machine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"
)

const (
	// DefaultMemSize is the guest RAM size, roughly half a gigabyte.
	DefaultMemSize = 512000000

	// DefaultIOPacing spaces resumes after port I/O.
	DefaultIOPacing = time.Second
)

// Config describes a machine. Zero fields take defaults, except IOPacing,
// where zero disables pacing.
type Config struct {
	// Device is the virtualization device path, DefaultDevice if empty.
	Device string

	// MemSize is the guest RAM size in bytes, a multiple of the page size.
	MemSize int

	// CPUs is the number of vCPUs. One is the supported configuration.
	CPUs int

	// LoadAddr is the guest-physical address the image is copied to.
	// It defaults to SegmentBase so that CS:0 is the first image byte.
	LoadAddr *uint64

	// Entry is the initial IP, relative to the code segment.
	Entry uint64

	IOPacing time.Duration

	// PortIO handles guest port accesses; a PortLogger if nil.
	PortIO PortIO

	// Sys performs the host calls; Host if nil.
	Sys Sys

	Log *logrus.Entry
}

func (c *Config) setDefaults() {
	if c.Device == "" {
		c.Device = DefaultDevice
	}
	if c.MemSize == 0 {
		c.MemSize = DefaultMemSize
	}
	if c.CPUs == 0 {
		c.CPUs = 1
	}
	if c.LoadAddr == nil {
		addr := uint64(SegmentBase)
		c.LoadAddr = &addr
	}
	if c.Sys == nil {
		c.Sys = Host
	}
	if c.Log == nil {
		c.Log = logrus.NewEntry(logrus.StandardLogger())
	}
}

// Machine owns a hypervisor handle, one VM with its memory, and the VM's
// vCPUs, and tears them down in reverse order of creation.
type Machine struct {
	cfg   Config
	log   *logrus.Entry
	hv    *Hypervisor
	vm    *VM
	mem   *GuestMemory
	vcpus []*VCPU
}

// New acquires every resource the machine needs. On failure whatever was
// already acquired is released before returning.
func New(cfg Config) (*Machine, error) {
	cfg.setDefaults()
	if cfg.CPUs < 1 {
		return nil, fmt.Errorf("%d cpus: %w", cfg.CPUs, ErrBadCPU)
	}

	m := &Machine{cfg: cfg, log: cfg.Log}
	if err := m.setup(); err != nil {
		if cerr := m.Close(); cerr != nil {
			m.log.WithError(cerr).Warn("teardown after failed setup")
		}
		return nil, err
	}
	return m, nil
}

func (m *Machine) setup() error {
	var err error

	if m.hv, err = Open(m.cfg.Sys, m.cfg.Device); err != nil {
		return err
	}
	m.log.WithField("api", m.hv.APIVersion()).Debug("hypervisor open")

	if m.vm, err = m.hv.CreateVM(); err != nil {
		return err
	}
	if m.mem, err = m.vm.AttachMemory(m.cfg.MemSize); err != nil {
		return err
	}
	m.log.WithField("size", m.mem.Len()).Debug("guest memory attached")

	for id := 0; id < m.cfg.CPUs; id++ {
		c, err := m.vm.CreateVCPU(id)
		if err != nil {
			return err
		}
		c.SetLogger(m.log)
		if m.cfg.PortIO != nil {
			c.SetPortIO(m.cfg.PortIO)
		}
		c.SetIOPacing(m.cfg.IOPacing)
		m.vcpus = append(m.vcpus, c)
	}
	return nil
}

func (m *Machine) Hypervisor() *Hypervisor {
	return m.hv
}

func (m *Machine) Memory() *GuestMemory {
	return m.mem
}

func (m *Machine) VCPUs() []*VCPU {
	return m.vcpus
}

// LoadAddr is the guest-physical address Load copies to.
func (m *Machine) LoadAddr() uint64 {
	return *m.cfg.LoadAddr
}

// Load copies a raw guest image into memory at LoadAddr.
func (m *Machine) Load(r io.Reader) (int, error) {
	n, err := LoadImage(m.mem, r, m.LoadAddr())
	if err != nil {
		return n, err
	}
	m.log.WithFields(logrus.Fields{
		"size": n,
		"addr": fmt.Sprintf("%#x", m.LoadAddr()),
	}).Debug("image loaded")
	return n, nil
}

// Run starts one worker per vCPU and waits for all of them. The first vCPU
// to stop, for any reason, stops the others, as does cancelling ctx: every
// vCPU is then interrupted and its worker returns at the next exit.
func (m *Machine) Run(ctx context.Context) error {
	if len(m.vcpus) == 0 {
		return fmt.Errorf("run: %w", ErrClosed)
	}
	for _, c := range m.vcpus {
		c.run.SetImmediateExit(false)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	for _, c := range m.vcpus {
		c := c
		g.Go(func() error {
			runtime.LockOSThread()
			defer runtime.UnlockOSThread()

			c.setThread(unix.Gettid())
			defer c.setThread(0)

			m.log.Debugf("start CPU %d of %d", c.ID(), len(m.vcpus))
			exit, err := c.Run(gctx, m.cfg.Entry)
			cancel()
			if err != nil {
				return err
			}
			m.log.WithFields(logrus.Fields{
				"vcpu": c.ID(),
				"exit": exit.String(),
			}).Info("vcpu stopped")
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		for _, c := range m.vcpus {
			c.interrupt()
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}
	m.log.Debug("all CPUs done")
	return nil
}

// Close destroys the vCPUs, then the VM and its memory, then the
// hypervisor handle. It is safe on a partially built machine.
func (m *Machine) Close() error {
	var errs []error
	for i := len(m.vcpus) - 1; i >= 0; i-- {
		if err := m.vcpus[i].Close(); err != nil {
			errs = append(errs, fmt.Errorf("vcpu %d: %w", m.vcpus[i].ID(), err))
		}
	}
	m.vcpus = nil
	if m.vm != nil {
		if err := m.vm.Close(); err != nil {
			errs = append(errs, err)
		}
		m.vm, m.mem = nil, nil
	}
	if m.hv != nil {
		if err := m.hv.Close(); err != nil {
			errs = append(errs, err)
		}
		m.hv = nil
	}
	return errors.Join(errs...)
}
