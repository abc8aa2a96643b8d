package machine

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
	"golang.org/x/time/rate"
)

const (
	// CodeSegment is loaded into every segment selector on reset; the
	// segment base is CodeSegment*16, real-mode style.
	CodeSegment = 0x1000

	// SegmentBase is where CS:0 lands in guest-physical memory.
	SegmentBase = CodeSegment << 4

	// StackTop is the initial stack pointer.
	StackTop = 0xffffffff

	// rflagsReserved is RFLAGS bit 1, always set; IF stays clear.
	rflagsReserved = 0x2
)

// VCPU is one virtual CPU. It owns its kernel resource and run page and is
// driven by exactly one goroutine; only interrupt may be called from
// elsewhere.
type VCPU struct {
	id  int
	fd  P
	vm  *VM
	sys Sys
	run RunPage

	regs  Regs
	sregs Sregs
	reset bool

	io    PortIO
	pace  *rate.Limiter
	log   *logrus.Entry
	exits map[Exit]uint64

	// thread is the host thread running the vCPU, 0 when none.
	thread atomic.Int32

	closed bool
}

func newVCPU(vm *VM, id int, fd P, run RunPage) *VCPU {
	log := logrus.WithField("vcpu", id)
	return &VCPU{
		id:    id,
		fd:    fd,
		vm:    vm,
		sys:   vm.sys,
		run:   run,
		io:    &PortLogger{Log: log},
		pace:  rate.NewLimiter(rate.Inf, 1),
		log:   log,
		exits: make(map[Exit]uint64),
	}
}

func (c *VCPU) ID() int {
	return c.id
}

// SetPortIO replaces the handler consulted on EXITIO.
func (c *VCPU) SetPortIO(io PortIO) {
	c.io = io
}

// SetIOPacing spaces resumes that follow port I/O at least d apart, so a
// guest polling a port does not spin the host. The first access after the
// limiter is set passes at once; only later ones wait. Zero disables pacing.
func (c *VCPU) SetIOPacing(d time.Duration) {
	c.pace = rate.NewLimiter(rate.Every(d), 1)
}

func (c *VCPU) SetLogger(log *logrus.Entry) {
	c.log = log.WithField("vcpu", c.id)
	if pl, ok := c.io.(*PortLogger); ok {
		pl.Log = c.log
	}
}

// Regs returns the register state cached by the last Reset.
func (c *VCPU) Regs() (Regs, Sregs) {
	return c.regs, c.sregs
}

// Exits counts the exits seen so far by reason.
func (c *VCPU) Exits() map[Exit]uint64 {
	res := make(map[Exit]uint64, len(c.exits))
	for k, v := range c.exits {
		res[k] = v
	}
	return res
}

// Reset loads the flat real-mode state: every segment at
// CodeSegment:0 (base SegmentBase), IP at entry, SP at StackTop, BP clear,
// RFLAGS with only the reserved bit. It must run once before Resume.
func (c *VCPU) Reset(entry uint64) error {
	if c.closed {
		return fmt.Errorf("vcpu %d reset: %w", c.id, ErrClosed)
	}
	if err := c.sys.GetSregs(c.fd, &c.sregs); err != nil {
		return hostError(ErrRegisterAccess, "get sregs", err)
	}
	for _, s := range c.sregs.dataSegments() {
		s.Selector = CodeSegment
		s.Base = SegmentBase
	}
	if err := c.sys.SetSregs(c.fd, &c.sregs); err != nil {
		return hostError(ErrRegisterAccess, "set sregs", err)
	}

	if err := c.sys.GetRegs(c.fd, &c.regs); err != nil {
		return hostError(ErrRegisterAccess, "get regs", err)
	}
	c.regs.RFLAGS = rflagsReserved
	c.regs.RIP = entry
	c.regs.RSP = StackTop
	c.regs.RBP = 0
	if err := c.sys.SetRegs(c.fd, &c.regs); err != nil {
		return hostError(ErrRegisterAccess, "set regs", err)
	}

	c.reset = true
	return nil
}

// Resume enters the guest and blocks until it exits back to the host. A
// resume cut short by a host signal or an immediate exit request reports
// EXITINTR.
func (c *VCPU) Resume() (ExitEvent, error) {
	if c.closed {
		return ExitEvent{}, fmt.Errorf("vcpu %d resume: %w", c.id, ErrClosed)
	}
	if !c.reset {
		return ExitEvent{}, fmt.Errorf("vcpu %d: %w", c.id, ErrNotReset)
	}
	if err := c.sys.Run(c.fd); err != nil {
		if errors.Is(err, unix.EINTR) || errors.Is(err, unix.EAGAIN) {
			return ExitEvent{Reason: EXITINTR}, nil
		}
		return ExitEvent{}, hostError(ErrResume, fmt.Sprintf("vcpu %d KVM_RUN", c.id), err)
	}
	return c.run.Event()
}

// Run resets the vCPU and resumes it until a terminal exit, a failure, or
// ctx is done. It returns the exit that ended the loop.
func (c *VCPU) Run(ctx context.Context, entry uint64) (Exit, error) {
	if err := c.Reset(entry); err != nil {
		return EXITUNKNOWN, fmt.Errorf("vcpu %d: %w", c.id, err)
	}
	for {
		if ctx.Err() != nil {
			c.log.Debug("stopped by host")
			return EXITINTR, nil
		}
		ev, err := c.Resume()
		if err != nil {
			return ev.Reason, err
		}
		more, err := c.dispatch(ctx, ev)
		if err != nil {
			return ev.Reason, fmt.Errorf("vcpu %d %s: %w", c.id, ev.Reason, err)
		}
		if !more {
			return ev.Reason, nil
		}
	}
}

// dispatch acts on one exit and reports whether the loop continues.
func (c *VCPU) dispatch(ctx context.Context, ev ExitEvent) (bool, error) {
	c.exits[ev.Reason]++

	switch ev.Reason {
	case EXITUNKNOWN:
		c.log.Warn("KVM_EXIT_UNKNOWN")
		return true, nil
	case EXITDEBUG:
		c.log.Warn("KVM_EXIT_DEBUG")
		c.diagnose(logrus.DebugLevel)
		return true, nil
	case EXITIO:
		if err := c.portIO(ev.IO); err != nil {
			return false, err
		}
		c.waitPace(ctx)
		return true, nil
	case EXITMMIO:
		c.log.WithFields(logrus.Fields{
			"addr":  fmt.Sprintf("%#x", ev.MMIO.Addr),
			"len":   len(ev.MMIO.Data),
			"write": ev.MMIO.IsWrite,
		}).Debug("KVM_EXIT_MMIO")
		if !ev.MMIO.IsWrite {
			clear(ev.MMIO.Data)
		}
		return true, nil
	case EXITINTR:
		c.log.Debug("KVM_EXIT_INTR")
		return true, nil
	case EXITSHUTDOWN:
		c.log.Info("KVM_EXIT_SHUTDOWN")
		return false, nil
	case EXITHLT:
		// Nothing raises interrupts without an in-kernel irqchip, so a halted
		// vCPU never wakes.
		c.log.Info("KVM_EXIT_HLT")
		return false, nil
	default:
		c.log.WithError(fmt.Errorf("%s: %w", ev.Reason, ErrUnexpectedExitReason)).Warn("stopping vcpu")
		c.diagnose(logrus.WarnLevel)
		return false, nil
	}
}

// waitPace blocks until the pacing limiter allows another resume or ctx is
// done, whichever comes first.
func (c *VCPU) waitPace(ctx context.Context) {
	r := c.pace.Reserve()
	d := r.Delay()
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
		r.Cancel()
	}
}

func (c *VCPU) portIO(io *PortAccess) error {
	f := c.io.Out
	if !io.Out() {
		f = c.io.In
	}
	for i := 0; i < int(io.Count); i++ {
		if err := f(uint64(io.Port), io.Item(i)); err != nil {
			return err
		}
	}
	return nil
}

func (c *VCPU) setThread(tid int) {
	c.thread.Store(int32(tid))
}

// interrupt makes the vCPU leave the guest: the run page flag stops the
// next KVM_RUN and the signal breaks one in progress with EINTR. The Go
// runtime ignores stray SIGURGs.
func (c *VCPU) interrupt() {
	c.run.SetImmediateExit(true)
	if tid := c.thread.Load(); tid != 0 {
		_ = unix.Tgkill(unix.Getpid(), int(tid), unix.SIGURG)
	}
}

// Close unmaps the run page and closes the vCPU. It must precede VM.Close.
func (c *VCPU) Close() error {
	if c.closed {
		return nil
	}
	err := errors.Join(c.sys.Unmap(c.run), c.sys.Close(c.fd))
	c.closed = true
	c.run = nil
	c.vm.release(c.id)
	return err
}
