package machine

import (
	"fmt"
	"reflect"

	"github.com/sirupsen/logrus"
	"golang.org/x/arch/x86/x86asm"
)

const cr0PE = 1

// cpuMode is the decoder width for the current CS.
func cpuMode(s *Sregs) int {
	switch {
	case s.CR0&cr0PE == 0:
		return 16
	case s.CS.L == 1:
		return 64
	case s.CS.DB == 1:
		return 32
	}
	return 16
}

// Inst disassembles the instruction at CS:IP.
func (c *VCPU) Inst(regs *Regs, sregs *Sregs) (string, error) {
	mem := c.vm.Memory()
	if mem == nil {
		return "", fmt.Errorf("no guest memory: %w", ErrClosed)
	}
	mode := cpuMode(sregs)
	ip := regs.RIP
	if mode == 16 {
		ip &= 0xffff
	}
	pc := sregs.CS.Base + ip

	insn := make([]byte, 16)
	n, err := mem.ReadAt(insn, int64(pc))
	if n == 0 {
		return "", fmt.Errorf("reading pc at %#x: %w", pc, err)
	}
	d, err := x86asm.Decode(insn[:n], mode)
	if err != nil {
		return "", fmt.Errorf("decoding %#02x: %w", insn[:n], err)
	}
	return x86asm.GNUSyntax(d, ip, nil), nil
}

// diagnose logs the guest state at level: registers and the instruction at CS:IP.
func (c *VCPU) diagnose(level logrus.Level) {
	if !c.log.Logger.IsLevelEnabled(level) {
		return
	}
	var (
		regs  Regs
		sregs Sregs
	)
	if err := c.sys.GetRegs(c.fd, &regs); err != nil {
		c.log.WithError(err).Warn("diagnose: get regs")
		return
	}
	if err := c.sys.GetSregs(c.fd, &sregs); err != nil {
		c.log.WithError(err).Warn("diagnose: get sregs")
		return
	}
	entry := c.log.WithFields(logrus.Fields{
		"cs":  fmt.Sprintf("%#x", sregs.CS.Selector),
		"rip": fmt.Sprintf("%#x", regs.RIP),
		"cr0": fmt.Sprintf("%#x", sregs.CR0),
	})
	if s, err := c.Inst(&regs, &sregs); err != nil {
		entry = entry.WithField("inst", err.Error())
	} else {
		entry = entry.WithField("inst", s)
	}
	entry.Log(level, "guest state")
	c.log.Logf(level, "regs:\n%s", show("  ", &regs))
}

func showOne(indent string, in interface{}) string {
	var ret string

	s := reflect.ValueOf(in).Elem()
	typeOfT := s.Type()

	for i := 0; i < s.NumField(); i++ {
		f := s.Field(i)
		if !typeOfT.Field(i).IsExported() {
			continue
		}
		ret += fmt.Sprintf(indent+"%s %s = %#x\n", typeOfT.Field(i).Name, f.Type(), f.Interface())
	}

	return ret
}

func show(indent string, l ...interface{}) string {
	var ret string
	for _, i := range l {
		ret += showOne(indent, i)
	}
	return ret
}
