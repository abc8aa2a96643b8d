package sandbox

import (
	"context"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/soulxu/kvmsample/sandbox/machine"
)

type entrypoint struct {
	c   *Config
	mc  machine.Config
	sys machine.Sys
	log *logrus.Entry
	img *os.File
	m   *machine.Machine
}

func (e *entrypoint) init() error {
	if err := e.c.Validate(); err != nil {
		return err
	}
	e.mc = e.c.MachineConfig(e.log)
	e.mc.Sys = e.sys
	e.log.WithFields(logrus.Fields{
		"image":  e.c.ImagePath(),
		"memory": e.c.MemSize,
		"cpus":   e.c.CPUs,
		"pacing": e.c.IOPacing,
		"addr":   fmt.Sprintf("%#x", e.c.LoadAddr),
	}).Debug("hypervisor setup")
	return nil
}

func (e *entrypoint) setup() error {
	var err error

	// The image is opened before any kernel resource so a bad path costs
	// nothing to unwind.
	if e.img, err = os.Open(e.c.ImagePath()); err != nil {
		return fmt.Errorf("open guest image: %w", err)
	}
	if e.m, err = machine.New(e.mc); err != nil {
		return err
	}
	n, err := e.m.Load(e.img)
	if err != nil {
		return err
	}
	e.log.WithField("size", n).Debug("image loaded")
	return nil
}

func (e *entrypoint) run(ctx context.Context) error {
	return e.m.Run(ctx)
}

func (e *entrypoint) shutdown() error {
	var err error
	if e.m != nil {
		err = e.m.Close()
		e.m = nil
	}
	if e.img != nil {
		e.img.Close()
		e.img = nil
	}
	return err
}

func (e *entrypoint) boot(ctx context.Context) (err error) {
	if err := e.init(); err != nil {
		return err
	}
	defer func() {
		if serr := e.shutdown(); serr != nil {
			if err == nil {
				err = serr
			} else {
				e.log.WithError(serr).Warn("teardown")
			}
		}
	}()
	if err := e.setup(); err != nil {
		return err
	}
	return e.run(ctx)
}

// Boot runs the guest image of c until every vCPU has stopped, then tears
// the machine down.
func Boot(ctx context.Context, c *Config, log *logrus.Entry) error {
	e := &entrypoint{c: c, log: log}
	return e.boot(ctx)
}
