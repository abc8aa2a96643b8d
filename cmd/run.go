package cmd

import (
	gocontext "context"
	"fmt"
	"os"
	"os/signal"

	"github.com/sirupsen/logrus"
	"github.com/soulxu/kvmsample/sandbox"
	"github.com/soulxu/kvmsample/utils"
	"github.com/urfave/cli"
	"golang.org/x/sys/unix"
)

// paramKeys maps the short names accepted by --param to annotations.
var paramKeys = map[string]string{
	"memory":    sandbox.Memory,
	"cpus":      sandbox.CPUs,
	"io-pacing": sandbox.IOPacing,
	"load-addr": sandbox.LoadAddr,
	"device":    sandbox.Device,
}

var runCommand = cli.Command{
	Name:  "run",
	Usage: "load a guest image into a new virtual machine and run it",
	Description: `The run command creates a virtual machine for a bundle, copies the guest
image into its memory and runs it until the guest shuts down. The bundle is a
directory with an optional specification file named "` + SpecConfig + `" whose
process.args[0] names the raw guest image (default "` + sandbox.DefaultImage + `").

Hypervisor parameters come from the spec annotations and can be overridden with
the flags below. See "kvmsample spec --help" for the defaults.`,
	Flags: []cli.Flag{
		cli.StringFlag{
			Name:  "bundle, b",
			Value: "",
			Usage: `path to the root of the bundle directory, defaults to the current directory`,
		},
		cli.StringFlag{
			Name:  "image, i",
			Usage: "raw guest image, relative to the bundle",
		},
		cli.StringFlag{
			Name:  "memory, m",
			Usage: "guest memory size (e.g. 512000000, 64M, 1G)",
		},
		cli.IntFlag{
			Name:  "cpus",
			Usage: "number of vcpus",
		},
		cli.DurationFlag{
			Name:  "io-pacing",
			Usage: "minimum interval between resumes that follow port I/O, 0 to disable",
		},
		cli.StringSliceFlag{
			Name:  "param, p",
			Usage: "hypervisor parameter as key=value (memory, cpus, io-pacing, load-addr, device)",
		},
	},
	Action: func(context *cli.Context) error {
		if err := checkArgs(context, 0, exactArgs); err != nil {
			return err
		}
		c, err := loadConfig(context)
		if err != nil {
			return err
		}
		if err := runSandbox(c); err != nil {
			return fmt.Errorf("kvmsample run failed: %w", err)
		}
		return nil
	},
}

func loadConfig(context *cli.Context) (*sandbox.Config, error) {
	bundle, err := bundleDir(context)
	if err != nil {
		return nil, err
	}
	c, err := sandbox.LoadBundle(bundle)
	if err != nil {
		return nil, err
	}
	if err := applyParams(c, context.StringSlice("param")); err != nil {
		return nil, err
	}
	if context.IsSet("image") {
		c.Image = context.String("image")
	}
	if context.IsSet("memory") {
		if err := c.Set(sandbox.Memory, context.String("memory")); err != nil {
			return nil, err
		}
	}
	if context.IsSet("cpus") {
		c.CPUs = context.Int("cpus")
	}
	if context.IsSet("io-pacing") {
		c.IOPacing = context.Duration("io-pacing")
	}
	return c, nil
}

func applyParams(c *sandbox.Config, params []string) error {
	for short, key := range paramKeys {
		if v := utils.GetParams(params, short); v != "" {
			if err := c.Set(key, v); err != nil {
				return err
			}
		}
	}
	return nil
}

func runSandbox(c *sandbox.Config) error {
	ctx, stop := signal.NotifyContext(gocontext.Background(), os.Interrupt, unix.SIGTERM)
	defer stop()

	log := logrus.WithField("bundle", c.Bundle)
	return sandbox.Boot(ctx, c, log)
}
