package cmd

import (
	"github.com/soulxu/kvmsample/sandbox"
	"github.com/urfave/cli"
)

var specCommand = cli.Command{
	Name:      "spec",
	Usage:     "create a new specification file",
	ArgsUsage: "",
	Description: `The spec command creates the new specification file named "` + SpecConfig + `" for
the bundle.

The spec generated is just a starter file. process.args[0] names the raw guest
image and the annotations carry the hypervisor parameters:

    ` + sandbox.Memory + `     guest memory size
    ` + sandbox.CPUs + `       number of vcpus
    ` + sandbox.IOPacing + `  interval between resumes after port I/O
    ` + sandbox.LoadAddr + `  guest-physical load address of the image
    ` + sandbox.Device + `     virtualization device
`,
	Flags: []cli.Flag{
		cli.StringFlag{
			Name:  "bundle, b",
			Value: "",
			Usage: "path to the root of the bundle directory",
		},
	},
	Action: func(context *cli.Context) error {
		if err := checkArgs(context, 0, exactArgs); err != nil {
			return err
		}
		bundle, err := bundleDir(context)
		if err != nil {
			return err
		}
		return sandbox.WriteSpec(bundle)
	},
}
