package cmd

import (
	"os"

	"github.com/soulxu/kvmsample/sandbox"
	"github.com/soulxu/kvmsample/sandbox/machine"
	"github.com/soulxu/kvmsample/utils"
	"github.com/urfave/cli"
)

var probeCommand = cli.Command{
	Name:  "probe",
	Usage: "report the hypervisor api version and capabilities",
	Flags: []cli.Flag{
		cli.StringFlag{
			Name:  "device",
			Value: machine.DefaultDevice,
			Usage: "virtualization device to probe",
		},
	},
	Action: func(context *cli.Context) error {
		if err := checkArgs(context, 0, exactArgs); err != nil {
			return err
		}
		r, err := sandbox.Probe(context.String("device"))
		if err != nil {
			return err
		}
		return utils.WriteJSON(os.Stdout, r)
	},
}
