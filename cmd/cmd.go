package cmd

import (
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/soulxu/kvmsample/sandbox"
	"github.com/soulxu/kvmsample/utils"
	"github.com/urfave/cli"
)

const (
	SpecConfig = sandbox.SpecConfig

	// KVM_CAP_IMMEDIATE_EXIT, used to stop sibling vCPUs, landed in 4.11.
	minKernelVersion = "4.11.0"
)

func newApp(name, usage, version, commit string) *cli.App {
	app := cli.NewApp()
	app.Name = name
	app.Usage = usage

	v := []string{version}

	if commit != "" {
		v = append(v, "commit: "+commit)
	}
	v = append(v, "go: "+runtime.Version())
	app.Version = strings.Join(v, "\n")

	app.Flags = []cli.Flag{
		cli.BoolFlag{
			Name:  "debug",
			Usage: "enable debug logging",
		},
		cli.StringFlag{
			Name:  "log",
			Value: "",
			Usage: "set the log file to write kvmsample logs to (default is '/dev/stderr')",
		},
		cli.StringFlag{
			Name:  "log-format",
			Value: "text",
			Usage: "set the log format ('text' (default), or 'json')",
		},
	}
	app.Commands = []cli.Command{
		runCommand,
		probeCommand,
		specCommand,
	}

	app.Before = func(context *cli.Context) error {
		if err := utils.CheckKernelVersion(minKernelVersion); err != nil {
			return err
		}
		return configLogrus(context)
	}
	return app
}

func configLogrus(context *cli.Context) error {
	if context.GlobalBool("debug") {
		logrus.SetLevel(logrus.DebugLevel)
		logrus.SetReportCaller(true)
	}

	switch f := context.GlobalString("log-format"); f {
	case "", "text":
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	case "json":
		logrus.SetFormatter(new(logrus.JSONFormatter))
	default:
		return fmt.Errorf("invalid log-format: %s", f)
	}

	if path := context.GlobalString("log"); path != "" {
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND|os.O_SYNC, 0o600)
		if err != nil {
			return err
		}
		logrus.SetOutput(f)
	}
	return nil
}

// Execute runs the command line. Any failure is printed to stderr and the
// process exits 1.
func Execute(name, usage, version, commit string) {
	app := newApp(name, usage, version, commit)
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", name, err)
		os.Exit(1)
	}
}
