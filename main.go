package main

import (
	"github.com/soulxu/kvmsample/cmd"
)

// version must be set from the contents of VERSION file by go build's
// -X main.version= option in the Makefile.
var version = "unknown"

// gitCommit will be the hash that the binary was built from
// and will be populated by the Makefile
var gitCommit = ""

const (
	usage = `minimal KVM hypervisor
kvmsample creates a virtual machine with a single block of guest memory,
copies a raw real-mode guest image into it and runs it on one or more vcpus
until the guest shuts down. Port writes by the guest are logged.

A bundle is a directory with an optional specification file named
"` + cmd.SpecConfig + `" and the guest image.

To run the guest image test.bin in the current directory:

    # kvmsample run

Providing the bundle directory using "-b" is optional. The default value for
"bundle" is the current directory.`
)

func main() {
	cmd.Execute("kvmsample", usage, version, gitCommit)
}
