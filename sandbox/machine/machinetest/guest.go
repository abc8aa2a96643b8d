// Package machinetest holds guest images shared by the machine and sandbox
// tests.
package machinetest

const (
	// Port is the I/O port Guest writes to.
	Port = 0x10
	// Value is the byte Guest writes to Port.
	Value = 42
)

// Guest is a real-mode image that writes Value to Port and halts. With no
// in-kernel interrupt controller the halt reaches the host as a HLT exit, so
// the vCPU stops without a timer to wake it.
var Guest = []byte{
	0xb0, Value, // mov $0x2a,%al
	0xe6, Port, // out %al,$0x10
	0xf4, // hlt
}
