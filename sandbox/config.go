package sandbox

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/opencontainers/runtime-spec/specs-go"
	"github.com/sirupsen/logrus"
	"github.com/soulxu/kvmsample/sandbox/machine"
	"github.com/soulxu/kvmsample/utils"
)

const (
	SpecConfig   = "config.json"
	DefaultImage = "test.bin"
)

// Hypervisor parameters carried as config.json annotations.
const (
	Memory   = "org.soulxu.kvmsample.memory"
	CPUs     = "org.soulxu.kvmsample.cpus"
	IOPacing = "org.soulxu.kvmsample.io-pacing"
	LoadAddr = "org.soulxu.kvmsample.load-addr"
	Device   = "org.soulxu.kvmsample.device"
)

type Config struct {
	Bundle   string        `json:"bundle"`
	Image    string        `json:"image"`
	Device   string        `json:"device"`
	MemSize  int           `json:"memory"`
	CPUs     int           `json:"cpus"`
	IOPacing time.Duration `json:"io_pacing"`
	LoadAddr uint64        `json:"load_addr"`
}

// DefaultConfig is the configuration of a bundle without a config.json.
func DefaultConfig(bundle string) *Config {
	return &Config{
		Bundle:   bundle,
		Image:    DefaultImage,
		Device:   machine.DefaultDevice,
		MemSize:  machine.DefaultMemSize,
		CPUs:     1,
		IOPacing: machine.DefaultIOPacing,
		LoadAddr: machine.SegmentBase,
	}
}

// LoadBundle reads bundle/config.json. A bundle without one gets the
// defaults.
func LoadBundle(bundle string) (*Config, error) {
	c := DefaultConfig(bundle)
	data, err := os.ReadFile(filepath.Join(bundle, SpecConfig))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return c, nil
		}
		return nil, err
	}
	var spec specs.Spec
	if err := json.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("parse %s: %w", SpecConfig, err)
	}
	if err := c.apply(&spec); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) apply(spec *specs.Spec) error {
	if spec.Process != nil && len(spec.Process.Args) > 0 {
		c.Image = spec.Process.Args[0]
	}
	for k, v := range spec.Annotations {
		if err := c.Set(k, v); err != nil {
			return err
		}
	}
	return nil
}

// Set applies one hypervisor parameter. Keys outside the
// org.soulxu.kvmsample namespace are ignored.
func (c *Config) Set(key, value string) error {
	var err error
	switch key {
	case Memory:
		c.MemSize, err = utils.ParseSize(value, "")
	case CPUs:
		c.CPUs, err = strconv.Atoi(value)
	case IOPacing:
		c.IOPacing, err = time.ParseDuration(value)
	case LoadAddr:
		c.LoadAddr, err = strconv.ParseUint(value, 0, 64)
	case Device:
		c.Device = value
	default:
		return nil
	}
	if err != nil {
		return fmt.Errorf("%s=%q: %w", key, value, errors.Join(ErrInvalidConfig, err))
	}
	return nil
}

func (c *Config) Validate() error {
	if c.Image == "" {
		return fmt.Errorf("no guest image: %w", ErrInvalidConfig)
	}
	if c.MemSize < machine.PageSize || c.MemSize%machine.PageSize != 0 {
		return fmt.Errorf("memory %d is not a positive multiple of %d: %w", c.MemSize, machine.PageSize, ErrInvalidConfig)
	}
	if c.CPUs < 1 {
		return fmt.Errorf("cpus %d: %w", c.CPUs, ErrInvalidConfig)
	}
	if c.IOPacing < 0 {
		return fmt.Errorf("io pacing %s: %w", c.IOPacing, ErrInvalidConfig)
	}
	if c.LoadAddr >= uint64(c.MemSize) {
		return fmt.Errorf("load address %#x outside %d bytes of memory: %w", c.LoadAddr, c.MemSize, ErrInvalidConfig)
	}
	return nil
}

// ImagePath resolves the guest image against the bundle.
func (c *Config) ImagePath() string {
	if filepath.IsAbs(c.Image) {
		return c.Image
	}
	return filepath.Join(c.Bundle, c.Image)
}

func (c *Config) MachineConfig(log *logrus.Entry) machine.Config {
	addr := c.LoadAddr
	return machine.Config{
		Device:   c.Device,
		MemSize:  c.MemSize,
		CPUs:     c.CPUs,
		LoadAddr: &addr,
		IOPacing: c.IOPacing,
		Log:      log,
	}
}

// DefaultSpec is the starter config.json written by the spec command.
func DefaultSpec() *specs.Spec {
	return &specs.Spec{
		Version: specs.Version,
		Process: &specs.Process{
			Args: []string{DefaultImage},
			Cwd:  "/",
		},
		Annotations: map[string]string{
			Memory:   strconv.Itoa(machine.DefaultMemSize),
			CPUs:     "1",
			IOPacing: machine.DefaultIOPacing.String(),
			LoadAddr: fmt.Sprintf("%#x", machine.SegmentBase),
			Device:   machine.DefaultDevice,
		},
	}
}

// WriteSpec writes DefaultSpec to bundle/config.json. An existing file is
// left alone.
func WriteSpec(bundle string) error {
	name := filepath.Join(bundle, SpecConfig)
	data, err := json.MarshalIndent(DefaultSpec(), "", "\t")
	if err != nil {
		return err
	}
	f, err := os.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o666)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return fmt.Errorf("file %s exists. remove it first: %w", name, ErrExist)
		}
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
