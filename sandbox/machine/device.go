package machine

import (
	"github.com/sirupsen/logrus"
)

// PortIO handles guest port accesses. data holds one item of the access
// size; In fills it, Out reads it.
type PortIO interface {
	In(port uint64, data []byte) error
	Out(port uint64, data []byte) error
}

// PortLogger is the default PortIO. Port writes are the guest's only output
// channel, so every OUT is logged; IN reads as zero.
type PortLogger struct {
	Log *logrus.Entry
}

func (p *PortLogger) In(port uint64, data []byte) error {
	clear(data)
	p.Log.WithField("port", port).Debug("in")
	return nil
}

func (p *PortLogger) Out(port uint64, data []byte) error {
	p.Log.WithFields(logrus.Fields{
		"port": port,
		"data": leValue(data),
	}).Info("out")
	return nil
}
