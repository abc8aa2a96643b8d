package machine

import (
	"errors"
	"fmt"
)

var (
	ErrDeviceUnavailable    = errors.New("virtualization device unavailable")
	ErrUnsupportedVersion   = errors.New("unsupported hypervisor api version")
	ErrVMCreation           = errors.New("vm creation failed")
	ErrOutOfMemory          = errors.New("guest memory mapping failed")
	ErrMemoryRegistration   = errors.New("guest memory registration failed")
	ErrVCPUCreation         = errors.New("vcpu creation failed")
	ErrRunPageMap           = errors.New("run page mapping failed")
	ErrRegisterAccess       = errors.New("register access failed")
	ErrResume               = errors.New("vcpu resume failed")
	ErrImageLoad            = errors.New("guest image load failed")
	ErrNotReset             = errors.New("vcpu resumed before reset")
	ErrResourcesOutstanding = errors.New("resources still outstanding")
	ErrClosed               = errors.New("resource already closed")
	ErrOutOfRange           = errors.New("guest address out of range")
	ErrBadCPU               = errors.New("bad cpu number")
	ErrBadRunPage           = errors.New("malformed run page")
	ErrDataLenInvalid       = errors.New("invalid data size on port")
	ErrUnexpectedExitReason = errors.New("unexpected kvm exit reason")
)

// hostError reports a failed host call as both the sentinel kind and the
// underlying errno.
func hostError(kind error, op string, err error) error {
	return fmt.Errorf("%s: %w", op, errors.Join(kind, err))
}
