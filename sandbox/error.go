package sandbox

import "errors"

var (
	ErrExist         = errors.New("file already exists")
	ErrInvalidConfig = errors.New("invalid bundle configuration")
)
