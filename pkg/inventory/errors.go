package inventory

import "errors"

var (
	ErrDuplicateDevice   = errors.New("device already exists")
	ErrDeviceNotFound    = errors.New("device not found")
	ErrDeviceNameInvalid = errors.New("invalid device name")
	ErrDeviceHostMissing = errors.New("device host is required")
)
