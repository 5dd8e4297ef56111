package driver

import "errors"

// Shared error sentinels. Transport failures are not mapped onto these;
// they propagate as wrapped bus errors.
var (
	// ErrInvalidArgument reports a value outside a fixed enumeration or
	// numeric domain. This is a caller bug, not a transient condition.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrOutOfRange reports a voltage/register conversion outside the
	// representable domain.
	ErrOutOfRange = errors.New("out of range")

	// ErrTimeout reports that a bounded wait expired.
	ErrTimeout = errors.New("timeout")

	// ErrNotCalibrated reports a scaled read before calibration.
	ErrNotCalibrated = errors.New("not calibrated")
)
