package surface

import "github.com/pkg/errors"

var (
	// ErrInvalidArgument marks a contract violation: bad dimensions, unsupported
	// formats, images from different contexts, malformed shapes.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrUnknownSurface is returned when a surface is released to a pool that does
	// not track it under the surface's key.
	ErrUnknownSurface = errors.New("surface is not tracked by this pool")
	// ErrNotInUse is returned when a tracked surface is released twice.
	ErrNotInUse = errors.New("surface is not in use")
	// ErrPoolClosed is returned by Acquire after Close.
	ErrPoolClosed = errors.New("surface pool is closed")
	// ErrClosed is returned when an image or context is used after Close.
	ErrClosed = errors.New("use of closed resource")
)

// invalidArgument wraps ErrInvalidArgument with a formatted reason.
func invalidArgument(format string, args ...interface{}) error {
	return errors.Wrapf(ErrInvalidArgument, format, args...)
}
