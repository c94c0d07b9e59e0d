package va

import (
	"fmt"

	"github.com/pkg/errors"
)

// Status is a VAStatus return code.
type Status int32

// VAStatus codes.
const (
	StatusSuccess                    Status = 0x00
	StatusErrorOperationFailed       Status = 0x01
	StatusErrorAllocationFailed      Status = 0x02
	StatusErrorInvalidDisplay        Status = 0x03
	StatusErrorInvalidConfig         Status = 0x04
	StatusErrorInvalidContext        Status = 0x05
	StatusErrorInvalidSurface        Status = 0x06
	StatusErrorInvalidBuffer         Status = 0x07
	StatusErrorInvalidImage          Status = 0x08
	StatusErrorInvalidSubpicture     Status = 0x09
	StatusErrorAttrNotSupported      Status = 0x0a
	StatusErrorMaxNumExceeded        Status = 0x0b
	StatusErrorUnsupportedProfile    Status = 0x0c
	StatusErrorUnsupportedEntry      Status = 0x0d
	StatusErrorUnsupportedRTFormat   Status = 0x0e
	StatusErrorUnsupportedBuffer     Status = 0x0f
	StatusErrorSurfaceBusy           Status = 0x10
	StatusErrorFlagNotSupported      Status = 0x11
	StatusErrorInvalidParameter      Status = 0x12
	StatusErrorResolutionUnsupported Status = 0x13
	StatusErrorUnimplemented         Status = 0x14
	StatusErrorUnknown               Status = -1
)

var statusText = map[Status]string{
	StatusSuccess:                    "success (no error)",
	StatusErrorOperationFailed:       "operation failed",
	StatusErrorAllocationFailed:      "resource allocation failed",
	StatusErrorInvalidDisplay:        "invalid VADisplay",
	StatusErrorInvalidConfig:         "invalid VAConfigID",
	StatusErrorInvalidContext:        "invalid VAContextID",
	StatusErrorInvalidSurface:        "invalid VASurfaceID",
	StatusErrorInvalidBuffer:         "invalid VABufferID",
	StatusErrorInvalidImage:          "invalid VAImageID",
	StatusErrorInvalidSubpicture:     "invalid VASubpictureID",
	StatusErrorAttrNotSupported:      "attribute not supported",
	StatusErrorMaxNumExceeded:        "list argument exceeds maximum number",
	StatusErrorUnsupportedProfile:    "the requested VAProfile is not supported",
	StatusErrorUnsupportedEntry:      "the requested VAEntryPoint is not supported",
	StatusErrorUnsupportedRTFormat:   "the requested RT Format is not supported",
	StatusErrorUnsupportedBuffer:     "the requested VABufferType is not supported",
	StatusErrorSurfaceBusy:           "surface is in use",
	StatusErrorFlagNotSupported:      "flag not supported",
	StatusErrorInvalidParameter:      "invalid parameter",
	StatusErrorResolutionUnsupported: "resolution not supported",
	StatusErrorUnimplemented:         "the requested function is not implemented",
	StatusErrorUnknown:               "unknown libva error",
}

// String returns the libva description of the status.
func (s Status) String() string {
	if text, ok := statusText[s]; ok {
		return text
	}
	return fmt.Sprintf("unknown libva error 0x%x", int32(s))
}

// Error is a failed driver call: the operation name and the status it returned.
type Error struct {
	Op     string
	Status Status
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s failed, sts=%d: %s", e.Op, int32(e.Status), e.Status)
}

// check converts a status into an error carrying the operation name.
func check(op string, st Status) error {
	if st == StatusSuccess {
		return nil
	}
	return errors.WithStack(&Error{Op: op, Status: st})
}

// StatusOf extracts the driver status from an error chain, or StatusSuccess if
// the chain holds no *Error.
func StatusOf(err error) Status {
	var vaErr *Error
	if errors.As(err, &vaErr) {
		return vaErr.Status
	}
	return StatusSuccess
}

// IsOp reports whether err is a driver failure of the named operation.
func IsOp(err error, op string) bool {
	var vaErr *Error
	return errors.As(err, &vaErr) && vaErr.Op == op
}
