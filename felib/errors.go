package felib

import (
	"errors"
	"fmt"
)

// ErrorCode is a status code returned by the CAEN FELib C API.  Zero is
// success and negative values are errors.  GetChildHandles and
// GetDeviceTree may legally return positive values, which are required
// buffer sizes rather than statuses.
type ErrorCode int

// The closed set of codes used by the library.
const (
	Success                   ErrorCode = 0
	GenericError              ErrorCode = -1
	InvalidParam              ErrorCode = -2
	DeviceAlreadyOpen         ErrorCode = -3
	DeviceNotFound            ErrorCode = -4
	MaxDevicesError           ErrorCode = -5
	CommandError              ErrorCode = -6
	InternalError             ErrorCode = -7
	NotImplemented            ErrorCode = -8
	InvalidHandle             ErrorCode = -9
	DeviceLibraryNotAvailable ErrorCode = -10
	Timeout                   ErrorCode = -11
	Stop                      ErrorCode = -12
	Disabled                  ErrorCode = -13
	BadLibraryVersion         ErrorCode = -14
	CommunicationError        ErrorCode = -15
)

// errNames mirrors what CAEN_FELib_GetErrorName returns for each code so
// errors remain printable when the library cannot be queried.
var errNames = map[ErrorCode]string{
	Success:                   "Success",
	GenericError:              "GenericError",
	InvalidParam:              "InvalidParam",
	DeviceAlreadyOpen:         "DeviceAlreadyOpen",
	DeviceNotFound:            "DeviceNotFound",
	MaxDevicesError:           "MaxDevicesError",
	CommandError:              "CommandError",
	InternalError:             "InternalError",
	NotImplemented:            "NotImplemented",
	InvalidHandle:             "InvalidHandle",
	DeviceLibraryNotAvailable: "DeviceLibraryNotAvailable",
	Timeout:                   "Timeout",
	Stop:                      "Stop",
	Disabled:                  "Disabled",
	BadLibraryVersion:         "BadLibraryVersion",
	CommunicationError:        "CommunicationError",
}

func (e ErrorCode) String() string {
	if s, ok := errNames[e]; ok {
		return s
	}
	return fmt.Sprintf("UnknownErrorCode(%d)", int(e))
}

// APIError is returned when a wrapped C API call fails.  Code is the
// library status, Op the name of the failed entry point, and Desc the
// library's last-error description at the time of failure.
type APIError struct {
	Code ErrorCode
	Op   string
	Desc string
}

func (e APIError) Error() string {
	if e.Desc == "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Code)
	}
	return fmt.Sprintf("%s: %s - %s", e.Op, e.Code, e.Desc)
}

func code(err error) (ErrorCode, bool) {
	var apiErr APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code, true
	}
	return Success, false
}

// IsTimeout reports whether err means no event was ready before the
// deadline.  Read-loop callers should retry on it.
func IsTimeout(err error) bool {
	c, ok := code(err)
	return ok && c == Timeout
}

// IsStop reports whether err means the acquisition terminated normally.
// Read-loop callers should exit their loop on it, not retry.
func IsStop(err error) bool {
	c, ok := code(err)
	return ok && c == Stop
}

// IsInvalidHandle reports whether err indicates an operation on a handle
// that is no longer valid, including nodes of a closed Digitizer.
func IsInvalidHandle(err error) bool {
	c, ok := code(err)
	return ok && c == InvalidHandle
}

// ErrUnsupportedType is generated when a Field declares a scalar type the
// binding cannot represent exactly, including PTRDIFF_T, which has no
// matching Go primitive.
type ErrUnsupportedType struct {
	// Field is the name of the offending field
	Field string

	// Type is the scalar type that was requested
	Type ScalarType
}

func (e ErrUnsupportedType) Error() string {
	return fmt.Sprintf("field %s: scalar type %q is not supported, see felib.ScalarType for known types", e.Field, string(e.Type))
}

// ErrShapeMismatch is generated when a Field's shape does not agree with
// its declared rank, or the rank itself is outside 0..2.
type ErrShapeMismatch struct {
	// Field is the name of the offending field
	Field string

	// Dim is the declared rank
	Dim int

	// Shape is the declared shape
	Shape []int
}

func (e ErrShapeMismatch) Error() string {
	return fmt.Sprintf("field %s: shape %v does not match dim %d (dim must be 0, 1 or 2 with len(shape) == dim and non-negative extents)", e.Field, e.Shape, e.Dim)
}
