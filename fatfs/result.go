package fatfs

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/diskfs/go-diskfs/filesystem"

	"github.com/ardnew/mscfs/diskio"
)

// Result is a filesystem operation result, numbered like FatFs FRESULT so
// the codes printed by the shell match what users of FatFs expect.
type Result uint8

// Result values.
const (
	OK               Result = iota // Succeeded
	DiskErr                        // Low level disk I/O error
	IntErr                         // Internal error
	NotReady                       // Physical drive cannot work
	NoFile                         // File not found
	NoPath                         // Path not found
	InvalidName                    // Path name format is invalid
	Denied                         // Access denied or directory full
	Exist                          // Object already exists
	InvalidObject                  // Object is invalid
	WriteProtected                 // Drive is write protected
	InvalidDrive                   // Logical drive number is invalid
	NotEnabled                     // Volume has no work area
	NoFilesystem                   // No valid FAT volume
	MkfsAborted                    // Format aborted
	Timeout                        // Could not get access in time
	Locked                         // Rejected by sharing policy
	NotEnoughCore                  // Buffer could not be allocated
	TooManyOpenFiles               // Too many open files
	InvalidParameter               // Given parameter is invalid
	Unsupported                    // Operation is not supported
)

var resultNames = [...]string{
	OK:               "ok",
	DiskErr:          "disk error",
	IntErr:           "internal error",
	NotReady:         "not ready",
	NoFile:           "no file",
	NoPath:           "no path",
	InvalidName:      "invalid name",
	Denied:           "denied",
	Exist:            "exists",
	InvalidObject:    "invalid object",
	WriteProtected:   "write protected",
	InvalidDrive:     "invalid drive",
	NotEnabled:       "not enabled",
	NoFilesystem:     "no filesystem",
	MkfsAborted:      "format aborted",
	Timeout:          "timeout",
	Locked:           "locked",
	NotEnoughCore:    "not enough memory",
	TooManyOpenFiles: "too many open files",
	InvalidParameter: "invalid parameter",
	Unsupported:      "unsupported",
}

// String returns the result name.
func (r Result) String() string {
	if int(r) < len(resultNames) {
		return resultNames[r]
	}
	return fmt.Sprintf("result(%d)", uint8(r))
}

// Error is a failed filesystem operation.
type Error struct {
	Op   string
	Path string
	Code Result
	Err  error // underlying cause, may be nil
}

func (e *Error) Error() string {
	msg := "fatfs: " + e.Op
	if e.Path != "" {
		msg += " " + e.Path
	}
	msg += ": " + e.Code.String()
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error with the same code, so callers can test
// errors.Is(err, &fatfs.Error{Code: fatfs.NoFile}).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Op == "" && t.Path == "" && t.Code == e.Code
}

func newError(op, path string, code Result, err error) *Error {
	return &Error{Op: op, Path: path, Code: code, Err: err}
}

// Code returns the result code for err. Errors from other layers are
// mapped to the closest code.
func Code(err error) Result {
	if err == nil {
		return OK
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	switch {
	case errors.Is(err, diskio.ErrNotReady):
		return NotReady
	case errors.Is(err, diskio.ErrWriteProtected):
		return WriteProtected
	case errors.Is(err, diskio.ErrParameter):
		return InvalidParameter
	case errors.Is(err, diskio.ErrIO):
		return DiskErr
	case errors.Is(err, fs.ErrNotExist):
		return NoFile
	case errors.Is(err, fs.ErrExist):
		return Exist
	case errors.Is(err, fs.ErrPermission):
		return Denied
	case errors.Is(err, fs.ErrInvalid):
		return InvalidParameter
	case errors.Is(err, filesystem.ErrReadonlyFilesystem):
		return WriteProtected
	case errors.Is(err, filesystem.ErrNotSupported),
		errors.Is(err, filesystem.ErrNotImplemented):
		return Unsupported
	}
	return IntErr
}

// wrap converts err from a lower layer into an *Error for op on path.
func wrap(op, path string, err error) error {
	if err == nil {
		return nil
	}
	var fe *Error
	if errors.As(err, &fe) {
		return err
	}
	code := Code(err)
	if code == IntErr {
		code = DiskErr
	}
	return newError(op, path, code, err)
}
