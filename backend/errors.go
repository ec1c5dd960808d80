package backend

import (
	"errors"
	"fmt"
)

// Error is a backend error carrying a classification code.
type Error struct {
	Code    ErrorCode
	Message string
	Key     []byte // offending key, if any
	Err     error  // wrapped error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Key != nil {
		msg = fmt.Sprintf("%s (key %x)", msg, e.Key)
	}
	if e.Err != nil {
		return fmt.Sprintf("gkv: %s: %v", msg, e.Err)
	}
	return fmt.Sprintf("gkv: %s", msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error with the same code, so that
// errors.Is(err, backend.NewError(backend.ErrNotFound)) works.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Code == e.Code
	}
	return false
}

// ErrorCode classifies backend errors independently of the engine.
type ErrorCode int

const (
	// Success indicates the operation completed successfully
	Success ErrorCode = 0

	// ErrNotFound indicates the key or key/value pair was not found
	ErrNotFound ErrorCode = -30798

	// ErrKeyExist indicates the key or key/value pair already exists
	ErrKeyExist ErrorCode = -30799

	// ErrCorrupted indicates the on-disk data failed validation
	ErrCorrupted ErrorCode = -30796

	// ErrMapFull indicates the environment map size was reached
	ErrMapFull ErrorCode = -30792

	// ErrDBsFull indicates the environment max databases was reached
	ErrDBsFull ErrorCode = -30791

	// ErrReadersFull indicates the environment max readers was reached
	ErrReadersFull ErrorCode = -30790

	// ErrIncompatible indicates incompatible operation or flags
	ErrIncompatible ErrorCode = -30784

	// ErrBadTxn indicates the transaction is no longer active
	ErrBadTxn ErrorCode = -30782

	// ErrBadValSize indicates an empty or oversized key
	ErrBadValSize ErrorCode = -30781

	// ErrBadDBI indicates the database handle does not belong to this environment
	ErrBadDBI ErrorCode = -30780

	// ErrProblem indicates an engine failure without a more specific code
	ErrProblem ErrorCode = -30779

	// ErrBusy indicates another write transaction is running
	ErrBusy ErrorCode = -30778

	// ErrDatabaseNotFound indicates the named database does not exist
	ErrDatabaseNotFound ErrorCode = -30600

	// ErrBadCursor indicates the cursor was already consumed or closed
	ErrBadCursor ErrorCode = -30601

	// ErrPermissionDenied indicates a write on a read-only environment
	ErrPermissionDenied ErrorCode = 13

	// ErrDirNotFound indicates the environment directory does not exist
	ErrDirNotFound ErrorCode = 2
)

var errorMessages = map[ErrorCode]string{
	Success:             "success",
	ErrNotFound:         "key/data pair not found",
	ErrKeyExist:         "key/data pair already exists",
	ErrCorrupted:        "database is corrupted",
	ErrMapFull:          "environment map size limit reached",
	ErrDBsFull:          "environment max databases limit reached",
	ErrReadersFull:      "environment max readers limit reached",
	ErrIncompatible:     "incompatible operation or flags",
	ErrBadTxn:           "transaction is not active",
	ErrBadValSize:       "invalid key size",
	ErrBadDBI:           "invalid database handle",
	ErrProblem:          "storage engine failure",
	ErrBusy:             "another write transaction is running",
	ErrDatabaseNotFound: "database not found",
	ErrBadCursor:        "cursor already consumed",
	ErrPermissionDenied: "environment is read-only",
	ErrDirNotFound:      "environment directory does not exist",
}

// NewError creates a new Error with the given code.
func NewError(code ErrorCode) *Error {
	msg, ok := errorMessages[code]
	if !ok {
		msg = fmt.Sprintf("unknown error code %d", code)
	}
	return &Error{Code: code, Message: msg}
}

// WrapError creates a new Error wrapping another error.
func WrapError(code ErrorCode, err error) *Error {
	e := NewError(code)
	e.Err = err
	return e
}

// KeyError creates a new Error annotated with the offending key.
func KeyError(code ErrorCode, key []byte) *Error {
	e := NewError(code)
	e.Key = append([]byte{}, key...)
	return e
}

// Code returns the error code from an error, or ErrProblem if it is not a
// backend error.
func Code(err error) ErrorCode {
	if err == nil {
		return Success
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ErrProblem
}

// IsNotFound returns true if the error is ErrNotFound
func IsNotFound(err error) bool {
	return err != nil && Code(err) == ErrNotFound
}

// IsDatabaseNotFound returns true if the error is ErrDatabaseNotFound
func IsDatabaseNotFound(err error) bool {
	return err != nil && Code(err) == ErrDatabaseNotFound
}

// IsKeyExist returns true if the error is ErrKeyExist
func IsKeyExist(err error) bool {
	return err != nil && Code(err) == ErrKeyExist
}

// IsBusy returns true if the error is ErrBusy
func IsBusy(err error) bool {
	return err != nil && Code(err) == ErrBusy
}

// IsMapFull returns true if the error is ErrMapFull
func IsMapFull(err error) bool {
	return err != nil && Code(err) == ErrMapFull
}

// IsCorrupted returns true if the error indicates corrupted storage
func IsCorrupted(err error) bool {
	return err != nil && Code(err) == ErrCorrupted
}
