package gkv

import (
	"errors"
	"fmt"

	"github.com/Giulio2002/gkv/backend"
)

var (
	errUnknownTag  = errors.New("unknown value tag")
	errShort       = errors.New("buffer too short")
	errTrailing    = errors.New("trailing bytes after value")
	errInvalidUTF8 = errors.New("invalid UTF-8")
	errInvalidBool = errors.New("invalid boolean byte")
	errTooLarge    = errors.New("payload exceeds MaxValueSize")
	errKeyWidth    = errors.New("wrong integer key width")
)

// EncodingError reports a key or value that could not be encoded or
// decoded.
type EncodingError struct {
	Op   string // "encode" or "decode"
	Tag  Tag    // value tag, 0 for keys
	Want int    // expected length, if known
	Got  int    // actual length
	Err  error
}

func (e *EncodingError) Error() string {
	what := "key"
	if e.Tag != 0 {
		what = e.Tag.String() + " value"
	}
	if e.Want > 0 {
		return fmt.Sprintf("gkv: %s %s: %v (want %d bytes, got %d)", e.Op, what, e.Err, e.Want, e.Got)
	}
	return fmt.Sprintf("gkv: %s %s: %v", e.Op, what, e.Err)
}

func (e *EncodingError) Unwrap() error {
	return e.Err
}

// Kind classifies an error returned by this package.
type Kind int

const (
	// KindNone is the kind of a nil error
	KindNone Kind = iota

	// KindNotFound means a key, pair or database was absent where
	// presence was required
	KindNotFound

	// KindEncoding means a key or value failed to encode or decode
	KindEncoding

	// KindBackend is any failure surfaced by the storage engine
	KindBackend

	// KindState means a transaction or cursor was used outside its lifetime
	KindState

	// KindConcurrency means a write transaction was refused because
	// another one is active
	KindConcurrency
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindNotFound:
		return "not found"
	case KindEncoding:
		return "encoding"
	case KindBackend:
		return "backend"
	case KindState:
		return "state"
	case KindConcurrency:
		return "concurrency"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// KindOf maps err onto the error taxonomy.
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}
	var enc *EncodingError
	if errors.As(err, &enc) {
		return KindEncoding
	}
	switch backend.Code(err) {
	case backend.ErrNotFound, backend.ErrDatabaseNotFound:
		return KindNotFound
	case backend.ErrBadTxn, backend.ErrBadCursor:
		return KindState
	case backend.ErrBusy:
		return KindConcurrency
	}
	return KindBackend
}

// IsNotFound returns true if the error is a missing key or pair
func IsNotFound(err error) bool {
	return backend.IsNotFound(err)
}

// IsKeyExist returns true if a write was rejected by WriteNoOverwrite or
// WriteNoDupData
func IsKeyExist(err error) bool {
	return backend.IsKeyExist(err)
}

// IsBusy returns true if another write transaction is active
func IsBusy(err error) bool {
	return backend.IsBusy(err)
}

// IsEncoding returns true if the error is an *EncodingError
func IsEncoding(err error) bool {
	return KindOf(err) == KindEncoding
}
