package gkv

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Tag identifies the variant of a Value and is the first byte of its
// encoding.
type Tag uint8

const (
	TagBool    Tag = 1
	TagU64     Tag = 2
	TagI64     Tag = 3
	TagF64     Tag = 4
	TagInstant Tag = 5
	TagUUID    Tag = 6
	TagStr     Tag = 7
	TagJSON    Tag = 8
	TagBlob    Tag = 9
	TagU32     Tag = 10
	TagI32     Tag = 11
)

var tagNames = [...]string{
	TagBool:    "bool",
	TagU64:     "u64",
	TagI64:     "i64",
	TagF64:     "f64",
	TagInstant: "instant",
	TagUUID:    "uuid",
	TagStr:     "str",
	TagJSON:    "json",
	TagBlob:    "blob",
	TagU32:     "u32",
	TagI32:     "i32",
}

func (t Tag) String() string {
	if t.valid() {
		return tagNames[t]
	}
	return fmt.Sprintf("tag(%d)", uint8(t))
}

func (t Tag) valid() bool {
	return t >= TagBool && t <= TagI32
}

// MaxValueSize is the largest encoded value, the MDBX data size limit.
const MaxValueSize = 0x7fff0000

// lenPrefix is the width of the length prefix of Str, JSON and Blob.
const lenPrefix = 8

// Value is an immutable tagged scalar or blob. The zero Value has no tag
// and cannot be encoded.
type Value struct {
	tag Tag
	num uint64
	id  uuid.UUID
	buf string
}

func BoolValue(b bool) Value {
	if b {
		return Value{tag: TagBool, num: 1}
	}
	return Value{tag: TagBool}
}

func U64Value(v uint64) Value  { return Value{tag: TagU64, num: v} }
func I64Value(v int64) Value   { return Value{tag: TagI64, num: uint64(v)} }
func F64Value(v float64) Value { return Value{tag: TagF64, num: math.Float64bits(v)} }
func U32Value(v uint32) Value  { return Value{tag: TagU32, num: uint64(v)} }
func I32Value(v int32) Value   { return Value{tag: TagI32, num: uint64(uint32(v))} }

// InstantValue stores t with nanosecond precision as Unix time.
func InstantValue(t time.Time) Value {
	return Value{tag: TagInstant, num: uint64(t.UnixNano())}
}

func UUIDValue(id uuid.UUID) Value { return Value{tag: TagUUID, id: id} }

// StrValue, JSONValue and BlobValue copy their input. Str and JSON must be
// valid UTF-8 to encode.
func StrValue(s string) Value  { return Value{tag: TagStr, buf: s} }
func JSONValue(s string) Value { return Value{tag: TagJSON, buf: s} }
func BlobValue(b []byte) Value { return Value{tag: TagBlob, buf: string(b)} }

func (v Value) Tag() Tag { return v.tag }

func (v Value) Bool() (bool, bool)   { return v.num == 1, v.tag == TagBool }
func (v Value) U64() (uint64, bool)  { return v.num, v.tag == TagU64 }
func (v Value) I64() (int64, bool)   { return int64(v.num), v.tag == TagI64 }
func (v Value) U32() (uint32, bool)  { return uint32(v.num), v.tag == TagU32 }
func (v Value) I32() (int32, bool)   { return int32(uint32(v.num)), v.tag == TagI32 }
func (v Value) Str() (string, bool)  { return v.buf, v.tag == TagStr }
func (v Value) JSON() (string, bool) { return v.buf, v.tag == TagJSON }

func (v Value) F64() (float64, bool) {
	return math.Float64frombits(v.num), v.tag == TagF64
}

func (v Value) Instant() (time.Time, bool) {
	if v.tag != TagInstant {
		return time.Time{}, false
	}
	return time.Unix(0, int64(v.num)).UTC(), true
}

func (v Value) UUID() (uuid.UUID, bool) { return v.id, v.tag == TagUUID }

// Blob returns a copy of the blob payload.
func (v Value) Blob() ([]byte, bool) {
	if v.tag != TagBlob {
		return nil, false
	}
	return []byte(v.buf), true
}

// Equal reports whether v and o have the same encoding.
func (v Value) Equal(o Value) bool {
	return v == o
}

func (v Value) String() string {
	switch v.tag {
	case TagBool:
		return strconv.FormatBool(v.num == 1)
	case TagU64, TagU32:
		return strconv.FormatUint(v.num, 10)
	case TagI64:
		return strconv.FormatInt(int64(v.num), 10)
	case TagI32:
		return strconv.FormatInt(int64(int32(uint32(v.num))), 10)
	case TagF64:
		return strconv.FormatFloat(math.Float64frombits(v.num), 'g', -1, 64)
	case TagInstant:
		t, _ := v.Instant()
		return t.Format(time.RFC3339Nano)
	case TagUUID:
		return v.id.String()
	case TagStr, TagJSON:
		return v.buf
	case TagBlob:
		return fmt.Sprintf("%x", v.buf)
	}
	return "<invalid>"
}

// fixedWidth returns the payload width of fixed-size tags, or -1 for
// length-prefixed ones.
func fixedWidth(t Tag) int {
	switch t {
	case TagBool:
		return 1
	case TagU32, TagI32:
		return 4
	case TagU64, TagI64, TagF64, TagInstant:
		return 8
	case TagUUID:
		return 16
	}
	return -1
}

// Encode returns the wire form of v: the tag byte followed by a
// little-endian scalar, 16 raw bytes for a UUID, or a u64 little-endian
// length and the payload.
func (v Value) Encode() ([]byte, error) {
	if !v.tag.valid() {
		return nil, &EncodingError{Op: "encode", Tag: v.tag, Err: errUnknownTag}
	}
	switch v.tag {
	case TagStr, TagJSON:
		if !utf8.ValidString(v.buf) {
			return nil, &EncodingError{Op: "encode", Tag: v.tag, Err: errInvalidUTF8}
		}
	}

	if w := fixedWidth(v.tag); w >= 0 {
		b := make([]byte, 1+w)
		b[0] = byte(v.tag)
		switch v.tag {
		case TagBool:
			b[1] = byte(v.num)
		case TagU32, TagI32:
			binary.LittleEndian.PutUint32(b[1:], uint32(v.num))
		case TagUUID:
			copy(b[1:], v.id[:])
		default:
			binary.LittleEndian.PutUint64(b[1:], v.num)
		}
		return b, nil
	}

	size := 1 + lenPrefix + len(v.buf)
	if size > MaxValueSize {
		return nil, &EncodingError{Op: "encode", Tag: v.tag, Want: MaxValueSize, Got: size, Err: errTooLarge}
	}
	b := make([]byte, size)
	b[0] = byte(v.tag)
	binary.LittleEndian.PutUint64(b[1:], uint64(len(v.buf)))
	copy(b[1+lenPrefix:], v.buf)
	return b, nil
}

// MustEncode is Encode for values known to be valid. It panics on error.
func (v Value) MustEncode() []byte {
	b, err := v.Encode()
	if err != nil {
		panic(err)
	}
	return b
}

// DecodeValue decodes exactly one value from b.
func DecodeValue(b []byte) (Value, error) {
	v, n, err := decodePrefix(b)
	if err != nil {
		return Value{}, err
	}
	if n != len(b) {
		return Value{}, &EncodingError{Op: "decode", Tag: v.tag, Want: n, Got: len(b), Err: errTrailing}
	}
	return v, nil
}

// decodePrefix decodes the value at the start of b and returns how many
// bytes it occupies. The encoding is prefix-free, so the rest of b is not
// inspected.
func decodePrefix(b []byte) (Value, int, error) {
	if len(b) == 0 {
		return Value{}, 0, &EncodingError{Op: "decode", Want: 1, Got: 0, Err: errShort}
	}
	t := Tag(b[0])
	if !t.valid() {
		return Value{}, 0, &EncodingError{Op: "decode", Tag: t, Err: errUnknownTag}
	}
	p := b[1:]

	if w := fixedWidth(t); w >= 0 {
		if len(p) < w {
			return Value{}, 0, &EncodingError{Op: "decode", Tag: t, Want: 1 + w, Got: len(b), Err: errShort}
		}
		v := Value{tag: t}
		switch t {
		case TagBool:
			if p[0] > 1 {
				return Value{}, 0, &EncodingError{Op: "decode", Tag: t, Err: errInvalidBool}
			}
			v.num = uint64(p[0])
		case TagU32, TagI32:
			v.num = uint64(binary.LittleEndian.Uint32(p))
		case TagUUID:
			copy(v.id[:], p[:16])
		default:
			v.num = binary.LittleEndian.Uint64(p)
		}
		return v, 1 + w, nil
	}

	if len(p) < lenPrefix {
		return Value{}, 0, &EncodingError{Op: "decode", Tag: t, Want: 1 + lenPrefix, Got: len(b), Err: errShort}
	}
	n := binary.LittleEndian.Uint64(p)
	if n > MaxValueSize-1-lenPrefix {
		return Value{}, 0, &EncodingError{Op: "decode", Tag: t, Err: errTooLarge}
	}
	end := 1 + lenPrefix + int(n)
	if len(b) < end {
		return Value{}, 0, &EncodingError{Op: "decode", Tag: t, Want: end, Got: len(b), Err: errShort}
	}
	payload := b[1+lenPrefix : end]
	if (t == TagStr || t == TagJSON) && !utf8.Valid(payload) {
		return Value{}, 0, &EncodingError{Op: "decode", Tag: t, Err: errInvalidUTF8}
	}
	return Value{tag: t, buf: string(payload)}, end, nil
}

// copyOrdinalSize is the width of the ordinal appended to an exact
// duplicate stored with WriteKeepCopies.
const copyOrdinalSize = 8

// decodeStored decodes a value read from a duplicate-sorted store, where
// a kept copy carries a trailing ordinal.
func decodeStored(b []byte) (Value, error) {
	v, n, err := decodePrefix(b)
	if err != nil {
		return Value{}, err
	}
	if rest := len(b) - n; rest != 0 && rest != copyOrdinalSize {
		return Value{}, &EncodingError{Op: "decode", Tag: v.tag, Want: n, Got: len(b), Err: errTrailing}
	}
	return v, nil
}

// copyOrdinal returns the ordinal of a stored copy of enc, 0 for the
// original, and false when raw is not an occurrence of enc.
func copyOrdinal(raw, enc []byte) (uint64, bool) {
	if !bytes.HasPrefix(raw, enc) {
		return 0, false
	}
	switch len(raw) - len(enc) {
	case 0:
		return 0, true
	case copyOrdinalSize:
		return binary.BigEndian.Uint64(raw[len(enc):]), true
	}
	return 0, false
}

func appendOrdinal(enc []byte, ord uint64) []byte {
	out := make([]byte, len(enc), len(enc)+copyOrdinalSize)
	copy(out, enc)
	return binary.BigEndian.AppendUint64(out, ord)
}
