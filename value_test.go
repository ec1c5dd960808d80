package gkv

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"math/bits"
	"math/rand"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestEncodeKeyOrder(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	nums := []uint32{0, 1, 255, 256, 65535, 65536, math.MaxUint32 - 1, math.MaxUint32}
	for i := 0; i < 200; i++ {
		nums = append(nums, rng.Uint32())
	}
	sort.Slice(nums, func(i, j int) bool { return nums[i] < nums[j] })

	for i, n := range nums {
		enc := EncodeKey(n)
		if len(enc) != 4 {
			t.Fatalf("EncodeKey(%d) has width %d", n, len(enc))
		}
		got, err := DecodeKey[uint32](enc)
		if err != nil {
			t.Fatalf("DecodeKey failed: %v", err)
		}
		if got != n {
			t.Fatalf("DecodeKey(EncodeKey(%d)) = %d", n, got)
		}
		if i > 0 && nums[i-1] < n && bytes.Compare(EncodeKey(nums[i-1]), enc) >= 0 {
			t.Fatalf("EncodeKey(%d) does not sort before EncodeKey(%d)", nums[i-1], n)
		}
	}
}

func TestKeyWidths(t *testing.T) {
	if w := len(EncodeKey(uint8(1))); w != 1 {
		t.Errorf("uint8 width = %d", w)
	}
	if w := len(EncodeKey(uint16(1))); w != 2 {
		t.Errorf("uint16 width = %d", w)
	}
	if w := len(EncodeKey(uint32(1))); w != 4 {
		t.Errorf("uint32 width = %d", w)
	}
	if w := len(EncodeKey(uint64(1))); w != 8 {
		t.Errorf("uint64 width = %d", w)
	}
	type height uint16
	if w := len(EncodeKey(height(1))); w != 2 {
		t.Errorf("named uint16 width = %d", w)
	}
	if w, want := len(EncodeKey(uint(1))), bits.UintSize/8; w != want {
		t.Errorf("uint width = %d, want %d", w, want)
	}
	if got := EncodeKey(uint64(0x0102030405060708)); !bytes.Equal(got, []byte{1, 2, 3, 4, 5, 6, 7, 8}) {
		t.Errorf("EncodeKey is not big-endian: %x", got)
	}
}

func TestDecodeKeyWrongWidth(t *testing.T) {
	_, err := DecodeKey[uint32]([]byte{1, 2, 3})
	var enc *EncodingError
	if !errors.As(err, &enc) {
		t.Fatalf("expected *EncodingError, got %v", err)
	}
	if enc.Want != 4 || enc.Got != 3 {
		t.Errorf("EncodingError = %+v", enc)
	}
	if KindOf(err) != KindEncoding {
		t.Errorf("KindOf = %v", KindOf(err))
	}
}

func sampleValues() []Value {
	return []Value{
		BoolValue(true),
		BoolValue(false),
		U64Value(math.MaxUint64),
		I64Value(-42),
		F64Value(3.25),
		F64Value(math.Inf(-1)),
		InstantValue(time.Date(2024, 2, 29, 12, 0, 0, 123, time.UTC)),
		UUIDValue(uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")),
		StrValue(""),
		StrValue("hello, 世界"),
		JSONValue(`{"a":[1,2]}`),
		BlobValue([]byte{0, 1, 2, 0xff}),
		U32Value(7),
		I32Value(math.MinInt32),
	}
}

func TestValueRoundTrip(t *testing.T) {
	for _, v := range sampleValues() {
		enc, err := v.Encode()
		if err != nil {
			t.Fatalf("Encode(%v) failed: %v", v, err)
		}
		if Tag(enc[0]) != v.Tag() {
			t.Errorf("%v: leading byte %d, want tag %d", v, enc[0], v.Tag())
		}
		got, err := DecodeValue(enc)
		if err != nil {
			t.Fatalf("DecodeValue(%x) failed: %v", enc, err)
		}
		if !got.Equal(v) {
			t.Errorf("round trip of %s %v = %v", v.Tag(), v, got)
		}
	}
}

func TestValueLayout(t *testing.T) {
	enc := StrValue("hi").MustEncode()
	want := []byte{byte(TagStr), 2, 0, 0, 0, 0, 0, 0, 0, 'h', 'i'}
	if !bytes.Equal(enc, want) {
		t.Errorf("Str layout = %x, want %x", enc, want)
	}

	enc = I32Value(-2).MustEncode()
	if enc[0] != byte(TagI32) || int32(binary.LittleEndian.Uint32(enc[1:])) != -2 || len(enc) != 5 {
		t.Errorf("I32 layout = %x", enc)
	}
}

func TestValueAccessors(t *testing.T) {
	v := StrValue("x")
	if s, ok := v.Str(); !ok || s != "x" {
		t.Errorf("Str() = %q, %v", s, ok)
	}
	if _, ok := v.U64(); ok {
		t.Error("U64() reported ok on a string value")
	}

	b := []byte("abc")
	blob := BlobValue(b)
	b[0] = 'z'
	if got, _ := blob.Blob(); string(got) != "abc" {
		t.Errorf("BlobValue did not copy its input: %q", got)
	}

	ts := time.Unix(1700000000, 5).UTC()
	if got, ok := InstantValue(ts).Instant(); !ok || !got.Equal(ts) {
		t.Errorf("Instant() = %v, want %v", got, ts)
	}
}

func TestDecodeErrors(t *testing.T) {
	long := StrValue("abc").MustEncode()
	for _, tc := range []struct {
		name string
		in   []byte
		want error
	}{
		{"empty", nil, errShort},
		{"unknown tag", []byte{0x63, 0}, errUnknownTag},
		{"zero tag", []byte{0}, errUnknownTag},
		{"short u64", []byte{byte(TagU64), 1, 2}, errShort},
		{"bad bool", []byte{byte(TagBool), 2}, errInvalidBool},
		{"short str", long[:len(long)-1], errShort},
		{"trailing", append(U32Value(1).MustEncode(), 0), errTrailing},
		{"invalid utf8", []byte{byte(TagStr), 1, 0, 0, 0, 0, 0, 0, 0, 0xff}, errInvalidUTF8},
		{"huge length", []byte{byte(TagBlob), 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff}, errTooLarge},
	} {
		_, err := DecodeValue(tc.in)
		if !errors.Is(err, tc.want) {
			t.Errorf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
		if !IsEncoding(err) {
			t.Errorf("%s: %v is not an encoding error", tc.name, err)
		}
	}
}

func TestEncodeErrors(t *testing.T) {
	if _, err := (Value{}).Encode(); !errors.Is(err, errUnknownTag) {
		t.Errorf("zero Value: expected errUnknownTag, got %v", err)
	}
	if _, err := StrValue("\xff").Encode(); !errors.Is(err, errInvalidUTF8) {
		t.Errorf("invalid string: expected errInvalidUTF8, got %v", err)
	}
}

func TestStoredCopies(t *testing.T) {
	enc := StrValue("v").MustEncode()
	copy2 := appendOrdinal(enc, 2)

	v, err := decodeStored(copy2)
	if err != nil {
		t.Fatalf("decodeStored failed: %v", err)
	}
	if s, _ := v.Str(); s != "v" {
		t.Errorf("decodeStored = %v", v)
	}
	if _, err := DecodeValue(copy2); !errors.Is(err, errTrailing) {
		t.Errorf("DecodeValue accepted a stored copy: %v", err)
	}
	if ord, ok := copyOrdinal(copy2, enc); !ok || ord != 2 {
		t.Errorf("copyOrdinal = %d, %v", ord, ok)
	}
	if _, ok := copyOrdinal(StrValue("w").MustEncode(), enc); ok {
		t.Error("copyOrdinal matched a different value")
	}

	// A copy sorts between its original and the next larger value.
	next := StrValue("w").MustEncode()
	if bytes.Compare(enc, copy2) >= 0 || bytes.Compare(copy2, next) >= 0 {
		t.Error("stored copy is out of order")
	}
}
