package gkv

import "math/bits"

// Unsigned is the set of integer types an integer store can be keyed by.
type Unsigned interface {
	~uint8 | ~uint16 | ~uint32 | ~uint64 | ~uint
}

// keyWidth returns the encoded width of K in bytes.
func keyWidth[K Unsigned]() int {
	return bits.Len64(uint64(^K(0))) / 8
}

// EncodeKey encodes k big-endian at the width of K, so that byte order
// matches numeric order.
func EncodeKey[K Unsigned](k K) []byte {
	w := keyWidth[K]()
	b := make([]byte, w)
	v := uint64(k)
	for i := w - 1; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
	return b
}

// DecodeKey is the inverse of EncodeKey. A buffer of any other width is an
// *EncodingError.
func DecodeKey[K Unsigned](b []byte) (K, error) {
	w := keyWidth[K]()
	if len(b) != w {
		return 0, &EncodingError{Op: "decode", Want: w, Got: len(b), Err: errKeyWidth}
	}
	var v uint64
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	return K(v), nil
}
