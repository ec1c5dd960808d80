package ordered

import "errors"

// Duplicate-sorted databases store every (key, value) pair as one raw key:
//
//	escape(key) 0x00 0x01 value
//
// escape replaces each 0x00 in key with 0x00 0xFF. The terminator sorts
// below any escaped byte, so raw order is key order first and value order
// within one key. The raw value is empty.

const (
	escByte  = 0x00
	escZero  = 0xff
	termByte = 0x01
)

var errBadComposite = errors.New("malformed duplicate key")

// runPrefix returns the raw prefix shared by every pair stored under key.
func runPrefix(key []byte) []byte {
	out := make([]byte, 0, len(key)+2)
	for _, b := range key {
		if b == escByte {
			out = append(out, escByte, escZero)
			continue
		}
		out = append(out, b)
	}
	return append(out, escByte, termByte)
}

// composite returns the raw key of one (key, value) pair.
func composite(key, value []byte) []byte {
	return append(runPrefix(key), value...)
}

// afterRun returns the smallest raw key sorting after every pair of key.
func afterRun(key []byte) []byte {
	p := runPrefix(key)
	p[len(p)-1] = termByte + 1
	return p
}

// splitComposite decodes a raw duplicate key. The returned key is a fresh
// slice; value aliases raw.
func splitComposite(raw []byte) (key, value []byte, err error) {
	key = make([]byte, 0, len(raw))
	for i := 0; i < len(raw); i++ {
		if raw[i] != escByte {
			key = append(key, raw[i])
			continue
		}
		if i+1 >= len(raw) {
			return nil, nil, errBadComposite
		}
		switch raw[i+1] {
		case escZero:
			key = append(key, escByte)
			i++
		case termByte:
			return key, raw[i+2:], nil
		default:
			return nil, nil, errBadComposite
		}
	}
	return nil, nil, errBadComposite
}
