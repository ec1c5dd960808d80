package ordered

import (
	"bytes"
	"sort"
	"testing"
)

// sliceSource is a Source over a sorted key list.
type sliceSource struct {
	keys [][]byte
	pos  int
}

func newSliceSource(keys ...string) *sliceSource {
	s := &sliceSource{pos: -1}
	for _, k := range keys {
		s.keys = append(s.keys, []byte(k))
	}
	sort.Slice(s.keys, func(i, j int) bool { return bytes.Compare(s.keys[i], s.keys[j]) < 0 })
	return s
}

func (s *sliceSource) at(i int) bool {
	if i < 0 || i >= len(s.keys) {
		s.pos = -1
		return false
	}
	s.pos = i
	return true
}

func (s *sliceSource) First() bool { return s.at(0) }
func (s *sliceSource) Last() bool  { return s.at(len(s.keys) - 1) }
func (s *sliceSource) Seek(key []byte) bool {
	return s.at(sort.Search(len(s.keys), func(i int) bool { return bytes.Compare(s.keys[i], key) >= 0 }))
}
func (s *sliceSource) Next() bool    { return s.pos >= 0 && s.at(s.pos+1) }
func (s *sliceSource) Prev() bool    { return s.pos >= 0 && s.at(s.pos-1) }
func (s *sliceSource) Key() []byte   { return s.keys[s.pos] }
func (s *sliceSource) Value() []byte { return nil }
func (s *sliceSource) Err() error    { return nil }
func (s *sliceSource) Close() error  { return nil }

func walk(src Source, forward bool) []string {
	var out []string
	ok := src.First()
	if !forward {
		ok = src.Last()
	}
	for ok {
		out = append(out, string(src.Key()))
		if forward {
			ok = src.Next()
		} else {
			ok = src.Prev()
		}
	}
	return out
}

func TestPrefixed(t *testing.T) {
	src := newSliceSource("a", "b1", "b2", "b\xff", "c")
	p := Prefixed(src, []byte("b"))

	if got := walk(p, true); len(got) != 3 || got[0] != "1" || got[2] != "\xff" {
		t.Fatalf("forward = %q", got)
	}
	if got := walk(p, false); len(got) != 3 || got[0] != "\xff" || got[2] != "1" {
		t.Fatalf("backward = %q", got)
	}
	if !p.Seek([]byte("2")) || string(p.Key()) != "2" {
		t.Fatalf("Seek(2) landed on %q", p.Key())
	}
	if p.Seek([]byte("\xff\x00")) {
		t.Fatalf("Seek past the prefix stayed valid on %q", p.Key())
	}
}

func TestPrefixedAllOnes(t *testing.T) {
	src := newSliceSource("\x00", "\xff\xff", "\xff\xff\x01")
	p := Prefixed(src, []byte{0xff, 0xff})
	if got := walk(p, false); len(got) != 2 || got[0] != "\x01" || got[1] != "" {
		t.Fatalf("backward = %q", got)
	}
}

func TestPrefixedEmptyRange(t *testing.T) {
	p := Prefixed(newSliceSource("a", "c"), []byte("b"))
	if p.First() || p.Last() {
		t.Fatal("empty prefix range reported an entry")
	}
}

func TestSuccessor(t *testing.T) {
	for _, tc := range []struct{ in, want []byte }{
		{[]byte{0, 0, 0, 1}, []byte{0, 0, 0, 2}},
		{[]byte{0, 0, 1, 0xff}, []byte{0, 0, 2}},
		{[]byte{0xff, 0xff}, nil},
	} {
		if got := successor(tc.in); !bytes.Equal(got, tc.want) {
			t.Errorf("successor(%x) = %x, want %x", tc.in, got, tc.want)
		}
	}
}
