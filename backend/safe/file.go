package safe

import (
	"bytes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"hash/crc32"
	"os"
	"path/filepath"

	"github.com/google/btree"
	"github.com/pkg/errors"
	"golang.org/x/crypto/chacha20poly1305"
)

// Data file layout:
//
//	magic  [8]byte
//	flags  byte      fileEncrypted when the body is sealed
//	length u64 BE    body length
//	body   [length]  entries, or nonce|sealed entries when encrypted
//	crc    u32 BE    CRC-32 (IEEE) of body
//
// Entries are klen u32 BE | vlen u32 BE | key | value, in key order.
var fileMagic = [8]byte{'G', 'K', 'V', 'S', 'A', 'F', 'E', 1}

const (
	fileEncrypted byte = 1
	headerSize         = 8 + 1 + 8
	trailerSize        = 4
	entryOverhead      = 8
)

var errCorrupt = errors.New("data file is corrupted")

type item struct {
	key   []byte
	value []byte
}

func lessItem(a, b item) bool {
	return bytes.Compare(a.key, b.key) < 0
}

func newTree() *btree.BTreeG[item] {
	return btree.NewG[item](32, lessItem)
}

func newAEAD(key []byte) (cipher.AEAD, error) {
	if len(key) == 0 {
		return nil, nil
	}
	return chacha20poly1305.NewX(key)
}

func encodeFile(tree *btree.BTreeG[item], size uint64, aead cipher.AEAD) ([]byte, error) {
	body := make([]byte, 0, size)
	var hdr [entryOverhead]byte
	tree.Ascend(func(it item) bool {
		binary.BigEndian.PutUint32(hdr[:4], uint32(len(it.key)))
		binary.BigEndian.PutUint32(hdr[4:], uint32(len(it.value)))
		body = append(body, hdr[:]...)
		body = append(body, it.key...)
		body = append(body, it.value...)
		return true
	})

	var flags byte
	if aead != nil {
		nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(body)+aead.Overhead())
		if _, err := rand.Read(nonce); err != nil {
			return nil, errors.Wrap(err, "generate nonce")
		}
		body = aead.Seal(nonce, nonce, body, fileMagic[:])
		flags |= fileEncrypted
	}

	out := make([]byte, 0, headerSize+len(body)+trailerSize)
	out = append(out, fileMagic[:]...)
	out = append(out, flags)
	out = binary.BigEndian.AppendUint64(out, uint64(len(body)))
	out = append(out, body...)
	out = binary.BigEndian.AppendUint32(out, crc32.ChecksumIEEE(body))
	return out, nil
}

// decodeFile parses a data file into a tree and its accounted size.
func decodeFile(data []byte, aead cipher.AEAD) (*btree.BTreeG[item], uint64, error) {
	if len(data) < headerSize+trailerSize || !bytes.Equal(data[:8], fileMagic[:]) {
		return nil, 0, errCorrupt
	}
	flags := data[8]
	n := binary.BigEndian.Uint64(data[9:headerSize])
	if uint64(len(data)) != headerSize+n+trailerSize {
		return nil, 0, errCorrupt
	}
	body := data[headerSize : headerSize+n]
	if crc32.ChecksumIEEE(body) != binary.BigEndian.Uint32(data[headerSize+n:]) {
		return nil, 0, errCorrupt
	}

	switch {
	case flags&fileEncrypted != 0 && aead == nil:
		return nil, 0, errors.New("data file is encrypted but no key was given")
	case flags&fileEncrypted == 0 && aead != nil:
		return nil, 0, errors.New("data file is not encrypted")
	case aead != nil:
		ns := aead.NonceSize()
		if len(body) < ns {
			return nil, 0, errCorrupt
		}
		plain, err := aead.Open(nil, body[:ns], body[ns:], fileMagic[:])
		if err != nil {
			return nil, 0, errors.Wrap(errCorrupt, err.Error())
		}
		body = plain
	}

	tree := newTree()
	var size uint64
	for len(body) > 0 {
		if len(body) < entryOverhead {
			return nil, 0, errCorrupt
		}
		kl := uint64(binary.BigEndian.Uint32(body[:4]))
		vl := uint64(binary.BigEndian.Uint32(body[4:8]))
		if uint64(len(body)) < entryOverhead+kl+vl {
			return nil, 0, errCorrupt
		}
		k := body[entryOverhead : entryOverhead+kl]
		v := body[entryOverhead+kl : entryOverhead+kl+vl]
		tree.ReplaceOrInsert(item{key: k, value: v})
		size += entryOverhead + kl + vl
		body = body[entryOverhead+kl+vl:]
	}
	return tree, size, nil
}

// writeFile replaces path atomically.
func writeFile(path string, data []byte, sync bool) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if sync {
		if err := f.Sync(); err != nil {
			f.Close()
			return err
		}
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		return err
	}
	if !sync {
		return nil
	}
	dir, err := os.Open(filepath.Dir(path))
	if err != nil {
		return err
	}
	defer dir.Close()
	return dir.Sync()
}
