package ordered

import (
	"bytes"

	"github.com/Giulio2002/gkv/backend"
)

// get returns the value of key, or the smallest duplicate for dupsort tables.
func get(t Table, dup bool, key []byte) ([]byte, error) {
	if !dup {
		v, ok, err := t.Get(key)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, backend.KeyError(backend.ErrNotFound, key)
		}
		return v, nil
	}

	src, err := t.NewSource()
	if err != nil {
		return nil, err
	}
	defer src.Close()
	run := runPrefix(key)
	if !src.Seek(run) || !bytes.HasPrefix(src.Key(), run) {
		if err := src.Err(); err != nil {
			return nil, err
		}
		return nil, backend.KeyError(backend.ErrNotFound, key)
	}
	return append([]byte{}, src.Key()[len(run):]...), nil
}

// hasRun reports whether key has at least one duplicate.
func hasRun(t Table, key []byte) (bool, error) {
	src, err := t.NewSource()
	if err != nil {
		return false, err
	}
	defer src.Close()
	run := runPrefix(key)
	ok := src.Seek(run) && bytes.HasPrefix(src.Key(), run)
	return ok, src.Err()
}

func put(t MutableTable, dup bool, key, value []byte, flags backend.WriteFlags) error {
	if !dup {
		if flags&backend.WriteNoOverwrite != 0 {
			_, ok, err := t.Get(key)
			if err != nil {
				return err
			}
			if ok {
				return backend.KeyError(backend.ErrKeyExist, key)
			}
		}
		return t.Set(key, value)
	}

	if flags&backend.WriteNoOverwrite != 0 {
		ok, err := hasRun(t, key)
		if err != nil {
			return err
		}
		if ok {
			return backend.KeyError(backend.ErrKeyExist, key)
		}
	}
	c := composite(key, value)
	_, ok, err := t.Get(c)
	if err != nil {
		return err
	}
	if ok {
		if flags&backend.WriteNoDupData != 0 {
			return backend.KeyError(backend.ErrKeyExist, key)
		}
		return nil
	}
	return t.Set(c, nil)
}

func del(t MutableTable, dup bool, key, value []byte) error {
	if !dup {
		_, ok, err := t.Get(key)
		if err != nil {
			return err
		}
		if !ok {
			return backend.KeyError(backend.ErrNotFound, key)
		}
		return t.Delete(key)
	}

	if value != nil {
		c := composite(key, value)
		_, ok, err := t.Get(c)
		if err != nil {
			return err
		}
		if !ok {
			return backend.KeyError(backend.ErrNotFound, key)
		}
		return t.Delete(c)
	}

	keys, err := collect(t, runPrefix(key))
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return backend.KeyError(backend.ErrNotFound, key)
	}
	return deleteAll(t, keys)
}

func clearTable(t MutableTable) error {
	keys, err := collect(t, nil)
	if err != nil {
		return err
	}
	return deleteAll(t, keys)
}

// collect copies every raw key starting with prefix. Deletion happens after
// the scan because engine iterators may not tolerate concurrent writes.
func collect(t Table, prefix []byte) ([][]byte, error) {
	src, err := t.NewSource()
	if err != nil {
		return nil, err
	}
	defer src.Close()

	var keys [][]byte
	ok := src.First()
	if len(prefix) > 0 {
		ok = src.Seek(prefix)
	}
	for ; ok && bytes.HasPrefix(src.Key(), prefix); ok = src.Next() {
		keys = append(keys, append([]byte{}, src.Key()...))
	}
	return keys, src.Err()
}

func deleteAll(t MutableTable, keys [][]byte) error {
	for _, k := range keys {
		if err := t.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

// count returns the number of entries and their raw byte size.
func count(t Table) (entries, size uint64, err error) {
	src, err := t.NewSource()
	if err != nil {
		return 0, 0, err
	}
	defer src.Close()
	for ok := src.First(); ok; ok = src.Next() {
		entries++
		size += uint64(len(src.Key()) + len(src.Value()))
	}
	return entries, size, src.Err()
}
