package benchmarks

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/Giulio2002/gkv"
	"github.com/Giulio2002/gkv/backend"
	"github.com/Giulio2002/gkv/backend/bolt"
	"github.com/Giulio2002/gkv/backend/leveldb"
	"github.com/Giulio2002/gkv/backend/mdbx"
	"github.com/Giulio2002/gkv/backend/pebble"
	"github.com/Giulio2002/gkv/backend/rocks"
	"github.com/Giulio2002/gkv/backend/safe"
)

// Cached benchmark environment directory
const benchCacheDir = "testdata/benchdb"

const batchSize = 100_000

var engines = []struct {
	name string
	open backend.OpenFunc
}{
	{"mdbx", mdbx.Open},
	{"bolt", bolt.Open},
	{"pebble", pebble.Open},
	{"leveldb", leveldb.Open},
	{"rocksdb", rocks.Open},
	{"safe", safe.Open},
}

type cachedEnv struct {
	rkv     *gkv.Rkv
	samples [][]byte
}

var (
	cacheMu sync.Mutex
	envs    = make(map[string]*cachedEnv)
)

func benchConfig() backend.Config {
	cfg := backend.DefaultConfig()
	cfg.MakeDirIfNeeded = true
	cfg.MapSize = 4 << 30
	cfg.Flags |= backend.EnvNoSync
	return cfg
}

// forEachEngine runs fn as a sub-benchmark named <op>/<engine>.
func forEachEngine(b *testing.B, op string, fn func(b *testing.B, name string, open backend.OpenFunc)) {
	for _, e := range engines {
		e := e
		b.Run(fmt.Sprintf("%s/%s", op, e.name), func(b *testing.B) {
			fn(b, e.name, e.open)
		})
	}
}

// getCachedPlain returns an environment holding size sequential u64 keys in
// the "bench" single store. It lives in testdata/benchdb/plain_<size>_<engine>.
func getCachedPlain(b *testing.B, engine string, open backend.OpenFunc, size int) (*gkv.Rkv, gkv.SingleStore, [][]byte) {
	cacheMu.Lock()
	defer cacheMu.Unlock()

	key := fmt.Sprintf("plain_%d_%s", size, engine)
	c, err := loadCached(b, key, open, func(rkv *gkv.Rkv) {
		populatePlain(b, rkv, size)
	})
	if err != nil {
		b.Fatal(err)
	}
	store, err := c.rkv.OpenSingle("bench", gkv.StoreOptions{})
	if err != nil {
		b.Fatal(err)
	}
	if c.samples == nil {
		c.samples = collectSampleKeys(b, c.rkv, store.IterStart)
	}
	return c.rkv, store, c.samples
}

// getCachedMulti returns an environment holding numKeys keys with
// valsPerKey values each in the "dupbench" multi store.
func getCachedMulti(b *testing.B, engine string, open backend.OpenFunc, numKeys, valsPerKey int) (*gkv.Rkv, gkv.MultiStore, [][]byte) {
	cacheMu.Lock()
	defer cacheMu.Unlock()

	key := fmt.Sprintf("multi_%d_%s", numKeys*valsPerKey, engine)
	c, err := loadCached(b, key, open, func(rkv *gkv.Rkv) {
		populateMulti(b, rkv, numKeys, valsPerKey)
	})
	if err != nil {
		b.Fatal(err)
	}
	store, err := c.rkv.OpenMulti("dupbench", gkv.StoreOptions{})
	if err != nil {
		b.Fatal(err)
	}
	if c.samples == nil {
		c.samples = dedupSamples(collectSampleKeys(b, c.rkv, store.IterStart))
	}
	return c.rkv, store, c.samples
}

func loadCached(b *testing.B, key string, open backend.OpenFunc, populate func(*gkv.Rkv)) (*cachedEnv, error) {
	if c, ok := envs[key]; ok {
		return c, nil
	}
	if err := os.MkdirAll(benchCacheDir, 0755); err != nil {
		return nil, err
	}

	path := filepath.Join(benchCacheDir, key)
	exists := fileExists(path)
	rkv, err := gkv.Open(open, path, benchConfig())
	if err != nil {
		return nil, err
	}
	if !exists {
		b.Logf("Creating cached %s...", key)
		populate(rkv)
	} else {
		b.Logf("Using cached %s", key)
	}

	c := &cachedEnv{rkv: rkv}
	envs[key] = c
	return c, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// putBatched writes n entries through put, committing every batchSize.
func putBatched(b *testing.B, rkv *gkv.Rkv, n int, put func(w *gkv.Writer, i int) error) {
	for start := 0; start < n; start += batchSize {
		end := start + batchSize
		if end > n {
			end = n
		}
		err := rkv.Update(func(w *gkv.Writer) error {
			for i := start; i < end; i++ {
				if err := put(w, i); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			b.Fatal(err)
		}
	}
}

func populatePlain(b *testing.B, rkv *gkv.Rkv, numKeys int) {
	store, err := rkv.OpenSingle("bench", gkv.StoreOptions{Create: true})
	if err != nil {
		b.Fatal(err)
	}
	putBatched(b, rkv, numKeys, func(w *gkv.Writer, i int) error {
		return store.Put(w, gkv.EncodeKey(uint64(i)), gkv.U64Value(uint64(i)))
	})
}

func populateMulti(b *testing.B, rkv *gkv.Rkv, numKeys, valsPerKey int) {
	store, err := rkv.OpenMulti("dupbench", gkv.StoreOptions{Create: true})
	if err != nil {
		b.Fatal(err)
	}
	putBatched(b, rkv, numKeys*valsPerKey, func(w *gkv.Writer, i int) error {
		k := gkv.EncodeKey(uint64(i / valsPerKey))
		return store.Put(w, k, gkv.U64Value(uint64(i%valsPerKey)))
	})
}

// collectSampleKeys returns every 1000th key of the store.
func collectSampleKeys(b *testing.B, rkv *gkv.Rkv, iter func(gkv.Readable) (*gkv.Iter, error)) [][]byte {
	var samples [][]byte
	err := rkv.View(func(r *gkv.Reader) error {
		it, err := iter(r)
		if err != nil {
			return err
		}
		defer it.Close()
		for i := 0; it.Next(); i++ {
			if i%1000 == 0 {
				samples = append(samples, append([]byte(nil), it.Key()...))
			}
		}
		return it.Err()
	})
	if err != nil {
		b.Fatal(err)
	}
	return samples
}

func dedupSamples(samples [][]byte) [][]byte {
	out := samples[:0]
	for i, k := range samples {
		if i > 0 && string(k) == string(out[len(out)-1]) {
			continue
		}
		out = append(out, k)
	}
	return out
}

// CleanupBenchCache closes all cached environments.
// Call this at the end of benchmark runs.
func CleanupBenchCache() {
	cacheMu.Lock()
	defer cacheMu.Unlock()

	for key, c := range envs {
		c.rkv.Close()
		delete(envs, key)
	}
}

// DeleteBenchCache removes all cached benchmark environments from disk.
func DeleteBenchCache() error {
	CleanupBenchCache()
	return os.RemoveAll(benchCacheDir)
}

func formatSize(n int) string {
	switch {
	case n >= 1_000_000:
		return fmt.Sprintf("%dM", n/1_000_000)
	case n >= 1_000:
		return fmt.Sprintf("%dk", n/1_000)
	default:
		return fmt.Sprintf("%d", n)
	}
}
