package benchmarks

import (
	"fmt"
	"testing"

	"github.com/Giulio2002/gkv"
	"github.com/Giulio2002/gkv/backend"
)

// BenchmarkWriteOps benchmarks store writes on pre-populated environments.
// One write transaction is held open per run and aborted at the end, so
// the numbers measure Put and not commit.
func BenchmarkWriteOps(b *testing.B) {
	b.Cleanup(CleanupBenchCache)

	sizes := []int{10_000, 100_000, 1_000_000}

	for _, size := range sizes {
		size := size
		sizeName := formatSize(size)

		// Sequential Put (updates to existing keys)
		forEachEngine(b, "SeqPut_"+sizeName, func(b *testing.B, name string, open backend.OpenFunc) {
			rkv, store, _ := getCachedPlain(b, name, open, size)
			benchPut(b, rkv, store, func(i int) uint64 { return uint64(i % size) })
		})

		// Random Put (updates to random existing keys)
		forEachEngine(b, "RandPut_"+sizeName, func(b *testing.B, name string, open backend.OpenFunc) {
			rkv, store, _ := getCachedPlain(b, name, open, size)
			order := shuffled(size)
			benchPut(b, rkv, store, func(i int) uint64 { return uint64(order[i%size]) })
		})
	}

	// New values appended to existing keys of a multi store
	forEachEngine(b, "MultiPut_100k", func(b *testing.B, name string, open backend.OpenFunc) {
		rkv, store, _ := getCachedMulti(b, name, open, 10_000, 10)
		w, err := rkv.Write()
		if err != nil {
			b.Fatal(err)
		}
		defer w.Abort()

		b.ResetTimer()
		b.ReportAllocs()

		for i := 0; i < b.N; i++ {
			k := gkv.EncodeKey(uint64(i % 10_000))
			if err := store.Put(w, k, gkv.U64Value(uint64(10+i))); err != nil {
				b.Fatal(err)
			}
		}
	})

	// Exact duplicates stored as separate copies
	forEachEngine(b, "KeepCopies", func(b *testing.B, name string, open backend.OpenFunc) {
		rkv, store, _ := getCachedMulti(b, name, open, 10_000, 10)
		w, err := rkv.Write()
		if err != nil {
			b.Fatal(err)
		}
		defer w.Abort()

		b.ResetTimer()
		b.ReportAllocs()

		for i := 0; i < b.N; i++ {
			k := gkv.EncodeKey(uint64(i % 10_000))
			if err := store.PutWithFlags(w, k, gkv.U64Value(0), gkv.WriteKeepCopies); err != nil {
				b.Fatal(err)
			}
		}
	})
}

// BenchmarkCommit measures small committed transactions.
func BenchmarkCommit(b *testing.B) {
	b.Cleanup(CleanupBenchCache)

	for _, batch := range []int{1, 100} {
		batch := batch
		forEachEngine(b, fmt.Sprintf("Commit_%d", batch), func(b *testing.B, name string, open backend.OpenFunc) {
			rkv, store, _ := getCachedPlain(b, name, open, 10_000)

			b.ResetTimer()
			b.ReportAllocs()

			for i := 0; i < b.N; i++ {
				err := rkv.Update(func(w *gkv.Writer) error {
					for j := 0; j < batch; j++ {
						k := gkv.EncodeKey(uint64((i*batch + j) % 10_000))
						if err := store.Put(w, k, gkv.U64Value(uint64(i))); err != nil {
							return err
						}
					}
					return nil
				})
				if err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

func benchPut(b *testing.B, rkv *gkv.Rkv, store gkv.SingleStore, key func(i int) uint64) {
	w, err := rkv.Write()
	if err != nil {
		b.Fatal(err)
	}
	defer w.Abort()

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		if err := store.Put(w, gkv.EncodeKey(key(i)), gkv.U64Value(uint64(i))); err != nil {
			b.Fatal(err)
		}
	}
}

// shuffled returns a deterministic permutation of [0, n).
func shuffled(n int) []int {
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	// Fisher-Yates shuffle
	for i := len(order) - 1; i > 0; i-- {
		j := int(uint64(i*17+31) % uint64(i+1))
		order[i], order[j] = order[j], order[i]
	}
	return order
}
