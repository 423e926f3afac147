// Package bench compares grove against other embedded key-value stores on
// the same workloads. Run with:
//
//	go test -bench . -benchmem ./bench
package bench

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/cockroachdb/pebble"
	bolt "go.etcd.io/bbolt"

	"github.com/grovedb/grove"
)

const (
	numKeys   = 10000
	valueSize = 128
)

func benchKey(i int) []byte {
	return []byte(fmt.Sprintf("key%08d", i))
}

func benchValue() []byte {
	v := make([]byte, valueSize)
	for i := range v {
		v[i] = byte(i % 256)
	}
	return v
}

// --- grove ---

func openGrove(b *testing.B) *grove.Tree {
	b.Helper()
	path := filepath.Join(b.TempDir(), "bench.grove")
	// Order 16 gives a per-entry budget that fits the 128-byte payloads.
	tree, err := grove.Open(path, grove.WithSyncMode(grove.SyncBytes), grove.WithOrder(16))
	if err != nil {
		b.Fatalf("grove open: %v", err)
	}
	b.Cleanup(func() { tree.Close() })
	return tree
}

func BenchmarkGroveWrite(b *testing.B) {
	tree := openGrove(b)
	value := benchValue()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := tree.Insert(benchKey(i), value); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkGroveRead(b *testing.B) {
	tree := openGrove(b)
	value := benchValue()
	for i := 0; i < numKeys; i++ {
		if err := tree.Insert(benchKey(i), value); err != nil {
			b.Fatal(err)
		}
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, _, err := tree.Get(benchKey((i * 7) % numKeys)); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkGroveScan(b *testing.B) {
	tree := openGrove(b)
	value := benchValue()
	for i := 0; i < numKeys; i++ {
		if err := tree.Insert(benchKey(i), value); err != nil {
			b.Fatal(err)
		}
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		c, err := tree.Range(nil, nil)
		if err != nil {
			b.Fatal(err)
		}
		count := 0
		for c.Valid() {
			count++
			if err := c.Next(); err != nil {
				b.Fatal(err)
			}
		}
		if count != numKeys {
			b.Fatalf("scanned %d, want %d", count, numKeys)
		}
	}
}

// --- bbolt ---

var boltBucket = []byte("bench")

func openBolt(b *testing.B) *bolt.DB {
	b.Helper()
	path := filepath.Join(b.TempDir(), "bench.bolt")
	db, err := bolt.Open(path, 0600, &bolt.Options{NoSync: true})
	if err != nil {
		b.Fatalf("bolt open: %v", err)
	}
	b.Cleanup(func() { db.Close() })

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(boltBucket)
		return err
	})
	if err != nil {
		b.Fatalf("bolt bucket: %v", err)
	}
	return db
}

func BenchmarkBoltWrite(b *testing.B) {
	db := openBolt(b)
	value := benchValue()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		err := db.Update(func(tx *bolt.Tx) error {
			return tx.Bucket(boltBucket).Put(benchKey(i), value)
		})
		if err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkBoltRead(b *testing.B) {
	db := openBolt(b)
	value := benchValue()
	err := db.Update(func(tx *bolt.Tx) error {
		bk := tx.Bucket(boltBucket)
		for i := 0; i < numKeys; i++ {
			if err := bk.Put(benchKey(i), value); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		err := db.View(func(tx *bolt.Tx) error {
			if tx.Bucket(boltBucket).Get(benchKey((i*7)%numKeys)) == nil {
				b.Fatal("missing key")
			}
			return nil
		})
		if err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkBoltScan(b *testing.B) {
	db := openBolt(b)
	value := benchValue()
	err := db.Update(func(tx *bolt.Tx) error {
		bk := tx.Bucket(boltBucket)
		for i := 0; i < numKeys; i++ {
			if err := bk.Put(benchKey(i), value); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		err := db.View(func(tx *bolt.Tx) error {
			count := 0
			c := tx.Bucket(boltBucket).Cursor()
			for k, _ := c.First(); k != nil; k, _ = c.Next() {
				count++
			}
			if count != numKeys {
				b.Fatalf("scanned %d, want %d", count, numKeys)
			}
			return nil
		})
		if err != nil {
			b.Fatal(err)
		}
	}
}

// --- pebble ---

func openPebble(b *testing.B) *pebble.DB {
	b.Helper()
	dir := filepath.Join(b.TempDir(), "bench.pebble")
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		b.Fatalf("pebble open: %v", err)
	}
	b.Cleanup(func() { db.Close() })
	return db
}

func BenchmarkPebbleWrite(b *testing.B) {
	db := openPebble(b)
	value := benchValue()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := db.Set(benchKey(i), value, pebble.NoSync); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkPebbleRead(b *testing.B) {
	db := openPebble(b)
	value := benchValue()
	for i := 0; i < numKeys; i++ {
		if err := db.Set(benchKey(i), value, pebble.NoSync); err != nil {
			b.Fatal(err)
		}
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		v, closer, err := db.Get(benchKey((i * 7) % numKeys))
		if err != nil {
			b.Fatal(err)
		}
		if len(v) != valueSize {
			b.Fatalf("value size %d", len(v))
		}
		closer.Close()
	}
}

func BenchmarkPebbleScan(b *testing.B) {
	db := openPebble(b)
	value := benchValue()
	for i := 0; i < numKeys; i++ {
		if err := db.Set(benchKey(i), value, pebble.NoSync); err != nil {
			b.Fatal(err)
		}
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		iter, err := db.NewIter(&pebble.IterOptions{})
		if err != nil {
			b.Fatal(err)
		}
		count := 0
		for iter.First(); iter.Valid(); iter.Next() {
			count++
		}
		if err := iter.Close(); err != nil {
			b.Fatal(err)
		}
		if count != numKeys {
			b.Fatalf("scanned %d, want %d", count, numKeys)
		}
	}
}
