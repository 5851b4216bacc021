// Package cache provides a bbolt-backed store of decoded sample tables,
// keyed by a digest of the raw stbl bytes they were expanded from.
// Expanding stbl (stts/ctts/stsc/stsz/stco) into a flat per-track Sample
// sequence is pure CPU work that only depends on those bytes, so a tool
// that probes or remuxes the same input repeatedly (mp4tool's
// probe/remux subcommands) can skip it on a cache hit.
package cache

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"mp4core/pkg/mp4"
)

const entriesBucket = "entries" // digest -> gob-encoded []mp4.Sample.
const orderBucket = "order"     // monotonic sequence -> digest, for oldest-first eviction.

const defaultMaxKeys = 10000

// Cache is a bbolt-backed store of decoded sample tables.
type Cache struct {
	db      *bolt.DB
	maxKeys int
}

// Open opens (creating if necessary) a cache database at dbPath.
func Open(dbPath string) (*Cache, error) {
	db, err := bolt.Open(dbPath, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("could not open cache database: %w: %v", err, dbPath)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(entriesBucket)); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists([]byte(orderBucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("could not create buckets: %w", err)
	}

	return &Cache{db: db, maxKeys: defaultMaxKeys}, nil
}

// Close closes the underlying database.
func (c *Cache) Close() error {
	return c.db.Close()
}

// Key identifies one track's sample table by a digest of the raw stbl
// bytes it was expanded from.
type Key struct {
	Digest [sha256.Size]byte
}

// DigestStbl hashes the raw stbl box body a sample table is decoded
// from, for use as a Key.
func DigestStbl(stblBody []byte) Key {
	return Key{Digest: sha256.Sum256(stblBody)}
}

// Get returns the cached sample slice for key, and whether it was found.
func (c *Cache) Get(key Key) ([]mp4.Sample, bool, error) {
	var samples []mp4.Sample
	found := false

	err := c.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket([]byte(entriesBucket)).Get(key.Digest[:])
		if raw == nil {
			return nil
		}
		decoded, err := decodeSamples(raw)
		if err != nil {
			return fmt.Errorf("could not decode cached sample table: %w", err)
		}
		samples = decoded
		found = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return samples, found, nil
}

// Put stores samples under key, evicting the oldest entry first if the
// cache is at capacity.
func (c *Cache) Put(key Key, samples []mp4.Sample) error {
	raw, err := encodeSamples(samples)
	if err != nil {
		return fmt.Errorf("could not encode sample table: %w", err)
	}

	return c.db.Update(func(tx *bolt.Tx) error {
		entries := tx.Bucket([]byte(entriesBucket))
		order := tx.Bucket([]byte(orderBucket))

		if entries.Get(key.Digest[:]) == nil && entries.Stats().KeyN >= c.maxKeys {
			if err := evictOldest(entries, order); err != nil {
				return fmt.Errorf("could not evict oldest entry: %w", err)
			}
		}

		seq, err := order.NextSequence()
		if err != nil {
			return fmt.Errorf("could not allocate sequence: %w", err)
		}
		if err := order.Put(encodeSeq(seq), key.Digest[:]); err != nil {
			return err
		}
		return entries.Put(key.Digest[:], raw)
	})
}

// evictOldest drops the entry whose order-bucket sequence is lowest,
// i.e. the one inserted longest ago.
func evictOldest(entries, order *bolt.Bucket) error {
	seqKey, digest := order.Cursor().First()
	if seqKey == nil {
		return nil
	}
	if err := order.Delete(seqKey); err != nil {
		return err
	}
	return entries.Delete(digest)
}

func encodeSeq(seq uint64) []byte {
	out := make([]byte, 8)
	binary.BigEndian.PutUint64(out, seq)
	return out
}

func encodeSamples(samples []mp4.Sample) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(samples); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeSamples(raw []byte) ([]mp4.Sample, error) {
	var samples []mp4.Sample
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&samples); err != nil {
		return nil, err
	}
	return samples, nil
}
