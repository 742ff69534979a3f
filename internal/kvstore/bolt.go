package kvstore

import (
	"encoding/binary"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

var bucketKV = []byte("kv")

// Bolt is a BoltDB-backed KV. Values are stored with an expiry envelope
// (8-byte unix-nano deadline, zero for none) and expired entries are
// dropped lazily on read or via Purge.
type Bolt struct {
	db *bbolt.DB
}

// OpenBolt opens (or creates) the store file.
func OpenBolt(path string) (*Bolt, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open boltdb: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketKV)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create bucket: %w", err)
	}
	return &Bolt{db: db}, nil
}

// Close releases the underlying database file.
func (s *Bolt) Close() error { return s.db.Close() }

func (s *Bolt) Get(key string) ([]byte, bool, error) {
	var value []byte
	var expired bool
	err := s.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(bucketKV).Get([]byte(key))
		if raw == nil || len(raw) < 8 {
			return nil
		}
		deadline := int64(binary.BigEndian.Uint64(raw[:8]))
		if deadline != 0 && time.Now().UnixNano() > deadline {
			expired = true
			return nil
		}
		value = append([]byte(nil), raw[8:]...)
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("get %s: %w", key, err)
	}
	if expired {
		// best effort cleanup outside the read transaction
		_ = s.db.Update(func(tx *bbolt.Tx) error {
			return tx.Bucket(bucketKV).Delete([]byte(key))
		})
		return nil, false, nil
	}
	if value == nil {
		return nil, false, nil
	}
	return value, true, nil
}

func (s *Bolt) Put(key string, value []byte, ttl time.Duration) error {
	var deadline int64
	if ttl > 0 {
		deadline = time.Now().Add(ttl).UnixNano()
	}
	raw := make([]byte, 8+len(value))
	binary.BigEndian.PutUint64(raw[:8], uint64(deadline))
	copy(raw[8:], value)
	err := s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketKV).Put([]byte(key), raw)
	})
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

// Purge removes all expired entries.
func (s *Bolt) Purge() (int, error) {
	removed := 0
	now := time.Now().UnixNano()
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketKV)
		c := b.Cursor()
		var stale [][]byte
		for k, v := c.First(); k != nil; k, v = c.Next() {
			if len(v) < 8 {
				continue
			}
			deadline := int64(binary.BigEndian.Uint64(v[:8]))
			if deadline != 0 && now > deadline {
				stale = append(stale, append([]byte(nil), k...))
			}
		}
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	if err != nil {
		return removed, fmt.Errorf("purge: %w", err)
	}
	return removed, nil
}
