package store

import (
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var bucketStrips = []byte("strips")

// BoltStore implements Store using BoltDB.
type BoltStore struct {
	db *bolt.DB
}

var _ Store = (*BoltStore)(nil)

// NewBoltStore opens or creates a BoltDB database.
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketStrips)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create buckets: %w", err)
	}

	return &BoltStore{db: db}, nil
}

func (s *BoltStore) SaveStrip(strip *Strip) error {
	if strip.Host == "" {
		return fmt.Errorf("save strip: empty host")
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return putStrip(tx, strip)
	})
}

func (s *BoltStore) GetStrip(host string) (*Strip, error) {
	var strip *Strip
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		strip, err = getStrip(tx, host)
		return err
	})
	if err != nil {
		return nil, err
	}
	return strip, nil
}

func (s *BoltStore) UpdateStrip(host string, fn func(strip *Strip) error) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		strip, err := getStrip(tx, host)
		if err != nil {
			return err
		}
		if err := fn(strip); err != nil {
			return err
		}
		// The key is the host; renaming the key is not supported.
		strip.Host = host
		return putStrip(tx, strip)
	})
}

func (s *BoltStore) DeleteStrip(host string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketStrips)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketStrips)
		}
		if b.Get([]byte(host)) == nil {
			return fmt.Errorf("strip %s: %w", host, ErrNotFound)
		}
		return b.Delete([]byte(host))
	})
}

func (s *BoltStore) ListStrips() ([]*Strip, error) {
	var strips []*Strip
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketStrips)
		if b == nil {
			return nil // no bucket = no strips
		}
		strips = make([]*Strip, 0, b.Stats().KeyN)
		return b.ForEach(func(k, v []byte) error {
			var strip Strip
			if err := json.Unmarshal(v, &strip); err != nil {
				return fmt.Errorf("decode strip %s: %w", k, err)
			}
			strips = append(strips, &strip)
			return nil
		})
	})
	return strips, err
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

func getStrip(tx *bolt.Tx, host string) (*Strip, error) {
	b := tx.Bucket(bucketStrips)
	if b == nil {
		return nil, fmt.Errorf("bucket %q not found", bucketStrips)
	}
	data := b.Get([]byte(host))
	if data == nil {
		return nil, fmt.Errorf("strip %s: %w", host, ErrNotFound)
	}
	var strip Strip
	if err := json.Unmarshal(data, &strip); err != nil {
		return nil, fmt.Errorf("decode strip %s: %w", host, err)
	}
	return &strip, nil
}

func putStrip(tx *bolt.Tx, strip *Strip) error {
	b := tx.Bucket(bucketStrips)
	if b == nil {
		return fmt.Errorf("bucket %q not found", bucketStrips)
	}
	data, err := json.Marshal(strip)
	if err != nil {
		return err
	}
	return b.Put([]byte(strip.Host), data)
}
