package store

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"

	"github.com/gloworm-vision/motorbench/hardware"
	"go.etcd.io/bbolt"
)

type BBolt struct {
	db *bbolt.DB
}

const (
	bboltMotorbenchBucket = "motorbench"
	bboltRunsBucket       = "runs" // child of motorbench

	// motorbench keys
	bboltHardwareKey = "hardware"
)

// OpenBBolt opens a BBoltDB database at the given path and creates the needed buckets
// if they don't exist.
func OpenBBolt(path string, mode os.FileMode, options *bbolt.Options) (Store, error) {
	db, err := bbolt.Open(path, mode, options)
	if err != nil {
		return nil, fmt.Errorf("unable to open bbolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists([]byte(bboltMotorbenchBucket))
		if err != nil {
			return fmt.Errorf("unable to create bucket %q: %w", bboltMotorbenchBucket, err)
		}

		_, err = bucket.CreateBucketIfNotExists([]byte(bboltRunsBucket))
		if err != nil {
			return fmt.Errorf("unable to create bucket %q: %w", bboltRunsBucket, err)
		}

		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("unable to create bbolt buckets: %w", err)
	}

	return &BBolt{
		db: db,
	}, nil
}

func (b *BBolt) Close() error {
	return b.db.Close()
}

func (b *BBolt) HardwareConfig() (hardware.Config, error) {
	var h hardware.Config
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(bboltMotorbenchBucket))
		hardwareJSON := bucket.Get([]byte(bboltHardwareKey))
		if hardwareJSON == nil {
			return ErrNotFound
		}

		if err := json.Unmarshal(hardwareJSON, &h); err != nil {
			return fmt.Errorf("unable to unmarshal hardware config JSON: %w", err)
		}

		return nil
	})
	if err != nil {
		return h, fmt.Errorf("unable to get hardware config: %w", err)
	}

	return h, nil
}

func (b *BBolt) PutHardwareConfig(h hardware.Config) error {
	err := b.db.Update(func(tx *bbolt.Tx) error {
		hardwareJSON, err := json.Marshal(h)
		if err != nil {
			return fmt.Errorf("unable to marshal hardware config: %w", err)
		}

		bucket := tx.Bucket([]byte(bboltMotorbenchBucket))
		if err := bucket.Put([]byte(bboltHardwareKey), hardwareJSON); err != nil {
			return fmt.Errorf("unable to put hardware config: %w", err)
		}

		return nil
	})
	if err != nil {
		return fmt.Errorf("unable to update hardware config: %w", err)
	}

	return nil
}

func (b *BBolt) RecordRun(r Run) (uint64, error) {
	err := b.db.Update(func(tx *bbolt.Tx) error {
		runs := tx.Bucket([]byte(bboltMotorbenchBucket)).Bucket([]byte(bboltRunsBucket))

		id, err := runs.NextSequence()
		if err != nil {
			return fmt.Errorf("unable to allocate run id: %w", err)
		}
		r.ID = id

		runJSON, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("unable to marshal run: %w", err)
		}

		if err := runs.Put(runKey(id), runJSON); err != nil {
			return fmt.Errorf("unable to put run %d: %w", id, err)
		}

		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("unable to record run: %w", err)
	}

	return r.ID, nil
}

func (b *BBolt) ListRuns(limit int) ([]Run, error) {
	runs := make([]Run, 0)

	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(bboltMotorbenchBucket)).Bucket([]byte(bboltRunsBucket))

		err := bucket.ForEach(func(_, v []byte) error {
			var r Run
			if err := json.Unmarshal(v, &r); err != nil {
				return fmt.Errorf("unable to unmarshal run JSON: %w", err)
			}
			runs = append(runs, r)
			return nil
		})
		if err != nil {
			return fmt.Errorf("unable to iterate over runs bucket: %w", err)
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("unable to list runs: %w", err)
	}

	return lastN(runs, limit), nil
}

// runKey encodes id big-endian so keys iterate in run order.
func runKey(id uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, id)
	return k
}
