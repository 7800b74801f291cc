package store

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	badger "github.com/dgraph-io/badger/v2"
	"github.com/gloworm-vision/motorbench/hardware"
)

type badgerDB struct {
	db *badger.DB
}

// OpenBadger opens a badger DB with the given options as a motorbench store.
func OpenBadger(options badger.Options) (Store, error) {
	db, err := badger.Open(options)
	if err != nil {
		return nil, fmt.Errorf("unable to open badger db: %w", err)
	}

	return &badgerDB{db: db}, nil
}

const (
	badgerHardwareKey = "hardware"
	badgerRunSeqKey   = "runs/seq"
	badgerRunPrefix   = "runs/id/"
)

func (b *badgerDB) Close() error {
	return b.db.Close()
}

func (b *badgerDB) HardwareConfig() (hardware.Config, error) {
	var h hardware.Config

	err := b.db.View(func(tx *badger.Txn) error {
		item, err := tx.Get([]byte(badgerHardwareKey))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("couldn't get raw hardware config: %w", err)
		}

		return item.Value(func(val []byte) error {
			if err := json.Unmarshal(val, &h); err != nil {
				return fmt.Errorf("couldn't unmarshal hardware config JSON: %w", err)
			}
			return nil
		})
	})
	if err != nil {
		return h, fmt.Errorf("couldn't get hardware config: %w", err)
	}

	return h, nil
}

func (b *badgerDB) PutHardwareConfig(h hardware.Config) error {
	hardwareJSON, err := json.Marshal(h)
	if err != nil {
		return fmt.Errorf("couldn't marshal hardware config: %w", err)
	}

	err = b.db.Update(func(tx *badger.Txn) error {
		return tx.Set([]byte(badgerHardwareKey), hardwareJSON)
	})
	if err != nil {
		return fmt.Errorf("couldn't put hardware config: %w", err)
	}

	return nil
}

func nextRunID(tx *badger.Txn) (uint64, error) {
	var last uint64

	item, err := tx.Get([]byte(badgerRunSeqKey))
	switch {
	case errors.Is(err, badger.ErrKeyNotFound):
	case err != nil:
		return 0, fmt.Errorf("couldn't get run sequence: %w", err)
	default:
		err = item.Value(func(val []byte) error {
			if len(val) != 8 {
				return fmt.Errorf("run sequence has %d bytes", len(val))
			}
			last = binary.BigEndian.Uint64(val)
			return nil
		})
		if err != nil {
			return 0, err
		}
	}

	next := last + 1
	if err := tx.Set([]byte(badgerRunSeqKey), runKey(next)); err != nil {
		return 0, fmt.Errorf("couldn't set run sequence: %w", err)
	}

	return next, nil
}

func (b *badgerDB) RecordRun(r Run) (uint64, error) {
	err := b.db.Update(func(tx *badger.Txn) error {
		id, err := nextRunID(tx)
		if err != nil {
			return err
		}
		r.ID = id

		runJSON, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("couldn't marshal run: %w", err)
		}

		key := append([]byte(badgerRunPrefix), runKey(id)...)
		if err := tx.Set(key, runJSON); err != nil {
			return fmt.Errorf("couldn't set run %d: %w", id, err)
		}

		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("couldn't record run: %w", err)
	}

	return r.ID, nil
}

func (b *badgerDB) ListRuns(limit int) ([]Run, error) {
	runs := make([]Run, 0)

	err := b.db.View(func(tx *badger.Txn) error {
		it := tx.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(badgerRunPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var r Run
				if err := json.Unmarshal(val, &r); err != nil {
					return fmt.Errorf("couldn't unmarshal run JSON: %w", err)
				}
				runs = append(runs, r)
				return nil
			})
			if err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("couldn't walk runs: %w", err)
	}

	return lastN(runs, limit), nil
}
