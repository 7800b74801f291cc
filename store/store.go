// Package store persists the motor driver's hardware configuration and the
// history of automated test runs.
package store

import (
	"errors"
	"fmt"
	"io"
	"time"

	badger "github.com/dgraph-io/badger/v2"
	"github.com/gloworm-vision/motorbench/hardware"
	"github.com/gloworm-vision/motorbench/sequence"
	"go.etcd.io/bbolt"
)

// ErrNotFound is returned when a requested record has never been stored.
var ErrNotFound = errors.New("not found")

// Run records one execution of the automated test sequence.
type Run struct {
	ID        uint64           `json:"id"`
	Backend   hardware.Backend `json:"backend"`
	Started   time.Time        `json:"started"`
	Finished  time.Time        `json:"finished"`
	Steps     int              `json:"steps"`
	Completed bool             `json:"completed"`
	Error     string           `json:"error,omitempty"`
}

// RunOf builds the record of a sequence result on backend.
func RunOf(backend hardware.Backend, res sequence.Result) Run {
	r := Run{
		Backend:   backend,
		Started:   res.Started,
		Finished:  res.Finished,
		Steps:     res.Steps,
		Completed: res.Completed,
	}
	if res.Err != nil {
		r.Error = res.Err.Error()
	}
	return r
}

// Store describes a persistent storage engine for motorbench information.
type Store interface {
	HardwareConfig() (hardware.Config, error)
	PutHardwareConfig(h hardware.Config) error

	// RecordRun stores r under a fresh ID and returns it.
	RecordRun(r Run) (uint64, error)
	// ListRuns returns up to limit runs, oldest first. A limit <= 0 returns all.
	ListRuns(limit int) ([]Run, error)

	io.Closer
}

// Open opens the store named by backend ("bbolt" or "badger") at path.
func Open(backend, path string) (Store, error) {
	switch backend {
	case "", "bbolt":
		return OpenBBolt(path, 0o600, &bbolt.Options{Timeout: time.Second})
	case "badger":
		return OpenBadger(badger.DefaultOptions(path).WithLogger(nil))
	}
	return nil, fmt.Errorf("unknown store backend %q", backend)
}

func lastN(runs []Run, limit int) []Run {
	if limit > 0 && len(runs) > limit {
		return runs[len(runs)-limit:]
	}
	return runs
}

