package store

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	badger "github.com/dgraph-io/badger/v2"
	"github.com/gloworm-vision/motorbench/hardware"
	"go.etcd.io/bbolt"
)

func backends() map[string]func(t *testing.T) Store {
	return map[string]func(t *testing.T) Store{
		"bbolt": func(t *testing.T) Store {
			s, err := OpenBBolt(filepath.Join(t.TempDir(), "motorbench.db"), 0o600, &bbolt.Options{Timeout: time.Second})
			if err != nil {
				t.Fatalf("OpenBBolt: %v", err)
			}
			return s
		},
		"badger": func(t *testing.T) Store {
			s, err := OpenBadger(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
			if err != nil {
				t.Fatalf("OpenBadger: %v", err)
			}
			return s
		},
	}
}

func TestHardwareConfig(t *testing.T) {
	for name, open := range backends() {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			defer s.Close()

			if _, err := s.HardwareConfig(); !errors.Is(err, ErrNotFound) {
				t.Fatalf("HardwareConfig() on empty store err=%v want ErrNotFound", err)
			}

			want := hardware.Config{
				Backend:      hardware.BackendCdev,
				GPIOChip:     "/dev/gpiochip4",
				PWMFrequency: 2000,
				StrictEnable: true,
				Pins:         hardware.DefaultPins,
			}
			if err := s.PutHardwareConfig(want); err != nil {
				t.Fatalf("PutHardwareConfig: %v", err)
			}

			got, err := s.HardwareConfig()
			if err != nil {
				t.Fatalf("HardwareConfig: %v", err)
			}
			if got != want {
				t.Fatalf("HardwareConfig()=%+v want %+v", got, want)
			}
		})
	}
}

func TestRuns(t *testing.T) {
	for name, open := range backends() {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			defer s.Close()

			runs, err := s.ListRuns(0)
			if err != nil {
				t.Fatalf("ListRuns: %v", err)
			}
			if len(runs) != 0 {
				t.Fatalf("ListRuns() on empty store = %d runs", len(runs))
			}

			start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
			for i := 0; i < 3; i++ {
				id, err := s.RecordRun(Run{
					Backend:   hardware.BackendSim,
					Started:   start.Add(time.Duration(i) * time.Minute),
					Finished:  start.Add(time.Duration(i)*time.Minute + 20*time.Second),
					Steps:     10 + i,
					Completed: i != 1,
				})
				if err != nil {
					t.Fatalf("RecordRun: %v", err)
				}
				if id != uint64(i+1) {
					t.Fatalf("RecordRun() id=%d want %d", id, i+1)
				}
			}

			runs, err = s.ListRuns(0)
			if err != nil {
				t.Fatalf("ListRuns: %v", err)
			}
			if len(runs) != 3 {
				t.Fatalf("ListRuns() = %d runs want 3", len(runs))
			}
			for i, r := range runs {
				if r.ID != uint64(i+1) || r.Steps != 10+i {
					t.Fatalf("runs[%d]=%+v", i, r)
				}
			}
			if runs[1].Completed {
				t.Fatalf("runs[1] should be incomplete")
			}

			last, err := s.ListRuns(2)
			if err != nil {
				t.Fatalf("ListRuns: %v", err)
			}
			if len(last) != 2 || last[0].ID != 2 || last[1].ID != 3 {
				t.Fatalf("ListRuns(2)=%+v", last)
			}
		})
	}
}

func TestOpen_UnknownBackend(t *testing.T) {
	if _, err := Open("sqlite", filepath.Join(t.TempDir(), "x")); err == nil {
		t.Fatalf("expected error")
	}
}

func TestOpen_BBoltReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "motorbench.db")

	s, err := Open("bbolt", path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := s.RecordRun(Run{Steps: 4}); err != nil {
		t.Fatalf("RecordRun: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s, err = Open("bbolt", path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()

	runs, err := s.ListRuns(0)
	if err != nil || len(runs) != 1 || runs[0].Steps != 4 {
		t.Fatalf("ListRuns()=%+v err=%v", runs, err)
	}
}
