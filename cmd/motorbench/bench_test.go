package main

import (
	"context"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/abiosoft/ishell/v2"
	"github.com/abiosoft/readline"
	"github.com/gloworm-vision/motorbench/hardware"
	"github.com/gloworm-vision/motorbench/hardware/gpio"
	"github.com/gloworm-vision/motorbench/sequence"
	"github.com/gloworm-vision/motorbench/store"
	"github.com/sirupsen/logrus"
)

func TestSpeedArg(t *testing.T) {
	cases := []struct {
		args    []string
		i       int
		want    float64
		wantErr bool
	}{
		{nil, 0, shortcutSpeed, false},
		{[]string{"75"}, 0, 75, false},
		{[]string{"a", "forward", "12.5"}, 2, 12.5, false},
		{[]string{"fast"}, 0, 0, true},
		{[]string{"150"}, 0, 150, true},
	}
	for _, tc := range cases {
		got, err := speedArg(tc.args, tc.i)
		if (err != nil) != tc.wantErr {
			t.Fatalf("speedArg(%q, %d) err=%v wantErr=%v", tc.args, tc.i, err, tc.wantErr)
		}
		if !tc.wantErr && got != tc.want {
			t.Fatalf("speedArg(%q, %d)=%g want %g", tc.args, tc.i, got, tc.want)
		}
	}
}

func TestFormatState(t *testing.T) {
	s := hardware.State{
		Enabled: true,
		A:       hardware.ChannelState{Direction: hardware.Forward, Speed: 30},
		B:       hardware.ChannelState{Direction: hardware.Brake},
	}
	want := "enabled  A: forward 30%  B: brake 0%"
	if got := formatState(s); got != want {
		t.Fatalf("formatState()=%q want %q", got, want)
	}
	if got := formatState(hardware.State{Terminated: true}); got != "shut down  A: coast 0%  B: coast 0%" {
		t.Fatalf("formatState()=%q", got)
	}
}

func newTestBench(t *testing.T) (*bench, store.Store) {
	t.Helper()

	st, err := store.Open("bbolt", filepath.Join(t.TempDir(), "motorbench.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	d, err := hardware.NewDriver(gpio.NewSim(nil), hardware.DefaultPins, hardware.DriverOptions{})
	if err != nil {
		t.Fatalf("NewDriver: %v", err)
	}
	t.Cleanup(func() { _ = d.Shutdown() })

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	return &bench{
		driver:   d,
		backend:  hardware.BackendSim,
		pins:     hardware.DefaultPins,
		store:    st,
		sequence: sequence.Options{Step: time.Millisecond, Pause: time.Millisecond},
		logger:   logger,
	}, st
}

func TestBenchRunSequenceRecordsRun(t *testing.T) {
	b, st := newTestBench(t)
	if err := b.runSequence(context.Background()); err != nil {
		t.Fatalf("runSequence: %v", err)
	}

	runs, err := st.ListRuns(0)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 1 || !runs[0].Completed || runs[0].Backend != hardware.BackendSim {
		t.Fatalf("runs=%+v", runs)
	}
}

func TestShellShortcutsAndQuit(t *testing.T) {
	b, _ := newTestBench(t)

	stdin, input := io.Pipe()
	rl, err := readline.NewEx(&readline.Config{
		Stdin:          stdin,
		Stdout:         io.Discard,
		Stderr:         io.Discard,
		FuncIsTerminal: func() bool { return false },
	})
	if err != nil {
		t.Fatalf("readline: %v", err)
	}

	shell := ishell.NewWithReadline(rl)
	b.register(context.Background(), shell)
	shell.Start()
	defer func() {
		_ = input.Close()
		shell.Close()
	}()

	if err := shell.Process("af", "60"); err != nil {
		t.Fatalf("af: %v", err)
	}
	if err := shell.Process("bb"); err != nil {
		t.Fatalf("bb: %v", err)
	}
	s := b.driver.State()
	if s.A.Direction != hardware.Forward || s.A.Speed != 60 || s.B.Direction != hardware.Reverse || s.B.Speed != shortcutSpeed {
		t.Fatalf("state=%+v", s)
	}

	if err := shell.Process("as"); err != nil {
		t.Fatalf("as: %v", err)
	}
	if s := b.driver.State(); s.A.Direction != hardware.Brake || s.A.Speed != 0 {
		t.Fatalf("state after as=%+v", s)
	}

	if !shell.Active() {
		t.Fatal("shell not active")
	}
	if err := shell.Process("q"); err != nil {
		t.Fatalf("q: %v", err)
	}
	if shell.Active() {
		t.Fatal("shell still active after q")
	}
}

func TestRunRejectsUnknownMode(t *testing.T) {
	if err := run("", "dance"); err == nil || err.Error() != `unknown mode "dance"` {
		t.Fatalf("err=%v", err)
	}
}
