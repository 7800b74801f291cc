package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gloworm-vision/motorbench/hardware"
	"github.com/gloworm-vision/motorbench/hardware/gpio"
	"github.com/gloworm-vision/motorbench/sequence"
	"github.com/gloworm-vision/motorbench/store"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"go.etcd.io/bbolt"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func simDriver(t *testing.T, cfg hardware.Config) *hardware.Driver {
	t.Helper()
	cfg = cfg.WithDefaults()
	d, err := hardware.NewDriver(gpio.NewSim(nil), cfg.Pins, hardware.DriverOptions{
		PWMFrequency: cfg.PWMFrequency,
		StrictEnable: cfg.StrictEnable,
	})
	if err != nil {
		t.Fatalf("NewDriver: %v", err)
	}
	return d
}

type testServer struct {
	*Server
	http *httptest.Server

	mu     sync.Mutex
	opened []hardware.Config
}

func (ts *testServer) openedConfigs() []hardware.Config {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return append([]hardware.Config(nil), ts.opened...)
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	st, err := store.OpenBBolt(filepath.Join(t.TempDir(), "motorbench.db"), 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		t.Fatalf("OpenBBolt: %v", err)
	}

	ts := &testServer{}
	ts.Server = &Server{
		Store:    st,
		Logger:   quietLogger(),
		Driver:   simDriver(t, hardware.Config{}),
		Backend:  hardware.BackendSim,
		Sequence: sequence.Options{Step: time.Millisecond, Pause: time.Millisecond},
		OpenDriver: func(cfg hardware.Config, _ logrus.FieldLogger) (*hardware.Driver, hardware.Backend, error) {
			ts.mu.Lock()
			ts.opened = append(ts.opened, cfg)
			ts.mu.Unlock()
			return simDriver(t, cfg), hardware.BackendSim, nil
		},
	}
	if err := ts.init(); err != nil {
		t.Fatalf("init: %v", err)
	}
	ts.http = httptest.NewServer(ts.router())

	t.Cleanup(func() {
		ts.http.Close()
		ts.hub.closeAll()
		_ = ts.drivers.Close()
		_ = st.Close()
	})
	return ts
}

func (ts *testServer) do(t *testing.T, method, path, body string) (int, []byte) {
	t.Helper()

	req, err := http.NewRequest(method, ts.http.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer res.Body.Close()

	b, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	return res.StatusCode, b
}

func decodeState(t *testing.T, b []byte) stateResponse {
	t.Helper()
	var s stateResponse
	if err := json.Unmarshal(b, &s); err != nil {
		t.Fatalf("decode state %q: %v", b, err)
	}
	return s
}

func TestDriveAndState(t *testing.T) {
	ts := newTestServer(t)

	code, body := ts.do(t, http.MethodPost, "/rpc/drive", `{"channel":"A","direction":"forward","speed":75}`)
	if code != http.StatusOK {
		t.Fatalf("drive: %d %s", code, body)
	}
	s := decodeState(t, body)
	if !s.Enabled || s.A.Direction != hardware.Forward || s.A.Speed != 75 || s.Backend != hardware.BackendSim {
		t.Fatalf("state=%+v", s)
	}

	code, body = ts.do(t, http.MethodPost, "/rpc/drive", `{"channel":"b","direction":"reverse","speed":40}`)
	if code != http.StatusOK {
		t.Fatalf("drive: %d %s", code, body)
	}

	code, body = ts.do(t, http.MethodGet, "/state", "")
	if code != http.StatusOK {
		t.Fatalf("state: %d %s", code, body)
	}
	s = decodeState(t, body)
	if s.B.Direction != hardware.Reverse || s.B.Speed != 40 || s.A.Speed != 75 {
		t.Fatalf("state=%+v", s)
	}

	code, body = ts.do(t, http.MethodPost, "/rpc/stopAll", "")
	if code != http.StatusOK {
		t.Fatalf("stopAll: %d %s", code, body)
	}
	s = decodeState(t, body)
	if s.A.Direction != hardware.Brake || s.B.Direction != hardware.Brake || s.A.Speed != 0 || s.B.Speed != 0 {
		t.Fatalf("state after stopAll=%+v", s)
	}

	code, body = ts.do(t, http.MethodPost, "/rpc/disable", "")
	if code != http.StatusOK || decodeState(t, body).Enabled {
		t.Fatalf("disable: %d %s", code, body)
	}
}

func TestDriveValidation(t *testing.T) {
	ts := newTestServer(t)

	cases := []struct {
		name string
		body string
	}{
		{"SpeedTooHigh", `{"channel":"A","direction":"forward","speed":101}`},
		{"NegativeSpeed", `{"channel":"A","direction":"forward","speed":-1}`},
		{"UnknownDirection", `{"channel":"A","direction":"sideways","speed":10}`},
		{"UnknownChannel", `{"channel":"C","direction":"forward","speed":10}`},
		{"NotJSON", `drive please`},
		{"MissingChannel", `{"direction":"forward","speed":10}`},
		{"MissingDirection", `{"channel":"B","speed":10}`},
		{"EmptyBody", `{}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			code, body := ts.do(t, http.MethodPost, "/rpc/drive", tc.body)
			if code != http.StatusUnprocessableEntity {
				t.Fatalf("code=%d body=%s want 422", code, body)
			}
		})
	}

	// nothing was committed
	s := ts.currentState()
	if s.Enabled || s.A.Speed != 0 || s.A.Direction != hardware.Coast {
		t.Fatalf("state=%+v", s)
	}
}

func TestShutdownThenCommand(t *testing.T) {
	ts := newTestServer(t)

	code, body := ts.do(t, http.MethodPost, "/rpc/shutdown", "")
	if code != http.StatusOK || !decodeState(t, body).Terminated {
		t.Fatalf("shutdown: %d %s", code, body)
	}

	code, body = ts.do(t, http.MethodPost, "/rpc/enable", "")
	if code != http.StatusConflict {
		t.Fatalf("enable after shutdown: %d %s want 409", code, body)
	}

	// shutting down twice is fine
	code, _ = ts.do(t, http.MethodPost, "/rpc/shutdown", "")
	if code != http.StatusOK {
		t.Fatalf("second shutdown: %d", code)
	}
}

func TestRunSequenceRecordsRun(t *testing.T) {
	ts := newTestServer(t)

	code, body := ts.do(t, http.MethodPost, "/rpc/runSequence", "")
	if code != http.StatusOK {
		t.Fatalf("runSequence: %d %s", code, body)
	}
	var run store.Run
	if err := json.Unmarshal(body, &run); err != nil {
		t.Fatalf("decode run: %v", err)
	}
	if run.ID != 1 || !run.Completed || run.Steps != 13 || run.Backend != hardware.BackendSim {
		t.Fatalf("run=%+v", run)
	}

	code, body = ts.do(t, http.MethodGet, "/runs?limit=5", "")
	if code != http.StatusOK {
		t.Fatalf("runs: %d %s", code, body)
	}
	var runs []store.Run
	if err := json.Unmarshal(body, &runs); err != nil {
		t.Fatalf("decode runs: %v", err)
	}
	if len(runs) != 1 || runs[0].ID != 1 {
		t.Fatalf("runs=%+v", runs)
	}

	code, _ = ts.do(t, http.MethodGet, "/runs?limit=x", "")
	if code != http.StatusUnprocessableEntity {
		t.Fatalf("bad limit: %d want 422", code)
	}
}

func TestRunSequenceAfterShutdown(t *testing.T) {
	ts := newTestServer(t)
	ts.do(t, http.MethodPost, "/rpc/shutdown", "")

	code, body := ts.do(t, http.MethodPost, "/rpc/runSequence", "")
	if code != http.StatusConflict {
		t.Fatalf("runSequence: %d %s want 409", code, body)
	}

	runs, err := ts.Store.ListRuns(0)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 1 || runs[0].Completed || runs[0].Error == "" {
		t.Fatalf("runs=%+v", runs)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// startLongSequence starts a sequence whose steps never end on their own and
// returns a channel that receives the runSequence status code.
func (ts *testServer) startLongSequence(t *testing.T) <-chan int {
	t.Helper()
	ts.Sequence.Step = time.Hour
	ts.Sequence.Pause = time.Hour

	codes := make(chan int, 1)
	go func() {
		res, err := http.Post(ts.http.URL+"/rpc/runSequence", "application/json", nil)
		if err != nil {
			codes <- 0
			return
		}
		res.Body.Close()
		codes <- res.StatusCode
	}()

	waitFor(t, "motor A to run", func() bool {
		return ts.currentState().A.Speed == 30
	})
	return codes
}

func TestStopAllDuringSequence(t *testing.T) {
	ts := newTestServer(t)
	codes := ts.startLongSequence(t)

	code, body := ts.do(t, http.MethodPost, "/rpc/runSequence", "")
	if code != http.StatusConflict {
		t.Fatalf("second runSequence: %d %s want 409", code, body)
	}

	start := time.Now()
	code, body = ts.do(t, http.MethodPost, "/rpc/stopAll", "")
	if code != http.StatusOK {
		t.Fatalf("stopAll: %d %s", code, body)
	}
	if took := time.Since(start); took > time.Second {
		t.Fatalf("stopAll took %s", took)
	}
	s := decodeState(t, body)
	if s.A.Direction != hardware.Brake || s.B.Direction != hardware.Brake || s.A.Speed != 0 || s.B.Speed != 0 {
		t.Fatalf("state after stopAll=%+v", s)
	}

	select {
	case code := <-codes:
		if code != http.StatusConflict {
			t.Fatalf("stopped runSequence: %d want 409", code)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("runSequence did not return after stopAll")
	}

	runs, err := ts.Store.ListRuns(0)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 1 || runs[0].Completed || runs[0].Steps != 0 {
		t.Fatalf("runs=%+v", runs)
	}

	// motors stay stopped once the sequence is gone
	time.Sleep(20 * time.Millisecond)
	if s := ts.currentState(); s.A.Speed != 0 || s.B.Speed != 0 {
		t.Fatalf("state=%+v", s)
	}

	// a new sequence can start
	ts.Sequence.Step, ts.Sequence.Pause = time.Millisecond, time.Millisecond
	code, body = ts.do(t, http.MethodPost, "/rpc/runSequence", "")
	if code != http.StatusOK {
		t.Fatalf("runSequence after stop: %d %s", code, body)
	}
}

func TestUpdateHardwareDuringSequence(t *testing.T) {
	ts := newTestServer(t)
	codes := ts.startLongSequence(t)

	start := time.Now()
	code, body := ts.do(t, http.MethodPost, "/rpc/updateHardware", "")
	if code != http.StatusOK {
		t.Fatalf("updateHardware: %d %s", code, body)
	}
	if took := time.Since(start); took > time.Second {
		t.Fatalf("updateHardware took %s", took)
	}
	if code := <-codes; code != http.StatusConflict {
		t.Fatalf("replaced runSequence: %d want 409", code)
	}

	code, body = ts.do(t, http.MethodPost, "/rpc/stopAll", "")
	if code != http.StatusOK {
		t.Fatalf("stopAll: %d %s", code, body)
	}
	if s := decodeState(t, body); s.Enabled || s.A.Speed != 0 {
		t.Fatalf("state on new driver=%+v", s)
	}
}

func TestRunInterruptStopsSequence(t *testing.T) {
	st, err := store.OpenBBolt(filepath.Join(t.TempDir(), "motorbench.db"), 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		t.Fatalf("OpenBBolt: %v", err)
	}
	defer st.Close()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}

	d := simDriver(t, hardware.Config{})
	srv := &Server{
		Listener: l,
		Store:    st,
		Logger:   quietLogger(),
		Driver:   d,
		Backend:  hardware.BackendSim,
		Sequence: sequence.Options{Step: time.Hour, Pause: time.Hour},
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runErrs := make(chan error, 1)
	go func() { runErrs <- srv.Run(ctx) }()

	go func() {
		res, err := http.Post("http://"+l.Addr().String()+"/rpc/runSequence", "application/json", nil)
		if err == nil {
			res.Body.Close()
		}
	}()

	waitFor(t, "motor A to run", func() bool {
		s := d.State()
		return s.A.Speed == 30 && s.A.Direction == hardware.Forward
	})

	cancel()
	select {
	case err := <-runErrs:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after interrupt")
	}

	s := d.State()
	if !s.Terminated || s.Enabled || s.A.Speed != 0 {
		t.Fatalf("state after interrupt=%+v", s)
	}

	runs, err := st.ListRuns(0)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 1 || runs[0].Completed {
		t.Fatalf("runs=%+v", runs)
	}
}

func TestHardwareConfig(t *testing.T) {
	ts := newTestServer(t)

	code, body := ts.do(t, http.MethodGet, "/hardware", "")
	if code != http.StatusOK {
		t.Fatalf("get hardware: %d %s", code, body)
	}
	var got hardware.Config
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got != (hardware.Config{}).WithDefaults() {
		t.Fatalf("hardware=%+v", got)
	}

	code, body = ts.do(t, http.MethodPut, "/hardware", `{"backend":"sim","pwmFrequency":-3}`)
	if code != http.StatusUnprocessableEntity {
		t.Fatalf("put invalid: %d %s want 422", code, body)
	}

	code, body = ts.do(t, http.MethodPut, "/hardware", `{"backend":"sim","pwmFrequency":500,"strictEnable":true}`)
	if code != http.StatusNoContent {
		t.Fatalf("put: %d %s", code, body)
	}

	code, body = ts.do(t, http.MethodPost, "/rpc/updateHardware", "")
	if code != http.StatusOK {
		t.Fatalf("updateHardware: %d %s", code, body)
	}
	opened := ts.openedConfigs()
	if len(opened) != 1 || opened[0].PWMFrequency != 500 || !opened[0].StrictEnable {
		t.Fatalf("opened=%+v", opened)
	}

	// the new driver is strict, so drive on it fails while disabled
	code, body = ts.do(t, http.MethodPost, "/rpc/drive", `{"channel":"A","direction":"forward","speed":10}`)
	if code != http.StatusConflict {
		t.Fatalf("drive on strict driver: %d %s want 409", code, body)
	}
}

func TestWebsocketStreamsState(t *testing.T) {
	ts := newTestServer(t)

	url := "ws" + strings.TrimPrefix(ts.http.URL, "http") + "/ws"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer ws.Close()

	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))

	var initial stateResponse
	if err := ws.ReadJSON(&initial); err != nil {
		t.Fatalf("read initial: %v", err)
	}
	if initial.Enabled || initial.Backend != hardware.BackendSim {
		t.Fatalf("initial=%+v", initial)
	}

	code, _ := ts.do(t, http.MethodPost, "/rpc/enable", "")
	if code != http.StatusOK {
		t.Fatalf("enable: %d", code)
	}

	var update stateResponse
	if err := ws.ReadJSON(&update); err != nil {
		t.Fatalf("read update: %v", err)
	}
	if !update.Enabled {
		t.Fatalf("update=%+v", update)
	}
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{gpio.Validationf("%w", bytes.ErrTooLarge), http.StatusUnprocessableEntity},
		{hardware.Lifecyclef("%w", bytes.ErrTooLarge), http.StatusConflict},
		{gpio.HardwareAccessf("%w", bytes.ErrTooLarge), http.StatusServiceUnavailable},
		{gpio.Configurationf("%w", bytes.ErrTooLarge), http.StatusInternalServerError},
		{io.EOF, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := statusFor(tc.err); got != tc.want {
			t.Errorf("statusFor(%T)=%d want %d", tc.err, got, tc.want)
		}
	}
}
