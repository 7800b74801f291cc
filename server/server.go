// Package server exposes the motor driver over HTTP: JSON commands, run
// history, hardware configuration and a websocket stream of driver state.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gloworm-vision/motorbench/hardware"
	"github.com/gloworm-vision/motorbench/hardware/platform"
	"github.com/gloworm-vision/motorbench/sequence"
	"github.com/gloworm-vision/motorbench/store"
	"github.com/julienschmidt/httprouter"
	"github.com/sirupsen/logrus"
)

type Server struct {
	Addr string
	// Listener is served instead of listening on Addr when set.
	Listener net.Listener

	Store  store.Store
	Logger *logrus.Logger

	// Driver and Backend are the driver the server starts with. The server
	// owns the driver from then on and shuts it down when Run returns.
	Driver  *hardware.Driver
	Backend hardware.Backend

	// Hardware is served and used for rebuilds when the store holds no
	// hardware config.
	Hardware hardware.Config
	Sequence sequence.Options

	// OpenDriver builds a driver for /rpc/updateHardware. Defaults to
	// platform.OpenDriver.
	OpenDriver func(hardware.Config, logrus.FieldLogger) (*hardware.Driver, hardware.Backend, error)
	// Observers are called with the driver state after every change.
	Observers []func(hardware.State)

	drivers   *driverManager
	hub       *hub
	sequences *runManager
	// stopSequences cancels the running sequence and every later one. Run
	// calls it on shutdown so a sequence never outlives the server.
	stopSequences context.CancelFunc
}

func (s *Server) Run(ctx context.Context) error {
	if err := s.init(); err != nil {
		return fmt.Errorf("unable to initialize: %w", err)
	}
	defer func() {
		s.stopSequences()
		s.hub.closeAll()
		if err := s.drivers.Close(); err != nil {
			s.Logger.WithError(err).Error("motor driver shutdown failed")
		}
	}()

	httpServer := &http.Server{
		Addr:              s.Addr,
		Handler:           s.router(),
		ReadTimeout:       time.Second * 15,
		ReadHeaderTimeout: time.Second * 15,
		IdleTimeout:       time.Second * 30,
		MaxHeaderBytes:    4096,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	listenErrs := make(chan error, 1)
	go func() {
		if s.Listener != nil {
			s.Logger.WithField("addr", s.Listener.Addr().String()).Info("serving http")
			listenErrs <- httpServer.Serve(s.Listener)
			return
		}
		s.Logger.WithField("addr", s.Addr).Info("serving http")
		listenErrs <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-listenErrs:
		return err
	case <-ctx.Done():
		// Shutdown waits for handlers, so a running sequence is stopped first.
		s.stopSequences()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	}
}

func (s *Server) init() error {
	if s.Driver == nil {
		return errors.New("no motor driver")
	}
	if s.Store == nil {
		return errors.New("no store")
	}
	if s.Logger == nil {
		s.Logger = logrus.New()
	}
	if s.OpenDriver == nil {
		s.OpenDriver = platform.OpenDriver
	}
	if s.Sequence.Logger == nil {
		s.Sequence.Logger = s.Logger.WithField("component", "sequence")
	}

	s.hub = newHub(s.Logger.WithField("component", "ws"))

	base, cancel := context.WithCancel(context.Background())
	s.sequences = newRunManager(base)
	s.stopSequences = cancel

	observers := append([]func(hardware.State){s.publishState}, s.Observers...)
	s.drivers = newDriverManager(s.Driver, s.Backend, observers...)

	return nil
}

func (s *Server) router() http.Handler {
	mux := httprouter.New()

	mux.HandlerFunc(http.MethodGet, "/state", s.getState)
	mux.HandlerFunc(http.MethodGet, "/ws", s.websocket)

	mux.HandlerFunc(http.MethodPost, "/rpc/enable", s.enable)
	mux.HandlerFunc(http.MethodPost, "/rpc/disable", s.disable)
	mux.HandlerFunc(http.MethodPost, "/rpc/drive", s.drive)
	mux.HandlerFunc(http.MethodPost, "/rpc/stopAll", s.stopAll)
	mux.HandlerFunc(http.MethodPost, "/rpc/shutdown", s.shutdown)

	mux.HandlerFunc(http.MethodPost, "/rpc/runSequence", s.runSequence)
	mux.HandlerFunc(http.MethodGet, "/runs", s.runs)

	mux.HandlerFunc(http.MethodGet, "/hardware", s.getHardware)
	mux.HandlerFunc(http.MethodPut, "/hardware", s.putHardware)
	mux.HandlerFunc(http.MethodPost, "/rpc/updateHardware", s.updateHardware)

	return mux
}

// hardwareConfig returns the stored hardware config, or s.Hardware when none
// has been stored.
func (s *Server) hardwareConfig() (hardware.Config, error) {
	config, err := s.Store.HardwareConfig()
	if errors.Is(err, store.ErrNotFound) {
		return s.Hardware.WithDefaults(), nil
	}
	return config, err
}
