package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gloworm-vision/motorbench/config"
	"github.com/gloworm-vision/motorbench/hardware"
	"github.com/gloworm-vision/motorbench/hardware/platform"
	"github.com/gloworm-vision/motorbench/sequence"
	"github.com/gloworm-vision/motorbench/server"
	"github.com/gloworm-vision/motorbench/store"
	"github.com/gloworm-vision/motorbench/telemetry"
	"github.com/sirupsen/logrus"
)

func main() {
	var configPath, mode string
	flag.StringVar(&configPath, "config", "./motorbench.yaml", "Path to YAML config")
	flag.StringVar(&mode, "mode", "shell", "auto (run the test sequence once), shell or serve")
	flag.Parse()

	if err := run(configPath, mode); err != nil {
		logrus.Fatal(err)
	}
}

func run(configPath, mode string) error {
	switch mode {
	case "auto", "shell", "serve":
	default:
		return fmt.Errorf("unknown mode %q", mode)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	logger := cfg.Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(cfg.Store.Backend, cfg.Store.Path)
	if err != nil {
		return err
	}
	defer st.Close()

	hw := cfg.Hardware
	stored, err := st.HardwareConfig()
	switch {
	case err == nil:
		logger.Info("using stored hardware config")
		hw = stored
	case !errors.Is(err, store.ErrNotFound):
		logger.WithError(err).Warn("unable to read stored hardware config")
	}

	d, backend, err := platform.OpenDriver(hw, logger)
	if err != nil {
		return fmt.Errorf("unable to set up motor driver: %w", err)
	}
	defer func() {
		if err := d.Shutdown(); err != nil {
			logger.WithError(err).Error("motor driver shutdown failed")
		}
	}()

	var observers []func(hardware.State)
	if cfg.MQTT.Enable {
		pub := telemetry.Connect(telemetry.Options{
			Broker:   cfg.MQTT.Broker,
			Topic:    cfg.MQTT.Topic,
			ClientID: cfg.MQTT.ClientID,
		}, logger)
		defer pub.Close()
		observers = append(observers, pub.Publish)
	}

	seq := sequence.Options{
		Step:      cfg.Sequence.Step,
		Pause:     cfg.Sequence.Pause,
		Speed:     cfg.Sequence.Speed,
		BothSpeed: cfg.Sequence.BothSpeed,
		Logger:    logger.WithField("component", "sequence"),
	}

	if mode == "serve" {
		srv := server.Server{
			Addr:      cfg.Server.Addr,
			Store:     st,
			Logger:    logger,
			Driver:    d,
			Backend:   backend,
			Hardware:  cfg.Hardware,
			Sequence:  seq,
			Observers: observers,
		}
		return srv.Run(ctx)
	}

	for _, o := range observers {
		d.Observe(o)
	}

	b := &bench{driver: d, backend: backend, pins: hw.WithDefaults().Pins, store: st, sequence: seq, logger: logger}
	if mode == "auto" {
		return b.runSequence(ctx)
	}
	return b.shell(ctx)
}
