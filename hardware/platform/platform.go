// Package platform decides at startup whether the motor driver runs on real
// GPIO or on the simulator, and builds the driver on the chosen backend.
package platform

import (
	"errors"
	"fmt"
	"net"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/gloworm-vision/motorbench/hardware"
	"github.com/gloworm-vision/motorbench/hardware/gpio"
	"github.com/sirupsen/logrus"
)

const dialTimeout = 500 * time.Millisecond

// Host checks, replaced in tests.
var (
	goos            = runtime.GOOS
	goarch          = runtime.GOARCH
	readModelFn     = readModel
	pigpioReachable = dialable
	cdevAccessible  = chipWritable
)

var modelPaths = []string{
	"/sys/firmware/devicetree/base/model",
	"/proc/device-tree/model",
}

// readModel returns the device-tree model string, or "" when there is none.
func readModel() string {
	for _, p := range modelPaths {
		b, err := os.ReadFile(p)
		if err != nil {
			continue
		}
		return strings.Trim(strings.TrimSpace(string(b)), "\x00")
	}
	return ""
}

func dialable(addr string) bool {
	conn, err := net.DialTimeout("tcp", addr, dialTimeout)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

// IsTargetBoard reports whether this process runs on a Raspberry Pi.
func IsTargetBoard() bool {
	if goos != "linux" {
		return false
	}
	if goarch != "arm" && goarch != "arm64" {
		return false
	}
	return strings.Contains(readModelFn(), "Raspberry Pi")
}

// Detect picks the backend to run on. It never fails: anything short of a
// Raspberry Pi with an accessible backend yields the simulator.
func Detect(cfg hardware.Config) hardware.Backend {
	cfg = cfg.WithDefaults()

	if cfg.Backend == hardware.BackendSim || !IsTargetBoard() {
		return hardware.BackendSim
	}

	switch cfg.Backend {
	case hardware.BackendPigpio:
		if pigpioReachable(cfg.PigpioAddr) {
			return hardware.BackendPigpio
		}
	case hardware.BackendCdev:
		if cdevAccessible(cfg.GPIOChip) {
			return hardware.BackendCdev
		}
	case hardware.BackendAuto:
		if pigpioReachable(cfg.PigpioAddr) {
			return hardware.BackendPigpio
		}
		if cdevAccessible(cfg.GPIOChip) {
			return hardware.BackendCdev
		}
	}

	return hardware.BackendSim
}

// orDiscard returns logger, or a logger that drops everything when it is nil.
func orDiscard(logger logrus.FieldLogger) logrus.FieldLogger {
	if logger != nil {
		return logger
	}
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

// Open constructs the GPIO for backend. A nil logger discards the sim trace.
func Open(backend hardware.Backend, cfg hardware.Config, logger logrus.FieldLogger) (gpio.GPIO, error) {
	cfg = cfg.WithDefaults()
	logger = orDiscard(logger)

	switch backend {
	case hardware.BackendPigpio:
		p, err := gpio.DialPigpio(cfg.PigpioAddr, dialTimeout)
		if err != nil {
			return nil, err
		}
		return p, nil
	case hardware.BackendCdev:
		c, err := gpio.OpenCdev(cfg.GPIOChip, cfg.PWMSysfs)
		if err != nil {
			return nil, err
		}
		return c, nil
	case hardware.BackendSim:
		return gpio.NewSim(logger.WithField("gpio", "sim")), nil
	}
	return nil, fmt.Errorf("no gpio backend %q", backend)
}

// OpenDriver detects the platform and builds a motor driver on it. When the
// real backend cannot be claimed the driver is rebuilt on a fresh simulator;
// the returned backend says which one is in use. logger may be nil.
func OpenDriver(cfg hardware.Config, logger logrus.FieldLogger) (*hardware.Driver, hardware.Backend, error) {
	logger = orDiscard(logger)
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, "", err
	}

	backend := Detect(cfg)
	logger.WithField("backend", backend).Info("gpio backend selected")

	d, err := openDriver(backend, cfg, logger)
	if err == nil {
		return d, backend, nil
	}
	if backend == hardware.BackendSim || !errors.Is(err, gpio.HardwareAccessError{}) {
		return nil, backend, err
	}

	logger.WithError(err).Warnf("unable to use %s gpio, falling back to simulation", backend)
	d, err = openDriver(hardware.BackendSim, cfg, logger)
	if err != nil {
		return nil, hardware.BackendSim, err
	}
	return d, hardware.BackendSim, nil
}

func openDriver(backend hardware.Backend, cfg hardware.Config, logger logrus.FieldLogger) (*hardware.Driver, error) {
	g, err := Open(backend, cfg, logger)
	if err != nil {
		return nil, err
	}

	return hardware.NewDriver(g, cfg.Pins, hardware.DriverOptions{
		PWMFrequency: cfg.PWMFrequency,
		StrictEnable: cfg.StrictEnable,
		Logger:       logger.WithField("backend", backend),
	})
}
