package hardware

import (
	"fmt"
	"strings"
)

// Backend names the GPIO implementation a driver runs on.
type Backend string

const (
	// BackendAuto lets the platform detector pick a backend at startup.
	BackendAuto Backend = "auto"
	// BackendPigpio talks to a running pigpio daemon over its socket interface.
	BackendPigpio Backend = "pigpio"
	// BackendCdev uses the Linux GPIO character device and sysfs hardware PWM.
	BackendCdev Backend = "cdev"
	// BackendSim records pin transitions in memory.
	BackendSim Backend = "sim"
)

// Config describes the hardware a motor driver is built on. It is what the
// config file, the store and the HTTP server exchange.
type Config struct {
	Backend      Backend       `json:"backend" yaml:"backend"`
	PigpioAddr   string        `json:"pigpioAddr" yaml:"pigpio_addr"`
	GPIOChip     string        `json:"gpioChip" yaml:"gpio_chip"`
	PWMSysfs     string        `json:"pwmSysfs" yaml:"pwm_sysfs"`
	PWMFrequency int           `json:"pwmFrequency" yaml:"pwm_frequency"`
	StrictEnable bool          `json:"strictEnable" yaml:"strict_enable"`
	Pins         PinAssignment `json:"pins" yaml:"pins"`
}

const (
	DefaultPigpioAddr   = "localhost:8888"
	DefaultGPIOChip     = "/dev/gpiochip0"
	DefaultPWMSysfs     = "/sys/class/pwm"
	DefaultPWMFrequency = 1000
)

// WithDefaults fills every unset field.
func (c Config) WithDefaults() Config {
	c.Backend = Backend(strings.ToLower(strings.TrimSpace(string(c.Backend))))
	if c.Backend == "" {
		c.Backend = BackendAuto
	}
	if c.PigpioAddr == "" {
		c.PigpioAddr = DefaultPigpioAddr
	}
	if c.GPIOChip == "" {
		c.GPIOChip = DefaultGPIOChip
	}
	if c.PWMSysfs == "" {
		c.PWMSysfs = DefaultPWMSysfs
	}
	if c.PWMFrequency == 0 {
		c.PWMFrequency = DefaultPWMFrequency
	}
	if c.Pins == (PinAssignment{}) {
		c.Pins = DefaultPins
	}
	return c
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	switch c.Backend {
	case BackendAuto, BackendPigpio, BackendCdev, BackendSim:
	default:
		return fmt.Errorf("hardware.backend must be one of auto, pigpio, cdev, sim")
	}
	if c.PWMFrequency <= 0 {
		return fmt.Errorf("hardware.pwm_frequency must be > 0")
	}
	if err := c.Pins.Validate(); err != nil {
		return fmt.Errorf("hardware.pins: %w", err)
	}
	return nil
}
