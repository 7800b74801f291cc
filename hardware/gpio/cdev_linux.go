//go:build linux

package gpio

import (
	"errors"
	"fmt"
	"sync"

	"github.com/warthog618/go-gpiocdev"
)

const cdevConsumer = "motorbench"

// Cdev drives digital pins through the Linux GPIO character device and PWM
// pins through the kernel's sysfs PWM interface.
type Cdev struct {
	mu    sync.Mutex
	chip  *gpiocdev.Chip
	lines map[int]*gpiocdev.Line
	pwm   map[int]*sysfsPWM

	pwmBase string
}

var _ GPIO = &Cdev{}

// OpenCdev opens the gpio chip at chipPath (e.g. /dev/gpiochip0). PWM
// channels are looked up under pwmBase (normally /sys/class/pwm).
func OpenCdev(chipPath, pwmBase string) (*Cdev, error) {
	chip, err := gpiocdev.NewChip(chipPath, gpiocdev.WithConsumer(cdevConsumer))
	if err != nil {
		return nil, HardwareAccessError{fmt.Errorf("unable to open gpio chip %s: %w", chipPath, err)}
	}

	return &Cdev{
		chip:    chip,
		lines:   make(map[int]*gpiocdev.Line),
		pwm:     make(map[int]*sysfsPWM),
		pwmBase: pwmBase,
	}, nil
}

func (c *Cdev) Write(pin int, level Level) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.chip == nil {
		return HardwareAccessError{fmt.Errorf("gpio chip is closed")}
	}

	v := 0
	if level {
		v = 1
	}

	line, ok := c.lines[pin]
	if !ok {
		// Pi kernels name header lines "GPIO<n>"; fall back to the BCM number as offset.
		offset, err := c.chip.FindLine(fmt.Sprintf("GPIO%d", pin))
		if err != nil {
			offset = pin
		}
		line, err = c.chip.RequestLine(offset, gpiocdev.AsOutput(v), gpiocdev.WithConsumer(cdevConsumer))
		if err != nil {
			return HardwareAccessError{fmt.Errorf("unable to claim gpio %d (busy or not permitted): %w", pin, err)}
		}
		c.lines[pin] = line
		return nil
	}

	if err := line.SetValue(v); err != nil {
		return HardwareAccessError{fmt.Errorf("unable to set gpio %d: %w", pin, err)}
	}
	return nil
}

func (c *Cdev) ConfigurePWM(pin int, frequency int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.chip == nil {
		return HardwareAccessError{fmt.Errorf("gpio chip is closed")}
	}
	if _, ok := c.pwm[pin]; ok {
		return ConfigurationError{fmt.Errorf("pin %d is already configured for pwm", pin)}
	}
	if frequency <= 0 {
		return ValidationError{fmt.Errorf("invalid pwm frequency %d", frequency)}
	}

	channel, err := pwmChannel(pin)
	if err != nil {
		return err
	}

	d, err := openSysfsPWM(c.pwmBase, channel)
	if err != nil {
		return HardwareAccessError{err}
	}
	if err := d.setFrequency(frequency); err != nil {
		return HardwareAccessError{err}
	}
	c.pwm[pin] = d

	return nil
}

func (c *Cdev) SetPWMDuty(pin int, percent float64) error {
	if err := ValidatePercent(percent); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	d, ok := c.pwm[pin]
	if !ok {
		return ConfigurationError{fmt.Errorf("pin %d is not configured for pwm", pin)}
	}
	if err := d.setDuty(percent); err != nil {
		return HardwareAccessError{err}
	}
	return nil
}

// Close zeroes and releases PWM channels, drives claimed lines LOW and closes
// the chip.
func (c *Cdev) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.chip == nil {
		return nil
	}

	var errs []error
	for pin, d := range c.pwm {
		if err := d.close(); err != nil {
			errs = append(errs, fmt.Errorf("release pwm on pin %d: %w", pin, err))
		}
		delete(c.pwm, pin)
	}
	for pin, line := range c.lines {
		if err := line.SetValue(0); err != nil {
			errs = append(errs, fmt.Errorf("drive gpio %d low: %w", pin, err))
		}
		if err := line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("release gpio %d: %w", pin, err))
		}
		delete(c.lines, pin)
	}
	if err := c.chip.Close(); err != nil {
		errs = append(errs, err)
	}
	c.chip = nil

	return errors.Join(errs...)
}
