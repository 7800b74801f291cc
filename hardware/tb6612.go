package hardware

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/gloworm-vision/motorbench/hardware/gpio"
	"github.com/sirupsen/logrus"
)

// ChannelID selects one of the driver's two motor channels.
type ChannelID int

const (
	ChannelA ChannelID = iota
	ChannelB
)

func (id ChannelID) String() string {
	switch id {
	case ChannelA:
		return "A"
	case ChannelB:
		return "B"
	}
	return fmt.Sprintf("ChannelID(%d)", int(id))
}

// ParseChannel accepts "a" or "b" in either case.
func ParseChannel(s string) (ChannelID, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "A":
		return ChannelA, nil
	case "B":
		return ChannelB, nil
	}
	return 0, gpio.Validationf("unknown motor channel %q", s)
}

func (id ChannelID) MarshalText() ([]byte, error) {
	if id != ChannelA && id != ChannelB {
		return nil, fmt.Errorf("invalid channel %d", int(id))
	}
	return []byte(id.String()), nil
}

func (id *ChannelID) UnmarshalText(text []byte) error {
	v, err := ParseChannel(string(text))
	if err != nil {
		return err
	}
	*id = v
	return nil
}

// ChannelState is a snapshot of one channel.
type ChannelState struct {
	Direction Direction `json:"direction"`
	Speed     float64   `json:"speed"`
}

// State is a snapshot of the whole driver.
type State struct {
	Enabled    bool         `json:"enabled"`
	Terminated bool         `json:"terminated"`
	A          ChannelState `json:"a"`
	B          ChannelState `json:"b"`
}

// DriverOptions tunes a Driver. The zero value drives PWM at 1 kHz and
// enables the driver on the first drive command.
type DriverOptions struct {
	// PWMFrequency in Hz for both PWM inputs.
	PWMFrequency int
	// StrictEnable makes Drive fail on a disabled driver instead of enabling it.
	StrictEnable bool
	Logger       logrus.FieldLogger
}

// Driver is a TB6612FNG dual H-bridge: two motor channels sharing one standby
// line. All methods are safe for concurrent use; every command runs under a
// single lock so a direction write and its speed write are never interleaved
// with another caller's command.
//
// The driver owns its GPIO. Shutdown releases it, and after Shutdown every
// command fails with a LifecycleError.
type Driver struct {
	mu     sync.Mutex
	gpio   gpio.GPIO
	pins   PinAssignment
	strict bool
	logger logrus.FieldLogger

	a, b *Channel

	enabled    bool
	terminated bool

	observers []func(State)
}

// NewDriver claims every pin in pins, leaves the driver disabled with both
// channels coasting, and starts PWM at zero duty. If any of that fails the
// GPIO is closed before the error is returned.
func NewDriver(g gpio.GPIO, pins PinAssignment, opts DriverOptions) (*Driver, error) {
	if g == nil {
		return nil, errors.New("gpio is nil")
	}
	if err := pins.Validate(); err != nil {
		return nil, err
	}
	if opts.PWMFrequency == 0 {
		opts.PWMFrequency = DefaultPWMFrequency
	}
	if opts.Logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		opts.Logger = l
	}

	d := &Driver{
		gpio:   g,
		pins:   pins,
		strict: opts.StrictEnable,
		logger: opts.Logger,
		a:      newChannel("A", g, pins.AIN1, pins.AIN2, pins.PWMA),
		b:      newChannel("B", g, pins.BIN1, pins.BIN2, pins.PWMB),
	}

	if err := d.setup(opts.PWMFrequency); err != nil {
		return nil, errors.Join(err, g.Close())
	}

	d.logger.WithField("pins", fmt.Sprintf("%+v", pins)).Info("motor driver ready (standby)")

	return d, nil
}

func (d *Driver) setup(frequency int) error {
	if err := d.gpio.Write(d.pins.STBY, gpio.Low); err != nil {
		return fmt.Errorf("can't hold driver in standby: %w", err)
	}
	for _, pin := range []int{d.pins.AIN1, d.pins.AIN2, d.pins.BIN1, d.pins.BIN2} {
		if err := d.gpio.Write(pin, gpio.Low); err != nil {
			return fmt.Errorf("can't set up direction pin %d: %w", pin, err)
		}
	}
	for _, pin := range []int{d.pins.PWMA, d.pins.PWMB} {
		if err := d.gpio.ConfigurePWM(pin, frequency); err != nil {
			return fmt.Errorf("can't configure pwm on pin %d: %w", pin, err)
		}
		if err := d.gpio.SetPWMDuty(pin, 0); err != nil {
			return fmt.Errorf("can't zero pwm on pin %d: %w", pin, err)
		}
	}
	return nil
}

// Observe registers fn to be called with the new state after every command
// that changes it. fn runs outside the driver lock.
func (d *Driver) Observe(fn func(State)) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.observers = append(d.observers, fn)
}

// command runs fn under the driver lock and notifies observers if the state
// changed.
func (d *Driver) command(fn func() error) error {
	d.mu.Lock()
	before := d.stateLocked()
	err := fn()
	after := d.stateLocked()
	observers := d.observers
	d.mu.Unlock()

	if before != after {
		for _, o := range observers {
			o(after)
		}
	}
	return err
}

func (d *Driver) checkAlive() error {
	if d.terminated {
		return LifecycleError{errors.New("motor driver has been shut down")}
	}
	return nil
}

// fail handles a hardware access error in the middle of a command: the GPIO
// can no longer be trusted, so the driver is torn down as far as possible.
func (d *Driver) fail(err error) error {
	if !errors.Is(err, gpio.HardwareAccessError{}) {
		return err
	}

	d.logger.WithError(err).Error("hardware access failed, releasing gpio")
	_ = d.gpio.Write(d.pins.STBY, gpio.Low)
	_ = d.gpio.Close()
	d.enabled = false
	d.terminated = true

	return err
}

func (d *Driver) channel(id ChannelID) (*Channel, error) {
	switch id {
	case ChannelA:
		return d.a, nil
	case ChannelB:
		return d.b, nil
	}
	return nil, gpio.Validationf("unknown motor channel %d", int(id))
}

// Enable takes the driver out of standby. Channels resume whatever direction
// and speed they were last given.
func (d *Driver) Enable() error {
	return d.command(func() error {
		if err := d.checkAlive(); err != nil {
			return err
		}
		return d.fail(d.enableLocked())
	})
}

func (d *Driver) enableLocked() error {
	if err := d.gpio.Write(d.pins.STBY, gpio.High); err != nil {
		return fmt.Errorf("can't enable driver: %w", err)
	}
	if !d.enabled {
		d.logger.Info("motor driver enabled")
	}
	d.enabled = true
	return nil
}

// Disable puts the driver in standby. Channel direction and speed are kept.
func (d *Driver) Disable() error {
	return d.command(func() error {
		if err := d.checkAlive(); err != nil {
			return err
		}
		return d.fail(d.disableLocked())
	})
}

func (d *Driver) disableLocked() error {
	if err := d.gpio.Write(d.pins.STBY, gpio.Low); err != nil {
		return fmt.Errorf("can't disable driver: %w", err)
	}
	if d.enabled {
		d.logger.Info("motor driver disabled")
	}
	d.enabled = false
	return nil
}

// Drive sets direction and then speed on one channel. Arguments are checked
// before any pin is written, so a rejected command changes nothing. A
// disabled driver is enabled first unless StrictEnable was set.
func (d *Driver) Drive(id ChannelID, dir Direction, speed float64) error {
	return d.command(func() error {
		if err := d.checkAlive(); err != nil {
			return err
		}
		c, err := d.channel(id)
		if err != nil {
			return err
		}
		if !dir.valid() {
			return gpio.Validationf("invalid direction %d", int(dir))
		}
		if err := ValidateSpeed(speed); err != nil {
			return err
		}

		if !d.enabled {
			if d.strict {
				return LifecycleError{errors.New("motor driver is disabled")}
			}
			if err := d.enableLocked(); err != nil {
				return d.fail(err)
			}
		}

		if err := c.SetDirection(dir); err != nil {
			return d.fail(err)
		}
		if err := c.SetSpeed(speed); err != nil {
			return d.fail(err)
		}

		d.logger.WithField("channel", id.String()).Debugf("motor %s: %s at %.0f%%", id, dir, speed)
		return nil
	})
}

// StopAll brakes both channels. The driver stays enabled.
func (d *Driver) StopAll() error {
	return d.command(func() error {
		if err := d.checkAlive(); err != nil {
			return err
		}
		return d.fail(d.stopAllLocked())
	})
}

func (d *Driver) stopAllLocked() error {
	errA := d.a.Stop()
	if errors.Is(errA, gpio.HardwareAccessError{}) {
		return errA
	}
	return errors.Join(errA, d.b.Stop())
}

// Shutdown brakes both motors, puts the driver in standby and releases the
// GPIO. It is safe to call more than once; only the first call touches the
// pins. Every other command fails afterwards.
func (d *Driver) Shutdown() error {
	return d.command(func() error {
		if d.terminated {
			return nil
		}
		d.terminated = true

		errStop := d.stopAllLocked()
		errStandby := d.gpio.Write(d.pins.STBY, gpio.Low)
		d.enabled = false
		errClose := d.gpio.Close()

		d.logger.Info("motor driver shut down")

		return errors.Join(errStop, errStandby, errClose)
	})
}

// Direction reports the current direction of a channel.
func (d *Driver) Direction(id ChannelID) (Direction, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	c, err := d.channel(id)
	if err != nil {
		return 0, err
	}
	return c.Direction(), nil
}

// Speed reports the duty cycle currently applied to a channel.
func (d *Driver) Speed(id ChannelID) (float64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	c, err := d.channel(id)
	if err != nil {
		return 0, err
	}
	return c.Speed(), nil
}

func (d *Driver) Enabled() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.enabled
}

func (d *Driver) Terminated() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.terminated
}

func (d *Driver) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.stateLocked()
}

func (d *Driver) stateLocked() State {
	return State{
		Enabled:    d.enabled,
		Terminated: d.terminated,
		A:          d.a.state(),
		B:          d.b.state(),
	}
}
