package hardware

import (
	"fmt"
	"strings"

	"github.com/gloworm-vision/motorbench/hardware/gpio"
)

// Direction is the state of an H-bridge's two direction inputs.
type Direction int

const (
	Coast Direction = iota
	Forward
	Reverse
	Brake
)

var directionNames = map[Direction]string{
	Coast:   "coast",
	Forward: "forward",
	Reverse: "reverse",
	Brake:   "brake",
}

func (d Direction) String() string {
	if name, ok := directionNames[d]; ok {
		return name
	}
	return fmt.Sprintf("Direction(%d)", int(d))
}

// Levels returns the levels for the IN1 and IN2 inputs of a channel.
func (d Direction) Levels() (in1, in2 gpio.Level) {
	switch d {
	case Forward:
		return gpio.High, gpio.Low
	case Reverse:
		return gpio.Low, gpio.High
	case Brake:
		return gpio.High, gpio.High
	default:
		return gpio.Low, gpio.Low
	}
}

// drives reports whether the bridge passes PWM through to the motor.
func (d Direction) drives() bool {
	return d == Forward || d == Reverse
}

func (d Direction) valid() bool {
	_, ok := directionNames[d]
	return ok
}

// ParseDirection accepts the direction names plus "backward" and "stop", the
// words the bench operators are used to.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "forward", "fwd":
		return Forward, nil
	case "reverse", "backward", "back":
		return Reverse, nil
	case "brake", "stop":
		return Brake, nil
	case "coast":
		return Coast, nil
	}
	return 0, gpio.Validationf("unknown direction %q", s)
}

func (d Direction) MarshalText() ([]byte, error) {
	if !d.valid() {
		return nil, fmt.Errorf("invalid direction %d", int(d))
	}
	return []byte(d.String()), nil
}

func (d *Direction) UnmarshalText(text []byte) error {
	v, err := ParseDirection(string(text))
	if err != nil {
		return err
	}
	*d = v
	return nil
}

// ValidateSpeed rejects speeds outside [0, 100] percent.
func ValidateSpeed(speed float64) error {
	if speed < 0 || speed > 100 || speed != speed {
		return gpio.Validationf("speed %v outside [0, 100]", speed)
	}
	return nil
}

// Channel is one half of the TB6612FNG: two direction inputs and a PWM input.
//
// While the direction is Brake or Coast the PWM output is held at zero, and a
// speed set in that state is accepted without being applied. Leaving Brake or
// Coast does not restore any earlier speed; it must be set again.
type Channel struct {
	name string
	gpio gpio.GPIO

	in1, in2, pwm int

	direction Direction
	speed     float64
}

func newChannel(name string, g gpio.GPIO, in1, in2, pwm int) *Channel {
	return &Channel{name: name, gpio: g, in1: in1, in2: in2, pwm: pwm}
}

// SetDirection writes the direction inputs. Entering Brake or Coast zeroes
// the PWM output first.
func (c *Channel) SetDirection(d Direction) error {
	if !d.valid() {
		return gpio.Validationf("motor %s: invalid direction %d", c.name, int(d))
	}

	if !d.drives() && c.speed != 0 {
		if err := c.gpio.SetPWMDuty(c.pwm, 0); err != nil {
			return fmt.Errorf("motor %s: can't zero pwm: %w", c.name, err)
		}
		c.speed = 0
	}

	in1, in2 := d.Levels()
	if err := c.gpio.Write(c.in1, in1); err != nil {
		return fmt.Errorf("motor %s: can't set in1: %w", c.name, err)
	}
	if err := c.gpio.Write(c.in2, in2); err != nil {
		return fmt.Errorf("motor %s: can't set in2: %w", c.name, err)
	}
	c.direction = d

	return nil
}

// SetSpeed sets the PWM duty cycle in percent. In Brake or Coast it validates
// and returns without touching the pin.
func (c *Channel) SetSpeed(speed float64) error {
	if err := ValidateSpeed(speed); err != nil {
		return fmt.Errorf("motor %s: %w", c.name, err)
	}
	if !c.direction.drives() {
		return nil
	}

	if err := c.gpio.SetPWMDuty(c.pwm, speed); err != nil {
		return fmt.Errorf("motor %s: can't set pwm: %w", c.name, err)
	}
	c.speed = speed

	return nil
}

// Stop brakes the motor.
func (c *Channel) Stop() error {
	if err := c.SetDirection(Brake); err != nil {
		return err
	}
	return c.SetSpeed(0)
}

func (c *Channel) Direction() Direction { return c.direction }

// Speed is the duty cycle currently applied to the PWM pin.
func (c *Channel) Speed() float64 { return c.speed }

func (c *Channel) state() ChannelState {
	return ChannelState{Direction: c.direction, Speed: c.speed}
}
