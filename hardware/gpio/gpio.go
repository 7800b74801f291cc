package gpio

import "fmt"

// Level describes the binary state of a GPIO pin: either LOW or HIGH.
type Level bool

const (
	Low  Level = false
	High Level = true
)

func (l Level) String() string {
	if l {
		return "HIGH"
	}
	return "LOW"
}

// GPIO is the pin abstraction every motor component talks to. Pins are
// identified by their BCM number.
type GPIO interface {
	// Write sets a pin to LOW or HIGH
	Write(pin int, level Level) error

	// ConfigurePWM declares pin as a hardware PWM output at frequency Hz. It
	// must be called exactly once per pin before SetPWMDuty.
	ConfigurePWM(pin int, frequency int) error

	// SetPWMDuty sets the duty cycle of a configured PWM pin in percent (0 - 100).
	SetPWMDuty(pin int, percent float64) error

	// Close drives every pin it has touched LOW and releases the underlying
	// handles. Calling it more than once is safe.
	Close() error
}

// ValidatePercent rejects duty cycles outside [0, 100].
func ValidatePercent(percent float64) error {
	if percent < 0 || percent > 100 || percent != percent {
		return ValidationError{fmt.Errorf("duty cycle %v outside [0, 100]", percent)}
	}
	return nil
}
