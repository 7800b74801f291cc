package gpio

import "fmt"

// ValidationError is returned when a request carries an out of range value.
// Nothing is written to any pin when it is returned.
type ValidationError struct {
	error
}

func (err ValidationError) Is(target error) bool {
	_, ok := target.(ValidationError)
	return ok
}

func (err ValidationError) Unwrap() error { return err.error }

// ConfigurationError is returned when a pin is used in a way it was not set up
// for, such as setting a duty cycle on a pin that was never configured for PWM.
type ConfigurationError struct {
	error
}

func (err ConfigurationError) Is(target error) bool {
	_, ok := target.(ConfigurationError)
	return ok
}

func (err ConfigurationError) Unwrap() error { return err.error }

// HardwareAccessError is returned when a real backend cannot claim or drive a
// pin. The backend that returned it should not be trusted afterwards.
type HardwareAccessError struct {
	error
}

func (err HardwareAccessError) Is(target error) bool {
	_, ok := target.(HardwareAccessError)
	return ok
}

func (err HardwareAccessError) Unwrap() error { return err.error }

// Validationf formats a ValidationError. It wraps like fmt.Errorf.
func Validationf(format string, a ...interface{}) error {
	return ValidationError{fmt.Errorf(format, a...)}
}

// Configurationf formats a ConfigurationError. It wraps like fmt.Errorf.
func Configurationf(format string, a ...interface{}) error {
	return ConfigurationError{fmt.Errorf(format, a...)}
}

// HardwareAccessf formats a HardwareAccessError. It wraps like fmt.Errorf.
func HardwareAccessf(format string, a ...interface{}) error {
	return HardwareAccessError{fmt.Errorf(format, a...)}
}
