//go:build !linux

package gpio

import "fmt"

// Cdev is only available on Linux.
type Cdev struct{}

var _ GPIO = &Cdev{}

// OpenCdev always fails on platforms without the Linux GPIO character device.
func OpenCdev(chipPath, pwmBase string) (*Cdev, error) {
	return nil, HardwareAccessError{fmt.Errorf("gpio character device unsupported on this platform")}
}

func (c *Cdev) Write(pin int, level Level) error {
	return HardwareAccessError{fmt.Errorf("gpio character device unsupported")}
}

func (c *Cdev) ConfigurePWM(pin int, frequency int) error {
	return HardwareAccessError{fmt.Errorf("gpio character device unsupported")}
}

func (c *Cdev) SetPWMDuty(pin int, percent float64) error {
	return HardwareAccessError{fmt.Errorf("gpio character device unsupported")}
}

func (c *Cdev) Close() error { return nil }
