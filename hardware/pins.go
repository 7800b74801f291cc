package hardware

import "github.com/gloworm-vision/motorbench/hardware/gpio"

// PinAssignment maps each TB6612FNG control input to a BCM GPIO number.
type PinAssignment struct {
	AIN1 int `json:"ain1" yaml:"ain1"`
	AIN2 int `json:"ain2" yaml:"ain2"`
	PWMA int `json:"pwma" yaml:"pwma"`
	BIN1 int `json:"bin1" yaml:"bin1"`
	BIN2 int `json:"bin2" yaml:"bin2"`
	PWMB int `json:"pwmb" yaml:"pwmb"`
	STBY int `json:"stby" yaml:"stby"`
}

// DefaultPins is the wiring of the test rig. PWMA and PWMB sit on the Pi's
// hardware PWM pins.
var DefaultPins = PinAssignment{
	AIN1: 24,
	AIN2: 23,
	PWMA: 12,
	BIN1: 22,
	BIN2: 27,
	PWMB: 13,
	STBY: 16,
}

func (p PinAssignment) roles() []struct {
	name string
	pin  int
} {
	return []struct {
		name string
		pin  int
	}{
		{"ain1", p.AIN1}, {"ain2", p.AIN2}, {"pwma", p.PWMA},
		{"bin1", p.BIN1}, {"bin2", p.BIN2}, {"pwmb", p.PWMB},
		{"stby", p.STBY},
	}
}

// Validate requires every pin to be non-negative and used by one role only.
func (p PinAssignment) Validate() error {
	used := make(map[int]string, 7)
	for _, r := range p.roles() {
		if r.pin < 0 {
			return gpio.Validationf("%s has negative pin %d", r.name, r.pin)
		}
		if other, ok := used[r.pin]; ok {
			return gpio.Validationf("%s and %s both use pin %d", other, r.name, r.pin)
		}
		used[r.pin] = r.name
	}
	return nil
}
