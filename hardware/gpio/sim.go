package gpio

import (
	"fmt"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
)

// Sim is an in-memory GPIO used on machines without a GPIO header. It records
// every transition and logs it so a developer can follow what the hardware
// would have done.
type Sim struct {
	Logger logrus.FieldLogger

	mu     sync.Mutex
	levels map[int]Level
	duty   map[int]float64
	freq   map[int]int
	closed bool
}

var _ GPIO = &Sim{}

// NewSim returns an empty simulated GPIO. A nil logger discards the trace.
func NewSim(logger logrus.FieldLogger) *Sim {
	if logger == nil {
		l := logrus.New()
		l.SetLevel(logrus.PanicLevel)
		logger = l
	}

	return &Sim{
		Logger: logger,
		levels: make(map[int]Level),
		duty:   make(map[int]float64),
		freq:   make(map[int]int),
	}
}

func (s *Sim) Write(pin int, level Level) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.levels[pin] = level
	s.Logger.WithField("pin", pin).Infof("pin %d -> %s", pin, level)

	return nil
}

func (s *Sim) ConfigurePWM(pin int, frequency int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.freq[pin]; ok {
		return ConfigurationError{fmt.Errorf("pin %d is already configured for pwm", pin)}
	}
	if frequency <= 0 {
		return ValidationError{fmt.Errorf("invalid pwm frequency %d", frequency)}
	}

	s.freq[pin] = frequency
	s.duty[pin] = 0
	s.Logger.WithField("pin", pin).Infof("pin %d -> pwm %d Hz", pin, frequency)

	return nil
}

func (s *Sim) SetPWMDuty(pin int, percent float64) error {
	if err := ValidatePercent(percent); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.freq[pin]; !ok {
		return ConfigurationError{fmt.Errorf("pin %d is not configured for pwm", pin)}
	}

	s.duty[pin] = percent
	s.Logger.WithField("pin", pin).Infof("pin %d -> duty %.0f%%", pin, percent)

	return nil
}

// Close drives every known pin LOW and every PWM output to zero duty.
func (s *Sim) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for pin := range s.levels {
		s.levels[pin] = Low
	}
	for pin := range s.duty {
		s.duty[pin] = 0
	}
	if !s.closed {
		s.Logger.Info("simulated gpio released")
	}
	s.closed = true

	return nil
}

// Level reports the last level written to pin. Pins never written read LOW.
func (s *Sim) Level(pin int) Level {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.levels[pin]
}

// Duty reports the current duty cycle of pin in percent.
func (s *Sim) Duty(pin int) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.duty[pin]
}

// Configured reports whether pin has been configured for PWM.
func (s *Sim) Configured(pin int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.freq[pin]
	return ok
}

// Closed reports whether Close has been called.
func (s *Sim) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.closed
}

// Pins lists every pin that has been written or configured, in ascending order.
func (s *Sim) Pins() []int {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[int]bool, len(s.levels)+len(s.freq))
	for pin := range s.levels {
		seen[pin] = true
	}
	for pin := range s.freq {
		seen[pin] = true
	}

	pins := make([]int, 0, len(seen))
	for pin := range seen {
		pins = append(pins, pin)
	}
	sort.Ints(pins)

	return pins
}
