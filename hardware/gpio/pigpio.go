package gpio

import (
	"encoding/binary"
	"fmt"
	"net"
	"sync"
	"time"
)

// Pigpio is used for controlling GPIO over the pigpio socket interface
type Pigpio struct {
	mu   sync.Mutex
	conn net.Conn

	outputs map[int]bool
	pwm     map[int]int // pin -> frequency
}

// compile-time check for whether Pigpio satisfies the GPIO interface
var _ GPIO = &Pigpio{}

// DialPigpio dials into the pigpio socket interface (normally running on port 8888)
func DialPigpio(addr string, timeout time.Duration) (*Pigpio, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, HardwareAccessError{fmt.Errorf("couldn't dial into pigpio socket: %w", err)}
	}

	return newPigpio(conn), nil
}

func newPigpio(conn net.Conn) *Pigpio {
	return &Pigpio{
		conn:    conn,
		outputs: make(map[int]bool),
		pwm:     make(map[int]int),
	}
}

// Close drives every pin written through this client LOW, zeroes every PWM
// output and closes the underlying pigpio socket interface connection.
func (p *Pigpio) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.conn == nil {
		return nil
	}

	var firstErr error
	for pin, freq := range p.pwm {
		if err := p.hp(uint32(pin), uint32(freq), 0); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("unable to zero pwm on pin %d: %w", pin, err)
		}
	}
	for pin := range p.outputs {
		if err := p.command(write, uint32(pin), 0); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("unable to drive pin %d low: %w", pin, err)
		}
	}

	if err := p.conn.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	p.conn = nil

	return firstErr
}

// Write sets a GPIO pin to LOW or HIGH. The pin is switched to output mode the
// first time it is written.
func (p *Pigpio) Write(pin int, level Level) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.conn == nil {
		return HardwareAccessError{fmt.Errorf("not connected to pigpio socket interface")}
	}

	if !p.outputs[pin] {
		if err := p.command(modes, uint32(pin), modeOutput); err != nil {
			return fmt.Errorf("unable to set pin %d as output: %w", pin, err)
		}
		p.outputs[pin] = true
	}

	var rawLevel uint32
	if level {
		rawLevel = 1
	}

	return p.command(write, uint32(pin), rawLevel)
}

// ConfigurePWM starts hardware PWM on the given pin at frequency with a duty
// cycle of zero.
func (p *Pigpio) ConfigurePWM(pin int, frequency int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.conn == nil {
		return HardwareAccessError{fmt.Errorf("not connected to pigpio socket interface")}
	}
	if _, ok := p.pwm[pin]; ok {
		return ConfigurationError{fmt.Errorf("pin %d is already configured for pwm", pin)}
	}
	if frequency <= 0 {
		return ValidationError{fmt.Errorf("invalid pwm frequency %d", frequency)}
	}

	if err := p.hp(uint32(pin), uint32(frequency), 0); err != nil {
		return err
	}
	p.pwm[pin] = frequency

	return nil
}

// SetPWMDuty sets the hardware PWM duty cycle (0 - 100) on a configured pin.
func (p *Pigpio) SetPWMDuty(pin int, percent float64) error {
	if err := ValidatePercent(percent); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.conn == nil {
		return HardwareAccessError{fmt.Errorf("not connected to pigpio socket interface")}
	}
	freq, ok := p.pwm[pin]
	if !ok {
		return ConfigurationError{fmt.Errorf("pin %d is not configured for pwm", pin)}
	}

	return p.hp(uint32(pin), uint32(freq), uint32(percent*10000))
}

type cmd struct {
	Cmd uint32
	P1  uint32
	P2  uint32
	P3  uint32
}

const (
	modes uint32 = 0
	write uint32 = 4
	hp    uint32 = 86

	modeOutput uint32 = 1
)

func (p *Pigpio) command(command, p1, p2 uint32) error {
	request := cmd{
		Cmd: command,
		P1:  p1,
		P2:  p2,
	}

	if err := binary.Write(p.conn, binary.LittleEndian, request); err != nil {
		return HardwareAccessError{fmt.Errorf("unable to write request to socket: %w", err)}
	}

	return p.readResponse()
}

// hp sets frequency (1-125,000,000) and duty cycle (0-1000000) for hardware PWM on the specified pin.
func (p *Pigpio) hp(pin, frequency, duty uint32) error {
	request := struct {
		Cmd uint32
		P1  uint32
		P2  uint32
		P3  uint32
		Ext uint32
	}{
		Cmd: hp,
		P1:  pin,
		P2:  frequency,
		P3:  4,
		Ext: duty,
	}

	if err := binary.Write(p.conn, binary.LittleEndian, request); err != nil {
		return HardwareAccessError{fmt.Errorf("unable to write request to socket: %w", err)}
	}

	return p.readResponse()
}

// readResponse reads the reply to the last command. pigpio reports failures as
// a negative result in the fourth word.
func (p *Pigpio) readResponse() error {
	var response cmd
	if err := binary.Read(p.conn, binary.LittleEndian, &response); err != nil {
		return HardwareAccessError{fmt.Errorf("unable to read response from socket: %w", err)}
	}

	if res := int32(response.P3); res < 0 {
		return HardwareAccessError{fmt.Errorf("pigpio command %d on gpio %d failed with code %d", response.Cmd, response.P1, res)}
	}

	return nil
}
