//go:build linux

package gpio

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// sysfsPWM drives one hardware PWM channel via /sys/class/pwm.
//
// On a Raspberry Pi the channels only exist once an overlay routes them to the
// header, e.g. `dtoverlay=pwm-2chan,pin=12,func=4,pin2=13,func2=4` for
// GPIO12/GPIO13.
type sysfsPWM struct {
	chipPath string // /sys/class/pwm/pwmchipN
	pwmPath  string // /sys/class/pwm/pwmchipN/pwmM
	channel  int

	periodNS uint64
}

// pwmChannel maps a BCM pin onto the PWM channel the Pi routes to it.
func pwmChannel(pin int) (int, error) {
	switch pin {
	case 12, 18:
		return 0, nil
	case 13, 19:
		return 1, nil
	}
	return 0, ConfigurationError{fmt.Errorf("gpio %d has no hardware pwm channel", pin)}
}

func openSysfsPWM(base string, channel int) (*sysfsPWM, error) {
	chipPath, err := findPWMChip(base, channel)
	if err != nil {
		return nil, err
	}

	d := &sysfsPWM{
		chipPath: chipPath,
		channel:  channel,
		pwmPath:  filepath.Join(chipPath, fmt.Sprintf("pwm%d", channel)),
	}
	if err := d.ensureExported(); err != nil {
		return nil, err
	}
	return d, nil
}

// findPWMChip returns the first pwmchip under base exposing at least channel+1
// channels. pwmchip entries are commonly symlinks, not directories.
func findPWMChip(base string, channel int) (string, error) {
	entries, err := os.ReadDir(base)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", base, err)
	}

	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, "pwmchip") {
			continue
		}
		chip := filepath.Join(base, name)
		n, err := readInt(filepath.Join(chip, "npwm"))
		if err != nil || n <= channel {
			continue
		}
		return chip, nil
	}

	return "", fmt.Errorf("no sysfs pwmchip with channel %d found (is the pwm overlay enabled?)", channel)
}

func (d *sysfsPWM) ensureExported() error {
	if _, err := os.Stat(d.pwmPath); err == nil {
		return nil
	}
	if err := writeSysfs(filepath.Join(d.chipPath, "export"), strconv.Itoa(d.channel)); err != nil {
		// Exported by someone else in the meantime.
		if _, statErr := os.Stat(d.pwmPath); statErr == nil {
			return nil
		}
		return fmt.Errorf("export pwm channel %d: %w", d.channel, err)
	}

	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(d.pwmPath); err == nil {
			return nil
		}
		time.Sleep(10 * time.Millisecond)
	}
	if _, err := os.Stat(d.pwmPath); err != nil {
		return fmt.Errorf("pwm path not created after export: %w", err)
	}
	return nil
}

func (d *sysfsPWM) setFrequency(hz int) error {
	periodNS := uint64(1_000_000_000 / hz)
	if periodNS == 0 {
		periodNS = 1
	}

	// The period can only be changed while disabled and with duty <= period.
	_ = d.writeBool("enable", false)
	_ = d.writeUint("duty_cycle", 0)
	if err := d.writeUint("period", periodNS); err != nil {
		return err
	}
	d.periodNS = periodNS

	if err := d.writeUint("duty_cycle", 0); err != nil {
		return err
	}
	return d.writeBool("enable", true)
}

func (d *sysfsPWM) setDuty(percent float64) error {
	duty := uint64(math.Round(float64(d.periodNS) * (percent / 100.0)))
	if duty > d.periodNS {
		duty = d.periodNS
	}
	return d.writeUint("duty_cycle", duty)
}

func (d *sysfsPWM) close() error {
	err := d.writeUint("duty_cycle", 0)
	_ = d.writeBool("enable", false)
	_ = writeSysfs(filepath.Join(d.chipPath, "unexport"), strconv.Itoa(d.channel))
	return err
}

func (d *sysfsPWM) writeUint(name string, v uint64) error {
	return writeSysfs(filepath.Join(d.pwmPath, name), strconv.FormatUint(v, 10))
}

func (d *sysfsPWM) writeBool(name string, v bool) error {
	val := "0"
	if v {
		val = "1"
	}
	return writeSysfs(filepath.Join(d.pwmPath, name), val)
}

// writeSysfs opens without O_TRUNC/O_CREATE, which some sysfs attributes
// reject. Right after an export udev may still be fixing permissions, so
// EACCES/ENOENT are retried for a short while.
func writeSysfs(path string, value string) error {
	deadline := time.Now().Add(2 * time.Second)
	for {
		err := writeSysfsOnce(path, value)
		if err == nil {
			return nil
		}
		if time.Now().Before(deadline) && isRetryableSysfsErr(err) {
			time.Sleep(25 * time.Millisecond)
			continue
		}
		return err
	}
}

func writeSysfsOnce(path, value string) error {
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return err
	}
	_, werr := f.WriteString(value)
	cerr := f.Close()
	return errors.Join(werr, cerr)
}

func isRetryableSysfsErr(err error) bool {
	return os.IsPermission(err) || os.IsNotExist(err) || errors.Is(err, syscall.EACCES) || errors.Is(err, syscall.EPERM) || errors.Is(err, syscall.ENOENT)
}

func readInt(path string) (int, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	s := strings.TrimSpace(string(b))
	if s == "" {
		return 0, fmt.Errorf("%s is empty", path)
	}
	return strconv.Atoi(s)
}
