package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/gloworm-vision/motorbench/hardware"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

type Config struct {
	LogLevel string          `yaml:"log_level"`
	Hardware hardware.Config `yaml:"hardware"`
	Server   ServerConfig    `yaml:"server"`
	Store    StoreConfig     `yaml:"store"`
	MQTT     MQTTConfig      `yaml:"mqtt"`
	Sequence SequenceConfig  `yaml:"sequence"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

type StoreConfig struct {
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`
}

type MQTTConfig struct {
	Enable   bool   `yaml:"enable"`
	Broker   string `yaml:"broker"`
	Topic    string `yaml:"topic"`
	ClientID string `yaml:"client_id"`
}

type SequenceConfig struct {
	Step      time.Duration `yaml:"step"`
	Pause     time.Duration `yaml:"pause"`
	Speed     float64       `yaml:"speed"`
	BothSpeed float64       `yaml:"both_speed"`
}

// envOverrides are applied on top of the YAML file. Unset variables leave the
// file's value alone.
type envOverrides struct {
	LogLevel     *string `env:"MOTORBENCH_LOG_LEVEL"`
	Backend      *string `env:"MOTORBENCH_BACKEND"`
	PigpioAddr   *string `env:"MOTORBENCH_PIGPIO_ADDR"`
	GPIOChip     *string `env:"MOTORBENCH_GPIO_CHIP"`
	PWMFrequency *int    `env:"MOTORBENCH_PWM_FREQUENCY"`
	StrictEnable *bool   `env:"MOTORBENCH_STRICT_ENABLE"`
	Addr         *string `env:"MOTORBENCH_ADDR"`
	StoreBackend *string `env:"MOTORBENCH_STORE_BACKEND"`
	StorePath    *string `env:"MOTORBENCH_STORE_PATH"`
	MQTTBroker   *string `env:"MOTORBENCH_MQTT_BROKER"`
}

// Load reads the YAML file at path, applies environment overrides, then
// defaults and validation. A missing file yields the defaults.
func Load(path string) (Config, error) {
	var cfg Config

	b, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return Config{}, err
	default:
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, err
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := DefaultAndValidate(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	var o envOverrides
	if err := env.Parse(&o); err != nil {
		return fmt.Errorf("environment: %w", err)
	}

	if o.LogLevel != nil {
		cfg.LogLevel = *o.LogLevel
	}
	if o.Backend != nil {
		cfg.Hardware.Backend = hardware.Backend(*o.Backend)
	}
	if o.PigpioAddr != nil {
		cfg.Hardware.PigpioAddr = *o.PigpioAddr
	}
	if o.GPIOChip != nil {
		cfg.Hardware.GPIOChip = *o.GPIOChip
	}
	if o.PWMFrequency != nil {
		cfg.Hardware.PWMFrequency = *o.PWMFrequency
	}
	if o.StrictEnable != nil {
		cfg.Hardware.StrictEnable = *o.StrictEnable
	}
	if o.Addr != nil {
		cfg.Server.Addr = *o.Addr
	}
	if o.StoreBackend != nil {
		cfg.Store.Backend = *o.StoreBackend
	}
	if o.StorePath != nil {
		cfg.Store.Path = *o.StorePath
	}
	if o.MQTTBroker != nil {
		cfg.MQTT.Broker = *o.MQTTBroker
		cfg.MQTT.Enable = true
	}
	return nil
}

// DefaultAndValidate fills unset fields and rejects inconsistent ones.
func DefaultAndValidate(cfg *Config) error {
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if _, err := logrus.ParseLevel(cfg.LogLevel); err != nil {
		return fmt.Errorf("log_level %q is not a valid level", cfg.LogLevel)
	}

	cfg.Hardware = cfg.Hardware.WithDefaults()
	if err := cfg.Hardware.Validate(); err != nil {
		return err
	}

	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}

	cfg.Store.Backend = strings.ToLower(strings.TrimSpace(cfg.Store.Backend))
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = "bbolt"
	}
	if cfg.Store.Backend != "bbolt" && cfg.Store.Backend != "badger" {
		return fmt.Errorf("store.backend must be 'bbolt' or 'badger'")
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = "motorbench.db"
	}

	if cfg.MQTT.Enable && cfg.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker is required when mqtt.enable is true")
	}
	if cfg.MQTT.Topic == "" {
		cfg.MQTT.Topic = "motorbench/state"
	}
	if cfg.MQTT.ClientID == "" {
		cfg.MQTT.ClientID = "motorbench"
	}

	if cfg.Sequence.Step <= 0 {
		cfg.Sequence.Step = 2 * time.Second
	}
	if cfg.Sequence.Pause <= 0 {
		cfg.Sequence.Pause = 1 * time.Second
	}
	if cfg.Sequence.Speed == 0 {
		cfg.Sequence.Speed = 30
	}
	if cfg.Sequence.BothSpeed == 0 {
		cfg.Sequence.BothSpeed = 40
	}
	if err := hardware.ValidateSpeed(cfg.Sequence.Speed); err != nil {
		return fmt.Errorf("sequence.speed must be within [0, 100]")
	}
	if err := hardware.ValidateSpeed(cfg.Sequence.BothSpeed); err != nil {
		return fmt.Errorf("sequence.both_speed must be within [0, 100]")
	}

	return nil
}

// Logger builds the process logger at the configured level.
func (c Config) Logger() *logrus.Logger {
	l := logrus.New()
	if lvl, err := logrus.ParseLevel(c.LogLevel); err == nil {
		l.SetLevel(lvl)
	}
	return l
}
