// Package config loads the antennad configuration file.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/w1xm/radiotelescope/antenna"
	"gopkg.in/yaml.v2"
)

type Config struct {
	// Instance names this antenna; it keys the stored calibration.
	Instance string `yaml:"instance"`
	// Driver is one of modbus, simulator or emulator.
	Driver string `yaml:"driver"`

	Serial struct {
		Port     string `yaml:"port"`
		BaudRate int    `yaml:"baud_rate"`
		SlaveID  int    `yaml:"slave_id"`
		// URL and Password reach the port through a modbus_server.
		URL        string        `yaml:"url"`
		Password   string        `yaml:"password"`
		Timeout    time.Duration `yaml:"timeout"`
		Turnaround time.Duration `yaml:"turnaround"`
	} `yaml:"serial"`

	Simulator struct {
		StepsPerSecond float64       `yaml:"steps_per_second"`
		Tick           time.Duration `yaml:"tick"`
	} `yaml:"simulator"`

	Motor struct {
		StepsPerRevolution int     `yaml:"steps_per_revolution"`
		Microsteps         int     `yaml:"microsteps"`
		GearRatioAzimuth   float64 `yaml:"gear_ratio_azimuth"`
		GearRatioElevation float64 `yaml:"gear_ratio_elevation"`
	} `yaml:"motor"`

	Limits struct {
		MinAzimuth        *float64 `yaml:"min_azimuth"`
		MaxAzimuth        *float64 `yaml:"max_azimuth"`
		MinElevation      *float64 `yaml:"min_elevation"`
		MaxElevation      *float64 `yaml:"max_elevation"`
		MaxAzimuthSpeed   float64  `yaml:"max_azimuth_speed"`
		MaxElevationSpeed float64  `yaml:"max_elevation_speed"`
	} `yaml:"limits"`

	Monitor struct {
		Interval        time.Duration `yaml:"interval"`
		MaxPollFailures int           `yaml:"max_poll_failures"`
	} `yaml:"monitor"`

	Calibration struct {
		// Store is file or sqlite.
		Store string `yaml:"store"`
		Path  string `yaml:"path"`
	} `yaml:"calibration"`

	Observer struct {
		Name      string  `yaml:"name"`
		Latitude  float64 `yaml:"latitude"`
		Longitude float64 `yaml:"longitude"`
		Height    float64 `yaml:"height"`
	} `yaml:"observer"`

	// Satellites maps a name to its two TLE lines.
	Satellites map[string][]string `yaml:"satellites"`

	HTTP struct {
		Addr    string `yaml:"addr"`
		Rotctld string `yaml:"rotctld"`
	} `yaml:"http"`

	Logging struct {
		File       string `yaml:"file"`
		MaxSize    int    `yaml:"max_size"`
		MaxBackups int    `yaml:"max_backups"`
		MaxAge     int    `yaml:"max_age"`
		Compress   bool   `yaml:"compress"`
	} `yaml:"logging"`
}

// LoadConfig reads path and fills in defaults. An empty path yields the
// defaults alone.
func LoadConfig(path string) (*Config, error) {
	var config Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.UnmarshalStrict(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}
	config.setDefaults()
	return &config, nil
}

func (c *Config) setDefaults() {
	if c.Instance == "" {
		c.Instance = "default"
	}
	if c.Driver == "" {
		c.Driver = "simulator"
	}
	if c.Serial.BaudRate == 0 {
		c.Serial.BaudRate = 9600
	}
	if c.Serial.SlaveID == 0 {
		c.Serial.SlaveID = 1
	}
	if c.Serial.Timeout == 0 {
		c.Serial.Timeout = 1 * time.Second
	}
	if c.Serial.Turnaround == 0 {
		c.Serial.Turnaround = 100 * time.Millisecond
	}
	if c.Simulator.StepsPerSecond == 0 {
		c.Simulator.StepsPerSecond = 1000
	}
	if c.Simulator.Tick == 0 {
		c.Simulator.Tick = 100 * time.Millisecond
	}
	m := antenna.DefaultMotorConfig()
	if c.Motor.StepsPerRevolution == 0 {
		c.Motor.StepsPerRevolution = m.StepsPerRevolution
	}
	if c.Motor.Microsteps == 0 {
		c.Motor.Microsteps = m.Microsteps
	}
	if c.Motor.GearRatioAzimuth == 0 {
		c.Motor.GearRatioAzimuth = m.GearRatioAzimuth
	}
	if c.Motor.GearRatioElevation == 0 {
		c.Motor.GearRatioElevation = m.GearRatioElevation
	}
	l := antenna.DefaultLimits()
	setFloat(&c.Limits.MinAzimuth, l.MinAzimuth)
	setFloat(&c.Limits.MaxAzimuth, l.MaxAzimuth)
	setFloat(&c.Limits.MinElevation, l.MinElevation)
	setFloat(&c.Limits.MaxElevation, l.MaxElevation)
	if c.Limits.MaxAzimuthSpeed == 0 {
		c.Limits.MaxAzimuthSpeed = l.MaxAzimuthSpeed
	}
	if c.Limits.MaxElevationSpeed == 0 {
		c.Limits.MaxElevationSpeed = l.MaxElevationSpeed
	}
	if c.Monitor.Interval == 0 {
		c.Monitor.Interval = antenna.DefaultMonitorInterval
	}
	if c.Monitor.MaxPollFailures == 0 {
		c.Monitor.MaxPollFailures = antenna.DefaultMaxPollFailures
	}
	if c.Calibration.Store == "" {
		c.Calibration.Store = "file"
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8080"
	}
	if c.Logging.MaxSize == 0 {
		c.Logging.MaxSize = 100
	}
}

// setFloat defaults an optional value; zero is a legitimate limit.
func setFloat(p **float64, v float64) {
	if *p == nil {
		*p = &v
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	switch c.Driver {
	case "modbus":
		if c.Serial.Port == "" && c.Serial.URL == "" {
			return fmt.Errorf("serial port or url is required for the modbus driver")
		}
	case "simulator", "emulator":
	default:
		return fmt.Errorf("unknown driver %q", c.Driver)
	}
	if c.Serial.SlaveID < 1 || c.Serial.SlaveID > 247 {
		return fmt.Errorf("slave id %d outside 1-247", c.Serial.SlaveID)
	}
	switch c.Calibration.Store {
	case "file", "sqlite":
	default:
		return fmt.Errorf("unknown calibration store %q", c.Calibration.Store)
	}
	for name, tle := range c.Satellites {
		if len(tle) != 2 || tle[0] == "" || tle[1] == "" {
			return fmt.Errorf("satellite %q needs two TLE lines", name)
		}
	}
	if err := c.MotorConfig().Validate(); err != nil {
		return err
	}
	return c.AntennaLimits().Validate()
}

func (c *Config) MotorConfig() antenna.MotorConfig {
	return antenna.MotorConfig{
		StepsPerRevolution: c.Motor.StepsPerRevolution,
		Microsteps:         c.Motor.Microsteps,
		GearRatioAzimuth:   c.Motor.GearRatioAzimuth,
		GearRatioElevation: c.Motor.GearRatioElevation,
	}
}

func (c *Config) AntennaLimits() antenna.Limits {
	return antenna.Limits{
		MinAzimuth:        *c.Limits.MinAzimuth,
		MaxAzimuth:        *c.Limits.MaxAzimuth,
		MinElevation:      *c.Limits.MinElevation,
		MaxElevation:      *c.Limits.MaxElevation,
		MaxAzimuthSpeed:   c.Limits.MaxAzimuthSpeed,
		MaxElevationSpeed: c.Limits.MaxElevationSpeed,
	}
}
