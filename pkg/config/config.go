package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"

	"github.com/rigd-project/rigd/pkg/logging"
	"github.com/rigd-project/rigd/pkg/radio"
)

// Config represents the rigd configuration
type Config struct {
	Station struct {
		Callsign string `yaml:"callsign"`
		Grid     string `yaml:"grid"`
	} `yaml:"station"`

	// Radio is the tagged backend union; Type selects which of the
	// transport fields apply.
	Radio radio.RadioConfig `yaml:"radio"`

	Web struct {
		Port        int    `yaml:"port"`
		BindAddress string `yaml:"bind_address"`
	} `yaml:"web"`

	Storage struct {
		DatabasePath string `yaml:"database_path"`
		MaxEvents    int    `yaml:"max_events"`
		RetainMeters int    `yaml:"retain_meters_hours"`
	} `yaml:"storage"`

	Monitor struct {
		Enabled    bool `yaml:"enabled"`
		SampleRate int  `yaml:"sample_rate"`
		FFTSize    int  `yaml:"fft_size"`
	} `yaml:"monitor"`

	Logging struct {
		Level      string `yaml:"level"`
		File       string `yaml:"file"`
		MaxSize    int    `yaml:"max_size"`
		MaxBackups int    `yaml:"max_backups"`
		MaxAge     int    `yaml:"max_age"`
		Compress   bool   `yaml:"compress"`
		Console    bool   `yaml:"console"`
		Structured bool   `yaml:"structured"`
	} `yaml:"logging"`
}

// LoadConfig loads configuration from a YAML file
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Set defaults
	if config.Radio.Type == "" {
		config.Radio.Type = radio.BackendNone
	}
	if config.Radio.BaudRate == 0 {
		config.Radio.BaudRate = 115200
	}
	if config.Radio.DataBits == 0 {
		config.Radio.DataBits = 8
	}
	if config.Radio.StopBits == 0 {
		config.Radio.StopBits = 1
	}
	if config.Radio.Parity == "" {
		config.Radio.Parity = "none"
	}
	if config.Radio.Port == 0 {
		config.Radio.Port = 4532 // rigctld default
	}
	if config.Radio.UDPPort == 0 {
		config.Radio.UDPPort = 50001
	}
	if config.Web.Port == 0 {
		config.Web.Port = 8073
	}
	if config.Web.BindAddress == "" {
		config.Web.BindAddress = "0.0.0.0"
	}
	if config.Storage.MaxEvents == 0 {
		config.Storage.MaxEvents = 10000
	}
	if config.Storage.RetainMeters == 0 {
		config.Storage.RetainMeters = 24
	}
	if config.Monitor.SampleRate == 0 {
		config.Monitor.SampleRate = 12000
	}
	if config.Monitor.FFTSize == 0 {
		config.Monitor.FFTSize = 1024
	}
	if config.Logging.Level == "" {
		config.Logging.Level = "info"
	}
	if config.Logging.MaxSize == 0 {
		config.Logging.MaxSize = 10
	}
	if config.Logging.MaxBackups == 0 {
		config.Logging.MaxBackups = 5
	}
	if config.Logging.MaxAge == 0 {
		config.Logging.MaxAge = 30
	}

	return &config, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	switch c.Radio.Type {
	case radio.BackendNone:
	case radio.BackendSerial:
		if c.Radio.Device == "" {
			return fmt.Errorf("radio device is required for the serial backend")
		}
	case radio.BackendNetwork:
		if c.Radio.Host == "" {
			return fmt.Errorf("radio host is required for the network backend")
		}
	case radio.BackendUDP:
		if c.Radio.IP == "" {
			return fmt.Errorf("radio ip is required for the udp backend")
		}
		if c.Radio.UserName == "" {
			return fmt.Errorf("radio username is required for the udp backend")
		}
	default:
		return fmt.Errorf("unknown radio type %q", c.Radio.Type)
	}
	if c.Web.Port <= 0 || c.Web.Port > 65535 {
		return fmt.Errorf("invalid web port %d", c.Web.Port)
	}
	return nil
}

// LoggingOptions translates the logging section for the logging package.
func (c *Config) LoggingOptions() logging.Options {
	return logging.Options{
		Level:      c.Logging.Level,
		File:       c.Logging.File,
		MaxSize:    c.Logging.MaxSize,
		MaxBackups: c.Logging.MaxBackups,
		MaxAge:     c.Logging.MaxAge,
		Compress:   c.Logging.Compress,
		Console:    c.Logging.Console,
		Structured: c.Logging.Structured,
	}
}
