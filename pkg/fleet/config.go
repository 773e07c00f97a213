package fleet

import (
	"fmt"
	"os"
	"time"

	"github.com/fleet-tools/botfleet/pkg/errors"
	"github.com/fleet-tools/botfleet/pkg/processfile"
	"github.com/fleet-tools/botfleet/pkg/store"

	"gopkg.in/yaml.v3"
)

// Config holds the supervisor's runtime settings. Everything is optional;
// the zero config plus defaults runs a fleet from ./data.json with a
// botworker binary next to the supervisor.
type Config struct {
	StorePath        string        `yaml:"store_path,omitempty"`
	WorkerExecutable string        `yaml:"worker_executable,omitempty"`
	PIDFileDirectory string        `yaml:"pid_file_directory,omitempty"`
	LogLevel         string        `yaml:"log_level,omitempty"`
	PollInterval     time.Duration `yaml:"poll_interval,omitempty"`
	SettleDelay      time.Duration `yaml:"settle_delay,omitempty"`
	GracefulTimeout  time.Duration `yaml:"graceful_timeout,omitempty"`
}

const (
	DefaultPollInterval    = 1 * time.Second
	DefaultSettleDelay     = 500 * time.Millisecond
	DefaultGracefulTimeout = 5 * time.Second
)

// DefaultConfig returns the settings used when no config file is given.
func DefaultConfig() *Config {
	config := &Config{}
	setConfigDefaults(config)
	return config
}

// LoadConfigFromFile loads supervisor settings from a YAML file and applies
// defaults for anything left unset.
func LoadConfigFromFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.NewIOError("failed to read configuration file", err).WithContext("filename", filename)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, errors.NewValidationError("failed to parse YAML configuration", err).WithContext("filename", filename)
	}

	setConfigDefaults(&config)

	if err := ValidateConfig(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func setConfigDefaults(config *Config) {
	if config.StorePath == "" {
		config.StorePath = store.DefaultPath
	}
	if config.PIDFileDirectory == "" {
		config.PIDFileDirectory = processfile.DefaultDirectory()
	}
	if config.LogLevel == "" {
		config.LogLevel = "info"
	}
	if config.PollInterval == 0 {
		config.PollInterval = DefaultPollInterval
	}
	if config.SettleDelay == 0 {
		config.SettleDelay = DefaultSettleDelay
	}
	if config.GracefulTimeout == 0 {
		config.GracefulTimeout = DefaultGracefulTimeout
	}
}

// ValidateConfig validates supervisor settings.
func ValidateConfig(config *Config) error {
	if config == nil {
		return errors.NewValidationError("configuration cannot be nil", nil)
	}

	if config.PollInterval <= 0 {
		return errors.NewValidationError(
			fmt.Sprintf("poll interval must be positive: %v", config.PollInterval), nil)
	}
	if config.SettleDelay < 0 {
		return errors.NewValidationError(
			fmt.Sprintf("settle delay cannot be negative: %v", config.SettleDelay), nil)
	}
	if config.GracefulTimeout <= 0 {
		return errors.NewValidationError(
			fmt.Sprintf("graceful timeout must be positive: %v", config.GracefulTimeout), nil)
	}

	validLogLevels := []string{"debug", "info", "warn", "error"}
	valid := false
	for _, level := range validLogLevels {
		if config.LogLevel == level {
			valid = true
			break
		}
	}
	if !valid {
		return errors.NewValidationError(
			fmt.Sprintf("invalid log level: %s", config.LogLevel), nil,
		).WithContext("valid_levels", "debug, info, warn, error")
	}

	return nil
}
