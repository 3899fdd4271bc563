package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"

	obsmetrics "github.com/inferloop/deident/internal/observability/metrics"
	"github.com/inferloop/deident/internal/storage"
	"github.com/inferloop/deident/pkg/constants"
)

type CLIConfig struct {
	LogLevel  string                      `mapstructure:"log_level"`
	LogFormat string                      `mapstructure:"log_format"`
	Privacy   PrivacyConfig               `mapstructure:"privacy"`
	Storage   storage.Config              `mapstructure:"storage"`
	Metrics   obsmetrics.PrometheusConfig `mapstructure:"metrics"`
}

type PrivacyConfig struct {
	TargetK       int      `mapstructure:"target_k"`
	TargetL       int      `mapstructure:"target_l"`
	Seed          int64    `mapstructure:"seed"`
	HaltOnFailure bool     `mapstructure:"halt_on_failure"`
	PIIColumns    []string `mapstructure:"pii_columns"`
}

// DefaultConfig returns the settings used when no config file is present
func DefaultConfig() *CLIConfig {
	return &CLIConfig{
		LogLevel:  constants.DefaultLogLevel,
		LogFormat: constants.DefaultLogFormat,
		Privacy: PrivacyConfig{
			TargetK:       constants.DefaultTargetK,
			TargetL:       constants.DefaultTargetL,
			HaltOnFailure: true,
		},
		Metrics: obsmetrics.PrometheusConfig{
			Enabled:   true,
			Namespace: "deident",
			Subsystem: "pipeline",
		},
	}
}

// LoadConfig reads cfgFile, or ~/.deident.yaml when cfgFile is empty, over
// the defaults. DEIDENT_* environment variables override file values.
func LoadConfig(cfgFile string) (*CLIConfig, error) {
	config := DefaultConfig()
	v := viper.New()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}

		v.AddConfigPath(home)
		v.SetConfigName(".deident")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("DEIDENT")
	v.AutomaticEnv()

	v.SetDefault("log_level", config.LogLevel)
	v.SetDefault("log_format", config.LogFormat)
	v.SetDefault("privacy.target_k", config.Privacy.TargetK)
	v.SetDefault("privacy.target_l", config.Privacy.TargetL)
	v.SetDefault("privacy.seed", config.Privacy.Seed)
	v.SetDefault("privacy.halt_on_failure", config.Privacy.HaltOnFailure)
	v.SetDefault("storage.redis.addr", "")
	v.SetDefault("storage.postgres.dsn", "")
	v.SetDefault("storage.s3.region", "")
	v.SetDefault("metrics.enabled", config.Metrics.Enabled)
	v.SetDefault("metrics.namespace", config.Metrics.Namespace)
	v.SetDefault("metrics.subsystem", config.Metrics.Subsystem)
	v.SetDefault("metrics.textfile_path", "")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	return config, nil
}

func GetDefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".deident.yaml")
}
