package config

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for environment variables, e.g. PIMDAM_PORT.
const EnvPrefix = "PIMDAM"

// Config holds the server configuration.
type Config struct {
	Port           string `mapstructure:"port"`
	DatabaseURL    string `mapstructure:"database_url"`
	DefinitionsDir string `mapstructure:"definitions_dir"`
	LogLevel       string `mapstructure:"log_level"`
	NotifyWorkers  int    `mapstructure:"notify_workers"`
	NotifyBuffer   int    `mapstructure:"notify_buffer"`
}

// Load reads configuration from an optional YAML file and the environment.
// Environment variables win over the file; path may be empty.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetDefault("port", "8080")
	v.SetDefault("database_url", "")
	v.SetDefault("definitions_dir", "definitions")
	v.SetDefault("log_level", "info")
	v.SetDefault("notify_workers", 0) // 0 = NumCPU
	v.SetDefault("notify_buffer", 64)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, errors.Wrapf(err, "read config file %s", path)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, errors.Wrap(err, "unmarshal config")
	}
	return cfg, nil
}
