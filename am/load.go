package am

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/teranos/netpulse/errors"
)

// EnvPrefix is the prefix for environment overrides (NETPULSE_PULSE_WORKERS, ...)
const EnvPrefix = "NETPULSE"

// ProjectConfigName is the file searched for upward from the working directory
const ProjectConfigName = "netpulse.toml"

// NewViper builds a viper instance with defaults, environment binding and
// merged config files. When explicitPath is set only that file is read.
func NewViper(explicitPath string) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	BindSensitiveEnvVars(v)
	SetDefaults(v)

	if explicitPath != "" {
		v.SetConfigFile(explicitPath)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "failed to read config file %s", explicitPath)
		}
		return v, nil
	}

	for _, path := range SearchPaths() {
		if err := mergeFile(v, path); err != nil {
			return nil, err
		}
	}
	return v, nil
}

// Load resolves the configuration and validates it.
func Load(explicitPath string) (*Config, *viper.Viper, error) {
	v, err := NewViper(explicitPath)
	if err != nil {
		return nil, nil, err
	}
	cfg, err := LoadWithViper(v)
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, errors.Wrap(err, "invalid configuration")
	}
	return cfg, v, nil
}

// LoadWithViper unmarshals configuration from a prepared viper instance
func LoadWithViper(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}
	return &config, nil
}

// LoadFromFile loads configuration from a single file, without environment
// overrides.
func LoadFromFile(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("toml")
	SetDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrapf(err, "failed to read config file %s", configPath)
	}
	return LoadWithViper(v)
}

// SearchPaths lists candidate config files, lowest precedence first.
func SearchPaths() []string {
	paths := []string{"/etc/netpulse/config.toml"}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".netpulse", "config.toml"))
	}
	if project := findProjectConfig(); project != "" {
		paths = append(paths, project)
	}
	return paths
}

// findProjectConfig walks up from the working directory looking for
// netpulse.toml.
func findProjectConfig() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		candidate := filepath.Join(dir, ProjectConfigName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// mergeFile merges path into v when it exists. A missing file is not an
// error; an unreadable or malformed one is.
func mergeFile(v *viper.Viper, path string) error {
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.MergeInConfig(); err != nil {
		return errors.Wrapf(err, "failed to merge config file %s", path)
	}
	return nil
}
