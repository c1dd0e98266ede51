package am

import (
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"

	"github.com/teranos/netpulse/errors"
)

const backupGenerations = 3

// WriteConfig serialises cfg as TOML to path, rotating up to three previous
// versions as path.back1..back3.
func WriteConfig(path string, cfg *Config) error {
	data, err := toml.Marshal(cfg)
	if err != nil {
		return errors.Wrap(err, "failed to marshal config")
	}

	if err := os.MkdirAll(filepath.Dir(path), DefaultDirPermissions); err != nil {
		return errors.Wrap(err, "failed to create config directory")
	}
	if err := createBackup(path); err != nil {
		return err
	}

	// Write to a temp file and rename so readers never see a partial file
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, DefaultFilePermissions); err != nil {
		return errors.Wrap(err, "failed to write config")
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return errors.Wrap(err, "failed to replace config")
	}
	return nil
}

// DefaultConfig returns the configuration produced by SetDefaults alone.
func DefaultConfig() (*Config, error) {
	v := viper.New()
	SetDefaults(v)
	return LoadWithViper(v)
}

// createBackup rotates .back1 -> .back2 -> .back3 and copies the current file
// to .back1. A missing config file is not an error.
func createBackup(configPath string) error {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil
	}

	for gen := backupGenerations; gen > 1; gen-- {
		older := backupName(configPath, gen)
		newer := backupName(configPath, gen-1)
		if _, err := os.Stat(newer); err != nil {
			continue
		}
		if err := os.Rename(newer, older); err != nil {
			return errors.Wrapf(err, "failed to rotate %s", newer)
		}
	}

	content, err := os.ReadFile(configPath)
	if err != nil {
		return errors.Wrap(err, "failed to read config for backup")
	}
	if err := os.WriteFile(backupName(configPath, 1), content, DefaultFilePermissions); err != nil {
		return errors.Wrap(err, "failed to create .back1")
	}
	return nil
}

func backupName(path string, gen int) string {
	return path + ".back" + string(rune('0'+gen))
}
