package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/viper"
)

// readDotEnv merges KEY=VALUE pairs from a dotenv file into v.
//
// Rules:
// - A missing file is not an error.
// - Keys are case-insensitive; DB_PATH and db_path are the same setting.
// - Process environment variables take precedence over file values.
func readDotEnv(v *viper.Viper, path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("stat dotenv file: %w", err)
	}

	v.SetConfigFile(path)
	v.SetConfigType("env")
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read dotenv file: %w", err)
	}
	return nil
}
