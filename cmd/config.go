package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"procodus.dev/hotbox/pkg/logger"
)

// InitConfig initializes Viper configuration.
// Values come from flags, HOTBOX_* environment variables (optionally seeded
// from a dotenv file) and config.yaml, in that order of precedence.
func InitConfig(cfgFile, envFile string) error {
	if envFile != "" {
		// Existing environment variables win over the file.
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load env file %s: %w", envFile, err)
		}
	}

	if cfgFile != "" {
		// Use config file from the flag
		viper.SetConfigFile(cfgFile)
	} else {
		// Search for config in current directory and /etc/hotbox/
		viper.AddConfigPath(".")
		viper.AddConfigPath("/etc/hotbox/")
		viper.SetConfigType("yaml")
		viper.SetConfigName("config")
	}

	// Environment variables
	viper.SetEnvPrefix("HOTBOX")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	// Read config file if it exists
	if err := viper.ReadInConfig(); err != nil {
		var configNotFoundErr viper.ConfigFileNotFoundError
		if errors.As(err, &configNotFoundErr) {
			// Config file not found; rely on env vars and defaults
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	return nil
}

// GetLogger creates a slog.Logger based on configuration.
func GetLogger() *slog.Logger {
	return logger.New(&logger.Config{
		Level:  logger.ParseLevel(viper.GetString("log.level")),
		Format: logger.ParseFormat(viper.GetString("log.format")),
		Output: os.Stdout,
	})
}
