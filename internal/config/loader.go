package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	envConfigDefaultPath = "VOXLINK_CONFIG_DEFAULT_PATH"
	defaultConfigName    = "config.yaml"
)

// LoadServer builds server configuration from defaults, optional config file and
// env vars, and returns the resolved path.
// Precedence: defaults < config file < env vars < caller overrides.
func LoadServer(logger *zerolog.Logger, explicitPath string) (Server, string, error) {
	cfg := DefaultServer()

	v := newViper()
	v.SetDefault("addr", cfg.Addr)
	v.SetDefault("admin_addr", cfg.AdminAddr)
	v.SetDefault("notes_dir", cfg.NotesDir)
	v.SetDefault("shutdown_timeout", cfg.ShutdownTimeout)
	v.SetDefault("log_level", cfg.LogLevel)

	configPath, err := readConfig(v, logger, explicitPath, cfg)
	if err != nil {
		return cfg, configPath, err
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, configPath, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, configPath, nil
}

// LoadClient is the client-side counterpart of LoadServer.
func LoadClient(logger *zerolog.Logger, explicitPath string) (Client, string, error) {
	cfg := DefaultClient()

	v := newViper()
	v.SetDefault("server_addr", cfg.ServerAddr)
	v.SetDefault("notes_dir", cfg.NotesDir)
	v.SetDefault("received_notes_dir", cfg.ReceivedNotesDir)
	v.SetDefault("audio_port", cfg.AudioPort)
	v.SetDefault("log_level", cfg.LogLevel)

	configPath, err := readConfig(v, logger, explicitPath, cfg)
	if err != nil {
		return cfg, configPath, err
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, configPath, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, configPath, nil
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("VOXLINK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func readConfig(v *viper.Viper, logger *zerolog.Logger, explicitPath string, defaults any) (string, error) {
	configPath := resolveConfigPath(explicitPath)
	v.SetConfigFile(configPath)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist) {
			if writeErr := writeDefaultConfig(configPath, defaults); writeErr != nil && logger != nil {
				logger.Warn().Err(writeErr).Str("path", configPath).Msg("failed to write default config")
			} else if logger != nil {
				logger.Info().Str("path", configPath).Msg("created default config")
			}
			// try reading again in case it was just written
			if readErr := v.ReadInConfig(); readErr != nil && logger != nil {
				logger.Warn().Err(readErr).Str("path", configPath).Msg("failed to read config after writing default")
			}
		} else {
			return configPath, fmt.Errorf("read config: %w", err)
		}
	}
	return configPath, nil
}

func resolveConfigPath(explicitPath string) string {
	if explicitPath != "" {
		return explicitPath
	}

	if base := os.Getenv(envConfigDefaultPath); base != "" {
		if err := os.MkdirAll(base, 0o755); err == nil {
			return filepath.Join(base, defaultConfigName)
		}
	}

	cwd, err := os.Getwd()
	if err != nil {
		return defaultConfigName
	}
	return filepath.Join(cwd, defaultConfigName)
}

func writeDefaultConfig(path string, cfg any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
