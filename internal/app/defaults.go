package app

import (
	"fmt"
	"os"
	"path/filepath"

	"hubsync/internal/config"
)

// GetDefaults returns application default paths, checking environment variables first.
// Environment variables:
//   - HUBSYNC_CONFIG_PATH: config file location (default: ~/.config/hubsync.toml)
//   - HUBSYNC_HOME: base directory for hubsync data (default: ~/.local/share/hubsync)
func GetDefaults() (map[string]string, error) {
	configPath, err := fromEnvOrHome(config.EnvConfigPath, ".config", "hubsync.toml")
	if err != nil {
		return nil, err
	}
	baseDir, err := fromEnvOrHome(config.EnvHome, ".local", "share", "hubsync")
	if err != nil {
		return nil, err
	}

	return map[string]string{
		"config_path": configPath,
		"base_dir":    baseDir,
		"log_dir":     filepath.Join(baseDir, "log"),
		"env_file":    filepath.Join(baseDir, ".env"),
	}, nil
}

func fromEnvOrHome(env string, rel ...string) (string, error) {
	if path := os.Getenv(env); path != "" {
		return path, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(append([]string{homeDir}, rel...)...), nil
}
