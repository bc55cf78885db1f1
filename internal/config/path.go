package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
)

const (
	appDir      = "misty"
	configFile  = "config.jsonc"
	envFileName = "misty.env"
)

// ResolvePath applies CLI/XDG/home fallback rules for config.jsonc location.
func ResolvePath(explicit string) (string, error) {
	if strings.TrimSpace(explicit) != "" {
		return explicit, nil
	}

	if xdg := strings.TrimSpace(os.Getenv("XDG_CONFIG_HOME")); xdg != "" {
		return filepath.Join(xdg, appDir, configFile), nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.New("unable to resolve user home for config fallback")
	}

	return filepath.Join(home, ".config", appDir, configFile), nil
}

// EnvFilePath is the dotenv overlay that sits next to the config file.
func EnvFilePath(configPath string) string {
	return filepath.Join(filepath.Dir(configPath), envFileName)
}
