package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Environment keys that override file values.
const (
	EnvBackendURL      = "MISTY_BACKEND_URL"
	EnvUploadPath      = "MISTY_UPLOAD_PATH"
	EnvPollIntervalMS  = "MISTY_POLL_INTERVAL_MS"
	EnvPollMaxAttempts = "MISTY_POLL_MAX_ATTEMPTS"
)

var overrideKeys = []string{EnvBackendURL, EnvUploadPath, EnvPollIntervalMS, EnvPollMaxAttempts}

// readEnv collects overrides from the dotenv file at path (if any) and the
// process environment. Process values win.
func readEnv(path string, lookup func(string) (string, bool)) (map[string]string, error) {
	values := map[string]string{}

	fileValues, err := godotenv.Read(path)
	switch {
	case err == nil:
		for _, key := range overrideKeys {
			if v, ok := fileValues[key]; ok {
				values[key] = v
			}
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("read env file %q: %w", path, err)
	}

	for _, key := range overrideKeys {
		if v, ok := lookup(key); ok {
			values[key] = v
		}
	}
	return values, nil
}

func applyEnv(cfg *Config, values map[string]string) error {
	if v, ok := values[EnvBackendURL]; ok {
		cfg.Backend.URL = strings.TrimSpace(v)
	}
	if v, ok := values[EnvUploadPath]; ok {
		cfg.Backend.UploadPath = strings.TrimSpace(v)
	}
	if v, ok := values[EnvPollIntervalMS]; ok {
		n, err := envInt(EnvPollIntervalMS, v)
		if err != nil {
			return err
		}
		cfg.Poll.IntervalMS = n
	}
	if v, ok := values[EnvPollMaxAttempts]; ok {
		n, err := envInt(EnvPollMaxAttempts, v)
		if err != nil {
			return err
		}
		cfg.Poll.MaxAttempts = n
	}
	return nil
}

func envInt(key, raw string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("%s: expected integer, got %q", key, raw)
	}
	return n, nil
}
