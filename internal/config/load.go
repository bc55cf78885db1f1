package config

import (
	"errors"
	"fmt"
	"os"
)

// Loaded captures resolved config path, parsed values, and non-fatal warnings.
type Loaded struct {
	Path     string
	Config   Config
	Warnings []Warning
	Exists   bool
}

// Load resolves, reads, parses, overlays environment overrides, and validates
// the runtime configuration.
func Load(explicitPath string) (Loaded, error) {
	return load(explicitPath, os.LookupEnv)
}

func load(explicitPath string, lookup func(string) (string, bool)) (Loaded, error) {
	resolvedPath, err := ResolvePath(explicitPath)
	if err != nil {
		return Loaded{}, err
	}

	loaded := Loaded{Path: resolvedPath, Exists: true}
	cfg := Default()

	content, err := os.ReadFile(resolvedPath)
	switch {
	case errors.Is(err, os.ErrNotExist):
		loaded.Exists = false
		loaded.Warnings = append(loaded.Warnings, Warning{
			Message: fmt.Sprintf("config file %q not found; using defaults", resolvedPath),
		})
	case err != nil:
		return Loaded{}, fmt.Errorf("read config %q: %w", resolvedPath, err)
	default:
		var warnings []Warning
		cfg, warnings, err = decode(string(content), cfg)
		if err != nil {
			return Loaded{}, fmt.Errorf("parse config %q: %w", resolvedPath, err)
		}
		loaded.Warnings = append(loaded.Warnings, warnings...)
	}

	envPath := EnvFilePath(resolvedPath)
	values, err := readEnv(envPath, lookup)
	if err != nil {
		return Loaded{}, err
	}
	if err := applyEnv(&cfg, values); err != nil {
		return Loaded{}, fmt.Errorf("environment override: %w", err)
	}

	warnings, err := Validate(cfg)
	if err != nil {
		return Loaded{}, fmt.Errorf("invalid config %q: %w", resolvedPath, err)
	}
	loaded.Config = cfg
	loaded.Warnings = append(loaded.Warnings, warnings...)
	return loaded, nil
}
