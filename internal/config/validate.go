package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

const (
	minPollInterval = 50 * time.Millisecond
	maxPollInterval = 60 * time.Second
	longPollBudget  = 10 * time.Minute
)

// Validate enforces config invariants and returns non-fatal warnings.
func Validate(cfg Config) ([]Warning, error) {
	var warnings []Warning

	raw := strings.TrimSpace(cfg.Backend.URL)
	if raw == "" {
		return nil, fmt.Errorf("backend.url must not be empty")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("backend.url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("backend.url must be an absolute http(s) URL, got %q", raw)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("backend.url %q has no host", raw)
	}
	if u.RawQuery != "" || u.Fragment != "" {
		warnings = append(warnings, Warning{Message: fmt.Sprintf("backend.url %q: query and fragment are ignored", raw)})
	}

	if !strings.HasPrefix(cfg.Backend.UploadPath, "/") {
		return nil, fmt.Errorf("backend.upload_path must start with '/'")
	}
	if cfg.Backend.RequestTimeoutMS <= 0 {
		return nil, fmt.Errorf("backend.request_timeout_ms must be > 0")
	}

	interval := cfg.PollInterval()
	if interval < minPollInterval || interval > maxPollInterval {
		return nil, fmt.Errorf("poll.interval_ms must be between %d and %d", minPollInterval.Milliseconds(), maxPollInterval.Milliseconds())
	}
	if cfg.Poll.MaxAttempts < 1 {
		return nil, fmt.Errorf("poll.max_attempts must be >= 1")
	}
	if budget := cfg.PollBudget(); budget > longPollBudget {
		warnings = append(warnings, Warning{Message: fmt.Sprintf("poll budget is %s; a stuck job keeps the session busy that long", budget)})
	}

	if cfg.Indicator.ErrorTimeoutMS < 0 {
		return nil, fmt.Errorf("indicator.error_timeout_ms must be >= 0")
	}
	if cfg.Indicator.Enable && strings.TrimSpace(cfg.Indicator.DesktopAppName) == "" {
		return nil, fmt.Errorf("indicator.desktop_app_name must not be empty when indicator.enable=true")
	}

	if cfg.Output.Clipboard && len(cfg.Output.ClipboardCmd.Argv) == 0 {
		return nil, fmt.Errorf("output.clipboard_cmd must not be empty when output.clipboard=true")
	}

	return warnings, nil
}
