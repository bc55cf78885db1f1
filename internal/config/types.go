// Package config resolves, parses, validates and defaults misty configuration.
package config

import "time"

// Config is the fully materialized runtime configuration.
type Config struct {
	Backend   BackendConfig
	Poll      PollConfig
	Audio     AudioConfig
	Indicator IndicatorConfig
	Output    OutputConfig
	Metrics   MetricsConfig
	Debug     DebugConfig
}

// BackendConfig locates the job backend.
type BackendConfig struct {
	URL              string
	UploadPath       string
	RequestTimeoutMS int
}

// PollConfig bounds status polling for one job.
type PollConfig struct {
	IntervalMS  int
	MaxAttempts int
}

// AudioConfig controls preferred and fallback input-source selection.
type AudioConfig struct {
	Input    string
	Fallback string
}

// IndicatorConfig controls desktop notifications and audio cues.
type IndicatorConfig struct {
	Enable         bool
	SoundEnable    bool
	DesktopAppName string
	ErrorTimeoutMS int
}

// OutputConfig controls what happens with a completed reply.
type OutputConfig struct {
	Clipboard    bool
	ClipboardCmd CommandConfig
}

// CommandConfig stores a raw command string and its parsed argv form.
type CommandConfig struct {
	Raw  string
	Argv []string
}

// MetricsConfig controls the Prometheus textfile written after each session.
type MetricsConfig struct {
	Textfile string
}

// DebugConfig controls optional debug artifact output.
type DebugConfig struct {
	AudioDump bool
}

// Warning is a non-fatal parse/validation message.
type Warning struct {
	Line    int
	Message string
}

func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Backend.RequestTimeoutMS) * time.Millisecond
}

func (c Config) PollInterval() time.Duration {
	return time.Duration(c.Poll.IntervalMS) * time.Millisecond
}

// PollBudget is the longest a job can be polled: one interval between each
// pair of attempts.
func (c Config) PollBudget() time.Duration {
	if c.Poll.MaxAttempts <= 1 {
		return 0
	}
	return time.Duration(c.Poll.MaxAttempts-1) * c.PollInterval()
}

func (c Config) ErrorTimeout() time.Duration {
	return time.Duration(c.Indicator.ErrorTimeoutMS) * time.Millisecond
}
