package config

import "strings"

type fileConfig struct {
	Backend   *fileBackend   `json:"backend"`
	Poll      *filePoll      `json:"poll"`
	Audio     *fileAudio     `json:"audio"`
	Indicator *fileIndicator `json:"indicator"`
	Output    *fileOutput    `json:"output"`
	Metrics   *fileMetrics   `json:"metrics"`
	Debug     *fileDebug     `json:"debug"`
}

type fileBackend struct {
	URL              *string `json:"url"`
	UploadPath       *string `json:"upload_path"`
	RequestTimeoutMS *int    `json:"request_timeout_ms"`
}

type filePoll struct {
	IntervalMS  *int `json:"interval_ms"`
	MaxAttempts *int `json:"max_attempts"`
}

type fileAudio struct {
	Input    *string `json:"input"`
	Fallback *string `json:"fallback"`
}

type fileIndicator struct {
	Enable         *bool   `json:"enable"`
	SoundEnable    *bool   `json:"sound_enable"`
	DesktopAppName *string `json:"desktop_app_name"`
	ErrorTimeoutMS *int    `json:"error_timeout_ms"`
}

type fileOutput struct {
	Clipboard    *bool   `json:"clipboard"`
	ClipboardCmd *string `json:"clipboard_cmd"`
}

type fileMetrics struct {
	Textfile *string `json:"textfile"`
}

type fileDebug struct {
	AudioDump *bool `json:"audio_dump"`
}

// Parse merges JSONC content over base and validates the result.
func Parse(content string, base Config) (Config, []Warning, error) {
	cfg, warnings, err := decode(content, base)
	if err != nil {
		return Config{}, nil, err
	}
	validated, err := Validate(cfg)
	if err != nil {
		return Config{}, nil, err
	}
	return cfg, append(warnings, validated...), nil
}

// decode merges JSONC content over base without validating.
func decode(content string, base Config) (Config, []Warning, error) {
	if strings.TrimSpace(content) == "" {
		return base, []Warning{{Message: "config file is empty; using defaults"}}, nil
	}

	plain, err := standardizeJSONC(content)
	if err != nil {
		return Config{}, nil, err
	}

	var payload fileConfig
	if err := decodeStrict(plain, &payload); err != nil {
		return Config{}, nil, err
	}

	cfg := base
	if err := payload.applyTo(&cfg); err != nil {
		return Config{}, nil, err
	}
	return cfg, nil, nil
}

func (p fileConfig) applyTo(cfg *Config) error {
	if b := p.Backend; b != nil {
		setString(&cfg.Backend.URL, b.URL)
		setString(&cfg.Backend.UploadPath, b.UploadPath)
		setInt(&cfg.Backend.RequestTimeoutMS, b.RequestTimeoutMS)
	}
	if poll := p.Poll; poll != nil {
		setInt(&cfg.Poll.IntervalMS, poll.IntervalMS)
		setInt(&cfg.Poll.MaxAttempts, poll.MaxAttempts)
	}
	if a := p.Audio; a != nil {
		setString(&cfg.Audio.Input, a.Input)
		setString(&cfg.Audio.Fallback, a.Fallback)
	}
	if ind := p.Indicator; ind != nil {
		setBool(&cfg.Indicator.Enable, ind.Enable)
		setBool(&cfg.Indicator.SoundEnable, ind.SoundEnable)
		setString(&cfg.Indicator.DesktopAppName, ind.DesktopAppName)
		setInt(&cfg.Indicator.ErrorTimeoutMS, ind.ErrorTimeoutMS)
	}
	if out := p.Output; out != nil {
		setBool(&cfg.Output.Clipboard, out.Clipboard)
		if out.ClipboardCmd != nil {
			cmd, err := parseCommand("output.clipboard_cmd", *out.ClipboardCmd)
			if err != nil {
				return err
			}
			cfg.Output.ClipboardCmd = cmd
		}
	}
	if m := p.Metrics; m != nil {
		setString(&cfg.Metrics.Textfile, m.Textfile)
	}
	if d := p.Debug; d != nil {
		setBool(&cfg.Debug.AudioDump, d.AudioDump)
	}
	return nil
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = strings.TrimSpace(*v)
	}
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}
