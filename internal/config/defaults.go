package config

const defaultClipboardCmd = "wl-copy --trim-newline"

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		Backend: BackendConfig{
			URL:              "http://127.0.0.1:8000",
			UploadPath:       "/upload",
			RequestTimeoutMS: 30000,
		},
		Poll: PollConfig{
			IntervalMS:  1000,
			MaxAttempts: 60,
		},
		Audio: AudioConfig{
			Input:    "default",
			Fallback: "default",
		},
		Indicator: IndicatorConfig{
			Enable:         true,
			SoundEnable:    true,
			DesktopAppName: "misty",
			ErrorTimeoutMS: 4000,
		},
		Output: OutputConfig{
			Clipboard:    false,
			ClipboardCmd: CommandConfig{Raw: defaultClipboardCmd, Argv: mustSplitCommand(defaultClipboardCmd)},
		},
	}
}
