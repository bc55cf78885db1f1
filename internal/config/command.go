package config

import (
	"fmt"
	"strings"
	"unicode"
)

// splitCommand splits a command line into argv with shell-like quoting:
// single or double quotes group words and a backslash escapes one rune.
func splitCommand(input string) ([]string, error) {
	var (
		argv  []string
		word  strings.Builder
		inArg bool
		quote rune
		esc   bool
	)

	for _, r := range strings.TrimSpace(input) {
		switch {
		case esc:
			word.WriteRune(r)
			esc = false
		case r == '\\':
			esc, inArg = true, true
		case quote != 0 && r == quote:
			quote = 0
		case quote != 0:
			word.WriteRune(r)
		case r == '\'' || r == '"':
			quote, inArg = r, true
		case unicode.IsSpace(r):
			if inArg {
				argv = append(argv, word.String())
				word.Reset()
				inArg = false
			}
		default:
			word.WriteRune(r)
			inArg = true
		}
	}

	switch {
	case esc:
		return nil, fmt.Errorf("unterminated escape sequence in command: %q", input)
	case quote != 0:
		return nil, fmt.Errorf("unterminated quote in command: %q", input)
	}
	if inArg {
		argv = append(argv, word.String())
	}
	return argv, nil
}

func mustSplitCommand(input string) []string {
	argv, err := splitCommand(input)
	if err != nil {
		panic(err)
	}
	return argv
}

func parseCommand(key string, raw string) (CommandConfig, error) {
	argv, err := splitCommand(raw)
	if err != nil {
		return CommandConfig{}, fmt.Errorf("invalid %s: %w", key, err)
	}
	return CommandConfig{Raw: raw, Argv: argv}, nil
}
