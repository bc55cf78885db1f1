// Package cli parses misty's command line.
package cli

import (
	"errors"
	"fmt"
	"strings"
)

type Command string

const (
	CommandToggle  Command = "toggle"
	CommandStop    Command = "stop"
	CommandCancel  Command = "cancel"
	CommandStatus  Command = "status"
	CommandAction  Command = "action"
	CommandDevices Command = "devices"
	CommandDoctor  Command = "doctor"
	CommandVersion Command = "version"
	CommandHelp    Command = "help"
)

// commandArity is the number of positional arguments each command takes.
var commandArity = map[Command]int{
	CommandToggle:  0,
	CommandStop:    0,
	CommandCancel:  0,
	CommandStatus:  0,
	CommandAction:  1,
	CommandDevices: 0,
	CommandDoctor:  0,
	CommandVersion: 0,
	CommandHelp:    0,
}

type Parsed struct {
	Command    Command
	Args       []string
	ConfigPath string
	Verbose    bool
	ShowHelp   bool
}

func Parse(args []string) (Parsed, error) {
	parsed := Parsed{Command: CommandHelp, ShowHelp: true}

	for i := 0; i < len(args); i++ {
		arg := args[i]

		switch arg {
		case "-h", "--help":
			parsed.ShowHelp = true
			parsed.Command = CommandHelp
		case "--version":
			parsed.ShowHelp = false
			parsed.Command = CommandVersion
		case "--verbose":
			parsed.Verbose = true
		case "--config":
			i++
			if i >= len(args) {
				return Parsed{}, errors.New("--config requires a path")
			}
			parsed.ConfigPath = args[i]
		default:
			if strings.HasPrefix(arg, "-") {
				return Parsed{}, fmt.Errorf("unknown flag: %s", arg)
			}

			cmd := Command(arg)
			arity, ok := commandArity[cmd]
			if !ok {
				return Parsed{}, fmt.Errorf("unknown command: %s", arg)
			}

			rest := args[i+1:]
			if len(rest) < arity {
				return Parsed{}, fmt.Errorf("command %q requires %d argument(s)", arg, arity)
			}
			if len(rest) > arity {
				return Parsed{}, fmt.Errorf("unexpected arguments after command %q", arg)
			}
			for _, positional := range rest {
				if strings.TrimSpace(positional) == "" {
					return Parsed{}, fmt.Errorf("command %q argument must not be empty", arg)
				}
			}

			parsed.Command = cmd
			parsed.Args = rest
			parsed.ShowHelp = cmd == CommandHelp
			return parsed, nil
		}
	}

	return parsed, nil
}

func HelpText(binaryName string) string {
	return fmt.Sprintf(`Usage:
  %[1]s [--config PATH] [--verbose] <command> [args]

Commands:
  toggle        Start recording, or stop and submit when already recording
  stop          Stop active recording and submit it
  cancel        Cancel the active session and discard its result
  status        Print current state
  action NAME   Send a named action to the backend
  devices       List available input devices
  doctor        Run configuration, backend and environment checks
  version       Print version information
  help          Show this help

Flags:
  --config PATH   Config file path (default: $XDG_CONFIG_HOME/misty/config.jsonc)
  --verbose       Write debug-level logs
  -h, --help      Show help
  --version       Show version
`, binaryName)
}
