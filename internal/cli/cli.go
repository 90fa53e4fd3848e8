package cli

import (
	"errors"
	"fmt"
	"strings"
)

type Command string

const (
	CommandListen    Command = "listen"
	CommandServe     Command = "serve"
	CommandStatus    Command = "status"
	CommandStop      Command = "stop"
	CommandForceStop Command = "force-stop"
	CommandTune      Command = "tune"
	CommandDevices   Command = "devices"
	CommandDoctor    Command = "doctor"
	CommandVersion   Command = "version"
	CommandHelp      Command = "help"
)

var validCommands = map[Command]struct{}{
	CommandListen:    {},
	CommandServe:     {},
	CommandStatus:    {},
	CommandStop:      {},
	CommandForceStop: {},
	CommandTune:      {},
	CommandDevices:   {},
	CommandDoctor:    {},
	CommandVersion:   {},
	CommandHelp:      {},
}

type Parsed struct {
	Command    Command
	ConfigPath string
	ShowHelp   bool
	// Tunables holds key=value pairs given to tune.
	Tunables map[string]string
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
			if _, ok := validCommands[cmd]; !ok {
				return Parsed{}, fmt.Errorf("unknown command: %s", arg)
			}

			parsed.Command = cmd
			parsed.ShowHelp = cmd == CommandHelp
			rest := args[i+1:]
			if cmd == CommandTune {
				tunables, err := parseAssignments(rest)
				if err != nil {
					return Parsed{}, err
				}
				parsed.Tunables = tunables
				return parsed, nil
			}
			if len(rest) > 0 {
				return Parsed{}, fmt.Errorf("unexpected arguments after command %q", arg)
			}
			return parsed, nil
		}
	}

	return parsed, nil
}

func parseAssignments(args []string) (map[string]string, error) {
	if len(args) == 0 {
		return nil, errors.New("tune requires at least one key=value")
	}
	out := make(map[string]string, len(args))
	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" || strings.TrimSpace(value) == "" {
			return nil, fmt.Errorf("invalid tunable %q (want key=value)", arg)
		}
		if _, dup := out[key]; dup {
			return nil, fmt.Errorf("tunable %q given twice", key)
		}
		out[key] = strings.TrimSpace(value)
	}
	return out, nil
}

func HelpText(binaryName string) string {
	return fmt.Sprintf(`Usage:
  %[1]s [--config PATH] <command>

Commands:
  listen       Run the voice assistant: microphone, recorder, HTTP/WS, gRPC health
  serve        Run HTTP/WS and gRPC health without the microphone
  status       Print the recorder state of the running listener
  stop         Stop the active recording and transcribe it
  force-stop   Discard any active recording or pending transcription
  tune K=V...  Update speech_threshold, max_recording_seconds, stop_sensitivity
  devices      List available input devices
  doctor       Run configuration and environment checks
  version      Print version information
  help         Show this help

Flags:
  --config PATH   Config file path (default: $XDG_CONFIG_HOME/voiceassist/config.yaml)
  -h, --help      Show help
  --version       Show version
`, binaryName)
}
