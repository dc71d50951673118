package utils

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"ecoscope/config"
)

// Commands lists the CLI commands in the order PrintUsage shows them.
var Commands = []string{"analyze", "change", "compare", "forecast", "batch", "history", "serve", "export-weights"}

func isCommand(s string) bool {
	for _, c := range Commands {
		if s == c {
			return true
		}
	}
	return false
}

// ParseArguments converts command-line arguments (argv[0] is the program) into a map of flags and values.
// The command, if any, is stored under "command".
func ParseArguments(argv []string) map[string]string {
	args := make(map[string]string)

	command := ""
	commandIndex := -1
	for i := 1; i < len(argv); i++ {
		if isCommand(argv[i]) {
			command = argv[i]
			commandIndex = i
			break
		}
	}

	if command != "" {
		args["command"] = command
	}

	for i := 1; i < len(argv); i++ {
		if i == commandIndex {
			continue
		}

		arg := argv[i]

		// --key=value
		if strings.HasPrefix(arg, "--") && strings.Contains(arg, "=") {
			parts := strings.SplitN(arg, "=", 2)
			args[strings.TrimPrefix(parts[0], "--")] = parts[1]
			continue
		}

		// --key value, or a boolean --key
		if strings.HasPrefix(arg, "--") {
			flagName := strings.TrimPrefix(arg, "--")
			if i+1 >= len(argv) || strings.HasPrefix(argv[i+1], "--") || i+1 == commandIndex {
				args[flagName] = "true"
			} else {
				args[flagName] = argv[i+1]
				i++
			}
		}
	}

	return args
}

// MissingArguments returns the required flags absent for command.
func MissingArguments(command string, args map[string]string) []string {
	var required []string
	switch command {
	case "analyze":
		required = []string{"image"}
	case "change", "compare", "forecast":
		required = []string{"before", "after"}
	case "batch":
		required = []string{"folder"}
	case "export-weights":
		required = []string{"output"}
	}

	var missing []string
	for _, name := range required {
		if args[name] == "" {
			missing = append(missing, name)
		}
	}
	return missing
}

// PrintUsage outputs the command-line usage instructions
func PrintUsage(w io.Writer) {
	prog := filepath.Base(os.Args[0])
	fmt.Fprintf(w, "Usage:\n")
	fmt.Fprintf(w, "  %s analyze --image=PATH [--metadata] [--json]\n", prog)
	fmt.Fprintf(w, "  %s change --before=PATH --after=PATH [--json]\n", prog)
	fmt.Fprintf(w, "  %s compare --before=PATH --after=PATH [--lat=DEG --lon=DEG] [--visualize=OUT.png] [--json]\n", prog)
	fmt.Fprintf(w, "  %s forecast --before=PATH --after=PATH [--period=5_years] [--json]\n", prog)
	fmt.Fprintf(w, "  %s batch --folder=PATH [--force] [--metadata] [--workers=N]\n", prog)
	fmt.Fprintf(w, "  %s history [--limit=N] [--stats]\n", prog)
	fmt.Fprintf(w, "  %s serve [--port=N]\n", prog)
	fmt.Fprintf(w, "  %s export-weights --output=PATH\n", prog)
	fmt.Fprintf(w, "\nCommon parameters:\n")
	defaults := config.Default()
	fmt.Fprintf(w, "  --config      : YAML configuration file (default: ecoscope.yaml)\n")
	fmt.Fprintf(w, "  --database    : History database (default: %s, %s driver)\n", defaults.Database.DSN, defaults.Database.Driver)
	fmt.Fprintf(w, "  --checkpoint  : Network checkpoint (.safetensors)\n")
	fmt.Fprintf(w, "  --no-history  : Do not store results\n")
	fmt.Fprintf(w, "  --debug       : Enable debug logging\n")
	fmt.Fprintf(w, "  --logfile     : Log file path (default: %s)\n", defaults.Logging.File)
	fmt.Fprintf(w, "\nExamples:\n")
	fmt.Fprintf(w, "  %s analyze --image=scenes/aletsch_2024.png\n", prog)
	fmt.Fprintf(w, "  %s compare --before=2019.png --after=2024.png --lat=46.45 --lon=8.05\n", prog)
	fmt.Fprintf(w, "  %s batch --folder=/data/tiles --force\n", prog)
}

// ParseFloatArg parses a float flag within [lo, hi].
func ParseFloatArg(name, value string, lo, hi float64) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil || v < lo || v > hi {
		return 0, fmt.Errorf("invalid --%s value '%s', expected a number in [%g, %g]", name, value, lo, hi)
	}
	return v, nil
}

// ParseIntArg parses a positive integer flag, returning def when value is empty.
func ParseIntArg(name, value string, def int) (int, error) {
	if value == "" {
		return def, nil
	}
	v, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || v <= 0 {
		return def, fmt.Errorf("invalid --%s value '%s', using default (%d)", name, value, def)
	}
	return v, nil
}
