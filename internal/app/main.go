package app

import (
	"fmt"
	"os"
)

var (
	version   = "0.0.0-dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func Main(args []string) int {
	if len(args) < 2 {
		printHelp()
		return 2
	}

	switch args[1] {
	case "run":
		return run(args[2:])
	case "validate":
		return validateCmd(args[2:])
	case "fmt":
		return fmtCmd(args[2:])
	case "version":
		return versionCmd(args[2:])
	case "help", "-h", "--help":
		printHelp()
		return 0
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[1])
		printHelp()
		return 2
	}
}

func printHelp() {
	fmt.Fprintln(os.Stdout, "rampart")
	fmt.Fprintln(os.Stdout, "")
	fmt.Fprintln(os.Stdout, "Usage:")
	fmt.Fprintln(os.Stdout, "  rampart run --config ./Rampartfile [--watch] [--log-level info]")
	fmt.Fprintln(os.Stdout, "  rampart validate --config ./Rampartfile [--format json|text]")
	fmt.Fprintln(os.Stdout, "  rampart fmt --config ./Rampartfile [--write]")
	fmt.Fprintln(os.Stdout, "  rampart version [--long] [--json]")
}
