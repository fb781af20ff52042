package app

import (
	"flag"
	"fmt"
	"os"

	"github.com/rampartproxy/rampart/internal/config"
)

func validateCmd(args []string) int {
	fs := flag.NewFlagSet("validate", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	configPath := fs.String("config", "./Rampartfile", "path to config file")
	format := fs.String("format", "text", "output format: json|text")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	data, err := os.ReadFile(*configPath)
	if err != nil {
		return validateError(*format, err.Error())
	}

	cfg, err := config.Parse(data)
	if err != nil {
		return validateError(*format, err.Error())
	}

	res := config.ValidateWithResult(cfg)
	if *format == "json" {
		out, err := config.FormatValidationJSON(res)
		if err != nil {
			fmt.Fprintln(os.Stderr, err.Error())
			return 1
		}
		if res.OK {
			fmt.Fprintln(os.Stdout, out)
			return 0
		}
		fmt.Fprintln(os.Stderr, out)
		return 1
	}

	if res.OK {
		fmt.Fprintln(os.Stdout, config.FormatValidationText(res))
		return 0
	}
	for _, e := range res.Errors {
		fmt.Fprintln(os.Stderr, e.Error())
	}
	return 1
}

// validateError emits a parse or read failure in the requested format.
func validateError(format, msg string) int {
	res := config.ValidationResult{
		Errors: []config.ValidationError{{Message: msg}},
	}
	if format == "json" {
		out, err := config.FormatValidationJSON(res)
		if err != nil {
			fmt.Fprintln(os.Stderr, msg)
			return 1
		}
		fmt.Fprintln(os.Stderr, out)
		return 1
	}
	fmt.Fprintln(os.Stderr, msg)
	return 1
}

func fmtCmd(args []string) int {
	fs := flag.NewFlagSet("fmt", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	configPath := fs.String("config", "./Rampartfile", "path to config file")
	write := fs.Bool("write", false, "rewrite the file in place instead of printing")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	data, err := os.ReadFile(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		return 1
	}

	cfg, err := config.Parse(data)
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		return 1
	}

	out, err := config.Format(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		return 1
	}

	if *write {
		info, err := os.Stat(*configPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, err.Error())
			return 1
		}
		if err := os.WriteFile(*configPath, out, info.Mode().Perm()); err != nil {
			fmt.Fprintln(os.Stderr, err.Error())
			return 1
		}
		return 0
	}

	_, _ = os.Stdout.Write(out)
	return 0
}
