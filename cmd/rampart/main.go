// Command rampart runs the Rampart web server.
//
// Rampart serves virtual hosts from a Rampartfile: static files, directory
// listings, fixed responses, redirects, and load-balanced reverse proxying,
// with per-route middleware.
//
// Install:
//
//	go install github.com/rampartproxy/rampart/cmd/rampart@latest
//
// Usage:
//
//	rampart run --config ./Rampartfile
package main

import (
	"os"

	"github.com/rampartproxy/rampart/internal/app"
)

func main() {
	os.Exit(app.Main(os.Args))
}
