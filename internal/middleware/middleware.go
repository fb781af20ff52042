// Package middleware implements the per-route request/response
// transformers. A chain wraps the terminal handler so the first declared
// middleware sees the request first and the response last; any middleware
// may answer the request itself without calling further in.
package middleware

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/rampartproxy/rampart/internal/config"
)

// Options carries collaborators shared by middlewares of one model.
type Options struct {
	// AccessLogger receives logging-middleware records.
	AccessLogger *slog.Logger
}

// Chain builds the route's wrapped handler from its declared middlewares.
// Wrapping happens in reverse declaration order so that the first declared
// middleware ends up outermost.
func Chain(decls []config.MiddlewareConfig, terminal http.Handler, opts Options) (http.Handler, error) {
	h := terminal
	for i := len(decls) - 1; i >= 0; i-- {
		var err error
		h, err = wrap(decls[i], h, opts)
		if err != nil {
			return nil, err
		}
	}
	return h, nil
}

func wrap(mc config.MiddlewareConfig, next http.Handler, opts Options) (http.Handler, error) {
	switch mc.Kind {
	case config.MiddlewareCORS:
		return CORS(next), nil
	case config.MiddlewareGzip:
		return Gzip(next), nil
	case config.MiddlewareLogging:
		return Logging(opts.AccessLogger)(next), nil
	case config.MiddlewareRateLimit:
		return NewRateLimiter(mc.RateLimit).Wrap(next), nil
	default:
		return nil, fmt.Errorf("unknown middleware kind %v", mc.Kind)
	}
}
