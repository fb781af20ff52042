// Package handler builds the terminal http.Handler for each route kind.
// The kinds form a closed set; Build switches exhaustively so a new kind is
// a compile-visible change here, not a runtime lookup.
package handler

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/rampartproxy/rampart/internal/config"
	"github.com/rampartproxy/rampart/internal/proxy"
)

// Options carries collaborators shared by all handlers of one model.
type Options struct {
	Logger        *slog.Logger
	WrapTransport func(http.RoundTripper) http.RoundTripper
}

// Build turns a validated handler config into an executable handler.
func Build(hc config.HandlerConfig, opts Options) (http.Handler, error) {
	switch hc.Kind {
	case config.HandlerFile:
		return &File{Path: hc.Path, Logger: opts.Logger}, nil
	case config.HandlerDirectory:
		return &Directory{Path: hc.Path, Logger: opts.Logger}, nil
	case config.HandlerRespond:
		return &Respond{Status: hc.RespondStatus, Body: hc.RespondBody}, nil
	case config.HandlerRedirect:
		return &Redirect{Target: hc.RedirectTo, Status: hc.RedirectStatus}, nil
	case config.HandlerProxy:
		return proxy.New(hc.Proxy, proxy.Options{
			Logger:        opts.Logger,
			WrapTransport: opts.WrapTransport,
		}), nil
	default:
		return nil, fmt.Errorf("unknown handler kind %v", hc.Kind)
	}
}

// Respond returns a fixed status and optional literal body. No I/O.
type Respond struct {
	Status int
	Body   string
}

func (h *Respond) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.Body != "" {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	}
	w.WriteHeader(h.Status)
	if h.Body != "" {
		fmt.Fprint(w, h.Body)
	}
}

// Redirect answers with a Location header and a 3xx status.
type Redirect struct {
	Target string
	Status int
}

func (h *Redirect) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, h.Target, h.Status)
}
