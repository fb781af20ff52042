// Package dispatcher ties the compiled model to the HTTP server. It builds
// each route's middleware chain and terminal handler once at construction,
// then serves requests by routing and delegating. A dispatcher is immutable
// after New; config reloads swap in a whole new dispatcher.
package dispatcher

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/rampartproxy/rampart/internal/config"
	"github.com/rampartproxy/rampart/internal/handler"
	"github.com/rampartproxy/rampart/internal/middleware"
	"github.com/rampartproxy/rampart/internal/router"
)

// Metrics receives one observation per completed request. Implementations
// must be safe for concurrent use.
type Metrics interface {
	ObserveRequest(host, pattern string, status int, duration time.Duration)
}

// Options carries the collaborators handlers and middlewares need.
type Options struct {
	Logger       *slog.Logger
	AccessLogger *slog.Logger
	Metrics      Metrics
	// WrapTransport decorates proxy transports, e.g. for trace propagation.
	WrapTransport func(http.RoundTripper) http.RoundTripper
}

type Dispatcher struct {
	model    *config.Compiled
	handlers map[*config.CompiledRoute]http.Handler
	logger   *slog.Logger
	metrics  Metrics
}

var _ http.Handler = (*Dispatcher)(nil)

// New builds every route's chain up front so per-request work is routing
// plus delegation. The model must have compiled OK.
func New(model *config.Compiled, opts Options) (*Dispatcher, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}

	d := &Dispatcher{
		model:    model,
		handlers: make(map[*config.CompiledRoute]http.Handler),
		logger:   logger,
		metrics:  opts.Metrics,
	}

	hOpts := handler.Options{Logger: logger, WrapTransport: opts.WrapTransport}
	mOpts := middleware.Options{AccessLogger: opts.AccessLogger}

	for i := range model.Hosts {
		vh := &model.Hosts[i]
		for j := range vh.Routes {
			route := &vh.Routes[j]
			terminal, err := handler.Build(route.Handler, hOpts)
			if err != nil {
				return nil, fmt.Errorf("route %s: %w", route.Pattern, err)
			}
			chained, err := middleware.Chain(route.Middlewares, terminal, mOpts)
			if err != nil {
				return nil, fmt.Errorf("route %s: %w", route.Pattern, err)
			}
			d.handlers[route] = chained
		}
	}
	return d, nil
}

// Model returns the compiled model this dispatcher serves.
func (d *Dispatcher) Model() *config.Compiled { return d.model }

func (d *Dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	route := router.Match(d.model, r.Host, r.URL.Path)
	if route == nil {
		d.logger.Debug("no route matched",
			"host", r.Host,
			"path", r.URL.Path)
		http.NotFound(w, r)
		if d.metrics != nil {
			d.metrics.ObserveRequest(config.NormalizeHost(r.Host), "", http.StatusNotFound, time.Since(start))
		}
		return
	}

	h := d.handlers[route]
	if d.metrics == nil {
		h.ServeHTTP(w, r)
		return
	}

	sw := &statusRecorder{ResponseWriter: w}
	h.ServeHTTP(sw, r)
	status := sw.status
	if status == 0 {
		status = http.StatusOK
	}
	d.metrics.ObserveRequest(config.NormalizeHost(r.Host), route.Pattern.Raw, status, time.Since(start))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (w *statusRecorder) WriteHeader(statusCode int) {
	if w.status == 0 {
		w.status = statusCode
	}
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *statusRecorder) Write(p []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	return w.ResponseWriter.Write(p)
}

func (w *statusRecorder) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
