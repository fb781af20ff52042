package app

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/rampartproxy/rampart/internal/config"
	"github.com/rampartproxy/rampart/internal/dispatcher"
)

func run(args []string) int {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	configPath := fs.String("config", "./Rampartfile", "path to config file")
	logLevel := fs.String("log-level", "info", "log level (debug|info|warn|error)")
	watch := fs.Bool("watch", false, "watch config file for reload")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	logger, err := newLogger(*logLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		return 2
	}
	slog.SetDefault(logger)

	info := currentBuild()
	logger.Info("starting",
		slog.String("version", info.Version),
		slog.String("commit", info.Commit))

	data, err := os.ReadFile(*configPath)
	if err != nil {
		logger.Error("read_config_failed", slog.Any("err", err))
		return 1
	}

	cfg, err := config.Parse(data)
	if err != nil {
		logger.Error("parse_config_failed", slog.Any("err", err))
		return 1
	}

	compiled, res := config.Compile(cfg)
	if !res.OK {
		logger.Error("compile_config_failed", slog.String("error", config.FormatValidationText(res)))
		return 1
	}
	logger.Info("config_ok", slog.Int("virtual_hosts", len(compiled.Hosts)))

	appMetrics := newRuntimeMetrics()

	tracingEnabled := compiled.Server.Tracing.Enabled
	if tracingEnabled {
		shutdownTracing, err := initTracing(context.Background(), compiled.Server.Tracing, func(err error) {
			logger.Error("tracing_export_failed", slog.Any("err", err))
		})
		if err != nil {
			logger.Error("tracing_init_failed", slog.Any("err", err))
			return 1
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdownTracing(ctx)
		}()
		logger.Info("tracing_enabled", slog.String("collector", compiled.Server.Tracing.Collector))
	}

	buildDispatcher := func(model *config.Compiled) (*dispatcher.Dispatcher, error) {
		opts := dispatcher.Options{
			Logger:        logger,
			AccessLogger:  logger,
			WrapTransport: tracingTransportWrapper(tracingEnabled),
		}
		if model.Server.MetricsEnabled {
			opts.Metrics = appMetrics
		}
		return dispatcher.New(model, opts)
	}

	d, err := buildDispatcher(compiled)
	if err != nil {
		logger.Error("build_dispatcher_failed", slog.Any("err", err))
		return 1
	}

	var current atomic.Pointer[dispatcher.Dispatcher]
	current.Store(d)

	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ctx, stop := signal.NotifyContext(rootCtx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var reloadMu sync.Mutex
	reloadNow := func(trigger string) {
		reloadMu.Lock()
		defer reloadMu.Unlock()

		updated, ok := reloadConfig(*configPath, current.Load().Model(), buildDispatcher, logger, trigger)
		appMetrics.observeReload(ok)
		if ok {
			current.Store(updated)
		}
	}

	hupCh := make(chan os.Signal, 1)
	signal.Notify(hupCh, syscall.SIGHUP)
	defer signal.Stop(hupCh)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-hupCh:
				reloadNow("signal_sighup")
			}
		}
	}()

	if *watch {
		go watchConfig(ctx, *configPath, logger, func() {
			reloadNow("watch")
		})
	}

	mux := http.NewServeMux()
	if compiled.Server.MetricsEnabled {
		mux.Handle("/metrics", appMetrics.handler())
	}
	// Every request dispatches against the model snapshot current at its
	// start; reloads never disturb in-flight requests.
	mux.Handle("/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		current.Load().ServeHTTP(w, r)
	}))
	root := wrapTracingHandler(tracingEnabled, "rampart", mux)

	ln, err := net.Listen("tcp", compiled.Server.Listen)
	if err != nil {
		logger.Error("listen_failed", slog.String("addr", compiled.Server.Listen), slog.Any("err", err))
		return 1
	}
	srv := &http.Server{
		Handler:           root,
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveOnListener(logger, "main", srv, ln, cancel)
	logger.Info("serving", slog.String("addr", ln.Addr().String()))

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)

	return 0
}

// reloadConfig parses the file again and builds a fresh dispatcher. Any
// failure keeps the running one. Changes to the server block (listener,
// metrics, tracing) need a restart; route changes apply live.
func reloadConfig(path string, running *config.Compiled, build func(*config.Compiled) (*dispatcher.Dispatcher, error), logger *slog.Logger, trigger string) (*dispatcher.Dispatcher, bool) {
	if logger == nil {
		logger = slog.Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		logger.Error("config_reload_failed", slog.Any("err", err), slog.String("trigger", trigger))
		return nil, false
	}
	cfg, err := config.Parse(data)
	if err != nil {
		logger.Error("config_reload_failed", slog.Any("err", err), slog.String("trigger", trigger))
		return nil, false
	}
	compiled, res := config.Compile(cfg)
	if !res.OK {
		logger.Error("config_reload_failed", slog.String("error", config.FormatValidationText(res)), slog.String("trigger", trigger))
		return nil, false
	}
	if compiled.Server != running.Server {
		logger.Info("config_reloaded_restart_required", slog.String("trigger", trigger))
		return nil, false
	}

	d, err := build(compiled)
	if err != nil {
		logger.Error("config_reload_failed", slog.Any("err", err), slog.String("trigger", trigger))
		return nil, false
	}

	logger.Info("config_reloaded_ok", slog.String("trigger", trigger))
	return d, true
}

func watchConfig(ctx context.Context, path string, logger *slog.Logger, reload func()) {
	if logger == nil {
		logger = slog.Default()
	}
	if reload == nil {
		return
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Warn("watch_disabled", slog.Any("err", err))
		return
	}
	defer w.Close()

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	if err := w.Add(dir); err != nil {
		logger.Warn("watch_disabled", slog.Any("err", err))
		return
	}

	logger.Info("watching_config", slog.String("path", path))

	// Debounce to coalesce bursty editor/atomic-write events.
	var timer *time.Timer
	var timerCh <-chan time.Time
	schedule := func() {
		if timer == nil {
			timer = time.NewTimer(200 * time.Millisecond)
		} else {
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(200 * time.Millisecond)
		}
		timerCh = timer.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) != base {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			schedule()
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			logger.Warn("watch_error", slog.Any("err", err))
		case <-timerCh:
			timerCh = nil
			reload()
		}
	}
}
