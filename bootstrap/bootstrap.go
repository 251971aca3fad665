package bootstrap

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"

	"github.com/zpackdb/zpack/api"
	"github.com/zpackdb/zpack/cache"
	"github.com/zpackdb/zpack/configuration"
	"github.com/zpackdb/zpack/driver"
	"github.com/zpackdb/zpack/metrics"
	"github.com/zpackdb/zpack/migrate"
	"github.com/zpackdb/zpack/pack"
	"github.com/zpackdb/zpack/seed"
	"github.com/zpackdb/zpack/sqlite"
	"github.com/zpackdb/zpack/table"
)

var VERSION = "dev"

func Bootstrap(c configuration.Configuration) (start, stop func()) {

	logger := BuildLogger(c.LogFormat, c.LogLevel)

	registry := metrics.NewRegistry()

	d, err := BuildDriver(c, logger, registry)
	if err != nil {
		logger.Error("open engine", "engine", c.Engine, "path", c.Path, "error", err)
		os.Exit(-1)
	}

	if c.MigrationsDir != "" {
		applied, err := migrate.Run(d, c.MigrationsDir, logger)
		if err != nil {
			logger.Error("run migrations", "dir", c.MigrationsDir, "error", err)
			os.Exit(-1)
		}
		logger.Info("migrations done", "applied", applied)
	}

	if c.SeedFile != "" {
		loaded, err := seed.Load(d, c.SeedFile, logger)
		if err != nil {
			logger.Error("seed data", "file", c.SeedFile, "error", err)
			os.Exit(-1)
		}
		logger.Info("seeding done", "rows", loaded)
	}

	b := api.Build(d, registry, VERSION)
	if c.EnableCompression {
		b.WithInterceptors(api.Compression)
	}
	b.WithInterceptors(
		api.AccessLog(logger),
		api.RecoverFromPanic(logger),
		api.PrettyErrorInterceptor,
	)

	s := &http.Server{
		Addr:    c.HttpAddr,
		Handler: api.Handler(b),
	}

	ln, err := net.Listen("tcp", c.HttpAddr)
	if err != nil {
		logger.Error("listen", "addr", c.HttpAddr, "error", err)
		os.Exit(-1)
	}
	logger.Info("listening", "addr", ln.Addr().String(), "engine", c.Engine, "version", VERSION)

	stop = func() {
		// Drain HTTP first so in-flight requests finish against an open
		// engine.
		s.Shutdown(context.Background())
		err := d.Close()
		if err != nil {
			logger.Warn("close engine", "error", err)
		}
	}

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		for {
			sig := <-signalChan
			logger.Info("signal received", "signal", sig.String())
			stop()
		}
	}()

	start = func() {

		wg := &sync.WaitGroup{}

		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.Serve(ln)
			if err != nil && err != http.ErrServerClosed {
				logger.Error("serve", "error", err)
			}
		}()

		wg.Wait()
	}

	return
}

// BuildDriver assembles the configured engine, wrapped in the select cache
// when CacheSize asks for one.
func BuildDriver(c configuration.Configuration, logger *slog.Logger, registry *metrics.Registry) (driver.Driver, error) {

	var d driver.Driver

	switch c.Engine {
	case "pack", "":
		indexFields, err := parseIndexFields(c.IndexFields)
		if err != nil {
			return nil, fmt.Errorf("parse indexfields: %w", err)
		}
		defaults, err := parseDefaults(c.Defaults)
		if err != nil {
			return nil, fmt.Errorf("parse defaults: %w", err)
		}
		st, err := pack.Open(pack.Options{
			Path:        c.Path,
			AutoFlush:   c.AutoFlush,
			Compression: c.Compression,
			Logger:      logger,
			Metrics:     registry,
		})
		if err != nil {
			return nil, err
		}
		d, err = table.Open(st, table.Options{
			IndexFields: indexFields,
			Defaults:    defaults,
			Logger:      logger,
			Metrics:     registry,
		})
		if err != nil {
			st.Close()
			return nil, err
		}

	case "sqlite":
		defaults, err := parseDefaults(c.Defaults)
		if err != nil {
			return nil, fmt.Errorf("parse defaults: %w", err)
		}
		d, err = sqlite.Open(sqlite.Options{
			Path:     c.Path,
			Defaults: defaults,
			Logger:   logger,
			Metrics:  registry,
		})
		if err != nil {
			return nil, err
		}

	default:
		return nil, fmt.Errorf("unknown engine %q, expected pack or sqlite", c.Engine)
	}

	if c.CacheSize > 0 {
		d = cache.New(d, cache.Options{
			Size:    c.CacheSize,
			Logger:  logger,
			Metrics: registry,
		})
	}

	return d, nil
}

func BuildLogger(format, level string) *slog.Logger {

	logLevel := parseLevel(level)

	switch format {
	case "json":
		return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	case "text":
		return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	default:
		w := os.Stderr
		return slog.New(tint.NewHandler(colorable.NewColorable(w), &tint.Options{
			Level:   logLevel,
			NoColor: !isatty.IsTerminal(w.Fd()),
		}))
	}
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func parseIndexFields(s string) (map[string][]string, error) {
	if s == "" {
		return nil, nil
	}
	fields := map[string][]string{}
	err := json.Unmarshal([]byte(s), &fields)
	if err != nil {
		return nil, err
	}
	return fields, nil
}

func parseDefaults(s string) (map[string]map[string]any, error) {
	if s == "" {
		return nil, nil
	}
	defaults := map[string]map[string]any{}
	err := json.Unmarshal([]byte(s), &defaults)
	if err != nil {
		return nil, err
	}
	return defaults, nil
}
