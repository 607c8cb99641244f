// collector is a development ingest endpoint for agents: it stores every
// delivered batch once and can push a polling interval back to them.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/spf13/pflag"

	"sensorlink-go/services/collector"
	"sensorlink-go/services/collector/duckstore"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		addr     string
		path     string
		dbPath   string
		memory   bool
		interval time.Duration
	)
	flagSet := pflag.NewFlagSet("collector", pflag.ContinueOnError)
	flagSet.StringVar(&addr, "addr", ":8080", "listen address")
	flagSet.StringVar(&path, "path", "/ingest", "ingest route, matching the board's ConnInfo directory")
	flagSet.StringVar(&dbPath, "db", "readings.duckdb", "DuckDB file")
	flagSet.BoolVar(&memory, "memory", false, "keep readings in memory instead of DuckDB")
	flagSet.DurationVar(&interval, "interval", 0, "polling interval to hand back to agents (0: none)")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	var store collector.Store
	if memory {
		store = collector.NewMemory()
	} else {
		ds, err := duckstore.Open(dbPath)
		if err != nil {
			return err
		}
		store = ds
	}
	defer store.Close()

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{StackSize: 4 << 10}))
	e.Use(middleware.BodyLimit("1M"))

	opts := []collector.Option{collector.WithLogger(logger)}
	if interval > 0 {
		opts = append(opts, collector.WithInterval(interval))
	}
	collector.NewHandler(store, opts...).Register(e, path)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errc := make(chan error, 1)
	go func() {
		logger.Info("collector listening", "addr", addr, "path", path)
		errc <- e.Start(addr)
	}()
	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}
