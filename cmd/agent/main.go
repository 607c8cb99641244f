// agent is the host build of the data-acquisition loop: it samples the
// ports described by a board file, keeps undelivered batches in a local
// backlog, and delivers them oldest-first over HTTP or NATS JetStream.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"sensorlink-go/bus"
	"sensorlink-go/services/backlog"
	"sensorlink-go/services/config"
	"sensorlink-go/services/metrics"
	"sensorlink-go/services/netgate"
	"sensorlink-go/services/poller"
	"sensorlink-go/services/ports"
	"sensorlink-go/services/sensors"
	"sensorlink-go/services/transport"
	"sensorlink-go/services/watchdog"
	"sensorlink-go/types"
)

const streamName = "SENSORLINK"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		cfgPath    string
		boardPath  string
		device     string
		backlogDir string
		interval   time.Duration
		logLevel   string
	)
	flagSet := pflag.NewFlagSet("agent", pflag.ContinueOnError)
	flagSet.StringVarP(&cfgPath, "config", "c", "", "agent settings YAML (default: $"+config.EnvPath+")")
	flagSet.StringVar(&boardPath, "board", "", "board file; overrides board_file")
	flagSet.StringVar(&device, "device", "", "embedded board to use when no board file is set")
	flagSet.StringVar(&backlogDir, "backlog-dir", "", "directory holding the backlog file")
	flagSet.DurationVar(&interval, "interval", 0, "initial polling interval")
	flagSet.StringVar(&logLevel, "log-level", "", "debug, info, warn or error")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	var settings *config.Settings
	var err error
	if cfgPath != "" {
		settings, err = config.LoadFile(cfgPath)
	} else {
		settings, err = config.Load()
	}
	if err != nil {
		return err
	}
	if flagSet.Changed("board") {
		settings.Board = boardPath
	}
	if flagSet.Changed("device") {
		settings.Device = device
	}
	if flagSet.Changed("backlog-dir") {
		settings.Backlog.Dir = backlogDir
	}
	if flagSet.Changed("interval") {
		settings.Interval = interval
	}
	if flagSet.Changed("log-level") {
		settings.Log.Level = logLevel
	}
	if err := settings.Validate(); err != nil {
		return err
	}

	logger := newLogger(settings.Log)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	b := bus.NewBus(16)
	boardSvc := config.NewService(settings.Board, logger)
	specs, err := boardSvc.Publish(context.WithValue(ctx, config.CtxDeviceKey, settings.Device), b.NewConnection("config"))
	if err != nil {
		return err
	}
	logger.Info("board loaded", "table", specs.TableName, "ports", len(specs.Ports), "dropped", len(boardSvc.Dropped()))

	if err := os.MkdirAll(settings.Backlog.Dir, 0o755); err != nil {
		return err
	}
	store, err := backlog.Open(settings.Backlog.Dir,
		backlog.WithMaxBytes(settings.Backlog.MaxBytes),
		backlog.WithFallbackSize(ports.NewTable(specs.Ports).ActiveCount()),
		backlog.WithLogger(logger))
	if err != nil {
		return err
	}
	logger.Info("backlog opened", "path", store.Path(), "batches", store.Depth())

	deliverer, gate, cleanup, err := newLink(ctx, settings, specs, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	m, err := metrics.New(nil)
	if err != nil {
		return err
	}
	m.Start(ctx, b.NewConnection("metrics"))

	if !settings.Watchdog.Disabled {
		watchdog.New(settings.Interval, func(reason string) {
			logger.Error("watchdog reset", "reason", reason)
			os.Exit(3)
		}, watchdog.WithFactor(settings.Watchdog.Factor), watchdog.WithGrace(settings.Watchdog.Grace),
			watchdog.WithLogger(logger)).Start(ctx, b.NewConnection("watchdog"))
	}

	ctrl := poller.New(specs, poller.Deps{
		Source:    newSource(settings),
		Store:     store,
		Transport: deliverer,
		Gate:      gate,
	}, poller.WithInterval(settings.Interval), poller.WithLogger(logger), poller.WithBus(b.NewConnection("poller")))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := ctrl.Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	if settings.Metrics.Addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", m.Handler())
		srv := &http.Server{Addr: settings.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			logger.Info("metrics listening", "addr", settings.Metrics.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}
	err = g.Wait()
	logger.Info("agent stopped", "backlog", store.Depth())
	return err
}

func newLogger(s config.LogSettings) *slog.Logger {
	var level slog.Level
	_ = level.UnmarshalText([]byte(s.Level))
	opts := &slog.HandlerOptions{Level: level}
	if s.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// newSource serves simulated values; channels without one read as 0.
func newSource(s *config.Settings) sensors.Source {
	return sensors.NewStatic(s.Simulate)
}

func newLink(ctx context.Context, s *config.Settings, specs *types.BoardSpecs, logger *slog.Logger) (transport.Deliverer, netgate.Gate, func(), error) {
	enc, err := transport.EncoderFor(s.Transport.Encoder)
	if err != nil {
		return nil, nil, nil, err
	}

	switch s.Transport.Kind {
	case "jetstream":
		nc, err := nats.Connect(s.Transport.NATS.URL,
			nats.Name("sensorlink-"+specs.TableName),
			nats.MaxReconnects(-1))
		if err != nil {
			return nil, nil, nil, fmt.Errorf("nats connect: %w", err)
		}
		js, err := jetstream.New(nc)
		if err != nil {
			nc.Close()
			return nil, nil, nil, err
		}
		if _, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
			Name:       streamName,
			Subjects:   []string{s.Transport.NATS.Subject + ".>"},
			Duplicates: 10 * time.Minute,
		}); err != nil {
			nc.Close()
			return nil, nil, nil, fmt.Errorf("stream setup: %w", err)
		}
		d := transport.NewJetStream(js, s.Transport.NATS.Subject, specs.TableName, enc)
		logger.Info("delivering over jetstream", "subject", d.Subject())
		gate := netgate.NewStatic(nc.IsConnected())
		gate.OnConnect = nc.IsConnected
		nc.SetDisconnectErrHandler(func(*nats.Conn, error) { gate.Set(false) })
		nc.SetReconnectHandler(func(*nats.Conn) { gate.Set(true) })
		return d, gate, nc.Close, nil

	default:
		target := s.Transport.URL
		if target == "" {
			target = transport.RemoteURL(specs.Remote, s.Transport.Secure)
		}
		d := transport.NewHTTP(transport.HTTPConfig{
			URL:      target,
			Host:     specs.Remote.Host,
			Board:    specs.TableName,
			Encoder:  enc,
			Timeout:  s.Transport.Timeout,
			Compress: s.Transport.Compress,
			Logger:   logger,
		})
		logger.Info("delivering over http", "url", target, "encoder", enc.Name())

		var gate netgate.Gate
		if s.Gate.Kind == "static" {
			gate = netgate.NewStatic(true)
		} else {
			gate = netgate.NewDial(netgate.DialConfig{
				Addr:    dialAddr(target, specs.Remote),
				Retries: s.Gate.Retries,
				Backoff: s.Gate.Backoff,
				Timeout: s.Gate.Timeout,
				Logger:  logger,
			})
		}
		return d, gate, func() {}, nil
	}
}

func dialAddr(target string, r types.Remote) string {
	if u, err := url.Parse(target); err == nil && u.Host != "" {
		if u.Port() != "" {
			return u.Host
		}
		port := "80"
		if u.Scheme == "https" {
			port = "443"
		}
		return net.JoinHostPort(u.Hostname(), port)
	}
	return net.JoinHostPort(r.IP, strconv.Itoa(r.Port))
}
