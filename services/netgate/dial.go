package netgate

import (
	"context"
	"log/slog"
	"net"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"sensorlink-go/errcode"
)

// Dialer is satisfied by *net.Dialer.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

type DialConfig struct {
	Addr    string        // host:port of the ingest endpoint
	Retries int           // attempts per Connect; 0 selects 3
	Backoff time.Duration // minimum spacing between attempts; 0 selects 1s
	Timeout time.Duration // per attempt; 0 selects 5s
	Dialer  Dialer
	Logger  *slog.Logger
}

// Dial treats the link as up while a TCP connection to the endpoint can
// be opened. IsConnected reports the last outcome; Connect probes.
type Dial struct {
	cfg     DialConfig
	limiter *rate.Limiter
	up      atomic.Bool
	log     *slog.Logger
}

func NewDial(cfg DialConfig) *Dial {
	if cfg.Retries <= 0 {
		cfg.Retries = 3
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.Dialer == nil {
		cfg.Dialer = &net.Dialer{}
	}
	l := cfg.Logger
	if l == nil {
		l = slog.Default()
	}
	return &Dial{
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Every(cfg.Backoff), 1),
		log:     l.With("component", "netgate", "addr", cfg.Addr),
	}
}

func (d *Dial) IsConnected(context.Context) bool { return d.up.Load() }

// MarkDown forces the next cycle to reconnect, e.g. after a send failed.
func (d *Dial) MarkDown() { d.up.Store(false) }

func (d *Dial) Connect(ctx context.Context) error {
	const op = "netgate.dial"
	var last error
	for attempt := 1; attempt <= d.cfg.Retries; attempt++ {
		if err := d.limiter.Wait(ctx); err != nil {
			d.up.Store(false)
			return errcode.Wrap(errcode.NotConnected, op, err)
		}
		actx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
		conn, err := d.cfg.Dialer.DialContext(actx, "tcp", d.cfg.Addr)
		cancel()
		if err == nil {
			conn.Close()
			d.up.Store(true)
			return nil
		}
		last = err
		d.log.Debug("connect attempt failed", "attempt", attempt, "err", err)
	}
	d.up.Store(false)
	d.log.Warn("link down", "attempts", d.cfg.Retries, "err", last)
	return errcode.Wrap(errcode.NotConnected, op, last)
}
