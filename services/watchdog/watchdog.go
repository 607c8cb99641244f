// Package watchdog resets the device when the polling loop stops
// completing cycles.
package watchdog

import (
	"context"
	"log/slog"
	"time"

	"sensorlink-go/bus"
	"sensorlink-go/x/timex"
)

var (
	topicCycle    = bus.T("agent", "cycle")
	topicInterval = bus.T("agent", "interval")
)

const (
	DefaultFactor = 4
	DefaultGrace  = 30 * time.Second
)

// ResetFunc restarts the device. On hardware it does not return.
type ResetFunc func(reason string)

type Service struct {
	factor   float64
	grace    time.Duration
	interval time.Duration
	reset    ResetFunc
	clock    timex.Clock
	log      *slog.Logger
}

type Option func(*Service)

func WithFactor(f float64) Option {
	return func(s *Service) {
		if f > 0 {
			s.factor = f
		}
	}
}

// WithGrace adds slack for sends that time out inside a cycle.
func WithGrace(d time.Duration) Option { return func(s *Service) { s.grace = d } }
func WithClock(c timex.Clock) Option   { return func(s *Service) { s.clock = c } }
func WithLogger(l *slog.Logger) Option { return func(s *Service) { s.log = l } }

// New arms a watchdog for a loop polling every interval. The deadline
// follows interval changes announced on agent/interval.
func New(interval time.Duration, reset ResetFunc, opts ...Option) *Service {
	s := &Service{
		factor:   DefaultFactor,
		grace:    DefaultGrace,
		interval: interval,
		reset:    reset,
		clock:    timex.Real(),
		log:      slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	s.log = s.log.With("component", "watchdog")
	return s
}

// Limit is the longest gap allowed between two completed cycles.
func (s *Service) Limit() time.Duration {
	return time.Duration(s.factor*float64(s.interval)) + s.grace
}

func (s *Service) serviceLoop(ctx context.Context, conn *bus.Connection, cycles, intervals *bus.Subscription) {
	defer conn.Unsubscribe(cycles)
	defer conn.Unsubscribe(intervals)

	last := s.clock.Now()
	for {
		wait := s.Limit() - s.clock.Now().Sub(last)
		select {
		case <-ctx.Done():
			return
		case _, ok := <-cycles.Channel():
			if !ok {
				return
			}
			last = s.clock.Now()
		case msg, ok := <-intervals.Channel():
			if !ok {
				return
			}
			if d, ok := msg.Payload.(time.Duration); ok && d > 0 {
				s.interval = d
				s.log.Debug("deadline follows interval", "interval", d, "limit", s.Limit())
			}
		case <-s.clock.After(wait):
			s.log.Error("no cycle completed in time, resetting", "limit", s.Limit())
			s.reset("polling loop stalled")
			last = s.clock.Now()
		}
	}
}

// Start the watchdog. Subscriptions are in place when Start returns.
func (s *Service) Start(ctx context.Context, conn *bus.Connection) {
	cycles := conn.Subscribe(topicCycle)
	intervals := conn.Subscribe(topicInterval)
	go s.serviceLoop(ctx, conn, cycles, intervals)
}
