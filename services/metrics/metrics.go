// Package metrics turns the controller's bus traffic into Prometheus
// collectors.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"sensorlink-go/bus"
	"sensorlink-go/types"
)

const namespace = "sensorlink"

var topicAgent = bus.T("agent", "#")

type Service struct {
	reg *prometheus.Registry

	cycles       prometheus.Counter
	liveSent     prometheus.Counter
	drained      prometheus.Counter
	persisted    prometheus.Counter
	dropped      prometheus.Counter
	sendFailures *prometheus.CounterVec
	links        *prometheus.CounterVec
	cycleSeconds prometheus.Histogram
	backlog      prometheus.Gauge
	interval     prometheus.Gauge
	state        *prometheus.GaugeVec
}

// New registers the agent collectors on reg. A nil reg gets a fresh
// registry.
func New(reg *prometheus.Registry) (*Service, error) {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	s := &Service{
		reg: reg,
		cycles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "poller", Name: "cycles_total",
			Help: "Completed polling cycles",
		}),
		liveSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "poller", Name: "live_sent_total",
			Help: "Live batches delivered in the cycle they were sampled",
		}),
		drained: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "backlog", Name: "drained_total",
			Help: "Backlog batches delivered and pruned",
		}),
		persisted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "backlog", Name: "persisted_total",
			Help: "Live batches written to the backlog",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "backlog", Name: "dropped_total",
			Help: "Live batches lost because the backlog write failed",
		}),
		sendFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "transport", Name: "send_failures_total",
			Help: "Failed sends by phase",
		}, []string{"phase"}),
		links: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "poller", Name: "link_total",
			Help: "Cycles by link state",
		}, []string{"link"}),
		cycleSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "poller", Name: "cycle_seconds",
			Help:    "Time spent in each cycle before idling",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30},
		}),
		backlog: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "backlog", Name: "batches",
			Help: "Complete batches waiting on disk",
		}),
		interval: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "poller", Name: "interval_seconds",
			Help: "Current polling interval",
		}),
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "poller", Name: "state",
			Help: "1 for the state the controller is in, 0 otherwise",
		}, []string{"state"}),
	}
	for _, c := range []prometheus.Collector{
		s.cycles, s.liveSent, s.drained, s.persisted, s.dropped, s.sendFailures,
		s.links, s.cycleSeconds, s.backlog, s.interval, s.state,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Service) Registry() *prometheus.Registry { return s.reg }

// Handler serves the registry in the Prometheus text format.
func (s *Service) Handler() http.Handler {
	return promhttp.HandlerFor(s.reg, promhttp.HandlerOpts{Registry: s.reg})
}

// Start consumes agent/# until ctx is done.
func (s *Service) Start(ctx context.Context, conn *bus.Connection) {
	sub := conn.Subscribe(topicAgent)
	go func() {
		defer conn.Unsubscribe(sub)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-sub.Channel():
				if !ok {
					return
				}
				s.Observe(msg)
			}
		}
	}()
}

// Observe folds one bus message into the collectors. Unknown payloads
// are ignored.
func (s *Service) Observe(msg *bus.Message) {
	switch p := msg.Payload.(type) {
	case types.CycleReport:
		s.cycle(p)
	case time.Duration:
		s.interval.Set(p.Seconds())
	case types.AgentState:
		for _, st := range []types.State{
			types.StateSampling, types.StateDraining, types.StateSendingLive,
			types.StatePersisting, types.StateIdle,
		} {
			v := 0.0
			if st == p.State {
				v = 1
			}
			s.state.WithLabelValues(string(st)).Set(v)
		}
	}
}

func (s *Service) cycle(r types.CycleReport) {
	s.cycles.Inc()
	s.links.WithLabelValues(string(r.Link)).Inc()
	s.cycleSeconds.Observe(r.Elapsed.Seconds())
	s.drained.Add(float64(r.Drained))
	if r.LiveSent {
		s.liveSent.Inc()
	}
	if r.Persisted {
		s.persisted.Inc()
	}
	if r.Dropped {
		s.dropped.Inc()
	}
	if r.DrainFailed {
		s.sendFailures.WithLabelValues("drain").Inc()
	}
	if r.LiveFailed {
		s.sendFailures.WithLabelValues("live").Inc()
	}
	s.backlog.Set(float64(r.Backlog))
	s.interval.Set(r.Interval.Seconds())
}
