// Package poller runs the acquisition cycle: sample every active port,
// drain the backlog oldest-first, send the live batch, and persist it
// when anything stands in the way. The live batch is never sent while
// older batches remain on disk.
package poller

import (
	"context"
	"log/slog"
	"time"

	"sensorlink-go/bus"
	"sensorlink-go/errcode"
	"sensorlink-go/services/netgate"
	"sensorlink-go/services/ports"
	"sensorlink-go/services/sensors"
	"sensorlink-go/services/transport"
	"sensorlink-go/types"
	"sensorlink-go/x/timex"
)

// Store is the backlog as seen by the controller.
type Store interface {
	Append(b types.Batch) error
	HasBacklog() bool
	ReadOldestBatch(fallbackSize int) (types.Batch, error)
	PruneOldestBatch(fallbackSize int) (bool, error)
	Depth() int
}

// Deps are the collaborators of one controller.
type Deps struct {
	Source    sensors.Source
	Store     Store
	Transport transport.Deliverer
	Gate      netgate.Gate
}

// downMarker is implemented by gates that cache link state.
type downMarker interface{ MarkDown() }

const DefaultInterval = 5 * time.Second

var (
	topicState    = bus.T("agent", "state")
	topicCycle    = bus.T("agent", "cycle")
	topicInterval = bus.T("agent", "interval")
)

type Controller struct {
	specs *types.BoardSpecs
	table *ports.Table
	deps  Deps

	offline  string
	interval time.Duration
	clock    timex.Clock
	log      *slog.Logger
	conn     *bus.Connection

	seq uint64
}

type Option func(*Controller)

func WithInterval(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.interval = d
		}
	}
}

func WithClock(clk timex.Clock) Option    { return func(c *Controller) { c.clock = clk } }
func WithLogger(l *slog.Logger) Option    { return func(c *Controller) { c.log = l } }
func WithBus(conn *bus.Connection) Option { return func(c *Controller) { c.conn = conn } }

// New binds a controller to the board specs it owns from now on. Port
// LastValue fields are updated in place every cycle.
func New(specs *types.BoardSpecs, deps Deps, opts ...Option) *Controller {
	c := &Controller{
		specs:    specs,
		table:    ports.NewTable(specs.Ports),
		deps:     deps,
		interval: DefaultInterval,
		clock:    timex.Real(),
		log:      slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	c.log = c.log.With("component", "poller", "board", specs.TableName)
	c.offline = specs.OfflineReason()
	if c.offline != "" {
		c.log.Warn("offline mode, every batch goes to the backlog", "reason", c.offline)
	}
	return c
}

// Interval is the current polling interval.
func (c *Controller) Interval() time.Duration { return c.interval }

// Run cycles until ctx is cancelled. Each cycle starts one interval after
// the previous one started, or immediately if the previous overran.
func (c *Controller) Run(ctx context.Context) error {
	c.publish(topicInterval, c.interval, true)
	for {
		start := c.clock.Now()
		c.runCycle(ctx, start)
		if err := c.idle(ctx, start); err != nil {
			return err
		}
	}
}

// RunCycle performs one full cycle without the trailing wait.
func (c *Controller) RunCycle(ctx context.Context) types.CycleReport {
	return c.runCycle(ctx, c.clock.Now())
}

func (c *Controller) runCycle(ctx context.Context, start time.Time) types.CycleReport {
	c.seq++
	rep := types.CycleReport{
		Seq:       c.seq,
		StartedMs: start.UnixMilli(),
		Active:    c.table.ActiveCount(),
	}

	c.setState(types.StateSampling, "")
	live, err := c.table.Sample(ctx, c.deps.Source, start)
	if err != nil {
		c.log.Warn("sample faults", "err", err)
	}

	rep.Link = c.link(ctx)
	// Nothing sampled means nothing to send or keep.
	persist := live.Len() > 0
	if rep.Link == types.LinkUp {
		c.setState(types.StateDraining, "")
		if c.drain(ctx, start, &rep) && persist {
			c.setState(types.StateSendingLive, "")
			d, err := c.deps.Transport.Send(ctx, live)
			if err == nil {
				rep.LiveSent = true
				persist = false
				c.apply(d)
			} else {
				c.sendFailed(err)
				rep.LiveFailed = true
				rep.Err = err.Error()
				c.log.Warn("live send failed", "batch", live.ID, "err", err)
			}
		}
	}

	if persist {
		c.setState(types.StatePersisting, "")
		if err := c.deps.Store.Append(live); err != nil {
			rep.Dropped = true
			rep.Err = err.Error()
			c.log.Error("persist failed, batch dropped", "batch", live.ID, "code", errcode.Of(err), "err", err)
		} else {
			rep.Persisted = true
			c.log.Info("batch persisted", "batch", live.ID, "link", rep.Link)
		}
	}

	rep.Backlog = c.deps.Store.Depth()
	rep.Interval = c.interval
	rep.Elapsed = c.clock.Now().Sub(start)
	c.setState(types.StateIdle, string(rep.Link))
	c.publish(topicCycle, rep, false)
	return rep
}

// link decides whether this cycle may transmit.
func (c *Controller) link(ctx context.Context) types.Link {
	if c.offline != "" {
		return types.LinkOffline
	}
	if c.deps.Gate.IsConnected(ctx) {
		return types.LinkUp
	}
	c.log.Info("link down, reconnecting")
	if err := c.deps.Gate.Connect(ctx); err != nil {
		c.log.Warn("reconnect failed", "err", err)
		return types.LinkDown
	}
	return types.LinkUp
}

// drain sends backlog batches oldest-first while the cycle budget lasts.
// It reports whether the backlog is empty afterwards.
func (c *Controller) drain(ctx context.Context, start time.Time, rep *types.CycleReport) bool {
	fallback := rep.Active
	for c.clock.Now().Sub(start) <= c.interval && c.deps.Store.HasBacklog() {
		b, err := c.deps.Store.ReadOldestBatch(fallback)
		if err != nil {
			rep.Err = err.Error()
			c.log.Error("backlog read failed", "err", err)
			return false
		}
		if b.Len() == 0 {
			// Only torn bytes left; pruning discards them.
			if _, err := c.deps.Store.PruneOldestBatch(fallback); err != nil {
				rep.Err = err.Error()
				c.log.Error("backlog prune failed", "err", err)
				return false
			}
			continue
		}
		d, err := c.deps.Transport.Send(ctx, b)
		if err != nil {
			rep.DrainFailed = true
			rep.Err = err.Error()
			c.sendFailed(err)
			c.log.Warn("backlog send failed", "batch", b.ID, "err", err)
			return false
		}
		c.apply(d)
		more, err := c.deps.Store.PruneOldestBatch(fallback)
		if err != nil {
			// Delivered but still on disk: it goes out again next cycle.
			rep.Err = err.Error()
			c.log.Error("backlog prune failed after send", "batch", b.ID, "err", err)
			return false
		}
		rep.Drained++
		if !more {
			break
		}
	}
	empty := !c.deps.Store.HasBacklog()
	if !empty {
		c.log.Info("cycle budget spent with backlog remaining", "depth", c.deps.Store.Depth())
	}
	return empty
}

func (c *Controller) sendFailed(err error) {
	if errcode.Of(err) == errcode.Rejected {
		return
	}
	if m, ok := c.deps.Gate.(downMarker); ok {
		m.MarkDown()
	}
}

func (c *Controller) apply(d types.Directive) {
	if d.None() || d.Interval == c.interval {
		return
	}
	c.log.Info("polling interval changed by server", "from", c.interval, "to", d.Interval)
	c.interval = d.Interval
	c.publish(topicInterval, c.interval, true)
}

func (c *Controller) idle(ctx context.Context, start time.Time) error {
	wait := c.interval - c.clock.Now().Sub(start)
	select {
	case <-c.clock.After(wait):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Controller) setState(s types.State, status string) {
	c.publish(topicState, types.AgentState{State: s, Status: status, TS: c.clock.Now().UnixMilli()}, true)
}

func (c *Controller) publish(t bus.Topic, payload any, retained bool) {
	if c.conn == nil {
		return
	}
	c.conn.Publish(c.conn.NewMessage(t, payload, retained))
}
