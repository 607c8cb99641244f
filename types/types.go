package types

import "time"

// ---- Agent state (retained on agent/state) ----

// State names one step of the polling cycle.
type State string

const (
	StateSampling    State = "sampling"
	StateDraining    State = "draining"
	StateSendingLive State = "sending_live"
	StatePersisting  State = "persisting"
	StateIdle        State = "idle"
)

type AgentState struct {
	State  State  `json:"state"`
	Status string `json:"status,omitempty"` // freeform short code
	TS     int64  `json:"ts_ms"`
}

// Link is the network link as last reported by the connectivity gate.
type Link string

const (
	LinkUp      Link = "up"
	LinkDown    Link = "down"
	LinkOffline Link = "offline" // no usable endpoint configured
)

// ---- Cycle report (published on agent/cycle) ----

// CycleReport summarises one completed polling cycle.
type CycleReport struct {
	Seq       uint64        `json:"seq"`
	StartedMs int64         `json:"started_ms"`
	Elapsed   time.Duration `json:"elapsed_ns"`
	Link      Link          `json:"link"`
	Active    int           `json:"active_ports"`

	Drained     int  `json:"drained"`      // backlog batches delivered and pruned
	DrainFailed bool `json:"drain_failed"` // a backlog send failed
	LiveSent    bool `json:"live_sent"`
	LiveFailed  bool `json:"live_failed"`
	Persisted   bool `json:"persisted"`
	Dropped     bool `json:"dropped"` // persist failed; live batch lost
	Backlog     int  `json:"backlog_batches"`

	Interval time.Duration `json:"interval_ns"`
	Err      string        `json:"error,omitempty"`
}

// Directive is the optional server-side instruction returned with a
// successful send. A zero Interval means "leave unchanged".
type Directive struct {
	Interval time.Duration `json:"interval_ns,omitempty"`
}

// None reports whether the directive carries nothing.
func (d Directive) None() bool { return d.Interval <= 0 }
