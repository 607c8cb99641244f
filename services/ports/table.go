package ports

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"sensorlink-go/services/sensors"
	"sensorlink-go/types"
	"sensorlink-go/x/mathx"
)

// Table is the ordered port list of one board. It shares the backing
// array with the BoardSpecs it was built from, so LastValue updates are
// visible through the specs.
type Table struct {
	ports []types.Port
}

func NewTable(ports []types.Port) *Table { return &Table{ports: ports} }

// Ports returns the underlying slice (all ports, active or not).
func (t *Table) Ports() []types.Port { return t.ports }

// Active returns the active ports in table order.
func (t *Table) Active() []types.Port {
	out := make([]types.Port, 0, len(t.ports))
	for i := range t.ports {
		if t.ports[i].Active() {
			out = append(out, t.ports[i])
		}
	}
	return out
}

func (t *Table) ActiveCount() int {
	n := 0
	for i := range t.ports {
		if t.ports[i].Active() {
			n++
		}
	}
	return n
}

// Classify scales raw by the port multiplier and places it against the
// inclusive range. A NaN sample is a fault.
func Classify(p *types.Port, raw float32) types.Reading {
	v := raw * p.Multiplier
	if math.IsNaN(float64(v)) {
		return types.Faulted()
	}
	switch mathx.Side(v, p.RangeLow, p.RangeHigh) {
	case 1:
		return types.Above()
	case -1:
		return types.Below()
	default:
		return types.Value(v)
	}
}

// Sample reads every active port once and returns the live batch. The
// batch is always complete; ports whose source failed carry a Fault
// reading and their errors are joined into the returned error.
func (t *Table) Sample(ctx context.Context, src sensors.Source, now time.Time) (types.Batch, error) {
	b := types.Batch{
		ID:      uuid.NewString(),
		TakenMs: now.UnixMilli(),
		Entries: make([]types.Entry, 0, len(t.ports)),
	}
	var errs []error
	for i := range t.ports {
		p := &t.ports[i]
		if !p.Active() {
			continue
		}
		raw, err := src.Read(ctx, p.Channel)
		if err != nil {
			errs = append(errs, fmt.Errorf("port %s: %w", p.Name, err))
			p.LastValue = types.Faulted()
		} else {
			p.LastValue = Classify(p, raw)
		}
		b.Entries = append(b.Entries, types.Entry{
			Port:        p.Name,
			Reading:     p.LastValue,
			Description: p.Description,
		})
	}
	return b, errors.Join(errs...)
}
