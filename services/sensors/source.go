// Package sensors provides raw sample sources for measurement channels.
//
// A Source returns the raw, unscaled value of one channel. For the analog
// inputs this is the normalised ADC reading in [0, 1]; the port table
// applies the sensor multiplier on top.
package sensors

import (
	"context"
	"errors"
	"sync"
)

var (
	ErrNoChannel = errors.New("sensors: no such channel")
	ErrNotReady  = errors.New("sensors: not ready")
)

// Source reads one raw value from a channel. Implementations block for at
// most the duration of one conversion.
type Source interface {
	Read(ctx context.Context, channel int) (float32, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context, channel int) (float32, error)

func (f SourceFunc) Read(ctx context.Context, channel int) (float32, error) { return f(ctx, channel) }

// ---- Static ----

// Static serves fixed per-channel values. Set may be called between
// cycles (tests, simulations); it is safe for concurrent use.
type Static struct {
	mu     sync.Mutex
	values map[int]float32
	errs   map[int]error
}

func NewStatic(values map[int]float32) *Static {
	s := &Static{values: map[int]float32{}, errs: map[int]error{}}
	for ch, v := range values {
		s.values[ch] = v
	}
	return s
}

func (s *Static) Set(channel int, v float32) {
	s.mu.Lock()
	s.values[channel] = v
	delete(s.errs, channel)
	s.mu.Unlock()
}

// Fail makes subsequent reads of channel return err.
func (s *Static) Fail(channel int, err error) {
	s.mu.Lock()
	s.errs[channel] = err
	s.mu.Unlock()
}

func (s *Static) Read(ctx context.Context, channel int) (float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.errs[channel]; err != nil {
		return 0, err
	}
	v, ok := s.values[channel]
	if !ok {
		return 0, ErrNoChannel
	}
	return v, nil
}

// ---- Mux ----

type route struct {
	src Source
	sub int
}

// Mux maps board channels onto (source, sub-channel) pairs so analog
// inputs and digital sensors can share one port table.
type Mux struct {
	routes map[int]route
}

func NewMux() *Mux { return &Mux{routes: map[int]route{}} }

// Route binds board channel ch to sub-channel sub of src.
func (m *Mux) Route(ch int, src Source, sub int) *Mux {
	m.routes[ch] = route{src: src, sub: sub}
	return m
}

func (m *Mux) Read(ctx context.Context, channel int) (float32, error) {
	r, ok := m.routes[channel]
	if !ok {
		return 0, ErrNoChannel
	}
	return r.src.Read(ctx, r.sub)
}
