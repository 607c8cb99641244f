// Package netgate reports link status and (re)establishes the link with a
// bounded number of attempts.
package netgate

import (
	"context"
	"sync/atomic"

	"sensorlink-go/errcode"
)

// Gate is consulted once per cycle before any send.
type Gate interface {
	IsConnected(ctx context.Context) bool
	// Connect tries a bounded number of times and never loops forever.
	Connect(ctx context.Context) error
}

// Static is a gate whose state is set by hand. Offline boards and tests
// use it.
type Static struct {
	up       atomic.Bool
	connects atomic.Int32
	// OnConnect, if set, decides the outcome of Connect.
	OnConnect func() bool
}

func NewStatic(up bool) *Static {
	s := &Static{}
	s.up.Store(up)
	return s
}

func (s *Static) Set(up bool)                      { s.up.Store(up) }
func (s *Static) IsConnected(context.Context) bool { return s.up.Load() }
func (s *Static) Connects() int                    { return int(s.connects.Load()) }

func (s *Static) Connect(context.Context) error {
	s.connects.Add(1)
	if s.OnConnect != nil {
		s.up.Store(s.OnConnect())
	}
	if !s.up.Load() {
		return errcode.New(errcode.NotConnected, "netgate.static", "link down")
	}
	return nil
}
