package netgate

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sensorlink-go/errcode"
)

func TestStatic(t *testing.T) {
	ctx := context.Background()
	g := NewStatic(false)
	assert.False(t, g.IsConnected(ctx))
	err := g.Connect(ctx)
	assert.Equal(t, errcode.NotConnected, errcode.Of(err))

	g.OnConnect = func() bool { return true }
	require.NoError(t, g.Connect(ctx))
	assert.True(t, g.IsConnected(ctx))
	assert.Equal(t, 2, g.Connects())
}

type scriptedDialer struct {
	fails int
	calls int
}

func (d *scriptedDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	d.calls++
	if d.calls <= d.fails {
		return nil, errors.New("connection refused")
	}
	c1, c2 := net.Pipe()
	c2.Close()
	return c1, nil
}

func TestDial_RetriesThenSucceeds(t *testing.T) {
	d := &scriptedDialer{fails: 2}
	g := NewDial(DialConfig{Addr: "10.0.0.2:80", Retries: 3, Backoff: time.Millisecond, Dialer: d})

	require.NoError(t, g.Connect(context.Background()))
	assert.True(t, g.IsConnected(context.Background()))
	assert.Equal(t, 3, d.calls)

	g.MarkDown()
	assert.False(t, g.IsConnected(context.Background()))
}

func TestDial_BoundedAttempts(t *testing.T) {
	d := &scriptedDialer{fails: 100}
	g := NewDial(DialConfig{Addr: "10.0.0.2:80", Retries: 4, Backoff: time.Millisecond, Dialer: d})

	err := g.Connect(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, errcode.Transport)
	assert.Equal(t, 4, d.calls)
	assert.False(t, g.IsConnected(context.Background()))
}

func TestDial_CancelledContext(t *testing.T) {
	d := &scriptedDialer{fails: 100}
	g := NewDial(DialConfig{Addr: "10.0.0.2:80", Retries: 5, Backoff: time.Hour, Dialer: d})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := g.Connect(ctx)
	require.Error(t, err)
	// First token is free; the second wait exceeds the deadline.
	assert.Equal(t, 1, d.calls)
}

func TestDial_RealListener(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			c.Close()
		}
	}()

	g := NewDial(DialConfig{Addr: ln.Addr().String(), Timeout: time.Second})
	require.NoError(t, g.Connect(context.Background()))
}
