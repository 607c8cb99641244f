package config

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"

	"sensorlink-go/bus"
	"sensorlink-go/errcode"
	"sensorlink-go/services/ports"
	"sensorlink-go/types"
)

const (
	serviceName  = "config"
	configPrefix = "config"
	CtxDeviceKey = "device" // context key used for device ID
)

// EmbeddedBoardLookup allows overriding how board files are resolved.
var EmbeddedBoardLookup = func(device string) ([]byte, bool) {
	b, ok := embeddedBoards[device]
	return b, ok
}

// Service resolves the board file once and publishes the parsed specs as
// retained config/board, plus one retained config/dropped/<port> per port
// that could not be bound.
type Service struct {
	Name string
	// Path overrides the embedded board when set.
	Path string

	log     *slog.Logger
	dropped []ports.Dropped
}

func NewService(path string, l *slog.Logger) *Service {
	if l == nil {
		l = slog.Default()
	}
	return &Service{Name: serviceName, Path: path, log: l.With("component", serviceName)}
}

// Board reads and parses the board file. The device id comes from ctx
// under CtxDeviceKey and selects an embedded board when Path is empty.
func (s *Service) Board(ctx context.Context) (*types.BoardSpecs, error) {
	const op = "config.board"
	var r io.Reader
	if s.Path != "" {
		f, err := os.Open(s.Path)
		if err != nil {
			return nil, errcode.Wrap(errcode.Config, op, err)
		}
		defer f.Close()
		r = f
	} else {
		device, _ := ctx.Value(CtxDeviceKey).(string)
		if device == "" {
			return nil, errcode.New(errcode.Config, op, "missing device ID in context")
		}
		raw, ok := EmbeddedBoardLookup(device)
		if !ok || len(raw) == 0 {
			return nil, errcode.New(errcode.Config, op, "no embedded board for device: "+device)
		}
		r = bytes.NewReader(raw)
	}

	specs, dropped, err := ParseBoard(r)
	if err != nil {
		return nil, err
	}
	for _, d := range dropped {
		s.log.Warn("port dropped", "port", d.Decl.Name, "channel", d.Channel, "reason", d.Reason)
	}
	s.dropped = dropped
	return specs, nil
}

// Dropped lists the ports the last Board call could not bind.
func (s *Service) Dropped() []ports.Dropped { return s.dropped }

// Publish resolves the board and announces it on the bus.
func (s *Service) Publish(ctx context.Context, conn *bus.Connection) (*types.BoardSpecs, error) {
	specs, err := s.Board(ctx)
	if err != nil {
		return nil, err
	}
	conn.Publish(conn.NewMessage(bus.T(configPrefix, "board"), specs, true))
	for _, d := range s.dropped {
		conn.Publish(conn.NewMessage(bus.T(configPrefix, "dropped", d.Decl.Name), d.Reason, true))
	}
	return specs, nil
}

// Start launches the board publisher in a goroutine.
func (s *Service) Start(ctx context.Context, conn *bus.Connection) {
	go func() {
		if _, err := s.Publish(ctx, conn); err != nil {
			s.log.Error("board publish failed", "err", err)
		}
	}()
}
