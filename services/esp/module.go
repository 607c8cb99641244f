package esp

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"sensorlink-go/errcode"
	"sensorlink-go/services/transport"
	"sensorlink-go/types"
)

// Link id used for the single TCP connection (CIPMUX=1).
const linkID = 0

type Config struct {
	Network types.Network
	Remote  types.Remote
	Board   string
	Encoder transport.Encoder // default Query

	CmdTimeout  time.Duration // per command; default 5s
	JoinTimeout time.Duration // AT+CWJAP; default 20s
	JoinRetries int           // default 3
	// ReplyGap ends the response read once no further +IPD frame arrives
	// within it. Default 300ms.
	ReplyGap time.Duration
	Logger   *slog.Logger
}

// Module is an ESP8266 acting as netgate.Gate and transport.Deliverer.
type Module struct {
	at  *AT
	cfg Config
	log *slog.Logger
}

func New(port SerialPort, cfg Config) *Module {
	if cfg.Encoder == nil {
		cfg.Encoder = transport.Query{}
	}
	if cfg.JoinTimeout <= 0 {
		cfg.JoinTimeout = 20 * time.Second
	}
	if cfg.JoinRetries <= 0 {
		cfg.JoinRetries = 3
	}
	if cfg.ReplyGap <= 0 {
		cfg.ReplyGap = 300 * time.Millisecond
	}
	l := cfg.Logger
	if l == nil {
		l = slog.Default()
	}
	return &Module{
		at:  NewAT(port, cfg.CmdTimeout),
		cfg: cfg,
		log: l.With("component", "esp"),
	}
}

// Init closes stale links and selects station+AP mode with multiplexed
// connections.
func (m *Module) Init(ctx context.Context) error {
	const op = "esp.init"
	m.at.Drain()
	// No link may be open; an ERROR here is expected.
	_ = m.at.Command(ctx, "AT+CIPCLOSE=5")
	if err := m.at.Command(ctx, "AT+CWMODE=3"); err != nil {
		return errcode.Wrap(errcode.NotConnected, op, err)
	}
	if err := m.at.Command(ctx, "AT+CIPMUX=1"); err != nil {
		return errcode.Wrap(errcode.NotConnected, op, err)
	}
	return nil
}

// IsConnected asks for the station IP; 0.0.0.0 means not joined.
func (m *Module) IsConnected(ctx context.Context) bool {
	if err := m.at.Send("AT+CIFSR"); err != nil {
		return false
	}
	line, err := m.at.Expect(ctx, "+CIFSR:STAIP,")
	if err != nil {
		return false
	}
	ip := strings.Trim(strings.TrimPrefix(line, "+CIFSR:STAIP,"), `"`)
	if _, err := m.at.Expect(ctx, "OK"); err != nil {
		return false
	}
	return ip != "" && !strings.Contains(ip, "0.0.0.0")
}

// Connect joins the configured access point, trying JoinRetries times.
func (m *Module) Connect(ctx context.Context) error {
	const op = "esp.connect"
	var last error
	for attempt := 1; attempt <= m.cfg.JoinRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return errcode.Wrap(errcode.NotConnected, op, err)
		}
		if err := m.at.Send(`AT+CWJAP="%s","%s"`, m.cfg.Network.SSID, m.cfg.Network.Password); err != nil {
			last = err
			continue
		}
		_, err := m.at.ExpectWithin(ctx, m.cfg.JoinTimeout, "OK")
		if err == nil && m.IsConnected(ctx) {
			m.log.Info("joined network", "ssid", m.cfg.Network.SSID, "attempt", attempt)
			return nil
		}
		if err == nil {
			err = errors.New("no station address")
		}
		last = err
		m.log.Warn("join failed", "ssid", m.cfg.Network.SSID, "attempt", attempt, "err", err)
	}
	return errcode.Wrap(errcode.NotConnected, op, last)
}

// Send opens a TCP link, writes one HTTP request and reads the reply.
func (m *Module) Send(ctx context.Context, b types.Batch) (types.Directive, error) {
	const op = "esp.send"
	p, err := m.cfg.Encoder.Encode(m.cfg.Board, b)
	if err != nil {
		return types.Directive{}, err
	}
	req := transport.RawRequest(p, m.cfg.Remote.Dir, m.cfg.Remote.Host)

	if err := m.at.Send(`AT+CIPSTART=%d,"TCP","%s",%d`, linkID, m.cfg.Remote.IP, m.cfg.Remote.Port); err != nil {
		return types.Directive{}, err
	}
	if _, err := m.at.Expect(ctx, "OK"); err != nil {
		m.closeAll(ctx)
		return types.Directive{}, errcode.Wrap(errcode.Transport, op, err)
	}
	defer m.close(ctx)

	if err := m.at.Send("AT+CIPSEND=%d,%d", linkID, len(req)); err != nil {
		return types.Directive{}, err
	}
	if err := m.at.Prompt(ctx); err != nil {
		return types.Directive{}, errcode.Wrap(errcode.Transport, op, err)
	}
	if err := m.at.Write(req); err != nil {
		return types.Directive{}, err
	}
	if _, err := m.at.Expect(ctx, "SEND OK"); err != nil {
		return types.Directive{}, errcode.Wrap(errcode.Transport, op, err)
	}

	reply, err := m.readReply(ctx)
	if err != nil {
		return types.Directive{}, errcode.Wrap(errcode.Timeout, op, err)
	}
	if err := transport.CheckRawResponse(reply); err != nil {
		return types.Directive{}, err
	}
	return transport.ParseDirective(reply), nil
}

// readReply collects +IPD frames until the gap between frames exceeds
// ReplyGap. The first frame waits for the full command timeout.
func (m *Module) readReply(ctx context.Context) ([]byte, error) {
	first, cancel := context.WithTimeout(ctx, m.at.timeout)
	reply, err := m.at.ReadIPD(first)
	cancel()
	if err != nil {
		return nil, err
	}
	for {
		next, cancel := context.WithTimeout(ctx, m.cfg.ReplyGap)
		more, err := m.at.ReadIPD(next)
		cancel()
		if err != nil {
			return reply, nil
		}
		reply = append(reply, more...)
	}
}

func (m *Module) close(ctx context.Context) {
	_ = m.at.Command(ctx, "AT+CIPCLOSE=%d", linkID)
	m.at.Drain()
}

func (m *Module) closeAll(ctx context.Context) {
	_ = m.at.Command(ctx, "AT+CIPCLOSE=5")
	m.at.Drain()
}
