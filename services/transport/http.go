package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/klauspost/compress/zstd"

	"sensorlink-go/errcode"
	"sensorlink-go/types"
)

// maxResponse bounds how much of a reply is read for the directive.
const maxResponse = 4 << 10

var zstdEncoder *zstd.Encoder

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("transport: zstd encoder initialization failed: " + err.Error())
	}
}

type HTTPConfig struct {
	URL      string // scheme://ip:port/dir
	Host     string // Host header; empty keeps the URL host
	Board    string
	Encoder  Encoder
	Timeout  time.Duration // per send; 0 selects 10s
	Compress bool          // zstd request bodies
	Client   *http.Client
	Logger   *slog.Logger
}

// HTTP delivers batches to the ingest endpoint over HTTP(S).
type HTTP struct {
	cfg HTTPConfig
	log *slog.Logger
}

func NewHTTP(cfg HTTPConfig) *HTTP {
	if cfg.Encoder == nil {
		cfg.Encoder = Query{}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{}
	}
	l := cfg.Logger
	if l == nil {
		l = slog.Default()
	}
	return &HTTP{cfg: cfg, log: l.With("component", "transport", "link", "http")}
}

// RemoteURL builds the endpoint URL from the board's ConnInfo.
func RemoteURL(r types.Remote, secure bool) string {
	scheme := "http"
	if secure {
		scheme = "https"
	}
	dir := r.Dir
	if dir == "" || dir[0] != '/' {
		dir = "/" + dir
	}
	return scheme + "://" + net.JoinHostPort(r.IP, strconv.Itoa(r.Port)) + dir
}

func (h *HTTP) Send(ctx context.Context, b types.Batch) (types.Directive, error) {
	const op = "transport.http"
	p, err := h.cfg.Encoder.Encode(h.cfg.Board, b)
	if err != nil {
		return types.Directive{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, h.cfg.Timeout)
	defer cancel()

	target := h.cfg.URL
	if p.RawQuery != "" {
		target += "?" + p.RawQuery
	}
	var body io.Reader
	compressed := false
	if len(p.Body) > 0 {
		data := p.Body
		if h.cfg.Compress {
			data = zstdEncoder.EncodeAll(p.Body, nil)
			compressed = true
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, p.Method, target, body)
	if err != nil {
		return types.Directive{}, errcode.Wrap(errcode.Config, op, err)
	}
	if h.cfg.Host != "" {
		req.Host = h.cfg.Host
	}
	if p.ContentType != "" {
		req.Header.Set("Content-Type", p.ContentType)
	}
	if compressed {
		req.Header.Set("Content-Encoding", "zstd")
	}
	if b.ID != "" {
		req.Header.Set("Idempotency-Key", b.ID)
	}

	resp, err := h.cfg.Client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return types.Directive{}, errcode.Wrap(errcode.Timeout, op, err)
		}
		return types.Directive{}, errcode.Wrap(errcode.Transport, op, err)
	}
	defer resp.Body.Close()
	reply, err := io.ReadAll(io.LimitReader(resp.Body, maxResponse))
	if err != nil {
		return types.Directive{}, errcode.Wrap(errcode.Transport, op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return types.Directive{}, errcode.New(errcode.Rejected, op, fmt.Sprintf("status %d", resp.StatusCode))
	}
	d := ParseDirective(reply)
	h.log.Debug("batch delivered", "batch", b.ID, "entries", b.Len(), "status", resp.StatusCode)
	return d, nil
}
