// Package collector is the receiving end of the agent's HTTP transport:
// it accepts every encoding the agent can send, stores each batch once,
// and can hand a polling interval back in the reply.
package collector

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/labstack/echo/v4"

	"sensorlink-go/errcode"
	"sensorlink-go/services/transport"
	"sensorlink-go/types"
)

const maxBody = 1 << 20

type Handler struct {
	store     Store
	directive types.Directive
	now       func() time.Time
	log       *slog.Logger
}

type Option func(*Handler)

// WithInterval makes every successful reply carry a samplerate directive.
func WithInterval(d time.Duration) Option {
	return func(h *Handler) { h.directive = types.Directive{Interval: d} }
}

func WithLogger(l *slog.Logger) Option    { return func(h *Handler) { h.log = l } }
func WithNow(now func() time.Time) Option { return func(h *Handler) { h.now = now } }

func NewHandler(store Store, opts ...Option) *Handler {
	h := &Handler{store: store, now: time.Now, log: slog.Default()}
	for _, o := range opts {
		o(h)
	}
	h.log = h.log.With("component", "collector")
	return h
}

// Register mounts the ingest endpoint at path (GET for the query
// encoding, POST for the document encodings) and the read-back routes.
func (h *Handler) Register(e *echo.Echo, path string) {
	e.GET(path, h.HandleIngest)
	e.POST(path, h.HandleIngest)
	e.GET("/readings/:board", h.HandleLatest)
	e.GET("/health", h.HandleHealth)
}

func (h *Handler) HandleIngest(c echo.Context) error {
	doc, err := h.decode(c)
	if err != nil {
		status := http.StatusBadRequest
		if errcode.Of(err) == errcode.Unsupported {
			status = http.StatusUnsupportedMediaType
		}
		h.log.Warn("rejected delivery", "err", err)
		return echo.NewHTTPError(status, err.Error())
	}

	fresh, err := h.store.Insert(c.Request().Context(), doc, h.now().UnixMilli())
	if err != nil {
		h.log.Error("store failed", "board", doc.Board, "batch", doc.Batch, "err", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "store failed")
	}
	if fresh {
		h.log.Info("batch stored", "board", doc.Board, "batch", doc.Batch, "readings", len(doc.Readings))
	} else {
		h.log.Info("duplicate batch acknowledged", "board", doc.Board, "batch", doc.Batch)
	}
	return c.HTML(http.StatusOK, "<html><body>OK"+transport.FormatDirective(h.directive)+"</body></html>")
}

func (h *Handler) decode(c echo.Context) (transport.Document, error) {
	doc, err := h.decodeBody(c)
	if err != nil {
		return doc, err
	}
	for _, r := range doc.Readings {
		if _, err := types.ParseReading(r.Value); err != nil {
			return transport.Document{}, errcode.Wrap(errcode.Rejected, "collector.decode", fmt.Errorf("port %q: %w", r.Port, err))
		}
	}
	return doc, nil
}

func (h *Handler) decodeBody(c echo.Context) (transport.Document, error) {
	req := c.Request()
	if req.Method == http.MethodGet {
		return transport.ParseQuery(req.URL.RawQuery)
	}
	body, err := io.ReadAll(io.LimitReader(req.Body, maxBody))
	if err != nil {
		return transport.Document{}, errcode.Wrap(errcode.IO, "collector.read", err)
	}
	if req.Header.Get(echo.HeaderContentEncoding) == "zstd" {
		body, err = zstdDecoder.DecodeAll(body, nil)
		if err != nil {
			return transport.Document{}, errcode.Wrap(errcode.Rejected, "collector.zstd", err)
		}
	}
	doc, err := transport.DecodeDocument(req.Header.Get(echo.HeaderContentType), body)
	if err != nil {
		return transport.Document{}, err
	}
	if key := req.Header.Get("Idempotency-Key"); doc.Batch == "" && key != "" {
		doc.Batch = key
	}
	return doc, nil
}

func (h *Handler) HandleLatest(c echo.Context) error {
	limit := 100
	if s := c.QueryParam("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a positive integer")
		}
		limit = n
	}
	rows, err := h.store.Latest(c.Request().Context(), c.Param("board"), limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if rows == nil {
		rows = []Row{}
	}
	return c.JSON(http.StatusOK, rows)
}

func (h *Handler) HandleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{"status": "ok"})
}

var zstdDecoder *zstd.Decoder

func init() {
	var err error
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("collector: zstd decoder initialization failed: " + err.Error())
	}
}
