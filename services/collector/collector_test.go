package collector

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sensorlink-go/services/transport"
	"sensorlink-go/types"
)

func batch(id string) types.Batch {
	return types.Batch{
		ID:      id,
		TakenMs: 1000,
		Entries: []types.Entry{
			{Port: "A", Reading: types.Value(1.5), Description: "Voltage in Volts"},
			{Port: "B", Reading: types.Below(), Description: "Level in Percent"},
		},
	}
}

func server(t *testing.T, store Store, opts ...Option) *httptest.Server {
	t.Helper()
	e := echo.New()
	NewHandler(store, opts...).Register(e, "/ingest")
	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)
	return srv
}

func TestIngest_EveryEncoding(t *testing.T) {
	for _, name := range []string{"query", "json", "cbor", "msgpack"} {
		for _, compress := range []bool{false, true} {
			store := NewMemory()
			srv := server(t, store, WithInterval(30*time.Second))
			enc, err := transport.EncoderFor(name)
			require.NoError(t, err)
			h := transport.NewHTTP(transport.HTTPConfig{
				URL: srv.URL + "/ingest", Board: "field_a", Encoder: enc, Compress: compress,
			})

			d, err := h.Send(context.Background(), batch("b1"))
			require.NoError(t, err, name)
			assert.Equal(t, 30*time.Second, d.Interval, name)

			// Redelivery is acknowledged but stored once.
			_, err = h.Send(context.Background(), batch("b1"))
			require.NoError(t, err, name)

			rows, err := store.Latest(context.Background(), "field_a", 0)
			require.NoError(t, err)
			require.Len(t, rows, 2, name)
			assert.Equal(t, "b1", rows[0].Batch)
			kinds := map[string]types.ReadingKind{rows[0].Port: rows[0].Kind, rows[1].Port: rows[1].Kind}
			assert.Equal(t, types.BelowRange, kinds["B"], name)
		}
	}
}

func TestIngest_NoDirectiveByDefault(t *testing.T) {
	srv := server(t, NewMemory())
	h := transport.NewHTTP(transport.HTTPConfig{URL: srv.URL + "/ingest", Board: "b", Encoder: transport.Query{}})
	d, err := h.Send(context.Background(), batch("x"))
	require.NoError(t, err)
	assert.True(t, d.None())
}

func TestIngest_Rejects(t *testing.T) {
	e := echo.New()
	h := NewHandler(NewMemory())

	cases := []struct {
		name   string
		req    *http.Request
		status int
	}{
		{"missing board", httptest.NewRequest(http.MethodGet, "/ingest?Port_ID[]=A&Value[]=1", nil), http.StatusBadRequest},
		{"bad value", httptest.NewRequest(http.MethodGet, "/ingest?Board_ID=b&Port_ID[]=A&Value[]=high", nil), http.StatusBadRequest},
		{"unknown type", func() *http.Request {
			r := httptest.NewRequest(http.MethodPost, "/ingest", bytes.NewReader([]byte("<x/>")))
			r.Header.Set(echo.HeaderContentType, "text/xml")
			return r
		}(), http.StatusUnsupportedMediaType},
		{"bad zstd", func() *http.Request {
			r := httptest.NewRequest(http.MethodPost, "/ingest", bytes.NewReader([]byte("nope")))
			r.Header.Set(echo.HeaderContentType, "application/json")
			r.Header.Set(echo.HeaderContentEncoding, "zstd")
			return r
		}(), http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			err := h.HandleIngest(e.NewContext(tc.req, rec))
			var he *echo.HTTPError
			require.ErrorAs(t, err, &he)
			assert.Equal(t, tc.status, he.Code)
		})
	}
}

func TestIngest_IdempotencyKeyNamesLegacyBatch(t *testing.T) {
	store := NewMemory()
	e := echo.New()
	h := NewHandler(store)

	p, err := transport.JSON{}.Encode("b", batch(""))
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/ingest", bytes.NewReader(p.Body))
		req.Header.Set(echo.HeaderContentType, p.ContentType)
		req.Header.Set("Idempotency-Key", "k1")
		rec := httptest.NewRecorder()
		require.NoError(t, h.HandleIngest(e.NewContext(req, rec)))
		assert.Equal(t, http.StatusOK, rec.Code)
	}
	rows, err := store.Latest(context.Background(), "b", 0)
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestLatest(t *testing.T) {
	store := NewMemory()
	now := time.UnixMilli(5000)
	srv := server(t, store, WithNow(func() time.Time { return now }))
	h := transport.NewHTTP(transport.HTTPConfig{URL: srv.URL + "/ingest", Board: "field_a", Encoder: transport.Query{}})
	_, err := h.Send(context.Background(), batch("b1"))
	require.NoError(t, err)

	resp, err := http.Get(srv.URL + "/readings/field_a?limit=1")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp2, err := http.Get(srv.URL + "/readings/field_a?limit=zero")
	require.NoError(t, err)
	resp2.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp2.StatusCode)

	rows, err := store.Latest(context.Background(), "field_a", 1)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(5000), rows[0].ReceivedMs)
}

func TestMemory_LegacyNotDeduped(t *testing.T) {
	m := NewMemory()
	d := transport.NewDocument("b", batch(""))
	for i := 0; i < 2; i++ {
		fresh, err := m.Insert(context.Background(), d, 1)
		require.NoError(t, err)
		assert.True(t, fresh)
	}
	rows, err := m.Latest(context.Background(), "b", 0)
	require.NoError(t, err)
	assert.Len(t, rows, 4)
}
