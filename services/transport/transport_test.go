package transport

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"sensorlink-go/errcode"
	"sensorlink-go/types"
)

func sample() types.Batch {
	return types.Batch{
		ID:      "b-1",
		TakenMs: 42,
		Entries: []types.Entry{
			{Port: "A", Reading: types.Above(), Description: "Voltage in Volts"},
			{Port: "B", Reading: types.Value(10), Description: "Level in Percent"},
		},
	}
}

func TestQuery_OriginalLayout(t *testing.T) {
	p, err := Query{}.Encode("board7", sample())
	require.NoError(t, err)
	assert.Equal(t, http.MethodGet, p.Method)
	assert.Equal(t, "Board_ID=board7&Batch_ID=b-1&Port_ID[]=A&Value[]=inf&Port_ID[]=B&Value[]=10.000000", p.RawQuery)

	doc, err := ParseQuery(p.RawQuery)
	require.NoError(t, err)
	assert.Equal(t, "board7", doc.Board)
	assert.Equal(t, "b-1", doc.Batch)
	require.Len(t, doc.Readings, 2)
	assert.Equal(t, DocReading{Port: "A", Value: "inf"}, doc.Readings[0])
}

func TestQuery_LegacyBatchOmitsID(t *testing.T) {
	b := sample()
	b.ID = ""
	p, err := Query{}.Encode("board7", b)
	require.NoError(t, err)
	assert.NotContains(t, p.RawQuery, "Batch_ID")
}

func TestParseQuery_Rejects(t *testing.T) {
	_, err := ParseQuery("Port_ID[]=A&Value[]=1")
	assert.Equal(t, errcode.Rejected, errcode.Of(err))
	_, err = ParseQuery("Board_ID=x&Port_ID[]=A")
	assert.Equal(t, errcode.Rejected, errcode.Of(err))
}

func TestDocumentEncoders(t *testing.T) {
	want := NewDocument("board7", sample())

	p, err := JSON{}.Encode("board7", sample())
	require.NoError(t, err)
	var j Document
	require.NoError(t, json.Unmarshal(p.Body, &j))
	assert.Equal(t, want, j)

	p, err = CBOR{}.Encode("board7", sample())
	require.NoError(t, err)
	assert.Equal(t, "application/cbor", p.ContentType)
	var c Document
	require.NoError(t, cbor.Unmarshal(p.Body, &c))
	assert.Equal(t, want, c)

	p, err = Msgpack{}.Encode("board7", sample())
	require.NoError(t, err)
	var m Document
	require.NoError(t, msgpack.Unmarshal(p.Body, &m))
	assert.Equal(t, want, m)
}

func TestDecodeDocument(t *testing.T) {
	want := NewDocument("board7", sample())
	for _, enc := range []Encoder{JSON{}, CBOR{}, Msgpack{}} {
		p, err := enc.Encode("board7", sample())
		require.NoError(t, err)
		got, err := DecodeDocument(p.ContentType+"; charset=utf-8", p.Body)
		require.NoError(t, err, enc.Name())
		assert.Equal(t, want, got, enc.Name())
	}

	_, err := DecodeDocument("text/xml", []byte("<x/>"))
	assert.Equal(t, errcode.Unsupported, errcode.Of(err))
	_, err = DecodeDocument("application/json", []byte(`{"readings":[]}`))
	assert.Equal(t, errcode.Rejected, errcode.Of(err))
	_, err = DecodeDocument("application/json", []byte(`{`))
	assert.Equal(t, errcode.Rejected, errcode.Of(err))
}

func TestEncoderFor(t *testing.T) {
	for _, name := range []string{"", "query", "JSON", "cbor", "msgpack"} {
		_, err := EncoderFor(name)
		assert.NoError(t, err, name)
	}
	_, err := EncoderFor("xml")
	assert.Equal(t, errcode.Config, errcode.Of(err))
}

func TestParseDirective(t *testing.T) {
	assert.Equal(t, 30*time.Second, ParseDirective([]byte(`ok <span samplerate="30"></span>`)).Interval)
	assert.Equal(t, 2500*time.Millisecond, ParseDirective([]byte(`samplerate="2.5"`)).Interval)
	assert.True(t, ParseDirective([]byte(`samplerate="-1"`)).None())
	assert.True(t, ParseDirective([]byte(`samplerate="abc"`)).None())
	assert.True(t, ParseDirective([]byte(`samplerate="5`)).None())
	assert.True(t, ParseDirective([]byte(`hello`)).None())

	d := types.Directive{Interval: 15 * time.Second}
	assert.Equal(t, d, ParseDirective([]byte(FormatDirective(d))))
	assert.Empty(t, FormatDirective(types.Directive{}))
}

func TestRemoteURL(t *testing.T) {
	r := types.Remote{IP: "10.0.0.2", Port: 8080, Dir: "ingest.php"}
	assert.Equal(t, "http://10.0.0.2:8080/ingest.php", RemoteURL(r, false))
	r.Dir = "/x"
	assert.Equal(t, "https://10.0.0.2:8080/x", RemoteURL(r, true))
}

func TestHTTP_QuerySend(t *testing.T) {
	var gotHost, gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHost = r.Host
		gotQuery = r.URL.RawQuery
		io.WriteString(w, `<span samplerate="12"></span>`)
	}))
	defer srv.Close()

	h := NewHTTP(HTTPConfig{URL: srv.URL + "/ingest.php", Host: "iac.example", Board: "board7"})
	d, err := h.Send(context.Background(), sample())
	require.NoError(t, err)
	assert.Equal(t, 12*time.Second, d.Interval)
	assert.Equal(t, "iac.example", gotHost)
	assert.Contains(t, gotQuery, "Board_ID=board7")
}

func TestHTTP_CompressedPost(t *testing.T) {
	var got Document
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "zstd", r.Header.Get("Content-Encoding"))
		assert.Equal(t, "b-1", r.Header.Get("Idempotency-Key"))
		dec, err := zstd.NewReader(r.Body)
		if !assert.NoError(t, err) {
			return
		}
		defer dec.Close()
		assert.NoError(t, json.NewDecoder(dec).Decode(&got))
	}))
	defer srv.Close()

	h := NewHTTP(HTTPConfig{URL: srv.URL, Board: "board7", Encoder: JSON{}, Compress: true})
	d, err := h.Send(context.Background(), sample())
	require.NoError(t, err)
	assert.True(t, d.None())
	assert.Equal(t, "board7", got.Board)
	assert.Len(t, got.Readings, 2)
}

func TestHTTP_RejectedStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	_, err := NewHTTP(HTTPConfig{URL: srv.URL, Board: "b"}).Send(context.Background(), sample())
	require.Error(t, err)
	assert.Equal(t, errcode.Rejected, errcode.Of(err))
	assert.ErrorIs(t, err, errcode.Transport)
}

func TestHTTP_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	_, err := NewHTTP(HTTPConfig{URL: srv.URL, Board: "b", Timeout: 50 * time.Millisecond}).Send(context.Background(), sample())
	require.Error(t, err)
	assert.Equal(t, errcode.Timeout, errcode.Of(err))
}

func TestHTTP_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewHTTP(HTTPConfig{URL: url, Board: "b", Timeout: time.Second}).Send(context.Background(), sample())
	require.Error(t, err)
	assert.ErrorIs(t, err, errcode.Transport)
}

type fakePublisher struct {
	subject string
	data    []byte
	opts    int
	err     error
}

func (f *fakePublisher) Publish(_ context.Context, subject string, data []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error) {
	f.subject, f.data, f.opts = subject, data, len(opts)
	if f.err != nil {
		return nil, f.err
	}
	return &jetstream.PubAck{Stream: "READINGS", Sequence: 1}, nil
}

func TestJetStream_Send(t *testing.T) {
	pub := &fakePublisher{}
	js := NewJetStream(pub, "", "board7", nil)
	assert.Equal(t, "sensorlink.readings.board7", js.Subject())

	d, err := js.Send(context.Background(), sample())
	require.NoError(t, err)
	assert.True(t, d.None())
	assert.Equal(t, "sensorlink.readings.board7", pub.subject)
	assert.Equal(t, 1, pub.opts)

	var doc Document
	require.NoError(t, json.Unmarshal(pub.data, &doc))
	assert.Equal(t, "b-1", doc.Batch)

	pub.err = assert.AnError
	_, err = js.Send(context.Background(), sample())
	assert.Equal(t, errcode.Transport, errcode.Of(err))
}

func TestRawRequest(t *testing.T) {
	p, _ := Query{}.Encode("board7", sample())
	raw := string(RawRequest(p, "ingest.php", "iac.example"))
	assert.Equal(t, "GET /ingest.php?"+p.RawQuery+" HTTP/1.1\r\nHost: iac.example\r\nConnection: close\r\n\r\n", raw)

	p, _ = JSON{}.Encode("board7", sample())
	raw = string(RawRequest(p, "/in", "h"))
	assert.Contains(t, raw, "POST /in HTTP/1.1\r\n")
	assert.Contains(t, raw, "Content-Type: application/json\r\n")
	assert.Contains(t, raw, "\r\n\r\n"+string(p.Body))
}

func TestCheckRawResponse(t *testing.T) {
	assert.NoError(t, CheckRawResponse([]byte("HTTP/1.1 200 OK\r\n\r\nfine")))
	assert.Equal(t, errcode.Rejected, errcode.Of(CheckRawResponse([]byte("HTTP/1.1 500 Internal\r\n"))))
	assert.Equal(t, errcode.Rejected, errcode.Of(CheckRawResponse([]byte("<h1>404 Not Found</h1>"))))
	assert.NoError(t, CheckRawResponse([]byte(`<span samplerate="5"></span>`)))
}
