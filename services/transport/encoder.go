package transport

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/fxamacker/cbor/v2"
	"github.com/vmihailenco/msgpack/v5"

	"sensorlink-go/errcode"
	"sensorlink-go/types"
)

// Payload is an encoded batch, ready for any link.
type Payload struct {
	Method      string // GET or POST
	RawQuery    string // GET only
	Body        []byte // POST only
	ContentType string
}

// Encoder renders a batch for a board.
type Encoder interface {
	Encode(board string, b types.Batch) (Payload, error)
	Name() string
}

// EncoderFor resolves a configured encoder name.
func EncoderFor(name string) (Encoder, error) {
	switch strings.ToLower(name) {
	case "", "query":
		return Query{}, nil
	case "json":
		return JSON{}, nil
	case "cbor":
		return CBOR{}, nil
	case "msgpack":
		return Msgpack{}, nil
	}
	return nil, errcode.New(errcode.Config, "transport.encoder", "unknown encoder "+name)
}

// ---- query (GET form) ----

// Query encodes the batch as
//
//	Board_ID=<board>&Batch_ID=<id>&Port_ID[]=<name>&Value[]=<value>...
//
// with port/value pairs interleaved in table order. Batch_ID is omitted
// for legacy batches that carry none.
type Query struct{}

func (Query) Name() string { return "query" }

func (Query) Encode(board string, b types.Batch) (Payload, error) {
	var sb strings.Builder
	sb.WriteString("Board_ID=")
	sb.WriteString(url.QueryEscape(board))
	if b.ID != "" {
		sb.WriteString("&Batch_ID=")
		sb.WriteString(url.QueryEscape(b.ID))
	}
	for _, e := range b.Entries {
		sb.WriteString("&Port_ID[]=")
		sb.WriteString(url.QueryEscape(e.Port))
		sb.WriteString("&Value[]=")
		sb.WriteString(url.QueryEscape(e.Reading.String()))
	}
	return Payload{Method: http.MethodGet, RawQuery: sb.String()}, nil
}

// ParseQuery is the inverse of Query.Encode.
func ParseQuery(raw string) (Document, error) {
	const op = "transport.parse_query"
	q, err := url.ParseQuery(raw)
	if err != nil {
		return Document{}, errcode.Wrap(errcode.Rejected, op, err)
	}
	names, values := q["Port_ID[]"], q["Value[]"]
	if len(names) != len(values) {
		return Document{}, errcode.New(errcode.Rejected, op, "port/value count mismatch")
	}
	d := Document{Board: q.Get("Board_ID"), Batch: q.Get("Batch_ID")}
	if d.Board == "" {
		return Document{}, errcode.New(errcode.Rejected, op, "missing Board_ID")
	}
	for i := range names {
		d.Readings = append(d.Readings, DocReading{Port: names[i], Value: values[i]})
	}
	return d, nil
}

// ---- document encoders ----

// Document is the body of the POST encodings.
type Document struct {
	Board    string       `json:"board" cbor:"board" msgpack:"board"`
	Batch    string       `json:"batch,omitempty" cbor:"batch,omitempty" msgpack:"batch,omitempty"`
	TakenMs  int64        `json:"taken_ms,omitempty" cbor:"taken_ms,omitempty" msgpack:"taken_ms,omitempty"`
	Readings []DocReading `json:"readings" cbor:"readings" msgpack:"readings"`
}

// DocReading carries the value in its text form ("inf", "-inf" and "nan"
// included) so every encoding round-trips the reading kind.
type DocReading struct {
	Port        string `json:"port" cbor:"port" msgpack:"port"`
	Value       string `json:"value" cbor:"value" msgpack:"value"`
	Description string `json:"description,omitempty" cbor:"description,omitempty" msgpack:"description,omitempty"`
}

func NewDocument(board string, b types.Batch) Document {
	d := Document{Board: board, Batch: b.ID, TakenMs: b.TakenMs, Readings: make([]DocReading, 0, b.Len())}
	for _, e := range b.Entries {
		d.Readings = append(d.Readings, DocReading{Port: e.Port, Value: e.Reading.String(), Description: e.Description})
	}
	return d
}

type JSON struct{}

func (JSON) Name() string { return "json" }

func (JSON) Encode(board string, b types.Batch) (Payload, error) {
	body, err := json.Marshal(NewDocument(board, b))
	if err != nil {
		return Payload{}, errcode.Wrap(errcode.Error, "transport.json", err)
	}
	return Payload{Method: http.MethodPost, Body: body, ContentType: "application/json"}, nil
}

var cborMode cbor.EncMode

func init() {
	var err error
	cborMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("transport: CBOR encoder initialization failed: " + err.Error())
	}
}

type CBOR struct{}

func (CBOR) Name() string { return "cbor" }

func (CBOR) Encode(board string, b types.Batch) (Payload, error) {
	body, err := cborMode.Marshal(NewDocument(board, b))
	if err != nil {
		return Payload{}, errcode.Wrap(errcode.Error, "transport.cbor", err)
	}
	return Payload{Method: http.MethodPost, Body: body, ContentType: "application/cbor"}, nil
}

type Msgpack struct{}

func (Msgpack) Name() string { return "msgpack" }

func (Msgpack) Encode(board string, b types.Batch) (Payload, error) {
	body, err := msgpack.Marshal(NewDocument(board, b))
	if err != nil {
		return Payload{}, errcode.Wrap(errcode.Error, "transport.msgpack", err)
	}
	return Payload{Method: http.MethodPost, Body: body, ContentType: "application/msgpack"}, nil
}

// DecodeDocument is the inverse of the POST encoders, keyed by the
// Content-Type they set. Parameters after ';' are ignored.
func DecodeDocument(contentType string, body []byte) (Document, error) {
	const op = "transport.decode"
	if i := strings.IndexByte(contentType, ';'); i >= 0 {
		contentType = contentType[:i]
	}
	var d Document
	var err error
	switch strings.TrimSpace(contentType) {
	case "application/json":
		err = json.Unmarshal(body, &d)
	case "application/cbor":
		err = cbor.Unmarshal(body, &d)
	case "application/msgpack":
		err = msgpack.Unmarshal(body, &d)
	default:
		return Document{}, errcode.New(errcode.Unsupported, op, "content type "+contentType)
	}
	if err != nil {
		return Document{}, errcode.Wrap(errcode.Rejected, op, err)
	}
	if d.Board == "" {
		return Document{}, errcode.New(errcode.Rejected, op, "missing board")
	}
	return d, nil
}
