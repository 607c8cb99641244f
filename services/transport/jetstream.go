package transport

import (
	"context"

	"github.com/nats-io/nats.go/jetstream"

	"sensorlink-go/errcode"
	"sensorlink-go/types"
)

// Publisher is the part of jetstream.JetStream the deliverer uses.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// JetStream publishes each batch on <prefix>.<board>. The batch ID is the
// message ID, so the stream's duplicate window absorbs resends.
type JetStream struct {
	js      Publisher
	subject string
	board   string
	enc     Encoder
}

func NewJetStream(js Publisher, prefix, board string, enc Encoder) *JetStream {
	if enc == nil {
		enc = JSON{}
	}
	if prefix == "" {
		prefix = "sensorlink.readings"
	}
	return &JetStream{js: js, subject: prefix + "." + board, board: board, enc: enc}
}

func (j *JetStream) Subject() string { return j.subject }

func (j *JetStream) Send(ctx context.Context, b types.Batch) (types.Directive, error) {
	const op = "transport.jetstream"
	p, err := j.enc.Encode(j.board, b)
	if err != nil {
		return types.Directive{}, err
	}
	data := p.Body
	if p.RawQuery != "" {
		data = []byte(p.RawQuery)
	}
	var opts []jetstream.PublishOpt
	if b.ID != "" {
		opts = append(opts, jetstream.WithMsgID(b.ID))
	}
	if _, err := j.js.Publish(ctx, j.subject, data, opts...); err != nil {
		return types.Directive{}, errcode.Wrap(errcode.Transport, op, err)
	}
	return types.Directive{}, nil
}
