package collector

import (
	"context"
	"sort"
	"sync"

	"sensorlink-go/services/transport"
	"sensorlink-go/types"
)

// Row is one stored reading.
type Row struct {
	Board       string            `json:"board"`
	Batch       string            `json:"batch,omitempty"`
	TakenMs     int64             `json:"taken_ms,omitempty"`
	ReceivedMs  int64             `json:"received_ms"`
	Port        string            `json:"port"`
	Kind        types.ReadingKind `json:"kind"`
	Value       float64           `json:"value"`
	Description string            `json:"description,omitempty"`
}

// Store keeps delivered batches. Insert reports false when a batch with
// the same board and non-empty ID was stored before; nothing is written
// then.
type Store interface {
	Insert(ctx context.Context, doc transport.Document, receivedMs int64) (bool, error)
	Latest(ctx context.Context, board string, limit int) ([]Row, error)
	Close() error
}

// Rows flattens a decoded document. Values must already be valid.
func Rows(doc transport.Document, receivedMs int64) ([]Row, error) {
	out := make([]Row, 0, len(doc.Readings))
	for _, r := range doc.Readings {
		v, err := types.ParseReading(r.Value)
		if err != nil {
			return nil, err
		}
		row := Row{
			Board:       doc.Board,
			Batch:       doc.Batch,
			TakenMs:     doc.TakenMs,
			ReceivedMs:  receivedMs,
			Port:        r.Port,
			Kind:        v.Kind,
			Description: r.Description,
		}
		if v.Kind == types.InRange {
			row.Value = float64(v.Value)
		}
		out = append(out, row)
	}
	return out, nil
}

type batchKey struct{ board, batch string }

// Memory is a Store for tests and short-lived runs.
type Memory struct {
	mu   sync.Mutex
	seen map[batchKey]struct{}
	rows []Row
}

func NewMemory() *Memory { return &Memory{seen: map[batchKey]struct{}{}} }

func (m *Memory) Insert(_ context.Context, doc transport.Document, receivedMs int64) (bool, error) {
	rows, err := Rows(doc, receivedMs)
	if err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if doc.Batch != "" {
		k := batchKey{doc.Board, doc.Batch}
		if _, dup := m.seen[k]; dup {
			return false, nil
		}
		m.seen[k] = struct{}{}
	}
	m.rows = append(m.rows, rows...)
	return true, nil
}

// Latest returns up to limit rows for board, newest received first.
func (m *Memory) Latest(_ context.Context, board string, limit int) ([]Row, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Row
	for i := len(m.rows) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		if m.rows[i].Board == board {
			out = append(out, m.rows[i])
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ReceivedMs > out[j].ReceivedMs })
	return out, nil
}

func (m *Memory) Close() error { return nil }
