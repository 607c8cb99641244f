package duckstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sensorlink-go/services/collector"
	"sensorlink-go/services/transport"
	"sensorlink-go/types"
)

var _ collector.Store = (*Store)(nil)

func doc(batch string) transport.Document {
	return transport.Document{
		Board:   "field_a",
		Batch:   batch,
		TakenMs: 1000,
		Readings: []transport.DocReading{
			{Port: "A", Value: "1.500000", Description: "Voltage in Volts"},
			{Port: "B", Value: "inf", Description: "Level in Percent"},
		},
	}
}

func TestStore_InsertDedupeAndRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "readings.duckdb")
	s, err := Open(path)
	require.NoError(t, err)
	ctx := context.Background()

	fresh, err := s.Insert(ctx, doc("b1"), 2000)
	require.NoError(t, err)
	assert.True(t, fresh)

	fresh, err = s.Insert(ctx, doc("b1"), 3000)
	require.NoError(t, err)
	assert.False(t, fresh, "same batch twice")

	n, err := s.Count(ctx, "field_a")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	rows, err := s.Latest(ctx, "field_a", 10)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	byPort := map[string]collector.Row{}
	for _, r := range rows {
		byPort[r.Port] = r
	}
	assert.Equal(t, types.InRange, byPort["A"].Kind)
	assert.InDelta(t, 1.5, byPort["A"].Value, 1e-6)
	assert.Equal(t, types.AboveRange, byPort["B"].Kind)
	assert.Equal(t, "b1", byPort["B"].Batch)
	require.NoError(t, s.Close())

	// Reopen keeps data and dedupe state.
	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	fresh, err = s.Insert(ctx, doc("b1"), 4000)
	require.NoError(t, err)
	assert.False(t, fresh)
}

func TestStore_LegacyBatchesAreNotDeduped(t *testing.T) {
	s, err := Open("")
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		fresh, err := s.Insert(ctx, doc(""), int64(i))
		require.NoError(t, err)
		assert.True(t, fresh)
	}
	n, err := s.Count(ctx, "field_a")
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}

func TestStore_BadValueWritesNothing(t *testing.T) {
	s, err := Open("")
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	d := doc("b2")
	d.Readings[1].Value = "lots"
	_, err = s.Insert(ctx, d, 1)
	require.Error(t, err)

	n, err := s.Count(ctx, "field_a")
	require.NoError(t, err)
	assert.Zero(t, n)
}
