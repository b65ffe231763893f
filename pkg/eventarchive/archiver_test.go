package eventarchive_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/illmade-knight/go-devicebridge/pkg/eventarchive"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockDataBatchInserter records every batch it is given.
type MockDataBatchInserter struct {
	mu      sync.Mutex
	batches [][]*eventarchive.EventRecord
	err     error
	closed  bool
}

func (m *MockDataBatchInserter) InsertBatch(_ context.Context, items []*eventarchive.EventRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	batch := make([]*eventarchive.EventRecord, len(items))
	copy(batch, items)
	m.batches = append(m.batches, batch)
	return m.err
}

func (m *MockDataBatchInserter) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *MockDataBatchInserter) GetBatches() [][]*eventarchive.EventRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]*eventarchive.EventRecord(nil), m.batches...)
}

func (m *MockDataBatchInserter) IsClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func newTestArchiver(t *testing.T, batchSize int, flushInterval time.Duration, inserter *MockDataBatchInserter) *eventarchive.Archiver {
	t.Helper()
	archiver, err := eventarchive.NewArchiver(eventarchive.ArchiverConfig{
		BatchSize:     batchSize,
		FlushInterval: flushInterval,
		InsertTimeout: time.Second,
	}, inserter, zerolog.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	archiver.Start(ctx)
	return archiver
}

func record(i int) *eventarchive.EventRecord {
	return &eventarchive.EventRecord{DeviceID: "dev-7", MessageID: fmt.Sprintf("e-%d", i), Event: "alarm"}
}

func TestArchiver_BatchSizeTrigger(t *testing.T) {
	inserter := &MockDataBatchInserter{}
	archiver := newTestArchiver(t, 3, time.Minute, inserter)

	for i := 0; i < 3; i++ {
		require.NoError(t, archiver.Archive(context.Background(), record(i)))
	}

	require.Eventually(t, func() bool {
		return len(inserter.GetBatches()) == 1
	}, time.Second, 10*time.Millisecond, "InsertBatch should be called once")
	assert.Len(t, inserter.GetBatches()[0], 3)
}

func TestArchiver_FlushIntervalTrigger(t *testing.T) {
	inserter := &MockDataBatchInserter{}
	archiver := newTestArchiver(t, 100, 50*time.Millisecond, inserter)

	require.NoError(t, archiver.Archive(context.Background(), record(1)))

	require.Eventually(t, func() bool {
		return len(inserter.GetBatches()) == 1
	}, time.Second, 10*time.Millisecond, "partial batch should be flushed by the ticker")
	assert.Equal(t, "e-1", inserter.GetBatches()[0][0].MessageID)
}

func TestArchiver_StopFlushesRemaining(t *testing.T) {
	inserter := &MockDataBatchInserter{}
	archiver := newTestArchiver(t, 100, time.Minute, inserter)

	require.NoError(t, archiver.Archive(context.Background(), record(1)))
	require.NoError(t, archiver.Archive(context.Background(), record(2)))

	stopCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, archiver.Stop(stopCtx))
	require.NoError(t, archiver.Stop(stopCtx))

	batches := inserter.GetBatches()
	require.Len(t, batches, 1)
	assert.Len(t, batches[0], 2)
	assert.True(t, inserter.IsClosed())
}

func TestArchiver_InsertErrorDropsBatch(t *testing.T) {
	inserter := &MockDataBatchInserter{err: errors.New("quota exceeded")}
	archiver := newTestArchiver(t, 1, time.Minute, inserter)

	require.NoError(t, archiver.Archive(context.Background(), record(1)))
	require.NoError(t, archiver.Archive(context.Background(), record(2)))

	require.Eventually(t, func() bool {
		return len(inserter.GetBatches()) == 2
	}, time.Second, 10*time.Millisecond, "archiver keeps going after a failed batch")
}

func TestArchiver_ArchiveRespectsContext(t *testing.T) {
	archiver, err := eventarchive.NewArchiver(eventarchive.ArchiverConfig{BatchSize: 1}, &MockDataBatchInserter{}, zerolog.Nop())
	require.NoError(t, err)

	// Not started: the queue holds two records, the third blocks.
	require.NoError(t, archiver.Archive(context.Background(), record(1)))
	require.NoError(t, archiver.Archive(context.Background(), record(2)))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = archiver.Archive(ctx, record(3))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNewArchiver_Validation(t *testing.T) {
	_, err := eventarchive.NewArchiver(eventarchive.DefaultArchiverConfig(), nil, zerolog.Nop())
	assert.Error(t, err)
}
