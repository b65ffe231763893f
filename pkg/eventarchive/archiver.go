package eventarchive

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ArchiverConfig holds the batching settings of an Archiver.
type ArchiverConfig struct {
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	// InsertTimeout bounds a single InsertBatch call.
	InsertTimeout time.Duration `yaml:"insert_timeout"`
}

// DefaultArchiverConfig returns the batching defaults.
func DefaultArchiverConfig() ArchiverConfig {
	return ArchiverConfig{
		BatchSize:     500,
		FlushInterval: 5 * time.Second,
		InsertTimeout: 30 * time.Second,
	}
}

// Archiver collects EventRecords and flushes them to a DataBatchInserter when a
// batch is full, when the flush interval passes, and on Stop.
type Archiver struct {
	cfg       ArchiverConfig
	inserter  DataBatchInserter[EventRecord]
	logger    zerolog.Logger
	inputChan chan *EventRecord
	wg        sync.WaitGroup
	stopOnce  sync.Once
}

// NewArchiver creates an Archiver. Zero config values select the defaults.
func NewArchiver(cfg ArchiverConfig, inserter DataBatchInserter[EventRecord], logger zerolog.Logger) (*Archiver, error) {
	if inserter == nil {
		return nil, fmt.Errorf("inserter cannot be nil")
	}
	defaults := DefaultArchiverConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaults.BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = defaults.FlushInterval
	}
	if cfg.InsertTimeout <= 0 {
		cfg.InsertTimeout = defaults.InsertTimeout
	}
	return &Archiver{
		cfg:       cfg,
		inserter:  inserter,
		logger:    logger.With().Str("component", "EventArchiver").Logger(),
		inputChan: make(chan *EventRecord, cfg.BatchSize*2),
	}, nil
}

// Start launches the batching worker. It runs until Stop is called or ctx ends.
func (a *Archiver) Start(ctx context.Context) {
	a.logger.Info().
		Int("batch_size", a.cfg.BatchSize).
		Dur("flush_interval", a.cfg.FlushInterval).
		Msg("Starting event archiver...")
	a.wg.Add(1)
	go a.worker(ctx)
}

// Archive queues record for the next batch. It blocks while the queue is full.
func (a *Archiver) Archive(ctx context.Context, record *EventRecord) error {
	select {
	case a.inputChan <- record:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("failed to queue event %s from %s: %w", record.MessageID, record.DeviceID, ctx.Err())
	}
}

// Stop flushes queued records and closes the inserter. Archive must not be
// called after Stop.
func (a *Archiver) Stop(ctx context.Context) error {
	var err error
	a.stopOnce.Do(func() {
		a.logger.Info().Msg("Stopping event archiver...")
		close(a.inputChan)

		done := make(chan struct{})
		go func() {
			a.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			a.logger.Error().Err(ctx.Err()).Msg("Timeout waiting for event archiver to flush.")
			err = ctx.Err()
			return
		}
		if closeErr := a.inserter.Close(); closeErr != nil {
			a.logger.Error().Err(closeErr).Msg("Error closing event inserter.")
		}
		a.logger.Info().Msg("Event archiver stopped.")
	})
	return err
}

func (a *Archiver) worker(ctx context.Context) {
	defer a.wg.Done()
	batch := make([]*EventRecord, 0, a.cfg.BatchSize)
	ticker := time.NewTicker(a.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.flush(context.Background(), batch)
			return

		case record, ok := <-a.inputChan:
			if !ok {
				a.flush(context.Background(), batch)
				return
			}
			batch = append(batch, record)
			if len(batch) >= a.cfg.BatchSize {
				a.flush(ctx, batch)
				batch = make([]*EventRecord, 0, a.cfg.BatchSize)
				ticker.Reset(a.cfg.FlushInterval)
			}

		case <-ticker.C:
			if len(batch) > 0 {
				a.flush(ctx, batch)
				batch = make([]*EventRecord, 0, a.cfg.BatchSize)
			}
		}
	}
}

// flush inserts batch. Device events have no redelivery, so a failed batch is
// logged and dropped.
func (a *Archiver) flush(ctx context.Context, batch []*EventRecord) {
	if len(batch) == 0 {
		return
	}
	insertCtx, cancel := context.WithTimeout(ctx, a.cfg.InsertTimeout)
	defer cancel()

	if err := a.inserter.InsertBatch(insertCtx, batch); err != nil {
		a.logger.Error().Err(err).Int("batch_size", len(batch)).Msg("Failed to archive event batch, dropping it.")
		return
	}
	a.logger.Debug().Int("batch_size", len(batch)).Msg("Archived event batch.")
}
