package messagepipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// ErrDiscard marks a processor error that redelivery cannot fix. The message is
// logged and Acked instead of Nacked. Wrap the cause with
// fmt.Errorf("%w: %w", ErrDiscard, err).
var ErrDiscard = errors.New("message discarded")

// Outcome is how a pipeline settled one message.
type Outcome int

const (
	// OutcomeProcessed: the processor succeeded. Acked.
	OutcomeProcessed Outcome = iota
	// OutcomeSkipped: the transformer filtered the message. Acked.
	OutcomeSkipped
	// OutcomeDiscarded: the processor returned ErrDiscard. Acked.
	OutcomeDiscarded
	// OutcomeFailed: the transformer or processor failed. Nacked.
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeProcessed:
		return "processed"
	case OutcomeSkipped:
		return "skipped"
	case OutcomeDiscarded:
		return "discarded"
	case OutcomeFailed:
		return "failed"
	}
	return "unknown"
}

// PipelineStats counts messages per outcome since the service was created.
type PipelineStats struct {
	Received  uint64 `json:"received"`
	Processed uint64 `json:"processed"`
	Skipped   uint64 `json:"skipped"`
	Discarded uint64 `json:"discarded"`
	Failed    uint64 `json:"failed"`
}

type pipelineCounters struct {
	received atomic.Uint64
	outcomes [OutcomeFailed + 1]atomic.Uint64
}

// StreamingService runs one bridge direction: it reads messages from a consumer,
// transforms each one and hands it to a processor, settling the message
// according to the Outcome.
type StreamingService[T any] struct {
	name        string
	numWorkers  int
	consumer    MessageConsumer
	transformer MessageTransformer[T]
	processor   StreamProcessor[T]
	logger      zerolog.Logger
	wg          sync.WaitGroup
	counters    pipelineCounters
}

// StreamingServiceConfig holds configuration for a StreamingService.
type StreamingServiceConfig struct {
	// Name identifies the pipeline in logs and stats.
	Name       string
	NumWorkers int
}

// NewStreamingService creates a new StreamingService.
func NewStreamingService[T any](
	cfg StreamingServiceConfig,
	consumer MessageConsumer,
	transformer MessageTransformer[T],
	processor StreamProcessor[T],
	logger zerolog.Logger,
) (*StreamingService[T], error) {
	if cfg.NumWorkers <= 0 {
		cfg.NumWorkers = 5
	}
	if cfg.Name == "" {
		cfg.Name = "default"
	}
	if consumer == nil {
		return nil, fmt.Errorf("consumer cannot be nil")
	}
	if transformer == nil {
		return nil, fmt.Errorf("transformer cannot be nil")
	}
	if processor == nil {
		return nil, fmt.Errorf("processor cannot be nil")
	}

	return &StreamingService[T]{
		name:        cfg.Name,
		numWorkers:  cfg.NumWorkers,
		consumer:    consumer,
		transformer: transformer,
		processor:   processor,
		logger:      logger.With().Str("service", "StreamingService").Str("pipeline", cfg.Name).Logger(),
	}, nil
}

// Name returns the pipeline name.
func (s *StreamingService[T]) Name() string {
	return s.name
}

// Stats returns a snapshot of the outcome counters.
func (s *StreamingService[T]) Stats() PipelineStats {
	return PipelineStats{
		Received:  s.counters.received.Load(),
		Processed: s.counters.outcomes[OutcomeProcessed].Load(),
		Skipped:   s.counters.outcomes[OutcomeSkipped].Load(),
		Discarded: s.counters.outcomes[OutcomeDiscarded].Load(),
		Failed:    s.counters.outcomes[OutcomeFailed].Load(),
	}
}

// Start starts the consumer and the worker pool.
func (s *StreamingService[T]) Start(ctx context.Context) error {
	if err := s.consumer.Start(ctx); err != nil {
		return fmt.Errorf("failed to start %s consumer: %w", s.name, err)
	}

	s.wg.Add(s.numWorkers)
	for i := 0; i < s.numWorkers; i++ {
		go s.worker(ctx, i)
	}
	s.logger.Info().Int("worker_count", s.numWorkers).Msg("Pipeline started.")
	return nil
}

// Stop stops the consumer, which closes its channel, then waits for the
// workers to settle what they already hold.
func (s *StreamingService[T]) Stop(ctx context.Context) error {
	if err := s.consumer.Stop(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("Error stopping consumer, continuing shutdown.")
	}

	workerDone := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(workerDone)
	}()

	select {
	case <-workerDone:
	case <-ctx.Done():
		s.logger.Error().Err(ctx.Err()).Msg("Timed out waiting for pipeline workers.")
		return ctx.Err()
	}

	stats := s.Stats()
	s.logger.Info().
		Uint64("received", stats.Received).
		Uint64("processed", stats.Processed).
		Uint64("skipped", stats.Skipped).
		Uint64("discarded", stats.Discarded).
		Uint64("failed", stats.Failed).
		Msg("Pipeline stopped.")
	return nil
}

func (s *StreamingService[T]) worker(ctx context.Context, workerID int) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-s.consumer.Messages():
			if !ok {
				s.logger.Debug().Int("worker_id", workerID).Msg("Consumer channel closed, worker exiting.")
				return
			}
			s.settle(msg, s.handle(ctx, msg))
		}
	}
}

// handle runs one message through the transformer and processor.
func (s *StreamingService[T]) handle(ctx context.Context, msg Message) Outcome {
	s.counters.received.Add(1)

	payload, skip, err := s.transformer(ctx, &msg)
	if err != nil {
		s.logger.Error().Err(err).Str("msg_id", msg.ID).Msg("Failed to transform message.")
		return OutcomeFailed
	}
	if skip {
		return OutcomeSkipped
	}

	err = s.processor(ctx, msg, payload)
	switch {
	case err == nil:
		return OutcomeProcessed
	case errors.Is(err, ErrDiscard):
		s.logger.Error().Err(err).Str("msg_id", msg.ID).Msg("Discarding message.")
		return OutcomeDiscarded
	default:
		s.logger.Error().Err(err).Str("msg_id", msg.ID).Msg("Failed to process message.")
		return OutcomeFailed
	}
}

func (s *StreamingService[T]) settle(msg Message, outcome Outcome) {
	s.counters.outcomes[outcome].Add(1)
	s.logger.Debug().Str("msg_id", msg.ID).Stringer("outcome", outcome).Msg("Message settled.")
	if outcome == OutcomeFailed {
		msg.Nack()
		return
	}
	msg.Ack()
}
