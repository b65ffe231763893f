package messagepipeline

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/rs/zerolog"
)

// Env names read by NewGooglePubsubProducerDefaults.
const (
	PubsubProducerBatchSize      = "PUBSUB_PRODUCER_BATCH_SIZE"
	PubsubProducerBatchDelay     = "PUBSUB_PRODUCER_BATCH_DELAY"
	PubsubProducerPublishTimeout = "PUBSUB_PRODUCER_PUBLISH_TIMEOUT"
)

// GooglePubsubProducerConfig holds configuration for the Google Pub/Sub producer.
type GooglePubsubProducerConfig struct {
	ProjectID  string
	TopicID    string
	BatchSize  int           // Corresponds to Pub/Sub's CountThreshold.
	BatchDelay time.Duration // Corresponds to Pub/Sub's DelayThreshold.
	// TopicExistsTimeout bounds the existence check made by the constructor.
	TopicExistsTimeout time.Duration
	// PublishConfirmationTimeout bounds how long Publish waits for the server ID.
	PublishConfirmationTimeout time.Duration
}

// NewGooglePubsubProducerDefaults provides a config with sensible defaults,
// overridden by the environment.
func NewGooglePubsubProducerDefaults() *GooglePubsubProducerConfig {
	cfg := &GooglePubsubProducerConfig{
		BatchSize:                  100,
		BatchDelay:                 100 * time.Millisecond,
		TopicExistsTimeout:         15 * time.Second,
		PublishConfirmationTimeout: 20 * time.Second,
	}
	if bs := os.Getenv(PubsubProducerBatchSize); bs != "" {
		if val, err := strconv.Atoi(bs); err == nil && val > 0 {
			cfg.BatchSize = val
		}
	}
	if bd := os.Getenv(PubsubProducerBatchDelay); bd != "" {
		if val, err := time.ParseDuration(bd); err == nil {
			cfg.BatchDelay = val
		}
	}
	if pt := os.Getenv(PubsubProducerPublishTimeout); pt != "" {
		if val, err := time.ParseDuration(pt); err == nil {
			cfg.PublishConfirmationTimeout = val
		}
	}
	return cfg
}

// GooglePubsubProducer implements Publisher on a Pub/Sub topic. Concurrent
// Publish calls are batched by the client library.
type GooglePubsubProducer struct {
	topic                      *pubsub.Topic
	logger                     zerolog.Logger
	publishConfirmationTimeout time.Duration
}

// NewGooglePubsubProducer creates a producer for an existing topic.
func NewGooglePubsubProducer(
	ctx context.Context,
	cfg *GooglePubsubProducerConfig,
	client *pubsub.Client,
	logger zerolog.Logger,
) (*GooglePubsubProducer, error) {
	if client == nil {
		return nil, fmt.Errorf("pubsub client cannot be nil for producer")
	}

	topic := client.Topic(cfg.TopicID)
	topic.PublishSettings.DelayThreshold = cfg.BatchDelay
	topic.PublishSettings.CountThreshold = cfg.BatchSize
	topic.PublishSettings.Timeout = 10 * time.Second
	topic.PublishSettings.NumGoroutines = 5

	existsCtx, cancel := context.WithTimeout(ctx, cfg.TopicExistsTimeout)
	defer cancel()
	exists, err := topic.Exists(existsCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to check for topic %s: %w", cfg.TopicID, err)
	}
	if !exists {
		return nil, fmt.Errorf("pubsub topic %s does not exist", cfg.TopicID)
	}

	logger.Info().Str("topic_id", cfg.TopicID).Msg("GooglePubsubProducer initialized successfully.")
	return &GooglePubsubProducer{
		topic:                      topic,
		logger:                     logger.With().Str("component", "GooglePubsubProducer").Str("topic_id", cfg.TopicID).Logger(),
		publishConfirmationTimeout: cfg.PublishConfirmationTimeout,
	}, nil
}

// Publish queues the message and waits for the server to confirm it.
func (p *GooglePubsubProducer) Publish(ctx context.Context, payload []byte, attributes map[string]string) (string, error) {
	res := p.topic.Publish(ctx, &pubsub.Message{
		Data:       payload,
		Attributes: attributes,
	})

	getCtx := ctx
	if p.publishConfirmationTimeout > 0 {
		var cancel context.CancelFunc
		getCtx, cancel = context.WithTimeout(ctx, p.publishConfirmationTimeout)
		defer cancel()
	}
	msgID, err := res.Get(getCtx)
	if err != nil {
		return "", fmt.Errorf("failed to publish message: %w", err)
	}
	p.logger.Debug().Str("pubsub_msg_id", msgID).Msg("Message published successfully.")
	return msgID, nil
}

// Stop flushes any buffered messages, respecting the provided context's timeout.
func (p *GooglePubsubProducer) Stop(ctx context.Context) error {
	p.logger.Info().Msg("Flushing remaining messages and stopping Pub/Sub topic...")
	// topic.Stop() is blocking and takes no context.
	stopDone := make(chan struct{})
	go func() {
		p.topic.Stop()
		close(stopDone)
	}()
	select {
	case <-stopDone:
		p.logger.Info().Msg("Pub/Sub producer stopped gracefully.")
		return nil
	case <-ctx.Done():
		p.logger.Error().Err(ctx.Err()).Msg("Timeout waiting for Pub/Sub topic to flush and stop.")
		return ctx.Err()
	}
}
