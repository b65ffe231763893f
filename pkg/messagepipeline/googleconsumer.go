package messagepipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/rs/zerolog"
)

// --- Google Cloud Pub/Sub Consumer Implementation ---

// GooglePubsubConsumerConfig holds configuration for the Google Pub/Sub consumer.
type GooglePubsubConsumerConfig struct {
	ProjectID              string
	SubscriptionID         string
	MaxOutstandingMessages int
	NumGoroutines          int
	// SubscriptionExistsTimeout bounds the existence check made by the constructor.
	SubscriptionExistsTimeout time.Duration
}

// NewGooglePubsubConsumerDefaults provides a config with sensible defaults for subID.
func NewGooglePubsubConsumerDefaults(subID string) *GooglePubsubConsumerConfig {
	return &GooglePubsubConsumerConfig{
		SubscriptionID:            subID,
		MaxOutstandingMessages:    100,
		NumGoroutines:             5,
		SubscriptionExistsTimeout: 20 * time.Second,
	}
}

// GooglePubsubConsumer implements MessageConsumer on a Pub/Sub subscription.
type GooglePubsubConsumer struct {
	subscription       *pubsub.Subscription
	logger             zerolog.Logger
	outputChan         chan Message
	stopOnce           sync.Once
	cancelSubscription context.CancelFunc
	doneChan           chan struct{}
}

// NewGooglePubsubConsumer creates a consumer for an existing subscription.
func NewGooglePubsubConsumer(cfg *GooglePubsubConsumerConfig, client *pubsub.Client, logger zerolog.Logger) (*GooglePubsubConsumer, error) {
	if client == nil {
		return nil, fmt.Errorf("pubsub client cannot be nil for consumer")
	}
	if cfg.MaxOutstandingMessages <= 0 {
		cfg.MaxOutstandingMessages = 100
	}
	if cfg.SubscriptionExistsTimeout <= 0 {
		cfg.SubscriptionExistsTimeout = 20 * time.Second
	}
	sub := client.Subscription(cfg.SubscriptionID)

	subContext, cancel := context.WithTimeout(context.Background(), cfg.SubscriptionExistsTimeout)
	defer cancel()
	exists, err := sub.Exists(subContext)
	if err != nil {
		return nil, fmt.Errorf("failed to check for subscription %s: %w", cfg.SubscriptionID, err)
	}
	if !exists {
		return nil, fmt.Errorf("pubsub subscription %s does not exist", cfg.SubscriptionID)
	}

	sub.ReceiveSettings.MaxOutstandingMessages = cfg.MaxOutstandingMessages
	sub.ReceiveSettings.NumGoroutines = cfg.NumGoroutines

	return &GooglePubsubConsumer{
		subscription: sub,
		logger:       logger.With().Str("component", "GooglePubsubConsumer").Str("subscription_id", cfg.SubscriptionID).Logger(),
		outputChan:   make(chan Message, cfg.MaxOutstandingMessages),
		doneChan:     make(chan struct{}),
	}, nil
}

// Messages returns the channel of received messages.
func (c *GooglePubsubConsumer) Messages() <-chan Message { return c.outputChan }

// Start launches the Receive loop in the background.
func (c *GooglePubsubConsumer) Start(ctx context.Context) error {
	c.logger.Info().Msg("Starting Pub/Sub message consumption...")
	receiveCtx, cancel := context.WithCancel(ctx)
	c.cancelSubscription = cancel
	go func() {
		defer close(c.doneChan)
		defer close(c.outputChan)
		defer c.logger.Info().Msg("Pub/Sub Receive goroutine stopped.")

		err := c.subscription.Receive(receiveCtx, func(_ context.Context, msg *pubsub.Message) {
			payloadCopy := make([]byte, len(msg.Data))
			copy(payloadCopy, msg.Data)

			consumedMsg := Message{
				MessageData: MessageData{
					ID:          msg.ID,
					Payload:     payloadCopy,
					PublishTime: msg.PublishTime,
				},
				Attributes: msg.Attributes,
				Ack:        msg.Ack,
				Nack:       msg.Nack,
			}

			select {
			case c.outputChan <- consumedMsg:
			case <-receiveCtx.Done():
				msg.Nack()
				c.logger.Warn().Str("msg_id", msg.ID).Msg("Consumer stopping, Nacking message due to receive context done.")
			}
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			c.logger.Error().Err(err).Msg("Pub/Sub Receive call exited with error")
		}
	}()
	return nil
}

// Stop cancels the Receive loop and waits for it to exit or for ctx to end.
func (c *GooglePubsubConsumer) Stop(ctx context.Context) error {
	var err error
	c.stopOnce.Do(func() {
		c.logger.Info().Msg("Stopping Pub/Sub consumer...")
		if c.cancelSubscription == nil {
			close(c.outputChan)
			close(c.doneChan)
			return
		}
		c.cancelSubscription()
		select {
		case <-c.doneChan:
			c.logger.Info().Msg("Pub/Sub Receive goroutine confirmed stopped.")
		case <-ctx.Done():
			c.logger.Error().Msg("Timeout waiting for Pub/Sub Receive goroutine to stop.")
			err = ctx.Err()
		}
	})
	return err
}

// Done returns a channel that is closed once the consumer has stopped.
func (c *GooglePubsubConsumer) Done() <-chan struct{} { return c.doneChan }
