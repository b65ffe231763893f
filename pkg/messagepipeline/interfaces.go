package messagepipeline

import (
	"context"
)

// ====================================================================================
// This file defines the core interfaces and function types for building a dataflow
// pipeline. It outlines the contracts for consuming, transforming, and processing
// messages.
// ====================================================================================

// --- Stage 1: Consumer ---

// MessageConsumer defines the interface for a message source (e.g., Pub/Sub, MQTT).
// It is responsible for fetching messages and handing them off to the pipeline.
type MessageConsumer interface {
	// Messages returns a read-only channel from which pipeline workers will receive messages.
	Messages() <-chan Message
	// Start begins the consumption process (e.g., by calling subscription.Receive).
	Start(ctx context.Context) error
	// Stop gracefully ceases message consumption and waits for background tasks to finish.
	Stop(ctx context.Context) error
	// Done returns a channel that is closed when the consumer has completely shut down.
	Done() <-chan struct{}
}

// --- Stage 2: Transformer ---

// MessageTransformer defines a function that transforms a generic `Message` into a
// new, specific, structured payload of type T, such as a decoded device reply or
// an unmarshalled command.
//
// The 'skip' return value can be set to true to signal that this message should
// be acknowledged and not processed further, effectively filtering it from the pipeline.
//
// IMPORTANT: The implementation should populate the returned payload struct (T) with
// raw data. It should NOT serialize the final struct into JSON or any other format;
// the final publishing stage (e.g., GooglePubsubProducer) is responsible for serialization.
// Pre-serializing the payload can lead to inefficient "double-wrapping" of messages.
type MessageTransformer[T any] func(ctx context.Context, msg *Message) (payload *T, skip bool, err error)

// --- Stage 3: Processor ---

// StreamProcessor defines the contract for an endpoint that handles transformed
// messages of type T one by one. An error Nacks the message so it is redelivered,
// unless it wraps ErrDiscard, in which case the message is Acked and dropped.
type StreamProcessor[T any] func(ctx context.Context, original Message, payload *T) error

// --- Sink: Publisher ---

// Publisher sends serialized payloads to a downstream topic.
type Publisher interface {
	// Publish blocks until the message is accepted and returns its server ID.
	Publish(ctx context.Context, payload []byte, attributes map[string]string) (string, error)
	// Stop flushes any pending messages.
	Stop(ctx context.Context) error
}
