package messagepipeline

import (
	"context"

	"github.com/rs/zerolog"
)

// WithPayloadValidation wraps a MessageTransformer with a payload size check.
// Messages outside [minSize, maxSize] are skipped before the inner transformer
// sees them, so oversized device bodies never reach the codec.
func WithPayloadValidation[T any](
	innerTransformer MessageTransformer[T],
	minSize int,
	maxSize int,
	logger zerolog.Logger,
) MessageTransformer[T] {
	return func(ctx context.Context, msg *Message) (*T, bool, error) {
		payloadLen := len(msg.Payload)
		if payloadLen < minSize || payloadLen > maxSize {
			logger.Warn().
				Str("msg_id", msg.ID).
				Str("device_id", msg.Attributes["device_id"]).
				Int("payload_size", payloadLen).
				Msg("Rejecting message due to invalid payload size.")
			return nil, true, nil
		}
		return innerTransformer(ctx, msg)
	}
}
