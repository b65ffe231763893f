package bridge

import (
	"context"
	"errors"
	"fmt"

	"github.com/illmade-knight/go-devicebridge/pkg/devicemessage"
	"github.com/illmade-knight/go-devicebridge/pkg/gateway"
	"github.com/illmade-knight/go-devicebridge/pkg/messagepipeline"
	"github.com/illmade-knight/go-devicebridge/pkg/mqttcodec"
	"github.com/rs/zerolog"
)

// Command is an outbound device message read from the command subscription.
type Command struct {
	Message devicemessage.Message
}

// DevicePublisher delivers an outbound message to its device.
type DevicePublisher interface {
	Publish(ctx context.Context, msg devicemessage.Message) (string, error)
}

// NewCommandTransformer parses command envelopes. A command that cannot be
// parsed never will be, so it is logged and skipped rather than redelivered.
func NewCommandTransformer(logger zerolog.Logger) messagepipeline.MessageTransformer[Command] {
	logger = logger.With().Str("component", "CommandTransformer").Logger()
	return func(_ context.Context, msg *messagepipeline.Message) (*Command, bool, error) {
		parsed, err := devicemessage.UnmarshalCommand(msg.Payload)
		if err != nil {
			logger.Warn().Err(err).Str("msg_id", msg.ID).Str("payload", string(msg.Payload)).Msg("Dropping unreadable command.")
			return nil, true, nil
		}
		return &Command{Message: parsed}, false, nil
	}
}

// NewDownlinkProcessor returns the processor that routes each command through
// the addressed device's gateways and publishes it. Commands that can never be
// delivered are discarded; store and broker failures are redelivered.
func NewDownlinkProcessor(
	router *gateway.Router,
	publisher DevicePublisher,
	logger zerolog.Logger,
) (messagepipeline.StreamProcessor[Command], error) {
	if router == nil {
		return nil, fmt.Errorf("gateway router cannot be nil")
	}
	if publisher == nil {
		return nil, fmt.Errorf("device publisher cannot be nil")
	}
	logger = logger.With().Str("component", "DownlinkProcessor").Logger()

	return func(ctx context.Context, original messagepipeline.Message, payload *Command) error {
		msg := payload.Message
		routed, err := router.Route(ctx, msg)
		if err == nil {
			var topic string
			topic, err = publisher.Publish(ctx, routed)
			if err == nil {
				logger.Debug().
					Str("msg_id", original.ID).
					Str("device_id", msg.GetDeviceID()).
					Str("via", routed.GetDeviceID()).
					Str("topic", topic).
					Msg("Command delivered.")
				return nil
			}
		}
		err = fmt.Errorf("failed to deliver command %s to %s: %w", original.ID, msg.GetDeviceID(), err)
		if undeliverable(err) {
			return fmt.Errorf("%w: %w", messagepipeline.ErrDiscard, err)
		}
		return err
	}, nil
}

func undeliverable(err error) bool {
	return errors.Is(err, gateway.ErrRoutingLoop) ||
		errors.Is(err, mqttcodec.ErrNestingTooDeep) ||
		errors.Is(err, mqttcodec.ErrUnsupportedMessage)
}

// NewDownlinkService assembles the downlink pipeline.
func NewDownlinkService(
	cfg DownlinkConfig,
	consumer messagepipeline.MessageConsumer,
	processor messagepipeline.StreamProcessor[Command],
	logger zerolog.Logger,
) (*messagepipeline.StreamingService[Command], error) {
	service, err := messagepipeline.NewStreamingService(
		messagepipeline.StreamingServiceConfig{Name: "downlink", NumWorkers: cfg.NumWorkers},
		consumer,
		NewCommandTransformer(logger),
		processor,
		logger,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create downlink service: %w", err)
	}
	return service, nil
}
