package bridge

import (
	"context"
	"fmt"

	"github.com/illmade-knight/go-devicebridge/pkg/devicemessage"
	"github.com/illmade-knight/go-devicebridge/pkg/eventarchive"
	"github.com/illmade-knight/go-devicebridge/pkg/gateway"
	"github.com/illmade-knight/go-devicebridge/pkg/messagepipeline"
	"github.com/illmade-knight/go-devicebridge/pkg/mqttcodec"
	"github.com/illmade-knight/go-devicebridge/pkg/mqttconverter"
	"github.com/rs/zerolog"
)

// Attribute keys set on replies published to Pub/Sub.
const (
	AttrDeviceID    = "device_id"
	AttrMessageType = "message_type"
	AttrDeviceTopic = "device_topic"
)

// EventArchiver queues decoded events for storage.
type EventArchiver interface {
	Archive(ctx context.Context, record *eventarchive.EventRecord) error
}

// NewUplinkProcessor returns the processor for decoded device replies. Each
// reply updates the gateway sessions, is archived when it is an event and is
// finally published as a reply envelope. archiver may be nil.
func NewUplinkProcessor(
	tracker *gateway.Tracker,
	archiver EventArchiver,
	publisher messagepipeline.Publisher,
	logger zerolog.Logger,
) (messagepipeline.StreamProcessor[mqttconverter.DeviceReply], error) {
	if tracker == nil {
		return nil, fmt.Errorf("gateway tracker cannot be nil")
	}
	if publisher == nil {
		return nil, fmt.Errorf("publisher cannot be nil")
	}
	logger = logger.With().Str("component", "UplinkProcessor").Logger()

	return func(ctx context.Context, original messagepipeline.Message, payload *mqttconverter.DeviceReply) error {
		reply := payload.Reply

		changed, err := tracker.Observe(ctx, reply)
		if err != nil {
			return fmt.Errorf("failed to track %s from %s: %w", reply.ReplyType(), reply.GetDeviceID(), err)
		}
		if changed {
			logger.Info().
				Str("device_id", reply.GetDeviceID()).
				Str("message_type", string(reply.ReplyType())).
				Msg("Child device session updated.")
		}

		if event, ok := reply.(*devicemessage.EventMessage); ok && archiver != nil {
			record, err := eventarchive.NewEventRecord(event, payload.ReceivedAt)
			if err != nil {
				return fmt.Errorf("failed to build archive record: %w", err)
			}
			if err := archiver.Archive(ctx, record); err != nil {
				return err
			}
		}

		data, err := devicemessage.MarshalReply(reply)
		if err != nil {
			return err
		}
		attributes := map[string]string{
			AttrDeviceID:    reply.GetDeviceID(),
			AttrMessageType: string(reply.ReplyType()),
			AttrDeviceTopic: payload.Topic,
		}
		pubsubID, err := publisher.Publish(ctx, data, attributes)
		if err != nil {
			return fmt.Errorf("failed to publish reply %s: %w", original.ID, err)
		}
		logger.Debug().
			Str("msg_id", original.ID).
			Str("pubsub_msg_id", pubsubID).
			Str("device_id", reply.GetDeviceID()).
			Msg("Reply published.")
		return nil
	}, nil
}

// NewUplinkService assembles the uplink pipeline: consumer messages are size
// checked, decoded by codec and handed to processor.
func NewUplinkService(
	cfg UplinkConfig,
	consumer messagepipeline.MessageConsumer,
	codec *mqttcodec.Codec,
	processor messagepipeline.StreamProcessor[mqttconverter.DeviceReply],
	logger zerolog.Logger,
) (*messagepipeline.StreamingService[mqttconverter.DeviceReply], error) {
	if codec == nil {
		return nil, fmt.Errorf("codec cannot be nil")
	}
	maxBytes := cfg.MaxPayloadBytes
	if maxBytes <= 0 {
		maxBytes = DefaultConfig().Uplink.MaxPayloadBytes
	}
	transformer := messagepipeline.WithPayloadValidation(
		mqttconverter.NewReplyTransformer(codec, logger),
		cfg.MinPayloadBytes,
		maxBytes,
		logger,
	)
	service, err := messagepipeline.NewStreamingService(
		messagepipeline.StreamingServiceConfig{Name: "uplink", NumWorkers: cfg.NumWorkers},
		consumer,
		transformer,
		processor,
		logger,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create uplink service: %w", err)
	}
	return service, nil
}
