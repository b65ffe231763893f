package mqttconverter

import (
	"context"
	"fmt"
	"time"

	"github.com/illmade-knight/go-devicebridge/pkg/devicemessage"
	"github.com/illmade-knight/go-devicebridge/pkg/messagepipeline"
	"github.com/illmade-knight/go-devicebridge/pkg/mqttcodec"
	"github.com/rs/zerolog"
)

// DeviceReply is a decoded device message ready for the uplink processor.
type DeviceReply struct {
	Reply devicemessage.Reply
	// Topic is the codec topic the reply was decoded from.
	Topic string
	// ReceivedAt is when the bridge received the MQTT message.
	ReceivedAt time.Time
}

// NewReplyTransformer returns a transformer that decodes messages produced by
// MqttConsumer. Payloads the codec drops are skipped; unknown topics and
// nesting errors fail the message.
func NewReplyTransformer(codec *mqttcodec.Codec, logger zerolog.Logger) messagepipeline.MessageTransformer[DeviceReply] {
	logger = logger.With().Str("component", "ReplyTransformer").Logger()
	return func(_ context.Context, msg *messagepipeline.Message) (*DeviceReply, bool, error) {
		topic, ok := msg.Attributes[AttrDeviceTopic]
		if !ok {
			return nil, false, fmt.Errorf("message %s has no %s attribute", msg.ID, AttrDeviceTopic)
		}
		result, err := codec.Decode(mqttcodec.InboundMessage{
			Topic:    topic,
			Payload:  msg.Payload,
			DeviceID: msg.Attributes[AttrDeviceID],
		})
		if err != nil {
			return nil, false, fmt.Errorf("failed to decode message %s: %w", msg.ID, err)
		}
		if !result.Decoded() {
			logger.Debug().Str("msg_id", msg.ID).Msg("Codec dropped payload, skipping message.")
			return nil, true, nil
		}
		return &DeviceReply{
			Reply:      result.Reply,
			Topic:      result.Topic,
			ReceivedAt: msg.PublishTime,
		}, false, nil
	}
}
