package mqttconverter

import (
	"context"
	"fmt"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/illmade-knight/go-devicebridge/pkg/devicemessage"
	"github.com/illmade-knight/go-devicebridge/pkg/mqttcodec"
	"github.com/rs/zerolog"
)

// DevicePublisher sends commands to devices. Each message is encoded by the
// codec and published to the addressed device's branch of the topic tree.
type DevicePublisher struct {
	pahoClient mqtt.Client
	codec      *mqttcodec.Codec
	layout     TopicLayout
	mqttCfg    *MQTTClientConfig
	logger     zerolog.Logger
}

// NewDevicePublisher creates a DevicePublisher over client.
func NewDevicePublisher(client mqtt.Client, codec *mqttcodec.Codec, cfg *MQTTClientConfig, logger zerolog.Logger) (*DevicePublisher, error) {
	if client == nil {
		return nil, fmt.Errorf("MQTT client cannot be nil")
	}
	if codec == nil {
		return nil, fmt.Errorf("codec cannot be nil")
	}
	if cfg.TopicRoot == "" {
		return nil, fmt.Errorf("MQTT topic root is required")
	}
	return &DevicePublisher{
		pahoClient: client,
		codec:      codec,
		layout:     TopicLayout{Root: cfg.TopicRoot},
		mqttCfg:    cfg,
		logger:     logger.With().Str("component", "DevicePublisher").Logger(),
	}, nil
}

// Start connects the client if it is not connected yet.
func (p *DevicePublisher) Start(_ context.Context) error {
	return connect(p.pahoClient, p.mqttCfg.ConnectTimeout, p.logger)
}

// Stop disconnects the client.
func (p *DevicePublisher) Stop(_ context.Context) error {
	if p.pahoClient.IsConnected() {
		p.pahoClient.Disconnect(500)
		p.logger.Info().Msg("Paho MQTT client disconnected.")
	}
	return nil
}

// Publish encodes msg and publishes it, returning the broker topic used. It
// waits for the broker to confirm, for ctx to end or for the publish timeout.
func (p *DevicePublisher) Publish(ctx context.Context, msg devicemessage.Message) (string, error) {
	encoded, err := p.codec.EncodeMQTT(msg)
	if err != nil {
		return "", fmt.Errorf("failed to encode message: %w", err)
	}
	topic := p.layout.DeviceTopic(encoded.DeviceID, encoded.Topic)

	if p.mqttCfg.PublishTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.mqttCfg.PublishTimeout)
		defer cancel()
	}

	token := p.pahoClient.Publish(topic, p.mqttCfg.QoS, false, encoded.Payload)
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return "", fmt.Errorf("failed to publish to %s: %w", topic, err)
		}
	case <-ctx.Done():
		return "", fmt.Errorf("publish to %s not confirmed: %w", topic, ctx.Err())
	}

	p.logger.Debug().
		Str("device_id", encoded.DeviceID).
		Str("topic", topic).
		Str("message_id", msg.GetMessageID()).
		Msg("Published command to device.")
	return topic, nil
}
