package mqttconverter

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/illmade-knight/go-devicebridge/pkg/messagepipeline"
	"github.com/rs/zerolog"
)

// Attribute keys set on every consumed message.
const (
	AttrMQTTTopic   = "mqtt_topic"
	AttrDeviceID    = "device_id"
	AttrDeviceTopic = "device_topic"
)

// MqttConsumer implements the messagepipeline.MessageConsumer interface for the
// device side of the broker. It subscribes to every inbound codec topic of every
// device and tags each message with the sending device and its codec topic.
type MqttConsumer struct {
	pahoClient mqtt.Client
	layout     TopicLayout
	logger     zerolog.Logger
	outputChan chan messagepipeline.Message
	doneChan   chan struct{}
	mqttCfg    *MQTTClientConfig
	stopOnce   sync.Once

	// sendMu guards outputChan: handlers send under RLock, Stop closes it
	// under Lock once stopping has released any blocked handler.
	sendMu   sync.RWMutex
	stopping chan struct{}
	stopped  bool
}

// NewMqttConsumer creates a new MqttConsumer over client. It does not connect
// until Start is called.
func NewMqttConsumer(client mqtt.Client, cfg *MQTTClientConfig, logger zerolog.Logger) (*MqttConsumer, error) {
	if client == nil {
		return nil, fmt.Errorf("MQTT client cannot be nil")
	}
	if cfg.TopicRoot == "" {
		return nil, fmt.Errorf("MQTT topic root is required")
	}
	return &MqttConsumer{
		pahoClient: client,
		layout:     TopicLayout{Root: cfg.TopicRoot},
		logger:     logger.With().Str("component", "MqttConsumer").Logger(),
		outputChan: make(chan messagepipeline.Message, 1000),
		doneChan:   make(chan struct{}),
		stopping:   make(chan struct{}),
		mqttCfg:    cfg,
	}, nil
}

// Messages returns the read-only channel from which raw messages can be consumed.
func (c *MqttConsumer) Messages() <-chan messagepipeline.Message {
	return c.outputChan
}

// Start connects, if needed, and subscribes to the inbound device topics.
func (c *MqttConsumer) Start(ctx context.Context) error {
	if err := connect(c.pahoClient, c.mqttCfg.ConnectTimeout, c.logger); err != nil {
		return err
	}

	filters := c.layout.InboundFilters(c.mqttCfg.QoS)
	token := c.pahoClient.SubscribeMultiple(filters, c.handleIncomingMessage(ctx))
	if !token.WaitTimeout(c.mqttCfg.ConnectTimeout) {
		return fmt.Errorf("timed out subscribing to device topics")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to subscribe to device topics: %w", err)
	}
	c.logger.Info().Int("filters", len(filters)).Str("root", c.layout.Root).Msg("Subscribed to device topics.")

	go func() {
		<-ctx.Done()
		c.logger.Info().Msg("Shutdown signal received, ensuring consumer is stopped.")
		_ = c.Stop(context.Background())
	}()

	return nil
}

// Stop unsubscribes and closes the message channel. The client is left
// connected as it is shared with the device publisher, so paho may still call
// the handler afterwards; those messages are dropped.
func (c *MqttConsumer) Stop(_ context.Context) error {
	c.stopOnce.Do(func() {
		c.logger.Info().Msg("Stopping MqttConsumer...")
		close(c.stopping)
		if c.pahoClient.IsConnected() {
			token := c.pahoClient.Unsubscribe(mqttTopics(c.layout)...)
			if !token.WaitTimeout(2 * time.Second) {
				c.logger.Warn().Msg("Timed out unsubscribing from device topics.")
			} else if token.Error() != nil {
				c.logger.Warn().Err(token.Error()).Msg("Failed to unsubscribe from device topics.")
			}
		}
		c.sendMu.Lock()
		c.stopped = true
		close(c.outputChan)
		c.sendMu.Unlock()
		close(c.doneChan)
		c.logger.Info().Msg("MqttConsumer stopped.")
	})
	return nil
}

// Done returns a channel that is closed when the consumer has fully stopped.
func (c *MqttConsumer) Done() <-chan struct{} {
	return c.doneChan
}

// IsConnected returns the connection status of the underlying Paho client.
func (c *MqttConsumer) IsConnected() bool {
	return c.pahoClient.IsConnected()
}

// GetMessageHandlerForTest returns the internal message handler for unit testing.
func (c *MqttConsumer) GetMessageHandlerForTest(ctx context.Context) mqtt.MessageHandler {
	return c.handleIncomingMessage(ctx)
}

// handleIncomingMessage converts MQTT messages to pipeline messages. Topics
// outside the device layout are dropped.
func (c *MqttConsumer) handleIncomingMessage(ctx context.Context) mqtt.MessageHandler {
	return func(_ mqtt.Client, msg mqtt.Message) {
		deviceID, codecTopic, ok := c.layout.Split(msg.Topic())
		if !ok {
			c.logger.Warn().Str("topic", msg.Topic()).Msg("Received message outside the device topic layout, dropping it.")
			return
		}
		c.logger.Debug().Str("topic", msg.Topic()).Str("device_id", deviceID).Msg("Received MQTT message")

		payloadCopy := make([]byte, len(msg.Payload()))
		copy(payloadCopy, msg.Payload())

		consumedMsg := messagepipeline.Message{
			MessageData: messagepipeline.MessageData{
				ID:          fmt.Sprintf("%s-%d", deviceID, msg.MessageID()),
				Payload:     payloadCopy,
				PublishTime: time.Now().UTC(),
			},
			Attributes: map[string]string{
				AttrMQTTTopic:   msg.Topic(),
				AttrDeviceID:    deviceID,
				AttrDeviceTopic: codecTopic,
			},
			// QoS acknowledgement is handled by the Paho client.
			Ack:  func() {},
			Nack: func() {},
		}
		c.sendMu.RLock()
		defer c.sendMu.RUnlock()
		if c.stopped {
			c.logger.Warn().Str("topic", msg.Topic()).Msg("Consumer is stopped, dropping MQTT message.")
			return
		}
		select {
		case c.outputChan <- consumedMsg:
		case <-c.stopping:
			c.logger.Warn().Str("topic", msg.Topic()).Msg("Consumer is stopping, dropping MQTT message.")
		case <-ctx.Done():
			c.logger.Warn().Str("topic", msg.Topic()).Msg("Consumer is shutting down, dropping MQTT message.")
		}
	}
}

func mqttTopics(layout TopicLayout) []string {
	return slices.Sorted(maps.Keys(layout.InboundFilters(0)))
}
