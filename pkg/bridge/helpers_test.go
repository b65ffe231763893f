package bridge_test

import (
	"context"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/illmade-knight/go-devicebridge/pkg/devicemessage"
	"github.com/illmade-knight/go-devicebridge/pkg/eventarchive"
	"github.com/illmade-knight/go-devicebridge/pkg/messagepipeline"
)

type published struct {
	payload    []byte
	attributes map[string]string
}

// mockPublisher records every Publish call.
type mockPublisher struct {
	mu       sync.Mutex
	err      error
	messages []published
}

func (m *mockPublisher) Publish(_ context.Context, payload []byte, attributes map[string]string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", m.err
	}
	m.messages = append(m.messages, published{payload: payload, attributes: attributes})
	return "pubsub-id", nil
}

func (m *mockPublisher) Stop(context.Context) error { return nil }

func (m *mockPublisher) Published() []published {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]published(nil), m.messages...)
}

// mockDevicePublisher records every device message it is asked to send.
type mockDevicePublisher struct {
	mu   sync.Mutex
	err  error
	sent []devicemessage.Message
}

func (m *mockDevicePublisher) Publish(_ context.Context, msg devicemessage.Message) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", m.err
	}
	m.sent = append(m.sent, msg)
	return "devices/" + msg.GetDeviceID(), nil
}

func (m *mockDevicePublisher) Sent() []devicemessage.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]devicemessage.Message(nil), m.sent...)
}

type mockArchiver struct {
	mu      sync.Mutex
	err     error
	records []*eventarchive.EventRecord
}

func (m *mockArchiver) Archive(_ context.Context, record *eventarchive.EventRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.records = append(m.records, record)
	return nil
}

// mockInserter is a DataBatchInserter that keeps every inserted record.
type mockInserter struct {
	mu      sync.Mutex
	records []*eventarchive.EventRecord
}

func (m *mockInserter) InsertBatch(_ context.Context, items []*eventarchive.EventRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, items...)
	return nil
}

func (m *mockInserter) Close() error { return nil }

func (m *mockInserter) Records() []*eventarchive.EventRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*eventarchive.EventRecord(nil), m.records...)
}

// mockConsumer feeds messages written to msgs into a pipeline.
type mockConsumer struct {
	msgs     chan messagepipeline.Message
	done     chan struct{}
	stopOnce sync.Once
}

func newMockConsumer() *mockConsumer {
	return &mockConsumer{msgs: make(chan messagepipeline.Message, 10), done: make(chan struct{})}
}

func (m *mockConsumer) Messages() <-chan messagepipeline.Message { return m.msgs }
func (m *mockConsumer) Start(context.Context) error             { return nil }
func (m *mockConsumer) Stop(context.Context) error {
	m.stopOnce.Do(func() {
		close(m.msgs)
		close(m.done)
	})
	return nil
}
func (m *mockConsumer) Done() <-chan struct{} { return m.done }

// ackRecorder builds a message whose Ack and Nack calls are reported on the
// returned channel.
func ackRecorder(id string, payload []byte, attributes map[string]string) (messagepipeline.Message, chan string) {
	result := make(chan string, 1)
	return messagepipeline.Message{
		MessageData: messagepipeline.MessageData{ID: id, Payload: payload, PublishTime: time.Now()},
		Attributes:  attributes,
		Ack:         func() { result <- "ack" },
		Nack:        func() { result <- "nack" },
	}, result
}

// --- Paho client mock ---

type mockToken struct{ err error }

func (m *mockToken) Wait() bool                     { return true }
func (m *mockToken) WaitTimeout(time.Duration) bool { return true }
func (m *mockToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (m *mockToken) Error() error { return m.err }

type mockMqttMessage struct {
	topic   string
	payload []byte
}

func (m *mockMqttMessage) Topic() string     { return m.topic }
func (m *mockMqttMessage) Payload() []byte   { return m.payload }
func (m *mockMqttMessage) MessageID() uint16 { return 1 }
func (m *mockMqttMessage) Duplicate() bool   { return false }
func (m *mockMqttMessage) Qos() byte         { return 1 }
func (m *mockMqttMessage) Retained() bool    { return false }
func (m *mockMqttMessage) Ack()              {}

type mqttPublish struct {
	topic   string
	payload []byte
}

type mockMqttClient struct {
	mu        sync.Mutex
	connected bool
	handler   mqtt.MessageHandler
	published []mqttPublish
}

func (m *mockMqttClient) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}
func (m *mockMqttClient) IsConnectionOpen() bool { return m.IsConnected() }
func (m *mockMqttClient) Connect() mqtt.Token {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = true
	return &mockToken{}
}
func (m *mockMqttClient) Disconnect(uint) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = false
}
func (m *mockMqttClient) Publish(topic string, _ byte, _ bool, payload interface{}) mqtt.Token {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, mqttPublish{topic: topic, payload: payload.([]byte)})
	return &mockToken{}
}
func (m *mockMqttClient) Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token {
	return m.SubscribeMultiple(map[string]byte{topic: qos}, callback)
}
func (m *mockMqttClient) SubscribeMultiple(_ map[string]byte, callback mqtt.MessageHandler) mqtt.Token {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handler = callback
	return &mockToken{}
}
func (m *mockMqttClient) Unsubscribe(...string) mqtt.Token      { return &mockToken{} }
func (m *mockMqttClient) AddRoute(string, mqtt.MessageHandler) {}
func (m *mockMqttClient) OptionsReader() mqtt.ClientOptionsReader {
	return mqtt.ClientOptionsReader{}
}

// deliver hands a message to the subscribed handler as the broker would.
func (m *mockMqttClient) deliver(topic string, payload []byte) bool {
	m.mu.Lock()
	handler := m.handler
	m.mu.Unlock()
	if handler == nil {
		return false
	}
	handler(m, &mockMqttMessage{topic: topic, payload: payload})
	return true
}

func (m *mockMqttClient) Published() []mqttPublish {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]mqttPublish(nil), m.published...)
}
