package bridge_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/illmade-knight/go-devicebridge/pkg/bridge"
	"github.com/illmade-knight/go-devicebridge/pkg/devicemessage"
	"github.com/illmade-knight/go-devicebridge/pkg/gateway"
	"github.com/illmade-knight/go-devicebridge/pkg/messagepipeline"
	"github.com/illmade-knight/go-devicebridge/pkg/mqttcodec"
	"github.com/illmade-knight/go-devicebridge/pkg/session"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedSession(t *testing.T, store session.Store, child, gatewayID string) {
	t.Helper()
	require.NoError(t, store.Set(context.Background(), session.Session{
		ChildDeviceID: child,
		GatewayID:     gatewayID,
		ConnectedAt:   time.Now(),
	}))
}

func newDownlinkProcessor(t *testing.T, store session.Store, publisher bridge.DevicePublisher, maxDepth int) messagepipeline.StreamProcessor[bridge.Command] {
	t.Helper()
	router, err := gateway.NewRouter(store, maxDepth, zerolog.Nop())
	require.NoError(t, err)
	processor, err := bridge.NewDownlinkProcessor(router, publisher, zerolog.Nop())
	require.NoError(t, err)
	return processor
}

func readCommand(deviceID string) *bridge.Command {
	return &bridge.Command{Message: &devicemessage.ReadPropertyMessage{
		Header:     devicemessage.Header{MessageID: "cmd-1", DeviceID: deviceID},
		Properties: []string{"temp"},
	}}
}

func TestCommandTransformer(t *testing.T) {
	transform := bridge.NewCommandTransformer(zerolog.Nop())
	ctx := context.Background()

	t.Run("valid command", func(t *testing.T) {
		msg := &messagepipeline.Message{MessageData: messagepipeline.MessageData{
			ID:      "m1",
			Payload: []byte(`{"messageType":"WRITE_PROPERTY","messageId":"c1","deviceId":"dev-7","properties":{"mode":"eco"}}`),
		}}
		cmd, skip, err := transform(ctx, msg)
		require.NoError(t, err)
		require.False(t, skip)
		write, ok := cmd.Message.(*devicemessage.WritePropertyMessage)
		require.True(t, ok)
		assert.Equal(t, "dev-7", write.DeviceID)
		assert.Equal(t, map[string]any{"mode": "eco"}, write.Properties)
	})

	for name, payload := range map[string]string{
		"invalid json":      `{`,
		"unknown type":      `{"messageType":"REBOOT","deviceId":"dev-7"}`,
		"missing device id": `{"messageType":"READ_PROPERTY","properties":["a"]}`,
	} {
		t.Run(name, func(t *testing.T) {
			msg := &messagepipeline.Message{MessageData: messagepipeline.MessageData{ID: "bad", Payload: []byte(payload)}}
			cmd, skip, err := transform(ctx, msg)
			assert.NoError(t, err)
			assert.True(t, skip)
			assert.Nil(t, cmd)
		})
	}
}

func TestDownlinkProcessor_DirectDevice(t *testing.T) {
	publisher := &mockDevicePublisher{}
	processor := newDownlinkProcessor(t, session.NewInMemoryStore(), publisher, 0)

	require.NoError(t, processor(context.Background(), messagepipeline.Message{}, readCommand("dev-7")))

	sent := publisher.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "dev-7", sent[0].GetDeviceID())
	assert.IsType(t, &devicemessage.ReadPropertyMessage{}, sent[0])
}

func TestDownlinkProcessor_ThroughGateway(t *testing.T) {
	store := session.NewInMemoryStore()
	seedSession(t, store, "sensor-1", "gw-1")
	publisher := &mockDevicePublisher{}
	processor := newDownlinkProcessor(t, store, publisher, 0)

	require.NoError(t, processor(context.Background(), messagepipeline.Message{}, readCommand("sensor-1")))

	sent := publisher.Sent()
	require.Len(t, sent, 1)
	child, ok := sent[0].(*devicemessage.ChildDeviceMessage)
	require.True(t, ok)
	assert.Equal(t, "gw-1", child.DeviceID)
	assert.Equal(t, "sensor-1", child.ChildDeviceID)
	assert.Equal(t, "sensor-1", child.ChildDeviceMessage.GetDeviceID())
}

func TestDownlinkProcessor_Undeliverable(t *testing.T) {
	ctx := context.Background()

	t.Run("routing loop", func(t *testing.T) {
		store := session.NewInMemoryStore()
		seedSession(t, store, "a", "b")
		seedSession(t, store, "b", "a")
		publisher := &mockDevicePublisher{}
		processor := newDownlinkProcessor(t, store, publisher, 0)

		err := processor(ctx, messagepipeline.Message{}, readCommand("a"))
		assert.ErrorIs(t, err, messagepipeline.ErrDiscard)
		assert.ErrorIs(t, err, gateway.ErrRoutingLoop)
		assert.Empty(t, publisher.Sent())
	})

	t.Run("too many gateways", func(t *testing.T) {
		store := session.NewInMemoryStore()
		for i := 0; i < 3; i++ {
			seedSession(t, store, fmt.Sprintf("dev-%d", i), fmt.Sprintf("dev-%d", i+1))
		}
		publisher := &mockDevicePublisher{}
		processor := newDownlinkProcessor(t, store, publisher, 2)

		err := processor(ctx, messagepipeline.Message{}, readCommand("dev-0"))
		assert.ErrorIs(t, err, messagepipeline.ErrDiscard)
		assert.ErrorIs(t, err, mqttcodec.ErrNestingTooDeep)
		assert.Empty(t, publisher.Sent())
	})

	t.Run("codec rejects the message", func(t *testing.T) {
		publisher := &mockDevicePublisher{err: fmt.Errorf("failed to encode message: %w", mqttcodec.ErrUnsupportedMessage)}
		processor := newDownlinkProcessor(t, session.NewInMemoryStore(), publisher, 0)
		err := processor(ctx, messagepipeline.Message{}, readCommand("dev-7"))
		assert.ErrorIs(t, err, messagepipeline.ErrDiscard)
	})
}

func TestDownlinkProcessor_RetryableErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("broker failure", func(t *testing.T) {
		processor := newDownlinkProcessor(t, session.NewInMemoryStore(), &mockDevicePublisher{err: errors.New("not connected")}, 0)
		err := processor(ctx, messagepipeline.Message{}, readCommand("dev-7"))
		assert.ErrorContains(t, err, "not connected")
		assert.NotErrorIs(t, err, messagepipeline.ErrDiscard)
	})

	t.Run("session store failure", func(t *testing.T) {
		processor := newDownlinkProcessor(t, failingStore{err: errors.New("store down")}, &mockDevicePublisher{}, 0)
		err := processor(ctx, messagepipeline.Message{}, readCommand("dev-7"))
		assert.ErrorContains(t, err, "store down")
		assert.NotErrorIs(t, err, messagepipeline.ErrDiscard)
	})
}

func TestDownlinkService_NacksRetryableFailures(t *testing.T) {
	consumer := newMockConsumer()
	publisher := &mockDevicePublisher{err: errors.New("not connected")}
	processor := newDownlinkProcessor(t, session.NewInMemoryStore(), publisher, 0)

	service, err := bridge.NewDownlinkService(bridge.DownlinkConfig{NumWorkers: 1}, consumer, processor, zerolog.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, service.Start(ctx))

	msg, result := ackRecorder("m1", []byte(`{"messageType":"READ_PROPERTY","messageId":"c1","deviceId":"dev-7","properties":["a"]}`), nil)
	consumer.msgs <- msg
	select {
	case got := <-result:
		assert.Equal(t, "nack", got)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the command to be handled")
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
	defer stopCancel()
	require.NoError(t, service.Stop(stopCtx))
}

func TestDownlinkService_AcksUndeliverableCommands(t *testing.T) {
	store := session.NewInMemoryStore()
	seedSession(t, store, "a", "b")
	seedSession(t, store, "b", "a")
	consumer := newMockConsumer()
	publisher := &mockDevicePublisher{}
	processor := newDownlinkProcessor(t, store, publisher, 0)

	service, err := bridge.NewDownlinkService(bridge.DownlinkConfig{NumWorkers: 1}, consumer, processor, zerolog.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, service.Start(ctx))

	msg, result := ackRecorder("m1", []byte(`{"messageType":"READ_PROPERTY","messageId":"c1","deviceId":"a","properties":["a"]}`), nil)
	consumer.msgs <- msg
	select {
	case got := <-result:
		assert.Equal(t, "ack", got)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the command to be handled")
	}
	assert.Empty(t, publisher.Sent())

	stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
	defer stopCancel()
	require.NoError(t, service.Stop(stopCtx))
	assert.Equal(t, messagepipeline.PipelineStats{Received: 1, Discarded: 1}, service.Stats())
}

func TestNewDownlinkProcessor_Validation(t *testing.T) {
	router, err := gateway.NewRouter(session.NewInMemoryStore(), 0, zerolog.Nop())
	require.NoError(t, err)
	_, err = bridge.NewDownlinkProcessor(nil, &mockDevicePublisher{}, zerolog.Nop())
	assert.Error(t, err)
	_, err = bridge.NewDownlinkProcessor(router, nil, zerolog.Nop())
	assert.Error(t, err)
}

// failingStore is a session.Store whose every call fails.
type failingStore struct{ err error }

func (f failingStore) Set(context.Context, session.Session) error { return f.err }
func (f failingStore) Fetch(context.Context, string) (session.Session, error) {
	return session.Session{}, f.err
}
func (f failingStore) Delete(context.Context, string) error { return f.err }
func (f failingStore) Close() error                         { return nil }
