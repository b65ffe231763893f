package mqttcodec

import (
	"fmt"
	"maps"
	"slices"

	"github.com/illmade-knight/go-devicebridge/pkg/devicemessage"
)

// Body is a JSON object body. Encode always returns a freshly built Body that
// shares no maps or slices with the message it came from.
type Body map[string]any

// With returns a copy of b with key set to value.
func (b Body) With(key string, value any) Body {
	out := make(Body, len(b)+1)
	maps.Copy(out, b)
	out[key] = value
	return out
}

// EncodedMessage is the wire form of an outbound message before serialisation.
type EncodedMessage struct {
	// DeviceID is the device the message is addressed to. For a child device
	// message this is the gateway.
	DeviceID string
	Topic    string
	Body     Body
}

// Payload serialises the body as UTF-8 JSON.
func (e EncodedMessage) Payload() ([]byte, error) {
	payload, err := json.Marshal(e.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal body for topic %s: %w", e.Topic, err)
	}
	return payload, nil
}

// MQTTMessage is an encoded message ready to hand to an MQTT client.
type MQTTMessage struct {
	DeviceID string
	Topic    string
	Payload  []byte
}

// Encode maps msg to its topic and body. It fails with ErrUnsupportedMessage for
// a nil message or an unknown variant, and with ErrNestingTooDeep when child
// device messages nest beyond the configured depth.
func (c *Codec) Encode(msg devicemessage.Message) (EncodedMessage, error) {
	topic, body, err := c.encode(msg, c.maxDepth)
	if err != nil {
		return EncodedMessage{}, err
	}
	return EncodedMessage{DeviceID: msg.GetDeviceID(), Topic: topic, Body: body}, nil
}

// EncodeMQTT encodes msg and serialises the body.
func (c *Codec) EncodeMQTT(msg devicemessage.Message) (MQTTMessage, error) {
	encoded, err := c.Encode(msg)
	if err != nil {
		return MQTTMessage{}, err
	}
	payload, err := encoded.Payload()
	if err != nil {
		return MQTTMessage{}, err
	}
	return MQTTMessage{DeviceID: encoded.DeviceID, Topic: encoded.Topic, Payload: payload}, nil
}

func (c *Codec) encode(msg devicemessage.Message, remaining int) (string, Body, error) {
	if isNilMessage(msg) {
		return "", nil, fmt.Errorf("%w: %T", ErrUnsupportedMessage, msg)
	}

	switch m := msg.(type) {
	case *devicemessage.ReadPropertyMessage:
		properties := slices.Clone(m.Properties)
		if properties == nil {
			properties = []string{}
		}
		return TopicReadProperty, Body{
			fieldMessageID:  m.MessageID,
			fieldProperties: properties,
		}, nil

	case *devicemessage.WritePropertyMessage:
		properties := maps.Clone(m.Properties)
		if properties == nil {
			properties = map[string]any{}
		}
		return TopicWriteProperty, Body{
			fieldMessageID:  m.MessageID,
			fieldProperties: properties,
		}, nil

	case *devicemessage.FunctionInvokeMessage:
		args := slices.Clone(m.Inputs)
		if args == nil {
			args = []devicemessage.FunctionParameter{}
		}
		return TopicInvokeFunction, Body{
			fieldMessageID: m.MessageID,
			fieldFunction:  m.FunctionID,
			fieldArgs:      args,
		}, nil

	case *devicemessage.ChildDeviceMessage:
		if remaining <= 0 {
			return "", nil, fmt.Errorf("%w: limit is %d", ErrNestingTooDeep, c.maxDepth)
		}
		childTopic, childBody, err := c.encode(m.ChildDeviceMessage, remaining-1)
		if err != nil {
			return "", nil, fmt.Errorf("child device %s: %w", m.ChildDeviceID, err)
		}
		return TopicChildDeviceMessage, Body{
			fieldMessageID:     m.MessageID,
			fieldChildDeviceID: m.ChildDeviceID,
			fieldChildTopic:    childTopic,
			fieldChildMessage:  childBody.With(fieldClientID, m.ChildDeviceID),
		}, nil
	}

	return "", nil, fmt.Errorf("%w: %T", ErrUnsupportedMessage, msg)
}

// isNilMessage reports whether msg is nil or a typed nil pointer.
func isNilMessage(msg devicemessage.Message) bool {
	switch m := msg.(type) {
	case nil:
		return true
	case *devicemessage.ReadPropertyMessage:
		return m == nil
	case *devicemessage.WritePropertyMessage:
		return m == nil
	case *devicemessage.FunctionInvokeMessage:
		return m == nil
	case *devicemessage.ChildDeviceMessage:
		return m == nil
	}
	return false
}
