package mqttcodec

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/illmade-knight/go-devicebridge/pkg/devicemessage"
	jsoniter "github.com/json-iterator/go"
)

// errMalformed marks payloads that are tolerated: they are logged and dropped
// rather than failing the call.
var errMalformed = errors.New("malformed payload")

// InboundMessage is a message as received from the transport.
type InboundMessage struct {
	Topic   string
	Payload []byte
	// DeviceID is the sender identity known to the transport. It is used for
	// replies whose body does not name a device.
	DeviceID string
}

// Outcome distinguishes a decoded reply from tolerated bad input.
type Outcome int

const (
	// OutcomeAbsent means the payload was unusable and was dropped.
	OutcomeAbsent Outcome = iota
	// OutcomeDecoded means Reply holds the decoded message.
	OutcomeDecoded
)

func (o Outcome) String() string {
	if o == OutcomeDecoded {
		return "decoded"
	}
	return "absent"
}

// DecodeResult is the non-error result of Decode.
type DecodeResult struct {
	Outcome Outcome
	Reply   devicemessage.Reply
	// Topic is the topic the reply was decoded from, after unwrapping any child
	// device envelopes.
	Topic string
}

// Decoded reports whether the result carries a reply.
func (r DecodeResult) Decoded() bool {
	return r.Outcome == OutcomeDecoded
}

// DecodeJSON decodes a topic and JSON body received from deviceID.
func (c *Codec) DecodeJSON(topic string, body []byte, deviceID string) (DecodeResult, error) {
	return c.Decode(InboundMessage{Topic: topic, Payload: body, DeviceID: deviceID})
}

// Decode maps an inbound topic and body to a reply.
//
// An unknown topic fails with ErrUnsupportedTopic and envelopes nested beyond
// the configured depth fail with ErrNestingTooDeep. A body that is not a JSON
// object, or whose fields do not fit the reply type, is logged as a warning and
// yields OutcomeAbsent with a nil error.
//
// A reply without a deviceId takes it from the transport sender, or, for a
// reply unwrapped from a child device envelope, from the envelope's
// childDeviceId.
func (c *Codec) Decode(in InboundMessage) (DecodeResult, error) {
	reply, topic, err := c.decode(in.Topic, in.Payload, in.DeviceID, c.maxDepth)
	if err != nil {
		if errors.Is(err, errMalformed) {
			c.logger.Warn().
				Err(err).
				Str("device_id", in.DeviceID).
				Str("topic", in.Topic).
				Str("payload", string(in.Payload)).
				Msg("Unable to parse device message, dropping it.")
			return DecodeResult{Outcome: OutcomeAbsent, Topic: in.Topic}, nil
		}
		return DecodeResult{}, err
	}
	return DecodeResult{Outcome: OutcomeDecoded, Reply: reply, Topic: topic}, nil
}

func (c *Codec) decode(topic string, body []byte, deviceID string, remaining int) (devicemessage.Reply, string, error) {
	var reply devicemessage.Reply
	switch topic {
	case TopicReadPropertyReply:
		reply = &devicemessage.ReadPropertyMessageReply{}
	case TopicWritePropertyReply:
		reply = &devicemessage.WritePropertyMessageReply{}
	case TopicChildDeviceConnect:
		reply = &devicemessage.ChildDeviceOnlineMessage{}
	case TopicChildDeviceDisconnect:
		reply = &devicemessage.ChildDeviceOfflineMessage{}
	case TopicInvokeFunctionReply:
		reply = &devicemessage.FunctionInvokeMessageReply{}
	case TopicEvent:
		reply = &devicemessage.EventMessage{}
	case TopicChildDeviceMessage:
		return c.decodeChild(body, deviceID, remaining)
	default:
		return nil, "", fmt.Errorf("%w: %q", ErrUnsupportedTopic, topic)
	}

	if err := requireObject(body); err != nil {
		return nil, "", err
	}
	if err := json.Unmarshal(body, reply); err != nil {
		return nil, "", fmt.Errorf("%w: body does not fit %s: %v", errMalformed, reply.ReplyType(), err)
	}
	if reply.GetDeviceID() == "" {
		reply.SetDeviceID(deviceID)
	}
	return reply, topic, nil
}

// childEnvelope is the inbound /child-device-message body: a gateway forwarding
// a raw topic and body from one of its child devices.
type childEnvelope struct {
	ChildDeviceID string              `json:"childDeviceId"`
	Topic         string              `json:"topic"`
	Message       jsoniter.RawMessage `json:"message"`
}

func (c *Codec) decodeChild(body []byte, deviceID string, remaining int) (devicemessage.Reply, string, error) {
	if remaining <= 0 {
		return nil, "", fmt.Errorf("%w: limit is %d", ErrNestingTooDeep, c.maxDepth)
	}
	if err := requireObject(body); err != nil {
		return nil, "", err
	}
	var env childEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, "", fmt.Errorf("%w: child device envelope: %v", errMalformed, err)
	}
	if env.ChildDeviceID != "" {
		deviceID = env.ChildDeviceID
	}
	reply, topic, err := c.decode(env.Topic, env.Message, deviceID, remaining-1)
	if err != nil {
		return nil, "", fmt.Errorf("child device envelope: %w", err)
	}
	return reply, topic, nil
}

// requireObject checks that body holds a single JSON object.
func requireObject(body []byte) error {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return fmt.Errorf("%w: empty body", errMalformed)
	}
	var fields map[string]jsoniter.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return fmt.Errorf("%w: %v", errMalformed, err)
	}
	if fields == nil {
		return fmt.Errorf("%w: body is null", errMalformed)
	}
	return nil
}
