package devicemessage

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// DefaultMaxDepth bounds how many gateway hops a nested child device message
// may pass through.
const DefaultMaxDepth = 8

// MessageType names the outbound variants on the JSON command envelope.
type MessageType string

const (
	MessageTypeReadProperty   MessageType = "READ_PROPERTY"
	MessageTypeWriteProperty  MessageType = "WRITE_PROPERTY"
	MessageTypeInvokeFunction MessageType = "INVOKE_FUNCTION"
	MessageTypeChildDevice    MessageType = "CHILD_DEVICE_MESSAGE"
)

var (
	// ErrUnknownMessageType is returned for an envelope whose messageType is not supported.
	ErrUnknownMessageType = errors.New("unknown message type")
	// ErrNestingTooDeep is returned when a child device message nests deeper than allowed.
	ErrNestingTooDeep = errors.New("child device message nesting too deep")
)

// commandEnvelope is the JSON shape of an outbound message as it travels
// between services (for example on a command topic).
type commandEnvelope struct {
	MessageType        MessageType         `json:"messageType"`
	MessageID          string              `json:"messageId,omitempty"`
	DeviceID           string              `json:"deviceId"`
	Timestamp          int64               `json:"timestamp,omitempty"`
	Properties         jsoniter.RawMessage `json:"properties,omitempty"`
	FunctionID         string              `json:"functionId,omitempty"`
	Inputs             []FunctionParameter `json:"inputs,omitempty"`
	ChildDeviceID      string              `json:"childDeviceId,omitempty"`
	ChildDeviceMessage jsoniter.RawMessage `json:"childDeviceMessage,omitempty"`
}

// UnmarshalCommand parses a command envelope into a Message. Nested child
// device messages are parsed recursively up to DefaultMaxDepth levels. Messages
// without a messageId are given a random one.
func UnmarshalCommand(data []byte) (Message, error) {
	return unmarshalCommand(data, DefaultMaxDepth)
}

func unmarshalCommand(data []byte, remaining int) (Message, error) {
	var env commandEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to unmarshal command envelope: %w", err)
	}
	if env.DeviceID == "" {
		return nil, errors.New("command envelope has no deviceId")
	}
	if env.MessageID == "" {
		env.MessageID = uuid.NewString()
	}
	header := Header{MessageID: env.MessageID, DeviceID: env.DeviceID, Timestamp: env.Timestamp}

	switch env.MessageType {
	case MessageTypeReadProperty:
		msg := &ReadPropertyMessage{Header: header}
		if len(env.Properties) > 0 {
			if err := json.Unmarshal(env.Properties, &msg.Properties); err != nil {
				return nil, fmt.Errorf("read property message: properties must be a list of names: %w", err)
			}
		}
		return msg, nil
	case MessageTypeWriteProperty:
		msg := &WritePropertyMessage{Header: header}
		if len(env.Properties) > 0 {
			if err := json.Unmarshal(env.Properties, &msg.Properties); err != nil {
				return nil, fmt.Errorf("write property message: properties must be an object: %w", err)
			}
		}
		return msg, nil
	case MessageTypeInvokeFunction:
		if env.FunctionID == "" {
			return nil, errors.New("invoke function message has no functionId")
		}
		return &FunctionInvokeMessage{Header: header, FunctionID: env.FunctionID, Inputs: env.Inputs}, nil
	case MessageTypeChildDevice:
		if remaining <= 0 {
			return nil, ErrNestingTooDeep
		}
		if env.ChildDeviceID == "" || len(env.ChildDeviceMessage) == 0 {
			return nil, errors.New("child device message requires childDeviceId and childDeviceMessage")
		}
		inner, err := unmarshalCommand(env.ChildDeviceMessage, remaining-1)
		if err != nil {
			return nil, fmt.Errorf("child device %s: %w", env.ChildDeviceID, err)
		}
		return &ChildDeviceMessage{Header: header, ChildDeviceID: env.ChildDeviceID, ChildDeviceMessage: inner}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownMessageType, env.MessageType)
}

// MarshalCommand renders a Message as a command envelope.
func MarshalCommand(msg Message) ([]byte, error) {
	env, err := toCommandEnvelope(msg)
	if err != nil {
		return nil, err
	}
	return json.Marshal(env)
}

func toCommandEnvelope(msg Message) (*commandEnvelope, error) {
	var (
		env commandEnvelope
		err error
	)
	switch m := msg.(type) {
	case *ReadPropertyMessage:
		env = commandEnvelope{MessageType: MessageTypeReadProperty, MessageID: m.MessageID, DeviceID: m.DeviceID, Timestamp: m.Timestamp}
		env.Properties, err = json.Marshal(m.Properties)
	case *WritePropertyMessage:
		env = commandEnvelope{MessageType: MessageTypeWriteProperty, MessageID: m.MessageID, DeviceID: m.DeviceID, Timestamp: m.Timestamp}
		env.Properties, err = json.Marshal(m.Properties)
	case *FunctionInvokeMessage:
		env = commandEnvelope{
			MessageType: MessageTypeInvokeFunction,
			MessageID:   m.MessageID,
			DeviceID:    m.DeviceID,
			Timestamp:   m.Timestamp,
			FunctionID:  m.FunctionID,
			Inputs:      m.Inputs,
		}
	case *ChildDeviceMessage:
		env = commandEnvelope{
			MessageType:   MessageTypeChildDevice,
			MessageID:     m.MessageID,
			DeviceID:      m.DeviceID,
			Timestamp:     m.Timestamp,
			ChildDeviceID: m.ChildDeviceID,
		}
		env.ChildDeviceMessage, err = MarshalCommand(m.ChildDeviceMessage)
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownMessageType, msg)
	}
	if err != nil {
		return nil, err
	}
	return &env, nil
}

// MarshalReply renders a Reply as JSON with an added messageType field naming
// its variant.
func MarshalReply(reply Reply) ([]byte, error) {
	if reply == nil {
		return nil, errors.New("reply cannot be nil")
	}
	body, err := json.Marshal(reply)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s reply: %w", reply.ReplyType(), err)
	}
	fields := make(map[string]jsoniter.RawMessage)
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, err
	}
	fields["messageType"], err = json.Marshal(reply.ReplyType())
	if err != nil {
		return nil, err
	}
	return json.Marshal(fields)
}

// UnmarshalReply parses JSON produced by MarshalReply.
func UnmarshalReply(data []byte) (Reply, error) {
	var head struct {
		MessageType ReplyType `json:"messageType"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("failed to unmarshal reply envelope: %w", err)
	}
	reply := NewReply(head.MessageType)
	if reply == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessageType, head.MessageType)
	}
	if err := json.Unmarshal(data, reply); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s reply: %w", head.MessageType, err)
	}
	return reply, nil
}
