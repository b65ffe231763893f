// Package devicemessage defines the transport-agnostic device message model:
// the outbound requests sent to devices and the inbound replies and
// notifications received from them.
package devicemessage

// Message is an outbound device message. The set of implementations is closed;
// consumers switch over the concrete types below.
type Message interface {
	GetMessageID() string
	GetDeviceID() string
	isMessage()
}

// Header holds the attributes shared by every outbound message.
type Header struct {
	// MessageID is the caller-assigned correlation token. Replies carry it back.
	MessageID string `json:"messageId"`
	// DeviceID is the target device.
	DeviceID string `json:"deviceId"`
	// Timestamp is the creation time in milliseconds since the epoch. It is not
	// part of the MQTT wire encoding.
	Timestamp int64 `json:"timestamp,omitempty"`
}

func (h Header) GetMessageID() string { return h.MessageID }
func (h Header) GetDeviceID() string  { return h.DeviceID }

// ReadPropertyMessage asks a device for the current value of some properties.
type ReadPropertyMessage struct {
	Header
	Properties []string `json:"properties"`
}

// WritePropertyMessage sets property values on a device.
type WritePropertyMessage struct {
	Header
	Properties map[string]any `json:"properties"`
}

// FunctionParameter is one named input of a function invocation.
type FunctionParameter struct {
	Name  string `json:"name"`
	Value any    `json:"value"`
}

// FunctionInvokeMessage invokes a function on a device.
type FunctionInvokeMessage struct {
	Header
	FunctionID string              `json:"functionId"`
	Inputs     []FunctionParameter `json:"inputs"`
}

// ChildDeviceMessage delivers ChildDeviceMessage to ChildDeviceID through the
// gateway identified by DeviceID. The embedded message may itself be a
// ChildDeviceMessage when gateways are chained.
type ChildDeviceMessage struct {
	Header
	ChildDeviceID      string  `json:"childDeviceId"`
	ChildDeviceMessage Message `json:"-"`
}

func (*ReadPropertyMessage) isMessage()   {}
func (*WritePropertyMessage) isMessage()  {}
func (*FunctionInvokeMessage) isMessage() {}
func (*ChildDeviceMessage) isMessage()    {}
