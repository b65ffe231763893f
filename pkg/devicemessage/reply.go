package devicemessage

// Reply is an inbound message produced from a device: the reply to a request,
// an event, or a child device presence notice. The set of implementations is
// closed.
type Reply interface {
	GetMessageID() string
	GetDeviceID() string
	// SetDeviceID is used by decoders to fill in the sender identity from the
	// transport when the payload did not carry one.
	SetDeviceID(deviceID string)
	ReplyType() ReplyType
	isReply()
}

// ReplyType names the reply variants on the JSON reply envelope.
type ReplyType string

const (
	ReplyTypeReadProperty   ReplyType = "READ_PROPERTY_REPLY"
	ReplyTypeWriteProperty  ReplyType = "WRITE_PROPERTY_REPLY"
	ReplyTypeInvokeFunction ReplyType = "INVOKE_FUNCTION_REPLY"
	ReplyTypeEvent          ReplyType = "EVENT"
	ReplyTypeChildOnline    ReplyType = "CHILD_DEVICE_ONLINE"
	ReplyTypeChildOffline   ReplyType = "CHILD_DEVICE_OFFLINE"
)

// ReplyHeader holds the attributes shared by every reply.
type ReplyHeader struct {
	MessageID string `json:"messageId,omitempty"`
	DeviceID  string `json:"deviceId,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
	Success   bool   `json:"success,omitempty"`
	Code      string `json:"code,omitempty"`
	// Message is a human readable status or error text sent by the device.
	Message string `json:"message,omitempty"`
}

func (h *ReplyHeader) GetMessageID() string        { return h.MessageID }
func (h *ReplyHeader) GetDeviceID() string         { return h.DeviceID }
func (h *ReplyHeader) SetDeviceID(deviceID string) { h.DeviceID = deviceID }

// ReadPropertyMessageReply carries the property values a device read.
type ReadPropertyMessageReply struct {
	ReplyHeader
	Properties map[string]any `json:"properties,omitempty"`
}

// WritePropertyMessageReply carries the property values a device applied.
type WritePropertyMessageReply struct {
	ReplyHeader
	Properties map[string]any `json:"properties,omitempty"`
}

// FunctionInvokeMessageReply carries the output of a function invocation.
type FunctionInvokeMessageReply struct {
	ReplyHeader
	FunctionID string `json:"functionId,omitempty"`
	Output     any    `json:"output,omitempty"`
}

// EventMessage is an unsolicited event reported by a device.
type EventMessage struct {
	ReplyHeader
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// ChildDeviceOnlineMessage is sent by a gateway when a child device connects.
type ChildDeviceOnlineMessage struct {
	ReplyHeader
	ChildDeviceID string `json:"childDeviceId"`
}

// ChildDeviceOfflineMessage is sent by a gateway when a child device disconnects.
type ChildDeviceOfflineMessage struct {
	ReplyHeader
	ChildDeviceID string `json:"childDeviceId"`
}

func (*ReadPropertyMessageReply) ReplyType() ReplyType   { return ReplyTypeReadProperty }
func (*WritePropertyMessageReply) ReplyType() ReplyType  { return ReplyTypeWriteProperty }
func (*FunctionInvokeMessageReply) ReplyType() ReplyType { return ReplyTypeInvokeFunction }
func (*EventMessage) ReplyType() ReplyType               { return ReplyTypeEvent }
func (*ChildDeviceOnlineMessage) ReplyType() ReplyType   { return ReplyTypeChildOnline }
func (*ChildDeviceOfflineMessage) ReplyType() ReplyType  { return ReplyTypeChildOffline }

func (*ReadPropertyMessageReply) isReply()   {}
func (*WritePropertyMessageReply) isReply()  {}
func (*FunctionInvokeMessageReply) isReply() {}
func (*EventMessage) isReply()               {}
func (*ChildDeviceOnlineMessage) isReply()   {}
func (*ChildDeviceOfflineMessage) isReply()  {}

// NewReply returns an empty reply of the given type, or nil if the type is unknown.
func NewReply(t ReplyType) Reply {
	switch t {
	case ReplyTypeReadProperty:
		return &ReadPropertyMessageReply{}
	case ReplyTypeWriteProperty:
		return &WritePropertyMessageReply{}
	case ReplyTypeInvokeFunction:
		return &FunctionInvokeMessageReply{}
	case ReplyTypeEvent:
		return &EventMessage{}
	case ReplyTypeChildOnline:
		return &ChildDeviceOnlineMessage{}
	case ReplyTypeChildOffline:
		return &ChildDeviceOfflineMessage{}
	}
	return nil
}
