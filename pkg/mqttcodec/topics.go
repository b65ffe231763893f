package mqttcodec

// Outbound topics, written by the platform and read by devices.
const (
	TopicReadProperty   = "/read-property"
	TopicWriteProperty  = "/write-property"
	TopicInvokeFunction = "/invoke-function"
)

// Inbound topics, written by devices and read by the platform.
const (
	TopicReadPropertyReply     = "/read-property-reply"
	TopicWritePropertyReply    = "/write-property-reply"
	TopicInvokeFunctionReply   = "/invoke-function-reply"
	TopicEvent                 = "/event"
	TopicChildDeviceConnect    = "/child-device-connect"
	TopicChildDeviceDisconnect = "/child-device-disconnect"
)

// TopicChildDeviceMessage is used in both directions. Outbound it wraps an
// encoded message for a child device; inbound it wraps a raw topic and body
// sent by a child device through its gateway.
const TopicChildDeviceMessage = "/child-device-message"

// Body field names.
const (
	fieldMessageID     = "messageId"
	fieldProperties    = "properties"
	fieldFunction      = "function"
	fieldArgs          = "args"
	fieldChildDeviceID = "childDeviceId"
	fieldChildTopic    = "childTopic"
	fieldChildMessage  = "childMessage"
	fieldClientID      = "clientId"
)

// InboundTopics lists every topic Decode accepts.
func InboundTopics() []string {
	return []string{
		TopicReadPropertyReply,
		TopicWritePropertyReply,
		TopicInvokeFunctionReply,
		TopicEvent,
		TopicChildDeviceConnect,
		TopicChildDeviceDisconnect,
		TopicChildDeviceMessage,
	}
}
