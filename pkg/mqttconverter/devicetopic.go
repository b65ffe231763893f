package mqttconverter

import (
	"strings"

	"github.com/illmade-knight/go-devicebridge/pkg/mqttcodec"
)

// TopicLayout places each device's codec topics under its own branch of the
// broker's topic tree: <Root>/<deviceId><codec topic>, for example
// "devices/dev-7/event". The device segment is the sender identity the
// transport contributes to decoding.
type TopicLayout struct {
	Root string
}

// DeviceTopic returns the broker topic for a codec topic of deviceID.
func (l TopicLayout) DeviceTopic(deviceID, codecTopic string) string {
	return l.Root + "/" + deviceID + codecTopic
}

// Split breaks a broker topic into the device id and codec topic. It reports
// false for topics outside the layout.
func (l TopicLayout) Split(brokerTopic string) (deviceID, codecTopic string, ok bool) {
	rest, found := strings.CutPrefix(brokerTopic, l.Root+"/")
	if !found {
		return "", "", false
	}
	idx := strings.IndexByte(rest, '/')
	if idx <= 0 || idx == len(rest)-1 {
		return "", "", false
	}
	return rest[:idx], rest[idx:], true
}

// InboundFilters returns one subscription filter per inbound codec topic, with
// a single-level wildcard in place of the device id.
func (l TopicLayout) InboundFilters(qos byte) map[string]byte {
	filters := make(map[string]byte)
	for _, topic := range mqttcodec.InboundTopics() {
		filters[l.DeviceTopic("+", topic)] = qos
	}
	return filters
}
