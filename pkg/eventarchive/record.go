// Package eventarchive stores the events devices report in BigQuery.
//
// Decoded EventMessages are converted to EventRecords and handed to an
// Archiver, which collects them into batches and streams each batch through a
// DataBatchInserter.
package eventarchive

import (
	"fmt"
	"time"

	"github.com/illmade-knight/go-devicebridge/pkg/devicemessage"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// EventRecord is one archived device event. Data holds the event's data as a
// JSON string because its shape differs per event.
type EventRecord struct {
	DeviceID   string    `bigquery:"device_id" json:"deviceId"`
	MessageID  string    `bigquery:"message_id" json:"messageId"`
	Event      string    `bigquery:"event" json:"event"`
	Data       string    `bigquery:"data" json:"data,omitempty"`
	Timestamp  time.Time `bigquery:"timestamp" json:"timestamp"`
	ReceivedAt time.Time `bigquery:"received_at" json:"receivedAt"`
}

// NewEventRecord converts an event to a record. The event's timestamp is used
// when the device sent one, otherwise receivedAt.
func NewEventRecord(event *devicemessage.EventMessage, receivedAt time.Time) (*EventRecord, error) {
	if event == nil {
		return nil, fmt.Errorf("event cannot be nil")
	}
	data := ""
	if event.Data != nil {
		raw, err := json.Marshal(event.Data)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal data of event %s: %w", event.Event, err)
		}
		data = string(raw)
	}
	timestamp := receivedAt
	if event.Timestamp > 0 {
		timestamp = time.UnixMilli(event.Timestamp)
	}
	return &EventRecord{
		DeviceID:   event.GetDeviceID(),
		MessageID:  event.GetMessageID(),
		Event:      event.Event,
		Data:       data,
		Timestamp:  timestamp.UTC(),
		ReceivedAt: receivedAt.UTC(),
	}, nil
}
