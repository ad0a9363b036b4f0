package protocol

import (
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// ReadingMessage is the internal message format for the reading stream
type ReadingMessage struct {
	ID         string    `json:"id"`
	Device     string    `json:"device"`
	ReceivedAt time.Time `json:"received_at"`
	Reading    Reading   `json:"reading"`
}

// NewReadingMessage wraps a reading observed from the telemetry feed
func NewReadingMessage(device string, reading Reading, receivedAt time.Time) *ReadingMessage {
	return &ReadingMessage{
		ID:         uuid.NewString(),
		Device:     device,
		ReceivedAt: receivedAt,
		Reading:    reading,
	}
}

// EncodeReadingMessage encodes a ReadingMessage to JSON
func EncodeReadingMessage(msg *ReadingMessage) ([]byte, error) {
	return json.Marshal(msg)
}

// DecodeReadingMessage decodes JSON to ReadingMessage
func DecodeReadingMessage(data []byte) (*ReadingMessage, error) {
	var msg ReadingMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
