package protocol

import (
	"fmt"

	"github.com/goccy/go-json"
)

// ViewerMessageType is the type of a message on the viewer WebSocket
type ViewerMessageType string

const (
	// Viewer to server
	MsgTypeModelLoaded   ViewerMessageType = "model_loaded"
	MsgTypeCamera        ViewerMessageType = "camera"
	MsgTypeClick         ViewerMessageType = "click"
	MsgTypeExtension     ViewerMessageType = "extension"
	MsgTypeToggleMarkers ViewerMessageType = "toggle_markers"
	MsgTypeToggleDetail  ViewerMessageType = "toggle_detail"
	MsgTypeClose         ViewerMessageType = "close"

	// Server to viewer
	MsgTypePlaceholder      ViewerMessageType = "placeholder"
	MsgTypeInit             ViewerMessageType = "init"
	MsgTypeMarkerPlace      ViewerMessageType = "marker_place"
	MsgTypeMarkerFrame      ViewerMessageType = "marker_frame"
	MsgTypeMarkerVisibility ViewerMessageType = "marker_visibility"
	MsgTypeOverlay          ViewerMessageType = "overlay"
	MsgTypeFocus            ViewerMessageType = "focus"
	MsgTypeZoom             ViewerMessageType = "zoom"
)

// CameraState carries the viewer camera after a change. Matrix is the
// column-major view-projection matrix; Width and Height are the canvas size.
type CameraState struct {
	Matrix [16]float64 `json:"matrix"`
	Width  float64     `json:"width"`
	Height float64     `json:"height"`
}

// ViewerMessage is any message sent by the viewer
type ViewerMessage struct {
	Type     ViewerMessageType `json:"type"`
	Camera   *CameraState      `json:"camera,omitempty"`
	ObjectID int               `json:"dbId"`
	OK       bool              `json:"ok"`
	Error    string            `json:"error,omitempty"`
}

// Envelope is any message sent to the viewer
type Envelope struct {
	Type ViewerMessageType `json:"type"`
	Data any               `json:"data,omitempty"`
}

// ParseViewerMessage parses and validates one viewer message
func ParseViewerMessage(data []byte) (*ViewerMessage, error) {
	var msg ViewerMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}

	switch msg.Type {
	case MsgTypeCamera:
		if err := validateCamera(msg.Camera); err != nil {
			return nil, err
		}
	case MsgTypeModelLoaded, MsgTypeClick, MsgTypeExtension,
		MsgTypeToggleMarkers, MsgTypeToggleDetail, MsgTypeClose:
	default:
		return nil, fmt.Errorf("unknown message type: %s", msg.Type)
	}

	return &msg, nil
}

func validateCamera(c *CameraState) error {
	if c == nil {
		return fmt.Errorf("camera is required")
	}
	if c.Width <= 0 || c.Height <= 0 {
		return fmt.Errorf("camera viewport must be positive, got %gx%g", c.Width, c.Height)
	}
	return nil
}

// EncodeEnvelope encodes a server message to JSON
func EncodeEnvelope(env Envelope) ([]byte, error) {
	return json.Marshal(env)
}
