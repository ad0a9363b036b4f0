// Package anchor keeps a 2D overlay pinned to a fixed point of a 3D model.
package anchor

import (
	"context"
	"errors"
)

// ErrExtensionLoadFailed means the engine could not provide a marker layer.
// The viewer keeps working without annotations.
var ErrExtensionLoadFailed = errors.New("marker extension failed to load")

// Vector3 is a world-space coordinate
type Vector3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Add returns v + o
func (v Vector3) Add(o Vector3) Vector3 {
	return Vector3{X: v.X + o.X, Y: v.Y + o.Y, Z: v.Z + o.Z}
}

// ScreenPoint is a position in viewer pixels, origin top-left
type ScreenPoint struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// EventKind identifies an engine event
type EventKind string

const (
	EventModelLoaded   EventKind = "model_loaded"
	EventCameraChanged EventKind = "camera_changed"
	EventClick         EventKind = "click"
)

// Event is emitted by the engine. ObjectID is set for clicks; zero or a
// negative id means empty space was clicked.
type Event struct {
	Kind     EventKind
	ObjectID int
}

// Engine is the 3D viewer the synchronizer drives
type Engine interface {
	// Load starts loading modelID with the access token
	Load(ctx context.Context, token, modelID string) error
	// Events delivers engine events until the engine shuts down
	Events() <-chan Event
	// Project maps a world point to the screen. It reports false when the
	// point is not in front of the camera or no camera is known yet.
	Project(world Vector3) (ScreenPoint, bool)
	// Markers returns the annotation layer, or ErrExtensionLoadFailed
	Markers(ctx context.Context) (MarkerLayer, error)
}

// Navigator is implemented by engines that can move the viewer camera.
// Engines without it keep the user's camera untouched.
type Navigator interface {
	// Focus aims the camera at target and backs off along the current view
	// direction to distanceScale times the object's bounding diagonal
	Focus(objectID int, target Vector3, distanceScale float64) error
	// Zoom scales the camera's distance to its target; below 1 moves closer
	Zoom(factor float64) error
}

// MarkerLayer draws sprite markers in the 3D scene
type MarkerLayer interface {
	Place(id int, position Vector3, frames []string) error
	SetFrame(id int, frame int) error
	SetVisible(visible bool) error
}
