package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/smukkama/sensor-dashboard/internal/anchor"
	"github.com/smukkama/sensor-dashboard/internal/protocol"
)

const (
	extensionWait = 10 * time.Second
	eventBuffer   = 32
)

// wsEngine drives the browser's 3D viewer over the session's WebSocket.
// The read pump feeds it viewer messages; commands go out through send.
// Delivery never blocks the read pump: camera events coalesce and other
// events are dropped while the buffer is full.
type wsEngine struct {
	send      func(protocol.Envelope) bool
	events    chan anchor.Event
	extension chan error
	closed    chan struct{}
	closeOnce sync.Once
	log       zerolog.Logger

	// cameraQueued is set while a camera event waits in events
	cameraQueued atomic.Bool
	dropped      atomic.Int64

	mu     sync.RWMutex
	camera *anchor.Camera
}

func newWSEngine(send func(protocol.Envelope) bool, log zerolog.Logger) *wsEngine {
	return &wsEngine{
		send:      send,
		log:       log,
		events:    make(chan anchor.Event, eventBuffer),
		extension: make(chan error, 1),
		closed:    make(chan struct{}),
	}
}

type initPayload struct {
	AccessToken string `json:"access_token"`
	URN         string `json:"urn"`
}

func (e *wsEngine) Load(ctx context.Context, token, modelID string) error {
	if !e.send(protocol.Envelope{Type: protocol.MsgTypeInit, Data: initPayload{AccessToken: token, URN: modelID}}) {
		return errViewerGone
	}
	return nil
}

func (e *wsEngine) Events() <-chan anchor.Event {
	return e.events
}

func (e *wsEngine) Project(world anchor.Vector3) (anchor.ScreenPoint, bool) {
	// cleared before reading so a camera stored after this point queues a new event
	e.cameraQueued.Store(false)

	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.camera == nil {
		return anchor.ScreenPoint{}, false
	}
	return e.camera.Project(world)
}

func (e *wsEngine) Markers(ctx context.Context) (anchor.MarkerLayer, error) {
	timer := time.NewTimer(extensionWait)
	defer timer.Stop()

	select {
	case err := <-e.extension:
		if err != nil {
			return nil, fmt.Errorf("%w: %v", anchor.ErrExtensionLoadFailed, err)
		}
		return &wsMarkers{engine: e}, nil
	case <-timer.C:
		return nil, fmt.Errorf("%w: no response from viewer", anchor.ErrExtensionLoadFailed)
	case <-e.closed:
		return nil, fmt.Errorf("%w: viewer connection closed", anchor.ErrExtensionLoadFailed)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type focusPayload struct {
	ID            int            `json:"dbId"`
	Target        anchor.Vector3 `json:"target"`
	DistanceScale float64        `json:"distance_scale"`
}

type zoomPayload struct {
	Factor float64 `json:"factor"`
}

func (e *wsEngine) Focus(objectID int, target anchor.Vector3, distanceScale float64) error {
	if !e.send(protocol.Envelope{Type: protocol.MsgTypeFocus, Data: focusPayload{ID: objectID, Target: target, DistanceScale: distanceScale}}) {
		return errViewerGone
	}
	return nil
}

func (e *wsEngine) Zoom(factor float64) error {
	if !e.send(protocol.Envelope{Type: protocol.MsgTypeZoom, Data: zoomPayload{Factor: factor}}) {
		return errViewerGone
	}
	return nil
}

// deliver routes one viewer message into the engine. It reports false for
// messages the engine does not handle.
func (e *wsEngine) deliver(msg *protocol.ViewerMessage) bool {
	switch msg.Type {
	case protocol.MsgTypeModelLoaded:
		e.emit(anchor.Event{Kind: anchor.EventModelLoaded})
	case protocol.MsgTypeCamera:
		cam := anchor.Camera{Matrix: msg.Camera.Matrix, Width: msg.Camera.Width, Height: msg.Camera.Height}
		e.mu.Lock()
		e.camera = &cam
		e.mu.Unlock()
		// a queued camera event projects with the latest matrix
		if e.cameraQueued.CompareAndSwap(false, true) && !e.emit(anchor.Event{Kind: anchor.EventCameraChanged}) {
			e.cameraQueued.Store(false)
		}
	case protocol.MsgTypeClick:
		e.emit(anchor.Event{Kind: anchor.EventClick, ObjectID: msg.ObjectID})
	case protocol.MsgTypeExtension:
		var err error
		if !msg.OK {
			err = errors.New(msg.Error)
		}
		select {
		case e.extension <- err:
		default:
		}
	default:
		return false
	}
	return true
}

func (e *wsEngine) emit(ev anchor.Event) bool {
	select {
	case <-e.closed:
		return false
	default:
	}

	select {
	case e.events <- ev:
		return true
	default:
		n := e.dropped.Add(1)
		e.log.Debug().Str("kind", string(ev.Kind)).Int64("dropped", n).Msg("Viewer event buffer full, dropping event")
		return false
	}
}

func (e *wsEngine) close() {
	e.closeOnce.Do(func() { close(e.closed) })
}

// wsMarkers is the viewer's sprite layer
type wsMarkers struct {
	engine *wsEngine
}

type markerPlacePayload struct {
	ID       int            `json:"dbId"`
	Position anchor.Vector3 `json:"position"`
	Frames   []string       `json:"frames"`
}

type markerFramePayload struct {
	ID    int `json:"dbId"`
	Frame int `json:"frame"`
}

type markerVisibilityPayload struct {
	Visible bool `json:"visible"`
}

var errViewerGone = errors.New("viewer connection closed")

func (m *wsMarkers) Place(id int, position anchor.Vector3, frames []string) error {
	return m.push(protocol.MsgTypeMarkerPlace, markerPlacePayload{ID: id, Position: position, Frames: frames})
}

func (m *wsMarkers) SetFrame(id int, frame int) error {
	return m.push(protocol.MsgTypeMarkerFrame, markerFramePayload{ID: id, Frame: frame})
}

func (m *wsMarkers) SetVisible(visible bool) error {
	return m.push(protocol.MsgTypeMarkerVisibility, markerVisibilityPayload{Visible: visible})
}

func (m *wsMarkers) push(t protocol.ViewerMessageType, data any) error {
	if !m.engine.send(protocol.Envelope{Type: t, Data: data}) {
		return errViewerGone
	}
	return nil
}
