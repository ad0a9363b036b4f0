package anchor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/smukkama/sensor-dashboard/internal/logging"
	"github.com/smukkama/sensor-dashboard/internal/timer"
	"github.com/smukkama/sensor-dashboard/internal/viewstate"
)

const (
	// DefaultAnimationPeriod is the marker frame swap interval
	DefaultAnimationPeriod = 500 * time.Millisecond
	// DefaultFocusDistance frames a clicked marker's object from this many
	// bounding diagonals away
	DefaultFocusDistance = 30.0
	// DefaultInitialZoom brings the camera closer once markers are placed
	DefaultInitialZoom = 0.8
)

// ErrClosed is returned by Run on a synchronizer that was closed or has
// already run
var ErrClosed = errors.New("synchronizer closed")

// Config describes the anchored object
type Config struct {
	ModelID         string
	ObjectID        int
	BasePosition    Vector3
	Lift            float64
	Frames          []string
	AnimationPeriod time.Duration
	FocusDistance   float64
	InitialZoom     float64
}

// AnchorPosition returns the world point the overlay follows: the base
// position raised by Lift.
func (c Config) AnchorPosition() Vector3 {
	return c.BasePosition.Add(Vector3{Z: c.Lift})
}

// Overlay is the state a viewer needs to draw its 2D overlays
type Overlay struct {
	State          viewstate.State `json:"state"`
	Anchor         ScreenPoint     `json:"anchor"`
	AnchorValid    bool            `json:"anchor_valid"`
	MarkersVisible bool            `json:"markers_visible"`
	Annotations    bool            `json:"annotations"`
}

type command func(ctx context.Context)

// Synchronizer owns one anchor and its view state for a single viewer.
// All state changes happen on the goroutine running Run; the exported
// methods only queue work for it.
type Synchronizer struct {
	cfg        Config
	engine     Engine
	nav        Navigator
	scheduler  *timer.Scheduler
	dataReady  func() bool
	log        zerolog.Logger
	animTaskID string

	commands chan command
	overlays chan Overlay
	closing  chan struct{}
	done     chan struct{}
	alive    atomic.Bool
	running  atomic.Bool
	once     sync.Once

	// loop-owned
	controller     *viewstate.Controller
	markers        MarkerLayer
	markersVisible bool
	modelLoaded    bool
	frame          int

	posMu    sync.RWMutex
	pos      ScreenPoint
	posValid bool
}

// NewSynchronizer creates a synchronizer. dataReady gates the detail panel;
// nil means always ready.
func NewSynchronizer(engine Engine, scheduler *timer.Scheduler, cfg Config, dataReady func() bool) *Synchronizer {
	if cfg.AnimationPeriod <= 0 {
		cfg.AnimationPeriod = DefaultAnimationPeriod
	}
	if cfg.FocusDistance <= 0 {
		cfg.FocusDistance = DefaultFocusDistance
	}
	if cfg.InitialZoom <= 0 {
		cfg.InitialZoom = DefaultInitialZoom
	}
	if dataReady == nil {
		dataReady = func() bool { return true }
	}
	taskID := "marker-animation-" + uuid.NewString()
	nav, _ := engine.(Navigator)
	return &Synchronizer{
		cfg:        cfg,
		engine:     engine,
		nav:        nav,
		scheduler:  scheduler,
		dataReady:  dataReady,
		log:        logging.With("anchor").With().Str("task", taskID).Logger(),
		animTaskID: taskID,
		commands:   make(chan command, 16),
		overlays:   make(chan Overlay, 1),
		closing:    make(chan struct{}),
		done:       make(chan struct{}),
		controller: viewstate.NewController(),
	}
}

// Overlays delivers overlay updates. Only the most recent pending update is
// kept. The channel is closed when the synchronizer stops.
func (s *Synchronizer) Overlays() <-chan Overlay {
	return s.overlays
}

// Done is closed once the synchronizer has torn down
func (s *Synchronizer) Done() <-chan struct{} {
	return s.done
}

// Position returns the anchor's last projected screen position. It reports
// false before the first projection and after teardown.
func (s *Synchronizer) Position() (ScreenPoint, bool) {
	s.posMu.RLock()
	defer s.posMu.RUnlock()
	return s.pos, s.posValid
}

// Run loads the model and processes engine events and queued commands until
// Close, ctx cancellation or the engine's event stream ending.
func (s *Synchronizer) Run(ctx context.Context, token string) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrClosed
	}
	defer s.teardown()

	select {
	case <-s.closing:
		return ErrClosed
	default:
	}
	s.alive.Store(true)

	if err := s.engine.Load(ctx, token, s.cfg.ModelID); err != nil {
		return fmt.Errorf("failed to load model: %w", err)
	}

	events := s.engine.Events()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.closing:
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			s.handleEvent(ctx, ev)
		case cmd := <-s.commands:
			cmd(ctx)
		}
	}
}

// Close stops the synchronizer and waits for teardown. Safe to call more
// than once, and before Run.
func (s *Synchronizer) Close() {
	s.once.Do(func() {
		s.alive.Store(false)
		close(s.closing)
	})
	if s.running.CompareAndSwap(false, true) {
		s.teardown()
		return
	}
	<-s.done
}

// ToggleMarkers shows or hides the markers without removing them
func (s *Synchronizer) ToggleMarkers() {
	s.enqueue(func(ctx context.Context) {
		if s.markers == nil {
			return
		}
		visible := !s.markersVisible
		if err := s.markers.SetVisible(visible); err != nil {
			s.log.Warn().Err(err).Msg("Failed to change marker visibility")
			return
		}
		s.markersVisible = visible
		s.publish()
	})
}

// ToggleDetail opens or closes the detail panel
func (s *Synchronizer) ToggleDetail() {
	s.enqueue(func(ctx context.Context) {
		if s.controller.ToggleDetail(s.dataReady()) {
			s.publish()
		}
	})
}

// CloseOverlay collapses whichever overlay is open
func (s *Synchronizer) CloseOverlay() {
	s.enqueue(func(ctx context.Context) {
		if s.controller.Close() {
			s.publish()
		}
	})
}

// enqueue never blocks the caller. Commands are dropped before Run, after
// Close, and while the queue is full.
func (s *Synchronizer) enqueue(cmd command) bool {
	if !s.alive.Load() {
		return false
	}
	select {
	case <-s.closing:
		return false
	default:
	}
	select {
	case s.commands <- cmd:
		return true
	default:
		s.log.Debug().Msg("Command queue full, dropping command")
		return false
	}
}

func (s *Synchronizer) handleEvent(ctx context.Context, ev Event) {
	switch ev.Kind {
	case EventModelLoaded:
		s.onModelLoaded(ctx)
	case EventCameraChanged:
		s.reproject()
		if s.controller.State() == viewstate.MiniPopup {
			s.publish()
		}
	case EventClick:
		if s.markers != nil && s.markersVisible && ev.ObjectID == s.cfg.ObjectID {
			s.reproject()
			s.controller.OpenMiniPopup()
			s.publish()
			if s.nav != nil {
				if err := s.nav.Focus(s.cfg.ObjectID, s.cfg.BasePosition, s.cfg.FocusDistance); err != nil {
					s.log.Debug().Err(err).Msg("Failed to focus marker")
				}
			}
			return
		}
		if s.controller.BackgroundClick() {
			s.publish()
		}
	default:
		s.log.Debug().Str("kind", string(ev.Kind)).Msg("Ignoring unknown engine event")
	}
}

func (s *Synchronizer) onModelLoaded(ctx context.Context) {
	if s.modelLoaded {
		return
	}
	s.modelLoaded = true
	s.reproject()

	markers, err := s.engine.Markers(ctx)
	if err != nil {
		s.log.Warn().Err(fmt.Errorf("%w: %v", ErrExtensionLoadFailed, err)).Msg("Viewer running without annotations")
		s.publish()
		return
	}

	if err := markers.Place(s.cfg.ObjectID, s.cfg.AnchorPosition(), s.cfg.Frames); err != nil {
		s.log.Warn().Err(err).Msg("Failed to place marker")
		s.publish()
		return
	}
	if err := markers.SetVisible(true); err != nil {
		s.log.Warn().Err(err).Msg("Failed to show marker")
	}
	s.markers = markers
	s.markersVisible = true

	if len(s.cfg.Frames) > 1 {
		if err := s.scheduler.Every(s.animTaskID, s.cfg.AnimationPeriod, s.tickAnimation); err != nil {
			s.log.Warn().Err(err).Msg("Failed to start marker animation")
		}
	}

	if s.nav != nil {
		if err := s.nav.Zoom(s.cfg.InitialZoom); err != nil {
			s.log.Debug().Err(err).Msg("Failed to apply initial zoom")
		}
	}

	s.publish()
}

// tickAnimation runs on a scheduler worker. A frame is skipped rather than
// blocking the worker when the loop is busy.
func (s *Synchronizer) tickAnimation() {
	if !s.alive.Load() {
		return
	}
	select {
	case s.commands <- s.advanceFrame:
	default:
	}
}

func (s *Synchronizer) advanceFrame(ctx context.Context) {
	if s.markers == nil || len(s.cfg.Frames) == 0 {
		return
	}
	s.frame = (s.frame + 1) % len(s.cfg.Frames)
	if err := s.markers.SetFrame(s.cfg.ObjectID, s.frame); err != nil {
		s.log.Debug().Err(err).Msg("Failed to swap marker frame")
	}
}

func (s *Synchronizer) reproject() {
	p, ok := s.engine.Project(s.cfg.AnchorPosition())
	s.posMu.Lock()
	s.pos, s.posValid = p, ok
	s.posMu.Unlock()
}

// publish replaces any undelivered overlay with the current one
func (s *Synchronizer) publish() {
	pos, valid := s.Position()
	o := Overlay{
		State:          s.controller.State(),
		Anchor:         pos,
		AnchorValid:    valid,
		MarkersVisible: s.markersVisible,
		Annotations:    s.markers != nil,
	}
	select {
	case s.overlays <- o:
	default:
		select {
		case <-s.overlays:
		default:
		}
		select {
		case s.overlays <- o:
		default:
		}
	}
}

func (s *Synchronizer) teardown() {
	s.alive.Store(false)
	s.scheduler.Cancel(s.animTaskID)
	s.controller.Close()

	s.posMu.Lock()
	s.pos, s.posValid = ScreenPoint{}, false
	s.posMu.Unlock()

	close(s.overlays)
	close(s.done)
	s.log.Debug().Msg("Anchor synchronizer stopped")
}
