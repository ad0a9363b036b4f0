package anchor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smukkama/sensor-dashboard/internal/timer"
	"github.com/smukkama/sensor-dashboard/internal/viewstate"
)

type fakeLayer struct {
	mu       sync.Mutex
	placedID int
	placedAt Vector3
	frames   []string
	visible  []bool
	swaps    []int
}

func (l *fakeLayer) Place(id int, position Vector3, frames []string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.placedID, l.placedAt, l.frames = id, position, frames
	return nil
}

func (l *fakeLayer) SetFrame(id int, frame int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.swaps = append(l.swaps, frame)
	return nil
}

func (l *fakeLayer) SetVisible(visible bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.visible = append(l.visible, visible)
	return nil
}

func (l *fakeLayer) swapCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.swaps)
}

type fakeEngine struct {
	mu         sync.Mutex
	events     chan Event
	screen     ScreenPoint
	visible    bool
	layer      *fakeLayer
	markersErr error
	loadedWith [2]string
	focused    []int
	zooms      []float64
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		events:  make(chan Event, 8),
		screen:  ScreenPoint{X: 100, Y: 200},
		visible: true,
		layer:   &fakeLayer{},
	}
}

func (e *fakeEngine) Load(ctx context.Context, token, modelID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.loadedWith = [2]string{token, modelID}
	return nil
}

func (e *fakeEngine) Events() <-chan Event { return e.events }

func (e *fakeEngine) Project(world Vector3) (ScreenPoint, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.screen, e.visible
}

func (e *fakeEngine) Markers(ctx context.Context) (MarkerLayer, error) {
	if e.markersErr != nil {
		return nil, e.markersErr
	}
	return e.layer, nil
}

func (e *fakeEngine) Focus(objectID int, target Vector3, distanceScale float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.focused = append(e.focused, objectID)
	return nil
}

func (e *fakeEngine) Zoom(factor float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.zooms = append(e.zooms, factor)
	return nil
}

func (e *fakeEngine) navigation() ([]int, []float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]int(nil), e.focused...), append([]float64(nil), e.zooms...)
}

// staticEngine cannot move the camera
type staticEngine struct {
	inner *fakeEngine
}

func (e staticEngine) Load(ctx context.Context, token, modelID string) error {
	return e.inner.Load(ctx, token, modelID)
}
func (e staticEngine) Events() <-chan Event                      { return e.inner.Events() }
func (e staticEngine) Project(world Vector3) (ScreenPoint, bool) { return e.inner.Project(world) }
func (e staticEngine) Markers(ctx context.Context) (MarkerLayer, error) {
	return e.inner.Markers(ctx)
}

func (e *fakeEngine) moveCamera(p ScreenPoint) {
	e.mu.Lock()
	e.screen = p
	e.mu.Unlock()
	e.events <- Event{Kind: EventCameraChanged}
}

var testConfig = Config{
	ModelID:         "urn:model",
	ObjectID:        5685,
	BasePosition:    Vector3{X: -16.870, Y: -27.031, Z: -1.257},
	Lift:            1.5,
	Frames:          []string{"sprites/thermostat.svg", "sprites/thermostat_red.svg"},
	AnimationPeriod: time.Hour,
}

type harness struct {
	engine    *fakeEngine
	scheduler *timer.Scheduler
	sync      *Synchronizer
	runErr    chan error
}

func start(t *testing.T, cfg Config, engine *fakeEngine, dataReady func() bool) *harness {
	t.Helper()
	scheduler := timer.NewScheduler(1)
	scheduler.Start()
	t.Cleanup(scheduler.Stop)

	h := &harness{
		engine:    engine,
		scheduler: scheduler,
		sync:      NewSynchronizer(engine, scheduler, cfg, dataReady),
		runErr:    make(chan error, 1),
	}
	go func() { h.runErr <- h.sync.Run(context.Background(), "token-1") }()
	t.Cleanup(h.sync.Close)
	return h
}

func next(t *testing.T, ch <-chan Overlay) Overlay {
	t.Helper()
	select {
	case o, ok := <-ch:
		require.True(t, ok, "overlay channel closed")
		return o
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for overlay")
		return Overlay{}
	}
}

func assertNoOverlay(t *testing.T, ch <-chan Overlay) {
	t.Helper()
	select {
	case o := <-ch:
		t.Fatalf("unexpected overlay %+v", o)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSynchronizer_ModelLoadedPlacesMarker(t *testing.T) {
	h := start(t, testConfig, newFakeEngine(), nil)
	h.engine.events <- Event{Kind: EventModelLoaded}

	o := next(t, h.sync.Overlays())
	assert.Equal(t, viewstate.Collapsed, o.State)
	assert.True(t, o.MarkersVisible)
	assert.True(t, o.Annotations)

	layer := h.engine.layer
	layer.mu.Lock()
	defer layer.mu.Unlock()
	assert.Equal(t, 5685, layer.placedID)
	assert.InDelta(t, -16.870, layer.placedAt.X, 1e-9)
	assert.InDelta(t, -27.031, layer.placedAt.Y, 1e-9)
	assert.InDelta(t, 0.243, layer.placedAt.Z, 1e-9)
	assert.Equal(t, testConfig.Frames, layer.frames)
	assert.Equal(t, []bool{true}, layer.visible)

	h.engine.mu.Lock()
	defer h.engine.mu.Unlock()
	assert.Equal(t, [2]string{"token-1", "urn:model"}, h.engine.loadedWith)
	assert.Equal(t, []float64{DefaultInitialZoom}, h.engine.zooms)
	assert.Empty(t, h.engine.focused)
}

func TestSynchronizer_CameraChangeMovesOpenPopup(t *testing.T) {
	h := start(t, testConfig, newFakeEngine(), nil)
	overlays := h.sync.Overlays()

	h.engine.events <- Event{Kind: EventModelLoaded}
	next(t, overlays)

	h.engine.events <- Event{Kind: EventClick, ObjectID: 5685}
	o := next(t, overlays)
	assert.Equal(t, viewstate.MiniPopup, o.State)
	assert.Equal(t, ScreenPoint{X: 100, Y: 200}, o.Anchor)
	require.Eventually(t, func() bool {
		focused, _ := h.engine.navigation()
		return len(focused) == 1 && focused[0] == 5685
	}, time.Second, 5*time.Millisecond)

	h.engine.moveCamera(ScreenPoint{X: 150, Y: 250})
	o = next(t, overlays)
	assert.Equal(t, viewstate.MiniPopup, o.State, "popup stays open")
	assert.Equal(t, ScreenPoint{X: 150, Y: 250}, o.Anchor)
	assert.True(t, o.AnchorValid)
}

func TestSynchronizer_CameraChangeWhileCollapsed(t *testing.T) {
	h := start(t, testConfig, newFakeEngine(), nil)
	overlays := h.sync.Overlays()

	h.engine.events <- Event{Kind: EventModelLoaded}
	next(t, overlays)

	h.engine.moveCamera(ScreenPoint{X: 10, Y: 20})
	assertNoOverlay(t, overlays)

	pos, ok := h.sync.Position()
	assert.True(t, ok)
	assert.Equal(t, ScreenPoint{X: 10, Y: 20}, pos)
}

func TestSynchronizer_BackgroundClickDismisses(t *testing.T) {
	h := start(t, testConfig, newFakeEngine(), nil)
	overlays := h.sync.Overlays()

	h.engine.events <- Event{Kind: EventModelLoaded}
	next(t, overlays)
	h.engine.events <- Event{Kind: EventClick, ObjectID: 5685}
	next(t, overlays)

	h.engine.events <- Event{Kind: EventClick, ObjectID: 42}
	o := next(t, overlays)
	assert.Equal(t, viewstate.Collapsed, o.State)

	h.engine.events <- Event{Kind: EventClick, ObjectID: -1}
	assertNoOverlay(t, overlays)
}

func TestSynchronizer_ToggleMarkers(t *testing.T) {
	h := start(t, testConfig, newFakeEngine(), nil)
	overlays := h.sync.Overlays()

	h.engine.events <- Event{Kind: EventModelLoaded}
	next(t, overlays)

	h.sync.ToggleMarkers()
	o := next(t, overlays)
	assert.False(t, o.MarkersVisible)

	// hidden markers cannot be clicked
	h.engine.events <- Event{Kind: EventClick, ObjectID: 5685}
	assertNoOverlay(t, overlays)

	h.sync.ToggleMarkers()
	o = next(t, overlays)
	assert.True(t, o.MarkersVisible)

	layer := h.engine.layer
	layer.mu.Lock()
	defer layer.mu.Unlock()
	assert.Equal(t, []bool{true, false, true}, layer.visible)
}

func TestSynchronizer_ToggleDetailWaitsForData(t *testing.T) {
	var mu sync.Mutex
	ready := false
	dataReady := func() bool {
		mu.Lock()
		defer mu.Unlock()
		return ready
	}

	h := start(t, testConfig, newFakeEngine(), dataReady)
	overlays := h.sync.Overlays()
	h.engine.events <- Event{Kind: EventModelLoaded}
	next(t, overlays)

	h.sync.ToggleDetail()
	assertNoOverlay(t, overlays)

	mu.Lock()
	ready = true
	mu.Unlock()

	h.sync.ToggleDetail()
	assert.Equal(t, viewstate.DetailPanel, next(t, overlays).State)

	h.sync.CloseOverlay()
	assert.Equal(t, viewstate.Collapsed, next(t, overlays).State)

	h.sync.CloseOverlay()
	assertNoOverlay(t, overlays)
}

func TestSynchronizer_Animation(t *testing.T) {
	cfg := testConfig
	cfg.AnimationPeriod = 10 * time.Millisecond
	h := start(t, cfg, newFakeEngine(), nil)

	h.engine.events <- Event{Kind: EventModelLoaded}
	next(t, h.sync.Overlays())

	require.Eventually(t, func() bool { return h.engine.layer.swapCount() >= 3 }, 2*time.Second, 5*time.Millisecond)

	layer := h.engine.layer
	layer.mu.Lock()
	assert.Equal(t, []int{1, 0, 1}, layer.swaps[:3])
	layer.mu.Unlock()
}

func TestSynchronizer_CloseStopsEverything(t *testing.T) {
	cfg := testConfig
	cfg.AnimationPeriod = 10 * time.Millisecond
	h := start(t, cfg, newFakeEngine(), nil)

	h.engine.events <- Event{Kind: EventModelLoaded}
	next(t, h.sync.Overlays())
	require.Eventually(t, func() bool { return h.engine.layer.swapCount() >= 1 }, 2*time.Second, 5*time.Millisecond)

	h.sync.Close()

	select {
	case err := <-h.runErr:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}

	_, ok := h.sync.Position()
	assert.False(t, ok, "no screen position after teardown")
	assert.Equal(t, 0, h.scheduler.Stats().RecurringTasks)

	for range h.sync.Overlays() {
	}

	swaps := h.engine.layer.swapCount()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, swaps, h.engine.layer.swapCount())

	// commands after close are dropped
	h.sync.ToggleMarkers()
	h.sync.Close()
}

func TestSynchronizer_ExtensionFailureDegrades(t *testing.T) {
	engine := newFakeEngine()
	engine.markersErr = errors.New("extension missing")
	h := start(t, testConfig, engine, nil)
	overlays := h.sync.Overlays()

	h.engine.events <- Event{Kind: EventModelLoaded}
	o := next(t, overlays)
	assert.False(t, o.Annotations)
	assert.False(t, o.MarkersVisible)

	h.engine.events <- Event{Kind: EventClick, ObjectID: 5685}
	assertNoOverlay(t, overlays)
	assert.Equal(t, 0, h.scheduler.Stats().RecurringTasks)

	focused, zooms := engine.navigation()
	assert.Empty(t, focused)
	assert.Empty(t, zooms)
}

func TestSynchronizer_EngineWithoutNavigation(t *testing.T) {
	scheduler := timer.NewScheduler(1)
	scheduler.Start()
	defer scheduler.Stop()

	engine := newFakeEngine()
	s := NewSynchronizer(staticEngine{inner: engine}, scheduler, testConfig, nil)
	go func() { _ = s.Run(context.Background(), "token-1") }()
	defer s.Close()

	engine.events <- Event{Kind: EventModelLoaded}
	assert.True(t, next(t, s.Overlays()).Annotations)

	engine.events <- Event{Kind: EventClick, ObjectID: 5685}
	assert.Equal(t, viewstate.MiniPopup, next(t, s.Overlays()).State)

	focused, zooms := engine.navigation()
	assert.Empty(t, focused)
	assert.Empty(t, zooms)
}

func TestSynchronizer_CloseBeforeRun(t *testing.T) {
	scheduler := timer.NewScheduler(1)
	scheduler.Start()
	defer scheduler.Stop()

	s := NewSynchronizer(newFakeEngine(), scheduler, testConfig, nil)
	s.Close()

	_, open := <-s.Overlays()
	assert.False(t, open)
	assert.ErrorIs(t, s.Run(context.Background(), "token"), ErrClosed)
	s.Close()
}

func TestSynchronizer_EventStreamEnds(t *testing.T) {
	h := start(t, testConfig, newFakeEngine(), nil)
	close(h.engine.events)

	select {
	case err := <-h.runErr:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
	<-h.sync.Done()
}

func TestCameraProject(t *testing.T) {
	identity := [16]float64{1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1}
	cam := Camera{Matrix: identity, Width: 800, Height: 600}

	p, ok := cam.Project(Vector3{})
	require.True(t, ok)
	assert.Equal(t, ScreenPoint{X: 400, Y: 300}, p)

	p, ok = cam.Project(Vector3{X: 1, Y: 1})
	require.True(t, ok)
	assert.Equal(t, ScreenPoint{X: 800, Y: 0}, p)

	behind := identity
	behind[15] = -1
	_, ok = Camera{Matrix: behind, Width: 800, Height: 600}.Project(Vector3{})
	assert.False(t, ok)

	_, ok = Camera{Matrix: identity}.Project(Vector3{})
	assert.False(t, ok)
}
