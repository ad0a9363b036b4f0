package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smukkama/sensor-dashboard/internal/protocol"
	"github.com/smukkama/sensor-dashboard/internal/timer"
)

func telemetryBody(temp float64, ts time.Time) string {
	return fmt.Sprintf(`{
		"current": {"temp": %v, "humidity": 40.2, "pressure": 1013.4, "lastUpdated": %q},
		"history": [{"temp": %v, "humidity": 40.2, "pressure": 1013.4, "lastUpdated": %q}]
	}`, temp, ts.Format(time.RFC3339), temp, ts.Format(time.RFC3339))
}

func newScheduler(t *testing.T) *timer.Scheduler {
	t.Helper()
	s := timer.NewScheduler(2)
	s.Start()
	t.Cleanup(s.Stop)
	return s
}

func waitFor(t *testing.T, ch <-chan *Snapshot, match func(*Snapshot) bool) *Snapshot {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case snap, ok := <-ch:
			require.True(t, ok, "subscription closed")
			if match(snap) {
				return snap
			}
		case <-deadline:
			t.Fatal("timed out waiting for snapshot")
			return nil
		}
	}
}

func TestPoller_SuccessfulPoll(t *testing.T) {
	lastUpdated := time.Now().Add(-time.Minute).Truncate(time.Second)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, telemetryBody(72.5, lastUpdated))
	}))
	defer srv.Close()

	p := NewPoller(NewClient(srv.URL, srv.URL, time.Second), newScheduler(t))
	assert.True(t, p.Snapshot().IsLoading)

	ch, unsubscribe := p.Subscribe()
	defer unsubscribe()

	require.NoError(t, p.Start(context.Background(), time.Hour))
	defer p.Stop()

	snap := waitFor(t, ch, func(s *Snapshot) bool { return s.Current != nil })
	assert.False(t, snap.IsLoading)
	assert.Equal(t, ErrorNone, snap.LastFetchError)
	require.Len(t, snap.History, 1)

	card := BuildCard("MXCHIP-NELSON", snap, time.Now(), CardOptions{})
	assert.False(t, card.Stale)
	assert.Equal(t, StatusOnline, card.Status)
	assert.Equal(t, "72.5 °F", card.Temperature)
	assert.Equal(t, "40.2 %", card.Humidity)
	assert.Equal(t, "1013 hPa", card.Pressure)
	assert.Empty(t, card.Error)
}

func TestPoller_FailureKeepsCurrentAndKeepsPolling(t *testing.T) {
	var failing atomic.Bool
	lastUpdated := time.Now().Truncate(time.Second)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if failing.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		fmt.Fprint(w, telemetryBody(72.5, lastUpdated))
	}))
	defer srv.Close()

	p := NewPoller(NewClient(srv.URL, srv.URL, time.Second), newScheduler(t))
	ch, unsubscribe := p.Subscribe()
	defer unsubscribe()

	require.NoError(t, p.Start(context.Background(), 20*time.Millisecond))
	defer p.Stop()

	waitFor(t, ch, func(s *Snapshot) bool { return s.Current != nil })

	failing.Store(true)
	snap := waitFor(t, ch, func(s *Snapshot) bool { return s.LastFetchError == ErrorTelemetryFetchFailed })
	require.NotNil(t, snap.Current)
	v, ok := snap.Current.Value(protocol.MetricTemperature)
	require.True(t, ok)
	assert.Equal(t, 72.5, v)
	assert.Equal(t, ConnectionErrorMessage, snap.ErrorMessage())
	assert.False(t, snap.IsLoading)

	failing.Store(false)
	snap = waitFor(t, ch, func(s *Snapshot) bool { return s.LastFetchError == ErrorNone })
	assert.Empty(t, snap.ErrorMessage())
}

func TestPoller_FirstFetchFailureSettlesLoading(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	p := NewPoller(NewClient(srv.URL, srv.URL, time.Second), newScheduler(t))
	ch, unsubscribe := p.Subscribe()
	defer unsubscribe()

	require.NoError(t, p.Start(context.Background(), time.Hour))
	defer p.Stop()

	snap := waitFor(t, ch, func(s *Snapshot) bool { return !s.IsLoading })
	assert.Nil(t, snap.Current)
	assert.Equal(t, ErrorTelemetryFetchFailed, snap.LastFetchError)
}

func TestPoller_StopDiscardsInFlight(t *testing.T) {
	started := make(chan struct{}, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case started <- struct{}{}:
		default:
		}
		<-r.Context().Done()
	}))
	defer srv.Close()

	p := NewPoller(NewClient(srv.URL, srv.URL, 5*time.Second), newScheduler(t))
	require.NoError(t, p.Start(context.Background(), time.Hour))

	select {
	case <-started:
	case <-time.After(3 * time.Second):
		t.Fatal("fetch never started")
	}
	p.Stop()

	time.Sleep(50 * time.Millisecond)
	snap := p.Snapshot()
	assert.True(t, snap.IsLoading)
	assert.Equal(t, ErrorNone, snap.LastFetchError)
}

func TestPoller_StopClosesSubscriptions(t *testing.T) {
	p := NewPoller(NewClient("http://127.0.0.1:1", "http://127.0.0.1:1", time.Second), newScheduler(t))
	ch, _ := p.Subscribe()
	require.NoError(t, p.Start(context.Background(), time.Hour))
	p.Stop()

	for range ch {
	}
	p.Stop()
}

type fakeRecorder struct {
	mu       sync.Mutex
	readings []protocol.Reading
}

func (f *fakeRecorder) Record(ctx context.Context, r protocol.Reading) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readings = append(f.readings, r)
	return nil
}

func (f *fakeRecorder) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.readings)
}

func TestPoller_RecordsEachReadingOnce(t *testing.T) {
	var hits atomic.Int32
	lastUpdated := time.Now().Truncate(time.Second)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		fmt.Fprint(w, telemetryBody(70, lastUpdated))
	}))
	defer srv.Close()

	rec := &fakeRecorder{}
	p := NewPoller(NewClient(srv.URL, srv.URL, time.Second), newScheduler(t), WithRecorder(rec))
	require.NoError(t, p.Start(context.Background(), 20*time.Millisecond))
	defer p.Stop()

	require.Eventually(t, func() bool { return hits.Load() >= 4 }, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, rec.count())
}

type fakeStore struct {
	mu     sync.Mutex
	loaded *Snapshot
	saved  []*Snapshot
}

func (f *fakeStore) LoadSnapshot(ctx context.Context) (*Snapshot, error) {
	return f.loaded, nil
}

func (f *fakeStore) SaveSnapshot(ctx context.Context, snap *Snapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = append(f.saved, snap)
	return nil
}

func TestPoller_SeedsFromStore(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
			return
		}
		fmt.Fprint(w, telemetryBody(71, time.Now()))
	}))
	defer srv.Close()

	stored := &Snapshot{Current: &protocol.Reading{Temperature: protocol.Float(68), Timestamp: time.Now().Add(-time.Hour)}}
	store := &fakeStore{loaded: stored}

	p := NewPoller(NewClient(srv.URL, srv.URL, time.Second), newScheduler(t), WithStore(store))
	ch, unsubscribe := p.Subscribe()
	defer unsubscribe()
	require.NoError(t, p.Start(context.Background(), time.Hour))
	defer p.Stop()

	seeded := p.Snapshot()
	assert.True(t, seeded.IsLoading)
	require.NotNil(t, seeded.Current)
	assert.Equal(t, 68.0, *seeded.Current.Temperature)

	close(release)
	snap := waitFor(t, ch, func(s *Snapshot) bool { return !s.IsLoading })
	assert.Equal(t, 71.0, *snap.Current.Temperature)

	require.Eventually(t, func() bool {
		store.mu.Lock()
		defer store.mu.Unlock()
		return len(store.saved) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestFetchAccessToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"access_token":"abc123"}`)
	}))
	defer srv.Close()

	p := NewPoller(NewClient(srv.URL, srv.URL, time.Second), newScheduler(t))
	_, ok := p.Token().Get()
	assert.False(t, ok)

	require.NoError(t, p.FetchAccessToken(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	token, err := p.Token().Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, "abc123", token)
	assert.False(t, p.Token().Failed())
}

func TestFetchAccessToken_FailureLeavesViewerUnauthenticated(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := NewPoller(NewClient(srv.URL, srv.URL, time.Second), newScheduler(t))
	err := p.FetchAccessToken(context.Background())
	require.ErrorIs(t, err, ErrTokenFetchFailed)
	assert.True(t, p.Token().Failed())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = p.Token().Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, int32(1), hits.Load())
}
