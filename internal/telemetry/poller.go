package telemetry

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/smukkama/sensor-dashboard/internal/logging"
	"github.com/smukkama/sensor-dashboard/internal/metrics"
	"github.com/smukkama/sensor-dashboard/internal/protocol"
	"github.com/smukkama/sensor-dashboard/internal/timer"
)

const pollTaskID = "telemetry-poll"

// DefaultPollInterval is used when Start is given a non-positive interval
const DefaultPollInterval = 30 * time.Second

// SnapshotStore persists the last good snapshot across restarts
type SnapshotStore interface {
	LoadSnapshot(ctx context.Context) (*Snapshot, error)
	SaveSnapshot(ctx context.Context, snap *Snapshot) error
}

// ReadingRecorder receives each newly observed current reading
type ReadingRecorder interface {
	Record(ctx context.Context, reading protocol.Reading) error
}

// Poller keeps the latest telemetry snapshot fresh
type Poller struct {
	client    *Client
	scheduler *timer.Scheduler
	store     SnapshotStore
	recorder  ReadingRecorder
	now       func() time.Time
	log       zerolog.Logger

	snap    atomic.Pointer[Snapshot]
	running atomic.Bool
	token   *Token

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	subs    map[int]chan *Snapshot
	nextSub int
}

// Option configures a Poller
type Option func(*Poller)

// WithStore attaches a snapshot store
func WithStore(store SnapshotStore) Option {
	return func(p *Poller) { p.store = store }
}

// WithRecorder attaches a reading recorder
func WithRecorder(recorder ReadingRecorder) Option {
	return func(p *Poller) { p.recorder = recorder }
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(p *Poller) { p.now = now }
}

// NewPoller creates a poller. The scheduler must be started by the caller.
func NewPoller(client *Client, scheduler *timer.Scheduler, opts ...Option) *Poller {
	p := &Poller{
		client:    client,
		scheduler: scheduler,
		now:       time.Now,
		log:       logging.With("telemetry"),
		token:     newToken(),
		subs:      make(map[int]chan *Snapshot),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.snap.Store(EmptySnapshot())
	return p
}

// Snapshot returns the latest snapshot. Never nil.
func (p *Poller) Snapshot() *Snapshot {
	return p.snap.Load()
}

// Token returns the viewer access token handle
func (p *Poller) Token() *Token {
	return p.token
}

// Start fetches immediately and then every interval until Stop
func (p *Poller) Start(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	p.mu.Lock()
	if p.running.Load() {
		p.mu.Unlock()
		return nil
	}
	p.ctx, p.cancel = context.WithCancel(ctx)
	p.running.Store(true)
	p.mu.Unlock()

	p.seed()

	if err := p.scheduler.Every(pollTaskID, interval, p.tick); err != nil {
		p.Stop()
		return err
	}

	go p.tick()

	p.log.Info().Dur("interval", interval).Msg("Telemetry poller started")
	return nil
}

// Stop cancels the recurring fetch. Results of in-flight fetches are dropped
// and subscriber channels are closed.
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running.Swap(false) {
		return
	}
	p.scheduler.Cancel(pollTaskID)
	p.cancel()

	for id, ch := range p.subs {
		close(ch)
		delete(p.subs, id)
	}
	p.log.Info().Msg("Telemetry poller stopped")
}

// Subscribe returns a channel that receives every new snapshot. Slow readers
// only see the most recent one. Call the returned func to unsubscribe.
func (p *Poller) Subscribe() (<-chan *Snapshot, func()) {
	p.mu.Lock()
	defer p.mu.Unlock()

	ch := make(chan *Snapshot, 1)
	id := p.nextSub
	p.nextSub++
	p.subs[id] = ch

	return ch, func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		if c, ok := p.subs[id]; ok {
			close(c)
			delete(p.subs, id)
		}
	}
}

// FetchAccessToken resolves the viewer token once. A failure is logged and
// not retried.
func (p *Poller) FetchAccessToken(ctx context.Context) error {
	token, err := p.client.FetchToken(ctx)
	if err != nil {
		metrics.TokenFetches.WithLabelValues(metrics.ResultFailure).Inc()
		p.token.fail()
		p.log.Error().Err(err).Msg("Viewer token unavailable, viewer stays unauthenticated")
		return err
	}
	metrics.TokenFetches.WithLabelValues(metrics.ResultSuccess).Inc()
	p.token.resolve(token)
	p.log.Info().Msg("Viewer token resolved")
	return nil
}

// seed restores the last persisted snapshot, still marked as loading
func (p *Poller) seed() {
	if p.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(p.ctx, 2*time.Second)
	defer cancel()

	stored, err := p.store.LoadSnapshot(ctx)
	if err != nil {
		p.log.Warn().Err(err).Msg("Failed to load stored snapshot")
		return
	}
	if stored == nil {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if cur := p.snap.Load(); cur.IsLoading && cur.Current == nil {
		p.snap.Store(&Snapshot{
			Current:   stored.Current,
			History:   stored.History,
			FetchedAt: stored.FetchedAt,
			IsLoading: true,
		})
	}
}

func (p *Poller) tick() {
	if !p.running.Load() {
		return
	}

	p.mu.Lock()
	ctx := p.ctx
	p.mu.Unlock()

	resp, err := p.client.FetchTelemetry(ctx)

	p.mu.Lock()
	if !p.running.Load() {
		p.mu.Unlock()
		return
	}

	prev := p.snap.Load()
	var next *Snapshot
	if err != nil {
		next = prev.withError(ErrorTelemetryFetchFailed)
	} else {
		next = prev.withResponse(resp, p.now())
	}
	p.snap.Store(next)
	p.broadcastLocked(next)
	p.mu.Unlock()

	if err != nil {
		metrics.TelemetryPolls.WithLabelValues(metrics.ResultFailure).Inc()
		if !errors.Is(err, context.Canceled) {
			p.log.Warn().Err(err).Msg("Telemetry poll failed")
		}
		return
	}

	metrics.TelemetryPolls.WithLabelValues(metrics.ResultSuccess).Inc()
	metrics.TelemetryLastSuccess.Set(float64(next.FetchedAt.Unix()))
	metrics.TelemetryHistorySize.Set(float64(len(next.History)))

	p.persist(ctx, prev, next)
}

func (p *Poller) broadcastLocked(snap *Snapshot) {
	for _, ch := range p.subs {
		select {
		case ch <- snap:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snap:
			default:
			}
		}
	}
}

func (p *Poller) persist(ctx context.Context, prev, next *Snapshot) {
	if p.store != nil {
		if err := p.store.SaveSnapshot(ctx, next); err != nil {
			p.log.Warn().Err(err).Msg("Failed to save snapshot")
		}
	}

	if p.recorder != nil && isNewReading(prev.Current, next.Current) {
		if err := p.recorder.Record(ctx, *next.Current); err != nil {
			p.log.Warn().Err(err).Msg("Failed to record reading")
		}
	}
}

func isNewReading(prev, next *protocol.Reading) bool {
	if next == nil || !next.HasTimestamp() {
		return false
	}
	return prev == nil || !prev.Timestamp.Equal(next.Timestamp)
}
