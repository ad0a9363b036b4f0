package telemetry

import (
	"errors"
	"time"

	"github.com/smukkama/sensor-dashboard/internal/protocol"
)

// DefaultStaleAfter is how old the current reading may get before the sensor is reported offline
const DefaultStaleAfter = 5 * time.Minute

// ConnectionErrorMessage is shown while telemetry polls are failing
const ConnectionErrorMessage = "Connection Error. Retrying..."

var (
	ErrTokenFetchFailed     = errors.New("failed to fetch secure viewer token")
	ErrTelemetryFetchFailed = errors.New("failed to fetch telemetry")
)

// ErrorKind is the fetch error recorded in a snapshot
type ErrorKind string

const (
	ErrorNone                 ErrorKind = ""
	ErrorTelemetryFetchFailed ErrorKind = "telemetry_fetch_failed"
)

// Snapshot is the dashboard's view of the telemetry feed at one point in
// time. Snapshots are never mutated; every poll produces a new one.
type Snapshot struct {
	Current        *protocol.Reading  `json:"current,omitempty"`
	History        []protocol.Reading `json:"history"`
	LastFetchError ErrorKind          `json:"last_fetch_error,omitempty"`
	IsLoading      bool               `json:"is_loading"`
	FetchedAt      time.Time          `json:"fetched_at"`
}

// EmptySnapshot is the state before the first poll settles
func EmptySnapshot() *Snapshot {
	return &Snapshot{IsLoading: true}
}

// ErrorMessage returns the banner text for the snapshot's fetch error
func (s *Snapshot) ErrorMessage() string {
	if s.LastFetchError == ErrorTelemetryFetchFailed {
		return ConnectionErrorMessage
	}
	return ""
}

// withResponse returns the snapshot after a successful poll. Fields missing
// from the response keep their previous values.
func (s *Snapshot) withResponse(resp *protocol.TelemetryResponse, now time.Time) *Snapshot {
	next := &Snapshot{
		Current:   s.Current,
		History:   s.History,
		FetchedAt: now,
	}
	if resp.Current != nil {
		next.Current = resp.Current
	}
	if resp.HasHistory {
		next.History = resp.History
	}
	return next
}

// withError returns the snapshot after a failed poll; prior data is kept
func (s *Snapshot) withError(kind ErrorKind) *Snapshot {
	return &Snapshot{
		Current:        s.Current,
		History:        s.History,
		LastFetchError: kind,
		FetchedAt:      s.FetchedAt,
	}
}

// IsStale reports whether current is too old to trust. A missing reading or
// timestamp is stale; a reading exactly threshold old is not.
func IsStale(current *protocol.Reading, now time.Time, threshold time.Duration) bool {
	if threshold <= 0 {
		threshold = DefaultStaleAfter
	}
	if current == nil || !current.HasTimestamp() {
		return true
	}
	return now.Sub(current.Timestamp) > threshold
}
