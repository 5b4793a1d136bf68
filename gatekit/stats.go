package gatekit

import (
	"context"
	"sync"
	"time"

	"github.com/openvenue/gatekit-go/gatekit/rest"

	"golang.org/x/sync/singleflight"
)

// StatsAPI is the slice of the Ticket API the poller needs.
// *rest.Client implements it.
type StatsAPI interface {
	GetRealtimeStats(ctx context.Context, eventID string) (*rest.CheckinStats, error)
}

// StatsSnapshot is one observation of an event's check-in progress.
// When Available is false the fetch failed; Stats then holds the last
// successful observation (marked Stale) or nil if there never was one.
// The poller never substitutes fabricated numbers for missing data.
type StatsSnapshot struct {
	Stats     *rest.CheckinStats
	Available bool
	Stale     bool
	FetchedAt time.Time
	Err       error
}

// StatsPoller provides an eventually-consistent view of aggregate
// check-in progress. It is pull-based: callers invoke Fetch on their own
// schedule (or use Poll). Concurrent fetches for the same event collapse
// into one request.
type StatsPoller struct {
	api    StatsAPI
	logger Logger
	sf     singleflight.Group

	mu   sync.Mutex
	last map[string]StatsSnapshot
}

// NewStatsPoller constructs a poller over the given Ticket API.
func NewStatsPoller(api StatsAPI) *StatsPoller {
	return &StatsPoller{
		api:    api,
		logger: noopLogger{},
		last:   make(map[string]StatsSnapshot),
	}
}

// SetLogger overrides the logger (optional).
func (p *StatsPoller) SetLogger(l Logger) {
	if l != nil {
		p.logger = l
	}
}

// Fetch retrieves the current stats for an event. It never returns an
// error: on failure the snapshot is explicitly marked unavailable, so
// dashboards stay renderable and can distinguish live from stale data.
func (p *StatsPoller) Fetch(ctx context.Context, eventID string) StatsSnapshot {
	v, err, _ := p.sf.Do(eventID, func() (any, error) {
		return p.api.GetRealtimeStats(ctx, eventID)
	})
	if err != nil {
		p.logger.Warn("stats fetch failed", map[string]any{"event": eventID, "error": err.Error()})
		return p.degraded(eventID, err)
	}

	snap := StatsSnapshot{
		Stats:     v.(*rest.CheckinStats),
		Available: true,
		FetchedAt: time.Now(),
	}
	p.mu.Lock()
	p.last[eventID] = snap
	p.mu.Unlock()
	return snap
}

// Poll fetches on a fixed interval (plus once immediately) and hands each
// snapshot to fn, until ctx is done. Convenience around Fetch.
func (p *StatsPoller) Poll(ctx context.Context, eventID string, interval time.Duration, fn func(StatsSnapshot)) {
	fn(p.Fetch(ctx, eventID))

	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			fn(p.Fetch(ctx, eventID))
		case <-ctx.Done():
			return
		}
	}
}

// degraded builds the unavailable snapshot for a failed fetch, carrying
// the last good numbers (if any) marked stale.
func (p *StatsPoller) degraded(eventID string, err error) StatsSnapshot {
	p.mu.Lock()
	prev, ok := p.last[eventID]
	p.mu.Unlock()
	if !ok {
		return StatsSnapshot{Err: err}
	}
	return StatsSnapshot{
		Stats:     prev.Stats,
		Stale:     true,
		FetchedAt: prev.FetchedAt,
		Err:       err,
	}
}
