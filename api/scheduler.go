/*
scheduler.go - Background aggregate refresher

PURPOSE:
  Periodically recomputes the derived aggregate columns (project allocated
  resources, demand allocated count, employee allocation percentage) from
  the Active allocation rows. Between runs those columns are stale, which
  is the read-after-write lag the engine's reconciliation poller absorbs.

CONFIGURATION:
  - Interval: How often to refresh (REFRESH_INTERVAL, default 2s)
  - Enabled:  Whether the refresher runs (false when Interval is 0)

USAGE:
  refresher := NewAggregateRefresher(store, logger, 2*time.Second)
  refresher.Start()
  // ... later
  refresher.Stop()

SEE ALSO:
  - handlers.go: RefreshAggregates endpoint (manual refresh)
  - store/sqlite/sqlite.go: RefreshAggregates
*/
package api

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// Refresher recomputes derived aggregates and reports how many rows changed.
type Refresher interface {
	RefreshAggregates(ctx context.Context) (int64, error)
}

// AggregateRefresher runs a Refresher on a ticker.
type AggregateRefresher struct {
	Store    Refresher
	Logger   *logrus.Entry
	Interval time.Duration
	Enabled  bool

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
	runs   atomic.Int64
}

// NewAggregateRefresher creates a refresher. A zero interval disables it.
func NewAggregateRefresher(store Refresher, logger *logrus.Entry, interval time.Duration) *AggregateRefresher {
	return &AggregateRefresher{
		Store:    store,
		Logger:   logger.WithField("component", "refresher"),
		Interval: interval,
		Enabled:  interval > 0,
	}
}

// Start begins the refresher.
func (ar *AggregateRefresher) Start() {
	ar.mu.Lock()
	defer ar.mu.Unlock()

	if !ar.Enabled {
		ar.Logger.Info("disabled, not starting")
		return
	}
	if ar.ticker != nil {
		return
	}

	ar.ticker = time.NewTicker(ar.Interval)
	ar.stop = make(chan struct{})
	ar.wg.Add(1)

	go ar.run()

	ar.Logger.WithField("interval", ar.Interval).Info("started")
}

// Stop stops the refresher and waits for an in-flight run to finish.
func (ar *AggregateRefresher) Stop() {
	ar.mu.Lock()
	defer ar.mu.Unlock()

	if ar.ticker != nil {
		ar.ticker.Stop()
		close(ar.stop)
		ar.wg.Wait()
		ar.ticker = nil
		ar.Logger.Info("stopped")
	}
}

func (ar *AggregateRefresher) run() {
	defer ar.wg.Done()

	for {
		select {
		case <-ar.ticker.C:
			ar.RunNow(context.Background())
		case <-ar.stop:
			return
		}
	}
}

// RunNow refreshes immediately and returns the number of rows changed.
func (ar *AggregateRefresher) RunNow(ctx context.Context) int64 {
	changed, err := ar.Store.RefreshAggregates(ctx)
	if err != nil {
		ar.Logger.WithError(err).Error("refresh failed")
		return 0
	}
	ar.runs.Add(1)
	if changed > 0 {
		ar.Logger.WithField("changed", changed).Debug("aggregates refreshed")
	}
	return changed
}

// Runs returns how many refreshes have completed.
func (ar *AggregateRefresher) Runs() int64 {
	return ar.runs.Load()
}
