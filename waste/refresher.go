package waste

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/robfig/cron/v3"
)

// NeighborhoodRefresher is the subset of GeoFilterClient used by Refresher.
type NeighborhoodRefresher interface {
	RefreshNeighborhoods(ctx context.Context) ([]Neighborhood, error)
}

// Refresher re-fetches the neighborhood list on a cron schedule so the cache
// is warm when the TTL expires.
type Refresher struct {
	source   NeighborhoodRefresher
	schedule string
	timeout  time.Duration
	log      logr.Logger
	cron     *cron.Cron

	mu      sync.Mutex
	lastRun time.Time
	lastErr error
}

// NewRefresher validates the schedule and creates a stopped refresher.
func NewRefresher(source NeighborhoodRefresher, schedule string, timeout time.Duration, log logr.Logger) (*Refresher, error) {
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("invalid refresh schedule %q: %w", schedule, err)
	}
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	r := &Refresher{
		source:   source,
		schedule: schedule,
		timeout:  timeout,
		log:      log.WithName("refresher"),
		cron:     cron.New(),
	}
	if _, err := r.cron.AddFunc(schedule, func() { r.RunOnce(context.Background()) }); err != nil {
		return nil, fmt.Errorf("scheduling refresh: %w", err)
	}
	return r, nil
}

// Start begins running the scheduled job in the background.
func (r *Refresher) Start() {
	r.log.Info("scheduled neighborhood refresh", "schedule", r.schedule)
	r.cron.Start()
}

// Stop stops the scheduler and waits for a running job to finish.
func (r *Refresher) Stop() {
	<-r.cron.Stop().Done()
}

// RunOnce refreshes the neighborhood list immediately.
func (r *Refresher) RunOnce(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	ns, err := r.source.RefreshNeighborhoods(ctx)

	r.mu.Lock()
	r.lastRun = time.Now()
	r.lastErr = err
	r.mu.Unlock()

	if err != nil {
		r.log.Error(err, "neighborhood refresh failed")
		return err
	}
	r.log.Info("neighborhoods refreshed", "count", len(ns))
	return nil
}

// Status returns the time and outcome of the last run.
func (r *Refresher) Status() (time.Time, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastRun, r.lastErr
}
