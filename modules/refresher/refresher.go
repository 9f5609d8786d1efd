// Package refresher maintains the currently-published ruleset.Snapshot: it
// fetches every configured profile, merges the successful fragments, and
// publishes a new Snapshot via a single atomic pointer swap.
package refresher

import (
	"context"
	"fmt"
	"time"

	"github.com/go-kit/log/level"
	"github.com/grafana/dskit/services"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/atomic"

	"github.com/uktrade/ip-filter/modules/ruleset"
	"github.com/uktrade/ip-filter/pkg/util/log"
)

// Fetcher is the subset of profilefetcher.Fetcher the Refresher depends on.
type Fetcher interface {
	Fetch(ctx context.Context, profileName string) (ruleset.Fragment, error)
}

// Store holds the currently-published Snapshot behind an atomic pointer.
// Load is lock-free and safe to call from any number of concurrent request
// handlers; each request should call Load exactly once and reuse the
// result for the rest of that request.
type Store struct {
	current atomic.Pointer[ruleset.Snapshot]
}

// NewStore returns a Store pre-populated with the empty Snapshot.
func NewStore() *Store {
	s := &Store{}
	s.current.Store(ruleset.Empty)
	return s
}

// Load returns the currently-published Snapshot.
func (s *Store) Load() *ruleset.Snapshot {
	return s.current.Load()
}

func (s *Store) publish(snap *ruleset.Snapshot) {
	s.current.Store(snap)
}

var (
	refreshTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ipfilter",
		Name:      "refresh_total",
		Help:      "Count of refresh cycles by outcome.",
	}, []string{"outcome"})

	snapshotVersion = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "ipfilter",
		Name:      "snapshot_version",
		Help:      "Version of the currently published snapshot.",
	})

	fetchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "ipfilter",
		Name:      "profile_fetch_duration_seconds",
		Help:      "Latency of a single profile fetch.",
		Buckets:   prometheus.DefBuckets,
	})
)

// Refresher periodically re-fetches every configured profile and publishes
// a merged Snapshot to Store.
type Refresher struct {
	services.Service

	fetcher        Fetcher
	store          *Store
	profiles       []string
	interval       time.Duration
	profileTimeout time.Duration

	nextVersion  uint64
	hasPublished bool
}

// New builds a Refresher. Call RefreshOnce synchronously before serving
// requests: the service started by StartAsync has no starting hook and
// refreshes only on each tick of interval, so it performs no initial refresh.
func New(fetcher Fetcher, store *Store, profiles []string, interval, profileTimeout time.Duration) *Refresher {
	r := &Refresher{
		fetcher:        fetcher,
		store:          store,
		profiles:       profiles,
		interval:       interval,
		profileTimeout: profileTimeout,
		nextVersion:    1,
	}
	r.Service = services.NewBasicService(nil, r.running, nil)
	return r
}

// RefreshOnce performs a single synchronous refresh cycle.
//
// Before any Snapshot has ever been published (the initial, bootstrap
// refresh), a partial success still publishes a Snapshot built from
// whatever profiles did fetch; RefreshOnce returns an error only when
// every profile failed.
//
// Once a Snapshot has been published, any individual fetch failure leaves
// that prior Snapshot untouched and does not bump the version: a transient
// failure on one of N profiles must never silently drop that profile's IP
// ranges, basic-auth entries, or shared tokens from the published rule set.
func (r *Refresher) RefreshOnce(ctx context.Context) error {
	fragments := make([]ruleset.Fragment, 0, len(r.profiles))
	failures := 0

	for _, name := range r.profiles {
		fetchCtx, cancel := context.WithTimeout(ctx, r.profileTimeout)
		start := time.Now()
		frag, err := r.fetcher.Fetch(fetchCtx, name)
		fetchDuration.Observe(time.Since(start).Seconds())
		cancel()

		if err != nil {
			failures++
			level.Warn(log.Logger).Log("msg", "profile fetch failed", "profile", name, "err", err)
			continue
		}
		fragments = append(fragments, frag)
	}

	if len(fragments) == 0 && len(r.profiles) > 0 {
		refreshTotal.WithLabelValues("failed").Inc()
		return fmt.Errorf("all %d profiles failed to fetch", len(r.profiles))
	}

	if failures > 0 && r.hasPublished {
		refreshTotal.WithLabelValues("retained").Inc()
		level.Warn(log.Logger).Log("msg", "refresh cycle had failures, retaining prior snapshot unchanged", "failures", failures, "version", r.store.Load().Version)
		return nil
	}

	b := ruleset.NewBuilder(r.nextVersion)
	for _, f := range fragments {
		b.AddFragment(f)
	}
	snap := b.Build()
	r.store.publish(snap)
	r.nextVersion++
	r.hasPublished = true
	snapshotVersion.Set(float64(snap.Version))

	if failures > 0 {
		refreshTotal.WithLabelValues("partial").Inc()
		level.Warn(log.Logger).Log("msg", "initial refresh published from a partial set of profiles", "failures", failures, "version", snap.Version)
	} else {
		refreshTotal.WithLabelValues("success").Inc()
		level.Debug(log.Logger).Log("msg", "refresh succeeded", "version", snap.Version, "profiles", len(r.profiles))
	}
	return nil
}

func (r *Refresher) running(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := r.RefreshOnce(ctx); err != nil {
				level.Warn(log.Logger).Log("msg", "refresh cycle produced no usable snapshot, retaining prior", "err", err)
			}
		}
	}
}
