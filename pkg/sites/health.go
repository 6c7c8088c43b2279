package sites

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/labmesh-io/labmesh-engine/pkg/logging"
	"github.com/labmesh-io/labmesh-engine/pkg/models"
)

// Snapshot is one immutable observation of every site's availability.
// The health monitor is the sole writer; it swaps the whole snapshot
// atomically so readers never observe a half-updated state.
type Snapshot struct {
	Statuses map[SiteID]models.SiteStatus
	TakenAt  time.Time
}

// Available reports whether a site was reachable at snapshot time.
// Sites absent from the snapshot are treated as unavailable.
func (s *Snapshot) Available(site SiteID) bool {
	if s == nil {
		return false
	}
	status, ok := s.Statuses[site]
	return ok && status.Available
}

// AvailableDataSites returns the reachable business-data sites in failover
// priority order. The global site is never included.
func (s *Snapshot) AvailableDataSites() []SiteID {
	var out []SiteID
	for _, site := range DataSites() {
		if s.Available(site) {
			out = append(out, site)
		}
	}
	return out
}

// ConnectionSource provides the pools the monitor probes. Satisfied by
// *PoolManager; faked in tests.
type ConnectionSource interface {
	Get(ctx context.Context, site SiteID) (PoolConnector, error)
	SiteIDs() []SiteID
}

// SnapshotSource is the read side of the health monitor.
type SnapshotSource interface {
	Snapshot() *Snapshot
}

// HealthMonitor probes every known site on a fixed interval and publishes the
// result as an atomically swapped snapshot. It is constructed once at process
// start and passed to consumers; its loop has an explicit Start/Stop
// lifecycle rather than a constructor side effect.
type HealthMonitor struct {
	src          ConnectionSource
	interval     time.Duration
	probeTimeout time.Duration
	logger       *zap.Logger

	snapshot atomic.Pointer[Snapshot]
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewHealthMonitor creates a monitor over the given connection source.
// Until the first probe completes, every site is assumed available so that
// startup traffic is not rejected before the first cycle.
func NewHealthMonitor(src ConnectionSource, interval, probeTimeout time.Duration, logger *zap.Logger) *HealthMonitor {
	m := &HealthMonitor{
		src:          src,
		interval:     interval,
		probeTimeout: probeTimeout,
		logger:       logger,
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
	}

	initial := &Snapshot{Statuses: make(map[SiteID]models.SiteStatus), TakenAt: time.Now()}
	for _, site := range src.SiteIDs() {
		initial.Statuses[site] = models.SiteStatus{
			Site:        string(site),
			Available:   true,
			LastChecked: initial.TakenAt,
		}
	}
	m.snapshot.Store(initial)
	return m
}

// Start launches the probe loop: one eager probe immediately, then one per
// interval until Stop is called or ctx is cancelled.
func (m *HealthMonitor) Start(ctx context.Context) {
	go func() {
		defer close(m.done)

		m.ProbeAll(ctx)

		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				m.ProbeAll(ctx)
			case <-m.stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop terminates the probe loop and waits for it to exit. Idempotent.
func (m *HealthMonitor) Stop() {
	m.stopOnce.Do(func() {
		close(m.stop)
	})
	<-m.done
}

// Snapshot returns the latest availability snapshot. Never nil.
func (m *HealthMonitor) Snapshot() *Snapshot {
	return m.snapshot.Load()
}

// ProbeAll probes every site once and swaps in a fresh snapshot.
// It is the sole writer of the snapshot.
func (m *HealthMonitor) ProbeAll(ctx context.Context) {
	next := &Snapshot{
		Statuses: make(map[SiteID]models.SiteStatus, len(m.src.SiteIDs())),
		TakenAt:  time.Now(),
	}

	for _, site := range m.src.SiteIDs() {
		status := models.SiteStatus{Site: string(site), LastChecked: time.Now()}

		probeCtx, cancel := context.WithTimeout(ctx, m.probeTimeout)
		err := m.probe(probeCtx, site)
		cancel()

		if err != nil {
			status.Available = false
			status.Error = logging.SanitizeError(err)
			m.logger.Warn("site is down",
				zap.String("site", string(site)),
				zap.String("error", status.Error),
			)
		} else {
			status.Available = true
			m.logger.Debug("site is healthy", zap.String("site", string(site)))
		}
		next.Statuses[site] = status
	}

	m.snapshot.Store(next)
}

func (m *HealthMonitor) probe(ctx context.Context, site SiteID) error {
	conn, err := m.src.Get(ctx, site)
	if err != nil {
		return err
	}
	return conn.Ping(ctx)
}
