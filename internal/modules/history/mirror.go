// README: Eventually-consistent history mirror with a retried pending queue.
package history

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"ridelink/internal/logger"
	"ridelink/internal/modules/ride"
	"ridelink/internal/observability"
	"ridelink/internal/retry"
	"ridelink/internal/types"
)

// Mirror keeps the durable history in step with the live ride store. Every
// write is a full snapshot of the ride, so the newest pending snapshot is the
// only one worth retrying. Snapshots from an earlier lifecycle stage than one
// already seen are dropped, so a late writer cannot undo a terminal status.
type Mirror struct {
	store   Store
	retrier *retry.Retrier
	log     *zap.Logger
	now     func() time.Time

	// writeMu orders snapshot writes so a retried snapshot never lands after
	// a newer one.
	writeMu sync.Mutex

	mu      sync.Mutex
	docs    map[types.ID]string
	pending map[types.ID]ride.RideRequest
	// seen holds the furthest stage mirrored per ride, guarded by writeMu.
	seen map[types.ID]progress
}

type progress struct {
	stage int
	at    time.Time
}

// terminalRetention is how long a finished ride's stage is remembered to
// turn away late snapshots.
const terminalRetention = 10 * time.Minute

// stage orders statuses along the lifecycle; every terminal status is last.
func stage(s ride.Status) int {
	switch s {
	case ride.StatusAccepted:
		return 1
	case ride.StatusStarted:
		return 2
	case ride.StatusInProgress:
		return 3
	}
	if s.Terminal() {
		return 4
	}
	return 0
}

func NewMirror(store Store, retrier *retry.Retrier, log *zap.Logger) *Mirror {
	return &Mirror{
		store:   store,
		retrier: retrier,
		log:     logger.OrNop(log),
		now:     time.Now,
		docs:    make(map[types.ID]string),
		pending: make(map[types.ID]ride.RideRequest),
		seen:    make(map[types.ID]progress),
	}
}

// Record appends the history document for a new ride.
func (m *Mirror) Record(ctx context.Context, r ride.RideRequest) {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	if !m.admit(r) {
		return
	}
	docID, err := m.store.Append(ctx, FromRide(r, m.now()))
	if err != nil {
		m.failed(r, err)
		return
	}
	m.mu.Lock()
	m.docs[r.ID] = docID
	m.mu.Unlock()
}

// Sync patches the history document after a transition. Failures are queued.
func (m *Mirror) Sync(ctx context.Context, r ride.RideRequest) {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	if !m.admit(r) {
		return
	}
	if err := m.writeSnapshot(ctx, r); err != nil {
		m.failed(r, err)
		return
	}
	m.settled(r.ID)
}

// Reconcile writes the terminal snapshot. It is a Sync that also clears the
// document id cache once the ride can no longer change.
func (m *Mirror) Reconcile(ctx context.Context, r ride.RideRequest) {
	m.Sync(ctx, r)
	if !r.Status.Terminal() {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, queued := m.pending[r.ID]; !queued {
		delete(m.docs, r.ID)
	}
}

func (m *Mirror) Rate(ctx context.Context, rideID types.ID, stars int, feedback string) error {
	docID, err := m.resolve(ctx, rideID)
	if err != nil {
		return err
	}
	ratedAt := m.now()
	return m.store.Patch(ctx, docID, map[string]interface{}{
		"rating":   stars,
		"feedback": feedback,
		"ratedAt":  &ratedAt,
	})
}

// Pending reports how many rides still have an unsynced snapshot.
func (m *Mirror) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// Flush retries every queued snapshot with backoff. Snapshots that still fail
// stay queued for the next flush.
func (m *Mirror) Flush(ctx context.Context) {
	m.mu.Lock()
	ids := make([]types.ID, 0, len(m.pending))
	for id := range m.pending {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		err := m.retrier.Execute(ctx, func(ctx context.Context) error {
			m.writeMu.Lock()
			defer m.writeMu.Unlock()

			m.mu.Lock()
			r, ok := m.pending[id]
			m.mu.Unlock()
			if !ok {
				return nil
			}
			if err := m.writeSnapshot(ctx, r); err != nil {
				return err
			}
			m.settled(id)
			return nil
		})
		if err != nil {
			m.log.Warn("history reconciliation still failing", logger.RideID(id), logger.Err(err))
		}
	}
}

// Run flushes the pending queue every interval until ctx is done.
func (m *Mirror) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if m.Pending() > 0 {
				m.Flush(ctx)
			}
			m.forget(m.now().Add(-terminalRetention))
		}
	}
}

// writeSnapshot patches the ride's document, appending it first if the
// original append never landed. Callers hold writeMu.
func (m *Mirror) writeSnapshot(ctx context.Context, r ride.RideRequest) error {
	rec := FromRide(r, m.now())
	docID, err := m.resolve(ctx, r.ID)
	if errors.Is(err, types.ErrNotFound) {
		docID, err = m.store.Append(ctx, rec)
		if err != nil {
			return err
		}
		m.mu.Lock()
		m.docs[r.ID] = docID
		m.mu.Unlock()
		return nil
	}
	if err != nil {
		return err
	}
	return m.store.Patch(ctx, docID, rec.snapshotFields())
}

func (m *Mirror) resolve(ctx context.Context, rideID types.ID) (string, error) {
	m.mu.Lock()
	docID, ok := m.docs[rideID]
	m.mu.Unlock()
	if ok {
		return docID, nil
	}

	entries, err := m.store.QueryByField(ctx, "rideId", string(rideID))
	if err != nil {
		return "", err
	}
	if len(entries) == 0 {
		return "", fmt.Errorf("history for ride %s: %w", rideID, types.ErrNotFound)
	}
	docID = entries[0].DocID
	m.mu.Lock()
	m.docs[rideID] = docID
	m.mu.Unlock()
	return docID, nil
}

// admit records r as the newest snapshot of its ride unless a later stage
// was already mirrored. Callers hold writeMu.
func (m *Mirror) admit(r ride.RideRequest) bool {
	next := stage(r.Status)
	if prev, ok := m.seen[r.ID]; ok && next < prev.stage {
		m.log.Debug("stale history snapshot skipped", logger.RideID(r.ID),
			logger.String("status", string(r.Status)), logger.Int("seen_stage", prev.stage))
		return false
	}
	m.seen[r.ID] = progress{stage: next, at: m.now()}
	return true
}

// forget drops finished rides last seen before cutoff.
func (m *Mirror) forget(cutoff time.Time) {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	for id, p := range m.seen {
		if p.stage == stage(ride.StatusCompleted) && p.at.Before(cutoff) {
			delete(m.seen, id)
		}
	}
}

func (m *Mirror) failed(r ride.RideRequest, err error) {
	observability.HistoryFailures.Inc()
	m.log.Warn("history mirror write failed, queued for retry",
		logger.RideID(r.ID), logger.String("status", string(r.Status)), logger.Err(err))

	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending[r.ID] = r
	observability.HistoryPending.Set(float64(len(m.pending)))
}

func (m *Mirror) settled(id types.ID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pending, id)
	observability.HistoryPending.Set(float64(len(m.pending)))
}
