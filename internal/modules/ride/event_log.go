// README: Append-only ride state event log (PostgreSQL, in-memory).
package ride

import (
	"context"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"

	"ridelink/internal/types"
)

type EventLog interface {
	AppendEvent(ctx context.Context, e *Event) error
	// ListEvents returns a ride's transitions in the order they were recorded.
	ListEvents(ctx context.Context, rideID types.ID) ([]Event, error)
}

type PostgresEventLog struct {
	db *pgxpool.Pool
}

func NewPostgresEventLog(db *pgxpool.Pool) *PostgresEventLog {
	return &PostgresEventLog{db: db}
}

func (l *PostgresEventLog) AppendEvent(ctx context.Context, e *Event) error {
	_, err := l.db.Exec(ctx, `
		INSERT INTO ride_events (
			ride_id, from_status, to_status, actor_id, created_at
		) VALUES ($1, $2, $3, $4, $5)`,
		string(e.RideID),
		string(e.FromStatus),
		string(e.ToStatus),
		toStringPtr(e.ActorID),
		e.CreatedAt,
	)
	return err
}

func (l *PostgresEventLog) ListEvents(ctx context.Context, rideID types.ID) ([]Event, error) {
	rows, err := l.db.Query(ctx, `
		SELECT ride_id, from_status, to_status, COALESCE(actor_id, ''), created_at
		FROM ride_events
		WHERE ride_id = $1
		ORDER BY id`, string(rideID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.RideID, &e.FromStatus, &e.ToStatus, &e.ActorID, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

type MemoryEventLog struct {
	mu     sync.Mutex
	events map[types.ID][]Event
}

func NewMemoryEventLog() *MemoryEventLog {
	return &MemoryEventLog{events: make(map[types.ID][]Event)}
}

func (l *MemoryEventLog) AppendEvent(_ context.Context, e *Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events[e.RideID] = append(l.events[e.RideID], *e)
	return nil
}

func (l *MemoryEventLog) ListEvents(_ context.Context, rideID types.ID) ([]Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Event, len(l.events[rideID]))
	copy(out, l.events[rideID])
	return out, nil
}

func toStringPtr[T ~string](v T) *string {
	if v == "" {
		return nil
	}
	s := string(v)
	return &s
}
