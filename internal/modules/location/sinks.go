// README: Telemetry sinks for published fixes: Kafka stream and Postgres snapshots.
package location

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/segmentio/kafka-go"

	"ridelink/internal/modules/ride"
	"ridelink/internal/types"
)

// MessageWriter is the subset of *kafka.Writer the sink uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

type KafkaSink struct {
	writer  MessageWriter
	timeout time.Duration
}

func NewKafkaSink(w MessageWriter) *KafkaSink {
	return &KafkaSink{writer: w, timeout: 2 * time.Second}
}

type fixEvent struct {
	RideID   types.ID            `json:"rideId"`
	DriverID types.ID            `json:"driverId"`
	Location ride.DriverLocation `json:"location"`
}

// Record writes the fix keyed by ride id so one ride's fixes stay ordered
// within a partition.
func (k *KafkaSink) Record(ctx context.Context, driverID, rideID types.ID, loc ride.DriverLocation) error {
	b, err := json.Marshal(fixEvent{RideID: rideID, DriverID: driverID, Location: loc})
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, k.timeout)
	defer cancel()
	return k.writer.WriteMessages(ctx, kafka.Message{Key: []byte(rideID), Value: b, Time: loc.Timestamp})
}

// Execer is the subset of *pgxpool.Pool the snapshot sink uses.
type Execer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

// SnapshotSink appends fixes to location_snapshots for replay.
type SnapshotSink struct {
	db      Execer
	timeout time.Duration
}

func NewSnapshotSink(db Execer) *SnapshotSink {
	return &SnapshotSink{db: db, timeout: 2 * time.Second}
}

func (s *SnapshotSink) Record(ctx context.Context, driverID, rideID types.ID, loc ride.DriverLocation) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	_, err := s.db.Exec(ctx, `
		INSERT INTO location_snapshots (
			driver_id, ride_id, lat, lng, accuracy, speed, heading, recorded_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		string(driverID), string(rideID), loc.Lat, loc.Lng, loc.Accuracy, loc.Speed, loc.Heading, loc.Timestamp,
	)
	return err
}
