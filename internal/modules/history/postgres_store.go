// README: Ride history in PostgreSQL (ride_history table).
package history

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"ridelink/internal/types"
)

// columns maps record field names to ride_history columns. Only these fields
// can be queried or patched.
var columns = map[string]string{
	"rideId":           "ride_id",
	"riderId":          "rider_id",
	"riderName":        "rider_name",
	"driverId":         "driver_id",
	"driverName":       "driver_name",
	"driverPhone":      "driver_phone",
	"vehicleInfo":      "vehicle_info",
	"originLabel":      "origin_label",
	"destinationLabel": "destination_label",
	"status":           "status",
	"distanceKm":       "distance_km",
	"durationSec":      "duration_sec",
	"trafficFactor":    "traffic_factor",
	"fareAmount":       "fare_amount",
	"currency":         "currency",
	"requestedAt":      "requested_at",
	"acceptedAt":       "accepted_at",
	"rideStartedAt":    "ride_started_at",
	"rideCompletedAt":  "ride_completed_at",
	"cancelledAt":      "cancelled_at",
	"cancelledBy":      "cancelled_by",
	"cancelReason":     "cancel_reason",
	"rejectedAt":       "rejected_at",
	"rejectedBy":       "rejected_by",
	"rating":           "rating",
	"feedback":         "feedback",
	"ratedAt":          "rated_at",
	"updatedAt":        "updated_at",
}

const selectColumns = `id, ride_id, rider_id, rider_name, driver_id, driver_name, driver_phone, vehicle_info,
	origin_lat, origin_lng, destination_lat, destination_lng, origin_label, destination_label,
	status, distance_km, duration_sec, traffic_factor, fare_amount, currency,
	requested_at, accepted_at, ride_started_at, ride_completed_at, cancelled_at, cancelled_by, cancel_reason,
	rejected_at, rejected_by, rating, feedback, rated_at, updated_at`

type PostgresStore struct {
	db *pgxpool.Pool
}

func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Append(ctx context.Context, rec Record) (string, error) {
	id := uuid.NewString()
	_, err := s.db.Exec(ctx, `
		INSERT INTO ride_history (
			id, ride_id, rider_id, rider_name, driver_id, driver_name, driver_phone, vehicle_info,
			origin_lat, origin_lng, destination_lat, destination_lng, origin_label, destination_label,
			status, distance_km, duration_sec, traffic_factor, fare_amount, currency,
			requested_at, accepted_at, ride_started_at, ride_completed_at, cancelled_at, cancelled_by, cancel_reason,
			rejected_at, rejected_by, rating, feedback, rated_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8,
			$9, $10, $11, $12, $13, $14,
			$15, $16, $17, $18, $19, $20,
			$21, $22, $23, $24, $25, $26, $27,
			$28, $29, $30, $31, $32, $33
		)`,
		id, rec.RideID, rec.RiderID, rec.RiderName, rec.DriverID, rec.DriverName, rec.DriverPhone, rec.VehicleInfo,
		rec.Origin.Lat, rec.Origin.Lng, rec.Destination.Lat, rec.Destination.Lng, rec.OriginLabel, rec.DestinationLabel,
		rec.Status, rec.DistanceKm, rec.DurationSec, rec.TrafficFactor, rec.FareAmount, rec.Currency,
		rec.RequestedAt, rec.AcceptedAt, rec.RideStartedAt, rec.RideCompletedAt, rec.CancelledAt, rec.CancelledBy, rec.CancelReason,
		rec.RejectedAt, rec.RejectedBy, rec.Rating, rec.Feedback, rec.RatedAt, rec.UpdatedAt,
	)
	if err != nil {
		return "", fmt.Errorf("append history %s: %w", rec.RideID, err)
	}
	return id, nil
}

func (s *PostgresStore) QueryByField(ctx context.Context, field string, value interface{}) ([]Entry, error) {
	col, ok := columns[field]
	if !ok {
		return nil, fmt.Errorf("%w: unknown history field %q", types.ErrInvalidParameter, field)
	}
	rows, err := s.db.Query(ctx, `SELECT `+selectColumns+` FROM ride_history WHERE `+col+` = $1 ORDER BY requested_at`, value)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		r := &e.Record
		err := rows.Scan(
			&e.DocID, &r.RideID, &r.RiderID, &r.RiderName, &r.DriverID, &r.DriverName, &r.DriverPhone, &r.VehicleInfo,
			&r.Origin.Lat, &r.Origin.Lng, &r.Destination.Lat, &r.Destination.Lng, &r.OriginLabel, &r.DestinationLabel,
			&r.Status, &r.DistanceKm, &r.DurationSec, &r.TrafficFactor, &r.FareAmount, &r.Currency,
			&r.RequestedAt, &r.AcceptedAt, &r.RideStartedAt, &r.RideCompletedAt, &r.CancelledAt, &r.CancelledBy, &r.CancelReason,
			&r.RejectedAt, &r.RejectedBy, &r.Rating, &r.Feedback, &r.RatedAt, &r.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Patch updates the named fields. origin and destination expand to their
// coordinate columns.
func (s *PostgresStore) Patch(ctx context.Context, docID string, fields map[string]interface{}) error {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	sets := make([]string, 0, len(keys))
	args := make([]interface{}, 0, len(keys)+1)
	add := func(col string, v interface{}) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	for _, k := range keys {
		v := fields[k]
		switch k {
		case "origin", "destination":
			p, ok := v.(types.Point)
			if !ok {
				return fmt.Errorf("%w: %s must be a point", types.ErrInvalidParameter, k)
			}
			add(k+"_lat", p.Lat)
			add(k+"_lng", p.Lng)
			continue
		}
		col, ok := columns[k]
		if !ok {
			return fmt.Errorf("%w: unknown history field %q", types.ErrInvalidParameter, k)
		}
		add(col, v)
	}
	if len(sets) == 0 {
		return nil
	}

	args = append(args, docID)
	tag, err := s.db.Exec(ctx,
		fmt.Sprintf(`UPDATE ride_history SET %s WHERE id = $%d`, strings.Join(sets, ", "), len(args)),
		args...)
	if err != nil {
		return fmt.Errorf("patch history %s: %w", docID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("history %s: %w", docID, types.ErrNotFound)
	}
	return nil
}
