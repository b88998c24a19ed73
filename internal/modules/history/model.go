// README: Durable ride history record, a projection of the live ride.
package history

import (
	"time"

	"ridelink/internal/modules/ride"
	"ridelink/internal/types"
)

// Record field names follow the live ride document so both stores stay
// readable by the same consumers.
type Record struct {
	RideID           string      `firestore:"rideId" json:"rideId"`
	RiderID          string      `firestore:"riderId" json:"riderId"`
	RiderName        string      `firestore:"riderName" json:"riderName"`
	DriverID         string      `firestore:"driverId" json:"driverId,omitempty"`
	DriverName       string      `firestore:"driverName" json:"driverName,omitempty"`
	DriverPhone      string      `firestore:"driverPhone" json:"driverPhone,omitempty"`
	VehicleInfo      string      `firestore:"vehicleInfo" json:"vehicleInfo,omitempty"`
	Origin           types.Point `firestore:"origin" json:"origin"`
	Destination      types.Point `firestore:"destination" json:"destination"`
	OriginLabel      string      `firestore:"originLabel" json:"originLabel,omitempty"`
	DestinationLabel string      `firestore:"destinationLabel" json:"destinationLabel,omitempty"`
	Status           string      `firestore:"status" json:"status"`
	DistanceKm       float64     `firestore:"distanceKm" json:"distanceKm"`
	DurationSec      float64     `firestore:"durationSec" json:"durationSec"`
	TrafficFactor    float64     `firestore:"trafficFactor" json:"trafficFactor"`
	FareAmount       float64     `firestore:"fareAmount" json:"fareAmount"`
	Currency         string      `firestore:"currency" json:"currency"`

	RequestedAt     time.Time  `firestore:"requestedAt" json:"requestedAt"`
	AcceptedAt      *time.Time `firestore:"acceptedAt" json:"acceptedAt,omitempty"`
	RideStartedAt   *time.Time `firestore:"rideStartedAt" json:"rideStartedAt,omitempty"`
	RideCompletedAt *time.Time `firestore:"rideCompletedAt" json:"rideCompletedAt,omitempty"`
	CancelledAt     *time.Time `firestore:"cancelledAt" json:"cancelledAt,omitempty"`
	CancelledBy     string     `firestore:"cancelledBy" json:"cancelledBy,omitempty"`
	CancelReason    string     `firestore:"cancelReason" json:"cancelReason,omitempty"`
	RejectedAt      *time.Time `firestore:"rejectedAt" json:"rejectedAt,omitempty"`
	RejectedBy      string     `firestore:"rejectedBy" json:"rejectedBy,omitempty"`

	Rating   *int       `firestore:"rating" json:"rating,omitempty"`
	Feedback string     `firestore:"feedback" json:"feedback,omitempty"`
	RatedAt  *time.Time `firestore:"ratedAt" json:"ratedAt,omitempty"`

	UpdatedAt time.Time `firestore:"updatedAt" json:"updatedAt"`
}

// Entry pairs a stored record with its document id.
type Entry struct {
	DocID  string
	Record Record
}

func FromRide(r ride.RideRequest, at time.Time) Record {
	return Record{
		RideID:           string(r.ID),
		RiderID:          string(r.RiderID),
		RiderName:        r.RiderName,
		DriverID:         string(r.DriverID),
		DriverName:       r.DriverName,
		DriverPhone:      r.DriverPhone,
		VehicleInfo:      r.VehicleInfo,
		Origin:           r.Origin,
		Destination:      r.Destination,
		OriginLabel:      r.OriginLabel,
		DestinationLabel: r.DestinationLabel,
		Status:           string(r.Status),
		DistanceKm:       r.DistanceKm,
		DurationSec:      r.DurationSec,
		TrafficFactor:    r.TrafficFactor,
		FareAmount:       r.FareAmount,
		Currency:         r.Currency,
		RequestedAt:      r.RequestedAt,
		AcceptedAt:       r.AcceptedAt,
		RideStartedAt:    r.RideStartedAt,
		RideCompletedAt:  r.RideCompletedAt,
		CancelledAt:      r.CancelledAt,
		CancelledBy:      string(r.CancelledBy),
		CancelReason:     r.CancelReason,
		RejectedAt:       r.RejectedAt,
		RejectedBy:       string(r.RejectedBy),
		UpdatedAt:        at,
	}
}

// snapshotFields is the patch that makes a record match the live ride. Rating
// fields are left alone.
func (rec Record) snapshotFields() map[string]interface{} {
	return map[string]interface{}{
		"riderName":        rec.RiderName,
		"driverId":         rec.DriverID,
		"driverName":       rec.DriverName,
		"driverPhone":      rec.DriverPhone,
		"vehicleInfo":      rec.VehicleInfo,
		"originLabel":      rec.OriginLabel,
		"destinationLabel": rec.DestinationLabel,
		"status":           rec.Status,
		"distanceKm":       rec.DistanceKm,
		"durationSec":      rec.DurationSec,
		"trafficFactor":    rec.TrafficFactor,
		"fareAmount":       rec.FareAmount,
		"currency":         rec.Currency,
		"acceptedAt":       rec.AcceptedAt,
		"rideStartedAt":    rec.RideStartedAt,
		"rideCompletedAt":  rec.RideCompletedAt,
		"cancelledAt":      rec.CancelledAt,
		"cancelledBy":      rec.CancelledBy,
		"cancelReason":     rec.CancelReason,
		"rejectedAt":       rec.RejectedAt,
		"rejectedBy":       rec.RejectedBy,
		"updatedAt":        rec.UpdatedAt,
	}
}
