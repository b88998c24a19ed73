// README: Driver availability and ranked ride candidates.
package matching

import (
	"time"

	"ridelink/internal/modules/ride"
	"ridelink/internal/types"
)

type AvailabilityStatus string

const (
	StatusAvailable   AvailabilityStatus = "available"
	StatusUnavailable AvailabilityStatus = "unavailable"
)

// Availability is written only by the driver's own client.
type Availability struct {
	DriverID    types.ID           `json:"driverId"`
	Status      AvailabilityStatus `json:"status"`
	Verified    bool               `json:"verified"`
	Location    *types.Point       `json:"currentLocation,omitempty"`
	VehicleInfo string             `json:"vehicleInfo,omitempty"`
	UpdatedAt   time.Time          `json:"updatedAt"`
}

// Eligible drivers are offered rides.
func (a Availability) Eligible() bool {
	return a.Status == StatusAvailable && a.Verified && a.Location != nil && a.Location.Valid()
}

type Candidate struct {
	Ride       ride.RideRequest `json:"ride"`
	DistanceKm float64          `json:"distanceKm"`
}
