// README: Driver location sample intake.
package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"ridelink/internal/geo"
	"ridelink/internal/logger"
	"ridelink/internal/modules/location"
	"ridelink/internal/modules/matching"
	"ridelink/internal/types"
)

// flushDistanceM is how far a pushed sample must move from the previous one to
// be published to the tracked ride without waiting for the tracker's poll.
const flushDistanceM = 250

type LocationHandler struct {
	drivers  *DriverHandler
	matching *matching.Service
	log      *zap.Logger
}

func NewLocationHandler(drivers *DriverHandler, matchingSvc *matching.Service, log *zap.Logger) *LocationHandler {
	return &LocationHandler{drivers: drivers, matching: matchingSvc, log: logger.OrNop(log)}
}

type sampleReq struct {
	Lat       *float64  `json:"lat"`
	Lng       *float64  `json:"lng"`
	Timestamp time.Time `json:"timestamp"`
	Accuracy  *float64  `json:"accuracy"`
	Speed     *float64  `json:"speed"`
	Heading   *float64  `json:"heading"`
}

// Push feeds a device sample to the driver's tracker source and refreshes
// their matching position.
func (h *LocationHandler) Push(c *gin.Context) {
	ds, ok := h.drivers.driver(c)
	if !ok {
		return
	}
	var req sampleReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Lat == nil || req.Lng == nil {
		writeError(c, http.StatusBadRequest, "lat and lng are required")
		return
	}
	if req.Timestamp.IsZero() {
		req.Timestamp = time.Now().UTC()
	}
	sample := location.Sample{
		Lat:       *req.Lat,
		Lng:       *req.Lng,
		Timestamp: req.Timestamp,
		Accuracy:  req.Accuracy,
		Speed:     req.Speed,
		Heading:   req.Heading,
	}
	fix, err := sample.Fix()
	if err != nil {
		writeServiceError(c, err)
		return
	}
	if err := ds.Source.Push(sample); err != nil {
		writeServiceError(c, err)
		return
	}
	if latest, _ := ds.Source.Latest(); !latest.Timestamp.Equal(sample.Timestamp) {
		// Older than what the source already holds.
		c.Status(http.StatusAccepted)
		return
	}
	prev := ds.LastFix()
	ds.SetLastFix(fix)
	if prev != nil && geo.DistanceKm(prev.Point(), fix.Point())*1000 >= flushDistanceM {
		h.flush(c, ds)
	}

	err = h.matching.UpdatePosition(c.Request.Context(), ds.ActorID, sample.Point())
	if err != nil && !errors.Is(err, types.ErrNotFound) {
		h.log.Warn("matching position update failed", logger.DriverID(ds.ActorID), logger.Err(err))
	}
	c.Status(http.StatusAccepted)
}

func (h *LocationHandler) flush(c *gin.Context, ds *DriverSession) {
	if ds.Tracker == nil {
		return
	}
	rideID, ok := ds.Tracker.Tracking()
	if !ok {
		return
	}
	if err := ds.Tracker.Flush(c.Request.Context()); err != nil && !errors.Is(err, types.ErrNotTracking) {
		h.log.Debug("location flush failed", logger.RideID(rideID), logger.DriverID(ds.ActorID), logger.Err(err))
	}
}
