// README: Rider-facing ride handlers: quote, request, get, cancel, await, rate.
package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"ridelink/internal/http/middleware"
	"ridelink/internal/modules/ride"
	"ridelink/internal/types"
)

const maxAwait = 5 * time.Minute

type RideHandler struct {
	rides    *ride.Service
	sessions *SessionRegistry
}

func NewRideHandler(rides *ride.Service, sessions *SessionRegistry) *RideHandler {
	return &RideHandler{rides: rides, sessions: sessions}
}

type quoteReq struct {
	Origin      *pointReq `json:"origin"`
	Destination *pointReq `json:"destination"`
}

func (h *RideHandler) Quote(c *gin.Context) {
	var req quoteReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	origin, ok1 := req.Origin.point()
	dest, ok2 := req.Destination.point()
	if !ok1 || !ok2 {
		writeError(c, http.StatusBadRequest, "origin and destination are required")
		return
	}
	q, err := h.rides.Quote(c.Request.Context(), origin, dest)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, q)
}

type requestRideReq struct {
	RideID            string     `json:"rideId"`
	RiderName         string     `json:"riderName"`
	Origin            *pointReq  `json:"origin"`
	Destination       *pointReq  `json:"destination"`
	OriginLabel       string     `json:"originLabel"`
	DestinationLabel  string     `json:"destinationLabel"`
	ScheduledFor      *time.Time `json:"scheduledFor"`
	PreferredDriverID string     `json:"preferredDriverId"`
}

func (h *RideHandler) Request(c *gin.Context) {
	var req requestRideReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	origin, ok1 := req.Origin.point()
	dest, ok2 := req.Destination.point()
	if !ok1 || !ok2 {
		writeError(c, http.StatusBadRequest, "origin and destination are required")
		return
	}
	if req.RideID != "" && !isValidID(req.RideID) {
		writeError(c, http.StatusBadRequest, "invalid ride id")
		return
	}
	if middleware.CallerRole(c) == string(ride.RoleDriver) {
		writeError(c, http.StatusForbidden, "drivers cannot request rides")
		return
	}
	sess := h.sessions.Rider(types.ID(middleware.CallerUID(c)))
	r, err := h.rides.Request(c.Request.Context(), sess, ride.RequestCommand{
		RideID:            types.ID(req.RideID),
		RiderName:         req.RiderName,
		Origin:            origin,
		Destination:       dest,
		OriginLabel:       req.OriginLabel,
		DestinationLabel:  req.DestinationLabel,
		ScheduledFor:      req.ScheduledFor,
		PreferredDriverID: types.ID(req.PreferredDriverID),
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, r)
}

func (h *RideHandler) Get(c *gin.Context) {
	id, ok := rideID(c)
	if !ok {
		return
	}
	r, err := h.rides.Get(c.Request.Context(), id)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, r)
}

// Events returns the ride's status history to its parties.
func (h *RideHandler) Events(c *gin.Context) {
	id, ok := rideID(c)
	if !ok {
		return
	}
	sess := h.sessions.For(types.ID(middleware.CallerUID(c)), middleware.CallerRole(c))
	events, err := h.rides.Timeline(c.Request.Context(), sess, id)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"events": events})
}

type cancelReq struct {
	Reason string `json:"reason"`
}

// Cancel is open to both parties; the caller's role claim picks the session.
func (h *RideHandler) Cancel(c *gin.Context) {
	id, ok := rideID(c)
	if !ok {
		return
	}
	var req cancelReq
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, http.StatusBadRequest, "invalid json")
			return
		}
	}
	sess := h.sessions.For(types.ID(middleware.CallerUID(c)), middleware.CallerRole(c))
	r, err := h.rides.Cancel(c.Request.Context(), sess, id, req.Reason)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, r)
}

// Await blocks until the ride leaves requested or the timeout query
// parameter (Go duration, capped) passes.
func (h *RideHandler) Await(c *gin.Context) {
	id, ok := rideID(c)
	if !ok {
		return
	}
	var timeout time.Duration
	if raw := c.Query("timeout"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			writeError(c, http.StatusBadRequest, "invalid timeout")
			return
		}
		timeout = min(d, maxAwait)
	}
	r, err := h.rides.AwaitAcceptance(c.Request.Context(), id, timeout)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, r)
}

type rateReq struct {
	Stars    int    `json:"stars"`
	Feedback string `json:"feedback"`
}

func (h *RideHandler) Rate(c *gin.Context) {
	id, ok := rideID(c)
	if !ok {
		return
	}
	var req rateReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	sess := h.sessions.Rider(types.ID(middleware.CallerUID(c)))
	if err := h.rides.Rate(c.Request.Context(), sess, id, req.Stars, req.Feedback); err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, map[string]any{"rideId": id, "rating": req.Stars})
}
