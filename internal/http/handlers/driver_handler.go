// README: Driver handlers: availability, search, accept/reject and trip progression.
package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"ridelink/internal/http/middleware"
	"ridelink/internal/logger"
	"ridelink/internal/modules/matching"
	"ridelink/internal/modules/ride"
	"ridelink/internal/types"
)

type DriverHandler struct {
	rides    *ride.Service
	matching *matching.Service
	sessions *SessionRegistry
	// watchCtx bounds the background watches started after an accept.
	watchCtx context.Context
	log      *zap.Logger
}

func NewDriverHandler(watchCtx context.Context, rides *ride.Service, matchingSvc *matching.Service, sessions *SessionRegistry, log *zap.Logger) *DriverHandler {
	return &DriverHandler{rides: rides, matching: matchingSvc, sessions: sessions, watchCtx: watchCtx, log: logger.OrNop(log)}
}

// driver resolves the caller's driver session, rejecting non-drivers.
func (h *DriverHandler) driver(c *gin.Context) (*DriverSession, bool) {
	if middleware.CallerRole(c) != string(ride.RoleDriver) {
		writeError(c, http.StatusForbidden, "driver role required")
		return nil, false
	}
	return h.sessions.Driver(types.ID(middleware.CallerUID(c))), true
}

type availabilityReq struct {
	Status      string    `json:"status"`
	Location    *pointReq `json:"currentLocation"`
	VehicleInfo string    `json:"vehicleInfo"`
	Name        string    `json:"name"`
	Phone       string    `json:"phone"`
}

func (h *DriverHandler) SetAvailability(c *gin.Context) {
	ds, ok := h.driver(c)
	if !ok {
		return
	}
	var req availabilityReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	a := matching.Availability{
		DriverID:    ds.ActorID,
		Status:      matching.AvailabilityStatus(req.Status),
		Verified:    middleware.CallerVerified(c),
		VehicleInfo: req.VehicleInfo,
	}
	if p, ok := req.Location.point(); ok {
		a.Location = &p
	} else if fix := ds.LastFix(); fix != nil {
		p := fix.Point()
		a.Location = &p
	}
	if err := h.matching.SetAvailability(c.Request.Context(), a); err != nil {
		writeServiceError(c, err)
		return
	}
	profile := ds.Profile()
	if req.Name != "" {
		profile.Name = req.Name
	}
	if req.Phone != "" {
		profile.Phone = req.Phone
	}
	if req.VehicleInfo != "" {
		profile.VehicleInfo = req.VehicleInfo
	}
	ds.SetProfile(profile)

	current, err := h.matching.Availability(c.Request.Context(), ds.ActorID)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, current)
}

func (h *DriverHandler) Search(c *gin.Context) {
	ds, ok := h.driver(c)
	if !ok {
		return
	}
	var radius float64
	if raw := c.Query("radius_km"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			writeError(c, http.StatusBadRequest, "invalid radius_km")
			return
		}
		radius = v
	}
	rides, err := h.matching.Search(c.Request.Context(), ds.ActorID, radius)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, map[string]any{"rides": rides})
}

func (h *DriverHandler) Accept(c *gin.Context) {
	h.transition(c, func(ctx context.Context, ds *DriverSession, id types.ID) (*ride.RideRequest, error) {
		r, err := h.rides.Accept(ctx, ds.Session, id)
		if err != nil {
			return nil, err
		}
		go h.watch(ds, id)
		return r, nil
	})
}

func (h *DriverHandler) Reject(c *gin.Context) {
	h.transition(c, func(ctx context.Context, ds *DriverSession, id types.ID) (*ride.RideRequest, error) {
		return h.rides.Reject(ctx, ds.Session, id)
	})
}

func (h *DriverHandler) Start(c *gin.Context) {
	h.transition(c, func(ctx context.Context, ds *DriverSession, id types.ID) (*ride.RideRequest, error) {
		return h.rides.Start(ctx, ds.Session, id)
	})
}

func (h *DriverHandler) Progress(c *gin.Context) {
	h.transition(c, func(ctx context.Context, ds *DriverSession, id types.ID) (*ride.RideRequest, error) {
		return h.rides.Progress(ctx, ds.Session, id)
	})
}

func (h *DriverHandler) Complete(c *gin.Context) {
	h.transition(c, func(ctx context.Context, ds *DriverSession, id types.ID) (*ride.RideRequest, error) {
		return h.rides.Complete(ctx, ds.Session, id)
	})
}

func (h *DriverHandler) transition(c *gin.Context, op func(ctx context.Context, ds *DriverSession, id types.ID) (*ride.RideRequest, error)) {
	ds, ok := h.driver(c)
	if !ok {
		return
	}
	id, ok := rideID(c)
	if !ok {
		return
	}
	r, err := op(c.Request.Context(), ds, id)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, r)
}

// watch releases the driver's session when the rider cancels.
func (h *DriverHandler) watch(ds *DriverSession, id types.ID) {
	err := h.rides.WatchActive(h.watchCtx, ds.Session)
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, types.ErrInvalidState) {
		h.log.Warn("active ride watch ended", logger.RideID(id), logger.DriverID(ds.ActorID), logger.Err(err))
	}
}
