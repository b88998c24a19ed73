// README: HTTP router registration.
package http

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"ridelink/internal/http/handlers"
	"ridelink/internal/http/middleware"
	"ridelink/internal/infra"
	"ridelink/internal/modules/matching"
	"ridelink/internal/modules/notify"
	"ridelink/internal/modules/ride"
)

type RouterDeps struct {
	Rides    *ride.Service
	Matching *matching.Service
	Sessions *handlers.SessionRegistry
	Tokens   notify.TokenStore
	Verifier infra.TokenVerifier
	Log      *zap.Logger
}

// NewRouter builds the gin engine. ctx bounds background work started by
// handlers, such as the watch that follows a driver's accepted ride.
func NewRouter(ctx context.Context, deps RouterDeps) *gin.Engine {
	r := gin.New()
	r.Use(middleware.Recovery(deps.Log), middleware.Logging(deps.Log), middleware.Metrics())

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api", middleware.Auth(deps.Verifier))

	rideHandler := handlers.NewRideHandler(deps.Rides, deps.Sessions)
	api.POST("/rides/quote", rideHandler.Quote)
	api.POST("/rides", rideHandler.Request)
	api.GET("/rides/:id", rideHandler.Get)
	api.GET("/rides/:id/events", rideHandler.Events)
	api.POST("/rides/:id/cancel", rideHandler.Cancel)
	api.GET("/rides/:id/await", rideHandler.Await)
	api.POST("/rides/:id/rating", rideHandler.Rate)

	driverHandler := handlers.NewDriverHandler(ctx, deps.Rides, deps.Matching, deps.Sessions, deps.Log)
	api.PUT("/drivers/me/availability", driverHandler.SetAvailability)
	api.GET("/drivers/me/rides", driverHandler.Search)
	api.POST("/drivers/me/rides/:id/accept", driverHandler.Accept)
	api.POST("/drivers/me/rides/:id/reject", driverHandler.Reject)
	api.POST("/drivers/me/rides/:id/start", driverHandler.Start)
	api.POST("/drivers/me/rides/:id/progress", driverHandler.Progress)
	api.POST("/drivers/me/rides/:id/complete", driverHandler.Complete)

	locationHandler := handlers.NewLocationHandler(driverHandler, deps.Matching, deps.Log)
	api.POST("/drivers/me/location", locationHandler.Push)

	if deps.Tokens != nil {
		deviceHandler := handlers.NewDeviceHandler(deps.Tokens)
		api.PUT("/me/device-token", deviceHandler.Register)
	}
	return r
}
