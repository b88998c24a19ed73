// README: Entry point; loads config, wires stores and services, starts HTTP server and background workers.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"ridelink/internal/config"
	httptransport "ridelink/internal/http"
	"ridelink/internal/http/handlers"
	"ridelink/internal/infra"
	"ridelink/internal/logger"
	"ridelink/internal/maps"
	"ridelink/internal/modules/history"
	"ridelink/internal/modules/location"
	"ridelink/internal/modules/matching"
	"ridelink/internal/modules/notify"
	"ridelink/internal/modules/pricing"
	"ridelink/internal/modules/ride"
	"ridelink/internal/retry"
	"ridelink/internal/types"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	zl, err := logger.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = zl.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, zl); err != nil {
		zl.Fatal("ridelink-api exited", logger.Err(err))
	}
}

func run(ctx context.Context, cfg config.Config, zl *zap.Logger) error {
	if cfg.Firebase.ProjectID == "" {
		return errors.New("RIDELINK_FIREBASE_PROJECT_ID is required")
	}
	app, err := infra.NewFirebaseApp(ctx, cfg.Firebase.ProjectID, cfg.Firebase.CredentialsFile, cfg.Firebase.DatabaseURL)
	if err != nil {
		return err
	}
	rtdb, err := app.Database(ctx)
	if err != nil {
		return fmt.Errorf("firebase RTDB client: %w", err)
	}
	fcm, err := app.Messaging(ctx)
	if err != nil {
		return fmt.Errorf("firebase messaging client: %w", err)
	}
	verifier, err := infra.NewFirebaseVerifier(ctx, app)
	if err != nil {
		return err
	}

	dbPool, err := infra.NewDB(ctx, cfg.DB.DSN)
	if err != nil {
		return err
	}
	defer dbPool.Close()

	redisClient, err := infra.NewRedis(ctx, cfg.Redis.Addr)
	if err != nil {
		return err
	}
	defer redisClient.Close()

	routes, err := maps.NewRouteService(cfg.Maps.APIKey)
	if err != nil {
		return err
	}
	tz, err := time.LoadLocation(cfg.Pricing.TimeZone)
	if err != nil {
		return fmt.Errorf("pricing time zone: %w", err)
	}
	fallbackRates := pricing.Rates{
		BaseFare:    cfg.Pricing.BaseFare,
		PerKm:       cfg.Pricing.PerKm,
		PerMinute:   cfg.Pricing.PerMinute,
		MinimumFare: cfg.Pricing.MinimumFare,
		Tolls:       cfg.Pricing.Tolls,
		Currency:    cfg.Pricing.Currency,
	}
	pricingSvc := pricing.NewService(pricing.NewPostgresRates(dbPool, "default", fallbackRates), routes, tz, zl)

	var (
		store ride.LiveStore
		avail matching.AvailabilityStore
	)
	switch cfg.LiveStore.Backend {
	case "memory":
		store = ride.NewMemoryStore()
		avail = matching.NewMemoryAvailability()
	default:
		store = ride.NewFirebaseStore(rtdb, cfg.LiveStore.PollInterval, zl)
		avail = matching.NewFirebaseAvailability(rtdb, cfg.Matching.PollInterval, zl)
	}

	matchingSvc := matching.NewService(store, avail,
		matching.NewRedisRejections(redisClient, cfg.Matching.RejectionWindow),
		cfg.Matching, zl,
		matching.WithIndex(matching.NewRedisIndex(redisClient)),
	)

	var historyStore history.Store
	switch cfg.History.Backend {
	case "postgres":
		historyStore = history.NewPostgresStore(dbPool)
	default:
		fs, err := app.Firestore(ctx)
		if err != nil {
			return fmt.Errorf("firestore client: %w", err)
		}
		defer fs.Close()
		historyStore = history.NewFirestoreStore(fs, cfg.History.Collection)
	}
	retryCfg := retry.DefaultConfig()
	retryCfg.MaxRetries = cfg.History.RetryAttempts
	retryCfg.BaseDelay = cfg.History.RetryBase
	retryCfg.MaxDelay = cfg.History.RetryMax
	retrier := retry.New(retryCfg, zl)
	mirror := history.NewMirror(historyStore, retrier, zl)

	tokens := notify.NewRTDBTokens(rtdb)
	dispatcher := notify.NewFCMDispatcher(fcm, tokens, zl)
	defer dispatcher.Wait()

	rides := ride.NewService(ride.Deps{
		Store:      store,
		Quoter:     pricingSvc,
		History:    mirror,
		Notifier:   dispatcher,
		Events:     ride.NewPostgresEventLog(dbPool),
		Rejections: matchingSvc,
		Drivers:    matchingSvc,
		Log:        zl,
	}, ride.Config{RadiusKm: cfg.Matching.RadiusKm, AcceptTimeout: cfg.Lifecycle.AcceptTimeout})

	sinks := []location.Sink{location.NewSnapshotSink(dbPool)}
	if len(cfg.Kafka.Brokers) > 0 {
		writer := infra.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		defer writer.Close()
		sinks = append(sinks, location.NewKafkaSink(writer))
	}
	trackerCfg := location.Config{
		Interval:        cfg.Tracking.Interval,
		MinDistanceM:    cfg.Tracking.MinDistanceM,
		PollInterval:    cfg.Tracking.PollInterval,
		AvgSpeedKmh:     cfg.Tracking.AvgSpeedKmh,
		ArrivalRadiusKm: cfg.Tracking.ArrivalRadiusKm,
	}
	newTracker := func(driverID types.ID, src location.PositionSource) *location.Tracker {
		opts := []location.Option{
			location.WithAdvancer(func(ctx context.Context, rideID, driverID types.ID) error {
				_, err := rides.MarkInProgress(ctx, rideID, driverID)
				return err
			}),
			location.WithSinks(sinks...),
			location.WithNotifier(dispatcher),
			location.WithLogger(zl),
		}
		if cfg.Tracking.RouteETA {
			opts = append(opts, location.WithRouter(routes))
		}
		return location.NewTracker(driverID, src, store, trackerCfg, opts...)
	}

	go mirror.Run(ctx, cfg.History.RetryInterval)

	router := httptransport.NewRouter(ctx, httptransport.RouterDeps{
		Rides:    rides,
		Matching: matchingSvc,
		Sessions: handlers.NewSessionRegistry(newTracker),
		Tokens:   tokens,
		Verifier: verifier,
		Log:      zl,
	})
	return httptransport.NewServer(cfg.HTTP.Addr, router, zl).Run(ctx)
}
