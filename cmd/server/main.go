package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"rollcall/internal/credential/issuer"
	"rollcall/internal/eventchannel"
	"rollcall/internal/events"
	"rollcall/internal/geo"
	"rollcall/internal/jwt_token"
	"rollcall/internal/notification"
	"rollcall/internal/platform/config"
	"rollcall/internal/platform/httpserver"
	"rollcall/internal/platform/logger"
	"rollcall/internal/platform/metrics"
	platformredis "rollcall/internal/platform/redis"
	"rollcall/internal/redemption"
	pgstore "rollcall/internal/redemption/store/postgres"
	httptransport "rollcall/internal/transport/http"
)

const (
	jwtIssuer   = "rollcall"
	jwtAudience = "stations"
)

// main wires high-level dependencies, exposes the HTTP router, and keeps the
// server lifecycle small. Business logic lives in internal services packages.
func main() {
	cfg := config.FromEnv()
	log := logger.New()

	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()

	boundary := geo.Boundary{
		Name:         cfg.Boundary.Tag,
		Center:       geo.Point{Latitude: cfg.Boundary.Latitude, Longitude: cfg.Boundary.Longitude},
		RadiusMeters: cfg.Boundary.RadiusMeters,
	}

	// Attendance store: Postgres when configured, in-memory otherwise.
	var store redemption.Store
	if cfg.Postgres.URL != "" {
		db, err := openPostgres(ctx, cfg.Postgres)
		if err != nil {
			log.Error("attendance store unavailable", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		store = pgstore.New(db)
		log.Info("attendance store ready", "backend", "postgres")
	} else {
		store = redemption.NewInMemoryStore()
		log.Warn("no postgres configured, attendance records are not durable")
	}

	// Push transport. Without NATS the service still issues and redeems;
	// dashboards just see nothing live.
	var publisher events.Publisher = events.NoopPublisher{}
	if cfg.NATS.URL != "" {
		pub, err := events.NewNATSPublisher(cfg.NATS.URL)
		if err != nil {
			log.Error("event publisher unavailable", "error", err)
			os.Exit(1)
		}
		defer pub.Close()
		publisher = pub
	}

	// Durable notification escalation via Redis when configured.
	var escalation notification.EscalationStore
	redisClient, err := platformredis.New(cfg.Redis)
	if err != nil {
		log.Error("redis unavailable", "error", err)
		os.Exit(1)
	}
	if redisClient != nil {
		defer redisClient.Close()
		escalation = notification.NewRedisEscalationStore(redisClient.Client)
		log.Info("notification escalation ready", "backend", "redis")
	}

	feed := notification.NewRouter(notification.Config{
		DedupWindow:  cfg.Feed.DedupWindow,
		FeedCapacity: cfg.Feed.Capacity,
		Retention:    cfg.Feed.Retention,
	}, escalation, log)

	iss := issuer.New(issuer.Config{
		BoundaryTag: cfg.Boundary.Tag,
		Station:     cfg.Issuer.Station,
		TTL:         cfg.Issuer.TTL,
	}, log, issuer.WithPublisher(publisher))

	redemptionSvc := redemption.NewService(redemption.Config{Boundary: boundary}, store, log,
		redemption.WithPublisher(publisher))

	// The event channel feeds the notification router from the push
	// transport; the issuer's own lifecycle events come back through the
	// same path as everyone else's.
	var channel *eventchannel.Channel
	if cfg.NATS.URL != "" {
		channel = eventchannel.New(eventchannel.Config{
			URL:         cfg.NATS.URL,
			ProbeURL:    cfg.Channel.ProbeURL,
			BackoffBase: cfg.Channel.BackoffBase,
			BackoffCap:  cfg.Channel.BackoffCap,
			MaxAttempts: cfg.Channel.MaxAttempts,
		}, eventchannel.Callbacks{
			OnRedeemed:    feed.HandleRedeemed,
			OnLifecycle:   feed.HandleLifecycle,
			OnSystemAlert: feed.HandleSystemAlert,
		}, log)
		channel.Connect()
		defer channel.Close()
	}

	jwtService := jwttoken.NewJWTService(cfg.Server.JWTSigningKey, jwtIssuer, jwtAudience)

	opts := []httptransport.Option{}
	if channel != nil {
		opts = append(opts, httptransport.WithChannelState(func() string {
			return string(channel.State())
		}))
	}
	handler := httptransport.NewHandler(
		ctx,
		boundary,
		iss,
		redemptionSvc,
		feed,
		jwttoken.NewJWTServiceAdapter(jwtService),
		log,
		m,
		opts...,
	)

	srv := httpserver.New(cfg.Server.Addr, handler.Routes())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting rollcall", "addr", cfg.Server.Addr, "boundary", cfg.Boundary.Tag)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		iss.Stop(context.Background())
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error("server error", "error", err)
		os.Exit(1)
	}
	log.Info("shutdown complete")
}
