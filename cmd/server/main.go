package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/TimurManjosov/gosegmentd/internal/api"
	"github.com/TimurManjosov/gosegmentd/internal/audit"
	"github.com/TimurManjosov/gosegmentd/internal/authz"
	"github.com/TimurManjosov/gosegmentd/internal/config"
	mydb "github.com/TimurManjosov/gosegmentd/internal/db"
	"github.com/TimurManjosov/gosegmentd/internal/segments"
	"github.com/TimurManjosov/gosegmentd/internal/store"
	"github.com/TimurManjosov/gosegmentd/internal/telemetry"
	"github.com/TimurManjosov/gosegmentd/internal/versioning"
)

func main() {
	log := zerolog.New(os.Stderr).With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config")
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		for _, e := range errs {
			log.Error().Str("field", e.Field).Msg(e.Message)
		}
		log.Fatal().Msg("invalid configuration")
	}

	ctx := context.Background()

	var st store.Store
	switch cfg.StoreType {
	case "postgres":
		pool, err := mydb.NewPool(ctx, cfg.DatabaseDSN)
		if err != nil {
			log.Fatal().Err(err).Msg("db")
		}
		if err := pool.Ping(ctx); err != nil {
			log.Fatal().Err(err).Msg("db unreachable")
		}
		if err := mydb.EnsureSchema(ctx, pool); err != nil {
			log.Fatal().Err(err).Msg("schema")
		}
		st = store.NewPostgresStore(pool)
	default:
		st = store.NewMemoryStore()
	}
	defer st.Close()

	telemetry.Init()

	auditSvc := audit.NewService(audit.NewLoggerSink(log), nil, log, cfg.AuditQueueSize)
	defer auditSvc.Close()

	svc := versioning.NewService(st, authz.RoleDecider{}, auditSvc, log, segments.Limits{
		ConditionValueLimit:  cfg.ConditionValueLimit,
		RulesConditionsLimit: cfg.RulesConditionsLimit,
	})

	srvAPI := api.NewServer(svc, cfg.AdminAPIKey, cfg.RateLimitPerIP, log)

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      srvAPI.Router(),
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("listening")
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server")
		}
	}()

	metricsSrv := &http.Server{Addr: cfg.MetricsAddr, Handler: promhttp.Handler()}
	go func() {
		log.Info().Str("addr", cfg.MetricsAddr).Msg("metrics listening")
		if err := metricsSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("metrics server")
		}
	}()

	// graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	ctxShut, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctxShut)
	_ = metricsSrv.Shutdown(ctxShut)
	log.Info().Msg("stopped")
}
