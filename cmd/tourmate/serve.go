package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/culturaltourmate/tourmate/internal/server"
	metrics "github.com/culturaltourmate/tourmate/pkg/observability"
	"github.com/culturaltourmate/tourmate/pkg/turn"
)

const shutdownTimeout = 30 * time.Second

type pinger interface {
	Ping(ctx context.Context) error
}

func newServeCmd(o *rootOptions) *cobra.Command {
	var (
		addr        string
		metricsPort int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the session over HTTP",
		Long: `Serve one session over HTTP under /api/v1/session, plus health and
Prometheus endpoints on the metrics port.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("addr") {
				o.cfg.Server.Addr = addr
			}
			if cmd.Flags().Changed("metrics-port") {
				o.cfg.Observability.MetricsPort = metricsPort
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, o)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", ":8080", "API listen address")
	cmd.Flags().IntVar(&metricsPort, "metrics-port", 9090, "Health and metrics port (0 disables)")
	return cmd
}

// newHealthChecker reports on the served session: closed is unhealthy, a
// failing journal or a run of failed generation calls is degraded.
func newHealthChecker(a *app) *metrics.HealthChecker {
	health := metrics.NewHealthChecker()
	health.RegisterCheck(metrics.SessionCheck(a.ctrl.Closed))
	health.RegisterCheck(metrics.GenerationCheck(a.ctrl.Provider(), metrics.DefaultGenerationFailureThreshold))
	if p, ok := a.journal.(pinger); ok {
		health.RegisterCheck(metrics.JournalCheck(p.Ping))
	}
	health.SetSession(func() metrics.SessionInfo {
		store := a.ctrl.Store()
		_, staged := store.Staged()
		return metrics.SessionInfo{
			ID:        store.ID(),
			State:     a.ctrl.State().String(),
			Turns:     store.Snapshot().TurnCount(),
			Version:   store.Version(),
			Language:  a.ctrl.Language(),
			Staged:    staged,
			Busy:      a.ctrl.Busy(),
			Closed:    a.ctrl.Closed(),
			Provider:  a.ctrl.Provider(),
			Retention: a.ctrl.Policy().String(),
		}
	})
	return health
}

func serve(ctx context.Context, o *rootOptions) error {
	cfg := o.cfg
	hub := server.NewHub()
	a, err := newApp(cfg, "", turn.WithStateHook(hub.StateHook()))
	if err != nil {
		return err
	}
	defer a.Close()

	if cfg.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	api := &http.Server{
		Addr: cfg.Server.Addr,
		Handler: server.New(a.ctrl, server.Options{
			RateLimit: cfg.Server.RateLimit,
			Burst:     cfg.Server.Burst,
			Intake:    cfg.Media,
			Events:    hub,
		}).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	var obs *metrics.Server
	if cfg.Observability.MetricsPort > 0 {
		obs = metrics.NewServer(cfg.Observability.MetricsPort, newHealthChecker(a))
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().Str("addr", api.Addr).Str("session_id", a.ctrl.Store().ID()).Msg("Serving session API")
		if err := api.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("API server: %w", err)
		}
		return nil
	})

	if obs != nil {
		g.Go(func() error {
			log.Info().Int("port", obs.Port()).Msg("Serving health and metrics")
			if err := obs.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		hub.Close()
		var errs []error
		if err := api.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("API server shutdown: %w", err))
		}
		if obs != nil {
			if err := obs.Shutdown(shutdownCtx); err != nil {
				errs = append(errs, fmt.Errorf("metrics server shutdown: %w", err))
			}
		}
		return errors.Join(errs...)
	})

	return g.Wait()
}
