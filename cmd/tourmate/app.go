package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/culturaltourmate/tourmate/internal/llm/provider"
	"github.com/culturaltourmate/tourmate/internal/observability"
	"github.com/culturaltourmate/tourmate/pkg/config"
	"github.com/culturaltourmate/tourmate/pkg/media"
	metrics "github.com/culturaltourmate/tourmate/pkg/observability"
	"github.com/culturaltourmate/tourmate/pkg/session"
	"github.com/culturaltourmate/tourmate/pkg/turn"
)

// app wires one session: store, controller, generation service, journal.
type app struct {
	cfg     *config.Config
	ctrl    *turn.Controller
	journal session.Journal
	tracing bool
}

// newApp validates cfg and builds the configured generation service.
// A missing credential is fatal here, never per submission.
func newApp(cfg *config.Config, sessionID string, extra ...turn.Option) (*app, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	gen, err := provider.Create(cfg.Provider, cfg.ProviderConfig())
	if err != nil {
		return nil, fmt.Errorf("create %s provider: %w", cfg.Provider, err)
	}
	return newAppWithProvider(cfg, gen, sessionID, extra...)
}

func newAppWithProvider(cfg *config.Config, gen provider.Provider, sessionID string, extra ...turn.Option) (*app, error) {
	metrics.InitMetrics()

	tracing, err := initTracing(cfg.Observability.Tracing)
	if err != nil {
		log.Warn().Err(err).Msg("Tracing unavailable, continuing without it")
	}

	journal, err := session.NewJournal(cfg.Session)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}

	storeOpts := []session.StoreOption{session.WithPrimer(cfg.Session.Primer)}
	if sessionID != "" {
		storeOpts = append(storeOpts, session.WithID(sessionID))
	}
	store := session.NewStore(storeOpts...)

	opts := append(cfg.TurnOptions(), turn.WithJournal(journal))
	opts = append(opts, extra...)
	ctrl := turn.New(store, provider.WrapProvider(gen), opts...)

	log.Debug().
		Str("session_id", store.ID()).
		Str("provider", gen.Name()).
		Str("journal", cfg.Session.Journal).
		Msg("Session started")

	return &app{cfg: cfg, ctrl: ctrl, journal: journal, tracing: tracing}, nil
}

// initTracing starts tracing from the config file, or from the standard
// OTEL_* variables when the file leaves it disabled.
func initTracing(tc observability.Config) (bool, error) {
	if !tc.Enabled {
		tc = observability.ConfigFromEnv()
	}
	if !tc.Enabled {
		return false, nil
	}
	if err := observability.Init(tc); err != nil {
		return false, err
	}
	return true, nil
}

// stageFile loads an image from disk and stages it.
func (a *app) stageFile(path string) (session.Attachment, error) {
	att, err := a.cfg.Media.LoadFile(path)
	if err != nil {
		var oversize *media.OversizeError
		switch {
		case errors.As(err, &oversize):
			metrics.RecordAttachmentRejected("oversize")
		case errors.Is(err, media.ErrTooManyPixels):
			metrics.RecordAttachmentRejected("dimensions")
		case errors.Is(err, media.ErrUnsupportedType):
			metrics.RecordAttachmentRejected("unsupported")
		}
		return session.Attachment{}, err
	}
	staged := a.ctrl.Store().Stage(att)
	metrics.RecordAttachmentStaged(staged.MIMEType, len(staged.Data))
	return staged, nil
}

// Close ends the session and releases the journal and tracer.
func (a *app) Close() error {
	var errs []error
	if err := a.ctrl.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := a.journal.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close journal: %w", err))
	}
	if a.tracing {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := observability.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown tracing: %w", err))
		}
	}
	return errors.Join(errs...)
}
