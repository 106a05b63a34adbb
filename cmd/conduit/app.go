package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/conduit-ecg/annotator/internal/application"
	"github.com/conduit-ecg/annotator/internal/audit"
	"github.com/conduit-ecg/annotator/internal/config"
	"github.com/conduit-ecg/annotator/internal/ids"
	"github.com/conduit-ecg/annotator/internal/persistence"
	"github.com/conduit-ecg/annotator/internal/persistence/memory"
	"github.com/conduit-ecg/annotator/internal/persistence/sqlite"
	"github.com/conduit-ecg/annotator/internal/persistence/sqlite/migration"
)

// cliPrincipal acts for commands run by an operator on the host.
var cliPrincipal = application.Principal{Username: "cli", IsAdmin: true}

type store interface {
	persistence.SegmentRepository
	persistence.AnnotatorRepository
	persistence.AuditRepository
	persistence.Transactor
	Close() error
}

// app wires the services of one process over a single store.
type app struct {
	cfg        config.Config
	logger     *slog.Logger
	store      store
	recorder   *audit.Recorder
	vocabulary *application.Vocabulary

	segments    *application.SegmentService
	annotators  *application.AnnotatorService
	campaigns   *application.CampaignService
	annotations *application.AnnotationService
	auth        *application.AuthService
}

type openOptions struct {
	inMemory bool
	migrate  bool
}

func openApp(ctx context.Context, cfg config.Config, logger *slog.Logger, opts openOptions) (*app, error) {
	vocabulary, err := application.LoadVocabulary(cfg.LabelsFile)
	if err != nil {
		return nil, err
	}

	var st store
	if opts.inMemory {
		st = memory.New()
	} else {
		storage, err := sqlite.Open(ctx, migration.DefaultSQLiteConfig(cfg.SQLitePath), logger)
		if err != nil {
			return nil, fmt.Errorf("open storage: %w", err)
		}
		if opts.migrate {
			if err := storage.Migrate(ctx); err != nil {
				_ = storage.Close()
				return nil, fmt.Errorf("apply migrations: %w", err)
			}
		}
		st = storage
	}

	now := func() time.Time { return time.Now().UTC() }
	recorder := audit.NewRecorder(st, cfg.AuditBuffer, audit.WithLogger(logger))
	retry := application.NewRetryHelper(application.RetryConfig{
		MaxRetries:    cfg.StoreRetries,
		InitialDelay:  application.DefaultRetryConfig().InitialDelay,
		MaxDelay:      application.DefaultRetryConfig().MaxDelay,
		BackoffFactor: application.DefaultRetryConfig().BackoffFactor,
	})
	limits := application.PageLimits{Default: cfg.DefaultPageSize, Max: cfg.MaxPageSize}
	sessions := application.NewSessionCache(cfg.SessionTTL, cfg.SessionCacheSize, now)

	return &app{
		cfg:         cfg,
		logger:      logger,
		store:       st,
		recorder:    recorder,
		vocabulary:  vocabulary,
		segments:    application.NewSegmentServiceWithLogger(st, st, ids.New, now, limits, recorder, logger),
		annotators:  application.NewAnnotatorServiceWithLogger(st, application.HashPassword, ids.New, now, recorder, logger),
		campaigns:   application.NewCampaignServiceWithLogger(st, st, retry, ids.New, now, recorder, logger),
		annotations: application.NewAnnotationServiceWithLogger(st, vocabulary, retry, now, recorder, logger),
		auth:        application.NewAuthServiceWithLogger(st, application.VerifyPassword, sessions, cfg.AdminUsernames, logger),
	}, nil
}

// Close drains the audit queue and releases the store.
func (a *app) Close(ctx context.Context) error {
	if err := a.recorder.Close(ctx); err != nil {
		a.logger.WarnContext(ctx, "audit recorder did not drain", "error", err)
	}
	written, dropped := a.recorder.Stats()
	a.logger.DebugContext(ctx, "audit recorder closed", "written", written, "dropped", dropped)
	return a.store.Close()
}
