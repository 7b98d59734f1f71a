package main

import (
	"context"
	"crypto/rand"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/DanishBukhari/servicem8-ghl-integ/internal/auth"
	"github.com/DanishBukhari/servicem8-ghl-integ/internal/config"
	"github.com/DanishBukhari/servicem8-ghl-integ/internal/database"
	"github.com/DanishBukhari/servicem8-ghl-integ/internal/ghl"
	"github.com/DanishBukhari/servicem8-ghl-integ/internal/intake"
	"github.com/DanishBukhari/servicem8-ghl-integ/internal/ledger"
	"github.com/DanishBukhari/servicem8-ghl-integ/internal/logging"
	"github.com/DanishBukhari/servicem8-ghl-integ/internal/matching"
	"github.com/DanishBukhari/servicem8-ghl-integ/internal/polling"
	"github.com/DanishBukhari/servicem8-ghl-integ/internal/server"
	"github.com/DanishBukhari/servicem8-ghl-integ/internal/servicem8"
	"github.com/DanishBukhari/servicem8-ghl-integ/internal/tokenstore"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const stateIssuer = "servicem8-ghl-bridge"

type app struct {
	logger    *zap.Logger
	ledger    *ledger.Ledger
	tokens    *tokenstore.Manager
	scheduler *polling.Scheduler
	handler   http.Handler
	closers   []func() error
}

// Close flushes the ledger and releases connections in reverse order of acquisition.
func (a *app) Close() {
	if a.ledger != nil {
		if err := a.ledger.Flush(context.Background()); err != nil {
			a.logger.Warn("final ledger flush failed", zap.Error(err))
		}
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("close failed", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}

func buildApp(ctx context.Context, appConfig config.AppConfig) (_ *app, err error) {
	logger, err := logging.NewLogger(appConfig.LogLevel, appConfig.LogFormat)
	if err != nil {
		return nil, err
	}
	result := &app{logger: logger}
	defer func() {
		if err != nil {
			result.Close()
		}
	}()

	httpClient := &http.Client{Timeout: appConfig.HTTPTimeout}

	tokenStore, err := newTokenStore(appConfig, result, logger)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(appConfig.GHL.ClientID) != "" {
		result.tokens, err = tokenstore.NewManager(tokenstore.ManagerConfig{
			ClientID:     appConfig.GHL.ClientID,
			ClientSecret: appConfig.GHL.ClientSecret,
			RedirectURI:  appConfig.GHL.RedirectURI,
			AuthURL:      appConfig.GHL.AuthURL,
			TokenURL:     appConfig.GHL.TokenURL,
			Scopes:       appConfig.GHL.Scopes,
			Store:        tokenStore,
			HTTPClient:   httpClient,
			Logger:       logger,
		})
		if err != nil {
			return nil, err
		}
	}

	result.ledger, err = newLedger(ctx, appConfig, result, logger)
	if err != nil {
		return nil, err
	}

	fsm, err := servicem8.NewClient(servicem8.Config{
		BaseURL:    appConfig.ServiceM8.BaseURL,
		APIKey:     appConfig.ServiceM8.APIKey,
		HTTPClient: httpClient,
		Location:   appConfig.Location,
	})
	if err != nil {
		return nil, err
	}

	crm, err := newCRMClient(appConfig, result.tokens, httpClient)
	if err != nil {
		return nil, err
	}

	result.scheduler, err = newScheduler(appConfig, fsm, crm, result.ledger, logger)
	if err != nil {
		return nil, err
	}

	jobIntake, err := intake.NewJobIntake(intake.JobIntakeConfig{
		FSM:             fsm,
		CRM:             crm,
		Matcher:         matching.Exact{},
		Recent:          ledger.NewRecentRequests(appConfig.Intake.DuplicateWindow),
		QueueUUID:       appConfig.Intake.QueueUUID,
		JobStatus:       appConfig.Intake.JobStatus,
		MobilePrefixes:  appConfig.Intake.MobilePrefixes,
		DuplicateWindow: appConfig.Intake.DuplicateWindow,
		MessageFieldIDs: appConfig.Intake.MessageFieldIDs,
		UrgencyFieldIDs: appConfig.Intake.UrgencyFieldIDs,
		SourceFieldIDs:  appConfig.Intake.SourceFieldIDs,
		MaxPhotoBytes:   appConfig.Intake.MaxPhotoBytes,
		Logger:          logger.Named("intake"),
	})
	if err != nil {
		return nil, err
	}

	appointmentSync, err := intake.NewAppointmentSync(intake.AppointmentSyncConfig{
		FSM:            fsm,
		CRM:            crm,
		Ledger:         result.ledger,
		Matcher:        matching.Exact{},
		StaffUUIDs:     appConfig.Appointments.StaffUUIDs,
		JobStatus:      appConfig.Appointments.JobStatus,
		ActivityType:   appConfig.Appointments.ActivityType,
		MobilePrefixes: appConfig.Intake.MobilePrefixes,
		Logger:         logger.Named("appointments"),
	})
	if err != nil {
		return nil, err
	}

	deps := server.Dependencies{
		JobIntake:       jobIntake,
		AppointmentSync: appointmentSync,
		Tasks:           result.scheduler,
		Contacts:        crm,
		MaxUploadBytes:  appConfig.Intake.MaxPhotoBytes,
		Logger:          logger.Named("http"),
	}
	if result.tokens != nil {
		states, err := newStateIssuer(appConfig)
		if err != nil {
			return nil, err
		}
		deps.Tokens = result.tokens
		deps.States = states
	}
	result.handler, err = server.NewHTTPHandler(deps)
	if err != nil {
		return nil, err
	}

	return result, nil
}

func newTokenStore(appConfig config.AppConfig, result *app, logger *zap.Logger) (*tokenstore.FileStore, error) {
	var mirror tokenstore.Mirror
	if address := strings.TrimSpace(appConfig.Redis.Address); address != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     address,
			Password: appConfig.Redis.Password,
			DB:       appConfig.Redis.DB,
		})
		result.closers = append(result.closers, client.Close)
		mirror = tokenstore.NewRedisMirror(client, appConfig.Redis.Key)
		logger.Info("token mirror enabled", zap.String("redis_address", address))
	}

	tokens := appConfig.Tokens
	return tokenstore.NewFileStore(tokenstore.FileStoreConfig{
		Path:     tokens.FilePath,
		Override: tokenstore.Override(tokens.AccessToken, tokens.RefreshToken, tokens.CreatedAt, tokens.ExpiresIn, time.Now()),
		Mirror:   mirror,
		Logger:   logger.Named("tokens"),
	})
}

func newLedger(ctx context.Context, appConfig config.AppConfig, result *app, logger *zap.Logger) (*ledger.Ledger, error) {
	var store ledger.Store
	switch appConfig.Ledger.Backend {
	case config.LedgerBackendSQLite:
		db, err := database.OpenSQLite(appConfig.Ledger.DatabasePath, logger)
		if err != nil {
			return nil, err
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		result.closers = append(result.closers, sqlDB.Close)
		store, err = ledger.NewSQLiteStore(db)
		if err != nil {
			return nil, err
		}
	default:
		fileStore, err := ledger.NewFileStore(appConfig.Ledger.StateFile, appConfig.Ledger.AppointmentsFile)
		if err != nil {
			return nil, err
		}
		store = fileStore
	}

	processed, err := ledger.New(ledger.Config{Store: store, Logger: logger.Named("ledger")})
	if err != nil {
		return nil, err
	}
	processed.Load(ctx)
	return processed, nil
}

func newCRMClient(appConfig config.AppConfig, tokens *tokenstore.Manager, httpClient *http.Client) (*ghl.Client, error) {
	cfg := ghl.Config{
		Generation: appConfig.GHL.APIGeneration,
		APIKey:     appConfig.GHL.APIKey,
		LocationID: appConfig.GHL.LocationID,
		HTTPClient: httpClient,
	}
	if appConfig.GHL.APIGeneration == ghl.GenerationV1 {
		cfg.BaseURL = appConfig.GHL.BaseURLV1
		return ghl.NewClient(cfg)
	}

	cfg.BaseURL = appConfig.GHL.BaseURLV2
	cfg.APIVersion = appConfig.GHL.APIVersion
	if tokens != nil {
		cfg.Authorizer = tokens.Authorize
		cfg.LocationResolver = func(ctx context.Context) string {
			credential, err := tokens.Current(ctx)
			if err != nil {
				return ""
			}
			return credential.LocationID
		}
	}
	return ghl.NewClient(cfg)
}

func newScheduler(appConfig config.AppConfig, fsm *servicem8.Client, crm *ghl.Client, processed *ledger.Ledger, logger *zap.Logger) (*polling.Scheduler, error) {
	idProvider := polling.NewUUIDProvider()

	contactSync, err := polling.NewContactSync(polling.ContactSyncConfig{
		FSM:        fsm,
		CRM:        crm,
		Ledger:     processed,
		Matcher:    matching.Exact{},
		Window:     appConfig.Polling.ContactWindow,
		IDProvider: idProvider,
		Logger:     logger.Named("contact_sync"),
	})
	if err != nil {
		return nil, err
	}

	completionSync, err := polling.NewCompletionSync(polling.CompletionSyncConfig{
		FSM:                fsm,
		CRM:                crm,
		Ledger:             processed,
		Trigger:            polling.Trigger(appConfig.Completion.Trigger),
		Window:             appConfig.Polling.CompletionWindow,
		Cutoff:             appConfig.Completion.Cutoff,
		ExcludedCategories: appConfig.Completion.ExcludedCategories,
		WebhookURL:         appConfig.GHL.WebhookURL,
		StatusLabel:        appConfig.Completion.StatusLabel,
		IDProvider:         idProvider,
		Logger:             logger.Named("completion_sync"),
	})
	if err != nil {
		return nil, err
	}

	return polling.NewScheduler(logger.Named("scheduler"),
		polling.Task{
			Name:     polling.ContactSyncTask,
			Interval: appConfig.Polling.ContactInterval,
			Run: func(ctx context.Context) error {
				_, err := contactSync.Run(ctx)
				return err
			},
		},
		polling.Task{
			Name:     polling.CompletionSyncTask,
			Interval: appConfig.Polling.CompletionInterval,
			Run: func(ctx context.Context) error {
				_, err := completionSync.Run(ctx)
				return err
			},
		},
	)
}

// newStateIssuer signs OAuth state with the configured key, or with a
// process-local random key when none is set.
func newStateIssuer(appConfig config.AppConfig) (*auth.StateIssuer, error) {
	secret := []byte(strings.TrimSpace(appConfig.GHL.StateSigningKey))
	if len(secret) == 0 {
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return nil, fmt.Errorf("generate state signing key: %w", err)
		}
	}
	return auth.NewStateIssuer(auth.StateIssuerConfig{
		SigningSecret: secret,
		Issuer:        stateIssuer,
	})
}
