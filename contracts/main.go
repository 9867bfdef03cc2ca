package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fleetgrid-labs/fleetgrid-go/internal/directory"
	"github.com/fleetgrid-labs/fleetgrid-go/internal/notify"
	"github.com/fleetgrid-labs/fleetgrid-go/internal/platform/auth"
	"github.com/fleetgrid-labs/fleetgrid-go/internal/platform/env"
	"github.com/fleetgrid-labs/fleetgrid-go/internal/platform/httpserver"
	"github.com/fleetgrid-labs/fleetgrid-go/internal/platform/objectstore"
	"github.com/fleetgrid-labs/fleetgrid-go/internal/platform/postgres"
	repopg "github.com/fleetgrid-labs/fleetgrid-go/internal/repo/postgres"
	"github.com/fleetgrid-labs/fleetgrid-go/internal/service/lifecycle"
	"github.com/fleetgrid-labs/fleetgrid-go/internal/signing"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	ctx := context.Background()
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	addr := env.String("CONTRACTS_HTTP_ADDR", ":8080")
	shutdownTimeout, err := env.Duration("CONTRACTS_SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		logger.Error("invalid env", "error", err)
		os.Exit(2)
	}
	sweepInterval, err := env.Duration("CONTRACTS_SWEEP_INTERVAL", time.Minute)
	if err != nil {
		logger.Error("invalid env", "error", err)
		os.Exit(2)
	}
	approvalSLA, err := env.Duration("CONTRACTS_APPROVAL_SLA", lifecycle.DefaultApprovalSLA)
	if err != nil {
		logger.Error("invalid env", "error", err)
		os.Exit(2)
	}

	dbCfg, err := postgres.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid database config", "error", err)
		os.Exit(2)
	}
	db, err := postgres.Open(ctx, dbCfg)
	if err != nil {
		logger.Error("database unavailable", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	storeCfg, err := objectstore.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid object store config", "error", err)
		os.Exit(2)
	}
	storeClient, err := objectstore.NewMinIOClient(storeCfg)
	if err != nil {
		logger.Error("object store client init failed", "error", err)
		os.Exit(2)
	}
	startupCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	if err := objectstore.EnsureBuckets(startupCtx, storeClient, storeCfg); err != nil {
		cancel()
		logger.Error("object store unavailable", "error", err)
		os.Exit(1)
	}
	cancel()

	rosterPath := env.String("FLEETGRID_APPROVER_ROSTER", "approvers.yaml")
	roster, err := directory.LoadRoster(rosterPath)
	if err != nil {
		logger.Error("approver roster load failed", "path", rosterPath, "error", err)
		os.Exit(2)
	}

	signingCfg, err := signing.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid signing config", "error", err)
		os.Exit(2)
	}
	signingClient, err := signing.NewClient(signingCfg)
	if err != nil {
		logger.Error("signing client init failed", "error", err)
		os.Exit(2)
	}

	notifyCfg, err := notify.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid notify config", "error", err)
		os.Exit(2)
	}
	notifier, err := notify.NewPublisherFromConfig(notifyCfg, logger)
	if err != nil {
		logger.Error("notifier init failed", "error", err)
		os.Exit(2)
	}

	authCfg, err := auth.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid auth config", "error", err)
		os.Exit(2)
	}
	var authenticator auth.Authenticator
	switch authCfg.Mode {
	case auth.ModeOIDC:
		authenticator, err = auth.NewOIDCAuthenticator(ctx, authCfg)
		if err != nil {
			logger.Error("oidc init failed", "error", err)
			os.Exit(1)
		}
	default:
		if authCfg.Mode == auth.ModeDisabled {
			logger.Warn("authentication disabled, using static dev identity")
		}
		authenticator = auth.NewDevAuthenticator(authCfg)
	}

	contractStore := repopg.NewContractStore(db)
	approvalStore := repopg.NewApprovalStore(db)
	signatureStore := repopg.NewSignatureStore(db)

	dir, err := directory.New(roster.Domain(), approvalStore)
	if err != nil {
		logger.Error("approver directory init failed", "error", err)
		os.Exit(2)
	}

	documents, err := lifecycle.NewObjectDocumentStore(storeClient, storeCfg)
	if err != nil {
		logger.Error("document store init failed", "error", err)
		os.Exit(2)
	}

	svc, err := lifecycle.New(contractStore, approvalStore, signatureStore, dir, signingClient, notifier, logger, lifecycle.Options{
		ApprovalSLA: approvalSLA,
		Documents:   documents,
		Audit:       db,
	})
	if err != nil {
		logger.Error("lifecycle service init failed", "error", err)
		os.Exit(2)
	}

	startApprovalSweeper(ctx, logger, svc, sweepInterval)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", httpserver.Healthz("contracts"))
	mux.HandleFunc(
		"/readyz",
		httpserver.ReadyzWithChecks(
			"contracts",
			httpserver.ReadinessCheck{
				Name: "postgres",
				Check: func(ctx context.Context) error {
					checkCtx, cancel := context.WithTimeout(ctx, 750*time.Millisecond)
					defer cancel()
					return db.PingContext(checkCtx)
				},
			},
			httpserver.ReadinessCheck{
				Name: "minio",
				Check: func(ctx context.Context) error {
					checkCtx, cancel := context.WithTimeout(ctx, 750*time.Millisecond)
					defer cancel()
					return objectstore.CheckBuckets(checkCtx, storeClient, storeCfg)
				},
			},
		),
	)

	api := newContractsAPI(logger, svc)
	api.register(mux)
	api.registerWebhooks(mux, signingCfg.WebhookSecret)
	api.registerAudit(mux, db)

	authMiddleware := auth.Middleware{
		Logger:        logger,
		Authenticator: authenticator,
		SkipPrefixes:  []string{"/healthz", "/readyz", "/webhooks/"},
	}
	handler := httpserver.Wrap(logger, "contracts", authMiddleware.Wrap(mux))

	if err := httpserver.Run(ctx, logger, httpserver.Config{
		Service:         "contracts",
		Addr:            addr,
		ShutdownTimeout: shutdownTimeout,
	}, handler); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
}
