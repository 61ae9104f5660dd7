package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"voiceline/internal/audio"
	"voiceline/internal/audit"
	"voiceline/internal/auth"
	"voiceline/internal/billing"
	"voiceline/internal/calls"
	"voiceline/internal/config"
	"voiceline/internal/forwarding"
	"voiceline/internal/httpapi"
	"voiceline/internal/lines"
	"voiceline/internal/pricing"
	"voiceline/internal/reporting"
	"voiceline/internal/routing"
	"voiceline/internal/telephony"
	"voiceline/internal/whisper"
	"voiceline/pkg/logger"
	"voiceline/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	verifier, err := auth.NewVerifier(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	plan := pricing.Plan{
		FreeMinutesPerMonth: cfg.Billing.FreeMinutesPerMonth,
		PerMinuteRate:       cfg.Billing.PerMinuteRate,
		MinimumBalance:      cfg.Billing.MinimumBalance,
		LineMonthlyCost:     cfg.Billing.LineMonthlyCost,
	}
	if err := plan.Validate(); err != nil {
		log.Error("pricing plan invalid", "err", err)
		os.Exit(1)
	}

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
	if err != nil {
		log.Error("redis init failed", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	carrier, err := newProvisioner(cfg.Twilio)
	if err != nil {
		log.Error("carrier init failed", "err", err)
		os.Exit(1)
	}

	blobs, err := newBlobStore(rootCtx, cfg.Storage, db)
	if err != nil {
		log.Error("asset storage init failed", "err", err)
		os.Exit(1)
	}

	transcodeCap, err := utils.NewConcurrencyCap(rdb, "transcode", cfg.Audio.TranscodeConcurrency, 2*time.Minute)
	if err != nil {
		log.Error("transcode limiter init failed", "err", err)
		os.Exit(1)
	}

	// Services. Every dependency is explicit; nothing reaches for a global.
	auditSvc := audit.NewService(audit.NewPostgresRepo(db))
	ledger := calls.NewLedger(calls.NewPostgresRepo(db))
	meter := billing.NewMeter(billing.NewPostgresStore(db), plan, ledger, ledger)

	lineRepo := lines.NewPostgresRepo(db)
	settings := whisper.NewCache(rdb, lineRepo, 30*time.Second)
	lineSvc := lines.NewService(lineRepo, carrier, meter, auditSvc, lines.Options{
		PublicBaseURL: cfg.App.PublicBaseURL,
		MonthlyCost:   plan.LineMonthlyCost,
	}).WithCache(settings)

	rules := forwarding.NewService(forwarding.NewPostgresRepo(db), lineSvc, auditSvc)

	assets := audio.NewAssetService(
		audio.NewTranscoder(cfg.Audio.MaxUploadBytes),
		audio.NewPostgresRepo(db),
		blobs,
		lineSvc,
		auditSvc,
	).WithCache(settings).WithLimiter(transcodeCap)

	router := routing.NewRouter(lineSvc, meter, rules, ledger, auditSvc, routing.Options{
		PublicBaseURL: cfg.App.PublicBaseURL,
		Budget:        cfg.Webhook.RouteBudget,
		Record:        true,
	})

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerRoutes(r, routeDeps{
		handlers: httpapi.Handlers{
			Lines:          lineSvc,
			Forwarding:     rules,
			Ledger:         ledger,
			Meter:          meter,
			Assets:         assets,
			Reporting:      reporting.NewService(reporting.NewPostgresRepo(db)),
			MaxUploadBytes: cfg.Audio.MaxUploadBytes,
		},
		webhooks: httpapi.Webhooks{
			Router:    router,
			Announcer: whisper.NewAnnouncer(settings, cfg.App.PublicBaseURL, cfg.Webhook.WhisperBudget),
			Assets:    assets,
		},
		authMW:    auth.RequireAccessToken(verifier),
		carrierMW: carrierSignature(cfg),
		health:    healthHandler(db, rdb),
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env, "carrier", carrier.Name(), "asset_backend", cfg.Storage.AssetBackend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}
}

// newProvisioner uses the carrier when credentials are configured and the
// in-process provisioner otherwise (local development).
func newProvisioner(cfg config.TwilioConfig) (telephony.Provisioner, error) {
	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return telephony.NewLocalProvisioner(), nil
	}
	return telephony.NewTwilioClient(telephony.TwilioConfig{
		AccountSID: cfg.AccountSID,
		AuthToken:  cfg.AuthToken,
		BaseURL:    cfg.APIBaseURL,
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
	})
}

func newBlobStore(ctx context.Context, cfg config.StorageConfig, db *sql.DB) (audio.BlobStore, error) {
	if cfg.AssetBackend != "s3" {
		return audio.NewPostgresBlobStore(db), nil
	}
	return audio.NewMinIOBlobStore(ctx, audio.MinIOConfig{
		Endpoint:  cfg.S3Endpoint,
		AccessKey: cfg.S3AccessKey,
		SecretKey: cfg.S3SecretKey,
		Bucket:    cfg.S3Bucket,
		UseSSL:    cfg.S3UseSSL,
	})
}

func carrierSignature(cfg config.Config) gin.HandlerFunc {
	if !cfg.Twilio.ValidateSignatures {
		return func(c *gin.Context) { c.Next() }
	}
	return httpapi.RequireCarrierSignature(cfg.Twilio.AuthToken, cfg.App.PublicBaseURL)
}
