package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/bradb345/t3test-sub001/internal/config"
	"github.com/bradb345/t3test-sub001/internal/events"
	apphttp "github.com/bradb345/t3test-sub001/internal/http"
	"github.com/bradb345/t3test-sub001/internal/http/middleware"
	"github.com/bradb345/t3test-sub001/internal/mailer"
	"github.com/bradb345/t3test-sub001/internal/modules/notifications"
	"github.com/bradb345/t3test-sub001/internal/modules/payments"
	"github.com/bradb345/t3test-sub001/internal/modules/payments/mockprovider"
	"github.com/bradb345/t3test-sub001/internal/modules/payments/stripeprovider"
	"github.com/bradb345/t3test-sub001/internal/shared/money"
	"github.com/bradb345/t3test-sub001/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	level := slog.LevelInfo
	if cfg.Env == "development" {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	if cfg.Env != "development" {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := gorm.Open(mysql.Open(cfg.DB.DSN), &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		log.Fatalf("database handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(cfg.DB.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.DB.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(5 * time.Minute)

	ctx := context.Background()

	var provider payments.Provider
	switch cfg.Payments.Provider {
	case "stripe":
		provider = stripeprovider.New(stripeprovider.Config{
			SecretKey:     cfg.Stripe.SecretKey,
			WebhookSecret: cfg.Stripe.WebhookSecret,
			AccountType:   cfg.Stripe.AccountType,
			Country:       cfg.Stripe.Country,
		})
	default:
		provider = mockprovider.New(mockprovider.Config{
			WebhookSecret:   cfg.Mock.WebhookSecret,
			CheckoutBaseURL: cfg.BaseURL + "/mock",
			AutoOnboard:     cfg.Mock.AutoOnboard,
		})
	}
	logger.Info("payment provider selected", "provider", provider.Name())

	var publisher interface {
		payments.EventPublisher
		Close() error
	} = events.Noop{}
	if len(cfg.Kafka.Brokers) > 0 {
		kp, err := events.NewKafkaPublisher(events.KafkaConfig{
			Brokers:  cfg.Kafka.Brokers,
			Topic:    cfg.Kafka.Topic,
			ClientID: "rent-payments",
		}, logger)
		if err != nil {
			log.Fatalf("kafka: %v", err)
		}
		publisher = kp
	}
	defer publisher.Close()

	fees, err := money.NewFeeSchedule(cfg.Payments.FeeBasisPoints)
	if err != nil {
		log.Fatalf("fees: %v", err)
	}

	paySvc := payments.NewService(db, provider, payments.CheckoutConfig{
		Fees:                fees,
		SupportedCurrencies: cfg.Payments.SupportedCurrencies,
		ClaimTTL:            cfg.Payments.ClaimTTL,
		SuccessURL:          cfg.Payments.SuccessURL,
		CancelURL:           cfg.Payments.CancelURL,
	})
	paySvc.SetLogger(logger)
	paySvc.SetEvents(publisher)

	notes := notifications.NewService(db)
	notes.SetLogger(logger)
	switch {
	case cfg.Mailtrap.APIToken != "":
		notes.SetMailer(mailer.NewMailtrapMailer(cfg.Mailtrap, cfg.SMTP.From, cfg.SMTP.FromName))
	case cfg.SMTP.Host != "":
		notes.SetMailer(mailer.NewSMTPMailer(cfg.SMTP))
	}

	webhookSvc := payments.NewWebhookService(db, provider, notes)
	webhookSvc.SetLogger(logger)
	webhookSvc.SetEvents(publisher)

	store, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		log.Fatalf("storage: %v", err)
	}
	if store != nil {
		webhookSvc.SetArchive(storage.NewWebhookArchive(store))
		logger.Info("webhook archive enabled", "backend", store)
	}

	onboardingSvc := payments.NewOnboardingService(db, provider, payments.OnboardingConfig{
		ReturnURL:  cfg.Payments.OnboardingReturnURL,
		RefreshURL: cfg.Payments.OnboardingRefresh,
	})
	onboardingSvc.SetLogger(logger)

	deps := apphttp.Deps{
		Logger: logger,
		DB:     db,
		Auth: middleware.AuthConfig{
			Secret: []byte(cfg.Auth.JWTSecret),
			Issuer: cfg.Auth.Issuer,
			Leeway: apphttp.DefaultTokenLeeway,
		},
		Payments:      paySvc,
		Webhooks:      webhookSvc,
		Onboarding:    onboardingSvc,
		Notifications: notes,
		Providers:     []payments.Provider{provider},
	}

	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		deps.Redis = rdb
		deps.Limiter = middleware.NewRedisLimiter(rdb, "ratelimit:initiate",
			cfg.Payments.InitiateRateLimit, cfg.Payments.InitiateRateWindow)
	} else {
		logger.Warn("REDIS_ADDR not set; payment initiation is not rate limited")
	}

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           apphttp.NewRouter(deps),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
	}

	go func() {
		logger.Info("http server listening", "addr", cfg.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "err", err)
	}
	logger.Info("server exited")
}
