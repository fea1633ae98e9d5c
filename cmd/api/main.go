package main

import (
	"context"
	"log"
	"net/http"
	"time"

	"pursuitpal/internal/config"
	"pursuitpal/internal/db"
	"pursuitpal/internal/email"
	apihttp "pursuitpal/internal/http"
	"pursuitpal/internal/repository"
	"pursuitpal/internal/service"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	ctx := context.Background()

	if err := godotenv.Load(); err != nil {
		log.Printf("warning: loading .env: %v", err)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		panic(err)
	}

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	if cfg.JWTSecret == "" {
		logger.Warn("jwt secret not configured")
	}

	if err := db.Migrate(ctx, cfg); err != nil {
		logger.Fatal("db migrate", zap.Error(err))
	}

	pool, err := db.NewPool(ctx, cfg)
	if err != nil {
		logger.Fatal("db connect", zap.Error(err))
	}
	defer pool.Close()

	if err := db.Ping(ctx, pool); err != nil {
		logger.Fatal("db ping", zap.Error(err))
	}

	userRepo := repository.NewPgUserRepository(pool)
	planRepo := repository.NewPgPlanRepository(pool)

	emailSender := email.NewDisabledSender("email sender not configured")
	if cfg.SMTPHost != "" {
		sender, err := email.NewSMTPSender(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPass, cfg.SMTPFrom, cfg.SMTPFromName, cfg.SMTPUseTLS)
		if err != nil {
			logger.Warn("smtp sender init failed", zap.Error(err))
		} else {
			emailSender = sender
		}
	}
	mailer := email.NewDispatcher(emailSender, logger)
	defer mailer.Close()

	lookupCache := service.NewMemoryUserLookupCache()
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		ctxPing, cancel := context.WithTimeout(ctx, 2*time.Second)
		if err := redisClient.Ping(ctxPing).Err(); err != nil {
			logger.Warn("redis ping failed", zap.Error(err))
		} else {
			lookupCache = service.NewRedisUserLookupCache(redisClient)
		}
		cancel()
	}

	tokenSvc := service.NewTokenService(
		cfg.JWTSecret,
		cfg.ResetSecret(),
		time.Duration(cfg.AccessTTLMinutes)*time.Minute,
		time.Duration(cfg.RefreshTTLHours)*time.Hour,
		time.Duration(cfg.ResetTTLMinutes)*time.Minute,
	)
	authSvc := service.NewAuthService(logger, userRepo, planRepo, tokenSvc, mailer, cfg.FrontendURL, cfg.MinPasswordLength)

	cookies := apihttp.NewCookieWriter(cfg.IsProduction(), tokenSvc.AccessTTL(), tokenSvc.RefreshTTL())
	authHandler := apihttp.NewAuthHandler(logger, authSvc, cookies, cfg.IsProduction())
	router := apihttp.NewRouter(logger, authHandler, tokenSvc, userRepo, lookupCache)

	server := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger.Info("starting server", zap.String("port", cfg.HTTPPort))

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal("server error", zap.Error(err))
	}
}
