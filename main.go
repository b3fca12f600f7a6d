package main

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/statlinehq/statline-auth/internal/di"
	"github.com/statlinehq/statline-auth/internal/event"
	"github.com/statlinehq/statline-auth/internal/handler"
	"github.com/statlinehq/statline-auth/internal/middleware"
	"github.com/statlinehq/statline-auth/internal/repository"
	"github.com/statlinehq/statline-auth/internal/service"
	"github.com/statlinehq/statline-auth/internal/worker"
	"github.com/statlinehq/statline-auth/pkg/config"
	"github.com/statlinehq/statline-auth/pkg/database"
	"github.com/statlinehq/statline-auth/pkg/kafka"
	"github.com/statlinehq/statline-auth/pkg/logger"
	pkgredis "github.com/statlinehq/statline-auth/pkg/redis"
	"github.com/statlinehq/statline-auth/pkg/telemetry"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize logger
	logLevel := "info"
	if cfg.App.Debug {
		logLevel = "debug"
	}
	logCfg := &logger.Config{
		Level:       logLevel,
		ServiceName: cfg.App.Name,
		Development: cfg.IsDevelopment(),
	}
	if err := logger.Init(logCfg); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	appLog := logger.Get()
	appLog.Info("Starting Statline Auth Service...")

	ctx := context.Background()

	// Initialize telemetry
	if _, err := telemetry.Init(ctx, &telemetry.Config{
		Enabled:        cfg.OTel.Enabled,
		ServiceName:    cfg.OTel.ServiceName,
		ServiceVersion: cfg.App.Version,
		Environment:    cfg.App.Environment,
		CollectorAddr:  cfg.OTel.CollectorAddr,
		SampleRatio:    cfg.OTel.SampleRatio,
	}); err != nil {
		appLog.Fatal(fmt.Sprintf("Telemetry initialization failed: %v", err))
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			appLog.Warn(fmt.Sprintf("Telemetry shutdown failed: %v", err))
		}
	}()

	// Initialize database connection
	dbCfg := &database.PostgresConfig{
		Host:            cfg.Database.Host,
		Port:            cfg.Database.Port,
		User:            cfg.Database.User,
		Password:        cfg.Database.Password,
		Database:        cfg.Database.DBName,
		SSLMode:         cfg.Database.SSLMode,
		MaxConns:        int32(cfg.Database.MaxOpenConns),
		MinConns:        int32(cfg.Database.MaxIdleConns),
		MaxConnLifetime: cfg.Database.ConnMaxLifetime,
		MaxConnIdleTime: cfg.Database.ConnMaxIdleTime,
		ConnectTimeout:  5 * time.Second,
		MaxRetries:      3,
		RetryInterval:   1 * time.Second,
		EnableTracing:   cfg.OTel.Enabled,
		ServiceName:     cfg.OTel.ServiceName,
	}
	db, err := database.NewPostgres(ctx, dbCfg)
	if err != nil {
		appLog.Fatal(fmt.Sprintf("Database connection failed: %v", err))
	}
	appLog.Info(fmt.Sprintf("Database connected (pool: min=%d, max=%d)", dbCfg.MinConns, dbCfg.MaxConns))

	// Initialize Redis connection
	redisCfg := &pkgredis.Config{
		Host:          cfg.Redis.Host,
		Port:          cfg.Redis.Port,
		Password:      cfg.Redis.Password,
		DB:            cfg.Redis.DB,
		PoolSize:      cfg.Redis.PoolSize,
		MinIdleConns:  cfg.Redis.MinIdleConns,
		DialTimeout:   cfg.Redis.DialTimeout,
		ReadTimeout:   cfg.Redis.ReadTimeout,
		WriteTimeout:  cfg.Redis.WriteTimeout,
		MaxRetries:    3,
		RetryInterval: 100 * time.Millisecond,
	}
	redisClient, err := pkgredis.NewClient(ctx, redisCfg)
	if err != nil {
		appLog.Fatal(fmt.Sprintf("Redis connection failed: %v", err))
	}
	appLog.Info(fmt.Sprintf("Redis connected (pool: %d, minIdle: %d)", redisCfg.PoolSize, redisCfg.MinIdleConns))

	// Initialize the security event publisher
	eventPublisher, producer := buildEventPublisher(ctx, cfg, appLog)
	if producer != nil {
		defer producer.Close()
	}

	// Initialize repositories
	userRepo := repository.NewPostgresUserRepository(db.Pool())
	sessionRepo := repository.NewPostgresSessionRepository(db.Pool())
	throttleRepo := repository.NewRedisThrottleRepository(redisClient, cfg.Auth.RateLimitWindow)

	// Pre-load Lua scripts into Redis
	if err := throttleRepo.LoadScripts(ctx); err != nil {
		appLog.Warn(fmt.Sprintf("Failed to pre-load Lua scripts: %v", err))
	} else {
		appLog.Info("Lua scripts pre-loaded into Redis")
	}

	// Signing keys: PEM from the environment, or an ephemeral pair in
	// development (config validation refuses production without keys)
	privateKey, publicKey := loadSigningKeys(cfg, appLog)

	// Breach checker
	var breach service.BreachChecker
	if cfg.Auth.BreachCheckURL != "" {
		breach = service.NewHIBPChecker(cfg.Auth.BreachCheckURL, cfg.Auth.BreachTimeout)
	}

	// Build dependency injection container
	container := di.NewContainer(&di.ContainerConfig{
		DB:             db,
		Redis:          redisClient,
		UserRepo:       userRepo,
		SessionRepo:    sessionRepo,
		ThrottleRepo:   throttleRepo,
		EventPublisher: eventPublisher,
		BreachChecker:  breach,
		TokenConfig: service.TokenConfig{
			PrivateKey:      privateKey,
			PublicKey:       publicKey,
			Issuer:          cfg.JWT.Issuer,
			AccessAudience:  cfg.JWT.AccessAudience,
			RefreshAudience: cfg.JWT.RefreshAudience,
			AccessTTL:       cfg.JWT.AccessTokenTTL,
			RefreshTTL:      cfg.JWT.RefreshTokenTTL,
		},
		GuardConfig: service.LoginGuardConfig{
			IPLimit:          int64(cfg.Auth.IPRateLimit),
			AccountLimit:     int64(cfg.Auth.AccountRateLimit),
			LockoutThreshold: cfg.Auth.LockoutThreshold,
			LockoutDuration:  cfg.Auth.LockoutDuration,
		},
		CookieConfig: handler.CookieWriterConfig{
			Domain:      cfg.Cookie.Domain,
			Secure:      cfg.IsProduction(),
			AccessTTL:   cfg.JWT.AccessTokenTTL,
			RefreshTTL:  cfg.JWT.RefreshTokenTTL,
			DevLifetime: cfg.Cookie.DevLifetime,
		},
		SweeperConfig: &worker.SessionSweeperConfig{
			SweepInterval: cfg.Auth.SweepInterval,
		},
	})
	defer container.Close()

	// Setup Gin
	if cfg.IsDevelopment() {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(appLog))
	router.Use(middleware.CORS())
	if cfg.OTel.Enabled {
		router.Use(telemetry.TracingMiddleware(cfg.OTel.ServiceName))
	}
	router.Use(middleware.RequestGate(container.AuthService, container.CookieWriter, middleware.DefaultPathPolicy()))

	// Health check endpoints
	router.GET("/health", container.HealthHandler.Health)
	router.GET("/ready", container.HealthHandler.Ready)

	// API routes
	v1 := router.Group("/api/v1")
	{
		auth := v1.Group("/auth")
		{
			auth.POST("/register", container.AuthHandler.Register)
			auth.POST("/login", container.AuthHandler.Login)
			auth.POST("/refresh", container.AuthHandler.Refresh)
			auth.POST("/logout", container.AuthHandler.Logout)
			auth.POST("/logout-all", container.AuthHandler.LogoutAll)
			auth.GET("/session", container.AuthHandler.Session)
		}
	}

	// Start the expired-session sweeper
	if err := container.SessionSweeper.Start(ctx); err != nil {
		appLog.Fatal(fmt.Sprintf("Failed to start session sweeper: %v", err))
	}

	// Create HTTP server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
		ReadHeaderTimeout: 2 * time.Second,
	}

	// Start server in goroutine
	go func() {
		appLog.Info(fmt.Sprintf("Auth service listening on %s", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLog.Fatal(fmt.Sprintf("Failed to start server: %v", err))
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	appLog.Info("Shutting down server...")

	container.SessionSweeper.Stop()

	// Give outstanding requests 30 seconds to complete
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLog.Fatal(fmt.Sprintf("Server forced to shutdown: %v", err))
	}

	appLog.Info("Server exited gracefully")
}

// buildEventPublisher connects the Kafka producer when brokers are
// configured; otherwise the event stream is a no-op. The returned
// producer is nil in the no-op case.
func buildEventPublisher(ctx context.Context, cfg *config.Config, appLog *logger.Logger) (event.Publisher, *kafka.Producer) {
	if !cfg.Kafka.Enabled() {
		appLog.Info("Kafka brokers not configured, security events disabled")
		return event.NoopPublisher{}, nil
	}

	producer, err := kafka.NewProducer(ctx, &kafka.ProducerConfig{
		Brokers:       cfg.Kafka.Brokers,
		ClientID:      cfg.Kafka.ClientID,
		MaxRetries:    3,
		RetryInterval: time.Second,
	})
	if err != nil {
		appLog.Warn(fmt.Sprintf("Kafka connection failed, security events disabled: %v", err))
		return event.NoopPublisher{}, nil
	}

	publisher := event.NewKafkaPublisher(producer, &event.KafkaPublisherConfig{
		Topic:  cfg.Kafka.Topic,
		Source: cfg.App.Name,
	})
	if err := publisher.Start(); err != nil {
		appLog.Warn(fmt.Sprintf("Event publisher failed to start, security events disabled: %v", err))
		producer.Close()
		return event.NoopPublisher{}, nil
	}

	appLog.Info("Kafka security event publisher connected")
	return publisher, producer
}

// loadSigningKeys parses the configured Ed25519 PEM pair or generates
// an ephemeral development pair
func loadSigningKeys(cfg *config.Config, appLog *logger.Logger) (ed25519.PrivateKey, ed25519.PublicKey) {
	if cfg.JWT.PrivateKeyPEM != "" && cfg.JWT.PublicKeyPEM != "" {
		privateKey, err := service.ParseEd25519PrivateKey(cfg.JWT.PrivateKeyPEM)
		if err != nil {
			appLog.Fatal(fmt.Sprintf("Invalid JWT private key: %v", err))
		}
		publicKey, err := service.ParseEd25519PublicKey(cfg.JWT.PublicKeyPEM)
		if err != nil {
			appLog.Fatal(fmt.Sprintf("Invalid JWT public key: %v", err))
		}
		return privateKey, publicKey
	}

	publicKey, privateKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		appLog.Fatal(fmt.Sprintf("Failed to generate signing keys: %v", err))
	}
	appLog.Warn("JWT signing keys not configured, generated an ephemeral pair; sessions will not survive a restart")
	return privateKey, publicKey
}
