package di

import (
	"github.com/statlinehq/statline-auth/internal/event"
	"github.com/statlinehq/statline-auth/internal/handler"
	"github.com/statlinehq/statline-auth/internal/repository"
	"github.com/statlinehq/statline-auth/internal/service"
	"github.com/statlinehq/statline-auth/internal/worker"
	"github.com/statlinehq/statline-auth/pkg/database"
	"github.com/statlinehq/statline-auth/pkg/redis"
)

// Container holds all dependencies for the auth service
type Container struct {
	// Infrastructure
	DB    *database.PostgresDB
	Redis *redis.Client

	// Repositories
	UserRepo     repository.UserRepository
	SessionRepo  repository.SessionRepository
	ThrottleRepo repository.LoginThrottleRepository

	// Publishers
	EventPublisher event.Publisher

	// Services
	TokenService *service.TokenService
	LoginGuard   *service.LoginGuard
	AuthService  service.AuthService

	// Handlers
	CookieWriter  *handler.CookieWriter
	AuthHandler   *handler.AuthHandler
	HealthHandler *handler.HealthHandler

	// Workers
	SessionSweeper *worker.SessionSweeper
}

// ContainerConfig contains configuration for building the container
type ContainerConfig struct {
	DB             *database.PostgresDB
	Redis          *redis.Client
	UserRepo       repository.UserRepository
	SessionRepo    repository.SessionRepository
	ThrottleRepo   repository.LoginThrottleRepository
	EventPublisher event.Publisher
	BreachChecker  service.BreachChecker
	TokenConfig    service.TokenConfig
	GuardConfig    service.LoginGuardConfig
	CookieConfig   handler.CookieWriterConfig
	SweeperConfig  *worker.SessionSweeperConfig
}

// NewContainer creates a new dependency injection container
func NewContainer(cfg *ContainerConfig) *Container {
	c := &Container{
		DB:             cfg.DB,
		Redis:          cfg.Redis,
		UserRepo:       cfg.UserRepo,
		SessionRepo:    cfg.SessionRepo,
		ThrottleRepo:   cfg.ThrottleRepo,
		EventPublisher: cfg.EventPublisher,
	}

	// Initialize services
	c.TokenService = service.NewTokenService(cfg.TokenConfig)
	c.LoginGuard = service.NewLoginGuard(c.ThrottleRepo, c.UserRepo, cfg.GuardConfig)
	c.AuthService = service.NewAuthService(
		c.UserRepo,
		c.SessionRepo,
		c.LoginGuard,
		service.NewArgon2Hasher(service.DefaultArgon2Params()),
		cfg.BreachChecker,
		c.TokenService,
		c.EventPublisher,
	)

	// Initialize handlers
	c.CookieWriter = handler.NewCookieWriter(cfg.CookieConfig)
	c.AuthHandler = handler.NewAuthHandler(c.AuthService, c.CookieWriter)
	c.HealthHandler = handler.NewHealthHandler(c.DB, c.Redis)

	// Initialize workers
	c.SessionSweeper = worker.NewSessionSweeper(c.SessionRepo, cfg.SweeperConfig)

	return c
}

// Close releases the resources the container holds. The event
// publisher is stopped first so buffered events still reach the broker
// before the connections go away.
func (c *Container) Close() {
	if publisher, ok := c.EventPublisher.(*event.KafkaPublisher); ok {
		publisher.Stop()
	}
	if c.Redis != nil {
		_ = c.Redis.Close()
	}
	if c.DB != nil {
		c.DB.Close()
	}
}
