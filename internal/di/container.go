package di

import (
	"context"
	"errors"
	"fmt"

	"github.com/Loafy-club/Booking/internal/gateway"
	"github.com/Loafy-club/Booking/internal/handler"
	"github.com/Loafy-club/Booking/internal/pricing"
	"github.com/Loafy-club/Booking/internal/repository"
	"github.com/Loafy-club/Booking/internal/service"
	"github.com/Loafy-club/Booking/pkg/config"
	"github.com/Loafy-club/Booking/pkg/database"
	"github.com/Loafy-club/Booking/pkg/kafka"
	"github.com/Loafy-club/Booking/pkg/logger"
	"github.com/Loafy-club/Booking/pkg/rabbitmq"
	pkgredis "github.com/Loafy-club/Booking/pkg/redis"
	"github.com/Loafy-club/Booking/pkg/retry"
	"go.uber.org/zap"
)

// Container holds all dependencies for the booking processes
type Container struct {
	Config *config.Config

	// Infrastructure
	DB    *database.PostgresDB
	Redis *pkgredis.Client // nil when Redis is disabled or unreachable
	Store repository.Store

	// Publishers and gateways
	EventPublisher service.EventPublisher
	Gateway        gateway.PaymentGateway

	// Services
	Settings       service.SettingsProvider
	RefundService  *service.RefundService
	BookingService service.BookingService
	TicketService  service.TicketService
	BillingService service.BillingService
	SessionService service.SessionService

	// Handlers
	HealthHandler       *handler.HealthHandler
	BookingHandler      *handler.BookingHandler
	SessionHandler      *handler.SessionHandler
	TicketHandler       *handler.TicketHandler
	SubscriptionHandler *handler.SubscriptionHandler
	AdminHandler        *handler.AdminHandler
	WebhookHandler      *handler.WebhookHandler

	broker  handler.HealthChecker // active event transport, nil when none
	closers []func() error
}

// ContainerConfig contains configuration for building the container
type ContainerConfig struct {
	Config      *config.Config
	ServiceName string

	// Store overrides the PostgreSQL store; DB is not opened when set
	Store repository.Store
}

// NewContainer connects infrastructure and wires services and handlers.
// Redis and the event broker are optional: failures are logged and the
// container degrades to running without them.
func NewContainer(ctx context.Context, cc *ContainerConfig) (*Container, error) {
	cfg := cc.Config
	log := logger.Get()
	c := &Container{Config: cfg}

	if cc.Store != nil {
		c.Store = cc.Store
	} else {
		dbCfg := database.DefaultPostgresConfig()
		dbCfg.Host = cfg.Database.Host
		dbCfg.Port = cfg.Database.Port
		dbCfg.User = cfg.Database.User
		dbCfg.Password = cfg.Database.Password
		dbCfg.Database = cfg.Database.DBName
		dbCfg.SSLMode = cfg.Database.SSLMode
		dbCfg.MaxConns = int32(cfg.Database.MaxOpenConns)
		dbCfg.MinConns = int32(cfg.Database.MaxIdleConns)
		dbCfg.MaxConnLifetime = cfg.Database.ConnMaxLifetime
		dbCfg.MaxConnIdleTime = cfg.Database.ConnMaxIdleTime
		dbCfg.EnableTracing = cfg.OTel.Enabled
		dbCfg.ApplicationName = cc.ServiceName

		db, err := database.NewPostgres(ctx, dbCfg)
		if err != nil {
			return nil, fmt.Errorf("database connection failed: %w", err)
		}
		c.DB = db
		c.closers = append(c.closers, func() error { db.Close(); return nil })
		c.Store = repository.NewPostgresStore(db.Pool())
		log.Info(fmt.Sprintf("Database connected (pool: max=%d)", cfg.Database.MaxOpenConns))
	}

	if cfg.Redis.Enabled {
		redisCfg := pkgredis.DefaultConfig()
		redisCfg.Host = cfg.Redis.Host
		redisCfg.Port = cfg.Redis.Port
		redisCfg.Password = cfg.Redis.Password
		redisCfg.DB = cfg.Redis.DB
		redisCfg.PoolSize = cfg.Redis.PoolSize
		redisCfg.MinIdleConns = cfg.Redis.MinIdleConns
		redisCfg.DialTimeout = cfg.Redis.DialTimeout
		redisCfg.ReadTimeout = cfg.Redis.ReadTimeout
		redisCfg.WriteTimeout = cfg.Redis.WriteTimeout
		redisCfg.MaxRetries = 1

		client, err := pkgredis.NewClient(ctx, redisCfg)
		if err != nil {
			log.Warn("Redis unavailable, continuing without cache, lease and idempotency", zap.Error(err))
		} else {
			c.Redis = client
			c.closers = append(c.closers, client.Close)
		}
	}

	dlq := c.initPublishers(ctx, cc.ServiceName)

	gw, err := newGateway(&cfg.Stripe)
	if err != nil {
		_ = c.Close(ctx)
		return nil, err
	}
	c.Gateway = gw

	rounding, err := roundingFrom(&cfg.Booking)
	if err != nil {
		_ = c.Close(ctx)
		return nil, err
	}

	// A nil *pkgredis.Client must not become a non-nil interface
	var cache service.SettingsCache
	if c.Redis != nil {
		cache = c.Redis
	}
	c.Settings = service.NewSettingsProvider(c.Store, cache, cfg.Booking.SettingsCacheTTL, cfg.Booking.OutOfTicketDiscountPercent)

	c.RefundService = service.NewRefundService(c.Store, c.Gateway, dlq, &retry.Config{
		MaxRetries:      cfg.Refund.MaxRetries,
		InitialInterval: cfg.Refund.InitialInterval,
		MaxInterval:     cfg.Refund.MaxInterval,
		Multiplier:      2.0,
		JitterFactor:    0.1,
	}, c.EventPublisher, cfg.Events.RefundsDLQ)

	c.BookingService = service.NewBookingService(
		c.Store,
		c.Settings,
		c.Gateway,
		c.RefundService,
		c.EventPublisher,
		&service.BookingServiceConfig{
			DefaultBasePrice:            cfg.Booking.DefaultBasePrice,
			PaymentWindow:               cfg.Booking.PaymentWindow,
			Rounding:                    rounding,
			SubscriberCancellationHours: cfg.Booking.SubscriberCancellationHours,
			DropInCancellationHours:     cfg.Booking.DropInCancellationHours,
			MaxGuests:                   cfg.Booking.MaxGuests,
			Currency:                    cfg.Booking.Currency,
		},
	)
	c.TicketService = service.NewTicketService(c.Store, c.EventPublisher)
	subscriptions, _ := c.Gateway.(gateway.SubscriptionGateway)
	c.BillingService = service.NewBillingService(c.Store, subscriptions, c.EventPublisher, cfg.Billing.SubscriptionTickets)
	c.SessionService = service.NewSessionService(c.Store, c.RefundService, c.EventPublisher)

	// Initialize handlers
	components := map[string]handler.HealthChecker{"redis": nil}
	if c.DB != nil {
		components["database"] = c.DB
	}
	if c.Redis != nil {
		components["redis"] = c.Redis
	}
	if c.broker != nil {
		components[cfg.Events.Transport] = c.broker
	}
	c.HealthHandler = handler.NewHealthHandler(components)
	c.BookingHandler = handler.NewBookingHandler(c.BookingService)
	c.SessionHandler = handler.NewSessionHandler(c.SessionService)
	c.TicketHandler = handler.NewTicketHandler(c.TicketService)
	c.SubscriptionHandler = handler.NewSubscriptionHandler(c.BillingService)
	c.AdminHandler = handler.NewAdminHandler(c.TicketService, c.SessionService)
	c.WebhookHandler = handler.NewWebhookHandler(
		gateway.NewWebhookParser(cfg.Stripe.WebhookSecret),
		c.BookingService,
		c.BillingService,
	)

	return c, nil
}

// initPublishers selects the event transport and returns the refund DLQ
// publisher on the same broker
func (c *Container) initPublishers(ctx context.Context, serviceName string) retry.DLQPublisher {
	cfg := c.Config
	log := logger.Get()

	switch cfg.Events.Transport {
	case "kafka":
		producerCfg := kafka.DefaultProducerConfig()
		producerCfg.Brokers = cfg.Kafka.Brokers
		producerCfg.ClientID = cfg.Kafka.ClientID
		producer, err := kafka.NewProducer(ctx, producerCfg)
		if err != nil {
			log.Warn(fmt.Sprintf("Kafka connection failed, using no-op publisher: %v", err))
			break
		}
		c.EventPublisher = service.NewKafkaEventPublisher(producer, cfg.Events.Topic, serviceName, func() error {
			producer.Close()
			return nil
		})
		c.closers = append(c.closers, c.EventPublisher.Close)
		c.broker = producer
		log.Info("Kafka event publisher connected")
		return retry.NewTopicDLQPublisher(producer, cfg.Events.RefundsDLQ, serviceName)

	case "rabbitmq":
		publisher, err := rabbitmq.NewPublisher(&rabbitmq.Config{
			URL:      cfg.RabbitMQ.URL,
			Exchange: cfg.RabbitMQ.Exchange,
		})
		if err != nil {
			log.Warn(fmt.Sprintf("RabbitMQ connection failed, using no-op publisher: %v", err))
			break
		}
		c.EventPublisher = service.NewRabbitMQEventPublisher(publisher, serviceName, publisher.Close)
		c.closers = append(c.closers, c.EventPublisher.Close)
		c.broker = publisher
		log.Info("RabbitMQ event publisher connected")
		return retry.NewTopicDLQPublisher(publisher, cfg.Events.RefundsDLQ, serviceName)
	}

	c.EventPublisher = service.NewNoOpEventPublisher()
	return retry.NoOpDLQPublisher{}
}

func newGateway(cfg *config.StripeConfig) (gateway.PaymentGateway, error) {
	if cfg.UseMock {
		logger.Get().Warn("Using mock payment gateway")
		return gateway.NewMockGateway(nil), nil
	}
	gw, err := gateway.NewStripeGateway(&gateway.StripeGatewayConfig{
		SecretKey:     cfg.SecretKey,
		WebhookSecret: cfg.WebhookSecret,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create payment gateway: %w", err)
	}
	return gw, nil
}

func roundingFrom(cfg *config.BookingConfig) (pricing.Rounding, error) {
	mode, err := pricing.ParseRoundingMode(cfg.RoundingMode)
	if err != nil {
		return pricing.Rounding{}, err
	}
	minorUnit := cfg.MinorUnit
	if minorUnit <= 0 {
		minorUnit = 1
	}
	return pricing.Rounding{Mode: mode, MinorUnit: minorUnit}, nil
}

// Close waits for in-flight refunds, then releases connections in reverse
// order of creation
func (c *Container) Close(ctx context.Context) error {
	var errs []error
	if c.RefundService != nil {
		if err := c.RefundService.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("refunds: %w", err))
		}
	}
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}
