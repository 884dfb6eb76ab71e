package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/streadway/amqp"
	"go.uber.org/zap"

	"mpesa-orders/internal/config"
	"mpesa-orders/internal/handlers"
	"mpesa-orders/internal/logger"
	"mpesa-orders/internal/metrics"
	"mpesa-orders/internal/middleware"
	"mpesa-orders/internal/repositories"
	"mpesa-orders/internal/services"
	"mpesa-orders/pkg/mailer"
	"mpesa-orders/pkg/mpesa"
	"mpesa-orders/pkg/rabbitmq"
)

// deps are the long-lived resources the HTTP app is built from.
type deps struct {
	cfg     config.Config
	log     *zap.Logger
	store   *repositories.Store
	gateway *mpesa.Client
	mq      *rabbitmq.Client // nil when publishing is disabled
	sender  mailer.Sender
}

// application is the wired HTTP app plus what has to be drained on shutdown.
type application struct {
	fiber *fiber.App
	pool  *services.WorkerPool
	auth  *services.AuthService
}

func main() {
	// --- Configuration ---
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	zl, err := logger.New(cfg.LogLevel, cfg.Env)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer zl.Sync() //nolint:errcheck

	// --- Database ---
	store, err := repositories.Open(cfg.DBDriver, cfg.DatabaseDSN, zl)
	if err != nil {
		zl.Fatal("failed to open database", zap.Error(err))
	}
	defer store.Close()

	// --- RabbitMQ (optional) ---
	var mqClient *rabbitmq.Client
	if cfg.RabbitMQURL != "" {
		mqClient, err = rabbitmq.NewClient(rabbitmq.Config{URL: cfg.RabbitMQURL})
		if err != nil {
			zl.Fatal("failed to initialize RabbitMQ client", zap.Error(err))
		}
		defer mqClient.Close()
	} else {
		zl.Info("RABBITMQ_URL not set, order events will not be published")
	}

	// --- Payment gateway ---
	gateway := mpesa.NewClient(mpesa.Config{
		BaseURL:          cfg.Mpesa.BaseURL,
		ConsumerKey:      cfg.Mpesa.ConsumerKey,
		ConsumerSecret:   cfg.Mpesa.ConsumerSecret,
		ShortCode:        cfg.Mpesa.ShortCode,
		Passkey:          cfg.Mpesa.Passkey,
		CallbackURL:      cfg.Mpesa.CallbackURL,
		AccountReference: cfg.Mpesa.AccountReference,
		Timeout:          cfg.Mpesa.Timeout,
	})
	if !gateway.Configured() {
		zl.Warn("payment gateway credentials missing, push requests will fail")
	}

	// --- Mail ---
	var sender mailer.Sender
	if cfg.SMTP.Host != "" {
		sender = mailer.NewSMTPSender(mailer.SMTPConfig{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
		})
	} else {
		sender = mailer.NewLogSender(zl)
	}

	app := newApp(deps{cfg: cfg, log: zl, store: store, gateway: gateway, mq: mqClient, sender: sender})

	ctx := context.Background()
	if err := app.auth.EnsureOperator(ctx, cfg.AdminUsername, cfg.AdminEmail, cfg.AdminPassword); err != nil {
		zl.Fatal("failed to ensure operator account", zap.Error(err))
	}

	// --- RabbitMQ consumer ---
	if mqClient != nil {
		startEventConsumer(mqClient, zl)
	}

	// --- Start HTTP Server ---
	zl.Info("starting server", zap.String("port", cfg.AppPort), zap.String("env", cfg.Env))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := app.fiber.Listen(cfg.AppPort); err != nil {
			zl.Fatal("server failed to start", zap.Error(err))
		}
	}()

	<-quit
	zl.Info("shutting down server")

	if err := app.fiber.ShutdownWithTimeout(10 * time.Second); err != nil {
		zl.Error("error during Fiber shutdown", zap.Error(err))
	}
	// In-flight notifications and emails are finished before the connections close.
	app.pool.Close()
	zl.Info("server gracefully stopped")
}

// newApp wires repositories, services and handlers into a Fiber app.
func newApp(d deps) *application {
	m := metrics.NewRegistry()
	pool := services.NewWorkerPool(d.cfg.Dispatch.QueueSize, d.cfg.Dispatch.Workers, m, d.log)

	// A nil *rabbitmq.Client must not end up inside a non-nil interface.
	var (
		publisher services.EventPublisher
		broker    handlers.BrokerStatus
	)
	if d.mq != nil {
		publisher = d.mq
		broker = d.mq
	}

	// --- Services ---
	notificationService := services.NewNotificationService(d.store.Notifications, publisher, pool, d.log)
	emailService := services.NewEmailService(d.sender, d.cfg.AdminEmail)
	orderService := services.NewOrderService(d.store.Orders, notificationService, m, d.log)
	paymentService := services.NewPaymentService(
		d.store.Orders,
		d.gateway,
		notificationService,
		emailService,
		pool,
		services.PaymentConfig{
			LookupAttempts: d.cfg.Callback.LookupAttempts,
			LookupBackoff:  d.cfg.Callback.LookupBackoff,
		},
		m,
		d.log,
	)
	authService := services.NewAuthService(d.store.Users, d.cfg.JWTSecret, d.log)

	// --- Handlers ---
	orderHandler := handlers.NewOrderHandler(orderService, d.log)
	paymentHandler := handlers.NewPaymentHandler(paymentService, m, d.log)
	notificationHandler := handlers.NewNotificationHandler(notificationService, d.log)
	authHandler := handlers.NewAuthHandler(authService, d.log)
	healthHandler := handlers.NewHealthHandler(d.store, broker, d.gateway)

	app := fiber.New(fiber.Config{
		AppName:               "mpesa-orders",
		DisableStartupMessage: !d.cfg.IsDevelopment(),
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{"success": false, "message": err.Error()})
		},
	})

	// --- Middleware ---
	app.Use(recover.New())
	app.Use(middleware.RequestLogger(d.log))
	app.Use(cors.New(cors.Config{AllowOrigins: d.cfg.CORSAllowOrigins}))

	auth := middleware.AuthRequired(authService, d.log)

	// --- Routes ---
	healthHandler.RegisterRoutes(app)
	app.Get("/metrics", adaptor.HTTPHandler(m.Handler()))
	authHandler.RegisterRoutes(app)
	orderHandler.RegisterRoutes(app, auth)
	paymentHandler.RegisterRoutes(app)
	notificationHandler.RegisterRoutes(app, auth)

	return &application{fiber: app, pool: pool, auth: authService}
}

// startEventConsumer logs every order event that reaches the queue.
func startEventConsumer(mq *rabbitmq.Client, zl *zap.Logger) {
	consumerLog := zl.Named("events")
	messageHandler := func(msg amqp.Delivery) error {
		var event services.OrderEvent
		if err := json.Unmarshal(msg.Body, &event); err != nil {
			return err
		}
		consumerLog.Info("order event received",
			zap.String("type", msg.Type),
			zap.String("orderID", event.OrderID),
			zap.String("severity", string(event.Severity)),
			zap.String("message", event.Message),
		)
		return nil
	}
	onError := func(tag uint64, err error) {
		consumerLog.Warn("order event not processed", zap.Uint64("deliveryTag", tag), zap.Error(err))
	}
	if err := mq.ConsumeEvents(messageHandler, onError); err != nil {
		consumerLog.Error("failed to start RabbitMQ consumer", zap.Error(err))
		return
	}
	consumerLog.Info("RabbitMQ consumer started", zap.String("queue", rabbitmq.DefaultQueue))
}
