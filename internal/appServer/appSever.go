package appServer

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ds124wfegd/studio-booking/config"
	repository "github.com/ds124wfegd/studio-booking/internal/database/postgres"
	"github.com/ds124wfegd/studio-booking/internal/service"
	"github.com/ds124wfegd/studio-booking/internal/transport"
	"github.com/ds124wfegd/studio-booking/internal/worker"

	"github.com/ds124wfegd/studio-booking/pkg/postgres"
	"github.com/ds124wfegd/studio-booking/pkg/queue"
	"github.com/ds124wfegd/studio-booking/pkg/rabbitMQ"
	redisclient "github.com/ds124wfegd/studio-booking/pkg/redis"
	"github.com/ds124wfegd/studio-booking/pkg/scheduler"
	"github.com/ds124wfegd/studio-booking/pkg/stripeclient"
	"github.com/ds124wfegd/studio-booking/pkg/telegram"

	"github.com/gin-gonic/gin"
	goredis "github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

type Server struct {
	httpServer *http.Server
}

func (s *Server) Run(cfg *config.Config, handler http.Handler) error {
	s.httpServer = &http.Server{
		Addr:              cfg.GetServerAddress(),
		Handler:           handler,
		MaxHeaderBytes:    1 << 20,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      cfg.Server.Timeout + 5*time.Second,
		IdleTimeout:       cfg.Server.IdleTimeout,
		ReadHeaderTimeout: 3 * time.Second,
		TLSConfig:         &tls.Config{MinVersion: tls.VersionTLS12},
		ErrorLog:          log.New(logrus.StandardLogger().WriterLevel(logrus.ErrorLevel), "", 0),
	}
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// SetupLogging configures the standard logrus logger.
func SetupLogging(cfg config.LogConfig) {
	if cfg.Format == "text" {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	}
	logrus.SetOutput(os.Stdout)

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		logrus.Warnf("Unknown log level %q, using info", cfg.Level)
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
}

// NewServer wires every component and blocks until SIGINT or SIGTERM.
func NewServer(cfg *config.Config) error {
	SetupLogging(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize database
	db, err := postgres.NewPostgresDB(&cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer db.Close()

	if cfg.Database.AutoMigrate {
		if err := postgres.RunMigrations(ctx, db); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	// Initialize repositories
	sessionRepo := repository.NewSessionRepository(db)
	capacityRepo := repository.NewCapacityRepository(db)
	bookingRepo := repository.NewBookingRepository(db)
	userRepo := repository.NewUserRepository(db)
	purchaseRepo := repository.NewPurchaseRepository(db)
	journal := repository.NewPaymentEventRepository(db)

	// Notifications
	var notifiers service.MultiNotifier
	var taskQueue *queue.RedisQueue

	if cfg.Queue.Enabled && cfg.Telegram.Enabled {
		redisClient, err := redisclient.NewRedisClient(ctx, &cfg.Redis)
		if err != nil {
			return err
		}
		defer redisClient.Close()

		taskQueue = newTaskQueue(redisClient, cfg.Queue)
		notifiers = append(notifiers, service.NewQueueNotifier(taskQueue))
		logrus.Info("Redis notification queue initialized")
	} else {
		logrus.Warn("Notification queue or telegram disabled, user notifications are not delivered")
	}

	if cfg.RabbitMQ.Enabled {
		publisher, err := rabbitMQ.NewPublisher(cfg.RabbitMQ.URL, cfg.RabbitMQ.Exchange)
		if err != nil {
			return err
		}
		defer publisher.Close()

		notifiers = append(notifiers, service.NewEventNotifier(publisher))
		logrus.WithField("exchange", cfg.RabbitMQ.Exchange).Info("RabbitMQ event publisher initialized")
	}

	processor, err := stripeclient.New(cfg.Stripe)
	if err != nil {
		return fmt.Errorf("failed to init stripe client: %w", err)
	}

	// Initialize services
	bookingService := service.NewBookingService(sessionRepo, capacityRepo, bookingRepo, notifiers, cfg.Booking)
	paymentService := service.NewPaymentService(
		userRepo,
		purchaseRepo,
		journal,
		processor,
		service.NewPricing(cfg.Payments),
		notifiers,
		service.PaymentOptions{
			ReclaimAfter:  cfg.Payments.ReclaimAfter,
			NotifyTimeout: cfg.Payments.NotifyTimeout,
		},
	)

	// Initialize handlers
	handlers := transport.Handlers{
		Booking: transport.NewBookingHandler(bookingService),
		Payment: transport.NewPaymentHandler(paymentService),
	}

	if taskQueue != nil {
		bot := telegram.NewBot(cfg.Telegram.BotToken, cfg.Telegram.BaseURL, cfg.Telegram.Timeout)
		handler := worker.NewNotificationHandler(userRepo, bookingRepo, bot)
		if err := taskQueue.Subscribe(ctx, handler.Handle); err != nil {
			return fmt.Errorf("failed to subscribe to notification queue: %w", err)
		}
		defer taskQueue.Close()

		handlers.Tasks = transport.NewTaskHandler(taskQueue.DLQ())
	}

	jobs := scheduler.New()
	jobs.Add(worker.NewPurchaseReconciler(paymentService, cfg.Worker), cfg.Worker.ReconcileInterval)
	if err := jobs.Start(ctx); err != nil {
		return err
	}
	defer jobs.Stop()

	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	srv := new(Server)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := srv.Run(cfg, transport.InitRoutes(handlers, cfg.JWT, cfg.Server.Timeout))
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		<-gctx.Done()
		logrus.Print("App Shutting Down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	logrus.WithFields(logrus.Fields{
		"addr":    cfg.GetServerAddress(),
		"version": cfg.Server.AppVersion,
	}).Print("App Started")

	return g.Wait()
}

func newTaskQueue(client *goredis.Client, cfg config.QueueConfig) *queue.RedisQueue {
	dlq := queue.NewRedisDLQHandler(client, cfg.DLQ, cfg.MainQueue)
	return queue.NewRedisQueue(client, queue.RedisQueueConfig{
		MainQueue:       cfg.MainQueue,
		DelayedQueue:    cfg.DelayedQueue,
		ProcessingQueue: cfg.ProcessingQueue,
		DLQ:             cfg.DLQ,
		MaxRetries:      cfg.MaxRetries,
		BaseDelay:       cfg.BaseDelay,
		PollTimeout:     cfg.PollTimeout,
		DelayedInterval: cfg.DelayedInterval,
	}, dlq)
}
