// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"ticket-service/internal/config"
	"ticket-service/internal/database"
	discovery "ticket-service/internal/discovery/serial"
	"ticket-service/internal/events"
	"ticket-service/internal/handler"
	"ticket-service/internal/journal"
	protoserial "ticket-service/internal/protocol/serial"
	"ticket-service/internal/repository"
	"ticket-service/internal/routes"
	"ticket-service/internal/scanner"
	"ticket-service/internal/service"
	"ticket-service/internal/utils"
)

// Application represents the main application
type Application struct {
	config   *config.Config
	logger   *zap.Logger
	server   *http.Server
	database *database.DB

	// Infrastructure
	journal     *journal.Journal
	eventBus    *events.Bus
	redisClient *redis.Client
	amqp        *events.AMQPPublisher
	wsHandler   *handler.WebSocketHandler

	// Repositories
	ticketRepo repository.TicketRepository

	// Services
	ticketService     *service.TicketService
	redemptionService *service.RedemptionService
	classifier        *scanner.Classifier
	scannerService    *scanner.Service

	// Background work
	scannerCancel context.CancelFunc
	scannerDone   chan struct{}
	replayCancel  context.CancelFunc
	replayDone    sync.WaitGroup
}

// @title Ticket Service API
// @version 1.0.0
// @description Ticket issuing and redemption service fed by a serial barcode scanner

// @host localhost:8080
// @BasePath /api/v1
func main() {
	flags := config.Flags(os.Args[0])
	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Printf("Failed to parse flags: %v\n", err)
		os.Exit(2)
	}

	app, err := NewApplication(flags)
	if err != nil {
		fmt.Printf("Failed to initialize application: %v\n", err)
		os.Exit(1)
	}

	if err := app.Start(); err != nil {
		app.logger.Fatal("Failed to start application", zap.Error(err))
	}
}

// NewApplication creates a new application instance
func NewApplication(flags *pflag.FlagSet) (*Application, error) {
	cfg, err := config.Load(flags)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := utils.NewLogger(&cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	serviceLogger := utils.NewServiceLogger(logger, "ticket-service")
	serviceLogger.LogServiceStart(cfg.App.Version, cfg.App.Environment)

	app := &Application{
		config: cfg,
		logger: logger,
	}

	if err := app.initializeStore(); err != nil {
		return nil, fmt.Errorf("failed to initialize ticket store: %w", err)
	}

	if err := app.initializeJournal(); err != nil {
		return nil, fmt.Errorf("failed to initialize journal: %w", err)
	}

	if err := app.initializeEvents(); err != nil {
		return nil, fmt.Errorf("failed to initialize events: %w", err)
	}

	app.initializeServices()
	app.initializeServer()

	return app, nil
}

// initializeStore connects the ticket repository and runs migrations
func (app *Application) initializeStore() error {
	if app.config.Store.Driver == "memory" {
		app.ticketRepo = repository.NewMemoryTicketRepository(app.logger)
		app.logger.Warn("Tickets are kept in memory and lost on restart")
		return nil
	}

	db, err := database.NewConnection(app.config, app.logger)
	if err != nil {
		return fmt.Errorf("failed to create database connection: %w", err)
	}
	app.database = db

	if app.config.Database.AutoMigrate {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		migrator := database.NewMigrator(db, app.logger, &app.config.Database)
		if err := migrator.Up(ctx); err != nil {
			return fmt.Errorf("failed to run database migrations: %w", err)
		}
	}

	app.ticketRepo = repository.NewTicketRepository(db, app.logger)
	app.logger.Info("Database initialized successfully")
	return nil
}

// initializeJournal opens the local journal of unredeemed codes
func (app *Application) initializeJournal() error {
	if !app.config.Journal.Enabled {
		app.logger.Warn("Journal disabled, codes are lost when the ticket store is down")
		return nil
	}

	j, err := journal.Open(&app.config.Journal, app.logger)
	if err != nil {
		return err
	}
	app.journal = j
	return nil
}

// initializeEvents wires the event bus and its sinks
func (app *Application) initializeEvents() error {
	cfg := app.config.Events
	app.eventBus = events.NewBus(cfg.BufferSize, cfg.PublishTimeout, app.logger)

	app.wsHandler = handler.NewWebSocketHandler(app.config.Security.AllowedOrigins, app.logger)
	app.eventBus.AddSink(app.wsHandler)

	if cfg.RedisEnabled {
		app.redisClient = redis.NewClient(&redis.Options{
			Addr:     app.config.GetRedisAddr(),
			Password: app.config.Redis.Password,
			DB:       app.config.Redis.DB,
			PoolSize: app.config.Redis.PoolSize,
		})

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := app.redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		app.eventBus.AddSink(events.NewRedisPublisher(app.redisClient, cfg.RedisStream, cfg.RedisMaxLen))
	}

	if cfg.AMQPEnabled {
		publisher, err := events.NewAMQPPublisher(app.config.GetRabbitMQURL(), app.config.RabbitMQ.Exchange)
		if err != nil {
			return err
		}
		app.amqp = publisher
		app.eventBus.AddSink(publisher)
	}

	go app.eventBus.Start()
	return nil
}

// initializeServices creates service instances
func (app *Application) initializeServices() {
	var redemptionJournal service.Journal
	if app.journal != nil {
		redemptionJournal = app.journal
	}

	app.ticketService = service.NewTicketService(app.ticketRepo, app.logger)
	app.redemptionService = service.NewRedemptionService(
		app.ticketRepo,
		redemptionJournal,
		app.eventBus,
		app.config,
		app.logger,
	)

	app.classifier = scanner.NewClassifier(&app.config.Classifier)

	scannerCfg := &app.config.Scanner
	portConfig := func(port string) *protoserial.Config {
		return &protoserial.Config{
			Port:        port,
			BaudRate:    scannerCfg.BaudRate,
			DataBits:    scannerCfg.DataBits,
			StopBits:    scannerCfg.StopBits,
			Parity:      scannerCfg.Parity,
			Encoding:    scannerCfg.Encoding,
			ReadTimeout: scannerCfg.ReadTimeout,
		}
	}

	discoverer := discovery.NewScanner(&discovery.Config{
		DeviceName:   scannerCfg.DeviceName,
		DefaultPort:  scannerCfg.DefaultPort,
		ProbeTimeout: scannerCfg.ProbeTimeout,
		Mode:         portConfig("").Mode(),
	}, app.logger)

	newSource := func(port string) (scanner.Source, error) {
		conn, err := protoserial.NewConnection(portConfig(port), nil, app.logger)
		if err != nil {
			return nil, err
		}
		return conn, nil
	}

	app.scannerService = scanner.NewService(
		scannerCfg,
		app.config.Redemption.Timeout,
		app.classifier,
		app.redemptionService,
		discoverer,
		newSource,
		app.logger,
	)

	app.logger.Info("Services initialized successfully")
}

// initializeServer sets up HTTP server and routes
func (app *Application) initializeServer() {
	routerManager := routes.NewRouter(
		app.config,
		app.logger,
		app.database,
		app.ticketRepo,
		app.ticketService,
		app.redemptionService,
		app.classifier,
		app.scannerService,
		app.wsHandler,
	)

	app.server = &http.Server{
		Addr:         app.config.GetServerAddr(),
		Handler:      routerManager.SetupRouter(),
		ReadTimeout:  app.config.Server.ReadTimeout,
		WriteTimeout: app.config.Server.WriteTimeout,
		IdleTimeout:  app.config.Server.IdleTimeout,
	}

	app.logger.Info("HTTP server initialized",
		zap.String("address", app.config.GetServerAddr()),
		zap.Bool("tls_enabled", app.config.Server.TLS.Enabled),
	)
}

// startBackgroundServices starts the scanner and the journal replay loop
func (app *Application) startBackgroundServices() {
	app.scannerDone = make(chan struct{})
	if app.config.Scanner.Enabled {
		ctx, cancel := context.WithCancel(context.Background())
		app.scannerCancel = cancel
		go func() {
			defer close(app.scannerDone)
			// a scanner failure leaves the HTTP API and the journal running
			if err := app.scannerService.Run(ctx); err != nil {
				app.logger.Error("Scanner stopped", zap.Error(err))
			}
		}()
	} else {
		app.scannerService.MarkDisabled()
		close(app.scannerDone)
		app.logger.Info("Serial scanner disabled")
	}

	if app.journal != nil {
		ctx, cancel := context.WithCancel(context.Background())
		app.replayCancel = cancel
		app.replayDone.Add(1)
		go app.startJournalReplay(ctx)
	}

	app.logger.Info("Background services started")
}

// startJournalReplay periodically re-runs journaled codes
func (app *Application) startJournalReplay(ctx context.Context) {
	defer app.replayDone.Done()

	interval := app.config.Journal.SyncInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	app.logger.Info("Journal replay started", zap.Duration("interval", interval))

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			replayed, err := app.redemptionService.ReplayJournal(ctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				app.logger.Warn("Journal replay incomplete",
					zap.Int("replayed", replayed),
					zap.Error(err),
				)
			}
		}
	}
}

// waitForShutdown waits for shutdown signal and performs graceful shutdown
func (app *Application) waitForShutdown() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	sig := <-quit
	app.logger.Info("Received shutdown signal", zap.String("signal", sig.String()))

	app.shutdown()
}

// shutdown stops intake first, then drains redemptions and events, then
// closes the stores
func (app *Application) shutdown() {
	serviceLogger := utils.NewServiceLogger(app.logger, "ticket-service")
	serviceLogger.LogServiceStop("shutdown signal received")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Error("HTTP server shutdown error", zap.Error(err))
	} else {
		app.logger.Info("HTTP server stopped")
	}

	// Run waits for in-flight redemptions before returning
	if app.scannerCancel != nil {
		app.scannerCancel()
	}
	<-app.scannerDone

	if app.replayCancel != nil {
		app.replayCancel()
	}
	app.replayDone.Wait()

	app.eventBus.Close()
	app.wsHandler.Close()

	if app.amqp != nil {
		if err := app.amqp.Close(); err != nil {
			app.logger.Error("RabbitMQ close error", zap.Error(err))
		}
	}

	if app.redisClient != nil {
		if err := app.redisClient.Close(); err != nil {
			app.logger.Error("Redis close error", zap.Error(err))
		}
	}

	if app.journal != nil {
		if err := app.journal.Close(); err != nil {
			app.logger.Error("Journal close error", zap.Error(err))
		}
	}

	if app.database != nil {
		if err := app.database.Close(); err != nil {
			app.logger.Error("Database close error", zap.Error(err))
		} else {
			app.logger.Info("Database connection closed")
		}
	}

	app.logger.Info("Application shutdown completed")

	if err := utils.CloseLogger(app.logger); err != nil {
		fmt.Printf("Logger close error: %v\n", err)
	}
}

// Start serves HTTP, runs the background services and blocks until shutdown
func (app *Application) Start() error {
	go func() {
		app.logger.Info("Starting HTTP server",
			zap.String("address", app.server.Addr),
		)

		var err error
		if app.config.Server.TLS.Enabled {
			err = app.server.ListenAndServeTLS(
				app.config.Server.TLS.CertFile,
				app.config.Server.TLS.KeyFile,
			)
		} else {
			err = app.server.ListenAndServe()
		}

		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.logger.Fatal("Failed to start HTTP server", zap.Error(err))
		}
	}()

	app.startBackgroundServices()

	app.waitForShutdown()

	return nil
}
