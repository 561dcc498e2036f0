package main

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	httpserver "callguard/pkg/http"
	"callguard/pkg/live"
	"callguard/pkg/messaging"
	"callguard/pkg/metrics"
	"callguard/pkg/ratelimit"
	"callguard/pkg/session"
	"callguard/pkg/telemetry/tracing"
	"callguard/pkg/upload"
	"callguard/pkg/util"
)

const shutdownTimeout = 30 * time.Second

// shutdown stages
const (
	stageSession = iota + 1
	stageHTTP
	stageEvents
	stageConnections
)

func newServeCommand() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the call protection service and dashboard API",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("port") {
				appConfig.HTTP.Port = port
			}
			return serve(cmd.Context())
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "HTTP port (overrides HTTP_PORT)")
	return cmd
}

func serve(ctx context.Context) error {
	cfg := appConfig
	shutdown := util.NewGracefulShutdown(logger, shutdownTimeout)

	metrics.StartMetrics(logger, cfg.HTTP.EnableMetrics)

	tracingShutdown, err := tracing.Init(ctx, cfg.Tracing, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	shutdown.Register(util.ShutdownResource{Name: "tracing", Priority: stageConnections, Shutdown: tracingShutdown})

	store, closeStore, err := openHistory(cfg.History)
	if err != nil {
		return fmt.Errorf("failed to open history: %w", err)
	}
	shutdown.Register(util.ShutdownResource{
		Name:     "history",
		Priority: stageConnections,
		Shutdown: func(context.Context) error { return closeStore() },
	})

	device, err := newCaptureDevice(cfg.Capture)
	if err != nil {
		return err
	}

	if cfg.Model.APIKey == "" {
		logger.Warn("GEMINI_API_KEY is not set; live sessions and uploads will fail")
	}

	hub := httpserver.NewSessionHub(logger)
	opts := []session.ControllerOption{session.WithObserver(hub)}
	notifiers := savedFanout{hub}

	var amqpClient *messaging.AMQPClient
	if cfg.Messaging.Enabled() {
		amqpClient = messaging.NewAMQPClient(logger, messaging.AMQPConfig{
			URL:            cfg.Messaging.AMQPUrl,
			ExchangeName:   cfg.Messaging.Exchange,
			PublishTimeout: cfg.Messaging.PublishTimeout,
		})
		if err := amqpClient.Connect(); err != nil {
			logger.WithError(err).Warn("Failed to connect to AMQP server; alert events will be dropped")
		}
		shutdown.RegisterFunc("amqp", stageConnections, func(context.Context) { amqpClient.Disconnect() })

		events := messaging.NewEventPublisher(logger, amqpClient, messaging.EventPublisherConfig{
			AlertRoutingKey:   cfg.Messaging.AlertRoutingKey,
			SessionRoutingKey: cfg.Messaging.SessionRoutingKey,
			PublishTimeout:    cfg.Messaging.PublishTimeout,
		})
		shutdown.RegisterFunc("events", stageEvents, func(context.Context) { events.Close() })

		opts = append(opts, session.WithObserver(events))
		notifiers = append(notifiers, events)
	}

	liveClient := live.NewClient(live.Config{
		URL:          cfg.Model.LiveURL,
		APIKey:       cfg.Model.APIKey,
		WriteTimeout: cfg.Model.WriteTimeout,
	}, logger)

	controller := session.NewController(device, session.LiveDialer(liveClient), store, newSessionConfig(cfg), logger, opts...)
	shutdown.RegisterFunc("session", stageSession, controller.Stop)
	hub.SessionUpdated(controller.Snapshot())

	analyzer := upload.NewAnalyzer(upload.Config{
		APIKey:  cfg.Model.APIKey,
		APIURL:  cfg.Model.APIURL,
		Model:   cfg.Model.UploadModel,
		Timeout: cfg.Model.UploadTimeout,
	}, store, notifiers, logger)

	server := httpserver.NewServer(logger, cfg.HTTP, httpserver.Dependencies{
		Controller: controller,
		History:    store,
		Uploader:   analyzer,
		Hub:        hub,
	})
	if cfg.RateLimit.Enabled {
		limiter := ratelimit.NewHTTPMiddleware(cfg.RateLimit, logger)
		server.SetRateLimitMiddleware(limiter)
		shutdown.RegisterFunc("rate_limiter", stageEvents, func(context.Context) { limiter.Limiter().Close() })
	}
	if amqpClient != nil {
		server.SetAMQPClient(amqpClient)
	}
	shutdown.Register(util.ShutdownResource{Name: "http", Priority: stageHTTP, Shutdown: server.Shutdown})

	logger.WithFields(logrus.Fields{
		"port":    cfg.HTTP.Port,
		"device":  device.Name(),
		"history": cfg.History.Backend,
		"amqp":    cfg.Messaging.Enabled(),
	}).Info("Callguard starting")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	g.Go(server.ListenAndServe)
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down...")
		if err := shutdown.Shutdown(context.Background()); err != nil {
			logger.WithError(err).Warn("Shutdown finished with errors")
			return err
		}
		logger.Info("Application shut down gracefully")
		return nil
	})

	return g.Wait()
}
