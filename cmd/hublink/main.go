// Package main provides the hublink daemon: a hub connection with an
// offline command queue behind an HTTP API.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/coregx/hublink"
	"github.com/coregx/hublink/adapters/relica"
	"github.com/coregx/hublink/cmd/hublink/internal/api"
	"github.com/coregx/hublink/cmd/hublink/internal/config"
	"github.com/coregx/hublink/retry"
)

func main() {
	log.Println("🚀 Starting hublink...")

	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := &colorLogger{debug: cfg.Debug}

	log.Printf("📝 Configuration loaded:")
	log.Printf("   Server: %s:%d", cfg.Server.Host, cfg.Server.Port)
	log.Printf("   Database: %s (%s)", cfg.Database.Driver, cfg.Database.Database)
	log.Printf("   Flush interval: %v, probe interval: %v", cfg.Queue.FlushEvery(), cfg.Queue.ProbeEvery())
	log.Printf("   Max queue size: %d", cfg.Queue.MaxSize)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := sql.Open(cfg.Database.Driver, cfg.Database.GetDSN())
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			log.Printf("Failed to close database: %v", closeErr)
		}
	}()
	if cfg.Database.Driver == "sqlite3" {
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	if err := hublink.ApplyMigrations(ctx, db, cfg.Database.Driver, cfg.Database.Prefix); err != nil {
		log.Fatalf("Failed to apply migrations: %v", err)
	}
	log.Println("✅ Database ready")

	repos := relica.NewRepositoriesWithPrefix(db, cfg.Database.Driver, cfg.Database.Prefix)
	settings := hublink.NewSettingsConfigProvider(repos.Settings)

	if cfg.Hub.Seeded() {
		hubCfg, err := cfg.Hub.ConnectionConfig()
		if err == nil {
			err = settings.Save(ctx, hubCfg)
		}
		if err != nil {
			log.Fatalf("Failed to store hub settings from environment: %v", err)
		}
		log.Printf("   Hub: %s", hubCfg.EndpointURL)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics, err := hublink.NewMetrics(registry)
	if err != nil {
		log.Fatalf("Failed to register metrics: %v", err)
	}

	reconnect := retry.ReconnectStrategy()
	logger.Debugf("Hub reconnect %s", reconnect.Schedule(8))

	transport, err := hublink.NewTransport(
		hublink.WithTransportLogger(logger),
		hublink.WithReconnectStrategy(reconnect),
		hublink.WithTransportMetrics(metrics),
	)
	if err != nil {
		log.Fatalf("Failed to create transport: %v", err)
	}
	client, err := hublink.NewClient(
		hublink.WithConn(transport),
		hublink.WithClientLogger(logger),
		hublink.WithConfigProvider(settings),
		hublink.WithClientMetrics(metrics),
	)
	if err != nil {
		log.Fatalf("Failed to create client: %v", err)
	}

	connectivity, err := newConnectivity(ctx, settings, cfg.Queue.ProbeEvery(), logger)
	if err != nil {
		log.Fatalf("Failed to set up connectivity: %v", err)
	}

	var notifier hublink.QueueNotifier = &hublink.NoOpQueueNotifier{}
	if cfg.Queue.EnableNotifications {
		notifier = hublink.NewLoggingQueueNotifier(logger)
	}

	queue, err := hublink.NewOfflineQueue(
		hublink.WithCommandRepository(repos.Commands),
		hublink.WithDeadLetterRepository(repos.DeadLetters),
		hublink.WithDeliverer(client),
		hublink.WithConnectivity(connectivity),
		hublink.WithQueueLogger(logger),
		hublink.WithMaxQueueSize(cfg.Queue.MaxSize),
		hublink.WithQueueNotifier(notifier),
		hublink.WithQueueMetrics(metrics),
	)
	if err != nil {
		log.Fatalf("Failed to create offline queue: %v", err)
	}

	facade, err := hublink.NewQueueingClient(
		hublink.WithServiceCaller(client),
		hublink.WithQueue(queue),
		hublink.WithFacadeConnectivity(connectivity),
		hublink.WithFacadeLogger(logger),
	)
	if err != nil {
		log.Fatalf("Failed to create queueing client: %v", err)
	}
	stopWatch := facade.Watch(client)
	defer stopWatch()
	log.Println("✅ Hub client and offline queue created")

	go func() {
		log.Printf("🔄 Starting queue worker (interval: %v)...", cfg.Queue.FlushEvery())
		queue.Run(ctx, cfg.Queue.FlushEvery())
	}()

	connection := newConnectionManager(ctx, client, settings, logger)
	connection.Start()

	handler := api.NewHandler(facade, queue, repos.DeadLetters, connection, logger)
	mux := http.NewServeMux()
	handler.Register(mux)
	mux.Handle("GET /metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      loggingMiddleware(mux, logger),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 45 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("🌐 HTTP server listening on %s", addr)
		log.Println("📡 API Endpoints:")
		log.Println("   POST   /api/v1/services")
		log.Println("   GET    /api/v1/queue")
		log.Println("   POST   /api/v1/queue/flush")
		log.Println("   GET    /api/v1/dead-letters")
		log.Println("   POST   /api/v1/dead-letters/{id}/resolve")
		log.Println("   POST   /api/v1/connection/validate")
		log.Println("   GET    /api/v1/health")
		log.Println("   GET    /metrics")
		log.Println()
		log.Println("✅ hublink is ready!")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("🛑 Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	connection.Stop()
	client.Close()
	cancel()
	log.Println("✅ hublink stopped gracefully")
}

// newConnectivity probes the configured hub host. Without a stored
// endpoint the hub is assumed reachable, so calls go live and fall back
// to the queue on failure.
func newConnectivity(ctx context.Context, settings hublink.ConfigProvider, interval time.Duration, logger hublink.Logger) (hublink.Connectivity, error) {
	cfg, err := settings.ConnectionConfig(ctx)
	if err != nil {
		return nil, err
	}
	if cfg.EndpointURL == "" {
		logger.Warnf("No hub endpoint stored; reachability probing disabled")
		return hublink.NewManualConnectivity(true), nil
	}

	address, err := hublink.ProbeAddress(cfg.EndpointURL)
	if err != nil {
		return nil, err
	}
	probe := hublink.NewProbeConnectivity(address, 5*time.Second, logger)
	probe.Probe(ctx)
	go probe.Run(ctx, interval)
	return probe, nil
}

// loggingMiddleware logs HTTP requests.
func loggingMiddleware(next http.Handler, logger hublink.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		logger.Infof("%s %s", r.Method, r.URL.Path)
		next.ServeHTTP(w, r)
		logger.Debugf("%s %s - %v", r.Method, r.URL.Path, time.Since(start))
	})
}
