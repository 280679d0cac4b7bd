package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"gridtown/internal/relay"
	"gridtown/internal/snapshot"
	"gridtown/logging"
)

func main() {
	cfg, err := relay.LoadConfig()
	if err != nil {
		log.Fatalf("configuration invalid: %v", err)
	}

	publisher, closeLogs, err := buildPublisher(cfg)
	if err != nil {
		log.Fatalf("failed to set up logging: %v", err)
	}
	defer closeLogs()

	telemetry := relay.NewTelemetry()

	var bridge relay.Bridge
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := client.Ping(ctx).Err(); err != nil {
			cancel()
			log.Fatalf("could not connect to redis at %s: %v", cfg.RedisAddr, err)
		}
		cancel()
		bridge = relay.NewRedisBridge(client)
		log.Printf("redis bridge enabled via %s", cfg.RedisAddr)
	}

	// The relay is the deployment's fixed point, so it owns making sure the
	// rooms table exists before any session tries to save.
	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("could not connect to database: %v", err)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := snapshot.NewPostgresStorage(pool).EnsureSchema(ctx); err != nil {
			cancel()
			log.Fatalf("could not ensure snapshot schema: %v", err)
		}
		cancel()
		pool.Close()
		log.Printf("snapshot schema ensured")
	}

	hub := relay.NewHub(relay.HubConfig{
		QueueSize: cfg.QueueSize,
		Telemetry: telemetry,
		Publisher: publisher,
		Bridge:    bridge,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if bridge != nil {
		go func() {
			if err := bridge.Run(ctx, hub.Inject); err != nil && ctx.Err() == nil {
				log.Printf("bridge stopped: %v", err)
			}
		}()
	}

	server := relay.NewServer(hub, log.Default())
	httpServer := &http.Server{Addr: cfg.Addr, Handler: server.Handler()}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		httpServer.Shutdown(shutdownCtx)
	}()

	log.Printf("relay listening on %s", cfg.Addr)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("server failed: %v", err)
	}
}

// buildPublisher assembles the event router from the configured sink names.
func buildPublisher(cfg relay.Config) (logging.Publisher, func(), error) {
	logCfg := logging.DefaultConfig()
	logCfg.EnabledSinks = splitSinks(cfg.LogSinks)
	logCfg.JSONFilePath = cfg.LogPath

	sinks := make([]logging.NamedSink, 0, len(logCfg.EnabledSinks))
	if logCfg.HasSink("console") {
		sinks = append(sinks, logging.NamedSink{Name: "console", Sink: logging.NewConsoleSink(os.Stdout)})
	}
	if logCfg.HasSink("json") {
		file, err := os.OpenFile(logCfg.JSONFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, err
		}
		sinks = append(sinks, logging.NamedSink{Name: "json", Sink: logging.NewJSONSink(file)})
	}

	router := logging.NewRouter(time.Now, logCfg, sinks)
	closer := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		router.Close(ctx)
	}
	return router, closer, nil
}

func splitSinks(list string) []string {
	parts := strings.Split(list, ",")
	sinks := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			sinks = append(sinks, trimmed)
		}
	}
	return sinks
}
