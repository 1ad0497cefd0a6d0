package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/tphan267/supportcall/apis"
	"github.com/tphan267/supportcall/pkg/config"
	"github.com/tphan267/supportcall/pkg/logger"
	"github.com/tphan267/supportcall/pkg/media/capture"
	"github.com/tphan267/supportcall/pkg/providers"
	"github.com/tphan267/supportcall/pkg/providers/analytics"
	"github.com/tphan267/supportcall/pkg/providers/auth"
	"github.com/tphan267/supportcall/pkg/providers/calls"
	"github.com/tphan267/supportcall/pkg/rtc"
	"github.com/tphan267/supportcall/pkg/signaling"
	"github.com/tphan267/supportcall/pkg/storage"
)

var version = "dev"

const shutdownTimeout = 10 * time.Second

func main() {
	var (
		configFile string
		logLevel   string
	)
	flag.StringVar(&configFile, "config", "supportcall.yaml", "Path to the config file")
	flag.StringVar(&logLevel, "loglevel", "", "Set the log level")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(version, configFile, logLevel)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Create structured logger
	appLogger := logger.NewDefault("SUPPORTCALL")
	appLogger.SetLevel(logger.ParseLevel(cfg.LogLevel))

	appLogger.Info("Starting supportcall %s as %s in room %q", cfg.Version, cfg.Identity, cfg.Room)

	// Initialize storage
	store, err := storage.NewSQLiteStorage(cfg.DBPath, appLogger)
	if err != nil {
		log.Fatalf("Failed to initialize storage: %v", err)
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	relay, err := openRelay(ctx, cfg, appLogger)
	if err != nil {
		log.Fatalf("Failed to open signaling relay: %v", err)
	}
	defer relay.Close()

	devices, err := capture.New(appLogger)
	if err != nil {
		log.Fatalf("Failed to open capture devices: %v", err)
	}

	api, err := rtc.NewAPI(rtc.Options{
		ICEServers:     iceServers(cfg.ICEServers),
		RegisterCodecs: devices.RegisterCodecs,
		Logger:         appLogger,
	})
	if err != nil {
		log.Fatalf("Failed to create WebRTC API: %v", err)
	}

	// Create service registry and register all default services
	registry := createServiceRegistry(store, appLogger, cfg, relay, calls.NewService(devices, api))

	if err := registry.InitializeAll(ctx); err != nil {
		log.Fatalf("Failed to initialize services: %v", err)
	}

	// Start runnable services
	if err := registry.StartRunnable(ctx); err != nil {
		log.Fatalf("Failed to start runnable services: %v", err)
	}

	// Create API server
	srv := apis.New(registry)

	// Register service-specific routes
	if err := registry.RegisterAllRoutes(srv.App()); err != nil {
		log.Fatalf("Failed to register service routes: %v", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Start(cfg.ServerAddr)
	})
	g.Go(func() error {
		<-gctx.Done()
		appLogger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		var errs []error
		if err := srv.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("server: %w", err))
		}
		// Hangs up every live call before the relay closes
		if err := registry.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("services: %w", err))
		}
		return errors.Join(errs...)
	})

	if err := g.Wait(); err != nil {
		appLogger.Error("Shutdown error: %v", err)
		os.Exit(1)
	}
	appLogger.Info("Server exited")
}

// createServiceRegistry creates and populates the service registry with default services
func createServiceRegistry(store storage.Storage, log *logger.Logger, cfg *config.Config, relay signaling.Channel, callService *calls.Service) *providers.Registry {
	registry := providers.NewRegistry(store, log, cfg, relay)

	registry.MustRegister(auth.NewService())
	registry.MustRegister(analytics.NewService())
	registry.MustRegister(callService)

	return registry
}

// openRelay connects the configured signaling backend
func openRelay(ctx context.Context, cfg *config.Config, log *logger.Logger) (signaling.Channel, error) {
	switch cfg.Relay.Backend {
	case config.RelayWebSocket:
		client := signaling.NewClient(cfg.Relay.URL, cfg.Relay.APIKey, cfg.PeerID, log)
		client.Connect(ctx)
		log.Info("Signaling relay %s, API key %s", cfg.Relay.URL, maskAPIKey(cfg.Relay.APIKey))
		return client, nil
	case config.RelayRedis:
		log.Info("Signaling over redis at %s", cfg.Relay.RedisAddr)
		ch, err := signaling.NewRedisChannel(ctx, &redis.Options{
			Addr:     cfg.Relay.RedisAddr,
			Password: cfg.Relay.RedisPassword,
			DB:       cfg.Relay.RedisDB,
		}, cfg.PeerID, log)
		if err != nil {
			return nil, err
		}
		return ch, nil
	default:
		log.Warn("Using the in-process relay; calls only reach peers in this process")
		return signaling.NewHub().Join(cfg.PeerID), nil
	}
}

func iceServers(servers []config.ICEServer) []webrtc.ICEServer {
	if len(servers) == 0 {
		return nil
	}
	out := make([]webrtc.ICEServer, 0, len(servers))
	for _, s := range servers {
		out = append(out, webrtc.ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}
	return out
}

// maskAPIKey masks the API key for logging (shows first 8 chars)
func maskAPIKey(apiKey string) string {
	if len(apiKey) <= 8 {
		return "***"
	}
	return apiKey[:8] + "***"
}
