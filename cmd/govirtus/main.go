package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pbertin/govirtus/enki"
	"github.com/pbertin/govirtus/internal/bridge"
	"github.com/pbertin/govirtus/internal/config"
	"github.com/pbertin/govirtus/internal/logging"
	"github.com/pbertin/govirtus/internal/server"
	"github.com/pbertin/govirtus/oauth"
)

func main() {
	configPath := flag.String("config", "/etc/govirtus/config.yaml", "path to YAML config")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal("daemon exited", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	var blobStore oauth.BlobStore
	if cfg.Auth.Blob.Enabled {
		store, err := oauth.NewS3Store(oauth.S3Config{
			Endpoint:      cfg.Auth.Blob.Endpoint,
			Bucket:        cfg.Auth.Blob.Bucket,
			Prefix:        cfg.Auth.Blob.Prefix,
			Region:        cfg.Auth.Blob.Region,
			AccessKeyFile: cfg.Auth.Blob.AccessKeyFile,
			SecretKeyFile: cfg.Auth.Blob.SecretKeyFile,
		})
		if err != nil {
			return err
		}
		blobStore = store
	}

	tokens, err := oauth.NewManager(oauth.Config{
		Provider:     "enki",
		TokenURL:     cfg.Auth.TokenURL,
		ClientID:     cfg.Auth.ClientID,
		StatePath:    cfg.Auth.StatePath,
		ExpiryMargin: cfg.Auth.ExpiryMargin(),
	}, blobStore, logger)
	if err != nil {
		return err
	}

	client, err := enki.NewClient(enki.Config{
		BaseURL:       cfg.Cloud.BaseURL,
		HomeID:        cfg.Cloud.HomeID,
		AircoAPIKey:   cfg.Cloud.AircoAPIKey,
		NodeAPIKey:    cfg.Cloud.NodeAPIKey,
		SensorsAPIKey: cfg.Cloud.SensorsAPIKey,
		Timeout:       cfg.Cloud.Timeout(),
	}, tokens)
	if err != nil {
		return err
	}

	domains := enki.DefaultDomains()
	domains.MinTemperature = cfg.Command.MinTemperature
	domains.MaxTemperature = cfg.Command.MaxTemperature
	for _, v := range cfg.Command.SwingValues {
		value := enki.SwingAxisValue(v)
		if value == enki.SwingAuto {
			continue
		}
		domains.SwingValues = append(domains.SwingValues, value)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(oauth.MetricsCollectors()...)
	registry.MustRegister(enki.MetricsCollectors()...)

	g, ctx := errgroup.WithContext(ctx)

	stores := make(map[string]*enki.Store, len(cfg.Cloud.Nodes))
	var bridgeNodes []bridge.Node
	for _, node := range cfg.Cloud.Nodes {
		store := enki.NewStore()
		stores[node.ID] = store
		registry.MustRegister(enki.NewStateCollector(store, node.ID))

		coord := enki.NewCoordinator(enki.CoordinatorConfig{
			NodeID:     node.ID,
			Interval:   cfg.Poll.Interval(),
			PollErrors: cfg.Poll.Errors,
		}, client, store, logger)
		g.Go(func() error { return coord.Run(ctx) })

		dispatcher := enki.NewDispatcher(node.ID, domains, client, store, coord, logger)
		bridgeNodes = append(bridgeNodes, bridge.Node{
			ID:      node.ID,
			Label:   node.Label,
			Store:   store,
			Applier: dispatcher,
		})
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", server.HealthHandler)
	mux.Handle("/metrics", server.MetricsHandler(registry))
	mux.Handle("/state/", server.StateHandler(stores))

	httpServer := server.NewHTTPServer(cfg.Server.Listen, mux)
	g.Go(func() error {
		err := httpServer.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if cfg.MQTT.Enabled {
		br := bridge.New(bridge.Config{
			Broker:          cfg.MQTT.Broker,
			ClientID:        cfg.MQTT.ClientID,
			Username:        cfg.MQTT.Username,
			Password:        cfg.MQTT.Password,
			TopicPrefix:     cfg.MQTT.TopicPrefix,
			Discovery:       cfg.MQTT.Discovery,
			DiscoveryPrefix: cfg.MQTT.DiscoveryPrefix,
			MinTemperature:  domains.MinTemperature,
			MaxTemperature:  domains.MaxTemperature,
		}, bridgeNodes, logger)
		g.Go(func() error { return br.Run(ctx) })
	}

	logger.Info("govirtus started",
		zap.Int("nodes", len(cfg.Cloud.Nodes)),
		zap.String("listen", cfg.Server.Listen),
		zap.Bool("mqtt", cfg.MQTT.Enabled))

	return g.Wait()
}
