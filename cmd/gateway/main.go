// Command gateway starts the configuration-driven reverse-proxy gateway.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"gatewayproxy/internal/auth"
	"gatewayproxy/internal/composite"
	"gatewayproxy/internal/config"
	"gatewayproxy/internal/forwarder"
	"gatewayproxy/internal/observability/logging"
	"gatewayproxy/internal/observability/metrics"
	"gatewayproxy/internal/registry"
	"gatewayproxy/internal/safety"
	"gatewayproxy/internal/server"
	"gatewayproxy/internal/serverutil"
	"gatewayproxy/internal/trafficlog"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, "gateway: failed to load configuration:", err)
		os.Exit(1)
	}

	logger := logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	recorder := metrics.Default()

	environments, err := config.LoadEnvironmentSettings(cfg.EnvironmentSettingsPath)
	if err != nil {
		logger.Error("failed to load environment settings", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg, err := registry.New(ctx, cfg.RegistryRoot, logger, recorder)
	if err != nil {
		logger.Error("failed to load endpoint registry", "error", err)
		os.Exit(1)
	}

	verifier, err := buildVerifier(ctx, cfg)
	if err != nil {
		logger.Error("failed to initialise token verifier", "error", err)
		os.Exit(1)
	}

	safetyChecker, err := buildSafetyChecker(cfg)
	if err != nil {
		logger.Error("failed to initialise URL safety checker", "error", err)
		os.Exit(1)
	}

	sink, err := buildTrafficLogSink(cfg, recorder, logger)
	if err != nil {
		logger.Error("failed to initialise traffic log sink", "error", err)
		os.Exit(1)
	}

	fwd := forwarder.New(reg, environments, safetyChecker, cfg.ServerName, nil)
	orchestrator := composite.New(reg, cfg.ServerName, nil)

	srv, err := server.New(server.Config{
		Addr:                    cfg.Addr,
		TLSCertFile:             cfg.TLSCertFile,
		TLSKeyFile:              cfg.TLSKeyFile,
		ServerName:              cfg.ServerName,
		Logger:                  logger,
		Metrics:                 recorder,
		Registry:                reg,
		Environments:            environments,
		Forwarder:               fwd,
		Orchestrator:            orchestrator,
		Verifier:                verifier,
		TrafficLog:              sink,
		RateLimit: server.RateLimitConfig{
			GlobalRPS:             cfg.RateLimitGlobalRPS,
			GlobalBurst:           cfg.RateLimitGlobalBurst,
			TrustForwardedHeaders: cfg.TrustForwardedHeaders,
			TrustedProxies:        cfg.TrustedProxies,
		},
		TrustForwardedHeaders:   cfg.TrustForwardedHeaders,
		TrustedProxies:          cfg.TrustedProxies,
		CaptureRequestBodies:    cfg.CaptureRequestBodies,
		CaptureResponseBodies:   cfg.CaptureResponseBodies,
		MaxBodyCaptureSizeBytes: cfg.MaxBodyCaptureSizeBytes,
	})
	if err != nil {
		logger.Error("failed to initialise server", "error", err)
		os.Exit(1)
	}

	logger.Info("gateway listening", "addr", cfg.Addr, "registry_root", cfg.RegistryRoot)

	certFile, keyFile := srv.TLSFiles()
	runErr := serverutil.Run(ctx, serverutil.Config{
		Server: srv.HTTPServer(),
		TLS: serverutil.TLSConfig{
			CertFile: certFile,
			KeyFile:  keyFile,
		},
		OnShutdown: srv.DrainOnShutdown,
	})
	if runErr != nil {
		logger.Error("gateway exited with error", "error", runErr)
		os.Exit(1)
	}
}

func buildVerifier(ctx context.Context, cfg config.GatewayConfig) (auth.Verifier, error) {
	switch cfg.TokenStoreDriver {
	case "postgres":
		return auth.NewPostgresVerifier(ctx, cfg.TokenPostgresDSN)
	case "bundle":
		return auth.LoadEncryptedTokenBundle(cfg.TokenStorePath, cfg.TokenBundlePassphrase)
	default:
		if cfg.TokenStorePath != "" {
			return auth.LoadMemoryVerifierFromFile(cfg.TokenStorePath)
		}
		return auth.NewMemoryVerifier(), nil
	}
}

func buildSafetyChecker(cfg config.GatewayConfig) (safety.Checker, error) {
	safetyCfg := safety.Config{
		AllowHosts: cfg.URLSafetyAllowHosts,
		DenyHosts:  cfg.URLSafetyDenyHosts,
	}
	if cfg.URLSafetyRedisAddr != "" {
		mirror, err := safety.NewRedisMirror(safety.RedisMirrorConfig{Addr: cfg.URLSafetyRedisAddr})
		if err != nil {
			return nil, err
		}
		safetyCfg.Mirror = mirror
	}
	return safety.NewDefaultChecker(safetyCfg), nil
}

func buildTrafficLogSink(cfg config.GatewayConfig, recorder *metrics.Recorder, logger *slog.Logger) (*trafficlog.Sink, error) {
	var driver trafficlog.Driver
	var err error
	switch cfg.TrafficLogDriver {
	case "postgres":
		driver, err = trafficlog.NewPostgresDriver(context.Background(), cfg.TrafficLogPostgresDSN)
	default:
		driver, err = trafficlog.NewFileDriver(trafficlog.FileDriverConfig{
			Dir:           cfg.TrafficLogDir,
			Prefix:        "traffic",
			MaxFileSizeMB: cfg.TrafficLogMaxFileSizeMB,
			MaxFileCount:  cfg.TrafficLogMaxFileCount,
		})
	}
	if err != nil {
		return nil, err
	}
	return trafficlog.NewSink(driver, trafficlog.Config{
		QueueCapacity: cfg.TrafficLogQueueCapacity,
		BatchSize:     cfg.TrafficLogBatchSize,
		FlushInterval: cfg.TrafficLogFlushInterval,
		Recorder:      recorder,
		Logger:        logger,
	}), nil
}
