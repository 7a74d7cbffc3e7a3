// Package config loads the gateway's process-wide configuration from CLI
// flags and environment variable overrides, mirroring the flag-then-env
// convention used by the rest of the fleet.
package config

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const envPrefix = "GATEWAY_"

// GatewayConfig aggregates every process-wide setting the gateway needs at
// startup. It is constructed once in main and passed down to component
// constructors; nothing in the core reads environment variables or flags
// directly.
type GatewayConfig struct {
	Addr                   string
	RegistryRoot           string
	EnvironmentSettingsPath string
	LogLevel               string
	LogFormat              string
	ServerName             string

	TLSCertFile string
	TLSKeyFile  string

	TrafficLogDriver         string // "file" or "postgres"
	TrafficLogDir            string
	TrafficLogPostgresDSN    string
	TrafficLogQueueCapacity  int
	TrafficLogBatchSize      int
	TrafficLogFlushInterval  time.Duration
	TrafficLogMaxFileSizeMB  int
	TrafficLogMaxFileCount   int
	CaptureRequestBodies     bool
	CaptureResponseBodies    bool
	MaxBodyCaptureSizeBytes  int

	TokenStoreDriver       string // "memory", "postgres", or "bundle"
	TokenStorePath         string
	TokenPostgresDSN       string
	TokenBundlePassphrase  string

	URLSafetyAllowHosts []string
	URLSafetyDenyHosts  []string
	URLSafetyRedisAddr  string

	RateLimitGlobalRPS    float64
	RateLimitGlobalBurst  int
	TrustForwardedHeaders bool
	TrustedProxies        []string
}

// EnvironmentSettings is the shape of environments/settings.json.
type EnvironmentSettings struct {
	Environment struct {
		ServerName          string   `json:"ServerName"`
		AllowedEnvironments []string `json:"AllowedEnvironments"`
	} `json:"Environment"`
}

// Load parses CLI flags out of args, applying environment-variable
// overrides per field, and returns the resolved GatewayConfig.
func Load(args []string) (GatewayConfig, error) {
	fs := flag.NewFlagSet("gateway", flag.ContinueOnError)

	addr := fs.String("addr", ":8080", "HTTP listen address")
	registryRoot := fs.String("registry-root", "endpoints", "root directory of endpoint definition files")
	environmentsSettings := fs.String("environments-settings", "environments/settings.json", "path to environment settings JSON")
	logLevel := fs.String("log-level", "info", "log level (debug, info, warn, error)")
	logFormat := fs.String("log-format", "json", "log format (json or text)")
	serverName := fs.String("server-name", "gateway", "ServerName header value injected on upstream requests")
	tlsCert := fs.String("tls-cert", "", "path to TLS certificate file")
	tlsKey := fs.String("tls-key", "", "path to TLS private key file")

	trafficLogDriver := fs.String("traffic-log-driver", "file", "traffic log storage driver (file or postgres)")
	trafficLogDir := fs.String("traffic-log-dir", "traffic-logs", "directory for the file traffic log driver")
	trafficLogPostgresDSN := fs.String("traffic-log-postgres-dsn", "", "Postgres DSN for the traffic log driver")
	trafficLogQueueCapacity := fs.Int("traffic-log-queue-capacity", 1024, "bounded traffic log queue capacity")
	trafficLogBatchSize := fs.Int("traffic-log-batch-size", 64, "maximum entries flushed per traffic log batch")
	trafficLogFlushInterval := fs.Duration("traffic-log-flush-interval", 2*time.Second, "maximum time between traffic log flushes")
	trafficLogMaxFileSizeMB := fs.Int("traffic-log-max-file-size-mb", 64, "traffic log file rollover size in megabytes")
	trafficLogMaxFileCount := fs.Int("traffic-log-max-file-count", 10, "number of rolled-over traffic log files retained")
	captureRequestBodies := fs.Bool("traffic-log-capture-request-bodies", false, "capture request bodies in the traffic log")
	captureResponseBodies := fs.Bool("traffic-log-capture-response-bodies", false, "capture response bodies in the traffic log")
	maxBodyCaptureSizeBytes := fs.Int("traffic-log-max-body-capture-bytes", 8192, "maximum captured body size before truncation")

	tokenStoreDriver := fs.String("token-store-driver", "memory", "bearer token store driver (memory, postgres, or bundle)")
	tokenStorePath := fs.String("token-store-path", "", "path to a JSON token seed file for the memory driver, or an encrypted bundle for the bundle driver")
	tokenPostgresDSN := fs.String("token-postgres-dsn", "", "Postgres DSN for the token verifier")
	tokenBundlePassphrase := fs.String("token-bundle-passphrase", "", "passphrase protecting the encrypted token bundle")

	urlSafetyAllow := fs.String("url-safety-allow", "", "comma separated hostnames exempted from the SSRF guard")
	urlSafetyDeny := fs.String("url-safety-deny", "", "comma separated hostnames always rejected by the SSRF guard")
	urlSafetyRedisAddr := fs.String("url-safety-redis-addr", "", "Redis address for a shared DNS-safety cache")

	rateGlobalRPS := fs.Float64("rate-global-rps", 0, "global request rate limit in requests per second (0 disables limiting)")
	rateGlobalBurst := fs.Int("rate-global-burst", 0, "global rate limit burst allowance")
	trustForwarded := fs.Bool("trust-forwarded-headers", false, "trust X-Forwarded-For/X-Real-IP from any peer")
	trustedProxies := fs.String("trusted-proxies", "", "comma separated CIDR blocks or IPs of trusted proxies")

	if err := fs.Parse(args); err != nil {
		return GatewayConfig{}, err
	}

	cfg := GatewayConfig{
		Addr:                    firstNonEmpty(os.Getenv(envPrefix+"ADDR"), *addr),
		RegistryRoot:            firstNonEmpty(os.Getenv(envPrefix+"REGISTRY_ROOT"), *registryRoot),
		EnvironmentSettingsPath: firstNonEmpty(os.Getenv(envPrefix+"ENVIRONMENTS_SETTINGS"), *environmentsSettings),
		LogLevel:                firstNonEmpty(os.Getenv(envPrefix+"LOG_LEVEL"), *logLevel),
		LogFormat:               firstNonEmpty(os.Getenv(envPrefix+"LOG_FORMAT"), *logFormat),
		ServerName:              firstNonEmpty(os.Getenv(envPrefix+"SERVER_NAME"), *serverName),
		TLSCertFile:             firstNonEmpty(os.Getenv(envPrefix+"TLS_CERT"), *tlsCert),
		TLSKeyFile:              firstNonEmpty(os.Getenv(envPrefix+"TLS_KEY"), *tlsKey),

		TrafficLogDriver:      strings.ToLower(firstNonEmpty(os.Getenv(envPrefix+"TRAFFIC_LOG_DRIVER"), *trafficLogDriver)),
		TrafficLogDir:         firstNonEmpty(os.Getenv(envPrefix+"TRAFFIC_LOG_DIR"), *trafficLogDir),
		TrafficLogPostgresDSN: firstNonEmpty(os.Getenv(envPrefix+"TRAFFIC_LOG_POSTGRES_DSN"), *trafficLogPostgresDSN),
		CaptureRequestBodies:  resolveBool(*captureRequestBodies, os.Getenv(envPrefix+"TRAFFIC_LOG_CAPTURE_REQUEST_BODIES")),
		CaptureResponseBodies: resolveBool(*captureResponseBodies, os.Getenv(envPrefix+"TRAFFIC_LOG_CAPTURE_RESPONSE_BODIES")),

		TokenStoreDriver:      strings.ToLower(firstNonEmpty(os.Getenv(envPrefix+"TOKEN_STORE_DRIVER"), *tokenStoreDriver)),
		TokenStorePath:        firstNonEmpty(os.Getenv(envPrefix+"TOKEN_STORE_PATH"), *tokenStorePath),
		TokenPostgresDSN:      firstNonEmpty(os.Getenv(envPrefix+"TOKEN_POSTGRES_DSN"), *tokenPostgresDSN),
		TokenBundlePassphrase: firstNonEmpty(os.Getenv(envPrefix+"TOKEN_BUNDLE_PASSPHRASE"), *tokenBundlePassphrase),

		URLSafetyRedisAddr: firstNonEmpty(os.Getenv(envPrefix+"URL_SAFETY_REDIS_ADDR"), *urlSafetyRedisAddr),
	}

	cfg.TrafficLogQueueCapacity = resolveInt(*trafficLogQueueCapacity, os.Getenv(envPrefix+"TRAFFIC_LOG_QUEUE_CAPACITY"))
	cfg.TrafficLogBatchSize = resolveInt(*trafficLogBatchSize, os.Getenv(envPrefix+"TRAFFIC_LOG_BATCH_SIZE"))
	cfg.TrafficLogFlushInterval = resolveDuration(*trafficLogFlushInterval, os.Getenv(envPrefix+"TRAFFIC_LOG_FLUSH_INTERVAL"))
	cfg.TrafficLogMaxFileSizeMB = resolveInt(*trafficLogMaxFileSizeMB, os.Getenv(envPrefix+"TRAFFIC_LOG_MAX_FILE_SIZE_MB"))
	cfg.TrafficLogMaxFileCount = resolveInt(*trafficLogMaxFileCount, os.Getenv(envPrefix+"TRAFFIC_LOG_MAX_FILE_COUNT"))
	cfg.MaxBodyCaptureSizeBytes = resolveInt(*maxBodyCaptureSizeBytes, os.Getenv(envPrefix+"TRAFFIC_LOG_MAX_BODY_CAPTURE_BYTES"))

	cfg.URLSafetyAllowHosts = splitAndTrim(firstNonEmpty(os.Getenv(envPrefix+"URL_SAFETY_ALLOW"), *urlSafetyAllow))
	cfg.URLSafetyDenyHosts = splitAndTrim(firstNonEmpty(os.Getenv(envPrefix+"URL_SAFETY_DENY"), *urlSafetyDeny))

	cfg.RateLimitGlobalRPS = *rateGlobalRPS
	if envValue := strings.TrimSpace(os.Getenv(envPrefix + "RATE_GLOBAL_RPS")); envValue != "" {
		if parsed, err := strconv.ParseFloat(envValue, 64); err == nil {
			cfg.RateLimitGlobalRPS = parsed
		}
	}
	cfg.RateLimitGlobalBurst = resolveInt(*rateGlobalBurst, os.Getenv(envPrefix+"RATE_GLOBAL_BURST"))
	cfg.TrustForwardedHeaders = resolveBool(*trustForwarded, os.Getenv(envPrefix+"TRUST_FORWARDED_HEADERS"))
	cfg.TrustedProxies = splitAndTrim(firstNonEmpty(os.Getenv(envPrefix+"TRUSTED_PROXIES"), *trustedProxies))

	if cfg.TrafficLogDriver == "" {
		cfg.TrafficLogDriver = "file"
	}
	if cfg.TokenStoreDriver == "" {
		cfg.TokenStoreDriver = "memory"
	}

	return cfg, nil
}

// LoadEnvironmentSettings reads and parses the environments/settings.json
// file at path.
func LoadEnvironmentSettings(path string) (EnvironmentSettings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return EnvironmentSettings{}, fmt.Errorf("read environment settings: %w", err)
	}
	var settings EnvironmentSettings
	if err := json.Unmarshal(data, &settings); err != nil {
		return EnvironmentSettings{}, fmt.Errorf("parse environment settings: %w", err)
	}
	return settings, nil
}

// IsAllowed reports whether env is present in the AllowedEnvironments list,
// compared case-insensitively.
func (s EnvironmentSettings) IsAllowed(env string) bool {
	for _, allowed := range s.Environment.AllowedEnvironments {
		if strings.EqualFold(allowed, env) {
			return true
		}
	}
	return false
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func splitAndTrim(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func resolveBool(flagValue bool, envValue string) bool {
	trimmed := strings.TrimSpace(envValue)
	if trimmed == "" {
		return flagValue
	}
	parsed, err := strconv.ParseBool(trimmed)
	if err != nil {
		return flagValue
	}
	return parsed
}

func resolveInt(flagValue int, envValue string) int {
	trimmed := strings.TrimSpace(envValue)
	if trimmed == "" {
		return flagValue
	}
	parsed, err := strconv.Atoi(trimmed)
	if err != nil {
		return flagValue
	}
	return parsed
}

func resolveDuration(flagValue time.Duration, envValue string) time.Duration {
	trimmed := strings.TrimSpace(envValue)
	if trimmed == "" {
		return flagValue
	}
	parsed, err := time.ParseDuration(trimmed)
	if err != nil {
		return flagValue
	}
	return parsed
}
