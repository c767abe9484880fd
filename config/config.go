package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

const keyEnv = "ENV"
const envLocal = "local"

const (
	defaultHost                 = "localhost"
	defaultPort                 = "44445"
	defaultWorkerPoolSize       = 50
	defaultAcceptTimeout        = 100 * time.Millisecond
	defaultHandshakeTimeout     = 10 * time.Second
	defaultShutdownTimeout      = 10 * time.Second
	defaultReadTimeout          = 30 * time.Second
	defaultMaxRequestBytes      = 1024
	defaultMaxRequestsPerMinute = 100
	defaultWindowSeconds        = 60
	defaultCompactionSchedule   = "@every 1m"
	defaultLogLevel             = "info"
)

type Config struct {
	config *viper.Viper
}

func Load(env string) (*Config, error) {

	if len(env) == 0 {
		if env = os.Getenv(keyEnv); len(env) == 0 {
			env = envLocal
		}
	}

	configPath, err := getConfigPath(env)

	viperConfig := viper.New()
	if err == nil {
		viperConfig.SetConfigFile(configPath)
		if err := viperConfig.ReadInConfig(); err != nil {
			slog.Warn(fmt.Sprintf("error reading config file, %s", err))
		}
	}
	viperConfig.AutomaticEnv()

	cfg := &Config{
		config: viperConfig,
	}

	return cfg, nil
}

// Set overrides a config key. Env overrides still take precedence for keys
// that have one.
func (c *Config) Set(key string, value any) {
	c.config.Set(key, value)
}

func (c *Config) GetHost() string {
	return c.getString("HOST", "server.host", defaultHost)
}

func (c *Config) GetPort() string {
	return c.getString("PORT", "server.port", defaultPort)
}

func (c *Config) GetAddress() string {
	return fmt.Sprintf("%s:%s", c.GetHost(), c.GetPort())
}

func (c *Config) IsSSLEnabled() bool {
	return c.getBool("SSL_ENABLED", "server.ssl_enabled")
}

func (c *Config) ShouldRereadOnQuery() bool {
	return c.getBool("REREAD_ON_QUERY", "server.reread_on_query")
}

func (c *Config) GetFilePath() string {
	filePath := c.config.GetString("FILE_PATH")
	if len(filePath) == 0 {
		filePath = c.config.GetString("file.path")
	}

	return filePath
}

func (c *Config) GetWorkerPoolSize() int {
	return c.getInt("WORKER_POOL_SIZE", "server.worker_pool_size", defaultWorkerPoolSize)
}

func (c *Config) GetMaxRequestBytes() int {
	return c.getInt("MAX_REQUEST_BYTES", "server.max_request_bytes", defaultMaxRequestBytes)
}

func (c *Config) GetAcceptTimeout() time.Duration {
	return c.getDuration("ACCEPT_TIMEOUT", "server.accept_timeout", defaultAcceptTimeout)
}

func (c *Config) GetHandshakeTimeout() time.Duration {
	return c.getDuration("HANDSHAKE_TIMEOUT", "server.handshake_timeout", defaultHandshakeTimeout)
}

func (c *Config) GetShutdownTimeout() time.Duration {
	return c.getDuration("SHUTDOWN_TIMEOUT", "server.shutdown_timeout", defaultShutdownTimeout)
}

// GetReadTimeout bounds how long a connection may wait for its request
// bytes after the handshake.
func (c *Config) GetReadTimeout() time.Duration {
	return c.getDuration("READ_TIMEOUT", "server.read_timeout", defaultReadTimeout)
}

func (c *Config) GetMaxRequestsPerMinute() int {
	return c.getInt("MAX_REQUESTS_PER_MINUTE", "ratelimit.max_requests_per_minute", defaultMaxRequestsPerMinute)
}

func (c *Config) GetRateLimitWindow() time.Duration {
	seconds := c.getInt("WINDOW_SECONDS", "ratelimit.window_seconds", defaultWindowSeconds)
	return time.Duration(seconds) * time.Second
}

// ShouldCheckRateBeforeParse decides whether malformed requests consume a
// client's quota.
func (c *Config) ShouldCheckRateBeforeParse() bool {
	return c.getBool("CHECK_RATE_BEFORE_PARSE", "ratelimit.check_before_parse")
}

func (c *Config) GetCompactionSchedule() string {
	return c.getString("COMPACTION_SCHEDULE", "ratelimit.compaction_schedule", defaultCompactionSchedule)
}

func (c *Config) GetCertFile() string {
	return c.getString("TLS_CERT_FILE", "tls.cert_file", "")
}

func (c *Config) GetKeyFile() string {
	return c.getString("TLS_KEY_FILE", "tls.key_file", "")
}

func (c *Config) GetCAFile() string {
	return c.getString("TLS_CA_FILE", "tls.ca_file", "")
}

func (c *Config) GetClientCertFile() string {
	return c.getString("TLS_CLIENT_CERT_FILE", "tls.client_cert_file", "")
}

func (c *Config) GetClientKeyFile() string {
	return c.getString("TLS_CLIENT_KEY_FILE", "tls.client_key_file", "")
}

// GetAdminPort returns the port of the admin HTTP API. Empty disables it.
func (c *Config) GetAdminPort() string {
	return c.getString("ADMIN_PORT", "admin.port", "")
}

func (c *Config) GetOTLPEndpoint() string {
	return c.getString("OTEL_EXPORTER_OTLP_METRICS_ENDPOINT", "metrics.otlp_endpoint", "")
}

func (c *Config) GetLogLevel() string {
	return c.getString("LOG_LEVEL", "log.level", defaultLogLevel)
}

func (c *Config) getString(envKey string, fileKey string, fallback string) string {
	value := c.config.GetString(envKey)
	if len(value) == 0 {
		value = c.config.GetString(fileKey)
	}
	if len(value) == 0 {
		value = fallback
	}

	return value
}

func (c *Config) getInt(envKey string, fileKey string, fallback int) int {
	if c.config.IsSet(envKey) {
		return c.config.GetInt(envKey)
	}
	if c.config.IsSet(fileKey) {
		return c.config.GetInt(fileKey)
	}

	return fallback
}

func (c *Config) getBool(envKey string, fileKey string) bool {
	if c.config.IsSet(envKey) {
		return c.config.GetBool(envKey)
	}

	return c.config.GetBool(fileKey)
}

func (c *Config) getDuration(envKey string, fileKey string, fallback time.Duration) time.Duration {
	var value time.Duration
	if c.config.IsSet(envKey) {
		value = c.config.GetDuration(envKey)
	} else if c.config.IsSet(fileKey) {
		value = c.config.GetDuration(fileKey)
	}
	if value <= 0 {
		return fallback
	}

	return value
}

func getProjectRoot() (string, error) {
	currentDir, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get current working directory: %w", err)
	}

	for {
		configDir := filepath.Join(currentDir, "config")
		if info, err := os.Stat(configDir); err == nil && info.IsDir() {
			return currentDir, nil
		}

		parent := filepath.Dir(currentDir)

		if parent == currentDir {
			break
		}

		currentDir = parent
	}

	return "", fmt.Errorf("could not find project root (directory containing 'config' folder)")
}

func getConfigPath(env string) (string, error) {
	if configPath := os.Getenv("CONFIG_FILE"); len(configPath) > 0 {
		return configPath, nil
	}

	configFile := fmt.Sprintf("config.%s.yaml", env)

	projectRoot, err := getProjectRoot()
	if err != nil {
		slog.Warn("failed to find project root with config directory, will use environment variables instead", "err", err.Error())
		return "", fmt.Errorf("failed to find project root: %w", err)
	}
	configPath := filepath.Join(projectRoot, "config", configFile)
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		slog.Warn("failed to find config file within config directory, will use environment variables instead", "err", err.Error())
		return "", fmt.Errorf("config file does not exist: %s", configPath)
	}

	return configPath, nil
}
