package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. MEDIADL_SERVER_PORT
const EnvPrefix = "MEDIADL"

// Config holds all configuration for the application
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Storage   StorageConfig
	Queue     QueueConfig
	Extractor ExtractorConfig
	Media     MediaConfig
	Client    ClientConfig
	Poller    PollerConfig
	Logging   LoggingConfig
	Metrics   MetricsConfig
	Tracing   TracingConfig
	Auth      AuthConfig
	Webhook   WebhookConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int
	Host            string
	Mode            string // gin mode: debug, release, test
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	RateLimit       int // requests per second per client
	RateBurst       int
	ProgressTTL     time.Duration
	DownloadDir     string
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Enabled  bool
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int
	MinConns int
}

// DSN renders the postgres connection string
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode)
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Enabled     bool
	Host        string
	Port        int
	Password    string
	DB          int
	MetadataTTL time.Duration
}

// StorageConfig holds object storage configuration
type StorageConfig struct {
	Enabled         bool
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	Region          string
	UseSSL          bool
	PresignExpiry   time.Duration
}

// QueueConfig holds message queue configuration
type QueueConfig struct {
	Enabled    bool
	Host       string
	Port       int
	User       string
	Password   string
	Vhost      string
	MaxRetries int
}

// URL renders the AMQP connection string
func (q QueueConfig) URL() string {
	return fmt.Sprintf("amqp://%s:%s@%s:%d%s", q.User, q.Password, q.Host, q.Port, q.Vhost)
}

// ExtractorConfig selects and tunes extraction backends
type ExtractorConfig struct {
	YtDlpPath       string
	YtDlpTimeout    time.Duration
	CookiesFile     string
	EnableYouTube   bool
	EnableYtDlp     bool
	EnableOpenGraph bool
	HTTPTimeout     time.Duration
}

// MediaConfig holds ffmpeg configuration
type MediaConfig struct {
	FFmpegPath  string
	FFprobePath string
	TempDir     string
	UserAgent   string
}

// ClientConfig configures the API adapter used by the CLI
type ClientConfig struct {
	BaseURL              string
	Timeout              time.Duration
	MinInterval          time.Duration
	MaxBackoffMultiplier float64
	MaxAttempts          int
	BaseDelay            time.Duration
	MaxDelay             time.Duration
	OutputDir            string
	BatchPause           time.Duration
}

// PollerConfig configures status polling
type PollerConfig struct {
	Interval          time.Duration
	MaxAttempts       int
	SimulatedInterval time.Duration
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
	Output string
}

// MetricsConfig holds the metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool
	Port    int
}

// TracingConfig holds Jaeger configuration
type TracingConfig struct {
	Enabled     bool
	ServiceName string
	Endpoint    string
	SampleRate  float64
}

// AuthConfig protects the job endpoints
type AuthConfig struct {
	Enabled        bool
	JWTSecret      string
	JobQuota       int64 // jobs per client per window, enforced through redis
	JobQuotaWindow time.Duration
}

// WebhookConfig configures job completion callbacks
type WebhookConfig struct {
	Secret     string
	Timeout    time.Duration
	MaxRetries int
}

// Load reads configuration from file and environment variables. An empty
// path skips the file and uses defaults plus environment.
func Load(configPath string) (*Config, error) {
	return LoadWithFlags(configPath, nil)
}

// LoadWithFlags is Load with command line flags bound on top. Flag names use
// the dotted config keys, e.g. --client.baseURL.
func LoadWithFlags(configPath string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("failed to bind flags: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.readTimeout", "30s")
	v.SetDefault("server.writeTimeout", "0s") // downloads stream for minutes
	v.SetDefault("server.shutdownTimeout", "10s")
	v.SetDefault("server.rateLimit", 5)
	v.SetDefault("server.rateBurst", 10)
	v.SetDefault("server.progressTTL", "1h")
	v.SetDefault("server.downloadDir", "/tmp/mediadl")

	// Database defaults
	v.SetDefault("database.enabled", false)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.dbname", "mediadl")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.maxConns", 25)
	v.SetDefault("database.minConns", 5)

	// Redis defaults
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.metadataTTL", "10m")

	// Storage defaults
	v.SetDefault("storage.enabled", false)
	v.SetDefault("storage.endpoint", "localhost:9000")
	v.SetDefault("storage.accessKeyID", "minioadmin")
	v.SetDefault("storage.secretAccessKey", "minioadmin")
	v.SetDefault("storage.bucketName", "downloads")
	v.SetDefault("storage.region", "us-east-1")
	v.SetDefault("storage.useSSL", false)
	v.SetDefault("storage.presignExpiry", "1h")

	// Queue defaults
	v.SetDefault("queue.enabled", false)
	v.SetDefault("queue.host", "localhost")
	v.SetDefault("queue.port", 5672)
	v.SetDefault("queue.user", "guest")
	v.SetDefault("queue.password", "guest")
	v.SetDefault("queue.vhost", "/")
	v.SetDefault("queue.maxRetries", 3)

	// Extractor defaults
	v.SetDefault("extractor.ytDlpPath", "yt-dlp")
	v.SetDefault("extractor.ytDlpTimeout", "60s")
	v.SetDefault("extractor.cookiesFile", "")
	v.SetDefault("extractor.enableYouTube", true)
	v.SetDefault("extractor.enableYtDlp", true)
	v.SetDefault("extractor.enableOpenGraph", true)
	v.SetDefault("extractor.httpTimeout", "30s")

	// Media defaults
	v.SetDefault("media.ffmpegPath", "ffmpeg")
	v.SetDefault("media.ffprobePath", "ffprobe")
	v.SetDefault("media.tempDir", "/tmp/mediadl")
	v.SetDefault("media.userAgent", "Mozilla/5.0 (compatible; mediadl)")

	// Client defaults
	v.SetDefault("client.baseURL", "http://localhost:8080")
	v.SetDefault("client.timeout", "10m")
	v.SetDefault("client.minInterval", "2s")
	v.SetDefault("client.maxBackoffMultiplier", 8)
	v.SetDefault("client.maxAttempts", 3)
	v.SetDefault("client.baseDelay", "1s")
	v.SetDefault("client.maxDelay", "30s")
	v.SetDefault("client.outputDir", ".")
	v.SetDefault("client.batchPause", "1s")

	// Poller defaults
	v.SetDefault("poller.interval", "2s")
	v.SetDefault("poller.maxAttempts", 30)
	v.SetDefault("poller.simulatedInterval", "1500ms")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9090)

	// Tracing defaults
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.serviceName", "mediadl")
	v.SetDefault("tracing.endpoint", "http://localhost:14268/api/traces")
	v.SetDefault("tracing.sampleRate", 1.0)

	// Auth defaults
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.jwtSecret", "")
	v.SetDefault("auth.jobQuota", 100)
	v.SetDefault("auth.jobQuotaWindow", "1h")

	// Webhook defaults
	v.SetDefault("webhook.secret", "")
	v.SetDefault("webhook.timeout", "10s")
	v.SetDefault("webhook.maxRetries", 3)
}
