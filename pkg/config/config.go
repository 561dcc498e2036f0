package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"callguard/pkg/errors"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// Config represents the complete application configuration
type Config struct {
	HTTP      HTTPConfig      `json:"http"`
	Logging   LoggingConfig   `json:"logging"`
	Model     ModelConfig     `json:"model"`
	Capture   CaptureConfig   `json:"capture"`
	History   HistoryConfig   `json:"history"`
	Messaging MessagingConfig `json:"messaging"`
	Tracing   TracingConfig   `json:"tracing"`
	RateLimit RateLimitConfig `json:"rate_limit"`
}

// HTTPConfig holds HTTP server configuration
type HTTPConfig struct {
	// HTTP port
	Port int `json:"port" env:"HTTP_PORT" default:"8080"`

	// Whether metrics endpoint is enabled
	EnableMetrics bool `json:"enable_metrics" env:"HTTP_ENABLE_METRICS" default:"true"`

	// Read timeout for HTTP requests
	ReadTimeout time.Duration `json:"read_timeout" env:"HTTP_READ_TIMEOUT" default:"10s"`

	// Write timeout for HTTP responses. Uploads wait on the model, so this
	// is longer than the read timeout.
	WriteTimeout time.Duration `json:"write_timeout" env:"HTTP_WRITE_TIMEOUT" default:"120s"`

	// Maximum accepted upload size in bytes
	MaxUploadBytes int64 `json:"max_upload_bytes" env:"HTTP_MAX_UPLOAD_BYTES" default:"20971520"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	// Log level
	Level string `json:"level" env:"LOG_LEVEL" default:"info"`

	// Log format (json or text)
	Format string `json:"format" env:"LOG_FORMAT" default:"json"`

	// Log output file (empty = stdout)
	OutputFile string `json:"output_file" env:"LOG_OUTPUT_FILE"`
}

// ModelConfig holds the remote analysis model configuration
type ModelConfig struct {
	APIKey      string `json:"-" env:"GEMINI_API_KEY"`
	LiveModel   string `json:"live_model" env:"GEMINI_LIVE_MODEL" default:"gemini-2.5-flash-native-audio-preview-09-2025"`
	UploadModel string `json:"upload_model" env:"GEMINI_UPLOAD_MODEL" default:"gemini-2.5-flash"`
	LiveURL     string `json:"live_url" env:"GEMINI_LIVE_URL"`
	APIURL      string `json:"api_url" env:"GEMINI_API_URL"`

	// Write deadline for a single outbound frame on the live session
	WriteTimeout time.Duration `json:"write_timeout" env:"GEMINI_WRITE_TIMEOUT" default:"10s"`

	// Timeout for one-shot upload analysis requests
	UploadTimeout time.Duration `json:"upload_timeout" env:"GEMINI_UPLOAD_TIMEOUT" default:"90s"`
}

// CaptureConfig holds audio capture configuration
type CaptureConfig struct {
	// Device type: ffmpeg or wav
	Device string `json:"device" env:"CAPTURE_DEVICE" default:"ffmpeg"`

	FFmpegPath   string `json:"ffmpeg_path" env:"CAPTURE_FFMPEG_PATH" default:"ffmpeg"`
	FFmpegFormat string `json:"ffmpeg_format" env:"CAPTURE_FFMPEG_FORMAT"`
	FFmpegInput  string `json:"ffmpeg_input" env:"CAPTURE_FFMPEG_INPUT"`

	// WAV file replayed as a test call
	WAVPath     string `json:"wav_path" env:"CAPTURE_WAV_PATH"`
	WAVRealtime bool   `json:"wav_realtime" env:"CAPTURE_WAV_REALTIME" default:"true"`

	SampleRate int `json:"sample_rate" env:"CAPTURE_SAMPLE_RATE" default:"16000"`
	BlockSize  int `json:"block_size" env:"CAPTURE_BLOCK_SIZE" default:"4096"`
}

// HistoryConfig holds history persistence configuration
type HistoryConfig struct {
	// Backend: file, redis or memory
	Backend string `json:"backend" env:"HISTORY_BACKEND" default:"file"`
	Path    string `json:"path" env:"HISTORY_PATH" default:"./data/history.json"`
	Key     string `json:"key" env:"HISTORY_KEY" default:"scamShieldHistory"`

	Redis RedisConfig `json:"redis"`
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Address      string        `json:"address" env:"REDIS_ADDRESS" default:"localhost:6379"`
	Password     string        `json:"-" env:"REDIS_PASSWORD"`
	Database     int           `json:"database" env:"REDIS_DATABASE" default:"0"`
	PoolSize     int           `json:"pool_size" env:"REDIS_POOL_SIZE" default:"10"`
	DialTimeout  time.Duration `json:"dial_timeout" env:"REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `json:"read_timeout" env:"REDIS_READ_TIMEOUT" default:"3s"`
	WriteTimeout time.Duration `json:"write_timeout" env:"REDIS_WRITE_TIMEOUT" default:"3s"`
}

// MessagingConfig holds alert fan-out configuration
type MessagingConfig struct {
	AMQPUrl           string        `json:"amqp_url" env:"AMQP_URL"`
	Exchange          string        `json:"exchange" env:"AMQP_EXCHANGE" default:"callguard"`
	AlertRoutingKey   string        `json:"alert_routing_key" env:"AMQP_ALERT_ROUTING_KEY" default:"callguard.alert"`
	SessionRoutingKey string        `json:"session_routing_key" env:"AMQP_SESSION_ROUTING_KEY" default:"callguard.session"`
	PublishTimeout    time.Duration `json:"publish_timeout" env:"AMQP_PUBLISH_TIMEOUT" default:"5s"`
}

// Enabled reports whether AMQP publishing is configured
func (m MessagingConfig) Enabled() bool {
	return m.AMQPUrl != ""
}

// TracingConfig controls OpenTelemetry tracing
type TracingConfig struct {
	Enabled     bool    `json:"enabled" env:"TRACING_ENABLED" default:"false"`
	Endpoint    string  `json:"endpoint" env:"TRACING_ENDPOINT"`
	Insecure    bool    `json:"insecure" env:"TRACING_INSECURE" default:"false"`
	ServiceName string  `json:"service_name" env:"TRACING_SERVICE_NAME" default:"callguard"`
	SampleRatio float64 `json:"sample_ratio" env:"TRACING_SAMPLE_RATIO" default:"1.0"`
}

// RateLimitConfig controls per-client request limiting on the HTTP API
type RateLimitConfig struct {
	Enabled           bool          `json:"enabled" env:"RATE_LIMIT_ENABLED" default:"false"`
	RequestsPerSecond float64       `json:"requests_per_second" env:"RATE_LIMIT_RPS" default:"1"`
	BurstSize         int           `json:"burst_size" env:"RATE_LIMIT_BURST" default:"5"`
	BlockDuration     time.Duration `json:"block_duration" env:"RATE_LIMIT_BLOCK_DURATION" default:"1m"`

	// Comma separated IPs or CIDRs that bypass limiting
	WhitelistedIPs []string `json:"whitelisted_ips" env:"RATE_LIMIT_WHITELIST_IPS"`
}

// Load loads the configuration from .env file and environment variables
func Load(logger *logrus.Logger) (*Config, error) {
	// Get current working directory
	wd, err := os.Getwd()
	if err != nil {
		logger.WithError(err).Warn("Failed to get current working directory")
		wd = "unknown"
	}

	// Define possible locations for .env file
	possibleEnvFiles := []string{
		".env",                    // Current directory
		"../.env",                 // Parent directory
		filepath.Join(wd, ".env"), // Absolute path
	}

	var loadedFrom string
	for _, envFile := range possibleEnvFiles {
		if _, statErr := os.Stat(envFile); statErr == nil {
			absPath, _ := filepath.Abs(envFile)
			logger.WithField("path", absPath).Debug("Attempting to load .env file")

			if loadErr := godotenv.Load(envFile); loadErr == nil {
				loadedFrom = absPath
				break
			}
		}
	}

	if loadedFrom != "" {
		logger.WithFields(logrus.Fields{
			"working_dir": wd,
			"path":        loadedFrom,
		}).Info("Successfully loaded .env file")
	} else {
		logger.WithField("working_dir", wd).Warn("No .env file found, using environment variables only")
	}

	config := &Config{}

	if err := loadHTTPConfig(logger, &config.HTTP); err != nil {
		return nil, errors.Wrap(err, "failed to load HTTP configuration")
	}

	if err := loadLoggingConfig(logger, &config.Logging); err != nil {
		return nil, errors.Wrap(err, "failed to load logging configuration")
	}

	if err := loadModelConfig(logger, &config.Model); err != nil {
		return nil, errors.Wrap(err, "failed to load model configuration")
	}

	if err := loadCaptureConfig(logger, &config.Capture); err != nil {
		return nil, errors.Wrap(err, "failed to load capture configuration")
	}

	if err := loadHistoryConfig(logger, &config.History); err != nil {
		return nil, errors.Wrap(err, "failed to load history configuration")
	}

	loadMessagingConfig(&config.Messaging)
	loadTracingConfig(logger, &config.Tracing)
	loadRateLimitConfig(logger, &config.RateLimit)

	// Validate the complete configuration
	if err := validateConfig(logger, config); err != nil {
		return nil, errors.Wrap(err, "configuration validation failed")
	}

	return config, nil
}

func loadHTTPConfig(logger *logrus.Logger, config *HTTPConfig) error {
	httpPortStr := getEnv("HTTP_PORT", "8080")
	httpPort, err := strconv.Atoi(httpPortStr)
	if err != nil || httpPort < 1 || httpPort > 65535 {
		logger.Warn("Invalid HTTP_PORT value, using default: 8080")
		config.Port = 8080
	} else {
		config.Port = httpPort
	}

	config.EnableMetrics = getEnvBool("HTTP_ENABLE_METRICS", true)
	config.ReadTimeout = getEnvDuration("HTTP_READ_TIMEOUT", 10*time.Second)
	config.WriteTimeout = getEnvDuration("HTTP_WRITE_TIMEOUT", 120*time.Second)
	config.MaxUploadBytes = int64(getEnvInt("HTTP_MAX_UPLOAD_BYTES", 20<<20))

	return nil
}

func loadLoggingConfig(logger *logrus.Logger, config *LoggingConfig) error {
	config.Level = getEnv("LOG_LEVEL", "info")

	if _, err := logrus.ParseLevel(config.Level); err != nil {
		logger.Warnf("Invalid LOG_LEVEL '%s', defaulting to 'info'", config.Level)
		config.Level = "info"
	}

	config.Format = getEnv("LOG_FORMAT", "json")
	if config.Format != "json" && config.Format != "text" {
		logger.Warn("Invalid LOG_FORMAT, must be 'json' or 'text', defaulting to 'json'")
		config.Format = "json"
	}

	config.OutputFile = getEnv("LOG_OUTPUT_FILE", "")

	return nil
}

func loadModelConfig(logger *logrus.Logger, config *ModelConfig) error {
	// API_KEY is accepted as a fallback name
	config.APIKey = getEnv("GEMINI_API_KEY", getEnv("API_KEY", ""))
	if config.APIKey == "" {
		logger.Warn("GEMINI_API_KEY is not set; sessions and uploads will fail until it is configured")
	}

	config.LiveModel = getEnv("GEMINI_LIVE_MODEL", "gemini-2.5-flash-native-audio-preview-09-2025")
	config.UploadModel = getEnv("GEMINI_UPLOAD_MODEL", "gemini-2.5-flash")
	config.LiveURL = getEnv("GEMINI_LIVE_URL", "")
	config.APIURL = getEnv("GEMINI_API_URL", "")
	config.WriteTimeout = getEnvDuration("GEMINI_WRITE_TIMEOUT", 10*time.Second)
	config.UploadTimeout = getEnvDuration("GEMINI_UPLOAD_TIMEOUT", 90*time.Second)

	return nil
}

func loadCaptureConfig(logger *logrus.Logger, config *CaptureConfig) error {
	config.Device = strings.ToLower(getEnv("CAPTURE_DEVICE", "ffmpeg"))
	config.FFmpegPath = getEnv("CAPTURE_FFMPEG_PATH", "ffmpeg")
	config.FFmpegFormat = getEnv("CAPTURE_FFMPEG_FORMAT", "")
	config.FFmpegInput = getEnv("CAPTURE_FFMPEG_INPUT", "")
	config.WAVPath = getEnv("CAPTURE_WAV_PATH", "")
	config.WAVRealtime = getEnvBool("CAPTURE_WAV_REALTIME", true)

	config.SampleRate = getEnvInt("CAPTURE_SAMPLE_RATE", 16000)
	if config.SampleRate < 8000 || config.SampleRate > 192000 {
		logger.Warn("Invalid CAPTURE_SAMPLE_RATE value, using default: 16000")
		config.SampleRate = 16000
	}

	config.BlockSize = getEnvInt("CAPTURE_BLOCK_SIZE", 4096)
	if config.BlockSize <= 0 {
		logger.Warn("Invalid CAPTURE_BLOCK_SIZE value, using default: 4096")
		config.BlockSize = 4096
	}

	return nil
}

func loadHistoryConfig(logger *logrus.Logger, config *HistoryConfig) error {
	config.Backend = strings.ToLower(getEnv("HISTORY_BACKEND", "file"))
	config.Path = getEnv("HISTORY_PATH", "./data/history.json")
	config.Key = getEnv("HISTORY_KEY", "scamShieldHistory")

	config.Redis.Address = getEnv("REDIS_ADDRESS", "localhost:6379")
	config.Redis.Password = getEnv("REDIS_PASSWORD", "")
	config.Redis.Database = getEnvInt("REDIS_DATABASE", 0)
	config.Redis.PoolSize = getEnvInt("REDIS_POOL_SIZE", 10)
	config.Redis.DialTimeout = getEnvDuration("REDIS_DIAL_TIMEOUT", 5*time.Second)
	config.Redis.ReadTimeout = getEnvDuration("REDIS_READ_TIMEOUT", 3*time.Second)
	config.Redis.WriteTimeout = getEnvDuration("REDIS_WRITE_TIMEOUT", 3*time.Second)

	if config.Backend == "redis" {
		logger.WithField("address", config.Redis.Address).Debug("Redis history backend selected")
	}

	return nil
}

func loadMessagingConfig(config *MessagingConfig) {
	config.AMQPUrl = getEnv("AMQP_URL", "")
	config.Exchange = getEnv("AMQP_EXCHANGE", "callguard")
	config.AlertRoutingKey = getEnv("AMQP_ALERT_ROUTING_KEY", "callguard.alert")
	config.SessionRoutingKey = getEnv("AMQP_SESSION_ROUTING_KEY", "callguard.session")
	config.PublishTimeout = getEnvDuration("AMQP_PUBLISH_TIMEOUT", 5*time.Second)
}

func loadTracingConfig(logger *logrus.Logger, config *TracingConfig) {
	config.Enabled = getEnvBool("TRACING_ENABLED", false)
	config.Endpoint = getEnv("TRACING_ENDPOINT", "")
	config.Insecure = getEnvBool("TRACING_INSECURE", false)
	config.ServiceName = getEnv("TRACING_SERVICE_NAME", "callguard")
	config.SampleRatio = getEnvFloat("TRACING_SAMPLE_RATIO", 1.0)

	if config.Enabled && config.Endpoint == "" {
		logger.Warn("TRACING_ENABLED is set without TRACING_ENDPOINT; spans stay local")
	}
}

func loadRateLimitConfig(logger *logrus.Logger, config *RateLimitConfig) {
	config.Enabled = getEnvBool("RATE_LIMIT_ENABLED", false)
	config.RequestsPerSecond = getEnvFloat("RATE_LIMIT_RPS", 1)
	if config.RequestsPerSecond <= 0 {
		logger.Warn("Invalid RATE_LIMIT_RPS value, using default: 1")
		config.RequestsPerSecond = 1
	}
	config.BurstSize = getEnvInt("RATE_LIMIT_BURST", 5)
	if config.BurstSize < 1 {
		logger.Warn("Invalid RATE_LIMIT_BURST value, using default: 5")
		config.BurstSize = 5
	}
	config.BlockDuration = getEnvDuration("RATE_LIMIT_BLOCK_DURATION", time.Minute)

	config.WhitelistedIPs = nil
	for _, ip := range strings.Split(getEnv("RATE_LIMIT_WHITELIST_IPS", "127.0.0.1,::1"), ",") {
		if ip = strings.TrimSpace(ip); ip != "" {
			config.WhitelistedIPs = append(config.WhitelistedIPs, ip)
		}
	}
}

// validateConfig validates the configuration
func validateConfig(logger *logrus.Logger, config *Config) error {
	switch config.Capture.Device {
	case "ffmpeg":
	case "wav":
		if config.Capture.WAVPath == "" {
			return errors.NewConfigurationError("CAPTURE_DEVICE=wav requires CAPTURE_WAV_PATH")
		}
	default:
		return errors.NewConfigurationError(fmt.Sprintf("unknown CAPTURE_DEVICE %q, must be 'ffmpeg' or 'wav'", config.Capture.Device))
	}

	switch config.History.Backend {
	case "file":
		if strings.TrimSpace(config.History.Path) == "" {
			return errors.NewConfigurationError("HISTORY_BACKEND=file requires HISTORY_PATH")
		}
	case "redis":
		if config.History.Redis.Address == "" {
			return errors.NewConfigurationError("HISTORY_BACKEND=redis requires REDIS_ADDRESS")
		}
	case "memory":
		logger.Warn("In-memory history backend selected; history is lost on restart")
	default:
		return errors.NewConfigurationError(fmt.Sprintf("unknown HISTORY_BACKEND %q, must be 'file', 'redis' or 'memory'", config.History.Backend))
	}

	if config.History.Key == "" {
		return errors.NewConfigurationError("HISTORY_KEY must not be empty")
	}

	if config.Tracing.SampleRatio < 0 || config.Tracing.SampleRatio > 1 {
		logger.Warn("TRACING_SAMPLE_RATIO outside [0,1] will be clamped")
	}

	if config.Logging.OutputFile != "" {
		f, err := os.OpenFile(config.Logging.OutputFile, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
		if err != nil {
			return errors.Wrap(err, fmt.Sprintf("cannot write to log file: %s", config.Logging.OutputFile))
		}
		f.Close()
	}

	return nil
}

// ApplyLogging applies the logging configuration to the logger
func (c *Config) ApplyLogging(logger *logrus.Logger) error {
	level, err := logrus.ParseLevel(c.Logging.Level)
	if err != nil {
		return errors.Wrap(err, fmt.Sprintf("invalid log level: %s", c.Logging.Level))
	}
	logger.SetLevel(level)

	if c.Logging.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
		})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: time.RFC3339Nano,
		})
	}

	if c.Logging.OutputFile != "" {
		f, err := os.OpenFile(c.Logging.OutputFile, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
		if err != nil {
			return errors.Wrap(err, fmt.Sprintf("failed to open log file: %s", c.Logging.OutputFile))
		}
		logger.SetOutput(f)
	} else {
		logger.SetOutput(os.Stdout)
	}

	return nil
}

// Helper function to get an environment variable with a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// Helper function to get a boolean environment variable with a default value
func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	switch strings.ToLower(value) {
	case "true", "yes", "1", "on":
		return true
	case "false", "no", "0", "off":
		return false
	default:
		return defaultValue
	}
}

// Helper function to get an integer environment variable with a default value
func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	intValue, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}

	return intValue
}

// Helper function to get a duration environment variable with a default value
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	duration, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}

	return duration
}

// getEnvFloat retrieves an environment variable and converts it to float64
func getEnvFloat(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	floatValue, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return defaultValue
	}

	return floatValue
}
