package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/chatlog/internal/favourite"
	"github.com/gosuda/chatlog/internal/store"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// Enabled is the global logging switch; reads work either way.
	Enabled        bool
	Backends       []store.Spec
	DataDir        string
	RecentWindow   int
	QueueSize      int
	FavouritesFile string

	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	Server   ServerConfig
	Bus      BusConfig
	Log      LogConfig
}

// DatabaseConfig holds PostgreSQL connection settings for postgres backends
// without an explicit location.
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string //nolint:gosec // G117: DB connection config
	DBName   string
	SSLMode  string
	MaxConns int
}

// RedisConfig holds Redis connection settings shared by the redis backend,
// the live feed and the channel bus.
type RedisConfig struct {
	Addr     string
	Password string //nolint:gosec // G117: Redis connection config
	DB       int
	// TTL expires idle chats in the redis backend; zero keeps them.
	TTL time.Duration
}

// JWTConfig holds reader token settings. An empty secret disables auth.
type JWTConfig struct {
	Secret string //nolint:gosec // G117: JWT signing secret config
	TTL    time.Duration
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	CORSOrigins     []string
	RateLimitRPS    float64
	RateLimitBurst  int
}

// BusConfig controls consumption of channel handovers from a Redis stream.
type BusConfig struct {
	Enabled  bool
	Topic    string
	Group    string
	Consumer string
}

type LogConfig struct {
	Level  zerolog.Level
	Format string
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	enabled, err := getEnvBool("CHATLOG_ENABLED", true)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	recentWindow, err := getEnvInt("CHATLOG_RECENT_WINDOW", 20)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	queueSize, err := getEnvInt("CHATLOG_QUEUE_SIZE", 256)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	dbPort, err := getEnvInt("CHATLOG_DB_PORT", 5432)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	dbMaxConns, err := getEnvInt("CHATLOG_DB_MAX_CONNS", 10)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	redisDB, err := getEnvInt("CHATLOG_REDIS_DB", 0)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	redisTTL, err := getEnvDuration("CHATLOG_REDIS_TTL", 0)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	jwtTTL, err := getEnvDuration("CHATLOG_JWT_TTL", 24*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	readTimeout, err := getEnvDuration("CHATLOG_SERVER_READ_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	writeTimeout, err := getEnvDuration("CHATLOG_SERVER_WRITE_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	shutdownTimeout, err := getEnvDuration("CHATLOG_SERVER_SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	rps, err := getEnvFloat("CHATLOG_RATE_LIMIT_RPS", 20)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	burst, err := getEnvInt("CHATLOG_RATE_LIMIT_BURST", 40)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	busEnabled, err := getEnvBool("CHATLOG_BUS_ENABLED", false)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	level, err := zerolog.ParseLevel(getEnv("CHATLOG_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("config.Load: CHATLOG_LOG_LEVEL: %w", err)
	}

	dataDir := getEnv("CHATLOG_DATA_DIR", "data")
	hostname, _ := os.Hostname()

	cfg := &Config{
		Enabled:        enabled,
		Backends:       parseBackends(getEnvList("CHATLOG_BACKENDS", []string{"file:rw"})),
		DataDir:        dataDir,
		RecentWindow:   recentWindow,
		QueueSize:      queueSize,
		FavouritesFile: getEnv("CHATLOG_FAVOURITES_FILE", filepath.Join(dataDir, favourite.FileName)),
		Database: DatabaseConfig{
			Host:     getEnv("CHATLOG_DB_HOST", "localhost"),
			Port:     dbPort,
			User:     getEnv("CHATLOG_DB_USER", "chatlog"),
			Password: getEnv("CHATLOG_DB_PASSWORD", ""),
			DBName:   getEnv("CHATLOG_DB_NAME", "chatlog"),
			SSLMode:  getEnv("CHATLOG_DB_SSLMODE", "disable"),
			MaxConns: dbMaxConns,
		},
		Redis: RedisConfig{
			Addr:     getEnv("CHATLOG_REDIS_ADDR", "localhost:6379"),
			Password: getEnv("CHATLOG_REDIS_PASSWORD", ""),
			DB:       redisDB,
			TTL:      redisTTL,
		},
		JWT: JWTConfig{
			Secret: getEnv("CHATLOG_JWT_SECRET", ""),
			TTL:    jwtTTL,
		},
		Server: ServerConfig{
			Addr:            getEnv("CHATLOG_SERVER_ADDR", ":8080"),
			ReadTimeout:     readTimeout,
			WriteTimeout:    writeTimeout,
			ShutdownTimeout: shutdownTimeout,
			CORSOrigins:     getEnvList("CHATLOG_CORS_ORIGINS", []string{"http://localhost:5173"}),
			RateLimitRPS:    rps,
			RateLimitBurst:  burst,
		},
		Bus: BusConfig{
			Enabled:  busEnabled,
			Topic:    getEnv("CHATLOG_BUS_TOPIC", "chatlog.handovers"),
			Group:    getEnv("CHATLOG_BUS_GROUP", "chatlog"),
			Consumer: getEnv("CHATLOG_BUS_CONSUMER", hostname),
		},
		Log: LogConfig{
			Level:  level,
			Format: getEnv("CHATLOG_LOG_FORMAT", "json"),
		},
	}

	err = cfg.validate()
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	return cfg, nil
}

// parseBackends keeps the well-formed entries; malformed ones are logged.
func parseBackends(raw []string) []store.Spec {
	specs := make([]store.Spec, 0, len(raw))
	for _, r := range raw {
		spec, err := store.ParseSpec(r)
		if err != nil {
			log.Warn().Err(err).Msg("config: backend skipped")
			continue
		}
		specs = append(specs, spec)
	}
	return specs
}

// validate checks required fields and value bounds.
func (c *Config) validate() error {
	if c.JWT.Secret == "" {
		log.Warn().Msg("CHATLOG_JWT_SECRET is not set; the history API is unauthenticated")
	} else if len(c.JWT.Secret) < 32 {
		return errors.New("CHATLOG_JWT_SECRET must be at least 32 characters")
	}

	if c.RecentWindow < 1 {
		return fmt.Errorf("CHATLOG_RECENT_WINDOW must be >= 1, got %d", c.RecentWindow)
	}
	if c.QueueSize < 1 {
		return fmt.Errorf("CHATLOG_QUEUE_SIZE must be >= 1, got %d", c.QueueSize)
	}
	if c.Database.Port < 1 || c.Database.Port > 65535 {
		return fmt.Errorf("CHATLOG_DB_PORT must be 1-65535, got %d", c.Database.Port)
	}
	if c.Database.MaxConns < 1 || c.Database.MaxConns > 1<<16 {
		return fmt.Errorf("CHATLOG_DB_MAX_CONNS must be 1-65536, got %d", c.Database.MaxConns)
	}
	if c.Redis.TTL < 0 {
		return fmt.Errorf("CHATLOG_REDIS_TTL must not be negative, got %s", c.Redis.TTL)
	}
	if c.JWT.TTL <= 0 {
		return fmt.Errorf("CHATLOG_JWT_TTL must be positive, got %s", c.JWT.TTL)
	}
	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("CHATLOG_SERVER_READ_TIMEOUT must be positive, got %s", c.Server.ReadTimeout)
	}
	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("CHATLOG_SERVER_WRITE_TIMEOUT must be positive, got %s", c.Server.WriteTimeout)
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("CHATLOG_SERVER_SHUTDOWN_TIMEOUT must be positive, got %s", c.Server.ShutdownTimeout)
	}
	if c.Server.RateLimitRPS <= 0 || c.Server.RateLimitBurst < 1 {
		return fmt.Errorf("CHATLOG_RATE_LIMIT_RPS and CHATLOG_RATE_LIMIT_BURST must be positive, got %g/%d",
			c.Server.RateLimitRPS, c.Server.RateLimitBurst)
	}
	if c.Bus.Enabled && c.Bus.Topic == "" {
		return errors.New("CHATLOG_BUS_TOPIC is required when the bus is enabled")
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		return fmt.Errorf("CHATLOG_LOG_FORMAT must be json or text, got %q", c.Log.Format)
	}

	if c.Database.SSLMode == "disable" && c.uses(store.KindPostgres) {
		log.Warn().Msg("CHATLOG_DB_SSLMODE=disable is insecure for production; set to 'require' or 'verify-full'")
	}

	return nil
}

// uses reports whether any configured backend is of kind.
func (c *Config) uses(kind store.Kind) bool {
	for _, s := range c.Backends {
		if s.Kind == kind {
			return true
		}
	}
	return false
}

// NeedsRedis reports whether the redis client has to be connected.
func (c *Config) NeedsRedis() bool {
	return c.Bus.Enabled || c.uses(store.KindRedis)
}

// DSN returns the PostgreSQL connection string.
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parsing %s=%q as int: %w", key, v, err)
	}
	return n, nil
}

func getEnvFloat(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing %s=%q as float: %w", key, v, err)
	}
	return f, nil
}

func getEnvBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("parsing %s=%q as bool: %w", key, v, err)
	}
	return b, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("parsing %s=%q as duration: %w", key, v, err)
	}
	return d, nil
}

func getEnvList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
