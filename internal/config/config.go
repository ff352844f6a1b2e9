package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Cache     CacheConfig
	Logging   LoggingConfig
	Voting    VotingConfig
	Scheduler SchedulerConfig
	Events    EventsConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port            string
	Environment     string
	Host            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	GracefulTimeout time.Duration
	MaxHeaderBytes  int
}

// 🗄️ DATABASE CONFIGURATION
type DatabaseConfig struct {
	Provider           string // postgres | memory
	URL                string
	MaxOpenConns       int
	MaxIdleConns       int
	ConnMaxLifetime    time.Duration
	ConnMaxIdleTime    time.Duration
	SlowQueryThreshold time.Duration
	MigrationsPath     string
	AutoMigrate        bool
	HealthTimeout      time.Duration
}

// 📦 CACHE CONFIGURATION
type CacheConfig struct {
	Provider   string // memory | redis
	RedisURL   string
	DefaultTTL time.Duration
	MaxSize    int
}

// 📝 LOGGING CONFIGURATION
type LoggingConfig struct {
	Level  string
	Format string
}

// 🗳️ VOTING CONFIGURATION
type VotingConfig struct {
	DecayFactor             float64
	FrontpageBonus          float64
	CuratedBonus            float64
	InactivityThresholdDays int

	UserLimits  RateLimits
	AdminLimits RateLimits

	ReviewVoteThreshold     int
	CommentingDisabledKarma float64
	DuplicateVoteRetries    int

	// KarmaRewarderOverrides maps an account id to the fixed power it always casts
	KarmaRewarderOverrides map[string]float64

	RescoreCollections []string
	RescoreBatchSize   int
	RescoreWorkers     int
}

// RateLimits caps how many votes an account may cast per window
type RateLimits struct {
	PerDay          int
	PerHour         int
	PerAuthorPerDay int
}

// ⏰ SCHEDULER CONFIGURATION
type SchedulerConfig struct {
	Enabled        bool
	ActiveSpec     string
	InactiveSpec   string
	LeaderElection bool
	LeaderLockKey  string
	LeaderLockTTL  time.Duration
	InstanceID     string
}

// 📣 EVENT BUS CONFIGURATION
type EventsConfig struct {
	BufferSize     int
	WorkerCount    int
	HandlerTimeout time.Duration
}

// 🚀 CONFIGURATION LOADER
func Load() (*Config, error) {
	// Load environment file based on GO_ENV
	env := getEnv("GO_ENV", "development")
	if env != "production" {
		envFile := fmt.Sprintf(".env.%s", env)
		if _, err := os.Stat(envFile); err == nil {
			_ = godotenv.Load(envFile)
		} else {
			_ = godotenv.Load() // fallback to .env
		}
	}

	voting, err := loadVotingConfig()
	if err != nil {
		return nil, fmt.Errorf("voting config: %w", err)
	}

	config := &Config{
		Server:    loadServerConfig(env),
		Database:  loadDatabaseConfig(env),
		Cache:     loadCacheConfig(),
		Logging:   loadLoggingConfig(env),
		Voting:    voting,
		Scheduler: loadSchedulerConfig(),
		Events:    loadEventsConfig(),
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

// 🖥️ SERVER CONFIGURATION
func loadServerConfig(env string) ServerConfig {
	config := ServerConfig{
		Port:            getEnv("PORT", "9000"),
		Environment:     env,
		Host:            getEnv("SERVER_HOST", "0.0.0.0"),
		ReadTimeout:     getDurationEnv("SERVER_READ_TIMEOUT", 10*time.Second),
		WriteTimeout:    getDurationEnv("SERVER_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getDurationEnv("SERVER_IDLE_TIMEOUT", 120*time.Second),
		GracefulTimeout: getDurationEnv("GRACEFUL_TIMEOUT", 30*time.Second),
		MaxHeaderBytes:  getIntEnv("MAX_HEADER_BYTES", 1<<20), // 1MB
	}

	if env == "development" {
		config.GracefulTimeout = 10 * time.Second
	}

	return config
}

// 🗄️ DATABASE CONFIGURATION
func loadDatabaseConfig(env string) DatabaseConfig {
	var defaultMaxOpen, defaultMaxIdle int
	var defaultConnLifetime time.Duration

	switch env {
	case "production":
		defaultMaxOpen = 50
		defaultMaxIdle = 20
		defaultConnLifetime = 15 * time.Minute
	case "staging":
		defaultMaxOpen = 25
		defaultMaxIdle = 10
		defaultConnLifetime = 10 * time.Minute
	default: // development
		defaultMaxOpen = 10
		defaultMaxIdle = 5
		defaultConnLifetime = 5 * time.Minute
	}

	return DatabaseConfig{
		Provider:           getEnv("STORAGE_PROVIDER", "postgres"),
		URL:                os.Getenv("DATABASE_URL"),
		MaxOpenConns:       getIntEnv("DB_MAX_OPEN_CONNS", defaultMaxOpen),
		MaxIdleConns:       getIntEnv("DB_MAX_IDLE_CONNS", defaultMaxIdle),
		ConnMaxLifetime:    getDurationEnv("DB_CONN_MAX_LIFETIME", defaultConnLifetime),
		ConnMaxIdleTime:    getDurationEnv("DB_CONN_MAX_IDLE_TIME", 30*time.Minute),
		SlowQueryThreshold: getDurationEnv("DB_SLOW_QUERY_THRESHOLD", 100*time.Millisecond),
		MigrationsPath:     getEnv("DB_MIGRATIONS_PATH", ""), // empty runs the embedded migrations
		AutoMigrate:        getBoolEnv("DB_AUTO_MIGRATE", true),
		HealthTimeout:      getDurationEnv("DB_HEALTH_TIMEOUT", 30*time.Second),
	}
}

// 📦 CACHE CONFIGURATION
func loadCacheConfig() CacheConfig {
	redisURL := getEnv("REDIS_URL", "")
	defaultProvider := "memory"
	if redisURL != "" {
		defaultProvider = "redis"
	}

	return CacheConfig{
		Provider:   getEnv("CACHE_PROVIDER", defaultProvider),
		RedisURL:   redisURL,
		DefaultTTL: getDurationEnv("CACHE_TTL", time.Minute),
		MaxSize:    getIntEnv("CACHE_MAX_SIZE", 10000),
	}
}

// 📝 LOGGING CONFIGURATION
func loadLoggingConfig(env string) LoggingConfig {
	return LoggingConfig{
		Level:  getEnv("LOG_LEVEL", getDefaultLogLevel(env)),
		Format: getEnv("LOG_FORMAT", getDefaultLogFormat(env)),
	}
}

// 🗳️ VOTING CONFIGURATION
func loadVotingConfig() (VotingConfig, error) {
	overrides, err := parsePowerOverrides(getEnv("KARMA_REWARDER_OVERRIDES", ""))
	if err != nil {
		return VotingConfig{}, err
	}

	config := DefaultVotingConfig()
	config.DecayFactor = getFloat64Env("SCORE_DECAY_FACTOR", config.DecayFactor)
	config.FrontpageBonus = getFloat64Env("FRONTPAGE_BONUS", config.FrontpageBonus)
	config.CuratedBonus = getFloat64Env("CURATED_BONUS", config.CuratedBonus)
	config.InactivityThresholdDays = getIntEnv("INACTIVITY_THRESHOLD_DAYS", config.InactivityThresholdDays)
	config.UserLimits = RateLimits{
		PerDay:          getIntEnv("VOTE_LIMIT_PER_DAY", config.UserLimits.PerDay),
		PerHour:         getIntEnv("VOTE_LIMIT_PER_HOUR", config.UserLimits.PerHour),
		PerAuthorPerDay: getIntEnv("VOTE_LIMIT_PER_AUTHOR_PER_DAY", config.UserLimits.PerAuthorPerDay),
	}
	config.AdminLimits = RateLimits{
		PerDay:          getIntEnv("ADMIN_VOTE_LIMIT_PER_DAY", config.AdminLimits.PerDay),
		PerHour:         getIntEnv("ADMIN_VOTE_LIMIT_PER_HOUR", config.AdminLimits.PerHour),
		PerAuthorPerDay: getIntEnv("ADMIN_VOTE_LIMIT_PER_AUTHOR_PER_DAY", config.AdminLimits.PerAuthorPerDay),
	}
	config.ReviewVoteThreshold = getIntEnv("REVIEW_VOTE_THRESHOLD", config.ReviewVoteThreshold)
	config.CommentingDisabledKarma = getFloat64Env("COMMENTING_DISABLED_KARMA", config.CommentingDisabledKarma)
	config.DuplicateVoteRetries = getIntEnv("DUPLICATE_VOTE_RETRIES", config.DuplicateVoteRetries)
	config.KarmaRewarderOverrides = overrides
	config.RescoreCollections = getListEnv("RESCORE_COLLECTIONS", config.RescoreCollections)
	config.RescoreBatchSize = getIntEnv("RESCORE_BATCH_SIZE", config.RescoreBatchSize)
	config.RescoreWorkers = getIntEnv("RESCORE_WORKERS", config.RescoreWorkers)

	return config, nil
}

// DefaultVotingConfig returns the production voting tunables
func DefaultVotingConfig() VotingConfig {
	return VotingConfig{
		DecayFactor:             1.15,
		FrontpageBonus:          10,
		CuratedBonus:            10,
		InactivityThresholdDays: 30,
		UserLimits: RateLimits{
			PerDay:          100,
			PerHour:         50,
			PerAuthorPerDay: 30,
		},
		AdminLimits: RateLimits{
			PerDay:          100000,
			PerHour:         50000,
			PerAuthorPerDay: 30000,
		},
		ReviewVoteThreshold:     20,
		CommentingDisabledKarma: -5,
		DuplicateVoteRetries:    1,
		KarmaRewarderOverrides:  map[string]float64{},
		RescoreCollections:      []string{"Posts", "Comments"},
		RescoreBatchSize:        1000,
		RescoreWorkers:          4,
	}
}

// ⏰ SCHEDULER CONFIGURATION
func loadSchedulerConfig() SchedulerConfig {
	hostname, _ := os.Hostname()

	return SchedulerConfig{
		Enabled:        getBoolEnv("SCHEDULER_ENABLED", true),
		ActiveSpec:     getEnv("RESCORE_ACTIVE_SPEC", "@every 30s"),
		InactiveSpec:   getEnv("RESCORE_INACTIVE_SPEC", "@daily"),
		LeaderElection: getBoolEnv("SCHEDULER_LEADER_ELECTION", getEnv("REDIS_URL", "") != ""),
		LeaderLockKey:  getEnv("SCHEDULER_LEADER_KEY", "forumkarma:rescorer:leader"),
		LeaderLockTTL:  getDurationEnv("SCHEDULER_LEADER_TTL", 90*time.Second),
		InstanceID:     getEnv("INSTANCE_ID", hostname),
	}
}

// 📣 EVENT BUS CONFIGURATION
func loadEventsConfig() EventsConfig {
	return EventsConfig{
		BufferSize:     getIntEnv("EVENT_BUFFER_SIZE", 1000),
		WorkerCount:    getIntEnv("EVENT_WORKER_COUNT", 5),
		HandlerTimeout: getDurationEnv("EVENT_HANDLER_TIMEOUT", 30*time.Second),
	}
}

// parsePowerOverrides reads "id:power,id:power"
func parsePowerOverrides(raw string) (map[string]float64, error) {
	overrides := make(map[string]float64)
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return overrides, nil
	}

	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		id, power, ok := strings.Cut(entry, ":")
		if !ok || strings.TrimSpace(id) == "" {
			return nil, fmt.Errorf("malformed KARMA_REWARDER_OVERRIDES entry %q", entry)
		}
		value, err := strconv.ParseFloat(strings.TrimSpace(power), 64)
		if err != nil {
			return nil, fmt.Errorf("malformed power in KARMA_REWARDER_OVERRIDES entry %q: %w", entry, err)
		}
		overrides[strings.TrimSpace(id)] = value
	}

	return overrides, nil
}

// 🔍 VALIDATION
func (c *Config) Validate() error {
	validators := []func() error{
		c.Server.Validate,
		c.Database.Validate,
		c.Cache.Validate,
		c.Voting.Validate,
		c.Scheduler.Validate,
	}

	for _, validate := range validators {
		if err := validate(); err != nil {
			return err
		}
	}

	return nil
}

func (s *ServerConfig) Validate() error {
	if s.Port == "" {
		return fmt.Errorf("PORT is required")
	}

	if s.ReadTimeout <= 0 {
		return fmt.Errorf("ReadTimeout must be positive")
	}

	if s.WriteTimeout <= 0 {
		return fmt.Errorf("WriteTimeout must be positive")
	}

	return nil
}

func (d *DatabaseConfig) Validate() error {
	switch d.Provider {
	case "memory":
		return nil
	case "postgres":
	default:
		return fmt.Errorf("unsupported STORAGE_PROVIDER %q", d.Provider)
	}

	if d.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if d.MaxOpenConns <= 0 {
		return fmt.Errorf("MaxOpenConns must be positive")
	}

	if d.MaxIdleConns < 0 {
		return fmt.Errorf("MaxIdleConns cannot be negative")
	}

	if d.MaxIdleConns > d.MaxOpenConns {
		return fmt.Errorf("MaxIdleConns cannot be greater than MaxOpenConns")
	}

	if d.ConnMaxLifetime <= 0 {
		return fmt.Errorf("ConnMaxLifetime must be positive")
	}

	return nil
}

func (c *CacheConfig) Validate() error {
	switch c.Provider {
	case "memory":
	case "redis":
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required when CACHE_PROVIDER=redis")
		}
	default:
		return fmt.Errorf("unsupported CACHE_PROVIDER %q", c.Provider)
	}
	return nil
}

func (v *VotingConfig) Validate() error {
	if v.DecayFactor <= 0 {
		return fmt.Errorf("SCORE_DECAY_FACTOR must be positive")
	}

	if v.InactivityThresholdDays <= 0 {
		return fmt.Errorf("INACTIVITY_THRESHOLD_DAYS must be positive")
	}

	for name, limits := range map[string]RateLimits{"user": v.UserLimits, "admin": v.AdminLimits} {
		if limits.PerDay < 0 || limits.PerHour < 0 || limits.PerAuthorPerDay < 0 {
			return fmt.Errorf("%s vote limits cannot be negative", name)
		}
	}

	if v.DuplicateVoteRetries < 0 {
		return fmt.Errorf("DUPLICATE_VOTE_RETRIES cannot be negative")
	}

	if v.RescoreBatchSize <= 0 {
		return fmt.Errorf("RESCORE_BATCH_SIZE must be positive")
	}

	if v.RescoreWorkers <= 0 {
		return fmt.Errorf("RESCORE_WORKERS must be positive")
	}

	return nil
}

func (s *SchedulerConfig) Validate() error {
	if !s.Enabled {
		return nil
	}

	if s.ActiveSpec == "" || s.InactiveSpec == "" {
		return fmt.Errorf("rescore schedules are required when the scheduler is enabled")
	}

	if s.LeaderElection && s.LeaderLockTTL <= 0 {
		return fmt.Errorf("SCHEDULER_LEADER_TTL must be positive")
	}

	return nil
}

func (c *Config) IsProduction() bool {
	return c.Server.Environment == "production"
}

func (c *Config) IsDevelopment() bool {
	return c.Server.Environment == "development"
}

// 🔧 HELPER FUNCTIONS

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getFloat64Env(key string, defaultValue float64) float64 {
	if value, exists := os.LookupEnv(key); exists {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getListEnv(key string, defaultValue []string) []string {
	value, exists := os.LookupEnv(key)
	if !exists || strings.TrimSpace(value) == "" {
		return defaultValue
	}

	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func getDefaultLogLevel(env string) string {
	switch env {
	case "production":
		return "info"
	default:
		return "debug"
	}
}

func getDefaultLogFormat(env string) string {
	switch env {
	case "production":
		return "json"
	default:
		return "console"
	}
}
