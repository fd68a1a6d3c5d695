package services

import (
	"log/slog"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	AI        AIConfig
	JWT       JWTConfig
	WebSocket WebSocketConfig
	Interview InterviewConfig
}

type ServerConfig struct {
	Port        string
	Environment string
}

type DatabaseConfig struct {
	URL          string
	Seed         bool
	LogLevel     string
	MaxIdleConns int
	MaxOpenConns int
}

// RedisConfig enables the shared turn lock when URL is set.
type RedisConfig struct {
	URL     string
	LockTTL time.Duration
}

type AIConfig struct {
	Provider      string // gemini or openai
	Model         string
	GeminiAPIKey  string
	OpenAIKey     string
	OpenAIBaseURL string
}

type JWTConfig struct {
	Secret string
}

type WebSocketConfig struct {
	AllowedOrigins string
}

type InterviewConfig struct {
	MaxTurns          int
	StartCost         int
	StarterCredits    int
	CompletionTimeout time.Duration
	FeedbackTimeout   time.Duration
	AbandonAfter      time.Duration
	ReaperInterval    time.Duration
}

// LoadConfig loads configuration from environment variables and config files
func LoadConfig() *Config {
	viper.SetConfigName(".env")
	viper.SetConfigType("env")
	viper.AddConfigPath(".")
	viper.AutomaticEnv()

	// Set defaults
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("server.environment", "development")
	viper.SetDefault("websocket.allowed_origins", "")
	viper.SetDefault("ai.provider", "gemini")
	viper.SetDefault("ai.model", "")
	viper.SetDefault("gemini.api_key", "")
	viper.SetDefault("openai.api_key", "")
	viper.SetDefault("openai.base_url", "")
	viper.SetDefault("jwt.secret", "")
	viper.SetDefault("database.url", "")
	viper.SetDefault("database.seed", "true")
	viper.SetDefault("database.log_level", "silent")
	viper.SetDefault("database.max_idle_conns", "10")
	viper.SetDefault("database.max_open_conns", "100")
	viper.SetDefault("redis.url", "")
	viper.SetDefault("redis.lock_ttl", "60s")
	viper.SetDefault("interview.max_turns", DefaultMaxTurns)
	viper.SetDefault("interview.start_cost", DefaultStartCost)
	viper.SetDefault("interview.starter_credits", 4)
	viper.SetDefault("interview.completion_timeout", "20s")
	viper.SetDefault("interview.feedback_timeout", "45s")
	viper.SetDefault("interview.abandon_after", "24h")
	viper.SetDefault("interview.reaper_interval", "10m")

	// Map environment variables to config keys
	viper.BindEnv("server.port", "SERVER_PORT")
	viper.BindEnv("server.environment", "ENVIRONMENT")
	viper.BindEnv("websocket.allowed_origins", "WEBSOCKET_ALLOWED_ORIGINS")
	viper.BindEnv("ai.provider", "AI_PROVIDER")
	viper.BindEnv("ai.model", "AI_MODEL")
	viper.BindEnv("gemini.api_key", "GEMINI_API_KEY")
	viper.BindEnv("openai.api_key", "OPENAI_API_KEY")
	viper.BindEnv("openai.base_url", "OPENAI_BASE_URL")
	viper.BindEnv("jwt.secret", "JWT_SECRET")
	viper.BindEnv("database.url", "DATABASE_URL")
	viper.BindEnv("database.seed", "DATABASE_SEED")
	viper.BindEnv("database.log_level", "DATABASE_LOG_LEVEL")
	viper.BindEnv("database.max_idle_conns", "DATABASE_MAX_IDLE_CONNS")
	viper.BindEnv("database.max_open_conns", "DATABASE_MAX_OPEN_CONNS")
	viper.BindEnv("redis.url", "REDIS_URL")
	viper.BindEnv("redis.lock_ttl", "REDIS_LOCK_TTL")
	viper.BindEnv("interview.max_turns", "INTERVIEW_MAX_TURNS")
	viper.BindEnv("interview.start_cost", "INTERVIEW_START_COST")
	viper.BindEnv("interview.starter_credits", "INTERVIEW_STARTER_CREDITS")
	viper.BindEnv("interview.completion_timeout", "INTERVIEW_COMPLETION_TIMEOUT")
	viper.BindEnv("interview.feedback_timeout", "INTERVIEW_FEEDBACK_TIMEOUT")
	viper.BindEnv("interview.abandon_after", "INTERVIEW_ABANDON_AFTER")
	viper.BindEnv("interview.reaper_interval", "INTERVIEW_REAPER_INTERVAL")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			slog.Warn("Config file not found, using defaults and environment variables")
		} else {
			slog.Error("Error reading config file", "error", err)
		}
	}

	return &Config{
		Server: ServerConfig{
			Port:        viper.GetString("server.port"),
			Environment: viper.GetString("server.environment"),
		},
		Database: DatabaseConfig{
			URL:          viper.GetString("database.url"),
			Seed:         viper.GetBool("database.seed"),
			LogLevel:     viper.GetString("database.log_level"),
			MaxIdleConns: viper.GetInt("database.max_idle_conns"),
			MaxOpenConns: viper.GetInt("database.max_open_conns"),
		},
		Redis: RedisConfig{
			URL:     viper.GetString("redis.url"),
			LockTTL: viper.GetDuration("redis.lock_ttl"),
		},
		AI: AIConfig{
			Provider:      viper.GetString("ai.provider"),
			Model:         viper.GetString("ai.model"),
			GeminiAPIKey:  viper.GetString("gemini.api_key"),
			OpenAIKey:     viper.GetString("openai.api_key"),
			OpenAIBaseURL: viper.GetString("openai.base_url"),
		},
		JWT: JWTConfig{
			Secret: viper.GetString("jwt.secret"),
		},
		WebSocket: WebSocketConfig{
			AllowedOrigins: viper.GetString("websocket.allowed_origins"),
		},
		Interview: InterviewConfig{
			MaxTurns:          viper.GetInt("interview.max_turns"),
			StartCost:         viper.GetInt("interview.start_cost"),
			StarterCredits:    viper.GetInt("interview.starter_credits"),
			CompletionTimeout: viper.GetDuration("interview.completion_timeout"),
			FeedbackTimeout:   viper.GetDuration("interview.feedback_timeout"),
			AbandonAfter:      viper.GetDuration("interview.abandon_after"),
			ReaperInterval:    viper.GetDuration("interview.reaper_interval"),
		},
	}
}
