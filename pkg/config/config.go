package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

type Config struct {
	Telemetry   TelemetryConfig
	Viewer      ViewerConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	Kafka       KafkaConfig
	HTTP        HTTPConfig
	Aggregation AggregationConfig
	Log         LogConfig
}

type TelemetryConfig struct {
	DeviceName     string        `validate:"required"`
	TokenURL       string        `validate:"required,url"`
	TelemetryURL   string        `validate:"required,url"`
	PollInterval   time.Duration `validate:"gt=0"`
	RequestTimeout time.Duration `validate:"gt=0"`
	StaleAfter     time.Duration `validate:"gt=0"`
	LogRows        int           `validate:"gt=0"`
}

type ViewerConfig struct {
	ModelURN          string `validate:"required"`
	SensorObjectID    int
	SensorPosition    [3]float64
	AnchorLift        float64
	AnimationPeriod   time.Duration `validate:"gt=0"`
	AnimationFrames   []string      `validate:"min=1,dive,required"`
	FocusDistance     float64       `validate:"gt=0"`
	InitialZoom       float64       `validate:"gt=0"`
	InactivityTimeout time.Duration `validate:"gt=0"`
	MaxSessions       int           `validate:"gt=0"`
	MaxSessionsPerIP  int           `validate:"gt=0"`
}

type DatabaseConfig struct {
	Enabled  bool
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

func (d DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode)
}

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

type KafkaConfig struct {
	Enabled       bool
	Brokers       []string
	TopicReadings string
	NumPartitions int
}

type HTTPConfig struct {
	Port           int `validate:"gt=0,lt=65536"`
	AllowedOrigins []string
	RateLimit      int `validate:"gt=0"`
}

type AggregationConfig struct {
	// Timezone pins the calendar used for day buckets
	Timezone  string `validate:"required"`
	DailyTime string
	ChartSize [2]float64
	Sparkline int `validate:"gt=1"`
}

type LogConfig struct {
	Level  string
	Format string `validate:"oneof=json console"`
}

// Location resolves the pinned day-bucketing timezone
func (a AggregationConfig) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(a.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", a.Timezone, err)
	}
	return loc, nil
}

func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	config := &Config{
		Telemetry: TelemetryConfig{
			DeviceName:     getEnv("DEVICE_NAME", "MXCHIP-NELSON"),
			TokenURL:       getEnv("TOKEN_API_URL", "http://localhost:7071/api/aps-token"),
			TelemetryURL:   getEnv("TELEMETRY_API_URL", "http://localhost:7071/api/iot-telemetry"),
			PollInterval:   getEnvAsDuration("TELEMETRY_POLL_INTERVAL", 30*time.Second),
			RequestTimeout: getEnvAsDuration("TELEMETRY_REQUEST_TIMEOUT", 10*time.Second),
			StaleAfter:     getEnvAsDuration("TELEMETRY_STALE_AFTER", 5*time.Minute),
			LogRows:        getEnvAsInt("TELEMETRY_LOG_ROWS", 10),
		},
		Viewer: ViewerConfig{
			ModelURN:          getEnv("VIEWER_MODEL_URN", "dXJuOmFkc2sub2JqZWN0czpvcy5vYmplY3Q6MjAyMzAxMjkvSG91c2UucnZ0"),
			SensorObjectID:    getEnvAsInt("VIEWER_SENSOR_DBID", 5685),
			SensorPosition:    getEnvAsVector("VIEWER_SENSOR_POSITION", [3]float64{-16.870, -27.031, -1.257}),
			AnchorLift:        getEnvAsFloat("VIEWER_ANCHOR_LIFT", 1.5),
			AnimationPeriod:   getEnvAsDuration("VIEWER_ANIMATION_PERIOD", 500*time.Millisecond),
			AnimationFrames:   getEnvAsList("VIEWER_ANIMATION_FRAMES", "sprites/thermostat.svg,sprites/thermostat_red.svg"),
			FocusDistance:     getEnvAsFloat("VIEWER_FOCUS_DISTANCE", 30),
			InitialZoom:       getEnvAsFloat("VIEWER_INITIAL_ZOOM", 0.8),
			InactivityTimeout: getEnvAsDuration("VIEWER_INACTIVITY_TIMEOUT", 2*time.Minute),
			MaxSessions:       getEnvAsInt("VIEWER_MAX_SESSIONS", 100),
			MaxSessionsPerIP:  getEnvAsInt("VIEWER_MAX_SESSIONS_PER_IP", 10),
		},
		Database: DatabaseConfig{
			Enabled:  getEnvAsBool("DB_ENABLED", false),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "sensor_user"),
			Password: getEnv("DB_PASSWORD", "sensor_pass"),
			DBName:   getEnv("DB_NAME", "sensor_db"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Enabled:  getEnvAsBool("REDIS_ENABLED", false),
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
			TTL:      getEnvAsDuration("REDIS_SNAPSHOT_TTL", 7*24*time.Hour),
		},
		Kafka: KafkaConfig{
			Enabled:       getEnvAsBool("KAFKA_ENABLED", false),
			Brokers:       getEnvAsList("KAFKA_BROKERS", "localhost:9092"),
			TopicReadings: getEnv("KAFKA_TOPIC_READINGS", "sensor.readings"),
			NumPartitions: getEnvAsInt("KAFKA_NUM_PARTITIONS", 3),
		},
		HTTP: HTTPConfig{
			Port:           getEnvAsInt("HTTP_PORT", 8080),
			AllowedOrigins: getEnvAsList("HTTP_ALLOWED_ORIGINS", "*"),
			RateLimit:      getEnvAsInt("HTTP_RATE_LIMIT", 300),
		},
		Aggregation: AggregationConfig{
			Timezone:  getEnv("DASHBOARD_TIMEZONE", "America/New_York"),
			DailyTime: getEnv("AGGREGATION_DAILY_TIME", "00:05"),
			ChartSize: [2]float64{
				getEnvAsFloat("CHART_WIDTH", 600),
				getEnvAsFloat("CHART_HEIGHT", 240),
			},
			Sparkline: getEnvAsInt("SPARKLINE_SAMPLES", 10),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate checks field constraints and that the timezone resolves
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}
	if _, err := c.Aggregation.Location(); err != nil {
		return err
	}
	if c.Aggregation.ChartSize[0] <= 0 || c.Aggregation.ChartSize[1] <= 0 {
		return fmt.Errorf("chart size must be positive, got %v", c.Aggregation.ChartSize)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsList(key, defaultValue string) []string {
	var out []string
	for _, part := range strings.Split(getEnv(key, defaultValue), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// getEnvAsVector parses "x,y,z"
func getEnvAsVector(key string, defaultValue [3]float64) [3]float64 {
	parts := getEnvAsList(key, "")
	if len(parts) != 3 {
		return defaultValue
	}
	var v [3]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return defaultValue
		}
		v[i] = f
	}
	return v
}
