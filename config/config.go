package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"mailprobe/models"
)

var (
	DB        *gorm.DB
	AppConfig Config
)

type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address" validate:"required_if=Enabled true"`
	Password string `json:"-"`
	DB       int    `json:"db" validate:"gte=0"`
}

type DatabaseConfig struct {
	Enabled      bool   `json:"enabled"`
	Host         string `json:"host" validate:"required_if=Enabled true"`
	Port         string `json:"port"`
	User         string `json:"user"`
	Password     string `json:"-" validate:"required_if=Enabled true"`
	Name         string `json:"name"`
	SSLMode      string `json:"ssl_mode" validate:"omitempty,oneof=disable allow prefer require verify-ca verify-full"`
	MaxIdleConns int    `json:"max_idle_conns" validate:"gte=0"`
	MaxOpenConns int    `json:"max_open_conns" validate:"gte=0"`
}

// ProbeConfig drives the resolver, the SMTP prober and the verifier.
type ProbeConfig struct {
	HelloName        string        `json:"helo_name" validate:"required,hostname"`
	Senders          []string      `json:"senders" validate:"required,min=1,dive,email"`
	Port             int           `json:"port" validate:"min=1,max=65535"`
	Timeout          time.Duration `json:"timeout" validate:"gt=0"`
	StartTLS         bool          `json:"starttls"`
	DNSServers       []string      `json:"dns_servers" validate:"required,min=1,dive,hostname_port"`
	DNSTimeout       time.Duration `json:"dns_timeout" validate:"gt=0"`
	MaxRetries       int           `json:"max_retries" validate:"gte=0"`
	RetryDelay       time.Duration `json:"retry_delay" validate:"gte=0"`
	CourtesyDelayMin time.Duration `json:"courtesy_delay_min" validate:"gte=0"`
	CourtesyDelayMax time.Duration `json:"courtesy_delay_max" validate:"gtefield=CourtesyDelayMin"`
	Workers          int           `json:"workers" validate:"min=1,max=500"`
	RatePerSecond    float64       `json:"rate_per_second" validate:"gte=0"`
	StrictSyntax     bool          `json:"strict_syntax"`
}

type Config struct {
	Environment     string         `json:"environment" validate:"oneof=development staging production test"`
	ServerPort      string         `json:"server_port" validate:"required,numeric"`
	LogLevel        string         `json:"log_level"`
	SentryDSN       string         `json:"-" validate:"omitempty,url"`
	CORSOrigins     string         `json:"cors_origins"`
	RateLimitSubmit int            `json:"rate_limit_submit" validate:"gte=0"`
	Probe           ProbeConfig    `json:"probe"`
	Database        DatabaseConfig `json:"database"`
	Redis           RedisConfig    `json:"redis"`
}

func init() {
	// Try to load .env file, but don't fail if it doesn't exist
	_ = godotenv.Load()
}

func LoadConfig() error {
	AppConfig = Config{
		Environment:     getEnv("ENVIRONMENT", "development"),
		ServerPort:      getEnv("SERVER_PORT", "5000"),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		SentryDSN:       getEnv("SENTRY_DSN", ""),
		CORSOrigins:     getEnv("CORS_ORIGINS", "*"),
		RateLimitSubmit: getEnvAsInt("RATE_LIMIT_SUBMIT", 30),
		Probe: ProbeConfig{
			HelloName:        getEnv("SMTP_HELO_NAME", "yourdomain.com"),
			Senders:          getEnvAsList("SMTP_SENDERS", []string{"verify@yourdomain.com"}),
			Port:             getEnvAsInt("SMTP_PORT", 25),
			Timeout:          getEnvAsDuration("SMTP_TIMEOUT", 7*time.Second),
			StartTLS:         getEnvAsBool("SMTP_STARTTLS", true),
			DNSServers:       getEnvAsList("DNS_SERVERS", []string{"8.8.8.8:53", "1.1.1.1:53"}),
			DNSTimeout:       getEnvAsDuration("DNS_TIMEOUT", 3*time.Second),
			MaxRetries:       getEnvAsInt("VERIFY_MAX_RETRIES", 3),
			RetryDelay:       getEnvAsDuration("VERIFY_RETRY_DELAY", 5*time.Second),
			CourtesyDelayMin: getEnvAsDuration("COURTESY_DELAY_MIN", time.Second),
			CourtesyDelayMax: getEnvAsDuration("COURTESY_DELAY_MAX", 2500*time.Millisecond),
			Workers:          getEnvAsInt("VERIFY_WORKERS", 10),
			RatePerSecond:    getEnvAsFloat("PROBE_RATE_PER_SECOND", 0),
			StrictSyntax:     getEnvAsBool("SYNTAX_STRICT", false),
		},
		Database: DatabaseConfig{
			Enabled:      getEnvAsBool("DB_ENABLED", false),
			Host:         getEnv("DB_HOST", "localhost"),
			Port:         getEnv("DB_PORT", "5432"),
			User:         getEnv("DB_USER", "postgres"),
			Password:     getEnv("DB_PASSWORD", ""),
			Name:         getEnv("DB_NAME", "mailprobe"),
			SSLMode:      getEnv("DB_SSL_MODE", "disable"),
			MaxIdleConns: getEnvAsInt("DB_MAX_IDLE_CONNS", 10),
			MaxOpenConns: getEnvAsInt("DB_MAX_OPEN_CONNS", 100),
		},
		Redis: RedisConfig{
			Enabled:  getEnvAsBool("REDIS_ENABLED", false),
			Address:  getEnv("REDIS_ADDRESS", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
	}

	if err := validator.New().Struct(AppConfig); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logConfig()
	return nil
}

// ConnectDB opens the optional results database. It is a no-op when
// DB_ENABLED is false.
func ConnectDB() error {
	if !AppConfig.Database.Enabled {
		logrus.Info("Database disabled, run history will not be persisted")
		return nil
	}
	logrus.Info("Attempting to connect to database...")

	db := AppConfig.Database
	dsn := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		db.Host,
		db.Port,
		db.User,
		db.Password,
		db.Name,
		db.SSLMode,
	)
	logrus.WithField("dsn", maskPassword(dsn)).Debug("Using connection string")

	var err error
	DB, err = gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := DB.DB()
	if err != nil {
		return fmt.Errorf("failed to get DB instance: %w", err)
	}

	sqlDB.SetMaxIdleConns(db.MaxIdleConns)
	sqlDB.SetMaxOpenConns(db.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(time.Hour)
	sqlDB.SetConnMaxIdleTime(30 * time.Minute)

	if err := sqlDB.Ping(); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	logrus.Info("✅ Successfully connected to the database")
	if err := migrateDB(DB); err != nil {
		return fmt.Errorf("database migration failed: %w", err)
	}
	logrus.Info("✅ Database migration completed")
	return nil
}

// Helper functions
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	value, err := strconv.Atoi(strings.TrimSpace(valueStr))
	if err != nil {
		return fallback
	}
	return value
}

func getEnvAsFloat(key string, fallback float64) float64 {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	value, err := strconv.ParseFloat(strings.TrimSpace(valueStr), 64)
	if err != nil {
		return fallback
	}
	return value
}

func getEnvAsBool(key string, fallback bool) bool {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	value, err := strconv.ParseBool(strings.TrimSpace(valueStr))
	if err != nil {
		return fallback
	}
	return value
}

// getEnvAsDuration accepts Go durations ("7s", "1500ms") or a bare number of seconds.
func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	valueStr := strings.TrimSpace(getEnv(key, ""))
	if valueStr == "" {
		return fallback
	}
	if d, err := time.ParseDuration(valueStr); err == nil {
		return d
	}
	if secs, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return time.Duration(secs * float64(time.Second))
	}
	return fallback
}

// getEnvAsList splits a comma separated value, dropping blanks.
func getEnvAsList(key string, fallback []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}

func maskPassword(dsn string) string {
	const passwordMarker = "password="
	startIdx := strings.Index(dsn, passwordMarker)
	if startIdx == -1 {
		return dsn
	}

	startIdx += len(passwordMarker)
	endIdx := strings.IndexAny(dsn[startIdx:], " ")
	if endIdx == -1 {
		return dsn[:startIdx] + "*****"
	}
	return dsn[:startIdx] + "*****" + dsn[startIdx+endIdx:]
}

func logConfig() {
	p := AppConfig.Probe
	logrus.WithFields(logrus.Fields{
		"environment": AppConfig.Environment,
		"port":        AppConfig.ServerPort,
		"helo":        p.HelloName,
		"senders":     len(p.Senders),
		"dns_servers": strings.Join(p.DNSServers, ","),
		"workers":     p.Workers,
		"max_retries": p.MaxRetries,
		"starttls":    p.StartTLS,
		"database":    AppConfig.Database.Enabled,
		"redis":       AppConfig.Redis.Enabled,
	}).Info("🔧 Loaded configuration")
}

func migrateDB(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.VerificationRun{},
		&models.VerificationRecord{},
	)
}
