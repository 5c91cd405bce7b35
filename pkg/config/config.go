package config

import (
	"errors"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// Database drivers understood by pkg/database.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
)

// OTP delivery channels.
const (
	OTPDeliveryLog      = "log"
	OTPDeliverySMTP     = "smtp"
	OTPDeliverySendGrid = "sendgrid"
)

// DefaultPeriodSchedule is the seven-slot college day used when PERIOD_SCHEDULE is unset.
const DefaultPeriodSchedule = "1,10:00,11:00,Period 1;" +
	"2,11:00,12:00,Period 2;" +
	"3,12:00,13:00,Period 3;" +
	"4,13:00,13:30,Lunch Break,break;" +
	"5,13:30,14:30,Period 4;" +
	"6,14:30,15:30,Period 5;" +
	"7,15:30,16:30,Period 6"

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database   DatabaseConfig
	Redis      RedisConfig
	JWT        JWTConfig
	CORS       CORSConfig
	Log        LogConfig
	Attendance AttendanceConfig
	Summary    SummaryConfig
	OTP        OTPConfig
	Mail       MailConfig
	Realtime   RealtimeConfig
	Rollbar    RollbarConfig
}

type DatabaseConfig struct {
	Driver       string
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	SQLitePath   string
	MaxOpenConns int
	MaxIdleConns int
	AutoMigrate  bool
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int

	// KeyPrefix namespaces cache keys so deployments can share one Redis.
	KeyPrefix string
}

type JWTConfig struct {
	Secret            string
	Issuer            string
	Expiration        time.Duration
	RefreshExpiration time.Duration
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// AttendanceConfig tunes the marking windows and dashboards.
type AttendanceConfig struct {
	Timezone          string
	RecentPageSize    int
	MarkAbsentOnClose bool
	PeriodSchedule    string
}

// SummaryConfig controls caching of per-student summaries.
type SummaryConfig struct {
	CacheEnabled bool
	CacheTTL     time.Duration
}

// OTPConfig controls one-time password challenges.
type OTPConfig struct {
	TTL                time.Duration
	Length             int
	Delivery           string
	RateLimitPerMinute int
}

// MailConfig carries credentials for the out-of-band OTP channel.
type MailConfig struct {
	From           string
	SMTPHost       string
	SMTPPort       int
	SMTPUsername   string
	SMTPPassword   string
	SendGridAPIKey string
}

// RealtimeConfig toggles the websocket broadcaster.
type RealtimeConfig struct {
	Enabled    bool
	SendBuffer int
}

// RollbarConfig enables error reporting when a token is present.
type RollbarConfig struct {
	Token string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !isMissingFile(err) {
			return nil, err
		}
	}

	return fromViper(v), nil
}

func fromViper(v *viper.Viper) *Config {
	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Driver:       strings.ToLower(v.GetString("DB_DRIVER")),
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		SQLitePath:   v.GetString("DB_SQLITE_PATH"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
		AutoMigrate:  v.GetBool("DB_AUTO_MIGRATE"),
	}

	cfg.Redis = RedisConfig{
		Host:      v.GetString("REDIS_HOST"),
		Port:      v.GetInt("REDIS_PORT"),
		Password:  v.GetString("REDIS_PASSWORD"),
		DB:        v.GetInt("REDIS_DB"),
		KeyPrefix: v.GetString("REDIS_KEY_PREFIX"),
	}

	cfg.JWT = JWTConfig{
		Secret:            v.GetString("JWT_SECRET"),
		Issuer:            v.GetString("JWT_ISSUER"),
		Expiration:        parseDuration(v.GetString("JWT_EXPIRATION"), 24*time.Hour),
		RefreshExpiration: parseDuration(v.GetString("REFRESH_TOKEN_EXPIRATION"), 7*24*time.Hour),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	pageSize := v.GetInt("ATTENDANCE_RECENT_PAGE_SIZE")
	if pageSize <= 0 {
		pageSize = 10
	}
	cfg.Attendance = AttendanceConfig{
		Timezone:          v.GetString("ATTENDANCE_TIMEZONE"),
		RecentPageSize:    pageSize,
		MarkAbsentOnClose: v.GetBool("ATTENDANCE_MARK_ABSENT_ON_CLOSE"),
		PeriodSchedule:    v.GetString("PERIOD_SCHEDULE"),
	}

	cfg.Summary = SummaryConfig{
		CacheEnabled: v.GetBool("ENABLE_SUMMARY_CACHE"),
		CacheTTL:     parseDuration(v.GetString("SUMMARY_CACHE_TTL"), 5*time.Minute),
	}

	otpLength := v.GetInt("OTP_LENGTH")
	if otpLength < 4 || otpLength > 10 {
		otpLength = 6
	}
	cfg.OTP = OTPConfig{
		TTL:                parseDuration(v.GetString("OTP_TTL"), 5*time.Minute),
		Length:             otpLength,
		Delivery:           strings.ToLower(v.GetString("OTP_DELIVERY")),
		RateLimitPerMinute: v.GetInt("OTP_RATE_LIMIT_PER_MINUTE"),
	}

	cfg.Mail = MailConfig{
		From:           v.GetString("MAIL_FROM"),
		SMTPHost:       v.GetString("SMTP_HOST"),
		SMTPPort:       v.GetInt("SMTP_PORT"),
		SMTPUsername:   v.GetString("SMTP_USERNAME"),
		SMTPPassword:   v.GetString("SMTP_PASSWORD"),
		SendGridAPIKey: v.GetString("SENDGRID_API_KEY"),
	}

	cfg.Realtime = RealtimeConfig{
		Enabled:    v.GetBool("ENABLE_REALTIME"),
		SendBuffer: v.GetInt("REALTIME_SEND_BUFFER"),
	}

	cfg.Rollbar = RollbarConfig{Token: v.GetString("ROLLBAR_TOKEN")}

	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_DRIVER", DriverPostgres)
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "kcea_attendance")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_SQLITE_PATH", "./attendance.db")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)
	v.SetDefault("DB_AUTO_MIGRATE", true)

	v.SetDefault("REDIS_HOST", "")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("REDIS_KEY_PREFIX", "kcea:")

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_ISSUER", "kcea-attendance")
	v.SetDefault("JWT_EXPIRATION", "24h")
	v.SetDefault("REFRESH_TOKEN_EXPIRATION", "168h")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("ATTENDANCE_TIMEZONE", "Asia/Kolkata")
	v.SetDefault("ATTENDANCE_RECENT_PAGE_SIZE", 10)
	v.SetDefault("ATTENDANCE_MARK_ABSENT_ON_CLOSE", true)
	v.SetDefault("PERIOD_SCHEDULE", DefaultPeriodSchedule)

	v.SetDefault("ENABLE_SUMMARY_CACHE", false)
	v.SetDefault("SUMMARY_CACHE_TTL", "5m")

	v.SetDefault("OTP_TTL", "5m")
	v.SetDefault("OTP_LENGTH", 6)
	v.SetDefault("OTP_DELIVERY", OTPDeliveryLog)
	v.SetDefault("OTP_RATE_LIMIT_PER_MINUTE", 5)

	v.SetDefault("MAIL_FROM", "kcea.attendance@example.com")
	v.SetDefault("SMTP_HOST", "smtp.gmail.com")
	v.SetDefault("SMTP_PORT", 587)
	v.SetDefault("SMTP_USERNAME", "")
	v.SetDefault("SMTP_PASSWORD", "")
	v.SetDefault("SENDGRID_API_KEY", "")

	v.SetDefault("ENABLE_REALTIME", true)
	v.SetDefault("REALTIME_SEND_BUFFER", 16)

	v.SetDefault("ROLLBAR_TOKEN", "")
}

// Location resolves the institution time zone, falling back to UTC.
func (c AttendanceConfig) Location() *time.Location {
	if c.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// RedisEnabled reports whether a Redis host was configured.
func (c RedisConfig) RedisEnabled() bool {
	return strings.TrimSpace(c.Host) != ""
}

func isMissingFile(err error) bool {
	return strings.Contains(err.Error(), "no such file or directory")
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
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
