package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"slotbook/internal/models"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App        AppConfig        `yaml:"app"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Logging    LoggingConfig    `yaml:"logging"`
	API        APIConfig        `yaml:"api"`
	Booking    BookingConfig    `yaml:"booking"`
	Stripe     StripeConfig     `yaml:"stripe"`
	Telegram   TelegramConfig   `yaml:"telegram"`
	Bot        BotConfig        `yaml:"bot"`
	Exports    ExportConfig     `yaml:"exports"`
	Backup     BackupConfig     `yaml:"backup"`
	Services   []models.Service `yaml:"services"`
	Schedule   ScheduleConfig   `yaml:"schedule"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

type APIConfig struct {
	Enabled   bool               `yaml:"enabled"`
	HTTP      APIHTTPConfig      `yaml:"http"`
	Auth      APIAuthConfig      `yaml:"auth"`
	RateLimit APIRateLimitConfig `yaml:"rate_limit"`
}

type APIHTTPConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

type APIAuthConfig struct {
	Enabled      bool           `yaml:"enabled"`
	HeaderAPIKey string         `yaml:"header_api_key"`
	APIKeys      []APIClientKey `yaml:"api_keys"`
}

type APIClientKey struct {
	Key         string   `yaml:"key"`
	Name        string   `yaml:"name"`
	Permissions []string `yaml:"permissions"`
}

type APIRateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type BookingConfig struct {
	HoldTTL             time.Duration `yaml:"hold_ttl"`
	DraftTTL            time.Duration `yaml:"draft_ttl"`
	SweepInterval       time.Duration `yaml:"sweep_interval"`
	Timezone            string        `yaml:"timezone"`
	Market              string        `yaml:"market"`
	Currency            string        `yaml:"currency"`
	ReleaseQueueSize    int           `yaml:"release_queue_size"`
	ReleaseMaxRetries   int           `yaml:"release_max_retries"`
	ReleaseInitialDelay time.Duration `yaml:"release_initial_delay"`
}

// Location resolves the booking timezone, falling back to UTC.
func (b BookingConfig) Location() *time.Location {
	loc, err := time.LoadLocation(b.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

type ScheduleConfig struct {
	OpeningHour     int      `yaml:"opening_hour"`
	ClosingHour     int      `yaml:"closing_hour"`
	Weekdays        []int    `yaml:"weekdays"`
	SlotStepMinutes int      `yaml:"slot_step_minutes"`
	DaysAhead       int      `yaml:"days_ahead"`
	Resources       []string `yaml:"resources"`
}

type StripeConfig struct {
	Enabled   bool   `yaml:"enabled"`
	SecretKey string `yaml:"secret_key"`
}

type TelegramConfig struct {
	BotToken string `yaml:"bot_token"`
	Debug    bool   `yaml:"debug"`
}

type BotConfig struct {
	APIBaseURL        string  `yaml:"api_base_url"`
	APIKey            string  `yaml:"api_key"`
	Managers          []int64 `yaml:"managers"`
	DaysToShow        int     `yaml:"days_to_show"`
	RateLimitMessages int     `yaml:"rate_limit_messages"`
	RateLimitWindow   int     `yaml:"rate_limit_window"`
}

type BackupConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Interval      time.Duration `yaml:"interval"`
	StoragePath   string        `yaml:"storage_path"`
	RetentionDays int           `yaml:"retention_days"`
}

type ExportConfig struct {
	Path string `yaml:"path"`
}

func Load(configPath string) (*Config, error) {
	// .env is optional; variables may come from the environment directly
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return errors.New("database path is required")
	}
	if c.Booking.HoldTTL <= 0 {
		return errors.New("booking.hold_ttl must be positive")
	}
	if _, err := time.LoadLocation(c.Booking.Timezone); err != nil {
		return fmt.Errorf("invalid booking.timezone %q: %w", c.Booking.Timezone, err)
	}
	if c.Stripe.Enabled && c.Stripe.SecretKey == "" {
		return errors.New("stripe.secret_key is required when stripe is enabled")
	}
	if c.Schedule.OpeningHour >= c.Schedule.ClosingHour {
		return errors.New("schedule.opening_hour must be before closing_hour")
	}

	return ValidateServices(c.Services)
}

func ValidateServices(services []models.Service) error {
	ids := make(map[string]bool)
	for _, s := range services {
		if strings.TrimSpace(s.ID) == "" {
			return fmt.Errorf("service '%s' has empty ID", s.Name)
		}
		if ids[s.ID] {
			return fmt.Errorf("duplicate service ID found: %s", s.ID)
		}
		ids[s.ID] = true
		if !s.Type.Valid() {
			return fmt.Errorf("service %s has invalid type %q", s.ID, s.Type)
		}
		if s.DurationMinutes <= 0 {
			return fmt.Errorf("service %s has non-positive duration", s.ID)
		}
		if s.Price < 0 {
			return fmt.Errorf("service %s has negative price", s.ID)
		}
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "slotbook"
	}
	if c.API.HTTP.Port == 0 {
		c.API.HTTP.Port = 8080
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
	if !c.API.HTTP.Enabled && c.API.Enabled {
		c.API.HTTP.Enabled = true
	}
	if c.API.Auth.HeaderAPIKey == "" {
		c.API.Auth.HeaderAPIKey = "x-api-key"
	}

	if c.Booking.HoldTTL == 0 {
		c.Booking.HoldTTL = models.HoldTTL
	}
	if c.Booking.DraftTTL == 0 {
		c.Booking.DraftTTL = models.DefaultDraftTTL
	}
	if c.Booking.SweepInterval == 0 {
		c.Booking.SweepInterval = 30 * time.Second
	}
	if c.Booking.Timezone == "" {
		c.Booking.Timezone = models.DefaultTimezone
	}
	if c.Booking.Market == "" {
		c.Booking.Market = models.DefaultMarket
	}
	if c.Booking.Currency == "" {
		c.Booking.Currency = models.DefaultCurrency
	}
	if c.Booking.ReleaseQueueSize == 0 {
		c.Booking.ReleaseQueueSize = models.ReleaseQueueSize
	}
	if c.Booking.ReleaseMaxRetries == 0 {
		c.Booking.ReleaseMaxRetries = 5
	}
	if c.Booking.ReleaseInitialDelay == 0 {
		c.Booking.ReleaseInitialDelay = time.Second
	}

	if c.Schedule.OpeningHour == 0 && c.Schedule.ClosingHour == 0 {
		c.Schedule.OpeningHour = 9
		c.Schedule.ClosingHour = 18
	}
	if len(c.Schedule.Weekdays) == 0 {
		c.Schedule.Weekdays = []int{1, 2, 3, 4, 5, 6}
	}
	if c.Schedule.SlotStepMinutes == 0 {
		c.Schedule.SlotStepMinutes = 30
	}
	if c.Schedule.DaysAhead == 0 {
		c.Schedule.DaysAhead = models.DefaultSlotDays
	}

	for i := range c.Services {
		if c.Services[i].Currency == "" {
			c.Services[i].Currency = c.Booking.Currency
		}
		c.Services[i].Currency = strings.ToUpper(c.Services[i].Currency)
	}

	if c.Bot.DaysToShow == 0 {
		c.Bot.DaysToShow = 7
	}
	if c.Bot.RateLimitMessages == 0 {
		c.Bot.RateLimitMessages = models.RateLimitMessages
	}
	if c.Bot.RateLimitWindow == 0 {
		c.Bot.RateLimitWindow = models.RateLimitWindow
	}
	if c.Exports.Path == "" {
		c.Exports.Path = "exports"
	}
	if c.Backup.Interval == 0 {
		c.Backup.Interval = 24 * time.Hour
	}
	if c.Backup.StoragePath == "" {
		c.Backup.StoragePath = "backups"
	}
}
