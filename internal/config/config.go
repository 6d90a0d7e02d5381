// internal/config/config.go
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"custody-ledger/internal/domain"
	"custody-ledger/pkg/db"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// AppConfig holds all application-wide configurations.
type AppConfig struct {
	ServerPort string
	LogLevel   string
	DB         db.Config
	// DBLockWait bounds how long a unit of work waits for a row lock.
	DBLockWait         time.Duration
	DBStatementTimeout time.Duration
	UnitTimeout        time.Duration

	RedisURL      string
	PriceCacheTTL time.Duration

	RabbitMQURL      string
	RabbitMQExchange string

	// SecretKey derives the key that seals signing secrets. It has no default.
	SecretKey string

	CustodyBaseURL string
	CustodyAPIKey  string
	BillBaseURL    string
	BillAPIKey     string
	BillProvider   string

	ConfirmAttempts int
	ConfirmInterval time.Duration
	NotifyTimeout   time.Duration

	RetryMaxAttempts  int
	RetryBaseBackoff  time.Duration
	RetryMaxBackoff   time.Duration
	RetryBatchSize    int
	RetryLease        time.Duration
	RetrySchedule     string
	ExhaustedSchedule string

	Networks []domain.Network
}

type rawConfig struct {
	ServerPort         string        `mapstructure:"SERVER_PORT"`
	LogLevel           string        `mapstructure:"LOG_LEVEL"`
	DBHost             string        `mapstructure:"DB_HOST"`
	DBPort             int           `mapstructure:"DB_PORT"`
	DBUser             string        `mapstructure:"DB_USER"`
	DBPassword         string        `mapstructure:"DB_PASSWORD"`
	DBName             string        `mapstructure:"DB_NAME"`
	DBSSLMode          string        `mapstructure:"DB_SSLMODE"`
	DBMaxOpenConns     int           `mapstructure:"DB_MAX_OPEN_CONNS"`
	DBMaxIdleConns     int           `mapstructure:"DB_MAX_IDLE_CONNS"`
	DBLockWait         time.Duration `mapstructure:"DB_LOCK_WAIT"`
	DBStatementTimeout time.Duration `mapstructure:"DB_STATEMENT_TIMEOUT"`
	UnitTimeout        time.Duration `mapstructure:"UNIT_OF_WORK_TIMEOUT"`
	RedisURL           string        `mapstructure:"REDIS_URL"`
	PriceCacheTTL      time.Duration `mapstructure:"PRICE_CACHE_TTL"`
	RabbitMQURL        string        `mapstructure:"RABBITMQ_URL"`
	RabbitMQExchange   string        `mapstructure:"RABBITMQ_EXCHANGE"`
	SecretKey          string        `mapstructure:"SECRET_KEY"`
	CustodyBaseURL     string        `mapstructure:"CUSTODY_API_BASE_URL"`
	CustodyAPIKey      string        `mapstructure:"CUSTODY_API_KEY"`
	BillBaseURL        string        `mapstructure:"BILL_API_BASE_URL"`
	BillAPIKey         string        `mapstructure:"BILL_API_KEY"`
	BillProvider       string        `mapstructure:"BILL_PROVIDER"`
	ConfirmAttempts    int           `mapstructure:"CONFIRM_ATTEMPTS"`
	ConfirmInterval    time.Duration `mapstructure:"CONFIRM_INTERVAL"`
	NotifyTimeout      time.Duration `mapstructure:"NOTIFY_TIMEOUT"`
	RetryMaxAttempts   int           `mapstructure:"RETRY_MAX_ATTEMPTS"`
	RetryBaseBackoff   time.Duration `mapstructure:"RETRY_BASE_BACKOFF"`
	RetryMaxBackoff    time.Duration `mapstructure:"RETRY_MAX_BACKOFF"`
	RetryBatchSize     int           `mapstructure:"RETRY_BATCH_SIZE"`
	RetryLease         time.Duration `mapstructure:"RETRY_LEASE"`
	RetrySchedule      string        `mapstructure:"RETRY_SCHEDULE"`
	ExhaustedSchedule  string        `mapstructure:"EXHAUSTED_REPORT_SCHEDULE"`
	NetworksFile       string        `mapstructure:"NETWORKS_FILE"`
	NetworksJSON       string        `mapstructure:"NETWORKS"`
}

var defaults = map[string]any{
	"SERVER_PORT":               "8080",
	"LOG_LEVEL":                 "info",
	"DB_HOST":                   "localhost",
	"DB_PORT":                   5432,
	"DB_USER":                   "user",
	"DB_PASSWORD":               "password",
	"DB_NAME":                   "custodydb",
	"DB_SSLMODE":                "disable",
	"DB_MAX_OPEN_CONNS":         25,
	"DB_MAX_IDLE_CONNS":         10,
	"DB_LOCK_WAIT":              "10s",
	"DB_STATEMENT_TIMEOUT":      "15s",
	"UNIT_OF_WORK_TIMEOUT":      "15s",
	"PRICE_CACHE_TTL":           "60s",
	"RABBITMQ_EXCHANGE":         "custody_events",
	"BILL_PROVIDER":             "billgateway",
	"CONFIRM_ATTEMPTS":          10,
	"CONFIRM_INTERVAL":          "3s",
	"NOTIFY_TIMEOUT":            "5s",
	"RETRY_MAX_ATTEMPTS":        5,
	"RETRY_BASE_BACKOFF":        "30s",
	"RETRY_MAX_BACKOFF":         "30m",
	"RETRY_BATCH_SIZE":          50,
	"RETRY_LEASE":               "5m",
	"RETRY_SCHEDULE":            "@every 30s",
	"EXHAUSTED_REPORT_SCHEDULE": "0 8 * * *",
}

// defaultNetworks settle on the internal ledger only; production deployments
// configure NETWORKS or NETWORKS_FILE.
var defaultNetworks = []domain.Network{
	{Blockchain: "bitcoin", NativeCurrency: "BTC"},
	{Blockchain: "ethereum", NativeCurrency: "ETH", AddressPattern: `^0x[0-9a-fA-F]{40}$`},
	{Blockchain: "tron", NativeCurrency: "TRX", AddressPattern: `^T[1-9A-HJ-NP-Za-km-z]{33}$`},
}

// LoadConfig reads an optional .env file and then the environment. Out-of-range
// numeric values fall back to their defaults with a warning.
func LoadConfig(logger *slog.Logger) (*AppConfig, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Warn("Failed to read .env file, using environment values", "error", err)
	}

	v := viper.New()
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	for _, key := range []string{"REDIS_URL", "RABBITMQ_URL", "SECRET_KEY", "CUSTODY_API_BASE_URL", "CUSTODY_API_KEY",
		"BILL_API_BASE_URL", "BILL_API_KEY", "NETWORKS_FILE", "NETWORKS"} {
		_ = v.BindEnv(key)
	}

	var raw rawConfig
	if err := v.Unmarshal(&raw); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}

	raw.SecretKey = strings.TrimSpace(raw.SecretKey)
	if raw.SecretKey == "" {
		return nil, errors.New("SECRET_KEY is required")
	}

	positiveInt(logger, "CONFIRM_ATTEMPTS", &raw.ConfirmAttempts, 10)
	positiveInt(logger, "RETRY_MAX_ATTEMPTS", &raw.RetryMaxAttempts, 5)
	positiveInt(logger, "RETRY_BATCH_SIZE", &raw.RetryBatchSize, 50)
	positiveDuration(logger, "CONFIRM_INTERVAL", &raw.ConfirmInterval, 3*time.Second)
	positiveDuration(logger, "RETRY_BASE_BACKOFF", &raw.RetryBaseBackoff, 30*time.Second)
	positiveDuration(logger, "UNIT_OF_WORK_TIMEOUT", &raw.UnitTimeout, 15*time.Second)
	if raw.RetryMaxBackoff < raw.RetryBaseBackoff {
		logger.Warn("RETRY_MAX_BACKOFF below base backoff, using 30m", "value", raw.RetryMaxBackoff)
		raw.RetryMaxBackoff = 30 * time.Minute
	}

	networks, err := loadNetworks(raw)
	if err != nil {
		return nil, err
	}

	return &AppConfig{
		ServerPort: raw.ServerPort,
		LogLevel:   raw.LogLevel,
		DB: db.Config{
			Host:         raw.DBHost,
			Port:         raw.DBPort,
			User:         raw.DBUser,
			Password:     raw.DBPassword,
			DBName:       raw.DBName,
			SSLMode:      raw.DBSSLMode,
			MaxOpenConns: raw.DBMaxOpenConns,
			MaxIdleConns: raw.DBMaxIdleConns,
		},
		DBLockWait:         raw.DBLockWait,
		DBStatementTimeout: raw.DBStatementTimeout,
		UnitTimeout:        raw.UnitTimeout,
		RedisURL:           strings.TrimSpace(raw.RedisURL),
		PriceCacheTTL:      raw.PriceCacheTTL,
		RabbitMQURL:        strings.TrimSpace(raw.RabbitMQURL),
		RabbitMQExchange:   raw.RabbitMQExchange,
		SecretKey:          raw.SecretKey,
		CustodyBaseURL:     raw.CustodyBaseURL,
		CustodyAPIKey:      raw.CustodyAPIKey,
		BillBaseURL:        raw.BillBaseURL,
		BillAPIKey:         raw.BillAPIKey,
		BillProvider:       raw.BillProvider,
		ConfirmAttempts:    raw.ConfirmAttempts,
		ConfirmInterval:    raw.ConfirmInterval,
		NotifyTimeout:      raw.NotifyTimeout,
		RetryMaxAttempts:   raw.RetryMaxAttempts,
		RetryBaseBackoff:   raw.RetryBaseBackoff,
		RetryMaxBackoff:    raw.RetryMaxBackoff,
		RetryBatchSize:     raw.RetryBatchSize,
		RetryLease:         raw.RetryLease,
		RetrySchedule:      raw.RetrySchedule,
		ExhaustedSchedule:  raw.ExhaustedSchedule,
		Networks:           networks,
	}, nil
}

func positiveInt(logger *slog.Logger, key string, v *int, fallback int) {
	if *v <= 0 {
		logger.Warn("Invalid configuration value, using default", "key", key, "value", *v, "default", fallback)
		*v = fallback
	}
}

func positiveDuration(logger *slog.Logger, key string, v *time.Duration, fallback time.Duration) {
	if *v <= 0 {
		logger.Warn("Invalid configuration value, using default", "key", key, "value", *v, "default", fallback)
		*v = fallback
	}
}

// loadNetworks reads the network list from NETWORKS_FILE (any format viper reads,
// under a top-level "networks" key) or from the NETWORKS JSON array.
func loadNetworks(raw rawConfig) ([]domain.Network, error) {
	var networks []domain.Network
	switch {
	case strings.TrimSpace(raw.NetworksFile) != "":
		v := viper.New()
		v.SetConfigFile(raw.NetworksFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read networks file: %w", err)
		}
		if err := v.UnmarshalKey("networks", &networks); err != nil {
			return nil, fmt.Errorf("failed to decode networks file: %w", err)
		}
	case strings.TrimSpace(raw.NetworksJSON) != "":
		if err := json.Unmarshal([]byte(raw.NetworksJSON), &networks); err != nil {
			return nil, fmt.Errorf("failed to decode NETWORKS: %w", err)
		}
	default:
		return append([]domain.Network(nil), defaultNetworks...), nil
	}
	for _, n := range networks {
		if n.OnChain && (n.MasterAddress == "" || n.MasterSecret == "") {
			return nil, fmt.Errorf("network %s settles on chain but has no master wallet", n.Blockchain)
		}
	}
	return networks, nil
}
