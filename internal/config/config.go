package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type AppCfg struct {
	Env     string
	Port    string
	BaseURL string
}

type ServerCfg struct {
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

type MpesaCfg struct {
	Environment     string // sandbox | production
	ConsumerKey     string
	ConsumerSecret  string
	Shortcode       string
	Passkey         string
	CallbackURL     string
	TransactionType string
	BaseURL         string // overrides the environment host when set
	Timeout         time.Duration
}

type PaymentCfg struct {
	MockMode       bool
	AutoFallback   bool
	PendingTimeout time.Duration
	SweepInterval  time.Duration
}

type RetryCfg struct {
	InitialInterval time.Duration
	MaxAttempts     int
}

type DBCfg struct{ DSN string }

type RedisCfg struct {
	Addr     string
	Password string
	DB       int
}

type SecurityCfg struct {
	AdminToken string
}

type LogCfg struct {
	Level string
	File  string
}

type Cfg struct {
	App     AppCfg
	Server  ServerCfg
	Mpesa   MpesaCfg
	Payment PaymentCfg
	Retry   RetryCfg
	DB      DBCfg
	Redis   RedisCfg
	Sec     SecurityCfg
	Log     LogCfg
}

// IsProduction reports whether the service runs with production settings.
func (c Cfg) IsProduction() bool { return c.App.Env == "production" }

// Load reads the configuration and exits the process when it is invalid.
func Load() Cfg {
	cfg, err := FromEnv()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	return cfg
}

// FromEnv loads .env (if present) into the process environment and reads
// every setting through viper.
func FromEnv() (Cfg, error) {
	// a missing .env is fine, real deployments inject the environment
	_ = godotenv.Load(".env")

	v := viper.New()
	v.AutomaticEnv()
	// process managers commonly hand the port over as PORT
	_ = v.BindEnv("APP_PORT", "APP_PORT", "PORT")
	setDefaults(v)

	cfg := Cfg{
		App: AppCfg{
			Env:     strings.ToLower(strings.TrimSpace(v.GetString("APP_ENV"))),
			Port:    strings.TrimSpace(v.GetString("APP_PORT")),
			BaseURL: v.GetString("APP_BASE_URL"),
		},
		Server: ServerCfg{
			ReadTimeout:     v.GetDuration("READ_TIMEOUT"),
			WriteTimeout:    v.GetDuration("WRITE_TIMEOUT"),
			IdleTimeout:     v.GetDuration("IDLE_TIMEOUT"),
			ShutdownTimeout: v.GetDuration("SHUTDOWN_TIMEOUT"),
		},
		Mpesa: MpesaCfg{
			Environment:     strings.ToLower(strings.TrimSpace(v.GetString("MPESA_ENVIRONMENT"))),
			ConsumerKey:     strings.TrimSpace(v.GetString("MPESA_CONSUMER_KEY")),
			ConsumerSecret:  strings.TrimSpace(v.GetString("MPESA_CONSUMER_SECRET")),
			Shortcode:       strings.TrimSpace(v.GetString("MPESA_BUSINESS_SHORTCODE")),
			Passkey:         strings.TrimSpace(v.GetString("MPESA_PASSKEY")),
			CallbackURL:     strings.TrimSpace(v.GetString("MPESA_CALLBACK_URL")),
			TransactionType: v.GetString("MPESA_TRANSACTION_TYPE"),
			BaseURL:         strings.TrimRight(v.GetString("MPESA_BASE_URL"), "/"),
			Timeout:         v.GetDuration("MPESA_TIMEOUT"),
		},
		Payment: PaymentCfg{
			MockMode:       v.GetBool("PAYMENT_MOCK_MODE"),
			AutoFallback:   v.GetBool("PAYMENT_AUTO_FALLBACK"),
			PendingTimeout: v.GetDuration("PAYMENT_PENDING_TIMEOUT"),
			SweepInterval:  v.GetDuration("PAYMENT_SWEEP_INTERVAL"),
		},
		Retry: RetryCfg{
			InitialInterval: v.GetDuration("RETRY_INITIAL_INTERVAL"),
			MaxAttempts:     v.GetInt("RETRY_MAX_ATTEMPTS"),
		},
		DB: DBCfg{DSN: v.GetString("DB_DSN")},
		Redis: RedisCfg{
			Addr:     v.GetString("REDIS_ADDR"),
			Password: v.GetString("REDIS_PASSWORD"),
			DB:       v.GetInt("REDIS_DB"),
		},
		Sec: SecurityCfg{AdminToken: strings.TrimSpace(v.GetString("ADMIN_TOKEN"))},
		Log: LogCfg{
			Level: v.GetString("LOG_LEVEL"),
			File:  v.GetString("LOG_FILE"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return Cfg{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("APP_PORT", "3008")
	v.SetDefault("READ_TIMEOUT", "15s")
	v.SetDefault("WRITE_TIMEOUT", "30s")
	v.SetDefault("IDLE_TIMEOUT", "60s")
	v.SetDefault("SHUTDOWN_TIMEOUT", "5s")

	v.SetDefault("MPESA_ENVIRONMENT", "sandbox")
	v.SetDefault("MPESA_TRANSACTION_TYPE", "CustomerPayBillOnline")
	v.SetDefault("MPESA_TIMEOUT", "30s")

	v.SetDefault("PAYMENT_MOCK_MODE", false)
	v.SetDefault("PAYMENT_AUTO_FALLBACK", true)
	v.SetDefault("PAYMENT_PENDING_TIMEOUT", "2m")
	v.SetDefault("PAYMENT_SWEEP_INTERVAL", "30s")

	v.SetDefault("RETRY_INITIAL_INTERVAL", "500ms")
	v.SetDefault("RETRY_MAX_ATTEMPTS", 3)

	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("LOG_LEVEL", "info")
}

// Validate checks settings that would make the service misbehave. Missing
// M-Pesa credentials are allowed: they only mark the provider unconfigured.
func (c Cfg) Validate() error {
	if c.App.Port == "" {
		return fmt.Errorf("APP_PORT is required")
	}
	switch c.Mpesa.Environment {
	case "sandbox", "production":
	default:
		return fmt.Errorf("MPESA_ENVIRONMENT must be sandbox or production, got %q", c.Mpesa.Environment)
	}
	if c.Payment.PendingTimeout <= 0 {
		return fmt.Errorf("PAYMENT_PENDING_TIMEOUT must be positive")
	}
	if c.Payment.SweepInterval <= 0 {
		return fmt.Errorf("PAYMENT_SWEEP_INTERVAL must be positive")
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("RETRY_MAX_ATTEMPTS must be at least 1")
	}
	return nil
}
