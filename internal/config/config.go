package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is built once at startup and passed by value to whatever needs it.
type Config struct {
	AppPort          string
	Env              string
	LogLevel         string
	CORSAllowOrigins string

	DBDriver    string
	DatabaseDSN string

	RabbitMQURL string

	JWTSecret     string
	AdminUsername string
	AdminPassword string
	AdminEmail    string

	Mpesa    MpesaConfig
	Callback CallbackConfig
	Dispatch DispatchConfig
	SMTP     SMTPConfig
}

// MpesaConfig holds payment gateway settings.
type MpesaConfig struct {
	BaseURL          string
	ConsumerKey      string
	ConsumerSecret   string
	ShortCode        string
	Passkey          string
	CallbackURL      string
	AccountReference string
	Timeout          time.Duration
}

// Enabled reports whether any gateway credential is set. An enabled gateway must be
// fully configured.
func (m MpesaConfig) Enabled() bool {
	return m.ConsumerKey != "" || m.ConsumerSecret != "" || m.ShortCode != "" || m.Passkey != ""
}

func (m MpesaConfig) missingCredentials() []string {
	var missing []string
	for _, f := range []struct{ key, value string }{
		{"MPESA_BASE_URL", m.BaseURL},
		{"MPESA_CONSUMER_KEY", m.ConsumerKey},
		{"MPESA_CONSUMER_SECRET", m.ConsumerSecret},
		{"MPESA_SHORTCODE", m.ShortCode},
		{"MPESA_PASSKEY", m.Passkey},
		{"MPESA_CALLBACK_URL", m.CallbackURL},
	} {
		if f.value == "" {
			missing = append(missing, f.key)
		}
	}
	return missing
}

// CallbackConfig bounds the retry of callback lookups that race the push write.
type CallbackConfig struct {
	LookupAttempts int
	LookupBackoff  time.Duration
}

// DispatchConfig sizes the background side-effect worker pool.
type DispatchConfig struct {
	Workers   int
	QueueSize int
}

// SMTPConfig holds email relay settings. An empty Host disables real delivery.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// IsDevelopment reports whether the service runs in development mode.
func (c Config) IsDevelopment() bool {
	return c.Env == "development"
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_PORT", ":8080")
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("CORS_ALLOW_ORIGINS", "*")
	v.SetDefault("DB_DRIVER", "postgres")
	v.SetDefault("DATABASE_DSN", "host=127.0.0.1 user=postgres password=postgres dbname=orders port=5432 sslmode=disable")
	v.SetDefault("RABBITMQ_URL", "")
	v.SetDefault("JWT_SECRET", "")
	v.SetDefault("ADMIN_USERNAME", "admin")
	v.SetDefault("ADMIN_PASSWORD", "")
	v.SetDefault("ADMIN_EMAIL", "")
	v.SetDefault("MPESA_BASE_URL", "https://sandbox.safaricom.co.ke")
	v.SetDefault("MPESA_CONSUMER_KEY", "")
	v.SetDefault("MPESA_CONSUMER_SECRET", "")
	v.SetDefault("MPESA_SHORTCODE", "")
	v.SetDefault("MPESA_PASSKEY", "")
	v.SetDefault("MPESA_CALLBACK_URL", "")
	v.SetDefault("MPESA_ACCOUNT_REFERENCE", "Order")
	v.SetDefault("MPESA_TIMEOUT", "30s")
	v.SetDefault("CALLBACK_LOOKUP_ATTEMPTS", 3)
	v.SetDefault("CALLBACK_LOOKUP_BACKOFF", "500ms")
	v.SetDefault("DISPATCH_WORKERS", 4)
	v.SetDefault("DISPATCH_QUEUE_SIZE", 256)
	v.SetDefault("SMTP_HOST", "")
	v.SetDefault("SMTP_PORT", 587)
	v.SetDefault("SMTP_USERNAME", "")
	v.SetDefault("SMTP_PASSWORD", "")
	v.SetDefault("SMTP_FROM", "")
}

// Load reads configuration from an optional ./config.{yaml,env,...} file and the
// environment, environment winning.
func Load() (Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigName("config")
	v.AddConfigPath(".")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := fromViper(v)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func fromViper(v *viper.Viper) Config {
	return Config{
		AppPort:          v.GetString("APP_PORT"),
		Env:              strings.ToLower(v.GetString("APP_ENV")),
		LogLevel:         v.GetString("LOG_LEVEL"),
		CORSAllowOrigins: v.GetString("CORS_ALLOW_ORIGINS"),
		DBDriver:         strings.ToLower(v.GetString("DB_DRIVER")),
		DatabaseDSN:      v.GetString("DATABASE_DSN"),
		RabbitMQURL:      v.GetString("RABBITMQ_URL"),
		JWTSecret:        v.GetString("JWT_SECRET"),
		AdminUsername:    v.GetString("ADMIN_USERNAME"),
		AdminPassword:    v.GetString("ADMIN_PASSWORD"),
		AdminEmail:       v.GetString("ADMIN_EMAIL"),
		Mpesa: MpesaConfig{
			BaseURL:          v.GetString("MPESA_BASE_URL"),
			ConsumerKey:      v.GetString("MPESA_CONSUMER_KEY"),
			ConsumerSecret:   v.GetString("MPESA_CONSUMER_SECRET"),
			ShortCode:        v.GetString("MPESA_SHORTCODE"),
			Passkey:          v.GetString("MPESA_PASSKEY"),
			CallbackURL:      v.GetString("MPESA_CALLBACK_URL"),
			AccountReference: v.GetString("MPESA_ACCOUNT_REFERENCE"),
			Timeout:          v.GetDuration("MPESA_TIMEOUT"),
		},
		Callback: CallbackConfig{
			LookupAttempts: v.GetInt("CALLBACK_LOOKUP_ATTEMPTS"),
			LookupBackoff:  v.GetDuration("CALLBACK_LOOKUP_BACKOFF"),
		},
		Dispatch: DispatchConfig{
			Workers:   v.GetInt("DISPATCH_WORKERS"),
			QueueSize: v.GetInt("DISPATCH_QUEUE_SIZE"),
		},
		SMTP: SMTPConfig{
			Host:     v.GetString("SMTP_HOST"),
			Port:     v.GetInt("SMTP_PORT"),
			Username: v.GetString("SMTP_USERNAME"),
			Password: v.GetString("SMTP_PASSWORD"),
			From:     v.GetString("SMTP_FROM"),
		},
	}
}

// Validate checks settings that would otherwise fail late at request time.
func (c Config) Validate() error {
	var errs []error

	switch c.DBDriver {
	case "postgres", "sqlite", "memory":
	default:
		errs = append(errs, fmt.Errorf("unsupported DB_DRIVER %q", c.DBDriver))
	}
	if c.DBDriver != "memory" && c.DatabaseDSN == "" {
		errs = append(errs, errors.New("DATABASE_DSN is required"))
	}
	if c.JWTSecret == "" && !c.IsDevelopment() {
		errs = append(errs, errors.New("JWT_SECRET is required outside development"))
	}
	if c.Mpesa.Timeout <= 0 || c.Mpesa.Timeout > time.Minute {
		errs = append(errs, fmt.Errorf("MPESA_TIMEOUT must be within (0, 1m], got %s", c.Mpesa.Timeout))
	}
	if missing := c.Mpesa.missingCredentials(); c.Mpesa.Enabled() && len(missing) > 0 {
		errs = append(errs, fmt.Errorf("gateway partially configured, missing %s", strings.Join(missing, ", ")))
	}
	if c.Callback.LookupAttempts < 1 {
		errs = append(errs, errors.New("CALLBACK_LOOKUP_ATTEMPTS must be at least 1"))
	}
	if c.Dispatch.Workers < 1 || c.Dispatch.QueueSize < 1 {
		errs = append(errs, errors.New("DISPATCH_WORKERS and DISPATCH_QUEUE_SIZE must be positive"))
	}
	if c.SMTP.Host != "" && c.SMTP.From == "" {
		errs = append(errs, errors.New("SMTP_FROM is required when SMTP_HOST is set"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}
