package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/MrEthical07/venueauth"
	"github.com/MrEthical07/venueauth/google"
	"github.com/MrEthical07/venueauth/gormstore"
	"github.com/MrEthical07/venueauth/internal/logging"
	"github.com/MrEthical07/venueauth/notify"
	"github.com/MrEthical07/venueauth/transport/httpapi"
	"github.com/spf13/viper"
)

// serverConfig is everything the binary needs beyond the engine settings.
type serverConfig struct {
	Addr            string
	ShutdownTimeout time.Duration

	Engine   venueauth.Config
	HTTP     httpapi.Config
	Log      logging.Config
	Database gormstore.Config
	RedisURL string

	SMTP   notify.SMTPConfig
	Twilio notify.TwilioConfig
	// AMQPURL routes notifications through a queue when set.
	AMQPURL   string
	AMQPQueue string
	// RunRelay consumes the queue in-process.
	RunRelay bool
	Retry    notify.RetryConfig

	Google google.Config
}

func loadServerConfig(files ...string) (serverConfig, error) {
	v, err := venueauth.NewEnvViper(files...)
	if err != nil {
		return serverConfig{}, fmt.Errorf("load env: %w", err)
	}
	cfg := serverConfigFromViper(v)
	if err := cfg.Engine.Validate(); err != nil {
		return serverConfig{}, err
	}
	if cfg.Database.DSN == "" {
		return serverConfig{}, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.RedisURL == "" {
		return serverConfig{}, fmt.Errorf("REDIS_URL is required")
	}
	return cfg, nil
}

func serverConfigFromViper(v *viper.Viper) serverConfig {
	httpDefaults := httpapi.DefaultConfig()
	retry := notify.DefaultRetryConfig()

	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("SHUTDOWN_TIMEOUT_SECONDS", 15)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)
	v.SetDefault("SMTP_PORT", 587)
	v.SetDefault("AMQP_QUEUE", notify.DefaultQueue)
	v.SetDefault("NOTIFY_RELAY", true)
	v.SetDefault("NOTIFY_MAX_TRIES", retry.MaxTries)
	v.SetDefault("RATE_LIMIT_GLOBAL", httpDefaults.GlobalRateLimit)
	v.SetDefault("RATE_LIMIT_AUTH", httpDefaults.AuthRateLimit)
	v.SetDefault("COOKIE_SECURE", httpDefaults.RefreshCookie.Secure)

	cfg := serverConfig{
		Addr:            v.GetString("HTTP_ADDR"),
		ShutdownTimeout: time.Duration(v.GetInt("SHUTDOWN_TIMEOUT_SECONDS")) * time.Second,
		Engine:          venueauth.ConfigFromViper(v),
		Log: logging.Config{
			Level:       v.GetString("LOG_LEVEL"),
			Development: v.GetBool("LOG_DEVELOPMENT"),
		},
		Database: gormstore.Config{
			DSN:          v.GetString("DATABASE_URL"),
			MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
			MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
		},
		RedisURL: v.GetString("REDIS_URL"),
		SMTP: notify.SMTPConfig{
			Host:     v.GetString("SMTP_HOST"),
			Port:     v.GetInt("SMTP_PORT"),
			Username: v.GetString("SMTP_USERNAME"),
			Password: v.GetString("SMTP_PASSWORD"),
			From:     v.GetString("SMTP_FROM"),
		},
		Twilio: notify.TwilioConfig{
			AccountSID: v.GetString("TWILIO_ACCOUNT_SID"),
			AuthToken:  v.GetString("TWILIO_AUTH_TOKEN"),
			From:       v.GetString("TWILIO_FROM_NUMBER"),
		},
		AMQPURL:   v.GetString("AMQP_URL"),
		AMQPQueue: v.GetString("AMQP_QUEUE"),
		RunRelay:  v.GetBool("NOTIFY_RELAY"),
		Retry:     retry,
		Google: google.Config{
			ClientID:     v.GetString("GOOGLE_CLIENT_ID"),
			ClientSecret: v.GetString("GOOGLE_CLIENT_SECRET"),
			RedirectURL:  v.GetString("GOOGLE_REDIRECT_URI"),
		},
	}
	cfg.Retry.MaxTries = v.GetUint("NOTIFY_MAX_TRIES")

	cfg.HTTP = httpDefaults
	cfg.HTTP.TrustProxy = v.GetBool("TRUST_PROXY")
	cfg.HTTP.CORSOrigins = splitList(v.GetString("CORS_ORIGINS"))
	cfg.HTTP.GlobalRateLimit = v.GetInt("RATE_LIMIT_GLOBAL")
	cfg.HTTP.AuthRateLimit = v.GetInt("RATE_LIMIT_AUTH")
	cfg.HTTP.RefreshCookie.Secure = v.GetBool("COOKIE_SECURE")
	cfg.HTTP.RefreshCookie.Domain = v.GetString("COOKIE_DOMAIN")
	return cfg
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
