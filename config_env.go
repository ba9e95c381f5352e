package venueauth

import (
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// NewEnvViper loads the given .env files (default ".env") into the process
// environment and returns a viper instance reading from it. Missing files are
// ignored.
func NewEnvViper(files ...string) (*viper.Viper, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v, nil
}

// LoadConfig builds a Config from DefaultConfig overlaid with environment
// variables, then validates it.
func LoadConfig(files ...string) (Config, error) {
	v, err := NewEnvViper(files...)
	if err != nil {
		return Config{}, err
	}
	cfg := ConfigFromViper(v)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ConfigFromViper reads engine settings from v. Durations are given in
// seconds unless the key says minutes.
func ConfigFromViper(v *viper.Viper) Config {
	cfg := DefaultConfig()
	d := cfg

	v.SetDefault("JWT_ACCESS_EXPIRATION_SECONDS", int(d.Token.AccessTTL/time.Second))
	v.SetDefault("JWT_REFRESH_EXPIRATION_SECONDS", int(d.Token.RefreshTTL/time.Second))
	v.SetDefault("JWT_VERIFY_EMAIL_EXPIRATION_SECONDS", int(d.Token.EmailVerificationTTL/time.Second))
	v.SetDefault("JWT_RESET_PASSWORD_EXPIRATION_SECONDS", int(d.Token.PasswordResetTTL/time.Second))
	v.SetDefault("JWT_INVITATION_EXPIRATION_SECONDS", int(d.Token.InvitationTTL/time.Second))
	v.SetDefault("JWT_MFA_EXPIRATION_SECONDS", int(d.Token.MFATTL/time.Second))
	v.SetDefault("JWT_LINKING_EXPIRATION_SECONDS", int(d.Token.LinkingTTL/time.Second))
	v.SetDefault("JWT_ISSUER", d.Token.Issuer)
	v.SetDefault("TOKEN_CLEANUP_INTERVAL_SECONDS", int(d.Token.CleanupInterval/time.Second))
	v.SetDefault("TOKEN_IDEMPOTENT_REVOKE", d.Token.IdempotentRevoke)
	v.SetDefault("OTP_EXPIRATION_SECONDS", int(d.OTP.TTL/time.Second))
	v.SetDefault("OTP_DIGITS", d.OTP.Digits)
	v.SetDefault("BCRYPT_COST", d.Password.Cost)
	v.SetDefault("LOCKOUT_THRESHOLD", d.Lockout.Threshold)
	v.SetDefault("LOCKOUT_DURATION_MINUTES", int(d.Lockout.Duration/time.Minute))
	v.SetDefault("LOCKOUT_MAX_TRACKED_IPS", d.Lockout.MaxTrackedIPs)
	v.SetDefault("USER_WEB_URL", d.App.UserWebURL)
	v.SetDefault("APP_NAME", d.App.Name)
	v.SetDefault("AUDIT_ENABLED", d.Audit.Enabled)
	v.SetDefault("METRICS_ENABLED", d.Metrics.Enabled)
	v.SetDefault("METRICS_LATENCY_HISTOGRAMS", d.Metrics.EnableLatencyHistograms)

	cfg.Token.SessionSecret = []byte(v.GetString("JWT_SECRET"))
	cfg.Token.VerificationSecret = []byte(v.GetString("JWT_VERIFY_EMAIL_SECRET"))
	cfg.Token.ResetSecret = []byte(v.GetString("JWT_RESET_PASSWORD_SECRET"))
	cfg.Token.InvitationSecret = []byte(v.GetString("JWT_INVITATION_SECRET"))
	cfg.Token.LinkingSecret = []byte(v.GetString("JWT_LINKING_SECRET"))
	cfg.Token.MFASecret = []byte(v.GetString("JWT_MFA_SECRET"))
	cfg.Token.Issuer = v.GetString("JWT_ISSUER")
	cfg.Token.Audience = v.GetString("JWT_AUDIENCE")

	cfg.Token.AccessTTL = seconds(v, "JWT_ACCESS_EXPIRATION_SECONDS")
	cfg.Token.RefreshTTL = seconds(v, "JWT_REFRESH_EXPIRATION_SECONDS")
	cfg.Token.EmailVerificationTTL = seconds(v, "JWT_VERIFY_EMAIL_EXPIRATION_SECONDS")
	cfg.Token.PasswordResetTTL = seconds(v, "JWT_RESET_PASSWORD_EXPIRATION_SECONDS")
	cfg.Token.InvitationTTL = seconds(v, "JWT_INVITATION_EXPIRATION_SECONDS")
	cfg.Token.MFATTL = seconds(v, "JWT_MFA_EXPIRATION_SECONDS")
	cfg.Token.LinkingTTL = seconds(v, "JWT_LINKING_EXPIRATION_SECONDS")
	cfg.Token.CleanupInterval = seconds(v, "TOKEN_CLEANUP_INTERVAL_SECONDS")
	cfg.Token.IdempotentRevoke = v.GetBool("TOKEN_IDEMPOTENT_REVOKE")

	cfg.OTP.TTL = seconds(v, "OTP_EXPIRATION_SECONDS")
	cfg.OTP.Digits = v.GetInt("OTP_DIGITS")

	cfg.Password.Cost = v.GetInt("BCRYPT_COST")

	cfg.Lockout.Threshold = v.GetInt("LOCKOUT_THRESHOLD")
	cfg.Lockout.Duration = time.Duration(v.GetInt("LOCKOUT_DURATION_MINUTES")) * time.Minute
	cfg.Lockout.MaxTrackedIPs = v.GetInt("LOCKOUT_MAX_TRACKED_IPS")

	cfg.Account.DefaultRoleID = strings.TrimSpace(v.GetString("DEFAULT_USER_ROLE_ID"))
	cfg.App.UserWebURL = strings.TrimRight(v.GetString("USER_WEB_URL"), "/")
	cfg.App.APIBaseURL = strings.TrimRight(v.GetString("API_BASE_URL"), "/")
	cfg.App.Name = v.GetString("APP_NAME")

	cfg.Audit.Enabled = v.GetBool("AUDIT_ENABLED")
	cfg.Metrics.Enabled = v.GetBool("METRICS_ENABLED")
	cfg.Metrics.EnableLatencyHistograms = v.GetBool("METRICS_LATENCY_HISTOGRAMS")

	return cfg
}

func seconds(v *viper.Viper, key string) time.Duration {
	return time.Duration(v.GetInt64(key)) * time.Second
}
