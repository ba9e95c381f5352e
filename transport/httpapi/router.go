// Package httpapi exposes the venueauth Engine over HTTP with a chi router.
//
// Routes live under /auth. Refresh tokens travel in an HttpOnly cookie;
// access tokens are returned in JSON and sent back as bearer tokens.
package httpapi

import (
	"net/http"
	"time"

	"github.com/MrEthical07/venueauth"
	"github.com/MrEthical07/venueauth/middleware"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"go.uber.org/zap"
)

// Config tunes the HTTP surface.
type Config struct {
	// TrustProxy honours X-Forwarded-For for the client IP.
	TrustProxy bool
	// CORSOrigins lists allowed browser origins; empty disables CORS headers.
	CORSOrigins []string

	// GlobalRateLimit applies per IP to every route.
	GlobalRateLimit  int
	GlobalRateWindow time.Duration
	// AuthRateLimit applies per IP to credential and OTP routes.
	AuthRateLimit  int
	AuthRateWindow time.Duration

	RefreshCookie CookieConfig

	// DashboardPath is appended to App.UserWebURL after a Google sign-in.
	DashboardPath  string
	RequestTimeout time.Duration
}

// CookieConfig describes the refresh token cookie.
type CookieConfig struct {
	Name   string
	Path   string
	Domain string
	Secure bool
}

// DefaultConfig returns production-leaning defaults.
func DefaultConfig() Config {
	return Config{
		GlobalRateLimit:  100,
		GlobalRateWindow: time.Minute,
		AuthRateLimit:    10,
		AuthRateWindow:   time.Minute,
		RefreshCookie: CookieConfig{
			Name:   "refreshToken",
			Path:   "/auth",
			Secure: true,
		},
		DashboardPath:  "/dashboard",
		RequestTimeout: 30 * time.Second,
	}
}

// Server holds the handlers' dependencies.
type Server struct {
	engine *venueauth.Engine
	cfg    Config
	log    *zap.Logger
}

// NewRouter builds the HTTP handler for engine.
func NewRouter(engine *venueauth.Engine, cfg Config, log *zap.Logger) http.Handler {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{engine: engine, cfg: cfg, log: log.With(zap.String("component", "httpapi"))}

	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(middleware.ClientInfo(cfg.TrustProxy))
	r.Use(s.requestLogger)
	if cfg.RequestTimeout > 0 {
		r.Use(chimw.Timeout(cfg.RequestTimeout))
	}
	if len(cfg.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   cfg.CORSOrigins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
			ExposedHeaders:   []string{middleware.RequestIDHeader},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}
	if cfg.GlobalRateLimit > 0 {
		r.Use(s.rateLimit(cfg.GlobalRateLimit, cfg.GlobalRateWindow))
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/auth", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			if cfg.AuthRateLimit > 0 {
				r.Use(s.rateLimit(cfg.AuthRateLimit, cfg.AuthRateWindow))
			}
			r.Post("/login", s.login)
			r.Post("/login-phone", s.loginPhone)
			r.Post("/mfa/verify-otp", s.verifyMFA)
			r.Post("/register", s.register)
			r.Post("/forgot-password", s.forgotPassword)
			r.Post("/password-reset/reset", s.resetPassword)
		})

		r.Get("/google", s.googleStart)
		r.Get("/google/callback", s.googleCallback)
		r.Get("/verify-email", s.verifyEmail)
		r.Post("/refresh", s.refresh)
		r.Post("/logout", s.logout)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAccess(engine))
			r.Get("/me", s.me)
			r.Post("/logout-all", s.logoutAll)
			r.Post("/resend-verification", s.resendVerification)
			r.Post("/link-google-account", s.linkGoogle)
			r.Post("/unlink-google-account", s.unlinkGoogle)
			r.Post("/user/mfa/enable", s.enableMFA)
			r.Post("/user/mfa/disable", s.disableMFA)
			r.With(s.rateLimit(cfg.AuthRateLimit, cfg.AuthRateWindow)).Post("/user/send-phone-otp", s.sendPhoneOTP)
			r.Post("/user/verify-phone-otp", s.verifyPhoneOTP)
		})
	})

	return r
}

func (s *Server) rateLimit(limit int, window time.Duration) func(http.Handler) http.Handler {
	if limit <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	return httprate.Limit(limit, window,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, _ *http.Request) {
			writeMessage(w, http.StatusTooManyRequests, "Too many requests. Please try again later.")
		}),
	)
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		level := zap.DebugLevel
		if ww.Status() >= http.StatusInternalServerError {
			level = zap.ErrorLevel
		}
		if ce := s.log.Check(level, "http request"); ce != nil {
			ce.Write(
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", time.Since(start)),
				zap.String("correlation_id", venueauth.CorrelationIDFromContext(r.Context())),
			)
		}
	})
}
