package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Port             string        `mapstructure:"PORT"`
	Env              string        `mapstructure:"ENV"`
	APIURL           string        `mapstructure:"NEXT_PUBLIC_API_URL"`
	AppURL           string        `mapstructure:"NEXT_PUBLIC_APP_URL"`
	WebsocketURL     string        `mapstructure:"NEXT_PUBLIC_WEBSOCKET_URL"`
	SessionMaxAge    int           `mapstructure:"SESSION_MAX_AGE"`
	SecureCookies    bool          `mapstructure:"SECURE_COOKIES"`
	ZoomSDKKey       string        `mapstructure:"ZOOM_SDK_KEY"`
	WithingsClientID string        `mapstructure:"WITHINGS_CLIENT_ID"`
	MaintenanceMode  bool          `mapstructure:"MAINTENANCE_MODE"`
	SentryDSN        string        `mapstructure:"SENTRY_DSN"`
	RedisURL         string        `mapstructure:"REDIS_URL"`
	DatabaseURL      string        `mapstructure:"DATABASE_URL"`
	DBMaxConns       int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns       int32         `mapstructure:"DB_MIN_CONNS"`
	CORSOrigins      []string      `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS     float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst   int           `mapstructure:"RATE_LIMIT_BURST"`
	EndpointsFile    string        `mapstructure:"ENDPOINTS_FILE"`
	JWTSigningKey    string        `mapstructure:"JWT_SIGNING_KEY"`
	RequestTimeout   time.Duration `mapstructure:"REQUEST_TIMEOUT"`
}

var envKeys = []string{
	"PORT",
	"ENV",
	"NEXT_PUBLIC_API_URL",
	"NEXT_PUBLIC_APP_URL",
	"NEXT_PUBLIC_WEBSOCKET_URL",
	"SESSION_MAX_AGE",
	"SECURE_COOKIES",
	"ZOOM_SDK_KEY",
	"WITHINGS_CLIENT_ID",
	"MAINTENANCE_MODE",
	"SENTRY_DSN",
	"REDIS_URL",
	"DATABASE_URL",
	"DB_MAX_CONNS",
	"DB_MIN_CONNS",
	"CORS_ORIGINS",
	"RATE_LIMIT_RPS",
	"RATE_LIMIT_BURST",
	"ENDPOINTS_FILE",
	"JWT_SIGNING_KEY",
	"REQUEST_TIMEOUT",
}

// Load reads configuration from the environment, an optional .env file and an
// optional .env.local overlay. Missing required values do not fail the load;
// call Warnings to report them.
func Load() (*Config, error) {
	// .env.local wins over .env but never over the real environment.
	_ = godotenv.Load(".env.local")

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8080")
	v.SetDefault("ENV", "development")
	v.SetDefault("NEXT_PUBLIC_APP_URL", "http://localhost:3000")
	v.SetDefault("SESSION_MAX_AGE", 28800)
	v.SetDefault("SECURE_COOKIES", false)
	v.SetDefault("MAINTENANCE_MODE", false)
	v.SetDefault("DB_MAX_CONNS", 10)
	v.SetDefault("DB_MIN_CONNS", 1)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 50)
	v.SetDefault("RATE_LIMIT_BURST", 100)
	v.SetDefault("REQUEST_TIMEOUT", "30s")

	for _, k := range envKeys {
		_ = v.BindEnv(k)
	}

	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if origins := v.GetString("CORS_ORIGINS"); origins != "" {
		cfg.CORSOrigins = splitList(origins)
	}
	cfg.APIURL = strings.TrimRight(cfg.APIURL, "/")

	return cfg, nil
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// SessionTTL is SESSION_MAX_AGE as a duration.
func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.SessionMaxAge) * time.Second
}

// Warnings lists configuration gaps that should be reported at startup but
// do not stop the server.
func (c *Config) Warnings() []string {
	var w []string
	if c.APIURL == "" {
		w = append(w, "NEXT_PUBLIC_API_URL is not set; backend calls and the proxy will fail")
	}
	if c.AppURL == "" {
		w = append(w, "NEXT_PUBLIC_APP_URL is not set")
	}
	if c.WebsocketURL == "" {
		w = append(w, "NEXT_PUBLIC_WEBSOCKET_URL is not set; realtime features are disabled")
	}
	if c.RedisURL == "" {
		w = append(w, "REDIS_URL is not set; tab sessions are kept in process memory")
	}
	if c.DatabaseURL == "" {
		w = append(w, "DATABASE_URL is not set; access audit entries are only logged")
	}
	if c.SentryDSN == "" {
		w = append(w, "SENTRY_DSN is not set; error reports are only logged")
	}
	if c.IsProduction() && !c.SecureCookies {
		w = append(w, "SECURE_COOKIES is false in production")
	}
	if c.ZoomSDKKey == "" {
		w = append(w, "ZOOM_SDK_KEY is not set; telemedicine is disabled")
	}
	if c.WithingsClientID == "" {
		w = append(w, "WITHINGS_CLIENT_ID is not set; device integration is disabled")
	}
	return w
}

// Validate rejects values that cannot work at all. Absent values are
// reported through Warnings instead.
func (c *Config) Validate() error {
	if c.APIURL != "" {
		u, err := url.Parse(c.APIURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("NEXT_PUBLIC_API_URL must be an absolute URL, got %q", c.APIURL)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("NEXT_PUBLIC_API_URL must use http or https, got %q", u.Scheme)
		}
	}
	if c.SessionMaxAge <= 0 {
		return fmt.Errorf("SESSION_MAX_AGE must be positive, got %d", c.SessionMaxAge)
	}
	if c.RateLimitRPS < 0 {
		return fmt.Errorf("RATE_LIMIT_RPS must not be negative")
	}
	if c.RequestTimeout < 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must not be negative")
	}
	if c.IsProduction() && c.APIURL != "" && strings.HasPrefix(c.APIURL, "http://") {
		return fmt.Errorf("NEXT_PUBLIC_API_URL must use https in production")
	}
	return nil
}
