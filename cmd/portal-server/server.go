package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/careportal/portal/internal/config"
	"github.com/careportal/portal/internal/domain/dashboard"
	"github.com/careportal/portal/internal/domain/emergency"
	"github.com/careportal/portal/internal/domain/identity"
	"github.com/careportal/portal/internal/domain/preferences"
	"github.com/careportal/portal/internal/domain/twofactor"
	"github.com/careportal/portal/internal/platform/apiclient"
	"github.com/careportal/portal/internal/platform/apierror"
	"github.com/careportal/portal/internal/platform/auth"
	"github.com/careportal/portal/internal/platform/db"
	"github.com/careportal/portal/internal/platform/endpoints"
	"github.com/careportal/portal/internal/platform/errorreport"
	"github.com/careportal/portal/internal/platform/hipaa"
	"github.com/careportal/portal/internal/platform/middleware"
	"github.com/careportal/portal/internal/platform/proxy"
	"github.com/careportal/portal/internal/platform/session"
)

const (
	version = "0.1.0"

	defaultBodyLimit = "1M"
	uploadBodyLimit  = "25M"
	redisKeyPrefix   = "portal:"
)

// app holds the long-lived dependencies of the server.
type app struct {
	cfg         *config.Config
	logger      zerolog.Logger
	registry    *endpoints.Registry
	api         *apiclient.Client
	store       session.Store
	sessions    *session.Manager
	reporter    *errorreport.Reporter
	recorder    hipaa.Recorder
	accessLog   hipaa.AccessLog
	pool        *pgxpool.Pool
	maintenance *middleware.MaintenanceSwitch
	checks      []db.Check
	closers     []func(context.Context)
}

// newApp connects the optional Redis store and audit database and builds
// the shared clients. Without REDIS_URL sessions live in memory; without
// DATABASE_URL audit entries are only logged.
func newApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*app, error) {
	a := &app{
		cfg:         cfg,
		logger:      logger,
		maintenance: middleware.NewMaintenanceSwitch(cfg.MaintenanceMode),
	}

	reg, err := endpoints.Load(cfg.EndpointsFile)
	if err != nil {
		return nil, err
	}
	a.registry = reg
	a.api = apiclient.New(cfg.APIURL, apiclient.WithLogger(logger))

	reporter, err := errorreport.New(cfg.SentryDSN, cfg.Env, logger)
	if err != nil {
		return nil, fmt.Errorf("error reporter: %w", err)
	}
	a.reporter = reporter
	a.closers = append(a.closers, func(ctx context.Context) {
		if err := reporter.Close(ctx); err != nil {
			logger.Warn().Err(err).Msg("error reporter did not drain")
		}
	})

	if cfg.RedisURL != "" {
		client, err := session.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			a.close(ctx)
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		rs := session.NewRedisStore(client, redisKeyPrefix)
		a.store = rs
		a.checks = append(a.checks, db.Check{Name: "redis", Pinger: rs})
		a.closers = append(a.closers, func(context.Context) { _ = rs.Close() })
		logger.Info().Msg("tab sessions stored in redis")
	} else {
		ms := session.NewMemoryStore(time.Minute)
		a.store = ms
		a.closers = append(a.closers, func(context.Context) { ms.Close() })
	}

	if cfg.DatabaseURL != "" {
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			a.close(ctx)
			return nil, err
		}
		a.pool = pool
		a.closers = append(a.closers, func(context.Context) { pool.Close() })
		rec := hipaa.NewPGRecorder(pool)
		if err := rec.EnsureSchema(ctx); err != nil {
			a.close(ctx)
			return nil, fmt.Errorf("audit schema: %w", err)
		}
		a.recorder = rec
		a.accessLog = rec
		a.checks = append(a.checks, db.Check{Name: "postgres", Pinger: pool})
		logger.Info().Msg("connected to audit database")
	}

	var signingKey []byte
	if cfg.JWTSigningKey != "" {
		signingKey = []byte(cfg.JWTSigningKey)
	}
	a.sessions = session.NewManager(a.store, cfg.SessionTTL(), auth.NewTokenParser(signingKey), logger)
	return a, nil
}

// close releases resources in reverse order of acquisition.
func (a *app) close(ctx context.Context) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i](ctx)
	}
	a.closers = nil
}

// newServer builds the HTTP server with every route mounted.
func newServer(a *app) *echo.Echo {
	cfg, logger := a.cfg, a.logger

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = apierror.Handler(logger, a.reporter.Capture)

	// Global middleware
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.Recovery(logger, a.reporter))
	e.Use(middleware.SecurityHeaders(cfg.IsProduction() || cfg.SecureCookies))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins:     corsOrigins(cfg),
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders:     []string{echo.HeaderAuthorization, echo.HeaderContentType, middleware.RequestIDHeader, session.HeaderTabID},
		ExposeHeaders:    []string{session.HeaderTabID, session.HeaderSessionToken, middleware.RequestIDHeader, "Retry-After"},
		AllowCredentials: true,
	}))
	e.Use(middleware.Maintenance(a.maintenance))
	e.Use(middleware.BodyLimit(defaultBodyLimit, uploadBodyLimit))
	e.Use(middleware.Sanitize(logger))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout))
	e.Use(session.Middleware(a.sessions, logger))

	// A zero rate disables limiting.
	rateLimit := middleware.DefaultRateLimitConfig()
	rateLimit.RequestsPerSecond = cfg.RateLimitRPS
	rateLimit.BurstSize = cfg.RateLimitBurst
	e.Use(middleware.RateLimit(rateLimit))
	e.Use(session.BindClient(a.sessions, a.api))
	e.Use(middleware.Audit(logger, a.recorder))

	// Health checks
	e.GET("/health", db.HealthHandler(logger, a.checks...))
	if a.pool != nil {
		e.GET("/health/db", db.PoolHealthHandler(a.pool, logger))
	}

	api := e.Group("/api")
	api.GET("/config", publicConfigHandler(cfg, a.registry))

	// Identity
	identitySvc := identity.NewService(identity.NewRepoAPI(a.api, a.registry), a.sessions, logger)
	a.sessions.SetRefresher(identitySvc)
	identity.NewHandler(identitySvc, a.sessions).RegisterRoutes(api.Group("/auth"))

	// Two-factor enrollment
	if a.registry.Enabled(endpoints.FeatureTwoFactor) {
		tfSvc := twofactor.NewService(
			twofactor.NewRepoAPI(a.api, a.registry),
			twofactor.NewPendingStore(a.store),
			identitySvc,
			logger,
		)
		twofactor.NewHandler(tfSvc).RegisterRoutes(api.Group("/2fa"), identitySvc)
	}

	// Dashboards
	dashSvc := dashboard.NewService(a.api, logger, dashboard.DefaultProviders(a.registry)...)
	dashboard.NewHandler(dashSvc, identitySvc).RegisterRoutes(api)

	// Settings and profile
	prefSvc := preferences.NewService(preferences.NewRepoAPI(a.api, a.registry), identitySvc, logger)
	preferences.NewHandler(prefSvc, identitySvc).RegisterRoutes(api)

	// Emergency access review
	if a.registry.Enabled(endpoints.FeatureEmergencyAccess) {
		emSvc := emergency.NewService(emergency.NewRepoAPI(a.api, a.registry), logger)
		emergency.NewHandler(emSvc, identitySvc).RegisterRoutes(api)
	}

	// Access log review
	if a.accessLog != nil {
		hipaa.NewHandler(a.accessLog).RegisterRoutes(api, session.Require(), auth.RequireRole(string(auth.RoleCompliance)))
	}

	// Backend proxy
	proxy.NewHandler(a.api, logger).WithLoader(identitySvc).RegisterRoutes(e)

	return e
}

func corsOrigins(cfg *config.Config) []string {
	if len(cfg.CORSOrigins) > 0 {
		return cfg.CORSOrigins
	}
	if cfg.AppURL != "" {
		return []string{cfg.AppURL}
	}
	return []string{"*"}
}

type publicConfig struct {
	Version         string          `json:"version"`
	AppURL          string          `json:"app_url"`
	WebsocketURL    string          `json:"websocket_url,omitempty"`
	SessionMaxAge   int             `json:"session_max_age"`
	Features        map[string]bool `json:"features"`
	TelemedicineSDK bool            `json:"telemedicine_sdk"`
	WearablesSDK    bool            `json:"wearables_sdk"`
}

// publicConfigHandler serves the settings the browser needs at startup.
// Secrets and backend addresses are never included.
func publicConfigHandler(cfg *config.Config, reg *endpoints.Registry) echo.HandlerFunc {
	body := publicConfig{
		Version:         version,
		AppURL:          cfg.AppURL,
		WebsocketURL:    cfg.WebsocketURL,
		SessionMaxAge:   cfg.SessionMaxAge,
		Features:        reg.Features(),
		TelemedicineSDK: cfg.ZoomSDKKey != "" && reg.Enabled(endpoints.FeatureTelemedicine),
		WearablesSDK:    cfg.WithingsClientID != "" && reg.Enabled(endpoints.FeatureWearables),
	}
	return func(c echo.Context) error {
		return c.JSON(http.StatusOK, body)
	}
}
