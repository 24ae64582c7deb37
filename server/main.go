package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/staffsight/controlplane/pkg/config"
	"github.com/staffsight/controlplane/pkg/signing"
	"github.com/staffsight/controlplane/pkg/telemetry"
)

var (
	configPath = flag.String("config", "server.yaml", "Config file path")
	listenFlag = flag.String("listen", "", "Listen address (overrides config)")
	dbFlag     = flag.String("db", "", "Database path (overrides config)")
	Version    = "dev"
)

// Server holds the shared state behind every control-plane handler.
type Server struct {
	db          *gorm.DB
	signer      *signing.Signer
	logger      zerolog.Logger
	rateLimiter *RateLimiter
}

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger := baseLogger(config.LoggingConfig{})
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if *listenFlag != "" {
		cfg.Listen = *listenFlag
	}
	if *dbFlag != "" {
		cfg.DBPath = *dbFlag
	}
	logger := baseLogger(cfg.Logging)
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	logger.Info().Str("version", Version).Str("listen", cfg.Listen).Msg("control plane starting")

	provider, err := telemetry.Setup(context.Background(), "staffsight-controlplane", Version, cfg.Tracing, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to set up tracing")
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = provider.Shutdown(ctx)
	}()

	db, err := gorm.Open(sqlite.Open(cfg.DBPath), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		logger.Fatal().Err(err).Str("db", cfg.DBPath).Msg("failed to open database")
	}
	if err := db.AutoMigrate(allModels()...); err != nil {
		logger.Fatal().Err(err).Msg("failed to migrate schema")
	}

	srv := &Server{
		db:          db,
		signer:      signing.New(cfg.Signing.Secret, cfg.Signing.KeyID, logger),
		logger:      logger,
		rateLimiter: NewRateLimiter(),
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), withRequestContext(logger), withMetrics())

	srv.registerAgentRoutes(r)
	srv.registerPolicyRoutes(r)
	srv.registerVersionRoutes(r)
	srv.registerCommandRoutes(r)
	srv.registerSyncRoutes(r)
	registerMetricsRoute(r)
	r.GET("/v1/health", srv.handleHealth)

	logger.Info().Str("listen", cfg.Listen).Msg("listening")
	if err := r.Run(cfg.Listen); err != nil {
		logger.Fatal().Err(err).Msg("server exited")
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	sqlDB, err := s.db.DB()
	if err == nil {
		err = sqlDB.Ping()
	}
	if err != nil {
		s.respondFail(c, http.StatusServiceUnavailable, "database unavailable", err)
		return
	}
	respondOK(c, http.StatusOK, "healthy", gin.H{"version": Version, "signing": s.signer.Enabled()})
}

func baseLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	logger := zerolog.New(os.Stderr)
	if !cfg.JSON {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	return logger.Level(level).With().Timestamp().Str("service", "controlplane").Logger()
}
