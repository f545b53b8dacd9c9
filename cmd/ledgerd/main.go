package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/viper"
	"github.com/veritas-audit/veritas/internal/alert"
	"github.com/veritas-audit/veritas/internal/api"
	"github.com/veritas-audit/veritas/internal/checkpoint"
	"github.com/veritas-audit/veritas/internal/health"
	"github.com/veritas-audit/veritas/internal/ledger"
	"github.com/veritas-audit/veritas/internal/verify"
	"go.uber.org/zap"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync() //nolint:errcheck

	if err := run(logger); err != nil {
		logger.Fatal("ledgerd exited with error", zap.Error(err))
	}
}

func run(logger *zap.Logger) error {
	// ── Configuration ────────────────────────────────────────────────────────
	viper.SetConfigName("ledgerd")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("configs")
	viper.AddConfigPath(".")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("ledgerd.port", 8080)
	viper.SetDefault("ledgerd.cors_origins", []string{"http://localhost:3000"})
	viper.SetDefault("ledgerd.rate_limit_rps", 20)
	viper.SetDefault("ledgerd.admin_secret", "")
	viper.SetDefault("ledgerd.issuer_url", "")
	viper.SetDefault("database.url", "")
	viper.SetDefault("token.secret", "")
	viper.SetDefault("token.ttl_seconds", 28800)
	viper.SetDefault("checkpoint.interval", "1h")
	viper.SetDefault("checkpoint.min_entries", 1)
	viper.SetDefault("verify.on_startup", true)
	viper.SetDefault("health.check_interval", "1m")
	viper.SetDefault("alert.webhook_url", "")
	viper.SetDefault("alert.webhook_secret", "")
	viper.SetDefault("alert.email_to", "")
	viper.SetDefault("email.smtp_host", "")
	viper.SetDefault("email.smtp_port", 587)
	viper.SetDefault("email.smtp_username", "")
	viper.SetDefault("email.smtp_password", "")
	viper.SetDefault("email.from_address", "noreply@veritas.local")

	if err := viper.ReadInConfig(); err != nil {
		var cfgNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &cfgNotFound) {
			return fmt.Errorf("read config: %w", err)
		}
		logger.Warn("no config file found, using defaults and env vars")
	}

	// ── Storage ──────────────────────────────────────────────────────────────
	var (
		entries  ledger.Ledger
		cpStore  checkpoint.Store
		runStore verify.RunStore
		pinger   health.Pinger
	)

	dbURL := viper.GetString("database.url")
	if dbURL != "" {
		db, err := pgxpool.New(context.Background(), dbURL)
		if err != nil {
			return fmt.Errorf("connect to postgres: %w", err)
		}
		defer db.Close()

		if err := db.Ping(context.Background()); err != nil {
			return fmt.Errorf("ping postgres: %w", err)
		}
		logger.Info("connected to postgres")

		entries = ledger.NewPostgresLedger(db, logger)
		cpStore = checkpoint.NewPostgresStore(db, logger)
		runStore = verify.NewPostgresRunStore(db)
		pinger = db
	} else {
		logger.Warn("no database.url configured, using in-memory storage; the ledger will not survive a restart")
		entries = ledger.NewMemoryLedger()
		cpStore = checkpoint.NewMemoryStore()
		runStore = verify.NewMemoryRunStore()
	}

	// ── Alerting ─────────────────────────────────────────────────────────────
	var notifiers []alert.Notifier
	if url := viper.GetString("alert.webhook_url"); url != "" {
		notifiers = append(notifiers, alert.NewWebhookNotifier(url, viper.GetString("alert.webhook_secret"), logger))
		logger.Info("tamper alert webhook configured", zap.String("url", url))
	}
	if to := viper.GetString("alert.email_to"); to != "" {
		var mailer alert.MailSender
		smtpHost := viper.GetString("email.smtp_host")
		if smtpHost != "" {
			mailer = alert.NewSMTPSender(
				smtpHost,
				viper.GetInt("email.smtp_port"),
				viper.GetString("email.smtp_username"),
				viper.GetString("email.smtp_password"),
				viper.GetString("email.from_address"),
			)
			logger.Info("SMTP alert sender configured", zap.String("host", smtpHost))
		} else {
			mailer = alert.NewNoopSender(logger)
			logger.Info("alert email sender: noop (set email.smtp_host to enable SMTP)")
		}
		notifiers = append(notifiers, alert.NewEmailNotifier(mailer, to))
	}
	dispatcher := alert.NewDispatcher(notifiers, logger)
	dispatcher.SetDeliveryMetric(api.RecordAlertDelivery)

	// ── Core wiring ──────────────────────────────────────────────────────────
	recorder := ledger.NewRecorder(entries, logger)
	recorder.SetAppendMetric(func(sev ledger.Severity) { api.RecordEntryAppend(string(sev)) })

	verifier := verify.New(entries, cpStore, runStore, logger)
	verifier.SetTamperAlert(dispatcher.TamperAlert)
	verifier.SetFailureMetric(api.RecordIntegrityFailure)

	builder := checkpoint.NewBuilder(entries, cpStore, verifier, logger)
	builder.SetBuildMetric(api.RecordCheckpointBuild)

	// ── Startup integrity check ──────────────────────────────────────────────
	if viper.GetBool("verify.on_startup") {
		startCtx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		tail, _, err := entries.Tail(startCtx)
		if err != nil {
			cancel()
			return fmt.Errorf("read ledger tail: %w", err)
		}
		if tail > 0 {
			res, err := verifier.VerifyRange(startCtx, 1, tail)
			if err != nil {
				cancel()
				return fmt.Errorf("startup verification: %w", err)
			}
			if res.Valid {
				logger.Info("ledger verified", zap.Int64("entries", res.Checked))
			} else {
				logger.Error("ledger integrity check FAILED; continuing in read-mostly distrust",
					zap.Int64("broken_at", res.BrokenAt),
					zap.String("details", res.Details),
				)
			}
		} else {
			logger.Info("ledger empty, nothing to verify")
		}
		cancel()
	}

	// ── Operator tokens ──────────────────────────────────────────────────────
	httpPort := viper.GetInt("ledgerd.port")
	issuerURL := viper.GetString("ledgerd.issuer_url")
	if issuerURL == "" {
		issuerURL = fmt.Sprintf("http://localhost:%d", httpPort)
	}
	tokenSecret := viper.GetString("token.secret")
	if tokenSecret == "" {
		tokenSecret = uuid.NewString()
		logger.Warn("token.secret not set, generated an ephemeral signing key; operator tokens will not survive a restart")
	}
	tokenTTL := time.Duration(viper.GetInt("token.ttl_seconds")) * time.Second
	tokens := api.NewOperatorTokenIssuer([]byte(tokenSecret), issuerURL, tokenTTL)

	// ── Health probes ────────────────────────────────────────────────────────
	healthInterval, _ := time.ParseDuration(viper.GetString("health.check_interval"))
	checker := health.New(entries, pinger, health.Config{CheckInterval: healthInterval}, logger)
	checker.SetMetricsRecord(api.RecordHealthCheck)
	checker.SetAlert(func(ctx context.Context, probe, detail string) {
		dispatcher.Dispatch(ctx, alert.Alert{
			ID:      uuid.New(),
			Time:    time.Now().UTC(),
			Details: "health probe " + probe + " degraded: " + detail,
		})
	})

	// ── HTTP Router ──────────────────────────────────────────────────────────
	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())

	corsOrigins := viper.GetStringSlice("ledgerd.cors_origins")
	corsConfig := cors.Config{
		AllowOrigins:     corsOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "Accept"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: !containsWildcard(corsOrigins),
		MaxAge:           12 * time.Hour,
	}
	router.Use(cors.New(corsConfig))

	// Security headers
	router.Use(func(c *gin.Context) {
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Next()
	})

	// Request body size limit (1 MB)
	router.Use(func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, 1<<20)
		c.Next()
	})

	rps := viper.GetInt("ledgerd.rate_limit_rps")
	if rps > 0 {
		router.Use(api.RateLimiter(rps, rps*2))
	}

	router.Use(requestLogger(logger))
	router.Use(api.PrometheusMiddleware())

	router.GET("/healthz", func(c *gin.Context) {
		s := checker.Last()
		code := http.StatusOK
		if !s.Healthy() {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, s)
	})
	router.GET("/metrics", api.MetricsHandler())

	v1 := router.Group("/api/v1")
	api.NewAuthHandler(viper.GetString("ledgerd.admin_secret"), tokens, logger).Register(v1)
	api.NewEventHandler(recorder, entries, logger).Register(v1)
	api.NewCheckpointHandler(builder, cpStore, entries, tokens, logger).Register(v1)
	api.NewVerifyHandler(verifier, tokens, logger).Register(v1)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	// ── Background: seal a checkpoint every interval ─────────────────────────
	cpInterval, _ := time.ParseDuration(viper.GetString("checkpoint.interval"))
	minEntries := viper.GetInt64("checkpoint.min_entries")
	if cpInterval > 0 {
		go func() {
			ticker := time.NewTicker(cpInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
					sealPending(ctx, entries, cpStore, builder, minEntries, logger)
					cancel()
				case <-quit:
					return
				}
			}
		}()
	}

	// ── Background: periodic health probes ───────────────────────────────────
	go checker.Start(quit)

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", httpPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("ledgerd HTTP listening", zap.Int("port", httpPort))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP listen error", zap.Error(err))
		}
	}()

	// ── Graceful shutdown ────────────────────────────────────────────────────
	<-quit
	logger.Info("shutting down ledgerd...")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := httpSrv.Shutdown(ctx); err != nil {
		logger.Error("HTTP shutdown error", zap.Error(err))
	}

	logger.Info("ledgerd stopped")
	return nil
}

// sealPending builds a checkpoint over all entries after the last seal,
// skipping quiet periods with fewer than minEntries new entries.
func sealPending(ctx context.Context, entries ledger.Reader, cpStore checkpoint.Store, builder *checkpoint.Builder, minEntries int64, logger *zap.Logger) {
	from := int64(1)
	latest, err := cpStore.Latest(ctx)
	switch {
	case err == nil:
		from = latest.LastSeq + 1
	case errors.Is(err, ledger.ErrNotFound):
	default:
		logger.Warn("checkpoint ticker: read latest", zap.Error(err))
		return
	}

	tail, _, err := entries.Tail(ctx)
	if err != nil {
		logger.Warn("checkpoint ticker: read tail", zap.Error(err))
		return
	}
	if tail-from+1 < minEntries {
		return
	}

	cp, err := builder.Build(ctx, from, tail)
	if err != nil {
		logger.Error("checkpoint ticker: build failed", zap.Error(err))
		return
	}
	logger.Info("checkpoint sealed",
		zap.String("id", cp.ID.String()),
		zap.Int64("first_seq", cp.FirstSeq),
		zap.Int64("last_seq", cp.LastSeq),
	)
}

// containsWildcard returns true if origins includes "*".
func containsWildcard(origins []string) bool {
	for _, o := range origins {
		if strings.TrimSpace(o) == "*" {
			return true
		}
	}
	return false
}

// requestLogger returns a Gin middleware that logs each request with zap.
func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}
