package main

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mentormesh/mentormesh/libs/config"
	"github.com/mentormesh/mentormesh/libs/db"
	"github.com/mentormesh/mentormesh/libs/httpx"
	"github.com/mentormesh/mentormesh/libs/kafkax"
	otelx "github.com/mentormesh/mentormesh/libs/otel"
	"github.com/mentormesh/mentormesh/libs/runtime"
	"github.com/mentormesh/mentormesh/services/scheduling-service/internal/availability"
	"github.com/mentormesh/mentormesh/services/scheduling-service/internal/booking"
	"github.com/mentormesh/mentormesh/services/scheduling-service/internal/calendar"
	"github.com/mentormesh/mentormesh/services/scheduling-service/internal/handlers"
	"github.com/mentormesh/mentormesh/services/scheduling-service/internal/matcher"
	"github.com/mentormesh/mentormesh/services/scheduling-service/internal/outbox"
	"github.com/mentormesh/mentormesh/services/scheduling-service/internal/payments"
	"github.com/mentormesh/mentormesh/services/scheduling-service/internal/slots"
	"github.com/mentormesh/mentormesh/services/scheduling-service/internal/storage"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	service := config.String("SERVICE_NAME", "scheduling-service")
	port, err := config.Port("PORT", "8085")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		panic(err)
	}

	pool, err := db.Open(ctx, dbURL)
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	outboxRepo := outbox.NewRepository(pool)
	slotRepo := storage.NewSlotRepository(pool)
	callRepo := storage.NewCallRepository(pool, outboxRepo)
	userRepo := storage.NewUserRepository(pool)
	providerEventRepo := storage.NewProviderEventRepository(pool)

	oauthCfg := calendar.OAuthConfig(
		config.String("GOOGLE_CLIENT_ID", ""),
		config.String("GOOGLE_CLIENT_SECRET", ""),
		config.String("GOOGLE_REDIRECT_URL", ""),
	)
	calendarClient := calendar.NewClient(userRepo, oauthCfg, logger)

	window := availability.DayWindow{
		StartMinute: config.Int("WORK_DAY_START_MINUTE", 540),
		EndMinute:   config.Int("WORK_DAY_END_MINUTE", 1080),
	}
	analyzer := availability.NewAnalyzer(calendarClient, window, logger)
	availabilityMatcher := matcher.New(analyzer, logger)

	checker := slots.NewConflictChecker(slotRepo)
	generator := slots.NewGenerator(checker, slotRepo, logger)

	verifier := newVerifier(logger)
	callSvc := booking.NewService(callRepo, userRepo, calendarClient, verifier, logger)

	outboxPublisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   config.String("KAFKA_BROKERS", ""),
		PollEvery: config.Duration("OUTBOX_POLL_INTERVAL", 2*time.Second),
		BatchSize: config.Int("OUTBOX_BATCH_SIZE", 50),
	})
	go outboxPublisher.Run(ctx)

	availabilityHandler := handlers.NewAvailabilityHandler(analyzer, availabilityMatcher, logger)
	slotHandler := handlers.NewSlotHandler(generator, checker, slotRepo, logger)
	callHandler := handlers.NewCallHandler(callSvc, logger)
	webhookHandler := handlers.NewWebhookHandler(callSvc, callRepo, providerEventRepo, logger)

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(config.String("KAFKA_BROKERS", ""))},
	)
	mux.HandleFunc("/api/v1/availability", availabilityHandler.Analyze)
	mux.HandleFunc("/api/v1/availability/batch", availabilityHandler.Batch)
	mux.HandleFunc("/api/v1/slots", slotHandler.Slots)
	mux.HandleFunc("/api/v1/slots/day", slotHandler.CreateDay)
	mux.HandleFunc("/api/v1/slots/bulk", slotHandler.CreateBulk)
	mux.HandleFunc("/api/v1/slots/flexible", slotHandler.CreateFlexible)
	mux.HandleFunc("/api/v1/slots/weekly", slotHandler.CreateWeekly)
	mux.HandleFunc("/api/v1/slots/summary", slotHandler.Summary)
	mux.HandleFunc("/api/v1/slots/update", slotHandler.Update)
	mux.HandleFunc("/api/v1/slots/status", slotHandler.UpdateStatus)
	mux.HandleFunc("/api/v1/calls", callHandler.Calls)
	mux.HandleFunc("/api/v1/calls/verify", callHandler.Verify)
	mux.HandleFunc("/api/v1/calls/cancel", callHandler.Cancel)
	mux.HandleFunc("/api/v1/webhooks/payments", webhookHandler.Payments)

	httpHandler := httpx.Chain(mux,
		httpx.WithCORS(httpx.CORSPolicy{
			AllowedOrigins: parseList(config.String("CORS_ALLOWED_ORIGINS", "")),
			AllowedMethods: parseList(config.String("CORS_ALLOWED_METHODS", "GET,POST,PATCH,DELETE,OPTIONS")),
			AllowedHeaders: parseList(config.String("CORS_ALLOWED_HEADERS", "Authorization,Content-Type,X-Request-Id")),
			MaxAge:         config.Duration("CORS_MAX_AGE", 10*time.Minute),
		}),
		newRateLimit(logger),
		httpx.WithBodyLimit(1<<20),
		httpx.WithTimeout(config.Duration("REQUEST_TIMEOUT", 10*time.Second)),
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
	)
	httpHandler = otelhttp.NewHandler(httpHandler, "scheduling")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
}

// newVerifier selects the payment provider. Razorpay is the default;
// Stripe switches the confirmation path from the client-side verify
// handshake to webhooks.
func newVerifier(logger *slog.Logger) payments.Verifier {
	provider := strings.ToLower(config.String("PAYMENT_PROVIDER", "razorpay"))
	switch provider {
	case "stripe":
		return payments.NewStripe(
			config.String("STRIPE_SECRET_KEY", ""),
			config.String("STRIPE_PUBLISHABLE_KEY", ""),
			config.String("STRIPE_WEBHOOK_SECRET", ""),
			config.Int("STRIPE_WEBHOOK_TOLERANCE_SECONDS", 300),
			logger,
		)
	case "razorpay":
	default:
		logger.Warn("unknown payment provider, falling back to razorpay", "provider", provider)
	}
	return payments.NewRazorpay(
		config.String("RAZORPAY_KEY_ID", ""),
		config.String("RAZORPAY_KEY_SECRET", ""),
		logger,
	)
}

func parseList(raw string) []string {
	items := strings.Split(raw, ",")
	out := make([]string, 0, len(items))
	for _, item := range items {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func newRateLimit(logger *slog.Logger) httpx.Middleware {
	limitPerMinute := config.Int("RATE_LIMIT_PER_MINUTE", 120)
	if addr := strings.TrimSpace(config.String("REDIS_ADDR", "")); addr != "" {
		redisDB := 0
		if v, err := strconv.Atoi(config.String("REDIS_DB", "0")); err == nil && v >= 0 {
			redisDB = v
		}
		rdb := redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: config.String("REDIS_PASSWORD", ""),
			DB:       redisDB,
		})
		rl := httpx.NewRedisRateLimiter(rdb, limitPerMinute, time.Minute, config.String("RATE_LIMIT_PREFIX", "rl"))
		logger.Info("rate limiting enabled (redis)", "per_minute", limitPerMinute, "redis_addr", addr)
		return rl.Middleware(logger, config.Bool("RATE_LIMIT_FAIL_OPEN", true))
	}
	rl := httpx.NewRateLimiter(limitPerMinute, time.Minute)
	logger.Info("rate limiting enabled (in-memory)", "per_minute", limitPerMinute)
	return rl.Middleware()
}
