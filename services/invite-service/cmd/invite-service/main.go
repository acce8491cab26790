package main

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/mentormesh/mentormesh/libs/config"
	"github.com/mentormesh/mentormesh/libs/db"
	"github.com/mentormesh/mentormesh/libs/httpx"
	"github.com/mentormesh/mentormesh/libs/kafkax"
	otelx "github.com/mentormesh/mentormesh/libs/otel"
	"github.com/mentormesh/mentormesh/libs/runtime"
	"github.com/mentormesh/mentormesh/services/invite-service/internal/consumer"
	"github.com/mentormesh/mentormesh/services/invite-service/internal/dlq"
	"github.com/mentormesh/mentormesh/services/invite-service/internal/email"
	"github.com/mentormesh/mentormesh/services/invite-service/internal/inbox"
	"github.com/mentormesh/mentormesh/services/invite-service/internal/invites"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// callEvent mirrors the payload published by the scheduling service.
type callEvent struct {
	CallID           string    `json:"call_id"`
	RequesterEmail   string    `json:"requester_email"`
	CounterpartID    string    `json:"counterpart_id"`
	CounterpartEmail string    `json:"counterpart_email"`
	StartTime        time.Time `json:"start_time"`
	EndTime          time.Time `json:"end_time"`
	Title            string    `json:"title"`
	Description      string    `json:"description"`
}

func main() {
	service := config.String("SERVICE_NAME", "invite-service")
	port, err := config.Port("PORT", "8086")
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

	inboxRepo := inbox.NewRepository(pool)
	jobRepo := invites.NewRepository(pool)

	oauthCfg := invites.OAuthConfig(
		config.String("GOOGLE_CLIENT_ID", ""),
		config.String("GOOGLE_CLIENT_SECRET", ""),
		config.String("GOOGLE_REDIRECT_URL", ""),
	)
	calendar := invites.NewCalendar(invites.NewCredentialsStore(pool), oauthCfg, logger)

	sender := email.NewSMTPSender(
		config.String("SMTP_HOST", "localhost"),
		config.String("SMTP_PORT", "1025"),
		config.String("SMTP_FROM", ""),
	)

	brokers := config.String("KAFKA_BROKERS", "")
	dlqProducer := dlq.NewProducer(brokers, logger)
	defer dlqProducer.Close()

	worker := invites.NewWorker(pool, jobRepo, calendar, sender, dlqProducer, logger, invites.WorkerConfig{
		Interval:  config.Duration("INVITE_POLL_INTERVAL", 2*time.Second),
		BatchSize: config.Int("INVITE_BATCH_SIZE", 20),
		Backoff:   config.Duration("INVITE_RETRY_BACKOFF", time.Minute),
	})
	go worker.Run(ctx)

	groupID := config.String("KAFKA_GROUP_ID", "invite-service")
	startConsumer := func(topic string, kind string) {
		if topic == "" {
			return
		}
		eventConsumer := consumer.New(logger, inboxRepo, consumer.Config{
			Brokers: brokers,
			GroupID: groupID,
			Topic:   topic,
		}, func(ctx context.Context, msg kafka.Message) error {
			var evt callEvent
			if err := json.Unmarshal(msg.Value, &evt); err != nil {
				logger.Error("invalid call event payload", "topic", msg.Topic, "err", err)
				return nil
			}
			return jobRepo.Insert(ctx, invites.Job{
				CallID:           evt.CallID,
				Kind:             kind,
				RequesterEmail:   evt.RequesterEmail,
				CounterpartID:    evt.CounterpartID,
				CounterpartEmail: evt.CounterpartEmail,
				Title:            evt.Title,
				Description:      evt.Description,
				StartTime:        evt.StartTime,
				EndTime:          evt.EndTime,
			})
		})
		go eventConsumer.Run(ctx)
	}

	startConsumer(config.String("KAFKA_CONFIRMED_TOPIC", "scheduling.call.confirmed.v1"), invites.KindInvite)
	startConsumer(config.String("KAFKA_CANCELLED_TOPIC", "scheduling.call.cancelled.v1"), invites.KindCancel)

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)},
	)
	httpHandler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
	)
	httpHandler = otelhttp.NewHandler(httpHandler, "invite")
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
