package main

import (
	"context"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/pawtrack/vetbook/libs/config"
	"github.com/pawtrack/vetbook/libs/db"
	"github.com/pawtrack/vetbook/libs/httpx"
	"github.com/pawtrack/vetbook/libs/kafkax"
	otelx "github.com/pawtrack/vetbook/libs/otel"
	"github.com/pawtrack/vetbook/libs/runtime"
	"github.com/pawtrack/vetbook/services/booking-service/internal/availability"
	"github.com/pawtrack/vetbook/services/booking-service/internal/consumer"
	"github.com/pawtrack/vetbook/services/booking-service/internal/handlers"
	"github.com/pawtrack/vetbook/services/booking-service/internal/inbox"
	"github.com/pawtrack/vetbook/services/booking-service/internal/outbox"
	"github.com/pawtrack/vetbook/services/booking-service/internal/publicindex"
	"github.com/pawtrack/vetbook/services/booking-service/internal/storage"
)

func main() {
	service := config.String("SERVICE_NAME", "booking-service")
	port, err := config.Port("PORT", "8083")
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

	bookTimeout, err := config.Duration("BOOK_TIMEOUT", 5*time.Second)
	if err != nil {
		panic(err)
	}
	maxConns, err := config.IntAtMost("DB_MAX_CONNS", 10, math.MaxInt32)
	if err != nil {
		panic(err)
	}
	limitPerMinute, err := config.Int("RATE_LIMIT_PER_MINUTE", 60)
	if err != nil {
		panic(err)
	}
	failOpen := config.Bool("RATE_LIMIT_FAIL_OPEN", true)
	brokers := config.String("KAFKA_BROKERS", "")
	outboxRetain, err := config.Duration("OUTBOX_RETAIN", 7*24*time.Hour)
	if err != nil {
		panic(err)
	}

	var (
		directory availability.Directory
		store     availability.Store
		inboxRepo inbox.Recorder
		checks    []runtime.ReadyCheck
	)
	if dbURL := config.String("DATABASE_URL", ""); dbURL != "" {
		pool, err := db.Open(ctx, dbURL, db.Options{
			MaxConns:         int32(maxConns),
			ApplicationName:  service,
			StatementTimeout: 2 * bookTimeout,
		})
		if err != nil {
			logger.Error("db connection failed", "err", err)
			panic(err)
		}
		defer pool.Close()

		outboxRepo := outbox.NewRepository()
		directory = storage.NewPractitionerDirectory(pool)
		store = storage.NewAppointmentRepository(pool, outboxRepo)
		inboxRepo = inbox.NewRepository(pool)
		checks = append(checks, runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)})

		if brokers != "" {
			outboxPublisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
				Brokers:   brokers,
				PollEvery: 2 * time.Second,
				BatchSize: 50,
				Retain:    outboxRetain,
			})
			go outboxPublisher.Run(ctx)
		}
	} else {
		logger.Warn("DATABASE_URL not set; using in-memory store")
		directory = storage.NewMemoryDirectory()
		store = storage.NewMemoryStore()
		inboxRepo = inbox.NewMemory()
	}

	var (
		index     availability.ScheduleIndex
		public    handlers.PublicSchedule
		rateLimit httpx.Middleware
	)
	if addr := strings.TrimSpace(config.String("REDIS_ADDR", "")); addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: config.String("REDIS_PASSWORD", ""),
		})
		defer func() { _ = rdb.Close() }()

		publicIndex := publicindex.New(rdb, 24*time.Hour)
		index, public = publicIndex, publicIndex
		checks = append(checks, runtime.ReadyCheck{Name: "redis", Check: publicindex.ReadyCheck(rdb)})

		rateLimit = httpx.WithRateLimit(httpx.NewRedisLimiter(rdb, limitPerMinute, time.Minute, "vetbook:rl"), logger, failOpen)
		logger.Info("rate limiting enabled (redis)", "per_minute", limitPerMinute, "redis_addr", addr)
	} else {
		rateLimit = httpx.WithRateLimit(httpx.NewMemoryLimiter(limitPerMinute, time.Minute), logger, failOpen)
		logger.Info("rate limiting enabled (in-memory)", "per_minute", limitPerMinute)
	}

	engine := availability.NewEngine(directory, store, index, logger, availability.Config{
		CommitTimeout: bookTimeout,
	})

	if brokers != "" {
		checks = append(checks, runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)})
		scheduleConsumer := consumer.New(logger, inboxRepo, consumer.Config{
			Brokers: brokers,
			GroupID: config.String("KAFKA_GROUP_ID", "booking-service"),
			Topic:   config.String("KAFKA_SCHEDULE_TOPIC", "practitioner.schedule.updated.v1"),
		}, consumer.ScheduleUpdates(engine, logger))
		go scheduleConsumer.Run(ctx)
	}

	mux := runtime.NewProbeMux(checks...)
	handlers.NewBookingHandler(engine, public, logger).Register(mux)

	httpHandler := httpx.Chain(mux,
		httpx.WithCORS(httpx.DefaultCORSPolicy(config.List("CORS_ALLOWED_ORIGINS"))),
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithRecover(logger),
		httpx.WithBodyLimit(1<<20),
		httpx.WithTimeout(bookTimeout+5*time.Second),
		rateLimit,
	)
	httpHandler = otelhttp.NewHandler(httpHandler, "booking")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	serve(ctx, srv, logger)
}

func serve(ctx context.Context, srv *http.Server, logger *slog.Logger) {
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
