package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/hotaru-sns/hotaru/core"
	"github.com/hotaru-sns/hotaru/x/account"
	"github.com/hotaru-sns/hotaru/x/actor"
	"github.com/hotaru-sns/hotaru/x/deliver"
	"github.com/hotaru-sns/hotaru/x/fetch"
	"github.com/hotaru-sns/hotaru/x/gateway"
	"github.com/hotaru-sns/hotaru/x/kernel"
	"github.com/hotaru-sns/hotaru/x/queue"
	"github.com/hotaru-sns/hotaru/x/report"
	"github.com/hotaru-sns/hotaru/x/resolver"
	"github.com/hotaru-sns/hotaru/x/storage"
	"github.com/hotaru-sns/hotaru/x/stream"
	"github.com/hotaru-sns/hotaru/x/util"

	"github.com/bradfitz/gomemcache/memcache"

	"github.com/redis/go-redis/extra/redisotel/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.7.0"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/plugin/opentelemetry/tracing"
)

type CustomHandler struct {
	slog.Handler
}

func (h *CustomHandler) Handle(ctx context.Context, r slog.Record) error {

	r.AddAttrs(slog.String("type", "app"))

	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		r.AddAttrs(slog.String("traceID", span.SpanContext().TraceID().String()))
		r.AddAttrs(slog.String("spanID", span.SpanContext().SpanID().String()))
	}

	return h.Handler.Handle(ctx, r)
}

var version = "unknown"

func main() {

	handler := &CustomHandler{Handler: slog.NewJSONHandler(os.Stdout, nil)}
	slogger := slog.New(handler)
	slog.SetDefault(slogger)

	slog.Info(fmt.Sprintf("Hotaru %s starting...", version))

	e := echo.New()
	e.HidePort = true
	e.HideBanner = true

	config := util.Config{}
	configPath := os.Getenv("HOTARU_CONFIG")
	if configPath == "" {
		configPath = "/etc/hotaru/config.yaml"
	}

	err := config.Load(configPath)
	if err != nil {
		slog.Error("Failed to load config", slog.String("error", err.Error()))
	}

	slog.Info(fmt.Sprintf("Config loaded! I am: %s", config.Federation.Host))

	if config.Server.EnableTrace {
		cleanup, err := setupTraceProvider(config.Server.TraceEndpoint, config.Federation.Host+"/hotaru", version)
		if err != nil {
			panic(err)
		}
		defer cleanup()

		skipper := otelecho.WithSkipper(
			func(c echo.Context) bool {
				return c.Path() == "/metrics" || c.Path() == "/health"
			},
		)
		e.Use(otelecho.Middleware("api", skipper))
	}

	e.Use(echoprometheus.NewMiddlewareWithConfig(echoprometheus.MiddlewareConfig{
		Namespace: "hotaru",
		Skipper: func(c echo.Context) bool {
			return c.Path() == "/metrics" || c.Path() == "/health"
		},
	}))

	e.Use(middleware.Recover())

	gormLogger := logger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		logger.Config{
			SlowThreshold:             300 * time.Millisecond,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  true,
		},
	)

	db, err := gorm.Open(postgres.Open(config.Server.Dsn), &gorm.Config{
		Logger: gormLogger,
	})
	if err != nil {
		panic("failed to connect database")
	}
	sqlDB, err := db.DB() // for pinging
	if err != nil {
		panic("failed to connect database")
	}
	defer sqlDB.Close()

	err = db.Use(tracing.NewPlugin(
		tracing.WithDBName("postgres"),
	))
	if err != nil {
		panic("failed to setup tracing plugin")
	}

	slog.Info("start migrate")
	db.AutoMigrate(
		&core.Actor{},
		&core.Follow{},
		&core.Blocking{},
		&core.Muting{},
		&core.UserList{},
		&core.UserListMember{},
		&core.DriveFile{},
		&core.Note{},
		&core.Reaction{},
		&core.Emoji{},
		&core.AbuseReport{},
		&core.Job{},
	)

	rdb := redis.NewClient(&redis.Options{
		Addr:     config.Server.RedisAddr,
		Password: "",
		DB:       0,
	})
	err = redisotel.InstrumentTracing(
		rdb,
		redisotel.WithAttributes(
			attribute.KeyValue{
				Key:   "db.name",
				Value: attribute.StringValue("redis"),
			},
		),
	)
	if err != nil {
		panic("failed to setup tracing plugin")
	}

	mc := memcache.New(config.Server.MemcachedAddr)
	defer mc.Close()

	fetchClient, err := fetch.NewClient(config)
	if err != nil {
		panic("failed to setup fetch client: " + err.Error())
	}

	publisher := stream.NewService(rdb)
	mailer := util.NewSmtpMailer(config.Mail)

	actorService := actor.NewService(actor.NewRepository(db, mc), fetchClient)
	resolverService := resolver.NewService(fetchClient)

	queueService := queue.NewService(queue.NewRepository(db), rdb, config)

	deliverService := deliver.NewService(queueService, actorService, deliver.NewClient(fetchClient))

	reportService := report.NewService(report.NewRepository(db), publisher)
	reportNotifier := report.NewNotifier(rdb, actorService, publisher, mailer, config)

	kernelService := kernel.NewService(
		kernel.NewRepository(db),
		actorService,
		resolverService,
		deliverService,
		reportService,
		publisher,
		config,
	)

	accountService := account.NewService(account.NewRepository(db), actorService, deliverService, queueService, config)
	storageService := storage.NewService(storage.NewRepository(db))

	queueService.Register(queue.QueueInbox, kernel.JobTypeProcess, kernelService.ProcessInbox)
	queueService.Register(queue.QueueDeliver, deliver.JobTypeDeliver, deliverService.ProcessJob)
	accountService.Register(queueService)
	storageService.Register(queueService)

	gatewayHandler := gateway.NewHandler(gateway.NewRepository(db), actorService, queueService, config)

	e.POST("/inbox", gatewayHandler.Inbox)
	e.POST("/users/:id/inbox", gatewayHandler.Inbox)

	e.GET("/users/:id", gatewayHandler.User)
	e.GET("/@:username", gatewayHandler.UserByUsername)
	e.GET("/users/:id/followers", gatewayHandler.Followers)
	e.GET("/users/:id/following", gatewayHandler.Following)
	e.GET("/users/:id/outbox", gatewayHandler.Outbox)
	e.GET("/users/:id/collections/featured", gatewayHandler.Featured)
	e.GET("/users/:id/publickey", gatewayHandler.PublicKey)

	e.GET("/notes/:id", gatewayHandler.Note)
	e.GET("/notes/:id/activity", gatewayHandler.NoteActivity)
	e.GET("/emojis/:name", gatewayHandler.Emoji)
	e.GET("/likes/:id", gatewayHandler.Like)

	e.GET("/.well-known/webfinger", gatewayHandler.WebFinger)
	e.GET("/.well-known/nodeinfo", gatewayHandler.NodeInfoWellKnown)
	e.GET("/nodeinfo/2.0", gatewayHandler.NodeInfo)

	e.GET("/health", func(c echo.Context) (err error) {
		ctx := c.Request().Context()

		err = sqlDB.Ping()
		if err != nil {
			return c.String(http.StatusInternalServerError, "db error")
		}

		err = rdb.Ping(ctx).Err()
		if err != nil {
			return c.String(http.StatusInternalServerError, "redis error")
		}

		return c.String(http.StatusOK, "ok")
	})

	e.GET("/metrics", echoprometheus.NewHandler())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	queueService.Start(ctx)
	reportNotifier.Start(ctx)

	go func() {
		if err := e.Start(":8000"); err != nil && err != http.ErrServerClosed {
			slog.Error("server stopped", slog.String("error", err.Error()))
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	queueService.Shutdown(shutdownCtx)
	if err := e.Shutdown(shutdownCtx); err != nil {
		slog.Error("failed to shutdown server", slog.String("error", err.Error()))
	}
}

func setupTraceProvider(endpoint string, serviceName string, serviceVersion string) (func(), error) {

	exporter, err := otlptracehttp.New(
		context.Background(),
		otlptracehttp.WithEndpoint(endpoint),
		otlptracehttp.WithInsecure(),
	)

	if err != nil {
		return nil, err
	}

	resource := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceNameKey.String(serviceName),
		semconv.ServiceVersionKey.String(serviceVersion),
	)

	tracerProvider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(resource),
	)
	otel.SetTracerProvider(tracerProvider)

	propagator := propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	)
	otel.SetTextMapPropagator(propagator)

	cleanup := func() {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		if err := tracerProvider.Shutdown(ctx); err != nil {
			slog.Error(fmt.Sprintf("Failed to shutdown tracer provider: %v", err))
		}
	}
	return cleanup, nil
}
