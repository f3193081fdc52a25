package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"

	"github.com/ManuelReschke/SubLedger/app/controllers"
	"github.com/ManuelReschke/SubLedger/app/repository"
	"github.com/ManuelReschke/SubLedger/internal/pkg/analytics"
	"github.com/ManuelReschke/SubLedger/internal/pkg/billing"
	"github.com/ManuelReschke/SubLedger/internal/pkg/cache"
	"github.com/ManuelReschke/SubLedger/internal/pkg/constants"
	"github.com/ManuelReschke/SubLedger/internal/pkg/database"
	"github.com/ManuelReschke/SubLedger/internal/pkg/env"
	"github.com/ManuelReschke/SubLedger/internal/pkg/mail"
	"github.com/ManuelReschke/SubLedger/internal/pkg/metrics/counter"
	"github.com/ManuelReschke/SubLedger/internal/pkg/router"
	"github.com/ManuelReschke/SubLedger/internal/pkg/sideeffects"
)

const webhookBodyLimit = 1 << 20 // 1 MiB

func main() {
	app, dispatcher := NewApplication()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		log.Info("[Server] Shutting down...")
		if err := app.ShutdownWithTimeout(20 * time.Second); err != nil {
			log.Errorf("[Server] Shutdown error: %v", err)
		}
	}()

	addr := fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000"))
	if err := app.Listen(addr); err != nil {
		log.Fatal(err)
	}
	dispatcher.Stop()
}

func NewApplication() (*fiber.App, *sideeffects.Dispatcher) {
	env.SetupEnvFile()
	database.SetupDatabase()
	cache.SetupCache()

	repository.InitializeFactory(database.GetDB())
	repos := repository.GetGlobalRepositories()
	cfg := billing.LoadConfig()

	var redisClient *redis.Client
	if cache.Enabled() {
		redisClient = cache.GetClient()
	}

	dispatcher := sideeffects.NewDispatcher(repos, newNotifier(), newAnalyticsSink(redisClient), cfg.SideEffectWorkers, cfg.SideEffectBuffer)
	dispatcher.Start()

	webhookCounter := counter.NewWebhookCounter(redisClient)
	opts := []billing.Option{
		billing.WithDispatcher(dispatcher),
		billing.WithRecorder(webhookCounter),
	}
	if cfg.StripeAPIKey != "" {
		opts = append(opts, billing.WithFetcher(billing.NewStripeFetcher(cfg.StripeAPIKey)))
	} else {
		log.Warn("[Billing] STRIPE_API_KEY not set, checkout events use session data only")
	}
	processor := billing.NewProcessor(repos, cfg, opts...)
	if len(cfg.WebhookSecrets) == 0 {
		log.Error("[Billing] STRIPE_WEBHOOK_SECRET not set, every webhook will be refused")
	}

	// Define possible base paths
	basePaths := []string{
		"./",        // Current directory
		"../../",    // From cmd/subledger to project root
		"../../../", // Fallback
	}
	basePath := ""
	for _, path := range basePaths {
		if _, err := os.Stat(path + "public/docs/v1/openapi.yml"); err == nil {
			basePath = path
			break
		}
	}

	app := fiber.New(fiber.Config{
		AppName:   "SubLedger",
		BodyLimit: webhookBodyLimit,
	})

	// recovery and logging
	app.Use(recover.New(), logger.New())

	// fiber metrics
	if user := env.GetEnv("METRICS_USER", ""); user != "" {
		app.Get(constants.MetricsRoute, basicauth.New(basicauth.Config{
			Users: map[string]string{user: env.GetEnv("METRICS_PASSWORD", "")},
		}), monitor.New())
	} else {
		app.Get(constants.MetricsRoute, monitor.New())
	}

	// SWAGGER / OPENAPI
	if basePath != "" {
		app.Use(swagger.New(swagger.Config{
			BasePath: constants.DocsRoute,
			FilePath: basePath + "public/docs/v1/openapi.yml",
			Path:     "v1",
		}))
	} else {
		log.Warn("[Server] public/docs/v1/openapi.yml not found, API docs disabled")
	}

	// ROUTER
	router.InstallRouter(app,
		router.NewWebhookRouter(controllers.NewBillingController(processor, cfg.HandlerTimeout+5*time.Second), router.LimiterConfigFromEnv()),
		router.NewOpsRouter(database.GetDB(), controllers.NewStatsController(webhookCounter, dispatcher), env.GetEnv("OPS_API_KEY", "")),
	)

	return app, dispatcher
}

func newNotifier() sideeffects.Notifier {
	smtpCfg := mail.LoadSMTPConfig()
	if !smtpCfg.Configured() {
		log.Warn("[Mail] SMTP_HOST not set, notifications are logged only")
		return mail.LogNotifier{}
	}
	return mail.NewNotifier(smtpCfg)
}

func newAnalyticsSink(client *redis.Client) sideeffects.AnalyticsSink {
	if client == nil {
		return analytics.LogSink{}
	}
	return analytics.NewStreamSink(client, env.GetEnv("ANALYTICS_STREAM", analytics.DefaultStream), int64(env.GetEnvInt("ANALYTICS_STREAM_MAXLEN", analytics.DefaultMaxLen)))
}
