package router

import (
	"time"

	"github.com/ManuelReschke/SubLedger/app/controllers"
	"github.com/ManuelReschke/SubLedger/internal/pkg/constants"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
)

// WebhookRouter mounts the provider webhook endpoints.
type WebhookRouter struct {
	billing *controllers.BillingController
	limiter limiter.Config
}

func NewWebhookRouter(billing *controllers.BillingController, limit limiter.Config) *WebhookRouter {
	if limit.Max <= 0 {
		limit.Max = 600
	}
	if limit.Expiration <= 0 {
		limit.Expiration = time.Minute
	}
	if limit.KeyGenerator == nil {
		limit.KeyGenerator = controllers.ClientIP
	}
	return &WebhookRouter{billing: billing, limiter: limit}
}

func (r WebhookRouter) InstallRouter(app *fiber.App) {
	hooks := app.Group(constants.WebhooksRoute, limiter.New(r.limiter))
	hooks.Post(constants.StripeWebhookPath, r.billing.HandleStripeWebhook)
}
