package router

import (
	"github.com/ManuelReschke/SubLedger/app/controllers"
	"github.com/ManuelReschke/SubLedger/internal/pkg/constants"
	"github.com/ManuelReschke/SubLedger/internal/pkg/middleware"
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

// OpsRouter mounts health and statistics endpoints.
type OpsRouter struct {
	db     *gorm.DB
	stats  *controllers.StatsController
	opsKey string
}

func NewOpsRouter(db *gorm.DB, stats *controllers.StatsController, opsKey string) *OpsRouter {
	return &OpsRouter{db: db, stats: stats, opsKey: opsKey}
}

func (r OpsRouter) InstallRouter(app *fiber.App) {
	app.Get(constants.HealthRoute, controllers.HandleHealth(r.db))
	if r.stats != nil {
		app.Get(constants.WebhookStatsRoute, middleware.OpsKeyMiddleware(r.opsKey), r.stats.HandleWebhookStats)
	}
}
