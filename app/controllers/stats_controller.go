package controllers

import (
	"context"
	"sort"

	"github.com/ManuelReschke/SubLedger/internal/pkg/metrics/counter"
	"github.com/ManuelReschke/SubLedger/internal/pkg/sideeffects"
	"github.com/gofiber/fiber/v2"
)

// StatsController exposes webhook and side-effect counters.
type StatsController struct {
	counter     *counter.WebhookCounter
	sideEffects *sideeffects.Dispatcher
}

func NewStatsController(c *counter.WebhookCounter, d *sideeffects.Dispatcher) *StatsController {
	return &StatsController{counter: c, sideEffects: d}
}

func (sc *StatsController) HandleWebhookStats(c *fiber.Ctx) error {
	entries, err := sc.counter.Snapshot(context.Background())
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].EventType != entries[j].EventType {
			return entries[i].EventType < entries[j].EventType
		}
		return entries[i].Outcome < entries[j].Outcome
	})

	body := fiber.Map{"webhooks": entries}
	if sc.sideEffects != nil {
		body["side_effects"] = sc.sideEffects.Stats()
	}
	return c.JSON(body)
}
