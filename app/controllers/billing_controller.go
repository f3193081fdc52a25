package controllers

import (
	"context"
	"errors"
	"time"

	"github.com/ManuelReschke/SubLedger/internal/pkg/billing"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
)

// WebhookProcessor is the part of billing.Processor the controller needs.
type WebhookProcessor interface {
	HandleWebhook(ctx context.Context, payload []byte, signatureHeader string) (*billing.Result, error)
}

// BillingController serves the provider webhook endpoint.
type BillingController struct {
	processor WebhookProcessor
	timeout   time.Duration
}

func NewBillingController(processor WebhookProcessor, timeout time.Duration) *BillingController {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &BillingController{processor: processor, timeout: timeout}
}

// HandleStripeWebhook verifies and processes one Stripe delivery. The status
// code tells Stripe whether to redeliver.
func (bc *BillingController) HandleStripeWebhook(c *fiber.Ctx) error {
	// The body buffer is reused by fasthttp after the handler returns.
	payload := append([]byte(nil), c.BodyRaw()...)
	signature := c.Get("Stripe-Signature")

	ctx, cancel := context.WithTimeout(context.Background(), bc.timeout)
	defer cancel()

	res, err := bc.processor.HandleWebhook(ctx, payload, signature)
	if err != nil {
		return bc.writeError(c, err)
	}

	body := fiber.Map{
		"received":           true,
		"processed":          true,
		"event_id":           res.EventID,
		"outcome":            res.Outcome,
		"processing_time_ms": res.Duration.Milliseconds(),
	}
	// A redelivery gets the same acknowledgement as the first delivery.
	if res.Duplicate() {
		body["duplicate"] = true
	}
	return c.Status(fiber.StatusOK).JSON(body)
}

func (bc *BillingController) writeError(c *fiber.Ctx, err error) error {
	switch billing.KindOf(err) {
	case billing.KindAuthentication:
		log.Warnf("[Webhook] Rejected delivery from %s: %v", ClientIP(c), err)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid signature"})
	case billing.KindConfiguration:
		log.Errorf("[Webhook] Configuration error: %v", err)
		msg := "Webhook processing misconfigured"
		if errors.Is(err, billing.ErrSecretNotConfigured) {
			msg = "Webhook secret not configured"
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": msg, "should_retry": false})
	case billing.KindBusiness:
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"error": err.Error(), "should_retry": false})
	default:
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error(), "should_retry": true})
	}
}
