package constants

// Static route constants
const (
	WebhooksRoute     = "/webhooks"
	StripeWebhookPath = "/stripe"
	// Full path of the Stripe endpoint, as configured in the provider dashboard
	StripeWebhookRoute = WebhooksRoute + StripeWebhookPath

	HealthRoute       = "/health"
	WebhookStatsRoute = "/stats/webhooks"
	MetricsRoute      = "/metrics"
	DocsRoute         = "/docs/api/"
)
