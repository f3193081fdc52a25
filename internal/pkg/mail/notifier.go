package mail

import (
	"bytes"
	"context"
	"fmt"
	htmltemplate "html/template"
	"text/template"
	"time"

	"github.com/gofiber/fiber/v2/log"
)

type message struct {
	subject string
	body    string
}

var messages = map[string]message{
	"subscription_welcome": {"Welcome to {{.plan_id}}",
		`<p>Hi {{.name}},</p><p>your subscription to <b>{{.plan_id}}</b> is active.</p>`},
	"trial_started": {"Your trial has started",
		`<p>Hi {{.name}},</p><p>your trial of <b>{{.plan_id}}</b> runs until {{date .trial_end}}.</p>`},
	"subscription_updated": {"Your subscription changed",
		`<p>Your subscription is now <b>{{.status}}</b> on plan <b>{{.plan_id}}</b>.</p>`},
	"subscription_canceled": {"Your subscription was canceled",
		`<p>Your subscription to <b>{{.plan_id}}</b> has ended.</p>`},
	"payment_receipt": {"Payment receipt",
		`<p>We received your payment of {{money .amount .currency}}. Thank you!</p>`},
	"payment_recovered": {"Payment received, you're all set",
		`<p>Your overdue payment went through and your subscription is active again.</p>`},
	"payment_failed": {"Payment failed",
		`<p>We could not charge your payment method. Please update it to keep your subscription.</p>`},
	"trial_ending": {"Your trial ends soon",
		`<p>Your trial of <b>{{.plan_id}}</b> ends on {{date .trial_end}}.</p>`},
	"invoice_upcoming": {"Upcoming invoice",
		`<p>Your next invoice of {{money .amount_due .currency}} will be charged soon.</p>`},
	"payment_action_required": {"Action required for your payment",
		`<p>Your bank needs you to confirm the payment.{{with .hosted_invoice_url}} <a href="{{.}}">Confirm payment</a>{{end}}</p>`},
	"subscription_paused": {"Your subscription is paused",
		`<p>Your subscription to <b>{{.plan_id}}</b> is paused.</p>`},
	"subscription_resumed": {"Your subscription is back",
		`<p>Your subscription to <b>{{.plan_id}}</b> has resumed.</p>`},
}

var funcs = map[string]interface{}{
	"date": func(v interface{}) string {
		if t, ok := v.(time.Time); ok {
			return t.Format("January 2, 2006")
		}
		return "soon"
	},
	"money": func(amount interface{}, currency interface{}) string {
		var cents int64
		switch a := amount.(type) {
		case int64:
			cents = a
		case int:
			cents = int64(a)
		case float64:
			cents = int64(a)
		}
		return fmt.Sprintf("%.2f %v", float64(cents)/100, currency)
	},
}

// Subjects are plain text header values; only bodies are HTML escaped.
type compiled struct {
	subject *template.Template
	body    *htmltemplate.Template
}

var templates = func() map[string]compiled {
	out := make(map[string]compiled, len(messages))
	for name, m := range messages {
		out[name] = compiled{
			subject: template.Must(template.New(name + ".subject").Funcs(funcs).Parse(m.subject)),
			body:    htmltemplate.Must(htmltemplate.New(name).Funcs(funcs).Parse(m.body)),
		}
	}
	return out
}()

// Notifier renders billing templates and sends them over SMTP.
type Notifier struct {
	cfg  SMTPConfig
	send func(cfg SMTPConfig, to, subject, body string) error
}

func NewNotifier(cfg SMTPConfig) *Notifier {
	return &Notifier{cfg: cfg, send: SendMail}
}

// Send renders template with data and mails it to data["email"].
func (n *Notifier) Send(ctx context.Context, name string, data map[string]interface{}) bool {
	to, _ := data["email"].(string)
	if to == "" {
		log.Warnf("[Mail] No recipient for %s (user %v)", name, data["user_id"])
		return false
	}
	subject, body, err := Render(name, data)
	if err != nil {
		log.Errorf("[Mail] %v", err)
		return false
	}
	if ctx.Err() != nil {
		return false
	}
	return n.send(n.cfg, to, subject, body) == nil
}

// Render returns the subject and HTML body for a billing template.
func Render(name string, data map[string]interface{}) (string, string, error) {
	t, ok := templates[name]
	if !ok {
		return "", "", fmt.Errorf("unknown mail template %q", name)
	}
	var subject, body bytes.Buffer
	if err := t.subject.Execute(&subject, data); err != nil {
		return "", "", fmt.Errorf("render %s subject: %w", name, err)
	}
	if err := t.body.Execute(&body, data); err != nil {
		return "", "", fmt.Errorf("render %s: %w", name, err)
	}
	return subject.String(), body.String(), nil
}

// LogNotifier only logs; used when SMTP is not configured.
type LogNotifier struct{}

func (LogNotifier) Send(_ context.Context, name string, data map[string]interface{}) bool {
	log.Infof("[Mail] Would send %s to user %v (subscription %v)", name, data["user_id"], data["subscription_id"])
	return true
}
