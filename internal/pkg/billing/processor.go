package billing

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/ManuelReschke/SubLedger/app/repository"
	"github.com/ManuelReschke/SubLedger/internal/pkg/sideeffects"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"
)

const ledgerRecheckTimeout = 2 * time.Second

// Dispatcher accepts side-effect tasks after a commit. Dispatch must not
// block; false means the task was dropped.
type Dispatcher interface {
	Dispatch(task sideeffects.Task) bool
}

// Recorder receives one observation per processed webhook.
type Recorder interface {
	Record(eventType, outcome string, elapsed time.Duration)
}

// Outcome labels reported to the Recorder.
const (
	OutcomeProcessed = "processed"
	OutcomeDuplicate = "duplicate"
	OutcomeIgnored   = "ignored"
	OutcomeSkipped   = "skipped"
	OutcomeRejected  = "rejected"
	OutcomeFailed    = "failed"
)

// Result describes how a verified event was handled.
type Result struct {
	EventID      string
	ProviderType string
	Outcome      string
	Reason       string
	Duration     time.Duration
}

func (r *Result) Duplicate() bool { return r.Outcome == OutcomeDuplicate }

// Processor is the webhook pipeline: verify, dedupe in the ledger, route,
// mutate the subscription inside one transaction, then hand off side effects.
type Processor struct {
	repos      *repository.Repositories
	verifier   *Verifier
	fetcher    SubscriptionFetcher
	dispatcher Dispatcher
	recorder   Recorder
	cfg        Config
	now        func() time.Time

	// scoped wraps every repository set the pipeline reads or writes through.
	scoped func(*repository.Repositories) *repository.Repositories
}

type Option func(*Processor)

func WithVerifier(v *Verifier) Option {
	return func(p *Processor) { p.verifier = v }
}

func WithFetcher(f SubscriptionFetcher) Option {
	return func(p *Processor) { p.fetcher = f }
}

func WithDispatcher(d Dispatcher) Option {
	return func(p *Processor) { p.dispatcher = d }
}

func WithRecorder(r Recorder) Option {
	return func(p *Processor) { p.recorder = r }
}

func WithClock(now func() time.Time) Option {
	return func(p *Processor) { p.now = now }
}

// NewProcessor builds a processor. Without WithVerifier the secrets from cfg
// are used.
func NewProcessor(repos *repository.Repositories, cfg Config, opts ...Option) *Processor {
	p := &Processor{
		repos:  repos,
		cfg:    cfg.withDefaults(),
		now:    func() time.Time { return time.Now().UTC() },
		scoped: func(r *repository.Repositories) *repository.Repositories { return r },
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.verifier == nil {
		p.verifier = NewVerifier(p.cfg.WebhookSecrets)
	}
	return p
}

// NewProcessorFromDB wires a processor over a GORM handle.
func NewProcessorFromDB(db *gorm.DB, cfg Config, opts ...Option) *Processor {
	return NewProcessor(repository.NewRepositories(db), cfg, opts...)
}

// HandleWebhook authenticates the raw body and processes the event.
func (p *Processor) HandleWebhook(ctx context.Context, payload []byte, signatureHeader string) (*Result, error) {
	start := time.Now()
	ev, err := p.verifier.Verify(payload, signatureHeader)
	if err != nil {
		outcome := OutcomeFailed
		if KindOf(err) == KindAuthentication {
			outcome = OutcomeRejected
		}
		p.record("unverified", outcome, time.Since(start))
		log.Warnf("[Billing] Webhook rejected (%s): %v", KindOf(err), err)
		return nil, err
	}
	return p.Process(ctx, ev)
}

// Process runs a verified event through the ledger and its handler.
func (p *Processor) Process(ctx context.Context, ev *Event) (*Result, error) {
	start := time.Now()
	res := &Result{EventID: ev.ID, ProviderType: ev.ProviderType}
	label := ev.ProviderType

	finish := func(outcome, reason string) *Result {
		res.Outcome = outcome
		res.Reason = reason
		res.Duration = time.Since(start)
		p.record(label, outcome, res.Duration)
		return res
	}

	if !ev.Known {
		log.Infof("[Billing] Ignoring unhandled event type %s (%s)", ev.ProviderType, ev.ID)
		return finish(OutcomeIgnored, "unhandled event type"), nil
	}
	label = ev.Type.String()

	ctx, cancel := context.WithTimeout(ctx, p.cfg.HandlerTimeout)
	defer cancel()

	// Cheap pre-check; the ledger insert inside the transaction is the
	// authoritative gate.
	seen, err := p.scoped(p.repos.WithContext(ctx)).History.Exists(ev.ID)
	if err != nil {
		finish(OutcomeFailed, err.Error())
		return nil, classify("ledger lookup", err)
	}
	if seen {
		log.Infof("[Billing] Duplicate delivery of %s (%s)", ev.ID, label)
		return finish(OutcomeDuplicate, "already processed"), nil
	}

	scope := &eventScope{ctx: ctx, ev: ev}
	if ev.Type == EventCheckoutCompleted {
		if err := p.prepareCheckout(scope); err != nil {
			finish(OutcomeFailed, err.Error())
			return nil, classify("prepare checkout", err)
		}
	}

	var out *outcome
	err = p.repos.Transaction(ctx, func(tx *repository.Repositories) error {
		scope.tx = p.scoped(tx)
		// Re-check under the transaction so a concurrent delivery that
		// committed after the pre-check is reported as a duplicate.
		if dup, derr := scope.tx.History.Exists(ev.ID); derr != nil {
			return derr
		} else if dup {
			return errDuplicateEvent
		}
		o, herr := handlers[ev.Type](p, scope)
		if herr != nil {
			return herr
		}
		out = o
		if o.skipped {
			return errSkipped
		}
		return nil
	})
	switch {
	case errors.Is(err, errSkipped):
		log.Warnf("[Billing] Event %s (%s) not applied: %s", ev.ID, label, out.reason)
		return finish(OutcomeSkipped, out.reason), nil
	case errors.Is(err, errDuplicateEvent):
		log.Infof("[Billing] Duplicate delivery of %s (%s) lost the ledger race", ev.ID, label)
		return finish(OutcomeDuplicate, "already processed"), nil
	case err != nil && p.committedElsewhere(ev.ID):
		log.Warnf("[Billing] Event %s (%s) failed but a concurrent delivery committed it: %v", ev.ID, label, err)
		return finish(OutcomeDuplicate, "already processed"), nil
	case err != nil:
		err = classify("handle "+label, err)
		log.Errorf("[Billing] Event %s (%s) failed: %v", ev.ID, label, err)
		finish(OutcomeFailed, err.Error())
		return nil, err
	}

	p.dispatch(out)
	res = finish(OutcomeProcessed, "")
	log.Infof("[Billing] Event %s (%s) processed in %s", ev.ID, label, res.Duration)
	return res, nil
}

// committedElsewhere reports whether the ledger holds the event after this
// attempt failed, e.g. when the transaction was chosen as a deadlock victim
// while another delivery of the same event committed. The lookup gets its
// own deadline since the handler context may already be done.
func (p *Processor) committedElsewhere(eventID string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), ledgerRecheckTimeout)
	defer cancel()
	seen, err := p.scoped(p.repos.WithContext(ctx)).History.Exists(eventID)
	if err != nil {
		log.Warnf("[Billing] Ledger re-check for %s failed: %v", eventID, err)
		return false
	}
	return seen
}

// prepareCheckout re-fetches the subscription referenced by a checkout
// session before the transaction opens, so no provider call holds a row lock.
func (p *Processor) prepareCheckout(s *eventScope) error {
	if p.fetcher == nil {
		return nil
	}
	var sess checkoutSession
	if err := decodeObject(s.ev, &sess); err != nil {
		return err
	}
	if sess.Subscription == "" {
		return nil
	}

	raw, err := p.fetcher.FetchSubscription(s.ctx, string(sess.Subscription))
	if err != nil {
		if errors.Is(err, ErrSubscriptionNotFound) {
			log.Warnf("[Billing] Subscription %s not found at provider, using session data", sess.Subscription)
			return nil
		}
		return transientError("fetch subscription", err)
	}
	var sub subscriptionObject
	if err := json.Unmarshal(raw, &sub); err != nil {
		return transientError("fetch subscription", err)
	}
	s.fetched = &sub
	return nil
}

func (p *Processor) dispatch(out *outcome) {
	if p.dispatcher == nil || out.task == nil {
		return
	}
	out.task.EnqueuedAt = p.now()
	if !p.dispatcher.Dispatch(*out.task) {
		log.Warnf("[Billing] Side effects for %s dropped", out.task.EventID)
	}
}

func (p *Processor) record(eventType, outcome string, elapsed time.Duration) {
	if p.recorder == nil {
		return
	}
	p.recorder.Record(eventType, outcome, elapsed)
}
