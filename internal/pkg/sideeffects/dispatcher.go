package sideeffects

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ManuelReschke/SubLedger/app/repository"
	"github.com/gofiber/fiber/v2/log"
)

const (
	DefaultWorkers     = 3
	DefaultBuffer      = 256
	DefaultTaskTimeout = 15 * time.Second
)

// Stats are cumulative dispatcher counters.
type Stats struct {
	Dispatched uint64 `json:"dispatched"`
	Dropped    uint64 `json:"dropped"`
	Completed  uint64 `json:"completed"`
	Failed     uint64 `json:"failed"`
	Pending    int    `json:"pending"`
}

// Dispatcher runs notification and analytics calls for committed events on a
// small worker pool. Nothing it does can change billing state: failures and
// panics are logged and counted, never returned.
type Dispatcher struct {
	repos     *repository.Repositories
	notifier  Notifier
	analytics AnalyticsSink
	timeout   time.Duration

	workers int
	tasks   chan Task
	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.RWMutex
	running bool

	dispatched atomic.Uint64
	dropped    atomic.Uint64
	completed  atomic.Uint64
	failed     atomic.Uint64
}

// NewDispatcher creates a dispatcher. repos may be nil, in which case tasks
// are delivered with the data captured at commit time only.
func NewDispatcher(repos *repository.Repositories, notifier Notifier, analytics AnalyticsSink, workers, buffer int) *Dispatcher {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Dispatcher{
		repos:     repos,
		notifier:  notifier,
		analytics: analytics,
		timeout:   DefaultTaskTimeout,
		workers:   workers,
		tasks:     make(chan Task, buffer),
		stopCh:    make(chan struct{}),
	}
}

// SetTaskTimeout bounds each notifier and analytics call.
func (d *Dispatcher) SetTaskTimeout(timeout time.Duration) {
	if timeout > 0 {
		d.timeout = timeout
	}
}

// Start starts the workers
func (d *Dispatcher) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.running {
		return
	}
	d.running = true
	log.Infof("[SideEffects] Starting %d workers", d.workers)
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.worker(i)
	}
}

// Stop stops accepting tasks, lets the workers drain the buffer and waits
// for them.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	log.Info("[SideEffects] Stopping workers...")
	d.running = false
	close(d.stopCh)
	d.mu.Unlock()

	d.wg.Wait()
	log.Info("[SideEffects] All workers stopped")
}

// Dispatch queues a task without blocking. It returns false when the
// dispatcher is stopped or the buffer is full.
func (d *Dispatcher) Dispatch(task Task) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if !d.running {
		d.dropped.Add(1)
		return false
	}
	select {
	case d.tasks <- task:
		d.dispatched.Add(1)
		return true
	default:
		d.dropped.Add(1)
		log.Warnf("[SideEffects] Buffer full, dropping task %s for event %s", task.ID, task.EventID)
		return false
	}
}

// Stats returns a snapshot of the counters.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Dispatched: d.dispatched.Load(),
		Dropped:    d.dropped.Load(),
		Completed:  d.completed.Load(),
		Failed:     d.failed.Load(),
		Pending:    len(d.tasks),
	}
}

func (d *Dispatcher) worker(id int) {
	defer d.wg.Done()
	for {
		select {
		case task := <-d.tasks:
			d.run(task)
		case <-d.stopCh:
			for {
				select {
				case task := <-d.tasks:
					d.run(task)
				default:
					log.Debugf("[SideEffects] Worker %d stopping", id)
					return
				}
			}
		}
	}
}

func (d *Dispatcher) run(task Task) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	data := d.templateData(ctx, task)
	ok := true
	if task.Template != "" && d.notifier != nil {
		ok = d.guard(task, "notify "+task.Template, func() bool {
			return d.notifier.Send(ctx, task.Template, data)
		})
		if !ok {
			log.Warnf("[SideEffects] Notification %s for event %s not delivered", task.Template, task.EventID)
		}
	}
	if task.AnalyticsEvent != "" && d.analytics != nil {
		tracked := d.guard(task, "track "+task.AnalyticsEvent, func() bool {
			d.analytics.TrackEvent(ctx, task.AnalyticsEvent, task.UserID, task.CompanyID, task.Metadata, task.OccurredAt)
			return true
		})
		ok = ok && tracked
	}

	if ok {
		d.completed.Add(1)
	} else {
		d.failed.Add(1)
	}
}

// guard runs fn and turns a panic into a logged failure.
func (d *Dispatcher) guard(task Task, what string, fn func() bool) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("[SideEffects] %s for event %s panicked: %v", what, task.EventID, r)
			ok = false
		}
	}()
	return fn()
}

// templateData re-reads the committed subscription and user so the message
// reflects the state the transaction wrote.
func (d *Dispatcher) templateData(ctx context.Context, task Task) map[string]interface{} {
	data := make(map[string]interface{}, len(task.Metadata)+12)
	for k, v := range task.Metadata {
		data[k] = v
	}
	data["event_id"] = task.EventID
	data["event_type"] = task.EventType
	data["subscription_id"] = task.SubscriptionID
	data["user_id"] = task.UserID
	data["company_id"] = task.CompanyID

	if d.repos == nil {
		return data
	}
	repos := d.repos.WithContext(ctx)
	if task.SubscriptionID != "" {
		if sub, err := repos.Subscription.GetByID(task.SubscriptionID); err == nil {
			data["status"] = sub.Status
			data["plan_id"] = sub.PlanID
			data["amount"] = sub.Amount
			data["currency"] = sub.Currency
			data["billing_period"] = sub.BillingPeriod
			data["cancel_at_period_end"] = sub.CancelAtPeriodEnd
			if sub.CurrentPeriodEnd != nil {
				data["current_period_end"] = *sub.CurrentPeriodEnd
			}
			if sub.TrialEnd != nil {
				data["trial_end"] = *sub.TrialEnd
			}
		} else {
			log.Warnf("[SideEffects] Could not load subscription %s: %v", task.SubscriptionID, err)
		}
	}
	if task.UserID != "" {
		if u, err := repos.User.GetByID(task.UserID); err == nil {
			data["email"] = u.Email
			data["name"] = u.Name
		}
	}
	return data
}
