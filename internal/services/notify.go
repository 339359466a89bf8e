package services

import (
	"time"

	"github.com/finquiz/backend/internal/config"
	"github.com/finquiz/backend/pkg/logger"
	"gopkg.in/gomail.v2"
)

// Notification is a fire-and-forget delivery request. Enqueueing never
// fails the caller; delivery retries happen inside the worker.
type Notification struct {
	Recipient string
	Subject   string
	Body      string
}

type Dispatcher struct {
	queue       chan Notification
	dialer      *gomail.Dialer
	from        string
	maxAttempts int
	retryDelays []time.Duration
	done        chan struct{}
	dryRun      bool
}

// NewDispatcher starts the delivery worker. With no SMTP host configured
// the dispatcher runs in dry-run mode and only logs deliveries; tests and
// local development rely on that.
func NewDispatcher(smtp config.SMTPConfig, cfg config.NotifyConfig) *Dispatcher {
	d := &Dispatcher{
		queue:       make(chan Notification, cfg.QueueBufferSize),
		from:        smtp.From,
		maxAttempts: cfg.MaxAttempts,
		retryDelays: cfg.RetryDelays,
		done:        make(chan struct{}),
		dryRun:      smtp.Host == "",
	}

	if !d.dryRun {
		d.dialer = gomail.NewDialer(smtp.Host, smtp.Port, smtp.User, smtp.Password)
	}

	go d.processQueue()
	return d
}

// Enqueue hands the notification to the worker without blocking. A full
// queue drops the notification with a warning.
func (d *Dispatcher) Enqueue(n Notification) {
	select {
	case d.queue <- n:
	default:
		logger.Warn("notify_queue_full", map[string]interface{}{
			"recipient": n.Recipient,
			"subject":   n.Subject,
			"dropped":   true,
		})
	}
}

func (d *Dispatcher) processQueue() {
	for n := range d.queue {
		d.deliver(n)
	}
	close(d.done)
}

func (d *Dispatcher) deliver(n Notification) {
	if d.dryRun {
		logger.Info("notify_dry_run", map[string]interface{}{
			"recipient": n.Recipient,
			"subject":   n.Subject,
		})
		return
	}

	for attempt := 0; attempt < d.maxAttempts; attempt++ {
		if attempt > 0 && len(d.retryDelays) > 0 {
			// Past the end of the schedule the last delay repeats.
			delay := d.retryDelays[len(d.retryDelays)-1]
			if attempt-1 < len(d.retryDelays) {
				delay = d.retryDelays[attempt-1]
			}
			time.Sleep(delay)
		}

		if err := d.send(n); err != nil {
			logger.Warn("notify_delivery_failed", map[string]interface{}{
				"recipient": n.Recipient,
				"subject":   n.Subject,
				"attempt":   attempt + 1,
				"error":     err.Error(),
			})
			continue
		}
		return
	}

	logger.Error("notify_delivery_abandoned", nil, map[string]interface{}{
		"recipient": n.Recipient,
		"subject":   n.Subject,
		"attempts":  d.maxAttempts,
	})
}

func (d *Dispatcher) send(n Notification) error {
	m := gomail.NewMessage()
	m.SetHeader("From", d.from)
	m.SetHeader("To", n.Recipient)
	m.SetHeader("Subject", n.Subject)
	m.SetBody("text/html", n.Body)
	return d.dialer.DialAndSend(m)
}

// Close stops the worker after the queued notifications are handled.
func (d *Dispatcher) Close() {
	close(d.queue)
	<-d.done
}
