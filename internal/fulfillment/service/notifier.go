package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/mailgun/mailgun-go/v4"
)

// ErrQueueFull is returned when the dispatcher has no room for a notification
var ErrQueueFull = errors.New("notification queue full")

// Notification is a message for the admin inbox
type Notification struct {
	Subject string
	Body    string
}

// Notifier delivers admin notifications
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// LogNotifier writes notifications to the log. Used when no mail provider is configured.
type LogNotifier struct {
	logger *log.Logger
}

// NewLogNotifier creates a new log notifier
func NewLogNotifier(logger *log.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(ctx context.Context, msg Notification) error {
	n.logger.Printf("Admin notification: %s\n%s", msg.Subject, msg.Body)
	return nil
}

// MailgunNotifier sends notifications through the Mailgun API
type MailgunNotifier struct {
	mg        *mailgun.MailgunImpl
	sender    string
	recipient string
	timeout   time.Duration
}

// NewMailgunNotifier creates a new Mailgun notifier
func NewMailgunNotifier(domain, apiKey, sender, recipient string) *MailgunNotifier {
	return &MailgunNotifier{
		mg:        mailgun.NewMailgun(domain, apiKey),
		sender:    sender,
		recipient: recipient,
		timeout:   10 * time.Second,
	}
}

func (n *MailgunNotifier) Notify(ctx context.Context, msg Notification) error {
	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	m := n.mg.NewMessage(n.sender, msg.Subject, msg.Body, n.recipient)
	if _, _, err := n.mg.Send(ctx, m); err != nil {
		return fmt.Errorf("mailgun send %q: %w", msg.Subject, err)
	}
	return nil
}

// Dispatcher queues notifications and delivers them from a background
// goroutine so request paths never wait on the mail provider
type Dispatcher struct {
	next   Notifier
	queue  chan Notification
	logger *log.Logger
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewDispatcher creates a dispatcher with a queue of the given size
func NewDispatcher(next Notifier, size int, logger *log.Logger) *Dispatcher {
	return &Dispatcher{
		next:   next,
		queue:  make(chan Notification, size),
		logger: logger,
		stopCh: make(chan struct{}),
	}
}

// Notify enqueues a notification, dropping it when the queue is full
func (d *Dispatcher) Notify(ctx context.Context, n Notification) error {
	select {
	case d.queue <- n:
		return nil
	default:
		d.logger.Printf("Dropping admin notification %q: queue full", n.Subject)
		return ErrQueueFull
	}
}

// Start starts the delivery loop
func (d *Dispatcher) Start() {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.deliverLoop()
	}()
}

// Stop stops the delivery loop after flushing what is already queued
func (d *Dispatcher) Stop() {
	close(d.stopCh)
	d.wg.Wait()
}

func (d *Dispatcher) deliverLoop() {
	for {
		select {
		case n := <-d.queue:
			d.deliver(n)
		case <-d.stopCh:
			for {
				select {
				case n := <-d.queue:
					d.deliver(n)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) deliver(n Notification) {
	if err := d.next.Notify(context.Background(), n); err != nil {
		d.logger.Printf("Error sending admin notification %q: %v", n.Subject, err)
	}
}
