package notification

import (
	"context"
	"log"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"

	"doorlamp-backend/internal/model"
	"doorlamp-backend/internal/store"
)

// Sender defines the interface for delivering a single web push message.
type Sender interface {
	Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error)
}

// WebPushSender is the real Sender backed by the webpush library.
type WebPushSender struct{}

// Send sends a notification using the webpush library.
func (s *WebPushSender) Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
	return webpush.SendNotification(payload, sub, options)
}

// Job is one delivery order: a payload for a set of users.
type Job struct {
	UserIDs []int64
	Payload []byte
}

// WorkerPool fans notification jobs out to webpush deliveries. Delivery is
// fire-and-forget: failures are logged, never retried.
type WorkerPool struct {
	size    int
	jobs    chan Job
	store   store.Store
	webpush *webpush.Options
	sender  Sender
}

// NewWorkerPool creates a new worker pool.
func NewWorkerPool(size int, s store.Store, webpushOptions *webpush.Options) *WorkerPool {
	return &WorkerPool{
		size:    size,
		jobs:    make(chan Job, size*4),
		store:   s,
		webpush: webpushOptions,
		sender:  &WebPushSender{},
	}
}

// SetSender swaps the delivery implementation, for tests.
func (wp *WorkerPool) SetSender(s Sender) {
	wp.sender = s
}

// Start launches the worker goroutines.
func (wp *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < wp.size; i++ {
		go wp.worker(ctx, i)
	}
}

func (wp *WorkerPool) worker(ctx context.Context, id int) {
	log.Printf("Notification worker %d started", id)
	for {
		select {
		case job := <-wp.jobs:
			wp.deliver(ctx, job)
		case <-ctx.Done():
			log.Printf("Notification worker %d shutting down", id)
			return
		}
	}
}

// Notify queues a delivery for the given users. Drops the job if the queue is
// full rather than blocking a request handler or the scheduler.
func (wp *WorkerPool) Notify(userIDs []int64, payload []byte) {
	select {
	case wp.jobs <- Job{UserIDs: userIDs, Payload: payload}:
	default:
		log.Printf("Warning: notification queue full; dropping job for %d users", len(userIDs))
	}
}

// Jobs returns the jobs channel for testing.
func (wp *WorkerPool) Jobs() chan Job {
	return wp.jobs
}

// deliver fans one job out to every subscription of every target user.
func (wp *WorkerPool) deliver(ctx context.Context, job Job) {
	subs, err := wp.store.SubscriptionsForUsers(ctx, job.UserIDs)
	if err != nil {
		log.Printf("Error fetching subscriptions for %d users: %v", len(job.UserIDs), err)
		return
	}
	if len(subs) == 0 {
		return
	}

	log.Printf("Sending %d push notifications", len(subs))
	for _, sub := range subs {
		wp.send(ctx, sub, job.Payload)
	}
}

// send delivers one message and prunes the subscription if the push service
// reports it gone.
func (wp *WorkerPool) send(ctx context.Context, sub model.PushSubscription, payload []byte) {
	wpSub := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256DH,
			Auth:   sub.Auth,
		},
	}

	resp, err := wp.sender.Send(payload, wpSub, wp.webpush)
	if err != nil {
		log.Printf("Error sending notification to %s: %v", sub.Endpoint, err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusGone {
		log.Printf("Subscription for endpoint %s is expired. Deleting.", sub.Endpoint)
		if err := wp.store.DeleteSubscription(ctx, sub.Endpoint); err != nil {
			log.Printf("Failed to delete expired subscription %s: %v", sub.Endpoint, err)
		}
	}
}
