package mailer

import (
	"fmt"
	"sync"
	"time"

	"ms-storefront/internal/logger"
)

const (
	queueDepth  = 128
	maxAttempts = 3
)

// Queue decouples mail delivery from the webhook request cycle: Enqueue
// never blocks and never fails the caller, a single worker drains the
// channel with bounded retries. A slow or dead SMTP server can therefore
// not cause provider retry storms.
type Queue struct {
	sender Sender
	logger *logger.Logger

	ch      chan Message
	wg      sync.WaitGroup
	backoff time.Duration
}

func NewQueue(sender Sender, log *logger.Logger) *Queue {
	q := &Queue{
		sender:  sender,
		logger:  log,
		ch:      make(chan Message, queueDepth),
		backoff: 2 * time.Second,
	}
	q.wg.Add(1)
	go q.worker()
	return q
}

// Enqueue hands a message to the worker. When the queue is full the
// message is dropped and logged; receipt mail is best-effort by contract.
func (q *Queue) Enqueue(msg Message) {
	select {
	case q.ch <- msg:
	default:
		q.logger.Error("MAIL", fmt.Sprintf("mail queue full, dropping message to %s", msg.To))
	}
}

func (q *Queue) worker() {
	defer q.wg.Done()
	for msg := range q.ch {
		q.deliver(msg)
	}
}

func (q *Queue) deliver(msg Message) {
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err := q.sender.Send(msg)
		if err == nil {
			q.logger.Info("MAIL", fmt.Sprintf("sent %q to %s", msg.Subject, msg.To))
			return
		}
		q.logger.Warn("MAIL", fmt.Sprintf("attempt %d/%d to %s failed: %v", attempt, maxAttempts, msg.To, err))
		if attempt < maxAttempts {
			time.Sleep(q.backoff * time.Duration(attempt))
		}
	}
	q.logger.Error("MAIL", fmt.Sprintf("giving up on %q to %s", msg.Subject, msg.To))
}

// Close drains the queue and stops the worker.
func (q *Queue) Close() {
	close(q.ch)
	q.wg.Wait()
}
