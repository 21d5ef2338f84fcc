package app

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"chat-quiz-service/internal/domain"
	"chat-quiz-service/internal/metrics"
	"go.uber.org/zap"
)

// DeliveryKind tags a Delivery.
type DeliveryKind string

const (
	DeliverQuestion DeliveryKind = "question"
	DeliverResult   DeliveryKind = "result"
)

// Delivery is an outbound message decided by a session. Prompt is set for questions,
// Attempts for results.
type Delivery struct {
	Kind     DeliveryKind
	ChatID   string
	Prompt   domain.Prompt
	Attempts []domain.Attempt
}

// Deliverer accepts deliveries without blocking the caller.
type Deliverer interface {
	Dispatch(deliveries ...Delivery)
}

const (
	deliveryTimeout = 10 * time.Second
	// resultWait bounds how long a result waits for room in a full queue.
	resultWait = 2 * time.Second
)

// Dispatcher hands deliveries to the gateway on background workers. Deliveries for one
// chat always land on the same worker, so a chat sees its messages in decision order.
type Dispatcher struct {
	gateway    Gateway
	logger     *zap.Logger
	shards     []chan Delivery
	resultWait time.Duration
	wg         sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

func NewDispatcher(gateway Gateway, workers, buffer int, logger *zap.Logger) *Dispatcher {
	if workers <= 0 {
		workers = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Dispatcher{
		gateway:    gateway,
		logger:     logger,
		shards:     make([]chan Delivery, workers),
		resultWait: resultWait,
	}
	for i := range d.shards {
		d.shards[i] = make(chan Delivery, buffer)
		d.wg.Add(1)
		go d.run(d.shards[i])
	}
	return d
}

// Dispatch enqueues deliveries. A full queue drops questions right away; a result,
// the only message of its kind per session, waits up to resultWait for room first.
// Sessions never wait on the gateway itself.
func (d *Dispatcher) Dispatch(deliveries ...Delivery) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}
	for _, delivery := range deliveries {
		queue := d.shards[d.shardFor(delivery.ChatID)]
		select {
		case queue <- delivery:
			continue
		default:
		}
		if delivery.Kind == DeliverResult && d.enqueueWithin(queue, delivery, d.resultWait) {
			continue
		}
		metrics.Deliveries.WithLabelValues(string(delivery.Kind), "dropped").Inc()
		d.logger.Warn("delivery queue full, dropping",
			zap.String("chat_id", delivery.ChatID),
			zap.String("kind", string(delivery.Kind)))
	}
}

func (d *Dispatcher) enqueueWithin(queue chan<- Delivery, delivery Delivery, wait time.Duration) bool {
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case queue <- delivery:
		return true
	case <-timer.C:
		return false
	}
}

// Close stops accepting deliveries and waits for queued ones to be handed off.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	for _, ch := range d.shards {
		close(ch)
	}
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *Dispatcher) shardFor(chatID string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(chatID))
	return int(h.Sum32() % uint32(len(d.shards)))
}

func (d *Dispatcher) run(queue <-chan Delivery) {
	defer d.wg.Done()
	for delivery := range queue {
		d.deliver(delivery)
	}
}

func (d *Dispatcher) deliver(delivery Delivery) {
	ctx, cancel := context.WithTimeout(context.Background(), deliveryTimeout)
	defer cancel()

	var err error
	switch delivery.Kind {
	case DeliverQuestion:
		err = d.gateway.SendQuestion(ctx, delivery.ChatID, delivery.Prompt)
	case DeliverResult:
		err = d.gateway.SendResult(ctx, delivery.ChatID, delivery.Attempts)
	default:
		d.logger.Error("unknown delivery kind", zap.String("kind", string(delivery.Kind)))
		return
	}

	if err != nil {
		metrics.Deliveries.WithLabelValues(string(delivery.Kind), "failed").Inc()
		d.logger.Warn("gateway delivery failed",
			zap.String("chat_id", delivery.ChatID),
			zap.String("kind", string(delivery.Kind)),
			zap.Error(err))
		return
	}
	metrics.Deliveries.WithLabelValues(string(delivery.Kind), "ok").Inc()
}
