package risk

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"execgate/internal/domain"

	"github.com/google/uuid"
)

// DefaultConfirmTimeout is how long a confirmation waits for an answer.
const DefaultConfirmTimeout = 60 * time.Second

type pendingConfirmation struct {
	req       domain.ConfirmationRequest
	createdAt time.Time
	result    chan bool
	timer     *time.Timer
	stop      func() bool // detaches the context watcher
}

// Broker hands confirmation requests to the UI and waits for answers.
// Requests are published on Requests(); the UI answers with Resolve. Every
// request owns its own timer and resolves exactly once: to the operator's
// answer, or to false on timeout or context cancellation.
type Broker struct {
	timeout  time.Duration
	audit    domain.AuditSink
	logger   *slog.Logger
	requests chan domain.ConfirmationRequest

	mu      sync.Mutex
	pending map[string]*pendingConfirmation
}

// NewBroker creates a broker. timeout <= 0 selects DefaultConfirmTimeout.
func NewBroker(timeout time.Duration, audit domain.AuditSink, logger *slog.Logger) *Broker {
	if timeout <= 0 {
		timeout = DefaultConfirmTimeout
	}
	if audit == nil {
		audit = domain.NopAudit{}
	}
	return &Broker{
		timeout:  timeout,
		audit:    audit,
		logger:   logger.With("component", "confirm-broker"),
		requests: make(chan domain.ConfirmationRequest, 16),
		pending:  make(map[string]*pendingConfirmation),
	}
}

// Requests delivers newly registered confirmation requests to the UI. If
// nobody is reading and the buffer is full, the request is still pending
// and visible through Pending; it simply times out if never answered.
func (b *Broker) Requests() <-chan domain.ConfirmationRequest {
	return b.requests
}

// Timeout returns the per-request timeout.
func (b *Broker) Timeout() time.Duration { return b.timeout }

// Request registers a pending confirmation and returns its id and a channel
// that receives exactly one value.
func (b *Broker) Request(ctx context.Context, action, target string) (string, <-chan bool) {
	id := uuid.NewString()
	p := &pendingConfirmation{
		req: domain.ConfirmationRequest{
			ID:     id,
			Action: action,
			Target: target,
			Risk:   ClassifyRisk(action, target),
		},
		createdAt: time.Now(),
		result:    make(chan bool, 1),
	}

	b.logger.Info("confirmation requested", "id", id, "action", action, "target", target)
	b.audit.LogEvent(domain.AuditEvent{
		EventID:   uuid.NewString(),
		Timestamp: time.Now().UTC(),
		EventType: domain.EventConfirmationRequired,
		Command:   action + " " + target,
		Metadata: map[string]any{
			"confirmationId": id,
			"risk":           string(p.req.Risk),
			"timeoutSeconds": b.timeout.Seconds(),
		},
	})

	b.mu.Lock()
	b.pending[id] = p
	p.timer = time.AfterFunc(b.timeout, func() { b.expire(id) })
	p.stop = context.AfterFunc(ctx, func() { b.finish(id, false, "cancelled") })
	b.mu.Unlock()

	select {
	case b.requests <- p.req:
	default:
		b.logger.Warn("confirmation request channel full", "id", id)
	}
	return id, p.result
}

// Confirm is the blocking form of Request. It implements domain.Confirmer.
func (b *Broker) Confirm(ctx context.Context, action, target string) bool {
	_, ch := b.Request(ctx, action, target)
	return <-ch
}

// Resolve answers a pending confirmation. It reports false when id is
// unknown or already resolved; a second resolution is a no-op.
func (b *Broker) Resolve(id string, approved bool) bool {
	result := "denied"
	if approved {
		result = "approved"
	}
	return b.finish(id, approved, result)
}

// Pending lists unresolved requests, oldest first.
func (b *Broker) Pending() []domain.ConfirmationRequest {
	b.mu.Lock()
	defer b.mu.Unlock()

	list := make([]*pendingConfirmation, 0, len(b.pending))
	for _, p := range b.pending {
		list = append(list, p)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].createdAt.Before(list[j].createdAt) })

	out := make([]domain.ConfirmationRequest, len(list))
	for i, p := range list {
		out[i] = p.req
	}
	return out
}

func (b *Broker) expire(id string) {
	if b.finish(id, false, "timeout") {
		b.logger.Warn("confirmation timed out", "id", id)
	}
}

// finish removes id from the pending set and delivers approved. Only the
// first caller for a given id gets through.
func (b *Broker) finish(id string, approved bool, result string) bool {
	b.mu.Lock()
	p, ok := b.pending[id]
	if ok {
		delete(b.pending, id)
		p.timer.Stop()
		p.stop()
	}
	b.mu.Unlock()
	if !ok {
		return false
	}

	p.result <- approved

	eventType := domain.EventConfirmationResolved
	if result == "timeout" {
		eventType = domain.EventConfirmationTimeout
	}
	b.audit.LogEvent(domain.AuditEvent{
		EventID:   uuid.NewString(),
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		Command:   p.req.Action + " " + p.req.Target,
		Result:    result,
		Metadata: map[string]any{
			"confirmationId": id,
			"waitedMs":       time.Since(p.createdAt).Milliseconds(),
		},
	})
	return true
}
