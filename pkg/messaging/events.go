package messaging

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"callguard/pkg/analysis"
	"callguard/pkg/session"
	"callguard/pkg/util"
)

// Event types carried in the "type" field of published messages
const (
	EventCriticalAlert = "critical_alert"
	EventSessionSaved  = "session_saved"
)

// AlertMessage is published when a live session crosses the alert threshold
type AlertMessage struct {
	Type      string                    `json:"type"`
	SessionID string                    `json:"session_id"`
	RiskScore float64                   `json:"risk_score"`
	RiskLevel analysis.RiskLevel        `json:"risk_level"`
	Analysis  analysis.DetailedAnalysis `json:"analysis"`
	Timestamp time.Time                 `json:"timestamp"`
}

// SavedMessage is published when an analysis was written to history
type SavedMessage struct {
	Type      string                `json:"type"`
	RiskLevel analysis.RiskLevel    `json:"risk_level"`
	Entry     analysis.HistoryEntry `json:"entry"`
	Timestamp time.Time             `json:"timestamp"`
}

// EventPublisherConfig controls routing and buffering of outbound events
type EventPublisherConfig struct {
	AlertRoutingKey   string
	SessionRoutingKey string
	QueueSize         int
	PublishTimeout    time.Duration
}

type outbound struct {
	routingKey string
	payload    interface{}
}

// EventPublisher forwards session notifications to a Publisher. Notifications
// are queued and published from a single worker so callers never block on
// the broker; when the queue is full the event is dropped and logged.
type EventPublisher struct {
	logger    *logrus.Logger
	publisher Publisher
	config    EventPublisherConfig
	now       func() time.Time

	queue     chan outbound
	wg        sync.WaitGroup
	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
}

var _ session.Observer = (*EventPublisher)(nil)

// NewEventPublisher creates the publisher and starts its worker
func NewEventPublisher(logger *logrus.Logger, publisher Publisher, config EventPublisherConfig) *EventPublisher {
	if config.QueueSize <= 0 {
		config.QueueSize = 64
	}
	if config.PublishTimeout <= 0 {
		config.PublishTimeout = 5 * time.Second
	}

	p := &EventPublisher{
		logger:    logger,
		publisher: publisher,
		config:    config,
		now:       time.Now,
		queue:     make(chan outbound, config.QueueSize),
	}

	p.wg.Add(1)
	util.NewPanicHandler(logger).SafeGo("event_publisher", p.run)
	return p
}

// SessionUpdated is not forwarded; snapshots are only pushed to local clients
func (p *EventPublisher) SessionUpdated(session.Snapshot) {}

// CriticalAlert publishes an alert message on the alert routing key
func (p *EventPublisher) CriticalAlert(sessionID string, a analysis.DetailedAnalysis) {
	p.enqueue(p.config.AlertRoutingKey, AlertMessage{
		Type:      EventCriticalAlert,
		SessionID: sessionID,
		RiskScore: a.AggregateScore,
		RiskLevel: a.Level(),
		Analysis:  a.Clone(),
		Timestamp: p.now().UTC(),
	})
}

// SessionSaved publishes the saved history entry on the session routing key
func (p *EventPublisher) SessionSaved(entry analysis.HistoryEntry) {
	p.enqueue(p.config.SessionRoutingKey, SavedMessage{
		Type:      EventSessionSaved,
		RiskLevel: entry.Level(),
		Entry:     entry,
		Timestamp: p.now().UTC(),
	})
}

func (p *EventPublisher) enqueue(routingKey string, payload interface{}) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return
	}

	select {
	case p.queue <- outbound{routingKey: routingKey, payload: payload}:
	default:
		p.logger.WithField("routing_key", routingKey).Warn("Event queue full, dropping message")
	}
}

func (p *EventPublisher) run() {
	defer p.wg.Done()

	for msg := range p.queue {
		ctx, cancel := context.WithTimeout(context.Background(), p.config.PublishTimeout)
		err := p.publisher.Publish(ctx, msg.routingKey, msg.payload)
		cancel()
		if err != nil {
			p.logger.WithError(err).WithField("routing_key", msg.routingKey).Warn("Failed to publish event")
		}
	}
}

// Close stops accepting events and waits until queued ones were attempted
func (p *EventPublisher) Close() {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		close(p.queue)
		p.mu.Unlock()
		p.wg.Wait()
	})
}
