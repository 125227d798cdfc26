package events

import (
	"context"
	"sync"
	"time"

	"github.com/nerrad567/forum-core/internal/audit"
	"github.com/nerrad567/forum-core/internal/auth"
	"github.com/nerrad567/forum-core/internal/infrastructure/logging"
	"github.com/nerrad567/forum-core/internal/infrastructure/mqtt"
)

// defaultQueueSize bounds the number of events waiting for the MQTT bus.
const defaultQueueSize = 256

// AuditStore persists audit entries.
type AuditStore interface {
	Create(ctx context.Context, log *audit.AuditLog) error
}

// Publisher sends JSON payloads to the message bus.
type Publisher interface {
	PublishJSON(topic string, v any, retained bool) error
}

// MetricsRecorder records security event counters.
type MetricsRecorder interface {
	WriteSecurityEvent(eventType string, knownUser bool, details map[string]any, at time.Time)
}

// Deps are the destinations a Dispatcher writes to. Only Logger is
// required; nil destinations are skipped.
type Deps struct {
	Audit     AuditStore
	Bus       Publisher
	Topics    mqtt.Topics
	Metrics   MetricsRecorder
	Logger    *logging.Logger
	QueueSize int
}

// Dispatcher implements auth.EventSink.
//
// Audit and metrics writes happen on the caller's goroutine; both are
// local or buffered. Bus publishes wait for broker acknowledgement, so
// they go through a bounded queue drained by Run. Events are dropped,
// with a warning, when the queue is full.
type Dispatcher struct {
	audit   AuditStore
	bus     Publisher
	topics  mqtt.Topics
	metrics MetricsRecorder
	logger  *logging.Logger

	queue   chan auth.SecurityEvent
	closeMu sync.RWMutex
	closed  bool
}

// New creates a Dispatcher. Call Run to start publishing to the bus.
func New(deps Deps) *Dispatcher {
	size := deps.QueueSize
	if size <= 0 {
		size = defaultQueueSize
	}
	logger := deps.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	return &Dispatcher{
		audit:   deps.Audit,
		bus:     deps.Bus,
		topics:  deps.Topics,
		metrics: deps.Metrics,
		logger:  logger.With("component", "security-events"),
		queue:   make(chan auth.SecurityEvent, size),
	}
}

// Emit records ev. It never fails the caller.
func (d *Dispatcher) Emit(ctx context.Context, ev auth.SecurityEvent) {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}

	d.log(ev)

	if d.audit != nil {
		// The request may be cancelled right after the response is written;
		// the audit row must still land.
		if err := d.audit.Create(context.WithoutCancel(ctx), audit.FromSecurityEvent(ev)); err != nil {
			d.logger.Error("audit write failed", "event", string(ev.Type), "user_id", ev.UserID, "error", err)
		}
	}

	if d.metrics != nil {
		d.metrics.WriteSecurityEvent(string(ev.Type), ev.UserID != "", ev.Details, ev.At)
	}

	if d.bus != nil {
		d.enqueue(ev)
	}
}

func (d *Dispatcher) enqueue(ev auth.SecurityEvent) {
	d.closeMu.RLock()
	defer d.closeMu.RUnlock()
	if d.closed {
		return
	}
	select {
	case d.queue <- ev:
	default:
		d.logger.Warn("security event queue full, dropping bus publish", "event", string(ev.Type))
	}
}

// Run publishes queued events to the bus until ctx is done or Close is
// called, then drains what is left.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case ev, ok := <-d.queue:
			if !ok {
				return
			}
			d.publish(ev)
		case <-ctx.Done():
			d.Close()
			for ev := range d.queue {
				d.publish(ev)
			}
			return
		}
	}
}

// Close stops accepting bus events. Audit and metrics writes continue.
func (d *Dispatcher) Close() {
	d.closeMu.Lock()
	defer d.closeMu.Unlock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
}

func (d *Dispatcher) publish(ev auth.SecurityEvent) {
	if d.bus == nil {
		return
	}
	// The user agent is diagnostic only; keep it off the shared bus.
	ev.UserAgent = ""
	if err := d.bus.PublishJSON(d.topics.SecurityEvent(string(ev.Type)), ev, false); err != nil {
		d.logger.Warn("security event publish failed", "event", string(ev.Type), "error", err)
	}
}

// log writes ev at a level matching its severity.
func (d *Dispatcher) log(ev auth.SecurityEvent) {
	args := []any{"event", string(ev.Type)}
	if ev.UserID != "" {
		args = append(args, "user_id", ev.UserID)
	}
	if ev.ActorID != "" {
		args = append(args, "actor_id", ev.ActorID)
	}
	if ev.IP != "" {
		args = append(args, "ip", ev.IP)
	}
	for k, v := range ev.Details {
		args = append(args, k, v)
	}

	switch ev.Type {
	case auth.EventTokenReuse, auth.EventAccountLocked:
		d.logger.Warn("security event", args...)
	case auth.EventLoginFailed, auth.EventLoginRejected:
		d.logger.Info("security event", args...)
	default:
		d.logger.Debug("security event", args...)
	}
}
