package telemetry

import (
	"context"
	"os"
	"time"

	"qosd-go/internal/models"

	"go.uber.org/zap"
)

const (
	EventClassify = "qosd_classify"
	EventLive     = "qosd_live"

	DefaultRouterID = "openwrt"
)

// Publisher ships a batch of events to a remote collector.
type Publisher interface {
	PublishEvents(ctx context.Context, events []models.TelemetryEvent) error
}

// Config controls event forwarding.
type Config struct {
	RouterID      string
	QueueSize     int
	BatchSize     int
	FlushInterval time.Duration
}

// Emitter logs every event as a structured entry and, when a publisher is
// configured, forwards it in batches from a background loop. Emit never
// blocks: events are dropped when the queue is full.
type Emitter struct {
	routerID  string
	publisher Publisher
	queue     chan models.TelemetryEvent
	batchSize int
	interval  time.Duration
	logger    *zap.Logger
}

// RouterID returns the host name, or DefaultRouterID when it is unknown.
func RouterID() string {
	name, err := os.Hostname()
	if err != nil || name == "" {
		return DefaultRouterID
	}
	return name
}

// New creates an emitter. publisher may be nil.
func New(logger *zap.Logger, config Config, publisher Publisher) *Emitter {
	if config.RouterID == "" {
		config.RouterID = RouterID()
	}
	if config.QueueSize <= 0 {
		config.QueueSize = 1024
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 100
	}
	if config.FlushInterval <= 0 {
		config.FlushInterval = 5 * time.Second
	}

	e := &Emitter{
		routerID:  config.RouterID,
		publisher: publisher,
		batchSize: config.BatchSize,
		interval:  config.FlushInterval,
		logger:    logger,
	}
	if publisher != nil {
		e.queue = make(chan models.TelemetryEvent, config.QueueSize)
	}
	return e
}

func (e *Emitter) Router() string { return e.routerID }

// Emit stamps the event with the router id and current time, logs it and
// queues it for forwarding.
func (e *Emitter) Emit(ev models.TelemetryEvent) {
	ev.Router = e.routerID
	if ev.Timestamp == "" {
		ev.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}

	e.logger.Info("telemetry",
		zap.String("event", ev.Event),
		zap.String("timestamp", ev.Timestamp),
		zap.String("router", ev.Router),
		zap.String("ip", ev.IP),
		zap.String("hostname", ev.Hostname),
		zap.String("persona", ev.Persona),
		zap.String("priority", ev.Priority),
		zap.String("policy_action", ev.Policy),
		zap.String("dscp", ev.DSCP),
		zap.Int("confidence", ev.Confidence),
		zap.Uint64("rx_bps", ev.RxBps),
		zap.Uint64("tx_bps", ev.TxBps))

	if e.queue == nil {
		return
	}
	select {
	case e.queue <- ev:
	default:
		e.logger.Debug("Telemetry queue full, dropping event", zap.String("event", ev.Event))
	}
}

// ClassifyEvent builds a qosd_classify event.
func ClassifyEvent(req *models.ClassificationRequest, res models.ClassificationResult) models.TelemetryEvent {
	ev := resultEvent(EventClassify, res)
	if req != nil {
		ev.IP = req.SrcIP
		ev.Hostname = req.Hostname
		ev.LatencyMS = float64(req.LatencyMS)
	}
	return ev
}

// LiveEvent builds a qosd_live event for one ranked host.
func LiveEvent(h models.HostSummary) models.TelemetryEvent {
	ev := resultEvent(EventLive, models.ClassificationResult{
		Persona:      h.Persona,
		Priority:     h.Priority,
		PolicyAction: h.PolicyAction,
		DSCP:         h.DSCP,
		Confidence:   h.Confidence,
	})
	ev.IP = h.IP
	ev.Hostname = h.Hostname
	ev.RxBps = h.RxBps
	ev.TxBps = h.TxBps
	return ev
}

func resultEvent(name string, res models.ClassificationResult) models.TelemetryEvent {
	return models.TelemetryEvent{
		Event:      name,
		Persona:    res.Persona.String(),
		Category:   res.Persona.String(),
		Priority:   res.Priority.String(),
		Policy:     res.PolicyAction.String(),
		DSCP:       res.DSCP.String(),
		Confidence: int(res.Confidence),
	}
}

// Run forwards queued events until ctx is cancelled, flushing whatever is
// left on the way out. It returns immediately when no publisher is set.
func (e *Emitter) Run(ctx context.Context) {
	if e.queue == nil {
		return
	}

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	batch := make([]models.TelemetryEvent, 0, e.batchSize)
	flush := func(ctx context.Context) {
		if len(batch) == 0 {
			return
		}
		if err := e.publisher.PublishEvents(ctx, batch); err != nil {
			e.logger.Warn("Failed to forward telemetry", zap.Int("events", len(batch)), zap.Error(err))
		}
		batch = make([]models.TelemetryEvent, 0, e.batchSize)
	}

	for {
		select {
		case ev := <-e.queue:
			batch = append(batch, ev)
			if len(batch) >= e.batchSize {
				flush(ctx)
			}
		case <-ticker.C:
			flush(ctx)
		case <-ctx.Done():
		drain:
			for {
				select {
				case ev := <-e.queue:
					batch = append(batch, ev)
				default:
					break drain
				}
			}
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			flush(shutdownCtx)
			cancel()
			return
		}
	}
}
