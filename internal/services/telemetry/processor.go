package telemetry

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/LeonardoBeccarini/fieldalert/internal/model/entities"
	"github.com/LeonardoBeccarini/fieldalert/internal/model/messages"
	"github.com/LeonardoBeccarini/fieldalert/pkg/errclass"
)

const component = "telemetry"

// Outcome is how a reading left the pipeline.
type Outcome int

const (
	Processed Outcome = iota
	Duplicate
	OutOfOrder
	Rejected
	Integrity
	Retry
)

func (o Outcome) String() string {
	switch o {
	case Processed:
		return "processed"
	case Duplicate:
		return "duplicate"
	case OutOfOrder:
		return "out_of_order"
	case Rejected:
		return "rejected"
	case Integrity:
		return "integrity"
	case Retry:
		return "retry"
	default:
		return "unknown"
	}
}

// Result describes one pass of a reading through the pipeline.
type Result struct {
	Outcome   Outcome
	ReadingID string
	FieldID   string
	Events    []messages.AlertEvent
	Err       error
}

// Ack reports whether the transport may settle the message.
func (r Result) Ack() bool { return r.Outcome != Retry }

// Submitter accepts readings for processing and reports the result.
type Submitter interface {
	Submit(ctx context.Context, msg messages.SensorReadingMessage) Result
}

type Deps struct {
	Idempotency IdempotencyStore
	Series      TimeSeriesStore
	Fields      FieldRepository
	Events      AlertEventStore
	Rules       RuleSetProvider
}

// Processor runs a reading through deduplication, history, evaluation,
// persistence and event publication.
type Processor struct {
	deps    Deps
	metrics *Metrics
	log     *zap.Logger
	now     func() time.Time
}

func NewProcessor(deps Deps, metrics *Metrics, log *zap.Logger) *Processor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Processor{deps: deps, metrics: metrics, log: log, now: time.Now}
}

// Submit processes msg in the caller's goroutine.
func (p *Processor) Submit(ctx context.Context, msg messages.SensorReadingMessage) Result {
	return p.Process(ctx, msg)
}

// ProcessPayload decodes a JSON payload and processes it. source fills in a
// missing source attribute.
func (p *Processor) ProcessPayload(ctx context.Context, payload []byte, source entities.Source) Result {
	msg, err := DecodePayload(payload, source)
	if err != nil {
		res := Result{Outcome: Rejected, Err: err}
		p.observe(res, time.Now())
		return res
	}
	return p.Process(ctx, msg)
}

// DecodePayload decodes a reading message, classifying failures as invalid input.
func DecodePayload(payload []byte, source entities.Source) (messages.SensorReadingMessage, error) {
	msg, err := messages.DecodeSensorReading(payload)
	if err != nil {
		return msg, errclass.WrapInvalid(err, component, "Decode", "decode payload")
	}
	if msg.Source == "" {
		msg.Source = string(source)
	}
	return msg, nil
}

func (p *Processor) Process(ctx context.Context, msg messages.SensorReadingMessage) (res Result) {
	start := time.Now()
	res = Result{ReadingID: msg.ReadingID, FieldID: msg.FieldID}
	defer func() { p.observe(res, start) }()

	reading, err := msg.ToReading()
	if err != nil {
		res.Outcome, res.Err = Rejected, errclass.WrapInvalid(err, component, "Process", "validate reading")
		p.log.Warn("reading rejected", zap.String("reading_id", msg.ReadingID), zap.Error(err))
		return res
	}
	log := p.log.With(zap.String("reading_id", reading.ReadingID()), zap.String("field_id", reading.FieldID()))

	retry := func(err error, action string) Result {
		res.Outcome, res.Err = Retry, errclass.WrapTransient(err, component, "Process", action)
		log.Error("reading will be retried", zap.String("stage", action), zap.Error(err))
		return res
	}

	if err := ctx.Err(); err != nil {
		return retry(err, "start")
	}
	seen, err := p.deps.Idempotency.Exists(ctx, reading.ReadingID())
	if err != nil {
		return retry(err, "check idempotency")
	}
	if seen {
		res.Outcome = Duplicate
		log.Debug("duplicate reading skipped")
		return res
	}

	if err := p.deps.Series.Append(ctx, reading); err != nil {
		return retry(err, "append history")
	}

	field, err := p.deps.Fields.GetByID(ctx, reading.FieldID())
	if err != nil {
		return retry(err, "load field")
	}
	if field == nil {
		field = entities.NewField(reading.FieldID(), reading.FarmID())
	}
	before := CaptureStatuses(field.Alerts())

	rules, err := p.deps.Rules.GetRules(ctx)
	if err != nil {
		return retry(err, "load rules")
	}

	applied, err := field.ProcessReading(reading, rules)
	if err != nil {
		res.Outcome, res.Err = Integrity, errclass.WrapIntegrity(err, component, "Process", "apply reading")
		log.Warn("data-integrity violation, reading dropped", zap.String("farm_id", reading.FarmID()), zap.Error(err))
		return res
	}

	if applied {
		if err := ctx.Err(); err != nil {
			return retry(err, "save field")
		}
		if err := p.deps.Fields.Save(ctx, field); err != nil {
			return retry(err, "save field")
		}
	}

	if err := p.deps.Idempotency.MarkProcessed(ctx, entities.ProcessedReading{
		ReadingID:   reading.ReadingID(),
		FieldID:     reading.FieldID(),
		ProcessedAt: p.now().UTC(),
		Source:      reading.Source(),
	}); err != nil {
		return retry(err, "mark processed")
	}

	if !applied {
		res.Outcome = OutOfOrder
		log.Debug("out-of-order reading kept in history only",
			zap.Time("timestamp", reading.Timestamp()))
		return res
	}

	res.Outcome = Processed
	res.Events = BuildEvents(before, field.Alerts())
	p.publish(ctx, log, res.Events)
	log.Debug("reading processed",
		zap.String("status", string(field.Status())), zap.Int("events", len(res.Events)))
	return res
}

// publish is best effort: the state is already committed, so failures are
// logged and counted but do not fail the reading.
func (p *Processor) publish(ctx context.Context, log *zap.Logger, events []messages.AlertEvent) {
	for _, ev := range events {
		if p.metrics != nil {
			p.metrics.AlertEvents.WithLabelValues(ev.AlertType, ev.Status).Inc()
		}
		if p.deps.Events == nil {
			continue
		}
		if err := p.deps.Events.Append(ctx, ev); err != nil {
			if p.metrics != nil {
				p.metrics.PublishFailures.Inc()
			}
			log.Error("publish alert event failed",
				zap.String("alert_id", ev.AlertID), zap.String("status", ev.Status), zap.Error(err))
		}
	}
}

func (p *Processor) observe(res Result, start time.Time) {
	if p.metrics == nil {
		return
	}
	p.metrics.Readings.WithLabelValues(res.Outcome.String()).Inc()
	p.metrics.Duration.Observe(time.Since(start).Seconds())
}
