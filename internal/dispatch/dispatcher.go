// Package dispatch turns inbound notifications into replacements. Each
// event is checked against its channel's rules; on the first match the
// original is cancelled and re-emitted on a sink carrying the rule's sound.
//
// Handling fails open: when emission cannot go ahead (the gate denies it, the
// sink cannot be resolved, storage is unavailable) the original event is left
// alone so the user still receives it.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/mesh-intelligence/smartnotifier/internal/logging"
	"github.com/mesh-intelligence/smartnotifier/internal/match"
	"github.com/mesh-intelligence/smartnotifier/pkg/types"
)

// DefaultMonitoredSource is the origin watched when none is configured.
const DefaultMonitoredSource = "com.openai.chatgpt"

// Outcome is the terminal state of handling one event.
type Outcome int

// Handling outcomes.
const (
	// OutcomeFiltered: origin is not monitored.
	OutcomeFiltered Outcome = iota
	// OutcomeUnmatched: no rule matched; the original passes through.
	OutcomeUnmatched
	// OutcomeDenied: a rule matched but the gate refused emission.
	OutcomeDenied
	// OutcomeFailed: a collaborator failed; the original was not suppressed
	// unless cancellation had already succeeded.
	OutcomeFailed
	// OutcomeReposted: original cancelled and replacement emitted.
	OutcomeReposted
)

func (o Outcome) String() string {
	switch o {
	case OutcomeFiltered:
		return "filtered"
	case OutcomeUnmatched:
		return "unmatched"
	case OutcomeDenied:
		return "denied"
	case OutcomeFailed:
		return "failed"
	case OutcomeReposted:
		return "reposted"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// RuleReader supplies a channel's rules. rules.Store implements it.
type RuleReader interface {
	GetByChannel(ctx context.Context, channelID string) ([]types.Rule, error)
}

// Config holds dispatcher settings.
type Config struct {
	// MonitoredSources lists the origins whose events are handled. Empty
	// means DefaultMonitoredSource.
	MonitoredSources []string
	// Workers and QueueSize size the keyed pool.
	Workers   int
	QueueSize int
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the dispatcher logger.
func WithLogger(l *zap.Logger) Option {
	return func(d *Dispatcher) { d.log = l }
}

// WithSoundLabeler sets the labeler used to name sinks for rules without
// search text.
func WithSoundLabeler(l types.SoundLabeler) Option {
	return func(d *Dispatcher) { d.labeler = l }
}

// WithGate sets the capability gate. Without one, emission is always allowed.
func WithGate(g types.CapabilityGate) Option {
	return func(d *Dispatcher) { d.gate = g }
}

// WithRegisterer registers dispatcher metrics on reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(d *Dispatcher) { d.registerer = reg }
}

// Dispatcher handles inbound events.
type Dispatcher struct {
	rules  RuleReader
	source types.EventSource
	sinks  *sinkRegistry

	gate       types.CapabilityGate
	labeler    types.SoundLabeler
	registerer prometheus.Registerer
	log        *zap.Logger

	monitored map[string]bool
	metrics   *Metrics
	pool      *Pool[types.Event]
}

// New builds a dispatcher over its collaborators.
func New(cfg Config, rules RuleReader, source types.EventSource, sinks types.SinkProvider, opts ...Option) (*Dispatcher, error) {
	if rules == nil || source == nil || sinks == nil {
		return nil, errors.New("dispatch: rules, source and sinks are required")
	}
	d := &Dispatcher{
		rules:     rules,
		source:    source,
		monitored: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.log = logging.OrNop(d.log).Named("dispatch")
	d.sinks = newSinkRegistry(sinks, d.labeler)

	sources := cfg.MonitoredSources
	if len(sources) == 0 {
		sources = []string{DefaultMonitoredSource}
	}
	for _, s := range sources {
		d.monitored[s] = true
	}

	m, err := NewMetrics(d.registerer)
	if err != nil {
		return nil, err
	}
	d.metrics = m

	d.pool = NewPool(cfg.Workers, cfg.QueueSize,
		func(ev types.Event) string { return ev.ChannelID },
		func(ctx context.Context, ev types.Event) error {
			_, err := d.Handle(ctx, ev)
			return err
		})
	d.pool.metrics = m
	return d, nil
}

// Start launches the worker pool. Handling stops when ctx is done.
func (d *Dispatcher) Start(ctx context.Context) error {
	return d.pool.Start(ctx)
}

// Submit queues an event without blocking on storage. Events of one channel
// are handled sequentially in submission order.
func (d *Dispatcher) Submit(ev types.Event) error {
	return d.pool.Submit(ev)
}

// Consume submits every event received on events until the channel closes
// or ctx is done. Events rejected by a full queue are logged and dropped,
// which leaves the original notification untouched.
func (d *Dispatcher) Consume(ctx context.Context, events <-chan types.Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if err := d.Submit(ev); err != nil {
				d.log.Warn("event not queued",
					zap.String("channel", ev.ChannelID),
					zap.String("key", ev.Key),
					zap.Error(err))
				if errors.Is(err, ErrPoolStopped) {
					return err
				}
			}
		}
	}
}

// Stop drains queued events, waiting at most timeout.
func (d *Dispatcher) Stop(timeout time.Duration) error {
	return d.pool.Stop(timeout)
}

// Stats returns pool statistics.
func (d *Dispatcher) Stats() PoolStats {
	return d.pool.Stats()
}

// Handle runs one event through filter, match, gate, sink resolution,
// cancellation and emission. A denied gate is a normal outcome and returns
// a nil error.
func (d *Dispatcher) Handle(ctx context.Context, ev types.Event) (Outcome, error) {
	start := time.Now()
	outcome, err := d.handle(ctx, ev)
	d.metrics.observe(outcome, time.Since(start).Seconds())
	return outcome, err
}

func (d *Dispatcher) handle(ctx context.Context, ev types.Event) (Outcome, error) {
	if !d.monitored[ev.Origin] {
		return OutcomeFiltered, nil
	}
	log := d.log.With(zap.String("channel", ev.ChannelID), zap.String("key", ev.Key))

	rules, err := d.rules.GetByChannel(ctx, ev.ChannelID)
	if err != nil {
		log.Error("load rules", zap.Error(err))
		return OutcomeFailed, err
	}
	rule, ok := match.Match(ev.Title, ev.Body, rules)
	if !ok {
		log.Debug("no rule matched")
		return OutcomeUnmatched, nil
	}
	log = log.With(zap.String("rule_id", rule.ID), zap.String("search_text", rule.SearchText))

	if d.gate != nil && !d.gate.CanEmit(ctx) {
		log.Warn("rule matched but emission is not permitted", zap.Error(types.ErrCapabilityDenied))
		return OutcomeDenied, nil
	}

	sink, created, err := d.sinks.resolve(ctx, rule)
	if err != nil {
		log.Error("resolve sink", zap.String("sound", rule.Sound), zap.Error(err))
		return OutcomeFailed, fmt.Errorf("resolve sink: %w", err)
	}
	if created {
		d.metrics.sinksCreated.Inc()
		log.Info("sink created", zap.String("sink", sink.Key), zap.String("label", sink.Label))
	}

	if err := d.source.Cancel(ctx, ev.Key); err != nil {
		log.Error("cancel original", zap.Error(err))
		return OutcomeFailed, fmt.Errorf("cancel %s: %w", ev.Key, err)
	}
	if err := d.sinks.provider.Emit(ctx, sink, ev.Title, ev.Body, types.PriorityHigh); err != nil {
		log.Error("emit replacement after cancel", zap.String("sink", sink.Key), zap.Error(err))
		return OutcomeFailed, fmt.Errorf("emit on %s: %w", sink.Key, err)
	}
	log.Info("reposted", zap.String("sink", sink.Key))
	return OutcomeReposted, nil
}
