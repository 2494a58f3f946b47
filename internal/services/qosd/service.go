package qosd

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"qosd-go/internal/metrics"
	"qosd-go/internal/models"
	"qosd-go/internal/services/classifier"
	"qosd-go/internal/services/live"
	"qosd-go/internal/services/override"
	"qosd-go/internal/services/telemetry"

	"go.uber.org/zap"
)

// DefaultLiveLimit is used when a live query does not name a limit.
const DefaultLiveLimit = 50

// Config holds the engine's table sizes.
type Config struct {
	MaxOverrides int `yaml:"max_overrides"`
	MaxHosts     int `yaml:"max_hosts"`
}

// Service owns the classifier, the override store and the live host
// table. Every entry point takes the same lock, so at most one of
// classify, apply and live runs at a time.
type Service struct {
	classifier *classifier.Classifier
	overrides  *override.Store
	tracker    *live.Tracker
	source     live.Source
	mirror     override.Mirror
	emitter    *telemetry.Emitter
	metrics    *metrics.Metrics
	now        func() time.Time
	logger     *zap.Logger
	mu         sync.Mutex
}

// Option customises a Service.
type Option func(*Service)

// WithMirror persists overrides through m.
func WithMirror(m override.Mirror) Option {
	return func(s *Service) { s.mirror = m }
}

// WithMetrics records engine activity in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithEmitter emits telemetry events through e.
func WithEmitter(e *telemetry.Emitter) Option {
	return func(s *Service) { s.emitter = e }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New creates the engine. source supplies live snapshots and may be nil,
// in which case live queries see no new data.
func New(logger *zap.Logger, config Config, policies []models.PersonaPolicy, source live.Source, opts ...Option) *Service {
	s := &Service{
		classifier: classifier.New(logger, policies),
		overrides:  override.NewStore(config.MaxOverrides),
		source:     source,
		now:        time.Now,
		logger:     logger,
	}
	s.tracker = live.NewTracker(config.MaxHosts, s.classifyLive, logger)

	for _, opt := range opts {
		opt(s)
	}
	s.metrics.SetPolicies(len(s.classifier.Policies()))
	return s
}

// Start restores persisted overrides. A failing mirror is logged and
// otherwise ignored.
func (s *Service) Start(ctx context.Context) error {
	s.logger.Info("Starting qosd engine",
		zap.Int("max_overrides", s.overrides.Capacity()))

	if s.mirror == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	saved, err := s.mirror.LoadAll(ctx)
	if err != nil {
		s.logger.Warn("Failed to restore overrides", zap.Error(err))
		return nil
	}

	restored := 0
	for _, ov := range saved {
		if err := s.overrides.Restore(ov); err != nil {
			s.logger.Warn("Skipping persisted override", zap.String("ip", ov.IP), zap.Error(err))
			continue
		}
		restored++
	}
	s.metrics.SetOverrideEntries(s.overrides.Len())
	s.logger.Info("Restored overrides", zap.Int("count", restored))
	return nil
}

// Stop shuts the engine down.
func (s *Service) Stop() error {
	s.logger.Info("Stopping qosd engine")
	return nil
}

// Classify runs one request through the pipeline, overrides included.
func (s *Service) Classify(req *models.ClassificationRequest) classifier.Decision {
	s.mu.Lock()
	defer s.mu.Unlock()

	d := s.classifier.Classify(req, s.overrides)
	s.metrics.ObserveClassification(d.Result.Persona.String(), d.Stage, d.Overridden)
	if s.emitter != nil {
		s.emitter.Emit(telemetry.ClassifyEvent(req, d.Result))
	}
	return d
}

// Apply creates or updates an override and mirrors it when a mirror is
// configured.
func (s *Service) Apply(ctx context.Context, req override.ApplyRequest) (models.PersonaOverride, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ov, err := s.overrides.Apply(req)
	if err != nil {
		outcome := "error"
		switch {
		case errors.Is(err, override.ErrStoreFull):
			outcome = "full"
		case errors.Is(err, override.ErrInvalidArgument):
			outcome = "invalid"
		}
		s.metrics.ObserveOverrideUpdate(outcome, s.overrides.Len())
		return models.PersonaOverride{}, err
	}
	s.metrics.ObserveOverrideUpdate("ok", s.overrides.Len())

	s.logger.Info("Applied override",
		zap.String("ip", ov.IP),
		zap.String("persona", ov.Persona.String()),
		zap.Float64("confidence", ov.Confidence),
		zap.Uint("updates", ov.Updates))

	if s.mirror != nil {
		if err := s.mirror.Save(ctx, ov); err != nil {
			s.logger.Warn("Failed to persist override", zap.String("ip", ov.IP), zap.Error(err))
		}
	}
	return ov, nil
}

// Override returns the override for ip.
func (s *Service) Override(ip string) (models.PersonaOverride, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.overrides.Lookup(ip)
}

// Overrides lists all overrides ordered by address.
func (s *Service) Overrides() []models.PersonaOverride {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.overrides.Snapshot()
}

// ResetOverrides drops every override, locally and in the mirror.
func (s *Service) ResetOverrides(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.overrides.Reset()
	s.metrics.SetOverrideEntries(0)
	s.logger.Info("Reset override store")

	if s.mirror != nil {
		if err := s.mirror.Clear(ctx); err != nil {
			return fmt.Errorf("failed to clear persisted overrides: %w", err)
		}
	}
	return nil
}

// Live reads a fresh snapshot, runs one tracker tick and returns the
// busiest hosts. limit <= 0 returns every host.
func (s *Service) Live(ctx context.Context, limit int) []models.HostSummary {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := s.now()
	var snap live.Snapshot
	if s.source != nil {
		snap = s.source.Snapshot(ctx)
	}

	hosts := s.tracker.Tick(snap, start, limit)
	s.metrics.ObserveTick(s.tracker.Len(), s.now().Sub(start))

	if s.emitter != nil {
		for _, h := range hosts {
			s.emitter.Emit(telemetry.LiveEvent(h))
		}
	}

	s.logger.Debug("Live tick",
		zap.Int("leases", len(snap.Leases)),
		zap.Int("arp", len(snap.ARP)),
		zap.Int("conntrack", len(snap.Conntrack)),
		zap.Int("hosts", len(hosts)))

	return hosts
}

// ResetHosts forgets every tracked host.
func (s *Service) ResetHosts() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tracker.Reset()
	s.logger.Info("Reset live host table")
}

// SetPolicies replaces the persona policy overlay.
func (s *Service) SetPolicies(policies []models.PersonaPolicy) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.classifier.SetPolicies(policies)
	s.metrics.SetPolicies(len(s.classifier.Policies()))
}

// Policies returns the active persona policies.
func (s *Service) Policies() []models.PersonaPolicy {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.classifier.Policies()
}

// classifyLive is the tracker's classifier. It runs with s.mu held.
func (s *Service) classifyLive(req *models.ClassificationRequest) models.ClassificationResult {
	d := s.classifier.Classify(req, s.overrides)
	s.metrics.ObserveClassification(d.Result.Persona.String(), d.Stage, d.Overridden)
	return d.Result
}
