package policysync

import (
	"context"
	"fmt"
	"sort"
	"time"

	"qosd-go/internal/models"

	"go.uber.org/zap"
)

// Fetcher returns the collector's policy table keyed by persona name.
type Fetcher interface {
	Policies(ctx context.Context) (map[string]models.PolicyEntry, error)
}

// Target receives the converted policy list.
type Target interface {
	SetPolicies(policies []models.PersonaPolicy)
}

// Config controls the poll loop. Base is the locally configured policy
// list that collector entries are merged over.
type Config struct {
	Interval time.Duration
	Base     []models.PersonaPolicy
}

// Service periodically pulls persona policies from the collector and
// installs them as the classifier overlay.
type Service struct {
	fetcher  Fetcher
	target   Target
	interval time.Duration
	base     []models.PersonaPolicy
	logger   *zap.Logger
}

func New(logger *zap.Logger, config Config, fetcher Fetcher, target Target) *Service {
	if config.Interval <= 0 {
		config.Interval = time.Minute
	}
	return &Service{
		fetcher:  fetcher,
		target:   target,
		interval: config.Interval,
		base:     config.Base,
		logger:   logger,
	}
}

// Run syncs once immediately and then on every interval until ctx ends.
func (s *Service) Run(ctx context.Context) {
	s.logger.Info("Starting policy sync", zap.Duration("interval", s.interval))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if err := s.SyncOnce(ctx); err != nil {
			s.logger.Warn("Policy sync failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			s.logger.Info("Policy sync stopped")
			return
		case <-ticker.C:
		}
	}
}

// SyncOnce fetches the policy table, merges it over the configured base
// and installs the result. Entries keyed by an unknown persona are skipped.
func (s *Service) SyncOnce(ctx context.Context) error {
	table, err := s.fetcher.Policies(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch policies: %w", err)
	}

	policies := Merge(s.base, Convert(table, s.logger))
	s.target.SetPolicies(policies)
	s.logger.Debug("Synced persona policies", zap.Int("policies", len(policies)))
	return nil
}

// Convert turns a persona-keyed table into a policy list ordered by
// persona.
func Convert(table map[string]models.PolicyEntry, logger *zap.Logger) []models.PersonaPolicy {
	policies := make([]models.PersonaPolicy, 0, len(table))
	for name, entry := range table {
		persona, err := models.ParsePersona(name)
		if err != nil || !persona.IsSet() {
			logger.Debug("Skipping policy for unknown persona", zap.String("persona", name))
			continue
		}
		policies = append(policies, entry.ForPersona(persona))
	}
	sort.Slice(policies, func(i, j int) bool { return policies[i].Name < policies[j].Name })
	return policies
}

// Merge overlays synced on base. Base personas absent from synced are
// kept. For a persona in both, unset fields and a zero confidence floor
// in the synced entry fall back to the base value.
func Merge(base, synced []models.PersonaPolicy) []models.PersonaPolicy {
	merged := make(map[models.Persona]models.PersonaPolicy, len(base)+len(synced))
	for _, p := range base {
		if p.Name.IsSet() {
			merged[p.Name] = p
		}
	}
	for _, p := range synced {
		if prev, ok := merged[p.Name]; ok {
			if !p.Priority.IsSet() {
				p.Priority = prev.Priority
			}
			if !p.PolicyAction.IsSet() {
				p.PolicyAction = prev.PolicyAction
			}
			if !p.DSCP.IsSet() {
				p.DSCP = prev.DSCP
			}
			if p.MinConfidence == 0 {
				p.MinConfidence = prev.MinConfidence
			}
		}
		merged[p.Name] = p
	}

	out := make([]models.PersonaPolicy, 0, len(merged))
	for _, p := range merged {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
