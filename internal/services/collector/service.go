package collector

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"

	"qosd-go/internal/database"
	"qosd-go/internal/models"
)

const DefaultMaxEvents = 200

var (
	ErrPersonaRequired = errors.New("persona field is required")
	ErrNoStore         = errors.New("no event store configured")
)

// PersonaStat aggregates ingested events for one persona.
type PersonaStat struct {
	Persona    string  `json:"persona"`
	Count      uint64  `json:"count"`
	AvgLatency float64 `json:"avgLatency"`
	LastSeen   string  `json:"lastSeen"`
}

type Config struct {
	MaxEvents  int    `yaml:"max_events"`
	PolicyFile string `yaml:"policy_file"`
}

// Service keeps the collector state: a bounded window of recent events,
// per-persona statistics and the persona policy table served to routers.
type Service struct {
	mu       sync.RWMutex
	config   Config
	recent   []models.TelemetryEvent
	stats    map[string]*PersonaStat
	policies map[string]models.PolicyEntry
	store    database.EventStore
	now      func() time.Time
	logger   logrus.FieldLogger
}

// New creates the collector. store may be nil, in which case events are only
// held in memory.
func New(logger logrus.FieldLogger, config Config, store database.EventStore) *Service {
	if config.MaxEvents <= 0 {
		config.MaxEvents = DefaultMaxEvents
	}

	return &Service{
		config:   config,
		recent:   make([]models.TelemetryEvent, 0, config.MaxEvents),
		stats:    make(map[string]*PersonaStat),
		policies: DefaultPolicies(),
		store:    store,
		now:      time.Now,
		logger:   logger,
	}
}

// DefaultPolicies returns the built-in table covering every persona.
func DefaultPolicies() map[string]models.PolicyEntry {
	return map[string]models.PolicyEntry{
		"streaming": {PolicyAction: models.ActionBoost, Priority: models.PriorityMedium, DSCP: models.DSCPAF41},
		"gaming":    {PolicyAction: models.ActionBoost, Priority: models.PriorityHigh, DSCP: models.DSCPCS6},
		"voip":      {PolicyAction: models.ActionBoost, Priority: models.PriorityHigh, DSCP: models.DSCPEF},
		"work":      {PolicyAction: models.ActionBoost, Priority: models.PriorityMedium, DSCP: models.DSCPAF21},
		"bulk":      {PolicyAction: models.ActionThrottle, Priority: models.PriorityLow, DSCP: models.DSCPCS1},
		"iot":       {PolicyAction: models.ActionObserve, Priority: models.PriorityLow, DSCP: models.DSCPCS2},
		"latency":   {PolicyAction: models.ActionBoost, Priority: models.PriorityMedium, DSCP: models.DSCPCS5},
		"other":     {PolicyAction: models.ActionObserve, Priority: models.PriorityNormal, DSCP: models.DSCPCS0},
	}
}

// LoadPolicies replaces the policy table with the contents of a YAML (or
// JSON) file keyed by persona. On error the current table is kept.
func (s *Service) LoadPolicies(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read policy file: %w", err)
	}

	var raw map[string]models.PolicyEntry
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("failed to parse policy file: %w", err)
	}
	if len(raw) == 0 {
		return fmt.Errorf("policy file %s is empty", path)
	}

	table := make(map[string]models.PolicyEntry, len(raw))
	for name, entry := range raw {
		table[strings.ToLower(strings.TrimSpace(name))] = withDefaults(entry)
	}

	s.mu.Lock()
	s.policies = table
	s.mu.Unlock()

	s.logger.WithField("count", len(table)).Infof("Loaded policies from %s", path)
	return nil
}

// Ingest records a batch of events. Missing ids and timestamps are filled
// in. Returns the number of events accepted.
func (s *Service) Ingest(ctx context.Context, events []models.TelemetryEvent) int {
	if len(events) == 0 {
		return 0
	}

	now := s.now().UTC()
	stamp := now.Format(time.RFC3339)

	s.mu.Lock()
	for i := range events {
		if events[i].ID == "" {
			events[i].ID = uuid.NewString()
		}
		if events[i].Timestamp == "" {
			events[i].Timestamp = stamp
		}
		s.updateStats(&events[i], stamp)
		s.recent = append(s.recent, events[i])
	}
	if over := len(s.recent) - s.config.MaxEvents; over > 0 {
		s.recent = append(s.recent[:0], s.recent[over:]...)
	}
	s.mu.Unlock()

	if s.store != nil {
		if err := s.store.InsertEvents(ctx, events); err != nil {
			s.logger.WithError(err).Warnf("Failed to persist %d events", len(events))
		}
	}

	return len(events)
}

func (s *Service) updateStats(ev *models.TelemetryEvent, stamp string) {
	key := ev.Persona
	if key == "" {
		key = ev.Category
	}
	if key == "" {
		key = "other"
	}
	key = strings.ToLower(key)

	stat, ok := s.stats[key]
	if !ok {
		stat = &PersonaStat{Persona: key}
		s.stats[key] = stat
	}

	stat.Count++
	if ev.LatencyMS > 0 {
		if stat.AvgLatency == 0 {
			stat.AvgLatency = ev.LatencyMS
		} else {
			stat.AvgLatency = (stat.AvgLatency*float64(stat.Count-1) + ev.LatencyMS) / float64(stat.Count)
		}
	}
	stat.LastSeen = stamp
}

// Recent returns the retained events, oldest first.
func (s *Service) Recent() []models.TelemetryEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.TelemetryEvent, len(s.recent))
	copy(out, s.recent)
	return out
}

// Stored reads events back from the durable store, newest first.
func (s *Service) Stored(ctx context.Context, limit int) ([]models.TelemetryEvent, error) {
	if s.store == nil {
		return nil, ErrNoStore
	}
	return s.store.RecentEvents(ctx, limit)
}

func (s *Service) PersonaStats() map[string]PersonaStat {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]PersonaStat, len(s.stats))
	for k, v := range s.stats {
		out[k] = *v
	}
	return out
}

func (s *Service) Policies() map[string]models.PolicyEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]models.PolicyEntry, len(s.policies))
	for k, v := range s.policies {
		out[k] = v
	}
	return out
}

// Policy returns the policy for a persona, falling back to "other".
func (s *Service) Policy(persona string) models.PolicyEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if p, ok := s.policies[strings.ToLower(persona)]; ok {
		return p
	}
	return s.policies["other"]
}

// SetPolicy stores a policy under the lowercased persona name. Unset fields
// default to observe/normal/CS0.
func (s *Service) SetPolicy(persona string, entry models.PolicyEntry) (string, models.PolicyEntry, error) {
	key := strings.ToLower(strings.TrimSpace(persona))
	if key == "" {
		return "", models.PolicyEntry{}, ErrPersonaRequired
	}

	entry = withDefaults(entry)

	s.mu.Lock()
	s.policies[key] = entry
	s.mu.Unlock()

	s.logger.WithFields(logrus.Fields{
		"persona":       key,
		"policy_action": entry.PolicyAction.String(),
		"priority":      entry.Priority.String(),
		"dscp":          entry.DSCP.String(),
	}).Info("Policy updated")

	return key, entry, nil
}

// PersonaNames lists the personas with a policy, sorted.
func (s *Service) PersonaNames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.policies))
	for k := range s.policies {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func withDefaults(e models.PolicyEntry) models.PolicyEntry {
	if !e.PolicyAction.IsSet() {
		e.PolicyAction = models.ActionObserve
	}
	if !e.Priority.IsSet() {
		e.Priority = models.PriorityNormal
	}
	if !e.DSCP.IsSet() {
		e.DSCP = models.DSCPCS0
	}
	return e
}
