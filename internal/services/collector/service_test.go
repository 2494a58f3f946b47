package collector

import (
	"context"
	"errors"
	"io"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"qosd-go/internal/models"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

type fakeStore struct {
	inserted []models.TelemetryEvent
	err      error
}

func (f *fakeStore) InsertEvents(_ context.Context, events []models.TelemetryEvent) error {
	if f.err != nil {
		return f.err
	}
	f.inserted = append(f.inserted, events...)
	return nil
}

func (f *fakeStore) RecentEvents(_ context.Context, limit int) ([]models.TelemetryEvent, error) {
	return f.inserted, nil
}

func (f *fakeStore) Close() error { return nil }

func TestIngestKeepsMostRecent(t *testing.T) {
	s := New(testLogger(), Config{MaxEvents: 3}, nil)

	var batch []models.TelemetryEvent
	for _, ip := range []string{"10.0.0.1", "10.0.0.2", "10.0.0.3", "10.0.0.4", "10.0.0.5"} {
		batch = append(batch, models.TelemetryEvent{Event: "qosd_live", IP: ip})
	}
	if n := s.Ingest(context.Background(), batch); n != 5 {
		t.Fatalf("expected 5 accepted, got %d", n)
	}

	recent := s.Recent()
	if len(recent) != 3 {
		t.Fatalf("expected 3 retained, got %d", len(recent))
	}
	if recent[0].IP != "10.0.0.3" || recent[2].IP != "10.0.0.5" {
		t.Fatalf("wrong window: %s..%s", recent[0].IP, recent[2].IP)
	}
	for _, ev := range recent {
		if ev.ID == "" || ev.Timestamp == "" {
			t.Fatalf("id or timestamp not assigned: %+v", ev)
		}
	}
}

func TestIngestKeepsSuppliedID(t *testing.T) {
	s := New(testLogger(), Config{}, nil)
	s.Ingest(context.Background(), []models.TelemetryEvent{{ID: "fixed", Timestamp: "2024-01-01T00:00:00Z"}})

	ev := s.Recent()[0]
	if ev.ID != "fixed" || ev.Timestamp != "2024-01-01T00:00:00Z" {
		t.Fatalf("supplied fields replaced: %+v", ev)
	}
}

func TestPersonaStatsRunningAverage(t *testing.T) {
	s := New(testLogger(), Config{}, nil)
	s.now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }

	s.Ingest(context.Background(), []models.TelemetryEvent{
		{Persona: "Gaming", LatencyMS: 30},
		{Persona: "gaming"},
		{Persona: "gaming", LatencyMS: 60},
		{Category: "VoIP"},
		{},
	})

	stats := s.PersonaStats()
	g := stats["gaming"]
	if g.Count != 3 {
		t.Fatalf("expected 3 gaming events, got %d", g.Count)
	}
	// 30, then (30*2+60)/3
	if math.Abs(g.AvgLatency-40) > 1e-9 {
		t.Fatalf("expected average 40, got %v", g.AvgLatency)
	}
	if g.LastSeen != "2024-05-01T12:00:00Z" {
		t.Fatalf("unexpected last seen %q", g.LastSeen)
	}
	if stats["voip"].Count != 1 || stats["other"].Count != 1 {
		t.Fatalf("category and fallback keys missing: %+v", stats)
	}
}

func TestIngestPersists(t *testing.T) {
	store := &fakeStore{}
	s := New(testLogger(), Config{}, store)

	s.Ingest(context.Background(), []models.TelemetryEvent{{Persona: "iot"}})
	if len(store.inserted) != 1 || store.inserted[0].ID == "" {
		t.Fatalf("event not persisted with id: %+v", store.inserted)
	}

	got, err := s.Stored(context.Background(), 10)
	if err != nil || len(got) != 1 {
		t.Fatalf("stored: %v %d", err, len(got))
	}

	store.err = errors.New("disk full")
	if n := s.Ingest(context.Background(), []models.TelemetryEvent{{Persona: "iot"}}); n != 1 {
		t.Fatal("store failure must not reject events")
	}
	if len(s.Recent()) != 2 {
		t.Fatal("event not kept in memory after store failure")
	}
}

func TestStoredWithoutStore(t *testing.T) {
	s := New(testLogger(), Config{}, nil)
	if _, err := s.Stored(context.Background(), 0); !errors.Is(err, ErrNoStore) {
		t.Fatalf("expected ErrNoStore, got %v", err)
	}
}

func TestPolicyFallback(t *testing.T) {
	s := New(testLogger(), Config{}, nil)

	if p := s.Policy("gaming"); p.DSCP != models.DSCPCS6 || p.Priority != models.PriorityHigh {
		t.Fatalf("unexpected gaming policy: %+v", p)
	}
	if p := s.Policy("toaster"); p != DefaultPolicies()["other"] {
		t.Fatalf("expected other fallback, got %+v", p)
	}
	if len(s.PersonaNames()) != len(models.Personas()) {
		t.Fatalf("expected a default for every persona, got %v", s.PersonaNames())
	}
}

func TestSetPolicyDefaults(t *testing.T) {
	s := New(testLogger(), Config{}, nil)

	key, entry, err := s.SetPolicy(" Streaming ", models.PolicyEntry{DSCP: models.DSCPAF31})
	if err != nil {
		t.Fatal(err)
	}
	if key != "streaming" {
		t.Fatalf("persona not normalized: %q", key)
	}
	if entry.PolicyAction != models.ActionObserve || entry.Priority != models.PriorityNormal || entry.DSCP != models.DSCPAF31 {
		t.Fatalf("unexpected entry: %+v", entry)
	}
	if s.Policy("streaming") != entry {
		t.Fatal("policy not stored")
	}

	if _, _, err := s.SetPolicy("", models.PolicyEntry{}); !errors.Is(err, ErrPersonaRequired) {
		t.Fatalf("expected ErrPersonaRequired, got %v", err)
	}
}

func TestLoadPolicies(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policies.yaml")
	data := `
VoIP:
  policy_action: boost
  priority: high
  dscp: ef
  min_confidence: 80
bulk:
  dscp: cs1
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	s := New(testLogger(), Config{}, nil)
	if err := s.LoadPolicies(path); err != nil {
		t.Fatalf("LoadPolicies: %v", err)
	}

	if got := s.Policies(); len(got) != 2 {
		t.Fatalf("expected table replaced with 2 entries, got %d", len(got))
	}
	v := s.Policy("voip")
	if v.DSCP != models.DSCPEF || v.MinConfidence != 80 {
		t.Fatalf("unexpected voip policy: %+v", v)
	}
	if b := s.Policy("bulk"); b.PolicyAction != models.ActionObserve || b.DSCP != models.DSCPCS1 {
		t.Fatalf("unexpected bulk policy: %+v", b)
	}
}

func TestLoadPoliciesJSONAndErrors(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "policies.json")
	os.WriteFile(good, []byte(`{"gaming": {"policy_action": "boost", "priority": "high", "dscp": "CS4"}}`), 0o644)
	bad := filepath.Join(dir, "bad.yaml")
	os.WriteFile(bad, []byte("gaming:\n  dscp: XX9\n"), 0o644)

	s := New(testLogger(), Config{}, nil)
	if err := s.LoadPolicies(good); err != nil {
		t.Fatalf("json file: %v", err)
	}
	if s.Policy("gaming").DSCP != models.DSCPCS4 {
		t.Fatal("json policy not loaded")
	}

	if err := s.LoadPolicies(bad); err == nil {
		t.Fatal("expected an error for an unknown dscp")
	}
	if err := s.LoadPolicies(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Fatal("expected an error for a missing file")
	}
	if s.Policy("gaming").DSCP != models.DSCPCS4 {
		t.Fatal("failed load replaced the table")
	}
}
