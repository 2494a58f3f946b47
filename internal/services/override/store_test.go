package override

import (
	"errors"
	"math"
	"testing"

	"qosd-go/internal/models"
)

func conf(v float64) *float64 { return &v }

func TestApplyBlendsConfidence(t *testing.T) {
	s := NewStore(0)

	if _, err := s.Apply(ApplyRequest{IP: "192.168.1.20", Persona: models.PersonaGaming, Confidence: conf(70)}); err != nil {
		t.Fatalf("first apply: %v", err)
	}
	ov, err := s.Apply(ApplyRequest{IP: "192.168.1.20", Confidence: conf(90), Alpha: 0.5})
	if err != nil {
		t.Fatalf("second apply: %v", err)
	}

	if ov.Confidence != 80 {
		t.Fatalf("expected blended confidence 80, got %v", ov.Confidence)
	}
	if ov.Updates != 2 || ov.Alpha != 0.5 {
		t.Fatalf("unexpected bookkeeping: updates=%d alpha=%v", ov.Updates, ov.Alpha)
	}
	if ov.Persona != models.PersonaGaming {
		t.Fatalf("persona lost on partial update: %s", ov.Persona)
	}
}

func TestApplyDefaultAlpha(t *testing.T) {
	s := NewStore(0)

	s.Apply(ApplyRequest{IP: "10.0.0.1", Confidence: conf(50)})
	ov, _ := s.Apply(ApplyRequest{IP: "10.0.0.1", Confidence: conf(100), Alpha: 1.5})

	if ov.Alpha != DefaultAlpha {
		t.Fatalf("out of range alpha kept: %v", ov.Alpha)
	}
	if math.Abs(ov.Confidence-80) > 1e-9 {
		t.Fatalf("expected 0.6*100 + 0.4*50 = 80, got %v", ov.Confidence)
	}
}

func TestApplyWithoutConfidenceCountsUpdate(t *testing.T) {
	s := NewStore(0)

	ov, _ := s.Apply(ApplyRequest{IP: "10.0.0.1", Persona: models.PersonaIoT})
	if ov.Updates != 1 || ov.Confidence != 0 {
		t.Fatalf("unexpected entry: %+v", ov)
	}

	// The first sample after a confidence-less update is blended, not taken.
	ov, _ = s.Apply(ApplyRequest{IP: "10.0.0.1", Confidence: conf(100)})
	if math.Abs(ov.Confidence-60) > 1e-9 {
		t.Fatalf("expected 60, got %v", ov.Confidence)
	}
}

func TestApplyValidation(t *testing.T) {
	s := NewStore(0)

	if _, err := s.Apply(ApplyRequest{IP: "  "}); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected invalid argument, got %v", err)
	}
	if _, err := s.Apply(ApplyRequest{IP: "10.0.0.1", Confidence: conf(math.NaN())}); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected invalid argument for NaN, got %v", err)
	}
	if s.Len() != 0 {
		t.Fatalf("rejected requests created entries: %d", s.Len())
	}
}

func TestApplyNegativeConfidenceIsNoSample(t *testing.T) {
	s := NewStore(0)

	s.Apply(ApplyRequest{IP: "10.0.0.1", Persona: models.PersonaGaming, Confidence: conf(80)})
	ov, err := s.Apply(ApplyRequest{IP: "10.0.0.1", Confidence: conf(-1)})
	if err != nil {
		t.Fatalf("negative sample rejected: %v", err)
	}
	if ov.Confidence != 80 || ov.Updates != 2 {
		t.Fatalf("expected confidence 80 after 2 updates, got %v after %d", ov.Confidence, ov.Updates)
	}

	ov, _ = s.Apply(ApplyRequest{IP: "10.0.0.2", Persona: models.PersonaIoT, Confidence: conf(-5)})
	if ov.Confidence != 0 || ov.Updates != 1 {
		t.Fatalf("unexpected new entry: %+v", ov)
	}
}

func TestApplyRejectsConfidenceAbove100(t *testing.T) {
	s := NewStore(0)

	if _, err := s.Apply(ApplyRequest{IP: "10.0.0.1", Confidence: conf(500)}); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected invalid argument, got %v", err)
	}
	if s.Len() != 0 {
		t.Fatalf("rejected request created an entry")
	}

	ov, err := s.Apply(ApplyRequest{IP: "10.0.0.1", Confidence: conf(100)})
	if err != nil || ov.Confidence != 100 {
		t.Fatalf("100 should be accepted: %+v, %v", ov, err)
	}
}

func TestStoreFull(t *testing.T) {
	s := NewStore(2)

	for _, ip := range []string{"10.0.0.1", "10.0.0.2"} {
		if _, err := s.Apply(ApplyRequest{IP: ip, Persona: models.PersonaWork}); err != nil {
			t.Fatalf("apply %s: %v", ip, err)
		}
	}
	if _, err := s.Apply(ApplyRequest{IP: "10.0.0.3", Persona: models.PersonaWork}); !errors.Is(err, ErrStoreFull) {
		t.Fatalf("expected store full, got %v", err)
	}
	if _, err := s.Apply(ApplyRequest{IP: "10.0.0.1", Persona: models.PersonaBulk}); err != nil {
		t.Fatalf("updating an existing address must succeed when full: %v", err)
	}

	s.Reset()
	if _, err := s.Apply(ApplyRequest{IP: "10.0.0.3"}); err != nil {
		t.Fatalf("apply after reset: %v", err)
	}
}

func computed(persona models.Persona, confidence uint8) models.ClassificationResult {
	return models.ClassificationResult{
		Persona:      persona,
		Priority:     models.PriorityMedium,
		PolicyAction: models.ActionBoost,
		DSCP:         models.DSCPAF21,
		Confidence:   confidence,
	}
}

func TestArbitrateLowerConfidenceNeverWins(t *testing.T) {
	s := NewStore(0)
	s.Apply(ApplyRequest{IP: "10.0.0.1", Persona: models.PersonaBulk, Confidence: conf(60)})

	res, applied := s.Arbitrate("10.0.0.1", "", computed(models.PersonaWork, 65))
	if applied || res.Persona != models.PersonaWork {
		t.Fatalf("lower confidence override replaced result: %+v", res)
	}
}

func TestArbitrateReplacesResult(t *testing.T) {
	s := NewStore(0)
	s.Apply(ApplyRequest{IP: "10.0.0.1", Persona: models.PersonaGaming, DSCP: models.DSCPCS6, Confidence: conf(65.4)})

	res, applied := s.Arbitrate("192.168.1.1", "10.0.0.1", computed(models.PersonaWork, 65))
	if !applied {
		t.Fatal("override not applied")
	}
	if res.Persona != models.PersonaGaming || res.DSCP != models.DSCPCS6 {
		t.Fatalf("override fields not applied: %+v", res)
	}
	if res.Priority != models.PriorityMedium || res.PolicyAction != models.ActionBoost {
		t.Fatalf("unset override fields replaced result: %+v", res)
	}
	if res.Confidence != 65 {
		t.Fatalf("expected rounded confidence 65, got %d", res.Confidence)
	}
}

func TestArbitratePrefersHigherEndpointAndSourceOnTie(t *testing.T) {
	s := NewStore(0)
	s.Apply(ApplyRequest{IP: "src", Persona: models.PersonaStreaming, Confidence: conf(70)})
	s.Apply(ApplyRequest{IP: "dst", Persona: models.PersonaVoIP, Confidence: conf(90)})

	res, _ := s.Arbitrate("src", "dst", computed(models.PersonaOther, 20))
	if res.Persona != models.PersonaVoIP {
		t.Fatalf("expected the higher destination override, got %s", res.Persona)
	}

	s.Restore(models.PersonaOverride{IP: "src", Persona: models.PersonaStreaming, Confidence: 80, Updates: 3})
	s.Restore(models.PersonaOverride{IP: "dst", Persona: models.PersonaVoIP, Confidence: 80, Updates: 3})

	res, _ = s.Arbitrate("src", "dst", computed(models.PersonaOther, 20))
	if res.Persona != models.PersonaStreaming {
		t.Fatalf("expected the source override on a tie, got %s", res.Persona)
	}
}

func TestArbitrateIgnoresPersonalessOverride(t *testing.T) {
	s := NewStore(0)
	s.Apply(ApplyRequest{IP: "10.0.0.1", Confidence: conf(99)})

	if _, applied := s.Arbitrate("10.0.0.1", "", computed(models.PersonaWork, 10)); applied {
		t.Fatal("override without persona applied")
	}
}

func TestArbitrateClampsConfidence(t *testing.T) {
	s := NewStore(0)
	if err := s.Restore(models.PersonaOverride{IP: "10.0.0.1", Persona: models.PersonaVoIP, Confidence: 250}); err != nil {
		t.Fatalf("restore: %v", err)
	}

	res, applied := s.Arbitrate("10.0.0.1", "", computed(models.PersonaWork, 65))
	if !applied || res.Confidence != 100 {
		t.Fatalf("expected clamped 100, got %d (applied=%v)", res.Confidence, applied)
	}
}

func TestSnapshotAndRestore(t *testing.T) {
	s := NewStore(0)
	s.Apply(ApplyRequest{IP: "10.0.0.2", Persona: models.PersonaIoT})
	s.Apply(ApplyRequest{IP: "10.0.0.1", Persona: models.PersonaBulk})

	snap := s.Snapshot()
	if len(snap) != 2 || snap[0].IP != "10.0.0.1" {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}

	restored := NewStore(0)
	for _, ov := range snap {
		if err := restored.Restore(ov); err != nil {
			t.Fatalf("restore: %v", err)
		}
	}
	got, ok := restored.Lookup("10.0.0.2")
	if !ok || got.Persona != models.PersonaIoT || got.Alpha != DefaultAlpha {
		t.Fatalf("unexpected restored entry: %+v", got)
	}
}
