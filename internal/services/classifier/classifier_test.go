package classifier

import (
	"testing"

	"qosd-go/internal/models"

	"go.uber.org/zap/zaptest"
)

func TestSignaturePrecedesCascade(t *testing.T) {
	c := New(zaptest.NewLogger(t), nil)

	d := c.Classify(&models.ClassificationRequest{Proto: "tcp", SNI: "us04web.ZOOM.us", DstPort: 445}, nil)
	if d.Result.Persona != models.PersonaVoIP {
		t.Fatalf("expected voip, got %s", d.Result.Persona)
	}
	if d.Stage != "signature" || d.Rule != "sni:zoom.us" {
		t.Fatalf("unexpected stage/rule: %s %s", d.Stage, d.Rule)
	}
	if d.Result.Confidence != 92 || d.Result.DSCP != models.DSCPEF {
		t.Fatalf("unexpected result: %+v", d.Result)
	}
}

func TestSignatureOrderIsSignificance(t *testing.T) {
	rule, ok := MatchSignature(DefaultSignatures(), &models.ClassificationRequest{
		SNI:     "www.youtube.com",
		AppHint: "fortnite",
	})
	if !ok || rule.Pattern != "youtube" {
		t.Fatalf("expected the youtube rule, got %+v", rule)
	}
}

func TestVolumeOnlyFlowIsBulk(t *testing.T) {
	c := New(zaptest.NewLogger(t), nil)

	d := c.Classify(&models.ClassificationRequest{
		Proto:      "tcp",
		SrcPort:    40000,
		DstPort:    40001,
		BytesTotal: 301 * 1024 * 1024,
	}, nil)
	if d.Result.Persona != models.PersonaBulk || d.Rule != "bulk" {
		t.Fatalf("expected bulk, got %s via %s", d.Result.Persona, d.Rule)
	}
	if d.Result.PolicyAction != models.ActionThrottle || d.Result.Confidence != 60 {
		t.Fatalf("unexpected result: %+v", d.Result)
	}
}

func TestCascade(t *testing.T) {
	tests := []struct {
		name string
		req  models.ClassificationRequest
		want models.Persona
		conf uint8
		rule string
	}{
		{"voip port", models.ClassificationRequest{Proto: "udp", SrcPort: 40000, DstPort: 5060}, models.PersonaVoIP, 90, "realtime"},
		{"conferencing service", models.ClassificationRequest{ServiceHint: "MS Teams"}, models.PersonaVoIP, 90, "realtime"},
		{"use_srtp extension", models.ClassificationRequest{JA3: "771,4865-4866,0-14-23,29,0"}, models.PersonaVoIP, 90, "realtime"},
		{"dtls handshake", models.ClassificationRequest{JA3: "65277,49195,0-23,29,0"}, models.PersonaVoIP, 88, "realtime"},
		{"console hostname", models.ClassificationRequest{Hostname: "PS5-living-room"}, models.PersonaGaming, 85, "gaming"},
		{"gaming source port", models.ClassificationRequest{SrcPort: 27015, DstPort: 40000}, models.PersonaGaming, 85, "gaming"},
		{"h3 video host", models.ClassificationRequest{ALPN: "h3", SNI: "rr3.googlevideo.com"}, models.PersonaStreaming, 82, "streaming"},
		{"streaming dns", models.ClassificationRequest{DNSName: "ipv4-c001.nflxvideo.net", DstPort: 40000}, models.PersonaStreaming, 75, "streaming"},
		{"rtmp dst port", models.ClassificationRequest{DstPort: 1935}, models.PersonaStreaming, 75, "streaming"},
		{"rtmp src port only", models.ClassificationRequest{SrcPort: 1935, DstPort: 40000, Proto: "tcp"}, models.PersonaOther, 20, "default"},
		{"ssh", models.ClassificationRequest{DstPort: 22}, models.PersonaWork, 65, "work"},
		{"camera", models.ClassificationRequest{Hostname: "garage-cam", DstPort: 40000}, models.PersonaIoT, 55, "iot"},
		{"smb", models.ClassificationRequest{SrcPort: 445, DstPort: 40000}, models.PersonaBulk, 60, "bulk"},
		{"udp", models.ClassificationRequest{Proto: "UDP", SrcPort: 40000, DstPort: 40001}, models.PersonaLatency, 50, "connectionless"},
		{"nothing", models.ClassificationRequest{Proto: "tcp", SrcPort: 40000, DstPort: 40001}, models.PersonaOther, 20, "default"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, rule := RunCascade(DefaultCascade(), &tt.req)
			if res.Persona != tt.want || res.Confidence != tt.conf || rule != tt.rule {
				t.Fatalf("got %s/%d via %s, want %s/%d via %s", res.Persona, res.Confidence, rule, tt.want, tt.conf, tt.rule)
			}
		})
	}
}

func TestRefine(t *testing.T) {
	base := models.ClassificationResult{Persona: models.PersonaGaming, Priority: models.PriorityMedium, PolicyAction: models.ActionBoost, Confidence: 85}

	got := Refine(base, &models.ClassificationRequest{LatencyMS: 200})
	if got.Confidence != 95 {
		t.Fatalf("latency bonus: got %d", got.Confidence)
	}

	got = Refine(base, &models.ClassificationRequest{LatencyMS: 200, ALPN: "h3"})
	if got.Confidence != 95 {
		t.Fatalf("h3 bonus must not apply at 95: got %d", got.Confidence)
	}

	throttled := base
	throttled.PolicyAction = models.ActionThrottle
	if got := Refine(throttled, &models.ClassificationRequest{LatencyMS: 200}); got.Confidence != 85 {
		t.Fatalf("latency bonus applied to non-boost result: %d", got.Confidence)
	}

	got = Refine(base, &models.ClassificationRequest{AppHint: "Mission-Critical"})
	if got.Confidence != 100 || got.Priority != models.PriorityHigh || got.PolicyAction != models.ActionBoost {
		t.Fatalf("critical hint: %+v", got)
	}

	low := models.ClassificationResult{Persona: models.PersonaIoT, PolicyAction: models.ActionObserve, Confidence: 55}
	got = Refine(low, &models.ClassificationRequest{AppHint: "critical", ALPN: "h3-29"})
	if got.Confidence != 75 || got.PolicyAction != models.ActionBoost {
		t.Fatalf("critical then h3: %+v", got)
	}
}

func TestPolicyOverlay(t *testing.T) {
	c := New(zaptest.NewLogger(t), []models.PersonaPolicy{
		{Name: models.PersonaBulk, Priority: models.PriorityBulk, DSCP: models.DSCPCS0, MinConfidence: 70},
		{Name: models.PersonaBulk, Priority: models.PriorityHigh},
		{Name: models.PersonaVoIP, MinConfidence: 10},
	})

	d := c.Classify(&models.ClassificationRequest{SrcPort: 445, DstPort: 40000}, nil)
	if !d.PolicyApplied {
		t.Fatal("policy not applied")
	}
	if d.Result.Priority != models.PriorityBulk || d.Result.DSCP != models.DSCPCS0 {
		t.Fatalf("policy fields not overlaid: %+v", d.Result)
	}
	if d.Result.PolicyAction != models.ActionThrottle {
		t.Fatalf("unset policy action overwrote result: %s", d.Result.PolicyAction)
	}
	if d.Result.Confidence != 70 {
		t.Fatalf("expected confidence raised to 70, got %d", d.Result.Confidence)
	}

	d = c.Classify(&models.ClassificationRequest{SNI: "zoom.us"}, nil)
	if d.Result.Confidence != 92 {
		t.Fatalf("policy floor lowered confidence: %d", d.Result.Confidence)
	}

	d = c.Classify(&models.ClassificationRequest{DstPort: 22}, nil)
	if d.PolicyApplied {
		t.Fatal("policy applied to a persona without one")
	}
}

type fixedArbitrator struct {
	res  models.ClassificationResult
	seen [2]string
}

func (f *fixedArbitrator) Arbitrate(src, dst string, res models.ClassificationResult) (models.ClassificationResult, bool) {
	f.seen = [2]string{src, dst}
	return f.res, true
}

func TestArbitrationRunsAfterRefineAndBeforePolicy(t *testing.T) {
	c := New(zaptest.NewLogger(t), []models.PersonaPolicy{{Name: models.PersonaIoT, MinConfidence: 90}})
	arb := &fixedArbitrator{res: models.ClassificationResult{Persona: models.PersonaIoT, Confidence: 40}}

	d := c.Classify(&models.ClassificationRequest{SrcIP: "10.0.0.1", DstIP: "10.0.0.2", DstPort: 22}, arb)
	if !d.Overridden || d.Result.Persona != models.PersonaIoT {
		t.Fatalf("override not used: %+v", d)
	}
	if d.Result.Confidence != 90 {
		t.Fatalf("policy floor not applied after override: %d", d.Result.Confidence)
	}
	if arb.seen != [2]string{"10.0.0.1", "10.0.0.2"} {
		t.Fatalf("arbitrator saw %v", arb.seen)
	}
}

func TestConfidenceBoundsAndDeterminism(t *testing.T) {
	c := New(zaptest.NewLogger(t), nil)

	reqs := []models.ClassificationRequest{
		{},
		{SNI: "zoom.us", LatencyMS: 1000, AppHint: "critical", ALPN: "h3"},
		{ServiceHint: "backup", AppHint: "critical", LatencyMS: 151},
		{JA3: "65279,1-2,14,0,0", ALPN: "h3", AppHint: "critical"},
		{Proto: "udp", BytesTotal: ^uint64(0), LatencyMS: ^uint32(0)},
	}
	for i := range reqs {
		first := c.Classify(&reqs[i], nil)
		second := c.Classify(&reqs[i], nil)
		if first != second {
			t.Fatalf("request %d classified differently: %+v vs %+v", i, first, second)
		}
		if first.Result.Confidence > 100 {
			t.Fatalf("request %d confidence %d out of range", i, first.Result.Confidence)
		}
	}

	if d := c.Classify(nil, nil); d.Result != models.DefaultResult() {
		t.Fatalf("nil request: %+v", d.Result)
	}
}
