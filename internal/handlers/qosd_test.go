package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"qosd-go/internal/models"
	"qosd-go/internal/services/live"
	"qosd-go/internal/services/qosd"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap/zaptest"
)

type fakeSource struct {
	snap live.Snapshot
}

func (f *fakeSource) Snapshot(context.Context) live.Snapshot { return f.snap }

type testClock struct{ now time.Time }

func (c *testClock) Now() time.Time { return c.now }

func newRouter(t *testing.T, cfg qosd.Config, src live.Source) (*gin.Engine, *testClock) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := zaptest.NewLogger(t)

	clock := &testClock{now: time.Unix(1700000000, 0)}
	svc := qosd.New(logger, cfg, nil, src, qosd.WithClock(clock.Now))

	r := gin.New()
	NewQosdHandler(svc, logger).RegisterRoutes(r)
	return r, clock
}

func do(r http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestClassifyEndpoint(t *testing.T) {
	r, _ := newRouter(t, qosd.Config{}, nil)

	w := do(r, http.MethodPost, "/api/v1/qosd/classify", models.ClassificationRequest{
		Proto:   "tcp",
		SNI:     "us04web.zoom.us",
		DstPort: 445,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}

	var res map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if res["persona"] != "voip" || res["category"] != "voip" || res["dscp"] != "EF" {
		t.Fatalf("unexpected result: %v", res)
	}
	if res["confidence"].(float64) != 92 {
		t.Fatalf("confidence=%v", res["confidence"])
	}
}

func TestClassifyRejectsBadJSON(t *testing.T) {
	r, _ := newRouter(t, qosd.Config{}, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/qosd/classify", bytes.NewBufferString("{"))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status=%d", w.Code)
	}
}

func TestApplyEndpoint(t *testing.T) {
	r, _ := newRouter(t, qosd.Config{MaxOverrides: 1}, nil)

	conf := 70.0
	w := do(r, http.MethodPost, "/api/v1/qosd/apply", models.OverrideRequest{
		IP: "192.168.1.50", Persona: models.PersonaGaming, Confidence: &conf,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	var resp models.OverrideResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !resp.OK || resp.Persona != models.PersonaGaming || resp.Updates != 1 || resp.Confidence != 70 {
		t.Fatalf("unexpected response: %+v", resp)
	}

	if w := do(r, http.MethodPost, "/api/v1/qosd/apply", models.OverrideRequest{Persona: models.PersonaGaming}); w.Code != http.StatusBadRequest {
		t.Fatalf("missing ip: status=%d", w.Code)
	}

	if w := do(r, http.MethodPost, "/api/v1/qosd/apply", models.OverrideRequest{IP: "192.168.1.51", Persona: models.PersonaBulk}); w.Code != http.StatusInsufficientStorage {
		t.Fatalf("store full: status=%d", w.Code)
	}

	if w := do(r, http.MethodGet, "/api/v1/qosd/overrides/192.168.1.50", nil); w.Code != http.StatusOK {
		t.Fatalf("get override: status=%d", w.Code)
	}
	if w := do(r, http.MethodDelete, "/api/v1/qosd/overrides", nil); w.Code != http.StatusOK {
		t.Fatalf("reset: status=%d", w.Code)
	}
	if w := do(r, http.MethodGet, "/api/v1/qosd/overrides/192.168.1.50", nil); w.Code != http.StatusNotFound {
		t.Fatalf("after reset: status=%d", w.Code)
	}
}

func TestApplyRejectsUnknownPersona(t *testing.T) {
	r, _ := newRouter(t, qosd.Config{}, nil)

	w := do(r, http.MethodPost, "/api/v1/qosd/apply", map[string]interface{}{"ip": "10.0.0.1", "persona": "telepathy"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status=%d", w.Code)
	}
}

func TestLiveEndpoint(t *testing.T) {
	src := &fakeSource{}
	r, clock := newRouter(t, qosd.Config{}, src)

	src.snap = live.Snapshot{Conntrack: []live.ConntrackRow{
		{Proto: "tcp", Src: "192.168.1.10", Dst: "10.0.0.1", SrcPort: 40000, DstPort: 22, OrigBytes: 1000},
		{Proto: "tcp", Src: "192.168.1.11", Dst: "10.0.0.1", SrcPort: 40001, DstPort: 22, OrigBytes: 500},
	}}
	do(r, http.MethodGet, "/api/v1/qosd/live", nil)

	clock.now = clock.now.Add(2 * time.Second)
	src.snap.Conntrack[0].OrigBytes = 9000
	src.snap.Conntrack[1].OrigBytes = 1500
	w := do(r, http.MethodGet, "/api/v1/qosd/live?limit=1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}

	var resp models.LiveResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(resp.Hosts) != 1 {
		t.Fatalf("expected 1 host, got %d", len(resp.Hosts))
	}
	if resp.Hosts[0].IP != "192.168.1.10" || resp.Hosts[0].TxBps != 32000 {
		t.Fatalf("unexpected host: %+v", resp.Hosts[0])
	}
	if resp.Hosts[0].Persona != models.PersonaWork {
		t.Fatalf("expected work persona from port 22, got %s", resp.Hosts[0].Persona)
	}

	if w := do(r, http.MethodGet, "/api/v1/qosd/live?limit=abc", nil); w.Code != http.StatusBadRequest {
		t.Fatalf("bad limit: status=%d", w.Code)
	}
	if w := do(r, http.MethodDelete, "/api/v1/qosd/hosts", nil); w.Code != http.StatusOK {
		t.Fatalf("reset hosts: status=%d", w.Code)
	}
}

func TestPoliciesEndpoint(t *testing.T) {
	gin.SetMode(gin.TestMode)
	logger := zaptest.NewLogger(t)
	svc := qosd.New(logger, qosd.Config{}, []models.PersonaPolicy{
		{Name: models.PersonaGaming, Priority: models.PriorityHigh, PolicyAction: models.ActionBoost, DSCP: models.DSCPCS4},
	}, nil)

	r := gin.New()
	NewQosdHandler(svc, logger).RegisterRoutes(r)

	w := do(r, http.MethodGet, "/api/v1/qosd/policies", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}

	var resp struct {
		Count    int `json:"count"`
		Policies []struct {
			Persona string `json:"persona"`
			DSCP    string `json:"dscp"`
		} `json:"policies"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Count != 1 || len(resp.Policies) != 1 {
		t.Fatalf("unexpected policies: %s", w.Body.String())
	}
	if resp.Policies[0].Persona != "gaming" || resp.Policies[0].DSCP != "CS4" {
		t.Fatalf("unexpected policy: %+v", resp.Policies[0])
	}
}

func TestLiveLimitZeroReturnsAllAndNegativeIsRejected(t *testing.T) {
	src := &fakeSource{snap: live.Snapshot{Conntrack: []live.ConntrackRow{
		{Proto: "tcp", Src: "192.168.1.10", Dst: "10.0.0.1", SrcPort: 40000, DstPort: 22, OrigBytes: 1000},
		{Proto: "tcp", Src: "192.168.1.11", Dst: "10.0.0.1", SrcPort: 40001, DstPort: 22, OrigBytes: 500},
	}}}
	r, _ := newRouter(t, qosd.Config{}, src)

	if w := do(r, http.MethodGet, "/api/v1/qosd/live?limit=-1", nil); w.Code != http.StatusBadRequest {
		t.Fatalf("negative limit: status=%d", w.Code)
	}

	w := do(r, http.MethodGet, "/api/v1/qosd/live?limit=0", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	var resp models.LiveResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	// Both sources plus the shared destination.
	if len(resp.Hosts) != 3 {
		t.Fatalf("expected every host, got %d", len(resp.Hosts))
	}
}
