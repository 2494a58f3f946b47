package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"qosd-go/internal/models"
)

func TestClassifyRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/v1/qosd/classify" {
			http.NotFound(w, r)
			return
		}
		var req models.ClassificationRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SNI != "zoom.us" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Write([]byte(`{"persona":"voip","category":"voip","priority":"high","policy_action":"boost","dscp":"EF","confidence":92}`))
	}))
	defer srv.Close()

	res, err := New(srv.URL+"/", 0).Classify(context.Background(), models.ClassificationRequest{SNI: "zoom.us"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Persona != models.PersonaVoIP || res.DSCP != models.DSCPEF || res.Confidence != 92 {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"ip is required"}`))
	}))
	defer srv.Close()

	_, err := New(srv.URL, 0).Apply(context.Background(), models.OverrideRequest{})
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if se.Code != http.StatusBadRequest || se.Message != "ip is required" {
		t.Fatalf("unexpected error: %+v", se)
	}
}

func TestPoliciesAndPublish(t *testing.T) {
	var ingested []models.TelemetryEvent
	mux := http.NewServeMux()
	mux.HandleFunc("/policies", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"gaming":{"policy_action":"boost","priority":"high","dscp":"CS6"}}`))
	})
	mux.HandleFunc("/ingest", func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&ingested)
		w.Write([]byte(`{"ok":true}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := New(srv.URL, 0)
	table, err := c.Policies(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if table["gaming"].DSCP != models.DSCPCS6 {
		t.Fatalf("unexpected table: %+v", table)
	}

	err = c.PublishEvents(context.Background(), []models.TelemetryEvent{{Event: "qosd_live", IP: "10.0.0.1"}})
	if err != nil {
		t.Fatal(err)
	}
	if len(ingested) != 1 || ingested[0].IP != "10.0.0.1" {
		t.Fatalf("unexpected ingest body: %+v", ingested)
	}
}
