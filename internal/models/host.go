package models

import "time"

// HostRecord is the tracker's per-address state. Identity fields (MAC,
// Hostname) survive between ticks; counters and classification are
// recomputed every tick.
type HostRecord struct {
	IP       string
	MAC      string
	Hostname string

	Persona      Persona
	Priority     Priority
	PolicyAction PolicyAction
	DSCP         DSCP
	Confidence   uint8

	CurRxBytes  uint64
	CurTxBytes  uint64
	PrevRxBytes uint64
	PrevTxBytes uint64

	RxBps uint64
	TxBps uint64

	LastSeen time.Time
}

// HostSummary is the outward view of a host returned by the live query.
type HostSummary struct {
	IP           string       `json:"ip"`
	MAC          string       `json:"mac"`
	Hostname     string       `json:"hostname"`
	Persona      Persona      `json:"persona"`
	Category     Persona      `json:"category"`
	Priority     Priority     `json:"priority"`
	PolicyAction PolicyAction `json:"policy_action"`
	DSCP         DSCP         `json:"dscp"`
	Confidence   uint8        `json:"confidence"`
	RxBps        uint64       `json:"rx_bps"`
	TxBps        uint64       `json:"tx_bps"`
	LastSeen     int64        `json:"last_seen"`
}

// Summary projects the record into its outward form.
func (h *HostRecord) Summary() HostSummary {
	var seen int64
	if !h.LastSeen.IsZero() {
		seen = h.LastSeen.Unix()
	}
	return HostSummary{
		IP:           h.IP,
		MAC:          h.MAC,
		Hostname:     h.Hostname,
		Persona:      h.Persona,
		Category:     h.Persona,
		Priority:     h.Priority,
		PolicyAction: h.PolicyAction,
		DSCP:         h.DSCP,
		Confidence:   h.Confidence,
		RxBps:        h.RxBps,
		TxBps:        h.TxBps,
		LastSeen:     seen,
	}
}

// SetResult copies a classification outcome onto the host.
func (h *HostRecord) SetResult(res ClassificationResult) {
	h.Persona = res.Persona
	h.Priority = res.Priority
	h.PolicyAction = res.PolicyAction
	h.DSCP = res.DSCP
	h.Confidence = res.Confidence
}

// TelemetryEvent is one record shipped from a router to the collector.
type TelemetryEvent struct {
	ID         string  `json:"id,omitempty"`
	Event      string  `json:"event"`
	Timestamp  string  `json:"timestamp"`
	Router     string  `json:"router,omitempty"`
	IP         string  `json:"ip,omitempty"`
	Hostname   string  `json:"hostname,omitempty"`
	Persona    string  `json:"persona,omitempty"`
	Category   string  `json:"category,omitempty"`
	Priority   string  `json:"priority,omitempty"`
	Policy     string  `json:"policy_action,omitempty"`
	DSCP       string  `json:"dscp,omitempty"`
	Confidence int     `json:"confidence"`
	LatencyMS  float64 `json:"latency_ms,omitempty"`
	RxBps      uint64  `json:"rx_bps,omitempty"`
	TxBps      uint64  `json:"tx_bps,omitempty"`
}
