package models

// ClassificationRequest describes one observed flow plus the hints an
// external observer could attach to it. Absent strings are empty.
type ClassificationRequest struct {
	Proto       string `json:"proto"`
	SrcIP       string `json:"src"`
	DstIP       string `json:"dst"`
	SrcPort     uint16 `json:"src_port"`
	DstPort     uint16 `json:"dst_port"`
	Hostname    string `json:"hostname"`
	ServiceHint string `json:"service_hint"`
	DNSName     string `json:"dns_name"`
	AppHint     string `json:"app_hint"`
	SNI         string `json:"sni"`
	ALPN        string `json:"alpn"`
	JA3         string `json:"ja3"`
	BytesTotal  uint64 `json:"bytes_total"`
	LatencyMS   uint32 `json:"latency_ms"`
}

// ClassificationResult is the outcome of the classification pipeline.
type ClassificationResult struct {
	Persona      Persona      `json:"persona"`
	Priority     Priority     `json:"priority"`
	PolicyAction PolicyAction `json:"policy_action"`
	DSCP         DSCP         `json:"dscp"`
	Confidence   uint8        `json:"confidence"`
}

// DefaultResult is returned whenever nothing better is known about a flow.
func DefaultResult() ClassificationResult {
	return ClassificationResult{
		Persona:      PersonaOther,
		Priority:     PriorityNormal,
		PolicyAction: ActionObserve,
		DSCP:         DSCPCS0,
		Confidence:   20,
	}
}

// ClampConfidence bounds a score to the 0..100 range.
func ClampConfidence(v int) uint8 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return uint8(v)
}

// PersonaOverride is a sticky, address-scoped classification whose
// confidence is blended across repeated updates.
type PersonaOverride struct {
	IP           string       `json:"ip"`
	Persona      Persona      `json:"persona"`
	Priority     Priority     `json:"priority"`
	PolicyAction PolicyAction `json:"policy_action"`
	DSCP         DSCP         `json:"dscp"`
	Confidence   float64      `json:"confidence"`
	Alpha        float64      `json:"alpha"`
	Updates      uint         `json:"updates"`
}

// PersonaPolicy is an operator supplied floor applied after classification.
type PersonaPolicy struct {
	Name          Persona      `yaml:"name" json:"persona"`
	Priority      Priority     `yaml:"priority" json:"priority"`
	PolicyAction  PolicyAction `yaml:"policy_action" json:"policy_action"`
	DSCP          DSCP         `yaml:"dscp" json:"dscp"`
	MinConfidence uint8        `yaml:"min_confidence" json:"min_confidence"`
}
