package models

// OverrideRequest is the wire form of an override update.
type OverrideRequest struct {
	IP           string       `json:"ip"`
	Persona      Persona      `json:"persona,omitempty"`
	Priority     Priority     `json:"priority,omitempty"`
	PolicyAction PolicyAction `json:"policy_action,omitempty"`
	DSCP         DSCP         `json:"dscp,omitempty"`
	Confidence   *float64     `json:"confidence,omitempty"`
	Alpha        float64      `json:"alpha,omitempty"`
}

// OverrideResponse acknowledges an applied override.
type OverrideResponse struct {
	OK         bool    `json:"ok"`
	IP         string  `json:"ip"`
	Persona    Persona `json:"persona"`
	Confidence float64 `json:"confidence"`
	Updates    uint    `json:"updates"`
}

// LiveResponse wraps the ranked host list.
type LiveResponse struct {
	Hosts []HostSummary `json:"hosts"`
}

// PolicyEntry is a persona policy as published by the collector, keyed
// by persona name.
type PolicyEntry struct {
	PolicyAction  PolicyAction `json:"policy_action" yaml:"policy_action"`
	Priority      Priority     `json:"priority" yaml:"priority"`
	DSCP          DSCP         `json:"dscp" yaml:"dscp"`
	MinConfidence uint8        `json:"min_confidence,omitempty" yaml:"min_confidence,omitempty"`
}

// ForPersona attaches the entry to a persona.
func (e PolicyEntry) ForPersona(p Persona) PersonaPolicy {
	return PersonaPolicy{
		Name:          p,
		Priority:      e.Priority,
		PolicyAction:  e.PolicyAction,
		DSCP:          e.DSCP,
		MinConfidence: e.MinConfidence,
	}
}
