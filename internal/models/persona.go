package models

import (
	"fmt"
	"strings"
)

// Persona is the coarse usage category assigned to a flow.
// The zero value means "unset".
type Persona uint8

const (
	PersonaUnset Persona = iota
	PersonaVoIP
	PersonaGaming
	PersonaStreaming
	PersonaWork
	PersonaIoT
	PersonaBulk
	PersonaLatency
	PersonaOther
)

var personaNames = []string{"", "voip", "gaming", "streaming", "work", "iot", "bulk", "latency", "other"}

// Personas lists every assignable persona in declaration order.
func Personas() []Persona {
	return []Persona{
		PersonaVoIP, PersonaGaming, PersonaStreaming, PersonaWork,
		PersonaIoT, PersonaBulk, PersonaLatency, PersonaOther,
	}
}

func (p Persona) String() string { return nameOf(personaNames, int(p)) }
func (p Persona) IsSet() bool { return p != PersonaUnset && int(p) < len(personaNames) }
func (p Persona) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

func (p *Persona) UnmarshalText(text []byte) error {
	v, err := ParsePersona(string(text))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// ParsePersona maps a persona name to its enumeration. An empty string
// yields PersonaUnset without error.
func ParsePersona(s string) (Persona, error) {
	idx, err := parseName(personaNames, strings.ToLower(s), "persona")
	return Persona(idx), err
}

// Priority is the queuing priority attached to a result.
type Priority uint8

const (
	PriorityUnset Priority = iota
	PriorityHigh
	PriorityMedium
	PriorityLow
	PriorityBulk
	PriorityNormal
)

var priorityNames = []string{"", "high", "medium", "low", "bulk", "normal"}

func (p Priority) String() string { return nameOf(priorityNames, int(p)) }
func (p Priority) IsSet() bool { return p != PriorityUnset && int(p) < len(priorityNames) }
func (p Priority) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

func (p *Priority) UnmarshalText(text []byte) error {
	v, err := ParsePriority(string(text))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// ParsePriority maps a priority name to its enumeration.
func ParsePriority(s string) (Priority, error) {
	idx, err := parseName(priorityNames, strings.ToLower(s), "priority")
	return Priority(idx), err
}

// PolicyAction is what the queuing layer should do with the flow.
type PolicyAction uint8

const (
	ActionUnset PolicyAction = iota
	ActionBoost
	ActionThrottle
	ActionObserve
)

var actionNames = []string{"", "boost", "throttle", "observe"}

func (a PolicyAction) String() string { return nameOf(actionNames, int(a)) }
func (a PolicyAction) IsSet() bool { return a != ActionUnset && int(a) < len(actionNames) }
func (a PolicyAction) MarshalText() ([]byte, error) { return []byte(a.String()), nil }

func (a *PolicyAction) UnmarshalText(text []byte) error {
	v, err := ParsePolicyAction(string(text))
	if err != nil {
		return err
	}
	*a = v
	return nil
}

// ParsePolicyAction maps an action name to its enumeration.
func ParsePolicyAction(s string) (PolicyAction, error) {
	idx, err := parseName(actionNames, strings.ToLower(s), "policy action")
	return PolicyAction(idx), err
}

// DSCP is a differentiated-services class name (CSx, AFxy or EF).
type DSCP uint8

const (
	DSCPUnset DSCP = iota
	DSCPCS0
	DSCPCS1
	DSCPCS2
	DSCPCS3
	DSCPCS4
	DSCPCS5
	DSCPCS6
	DSCPCS7
	DSCPAF11
	DSCPAF12
	DSCPAF13
	DSCPAF21
	DSCPAF22
	DSCPAF23
	DSCPAF31
	DSCPAF32
	DSCPAF33
	DSCPAF41
	DSCPAF42
	DSCPAF43
	DSCPEF
)

var dscpNames = []string{
	"",
	"CS0", "CS1", "CS2", "CS3", "CS4", "CS5", "CS6", "CS7",
	"AF11", "AF12", "AF13", "AF21", "AF22", "AF23",
	"AF31", "AF32", "AF33", "AF41", "AF42", "AF43",
	"EF",
}

func (d DSCP) String() string { return nameOf(dscpNames, int(d)) }
func (d DSCP) IsSet() bool { return d != DSCPUnset && int(d) < len(dscpNames) }
func (d DSCP) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

func (d *DSCP) UnmarshalText(text []byte) error {
	v, err := ParseDSCP(string(text))
	if err != nil {
		return err
	}
	*d = v
	return nil
}

// Codepoint returns the 6-bit DS field value for the class.
func (d DSCP) Codepoint() uint8 {
	switch {
	case d >= DSCPCS0 && d <= DSCPCS7:
		return uint8(d-DSCPCS0) << 3
	case d >= DSCPAF11 && d <= DSCPAF43:
		n := uint8(d - DSCPAF11)
		class, drop := n/3+1, n%3+1
		return class<<3 | drop<<1
	case d == DSCPEF:
		return 46
	}
	return 0
}

// ParseDSCP maps a class name, in any case, to its enumeration.
func ParseDSCP(s string) (DSCP, error) {
	idx, err := parseName(dscpNames, strings.ToUpper(s), "dscp")
	return DSCP(idx), err
}

func nameOf(names []string, idx int) string {
	if idx < 0 || idx >= len(names) {
		return ""
	}
	return names[idx]
}

func parseName(names []string, s, kind string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	for i, name := range names {
		if i > 0 && name == s {
			return i, nil
		}
	}
	return 0, fmt.Errorf("unknown %s %q", kind, s)
}
