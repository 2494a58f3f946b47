package classifier

import "qosd-go/internal/models"

// PolicySet holds at most one persona policy per persona.
type PolicySet map[models.Persona]models.PersonaPolicy

// NewPolicySet indexes policies by persona. Policies without a persona are
// skipped; on duplicates the first one wins.
func NewPolicySet(policies []models.PersonaPolicy) PolicySet {
	set := make(PolicySet, len(policies))
	for _, p := range policies {
		if !p.Name.IsSet() {
			continue
		}
		if _, exists := set[p.Name]; exists {
			continue
		}
		set[p.Name] = p
	}
	return set
}

// Apply overlays the policy for the result's persona, if any. Confidence is
// raised to the policy floor but never lowered.
func (s PolicySet) Apply(res models.ClassificationResult) (models.ClassificationResult, bool) {
	policy, ok := s[res.Persona]
	if !ok {
		return res, false
	}
	if policy.Priority.IsSet() {
		res.Priority = policy.Priority
	}
	if policy.PolicyAction.IsSet() {
		res.PolicyAction = policy.PolicyAction
	}
	if policy.DSCP.IsSet() {
		res.DSCP = policy.DSCP
	}
	if floor := models.ClampConfidence(int(policy.MinConfidence)); res.Confidence < floor {
		res.Confidence = floor
	}
	return res, true
}

// List returns the policies in persona order.
func (s PolicySet) List() []models.PersonaPolicy {
	out := make([]models.PersonaPolicy, 0, len(s))
	for _, p := range models.Personas() {
		if policy, ok := s[p]; ok {
			out = append(out, policy)
		}
	}
	return out
}
