package classifier

import (
	"qosd-go/internal/models"

	"go.uber.org/zap"
)

// Arbitrator lets address-scoped overrides replace a computed result.
type Arbitrator interface {
	Arbitrate(srcIP, dstIP string, res models.ClassificationResult) (models.ClassificationResult, bool)
}

// Decision is a classification result plus how it was reached.
type Decision struct {
	Result        models.ClassificationResult
	Stage         string // "signature" or "cascade"
	Rule          string
	Overridden    bool
	PolicyApplied bool
}

// Classifier runs the full persona pipeline: signatures, cascade,
// confidence refinement, override arbitration and policy overlay.
type Classifier struct {
	signatures []SignatureRule
	cascade    []Hypothesis
	policies   PolicySet
	logger     *zap.Logger
}

// New creates a classifier with the built-in signature pack and cascade.
func New(logger *zap.Logger, policies []models.PersonaPolicy) *Classifier {
	c := &Classifier{
		signatures: DefaultSignatures(),
		cascade:    DefaultCascade(),
		policies:   NewPolicySet(policies),
		logger:     logger,
	}

	logger.Info("Loaded persona classifier",
		zap.Int("signatures", len(c.signatures)),
		zap.Int("hypotheses", len(c.cascade)),
		zap.Int("policies", len(c.policies)))

	return c
}

// SetPolicies replaces the persona policy overlay.
func (c *Classifier) SetPolicies(policies []models.PersonaPolicy) {
	c.policies = NewPolicySet(policies)
	c.logger.Info("Replaced persona policies", zap.Int("policies", len(c.policies)))
}

// Policies returns the active persona policies.
func (c *Classifier) Policies() []models.PersonaPolicy {
	return c.policies.List()
}

// Classify never fails: a nil request or a flow with no signal yields the
// generic default result. arb may be nil.
func (c *Classifier) Classify(req *models.ClassificationRequest, arb Arbitrator) Decision {
	if req == nil {
		return Decision{Result: models.DefaultResult(), Stage: "cascade", Rule: "default"}
	}

	var d Decision
	if rule, ok := MatchSignature(c.signatures, req); ok {
		d.Result, d.Stage, d.Rule = rule.Outcome, "signature", rule.Field.String()+":"+rule.Pattern
	} else {
		d.Result, d.Rule = RunCascade(c.cascade, req)
		d.Stage = "cascade"
	}

	d.Result = Refine(d.Result, req)

	if arb != nil {
		d.Result, d.Overridden = arb.Arbitrate(req.SrcIP, req.DstIP, d.Result)
	}

	d.Result, d.PolicyApplied = c.policies.Apply(d.Result)
	d.Result.Confidence = models.ClampConfidence(int(d.Result.Confidence))

	c.logger.Debug("Classified flow",
		zap.String("proto", req.Proto),
		zap.Uint16("src_port", req.SrcPort),
		zap.Uint16("dst_port", req.DstPort),
		zap.String("stage", d.Stage),
		zap.String("rule", d.Rule),
		zap.String("persona", d.Result.Persona.String()),
		zap.Uint8("confidence", d.Result.Confidence),
		zap.Bool("overridden", d.Overridden))

	return d
}
