package classifier

import (
	"strings"

	"qosd-go/internal/models"
)

// MatchField names the request field a signature is tested against.
type MatchField uint8

const (
	MatchSNI MatchField = iota
	MatchDNS
	MatchJA3
	MatchService
	MatchAppHint
)

func (f MatchField) String() string {
	switch f {
	case MatchSNI:
		return "sni"
	case MatchDNS:
		return "dns"
	case MatchJA3:
		return "ja3"
	case MatchService:
		return "service"
	case MatchAppHint:
		return "app_hint"
	default:
		return "unknown"
	}
}

// SignatureRule is a literal, case-insensitive substring match on one field.
type SignatureRule struct {
	Field   MatchField
	Pattern string
	Outcome models.ClassificationResult
}

func (r SignatureRule) matches(req *models.ClassificationRequest) bool {
	var value string
	switch r.Field {
	case MatchSNI:
		value = req.SNI
	case MatchDNS:
		value = req.DNSName
	case MatchJA3:
		value = req.JA3
	case MatchService:
		value = req.ServiceHint
	case MatchAppHint:
		value = req.AppHint
	}
	return containsFold(value, r.Pattern)
}

func outcome(p models.Persona, pri models.Priority, act models.PolicyAction, dscp models.DSCP, conf uint8) models.ClassificationResult {
	return models.ClassificationResult{Persona: p, Priority: pri, PolicyAction: act, DSCP: dscp, Confidence: conf}
}

var (
	voipOutcome      = outcome(models.PersonaVoIP, models.PriorityHigh, models.ActionBoost, models.DSCPEF, 90)
	gamingOutcome    = outcome(models.PersonaGaming, models.PriorityHigh, models.ActionBoost, models.DSCPCS6, 85)
	streamingOutcome = outcome(models.PersonaStreaming, models.PriorityMedium, models.ActionBoost, models.DSCPAF41, 75)
	workOutcome      = outcome(models.PersonaWork, models.PriorityMedium, models.ActionBoost, models.DSCPAF21, 65)
	iotOutcome       = outcome(models.PersonaIoT, models.PriorityLow, models.ActionObserve, models.DSCPCS2, 55)
	bulkOutcome      = outcome(models.PersonaBulk, models.PriorityLow, models.ActionThrottle, models.DSCPCS1, 60)
	latencyOutcome   = outcome(models.PersonaLatency, models.PriorityMedium, models.ActionBoost, models.DSCPCS5, 50)
)

func withConfidence(res models.ClassificationResult, conf uint8) models.ClassificationResult {
	res.Confidence = conf
	return res
}

// DefaultSignatures is the built-in signature pack. Order is significance:
// the most specific and most trusted patterns come first.
func DefaultSignatures() []SignatureRule {
	return []SignatureRule{
		{MatchSNI, "zoom.us", withConfidence(voipOutcome, 92)},
		{MatchSNI, "teams.microsoft", withConfidence(voipOutcome, 90)},
		{MatchSNI, "meet.google", withConfidence(voipOutcome, 88)},
		{MatchJA3, "769,49195-49199", withConfidence(voipOutcome, 86)},
		{MatchSNI, "netflix.com", withConfidence(streamingOutcome, 82)},
		{MatchSNI, "disneyplus", withConfidence(streamingOutcome, 80)},
		{MatchSNI, "youtube", withConfidence(streamingOutcome, 83)},
		{MatchService, "twitch", withConfidence(streamingOutcome, 81)},
		{MatchSNI, "psn", withConfidence(gamingOutcome, 86)},
		{MatchSNI, "xboxlive", withConfidence(gamingOutcome, 86)},
		{MatchAppHint, "fortnite", withConfidence(gamingOutcome, 87)},
		{MatchSNI, "riotgames", withConfidence(gamingOutcome, 85)},
		{MatchSNI, "workplace.com", withConfidence(workOutcome, 75)},
		{MatchService, "office365", withConfidence(workOutcome, 74)},
		{MatchService, "vpn", withConfidence(workOutcome, 76)},
		{MatchSNI, "nest.com", withConfidence(iotOutcome, 60)},
		{MatchSNI, "tplinkcloud", withConfidence(iotOutcome, 60)},
		{MatchSNI, "update.apple", withConfidence(bulkOutcome, 62)},
		{MatchService, "backup", withConfidence(bulkOutcome, 65)},
	}
}

// MatchSignature scans rules in order and returns the first hit.
func MatchSignature(rules []SignatureRule, req *models.ClassificationRequest) (SignatureRule, bool) {
	for _, rule := range rules {
		if rule.matches(req) {
			return rule, true
		}
	}
	return SignatureRule{}, false
}

func containsFold(haystack, needle string) bool {
	if haystack == "" || needle == "" {
		return false
	}
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}
