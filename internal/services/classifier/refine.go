package classifier

import "qosd-go/internal/models"

const (
	highLatencyMS      = 150
	refineCeiling      = 95
	latencyBonus       = 10
	criticalBonus      = 15
	modernFramingBonus = 5
)

// Refine adjusts the confidence of a signature or cascade outcome using
// latency and caller hints. Steps run in a fixed order and each result is
// clamped to 100.
func Refine(res models.ClassificationResult, req *models.ClassificationRequest) models.ClassificationResult {
	if req.LatencyMS > highLatencyMS && res.PolicyAction == models.ActionBoost && res.Confidence < refineCeiling {
		res.Confidence = models.ClampConfidence(int(res.Confidence) + latencyBonus)
	}

	if containsFold(req.AppHint, "critical") {
		if res.Confidence < 100 {
			res.Confidence = models.ClampConfidence(int(res.Confidence) + criticalBonus)
		}
		res.Priority = models.PriorityHigh
		res.PolicyAction = models.ActionBoost
	}

	if containsFold(req.ALPN, "h3") && res.Confidence < refineCeiling {
		res.Confidence = models.ClampConfidence(int(res.Confidence) + modernFramingBonus)
	}

	return res
}
