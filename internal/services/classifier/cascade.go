package classifier

import (
	"strings"

	"qosd-go/internal/models"
)

// BulkBytesThreshold is the flow volume above which a flow counts as bulk.
const BulkBytesThreshold = 300 * 1024 * 1024

// Hypothesis is one step of the heuristic cascade. Match reports whether
// the hypothesis holds and, when non-zero, the confidence to use instead
// of the outcome's default.
type Hypothesis struct {
	Name    string
	Match   func(req *models.ClassificationRequest) (uint8, bool)
	Outcome models.ClassificationResult
}

type portSet map[uint16]struct{}

func newPortSet(ports ...uint16) portSet {
	set := make(portSet, len(ports))
	for _, p := range ports {
		set[p] = struct{}{}
	}
	return set
}

func (s portSet) has(port uint16) bool {
	_, ok := s[port]
	return ok
}

func (s portSet) either(src, dst uint16) bool {
	return s.has(dst) || s.has(src)
}

var (
	streamingPorts = newPortSet(1935, 554, 1755, 8554, 8000, 8001, 8002, 9000)
	gamingPorts    = newPortSet(3074, 3478, 3659, 3724, 6112, 27015, 27036, 50000)
	voipPorts      = newPortSet(3478, 3479, 3480, 5004, 5060, 5061, 10000, 16384)
	workPorts      = newPortSet(22, 53, 80, 443, 993, 3389, 5938)
	bulkPorts      = newPortSet(20, 21, 80, 443, 445, 8080, 5001)
)

// realtimeExtensions are TLS/DTLS extension ids that only show up when a
// client negotiates SRTP keys (use_srtp).
var realtimeExtensions = []string{"14"}

// dtlsVersionPrefixes match JA3 strings whose handshake version field is
// DTLS 1.0, 1.2 or 1.3, as used by WebRTC media stacks.
var dtlsVersionPrefixes = []string{"65279,", "65277,", "65276,"}

var videoHosts = []string{"googlevideo", "nflxvideo", "ytimg", "ttvnw"}

func anyFold(value string, needles ...string) bool {
	for _, n := range needles {
		if containsFold(value, n) {
			return true
		}
	}
	return false
}

func ja3Extensions(ja3 string) []string {
	fields := strings.Split(ja3, ",")
	if len(fields) < 3 || fields[2] == "" {
		return nil
	}
	return strings.Split(fields[2], "-")
}

func ja3Table(ja3 string) bool {
	for _, ext := range ja3Extensions(ja3) {
		for _, want := range realtimeExtensions {
			if ext == want {
				return true
			}
		}
	}
	return false
}

func ja3SuitePrefix(ja3 string) bool {
	for _, prefix := range dtlsVersionPrefixes {
		if strings.HasPrefix(ja3, prefix) {
			return true
		}
	}
	return false
}

func matchRealtime(req *models.ClassificationRequest) (uint8, bool) {
	if anyFold(req.ServiceHint, "zoom", "meet", "teams") ||
		containsFold(req.DNSName, "zoom.us") ||
		ja3Table(req.JA3) ||
		voipPorts.either(req.SrcPort, req.DstPort) {
		return 90, true
	}
	if ja3SuitePrefix(req.JA3) {
		return 88, true
	}
	return 0, false
}

func matchGaming(req *models.ClassificationRequest) (uint8, bool) {
	ok := containsFold(req.ServiceHint, "game") ||
		anyFold(req.Hostname, "ps5", "xbox") ||
		containsFold(req.DNSName, "steam") ||
		gamingPorts.either(req.SrcPort, req.DstPort)
	return 0, ok
}

func matchStreaming(req *models.ClassificationRequest) (uint8, bool) {
	if containsFold(req.ALPN, "h3") && anyFold(req.SNI, videoHosts...) {
		return 82, true
	}
	ok := anyFold(req.ServiceHint, "youtube", "netflix", "prime") ||
		anyFold(req.DNSName, "netflix", "nflxvideo") ||
		streamingPorts.has(req.DstPort)
	return 0, ok
}

func matchWork(req *models.ClassificationRequest) (uint8, bool) {
	ok := anyFold(req.ServiceHint, "work", "vpn") ||
		anyFold(req.DNSName, "microsoft.com", "office365") ||
		workPorts.has(req.DstPort)
	return 0, ok
}

func matchIoT(req *models.ClassificationRequest) (uint8, bool) {
	ok := containsFold(req.ServiceHint, "cam") ||
		anyFold(req.Hostname, "cam", "iot") ||
		anyFold(req.DNSName, "tplinkcloud", "homekit")
	return 0, ok
}

func matchBulk(req *models.ClassificationRequest) (uint8, bool) {
	ok := bulkPorts.either(req.SrcPort, req.DstPort) || req.BytesTotal > BulkBytesThreshold
	return 0, ok
}

func matchConnectionless(req *models.ClassificationRequest) (uint8, bool) {
	return 0, strings.EqualFold(req.Proto, "udp")
}

// DefaultCascade returns the hypotheses in descending order of trust.
func DefaultCascade() []Hypothesis {
	return []Hypothesis{
		{Name: "realtime", Match: matchRealtime, Outcome: voipOutcome},
		{Name: "gaming", Match: matchGaming, Outcome: gamingOutcome},
		{Name: "streaming", Match: matchStreaming, Outcome: streamingOutcome},
		{Name: "work", Match: matchWork, Outcome: workOutcome},
		{Name: "iot", Match: matchIoT, Outcome: iotOutcome},
		{Name: "bulk", Match: matchBulk, Outcome: bulkOutcome},
		{Name: "connectionless", Match: matchConnectionless, Outcome: latencyOutcome},
	}
}

// RunCascade returns the first satisfied hypothesis' outcome, or the
// generic default when none holds.
func RunCascade(hypotheses []Hypothesis, req *models.ClassificationRequest) (models.ClassificationResult, string) {
	for _, h := range hypotheses {
		conf, ok := h.Match(req)
		if !ok {
			continue
		}
		res := h.Outcome
		if conf > 0 {
			res.Confidence = conf
		}
		return res, h.Name
	}
	return models.DefaultResult(), "default"
}
