package override

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"qosd-go/internal/models"
)

const (
	DefaultCapacity = 256
	DefaultAlpha    = 0.6
)

var (
	ErrStoreFull       = errors.New("override store full")
	ErrInvalidArgument = errors.New("invalid argument")
)

// ApplyRequest carries one override update. Unset enum fields leave the
// stored value alone; a nil or negative Confidence skips blending and a
// Confidence above 100 is rejected. Alpha is persisted only when strictly
// between 0 and 1.
type ApplyRequest struct {
	IP           string
	Persona      models.Persona
	Priority     models.Priority
	PolicyAction models.PolicyAction
	DSCP         models.DSCP
	Confidence   *float64
	Alpha        float64
}

// Store keeps at most one override per address and never more than its
// capacity. There is no eviction: once full, new addresses are rejected
// until Reset. Store is not safe for concurrent use.
type Store struct {
	entries  map[string]*models.PersonaOverride
	capacity int
}

// NewStore creates an empty store. capacity <= 0 selects DefaultCapacity.
func NewStore(capacity int) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Store{
		entries:  make(map[string]*models.PersonaOverride),
		capacity: capacity,
	}
}

// Apply creates or updates the override for req.IP and returns a copy of
// the stored entry.
func (s *Store) Apply(req ApplyRequest) (models.PersonaOverride, error) {
	ip := strings.TrimSpace(req.IP)
	if ip == "" {
		return models.PersonaOverride{}, fmt.Errorf("%w: ip is required", ErrInvalidArgument)
	}

	if c := req.Confidence; c != nil && (math.IsNaN(*c) || math.IsInf(*c, 0) || *c > 100) {
		return models.PersonaOverride{}, fmt.Errorf("%w: confidence must be a number up to 100", ErrInvalidArgument)
	}

	ov, exists := s.entries[ip]
	if !exists {
		if len(s.entries) >= s.capacity {
			return models.PersonaOverride{}, fmt.Errorf("%w: %d entries", ErrStoreFull, s.capacity)
		}
		ov = &models.PersonaOverride{IP: ip, Alpha: DefaultAlpha}
		s.entries[ip] = ov
	}

	if req.Persona.IsSet() {
		ov.Persona = req.Persona
	}
	if req.Priority.IsSet() {
		ov.Priority = req.Priority
	}
	if req.PolicyAction.IsSet() {
		ov.PolicyAction = req.PolicyAction
	}
	if req.DSCP.IsSet() {
		ov.DSCP = req.DSCP
	}

	if req.Alpha > 0 && req.Alpha < 1 {
		ov.Alpha = req.Alpha
	}

	// A negative sample means none was taken.
	if req.Confidence != nil && *req.Confidence >= 0 {
		sample := *req.Confidence
		if ov.Updates == 0 {
			ov.Confidence = sample
		} else {
			ov.Confidence = ov.Alpha*sample + (1-ov.Alpha)*ov.Confidence
		}
	}
	ov.Updates++

	return *ov, nil
}

// Lookup returns a copy of the override for ip.
func (s *Store) Lookup(ip string) (models.PersonaOverride, bool) {
	ov, ok := s.entries[ip]
	if !ok {
		return models.PersonaOverride{}, false
	}
	return *ov, true
}

// Restore inserts a previously persisted override verbatim.
func (s *Store) Restore(ov models.PersonaOverride) error {
	if ov.IP == "" {
		return fmt.Errorf("%w: ip is required", ErrInvalidArgument)
	}
	if _, exists := s.entries[ov.IP]; !exists && len(s.entries) >= s.capacity {
		return fmt.Errorf("%w: %d entries", ErrStoreFull, s.capacity)
	}
	if !(ov.Alpha > 0 && ov.Alpha < 1) {
		ov.Alpha = DefaultAlpha
	}
	s.entries[ov.IP] = &ov
	return nil
}

// Reset drops every override.
func (s *Store) Reset() {
	s.entries = make(map[string]*models.PersonaOverride)
}

func (s *Store) Len() int      { return len(s.entries) }
func (s *Store) Capacity() int { return s.capacity }

// Snapshot returns copies of all overrides ordered by address.
func (s *Store) Snapshot() []models.PersonaOverride {
	out := make([]models.PersonaOverride, 0, len(s.entries))
	for _, ov := range s.entries {
		out = append(out, *ov)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IP < out[j].IP })
	return out
}

// Arbitrate looks up overrides for both flow endpoints, keeps the one with
// the higher blended confidence (ties go to the source) and lets it replace
// res when its confidence is not lower than the computed one. The blended
// confidence is compared to the integer score as is.
func (s *Store) Arbitrate(srcIP, dstIP string, res models.ClassificationResult) (models.ClassificationResult, bool) {
	var best *models.PersonaOverride
	for _, ip := range []string{srcIP, dstIP} {
		if ip == "" {
			continue
		}
		ov, ok := s.entries[ip]
		if !ok || !ov.Persona.IsSet() {
			continue
		}
		if best == nil || ov.Confidence > best.Confidence {
			best = ov
		}
	}

	if best == nil || best.Confidence < float64(res.Confidence) {
		return res, false
	}

	res.Persona = best.Persona
	if best.Priority.IsSet() {
		res.Priority = best.Priority
	}
	if best.PolicyAction.IsSet() {
		res.PolicyAction = best.PolicyAction
	}
	if best.DSCP.IsSet() {
		res.DSCP = best.DSCP
	}
	res.Confidence = uint8(math.Max(0, math.Min(100, math.Round(best.Confidence))))
	return res, true
}
