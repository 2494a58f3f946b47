package live

import (
	"errors"
	"fmt"
	"math"
	"math/bits"
	"sort"
	"time"

	"qosd-go/internal/models"

	"go.uber.org/zap"
)

const DefaultCapacity = 1024

var ErrTableFull = errors.New("host table full")

// ClassifyFunc runs one request through the full persona pipeline.
type ClassifyFunc func(req *models.ClassificationRequest) models.ClassificationResult

// Tracker reconciles lease, ARP and conntrack snapshots into per-host
// records. It is not safe for concurrent use.
type Tracker struct {
	hosts    map[string]*models.HostRecord
	capacity int
	prevTick time.Time
	classify ClassifyFunc
	logger   *zap.Logger
}

// NewTracker creates an empty tracker. capacity <= 0 selects
// DefaultCapacity.
func NewTracker(capacity int, classify ClassifyFunc, logger *zap.Logger) *Tracker {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Tracker{
		hosts:    make(map[string]*models.HostRecord),
		capacity: capacity,
		classify: classify,
		logger:   logger,
	}
}

// Tick runs one reset, ingest, rate and rank pass and returns the busiest
// hosts first. limit <= 0 returns every host.
func (t *Tracker) Tick(snap Snapshot, now time.Time, limit int) []models.HostSummary {
	t.resetCounters()
	t.ingest(snap, now)
	t.computeRates(now)
	return t.rank(limit)
}

// Reset forgets every host and the previous tick time.
func (t *Tracker) Reset() {
	t.hosts = make(map[string]*models.HostRecord)
	t.prevTick = time.Time{}
}

func (t *Tracker) Len() int { return len(t.hosts) }

// Lookup returns a copy of the record for ip.
func (t *Tracker) Lookup(ip string) (models.HostRecord, bool) {
	h, ok := t.hosts[ip]
	if !ok {
		return models.HostRecord{}, false
	}
	return *h, true
}

func (t *Tracker) host(ip string) (*models.HostRecord, error) {
	if h, ok := t.hosts[ip]; ok {
		return h, nil
	}
	if len(t.hosts) >= t.capacity {
		return nil, fmt.Errorf("%w: %d hosts", ErrTableFull, t.capacity)
	}
	h := &models.HostRecord{IP: ip}
	t.hosts[ip] = h
	return h, nil
}

func (t *Tracker) resetCounters() {
	for _, h := range t.hosts {
		h.CurRxBytes = 0
		h.CurTxBytes = 0
		h.SetResult(models.ClassificationResult{})
	}
}

func (t *Tracker) ingest(snap Snapshot, now time.Time) {
	for _, row := range snap.Leases {
		h, err := t.host(row.IP)
		if err != nil {
			t.logger.Debug("Dropping lease row", zap.String("ip", row.IP), zap.Error(err))
			continue
		}
		h.MAC = row.MAC
		if row.Hostname != "" {
			h.Hostname = row.Hostname
		}
	}

	for _, row := range snap.ARP {
		h, err := t.host(row.IP)
		if err != nil {
			t.logger.Debug("Dropping ARP row", zap.String("ip", row.IP), zap.Error(err))
			continue
		}
		if h.MAC == "" {
			h.MAC = row.MAC
		}
	}

	for _, row := range snap.Conntrack {
		t.attribute(row, row.Src, row.OrigBytes, now)
		t.attribute(row, row.Dst, row.ReplyBytes, now)
	}
}

// attribute credits bytes to the transmit counter of ip and classifies the
// connection from that host's point of view.
func (t *Tracker) attribute(row ConntrackRow, ip string, bytes uint64, now time.Time) {
	h, err := t.host(ip)
	if err != nil {
		t.logger.Debug("Dropping conntrack row", zap.String("ip", ip), zap.Error(err))
		return
	}
	h.CurTxBytes += bytes
	h.LastSeen = now

	if t.classify == nil {
		return
	}
	res := t.classify(&models.ClassificationRequest{
		Proto:      row.Proto,
		SrcIP:      row.Src,
		DstIP:      row.Dst,
		SrcPort:    row.SrcPort,
		DstPort:    row.DstPort,
		Hostname:   h.Hostname,
		BytesTotal: row.OrigBytes + row.ReplyBytes,
	})
	if res.Confidence >= h.Confidence {
		h.SetResult(res)
	}
}

func (t *Tracker) computeRates(now time.Time) {
	elapsed := now.Sub(t.prevTick)
	if elapsed < time.Second {
		elapsed = time.Second
	}
	for _, h := range t.hosts {
		h.RxBps = rate(h.CurRxBytes, h.PrevRxBytes, elapsed)
		h.TxBps = rate(h.CurTxBytes, h.PrevTxBytes, elapsed)
		h.PrevRxBytes = h.CurRxBytes
		h.PrevTxBytes = h.CurTxBytes
	}
	t.prevTick = now
}

// rate returns bits per second, truncated; a counter that went backwards
// was reset and yields 0. The product is kept in 128 bits so large byte
// deltas stay exact.
func rate(cur, prev uint64, elapsed time.Duration) uint64 {
	if cur < prev || elapsed <= 0 {
		return 0
	}
	hi, lo := bits.Mul64(cur-prev, 8*uint64(time.Second))
	ns := uint64(elapsed)
	if hi >= ns {
		return math.MaxUint64
	}
	q, _ := bits.Div64(hi, lo, ns)
	return q
}

func (t *Tracker) rank(limit int) []models.HostSummary {
	list := make([]*models.HostRecord, 0, len(t.hosts))
	for _, h := range t.hosts {
		list = append(list, h)
	}
	sort.Slice(list, func(i, j int) bool {
		a, b := list[i].RxBps+list[i].TxBps, list[j].RxBps+list[j].TxBps
		if a != b {
			return a > b
		}
		return list[i].IP < list[j].IP
	})

	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}

	out := make([]models.HostSummary, len(list))
	for i, h := range list {
		out[i] = h.Summary()
	}
	return out
}
