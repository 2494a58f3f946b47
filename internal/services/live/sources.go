package live

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

const (
	DefaultLeasesFile    = "/tmp/dhcp.leases"
	DefaultARPFile       = "/proc/net/arp"
	DefaultConntrackFile = "/proc/net/nf_conntrack"
)

// LeaseRow is one DHCP lease: "<expiry> <mac> <ip> <hostname> <client-id>".
type LeaseRow struct {
	MAC      string
	IP       string
	Hostname string
}

// ARPRow is one neighbour cache entry.
type ARPRow struct {
	IP  string
	MAC string
}

// ConntrackRow is one tracked connection with per-direction byte counts.
type ConntrackRow struct {
	Proto      string
	Src        string
	Dst        string
	SrcPort    uint16
	DstPort    uint16
	OrigBytes  uint64
	ReplyBytes uint64
}

// Snapshot is everything one tick ingests.
type Snapshot struct {
	Leases    []LeaseRow
	ARP       []ARPRow
	Conntrack []ConntrackRow
}

// Source produces the snapshot for a tick. Reads are best effort: a
// missing or unreadable input contributes nothing.
type Source interface {
	Snapshot(ctx context.Context) Snapshot
}

// ConntrackReader lists tracked connections.
type ConntrackReader interface {
	ReadConntrack(ctx context.Context) ([]ConntrackRow, error)
}

// maxLineLen bounds a single input line. Longer lines are skipped whole.
const maxLineLen = 64 * 1024

// ErrLineTooLong reports lines that were skipped for exceeding maxLineLen.
var ErrLineTooLong = errors.New("line too long")

// readLines calls fn for every line of r. Oversized lines are dropped
// without ending the read; the returned error counts them or carries the
// read failure.
func readLines(r io.Reader, fn func(line string)) error {
	br := bufio.NewReader(r)
	var (
		buf     []byte
		drop    bool
		skipped int
	)
	for {
		chunk, isPrefix, err := br.ReadLine()
		if err != nil {
			if err != io.EOF {
				return fmt.Errorf("failed to read line: %w", err)
			}
			if skipped > 0 {
				return fmt.Errorf("%w: skipped %d", ErrLineTooLong, skipped)
			}
			return nil
		}

		if !drop && len(buf)+len(chunk) > maxLineLen {
			drop = true
		}
		if !drop {
			buf = append(buf, chunk...)
		}
		if isPrefix {
			continue
		}

		if drop {
			skipped++
		} else {
			fn(string(buf))
		}
		buf, drop = buf[:0], false
	}
}

// ParseLeases reads a dnsmasq lease file. Lines with fewer than four
// fields are skipped; a "*" hostname means none was supplied. Rows parsed
// before a read error are still returned.
func ParseLeases(r io.Reader) ([]LeaseRow, error) {
	var rows []LeaseRow
	err := readLines(r, func(line string) {
		fields := strings.Fields(line)
		if len(fields) < 4 {
			return
		}
		row := LeaseRow{MAC: fields[1], IP: fields[2]}
		if fields[3] != "*" {
			row.Hostname = fields[3]
		}
		rows = append(rows, row)
	})
	return rows, err
}

// ParseARP reads /proc/net/arp. The header line is skipped along with any
// row that does not carry all six columns.
func ParseARP(r io.Reader) ([]ARPRow, error) {
	var rows []ARPRow
	header := true
	err := readLines(r, func(line string) {
		if header {
			header = false
			return
		}
		fields := strings.Fields(line)
		if len(fields) < 6 {
			return
		}
		rows = append(rows, ARPRow{IP: fields[0], MAC: fields[3]})
	})
	return rows, err
}

// ParseConntrack reads /proc/net/nf_conntrack. Values are located by key
// rather than column: the first src=/dst=/sport=/dport= belong to the
// original direction, the first " bytes=" is the original byte count and
// the next one the reply count. Lines without both src= and dst= are
// skipped.
func ParseConntrack(r io.Reader) ([]ConntrackRow, error) {
	var rows []ConntrackRow
	err := readLines(r, func(line string) {
		if row, ok := parseConntrackLine(line); ok {
			rows = append(rows, row)
		}
	})
	return rows, err
}

func parseConntrackLine(line string) (ConntrackRow, bool) {
	src, okSrc := valueAfter(line, "src=")
	dst, okDst := valueAfter(line, "dst=")
	if !okSrc || !okDst {
		return ConntrackRow{}, false
	}

	row := ConntrackRow{Src: src, Dst: dst}
	if fields := strings.Fields(line); len(fields) >= 3 {
		row.Proto = fields[2]
	}
	if v, ok := valueAfter(line, "sport="); ok {
		row.SrcPort = uint16(leadingUint(v))
	}
	if v, ok := valueAfter(line, "dport="); ok {
		row.DstPort = uint16(leadingUint(v))
	}

	if i := strings.Index(line, " bytes="); i >= 0 {
		rest := line[i+len(" bytes="):]
		row.OrigBytes = leadingUint(rest)
		if j := strings.Index(rest, " bytes="); j >= 0 {
			row.ReplyBytes = leadingUint(rest[j+len(" bytes="):])
		}
	}
	return row, true
}

// valueAfter returns the token following the first occurrence of key.
func valueAfter(line, key string) (string, bool) {
	i := strings.Index(line, key)
	if i < 0 {
		return "", false
	}
	rest := line[i+len(key):]
	if end := strings.IndexAny(rest, " \t"); end >= 0 {
		rest = rest[:end]
	}
	return rest, rest != ""
}

func leadingUint(s string) uint64 {
	end := 0
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	v, err := strconv.ParseUint(s[:end], 10, 64)
	if err != nil {
		return 0
	}
	return v
}

// FileSource reads the three snapshots from procfs-style text files.
// Conntrack, when set, replaces the conntrack file.
type FileSource struct {
	LeasesFile    string
	ARPFile       string
	ConntrackFile string
	Conntrack     ConntrackReader

	logger *zap.Logger
}

// NewFileSource creates a source reading the given paths. Empty paths
// select the OpenWrt defaults.
func NewFileSource(leasesFile, arpFile, conntrackFile string, logger *zap.Logger) *FileSource {
	if leasesFile == "" {
		leasesFile = DefaultLeasesFile
	}
	if arpFile == "" {
		arpFile = DefaultARPFile
	}
	if conntrackFile == "" {
		conntrackFile = DefaultConntrackFile
	}
	return &FileSource{
		LeasesFile:    leasesFile,
		ARPFile:       arpFile,
		ConntrackFile: conntrackFile,
		logger:        logger,
	}
}

// Snapshot implements Source.
func (s *FileSource) Snapshot(ctx context.Context) Snapshot {
	var snap Snapshot

	s.readFile(s.LeasesFile, func(r io.Reader) (err error) {
		snap.Leases, err = ParseLeases(r)
		return err
	})
	s.readFile(s.ARPFile, func(r io.Reader) (err error) {
		snap.ARP, err = ParseARP(r)
		return err
	})

	if s.Conntrack != nil {
		rows, err := s.Conntrack.ReadConntrack(ctx)
		if err != nil {
			s.logger.Debug("Conntrack table unavailable", zap.Error(err))
		}
		snap.Conntrack = rows
		return snap
	}

	s.readFile(s.ConntrackFile, func(r io.Reader) (err error) {
		snap.Conntrack, err = ParseConntrack(r)
		return err
	})
	return snap
}

func (s *FileSource) readFile(path string, parse func(io.Reader) error) {
	f, err := os.Open(path)
	if err != nil {
		s.logger.Debug("Snapshot source unavailable", zap.String("path", path), zap.Error(err))
		return
	}
	defer f.Close()

	if err := parse(f); err != nil {
		s.logger.Debug("Snapshot source partially read", zap.String("path", path), zap.Error(err))
	}
}
