package qosctl

import (
	"context"
	"flag"
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"

	"qosd-go/internal/client"
	"qosd-go/internal/models"
)

// Run executes one qosctl subcommand. args excludes the program name.
func Run(ctx context.Context, args []string, out io.Writer) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: qosctl <live|classify|apply|policies> [flags]")
	}

	switch args[0] {
	case "live":
		return runLive(ctx, args[1:], out)
	case "classify":
		return runClassify(ctx, args[1:], out)
	case "apply":
		return runApply(ctx, args[1:], out)
	case "policies":
		return runPolicies(ctx, args[1:], out)
	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func newFlagSet(name string, out io.Writer) (*flag.FlagSet, *string, *time.Duration) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(out)
	server := fs.String("server", "http://127.0.0.1:8089", "qosd address")
	timeout := fs.Duration("timeout", 10*time.Second, "request timeout")
	return fs, server, timeout
}

func runLive(ctx context.Context, args []string, out io.Writer) error {
	fs, server, timeout := newFlagSet("live", out)
	limit := fs.Int("limit", 0, "number of hosts (0 lets the daemon decide)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	hosts, err := client.New(*server, *timeout).Live(ctx, *limit)
	if err != nil {
		return fmt.Errorf("live query failed: %w", err)
	}
	RenderHosts(out, hosts)
	return nil
}

func runClassify(ctx context.Context, args []string, out io.Writer) error {
	fs, server, timeout := newFlagSet("classify", out)
	var req models.ClassificationRequest
	var srcPort, dstPort, latency uint
	fs.StringVar(&req.Proto, "proto", "", "transport protocol")
	fs.StringVar(&req.SrcIP, "src", "", "source address")
	fs.StringVar(&req.DstIP, "dst", "", "destination address")
	fs.UintVar(&srcPort, "sport", 0, "source port")
	fs.UintVar(&dstPort, "dport", 0, "destination port")
	fs.StringVar(&req.Hostname, "hostname", "", "client hostname")
	fs.StringVar(&req.ServiceHint, "service", "", "service hint")
	fs.StringVar(&req.DNSName, "dns", "", "resolved DNS name")
	fs.StringVar(&req.AppHint, "app", "", "application hint")
	fs.StringVar(&req.SNI, "sni", "", "TLS server name")
	fs.StringVar(&req.ALPN, "alpn", "", "negotiated ALPN")
	fs.StringVar(&req.JA3, "ja3", "", "JA3 fingerprint")
	fs.Uint64Var(&req.BytesTotal, "bytes", 0, "bytes seen on the flow")
	fs.UintVar(&latency, "latency", 0, "observed latency in ms")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if srcPort > 65535 || dstPort > 65535 {
		return fmt.Errorf("ports must be below 65536")
	}
	req.SrcPort = uint16(srcPort)
	req.DstPort = uint16(dstPort)
	req.LatencyMS = uint32(latency)

	res, err := client.New(*server, *timeout).Classify(ctx, req)
	if err != nil {
		return fmt.Errorf("classify failed: %w", err)
	}
	RenderResult(out, res)
	return nil
}

func runApply(ctx context.Context, args []string, out io.Writer) error {
	fs, server, timeout := newFlagSet("apply", out)
	var (
		ip, persona, priority, action, dscp, confidence string
		alpha                                            float64
	)
	fs.StringVar(&ip, "ip", "", "address to override (required)")
	fs.StringVar(&persona, "persona", "", "persona")
	fs.StringVar(&priority, "priority", "", "priority")
	fs.StringVar(&action, "action", "", "policy action")
	fs.StringVar(&dscp, "dscp", "", "DSCP class")
	fs.StringVar(&confidence, "confidence", "", "confidence sample (0-100)")
	fs.Float64Var(&alpha, "alpha", 0, "smoothing factor (0 keeps the default)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	req, err := BuildOverride(ip, persona, priority, action, dscp, confidence, alpha)
	if err != nil {
		return err
	}

	res, err := client.New(*server, *timeout).Apply(ctx, req)
	if err != nil {
		return fmt.Errorf("apply failed: %w", err)
	}
	fmt.Fprintf(out, "%s -> %s (confidence %.1f, %d updates)\n", res.IP, res.Persona, res.Confidence, res.Updates)
	return nil
}

func runPolicies(ctx context.Context, args []string, out io.Writer) error {
	fs, server, timeout := newFlagSet("policies", out)
	if err := fs.Parse(args); err != nil {
		return err
	}

	table, err := client.New(*server, *timeout).Policies(ctx)
	if err != nil {
		return fmt.Errorf("policy query failed: %w", err)
	}
	RenderPolicies(out, table)
	return nil
}

// BuildOverride validates command-line override values.
func BuildOverride(ip, persona, priority, action, dscp, confidence string, alpha float64) (models.OverrideRequest, error) {
	req := models.OverrideRequest{IP: ip, Alpha: alpha}
	if ip == "" {
		return req, fmt.Errorf("-ip is required")
	}

	var err error
	if req.Persona, err = models.ParsePersona(persona); err != nil {
		return req, err
	}
	if req.Priority, err = models.ParsePriority(priority); err != nil {
		return req, err
	}
	if req.PolicyAction, err = models.ParsePolicyAction(action); err != nil {
		return req, err
	}
	if req.DSCP, err = models.ParseDSCP(dscp); err != nil {
		return req, err
	}
	if confidence != "" {
		v, err := strconv.ParseFloat(confidence, 64)
		if err != nil {
			return req, fmt.Errorf("invalid confidence %q: %w", confidence, err)
		}
		req.Confidence = &v
	}
	return req, nil
}

// RenderHosts writes the live host table.
func RenderHosts(out io.Writer, hosts []models.HostSummary) {
	t := tablewriter.NewWriter(out)
	t.SetHeader([]string{"IP", "Hostname", "MAC", "Persona", "Priority", "Action", "DSCP", "Conf", "RX", "TX", "Last seen"})
	t.SetAutoWrapText(false)
	t.SetRowLine(false)

	for _, h := range hosts {
		seen := "-"
		if h.LastSeen > 0 {
			seen = humanize.Time(time.Unix(h.LastSeen, 0))
		}
		t.Append([]string{
			h.IP,
			h.Hostname,
			h.MAC,
			h.Persona.String(),
			h.Priority.String(),
			h.PolicyAction.String(),
			h.DSCP.String(),
			strconv.Itoa(int(h.Confidence)),
			FormatRate(h.RxBps),
			FormatRate(h.TxBps),
			seen,
		})
	}
	t.Render()
}

// RenderResult writes one classification as a two-column table.
func RenderResult(out io.Writer, res models.ClassificationResult) {
	t := tablewriter.NewWriter(out)
	t.SetHeader([]string{"Field", "Value"})
	t.AppendBulk([][]string{
		{"persona", res.Persona.String()},
		{"priority", res.Priority.String()},
		{"policy_action", res.PolicyAction.String()},
		{"dscp", res.DSCP.String()},
		{"confidence", strconv.Itoa(int(res.Confidence))},
	})
	t.Render()
}

// RenderPolicies writes the collector policy table sorted by persona.
func RenderPolicies(out io.Writer, table map[string]models.PolicyEntry) {
	names := make([]string, 0, len(table))
	for name := range table {
		names = append(names, name)
	}
	sort.Strings(names)

	t := tablewriter.NewWriter(out)
	t.SetHeader([]string{"Persona", "Action", "Priority", "DSCP", "Min conf"})
	for _, name := range names {
		p := table[name]
		t.Append([]string{name, p.PolicyAction.String(), p.Priority.String(), p.DSCP.String(), strconv.Itoa(int(p.MinConfidence))})
	}
	t.Render()
}

// FormatRate renders bits per second with SI units.
func FormatRate(bps uint64) string {
	if bps == 0 {
		return "0 bps"
	}
	v, unit := humanize.ComputeSI(float64(bps))
	return humanize.FtoaWithDigits(v, 2) + " " + unit + "bps"
}
