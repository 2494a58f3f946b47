//go:build linux

package live

import (
	"context"
	"fmt"
	"strconv"
	"syscall"

	"github.com/vishvananda/netlink"
)

// NetlinkConntrack lists connections straight from the kernel instead of
// parsing /proc/net/nf_conntrack. Byte counters are only present when
// net.netfilter.nf_conntrack_acct is enabled.
type NetlinkConntrack struct{}

// NewNetlinkConntrack creates a netlink conntrack reader.
func NewNetlinkConntrack() *NetlinkConntrack {
	return &NetlinkConntrack{}
}

// ReadConntrack implements ConntrackReader. IPv4 and IPv6 tables are read
// independently; the call fails only when both fail.
func (n *NetlinkConntrack) ReadConntrack(ctx context.Context) ([]ConntrackRow, error) {
	flows4, err4 := netlink.ConntrackTableList(netlink.ConntrackTable, netlink.InetFamily(syscall.AF_INET))
	flows6, err6 := netlink.ConntrackTableList(netlink.ConntrackTable, netlink.InetFamily(syscall.AF_INET6))
	if err4 != nil && err6 != nil {
		return nil, fmt.Errorf("failed to list conntrack: %w", err4)
	}

	rows := make([]ConntrackRow, 0, len(flows4)+len(flows6))
	for _, flows := range [][]*netlink.ConntrackFlow{flows4, flows6} {
		for _, f := range flows {
			if f == nil || f.Forward.SrcIP == nil || f.Forward.DstIP == nil {
				continue
			}
			rows = append(rows, ConntrackRow{
				Proto:      protoName(f.Forward.Protocol),
				Src:        f.Forward.SrcIP.String(),
				Dst:        f.Forward.DstIP.String(),
				SrcPort:    f.Forward.SrcPort,
				DstPort:    f.Forward.DstPort,
				OrigBytes:  f.Forward.Bytes,
				ReplyBytes: f.Reverse.Bytes,
			})
		}
	}
	return rows, nil
}

func protoName(proto uint8) string {
	switch proto {
	case syscall.IPPROTO_TCP:
		return "tcp"
	case syscall.IPPROTO_UDP:
		return "udp"
	case syscall.IPPROTO_ICMP:
		return "icmp"
	case syscall.IPPROTO_ICMPV6:
		return "icmpv6"
	default:
		return strconv.Itoa(int(proto))
	}
}
