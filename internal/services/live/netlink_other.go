//go:build !linux

package live

import (
	"context"
	"errors"
)

// NetlinkConntrack is only available on Linux.
type NetlinkConntrack struct{}

func NewNetlinkConntrack() *NetlinkConntrack {
	return &NetlinkConntrack{}
}

func (n *NetlinkConntrack) ReadConntrack(ctx context.Context) ([]ConntrackRow, error) {
	return nil, errors.New("netlink conntrack is not supported on this platform")
}
