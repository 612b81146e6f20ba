package main

import (
	"fmt"
	"net"
	"strconv"

	ma "github.com/multiformats/go-multiaddr"

	"github.com/shurlinet/ceylonmesh/internal/config"
)

// splitHostPort parses a "host:port" string into its parts, wrapping
// errors with config.ErrConfigInvalid so flag mistakes surface the same
// way a bad config file would.
func splitHostPort(addr string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, fmt.Errorf("%w: --admin-addr %q: %v", config.ErrConfigInvalid, addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, fmt.Errorf("%w: --admin-addr %q: non-numeric port: %v", config.ErrConfigInvalid, addr, err)
	}
	return host, port, nil
}

// hostPortFromMultiaddr extracts an IPv4 host and UDP port from a libp2p
// QUIC listen multiaddr, for persisting workspace state.
func hostPortFromMultiaddr(addr ma.Multiaddr) (string, int, error) {
	ip, err := addr.ValueForProtocol(ma.P_IP4)
	if err != nil {
		return "", 0, fmt.Errorf("no ip4 component in %s: %w", addr, err)
	}
	portStr, err := addr.ValueForProtocol(ma.P_UDP)
	if err != nil {
		return "", 0, fmt.Errorf("no udp component in %s: %w", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, fmt.Errorf("bad udp port in %s: %w", addr, err)
	}
	return ip, port, nil
}
