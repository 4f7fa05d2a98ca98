package utils

import (
	"net"
	"strings"
)

// tunnelPrefixes are interface name fragments used by VPN and overlay
// adapters (OpenVPN, WireGuard, PPP, Cloudflare WARP).
var tunnelPrefixes = []string{"tun", "tap", "wg", "ppp", "warp"}

// cgnatBlock is the shared address space (100.64.0.0/10) handed out by
// carrier-grade NATs, Tailscale and WARP.
var cgnatBlock = func() *net.IPNet {
	_, block, _ := net.ParseCIDR("100.64.0.0/10")
	return block
}()

// DetectRestrictedNetwork reports whether the host looks like it sits behind
// a VPN or CGNAT, where direct peer-to-peer paths usually fail. The second
// return value names the interface that triggered the decision.
func DetectRestrictedNetwork() (bool, string) {
	interfaces, err := net.Interfaces()
	if err != nil {
		return false, ""
	}

	for _, iface := range interfaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}

		if isTunnelName(iface.Name) {
			return true, iface.Name
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			if inCGNAT(addr) {
				return true, iface.Name
			}
		}
	}

	return false, ""
}

func isTunnelName(name string) bool {
	name = strings.ToLower(name)
	for _, p := range tunnelPrefixes {
		if strings.Contains(name, p) {
			return true
		}
	}
	return false
}

func inCGNAT(addr net.Addr) bool {
	var ip net.IP
	switch v := addr.(type) {
	case *net.IPNet:
		ip = v.IP
	case *net.IPAddr:
		ip = v.IP
	}
	return ip != nil && cgnatBlock.Contains(ip)
}
