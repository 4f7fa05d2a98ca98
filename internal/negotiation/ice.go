package negotiation

import (
	"slices"
	"strings"

	"github.com/Nitishvarma50/app-p2p/internal/config"
	"github.com/Nitishvarma50/app-p2p/internal/signaling"
	"github.com/Nitishvarma50/app-p2p/internal/utils"
	"github.com/pion/webrtc/v4"
)

// ICEServers merges the servers handed out by the relay with the locally
// configured STUN and TURN servers. Duplicate URLs are dropped.
func ICEServers(fetched []signaling.ICEServer, cfg *config.Config) []webrtc.ICEServer {
	var out []webrtc.ICEServer
	seen := make(map[string]bool)

	add := func(urls []string, user, cred string) {
		var fresh []string
		for _, u := range urls {
			u = strings.TrimSpace(u)
			if u == "" || seen[u] {
				continue
			}
			seen[u] = true
			fresh = append(fresh, u)
		}
		if len(fresh) == 0 {
			return
		}
		s := webrtc.ICEServer{URLs: fresh, Username: user}
		if cred != "" {
			s.Credential = cred
		}
		out = append(out, s)
	}

	for _, s := range fetched {
		add(s.URLs, s.Username, s.Credential)
	}
	if cfg != nil {
		add(cfg.STUNServers, "", "")
		if turn := cfg.GetTURNServers(); turn != nil {
			user, pass := cfg.GetTURNCredentials()
			add(turn, user, pass)
		}
	}
	return out
}

// TransportPolicy returns the relay-only policy when relaying is forced or
// the host looks like it is behind a tunnel, provided a TURN server exists.
func TransportPolicy(servers []webrtc.ICEServer, forceRelay bool) webrtc.ICETransportPolicy {
	if !hasTURN(servers) {
		return webrtc.ICETransportPolicyAll
	}
	if forceRelay {
		return webrtc.ICETransportPolicyRelay
	}
	if restricted, _ := utils.DetectRestrictedNetwork(); restricted {
		return webrtc.ICETransportPolicyRelay
	}
	return webrtc.ICETransportPolicyAll
}

func hasTURN(servers []webrtc.ICEServer) bool {
	return slices.ContainsFunc(servers, func(s webrtc.ICEServer) bool {
		return slices.ContainsFunc(s.URLs, func(u string) bool {
			return strings.HasPrefix(u, "turn:") || strings.HasPrefix(u, "turns:")
		})
	})
}
