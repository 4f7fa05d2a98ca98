package signaling

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/Nitishvarma50/app-p2p/internal/dns"
	"github.com/Nitishvarma50/app-p2p/internal/version"
)

var httpClient = &http.Client{
	Timeout: 10 * time.Second,
	Transport: &http.Transport{
		Proxy:       http.ProxyFromEnvironment,
		DialContext: dns.DialContext,
	},
}

// FetchICEConfiguration retrieves the relay's ICE server list. Any failure
// yields an empty list: negotiation still runs with host candidates only,
// which is enough on a LAN but may fail across restrictive NATs.
func FetchICEConfiguration(ctx context.Context, configURL string) []ICEServer {
	servers, err := fetchICEConfiguration(ctx, configURL)
	if err != nil {
		slog.Warn("ice configuration unavailable, continuing without ice servers", "url", configURL, "err", err)
		return nil
	}
	return servers
}

func fetchICEConfiguration(ctx context.Context, configURL string) ([]ICEServer, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, configURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", version.UserAgent())
	req.Header.Set("Accept", "application/json")

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}

	var cfg ICEConfiguration
	if err := json.NewDecoder(resp.Body).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode ice configuration: %w", err)
	}
	return cfg.ICEServers, nil
}
