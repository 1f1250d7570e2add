package registry

import (
	"fmt"
	"net/url"
	"strings"
)

// Public Arbitrum endpoints, used when no override is configured.
var defaultRPCByChainID = map[int64]string{
	42161:  "https://arb1.arbitrum.io/rpc",
	421614: "https://sepolia-rollup.arbitrum.io/rpc",
}

func DefaultRPCURL(chainID int64) (string, bool) {
	value, ok := defaultRPCByChainID[chainID]
	return value, ok
}

// ResolveRPCURL prefers a non-empty override, which must be an http(s) or
// ws(s) URL, over the chain's public endpoint.
func ResolveRPCURL(override string, chainID int64) (string, error) {
	if override = strings.TrimSpace(override); override != "" {
		u, err := url.Parse(override)
		if err != nil || u.Host == "" {
			return "", fmt.Errorf("invalid rpc url %q", override)
		}
		switch strings.ToLower(u.Scheme) {
		case "http", "https", "ws", "wss":
			return override, nil
		}
		return "", fmt.Errorf("unsupported rpc url scheme %q", u.Scheme)
	}
	if value, ok := DefaultRPCURL(chainID); ok {
		return value, nil
	}
	return "", fmt.Errorf("no public rpc for eip155:%d; pass --rpc-url", chainID)
}
