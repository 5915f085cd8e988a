package registry

import (
	"net"
	"net/url"
	"strings"
)

const (
	SwingTransferURL = "https://swap.prod.swing.xyz/v0/transfer"
	SwingPlatformURL = "https://platform.swing.xyz/api/v1"
	CoinbaseURL      = "https://api.coinbase.com/v2"
)

var providerDefaults = map[string]string{
	"swing":          SwingTransferURL,
	"swing-platform": SwingPlatformURL,
	"coinbase":       CoinbaseURL,
}

func ProviderBaseURL(provider string) (string, bool) {
	value, ok := providerDefaults[strings.ToLower(strings.TrimSpace(provider))]
	return value, ok
}

// IsAllowedProviderURL accepts base URL overrides that point at the provider's
// canonical https host, or at a loopback host for local testing.
func IsAllowedProviderURL(provider, endpoint string) bool {
	if strings.TrimSpace(endpoint) == "" {
		return true
	}
	parsed, err := url.Parse(strings.TrimSpace(endpoint))
	if err != nil {
		return false
	}
	if strings.TrimSpace(parsed.Hostname()) == "" {
		return false
	}
	if isLoopbackHost(parsed.Hostname()) {
		scheme := strings.ToLower(strings.TrimSpace(parsed.Scheme))
		return scheme == "" || scheme == "http" || scheme == "https"
	}
	if !strings.EqualFold(strings.TrimSpace(parsed.Scheme), "https") {
		return false
	}
	allowedRaw, ok := ProviderBaseURL(provider)
	if !ok {
		return false
	}
	allowed, err := url.Parse(allowedRaw)
	if err != nil {
		return false
	}
	if !strings.EqualFold(parsed.Hostname(), allowed.Hostname()) {
		return false
	}
	if normalizedURLPort(parsed) != normalizedURLPort(allowed) {
		return false
	}
	return strings.HasPrefix(normalizedURLPath(parsed.Path), normalizedURLPath(allowed.Path))
}

func isLoopbackHost(host string) bool {
	h := strings.TrimSpace(strings.ToLower(host))
	if h == "localhost" {
		return true
	}
	ip := net.ParseIP(h)
	return ip != nil && ip.IsLoopback()
}

func normalizedURLPort(parsed *url.URL) string {
	if parsed == nil {
		return ""
	}
	if port := strings.TrimSpace(parsed.Port()); port != "" {
		return port
	}
	switch strings.ToLower(strings.TrimSpace(parsed.Scheme)) {
	case "http":
		return "80"
	case "https":
		return "443"
	default:
		return ""
	}
}

func normalizedURLPath(path string) string {
	p := strings.TrimSpace(path)
	if p == "" {
		return "/"
	}
	p = strings.TrimSuffix(p, "/")
	if p == "" {
		return "/"
	}
	return p
}
