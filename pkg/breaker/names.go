package breaker

import "strconv"

// Breaker names shared by the components that guard external calls.
const (
	NameACME        = "acme"
	NameProxyReload = "proxy-reload"

	// UpstreamPrefix prefixes per-upstream probe breakers. Configure the
	// prefix itself to override all of them at once.
	UpstreamPrefix = "upstream:"
)

// UpstreamName returns the breaker name for an upstream's health probe.
func UpstreamName(upstreamID int64) string {
	return UpstreamPrefix + strconv.FormatInt(upstreamID, 10)
}
