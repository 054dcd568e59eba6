package reconcile

import (
	"net/url"
	"regexp"
	"strings"

	"netpilot-hq/netpilot/pkg/model"
)

// Skipped is the ledger record of an excluded rule.
type Skipped struct {
	Type   string   `json:"type"`
	ID     int64    `json:"id"`
	Kind   RuleKind `json:"kind"`
	Reason string   `json:"reason"`
}

var methodPattern = regexp.MustCompile(`^[A-Z]+$`)

// ValidateRoute checks that an active route of d can be published. The
// upstreams map must hold every upstream the route could reference, keyed
// by id, regardless of the domain that owns it.
func ValidateRoute(d model.Domain, r model.RouteRule, upstreams map[int64]model.Upstream) *RuleError {
	if r.DomainID != d.ID {
		return newRouteError(KindInvalidRoute, r.ID, "rule belongs to domain %d, not %d", r.DomainID, d.ID)
	}
	if !d.IsActive {
		return newRouteError(KindInvalidRoute, r.ID, "domain %s is inactive", d.Name)
	}

	u, ok := upstreams[r.UpstreamID]
	if !ok {
		return newRouteError(KindInvalidRoute, r.ID, "upstream %d does not exist", r.UpstreamID)
	}
	if u.DomainID != d.ID {
		if r.IsLocked {
			return newRouteError(KindInvalidRoute, r.ID, "locked rule references upstream %d of domain %d", u.ID, u.DomainID)
		}
		return newRouteError(KindInvalidRoute, r.ID, "upstream %d belongs to domain %d", u.ID, u.DomainID)
	}
	if !u.IsActive {
		return newRouteError(KindInactiveUpstream, r.ID, "upstream %s is inactive", upstreamLabel(u))
	}
	if err := validateTarget(u.TargetURL); err != "" {
		return newRouteError(KindInvalidRoute, r.ID, "upstream %s: %s", upstreamLabel(u), err)
	}

	path := routePath(r)
	if !strings.HasPrefix(path, "/") || strings.ContainsAny(path, "` ") {
		return newRouteError(KindInvalidRoute, r.ID, "invalid path pattern %q", r.PathPattern)
	}

	method := strings.TrimSpace(r.HTTPMethod)
	if method != "" && method != "*" && !methodPattern.MatchString(strings.ToUpper(method)) {
		return newRouteError(KindInvalidRoute, r.ID, "invalid HTTP method %q", r.HTTPMethod)
	}
	return nil
}

// ValidateRedirect checks that an active redirect of d can be published.
func ValidateRedirect(d model.Domain, r model.RedirectRule) *RuleError {
	if r.DomainID != d.ID {
		return newRedirectError(KindInvalidRoute, r.ID, "rule belongs to domain %d, not %d", r.DomainID, d.ID)
	}
	if !d.IsActive {
		return newRedirectError(KindInvalidRoute, r.ID, "domain %s is inactive", d.Name)
	}

	src := strings.TrimSpace(r.SourcePattern)
	if src == "" {
		return newRedirectError(KindInvalidRedirectPattern, r.ID, "source pattern is empty")
	}
	if strings.Contains(src, "`") {
		return newRedirectError(KindInvalidRedirectPattern, r.ID, "source pattern contains a backtick")
	}
	if r.IsRegex {
		if _, err := regexp.Compile(src); err != nil {
			return newRedirectError(KindInvalidRedirectPattern, r.ID, "source pattern does not compile: %v", err)
		}
	} else if !strings.HasPrefix(src, "/") {
		return newRedirectError(KindInvalidRedirectPattern, r.ID, "source pattern %q must start with /", src)
	}

	if err := validateTarget(r.TargetURL); err != "" {
		return newRedirectError(KindInvalidRedirectPattern, r.ID, "target: %s", err)
	}
	if !r.Type.Valid() {
		return newRedirectError(KindInvalidRedirectPattern, r.ID, "unsupported redirect type %d", r.Type)
	}
	return nil
}

func validateTarget(raw string) string {
	if strings.TrimSpace(raw) == "" {
		return "URL is empty"
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "URL does not parse"
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "URL scheme must be http or https"
	}
	if u.Host == "" {
		return "URL has no host"
	}
	return ""
}

func routePath(r model.RouteRule) string {
	p := strings.TrimSpace(r.PathPattern)
	if p == "" {
		return "/"
	}
	return p
}

func upstreamLabel(u model.Upstream) string {
	if u.Name != "" {
		return u.Name
	}
	return u.TargetURL
}

// partition validates rules and returns the publishable ones with the
// exclusions. Inactive rules are neither published nor reported.
func partition(d model.Domain, routes []model.RouteRule, redirects []model.RedirectRule, upstreams map[int64]model.Upstream) ([]model.RouteRule, []model.RedirectRule, []*RuleError) {
	var (
		okRoutes    []model.RouteRule
		okRedirects []model.RedirectRule
		excluded    []*RuleError
	)
	for _, r := range routes {
		if !r.IsActive {
			continue
		}
		if err := ValidateRoute(d, r, upstreams); err != nil {
			excluded = append(excluded, err)
			continue
		}
		okRoutes = append(okRoutes, r)
	}
	for _, r := range redirects {
		if !r.IsActive {
			continue
		}
		if err := ValidateRedirect(d, r); err != nil {
			excluded = append(excluded, err)
			continue
		}
		okRedirects = append(okRedirects, r)
	}
	return okRoutes, okRedirects, excluded
}
