package reconcile

import (
	"bytes"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"netpilot-hq/netpilot/pkg/model"
)

// noopService is the proxy's built-in service used by routers that only
// redirect.
const noopService = "noop@internal"

// RenderOptions controls proxy-specific naming.
type RenderOptions struct {
	// HTTPEntryPoint and HTTPSEntryPoint name the proxy entry points.
	HTTPEntryPoint  string
	HTTPSEntryPoint string
}

func (o RenderOptions) withDefaults() RenderOptions {
	if o.HTTPEntryPoint == "" {
		o.HTTPEntryPoint = "web"
	}
	if o.HTTPSEntryPoint == "" {
		o.HTTPSEntryPoint = "websecure"
	}
	return o
}

// Input is everything needed to render one domain's document. Routes and
// redirects must already be validated; Render sorts them.
type Input struct {
	Domain    model.Domain
	Routes    []model.RouteRule
	Redirects []model.RedirectRule
	Upstreams map[int64]model.Upstream

	// Certificate is the usable certificate of the domain, if any.
	Certificate *model.Certificate
	// Now decides certificate expiry; zero means the current time.
	Now time.Time
}

// FileName returns the document file name of a domain.
func FileName(domain string) string {
	return "routes-" + hostKey(domain) + ".yml"
}

// hostKey encodes a domain name into the characters allowed in file and
// Traefik object names. Distinct lower-cased names get distinct keys:
// "." becomes "_", "-" is doubled, "*" becomes "-w" and any other byte
// becomes "-" followed by two hex digits.
func hostKey(domain string) string {
	const hex = "0123456789abcdef"
	name := strings.ToLower(domain)

	var b strings.Builder
	b.Grow(len(name) + 4)
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9':
			b.WriteByte(c)
		case c == '.':
			b.WriteByte('_')
		case c == '-':
			b.WriteString("--")
		case c == '*':
			b.WriteString("-w")
		default:
			b.WriteByte('-')
			b.WriteByte(hex[c>>4])
			b.WriteByte(hex[c&0x0f])
		}
	}
	return b.String()
}

// RouterName returns the router name of a rule.
func RouterName(domain string, ruleID int64) string {
	return "r_" + hostKey(domain) + "_" + strconv.FormatInt(ruleID, 10)
}

// RedirectRouterName returns the router name of a redirect rule.
func RedirectRouterName(domain string, ruleID int64) string {
	return "redirect_" + hostKey(domain) + "_" + strconv.FormatInt(ruleID, 10)
}

func serviceName(domain string, ruleID int64) string {
	return "s_" + hostKey(domain) + "_" + strconv.FormatInt(ruleID, 10)
}

func middlewareName(kind, domain string, ruleID int64) string {
	return "m_" + kind + "_" + hostKey(domain) + "_" + strconv.FormatInt(ruleID, 10)
}

func transportName(domain string, ruleID int64) string {
	return "st_" + hostKey(domain) + "_" + strconv.FormatInt(ruleID, 10)
}

// hostMatcher returns the matcher for a domain. Wildcard names match a
// single label.
func hostMatcher(domain string) string {
	name := strings.ToLower(domain)
	if rest, ok := strings.CutPrefix(name, "*."); ok {
		return "HostRegexp(`^[a-z0-9-]+\\." + regexp.QuoteMeta(rest) + "$`)"
	}
	return "Host(`" + name + "`)"
}

// binding is one entry point a rule is published on.
type binding struct {
	entryPoint string
	tls        bool
	suffix     string
}

func bindings(d model.Domain, opts RenderOptions) []binding {
	web := opts.HTTPEntryPoint
	if d.BindAddress != "" {
		web = d.BindAddress
	}
	switch {
	case !d.AutoTLS:
		return []binding{{entryPoint: web}}
	case d.ForceHTTPS:
		return []binding{{entryPoint: opts.HTTPSEntryPoint, tls: true}}
	default:
		return []binding{{entryPoint: web}, {entryPoint: opts.HTTPSEntryPoint, tls: true, suffix: "_tls"}}
	}
}

// Render produces the dynamic configuration document of a domain. The
// output depends only on in, so unchanged input renders identical bytes.
func Render(in Input, opts RenderOptions) ([]byte, error) {
	opts = opts.withDefaults()
	d := in.Domain

	routes := append([]model.RouteRule(nil), in.Routes...)
	redirects := append([]model.RedirectRule(nil), in.Redirects...)
	SortRoutes(routes)
	SortRedirects(redirects)
	order := merge(routes, redirects)

	routers := mapping()
	services := mapping()
	middlewares := mapping()
	transports := mapping()

	binds := bindings(d, opts)
	total := len(order)
	for idx, e := range order {
		// Explicit priorities keep the proxy's match order equal to the
		// publication order. 1 is reserved for the HTTPS redirect.
		priority := total - idx + 1

		if e.redirect != nil {
			r := e.redirect
			mw := middlewareName("redirect", d.Name, r.ID)
			middlewares.add(mw, redirectMiddleware(r))
			for _, b := range binds {
				routers.add(RedirectRouterName(d.Name, r.ID)+b.suffix,
					router(redirectMatch(d.Name, r), noopService, b, priority, []string{mw}))
			}
			continue
		}

		r := e.route
		u, ok := in.Upstreams[r.UpstreamID]
		if !ok {
			return nil, fmt.Errorf("route %d references unknown upstream %d", r.ID, r.UpstreamID)
		}
		svc := serviceName(d.Name, r.ID)

		var mws []string
		path := routePath(*r)
		if r.StripPrefix && path != "/" {
			mw := middlewareName("strip", d.Name, r.ID)
			middlewares.add(mw, mapping().add("stripPrefix", mapping().add("prefixes", seq(str(path))).node).node)
			mws = append(mws, mw)
		}

		var transport string
		if r.Timeout > 0 {
			transport = transportName(d.Name, r.ID)
			transports.add(transport, mapping().add("forwardingTimeouts",
				mapping().add("responseHeaderTimeout", str(r.Timeout.String())).node).node)
		}
		services.add(svc, service(u, r, transport))

		for _, b := range binds {
			routers.add(RouterName(d.Name, r.ID)+b.suffix, router(routeMatch(d.Name, r), svc, b, priority, mws))
		}
	}

	if d.AutoTLS && d.ForceHTTPS {
		mw := "m_https_" + hostKey(d.Name)
		middlewares.add(mw, mapping().add("redirectScheme",
			mapping().add("scheme", str("https")).add("permanent", boolean(true)).node).node)
		web := binding{entryPoint: opts.HTTPEntryPoint}
		if d.BindAddress != "" {
			web.entryPoint = d.BindAddress
		}
		routers.add("r_"+hostKey(d.Name)+"_https", router(hostMatcher(d.Name), noopService, web, 1, []string{mw}))
	}

	httpNode := mapping()
	httpNode.addNonEmpty("routers", routers)
	httpNode.addNonEmpty("services", services)
	httpNode.addNonEmpty("middlewares", middlewares)
	httpNode.addNonEmpty("serversTransports", transports)

	root := mapping()
	root.add("http", httpNode.flowIfEmpty())
	now := in.Now
	if now.IsZero() {
		now = time.Now()
	}
	if c := in.Certificate; c != nil && c.Usable(now) {
		root.add("tls", mapping().add("certificates", seq(
			mapping().add("certFile", str(c.CertificatePath)).add("keyFile", str(c.PrivateKeyPath)).node,
		)).node)
	}

	doc := &yaml.Node{
		Kind:        yaml.DocumentNode,
		HeadComment: fmt.Sprintf("Generated by netpilot for %s. Manual edits are overwritten.", d.Name),
		Content:     []*yaml.Node{root.node},
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("failed to encode document for %s: %w", d.Name, err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("failed to encode document for %s: %w", d.Name, err)
	}
	return buf.Bytes(), nil
}

func routeMatch(domain string, r *model.RouteRule) string {
	match := hostMatcher(domain)
	if path := routePath(*r); path != "/" {
		match += " && PathPrefix(`" + path + "`)"
	}
	if m := strings.ToUpper(strings.TrimSpace(r.HTTPMethod)); m != "" && m != "*" {
		match += " && Method(`" + m + "`)"
	}
	return match
}

func redirectMatch(domain string, r *model.RedirectRule) string {
	src := strings.TrimSpace(r.SourcePattern)
	if r.IsRegex {
		return hostMatcher(domain) + " && PathRegexp(`" + src + "`)"
	}
	if src == "/" {
		return hostMatcher(domain)
	}
	return hostMatcher(domain) + " && PathPrefix(`" + src + "`)"
}

func redirectMiddleware(r *model.RedirectRule) *yaml.Node {
	replacement := r.TargetURL
	if r.PreserveQuery {
		replacement += "${1}"
	}
	return mapping().add("redirectRegex", mapping().
		add("regex", str(`^[^?]*(\?.*)?$`)).
		add("replacement", str(replacement)).
		add("permanent", boolean(r.Type.Permanent())).node).node
}

func router(rule, svc string, b binding, priority int, middlewares []string) *yaml.Node {
	m := mapping().
		add("rule", str(rule)).
		add("service", str(svc)).
		add("entryPoints", seq(str(b.entryPoint))).
		add("priority", integer(priority))
	if len(middlewares) > 0 {
		items := make([]*yaml.Node, 0, len(middlewares))
		for _, mw := range middlewares {
			items = append(items, str(mw))
		}
		m.add("middlewares", seq(items...))
	}
	if b.tls {
		m.add("tls", mapping().flowIfEmpty())
	}
	return m.node
}

func service(u model.Upstream, r *model.RouteRule, transport string) *yaml.Node {
	weight := u.Weight
	if weight <= 0 {
		weight = 1
	}
	lb := mapping().
		add("servers", seq(mapping().add("url", str(u.TargetURL)).add("weight", integer(weight)).node)).
		add("passHostHeader", boolean(r.PreserveHost))
	if u.HealthCheckPath != "" {
		interval := u.HealthCheckInterval
		if interval <= 0 {
			interval = model.DefaultHealthCheckInterval
		}
		lb.add("healthCheck", mapping().
			add("path", str(u.HealthCheckPath)).
			add("interval", str(interval.String())).node)
	}
	if transport != "" {
		lb.add("serversTransport", str(transport))
	}
	return mapping().add("loadBalancer", lb.node).node
}

// node builders

type mapNode struct {
	node *yaml.Node
}

func mapping() *mapNode {
	return &mapNode{node: &yaml.Node{Kind: yaml.MappingNode}}
}

func (m *mapNode) add(key string, value *yaml.Node) *mapNode {
	m.node.Content = append(m.node.Content, str(key), value)
	return m
}

func (m *mapNode) addNonEmpty(key string, value *mapNode) {
	if len(value.node.Content) > 0 {
		m.add(key, value.node)
	}
}

func (m *mapNode) flowIfEmpty() *yaml.Node {
	if len(m.node.Content) == 0 {
		m.node.Style = yaml.FlowStyle
	}
	return m.node
}

func seq(items ...*yaml.Node) *yaml.Node {
	return &yaml.Node{Kind: yaml.SequenceNode, Content: items}
}

func str(s string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: s}
}

func integer(i int) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!int", Value: strconv.Itoa(i)}
}

func boolean(b bool) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!bool", Value: strconv.FormatBool(b)}
}
