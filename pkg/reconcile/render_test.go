package reconcile

import (
	"bytes"
	"math/rand"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"netpilot-hq/netpilot/pkg/model"
)

var base = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func testDomain() model.Domain {
	return model.Domain{ID: 1, Name: "example.com", IsActive: true}
}

func testUpstreams() map[int64]model.Upstream {
	return map[int64]model.Upstream{
		10: {ID: 10, DomainID: 1, Name: "api", TargetURL: "http://10.0.0.1:8080", Weight: 3, IsActive: true, HealthCheckPath: "/healthz"},
		11: {ID: 11, DomainID: 1, Name: "web", TargetURL: "http://10.0.0.2:8080", IsActive: true},
	}
}

func indexOf(t *testing.T, doc []byte, s string) int {
	t.Helper()
	i := bytes.Index(doc, []byte(s+":"))
	if i < 0 {
		t.Fatalf("%q not found in document:\n%s", s, doc)
	}
	return i
}

func TestRender_OrdersByPriorityThenCreation(t *testing.T) {
	routes := []model.RouteRule{
		{ID: 1, DomainID: 1, UpstreamID: 11, PathPattern: "/", Priority: 100, IsActive: true, CreatedAt: base},
		{ID: 2, DomainID: 1, UpstreamID: 10, PathPattern: "/api", Priority: 200, IsActive: true, CreatedAt: base},
		{ID: 3, DomainID: 1, UpstreamID: 10, PathPattern: "/v2", Priority: 100, IsActive: true, CreatedAt: base.Add(-time.Hour)},
	}

	doc, err := Render(Input{Domain: testDomain(), Routes: routes, Upstreams: testUpstreams()}, RenderOptions{})
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}

	api := indexOf(t, doc, RouterName("example.com", 2))
	v2 := indexOf(t, doc, RouterName("example.com", 3))
	root := indexOf(t, doc, RouterName("example.com", 1))
	if !(api < v2 && v2 < root) {
		t.Errorf("router order = api:%d v2:%d root:%d, want api < v2 < root", api, v2, root)
	}
}

func TestRender_DeterministicRegardlessOfInputOrder(t *testing.T) {
	var routes []model.RouteRule
	for i := int64(1); i <= 20; i++ {
		routes = append(routes, model.RouteRule{
			ID:          i,
			DomainID:    1,
			UpstreamID:  10 + i%2,
			PathPattern: "/p" + strings.Repeat("x", int(i)),
			Priority:    int(i % 4),
			IsActive:    true,
			CreatedAt:   base.Add(time.Duration(i%5) * time.Minute),
		})
	}
	redirects := []model.RedirectRule{
		{ID: 50, DomainID: 1, SourcePattern: "/old", TargetURL: "https://example.com/new", Type: model.RedirectPermanent, Priority: 2, IsActive: true, CreatedAt: base},
		{ID: 51, DomainID: 1, SourcePattern: "/tmp", TargetURL: "https://example.com/t", Type: model.RedirectTemporary, Priority: 2, IsActive: true, CreatedAt: base},
	}

	want, err := Render(Input{Domain: testDomain(), Routes: routes, Redirects: redirects, Upstreams: testUpstreams()}, RenderOptions{})
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 10; i++ {
		shuffled := append([]model.RouteRule(nil), routes...)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })
		rs := append([]model.RedirectRule(nil), redirects...)
		rng.Shuffle(len(rs), func(a, b int) { rs[a], rs[b] = rs[b], rs[a] })

		got, err := Render(Input{Domain: testDomain(), Routes: shuffled, Redirects: rs, Upstreams: testUpstreams()}, RenderOptions{})
		if err != nil {
			t.Fatalf("Render failed: %v", err)
		}
		if !bytes.Equal(got, want) {
			t.Fatalf("render %d differs from first render", i)
		}
	}
}

func TestSortRoutes_TotalOrder(t *testing.T) {
	routes := []model.RouteRule{
		{ID: 4, Priority: 10, CreatedAt: base},
		{ID: 2, Priority: 10, CreatedAt: base},
		{ID: 1, Priority: 10, CreatedAt: base.Add(time.Second)},
		{ID: 3, Priority: 50, CreatedAt: base.Add(time.Hour)},
	}
	SortRoutes(routes)

	var ids []int64
	for _, r := range routes {
		ids = append(ids, r.ID)
	}
	want := []int64{3, 2, 4, 1}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("order = %v, want %v", ids, want)
		}
	}
}

type renderedRouter struct {
	Rule        string    `yaml:"rule"`
	Service     string    `yaml:"service"`
	EntryPoints []string  `yaml:"entryPoints"`
	Priority    int       `yaml:"priority"`
	Middlewares []string  `yaml:"middlewares"`
	TLS         *struct{} `yaml:"tls"`
}

type renderedDoc struct {
	HTTP struct {
		Routers     map[string]renderedRouter `yaml:"routers"`
		Services    map[string]map[string]any `yaml:"services"`
		Middlewares map[string]map[string]any `yaml:"middlewares"`
	} `yaml:"http"`
	TLS struct {
		Certificates []struct {
			CertFile string `yaml:"certFile"`
			KeyFile  string `yaml:"keyFile"`
		} `yaml:"certificates"`
	} `yaml:"tls"`
}

func parseDoc(t *testing.T, data []byte) renderedDoc {
	t.Helper()
	var doc renderedDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		t.Fatalf("document does not parse: %v\n%s", err, data)
	}
	return doc
}

func TestRender_RouterShape(t *testing.T) {
	routes := []model.RouteRule{
		{ID: 7, DomainID: 1, UpstreamID: 10, PathPattern: "/api", HTTPMethod: "get", Priority: 1, IsActive: true, StripPrefix: true, Timeout: 15 * time.Second},
	}
	data, err := Render(Input{Domain: testDomain(), Routes: routes, Upstreams: testUpstreams()}, RenderOptions{})
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	doc := parseDoc(t, data)

	r, ok := doc.HTTP.Routers["r_example_com_7"]
	if !ok {
		t.Fatalf("router missing:\n%s", data)
	}
	if r.Rule != "Host(`example.com`) && PathPrefix(`/api`) && Method(`GET`)" {
		t.Errorf("rule = %q", r.Rule)
	}
	if r.Service != "s_example_com_7" {
		t.Errorf("service = %q", r.Service)
	}
	if len(r.EntryPoints) != 1 || r.EntryPoints[0] != "web" {
		t.Errorf("entryPoints = %v", r.EntryPoints)
	}
	if len(r.Middlewares) != 1 || r.Middlewares[0] != "m_strip_example_com_7" {
		t.Errorf("middlewares = %v", r.Middlewares)
	}
	if r.TLS != nil {
		t.Error("plain domain must not have tls")
	}

	lb, _ := doc.HTTP.Services["s_example_com_7"]["loadBalancer"].(map[string]any)
	servers, _ := lb["servers"].([]any)
	if len(servers) != 1 {
		t.Fatalf("servers = %v", lb["servers"])
	}
	server := servers[0].(map[string]any)
	if server["url"] != "http://10.0.0.1:8080" || server["weight"] != 3 {
		t.Errorf("server = %v", server)
	}
	if lb["serversTransport"] != "st_example_com_7" {
		t.Errorf("serversTransport = %v", lb["serversTransport"])
	}
	hc, _ := lb["healthCheck"].(map[string]any)
	if hc["path"] != "/healthz" || hc["interval"] != "30s" {
		t.Errorf("healthCheck = %v", hc)
	}
	if !bytes.HasPrefix(data, []byte("# Generated by netpilot for example.com")) {
		t.Errorf("missing header comment:\n%s", data)
	}
}

func TestRender_ForceHTTPSAndCertificate(t *testing.T) {
	d := testDomain()
	d.AutoTLS = true
	d.ForceHTTPS = true
	expires := base.Add(60 * 24 * time.Hour)
	cert := &model.Certificate{
		DomainID:        1,
		DomainName:      "example.com",
		Status:          model.CertValid,
		CertificatePath: "/certs/example.com/fullchain.pem",
		PrivateKeyPath:  "/certs/example.com/privkey.pem",
		ExpiresAt:       &expires,
	}
	routes := []model.RouteRule{{ID: 1, DomainID: 1, UpstreamID: 11, PathPattern: "/", IsActive: true}}

	data, err := Render(Input{Domain: d, Routes: routes, Upstreams: testUpstreams(), Certificate: cert, Now: base}, RenderOptions{HTTPSEntryPoint: "https"})
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	doc := parseDoc(t, data)

	r := doc.HTTP.Routers["r_example_com_1"]
	if len(r.EntryPoints) != 1 || r.EntryPoints[0] != "https" || r.TLS == nil {
		t.Errorf("route router = %+v, want https entry point with tls", r)
	}
	if r.Rule != "Host(`example.com`)" {
		t.Errorf("rule = %q", r.Rule)
	}

	redirect, ok := doc.HTTP.Routers["r_example_com_https"]
	if !ok {
		t.Fatalf("https redirect router missing:\n%s", data)
	}
	if redirect.Priority != 1 || redirect.EntryPoints[0] != "web" || redirect.Service != "noop@internal" {
		t.Errorf("https redirect router = %+v", redirect)
	}
	if _, ok := doc.HTTP.Middlewares["m_https_example_com"]["redirectScheme"]; !ok {
		t.Error("redirectScheme middleware missing")
	}

	if len(doc.TLS.Certificates) != 1 || doc.TLS.Certificates[0].CertFile != cert.CertificatePath || doc.TLS.Certificates[0].KeyFile != cert.PrivateKeyPath {
		t.Errorf("tls.certificates = %+v", doc.TLS.Certificates)
	}
}

func TestRender_TLSWithoutForceServesBothEntryPoints(t *testing.T) {
	d := testDomain()
	d.AutoTLS = true
	routes := []model.RouteRule{{ID: 1, DomainID: 1, UpstreamID: 11, IsActive: true}}

	data, err := Render(Input{Domain: d, Routes: routes, Upstreams: testUpstreams()}, RenderOptions{})
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	doc := parseDoc(t, data)
	if _, ok := doc.HTTP.Routers["r_example_com_1"]; !ok {
		t.Error("plain router missing")
	}
	if r, ok := doc.HTTP.Routers["r_example_com_1_tls"]; !ok || r.TLS == nil {
		t.Error("tls router missing")
	}
	if _, ok := doc.HTTP.Routers["r_example_com_https"]; ok {
		t.Error("https redirect must only be rendered with force HTTPS")
	}
}

func TestRender_CertificateUsability(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	future := now.Add(20 * 24 * time.Hour)
	past := now.Add(-time.Hour)

	tests := []struct {
		name string
		cert *model.Certificate
		want bool
	}{
		{"valid", &model.Certificate{Status: model.CertValid, CertificatePath: "/c.pem", PrivateKeyPath: "/k.pem", ExpiresAt: &future}, true},
		{"renewal processing", &model.Certificate{Status: model.CertProcessing, CertificatePath: "/c.pem", PrivateKeyPath: "/k.pem", ExpiresAt: &future}, true},
		{"renewal failed", &model.Certificate{Status: model.CertFailed, CertificatePath: "/c.pem", PrivateKeyPath: "/k.pem", ExpiresAt: &future}, true},
		{"expired material", &model.Certificate{Status: model.CertFailed, CertificatePath: "/c.pem", PrivateKeyPath: "/k.pem", ExpiresAt: &past}, false},
		{"no expiry", &model.Certificate{Status: model.CertFailed, CertificatePath: "/c.pem", PrivateKeyPath: "/k.pem"}, false},
		{"never issued", &model.Certificate{Status: model.CertPending, ExpiresAt: &future}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := testDomain()
			d.AutoTLS = true
			data, err := Render(Input{Domain: d, Upstreams: testUpstreams(), Certificate: tt.cert, Now: now}, RenderOptions{})
			if err != nil {
				t.Fatalf("Render failed: %v", err)
			}
			if got := bytes.Contains(data, []byte("certificates")); got != tt.want {
				t.Errorf("certificate referenced = %v, want %v:\n%s", got, tt.want, data)
			}
		})
	}
}

func TestRender_Redirects(t *testing.T) {
	redirects := []model.RedirectRule{
		{ID: 3, DomainID: 1, SourcePattern: "/old", TargetURL: "https://example.org/new", Type: model.RedirectPermanent, PreserveQuery: true, IsActive: true},
		{ID: 4, DomainID: 1, SourcePattern: `^/blog/\d+$`, IsRegex: true, TargetURL: "https://blog.example.com/", Type: model.RedirectTemporary, IsActive: true},
	}
	data, err := Render(Input{Domain: testDomain(), Redirects: redirects, Upstreams: testUpstreams()}, RenderOptions{})
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	doc := parseDoc(t, data)

	r := doc.HTTP.Routers["redirect_example_com_3"]
	if r.Rule != "Host(`example.com`) && PathPrefix(`/old`)" || r.Service != "noop@internal" {
		t.Errorf("redirect router = %+v", r)
	}
	mw := doc.HTTP.Middlewares["m_redirect_example_com_3"]["redirectRegex"].(map[string]any)
	if mw["replacement"] != "https://example.org/new${1}" || mw["permanent"] != true {
		t.Errorf("redirectRegex = %v", mw)
	}

	regex := doc.HTTP.Routers["redirect_example_com_4"]
	if regex.Rule != "Host(`example.com`) && PathRegexp(`^/blog/\\d+$`)" {
		t.Errorf("regex rule = %q", regex.Rule)
	}
	mw = doc.HTTP.Middlewares["m_redirect_example_com_4"]["redirectRegex"].(map[string]any)
	if mw["permanent"] != false || mw["replacement"] != "https://blog.example.com/" {
		t.Errorf("redirectRegex = %v", mw)
	}
}

func TestRender_WildcardDomain(t *testing.T) {
	d := model.Domain{ID: 1, Name: "*.example.com", IsActive: true}
	routes := []model.RouteRule{{ID: 1, DomainID: 1, UpstreamID: 11, IsActive: true}}

	data, err := Render(Input{Domain: d, Routes: routes, Upstreams: testUpstreams()}, RenderOptions{})
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	doc := parseDoc(t, data)
	r, ok := doc.HTTP.Routers["r_-w_example_com_1"]
	if !ok {
		t.Fatalf("router missing:\n%s", data)
	}
	if r.Rule != "HostRegexp(`^[a-z0-9-]+\\.example\\.com$`)" {
		t.Errorf("rule = %q", r.Rule)
	}
	if got := FileName(d.Name); got != "routes--w_example_com.yml" {
		t.Errorf("FileName = %q", got)
	}
}

func TestHostKey_Distinct(t *testing.T) {
	pairs := [][2]string{
		{"*.example.com", "wild.example.com"},
		{"*.example.com", "-w.example.com"},
		{"a-b.com", "a.b.com"},
		{"a-b.com", "a_b.com"},
		{"a--b.com", "a-_b.com"},
	}
	for _, p := range pairs {
		if FileName(p[0]) == FileName(p[1]) {
			t.Errorf("FileName(%q) == FileName(%q) = %q", p[0], p[1], FileName(p[0]))
		}
		if RouterName(p[0], 1) == RouterName(p[1], 1) {
			t.Errorf("RouterName(%q) == RouterName(%q)", p[0], p[1])
		}
	}
	if FileName("Example.COM") != FileName("example.com") {
		t.Error("FileName must ignore case")
	}
}

func TestRender_EmptyDomain(t *testing.T) {
	data, err := Render(Input{Domain: testDomain()}, RenderOptions{})
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if !bytes.Contains(data, []byte("http: {}")) {
		t.Errorf("empty document = %q", data)
	}
	parseDoc(t, data)
}
