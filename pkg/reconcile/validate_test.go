package reconcile

import (
	"errors"
	"testing"

	"netpilot-hq/netpilot/pkg/model"
)

func TestValidateRoute(t *testing.T) {
	upstreams := testUpstreams()
	upstreams[12] = model.Upstream{ID: 12, DomainID: 1, TargetURL: "http://10.0.0.3", IsActive: false}
	upstreams[13] = model.Upstream{ID: 13, DomainID: 2, TargetURL: "http://10.0.0.4", IsActive: true}
	upstreams[14] = model.Upstream{ID: 14, DomainID: 1, TargetURL: "10.0.0.5:80", IsActive: true}

	tests := []struct {
		name string
		rule model.RouteRule
		want error
	}{
		{"valid", model.RouteRule{ID: 1, DomainID: 1, UpstreamID: 10, PathPattern: "/api"}, nil},
		{"default path", model.RouteRule{ID: 1, DomainID: 1, UpstreamID: 10}, nil},
		{"any method", model.RouteRule{ID: 1, DomainID: 1, UpstreamID: 10, HTTPMethod: "*"}, nil},
		{"missing upstream", model.RouteRule{ID: 1, DomainID: 1, UpstreamID: 99}, ErrInvalidRoute},
		{"inactive upstream", model.RouteRule{ID: 1, DomainID: 1, UpstreamID: 12}, ErrInactiveUpstream},
		{"foreign upstream", model.RouteRule{ID: 1, DomainID: 1, UpstreamID: 13}, ErrInvalidRoute},
		{"locked foreign upstream", model.RouteRule{ID: 1, DomainID: 1, UpstreamID: 13, IsLocked: true}, ErrInvalidRoute},
		{"target without scheme", model.RouteRule{ID: 1, DomainID: 1, UpstreamID: 14}, ErrInvalidRoute},
		{"relative path", model.RouteRule{ID: 1, DomainID: 1, UpstreamID: 10, PathPattern: "api"}, ErrInvalidRoute},
		{"backtick in path", model.RouteRule{ID: 1, DomainID: 1, UpstreamID: 10, PathPattern: "/a`b"}, ErrInvalidRoute},
		{"bad method", model.RouteRule{ID: 1, DomainID: 1, UpstreamID: 10, HTTPMethod: "GET POST"}, ErrInvalidRoute},
		{"other domain", model.RouteRule{ID: 1, DomainID: 2, UpstreamID: 10}, ErrInvalidRoute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateRoute(testDomain(), tt.rule, upstreams)
			if tt.want == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected %v, got nil", tt.want)
			}
			if !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestValidateRoute_InactiveDomain(t *testing.T) {
	d := testDomain()
	d.IsActive = false
	err := ValidateRoute(d, model.RouteRule{ID: 5, DomainID: 1, UpstreamID: 10}, testUpstreams())
	if err == nil || err.Kind != KindInvalidRoute {
		t.Fatalf("err = %v, want invalid route", err)
	}
}

func TestValidateRedirect(t *testing.T) {
	tests := []struct {
		name string
		rule model.RedirectRule
		ok   bool
	}{
		{"prefix", model.RedirectRule{ID: 1, DomainID: 1, SourcePattern: "/old", TargetURL: "https://example.com/new", Type: model.RedirectPermanent}, true},
		{"regex", model.RedirectRule{ID: 1, DomainID: 1, SourcePattern: `^/a/(\d+)$`, IsRegex: true, TargetURL: "https://example.com/b", Type: model.RedirectTemporary}, true},
		{"empty source", model.RedirectRule{ID: 1, DomainID: 1, TargetURL: "https://example.com", Type: model.RedirectPermanent}, false},
		{"bad regex", model.RedirectRule{ID: 1, DomainID: 1, SourcePattern: `^/a/(`, IsRegex: true, TargetURL: "https://example.com", Type: model.RedirectPermanent}, false},
		{"relative source", model.RedirectRule{ID: 1, DomainID: 1, SourcePattern: "old", TargetURL: "https://example.com", Type: model.RedirectPermanent}, false},
		{"empty target", model.RedirectRule{ID: 1, DomainID: 1, SourcePattern: "/old", Type: model.RedirectPermanent}, false},
		{"relative target", model.RedirectRule{ID: 1, DomainID: 1, SourcePattern: "/old", TargetURL: "/new", Type: model.RedirectPermanent}, false},
		{"bad type", model.RedirectRule{ID: 1, DomainID: 1, SourcePattern: "/old", TargetURL: "https://example.com", Type: 200}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateRedirect(testDomain(), tt.rule)
			if tt.ok {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("expected an error")
			}
			if !errors.Is(err, ErrInvalidRedirectPattern) {
				t.Errorf("error = %v, want invalid redirect pattern", err)
			}
		})
	}
}

func TestPartition_SkipsInactiveAndReportsInvalid(t *testing.T) {
	upstreams := testUpstreams()
	upstreams[12] = model.Upstream{ID: 12, DomainID: 1, TargetURL: "http://10.0.0.3", IsActive: false}

	routes := []model.RouteRule{
		{ID: 1, DomainID: 1, UpstreamID: 10, IsActive: true},
		{ID: 2, DomainID: 1, UpstreamID: 12, IsActive: true},
		{ID: 3, DomainID: 1, UpstreamID: 12, IsActive: false},
	}
	redirects := []model.RedirectRule{
		{ID: 4, DomainID: 1, SourcePattern: "", TargetURL: "https://x.test", Type: model.RedirectPermanent, IsActive: true},
	}

	okRoutes, okRedirects, excluded := partition(testDomain(), routes, redirects, upstreams)
	if len(okRoutes) != 1 || okRoutes[0].ID != 1 {
		t.Errorf("routes = %+v, want only rule 1", okRoutes)
	}
	if len(okRedirects) != 0 {
		t.Errorf("redirects = %+v, want none", okRedirects)
	}
	if len(excluded) != 2 {
		t.Fatalf("excluded = %v, want 2", excluded)
	}
	if excluded[0].Kind != KindInactiveUpstream || excluded[0].RuleID != 2 {
		t.Errorf("excluded[0] = %v", excluded[0])
	}
	if excluded[1].Kind != KindInvalidRedirectPattern || excluded[1].RuleType != "redirect" {
		t.Errorf("excluded[1] = %v", excluded[1])
	}
}
