package healthcheck

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"netpilot-hq/netpilot/pkg/breaker"
	"netpilot-hq/netpilot/pkg/model"
	"netpilot-hq/netpilot/pkg/store/memory"
)

func TestProbeURL(t *testing.T) {
	tests := []struct {
		target, path, want string
	}{
		{"http://10.0.0.5:8080", "/healthz", "http://10.0.0.5:8080/healthz"},
		{"http://10.0.0.5:8080/", "healthz", "http://10.0.0.5:8080/healthz"},
		{"http://10.0.0.5:8080//", "//healthz", "http://10.0.0.5:8080/healthz"},
		{"http://app", "", "http://app/"},
	}
	for _, tt := range tests {
		if got := ProbeURL(tt.target, tt.path); got != tt.want {
			t.Errorf("ProbeURL(%q, %q) = %q, want %q", tt.target, tt.path, got, tt.want)
		}
	}
}

func TestCheckUpstream_StatusClasses(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		healthy bool
	}{
		{"ok", http.StatusOK, true},
		{"no content", http.StatusNoContent, true},
		{"redirect", http.StatusFound, true},
		{"not found", http.StatusNotFound, false},
		{"server error", http.StatusServiceUnavailable, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/health" {
					t.Errorf("unexpected path %q", r.URL.Path)
				}
				if tt.status == http.StatusFound {
					w.Header().Set("Location", "/elsewhere")
				}
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			c := NewChecker(breaker.NewRegistry(breaker.DefaultConfig()))
			res := c.CheckUpstream(context.Background(), model.Upstream{ID: 1, TargetURL: srv.URL, HealthCheckPath: "health"})

			if res.Healthy != tt.healthy {
				t.Errorf("healthy = %v, want %v (%+v)", res.Healthy, tt.healthy, res)
			}
			if res.StatusCode != tt.status {
				t.Errorf("status = %d, want %d", res.StatusCode, tt.status)
			}
			if !tt.healthy && res.Error == "" {
				t.Error("expected error text for unhealthy result")
			}
		})
	}
}

func TestCheckUpstream_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer srv.Close()

	c := NewChecker(breaker.NewRegistry(breaker.DefaultConfig()))
	res := c.CheckUpstream(context.Background(), model.Upstream{ID: 2, TargetURL: srv.URL, Timeout: 20 * time.Millisecond})

	if res.Healthy {
		t.Fatal("expected timeout to be unhealthy")
	}
	if res.Error == "" || res.StatusCode != 0 {
		t.Errorf("expected error text and no status, got %+v", res)
	}
}

func TestCheckUpstream_BreakerOpens(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	reg := breaker.NewRegistry(breaker.Config{FailureThreshold: 2, ResetTimeout: time.Hour})
	c := NewChecker(reg)
	u := model.Upstream{ID: 3, TargetURL: srv.URL}

	for i := 0; i < 4; i++ {
		res := c.CheckUpstream(context.Background(), u)
		if res.Healthy {
			t.Fatalf("probe %d unexpectedly healthy", i)
		}
	}

	if got := hits.Load(); got != 2 {
		t.Errorf("expected 2 requests before the breaker opened, got %d", got)
	}
	if reg.Get(breaker.UpstreamName(3)).State() != breaker.StateOpen {
		t.Error("expected upstream breaker to be open")
	}
}

func TestMonitor_Poll(t *testing.T) {
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer healthy.Close()
	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer failing.Close()

	st := memory.New()
	active := st.PutDomain(model.Domain{Name: "example.com", IsActive: true})
	inactive := st.PutDomain(model.Domain{Name: "old.example.com", IsActive: false})
	up1 := st.PutUpstream(model.Upstream{DomainID: active, TargetURL: healthy.URL, IsActive: true})
	up2 := st.PutUpstream(model.Upstream{DomainID: active, TargetURL: failing.URL, IsActive: true})
	st.PutUpstream(model.Upstream{DomainID: active, TargetURL: healthy.URL, IsActive: false})
	st.PutUpstream(model.Upstream{DomainID: inactive, TargetURL: healthy.URL, IsActive: true})

	var seen atomic.Int32
	m := NewMonitor(st, NewChecker(breaker.NewRegistry(breaker.DefaultConfig())))
	m.Subscribe(func(Result) { seen.Add(1) })

	results, err := m.Poll(context.Background(), model.DefaultScope)
	if err != nil {
		t.Fatalf("Poll failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 probed upstreams, got %d", len(results))
	}
	if seen.Load() != 2 {
		t.Errorf("expected 2 subscriber calls, got %d", seen.Load())
	}

	r1, ok := m.Result(up1)
	if !ok || !r1.Healthy {
		t.Errorf("expected upstream %d healthy, got %+v", up1, r1)
	}
	r2, ok := m.Result(up2)
	if !ok || r2.Healthy {
		t.Errorf("expected upstream %d unhealthy, got %+v", up2, r2)
	}

	snap := m.DomainSnapshot(active)
	if len(snap) != 2 || snap[0].UpstreamID != up1 {
		t.Errorf("unexpected domain snapshot %+v", snap)
	}
	if len(m.DomainSnapshot(inactive)) != 0 {
		t.Error("inactive domain should have no results")
	}
}
