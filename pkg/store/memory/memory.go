// Package memory provides an in-memory desired-state store. It backs
// tests and dry runs and exposes Put methods standing in for the
// administrative layer.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"netpilot-hq/netpilot/pkg/model"
	"netpilot-hq/netpilot/pkg/store"
)

// Store is a concurrency-safe in-memory store.Store.
type Store struct {
	mu        sync.RWMutex
	nextID    int64
	domains   map[int64]model.Domain
	upstreams map[int64]model.Upstream
	routes    map[int64]model.RouteRule
	redirects map[int64]model.RedirectRule
	certs     map[int64]*model.Certificate
}

// New creates an empty store.
func New() *Store {
	return &Store{
		domains:   make(map[int64]model.Domain),
		upstreams: make(map[int64]model.Upstream),
		routes:    make(map[int64]model.RouteRule),
		redirects: make(map[int64]model.RedirectRule),
		certs:     make(map[int64]*model.Certificate),
	}
}

func (s *Store) id(current int64) int64 {
	if current != 0 {
		if current > s.nextID {
			s.nextID = current
		}
		return current
	}
	s.nextID++
	return s.nextID
}

// PutDomain inserts or replaces a domain and returns its id.
func (s *Store) PutDomain(d model.Domain) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	d.ID = s.id(d.ID)
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	s.domains[d.ID] = d
	return d.ID
}

// DeleteDomain removes a domain and the rules attached to it.
func (s *Store) DeleteDomain(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.domains, id)
	for rid, r := range s.routes {
		if r.DomainID == id {
			delete(s.routes, rid)
		}
	}
	for rid, r := range s.redirects {
		if r.DomainID == id {
			delete(s.redirects, rid)
		}
	}
}

// PutUpstream inserts or replaces an upstream and returns its id.
func (s *Store) PutUpstream(u model.Upstream) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	u.ID = s.id(u.ID)
	s.upstreams[u.ID] = u
	return u.ID
}

// PutRouteRule inserts or replaces a route rule and returns its id.
func (s *Store) PutRouteRule(r model.RouteRule) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	r.ID = s.id(r.ID)
	s.routes[r.ID] = r
	return r.ID
}

// PutRedirectRule inserts or replaces a redirect rule and returns its id.
func (s *Store) PutRedirectRule(r model.RedirectRule) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	r.ID = s.id(r.ID)
	s.redirects[r.ID] = r
	return r.ID
}

// PutCertificate inserts or replaces a certificate and returns its id.
func (s *Store) PutCertificate(c *model.Certificate) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := c.Clone()
	cp.ID = s.id(cp.ID)
	s.certs[cp.ID] = cp
	return cp.ID
}

func (s *Store) inScope(scope model.Scope, domainID int64) bool {
	d, ok := s.domains[domainID]
	return ok && d.TenantID == scope.TenantID
}

// ListDomains implements store.Reader.
func (s *Store) ListDomains(ctx context.Context, scope model.Scope) ([]model.Domain, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Domain
	for _, d := range s.domains {
		if d.TenantID == scope.TenantID {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// GetDomain implements store.Reader.
func (s *Store) GetDomain(ctx context.Context, scope model.Scope, id int64) (*model.Domain, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.inScope(scope, id) {
		return nil, store.ErrNotFound
	}
	d := s.domains[id]
	return &d, nil
}

// ListUpstreams implements store.Reader.
func (s *Store) ListUpstreams(ctx context.Context, scope model.Scope, domainID int64) ([]model.Upstream, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Upstream
	for _, u := range s.upstreams {
		if (domainID == 0 || u.DomainID == domainID) && s.inScope(scope, u.DomainID) {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ListRouteRules implements store.Reader.
func (s *Store) ListRouteRules(ctx context.Context, scope model.Scope, domainID int64) ([]model.RouteRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.RouteRule
	if !s.inScope(scope, domainID) {
		return out, nil
	}
	for _, r := range s.routes {
		if r.DomainID == domainID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ListRedirectRules implements store.Reader.
func (s *Store) ListRedirectRules(ctx context.Context, scope model.Scope, domainID int64) ([]model.RedirectRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.RedirectRule
	if !s.inScope(scope, domainID) {
		return out, nil
	}
	for _, r := range s.redirects {
		if r.DomainID == domainID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// GetCertificate implements store.CertificateStore.
func (s *Store) GetCertificate(ctx context.Context, scope model.Scope, id int64) (*model.Certificate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.certs[id]
	if !ok || c.TenantID != scope.TenantID {
		return nil, store.ErrNotFound
	}
	return c.Clone(), nil
}

// ListCertificates implements store.CertificateStore.
func (s *Store) ListCertificates(ctx context.Context, scope model.Scope, filter store.CertificateFilter) ([]*model.Certificate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*model.Certificate
	for _, c := range s.certs {
		if c.TenantID == scope.TenantID && filter.Matches(c) {
			out = append(out, c.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// CurrentCertificate implements store.CertificateStore.
func (s *Store) CurrentCertificate(ctx context.Context, scope model.Scope, domainID int64) (*model.Certificate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := time.Now()
	var best *model.Certificate
	for _, c := range s.certs {
		if c.TenantID != scope.TenantID || c.DomainID != domainID || !c.Usable(now) {
			continue
		}
		if best == nil || c.ExpiresAt.After(*best.ExpiresAt) ||
			(c.ExpiresAt.Equal(*best.ExpiresAt) && c.ID > best.ID) {
			best = c
		}
	}
	if best == nil {
		return nil, store.ErrNotFound
	}
	return best.Clone(), nil
}

// UpdateCertificate implements store.CertificateStore.
func (s *Store) UpdateCertificate(ctx context.Context, scope model.Scope, c *model.Certificate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.certs[c.ID]
	if !ok || existing.TenantID != scope.TenantID {
		return store.ErrNotFound
	}
	s.certs[c.ID] = c.Clone()
	return nil
}

// Ping implements store.Store.
func (s *Store) Ping(ctx context.Context) error {
	return nil
}

// Close implements store.Store.
func (s *Store) Close() error {
	return nil
}
