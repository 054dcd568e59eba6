package reconcile

import (
	"sort"
	"time"

	"netpilot-hq/netpilot/pkg/model"
)

// SortRoutes orders routes by priority descending, then creation time
// ascending, then id ascending.
func SortRoutes(routes []model.RouteRule) {
	sort.SliceStable(routes, func(i, j int) bool {
		return before(routes[i].Priority, routes[j].Priority, routes[i].CreatedAt, routes[j].CreatedAt, routes[i].ID, routes[j].ID)
	})
}

// SortRedirects orders redirects the same way as SortRoutes.
func SortRedirects(redirects []model.RedirectRule) {
	sort.SliceStable(redirects, func(i, j int) bool {
		return before(redirects[i].Priority, redirects[j].Priority, redirects[i].CreatedAt, redirects[j].CreatedAt, redirects[i].ID, redirects[j].ID)
	})
}

func before(pi, pj int, ci, cj time.Time, idi, idj int64) bool {
	if pi != pj {
		return pi > pj
	}
	if !ci.Equal(cj) {
		return ci.Before(cj)
	}
	return idi < idj
}

// entry is one router source in publication order.
type entry struct {
	route    *model.RouteRule
	redirect *model.RedirectRule
}

func (e entry) key() (int, time.Time, int64) {
	if e.redirect != nil {
		return e.redirect.Priority, e.redirect.CreatedAt, e.redirect.ID
	}
	return e.route.Priority, e.route.CreatedAt, e.route.ID
}

// merge interleaves two sorted lists into one total order. On a full tie a
// redirect is placed before a route.
func merge(routes []model.RouteRule, redirects []model.RedirectRule) []entry {
	out := make([]entry, 0, len(routes)+len(redirects))
	i, j := 0, 0
	for i < len(routes) || j < len(redirects) {
		if j >= len(redirects) {
			out = append(out, entry{route: &routes[i]})
			i++
			continue
		}
		if i >= len(routes) {
			out = append(out, entry{redirect: &redirects[j]})
			j++
			continue
		}
		rp, rc, _ := entry{route: &routes[i]}.key()
		dp, dc, _ := entry{redirect: &redirects[j]}.key()
		if rp > dp || (rp == dp && rc.Before(dc)) {
			out = append(out, entry{route: &routes[i]})
			i++
		} else {
			out = append(out, entry{redirect: &redirects[j]})
			j++
		}
	}
	return out
}
