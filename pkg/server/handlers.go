package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"netpilot-hq/netpilot/pkg/breaker"
	"netpilot-hq/netpilot/pkg/certs"
	"netpilot-hq/netpilot/pkg/ledger"
	"netpilot-hq/netpilot/pkg/model"
	"netpilot-hq/netpilot/pkg/reconcile"
	"netpilot-hq/netpilot/pkg/scheduler"
	"netpilot-hq/netpilot/pkg/store"
)

const maxLedgerLimit = 1000

type handlers struct {
	deps   Deps
	logger *slog.Logger
}

func scopeFrom(r *http.Request) model.Scope {
	return model.Scope{TenantID: r.URL.Query().Get("tenant")}
}

// int64Param parses an optional positive id. ok is false when the value
// is present but invalid.
func int64Param(raw string) (id int64, ok bool) {
	if raw == "" {
		return 0, true
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, ok := int64Param(chi.URLParam(r, "id"))
	if !ok || id == 0 {
		writeError(w, r, http.StatusBadRequest, "invalid id")
		return 0, false
	}
	return id, true
}

// statusFor maps an operation error to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, ledger.ErrNotFound), errors.Is(err, scheduler.ErrUnknownJob):
		return http.StatusNotFound
	case errors.Is(err, certs.ErrIssuanceInProgress), errors.Is(err, certs.ErrSweepInProgress), errors.Is(err, scheduler.ErrJobRunning):
		return http.StatusConflict
	case errors.Is(err, certs.ErrInvalidDomain), errors.Is(err, certs.ErrDomainInactive):
		return http.StatusUnprocessableEntity
	case breaker.IsOpen(err):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (h *handlers) fail(w http.ResponseWriter, r *http.Request, err error, details any) {
	code := statusFor(err)
	if code >= 500 {
		h.logger.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "error", err)
	}
	resp := errorResponse{
		Error:     err.Error(),
		RequestID: middleware.GetReqID(r.Context()),
		Details:   details,
	}
	if kind := certs.KindOf(err); kind != "" {
		resp.Kind = string(kind)
	}
	writeJSON(w, r, code, resp)
}

func (h *handlers) version(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, h.deps.Version)
}

// reconcile runs a pass and answers with its report. With async=true a
// full pass is queued and 202 returned at once.
func (h *handlers) reconcile(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	domainID, ok := int64Param(q.Get("domain_id"))
	if !ok {
		writeError(w, r, http.StatusBadRequest, "invalid domain_id")
		return
	}

	if async, _ := strconv.ParseBool(q.Get("async")); async {
		if h.deps.Trigger == nil {
			writeError(w, r, http.StatusNotImplemented, "asynchronous reconcile not available")
			return
		}
		h.deps.Trigger.Fire()
		writeJSON(w, r, http.StatusAccepted, map[string]string{"status": "queued"})
		return
	}

	var (
		report *reconcile.Report
		err    error
	)
	if domainID != 0 {
		report, err = h.deps.Reconciler.ReconcileDomain(r.Context(), scopeFrom(r), domainID)
	} else {
		report, err = h.deps.Reconciler.ReconcileAll(r.Context(), scopeFrom(r))
	}
	if err != nil {
		if report != nil {
			h.fail(w, r, err, report)
		} else {
			h.fail(w, r, err, nil)
		}
		return
	}
	writeJSON(w, r, http.StatusOK, report)
}

type renderResponse struct {
	DomainID int64               `json:"domain_id"`
	Document string              `json:"document"`
	Skipped  []reconcile.Skipped `json:"skipped,omitempty"`
}

func (h *handlers) render(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	doc, skipped, err := h.deps.Reconciler.Render(r.Context(), scopeFrom(r), id)
	if err != nil {
		h.fail(w, r, err, nil)
		return
	}
	writeJSON(w, r, http.StatusOK, renderResponse{DomainID: id, Document: string(doc), Skipped: skipped})
}

type ledgerList struct {
	Entries []*ledger.Entry `json:"entries"`
	Count   int             `json:"count"`
}

func (h *handlers) listLedger(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := &ledger.Query{
		TenantID: q.Get("tenant"),
		Kind:     ledger.Kind(q.Get("kind")),
		Status:   ledger.Status(q.Get("status")),
		Subject:  q.Get("subject"),
	}
	if query.Kind != "" && !query.Kind.Valid() {
		writeError(w, r, http.StatusBadRequest, "invalid kind")
		return
	}
	switch query.Status {
	case "", ledger.StatusRunning, ledger.StatusSuccess, ledger.StatusFailed:
	default:
		writeError(w, r, http.StatusBadRequest, "invalid status")
		return
	}
	for name, dst := range map[string]*int{"limit": &query.Limit, "offset": &query.Offset} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, r, http.StatusBadRequest, "invalid "+name)
			return
		}
		*dst = n
	}
	if query.Limit > maxLedgerLimit {
		query.Limit = maxLedgerLimit
	}

	entries, err := h.deps.Ledger.Query(r.Context(), query)
	if err != nil {
		h.fail(w, r, err, nil)
		return
	}
	if entries == nil {
		entries = []*ledger.Entry{}
	}
	writeJSON(w, r, http.StatusOK, ledgerList{Entries: entries, Count: len(entries)})
}

func (h *handlers) getLedger(w http.ResponseWriter, r *http.Request) {
	entry, err := h.deps.Ledger.Storage().Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err, nil)
		return
	}
	writeJSON(w, r, http.StatusOK, entry)
}

func (h *handlers) listBreakers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, h.deps.Breakers.Snapshot())
}

func (h *handlers) resetBreaker(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if !h.deps.Breakers.Reset(name) {
		writeError(w, r, http.StatusNotFound, "breaker not found")
		return
	}
	h.logger.InfoContext(r.Context(), "breaker reset via api", "breaker", name)
	writeJSON(w, r, http.StatusOK, h.deps.Breakers.Get(name).Stats())
}

func (h *handlers) upstreamHealth(w http.ResponseWriter, r *http.Request) {
	domainID, ok := int64Param(r.URL.Query().Get("domain_id"))
	if !ok {
		writeError(w, r, http.StatusBadRequest, "invalid domain_id")
		return
	}
	if domainID != 0 {
		writeJSON(w, r, http.StatusOK, h.deps.Upstreams.DomainSnapshot(domainID))
		return
	}
	writeJSON(w, r, http.StatusOK, h.deps.Upstreams.Snapshot())
}

func (h *handlers) listCertificates(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	domainID, ok := int64Param(q.Get("domain_id"))
	if !ok {
		writeError(w, r, http.StatusBadRequest, "invalid domain_id")
		return
	}
	filter := store.CertificateFilter{DomainID: domainID}
	if raw := q.Get("status"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			filter.Statuses = append(filter.Statuses, model.CertificateStatus(strings.TrimSpace(s)))
		}
	}

	list, err := h.deps.CertStore.ListCertificates(r.Context(), scopeFrom(r), filter)
	if err != nil {
		h.fail(w, r, err, nil)
		return
	}
	if list == nil {
		list = []*model.Certificate{}
	}
	writeJSON(w, r, http.StatusOK, list)
}

func (h *handlers) issueCertificate(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	cert, err := h.deps.Certificates.Issue(r.Context(), scopeFrom(r), id)
	if err != nil {
		if cert != nil {
			h.fail(w, r, err, cert)
		} else {
			h.fail(w, r, err, nil)
		}
		return
	}
	writeJSON(w, r, http.StatusOK, cert)
}

func (h *handlers) resetCertificate(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	cert, err := h.deps.Certificates.Reset(r.Context(), scopeFrom(r), id)
	if err != nil {
		h.fail(w, r, err, nil)
		return
	}
	writeJSON(w, r, http.StatusOK, cert)
}

func (h *handlers) listJobs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, h.deps.Jobs.Status())
}

func (h *handlers) runJob(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := h.deps.Jobs.RunNow(r.Context(), name); err != nil {
		h.fail(w, r, err, nil)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]string{"job": name, "status": "completed"})
}
