package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	service "github.com/okian/kpisync/internal/app"
	"github.com/okian/kpisync/internal/domain/pagination"
	"github.com/okian/kpisync/pkg/logger"
)

// KpisHandler serves range KPIs.
type KpisHandler struct {
	deps   Dependencies
	logger logger.Logger
}

// NewKpisHandler creates a new KPI handler.
func NewKpisHandler(deps Dependencies) *KpisHandler {
	return &KpisHandler{deps: deps, logger: logger.Get().Named("api")}
}

type kpiRequest struct {
	tenant      string
	integration string
	start       time.Time
	end         time.Time
	opts        service.QueryOptions
}

// HandleGetTransactions handles GET /v1/kpis/transactions.
func (h *KpisHandler) HandleGetTransactions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	req, err := parseKpiRequest(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, err)
		return
	}

	resp, err := h.deps.GetTransactionsKpis(r.Context(), req.tenant, req.integration, req.start, req.end, req.opts)
	if err != nil {
		status, code := classify(err)
		if status >= http.StatusInternalServerError {
			h.logger.Error(r.Context(), "kpi request failed",
				logger.String("tenant", req.tenant),
				logger.String("integration", req.integration),
				logger.Error(err),
			)
		}
		writeError(w, status, code, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, service.ErrInvalidRange), errors.Is(err, ErrBadRequest):
		return http.StatusBadRequest, codeBadRequest
	case errors.Is(err, service.ErrUnknownTenant), errors.Is(err, service.ErrUnknownIntegration):
		return http.StatusNotFound, codeNotFound
	case errors.Is(err, pagination.ErrAllAttemptsExhausted):
		return http.StatusBadGateway, codeUpstreamExhausted
	case errors.Is(err, context.Canceled):
		return statusClientClosed, codeClientClosed
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, codeTimeout
	default:
		return http.StatusInternalServerError, codeInternal
	}
}

func parseKpiRequest(q url.Values) (kpiRequest, error) {
	req := kpiRequest{
		tenant:      strings.TrimSpace(q.Get("tenant")),
		integration: strings.TrimSpace(q.Get("integration")),
	}
	for _, name := range []string{"tenant", "integration", "start", "end"} {
		if strings.TrimSpace(q.Get(name)) == "" {
			return req, fmt.Errorf("%w: %s", ErrMissingParam, name)
		}
	}

	var err error
	if req.start, err = parseDate(q.Get("start"), false); err != nil {
		return req, fmt.Errorf("start: %w", err)
	}
	if req.end, err = parseDate(q.Get("end"), true); err != nil {
		return req, fmt.Errorf("end: %w", err)
	}

	if req.opts.Bust, err = parseFlag(q, "bust"); err != nil {
		return req, err
	}
	if req.opts.Hard, err = parseFlag(q, "hard"); err != nil {
		return req, err
	}
	if req.opts.Debug, err = parseFlag(q, "debug"); err != nil {
		return req, err
	}
	req.opts.Preset = strings.TrimSpace(q.Get("preset"))
	req.opts.Compare = strings.TrimSpace(q.Get("compare"))
	return req, nil
}

// parseDate accepts YYYY-MM-DD (UTC) or RFC3339. A date-only end expands to
// the last millisecond of that day.
func parseDate(v string, endOfDay bool) (time.Time, error) {
	v = strings.TrimSpace(v)
	if t, err := time.Parse(time.DateOnly, v); err == nil {
		if endOfDay {
			t = t.Add(24*time.Hour - time.Millisecond)
		}
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, ErrInvalidDate
	}
	return t, nil
}

func parseFlag(q url.Values, name string) (bool, error) {
	v := strings.TrimSpace(q.Get(name))
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%w: %s must be a boolean", ErrBadRequest, name)
	}
	return b, nil
}
