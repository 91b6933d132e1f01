package upstream

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/okian/kpisync/internal/domain/model"
	"github.com/okian/kpisync/internal/domain/pagination"
)

// Executor runs one upstream request; *Client implements it.
type Executor interface {
	Execute(ctx context.Context, spec RequestSpec) ([]byte, error)
}

// TransactionsAPI fetches transaction pages for the pagination chain.
type TransactionsAPI struct {
	exec    Executor
	baseURL string
	version string
}

// NewTransactionsAPI creates a fetcher against baseURL.
func NewTransactionsAPI(exec Executor, baseURL, version string) *TransactionsAPI {
	return &TransactionsAPI{
		exec:    exec,
		baseURL: strings.TrimRight(baseURL, "/"),
		version: version,
	}
}

// FetchPage implements pagination.PageFetcher.
func (t *TransactionsAPI) FetchPage(ctx context.Context, integ model.Integration, a pagination.Attempt, req pagination.PageRequest) (model.Page, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(req.Limit))
	switch a.Mode {
	case pagination.ModePage:
		q.Set("page", strconv.Itoa(req.Page))
		if req.Cursor != "" {
			q.Set("startAfterId", req.Cursor)
		}
	default:
		q.Set("offset", strconv.Itoa(req.Offset))
	}

	switch a.Location {
	case pagination.LocationExplicit:
		q.Set("locationId", integ.LocationID)
	case pagination.LocationAltID:
		q.Set("altId", integ.LocationID)
		q.Set("altType", "location")
	case pagination.LocationInferred:
	}

	body, err := t.exec.Execute(ctx, RequestSpec{
		Endpoint: "transactions",
		Method:   http.MethodGet,
		URL:      t.baseURL + "/payments/transactions",
		Query:    q,
		Token:    a.TokenFor(integ),
		Headers:  t.headers(),
	})
	if err != nil {
		return model.Page{}, err
	}
	page, err := ParsePage(body)
	if err != nil {
		return model.Page{}, fmt.Errorf("transactions page %d: %w", req.Page, err)
	}
	return page, nil
}

func (t *TransactionsAPI) headers() map[string]string {
	if t.version == "" {
		return nil
	}
	return map[string]string{"Version": t.version}
}
