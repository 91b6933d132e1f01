package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/okian/kpisync/pkg/metrics"
)

// statusClientClosed is the non-standard status logged when the caller went
// away before the response was ready.
const statusClientClosed = 499

// Error codes written in errorResponse.Code. Metrics use the same labels.
const (
	codeBadRequest        = "bad_request"
	codeNotFound          = "not_found"
	codeUpstreamExhausted = "upstream_exhausted"
	codeTimeout           = "timeout"
	codeClientClosed      = "client_closed"
	codeInternal          = "internal_error"
)

// MetricsMiddleware records request count and latency per endpoint. Failed
// requests are also counted by the error code the handler answered with, so
// an exhausted upstream is told apart from an internal failure.
func MetricsMiddleware(next http.HandlerFunc, endpoint string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		durationMs := float64(time.Since(start).Milliseconds())
		status := strconv.Itoa(rec.status)
		metrics.RecordHTTPRequest(endpoint, r.Method, status)
		metrics.RecordHTTPRequestDuration(endpoint, r.Method, status, durationMs)

		if rec.status < http.StatusBadRequest {
			return
		}
		code := rec.code
		if code == "" {
			code = codeForStatus(rec.status)
		}
		metrics.RecordErrorByEndpoint(endpoint, r.Method, code)
		metrics.RecordErrorByType(code, severity(code))
		metrics.RecordErrorLatency("http", code, durationMs)
	}
}

// codeForStatus labels errors written without a code, such as http.NotFound.
func codeForStatus(status int) string {
	switch {
	case status == http.StatusNotFound:
		return codeNotFound
	case status == http.StatusBadGateway:
		return codeUpstreamExhausted
	case status == http.StatusGatewayTimeout:
		return codeTimeout
	case status == statusClientClosed:
		return codeClientClosed
	case status >= http.StatusInternalServerError:
		return codeInternal
	default:
		return codeBadRequest
	}
}

func severity(code string) string {
	switch code {
	case codeInternal, codeUpstreamExhausted, codeTimeout:
		return "high"
	case codeClientClosed:
		return "low"
	default:
		return "medium"
	}
}

// statusRecorder captures the status and error code of a response.
type statusRecorder struct {
	http.ResponseWriter
	status int
	code   string
}

func (rec *statusRecorder) WriteHeader(status int) {
	rec.status = status
	rec.ResponseWriter.WriteHeader(status)
}

func (rec *statusRecorder) Write(b []byte) (int, error) {
	n, err := rec.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("failed to write response: %w", err)
	}
	return n, nil
}

// setErrorCode is called by writeError.
func (rec *statusRecorder) setErrorCode(code string) { rec.code = code }
