package core

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"lexledger/internal/types"
)

func TestRecoverer(t *testing.T) {
	var logs bytes.Buffer
	srv := newTestServer(t)
	srv.Logger = slog.New(slog.NewJSONHandler(&logs, nil))

	h := srv.Recoverer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("ledger exploded")
	}))
	req := httptest.NewRequest(http.MethodGet, "/v1/credits/balance", nil)
	req = req.WithContext(types.WithRequestID(req.Context(), `req"1`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	var resp APIErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("body must be valid JSON: %v (%s)", err, rec.Body.String())
	}
	if resp.Error.RequestID != `req"1` || resp.Error.Code != string(types.ErrCodeInternalUnexpected) {
		t.Errorf("unexpected body %+v", resp)
	}
	if strings.Contains(rec.Body.String(), "exploded") {
		t.Error("panic value leaked to client")
	}
	if !strings.Contains(logs.String(), "ledger exploded") {
		t.Error("panic value must be logged")
	}
}

func TestRequestLogger_RedactsHeaders(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logs, nil))
	h := RequestLogger(logger, redactedHeaders)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
	}))

	req := httptest.NewRequest(http.MethodPost, "/v1/actions/legal_review", nil)
	req.Header.Set("Authorization", "Bearer lk_live_secret")
	req.Header.Set("X-Cron-Secret", "cron-secret-value")
	req.Header.Set("User-Agent", "lexledger-test")
	h.ServeHTTP(httptest.NewRecorder(), req)

	out := logs.String()
	for _, secret := range []string{"lk_live_secret", "cron-secret-value"} {
		if strings.Contains(out, secret) {
			t.Errorf("log leaked %q: %s", secret, out)
		}
	}
	if !strings.Contains(out, "lexledger-test") {
		t.Error("non-sensitive headers should be logged")
	}
	if !strings.Contains(out, `"level":"WARN"`) || !strings.Contains(out, `"status":402`) {
		t.Errorf("expected WARN with status 402, got %s", out)
	}
}

func TestMetricsMiddleware_UsesRoutePattern(t *testing.T) {
	srv := newTestServer(t)
	metrics := &MockMetricsCollector{}
	srv.Metrics = metrics

	r := chi.NewRouter()
	r.Use(srv.MetricsMiddleware)
	r.Post("/v1/admin/accounts/{id}/debit", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusCreated)
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/v1/admin/accounts/acct_42/debit", nil))

	calls := metrics.Recorded()
	if len(calls) != 1 {
		t.Fatalf("expected 1 metric, got %d", len(calls))
	}
	if calls[0].Endpoint != "/v1/admin/accounts/{id}/debit" || calls[0].Status != "201" {
		t.Errorf("unexpected call %+v", calls[0])
	}
}

func TestMetricsMiddleware_NilCollectorPassesThrough(t *testing.T) {
	srv := newTestServer(t)
	rec := httptest.NewRecorder()
	srv.MetricsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusTeapot {
		t.Errorf("expected passthrough, got %d", rec.Code)
	}
}

func TestCORSMiddleware(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })

	t.Run("allowed origin", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/v1/plans", nil)
		req.Header.Set("Origin", "https://app.lexledger.test")
		rec := httptest.NewRecorder()
		NewCORSMiddleware([]string{"https://app.lexledger.test"})(next).ServeHTTP(rec, req)

		if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://app.lexledger.test" {
			t.Errorf("Allow-Origin = %q", got)
		}
		if rec.Header().Get("Vary") != "Origin" {
			t.Error("expected Vary: Origin")
		}
	})

	t.Run("disallowed origin", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/v1/plans", nil)
		req.Header.Set("Origin", "https://evil.test")
		rec := httptest.NewRecorder()
		NewCORSMiddleware([]string{"https://app.lexledger.test"})(next).ServeHTTP(rec, req)

		if rec.Header().Get("Access-Control-Allow-Origin") != "" {
			t.Error("disallowed origin must not get CORS headers")
		}
	})

	t.Run("preflight", func(t *testing.T) {
		rec := httptest.NewRecorder()
		NewCORSMiddleware([]string{"*"})(next).ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/v1/credits/balance", nil))
		if rec.Code != http.StatusNoContent {
			t.Errorf("expected 204, got %d", rec.Code)
		}
	})
}

func TestSecurityHeadersMiddleware(t *testing.T) {
	rec := httptest.NewRecorder()
	SecurityHeadersMiddleware(http.NotFoundHandler()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" || rec.Header().Get("Cache-Control") != "no-store" {
		t.Errorf("missing security headers: %v", rec.Header())
	}
}
