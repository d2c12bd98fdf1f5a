package core

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func probe(name string, fn func(ctx context.Context) error) HealthProbe {
	return ProbeFunc{ProbeName: name, Fn: fn}
}

func runHealth(t *testing.T, probes ...HealthProbe) (int, healthResponse) {
	t.Helper()
	srv := newTestServer(t)
	srv.HealthProbes = probes
	rec := httptest.NewRecorder()
	srv.HandleHealth(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	var resp healthResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return rec.Code, resp
}

func TestHandleHealth_NoProbes(t *testing.T) {
	code, resp := runHealth(t)
	if code != http.StatusOK || resp.Status != "healthy" {
		t.Errorf("got %d %+v", code, resp)
	}
}

func TestHandleHealth_AllHealthy(t *testing.T) {
	ok := func(context.Context) error { return nil }
	code, resp := runHealth(t, probe("ledger_db", ok), probe("balance_alerts", ok))
	if code != http.StatusOK || len(resp.Components) != 2 {
		t.Errorf("got %d %+v", code, resp)
	}
}

func TestHandleHealth_FailingProbe(t *testing.T) {
	code, resp := runHealth(t,
		probe("ledger_db", func(context.Context) error { return errors.New("connection refused") }),
		probe("balance_alerts", func(context.Context) error { return nil }),
	)
	if code != http.StatusServiceUnavailable || resp.Status != "unhealthy" {
		t.Fatalf("got %d %+v", code, resp)
	}
	if resp.Components["ledger_db"].Message != "connection refused" {
		t.Errorf("components = %+v", resp.Components)
	}
	if resp.Components["balance_alerts"].Status != "healthy" {
		t.Errorf("healthy probe misreported: %+v", resp.Components)
	}
}

func TestHandleHealth_PanickingProbe(t *testing.T) {
	code, resp := runHealth(t, probe("ledger_db", func(context.Context) error { panic("boom") }))
	if code != http.StatusServiceUnavailable || resp.Components["ledger_db"].Status != "unhealthy" {
		t.Errorf("got %d %+v", code, resp)
	}
}

func TestHandleHealth_SlowProbeTimesOut(t *testing.T) {
	if testing.Short() {
		t.Skip("waits for the health deadline")
	}
	slow := probe("ledger_db", func(ctx context.Context) error {
		select {
		case <-time.After(10 * time.Second):
			return nil
		case <-ctx.Done():
			// Report after the handler has given up on us.
			time.Sleep(100 * time.Millisecond)
			return ctx.Err()
		}
	})
	code, resp := runHealth(t, slow)
	if code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", code)
	}
	if resp.Components["ledger_db"].Message != "health check timed out" {
		t.Errorf("components = %+v", resp.Components)
	}
}
