package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func passing(_ context.Context) error { return nil }

func failing(msg string) func(context.Context) error {
	return func(_ context.Context) error { return errors.New(msg) }
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) response {
	t.Helper()
	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q, want JSON", ct)
	}
	var res response
	if err := json.NewDecoder(rec.Body).Decode(&res); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return res
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	// Liveness ignores check outcomes entirely.
	h := New(Check{Name: "database", Probe: failing("connection refused")})

	rec := httptest.NewRecorder()
	h.Healthz(rec, httptest.NewRequest("GET", "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if res := decode(t, rec); res.Status != StatusOK {
		t.Errorf("body status = %q, want %q", res.Status, StatusOK)
	}
}

func TestReadyz(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		checks     []Check
		wantCode   int
		wantStatus string
		wantChecks map[string]string
	}{
		{
			name:       "no checks",
			wantCode:   http.StatusOK,
			wantStatus: StatusOK,
		},
		{
			name: "dependencies healthy",
			checks: []Check{
				{Name: "database", Probe: passing},
				{Name: "audio_dir", Probe: passing},
			},
			wantCode:   http.StatusOK,
			wantStatus: StatusOK,
			wantChecks: map[string]string{"database": "ok", "audio_dir": "ok"},
		},
		{
			name: "database unreachable",
			checks: []Check{
				{Name: "database", Probe: failing("connection refused")},
				{Name: "audio_dir", Probe: passing},
			},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: StatusFail,
			wantChecks: map[string]string{
				"database":  "fail: connection refused",
				"audio_dir": "ok",
			},
		},
		{
			name: "engine on standby stays ready",
			checks: []Check{
				{Name: "database", Probe: passing},
				{Name: "engine", Advisory: true, Probe: failing("running on standby")},
			},
			wantCode:   http.StatusOK,
			wantStatus: StatusDegraded,
			wantChecks: map[string]string{
				"database": "ok",
				"engine":   "degraded: running on standby",
			},
		},
		{
			name: "hard failure wins over advisory",
			checks: []Check{
				{Name: "database", Probe: failing("timeout")},
				{Name: "engine", Advisory: true, Probe: failing("running on standby")},
			},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: StatusFail,
			wantChecks: map[string]string{
				"database": "fail: timeout",
				"engine":   "degraded: running on standby",
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			rec := httptest.NewRecorder()
			New(tc.checks...).Readyz(rec, httptest.NewRequest("GET", "/readyz", nil))

			if rec.Code != tc.wantCode {
				t.Errorf("status = %d, want %d", rec.Code, tc.wantCode)
			}
			res := decode(t, rec)
			if res.Status != tc.wantStatus {
				t.Errorf("body status = %q, want %q", res.Status, tc.wantStatus)
			}
			for name, want := range tc.wantChecks {
				if got := res.Checks[name]; got != want {
					t.Errorf("check %q = %q, want %q", name, got, want)
				}
			}
		})
	}
}

func TestReadyz_ProbesSeeRequestCancellation(t *testing.T) {
	t.Parallel()

	h := New(Check{Name: "slow", Probe: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest("GET", "/readyz", nil).WithContext(ctx))

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}

func TestRegister(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	New(Check{Name: "audio_dir", Probe: passing}).Register(mux)

	for _, path := range []string{"/healthz", "/readyz"} {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest("GET", path, nil))
		if rec.Code != http.StatusOK {
			t.Errorf("GET %s = %d, want %d", path, rec.Code, http.StatusOK)
		}
	}

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("POST", "/healthz", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("POST /healthz = %d, want %d", rec.Code, http.StatusMethodNotAllowed)
	}
}
