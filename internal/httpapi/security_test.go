package httpapi

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"salesboard/internal/domain"
	"salesboard/internal/store/memory"
)

type brokenBoardRepo struct {
	*memory.Store
}

func (brokenBoardRepo) ListActiveLeads(context.Context) ([]domain.Lead, error) {
	return nil, errors.New("dial tcp 10.0.0.7:5432: connection refused")
}

func TestSecurityHeadersPresent(t *testing.T) {
	h := newTestHandler(t, nil, "")
	rec := doJSON(t, h, http.MethodGet, "/healthz", nil, nil)

	want := map[string]string{
		"X-Content-Type-Options":      "nosniff",
		"X-Frame-Options":             "DENY",
		"Access-Control-Allow-Origin": "*",
	}
	for header, value := range want {
		if got := rec.Header().Get(header); got != value {
			t.Fatalf("%s: expected %q, got %q", header, value, got)
		}
	}
}

func TestPreflightShortCircuits(t *testing.T) {
	h := newTestHandler(t, nil, testSecret)
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/invoices", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if !strings.Contains(rec.Header().Get("Access-Control-Allow-Methods"), "DELETE") {
		t.Fatalf("DELETE must be allowed cross-origin")
	}
}

func TestInternalErrorsStayGeneric(t *testing.T) {
	h := newTestHandler(t, brokenBoardRepo{Store: memory.New()}, "")
	rec := doJSON(t, h, http.MethodGet, "/api/v1/pipeline", nil, nil)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "10.0.0.7") {
		t.Fatalf("internal detail leaked: %s", rec.Body.String())
	}
	var body errorResponse
	decodeBody(t, rec, &body)
	if body.Error != "internal server error" {
		t.Fatalf("unexpected message %q", body.Error)
	}
}

func TestOversizedBodyRejected(t *testing.T) {
	h := newTestHandler(t, nil, "")
	payload := `{"title":"` + strings.Repeat("a", maxBodyBytes+1) + `"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/leads", strings.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", rec.Code)
	}
}
