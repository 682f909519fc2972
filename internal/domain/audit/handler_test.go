package audit

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/labcore/lims/internal/platform/apperr"
	"github.com/labcore/lims/internal/platform/auth"
)

func newTestHandler() (*Handler, *Service, *echo.Echo) {
	svc, _ := newTestService()
	return NewHandler(svc), svc, echo.New()
}

func TestHandler_List(t *testing.T) {
	h, svc, e := newTestHandler()
	_ = svc.Record(context.Background(), reception, ActionCreateVisit, "visit", "1", "Created visit for patient A with 1 tests.")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/audit-logs?action=CREATE_VISIT&from=2026-01-01", nil)
	req = req.WithContext(auth.WithActor(req.Context(), sudo))
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.List(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	var body struct {
		Data  []Entry `json:"data"`
		Total int     `json:"total"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if body.Total != 1 || body.Data[0].Action != ActionCreateVisit {
		t.Errorf("unexpected body: %+v", body)
	}
}

func TestHandler_List_Forbidden(t *testing.T) {
	h, _, e := newTestHandler()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/audit-logs", nil)
	req = req.WithContext(auth.WithActor(req.Context(), reception))
	c := e.NewContext(req, httptest.NewRecorder())

	if err := h.List(c); !errors.Is(err, apperr.ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
}

func TestHandler_List_BadDate(t *testing.T) {
	h, _, e := newTestHandler()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/audit-logs?from=yesterday", nil)
	req = req.WithContext(auth.WithActor(req.Context(), sudo))
	c := e.NewContext(req, httptest.NewRecorder())

	err := h.List(c)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %v", err)
	}
}
