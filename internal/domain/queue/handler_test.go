package queue

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/opdesk/opdesk/internal/platform/auth"
)

func newTestHandler() (*Handler, *Service, *echo.Echo) {
	svc, _ := newTestService()
	return NewHandler(svc), svc, echo.New()
}

func doJSON(e *echo.Echo, method, target, body string) (echo.Context, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func TestHandler_IssueTicket(t *testing.T) {
	h, _, e := newTestHandler()

	body := `{"resource_id":"clinic-x","date":"2026-03-10"}`
	c, rec := doJSON(e, http.MethodPost, "/api/v1/queue/tickets", body)
	if err := h.IssueTicket(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}

	var ticket Ticket
	json.Unmarshal(rec.Body.Bytes(), &ticket)
	if ticket.QueueCode != "X001" {
		t.Errorf("queue_code = %s, want X001", ticket.QueueCode)
	}
	if ticket.State != StateWaiting {
		t.Errorf("state = %s, want waiting", ticket.State)
	}
}

func TestHandler_IssueTicket_MissingResource(t *testing.T) {
	h, _, e := newTestHandler()

	c, _ := doJSON(e, http.MethodPost, "/api/v1/queue/tickets", `{"date":"2026-03-10"}`)
	err := h.IssueTicket(c)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %v", err)
	}
}

func TestHandler_CallNext_EmptyQueue(t *testing.T) {
	h, _, e := newTestHandler()

	c, _ := doJSON(e, http.MethodPost, "/api/v1/queue/call-next", `{"resource_id":"clinic-x","date":"2026-03-10"}`)
	err := h.CallNext(c)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusConflict {
		t.Fatalf("expected 409 for empty queue, got %v", err)
	}
}

func TestHandler_InvalidTransitionIsConflict(t *testing.T) {
	h, svc, e := newTestHandler()

	ticket, err := svc.IssueTicket(context.Background(), IssueInput{ResourceID: "clinic-x", Date: testDate(), Source: SourceWalkIn})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	c, _ := doJSON(e, http.MethodPost, "/api/v1/queue/tickets/"+ticket.ID.String()+"/complete", "")
	c.SetParamNames("id")
	c.SetParamValues(ticket.ID.String())
	err = h.Complete(c)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusConflict {
		t.Fatalf("expected 409 for complete from waiting, got %v", err)
	}
}

func TestHandler_UnknownTicketIsNotFound(t *testing.T) {
	h, _, e := newTestHandler()

	id := uuid.New().String()
	c, _ := doJSON(e, http.MethodPost, "/api/v1/queue/tickets/"+id+"/recall", "")
	c.SetParamNames("id")
	c.SetParamValues(id)
	err := h.Recall(c)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %v", err)
	}
}

func TestHandler_Statistics(t *testing.T) {
	h, svc, e := newTestHandler()
	ctx := context.Background()

	a, _ := svc.IssueTicket(ctx, IssueInput{ResourceID: "clinic-x", Date: testDate(), Source: SourceWalkIn})
	svc.CallNext(ctx, "clinic-x", testDate())
	svc.StartServing(ctx, a.ID)

	c, rec := doJSON(e, http.MethodGet, "/api/v1/queue/statistics?resource_id=clinic-x&date=2026-03-10", "")
	if err := h.Statistics(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var stats Statistics
	json.Unmarshal(rec.Body.Bytes(), &stats)
	if stats.TotalCalls != 1 || stats.Responded != 1 {
		t.Errorf("stats = %+v, want 1 call 1 responded", stats)
	}
}

func TestHandler_ResetSequence(t *testing.T) {
	h, svc, e := newTestHandler()
	ctx := context.Background()

	svc.IssueTicket(ctx, IssueInput{ResourceID: "clinic-x", Date: testDate(), Source: SourceWalkIn})

	c, rec := doJSON(e, http.MethodPost, "/api/v1/queue/sequences/reset", `{"resource_id":"clinic-x","date":"2026-03-10"}`)
	if err := h.ResetSequence(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", rec.Code)
	}
	if n, _ := svc.CurrentNumber(ctx, "clinic-x", testDate()); n != 0 {
		t.Errorf("counter after reset = %d, want 0", n)
	}
}

// newRoutedEcho registers the queue routes behind a middleware that takes
// the caller's role from the X-Role header, standing in for the JWT layer.
func newRoutedEcho(h *Handler) *echo.Echo {
	e := echo.New()
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := context.WithValue(c.Request().Context(), auth.UserRolesKey, []string{c.Request().Header.Get("X-Role")})
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	})
	h.RegisterRoutes(e.Group("/api/v1"))
	return e
}

func TestSequenceEndpointsAreAdminOnly(t *testing.T) {
	h, _, _ := newTestHandler()
	e := newRoutedEcho(h)

	cases := []struct {
		name   string
		method string
		target string
		role   string
		want   int
	}{
		{"current as registrar", http.MethodGet, "/api/v1/queue/sequences/current?resource_id=clinic-x&date=2026-03-10", "registrar", http.StatusForbidden},
		{"current as physician", http.MethodGet, "/api/v1/queue/sequences/current?resource_id=clinic-x&date=2026-03-10", "physician", http.StatusForbidden},
		{"current as admin", http.MethodGet, "/api/v1/queue/sequences/current?resource_id=clinic-x&date=2026-03-10", "admin", http.StatusOK},
		{"reset as registrar", http.MethodPost, "/api/v1/queue/sequences/reset", "registrar", http.StatusForbidden},
		{"status as registrar", http.MethodGet, "/api/v1/queue/status?resource_id=clinic-x&date=2026-03-10", "registrar", http.StatusOK},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(tc.method, tc.target, nil)
		req.Header.Set("X-Role", tc.role)
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		if rec.Code != tc.want {
			t.Errorf("%s: status = %d, want %d", tc.name, rec.Code, tc.want)
		}
	}
}

// contendedTickets wraps a repository and fails issuance with lock
// contention.
type contendedTickets struct {
	TicketRepository
}

func (contendedTickets) Issue(_ context.Context, input IssueInput) (*Ticket, error) {
	return nil, &ContentionError{ResourceID: input.ResourceID, Date: input.Date, Timeout: 3 * time.Second}
}

func TestHandler_ContentionIsRetryable(t *testing.T) {
	store := NewMemoryStore(NewPrefixTable(nil, ""))
	svc := NewService(contendedTickets{store}, store, store)
	h := NewHandler(svc)
	e := echo.New()

	c, rec := doJSON(e, http.MethodPost, "/api/v1/queue/tickets", `{"resource_id":"clinic-x","date":"2026-03-10"}`)
	err := h.IssueTicket(c)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %v", err)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header on contention")
	}
}
