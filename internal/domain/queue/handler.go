package queue

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/opdesk/opdesk/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	// Desk operations – admin, nurse, registrar
	desk := api.Group("", auth.RequireRole("admin", "nurse", "registrar"))
	desk.POST("/queue/tickets", h.IssueTicket)
	desk.POST("/queue/call-next", h.CallNext)
	desk.POST("/queue/call", h.CallSpecific)
	desk.POST("/queue/tickets/:id/recall", h.Recall)
	desk.POST("/queue/tickets/:id/serve", h.StartServing)
	desk.POST("/queue/tickets/:id/complete", h.Complete)
	desk.POST("/queue/tickets/:id/skip", h.Skip)
	desk.POST("/queue/tickets/:id/cancel", h.Cancel)

	// Read endpoints – all clinical roles
	read := api.Group("", auth.RequireRole("admin", "physician", "nurse", "registrar"))
	read.GET("/queue/tickets/:id", h.GetTicket)
	read.GET("/queue/status", h.QueueStatus)
	read.GET("/queue/statistics", h.Statistics)

	// Counter inspection and reset – admin only; reset repeats
	// already-issued codes
	admin := api.Group("", auth.RequireRole("admin"))
	admin.GET("/queue/sequences/current", h.CurrentNumber)
	admin.POST("/queue/sequences/reset", h.ResetSequence)
}

type issueRequest struct {
	ResourceID string  `json:"resource_id"`
	Date       string  `json:"date"`
	Source     Source  `json:"source"`
	PatientID  *string `json:"patient_id"`
	Reason     *string `json:"reason"`
}

type callRequest struct {
	ResourceID  string `json:"resource_id"`
	Date        string `json:"date"`
	QueueNumber int    `json:"queue_number"`
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

type resetRequest struct {
	ResourceID string `json:"resource_id"`
	Date       string `json:"date"`
}

func (h *Handler) IssueTicket(c echo.Context) error {
	var req issueRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.ResourceID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "resource_id is required")
	}
	date, err := parseDate(req.Date)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid date, expected YYYY-MM-DD")
	}
	if req.Source == "" {
		req.Source = SourceWalkIn
	}

	input := IssueInput{
		ResourceID: req.ResourceID,
		Date:       date,
		Source:     req.Source,
		Reason:     req.Reason,
	}
	if req.PatientID != nil {
		pid, err := uuid.Parse(*req.PatientID)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
		}
		input.PatientID = &pid
	}

	t, err := h.svc.IssueTicket(c.Request().Context(), input)
	if err != nil {
		return queueHTTPError(c, err)
	}
	return c.JSON(http.StatusCreated, t)
}

func (h *Handler) CallNext(c echo.Context) error {
	var req callRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.ResourceID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "resource_id is required")
	}
	date, err := parseDate(req.Date)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid date, expected YYYY-MM-DD")
	}
	t, err := h.svc.CallNext(c.Request().Context(), req.ResourceID, date)
	if err != nil {
		return queueHTTPError(c, err)
	}
	return c.JSON(http.StatusOK, t)
}

func (h *Handler) CallSpecific(c echo.Context) error {
	var req callRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.ResourceID == "" || req.QueueNumber <= 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "resource_id and queue_number are required")
	}
	date, err := parseDate(req.Date)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid date, expected YYYY-MM-DD")
	}
	t, err := h.svc.CallSpecific(c.Request().Context(), req.ResourceID, date, req.QueueNumber)
	if err != nil {
		return queueHTTPError(c, err)
	}
	return c.JSON(http.StatusOK, t)
}

func (h *Handler) Recall(c echo.Context) error {
	return h.transition(c, func(ctx echo.Context, id uuid.UUID) (*Ticket, error) {
		return h.svc.Recall(ctx.Request().Context(), id)
	})
}

func (h *Handler) StartServing(c echo.Context) error {
	return h.transition(c, func(ctx echo.Context, id uuid.UUID) (*Ticket, error) {
		return h.svc.StartServing(ctx.Request().Context(), id)
	})
}

func (h *Handler) Complete(c echo.Context) error {
	return h.transition(c, func(ctx echo.Context, id uuid.UUID) (*Ticket, error) {
		return h.svc.Complete(ctx.Request().Context(), id)
	})
}

func (h *Handler) Skip(c echo.Context) error {
	return h.transition(c, func(ctx echo.Context, id uuid.UUID) (*Ticket, error) {
		var req reasonRequest
		if err := ctx.Bind(&req); err != nil {
			return nil, echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		return h.svc.Skip(ctx.Request().Context(), id, req.Reason)
	})
}

func (h *Handler) Cancel(c echo.Context) error {
	return h.transition(c, func(ctx echo.Context, id uuid.UUID) (*Ticket, error) {
		var req reasonRequest
		if err := ctx.Bind(&req); err != nil {
			return nil, echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		return h.svc.Cancel(ctx.Request().Context(), id, req.Reason)
	})
}

func (h *Handler) transition(c echo.Context, apply func(echo.Context, uuid.UUID) (*Ticket, error)) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	t, err := apply(c, id)
	if err != nil {
		var httpErr *echo.HTTPError
		if errors.As(err, &httpErr) {
			return httpErr
		}
		return queueHTTPError(c, err)
	}
	return c.JSON(http.StatusOK, t)
}

func (h *Handler) GetTicket(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	detail, err := h.svc.GetTicket(c.Request().Context(), id)
	if err != nil {
		return queueHTTPError(c, err)
	}
	return c.JSON(http.StatusOK, detail)
}

func (h *Handler) QueueStatus(c echo.Context) error {
	resourceID, date, err := resourceDateParams(c)
	if err != nil {
		return err
	}
	status, err := h.svc.QueueStatus(c.Request().Context(), resourceID, date)
	if err != nil {
		return queueHTTPError(c, err)
	}
	return c.JSON(http.StatusOK, status)
}

func (h *Handler) Statistics(c echo.Context) error {
	resourceID, date, err := resourceDateParams(c)
	if err != nil {
		return err
	}
	stats, err := h.svc.Statistics(c.Request().Context(), resourceID, date)
	if err != nil {
		return queueHTTPError(c, err)
	}
	return c.JSON(http.StatusOK, stats)
}

func (h *Handler) CurrentNumber(c echo.Context) error {
	resourceID, date, err := resourceDateParams(c)
	if err != nil {
		return err
	}
	number, err := h.svc.CurrentNumber(c.Request().Context(), resourceID, date)
	if err != nil {
		return queueHTTPError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"resource_id": resourceID,
		"date":        DateOnly(date).Format("2006-01-02"),
		"last_number": number,
	})
}

func (h *Handler) ResetSequence(c echo.Context) error {
	var req resetRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.ResourceID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "resource_id is required")
	}
	date, err := parseDate(req.Date)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid date, expected YYYY-MM-DD")
	}
	if err := h.svc.ResetSequence(c.Request().Context(), req.ResourceID, date); err != nil {
		return queueHTTPError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func resourceDateParams(c echo.Context) (string, time.Time, error) {
	resourceID := c.QueryParam("resource_id")
	if resourceID == "" {
		return "", time.Time{}, echo.NewHTTPError(http.StatusBadRequest, "resource_id is required")
	}
	date, err := parseDate(c.QueryParam("date"))
	if err != nil {
		return "", time.Time{}, echo.NewHTTPError(http.StatusBadRequest, "invalid date, expected YYYY-MM-DD")
	}
	return resourceID, date, nil
}

// parseDate accepts YYYY-MM-DD; empty means today.
func parseDate(s string) (time.Time, error) {
	if s == "" {
		return DateOnly(time.Now()), nil
	}
	return time.Parse("2006-01-02", s)
}

// queueHTTPError maps domain errors onto HTTP status codes. Contention is
// the one retryable case and carries a Retry-After hint.
func queueHTTPError(c echo.Context, err error) error {
	var invalid *InvalidStateTransitionError
	var contention *ContentionError
	switch {
	case errors.Is(err, ErrTicketNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "ticket not found")
	case errors.Is(err, ErrNoWaitingTicket):
		return echo.NewHTTPError(http.StatusConflict, "no waiting ticket in queue")
	case errors.Is(err, ErrCapacityExceeded):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, "daily ticket capacity exceeded")
	case errors.As(err, &invalid):
		return echo.NewHTTPError(http.StatusConflict, invalid.Error())
	case errors.As(err, &contention):
		c.Response().Header().Set("Retry-After", strconv.Itoa(int(contention.Timeout.Seconds())+1))
		return echo.NewHTTPError(http.StatusServiceUnavailable, contention.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
