package booking

import (
	"errors"
	"net/http"
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
	desk := api.Group("", auth.RequireRole("admin", "nurse", "registrar"))
	desk.POST("/appointments", h.BookAppointment)
	desk.POST("/appointments/:id/check-in", h.CheckIn)

	read := api.Group("", auth.RequireRole("admin", "physician", "nurse", "registrar"))
	read.GET("/appointments/:id", h.GetBooking)
	read.GET("/availability", h.GetAvailability)
	read.GET("/schedules", h.ListSchedules)

	admin := api.Group("", auth.RequireRole("admin"))
	admin.POST("/schedules", h.CreateSchedule)
}

type bookRequest struct {
	ResourceID string  `json:"resource_id"`
	Date       string  `json:"date"`
	StartTime  string  `json:"start_time"`
	PatientID  *string `json:"patient_id"`
	Reason     *string `json:"reason"`
}

func (h *Handler) BookAppointment(c echo.Context) error {
	var req bookRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.ResourceID == "" || req.StartTime == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "resource_id and start_time are required")
	}
	date, err := time.Parse("2006-01-02", req.Date)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid date, expected YYYY-MM-DD")
	}

	input := BookInput{
		ResourceID: req.ResourceID,
		Date:       date,
		StartTime:  req.StartTime,
		Reason:     req.Reason,
	}
	if req.PatientID != nil {
		pid, err := uuid.Parse(*req.PatientID)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
		}
		input.PatientID = &pid
	}

	b, err := h.svc.BookAppointment(c.Request().Context(), input)
	if err != nil {
		return bookingHTTPError(err)
	}
	return c.JSON(http.StatusCreated, b)
}

func (h *Handler) CheckIn(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	ticket, err := h.svc.CheckIn(c.Request().Context(), id)
	if err != nil {
		return bookingHTTPError(err)
	}
	return c.JSON(http.StatusCreated, ticket)
}

func (h *Handler) GetBooking(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	b, err := h.svc.bookings.GetByID(c.Request().Context(), id)
	if err != nil {
		return bookingHTTPError(err)
	}
	return c.JSON(http.StatusOK, b)
}

func (h *Handler) GetAvailability(c echo.Context) error {
	resourceID := c.QueryParam("resource_id")
	if resourceID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "resource_id is required")
	}
	date, err := time.Parse("2006-01-02", c.QueryParam("date"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid date, expected YYYY-MM-DD")
	}
	avail, err := h.svc.GetAvailability(c.Request().Context(), resourceID, date)
	if err != nil {
		return bookingHTTPError(err)
	}
	return c.JSON(http.StatusOK, avail)
}

func (h *Handler) CreateSchedule(c echo.Context) error {
	var schedule Schedule
	if err := c.Bind(&schedule); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.CreateSchedule(c.Request().Context(), &schedule); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, schedule)
}

func (h *Handler) ListSchedules(c echo.Context) error {
	resourceID := c.QueryParam("resource_id")
	if resourceID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "resource_id is required")
	}
	schedules, err := h.svc.ListSchedules(c.Request().Context(), resourceID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, schedules)
}

func bookingHTTPError(err error) error {
	switch {
	case errors.Is(err, ErrBookingNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "booking not found")
	case errors.Is(err, ErrPastDate),
		errors.Is(err, ErrLeadTime),
		errors.Is(err, ErrSlotUnavailable),
		errors.Is(err, ErrCapacityExceeded):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, ErrSlotTaken), errors.Is(err, ErrAlreadyCheckedIn):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
