package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/kcea-attendance/internal/models"
	"github.com/noah-isme/kcea-attendance/pkg/response"
)

type periodReader interface {
	ListWindows(ctx context.Context) ([]models.Period, error)
	Current(ctx context.Context, now time.Time) (*models.CurrentPeriod, error)
}

// PeriodHandler serves the daily timetable.
type PeriodHandler struct {
	periods periodReader
	now     func() time.Time
}

// NewPeriodHandler constructs a PeriodHandler.
func NewPeriodHandler(periods periodReader) *PeriodHandler {
	return &PeriodHandler{periods: periods, now: time.Now}
}

// List godoc
// @Summary List periods
// @Tags Periods
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Router /periods [get]
func (h *PeriodHandler) List(c *gin.Context) {
	periods, err := h.periods.ListWindows(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, periods, nil)
}

// Current godoc
// @Summary Current period
// @Description Returns the period in progress, if any, along with the full day.
// @Tags Periods
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Router /periods/current [get]
func (h *PeriodHandler) Current(c *gin.Context) {
	current, err := h.periods.Current(c.Request.Context(), h.now())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, current, nil)
}
