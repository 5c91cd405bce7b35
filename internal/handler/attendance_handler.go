package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/kcea-attendance/internal/models"
	"github.com/noah-isme/kcea-attendance/internal/service"
	"github.com/noah-isme/kcea-attendance/pkg/export"
	"github.com/noah-isme/kcea-attendance/pkg/response"
)

type attendanceMarker interface {
	MarkPeriod(ctx context.Context, principal models.Principal, req models.MarkPeriodRequest) (*models.MarkResult, error)
	MarkSession(ctx context.Context, principal models.Principal, req models.MarkSessionRequest) (*models.MarkResult, error)
	CourseSheet(ctx context.Context, principal models.Principal, courseID string) ([]models.AttendanceRow, error)
}

type summaryReader interface {
	Summarize(ctx context.Context, principal models.Principal, studentID string, page int) (*models.AttendanceSummary, error)
	History(ctx context.Context, principal models.Principal, studentID string, page, pageSize int) ([]models.AttendanceRecord, *models.Pagination, error)
	Overview(ctx context.Context, principal models.Principal) (*models.AttendanceOverview, error)
}

type recordExporter interface {
	List(ctx context.Context, principal models.Principal, filter models.AttendanceFilter) ([]models.AttendanceRow, *models.Pagination, error)
	Export(ctx context.Context, principal models.Principal, filter models.AttendanceFilter, format export.Format) (*service.ExportFile, error)
}

// AttendanceHandler exposes marking, summaries and reports.
type AttendanceHandler struct {
	marks   attendanceMarker
	summary summaryReader
	records recordExporter
}

// NewAttendanceHandler constructs an AttendanceHandler.
func NewAttendanceHandler(marks attendanceMarker, summary summaryReader, records recordExporter) *AttendanceHandler {
	return &AttendanceHandler{marks: marks, summary: summary, records: records}
}

// MarkPeriod godoc
// @Summary Mark attendance for a period
// @Description Records the caller present for a period of the timetable. Rejected outside the window, during breaks, or twice in a day.
// @Tags Attendance
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body models.MarkPeriodRequest true "Period"
// @Success 201 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Router /attendance/periods/mark [post]
func (h *AttendanceHandler) MarkPeriod(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	var req models.MarkPeriodRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, bindError(err, "invalid mark payload"))
		return
	}
	res, err := h.marks.MarkPeriod(c.Request.Context(), p, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, res)
}

// MarkSession godoc
// @Summary Mark attendance for a session
// @Description Records the caller present for an open session, by id or scanned code.
// @Tags Attendance
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body models.MarkSessionRequest true "Session id or code"
// @Success 201 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Router /attendance/sessions/mark [post]
func (h *AttendanceHandler) MarkSession(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	var req models.MarkSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, bindError(err, "invalid mark payload"))
		return
	}
	res, err := h.marks.MarkSession(c.Request.Context(), p, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, res)
}

// Summary godoc
// @Summary Own attendance summary
// @Tags Attendance
// @Produce json
// @Security BearerAuth
// @Param page query int false "Recent records page"
// @Success 200 {object} response.Envelope
// @Router /attendance/summary [get]
func (h *AttendanceHandler) Summary(c *gin.Context) {
	h.summarize(c, "")
}

// StudentSummary godoc
// @Summary Attendance summary for a student
// @Tags Attendance
// @Produce json
// @Security BearerAuth
// @Param studentId path string true "Student ID"
// @Param page query int false "Recent records page"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /attendance/summary/{studentId} [get]
func (h *AttendanceHandler) StudentSummary(c *gin.Context) {
	h.summarize(c, c.Param("studentId"))
}

func (h *AttendanceHandler) summarize(c *gin.Context, studentID string) {
	p, ok := principal(c)
	if !ok {
		return
	}
	summary, err := h.summary.Summarize(c.Request.Context(), p, studentID, queryInt(c, "page", 1))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, summary, nil)
}

// History godoc
// @Summary Own attendance history
// @Tags Attendance
// @Produce json
// @Security BearerAuth
// @Param page query int false "Page"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /attendance/history [get]
func (h *AttendanceHandler) History(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	records, pagination, err := h.summary.History(c.Request.Context(), p, c.Query("student_id"), queryInt(c, "page", 1), queryInt(c, "page_size", 0))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, records, pagination)
}

// Overview godoc
// @Summary Institution-wide attendance counters
// @Tags Attendance
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /attendance/overview [get]
func (h *AttendanceHandler) Overview(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	overview, err := h.summary.Overview(c.Request.Context(), p)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, overview, nil)
}

// Records godoc
// @Summary List attendance records
// @Tags Reports
// @Produce json
// @Security BearerAuth
// @Param date query string false "Date (YYYY-MM-DD)"
// @Param roll_number query string false "Roll number"
// @Param course_id query string false "Course ID"
// @Param status query string false "present or absent"
// @Param page query int false "Page"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /attendance/records [get]
func (h *AttendanceHandler) Records(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	var filter models.AttendanceFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		response.Error(c, bindError(err, "invalid filter"))
		return
	}
	rows, pagination, err := h.records.List(c.Request.Context(), p, filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, rows, pagination)
}

// Export godoc
// @Summary Export attendance records
// @Description Downloads matching records as CSV or PDF.
// @Tags Reports
// @Produce text/csv
// @Produce application/pdf
// @Security BearerAuth
// @Param format query string false "csv or pdf"
// @Param date query string false "Date (YYYY-MM-DD)"
// @Param roll_number query string false "Roll number"
// @Param course_id query string false "Course ID"
// @Param status query string false "present or absent"
// @Success 200 {file} file
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /attendance/records/export [get]
func (h *AttendanceHandler) Export(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	format, err := export.ParseFormat(c.Query("format"))
	if err != nil {
		response.Error(c, bindError(err, err.Error()))
		return
	}
	var filter models.AttendanceFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		response.Error(c, bindError(err, "invalid filter"))
		return
	}
	file, err := h.records.Export(c.Request.Context(), p, filter, format)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Attachment(c, file.Filename, file.ContentType, file.Rows, file.Data)
}

// CourseSheet godoc
// @Summary Attendance sheet for a course
// @Description Students see only their own rows.
// @Tags Courses
// @Produce json
// @Security BearerAuth
// @Param id path string true "Course ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /courses/{id}/sheet [get]
func (h *AttendanceHandler) CourseSheet(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	rows, err := h.marks.CourseSheet(c.Request.Context(), p, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, rows, nil)
}
