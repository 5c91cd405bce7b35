package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/kcea-attendance/internal/models"
	"github.com/noah-isme/kcea-attendance/internal/service"
	"github.com/noah-isme/kcea-attendance/pkg/response"
)

// SessionHandler opens, closes and inspects attendance sessions.
type SessionHandler struct {
	sessions   *service.SessionService
	attendance *service.AttendanceService
}

// NewSessionHandler constructs a SessionHandler.
func NewSessionHandler(sessions *service.SessionService, attendance *service.AttendanceService) *SessionHandler {
	return &SessionHandler{sessions: sessions, attendance: attendance}
}

// Open godoc
// @Summary Open a session
// @Description Opens a markable session for a course. One active session per course per day.
// @Tags Sessions
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body models.OpenSessionRequest true "Session"
// @Success 201 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /sessions [post]
func (h *SessionHandler) Open(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	var req models.OpenSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, bindError(err, "invalid session payload"))
		return
	}
	session, err := h.sessions.Open(c.Request.Context(), p, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, session)
}

// ListByCourse godoc
// @Summary Sessions for a course
// @Tags Sessions
// @Produce json
// @Security BearerAuth
// @Param id path string true "Course ID"
// @Success 200 {object} response.Envelope
// @Router /courses/{id}/sessions [get]
func (h *SessionHandler) ListByCourse(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	sessions, err := h.sessions.ListByCourse(c.Request.Context(), p, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, sessions, nil)
}

// Active godoc
// @Summary Open sessions
// @Description Lists open sessions: students see their enrolled courses with their own mark, teachers their courses, admins all.
// @Tags Sessions
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Router /sessions/active [get]
func (h *SessionHandler) Active(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	sessions, err := h.sessions.ListActive(c.Request.Context(), p)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, sessions, nil)
}

// Get godoc
// @Summary Get session
// @Tags Sessions
// @Produce json
// @Security BearerAuth
// @Param id path string true "Session ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /sessions/{id} [get]
func (h *SessionHandler) Get(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	session, err := h.sessions.Get(c.Request.Context(), p, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, session, nil)
}

// Close godoc
// @Summary Close a session
// @Description Closing twice is harmless and returns the closed session.
// @Tags Sessions
// @Produce json
// @Security BearerAuth
// @Param id path string true "Session ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /sessions/{id}/close [post]
func (h *SessionHandler) Close(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	session, err := h.sessions.Close(c.Request.Context(), p, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, session, nil)
}

// QRCode godoc
// @Summary Session QR code
// @Description Returns the session code and a PNG data URL encoding it.
// @Tags Sessions
// @Produce json
// @Security BearerAuth
// @Param id path string true "Session ID"
// @Success 200 {object} response.Envelope
// @Router /sessions/{id}/qr [get]
func (h *SessionHandler) QRCode(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	qr, err := h.sessions.QRCode(c.Request.Context(), p, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, qr, nil)
}

// Roster godoc
// @Summary Session roster
// @Description Enrolled students with their mark for the session.
// @Tags Sessions
// @Produce json
// @Security BearerAuth
// @Param id path string true "Session ID"
// @Success 200 {object} response.Envelope
// @Router /sessions/{id}/roster [get]
func (h *SessionHandler) Roster(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	roster, err := h.attendance.SessionRoster(c.Request.Context(), p, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, roster, nil)
}
