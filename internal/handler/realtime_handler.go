package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/noah-isme/kcea-attendance/internal/middleware"
	"github.com/noah-isme/kcea-attendance/internal/models"
	appErrors "github.com/noah-isme/kcea-attendance/pkg/errors"
	"github.com/noah-isme/kcea-attendance/pkg/response"
)

type eventStream interface {
	ServeWS(w http.ResponseWriter, r *http.Request, subscriberID, courseID string) error
}

type enrollmentChecker interface {
	Exists(ctx context.Context, courseID, studentID string) (bool, error)
}

// RealtimeHandler upgrades authenticated clients to the live event stream.
type RealtimeHandler struct {
	stream      eventStream
	tokens      middleware.TokenValidator
	enrollments enrollmentChecker
	logger      *zap.Logger
}

// NewRealtimeHandler constructs a RealtimeHandler. A nil stream disables /ws.
func NewRealtimeHandler(stream eventStream, tokens middleware.TokenValidator, enrollments enrollmentChecker, logger *zap.Logger) *RealtimeHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RealtimeHandler{stream: stream, tokens: tokens, enrollments: enrollments, logger: logger}
}

// Subscribe godoc
// @Summary Live attendance events
// @Description Websocket stream of session and mark events. Browsers cannot set headers on upgrade, so the access token travels in the query string.
// @Tags Realtime
// @Param token query string true "Access token"
// @Param course_id query string false "Only events for this course"
// @Success 101
// @Failure 401 {object} response.Envelope
// @Router /ws [get]
func (h *RealtimeHandler) Subscribe(c *gin.Context) {
	if h.stream == nil {
		response.Error(c, appErrors.New("REALTIME_DISABLED", http.StatusServiceUnavailable, "realtime updates are disabled"))
		return
	}

	token := c.Query("token")
	if token == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrUnauthorized, "token query parameter required"))
		return
	}
	claims, err := h.tokens.ValidateToken(token)
	if err != nil {
		response.Error(c, err)
		return
	}

	courseID := c.Query("course_id")
	if courseID != "" && claims.Role == models.RoleStudent && h.enrollments != nil {
		enrolled, err := h.enrollments.Exists(c.Request.Context(), courseID, claims.UserID)
		if err != nil {
			response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check enrollment"))
			return
		}
		if !enrolled {
			response.Error(c, appErrors.ErrNotEnrolled)
			return
		}
	}

	if err := h.stream.ServeWS(c.Writer, c.Request, claims.UserID, courseID); err != nil {
		h.logger.Debug("websocket upgrade failed", zap.String("user_id", claims.UserID), zap.Error(err))
	}
}
