package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/kcea-attendance/internal/middleware"
	"github.com/noah-isme/kcea-attendance/internal/models"
	appErrors "github.com/noah-isme/kcea-attendance/pkg/errors"
	"github.com/noah-isme/kcea-attendance/pkg/response"
)

// principal returns the caller or writes 401 and reports false.
func principal(c *gin.Context) (models.Principal, bool) {
	p, ok := middleware.Principal(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return models.Principal{}, false
	}
	return p, true
}

func queryInt(c *gin.Context, key string, fallback int) int {
	raw := c.Query(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

func bindError(err error, msg string) error {
	return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, msg)
}
