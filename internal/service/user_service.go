package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/kcea-attendance/internal/models"
	appErrors "github.com/noah-isme/kcea-attendance/pkg/errors"
)

type userRepository interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
	List(ctx context.Context, filter models.UserFilter) ([]models.User, int, error)
	UpdateProfile(ctx context.Context, user *models.User) error
	SetActive(ctx context.Context, id string, active bool) error
	Delete(ctx context.Context, id string) error
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
	ListAuditLogs(ctx context.Context, filter models.AuditLogFilter) ([]models.AuditLog, int, error)
}

// UserService handles profile and account administration.
type UserService struct {
	repo      userRepository
	cache     *CacheService
	validator *validator.Validate
	logger    *zap.Logger
}

// NewUserService creates a new UserService.
func NewUserService(repo userRepository, cache *CacheService, validate *validator.Validate, logger *zap.Logger) *UserService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UserService{repo: repo, cache: cache, validator: validate, logger: logger}
}

// Me returns the caller's own account.
func (s *UserService) Me(ctx context.Context, principal models.Principal) (*models.User, error) {
	return s.load(ctx, principal.UserID)
}

// UpdateProfile applies the self-service profile fields.
func (s *UserService) UpdateProfile(ctx context.Context, principal models.Principal, req models.UpdateProfileRequest) (*models.User, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid profile payload")
	}
	user, err := s.load(ctx, principal.UserID)
	if err != nil {
		return nil, err
	}
	if req.FullName != nil {
		user.FullName = strings.TrimSpace(*req.FullName)
	}
	if req.Phone != nil {
		user.Phone = *req.Phone
	}
	if req.Program != nil {
		user.Program = *req.Program
	}
	if req.ClassName != nil {
		user.ClassName = *req.ClassName
	}
	if err := s.repo.UpdateProfile(ctx, user); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update profile")
	}
	writeAudit(ctx, s.repo, s.logger, &models.AuditLog{
		UserID:     &user.ID,
		Action:     models.AuditActionUserUpdate,
		Resource:   "user",
		ResourceID: &user.ID,
		NewValues:  auditValues(s.logger, req),
	})
	return user, nil
}

// List returns users for staff, with pagination metadata.
func (s *UserService) List(ctx context.Context, principal models.Principal, filter models.UserFilter) ([]models.User, *models.Pagination, error) {
	if !principal.IsStaff() {
		return nil, nil, appErrors.Clone(appErrors.ErrForbidden, "staff access required")
	}
	if filter.Role != nil && !filter.Role.Valid() {
		return nil, nil, appErrors.Clone(appErrors.ErrValidation, "unknown role")
	}
	if err := checkPage(filter.Page); err != nil {
		return nil, nil, err
	}
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.PageSize <= 0 || filter.PageSize > 100 {
		filter.PageSize = 20
	}
	users, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list users")
	}
	return users, models.NewPagination(filter.Page, filter.PageSize, total), nil
}

// AuditLogs pages through the audit trail, newest first. Admin only.
func (s *UserService) AuditLogs(ctx context.Context, principal models.Principal, filter models.AuditLogFilter) ([]models.AuditLog, *models.Pagination, error) {
	if principal.Role != models.RoleAdmin {
		return nil, nil, appErrors.Clone(appErrors.ErrForbidden, "admin access required")
	}
	if err := checkPage(filter.Page); err != nil {
		return nil, nil, err
	}
	if filter.Page < 1 {
		filter.Page = 1
	}
	switch {
	case filter.PageSize <= 0:
		filter.PageSize = 50
	case filter.PageSize > 100:
		filter.PageSize = 100
	}
	logs, total, err := s.repo.ListAuditLogs(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list audit logs")
	}
	return logs, models.NewPagination(filter.Page, filter.PageSize, total), nil
}

// Get returns a user. Students may only read themselves.
func (s *UserService) Get(ctx context.Context, principal models.Principal, id string) (*models.User, error) {
	if !principal.IsStaff() && principal.UserID != id {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "cannot view other users")
	}
	return s.load(ctx, id)
}

// SetActive enables or disables an account. Admin only.
func (s *UserService) SetActive(ctx context.Context, principal models.Principal, id string, req models.SetActiveRequest) (*models.User, error) {
	if principal.Role != models.RoleAdmin {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "admin access required")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payload")
	}
	if id == principal.UserID && !*req.Active {
		return nil, appErrors.Clone(appErrors.ErrValidation, "cannot deactivate your own account")
	}
	if err := s.repo.SetActive(ctx, id, *req.Active); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update user")
	}
	actor := principal.UserID
	writeAudit(ctx, s.repo, s.logger, &models.AuditLog{
		UserID:     &actor,
		Action:     models.AuditActionUserUpdate,
		Resource:   "user",
		ResourceID: &id,
		NewValues:  auditValues(s.logger, map[string]bool{"active": *req.Active}),
	})
	return s.load(ctx, id)
}

// Delete removes an account and everything that cascades from it. Admin
// accounts cannot be deleted.
func (s *UserService) Delete(ctx context.Context, principal models.Principal, id string) error {
	if principal.Role != models.RoleAdmin {
		return appErrors.Clone(appErrors.ErrForbidden, "admin access required")
	}
	user, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if user.Role == models.RoleAdmin {
		return appErrors.Clone(appErrors.ErrForbidden, "admin accounts cannot be deleted")
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete user")
	}
	s.cache.Invalidate(ctx, SummaryCacheKey(id))

	actor := principal.UserID
	writeAudit(ctx, s.repo, s.logger, &models.AuditLog{
		UserID:     &actor,
		Action:     models.AuditActionUserDelete,
		Resource:   "user",
		ResourceID: &id,
		OldValues:  auditValues(s.logger, map[string]string{"username": user.Username, "role": string(user.Role)}),
	})
	s.logger.Info("user deleted", zap.String("user_id", id), zap.String("by", actor))
	return nil
}

func (s *UserService) load(ctx context.Context, id string) (*models.User, error) {
	user, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch user")
	}
	return user, nil
}
