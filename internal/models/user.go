package models

import (
	"strings"
	"time"
)

// UserRole represents the available roles for the RBAC system.
type UserRole string

const (
	RoleAdmin   UserRole = "ADMIN"
	RoleTeacher UserRole = "TEACHER"
	RoleStudent UserRole = "STUDENT"
)

// Valid reports whether r is a known role.
func (r UserRole) Valid() bool {
	switch r {
	case RoleAdmin, RoleTeacher, RoleStudent:
		return true
	default:
		return false
	}
}

// Departments students may register under. DepartmentAdmin is reserved for staff.
const (
	DepartmentCSE   = "CSE"
	DepartmentCSEDS = "CSE(DS)"
	DepartmentMECH  = "MECH"
	DepartmentCIVIL = "CIVIL"
	DepartmentECE   = "ECE"
	DepartmentEEE   = "EEE"
	DepartmentAdmin = "ADMIN"
)

// StudentDepartments lists the branches offered to students.
var StudentDepartments = []string{DepartmentCSE, DepartmentCSEDS, DepartmentMECH, DepartmentCIVIL, DepartmentECE, DepartmentEEE}

// NormalizeDepartment upper-cases d and reports whether it is a student branch.
func NormalizeDepartment(d string) (string, bool) {
	d = strings.ToUpper(strings.TrimSpace(d))
	for _, known := range StudentDepartments {
		if d == known {
			return d, true
		}
	}
	return d, false
}

// User represents an application user stored in the users table.
type User struct {
	ID           string     `db:"id" json:"id"`
	Username     string     `db:"username" json:"username"`
	RollNumber   *string    `db:"roll_number" json:"roll_number,omitempty"`
	Email        string     `db:"email" json:"email"`
	FullName     string     `db:"full_name" json:"full_name"`
	Phone        string     `db:"phone" json:"phone"`
	Department   string     `db:"department" json:"department"`
	Program      string     `db:"program" json:"program"`
	ClassName    string     `db:"class_name" json:"class_name"`
	PasswordHash string     `db:"password_hash" json:"-"`
	Role         UserRole   `db:"role" json:"role"`
	Active       bool       `db:"active" json:"active"`
	LastLogin    *time.Time `db:"last_login" json:"last_login,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
}

// HasPassword is false for OTP-only accounts.
func (u User) HasPassword() bool {
	return u.PasswordHash != ""
}

// UserFilter captures filtering criteria for listing users.
type UserFilter struct {
	Role       *UserRole
	Department string
	Active     *bool
	Search     string
	Page       int
	PageSize   int
	SortBy     string
	SortOrder  string
}

// UpdateProfileRequest carries the fields a user may change on their own profile.
type UpdateProfileRequest struct {
	FullName  *string `json:"full_name" validate:"omitempty,min=2,max=255"`
	Phone     *string `json:"phone" validate:"omitempty,len=10,numeric"`
	Program   *string `json:"program" validate:"omitempty,max=64"`
	ClassName *string `json:"class_name" validate:"omitempty,max=64"`
}

// SetActiveRequest toggles account activation.
type SetActiveRequest struct {
	Active *bool `json:"active" validate:"required"`
}

// CreateStaffRequest provisions a teacher or admin account.
type CreateStaffRequest struct {
	Username string   `json:"username" validate:"required,min=3,max=64"`
	Email    string   `json:"email" validate:"required,email"`
	FullName string   `json:"full_name" validate:"required,min=2,max=255"`
	Password string   `json:"password" validate:"required,min=8"`
	Role     UserRole `json:"role" validate:"required,oneof=ADMIN TEACHER"`
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
	TotalPages int `json:"total_pages"`
}

// MaxPage is the highest page any listing accepts. Page sizes are capped at
// 200, so (MaxPage-1)*size stays well inside int.
const MaxPage = 1_000_000

// NewPagination computes the page count for total rows.
func NewPagination(page, pageSize, total int) *Pagination {
	pages := 0
	if pageSize > 0 {
		pages = (total + pageSize - 1) / pageSize
	}
	return &Pagination{Page: page, PageSize: pageSize, TotalCount: total, TotalPages: pages}
}
