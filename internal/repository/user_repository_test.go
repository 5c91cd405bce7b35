package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/kcea-attendance/internal/models"
)

func newMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	sqlxdb := sqlx.NewDb(db, "sqlmock")
	return sqlxdb, mock, func() {
		db.Close()
	}
}

var userColumnNames = []string{"id", "username", "roll_number", "email", "full_name", "phone", "department", "program", "class_name", "password_hash", "role", "active", "last_login", "created_at", "updated_at"}

func TestFindByIdentifier(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows(userColumnNames).
		AddRow("u1", "ravi", "21CSE001", "ravi@kcea.in", "Ravi Kumar", "9876543210", "CSE", "B.Tech", "CSE-A", "", string(models.RoleStudent), true, nil, now, now)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT "+userColumns+" FROM users WHERE LOWER(username) = $1 OR UPPER(roll_number) = $2 LIMIT 1")).
		WithArgs("21cse001", "21CSE001").
		WillReturnRows(rows)

	user, err := repo.FindByIdentifier(context.Background(), " 21cse001 ")
	require.NoError(t, err)
	assert.Equal(t, "ravi", user.Username)
	require.NotNil(t, user.RollNumber)
	assert.Equal(t, "21CSE001", *user.RollNumber)
	assert.False(t, user.HasPassword())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindByIDNotFound(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	mock.ExpectQuery("SELECT .* FROM users WHERE id = \\$1").WithArgs("missing").WillReturnError(sql.ErrNoRows)

	_, err := repo.FindByID(context.Background(), "missing")
	assert.True(t, errors.Is(err, sql.ErrNoRows))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateUserDuplicate(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	mock.ExpectExec("INSERT INTO users").WillReturnError(&pq.Error{Code: "23505"})

	err := repo.Create(context.Background(), &models.User{Username: "ravi", Email: "ravi@kcea.in", Role: models.RoleStudent, Active: true})
	assert.ErrorIs(t, err, ErrDuplicate)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteUserMissing(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM users WHERE id = $1")).WithArgs("u9").WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Delete(context.Background(), "u9")
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateRefreshToken(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	mock.ExpectExec("INSERT INTO refresh_tokens").WillReturnResult(sqlmock.NewResult(1, 1))

	err := repo.CreateRefreshToken(context.Background(), &models.RefreshToken{ID: "1", UserID: "u1", Token: "token", ExpiresAt: time.Now(), CreatedAt: time.Now()})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRevokeUserRefreshTokensSkipsRevoked(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(db)
	at := time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE refresh_tokens SET revoked = TRUE, revoked_at = $1 WHERE user_id = $2 AND revoked = FALSE")).
		WithArgs(at, "u1").
		WillReturnResult(sqlmock.NewResult(0, 2))

	n, err := repo.RevokeUserRefreshTokens(context.Background(), "u1", at)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListUsers(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	now := time.Now()
	role := models.RoleStudent
	listRows := sqlmock.NewRows(userColumnNames).
		AddRow("u1", "ravi", "21CSE001", "ravi@kcea.in", "Ravi Kumar", "9876543210", "CSE", "B.Tech", "CSE-A", "hash", string(models.RoleStudent), true, now, now, now)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT " + userColumns + " FROM users WHERE 1=1 AND role = $1 AND department = $2 ORDER BY created_at DESC LIMIT 20 OFFSET 0")).
		WithArgs(role, "CSE").
		WillReturnRows(listRows)

	countRows := sqlmock.NewRows([]string{"count"}).AddRow(1)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM users WHERE 1=1 AND role = $1 AND department = $2")).WillReturnRows(countRows)

	users, total, err := repo.List(context.Background(), models.UserFilter{Role: &role, Department: "cse"})
	require.NoError(t, err)
	assert.Len(t, users, 1)
	assert.Equal(t, 1, total)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListUsersClampsHugePage(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	offset := (models.MaxPage - 1) * 20
	mock.ExpectQuery(regexp.QuoteMeta(fmt.Sprintf("SELECT %s FROM users WHERE 1=1 ORDER BY created_at DESC LIMIT 20 OFFSET %d", userColumns, offset))).
		WillReturnRows(sqlmock.NewRows(userColumnNames))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM users WHERE 1=1")).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	users, total, err := repo.List(context.Background(), models.UserFilter{Page: 1_000_000_000_000_000_000})
	require.NoError(t, err)
	assert.Empty(t, users)
	assert.Equal(t, 3, total)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNormalizePageBounds(t *testing.T) {
	page, size := normalizePage(-4, 0, 20)
	assert.Equal(t, 1, page)
	assert.Equal(t, 20, size)

	page, size = normalizePage(1_000_000_000_000_000_000, 150, 20)
	assert.Equal(t, models.MaxPage, page)
	assert.Equal(t, 150, size)
	assert.Positive(t, (page-1)*size)
}

func TestListAuditLogsFiltersNewestFirst(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	at := time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)
	cols := []string{"id", "user_id", "action", "resource", "resource_id", "old_values", "new_values", "ip_address", "user_agent", "created_at"}
	mock.ExpectQuery(regexp.QuoteMeta("SELECT " + auditLogColumns + " FROM audit_logs WHERE action = $1 AND user_id = $2 ORDER BY created_at DESC LIMIT 100 OFFSET 100")).
		WithArgs("LOGIN", "u1").
		WillReturnRows(sqlmock.NewRows(cols).AddRow("a1", "u1", "LOGIN", "user", "u1", nil, nil, "10.0.0.1", "curl", at))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM audit_logs WHERE action = $1 AND user_id = $2")).
		WithArgs("LOGIN", "u1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(101))

	logs, total, err := repo.ListAuditLogs(context.Background(), models.AuditLogFilter{Action: "login", UserID: "u1", Page: 2, PageSize: 150})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "LOGIN", logs[0].Action)
	assert.Equal(t, 101, total)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListAuditLogsUnfiltered(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT " + auditLogColumns + " FROM audit_logs ORDER BY created_at DESC LIMIT 50 OFFSET 0")).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM audit_logs")).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

	logs, total, err := repo.ListAuditLogs(context.Background(), models.AuditLogFilter{})
	require.NoError(t, err)
	assert.Empty(t, logs)
	assert.Zero(t, total)
	assert.NoError(t, mock.ExpectationsWereMet())
}
