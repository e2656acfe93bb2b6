package repository

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/perpus-adp-api/internal/models"
)

func TestStudentRepositoryCreateInsertsUserAndStudent(t *testing.T) {
	db, mock, cleanup := newLoanMock(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO users").
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO students").
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	user := &models.User{Email: "jane@example.com", FullName: "Jane Doe", Role: models.RoleStudent, Active: true}
	student := &models.Student{Code: "S-001"}
	err := repo.Create(context.Background(), user, student)
	require.NoError(t, err)
	assert.NotEmpty(t, user.ID)
	assert.Equal(t, user.ID, student.UserID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentRepositoryCreateRollsBackOnStudentInsert(t *testing.T) {
	db, mock, cleanup := newLoanMock(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO users").
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO students").
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnError(assert.AnError)
	mock.ExpectRollback()

	err := repo.Create(context.Background(), &models.User{Email: "jane@example.com"}, &models.Student{Code: "S-001"})
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentRepositoryFindByIDIncludesLoanCounts(t *testing.T) {
	db, mock, cleanup := newLoanMock(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "code", "user_id", "created_at", "updated_at", "email", "full_name", "active_loans", "returned_loans"}).
		AddRow("student-1", "S-001", "user-1", now, now, "jane@example.com", "Jane Doe", 2, 5)
	mock.ExpectQuery("SELECT s.id, s.code").
		WithArgs("student-1").
		WillReturnRows(rows)

	detail, err := repo.FindByID(context.Background(), "student-1")
	require.NoError(t, err)
	assert.Equal(t, "S-001", detail.Code)
	assert.Equal(t, 2, detail.ActiveLoans)
	assert.Equal(t, 5, detail.ReturnedLoans)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentRepositoryExistsByCode(t *testing.T) {
	db, mock, cleanup := newLoanMock(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	mock.ExpectQuery("SELECT 1 FROM students").
		WithArgs("S-001", "student-1").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}))

	exists, err := repo.ExistsByCode(context.Background(), "S-001", "student-1")
	require.NoError(t, err)
	assert.False(t, exists)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentRepositoryCountActiveLoans(t *testing.T) {
	db, mock, cleanup := newLoanMock(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	mock.ExpectQuery("SELECT COUNT").
		WithArgs("student-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	count, err := repo.CountActiveLoans(context.Background(), "student-1")
	require.NoError(t, err)
	assert.Equal(t, 3, count)
	assert.NoError(t, mock.ExpectationsWereMet())
}
