package repository

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/perpus-adp-api/internal/models"
)

func newLoanMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestLoanRepositoryAssign(t *testing.T) {
	db, mock, cleanup := newLoanMock(t)
	defer cleanup()
	repo := NewLoanRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE books SET available = false").
		WithArgs("book-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO loans").
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	loan := &models.Loan{StudentID: "student-1", BookID: "book-1", DueAt: time.Now().Add(14 * 24 * time.Hour)}
	err := repo.Assign(context.Background(), loan)
	require.NoError(t, err)
	assert.NotEmpty(t, loan.ID)
	assert.False(t, loan.BorrowedAt.IsZero())
	assert.Nil(t, loan.ReturnedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLoanRepositoryAssignUnavailableBook(t *testing.T) {
	db, mock, cleanup := newLoanMock(t)
	defer cleanup()
	repo := NewLoanRepository(db)

	// Zero rows matched: another request claimed the book first. The loan
	// insert must never happen.
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE books SET available = false").
		WithArgs("book-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := repo.Assign(context.Background(), &models.Loan{StudentID: "student-1", BookID: "book-1", DueAt: time.Now().Add(time.Hour)})
	require.ErrorIs(t, err, ErrBookUnavailable)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLoanRepositoryReturn(t *testing.T) {
	db, mock, cleanup := newLoanMock(t)
	defer cleanup()
	repo := NewLoanRepository(db)

	returnedAt := time.Now().UTC()
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE loans SET returned_at").
		WithArgs("loan-1", returnedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE books SET available = true").
		WithArgs("book-1", returnedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := repo.Return(context.Background(), "loan-1", "book-1", returnedAt)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLoanRepositoryReturnAlreadyReturned(t *testing.T) {
	db, mock, cleanup := newLoanMock(t)
	defer cleanup()
	repo := NewLoanRepository(db)

	returnedAt := time.Now().UTC()
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE loans SET returned_at").
		WithArgs("loan-1", returnedAt).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := repo.Return(context.Background(), "loan-1", "book-1", returnedAt)
	require.ErrorIs(t, err, ErrLoanReturned)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLoanRepositoryStatsByStudent(t *testing.T) {
	db, mock, cleanup := newLoanMock(t)
	defer cleanup()
	repo := NewLoanRepository(db)

	rows := sqlmock.NewRows([]string{"active", "overdue", "returned"}).AddRow(2, 1, 7)
	mock.ExpectQuery("SELECT").
		WithArgs("student-1", sqlmock.AnyArg()).
		WillReturnRows(rows)

	stats, err := repo.StatsByStudent(context.Background(), "student-1")
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Active)
	assert.Equal(t, 1, stats.Overdue)
	assert.Equal(t, 7, stats.Returned)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLoanRepositoryListFiltersByActive(t *testing.T) {
	db, mock, cleanup := newLoanMock(t)
	defer cleanup()
	repo := NewLoanRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "student_id", "book_id", "borrowed_at", "due_at", "returned_at", "created_at", "updated_at", "book_name", "book_author", "student_code", "student_name"}).
		AddRow("loan-1", "student-1", "book-1", now, now.Add(14*24*time.Hour), nil, now, now, "Go in Practice", "Butcher", "S-001", "Jane Doe")
	mock.ExpectQuery("SELECT l.id, l.student_id").
		WithArgs("student-1").
		WillReturnRows(rows)
	mock.ExpectQuery("SELECT COUNT").
		WithArgs("student-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	active := true
	loans, total, err := repo.List(context.Background(), models.LoanFilter{StudentID: "student-1", Active: &active})
	require.NoError(t, err)
	assert.Len(t, loans, 1)
	assert.Equal(t, 1, total)
	assert.Equal(t, "Go in Practice", loans[0].BookName)
	assert.True(t, loans[0].IsActive())
	assert.NoError(t, mock.ExpectationsWereMet())
}
