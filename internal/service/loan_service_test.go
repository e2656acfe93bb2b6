package service

import (
	"context"
	"database/sql"
	"math/rand"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/perpus-adp-api/internal/models"
	"github.com/noah-isme/perpus-adp-api/internal/repository"
	appErrors "github.com/noah-isme/perpus-adp-api/pkg/errors"
)

// mockLedger imitates the repository's compare-and-set semantics in memory.
type mockLedger struct {
	available map[string]bool
	loans     map[string]models.Loan
}

func newMockLedger(bookIDs ...string) *mockLedger {
	available := make(map[string]bool, len(bookIDs))
	for _, id := range bookIDs {
		available[id] = true
	}
	return &mockLedger{available: available, loans: make(map[string]models.Loan)}
}

func (m *mockLedger) Assign(ctx context.Context, loan *models.Loan) error {
	if !m.available[loan.BookID] {
		return repository.ErrBookUnavailable
	}
	m.available[loan.BookID] = false
	if loan.ID == "" {
		loan.ID = "loan-" + loan.BookID
	}
	loan.BorrowedAt = time.Now().UTC()
	m.loans[loan.ID] = *loan
	return nil
}

func (m *mockLedger) Return(ctx context.Context, loanID, bookID string, returnedAt time.Time) error {
	loan, ok := m.loans[loanID]
	if !ok || loan.ReturnedAt != nil {
		return repository.ErrLoanReturned
	}
	loan.ReturnedAt = &returnedAt
	m.loans[loanID] = loan
	m.available[bookID] = true
	return nil
}

func (m *mockLedger) FindByID(ctx context.Context, id string) (*models.Loan, error) {
	loan, ok := m.loans[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &loan, nil
}

func (m *mockLedger) List(ctx context.Context, filter models.LoanFilter) ([]models.LoanDetail, int, error) {
	var details []models.LoanDetail
	for _, loan := range m.loans {
		if filter.StudentID != "" && loan.StudentID != filter.StudentID {
			continue
		}
		if filter.Active != nil && *filter.Active != (loan.ReturnedAt == nil) {
			continue
		}
		details = append(details, models.LoanDetail{Loan: loan})
	}
	return details, len(details), nil
}

type mockStudentResolver struct {
	known map[string]bool
}

func (m *mockStudentResolver) FindByID(ctx context.Context, id string) (*models.StudentDetail, error) {
	if !m.known[id] {
		return nil, sql.ErrNoRows
	}
	return &models.StudentDetail{Student: models.Student{ID: id}}, nil
}

type mockBookResolver struct {
	known map[string]bool
}

func (m *mockBookResolver) FindByID(ctx context.Context, id string) (*models.Book, error) {
	if !m.known[id] {
		return nil, sql.ErrNoRows
	}
	return &models.Book{ID: id}, nil
}

type mockAudit struct {
	logs []models.AuditLog
}

func (m *mockAudit) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	m.logs = append(m.logs, *log)
	return nil
}

func newLoanService(ledger *mockLedger, audit *mockAudit) *LoanService {
	students := &mockStudentResolver{known: map[string]bool{"student-1": true, "student-2": true}}
	books := &mockBookResolver{known: map[string]bool{"book-1": true, "book-2": true}}
	// A typed-nil *mockAudit must not reach the auditLogger interface.
	var logger auditLogger
	if audit != nil {
		logger = audit
	}
	return NewLoanService(ledger, students, books, logger, nil, nil, validator.New(), zap.NewNop(), 14*24*time.Hour)
}

func TestLoanServiceAssign(t *testing.T) {
	ledger := newMockLedger("book-1")
	audit := &mockAudit{}
	svc := newLoanService(ledger, audit)

	dueAt := time.Now().UTC().Add(7 * 24 * time.Hour)
	loan, err := svc.Assign(context.Background(), "student-1", AssignLoanRequest{BookID: "book-1", DueAt: dueAt}, nil)
	require.NoError(t, err)
	assert.Equal(t, "student-1", loan.StudentID)
	assert.Nil(t, loan.ReturnedAt)
	assert.False(t, ledger.available["book-1"])
	require.Len(t, audit.logs, 1)
	assert.Equal(t, models.AuditActionLoanAssign, audit.logs[0].Action)
}

func TestLoanServiceAssignWithoutAuditLogger(t *testing.T) {
	ledger := newMockLedger("book-1")
	svc := newLoanService(ledger, nil)

	dueAt := time.Now().UTC().Add(7 * 24 * time.Hour)
	loan, err := svc.Assign(context.Background(), "student-1", AssignLoanRequest{BookID: "book-1", DueAt: dueAt}, nil)
	require.NoError(t, err)

	_, err = svc.Return(context.Background(), loan.ID, nil, nil)
	require.NoError(t, err)
	assert.True(t, ledger.available["book-1"])
}

func TestLoanServiceAssignRejectsPastDueDate(t *testing.T) {
	svc := newLoanService(newMockLedger("book-1"), nil)

	_, err := svc.Assign(context.Background(), "student-1", AssignLoanRequest{BookID: "book-1", DueAt: time.Now().Add(-time.Hour)}, nil)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestLoanServiceAssignUnknownStudent(t *testing.T) {
	svc := newLoanService(newMockLedger("book-1"), nil)

	_, err := svc.Assign(context.Background(), "ghost", AssignLoanRequest{BookID: "book-1", DueAt: time.Now().Add(time.Hour)}, nil)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestLoanServiceSecondBorrowerConflicts(t *testing.T) {
	ledger := newMockLedger("book-1")
	svc := newLoanService(ledger, nil)

	dueAt := time.Now().UTC().Add(time.Hour)
	_, err := svc.Assign(context.Background(), "student-1", AssignLoanRequest{BookID: "book-1", DueAt: dueAt}, nil)
	require.NoError(t, err)

	_, err = svc.Assign(context.Background(), "student-2", AssignLoanRequest{BookID: "book-1", DueAt: dueAt}, nil)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrBookUnavailable.Code, appErrors.FromError(err).Code)
}

func TestLoanServiceRequestFixesDueDate(t *testing.T) {
	ledger := newMockLedger("book-1")
	svc := newLoanService(ledger, nil)

	before := time.Now().UTC()
	loan, err := svc.Request(context.Background(), "student-1", "book-1", nil)
	require.NoError(t, err)

	expected := before.Add(14 * 24 * time.Hour)
	assert.WithinDuration(t, expected, loan.DueAt, time.Minute)
}

func TestLoanServiceReturnReleasesBookForNextBorrower(t *testing.T) {
	ledger := newMockLedger("book-1")
	svc := newLoanService(ledger, nil)

	dueAt := time.Now().UTC().Add(time.Hour)
	loan, err := svc.Assign(context.Background(), "student-1", AssignLoanRequest{BookID: "book-1", DueAt: dueAt}, nil)
	require.NoError(t, err)

	returned, err := svc.Return(context.Background(), loan.ID, nil, nil)
	require.NoError(t, err)
	assert.NotNil(t, returned.ReturnedAt)
	assert.True(t, ledger.available["book-1"])

	_, err = svc.Assign(context.Background(), "student-2", AssignLoanRequest{BookID: "book-1", DueAt: dueAt}, nil)
	require.NoError(t, err)
}

func TestLoanServiceReturnTwiceConflicts(t *testing.T) {
	ledger := newMockLedger("book-1")
	svc := newLoanService(ledger, nil)

	loan, err := svc.Request(context.Background(), "student-1", "book-1", nil)
	require.NoError(t, err)

	_, err = svc.Return(context.Background(), loan.ID, nil, nil)
	require.NoError(t, err)

	_, err = svc.Return(context.Background(), loan.ID, nil, nil)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrAlreadyReturned.Code, appErrors.FromError(err).Code)
}

func TestLoanServiceReturnEnforcesOwnership(t *testing.T) {
	ledger := newMockLedger("book-1")
	svc := newLoanService(ledger, nil)

	loan, err := svc.Request(context.Background(), "student-1", "book-1", nil)
	require.NoError(t, err)

	other := "student-2"
	_, err = svc.Return(context.Background(), loan.ID, &other, nil)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

	owner := "student-1"
	_, err = svc.Return(context.Background(), loan.ID, &owner, nil)
	require.NoError(t, err)
}

func TestLoanServiceReturnUnknownLoan(t *testing.T) {
	svc := newLoanService(newMockLedger(), nil)

	_, err := svc.Return(context.Background(), "missing", nil, nil)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestLoanServiceAvailabilityInvariantRandomSequence(t *testing.T) {
	ledger := newMockLedger("book-1", "book-2")
	svc := newLoanService(ledger, nil)

	rng := rand.New(rand.NewSource(1))
	students := []string{"student-1", "student-2"}
	books := []string{"book-1", "book-2"}
	var open []string

	checkInvariant := func(step int) {
		activeByBook := make(map[string]int)
		for _, loan := range ledger.loans {
			if loan.ReturnedAt == nil {
				activeByBook[loan.BookID]++
			}
		}
		for _, book := range books {
			count := activeByBook[book]
			require.LessOrEqual(t, count, 1, "step %d: book %s has %d active loans", step, book, count)
			require.Equal(t, count == 0, ledger.available[book], "step %d: availability of %s drifted", step, book)
		}
	}

	for step := 0; step < 500; step++ {
		if rng.Intn(2) == 0 || len(open) == 0 {
			student := students[rng.Intn(len(students))]
			book := books[rng.Intn(len(books))]
			loan, err := svc.Request(context.Background(), student, book, nil)
			if err != nil {
				assert.Equal(t, appErrors.ErrBookUnavailable.Code, appErrors.FromError(err).Code)
			} else {
				open = append(open, loan.ID)
			}
		} else {
			idx := rng.Intn(len(open))
			_, err := svc.Return(context.Background(), open[idx], nil, nil)
			require.NoError(t, err)
			open = append(open[:idx], open[idx+1:]...)
		}
		checkInvariant(step)
	}
}
