package service

import (
	"context"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/perpus-adp-api/internal/models"
	appErrors "github.com/noah-isme/perpus-adp-api/pkg/errors"
)

type mockPortalLoans struct {
	stats   models.LoanStats
	recent  []models.LoanDetail
	listed  []models.LoanDetail
	filters []models.LoanFilter
}

func (m *mockPortalLoans) List(ctx context.Context, filter models.LoanFilter) ([]models.LoanDetail, int, error) {
	m.filters = append(m.filters, filter)
	return m.listed, len(m.listed), nil
}

func (m *mockPortalLoans) RecentByStudent(ctx context.Context, studentID string, limit int) ([]models.LoanDetail, error) {
	return m.recent, nil
}

func (m *mockPortalLoans) StatsByStudent(ctx context.Context, studentID string) (*models.LoanStats, error) {
	stats := m.stats
	return &stats, nil
}

type mockPortalBooks struct {
	recent     []models.Book
	listed     []models.Book
	calls      int
	lastFilter models.BookFilter
}

func (m *mockPortalBooks) List(ctx context.Context, filter models.BookFilter) ([]models.Book, int, error) {
	m.calls++
	m.lastFilter = filter
	return m.listed, len(m.listed), nil
}

func (m *mockPortalBooks) RecentAvailable(ctx context.Context, limit int) ([]models.Book, error) {
	return m.recent, nil
}

type mockPortalUsers struct {
	emails  map[string]string
	updated map[string][2]string
}

func (m *mockPortalUsers) ExistsByEmail(ctx context.Context, email string, excludeID string) (bool, error) {
	if id, ok := m.emails[email]; ok && id != excludeID {
		return true, nil
	}
	return false, nil
}

func (m *mockPortalUsers) UpdateProfile(ctx context.Context, id, fullName, email string) error {
	if m.updated == nil {
		m.updated = make(map[string][2]string)
	}
	m.updated[id] = [2]string{fullName, email}
	return nil
}

func newPortalService(loans *mockPortalLoans, books *mockPortalBooks, users *mockPortalUsers) *PortalService {
	students := &mockStudentResolver{known: map[string]bool{"student-1": true}}
	if users == nil {
		users = &mockPortalUsers{emails: make(map[string]string)}
	}
	return NewPortalService(loans, books, students, users, nil, validator.New(), zap.NewNop())
}

func TestPortalServiceDashboard(t *testing.T) {
	now := time.Now()
	loans := &mockPortalLoans{
		stats:  models.LoanStats{Active: 2, Overdue: 1, Returned: 4},
		recent: []models.LoanDetail{{Loan: models.Loan{ID: "loan-1", BorrowedAt: now}}},
	}
	books := &mockPortalBooks{recent: []models.Book{{ID: "book-1", Available: true}}}
	svc := newPortalService(loans, books, nil)

	dashboard, err := svc.Dashboard(context.Background(), "student-1")
	require.NoError(t, err)
	assert.Equal(t, 2, dashboard.Stats.Active)
	assert.Equal(t, 1, dashboard.Stats.Overdue)
	assert.Len(t, dashboard.RecentLoans, 1)
	assert.Len(t, dashboard.RecentBooks, 1)
}

func TestPortalServiceBooksDefaultsToAvailableByName(t *testing.T) {
	books := &mockPortalBooks{listed: []models.Book{{ID: "book-1", Name: "Algorithms"}}}
	svc := newPortalService(&mockPortalLoans{}, books, nil)

	_, _, err := svc.Books(context.Background(), models.BookFilter{})
	require.NoError(t, err)
	require.NotNil(t, books.lastFilter.Available)
	assert.True(t, *books.lastFilter.Available)
	assert.Equal(t, "name", books.lastFilter.SortBy)
	assert.Equal(t, "asc", books.lastFilter.SortOrder)
}

func TestPortalServiceBooksKeepsExplicitFilter(t *testing.T) {
	books := &mockPortalBooks{}
	svc := newPortalService(&mockPortalLoans{}, books, nil)

	unavailable := false
	_, _, err := svc.Books(context.Background(), models.BookFilter{Available: &unavailable, SortBy: "year", SortOrder: "desc"})
	require.NoError(t, err)
	require.NotNil(t, books.lastFilter.Available)
	assert.False(t, *books.lastFilter.Available)
	assert.Equal(t, "year", books.lastFilter.SortBy)
}

func TestPortalServiceActiveLoansScopesFilter(t *testing.T) {
	loans := &mockPortalLoans{}
	svc := newPortalService(loans, &mockPortalBooks{}, nil)

	_, _, err := svc.ActiveLoans(context.Background(), "student-1", models.LoanFilter{StudentID: "someone-else"})
	require.NoError(t, err)

	require.Len(t, loans.filters, 1)
	applied := loans.filters[0]
	assert.Equal(t, "student-1", applied.StudentID)
	require.NotNil(t, applied.Active)
	assert.True(t, *applied.Active)
}

func TestPortalServiceHistoryReturnedNewestFirst(t *testing.T) {
	loans := &mockPortalLoans{}
	svc := newPortalService(loans, &mockPortalBooks{}, nil)

	_, _, err := svc.History(context.Background(), "student-1", models.LoanFilter{})
	require.NoError(t, err)

	require.Len(t, loans.filters, 1)
	filter := loans.filters[0]
	require.NotNil(t, filter.Active)
	assert.False(t, *filter.Active)
	assert.Equal(t, "returned_at", filter.SortBy)
	assert.Equal(t, "desc", filter.SortOrder)
}

func TestPortalServiceHistoryKeepsExplicitSort(t *testing.T) {
	loans := &mockPortalLoans{}
	svc := newPortalService(loans, &mockPortalBooks{}, nil)

	_, _, err := svc.History(context.Background(), "student-1", models.LoanFilter{SortBy: "borrowed_at", SortOrder: "asc"})
	require.NoError(t, err)

	require.Len(t, loans.filters, 1)
	assert.Equal(t, "borrowed_at", loans.filters[0].SortBy)
}

func TestPortalServiceUpdateProfile(t *testing.T) {
	users := &mockPortalUsers{emails: make(map[string]string)}
	svc := newPortalService(&mockPortalLoans{}, &mockPortalBooks{}, users)

	_, err := svc.UpdateProfile(context.Background(), "student-1", UpdateProfileRequest{
		FullName: "Jane Smith",
		Email:    "Jane.Smith@Example.com",
	})
	require.NoError(t, err)
	require.Len(t, users.updated, 1)
	for _, change := range users.updated {
		assert.Equal(t, "Jane Smith", change[0])
		assert.Equal(t, "jane.smith@example.com", change[1])
	}
}

func TestPortalServiceUpdateProfileDuplicateEmail(t *testing.T) {
	users := &mockPortalUsers{emails: map[string]string{"taken@example.com": "other-user"}}
	svc := newPortalService(&mockPortalLoans{}, &mockPortalBooks{}, users)

	_, err := svc.UpdateProfile(context.Background(), "student-1", UpdateProfileRequest{
		FullName: "Jane",
		Email:    "taken@example.com",
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
}

func TestPortalServiceProfileUnknownStudent(t *testing.T) {
	svc := newPortalService(&mockPortalLoans{}, &mockPortalBooks{}, nil)

	_, err := svc.Profile(context.Background(), "ghost")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}
