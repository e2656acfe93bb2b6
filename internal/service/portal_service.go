package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/perpus-adp-api/internal/models"
	appErrors "github.com/noah-isme/perpus-adp-api/pkg/errors"
)

type portalLoanRepository interface {
	List(ctx context.Context, filter models.LoanFilter) ([]models.LoanDetail, int, error)
	RecentByStudent(ctx context.Context, studentID string, limit int) ([]models.LoanDetail, error)
	StatsByStudent(ctx context.Context, studentID string) (*models.LoanStats, error)
}

type portalBookRepository interface {
	List(ctx context.Context, filter models.BookFilter) ([]models.Book, int, error)
	RecentAvailable(ctx context.Context, limit int) ([]models.Book, error)
}

type portalUserRepository interface {
	ExistsByEmail(ctx context.Context, email string, excludeID string) (bool, error)
	UpdateProfile(ctx context.Context, id, fullName, email string) error
}

// PortalDashboard aggregates the student's ledger position with recent
// activity and fresh catalog arrivals.
type PortalDashboard struct {
	Stats       models.LoanStats    `json:"stats"`
	RecentLoans []models.LoanDetail `json:"recent_loans"`
	RecentBooks []models.Book       `json:"recent_books"`
}

// UpdateProfileRequest holds the student-editable account fields.
type UpdateProfileRequest struct {
	FullName string `json:"full_name" validate:"required,max=255"`
	Email    string `json:"email" validate:"required,email"`
}

// PortalService serves the student-facing surface. Every operation is scoped
// to the student identity carried in the access token.
type PortalService struct {
	loans     portalLoanRepository
	books     portalBookRepository
	students  loanStudentResolver
	users     portalUserRepository
	cache     *CacheService
	validator *validator.Validate
	logger    *zap.Logger
}

// NewPortalService constructs the portal service.
func NewPortalService(loans portalLoanRepository, books portalBookRepository, students loanStudentResolver, users portalUserRepository, cache *CacheService, validate *validator.Validate, logger *zap.Logger) *PortalService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PortalService{loans: loans, books: books, students: students, users: users, cache: cache, validator: validate, logger: logger}
}

// Dashboard returns loan statistics, the five most recent loans and the five
// newest available books.
func (s *PortalService) Dashboard(ctx context.Context, studentID string) (*PortalDashboard, error) {
	cacheKey := fmt.Sprintf("portal:dashboard:%s", studentID)
	var cached PortalDashboard
	if hit, _ := s.cache.Get(ctx, cacheKey, &cached); hit {
		return &cached, nil
	}

	stats, err := s.loans.StatsByStudent(ctx, studentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load loan stats")
	}
	recentLoans, err := s.loans.RecentByStudent(ctx, studentID, 5)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load recent loans")
	}
	recentBooks, err := s.books.RecentAvailable(ctx, 5)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load recent books")
	}

	dashboard := &PortalDashboard{Stats: *stats, RecentLoans: recentLoans, RecentBooks: recentBooks}
	_ = s.cache.Set(ctx, cacheKey, dashboard, 0)
	return dashboard, nil
}

// Profile returns the acting student's record with loan counts.
func (s *PortalService) Profile(ctx context.Context, studentID string) (*models.StudentDetail, error) {
	detail, err := s.students.FindByID(ctx, studentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load profile")
	}
	return detail, nil
}

// UpdateProfile changes the student's own name and email.
func (s *PortalService) UpdateProfile(ctx context.Context, studentID string, req UpdateProfileRequest) (*models.StudentDetail, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid profile payload")
	}

	detail, err := s.Profile(ctx, studentID)
	if err != nil {
		return nil, err
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))
	taken, err := s.users.ExistsByEmail(ctx, email, detail.UserID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to validate email")
	}
	if taken {
		return nil, appErrors.Clone(appErrors.ErrConflict, "email already used")
	}

	if err := s.users.UpdateProfile(ctx, detail.UserID, strings.TrimSpace(req.FullName), email); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update profile")
	}

	return s.Profile(ctx, studentID)
}

// Books lets the student browse the catalog. The first page of an unfiltered
// browse is cached, it is by far the hottest read.
func (s *PortalService) Books(ctx context.Context, filter models.BookFilter) ([]models.Book, *models.Pagination, error) {
	cacheable := filter.Search == "" && filter.Category == "" && filter.Type == "" && filter.Available == nil && filter.Page <= 1 && filter.SortBy == ""

	// Portal defaults: available books, ordered by name.
	if filter.Available == nil {
		available := true
		filter.Available = &available
	}
	if filter.SortBy == "" {
		filter.SortBy = "name"
		filter.SortOrder = "asc"
	}

	type cachedBooks struct {
		Books      []models.Book     `json:"books"`
		Pagination models.Pagination `json:"pagination"`
	}
	cacheKey := fmt.Sprintf("portal:books:first:%d", filter.PageSize)
	if cacheable {
		var cached cachedBooks
		if hit, _ := s.cache.Get(ctx, cacheKey, &cached); hit {
			return cached.Books, &cached.Pagination, nil
		}
	}

	books, total, err := s.books.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to browse books")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	pagination := &models.Pagination{Page: page, PageSize: size, TotalCount: total}

	if cacheable {
		_ = s.cache.Set(ctx, cacheKey, cachedBooks{Books: books, Pagination: *pagination}, 0)
	}
	return books, pagination, nil
}

// ActiveLoans returns the student's open loans.
func (s *PortalService) ActiveLoans(ctx context.Context, studentID string, filter models.LoanFilter) ([]models.LoanDetail, *models.Pagination, error) {
	active := true
	filter.StudentID = studentID
	filter.Active = &active
	return s.listLoans(ctx, filter)
}

// History returns the student's returned loans, newest return first.
func (s *PortalService) History(ctx context.Context, studentID string, filter models.LoanFilter) ([]models.LoanDetail, *models.Pagination, error) {
	returned := false
	filter.StudentID = studentID
	filter.Active = &returned
	if filter.SortBy == "" {
		filter.SortBy = "returned_at"
		filter.SortOrder = "desc"
	}
	return s.listLoans(ctx, filter)
}

func (s *PortalService) listLoans(ctx context.Context, filter models.LoanFilter) ([]models.LoanDetail, *models.Pagination, error) {
	loans, total, err := s.loans.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list loans")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	return loans, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}
