package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/perpus-adp-api/internal/models"
	"github.com/noah-isme/perpus-adp-api/internal/repository"
	appErrors "github.com/noah-isme/perpus-adp-api/pkg/errors"
)

type loanRepository interface {
	Assign(ctx context.Context, loan *models.Loan) error
	Return(ctx context.Context, loanID, bookID string, returnedAt time.Time) error
	FindByID(ctx context.Context, id string) (*models.Loan, error)
	List(ctx context.Context, filter models.LoanFilter) ([]models.LoanDetail, int, error)
}

type loanStudentResolver interface {
	FindByID(ctx context.Context, id string) (*models.StudentDetail, error)
}

type loanBookResolver interface {
	FindByID(ctx context.Context, id string) (*models.Book, error)
}

// AssignLoanRequest holds payload for an administrative loan assignment.
type AssignLoanRequest struct {
	BookID string    `json:"book_id" validate:"required"`
	DueAt  time.Time `json:"due_at" validate:"required"`
}

// LoanService drives the loan ledger state machine. All transitions go
// through the repository's transactional compare-and-set operations, so two
// racing requests for the same book or the same return have exactly one
// winner.
type LoanService struct {
	repo       loanRepository
	students   loanStudentResolver
	books      loanBookResolver
	audit      auditLogger
	cache      *CacheService
	metrics    *MetricsService
	validator  *validator.Validate
	logger     *zap.Logger
	loanPeriod time.Duration
}

// NewLoanService constructs the loan service.
func NewLoanService(repo loanRepository, students loanStudentResolver, books loanBookResolver, audit auditLogger, cache *CacheService, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger, loanPeriod time.Duration) *LoanService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if loanPeriod <= 0 {
		loanPeriod = 14 * 24 * time.Hour
	}
	return &LoanService{repo: repo, students: students, books: books, audit: audit, cache: cache, metrics: metrics, validator: validate, logger: logger, loanPeriod: loanPeriod}
}

// Assign opens a loan for a student at an explicit due date. Librarian flow.
func (s *LoanService) Assign(ctx context.Context, studentID string, req AssignLoanRequest, actor *models.JWTClaims) (*models.Loan, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid loan payload")
	}
	if !req.DueAt.After(time.Now().UTC()) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "due date must be in the future")
	}
	return s.open(ctx, studentID, req.BookID, req.DueAt.UTC(), actor)
}

// Request opens a loan for the acting student. The due date is fixed by the
// configured loan period; any client-supplied date is ignored.
func (s *LoanService) Request(ctx context.Context, studentID, bookID string, actor *models.JWTClaims) (*models.Loan, error) {
	if bookID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "book_id is required")
	}
	dueAt := time.Now().UTC().Add(s.loanPeriod)
	return s.open(ctx, studentID, bookID, dueAt, actor)
}

func (s *LoanService) open(ctx context.Context, studentID, bookID string, dueAt time.Time, actor *models.JWTClaims) (*models.Loan, error) {
	if _, err := s.students.FindByID(ctx, studentID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	if _, err := s.books.FindByID(ctx, bookID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "book not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load book")
	}

	loan := &models.Loan{StudentID: studentID, BookID: bookID, DueAt: dueAt}
	if err := s.repo.Assign(ctx, loan); err != nil {
		if errors.Is(err, repository.ErrBookUnavailable) {
			s.metrics.RecordLoanConflict("book_unavailable")
			return nil, appErrors.Clone(appErrors.ErrBookUnavailable, "")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open loan")
	}

	s.metrics.RecordLoanAssigned()
	s.emitAudit(ctx, actor, models.AuditActionLoanAssign, loan.ID, fmt.Sprintf(`{"student_id":%q,"book_id":%q}`, studentID, bookID))
	s.invalidateLoanCaches(ctx)
	return loan, nil
}

// Return closes a loan. When actingStudentID is set the loan must belong to
// that student; admins pass nil and may close any loan.
func (s *LoanService) Return(ctx context.Context, loanID string, actingStudentID *string, actor *models.JWTClaims) (*models.Loan, error) {
	loan, err := s.repo.FindByID(ctx, loanID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "loan not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load loan")
	}

	if actingStudentID != nil && loan.StudentID != *actingStudentID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "loan belongs to another student")
	}

	returnedAt := time.Now().UTC()
	if err := s.repo.Return(ctx, loan.ID, loan.BookID, returnedAt); err != nil {
		if errors.Is(err, repository.ErrLoanReturned) {
			s.metrics.RecordLoanConflict("already_returned")
			return nil, appErrors.Clone(appErrors.ErrAlreadyReturned, "")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to close loan")
	}

	loan.ReturnedAt = &returnedAt
	loan.UpdatedAt = returnedAt

	s.metrics.RecordLoanReturned()
	s.emitAudit(ctx, actor, models.AuditActionLoanReturn, loan.ID, fmt.Sprintf(`{"book_id":%q}`, loan.BookID))
	s.invalidateLoanCaches(ctx)
	return loan, nil
}

// Get returns a single ledger entry.
func (s *LoanService) Get(ctx context.Context, id string) (*models.Loan, error) {
	loan, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "loan not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load loan")
	}
	return loan, nil
}

// List returns ledger entries with book and student context.
func (s *LoanService) List(ctx context.Context, filter models.LoanFilter) ([]models.LoanDetail, *models.Pagination, error) {
	loans, total, err := s.repo.List(ctx, filter)
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

func (s *LoanService) invalidateLoanCaches(ctx context.Context) {
	_ = s.cache.Invalidate(ctx, "catalog:*")
	_ = s.cache.Invalidate(ctx, "portal:*")
}

func (s *LoanService) emitAudit(ctx context.Context, actor *models.JWTClaims, action, resourceID, payload string) {
	if s.audit == nil {
		return
	}
	log := &models.AuditLog{
		Action:     action,
		Resource:   "loan",
		ResourceID: &resourceID,
		NewValues:  []byte(payload),
	}
	if actor != nil {
		log.UserID = &actor.UserID
	}
	if err := s.audit.CreateAuditLog(ctx, log); err != nil {
		s.logger.Warn("failed to record loan audit log", zap.Error(err))
	}
}
