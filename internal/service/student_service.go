package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/perpus-adp-api/internal/models"
	appErrors "github.com/noah-isme/perpus-adp-api/pkg/errors"
)

type studentRepository interface {
	List(ctx context.Context, filter models.StudentFilter) ([]models.StudentDetail, int, error)
	FindByID(ctx context.Context, id string) (*models.StudentDetail, error)
	ExistsByCode(ctx context.Context, code string, excludeID string) (bool, error)
	Create(ctx context.Context, user *models.User, student *models.Student) error
	Update(ctx context.Context, student *models.Student, fullName, email string) error
	CountActiveLoans(ctx context.Context, studentID string) (int, error)
	Delete(ctx context.Context, studentID, userID string) error
}

type studentUserRepository interface {
	ExistsByEmail(ctx context.Context, email string, excludeID string) (bool, error)
}

// CreateStudentRequest holds payload for registering a student with its
// login account.
type CreateStudentRequest struct {
	Code     string `json:"code" validate:"required,max=50"`
	FullName string `json:"full_name" validate:"required,max=255"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
}

// UpdateStudentRequest holds payload for updating a student record.
type UpdateStudentRequest struct {
	Code     string `json:"code" validate:"required,max=50"`
	FullName string `json:"full_name" validate:"required,max=255"`
	Email    string `json:"email" validate:"required,email"`
}

// StudentService handles student record use cases.
type StudentService struct {
	repo      studentRepository
	users     studentUserRepository
	audit     auditLogger
	validator *validator.Validate
	logger    *zap.Logger
}

// NewStudentService constructs the student service.
func NewStudentService(repo studentRepository, users studentUserRepository, audit auditLogger, validate *validator.Validate, logger *zap.Logger) *StudentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StudentService{repo: repo, users: users, audit: audit, validator: validate, logger: logger}
}

// List returns students and pagination metadata.
func (s *StudentService) List(ctx context.Context, filter models.StudentFilter) ([]models.StudentDetail, *models.Pagination, error) {
	students, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list students")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	return students, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// Get returns detailed student information with loan counts.
func (s *StudentService) Get(ctx context.Context, id string) (*models.StudentDetail, error) {
	student, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	return student, nil
}

// Create registers a student together with its login account.
func (s *StudentService) Create(ctx context.Context, req CreateStudentRequest, actor *models.JWTClaims) (*models.StudentDetail, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid student payload")
	}

	code := strings.TrimSpace(req.Code)
	email := strings.ToLower(strings.TrimSpace(req.Email))

	exists, err := s.repo.ExistsByCode(ctx, code, "")
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to validate student code")
	}
	if exists {
		return nil, appErrors.Clone(appErrors.ErrConflict, "student code already used")
	}

	taken, err := s.users.ExistsByEmail(ctx, email, "")
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to validate email")
	}
	if taken {
		return nil, appErrors.Clone(appErrors.ErrConflict, "email already used")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash password")
	}

	user := &models.User{
		Email:        email,
		PasswordHash: string(hash),
		FullName:     strings.TrimSpace(req.FullName),
		Role:         models.RoleStudent,
		Active:       true,
	}
	student := &models.Student{Code: code}

	if err := s.repo.Create(ctx, user, student); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create student")
	}

	s.emitAudit(ctx, actor, models.AuditActionStudentCreate, student.ID, fmt.Sprintf(`{"code":%q}`, code))

	return &models.StudentDetail{
		Student:  *student,
		Email:    user.Email,
		FullName: user.FullName,
	}, nil
}

// Update modifies a student record and its linked account profile.
func (s *StudentService) Update(ctx context.Context, id string, req UpdateStudentRequest, actor *models.JWTClaims) (*models.StudentDetail, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid student payload")
	}

	detail, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	code := strings.TrimSpace(req.Code)
	email := strings.ToLower(strings.TrimSpace(req.Email))

	exists, err := s.repo.ExistsByCode(ctx, code, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to validate student code")
	}
	if exists {
		return nil, appErrors.Clone(appErrors.ErrConflict, "student code already used")
	}

	taken, err := s.users.ExistsByEmail(ctx, email, detail.UserID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to validate email")
	}
	if taken {
		return nil, appErrors.Clone(appErrors.ErrConflict, "email already used")
	}

	student := detail.Student
	student.Code = code
	fullName := strings.TrimSpace(req.FullName)

	if err := s.repo.Update(ctx, &student, fullName, email); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update student")
	}

	s.emitAudit(ctx, actor, models.AuditActionStudentUpdate, id, fmt.Sprintf(`{"code":%q}`, code))

	return s.Get(ctx, id)
}

// Delete removes a student and its account unless unreturned loans remain.
func (s *StudentService) Delete(ctx context.Context, id string, actor *models.JWTClaims) error {
	detail, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	active, err := s.repo.CountActiveLoans(ctx, id)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count active loans")
	}
	if active > 0 {
		return appErrors.Clone(appErrors.ErrActiveLoans, "student has active loans and cannot be deleted")
	}

	if err := s.repo.Delete(ctx, id, detail.UserID); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete student")
	}

	s.emitAudit(ctx, actor, models.AuditActionStudentDelete, id, `{"status":"deleted"}`)
	return nil
}

func (s *StudentService) emitAudit(ctx context.Context, actor *models.JWTClaims, action, resourceID, payload string) {
	if s.audit == nil {
		return
	}
	log := &models.AuditLog{
		Action:     action,
		Resource:   "student",
		ResourceID: &resourceID,
		NewValues:  []byte(payload),
	}
	if actor != nil {
		log.UserID = &actor.UserID
	}
	if err := s.audit.CreateAuditLog(ctx, log); err != nil {
		s.logger.Warn("failed to record student audit log", zap.Error(err))
	}
}
