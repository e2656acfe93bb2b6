package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/perpus-adp-api/internal/models"
)

// StudentRepository manages persistence for student records.
type StudentRepository struct {
	db *sqlx.DB
}

// NewStudentRepository constructs a StudentRepository.
func NewStudentRepository(db *sqlx.DB) *StudentRepository {
	return &StudentRepository{db: db}
}

const studentDetailColumns = `s.id, s.code, s.user_id, s.created_at, s.updated_at,
        u.email, u.full_name,
        COUNT(l.id) FILTER (WHERE l.returned_at IS NULL) AS active_loans,
        COUNT(l.id) FILTER (WHERE l.returned_at IS NOT NULL) AS returned_loans`

// List returns students matching the provided filters.
func (r *StudentRepository) List(ctx context.Context, filter models.StudentFilter) ([]models.StudentDetail, int, error) {
	base := "FROM students s JOIN users u ON u.id = s.user_id LEFT JOIN loans l ON l.student_id = s.id"
	conditions := []string{"1=1"}
	var args []interface{}

	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("(LOWER(u.full_name) LIKE $%d OR LOWER(s.code) LIKE $%d)", len(args)+1, len(args)+1))
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
	}

	base = fmt.Sprintf("%s WHERE %s", base, strings.Join(conditions, " AND "))

	allowedSorts := map[string]string{
		"code":       "s.code",
		"full_name":  "u.full_name",
		"created_at": "s.created_at",
	}
	column, ok := allowedSorts[filter.SortBy]
	if !ok {
		column = "s.created_at"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "DESC"
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf(`SELECT %s %s GROUP BY s.id, s.code, s.user_id, s.created_at, s.updated_at, u.email, u.full_name ORDER BY %s %s LIMIT %d OFFSET %d`,
		studentDetailColumns, base, column, order, size, offset)

	var students []models.StudentDetail
	if err := r.db.SelectContext(ctx, &students, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list students: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(DISTINCT s.id) %s", base)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count students: %w", err)
	}
	return students, total, nil
}

// FindByID fetches a student detail by ID.
func (r *StudentRepository) FindByID(ctx context.Context, id string) (*models.StudentDetail, error) {
	query := fmt.Sprintf(`SELECT %s
        FROM students s JOIN users u ON u.id = s.user_id LEFT JOIN loans l ON l.student_id = s.id
        WHERE s.id = $1
        GROUP BY s.id, s.code, s.user_id, s.created_at, s.updated_at, u.email, u.full_name`, studentDetailColumns)
	var detail models.StudentDetail
	if err := r.db.GetContext(ctx, &detail, query, id); err != nil {
		return nil, err
	}
	return &detail, nil
}

// FindByUserID fetches the student profile linked to a user account.
func (r *StudentRepository) FindByUserID(ctx context.Context, userID string) (*models.Student, error) {
	const query = `SELECT id, code, user_id, created_at, updated_at FROM students WHERE user_id = $1`
	var student models.Student
	if err := r.db.GetContext(ctx, &student, query, userID); err != nil {
		return nil, err
	}
	return &student, nil
}

// ExistsByCode checks if a student with the given code exists, optionally excluding an ID.
func (r *StudentRepository) ExistsByCode(ctx context.Context, code string, excludeID string) (bool, error) {
	query := "SELECT 1 FROM students WHERE code = $1"
	args := []interface{}{code}
	if excludeID != "" {
		query += " AND id <> $2"
		args = append(args, excludeID)
	}
	var exists int
	if err := r.db.GetContext(ctx, &exists, query+" LIMIT 1", args...); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check code: %w", err)
	}
	return true, nil
}

// Create inserts the user account and the linked student record in one
// transaction so a student never exists without its identity.
func (r *StudentRepository) Create(ctx context.Context, user *models.User, student *models.Student) (err error) {
	now := time.Now().UTC()
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	user.CreatedAt = now
	user.UpdatedAt = now
	if student.ID == "" {
		student.ID = uuid.NewString()
	}
	student.UserID = user.ID
	student.CreatedAt = now
	student.UpdatedAt = now

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create student: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	const userQuery = `INSERT INTO users (id, email, password_hash, full_name, role, active, created_at, updated_at)
        VALUES (:id, :email, :password_hash, :full_name, :role, :active, :created_at, :updated_at)`
	if _, err = tx.NamedExecContext(ctx, userQuery, user); err != nil {
		return fmt.Errorf("insert user: %w", err)
	}

	const studentQuery = `INSERT INTO students (id, code, user_id, created_at, updated_at)
        VALUES (:id, :code, :user_id, :created_at, :updated_at)`
	if _, err = tx.NamedExecContext(ctx, studentQuery, student); err != nil {
		return fmt.Errorf("insert student: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit create student: %w", err)
	}
	return nil
}

// Update modifies the student code and the linked account's profile fields.
func (r *StudentRepository) Update(ctx context.Context, student *models.Student, fullName, email string) (err error) {
	student.UpdatedAt = time.Now().UTC()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin update student: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	const studentQuery = `UPDATE students SET code = :code, updated_at = :updated_at WHERE id = :id`
	if _, err = tx.NamedExecContext(ctx, studentQuery, student); err != nil {
		return fmt.Errorf("update student: %w", err)
	}

	const userQuery = `UPDATE users SET full_name = $2, email = $3, updated_at = $4 WHERE id = $1`
	if _, err = tx.ExecContext(ctx, userQuery, student.UserID, fullName, email, student.UpdatedAt); err != nil {
		return fmt.Errorf("update student account: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit update student: %w", err)
	}
	return nil
}

// CountActiveLoans returns how many unreturned loans reference the student.
func (r *StudentRepository) CountActiveLoans(ctx context.Context, studentID string) (int, error) {
	const query = `SELECT COUNT(*) FROM loans WHERE student_id = $1 AND returned_at IS NULL`
	var count int
	if err := r.db.GetContext(ctx, &count, query, studentID); err != nil {
		return 0, fmt.Errorf("count active loans: %w", err)
	}
	return count, nil
}

// Delete removes the student and its linked user account in one transaction.
// The caller is responsible for the active-loan guard.
func (r *StudentRepository) Delete(ctx context.Context, studentID, userID string) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete student: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM students WHERE id = $1`, studentID); err != nil {
		return fmt.Errorf("delete student: %w", err)
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, userID); err != nil {
		return fmt.Errorf("delete student account: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit delete student: %w", err)
	}
	return nil
}
