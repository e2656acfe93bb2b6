package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/perpus-adp-api/internal/models"
)

// Sentinel errors surfaced by the ledger's compare-and-set transitions.
// Services translate them into client-facing conflicts.
var (
	ErrBookUnavailable = errors.New("book is not available")
	ErrLoanReturned    = errors.New("loan already returned")
)

// LoanRepository owns the loan ledger and is the only writer of the book
// availability flag besides the explicit admin override.
type LoanRepository struct {
	db *sqlx.DB
}

// NewLoanRepository constructs a LoanRepository.
func NewLoanRepository(db *sqlx.DB) *LoanRepository {
	return &LoanRepository{db: db}
}

// Assign creates a loan and flips the book unavailable in one transaction.
// The UPDATE doubles as a compare-and-set: when a concurrent request already
// claimed the book, zero rows match and the whole transaction is abandoned
// with ErrBookUnavailable.
func (r *LoanRepository) Assign(ctx context.Context, loan *models.Loan) (err error) {
	if loan.ID == "" {
		loan.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if loan.BorrowedAt.IsZero() {
		loan.BorrowedAt = now
	}
	loan.CreatedAt = now
	loan.UpdatedAt = now
	loan.ReturnedAt = nil

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin assign loan: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx, `UPDATE books SET available = false, updated_at = $2 WHERE id = $1 AND available = true`, loan.BookID, now)
	if err != nil {
		return fmt.Errorf("claim book: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("claim book result: %w", err)
	}
	if affected == 0 {
		err = ErrBookUnavailable
		return err
	}

	const insert = `INSERT INTO loans (id, student_id, book_id, borrowed_at, due_at, returned_at, created_at, updated_at)
        VALUES (:id, :student_id, :book_id, :borrowed_at, :due_at, :returned_at, :created_at, :updated_at)`
	if _, err = tx.NamedExecContext(ctx, insert, loan); err != nil {
		return fmt.Errorf("insert loan: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit assign loan: %w", err)
	}
	return nil
}

// Return closes the loan and releases the book in one transaction. The CAS
// on returned_at guarantees a duplicate return has exactly one winner; the
// loser observes ErrLoanReturned and the availability flag is untouched.
func (r *LoanRepository) Return(ctx context.Context, loanID, bookID string, returnedAt time.Time) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin return loan: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx, `UPDATE loans SET returned_at = $2, updated_at = $2 WHERE id = $1 AND returned_at IS NULL`, loanID, returnedAt)
	if err != nil {
		return fmt.Errorf("close loan: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("close loan result: %w", err)
	}
	if affected == 0 {
		err = ErrLoanReturned
		return err
	}

	if _, err = tx.ExecContext(ctx, `UPDATE books SET available = true, updated_at = $2 WHERE id = $1`, bookID, returnedAt); err != nil {
		return fmt.Errorf("release book: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit return loan: %w", err)
	}
	return nil
}

// FindByID fetches a loan by ID.
func (r *LoanRepository) FindByID(ctx context.Context, id string) (*models.Loan, error) {
	const query = `SELECT id, student_id, book_id, borrowed_at, due_at, returned_at, created_at, updated_at FROM loans WHERE id = $1`
	var loan models.Loan
	if err := r.db.GetContext(ctx, &loan, query, id); err != nil {
		return nil, err
	}
	return &loan, nil
}

// List returns ledger entries with book and student context.
func (r *LoanRepository) List(ctx context.Context, filter models.LoanFilter) ([]models.LoanDetail, int, error) {
	base := `FROM loans l
JOIN books b ON b.id = l.book_id
JOIN students s ON s.id = l.student_id
JOIN users u ON u.id = s.user_id`
	conditions := []string{"1=1"}
	var args []interface{}

	if filter.StudentID != "" {
		conditions = append(conditions, fmt.Sprintf("l.student_id = $%d", len(args)+1))
		args = append(args, filter.StudentID)
	}
	if filter.BookID != "" {
		conditions = append(conditions, fmt.Sprintf("l.book_id = $%d", len(args)+1))
		args = append(args, filter.BookID)
	}
	if filter.Active != nil {
		if *filter.Active {
			conditions = append(conditions, "l.returned_at IS NULL")
		} else {
			conditions = append(conditions, "l.returned_at IS NOT NULL")
		}
	}

	base = fmt.Sprintf("%s WHERE %s", base, strings.Join(conditions, " AND "))

	allowedSorts := map[string]string{
		"borrowed_at": "l.borrowed_at",
		"due_at":      "l.due_at",
		"returned_at": "l.returned_at",
	}
	column, ok := allowedSorts[filter.SortBy]
	if !ok {
		column = "l.borrowed_at"
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

	query := fmt.Sprintf(`SELECT l.id, l.student_id, l.book_id, l.borrowed_at, l.due_at, l.returned_at, l.created_at, l.updated_at,
        b.name AS book_name, b.author AS book_author, s.code AS student_code, u.full_name AS student_name
        %s ORDER BY %s %s LIMIT %d OFFSET %d`, base, column, order, size, offset)

	var loans []models.LoanDetail
	if err := r.db.SelectContext(ctx, &loans, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list loans: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count loans: %w", err)
	}
	return loans, total, nil
}

// RecentByStudent returns the student's most recent loans with book context.
func (r *LoanRepository) RecentByStudent(ctx context.Context, studentID string, limit int) ([]models.LoanDetail, error) {
	if limit <= 0 {
		limit = 5
	}
	query := fmt.Sprintf(`SELECT l.id, l.student_id, l.book_id, l.borrowed_at, l.due_at, l.returned_at, l.created_at, l.updated_at,
        b.name AS book_name, b.author AS book_author, s.code AS student_code, u.full_name AS student_name
        FROM loans l
        JOIN books b ON b.id = l.book_id
        JOIN students s ON s.id = l.student_id
        JOIN users u ON u.id = s.user_id
        WHERE l.student_id = $1 ORDER BY l.borrowed_at DESC LIMIT %d`, limit)
	var loans []models.LoanDetail
	if err := r.db.SelectContext(ctx, &loans, query, studentID); err != nil {
		return nil, fmt.Errorf("recent loans: %w", err)
	}
	return loans, nil
}

// StatsByStudent summarises the student's ledger position.
func (r *LoanRepository) StatsByStudent(ctx context.Context, studentID string) (*models.LoanStats, error) {
	const query = `SELECT
        COUNT(*) FILTER (WHERE returned_at IS NULL) AS active,
        COUNT(*) FILTER (WHERE returned_at IS NULL AND due_at < $2) AS overdue,
        COUNT(*) FILTER (WHERE returned_at IS NOT NULL) AS returned
        FROM loans WHERE student_id = $1`
	var stats models.LoanStats
	if err := r.db.GetContext(ctx, &stats, query, studentID, time.Now().UTC()); err != nil {
		return nil, fmt.Errorf("loan stats: %w", err)
	}
	return &stats, nil
}
