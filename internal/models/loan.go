package models

import "time"

// Loan records a book/student association. ReturnedAt is nil while the loan
// is active; once set it never changes.
type Loan struct {
	ID         string     `db:"id" json:"id"`
	StudentID  string     `db:"student_id" json:"student_id"`
	BookID     string     `db:"book_id" json:"book_id"`
	BorrowedAt time.Time  `db:"borrowed_at" json:"borrowed_at"`
	DueAt      time.Time  `db:"due_at" json:"due_at"`
	ReturnedAt *time.Time `db:"returned_at" json:"returned_at,omitempty"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time  `db:"updated_at" json:"updated_at"`
}

// IsActive reports whether the book is still out.
func (l *Loan) IsActive() bool {
	return l.ReturnedAt == nil
}

// IsOverdue reports whether an active loan has passed its due date. A
// returned loan is never overdue, regardless of when it came back.
func (l *Loan) IsOverdue() bool {
	return l.IsOverdueAt(time.Now().UTC())
}

// IsOverdueAt evaluates the overdue predicate at the given instant.
func (l *Loan) IsOverdueAt(now time.Time) bool {
	return l.ReturnedAt == nil && l.DueAt.Before(now)
}

// LoanDetail joins the loan with book and student context for list views.
type LoanDetail struct {
	Loan
	BookName    string `db:"book_name" json:"book_name"`
	BookAuthor  string `db:"book_author" json:"book_author"`
	StudentCode string `db:"student_code" json:"student_code"`
	StudentName string `db:"student_name" json:"student_name"`
}

// LoanFilter captures criteria for listing ledger entries.
type LoanFilter struct {
	StudentID string
	BookID    string
	Active    *bool
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}

// LoanStats summarises a student's ledger position.
type LoanStats struct {
	Active   int `db:"active" json:"active"`
	Overdue  int `db:"overdue" json:"overdue"`
	Returned int `db:"returned" json:"returned"`
}
