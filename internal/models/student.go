package models

import "time"

// Student represents a library member, linked 1:1 to a User account.
type Student struct {
	ID        string    `db:"id" json:"id"`
	Code      string    `db:"code" json:"code"`
	UserID    string    `db:"user_id" json:"user_id"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// StudentDetail combines the student record with account info and loan counts.
type StudentDetail struct {
	Student
	Email         string `db:"email" json:"email"`
	FullName      string `db:"full_name" json:"full_name"`
	ActiveLoans   int    `db:"active_loans" json:"active_loans"`
	ReturnedLoans int    `db:"returned_loans" json:"returned_loans"`
}

// StudentFilter encapsulates allowed search parameters for listing students.
type StudentFilter struct {
	Search    string
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}
