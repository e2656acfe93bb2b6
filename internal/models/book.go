package models

import "time"

// BookType distinguishes shelf copies from digital files.
type BookType string

const (
	BookTypePhysical BookType = "physical"
	BookTypeFile     BookType = "file"
)

// Valid reports whether the type is a known variant.
func (t BookType) Valid() bool {
	return t == BookTypePhysical || t == BookTypeFile
}

// BookCategory classifies catalog entries.
type BookCategory string

const (
	CategoryBook             BookCategory = "book"
	CategoryTestCorrection   BookCategory = "test_correction"
	CategoryCourseMaterial   BookCategory = "course_material"
	CategoryInternshipReport BookCategory = "internship_report"
)

// BookCategories lists every known category.
var BookCategories = []BookCategory{
	CategoryBook,
	CategoryTestCorrection,
	CategoryCourseMaterial,
	CategoryInternshipReport,
}

// Valid reports whether the category is a known variant.
func (c BookCategory) Valid() bool {
	for _, known := range BookCategories {
		if c == known {
			return true
		}
	}
	return false
}

// Label returns the human-readable category name.
func (c BookCategory) Label() string {
	switch c {
	case CategoryBook:
		return "Book"
	case CategoryTestCorrection:
		return "Test/Correction"
	case CategoryCourseMaterial:
		return "Course Material"
	case CategoryInternshipReport:
		return "Internship Report"
	}
	return string(c)
}

// Book represents a catalog entry. FilePath is set only for file-type books.
// Available is written exclusively by the loan ledger (plus the explicit
// admin override); catalog edits never touch it.
type Book struct {
	ID        string       `db:"id" json:"id"`
	Name      string       `db:"name" json:"name"`
	Author    string       `db:"author" json:"author"`
	Year      int          `db:"year" json:"year"`
	Category  BookCategory `db:"category" json:"category"`
	Type      BookType     `db:"type" json:"type"`
	FilePath  *string      `db:"file_path" json:"file_path,omitempty"`
	Available bool         `db:"available" json:"available"`
	CreatedAt time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt time.Time    `db:"updated_at" json:"updated_at"`
}

// HasFile reports whether the book carries a downloadable file.
func (b *Book) HasFile() bool {
	return b.Type == BookTypeFile && b.FilePath != nil && *b.FilePath != ""
}

// BookFilter captures filtering criteria for listing books.
type BookFilter struct {
	Search    string
	Category  BookCategory
	Type      BookType
	Available *bool
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}
