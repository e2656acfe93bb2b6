package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/perpus-adp-api/internal/models"
	appErrors "github.com/noah-isme/perpus-adp-api/pkg/errors"
)

type bookRepository interface {
	List(ctx context.Context, filter models.BookFilter) ([]models.Book, int, error)
	FindByID(ctx context.Context, id string) (*models.Book, error)
	Create(ctx context.Context, book *models.Book) error
	Update(ctx context.Context, book *models.Book) error
	SetAvailability(ctx context.Context, id string, available bool) error
	HasActiveLoan(ctx context.Context, bookID string) (bool, error)
	Delete(ctx context.Context, id string) error
}

type bookFileStorage interface {
	SaveStream(filename string, r io.Reader) (string, error)
	Open(filename string) (*os.File, error)
	Delete(filename string) error
}

type bookSignedURLSigner interface {
	Generate(bookID, relPath string) (string, time.Time, error)
	Parse(token string) (bookID, relPath string, expiresAt time.Time, err error)
}

type auditLogger interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// CreateBookRequest holds payload for registering a catalog entry. Available
// defaults to true when not supplied.
type CreateBookRequest struct {
	Name      string `json:"name" validate:"required,max=255"`
	Author    string `json:"author" validate:"required,max=255"`
	Year      int    `json:"year" validate:"required"`
	Category  string `json:"category" validate:"required"`
	Type      string `json:"type" validate:"required"`
	Available *bool  `json:"available"`
}

// UpdateBookRequest holds payload for updating a catalog entry.
type UpdateBookRequest struct {
	Name     string `json:"name" validate:"required,max=255"`
	Author   string `json:"author" validate:"required,max=255"`
	Year     int    `json:"year" validate:"required"`
	Category string `json:"category" validate:"required"`
	Type     string `json:"type" validate:"required"`
}

// BookUpload carries the file artifact stream for file-type entries.
type BookUpload struct {
	Filename string
	Size     int64
	Content  io.Reader
}

// BookDownload wraps an open artifact ready for streaming.
type BookDownload struct {
	Book *models.Book
	File *os.File
	Name string
}

// BookServiceConfig tunes upload validation and download token issuance.
type BookServiceConfig struct {
	MaxFileSizeBytes  int64
	AllowedExtensions []string
}

// BookService implements catalog use cases.
type BookService struct {
	repo      bookRepository
	storage   bookFileStorage
	signer    bookSignedURLSigner
	audit     auditLogger
	cache     *CacheService
	validator *validator.Validate
	logger    *zap.Logger
	config    BookServiceConfig
}

// NewBookService constructs the catalog service.
func NewBookService(repo bookRepository, storage bookFileStorage, signer bookSignedURLSigner, audit auditLogger, cache *CacheService, validate *validator.Validate, logger *zap.Logger, cfg BookServiceConfig) *BookService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BookService{repo: repo, storage: storage, signer: signer, audit: audit, cache: cache, validator: validate, logger: logger, config: cfg}
}

// List returns catalog entries and pagination metadata.
func (s *BookService) List(ctx context.Context, filter models.BookFilter) ([]models.Book, *models.Pagination, error) {
	books, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list books")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	return books, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// Get returns a single catalog entry.
func (s *BookService) Get(ctx context.Context, id string) (*models.Book, error) {
	book, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "book not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load book")
	}
	return book, nil
}

// Create registers a new catalog entry. File-type entries require an upload;
// physical entries must not carry one. New entries start available unless the
// request says otherwise.
func (s *BookService) Create(ctx context.Context, req CreateBookRequest, upload *BookUpload, actor *models.JWTClaims) (*models.Book, error) {
	if err := s.validateRequest(req.Name, req.Author, req.Year, req.Category, req.Type); err != nil {
		return nil, err
	}

	bookType := models.BookType(req.Type)
	var filePath *string
	if bookType == models.BookTypeFile {
		if upload == nil || upload.Content == nil {
			return nil, appErrors.Clone(appErrors.ErrValidation, "file-type books require an uploaded file")
		}
		path, err := s.storeUpload(*upload)
		if err != nil {
			return nil, err
		}
		filePath = &path
	} else if upload != nil && upload.Content != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "physical books cannot carry a file")
	}

	available := true
	if req.Available != nil {
		available = *req.Available
	}
	book := &models.Book{
		Name:      strings.TrimSpace(req.Name),
		Author:    strings.TrimSpace(req.Author),
		Year:      req.Year,
		Category:  models.BookCategory(req.Category),
		Type:      bookType,
		FilePath:  filePath,
		Available: available,
	}
	if err := s.repo.Create(ctx, book); err != nil {
		if filePath != nil {
			_ = s.storage.Delete(*filePath)
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create book")
	}

	s.emitAudit(ctx, actor, models.AuditActionBookCreate, book.ID, fmt.Sprintf(`{"name":%q}`, book.Name))
	s.invalidateCatalogCaches(ctx)
	return book, nil
}

// Update modifies a catalog entry. Switching a file-type entry to physical
// removes the stored artifact; a new upload replaces the old one. The
// availability flag is untouched, it belongs to the loan ledger.
func (s *BookService) Update(ctx context.Context, id string, req UpdateBookRequest, upload *BookUpload, actor *models.JWTClaims) (*models.Book, error) {
	if err := s.validateRequest(req.Name, req.Author, req.Year, req.Category, req.Type); err != nil {
		return nil, err
	}

	book, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	newType := models.BookType(req.Type)
	oldPath := ""
	if book.FilePath != nil {
		oldPath = *book.FilePath
	}

	switch {
	case newType == models.BookTypePhysical:
		if upload != nil && upload.Content != nil {
			return nil, appErrors.Clone(appErrors.ErrValidation, "physical books cannot carry a file")
		}
		book.FilePath = nil
	case upload != nil && upload.Content != nil:
		path, err := s.storeUpload(*upload)
		if err != nil {
			return nil, err
		}
		book.FilePath = &path
	case oldPath == "":
		return nil, appErrors.Clone(appErrors.ErrValidation, "file-type books require an uploaded file")
	}

	book.Name = strings.TrimSpace(req.Name)
	book.Author = strings.TrimSpace(req.Author)
	book.Year = req.Year
	book.Category = models.BookCategory(req.Category)
	book.Type = newType

	if err := s.repo.Update(ctx, book); err != nil {
		if book.FilePath != nil && *book.FilePath != oldPath {
			_ = s.storage.Delete(*book.FilePath)
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update book")
	}

	// Drop the superseded artifact only after the row change stuck.
	if oldPath != "" && (book.FilePath == nil || *book.FilePath != oldPath) {
		if err := s.storage.Delete(oldPath); err != nil {
			s.logger.Warn("failed to remove replaced book file", zap.String("path", oldPath), zap.Error(err))
		}
	}

	s.emitAudit(ctx, actor, models.AuditActionBookUpdate, book.ID, fmt.Sprintf(`{"name":%q}`, book.Name))
	s.invalidateCatalogCaches(ctx)
	return book, nil
}

// Delete removes a catalog entry unless an unreturned loan references it.
func (s *BookService) Delete(ctx context.Context, id string, actor *models.JWTClaims) error {
	book, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	active, err := s.repo.HasActiveLoan(ctx, id)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check active loans")
	}
	if active {
		return appErrors.Clone(appErrors.ErrActiveLoans, "book has an active loan and cannot be deleted")
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "book not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete book")
	}

	if book.FilePath != nil {
		if err := s.storage.Delete(*book.FilePath); err != nil {
			s.logger.Warn("failed to remove book file", zap.String("path", *book.FilePath), zap.Error(err))
		}
	}

	s.emitAudit(ctx, actor, models.AuditActionBookDelete, id, `{"status":"deleted"}`)
	s.invalidateCatalogCaches(ctx)
	return nil
}

// SetAvailability force-sets the flag outside the ledger, for lost or
// damaged copies.
func (s *BookService) SetAvailability(ctx context.Context, id string, available bool, actor *models.JWTClaims) (*models.Book, error) {
	if err := s.repo.SetAvailability(ctx, id, available); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "book not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to set availability")
	}

	s.emitAudit(ctx, actor, models.AuditActionBookUpdate, id, fmt.Sprintf(`{"available":%t}`, available))
	s.invalidateCatalogCaches(ctx)
	return s.Get(ctx, id)
}

// GetDownloadURL issues a short-lived signed token for a file-type entry.
func (s *BookService) GetDownloadURL(ctx context.Context, id string) (string, time.Time, error) {
	book, err := s.Get(ctx, id)
	if err != nil {
		return "", time.Time{}, err
	}
	if !book.HasFile() {
		return "", time.Time{}, appErrors.Clone(appErrors.ErrValidation, "book has no downloadable file")
	}
	token, expiresAt, err := s.signer.Generate(book.ID, *book.FilePath)
	if err != nil {
		return "", time.Time{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign download token")
	}
	return token, expiresAt, nil
}

// Download validates a signed token and opens the artifact for streaming.
// The caller owns the returned file handle.
func (s *BookService) Download(ctx context.Context, token string) (*BookDownload, error) {
	bookID, relPath, _, err := s.signer.Parse(token)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrUnauthorized.Code, appErrors.ErrUnauthorized.Status, "invalid download token")
	}

	book, err := s.Get(ctx, bookID)
	if err != nil {
		return nil, err
	}
	if !book.HasFile() || *book.FilePath != relPath {
		// The artifact was replaced after the token was issued.
		return nil, appErrors.Clone(appErrors.ErrNotFound, "file no longer available")
	}

	file, err := s.storage.Open(relPath)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrNotFound.Code, appErrors.ErrNotFound.Status, "file not found")
	}

	name := fmt.Sprintf("%s%s", sanitizeFilename(book.Name), filepath.Ext(relPath))
	return &BookDownload{Book: book, File: file, Name: name}, nil
}

func (s *BookService) validateRequest(name, author string, year int, category, bookType string) error {
	req := CreateBookRequest{Name: name, Author: author, Year: year, Category: category, Type: bookType}
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid book payload")
	}
	if !models.BookCategory(category).Valid() {
		return appErrors.Clone(appErrors.ErrValidation, "unknown book category")
	}
	if !models.BookType(bookType).Valid() {
		return appErrors.Clone(appErrors.ErrValidation, "unknown book type")
	}
	currentYear := time.Now().UTC().Year()
	if year < 1000 || year > currentYear {
		return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("year must be between 1000 and %d", currentYear))
	}
	return nil
}

func (s *BookService) storeUpload(upload BookUpload) (string, error) {
	if s.config.MaxFileSizeBytes > 0 && upload.Size > s.config.MaxFileSizeBytes {
		return "", appErrors.Clone(appErrors.ErrValidation, "file exceeds maximum allowed size")
	}
	ext := strings.ToLower(filepath.Ext(upload.Filename))
	if !s.extensionAllowed(ext) {
		return "", appErrors.Clone(appErrors.ErrValidation, "file extension is not allowed")
	}
	filename := filepath.Join("books", uuid.NewString()+ext)
	path, err := s.storage.SaveStream(filename, upload.Content)
	if err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store file")
	}
	return path, nil
}

func (s *BookService) extensionAllowed(ext string) bool {
	if ext == "" {
		return false
	}
	for _, allowed := range s.config.AllowedExtensions {
		if strings.EqualFold(allowed, ext) {
			return true
		}
	}
	return false
}

func (s *BookService) invalidateCatalogCaches(ctx context.Context) {
	_ = s.cache.Invalidate(ctx, "catalog:*")
	_ = s.cache.Invalidate(ctx, "portal:*")
}

func (s *BookService) emitAudit(ctx context.Context, actor *models.JWTClaims, action, resourceID, payload string) {
	if s.audit == nil {
		return
	}
	log := &models.AuditLog{
		Action:     action,
		Resource:   "book",
		ResourceID: &resourceID,
		NewValues:  []byte(payload),
	}
	if actor != nil {
		log.UserID = &actor.UserID
	}
	if err := s.audit.CreateAuditLog(ctx, log); err != nil {
		s.logger.Warn("failed to record book audit log", zap.Error(err))
	}
}

func sanitizeFilename(raw string) string {
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == ' ', r == '-', r == '_':
			return '-'
		}
		return -1
	}, raw)
	cleaned = strings.Trim(cleaned, "-")
	if cleaned == "" {
		return "download"
	}
	return cleaned
}
