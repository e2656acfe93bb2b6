package handler

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/perpus-adp-api/internal/models"
	"github.com/noah-isme/perpus-adp-api/internal/service"
	appErrors "github.com/noah-isme/perpus-adp-api/pkg/errors"
	"github.com/noah-isme/perpus-adp-api/pkg/response"
)

// BookHandler exposes catalog endpoints.
type BookHandler struct {
	books *service.BookService
}

// NewBookHandler constructs BookHandler.
func NewBookHandler(books *service.BookService) *BookHandler {
	return &BookHandler{books: books}
}

func bookFilterFromQuery(c *gin.Context) models.BookFilter {
	var filter models.BookFilter
	filter.Search = strings.TrimSpace(c.Query("search"))
	filter.Category = models.BookCategory(c.Query("category"))
	filter.Type = models.BookType(c.Query("type"))
	switch c.Query("available") {
	case "true":
		v := true
		filter.Available = &v
	case "false":
		v := false
		filter.Available = &v
	}
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("limit", "20")); err == nil {
		filter.PageSize = size
	}
	filter.SortBy = c.Query("sort")
	filter.SortOrder = c.Query("order")
	return filter
}

// List godoc
// @Summary List catalog entries
// @Tags Books
// @Produce json
// @Param search query string false "Search by name or author"
// @Param category query string false "Filter by category"
// @Param type query string false "Filter by type"
// @Param available query bool false "Filter by availability"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /books [get]
func (h *BookHandler) List(c *gin.Context) {
	books, pagination, err := h.books.List(c.Request.Context(), bookFilterFromQuery(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, books, pagination)
}

// Get godoc
// @Summary Get a catalog entry
// @Tags Books
// @Produce json
// @Param id path string true "Book ID"
// @Success 200 {object} response.Envelope
// @Router /books/{id} [get]
func (h *BookHandler) Get(c *gin.Context) {
	book, err := h.books.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, book, nil)
}

// Create godoc
// @Summary Register a catalog entry
// @Tags Books
// @Accept multipart/form-data
// @Produce json
// @Param name formData string true "Title"
// @Param author formData string true "Author"
// @Param year formData int true "Publication year"
// @Param category formData string true "Category"
// @Param type formData string true "physical or file"
// @Param file formData file false "Document for file-type entries"
// @Success 201 {object} response.Envelope
// @Router /books [post]
func (h *BookHandler) Create(c *gin.Context) {
	req, upload, err := bookPayloadFromForm(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	if upload != nil {
		defer upload.close()
	}

	book, err := h.books.Create(c.Request.Context(), req, upload.toService(), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, book)
}

// Update godoc
// @Summary Update a catalog entry
// @Tags Books
// @Accept multipart/form-data
// @Produce json
// @Param id path string true "Book ID"
// @Success 200 {object} response.Envelope
// @Router /books/{id} [put]
func (h *BookHandler) Update(c *gin.Context) {
	req, upload, err := bookPayloadFromForm(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	if upload != nil {
		defer upload.close()
	}

	update := service.UpdateBookRequest{
		Name:     req.Name,
		Author:   req.Author,
		Year:     req.Year,
		Category: req.Category,
		Type:     req.Type,
	}
	book, err := h.books.Update(c.Request.Context(), c.Param("id"), update, upload.toService(), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, book, nil)
}

// Delete godoc
// @Summary Delete a catalog entry
// @Tags Books
// @Param id path string true "Book ID"
// @Success 204
// @Router /books/{id} [delete]
func (h *BookHandler) Delete(c *gin.Context) {
	if err := h.books.Delete(c.Request.Context(), c.Param("id"), claimsFromContext(c)); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

type availabilityRequest struct {
	Available *bool `json:"available" binding:"required"`
}

// SetAvailability godoc
// @Summary Force-set a book's availability flag
// @Tags Books
// @Accept json
// @Produce json
// @Param id path string true "Book ID"
// @Param payload body availabilityRequest true "Availability"
// @Success 200 {object} response.Envelope
// @Router /books/{id}/availability [patch]
func (h *BookHandler) SetAvailability(c *gin.Context) {
	var req availabilityRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Available == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "available flag is required"))
		return
	}

	book, err := h.books.SetAvailability(c.Request.Context(), c.Param("id"), *req.Available, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, book, nil)
}

// DownloadURL godoc
// @Summary Issue a signed download token for a file-type entry
// @Tags Books
// @Produce json
// @Param id path string true "Book ID"
// @Success 200 {object} response.Envelope
// @Router /books/{id}/download [get]
func (h *BookHandler) DownloadURL(c *gin.Context) {
	token, expiresAt, err := h.books.GetDownloadURL(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{
		"url":        fmt.Sprintf("/files/%s", token),
		"expires_at": expiresAt,
	}, nil)
}

// DownloadFile godoc
// @Summary Stream a book file for a valid signed token
// @Tags Books
// @Produce application/octet-stream
// @Param token path string true "Signed token"
// @Success 200
// @Router /files/{token} [get]
func (h *BookHandler) DownloadFile(c *gin.Context) {
	download, err := h.books.Download(c.Request.Context(), c.Param("token"))
	if err != nil {
		response.Error(c, err)
		return
	}
	defer download.File.Close()

	info, err := download.File.Stat()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to stat file"))
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", download.Name))
	c.DataFromReader(http.StatusOK, info.Size(), "application/octet-stream", download.File, nil)
}

type formUpload struct {
	upload service.BookUpload
	closer func() error
}

func (u *formUpload) toService() *service.BookUpload {
	if u == nil {
		return nil
	}
	return &u.upload
}

func (u *formUpload) close() {
	if u != nil && u.closer != nil {
		_ = u.closer()
	}
}

func bookPayloadFromForm(c *gin.Context) (service.CreateBookRequest, *formUpload, error) {
	year, _ := strconv.Atoi(c.PostForm("year"))
	req := service.CreateBookRequest{
		Name:     c.PostForm("name"),
		Author:   c.PostForm("author"),
		Year:     year,
		Category: c.PostForm("category"),
		Type:     c.PostForm("type"),
	}
	switch c.PostForm("available") {
	case "true":
		v := true
		req.Available = &v
	case "false":
		v := false
		req.Available = &v
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		if err == http.ErrMissingFile {
			return req, nil, nil
		}
		// No multipart body at all is fine for physical entries.
		return req, nil, nil
	}

	src, err := fileHeader.Open()
	if err != nil {
		return req, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open upload")
	}

	return req, &formUpload{
		upload: service.BookUpload{Filename: fileHeader.Filename, Size: fileHeader.Size, Content: src},
		closer: src.Close,
	}, nil
}
