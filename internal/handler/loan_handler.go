package handler

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/perpus-adp-api/internal/models"
	"github.com/noah-isme/perpus-adp-api/internal/service"
	"github.com/noah-isme/perpus-adp-api/pkg/response"
)

// LoanHandler exposes ledger-wide endpoints.
type LoanHandler struct {
	loans   *service.LoanService
	exports *service.ExportService
}

// NewLoanHandler constructs LoanHandler.
func NewLoanHandler(loans *service.LoanService, exports *service.ExportService) *LoanHandler {
	return &LoanHandler{loans: loans, exports: exports}
}

func loanFilterFromQuery(c *gin.Context) models.LoanFilter {
	var filter models.LoanFilter
	filter.StudentID = c.Query("studentId")
	filter.BookID = c.Query("bookId")
	switch c.Query("active") {
	case "true":
		v := true
		filter.Active = &v
	case "false":
		v := false
		filter.Active = &v
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
// @Summary List loans across students
// @Tags Loans
// @Produce json
// @Param studentId query string false "Filter by student"
// @Param bookId query string false "Filter by book"
// @Param active query bool false "Filter by open state"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /loans [get]
func (h *LoanHandler) List(c *gin.Context) {
	loans, pagination, err := h.loans.List(c.Request.Context(), loanFilterFromQuery(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, loans, pagination)
}

// Get godoc
// @Summary Get a single loan
// @Tags Loans
// @Produce json
// @Param id path string true "Loan ID"
// @Success 200 {object} response.Envelope
// @Router /loans/{id} [get]
func (h *LoanHandler) Get(c *gin.Context) {
	loan, err := h.loans.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, loan, nil)
}

// Return godoc
// @Summary Close any loan (librarian)
// @Tags Loans
// @Produce json
// @Param id path string true "Loan ID"
// @Success 200 {object} response.Envelope
// @Router /loans/{id}/return [post]
func (h *LoanHandler) Return(c *gin.Context) {
	loan, err := h.loans.Return(c.Request.Context(), c.Param("id"), nil, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, loan, nil)
}

// Export godoc
// @Summary Export the loan ledger
// @Tags Loans
// @Produce text/csv
// @Param format query string false "csv or pdf"
// @Success 200
// @Router /loans/export [get]
func (h *LoanHandler) Export(c *gin.Context) {
	result, err := h.exports.LoanLedger(c.Request.Context(), loanFilterFromQuery(c), c.DefaultQuery("format", "csv"))
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.Filename))
	c.Data(http.StatusOK, result.ContentType, result.Content)
}
