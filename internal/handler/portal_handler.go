package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/perpus-adp-api/internal/models"
	"github.com/noah-isme/perpus-adp-api/internal/service"
	appErrors "github.com/noah-isme/perpus-adp-api/pkg/errors"
	"github.com/noah-isme/perpus-adp-api/pkg/response"
)

// PortalHandler exposes the student self-service surface. Every route
// resolves the student identity from the access token, never from the URL.
type PortalHandler struct {
	portal *service.PortalService
	loans  *service.LoanService
}

// NewPortalHandler constructs PortalHandler.
func NewPortalHandler(portal *service.PortalService, loans *service.LoanService) *PortalHandler {
	return &PortalHandler{portal: portal, loans: loans}
}

func (h *PortalHandler) studentID(c *gin.Context) (string, bool) {
	claims := claimsFromContext(c)
	if claims == nil || claims.StudentID == nil || *claims.StudentID == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrForbidden, "no student profile linked to account"))
		return "", false
	}
	return *claims.StudentID, true
}

// Dashboard godoc
// @Summary Student dashboard
// @Tags Portal
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /portal/dashboard [get]
func (h *PortalHandler) Dashboard(c *gin.Context) {
	studentID, ok := h.studentID(c)
	if !ok {
		return
	}
	dashboard, err := h.portal.Dashboard(c.Request.Context(), studentID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dashboard, nil)
}

// Profile godoc
// @Summary Student profile
// @Tags Portal
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /portal/profile [get]
func (h *PortalHandler) Profile(c *gin.Context) {
	studentID, ok := h.studentID(c)
	if !ok {
		return
	}
	profile, err := h.portal.Profile(c.Request.Context(), studentID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, profile, nil)
}

// UpdateProfile godoc
// @Summary Update the student's own profile
// @Tags Portal
// @Accept json
// @Produce json
// @Param payload body service.UpdateProfileRequest true "Profile payload"
// @Success 200 {object} response.Envelope
// @Router /portal/profile [put]
func (h *PortalHandler) UpdateProfile(c *gin.Context) {
	studentID, ok := h.studentID(c)
	if !ok {
		return
	}
	var req service.UpdateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	profile, err := h.portal.UpdateProfile(c.Request.Context(), studentID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, profile, nil)
}

// Books godoc
// @Summary Browse the catalog
// @Tags Portal
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /portal/books [get]
func (h *PortalHandler) Books(c *gin.Context) {
	books, pagination, err := h.portal.Books(c.Request.Context(), bookFilterFromQuery(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, books, pagination)
}

func portalLoanFilter(c *gin.Context) models.LoanFilter {
	var filter models.LoanFilter
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

// ActiveLoans godoc
// @Summary The student's open loans
// @Tags Portal
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /portal/loans [get]
func (h *PortalHandler) ActiveLoans(c *gin.Context) {
	studentID, ok := h.studentID(c)
	if !ok {
		return
	}
	loans, pagination, err := h.portal.ActiveLoans(c.Request.Context(), studentID, portalLoanFilter(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, loans, pagination)
}

// History godoc
// @Summary The student's returned loans, newest return first
// @Tags Portal
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /portal/loans/history [get]
func (h *PortalHandler) History(c *gin.Context) {
	studentID, ok := h.studentID(c)
	if !ok {
		return
	}
	loans, pagination, err := h.portal.History(c.Request.Context(), studentID, portalLoanFilter(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, loans, pagination)
}

type borrowRequest struct {
	BookID string `json:"book_id" binding:"required"`
}

// Borrow godoc
// @Summary Borrow a book
// @Tags Portal
// @Accept json
// @Produce json
// @Param payload body borrowRequest true "Book to borrow"
// @Success 201 {object} response.Envelope
// @Router /portal/loans [post]
func (h *PortalHandler) Borrow(c *gin.Context) {
	studentID, ok := h.studentID(c)
	if !ok {
		return
	}
	var req borrowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	loan, err := h.loans.Request(c.Request.Context(), studentID, req.BookID, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, loan)
}

// Return godoc
// @Summary Return one of the student's own loans
// @Tags Portal
// @Produce json
// @Param id path string true "Loan ID"
// @Success 200 {object} response.Envelope
// @Router /portal/loans/{id}/return [post]
func (h *PortalHandler) Return(c *gin.Context) {
	studentID, ok := h.studentID(c)
	if !ok {
		return
	}
	loan, err := h.loans.Return(c.Request.Context(), c.Param("id"), &studentID, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, loan, nil)
}
