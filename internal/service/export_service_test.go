package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/perpus-adp-api/internal/models"
	"github.com/noah-isme/perpus-adp-api/pkg/export"
	appErrors "github.com/noah-isme/perpus-adp-api/pkg/errors"
)

type mockExportLoans struct {
	loans      []models.LoanDetail
	lastFilter models.LoanFilter
}

func (m *mockExportLoans) List(ctx context.Context, filter models.LoanFilter) ([]models.LoanDetail, int, error) {
	m.lastFilter = filter
	return m.loans, len(m.loans), nil
}

func sampleLedger() []models.LoanDetail {
	now := time.Now().UTC()
	returned := now.Add(-24 * time.Hour)
	return []models.LoanDetail{
		{
			Loan:        models.Loan{ID: "loan-1", BorrowedAt: now.Add(-48 * time.Hour), DueAt: now.Add(-12 * time.Hour)},
			BookName:    "Overdue Book",
			BookAuthor:  "A",
			StudentCode: "S-001",
			StudentName: "Jane",
		},
		{
			Loan:        models.Loan{ID: "loan-2", BorrowedAt: now.Add(-72 * time.Hour), DueAt: now.Add(24 * time.Hour), ReturnedAt: &returned},
			BookName:    "Returned Book",
			BookAuthor:  "B",
			StudentCode: "S-002",
			StudentName: "John",
		},
	}
}

func TestExportServiceLoanLedgerCSV(t *testing.T) {
	loans := &mockExportLoans{loans: sampleLedger()}
	svc := NewExportService(loans, export.NewCSVExporter(), export.NewPDFExporter(), ExportConfig{Enabled: true, MaxRows: 100}, zap.NewNop())

	result, err := svc.LoanLedger(context.Background(), models.LoanFilter{}, "csv")
	require.NoError(t, err)
	assert.Equal(t, "text/csv", result.ContentType)
	assert.True(t, strings.HasSuffix(result.Filename, ".csv"))

	body := string(result.Content)
	assert.Contains(t, body, "Overdue Book")
	assert.Contains(t, body, "overdue")
	assert.Contains(t, body, "returned")
	assert.Equal(t, 100, loans.lastFilter.PageSize)
}

func TestExportServiceLoanLedgerPDF(t *testing.T) {
	loans := &mockExportLoans{loans: sampleLedger()}
	svc := NewExportService(loans, export.NewCSVExporter(), export.NewPDFExporter(), ExportConfig{Enabled: true}, zap.NewNop())

	result, err := svc.LoanLedger(context.Background(), models.LoanFilter{}, "pdf")
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", result.ContentType)
	assert.NotEmpty(t, result.Content)
}

func TestExportServiceDisabled(t *testing.T) {
	svc := NewExportService(&mockExportLoans{}, export.NewCSVExporter(), export.NewPDFExporter(), ExportConfig{Enabled: false}, zap.NewNop())

	_, err := svc.LoanLedger(context.Background(), models.LoanFilter{}, "csv")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestExportServiceUnsupportedFormat(t *testing.T) {
	svc := NewExportService(&mockExportLoans{}, export.NewCSVExporter(), export.NewPDFExporter(), ExportConfig{Enabled: true}, zap.NewNop())

	_, err := svc.LoanLedger(context.Background(), models.LoanFilter{}, "xlsx")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}
