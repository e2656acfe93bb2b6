package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoanIsActive(t *testing.T) {
	loan := Loan{DueAt: time.Now().Add(24 * time.Hour)}
	assert.True(t, loan.IsActive())

	returned := time.Now()
	loan.ReturnedAt = &returned
	assert.False(t, loan.IsActive())
}

func TestLoanOverdueDerivation(t *testing.T) {
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

	active := Loan{DueAt: now.Add(-24 * time.Hour)}
	assert.True(t, active.IsOverdueAt(now))

	notDue := Loan{DueAt: now.Add(24 * time.Hour)}
	assert.False(t, notDue.IsOverdueAt(now))
}

func TestReturnedLoanIsNeverOverdue(t *testing.T) {
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	// Returned well after the due date: overdue is a live-state concept,
	// not a historical fault flag.
	lateReturn := now.Add(-time.Hour)
	loan := Loan{DueAt: now.Add(-72 * time.Hour), ReturnedAt: &lateReturn}

	assert.False(t, loan.IsOverdueAt(now))
	assert.False(t, loan.IsOverdueAt(now.Add(365*24*time.Hour)))
}
