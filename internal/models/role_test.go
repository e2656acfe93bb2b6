package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRootAndAdminShareCapabilities(t *testing.T) {
	perms := []Permission{
		PermBookRead, PermBookWrite, PermBookDelete, PermBookDownload,
		PermStudentRead, PermStudentWrite, PermStudentDelete,
		PermLoanRead, PermLoanAssign, PermLoanReturn, PermExportRun,
	}
	for _, p := range perms {
		assert.True(t, RoleRoot.Can(p), "root should hold %s", p)
		assert.True(t, RoleAdmin.Can(p), "admin should hold %s", p)
	}
}

func TestStudentIsLimitedToSelfService(t *testing.T) {
	assert.True(t, RoleStudent.Can(PermBookRead))
	assert.True(t, RoleStudent.Can(PermBookDownload))
	assert.True(t, RoleStudent.Can(PermPortalUse))

	assert.False(t, RoleStudent.Can(PermBookWrite))
	assert.False(t, RoleStudent.Can(PermBookDelete))
	assert.False(t, RoleStudent.Can(PermStudentRead))
	assert.False(t, RoleStudent.Can(PermStudentWrite))
	assert.False(t, RoleStudent.Can(PermStudentDelete))
	assert.False(t, RoleStudent.Can(PermLoanAssign))
	assert.False(t, RoleStudent.Can(PermLoanReturn))
	assert.False(t, RoleStudent.Can(PermExportRun))
}

func TestAdminsDoNotUsePortal(t *testing.T) {
	assert.False(t, RoleRoot.Can(PermPortalUse))
	assert.False(t, RoleAdmin.Can(PermPortalUse))
}

func TestUnknownRoleDeniedEverything(t *testing.T) {
	ghost := UserRole("GHOST")
	assert.False(t, ghost.Valid())
	assert.False(t, ghost.Can(PermBookRead))
	assert.False(t, ghost.Can(PermPortalUse))
}
