package models

// UserRole represents the closed set of roles known to the system.
type UserRole string

const (
	RoleRoot    UserRole = "ROOT"
	RoleAdmin   UserRole = "ADMIN"
	RoleStudent UserRole = "STUDENT"
)

// Valid reports whether the role is one of the known variants.
func (r UserRole) Valid() bool {
	switch r {
	case RoleRoot, RoleAdmin, RoleStudent:
		return true
	}
	return false
}

// Permission names a single guarded action.
type Permission string

const (
	PermBookRead     Permission = "book:read"
	PermBookWrite    Permission = "book:write"
	PermBookDelete   Permission = "book:delete"
	PermBookDownload Permission = "book:download"

	PermStudentRead   Permission = "student:read"
	PermStudentWrite  Permission = "student:write"
	PermStudentDelete Permission = "student:delete"

	PermLoanRead   Permission = "loan:read"
	PermLoanAssign Permission = "loan:assign"
	PermLoanReturn Permission = "loan:return"

	PermPortalUse Permission = "portal:use"
	PermExportRun Permission = "export:run"
)

var librarianPermissions = []Permission{
	PermBookRead, PermBookWrite, PermBookDelete, PermBookDownload,
	PermStudentRead, PermStudentWrite, PermStudentDelete,
	PermLoanRead, PermLoanAssign, PermLoanReturn,
	PermExportRun,
}

var studentPermissions = []Permission{
	PermBookRead, PermBookDownload, PermPortalUse,
}

// rolePermissions is the single authorization table. ROOT and ADMIN carry
// identical capability sets; they stay distinct rows so a root-only
// capability can be introduced without touching call sites.
var rolePermissions = map[UserRole]map[Permission]struct{}{
	RoleRoot:    permissionSet(librarianPermissions),
	RoleAdmin:   permissionSet(librarianPermissions),
	RoleStudent: permissionSet(studentPermissions),
}

func permissionSet(perms []Permission) map[Permission]struct{} {
	set := make(map[Permission]struct{}, len(perms))
	for _, p := range perms {
		set[p] = struct{}{}
	}
	return set
}

// Can reports whether the role is authorized for the given permission.
// Unknown roles are denied everything.
func (r UserRole) Can(p Permission) bool {
	set, ok := rolePermissions[r]
	if !ok {
		return false
	}
	_, ok = set[p]
	return ok
}
