package shared

// Actor is the acting operator as seen by the authorization core: resolved
// once at login and carried read-only in the session. The flags mirror the
// operator's role at login time; the remote persistence layer re-validates
// permissions independently, so these gates exist for UX responsiveness,
// not as the security boundary.
type Actor struct {
	UserID             int64  `json:"user_id"`
	Email              string `json:"email"`
	RoleID             int64  `json:"role_id"`
	RoleName           string `json:"role_name"`
	IsSuperAdmin       bool   `json:"is_super_admin"`
	CanEditPermissions bool   `json:"can_edit_permissions"`
}
