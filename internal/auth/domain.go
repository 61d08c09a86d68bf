package auth

import "time"

// User is an operator account able to log into the console.
type User struct {
	ID           int64
	Email        string
	Name         string
	PasswordHash string
	IsActive     bool
	RoleID       int64
	RoleName     string
	IsSuperAdmin bool
	CanEditPerms bool
	CreatedAt    time.Time
}
