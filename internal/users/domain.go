package users

import "time"

// User is a managed operator account as listed in the Users section of the
// console. Password material never leaves the repository layer.
type User struct {
	ID        int64
	Email     string
	Name      string
	RoleID    int64
	RoleName  string
	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// UpdateInput carries the editable account fields.
type UpdateInput struct {
	Email  string
	Name   string
	RoleID int64
}

// Gated action names registered with the verified-commit workflow.
const (
	ActionUpdate = "user.update"
	ActionDelete = "user.delete"
	ActionStatus = "user.status"
)
