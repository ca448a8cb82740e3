package directory

//go:generate go run go.uber.org/mock/mockgen -destination=mocks/mock_directory.go -package=mocks . Directory

import (
	"context"
)

// User is a person known to the directory service.
type User struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	Email        string  `json:"email,omitempty"`
	Role         string  `json:"role"`
	ManagerID    *string `json:"managerId,omitempty"`
	DepartmentID *string `json:"departmentId,omitempty"`
	Active       bool    `json:"active"`
}

// Department groups users under a manager.
type Department struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	ManagerID *string `json:"managerId,omitempty"`
}

// Filter controls user listing.
type Filter struct {
	Role   *string
	Active *bool
}

// Directory reads users and departments. Absent records are returned as nil, nil.
type Directory interface {
	GetUser(ctx context.Context, userID string) (*User, error)
	GetDepartment(ctx context.Context, departmentID string) (*Department, error)
	ListUsers(ctx context.Context, filter Filter) ([]*User, error)
}

// ActiveWithRole builds a filter for active users holding role.
func ActiveWithRole(role string) Filter {
	active := true
	return Filter{Role: &role, Active: &active}
}
