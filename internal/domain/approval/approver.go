package approval

import (
	"context"
	"fmt"

	"github.com/execution-hub/bizrules/internal/domain/directory"
)

// ApproverType selects how eligibility at a level is decided.
type ApproverType string

const (
	ApproverRole           ApproverType = "role"
	ApproverUser           ApproverType = "user"
	ApproverManager        ApproverType = "manager"
	ApproverDepartmentHead ApproverType = "department_head"
)

// ApproverConfig is one level of an approval chain.
type ApproverConfig struct {
	Type  ApproverType `json:"type"`
	Value string       `json:"value,omitempty"`
	Level int          `json:"level"`
}

// Role returns a role approver for level.
func Role(role string, level int) ApproverConfig {
	return ApproverConfig{Type: ApproverRole, Value: role, Level: level}
}

// User returns a fixed-user approver for level.
func User(userID string, level int) ApproverConfig {
	return ApproverConfig{Type: ApproverUser, Value: userID, Level: level}
}

// Manager returns a requester's-manager approver for level.
func Manager(level int) ApproverConfig {
	return ApproverConfig{Type: ApproverManager, Level: level}
}

// DepartmentHead returns a requester's-department-head approver for level.
func DepartmentHead(level int) ApproverConfig {
	return ApproverConfig{Type: ApproverDepartmentHead, Level: level}
}

// Rule resolves the eligibility rule for the config. Unknown types report false.
func (c ApproverConfig) Rule() (Rule, bool) {
	switch c.Type {
	case ApproverRole:
		return RoleRule{Role: c.Value}, c.Value != ""
	case ApproverUser:
		return UserRule{UserID: c.Value}, c.Value != ""
	case ApproverManager:
		return ManagerRule{}, true
	case ApproverDepartmentHead:
		return DepartmentHeadRule{}, true
	default:
		return nil, false
	}
}

// Eligible reports whether candidate may decide at this level. Unknown approver
// types are never eligible.
func (c ApproverConfig) Eligible(ctx context.Context, dir directory.Directory, candidate *directory.User, requesterID string) (bool, error) {
	rule, ok := c.Rule()
	if !ok || candidate == nil {
		return false, nil
	}
	return rule.Eligible(ctx, dir, candidate, requesterID)
}

// Recipients lists the users who should be told a decision is pending at this level.
func (c ApproverConfig) Recipients(ctx context.Context, dir directory.Directory, requesterID string) ([]string, error) {
	rule, ok := c.Rule()
	if !ok {
		return nil, nil
	}
	return rule.Recipients(ctx, dir, requesterID)
}

// Rule is the closed set of approver eligibility rules.
type Rule interface {
	Eligible(ctx context.Context, dir directory.Directory, candidate *directory.User, requesterID string) (bool, error)
	Recipients(ctx context.Context, dir directory.Directory, requesterID string) ([]string, error)
	rule()
}

// RoleRule matches any user whose role equals Role.
type RoleRule struct{ Role string }

// UserRule matches exactly one user.
type UserRule struct{ UserID string }

// ManagerRule matches the requester's manager.
type ManagerRule struct{}

// DepartmentHeadRule matches the manager of the requester's department.
type DepartmentHeadRule struct{}

func (RoleRule) rule()           {}
func (UserRule) rule()           {}
func (ManagerRule) rule()        {}
func (DepartmentHeadRule) rule() {}

func (r RoleRule) Eligible(_ context.Context, _ directory.Directory, candidate *directory.User, _ string) (bool, error) {
	return candidate.Role == r.Role, nil
}

func (r RoleRule) Recipients(ctx context.Context, dir directory.Directory, _ string) ([]string, error) {
	users, err := dir.ListUsers(ctx, directory.ActiveWithRole(r.Role))
	if err != nil {
		return nil, fmt.Errorf("list users with role %s: %w", r.Role, err)
	}
	ids := make([]string, 0, len(users))
	for _, u := range users {
		ids = append(ids, u.ID)
	}
	return ids, nil
}

func (r UserRule) Eligible(_ context.Context, _ directory.Directory, candidate *directory.User, _ string) (bool, error) {
	return candidate.ID == r.UserID, nil
}

func (r UserRule) Recipients(context.Context, directory.Directory, string) ([]string, error) {
	return []string{r.UserID}, nil
}

func (ManagerRule) Eligible(ctx context.Context, dir directory.Directory, candidate *directory.User, requesterID string) (bool, error) {
	managerID, err := managerOf(ctx, dir, requesterID)
	if err != nil || managerID == "" {
		return false, err
	}
	return candidate.ID == managerID, nil
}

func (ManagerRule) Recipients(ctx context.Context, dir directory.Directory, requesterID string) ([]string, error) {
	managerID, err := managerOf(ctx, dir, requesterID)
	if err != nil || managerID == "" {
		return nil, err
	}
	return []string{managerID}, nil
}

func (DepartmentHeadRule) Eligible(ctx context.Context, dir directory.Directory, candidate *directory.User, requesterID string) (bool, error) {
	headID, err := departmentHeadOf(ctx, dir, requesterID)
	if err != nil || headID == "" {
		return false, err
	}
	return candidate.ID == headID, nil
}

func (DepartmentHeadRule) Recipients(ctx context.Context, dir directory.Directory, requesterID string) ([]string, error) {
	headID, err := departmentHeadOf(ctx, dir, requesterID)
	if err != nil || headID == "" {
		return nil, err
	}
	return []string{headID}, nil
}

func managerOf(ctx context.Context, dir directory.Directory, userID string) (string, error) {
	u, err := dir.GetUser(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("get requester: %w", err)
	}
	if u == nil || u.ManagerID == nil {
		return "", nil
	}
	return *u.ManagerID, nil
}

func departmentHeadOf(ctx context.Context, dir directory.Directory, userID string) (string, error) {
	u, err := dir.GetUser(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("get requester: %w", err)
	}
	if u == nil || u.DepartmentID == nil {
		return "", nil
	}
	d, err := dir.GetDepartment(ctx, *u.DepartmentID)
	if err != nil {
		return "", fmt.Errorf("get department: %w", err)
	}
	if d == nil || d.ManagerID == nil {
		return "", nil
	}
	return *d.ManagerID, nil
}
