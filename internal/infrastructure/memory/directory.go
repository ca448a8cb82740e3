package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/execution-hub/bizrules/internal/domain/directory"
)

// Directory implements directory.Directory
type Directory struct {
	mu          sync.RWMutex
	users       map[string]*directory.User
	departments map[string]*directory.Department
}

func NewDirectory() *Directory {
	return &Directory{
		users:       map[string]*directory.User{},
		departments: map[string]*directory.Department{},
	}
}

// PutUser inserts or replaces a user.
func (d *Directory) PutUser(u *directory.User) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.users[u.ID] = clone(u)
}

// PutDepartment inserts or replaces a department.
func (d *Directory) PutDepartment(dep *directory.Department) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.departments[dep.ID] = clone(dep)
}

func (d *Directory) GetUser(_ context.Context, userID string) (*directory.User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return clone(d.users[userID]), nil
}

func (d *Directory) GetDepartment(_ context.Context, departmentID string) (*directory.Department, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return clone(d.departments[departmentID]), nil
}

func (d *Directory) ListUsers(_ context.Context, filter directory.Filter) ([]*directory.User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []*directory.User
	for _, u := range d.users {
		if filter.Role != nil && u.Role != *filter.Role {
			continue
		}
		if filter.Active != nil && u.Active != *filter.Active {
			continue
		}
		out = append(out, clone(u))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
