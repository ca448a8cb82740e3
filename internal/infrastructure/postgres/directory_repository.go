package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/execution-hub/bizrules/internal/domain/directory"
)

// DirectoryRepository implements directory.Directory over the users and departments tables.
type DirectoryRepository struct {
	pool *pgxpool.Pool
}

func NewDirectoryRepository(pool *pgxpool.Pool) *DirectoryRepository {
	return &DirectoryRepository{pool: pool}
}

func (r *DirectoryRepository) CreateUser(ctx context.Context, u *directory.User) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO users (id, name, email, role, manager_id, department_id, active)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, u.ID, u.Name, u.Email, u.Role, u.ManagerID, u.DepartmentID, u.Active)
	return err
}

func (r *DirectoryRepository) CreateDepartment(ctx context.Context, d *directory.Department) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO departments (id, name, manager_id) VALUES ($1,$2,$3)`, d.ID, d.Name, d.ManagerID)
	return err
}

func (r *DirectoryRepository) GetUser(ctx context.Context, userID string) (*directory.User, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, email, role, manager_id, department_id, active FROM users WHERE id=$1
	`, userID)
	u, err := scanUser(row)
	if isNoRows(err) {
		return nil, nil
	}
	return u, err
}

func (r *DirectoryRepository) GetDepartment(ctx context.Context, departmentID string) (*directory.Department, error) {
	var d directory.Department
	err := r.pool.QueryRow(ctx, `SELECT id, name, manager_id FROM departments WHERE id=$1`, departmentID).
		Scan(&d.ID, &d.Name, &d.ManagerID)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, err
	}
	return &d, nil
}

func (r *DirectoryRepository) ListUsers(ctx context.Context, filter directory.Filter) ([]*directory.User, error) {
	query := `SELECT id, name, email, role, manager_id, department_id, active FROM users`
	args := []interface{}{}
	idx := 1
	if filter.Role != nil {
		query += " WHERE role=$" + itoa(idx)
		args = append(args, *filter.Role)
		idx++
	}
	if filter.Active != nil {
		query += addWhere(query) + " active=$" + itoa(idx)
		args = append(args, *filter.Active)
	}
	query += " ORDER BY id ASC"

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var users []*directory.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func scanUser(row pgx.Row) (*directory.User, error) {
	var u directory.User
	if err := row.Scan(&u.ID, &u.Name, &u.Email, &u.Role, &u.ManagerID, &u.DepartmentID, &u.Active); err != nil {
		return nil, err
	}
	return &u, nil
}
