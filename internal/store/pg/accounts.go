package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"hmsauth.org/internal/auth"
	"hmsauth.org/internal/ids"
)

const accountColumns = `id, email, first_name, last_name, password_hash, roles, enabled, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *Store) Create(ctx context.Context, a *auth.Account) error {
	if a.ID == "" {
		a.ID = ids.New()
	}
	a.Email = strings.ToLower(strings.TrimSpace(a.Email))
	a.Roles = a.Roles.WithBase()
	roles, err := encodeRoles(a.Roles)
	if err != nil {
		return err
	}
	row := s.db.QueryRowContext(ctx, `
		insert into accounts (id, email, first_name, last_name, password_hash, roles, enabled)
		values ($1, $2, $3, $4, $5, $6, $7)
		returning created_at, updated_at
	`, a.ID, a.Email, a.FirstName, a.LastName, a.PasswordHash, roles, a.Enabled)
	if err := row.Scan(&a.CreatedAt, &a.UpdatedAt); err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return auth.ErrDuplicateAccount
		}
		return err
	}
	return nil
}

func (s *Store) FindByEmail(ctx context.Context, email string) (*auth.Account, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+accountColumns+` from accounts where email=$1`,
		strings.ToLower(strings.TrimSpace(email)))
	return scanAccount(row)
}

func (s *Store) FindByID(ctx context.Context, id string) (*auth.Account, error) {
	row := s.db.QueryRowContext(ctx, `select `+accountColumns+` from accounts where id=$1`, id)
	return scanAccount(row)
}

func (s *Store) List(ctx context.Context) ([]*auth.Account, error) {
	rows, err := s.db.QueryContext(ctx, `select `+accountColumns+` from accounts order by created_at asc, id asc`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []*auth.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

func (s *Store) SetRoles(ctx context.Context, id string, roles auth.RoleSet) (*auth.Account, error) {
	encoded, err := encodeRoles(roles.WithBase())
	if err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx, `
		update accounts set roles=$2, updated_at=now()
		where id=$1
		returning `+accountColumns, id, encoded)
	return scanAccount(row)
}

func (s *Store) SetEnabled(ctx context.Context, id string, enabled bool) (*auth.Account, error) {
	row := s.db.QueryRowContext(ctx, `
		update accounts set enabled=$2, updated_at=now()
		where id=$1
		returning `+accountColumns, id, enabled)
	return scanAccount(row)
}

func scanAccount(row rowScanner) (*auth.Account, error) {
	var (
		a     auth.Account
		roles []byte
	)
	err := row.Scan(&a.ID, &a.Email, &a.FirstName, &a.LastName, &a.PasswordHash, &roles, &a.Enabled, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, auth.ErrNotFound
		}
		return nil, err
	}
	set, err := decodeRoles(roles)
	if err != nil {
		return nil, err
	}
	a.Roles = set
	return &a, nil
}

func encodeRoles(set auth.RoleSet) ([]byte, error) {
	b, err := json.Marshal(set.Strings())
	if err != nil {
		return nil, fmt.Errorf("encode roles: %w", err)
	}
	return b, nil
}

func decodeRoles(raw []byte) (auth.RoleSet, error) {
	var names []string
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &names); err != nil {
			return nil, fmt.Errorf("decode roles: %w", err)
		}
	}
	set, err := auth.ParseRoles(names)
	if err != nil {
		return nil, err
	}
	return set.WithBase(), nil
}
