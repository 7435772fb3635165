package auth

import (
	"context"
	"errors"
	"fmt"
)

// Administrative actions recorded in auth.admin events.
const (
	ActionAssignRoles = "assign_roles"
	ActionAddRole     = "add_role"
	ActionRemoveRole  = "remove_role"
	ActionEnable      = "enable"
	ActionDisable     = "disable"
	ActionBootstrap   = "bootstrap"
)

// BootstrapAccount describes the super administrator created at startup.
type BootstrapAccount struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
}

func (s *Service) GetAccount(ctx context.Context, id string) (AccountView, error) {
	sctx, cancel := s.storeContext(ctx)
	defer cancel()
	account, err := s.accounts.FindByID(sctx, id)
	if err != nil {
		return AccountView{}, err
	}
	return account.View(), nil
}

func (s *Service) GetAccountByEmail(ctx context.Context, email string) (AccountView, error) {
	sctx, cancel := s.storeContext(ctx)
	defer cancel()
	account, err := s.accounts.FindByEmail(sctx, normalizeEmail(email))
	if err != nil {
		return AccountView{}, err
	}
	return account.View(), nil
}

func (s *Service) ListAccounts(ctx context.Context) ([]AccountView, error) {
	sctx, cancel := s.storeContext(ctx)
	defer cancel()
	accounts, err := s.accounts.List(sctx)
	if err != nil {
		return nil, err
	}
	res := make([]AccountView, 0, len(accounts))
	for _, a := range accounts {
		res = append(res, a.View())
	}
	return res, nil
}

// ListRoles returns every role the system recognizes.
func (s *Service) ListRoles() []Role {
	out := make([]Role, len(AllRoles))
	copy(out, AllRoles)
	return out
}

// AssignRoles replaces the account's roles. USER is always retained.
func (s *Service) AssignRoles(ctx context.Context, id string, roles []string) (AccountView, error) {
	set, err := ParseRoles(roles)
	if err != nil {
		return AccountView{}, err
	}
	return s.setRoles(ctx, id, set.WithBase(), ActionAssignRoles)
}

// AddRole grants a single role.
func (s *Service) AddRole(ctx context.Context, id, role string) (AccountView, error) {
	r, err := ParseRole(role)
	if err != nil {
		return AccountView{}, err
	}
	account, err := s.findByID(ctx, id)
	if err != nil {
		return AccountView{}, err
	}
	set := account.Roles.WithBase()
	set[r] = struct{}{}
	return s.setRoles(ctx, id, set, ActionAddRole)
}

// RemoveRole revokes a single role. USER cannot be removed.
func (s *Service) RemoveRole(ctx context.Context, id, role string) (AccountView, error) {
	r, err := ParseRole(role)
	if err != nil {
		return AccountView{}, err
	}
	if r == RoleUser {
		return AccountView{}, ErrBaseRoleRequired
	}
	account, err := s.findByID(ctx, id)
	if err != nil {
		return AccountView{}, err
	}
	set := account.Roles.WithBase()
	delete(set, r)
	return s.setRoles(ctx, id, set, ActionRemoveRole)
}

// EnableAccount allows the account to log in again.
func (s *Service) EnableAccount(ctx context.Context, id string) (AccountView, error) {
	sctx, cancel := s.storeContext(ctx)
	account, err := s.accounts.SetEnabled(sctx, id, true)
	cancel()
	if err != nil {
		return AccountView{}, err
	}
	s.admin(ctx, ActionEnable, account, nil)
	return account.View(), nil
}

// DisableAccount blocks logins and revokes the account's refresh tokens.
func (s *Service) DisableAccount(ctx context.Context, id string) (AccountView, error) {
	sctx, cancel := s.storeContext(ctx)
	account, err := s.accounts.SetEnabled(sctx, id, false)
	cancel()
	if err != nil {
		return AccountView{}, err
	}
	revoked, err := s.ledger.RevokeAll(ctx, account.ID)
	if err != nil {
		return AccountView{}, err
	}
	s.admin(ctx, ActionDisable, account, map[string]any{"revoked": revoked})
	return account.View(), nil
}

// EnsureSuperAdmin makes sure an enabled account with every role exists for
// b.Email. It reports whether the account had to be created.
func (s *Service) EnsureSuperAdmin(ctx context.Context, b BootstrapAccount) (AccountView, bool, error) {
	email := normalizeEmail(b.Email)
	if err := validateEmail(email); err != nil {
		return AccountView{}, false, err
	}
	all := NewRoleSet(AllRoles...)

	sctx, cancel := s.storeContext(ctx)
	existing, err := s.accounts.FindByEmail(sctx, email)
	cancel()
	switch {
	case err == nil:
		if !existing.Roles.Equal(all) {
			sctx, cancel := s.storeContext(ctx)
			existing, err = s.accounts.SetRoles(sctx, existing.ID, all)
			cancel()
			if err != nil {
				return AccountView{}, false, fmt.Errorf("promote super admin: %w", err)
			}
		}
		if !existing.Enabled {
			sctx, cancel := s.storeContext(ctx)
			existing, err = s.accounts.SetEnabled(sctx, existing.ID, true)
			cancel()
			if err != nil {
				return AccountView{}, false, fmt.Errorf("enable super admin: %w", err)
			}
		}
		return existing.View(), false, nil
	case !errors.Is(err, ErrNotFound):
		return AccountView{}, false, fmt.Errorf("find super admin: %w", err)
	}

	hash, err := s.hasher.Hash(b.Password)
	if err != nil {
		return AccountView{}, false, err
	}
	account := &Account{
		Email:        email,
		FirstName:    b.FirstName,
		LastName:     b.LastName,
		PasswordHash: hash,
		Roles:        all,
		Enabled:      true,
	}
	sctx, cancel = s.storeContext(ctx)
	err = s.accounts.Create(sctx, account)
	cancel()
	if err != nil {
		return AccountView{}, false, fmt.Errorf("create super admin: %w", err)
	}
	s.admin(ctx, ActionBootstrap, account, nil)
	return account.View(), true, nil
}

func (s *Service) findByID(ctx context.Context, id string) (*Account, error) {
	sctx, cancel := s.storeContext(ctx)
	defer cancel()
	return s.accounts.FindByID(sctx, id)
}

func (s *Service) setRoles(ctx context.Context, id string, set RoleSet, action string) (AccountView, error) {
	sctx, cancel := s.storeContext(ctx)
	account, err := s.accounts.SetRoles(sctx, id, set)
	cancel()
	if err != nil {
		return AccountView{}, err
	}
	s.admin(ctx, action, account, map[string]any{"roles": account.Roles.Strings()})
	return account.View(), nil
}

func (s *Service) admin(ctx context.Context, action string, account *Account, fields map[string]any) {
	if fields == nil {
		fields = make(map[string]any, 2)
	}
	fields["action"] = action
	if actor, ok := SubjectFromContext(ctx); ok {
		fields["actor"] = actor
	}
	s.succeed(ctx, EventAdmin, account, fields)
}
