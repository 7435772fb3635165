package auth

import (
	"context"
	"errors"
	"testing"
)

func TestRoleAdministration(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t)
	reg := f.register(t, "a@x.com", "pw123456")
	id := reg.User.ID

	view, err := f.svc.AddRole(ctx, id, "admin")
	if err != nil {
		t.Fatalf("AddRole: %v", err)
	}
	if len(view.Roles) != 2 || view.Roles[0] != "ADMIN" || view.Roles[1] != "USER" {
		t.Fatalf("unexpected roles after add: %v", view.Roles)
	}

	view, err = f.svc.AssignRoles(ctx, id, []string{"SUPER_ADMIN"})
	if err != nil {
		t.Fatalf("AssignRoles: %v", err)
	}
	if len(view.Roles) != 2 || view.Roles[0] != "SUPER_ADMIN" || view.Roles[1] != "USER" {
		t.Fatalf("assign must keep USER and replace the rest: %v", view.Roles)
	}

	if _, err := f.svc.RemoveRole(ctx, id, "USER"); !errors.Is(err, ErrBaseRoleRequired) {
		t.Fatalf("expected ErrBaseRoleRequired, got %v", err)
	}
	view, err = f.svc.RemoveRole(ctx, id, "SUPER_ADMIN")
	if err != nil {
		t.Fatalf("RemoveRole: %v", err)
	}
	if len(view.Roles) != 1 || view.Roles[0] != "USER" {
		t.Fatalf("unexpected roles after remove: %v", view.Roles)
	}

	if _, err := f.svc.AddRole(ctx, id, "OWNER"); !errors.Is(err, ErrRoleNotRecognized) {
		t.Fatalf("expected ErrRoleNotRecognized, got %v", err)
	}
	if _, err := f.svc.AddRole(ctx, "missing", "ADMIN"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	ev := f.events.last()
	if ev.Type != EventAdmin || ev.Fields["action"] != ActionRemoveRole {
		t.Fatalf("unexpected admin event %+v", ev)
	}
}

func TestAccountQueries(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t)
	first := f.register(t, "a@x.com", "pw123456")
	f.clock.Advance(1)
	f.register(t, "b@x.com", "pw123456")

	list, err := f.svc.ListAccounts(ctx)
	if err != nil {
		t.Fatalf("ListAccounts: %v", err)
	}
	if len(list) != 2 || list[0].Email != "a@x.com" {
		t.Fatalf("unexpected list: %+v", list)
	}
	view, err := f.svc.GetAccount(ctx, first.User.ID)
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	if !view.Enabled || view.Email != "a@x.com" {
		t.Fatalf("unexpected view: %+v", view)
	}
	if _, err := f.svc.GetAccountByEmail(ctx, "B@X.COM"); err != nil {
		t.Fatalf("GetAccountByEmail: %v", err)
	}
	if got := f.svc.ListRoles(); len(got) != 3 {
		t.Fatalf("expected 3 roles, got %v", got)
	}
}

func TestEnableAccount(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t)
	reg := f.register(t, "a@x.com", "pw123456")
	if _, err := f.svc.DisableAccount(ctx, reg.User.ID); err != nil {
		t.Fatalf("DisableAccount: %v", err)
	}
	view, err := f.svc.EnableAccount(ctx, reg.User.ID)
	if err != nil {
		t.Fatalf("EnableAccount: %v", err)
	}
	if !view.Enabled {
		t.Fatalf("expected account to be enabled")
	}
	if _, err := f.svc.Login(ctx, LoginRequest{Email: "a@x.com", Password: "pw123456"}); err != nil {
		t.Fatalf("Login after enable: %v", err)
	}
}

func TestEnsureSuperAdmin(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t)
	b := BootstrapAccount{Email: "root@x.com", Password: "rootpass1", FirstName: "Root", LastName: "Admin"}

	view, created, err := f.svc.EnsureSuperAdmin(ctx, b)
	if err != nil {
		t.Fatalf("EnsureSuperAdmin: %v", err)
	}
	if !created || len(view.Roles) != 3 {
		t.Fatalf("expected a new account with every role, got %v %+v", created, view)
	}

	if _, err := f.svc.RemoveRole(ctx, view.ID, "ADMIN"); err != nil {
		t.Fatalf("RemoveRole: %v", err)
	}
	if _, err := f.svc.DisableAccount(ctx, view.ID); err != nil {
		t.Fatalf("DisableAccount: %v", err)
	}
	view, created, err = f.svc.EnsureSuperAdmin(ctx, b)
	if err != nil {
		t.Fatalf("EnsureSuperAdmin again: %v", err)
	}
	if created || len(view.Roles) != 3 || !view.Enabled {
		t.Fatalf("expected existing account restored, got %v %+v", created, view)
	}

	resp, err := f.svc.Login(ctx, LoginRequest{Email: "root@x.com", Password: "rootpass1"})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	claims, err := f.svc.Verify(resp.AccessToken)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if err := Authorize(claims, RoleSuperAdmin); err != nil {
		t.Fatalf("bootstrap account should be super admin: %v", err)
	}
}
