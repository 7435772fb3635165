package pg

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"hmsauth.org/internal/auth"
)

var accountCols = []string{"id", "email", "first_name", "last_name", "password_hash", "roles", "enabled", "created_at", "updated_at"}

func newMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return New(db), mock
}

func TestCreateAccount(t *testing.T) {
	store, mock := newMock(t)
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	mock.ExpectQuery("insert into accounts").
		WithArgs(sqlmock.AnyArg(), "a@x.com", "Ada", "Lovelace", "hash", []byte(`["USER"]`), true).
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))

	acc := &auth.Account{Email: " A@X.com ", FirstName: "Ada", LastName: "Lovelace", PasswordHash: "hash", Enabled: true}
	if err := store.Create(context.Background(), acc); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if acc.ID == "" || !acc.CreatedAt.Equal(now) || acc.Email != "a@x.com" {
		t.Fatalf("unexpected account: %+v", acc)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestCreateAccountDuplicate(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectQuery("insert into accounts").WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation})

	err := store.Create(context.Background(), &auth.Account{Email: "a@x.com", PasswordHash: "hash"})
	if !errors.Is(err, auth.ErrDuplicateAccount) {
		t.Fatalf("expected ErrDuplicateAccount, got %v", err)
	}
}

func TestFindAccount(t *testing.T) {
	store, mock := newMock(t)
	now := time.Now().UTC()
	mock.ExpectQuery("select .* from accounts where email=\\$1").
		WithArgs("a@x.com").
		WillReturnRows(sqlmock.NewRows(accountCols).
			AddRow("acc-1", "a@x.com", "Ada", "Lovelace", "hash", []byte(`["ADMIN","USER"]`), true, now, now))
	mock.ExpectQuery("select .* from accounts where id=\\$1").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(accountCols))

	acc, err := store.FindByEmail(context.Background(), "A@x.com")
	if err != nil {
		t.Fatalf("FindByEmail: %v", err)
	}
	if !acc.Roles.Equal(auth.NewRoleSet(auth.RoleAdmin, auth.RoleUser)) {
		t.Fatalf("unexpected roles: %v", acc.Roles.Strings())
	}
	if _, err := store.FindByID(context.Background(), "missing"); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSetRolesKeepsBase(t *testing.T) {
	store, mock := newMock(t)
	now := time.Now().UTC()
	mock.ExpectQuery("update accounts set roles").
		WithArgs("acc-1", []byte(`["SUPER_ADMIN","USER"]`)).
		WillReturnRows(sqlmock.NewRows(accountCols).
			AddRow("acc-1", "a@x.com", "Ada", "Lovelace", "hash", []byte(`["SUPER_ADMIN","USER"]`), true, now, now))

	acc, err := store.SetRoles(context.Background(), "acc-1", auth.NewRoleSet(auth.RoleSuperAdmin))
	if err != nil {
		t.Fatalf("SetRoles: %v", err)
	}
	if !acc.Roles.Has(auth.RoleUser) {
		t.Fatalf("USER must be kept")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestRotate(t *testing.T) {
	store, mock := newMock(t)
	tokens := store.Tokens()
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery("select account_id from refresh_tokens").WithArgs("old-hash").
		WillReturnRows(sqlmock.NewRows([]string{"account_id"}).AddRow("acc-1"))
	mock.ExpectQuery("select id from accounts where id=\\$1 for update").WithArgs("acc-1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("acc-1"))
	mock.ExpectQuery("select id, expires_at, revoked, created_at\\s+from refresh_tokens\\s+where token_hash=\\$1\\s+for update").
		WithArgs("old-hash").
		WillReturnRows(sqlmock.NewRows([]string{"id", "expires_at", "revoked", "created_at"}).
			AddRow("tok-1", now.Add(time.Hour), false, now.Add(-time.Hour)))
	mock.ExpectExec("update refresh_tokens set revoked=true where id=\\$1").WithArgs("tok-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("insert into refresh_tokens").
		WithArgs("tok-2", "acc-1", "new-hash", now.Add(24*time.Hour), now).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	next := &auth.RefreshToken{ID: "tok-2", TokenHash: "new-hash", ExpiresAt: now.Add(24 * time.Hour), CreatedAt: now}
	old, err := tokens.Rotate(context.Background(), "old-hash", now, next)
	if err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	if old.ID != "tok-1" || !old.Revoked || next.AccountID != "acc-1" {
		t.Fatalf("unexpected rotation result: %+v %+v", old, next)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestRotateFailures(t *testing.T) {
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	cases := []struct {
		name    string
		revoked bool
		expires time.Time
		want    error
	}{
		{"revoked", true, now.Add(time.Hour), auth.ErrTokenInvalid},
		{"expired", false, now, auth.ErrTokenExpired},
	}
	for _, tc := range cases {
		store, mock := newMock(t)
		mock.ExpectBegin()
		mock.ExpectQuery("select account_id from refresh_tokens").
			WillReturnRows(sqlmock.NewRows([]string{"account_id"}).AddRow("acc-1"))
		mock.ExpectQuery("select id from accounts").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("acc-1"))
		mock.ExpectQuery("select id, expires_at, revoked, created_at").
			WillReturnRows(sqlmock.NewRows([]string{"id", "expires_at", "revoked", "created_at"}).
				AddRow("tok-1", tc.expires, tc.revoked, now.Add(-time.Hour)))
		mock.ExpectRollback()

		_, err := store.Tokens().Rotate(context.Background(), "old-hash", now, &auth.RefreshToken{ID: "tok-2"})
		if !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Fatalf("%s: expectations: %v", tc.name, err)
		}
	}

	store, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectQuery("select account_id from refresh_tokens").WillReturnRows(sqlmock.NewRows([]string{"account_id"}))
	mock.ExpectRollback()
	if _, err := store.Tokens().Rotate(context.Background(), "nope", now, &auth.RefreshToken{}); !errors.Is(err, auth.ErrTokenNotFound) {
		t.Fatalf("expected ErrTokenNotFound, got %v", err)
	}
}

func TestRevokeAllLocksAccount(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectQuery("select id from accounts where id=\\$1 for update").WithArgs("acc-1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("acc-1"))
	mock.ExpectExec("update refresh_tokens set revoked=true where account_id=\\$1 and not revoked").WithArgs("acc-1").
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectCommit()

	n, err := store.Tokens().RevokeAllForAccount(context.Background(), "acc-1")
	if err != nil {
		t.Fatalf("RevokeAllForAccount: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 revoked, got %d", n)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestDeleteExpired(t *testing.T) {
	store, mock := newMock(t)
	now := time.Now().UTC()
	mock.ExpectExec("delete from refresh_tokens where expires_at <= \\$1").WithArgs(now).
		WillReturnResult(sqlmock.NewResult(0, 2))

	n, err := store.Tokens().DeleteExpired(context.Background(), now)
	if err != nil {
		t.Fatalf("DeleteExpired: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 removed, got %d", n)
	}
}
