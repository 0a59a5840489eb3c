package db

import (
	"context"
	"testing"

	"github.com/suPer8Hu/quiz-assist/internal/auth"
	"github.com/suPer8Hu/quiz-assist/internal/models"
	gormlogger "gorm.io/gorm/logger"
)

func TestSQLiteDSN(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"sqlite:chat.db", "chat.db?_pragma=foreign_keys(1)"},
		{"sqlite://chat.db", "chat.db?_pragma=foreign_keys(1)"},
		{"file::memory:?cache=shared", "file::memory:?cache=shared&_pragma=foreign_keys(1)"},
		{"file:x.db?_pragma=foreign_keys(0)", "file:x.db?_pragma=foreign_keys(0)"},
	}
	for _, tc := range cases {
		if got := sqliteDSN(tc.in); got != tc.want {
			t.Fatalf("sqliteDSN(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestSQLLogConfig_HidesLookupMisses(t *testing.T) {
	cfg := sqlLogConfig()
	if !cfg.IgnoreRecordNotFoundError {
		t.Fatal("record-not-found would be logged with its query")
	}
	if !cfg.ParameterizedQueries {
		t.Fatal("bind values would be logged")
	}
	if cfg.LogLevel != gormlogger.Warn {
		t.Fatalf("log level = %v, want warn", cfg.LogLevel)
	}
}

func TestOpenAndMigrate_SQLite(t *testing.T) {
	gdb, err := Open("file:dbtest_migrate?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := Migrate(gdb); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	for _, table := range []string{"users", "chat_sessions", "chat_messages", "chat_notifications"} {
		if !gdb.Migrator().HasTable(table) {
			t.Fatalf("expected table %s", table)
		}
	}
	if isSQLite("app:pw@tcp(127.0.0.1:3306)/db") {
		t.Fatalf("mysql dsn detected as sqlite")
	}
}

func TestEnsureAdmin(t *testing.T) {
	gdb, err := Open("file:dbtest_admin?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := Migrate(gdb); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	ctx := context.Background()

	if created, err := EnsureAdmin(ctx, gdb, "", "", ""); err != nil || created {
		t.Fatalf("empty login should be a no-op, got created=%v err=%v", created, err)
	}
	created, err := EnsureAdmin(ctx, gdb, "root", "Root@X.com", "pw")
	if err != nil || !created {
		t.Fatalf("expected admin created, got created=%v err=%v", created, err)
	}
	created, err = EnsureAdmin(ctx, gdb, "root", "other@x.com", "pw2")
	if err != nil || created {
		t.Fatalf("second call should not create, got created=%v err=%v", created, err)
	}

	var u models.User
	if err := gdb.Where("login = ?", "root").First(&u).Error; err != nil {
		t.Fatalf("load admin: %v", err)
	}
	if !u.IsAdmin || u.Email != "root@x.com" || !auth.CheckPassword(u.PasswordHash, "pw") {
		t.Fatalf("unexpected admin row: %+v", u)
	}
}
