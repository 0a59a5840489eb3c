package db

import (
	"context"
	"errors"
	"strings"
	"time"

	gormsqlite "github.com/glebarez/sqlite"
	"github.com/suPer8Hu/quiz-assist/internal/auth"
	"github.com/suPer8Hu/quiz-assist/internal/chat"
	"github.com/suPer8Hu/quiz-assist/internal/logger"
	"github.com/suPer8Hu/quiz-assist/internal/models"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Open picks the driver from the DSN: "sqlite:" / "file:" prefixes use the
// pure-Go sqlite driver, anything else is treated as a MySQL DSN.
func Open(dsn string) (*gorm.DB, error) {
	cfg := &gorm.Config{Logger: gormlogger.New(logger.Logger, sqlLogConfig())}

	if isSQLite(dsn) {
		return gorm.Open(gormsqlite.Open(sqliteDSN(dsn)), cfg)
	}
	return gorm.Open(mysql.Open(dsn), cfg)
}

// sqlLogConfig keeps guest emails out of the log: lookups that miss are
// expected and bind values are never printed.
func sqlLogConfig() gormlogger.Config {
	return gormlogger.Config{
		SlowThreshold:             200 * time.Millisecond,
		LogLevel:                  gormlogger.Warn,
		IgnoreRecordNotFoundError: true,
		ParameterizedQueries:      true,
	}
}

// Connect opens the database or exits the process.
func Connect(dsn string) *gorm.DB {
	gdb, err := Open(dsn)
	if err != nil {
		logger.Logger.WithError(err).Fatal("db connect failed")
	}
	return gdb
}

// Migrate creates or updates every table the service owns.
// Sessions must be migrated before messages so the FK can be created.
func Migrate(gdb *gorm.DB) error {
	return gdb.AutoMigrate(
		&models.User{},
		&chat.Session{},
		&chat.Message{},
		&chat.Notification{},
	)
}

// EnsureAdmin creates an admin account when no user has that login yet.
// An existing account is left untouched. created reports whether a row was
// inserted.
func EnsureAdmin(ctx context.Context, gdb *gorm.DB, login, email, password string) (created bool, err error) {
	login = strings.TrimSpace(login)
	if login == "" || password == "" {
		return false, nil
	}
	var existing models.User
	err = gdb.WithContext(ctx).Where("login = ?", login).First(&existing).Error
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return false, err
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return false, err
	}
	if email == "" {
		email = login + "@localhost"
	}
	u := &models.User{Login: login, Email: strings.ToLower(email), PasswordHash: hash, IsAdmin: true}
	if err := gdb.WithContext(ctx).Create(u).Error; err != nil {
		return false, err
	}
	return true, nil
}

func isSQLite(dsn string) bool {
	return strings.HasPrefix(dsn, "sqlite:") || strings.HasPrefix(dsn, "file:") || dsn == ":memory:"
}

// sqliteDSN strips the scheme and turns on foreign keys for every pooled connection.
func sqliteDSN(dsn string) string {
	dsn = strings.TrimPrefix(dsn, "sqlite://")
	dsn = strings.TrimPrefix(dsn, "sqlite:")
	if strings.Contains(dsn, "foreign_keys") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_pragma=foreign_keys(1)"
}
