package chat

import (
	"strings"
	"testing"
	"time"

	gormsqlite "github.com/glebarez/sqlite"
	"github.com/suPer8Hu/quiz-assist/internal/config"
	"github.com/suPer8Hu/quiz-assist/internal/identity"
	"github.com/suPer8Hu/quiz-assist/internal/models"
	"github.com/suPer8Hu/quiz-assist/internal/ratelimit"
	"github.com/suPer8Hu/quiz-assist/internal/ttlcache"
	"gorm.io/gorm"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := "file:" + name + "?mode=memory&cache=shared&_pragma=foreign_keys(1)"
	db, err := gorm.Open(gormsqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&models.User{}, &Session{}, &Message{}, &Notification{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time { return c.now }

func (c *testClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

type testEnv struct {
	db     *gorm.DB
	repo   *Repo
	binder *identity.Binder
	svc    *Service
	clock  *testClock
}

func testOptions() Options {
	return Options{
		GuestPolicy:   config.GuestPolicyReuseByEmail,
		GuestAuthMode: config.GuestAuthToken,
		StartRate:     config.RateRule{Limit: 1000, Window: time.Minute},
		SendRate:      config.RateRule{Limit: 1000, Window: time.Minute},
		PollRate:      config.RateRule{Limit: 1000, Window: time.Minute},
		ListMax:       200,
		MaxRunes:      4000,
	}
}

func newTestEnv(t *testing.T, opts Options, notifier Notifier) *testEnv {
	t.Helper()
	db := openTestDB(t)
	clock := &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	mem := ttlcache.NewMemory(0).WithClock(clock.Now)
	t.Cleanup(mem.Close)

	binder := identity.NewBinder(mem, identity.TTLs{
		SessionToken: 7 * 24 * time.Hour,
		Fingerprint:  12 * time.Hour,
		PublicToken:  12 * time.Hour,
		Tombstone:    7 * 24 * time.Hour,
	})
	repo := NewRepo(db)
	return &testEnv{
		db:     db,
		repo:   repo,
		binder: binder,
		svc:    NewService(repo, binder, ratelimit.New(mem), notifier, opts),
		clock:  clock,
	}
}

func jane() GuestContact {
	return GuestContact{Name: "Jane", Email: "jane@x.com", Phone: "+1 555 0100"}
}

func guestCaller(ip string, token string) identity.Caller {
	c := identity.Guest(ip, "Mozilla/5.0 (test)")
	c.SessionToken = token
	return c
}
