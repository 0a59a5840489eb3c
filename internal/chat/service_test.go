package chat

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/suPer8Hu/quiz-assist/internal/config"
	"github.com/suPer8Hu/quiz-assist/internal/identity"
)

type recordingNotifier struct {
	calls []uint64
}

func (n *recordingNotifier) GuestMessage(ctx context.Context, s *Session, m *Message) {
	_ = ctx
	n.calls = append(n.calls, m.ID)
}

func TestStartSession_UserReusesLatest(t *testing.T) {
	env := newTestEnv(t, testOptions(), nil)
	ctx := context.Background()
	caller := identity.User(1)
	caller.IP = "10.0.0.1"

	first, err := env.svc.StartSession(ctx, caller, GuestContact{})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	second, err := env.svc.StartSession(ctx, caller, GuestContact{})
	if err != nil {
		t.Fatalf("start again: %v", err)
	}
	if first.SessionID != second.SessionID || !second.Reused {
		t.Fatalf("expected reuse, got %d then %d", first.SessionID, second.SessionID)
	}
	if first.SessionToken != "" {
		t.Fatalf("users should not get a session token")
	}
}

func TestStartSession_GuestDedupByEmail(t *testing.T) {
	env := newTestEnv(t, testOptions(), nil)
	ctx := context.Background()
	caller := guestCaller("10.0.0.2", "")

	a, err := env.svc.StartSession(ctx, caller, jane())
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	contact := jane()
	contact.Email = "  JANE@X.com "
	contact.Phone = "+1 555 0199"
	b, err := env.svc.StartSession(ctx, guestCaller("10.0.0.2", a.SessionToken), contact)
	if err != nil {
		t.Fatalf("start again: %v", err)
	}
	if a.SessionID != b.SessionID || !b.Reused {
		t.Fatalf("same email should reuse the session: %d vs %d", a.SessionID, b.SessionID)
	}
	if a.SessionToken == "" || b.SessionToken != a.SessionToken {
		t.Fatalf("reuse must keep the bound token, got %q then %q", a.SessionToken, b.SessionToken)
	}
	sess, _ := env.repo.GetSession(ctx, a.SessionID)
	if sess.GuestPhone != "+1 555 0199" {
		t.Fatalf("contact details should be refreshed, got %q", sess.GuestPhone)
	}

	other := jane()
	other.Email = "someone@x.com"
	c, err := env.svc.StartSession(ctx, caller, other)
	if err != nil {
		t.Fatalf("start other: %v", err)
	}
	if c.SessionID == a.SessionID {
		t.Fatalf("different email must get a different session")
	}
}

func TestStartSession_SameEmailOtherBrowser_TokenMode(t *testing.T) {
	env := newTestEnv(t, testOptions(), nil)
	ctx := context.Background()

	first, err := env.svc.StartSession(ctx, guestCaller("10.0.0.20", ""), jane())
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	janeCaller := guestCaller("10.0.0.20", first.SessionToken)
	if _, err := env.svc.SendMessage(ctx, janeCaller, first.SessionID, "private"); err != nil {
		t.Fatalf("send: %v", err)
	}

	other, err := env.svc.StartSession(ctx, guestCaller("9.9.9.9", ""), jane())
	if err != nil {
		t.Fatalf("start from other browser: %v", err)
	}
	if other.SessionID == first.SessionID || other.Reused {
		t.Fatalf("other browser must not take over the bound session")
	}
	if _, err := env.svc.ListMessages(ctx, guestCaller("9.9.9.9", other.SessionToken), first.SessionID, 10); !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("other browser read the original thread: %v", err)
	}

	msgs, err := env.svc.ListMessages(ctx, janeCaller, first.SessionID, 10)
	if err != nil || len(msgs) != 1 {
		t.Fatalf("original browser must keep access, got %d msgs err=%v", len(msgs), err)
	}

	// a start with the bound token still reuses
	again, err := env.svc.StartSession(ctx, janeCaller, jane())
	if err != nil || again.SessionID != first.SessionID || again.SessionToken != first.SessionToken {
		t.Fatalf("expected reuse with the same token, got %+v err=%v", again, err)
	}
}

func TestStartSession_SameEmailOtherBrowser_FingerprintMode(t *testing.T) {
	opts := testOptions()
	opts.GuestAuthMode = config.GuestAuthFingerprint
	env := newTestEnv(t, opts, nil)
	ctx := context.Background()

	janeCaller := identity.Guest("10.0.0.21", "jane")
	otherCaller := identity.Guest("10.0.0.22", "other")

	first, err := env.svc.StartSession(ctx, janeCaller, jane())
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if first.SessionToken != "" {
		t.Fatalf("fingerprint mode issues no token")
	}
	if _, err := env.svc.SendMessage(ctx, janeCaller, first.SessionID, "private"); err != nil {
		t.Fatalf("send: %v", err)
	}

	other, err := env.svc.StartSession(ctx, otherCaller, jane())
	if err != nil {
		t.Fatalf("start from other browser: %v", err)
	}
	if other.SessionID == first.SessionID {
		t.Fatalf("other browser must get its own session")
	}
	if _, err := env.svc.ListMessages(ctx, otherCaller, first.SessionID, 10); !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("other browser read the original thread: %v", err)
	}
	if msgs, err := env.svc.ListMessages(ctx, janeCaller, first.SessionID, 10); err != nil || len(msgs) != 1 {
		t.Fatalf("original browser must keep access, got %d msgs err=%v", len(msgs), err)
	}

	again, err := env.svc.StartSession(ctx, janeCaller, jane())
	if err != nil || again.SessionID != first.SessionID || !again.Reused {
		t.Fatalf("same browser should reuse, got %+v err=%v", again, err)
	}
}

func TestStartSession_ReusesWhenBindingExpired(t *testing.T) {
	env := newTestEnv(t, testOptions(), nil)
	ctx := context.Background()

	first, _ := env.svc.StartSession(ctx, guestCaller("10.0.0.23", ""), jane())
	env.clock.Advance(7*24*time.Hour + time.Second)

	again, err := env.svc.StartSession(ctx, guestCaller("10.0.0.23", ""), jane())
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if again.SessionID != first.SessionID || !again.Reused || again.SessionToken == "" {
		t.Fatalf("expired binding should be reclaimed, got %+v", again)
	}
	if again.SessionToken == first.SessionToken {
		t.Fatalf("expected a fresh token")
	}
}

func TestStartSession_GuestAlwaysNew(t *testing.T) {
	opts := testOptions()
	opts.GuestPolicy = config.GuestPolicyAlwaysNew
	env := newTestEnv(t, opts, nil)
	ctx := context.Background()

	a, _ := env.svc.StartSession(ctx, guestCaller("10.0.0.3", ""), jane())
	b, err := env.svc.StartSession(ctx, guestCaller("10.0.0.3", ""), jane())
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if a.SessionID == b.SessionID {
		t.Fatalf("always_new should create a session per start")
	}
}

func TestStartSession_ValidatesGuest(t *testing.T) {
	env := newTestEnv(t, testOptions(), nil)
	ctx := context.Background()

	cases := map[string]GuestContact{
		"no name":   {Email: "a@x.com", Phone: "1"},
		"bad email": {Name: "A", Email: "not-an-email", Phone: "1"},
		"display":   {Name: "A", Email: "A <a@x.com>", Phone: "1"},
		"no phone":  {Name: "A", Email: "a@x.com"},
	}
	for name, g := range cases {
		if _, err := env.svc.StartSession(ctx, guestCaller("10.0.0.4", ""), g); !errors.Is(err, ErrValidation) {
			t.Fatalf("%s: expected validation error, got %v", name, err)
		}
	}
}

func TestStartSession_RateLimitedPerIP(t *testing.T) {
	opts := testOptions()
	opts.StartRate = config.RateRule{Limit: 8, Window: 60 * time.Second}
	env := newTestEnv(t, opts, nil)
	ctx := context.Background()

	for i := 0; i < 8; i++ {
		if _, err := env.svc.StartSession(ctx, guestCaller("10.0.0.5", ""), jane()); err != nil {
			t.Fatalf("start %d: %v", i, err)
		}
	}
	if _, err := env.svc.StartSession(ctx, guestCaller("10.0.0.5", ""), jane()); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected rate limited, got %v", err)
	}
	if _, err := env.svc.StartSession(ctx, guestCaller("10.0.0.6", ""), jane()); err != nil {
		t.Fatalf("another ip should not be limited: %v", err)
	}

	env.clock.Advance(61 * time.Second)
	if _, err := env.svc.StartSession(ctx, guestCaller("10.0.0.5", ""), jane()); err != nil {
		t.Fatalf("window elapsed, expected success: %v", err)
	}
}

func TestStartSession_RequiresPublicToken(t *testing.T) {
	opts := testOptions()
	opts.RequirePublicToken = true
	env := newTestEnv(t, opts, nil)
	ctx := context.Background()

	if _, err := env.svc.StartSession(ctx, guestCaller("10.0.0.7", ""), jane()); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error without public token, got %v", err)
	}
	pub, err := env.svc.IssuePublicToken(ctx)
	if err != nil {
		t.Fatalf("issue public token: %v", err)
	}
	c := guestCaller("10.0.0.7", "")
	c.PublicToken = pub
	if _, err := env.svc.StartSession(ctx, c, jane()); err != nil {
		t.Fatalf("start with public token: %v", err)
	}
}

func TestSendMessage_Validation(t *testing.T) {
	env := newTestEnv(t, testOptions(), nil)
	ctx := context.Background()
	res, _ := env.svc.StartSession(ctx, guestCaller("10.0.1.1", ""), jane())
	caller := guestCaller("10.0.1.1", res.SessionToken)

	if _, err := env.svc.SendMessage(ctx, caller, res.SessionID, "   "); !errors.Is(err, ErrValidation) {
		t.Fatalf("blank body: expected validation error, got %v", err)
	}
	if _, err := env.svc.SendMessage(ctx, caller, res.SessionID, strings.Repeat("é", 4001)); !errors.Is(err, ErrValidation) {
		t.Fatalf("long body: expected validation error, got %v", err)
	}
	m, err := env.svc.SendMessage(ctx, caller, res.SessionID, "  "+strings.Repeat("é", 4000)+"  ")
	if err != nil {
		t.Fatalf("4000 runes should be accepted: %v", err)
	}
	if strings.HasPrefix(m.Body, " ") {
		t.Fatalf("body should be trimmed")
	}
	if _, err := env.svc.SendMessage(ctx, caller, 0, "hi"); !errors.Is(err, ErrValidation) {
		t.Fatalf("missing session id: expected validation error, got %v", err)
	}
}

func TestSendMessage_CrossOwnerIsolation(t *testing.T) {
	env := newTestEnv(t, testOptions(), nil)
	ctx := context.Background()

	b := identity.User(2)
	res, err := env.svc.StartSession(ctx, b, GuestContact{})
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	if _, err := env.svc.SendMessage(ctx, identity.User(1), res.SessionID, "hi"); !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("user A send: expected access denied, got %v", err)
	}
	if _, err := env.svc.ListMessages(ctx, identity.User(1), res.SessionID, 10); !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("user A list: expected access denied, got %v", err)
	}
	if _, err := env.svc.ListMessages(ctx, guestCaller("10.0.1.2", ""), res.SessionID, 10); !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("guest list: expected access denied, got %v", err)
	}
	if _, err := env.svc.SendMessage(ctx, b, res.SessionID, "mine"); err != nil {
		t.Fatalf("owner send: %v", err)
	}
}

func TestSendMessage_RateLimitedPerSession(t *testing.T) {
	opts := testOptions()
	opts.SendRate = config.RateRule{Limit: 3, Window: 2 * time.Second}
	env := newTestEnv(t, opts, nil)
	ctx := context.Background()
	caller := identity.User(4)
	res, _ := env.svc.StartSession(ctx, caller, GuestContact{})

	for i := 0; i < 3; i++ {
		if _, err := env.svc.SendMessage(ctx, caller, res.SessionID, "x"); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
	}
	if _, err := env.svc.SendMessage(ctx, caller, res.SessionID, "x"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected rate limited, got %v", err)
	}
	env.clock.Advance(2 * time.Second)
	if _, err := env.svc.SendMessage(ctx, caller, res.SessionID, "x"); err != nil {
		t.Fatalf("after window: %v", err)
	}
}

func TestListMessages_SoftPollLimit(t *testing.T) {
	opts := testOptions()
	opts.PollRate = config.RateRule{Limit: 2, Window: time.Second}
	env := newTestEnv(t, opts, nil)
	ctx := context.Background()
	caller := identity.User(5)
	res, _ := env.svc.StartSession(ctx, caller, GuestContact{})
	_, _ = env.svc.SendMessage(ctx, caller, res.SessionID, "hello")

	for i := 0; i < 2; i++ {
		msgs, err := env.svc.ListMessages(ctx, caller, res.SessionID, 100)
		if err != nil || len(msgs) != 1 {
			t.Fatalf("poll %d: len=%d err=%v", i, len(msgs), err)
		}
	}
	msgs, err := env.svc.ListMessages(ctx, caller, res.SessionID, 100)
	if err != nil {
		t.Fatalf("limited poll should not error: %v", err)
	}
	if msgs == nil || len(msgs) != 0 {
		t.Fatalf("limited poll should return an empty list, got %v", msgs)
	}
}

func TestListMessages_ClampsLimitToTail(t *testing.T) {
	env := newTestEnv(t, testOptions(), nil)
	ctx := context.Background()
	caller := identity.User(6)
	res, _ := env.svc.StartSession(ctx, caller, GuestContact{})

	var lastID uint64
	for i := 0; i < 205; i++ {
		m := &Message{SessionID: res.SessionID, Sender: SenderUser, Body: "m"}
		if err := env.repo.InsertMessage(ctx, m); err != nil {
			t.Fatalf("insert: %v", err)
		}
		lastID = m.ID
	}

	one, err := env.svc.ListMessages(ctx, caller, res.SessionID, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(one) != 1 || one[0].ID != lastID {
		t.Fatalf("limit=0 should return the newest message only, got %d", len(one))
	}

	capped, err := env.svc.ListMessages(ctx, caller, res.SessionID, 10000)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(capped) != 200 {
		t.Fatalf("expected hard cap of 200, got %d", len(capped))
	}
	if capped[199].ID != lastID || capped[0].ID != lastID-199 {
		t.Fatalf("capped list is not the ascending tail: first=%d last=%d", capped[0].ID, capped[199].ID)
	}

	again, _ := env.svc.ListMessages(ctx, caller, res.SessionID, 10000)
	for i := range capped {
		if capped[i].ID != again[i].ID || capped[i].Body != again[i].Body {
			t.Fatalf("repeated list differs at %d", i)
		}
	}
}

func TestAdminOperations_RequireAdmin(t *testing.T) {
	env := newTestEnv(t, testOptions(), nil)
	ctx := context.Background()
	user := identity.User(1)

	if _, err := env.svc.AdminListSessions(ctx, user); !errors.Is(err, ErrForbidden) {
		t.Fatalf("list: expected forbidden, got %v", err)
	}
	if _, err := env.svc.AdminGetSessionMeta(ctx, user, 1); !errors.Is(err, ErrForbidden) {
		t.Fatalf("meta: expected forbidden, got %v", err)
	}
	if _, err := env.svc.AdminSendMessage(ctx, user, 1, "x"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("send: expected forbidden, got %v", err)
	}
	if err := env.svc.AdminDeleteSession(ctx, guestCaller("1.1.1.1", ""), 1); !errors.Is(err, ErrForbidden) {
		t.Fatalf("delete: expected forbidden, got %v", err)
	}
}

func TestAdminDeleteSession_ThenGone(t *testing.T) {
	env := newTestEnv(t, testOptions(), nil)
	ctx := context.Background()
	admin := identity.Admin(100)

	res, _ := env.svc.StartSession(ctx, guestCaller("10.0.2.1", ""), jane())
	caller := guestCaller("10.0.2.1", res.SessionToken)
	if _, err := env.svc.SendMessage(ctx, caller, res.SessionID, "Hello"); err != nil {
		t.Fatalf("send: %v", err)
	}

	if err := env.svc.AdminDeleteSession(ctx, admin, res.SessionID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := env.svc.AdminDeleteSession(ctx, admin, res.SessionID); err != nil {
		t.Fatalf("repeat delete should be a no-op: %v", err)
	}

	if _, err := env.svc.SendMessage(ctx, caller, res.SessionID, "again"); !errors.Is(err, ErrSessionGone) {
		t.Fatalf("send after delete: expected gone, got %v", err)
	}
	if _, err := env.svc.ListMessages(ctx, caller, res.SessionID, 10); !errors.Is(err, ErrSessionGone) {
		t.Fatalf("list after delete: expected gone, got %v", err)
	}
	if _, err := env.svc.ListMessages(ctx, caller, 424242, 10); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("unknown id: expected not found, got %v", err)
	}
	if _, err := env.svc.AdminGetSessionMeta(ctx, admin, res.SessionID); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("admin meta after delete: expected not found, got %v", err)
	}
	if _, err := env.svc.AdminListMessages(ctx, admin, res.SessionID, 10); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("admin list after delete: expected not found, got %v", err)
	}
	if _, err := env.svc.AdminSendMessage(ctx, admin, res.SessionID, "still there?"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("admin send after delete: expected not found, got %v", err)
	}

	var n int64
	env.db.Model(&Message{}).Where("session_id = ?", res.SessionID).Count(&n)
	if n != 0 {
		t.Fatalf("expected messages removed, %d left", n)
	}
}

func TestNotifier_OnlyForGuestMessages(t *testing.T) {
	rec := &recordingNotifier{}
	env := newTestEnv(t, testOptions(), rec)
	ctx := context.Background()

	g, _ := env.svc.StartSession(ctx, guestCaller("10.0.3.1", ""), jane())
	if _, err := env.svc.SendMessage(ctx, guestCaller("10.0.3.1", g.SessionToken), g.SessionID, "hi"); err != nil {
		t.Fatalf("guest send: %v", err)
	}
	u := identity.User(9)
	us, _ := env.svc.StartSession(ctx, u, GuestContact{})
	if _, err := env.svc.SendMessage(ctx, u, us.SessionID, "hi"); err != nil {
		t.Fatalf("user send: %v", err)
	}
	if _, err := env.svc.AdminSendMessage(ctx, identity.Admin(1), g.SessionID, "reply"); err != nil {
		t.Fatalf("admin send: %v", err)
	}
	if len(rec.calls) != 1 {
		t.Fatalf("expected exactly one notification, got %d", len(rec.calls))
	}
}

func TestJaneScenario(t *testing.T) {
	env := newTestEnv(t, testOptions(), nil)
	ctx := context.Background()
	admin := identity.Admin(1)

	start, err := env.svc.StartSession(ctx, guestCaller("10.0.4.1", ""), jane())
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	janeCaller := guestCaller("10.0.4.1", start.SessionToken)

	if _, err := env.svc.SendMessage(ctx, janeCaller, start.SessionID, "Hello"); err != nil {
		t.Fatalf("send: %v", err)
	}

	rows, err := env.svc.AdminListSessions(ctx, admin)
	if err != nil {
		t.Fatalf("admin list: %v", err)
	}
	if len(rows) != 1 || rows[0].ID != start.SessionID || rows[0].GuestName != "Jane" || rows[0].UnreadCount != 1 {
		t.Fatalf("unexpected inbox: %+v", rows)
	}

	if _, err := env.svc.AdminSendMessage(ctx, admin, start.SessionID, "Hi Jane"); err != nil {
		t.Fatalf("admin send: %v", err)
	}
	rows, _ = env.svc.AdminListSessions(ctx, admin)
	if rows[0].UnreadCount != 1 {
		t.Fatalf("admin reply must not count as unread, got %d", rows[0].UnreadCount)
	}

	msgs, err := env.svc.ListMessages(ctx, janeCaller, start.SessionID, 100)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(msgs) != 2 ||
		msgs[0].Sender != SenderUser || msgs[0].Body != "Hello" ||
		msgs[1].Sender != SenderAdmin || msgs[1].Body != "Hi Jane" {
		t.Fatalf("unexpected thread: %+v", msgs)
	}

	meta, err := env.svc.AdminGetSessionMeta(ctx, admin, start.SessionID)
	if err != nil {
		t.Fatalf("meta: %v", err)
	}
	if meta.GuestEmail != "jane@x.com" {
		t.Fatalf("unexpected meta: %+v", meta)
	}
	rows, _ = env.svc.AdminListSessions(ctx, admin)
	if rows[0].UnreadCount != 0 {
		t.Fatalf("expected unread 0 after viewing, got %d", rows[0].UnreadCount)
	}
}
