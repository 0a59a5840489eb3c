package chat

import (
	"context"
	"database/sql/driver"
	"fmt"
	"strings"
	"time"

	"github.com/samber/lo"
	"gorm.io/gorm"
)

type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

func (r *Repo) CreateSession(ctx context.Context, s *Session) error {
	return r.db.WithContext(ctx).Create(s).Error
}

func (r *Repo) GetSession(ctx context.Context, id uint64) (*Session, error) {
	var s Session
	if err := r.db.WithContext(ctx).First(&s, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

// LatestSessionByUser returns the newest session owned by userID.
func (r *Repo) LatestSessionByUser(ctx context.Context, userID uint64) (*Session, error) {
	var s Session
	if err := r.db.WithContext(ctx).
		Where("owner_kind = ? AND user_id = ?", OwnerUser, userID).
		Order("id DESC").
		First(&s).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

// LatestGuestSessionByEmail expects email already lower-cased.
func (r *Repo) LatestGuestSessionByEmail(ctx context.Context, email string) (*Session, error) {
	var s Session
	if err := r.db.WithContext(ctx).
		Where("owner_kind = ? AND guest_email = ?", OwnerGuest, email).
		Order("id DESC").
		First(&s).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *Repo) UpdateGuestContact(ctx context.Context, id uint64, name, phone string) error {
	return r.db.WithContext(ctx).Model(&Session{}).
		Where("id = ? AND owner_kind = ?", id, OwnerGuest).
		Updates(map[string]any{"guest_name": name, "guest_phone": phone}).Error
}

// DeleteSession removes the session and its messages. Deleting a missing id
// is not an error; deleted reports whether a row went away.
func (r *Repo) DeleteSession(ctx context.Context, id uint64) (deleted bool, err error) {
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("session_id = ?", id).Delete(&Message{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", id).Delete(&Session{})
		if res.Error != nil {
			return res.Error
		}
		deleted = res.RowsAffected > 0
		return nil
	})
	return deleted, err
}

func (r *Repo) InsertMessage(ctx context.Context, m *Message) error {
	return r.db.WithContext(ctx).Create(m).Error
}

func (r *Repo) GetMessage(ctx context.Context, id uint64) (*Message, error) {
	var m Message
	if err := r.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

// ListRecentMessages returns the newest limit messages in ASC id order (oldest -> newest).
func (r *Repo) ListRecentMessages(ctx context.Context, sessionID uint64, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 1
	}
	var msgs []Message
	if err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("id DESC").
		Limit(limit).
		Find(&msgs).Error; err != nil {
		return nil, err
	}
	// reverse to ASC
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// MarkAllRead flips every unread visitor message of the session.
func (r *Repo) MarkAllRead(ctx context.Context, sessionID uint64) (int64, error) {
	res := r.db.WithContext(ctx).Model(&Message{}).
		Where("session_id = ? AND sender = ? AND is_read = ?", sessionID, SenderUser, false).
		Update("is_read", true)
	return res.RowsAffected, res.Error
}

const summarySelect = `
SELECT s.id, s.owner_kind, s.user_id, s.guest_name, s.guest_email, s.guest_phone, s.created_at,
	COALESCE(u.login, '') AS user_login,
	COALESCE(u.email, '') AS user_email,
	COALESCE(MAX(m.created_at), s.created_at) AS last_message_time,
	COALESCE(SUM(CASE WHEN m.sender = 'user' AND m.is_read = ? THEN 1 ELSE 0 END), 0) AS unread_count
FROM chat_sessions s
LEFT JOIN chat_messages m ON m.session_id = s.id
LEFT JOIN users u ON u.id = s.user_id AND s.owner_kind = 'user'
%s
GROUP BY s.id, s.owner_kind, s.user_id, s.guest_name, s.guest_email, s.guest_phone, s.created_at, u.login, u.email
%s`

// ListSessionSummaries aggregates the admin inbox, most recent activity first.
func (r *Repo) ListSessionSummaries(ctx context.Context) ([]SessionSummary, error) {
	q := fmt.Sprintf(summarySelect, "", "ORDER BY last_message_time DESC, s.id DESC")
	var rows []summaryRow
	if err := r.db.WithContext(ctx).Raw(q, false).Scan(&rows).Error; err != nil {
		return nil, err
	}
	return lo.Map(rows, func(row summaryRow, _ int) SessionSummary { return row.summary() }), nil
}

// GetSessionMeta is the single-row variant of ListSessionSummaries.
func (r *Repo) GetSessionMeta(ctx context.Context, id uint64) (*SessionSummary, error) {
	q := fmt.Sprintf(summarySelect, "WHERE s.id = ?", "")
	var rows []summaryRow
	if err := r.db.WithContext(ctx).Raw(q, false, id).Scan(&rows).Error; err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, gorm.ErrRecordNotFound
	}
	s := rows[0].summary()
	return &s, nil
}

type summaryRow struct {
	ID              uint64
	OwnerKind       string
	UserID          uint64
	UserLogin       string
	UserEmail       string
	GuestName       string
	GuestEmail      string
	GuestPhone      string
	CreatedAt       dbTime
	LastMessageTime dbTime
	UnreadCount     int64
}

func (r summaryRow) summary() SessionSummary {
	return SessionSummary{
		ID:              r.ID,
		OwnerKind:       r.OwnerKind,
		UserID:          r.UserID,
		UserLogin:       r.UserLogin,
		UserEmail:       r.UserEmail,
		GuestName:       r.GuestName,
		GuestEmail:      r.GuestEmail,
		GuestPhone:      r.GuestPhone,
		CreatedAt:       r.CreatedAt.Time,
		LastMessageTime: r.LastMessageTime.Time,
		UnreadCount:     r.UnreadCount,
	}
}

// dbTime scans aggregate timestamps. MySQL hands back time.Time, SQLite
// returns MAX() over a datetime column as text.
type dbTime struct {
	Time time.Time
}

var dbTimeLayouts = []string{
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999 -0700 MST",
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

func (t *dbTime) Scan(v any) error {
	switch x := v.(type) {
	case nil:
		t.Time = time.Time{}
		return nil
	case time.Time:
		t.Time = x
		return nil
	case []byte:
		return t.parse(string(x))
	case string:
		return t.parse(x)
	}
	return fmt.Errorf("dbTime: unsupported type %T", v)
}

func (t dbTime) Value() (driver.Value, error) { return t.Time, nil }

func (t *dbTime) parse(s string) error {
	// time.Time.String() appends the monotonic reading
	if i := strings.Index(s, " m="); i >= 0 {
		s = s[:i]
	}
	s = strings.TrimSpace(s)
	for _, layout := range dbTimeLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed
			return nil
		}
	}
	return fmt.Errorf("dbTime: cannot parse %q", s)
}

// Notification outbox

func (r *Repo) CreateNotification(ctx context.Context, n *Notification) error {
	return r.db.WithContext(ctx).Create(n).Error
}

func (r *Repo) GetNotification(ctx context.Context, id string) (*Notification, error) {
	var n Notification
	if err := r.db.WithContext(ctx).First(&n, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &n, nil
}

// ClaimNotification moves a queued row to sending. claimed is false when
// another worker got there first or the row is already final.
func (r *Repo) ClaimNotification(ctx context.Context, id string) (claimed bool, err error) {
	res := r.db.WithContext(ctx).Model(&Notification{}).
		Where("id = ? AND status = ?", id, NotificationQueued).
		Updates(map[string]any{
			"status":   NotificationSending,
			"attempts": gorm.Expr("attempts + 1"),
		})
	return res.RowsAffected > 0, res.Error
}

func (r *Repo) MarkNotificationSent(ctx context.Context, id string) error {
	now := time.Now()
	return r.db.WithContext(ctx).Model(&Notification{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":  NotificationSent,
			"sent_at": &now,
			"error":   nil,
		}).Error
}

func (r *Repo) MarkNotificationFailed(ctx context.Context, id string, errMsg string) error {
	return r.db.WithContext(ctx).Model(&Notification{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status": NotificationFailed,
			"error":  errMsg,
		}).Error
}

// RequeueNotification puts a claimed row back for another attempt.
func (r *Repo) RequeueNotification(ctx context.Context, id string, errMsg string) error {
	return r.db.WithContext(ctx).Model(&Notification{}).
		Where("id = ? AND status = ?", id, NotificationSending).
		Updates(map[string]any{
			"status": NotificationQueued,
			"error":  errMsg,
		}).Error
}

// ReleaseStuckSending returns rows claimed before olderThan that never
// settled back to queued. updated_at is left alone so the same sweep's
// ListStaleQueued picks them up.
func (r *Repo) ReleaseStuckSending(ctx context.Context, olderThan time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Model(&Notification{}).
		Where("status = ? AND updated_at < ?", NotificationSending, olderThan).
		UpdateColumn("status", NotificationQueued)
	return res.RowsAffected, res.Error
}

// ListStaleQueued returns queued rows not touched since olderThan, oldest
// first. With olderThan past the longest retry delay these are the rows
// whose publish was lost.
func (r *Repo) ListStaleQueued(ctx context.Context, olderThan time.Time, limit int) ([]Notification, error) {
	var out []Notification
	if err := r.db.WithContext(ctx).
		Where("status = ? AND updated_at < ?", NotificationQueued, olderThan).
		Order("updated_at ASC").
		Limit(limit).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
