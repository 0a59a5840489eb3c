package chat

import "time"

type NotificationStatus string

const (
	NotificationQueued  NotificationStatus = "queued"
	NotificationSending NotificationStatus = "sending"
	NotificationSent    NotificationStatus = "sent"
	NotificationFailed  NotificationStatus = "failed"
)

// Notification is an outbox row for the admin email sent when a guest writes.
// It outlives the session so failures stay inspectable.
type Notification struct {
	ID string `gorm:"primaryKey;size:26"` // ULID length

	SessionID uint64 `gorm:"index;not null"`
	MessageID uint64 `gorm:"not null"`

	Status   NotificationStatus `gorm:"type:varchar(16);index;not null"`
	Attempts int                `gorm:"not null;default:0"`

	// Filled when failed
	Error *string `gorm:"type:text"`
	// Filled when sent
	SentAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (Notification) TableName() string { return "chat_notifications" }
