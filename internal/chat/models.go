package chat

import (
	"strings"
	"time"
)

const (
	OwnerUser  = "user"
	OwnerGuest = "guest"
)

// Message senders. Guests and logged-in visitors are both "user".
const (
	SenderUser  = "user"
	SenderAdmin = "admin"
)

// Session is one conversation thread. It is owned either by a site user or
// by a guest lead and is never re-owned.
type Session struct {
	ID         uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	OwnerKind  string    `gorm:"type:varchar(8);not null;index:idx_chat_sess_owner,priority:1" json:"owner_kind"`
	UserID     uint64    `gorm:"not null;default:0;index:idx_chat_sess_owner,priority:2" json:"user_id"`
	GuestName  string    `gorm:"type:varchar(191);not null;default:''" json:"guest_name"`
	GuestEmail string    `gorm:"type:varchar(191);not null;default:'';index:idx_chat_sess_guest_email" json:"guest_email"`
	GuestPhone string    `gorm:"type:varchar(64);not null;default:''" json:"guest_phone"`
	CreatedAt  time.Time `json:"created_at"`

	Messages []Message `gorm:"foreignKey:SessionID;constraint:OnDelete:CASCADE" json:"-"`
}

func (Session) TableName() string { return "chat_sessions" }

func (s *Session) IsGuest() bool { return s.OwnerKind == OwnerGuest }

// Message is append-only. IsRead only means something for visitor messages:
// it flips once an admin has opened the session.
type Message struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	SessionID uint64    `gorm:"not null;index:idx_chat_msg_session,priority:1" json:"session_id"`
	Sender    string    `gorm:"type:varchar(8);not null;index:idx_chat_msg_session,priority:2" json:"sender"`
	Body      string    `gorm:"type:text;not null" json:"message"`
	IsRead    bool      `gorm:"not null;default:false" json:"-"`
	CreatedAt time.Time `json:"created_at"`
}

func (Message) TableName() string { return "chat_messages" }

// GuestContact is the self-supplied identity of a guest lead.
type GuestContact struct {
	Name  string `json:"guest_name"`
	Email string `json:"guest_email"`
	Phone string `json:"guest_phone"`
}

func (g GuestContact) normalized() GuestContact {
	return GuestContact{
		Name:  strings.TrimSpace(g.Name),
		Email: strings.ToLower(strings.TrimSpace(g.Email)),
		Phone: strings.TrimSpace(g.Phone),
	}
}

// SessionSummary is one admin inbox row. It is aggregated per call, never stored.
type SessionSummary struct {
	ID              uint64    `json:"id"`
	OwnerKind       string    `json:"owner_kind"`
	UserID          uint64    `json:"user_id"`
	UserLogin       string    `json:"user_login"`
	UserEmail       string    `json:"user_email"`
	GuestName       string    `json:"guest_name"`
	GuestEmail      string    `json:"guest_email"`
	GuestPhone      string    `json:"guest_phone"`
	CreatedAt       time.Time `json:"created_at"`
	LastMessageTime time.Time `json:"last_message_time"`
	UnreadCount     int64     `json:"unread_count"`
}

// StartResult is returned by StartSession. SessionToken is only set for
// guests when token binding is enabled.
type StartResult struct {
	SessionID    uint64 `json:"session_id"`
	SessionToken string `json:"session_token,omitempty"`
	Reused       bool   `json:"reused"`
}
