package notify

import (
	"fmt"
	"strings"
	"time"

	"github.com/suPer8Hu/quiz-assist/internal/chat"
)

// Email is a rendered plain-text notification.
type Email struct {
	Subject string
	Body    string
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// Render builds the admin email for a guest message. siteURL is the public
// base URL of the admin UI.
func Render(s *chat.Session, m *chat.Message, siteURL string, loc *time.Location) Email {
	name := s.GuestName
	if name == "" {
		name = "Guest"
	}
	subject := "New guest message from " + name
	if s.GuestEmail != "" {
		subject += " <" + s.GuestEmail + ">"
	}
	if loc == nil {
		loc = time.Local
	}

	lines := []string{
		"You have a new message from a guest.",
		"",
		"Name:  " + name,
		"Email: " + orDash(s.GuestEmail),
		"Phone: " + orDash(s.GuestPhone),
		fmt.Sprintf("Session: #%d", s.ID),
		"Time: " + m.CreatedAt.In(loc).Format("2006-01-02 15:04:05"),
		"",
		"Message:",
		m.Body,
		"",
		fmt.Sprintf("View conversation: %s/admin/chat/sessions/%d", strings.TrimRight(siteURL, "/"), s.ID),
	}
	return Email{Subject: subject, Body: strings.Join(lines, "\n")}
}
