package identity

import "context"

type Role int

const (
	RoleGuest Role = iota
	RoleUser
	RoleAdmin
)

func (r Role) String() string {
	switch r {
	case RoleUser:
		return "user"
	case RoleAdmin:
		return "admin"
	default:
		return "guest"
	}
}

// Caller is resolved once per request and passed by value to the chat layer.
// Admins are also authenticated users and keep their UserID.
type Caller struct {
	Role   Role
	UserID uint64

	IP        string
	UserAgent string

	// guest credentials presented on the request
	SessionToken    string
	FingerprintHint string
	PublicToken     string
}

func (c Caller) Authenticated() bool { return c.Role != RoleGuest && c.UserID != 0 }

func (c Caller) IsAdmin() bool { return c.Role == RoleAdmin }

func Guest(ip, userAgent string) Caller {
	return Caller{Role: RoleGuest, IP: ip, UserAgent: userAgent}
}

func User(id uint64) Caller { return Caller{Role: RoleUser, UserID: id} }

func Admin(id uint64) Caller { return Caller{Role: RoleAdmin, UserID: id} }

type callerKey struct{}

func WithCaller(ctx context.Context, c Caller) context.Context {
	return context.WithValue(ctx, callerKey{}, c)
}

// FromContext returns the request caller; an unresolved request is a guest.
func FromContext(ctx context.Context) Caller {
	if c, ok := ctx.Value(callerKey{}).(Caller); ok {
		return c
	}
	return Caller{Role: RoleGuest}
}
