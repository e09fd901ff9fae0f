package auth

import (
	"context"

	"github.com/dukerupert/cymtrack/internal/model"
)

type contextKey struct{}

// Session identifies who is making a request. Members identify themselves by
// name only; admins hold a server-side session.
type Session struct {
	MemberName     string
	Admin          bool
	AdminSessionID int64
}

func WithSession(ctx context.Context, s Session) context.Context {
	return context.WithValue(ctx, contextKey{}, s)
}

func FromContext(ctx context.Context) (Session, bool) {
	s, ok := ctx.Value(contextKey{}).(Session)
	return s, ok
}

// MemberName returns the trimmed member name, or "" if none is set.
func MemberName(ctx context.Context) string {
	s, ok := FromContext(ctx)
	if !ok {
		return ""
	}
	return s.MemberName
}

// MemberKey returns the case-folded identity of the current member.
func MemberKey(ctx context.Context) string {
	return model.MemberKey(MemberName(ctx))
}

func IsAdmin(ctx context.Context) bool {
	s, ok := FromContext(ctx)
	if !ok {
		return false
	}
	return s.Admin
}

// AdminSessionID returns the admin session id, or 0.
func AdminSessionID(ctx context.Context) int64 {
	s, ok := FromContext(ctx)
	if !ok {
		return 0
	}
	return s.AdminSessionID
}
