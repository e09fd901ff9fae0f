package middleware

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/dukerupert/cymtrack/internal/auth"
	"github.com/dukerupert/cymtrack/internal/store"
)

const (
	AdminCookieName  = "cym_admin"
	MemberCookieName = "cym_member"
	MemberHeader     = "X-Member-Name"
)

// MemberNameFromRequest reads the member identity from the X-Member-Name
// header or the member cookie. Returns "" if neither is set.
func MemberNameFromRequest(r *http.Request) string {
	if name := strings.TrimSpace(r.Header.Get(MemberHeader)); name != "" {
		return name
	}
	cookie, err := r.Cookie(MemberCookieName)
	if err != nil || cookie.Value == "" {
		return ""
	}
	name, err := url.QueryUnescape(cookie.Value)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(name)
}

// RequireMember rejects requests that carry no member name and stores the
// name in the request context.
func RequireMember(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := MemberNameFromRequest(r)
		if name == "" {
			writeError(w, http.StatusUnauthorized, "join with your name first", false)
			return
		}
		s, _ := auth.FromContext(r.Context())
		s.MemberName = name
		next.ServeHTTP(w, r.WithContext(auth.WithSession(r.Context(), s)))
	})
}

// RequireAdmin validates the admin session cookie.
func RequireAdmin(sessions *store.AdminSessionStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cookie, err := r.Cookie(AdminCookieName)
			if err != nil || cookie.Value == "" {
				writeError(w, http.StatusUnauthorized, "admin login required", false)
				return
			}

			sess, err := sessions.GetByToken(cookie.Value)
			if err != nil {
				slog.Error("look up admin session", "error", err)
				writeError(w, http.StatusServiceUnavailable, "session store unavailable", true)
				return
			}
			if sess == nil {
				writeError(w, http.StatusUnauthorized, "admin login required", false)
				return
			}

			s, _ := auth.FromContext(r.Context())
			s.Admin = true
			s.AdminSessionID = sess.ID
			next.ServeHTTP(w, r.WithContext(auth.WithSession(r.Context(), s)))
		})
	}
}
