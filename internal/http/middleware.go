package http

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/fjod/go_cart/cart-engine/internal/domain"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

const (
	SessionCookie = "cart_session"
	UserIDHeader  = "X-User-ID"

	sessionCookieMaxAge = domain.AnonymousTTL
)

type contextKey string

const (
	sessionKey  contextKey = "session_id"
	identityKey contextKey = "identity"
)

// IdentityMiddleware reads the account resolved by the auth layer in front
// of the service. Requests without one are anonymous.
func IdentityMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := domain.Anonymous()
		if userID := strings.TrimSpace(r.Header.Get(UserIDHeader)); userID != "" {
			id = domain.Account(userID)
		}
		ctx := context.WithValue(r.Context(), identityKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// SessionMiddleware binds the request to a browsing session, issuing the
// session cookie when the request has none or a malformed one
func SessionMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sessionID := ""
		if c, err := r.Cookie(SessionCookie); err == nil {
			if _, err := uuid.Parse(c.Value); err == nil {
				sessionID = c.Value
			}
		}
		if sessionID == "" {
			sessionID = uuid.NewString()
		}

		// refreshed on every request so the cookie outlives the anonymous cart
		http.SetCookie(w, &http.Cookie{
			Name:     SessionCookie,
			Value:    sessionID,
			Path:     "/",
			MaxAge:   int(sessionCookieMaxAge / time.Second),
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		})

		ctx := context.WithValue(r.Context(), sessionKey, sessionID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func getSessionID(ctx context.Context) string {
	if id, ok := ctx.Value(sessionKey).(string); ok {
		return id
	}
	return ""
}

func getIdentity(ctx context.Context) domain.Identity {
	if id, ok := ctx.Value(identityKey).(domain.Identity); ok {
		return id
	}
	return domain.Anonymous()
}

func getRequestID(ctx context.Context) string {
	return middleware.GetReqID(ctx)
}
