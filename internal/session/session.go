// Package session manages the anonymous-session cookie and the provisional
// users attached to it. A visitor who writes content before authenticating
// gets a cookie-scoped placeholder account that is merged into their real
// account on login.
package session

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/echoboard/echoboard/internal/model"
	"github.com/echoboard/echoboard/internal/store"

	"github.com/google/uuid"
)

const CookieName = "anonymous_session"

const cookieMaxAge = 365 * 24 * 60 * 60 // one year

// Registry reads and writes the anonymous-session cookie and resolves the
// provisional user behind it.
type Registry struct {
	users store.UserStore

	// Secure cookies only work over https, so they are opt-in for production.
	secure bool
	domain string
}

func NewRegistry(users store.UserStore, secure bool, domain string) *Registry {
	return &Registry{users: users, secure: secure, domain: domain}
}

// SessionID returns the request's anonymous session id, minting a fresh one
// and setting the cookie when the request carries none.
func (r *Registry) SessionID(w http.ResponseWriter, req *http.Request) string {
	if c, err := req.Cookie(CookieName); err == nil && c.Value != "" {
		return c.Value
	}
	id := uuid.NewString()
	http.SetCookie(w, r.cookie(id, cookieMaxAge))
	return id
}

// PeekSessionID returns the session id already on the request, or "".
func (r *Registry) PeekSessionID(req *http.Request) string {
	if c, err := req.Cookie(CookieName); err == nil {
		return c.Value
	}
	return ""
}

// ClearSession expires the cookie on the client.
func (r *Registry) ClearSession(w http.ResponseWriter) {
	c := r.cookie("", -1)
	c.Expires = time.Unix(0, 0)
	http.SetCookie(w, c)
}

func (r *Registry) cookie(value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     CookieName,
		Value:    value,
		Path:     "/",
		Domain:   r.domain,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   r.secure,
		SameSite: http.SameSiteLaxMode,
	}
}

// FindOrCreateProvisionalUser returns the provisional user for sessionID,
// creating one on first use. Concurrent first requests race on the unique
// session index; the loser re-reads the winner's row.
func (r *Registry) FindOrCreateProvisionalUser(ctx context.Context, sessionID string) (model.User, error) {
	u, err := r.users.FindProvisionalUserBySession(ctx, sessionID)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return model.User{}, err
	}

	u = model.User{
		ID:            uuid.NewString(),
		SessionID:     sessionID,
		IsProvisional: true,
		Name:          "Anonymous",
		Role:          model.RoleUser,
		CreatedAt:     time.Now(),
	}
	err = r.users.CreateUser(ctx, &u)
	if errors.Is(err, store.ErrDuplicateSession) {
		return r.users.FindProvisionalUserBySession(ctx, sessionID)
	}
	if err != nil {
		return model.User{}, err
	}
	return u, nil
}
