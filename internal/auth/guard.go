package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/echoboard/echoboard/internal/model"
	"github.com/echoboard/echoboard/internal/session"
	"github.com/echoboard/echoboard/internal/token"
)

// Policy selects how a route admits callers.
type Policy int

const (
	// Required admits only requests with a valid bearer token carrying a
	// known role.
	Required Policy = iota
	// AdminOnly additionally requires the admin role.
	AdminOnly
	// Optional admits everyone; a valid token attaches an identity and an
	// absent or bad token attaches none.
	Optional
	// AnonymousCapable admits everyone; without a valid token the caller
	// acts as the session's provisional user, created on first use.
	AnonymousCapable
)

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
)

// Identity is the resolved caller of a request.
type Identity struct {
	UserID        string
	WalletAddress string
	SessionID     string
	Role          string
	Provisional   bool
}

func (id *Identity) IsAdmin() bool {
	return id != nil && id.Role == model.RoleAdmin
}

// Resolver turns an incoming request into an Identity under a Policy. All
// policies verify token signatures; a token that fails verification counts
// as no token.
type Resolver struct {
	codec    *token.Codec
	sessions *session.Registry
}

func NewResolver(codec *token.Codec, sessions *session.Registry) *Resolver {
	return &Resolver{codec: codec, sessions: sessions}
}

// Resolve applies policy to the request. The returned identity is nil only
// under Optional with no usable token. ErrUnauthorized and ErrForbidden are
// the only admission errors; anything else is an internal failure.
func (r *Resolver) Resolve(w http.ResponseWriter, req *http.Request, policy Policy) (*Identity, error) {
	claims := r.bearerClaims(req)

	switch policy {
	case Required, AdminOnly:
		if claims == nil {
			return nil, ErrUnauthorized
		}
		if claims.Role != model.RoleUser && claims.Role != model.RoleAdmin {
			return nil, ErrUnauthorized
		}
		id := identityFromClaims(claims)
		if policy == AdminOnly && !id.IsAdmin() {
			return nil, ErrForbidden
		}
		return id, nil

	case Optional:
		if claims == nil {
			return nil, nil
		}
		return identityFromClaims(claims), nil

	case AnonymousCapable:
		if claims != nil {
			return identityFromClaims(claims), nil
		}
		sessionID := r.sessions.SessionID(w, req)
		u, err := r.sessions.FindOrCreateProvisionalUser(req.Context(), sessionID)
		if err != nil {
			return nil, err
		}
		return &Identity{
			UserID:      u.ID,
			SessionID:   u.SessionID,
			Role:        u.Role,
			Provisional: true,
		}, nil
	}

	return nil, ErrUnauthorized
}

func (r *Resolver) bearerClaims(req *http.Request) *token.Claims {
	header := req.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return nil
	}
	claims, err := r.codec.Verify(strings.TrimSpace(header[len(prefix):]))
	if err != nil {
		return nil
	}
	return &claims
}

func identityFromClaims(c *token.Claims) *Identity {
	return &Identity{
		UserID:        c.UserID,
		WalletAddress: c.WalletAddress,
		SessionID:     c.SessionID,
		Role:          c.Role,
		Provisional:   c.IsProvisional,
	}
}
