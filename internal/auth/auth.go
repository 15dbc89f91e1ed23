// Package auth exchanges wallet signatures for bearer tokens and resolves
// request identities under the route admission policies.
package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/echoboard/echoboard/internal/model"
	"github.com/echoboard/echoboard/internal/store"
	"github.com/echoboard/echoboard/internal/token"

	"github.com/google/uuid"
)

var (
	ErrMissingCredentials   = errors.New("missing credentials")
	ErrInvalidAccessToken   = errors.New("invalid access token")
	ErrInvalidWalletAddress = errors.New("invalid wallet address")
)

// Credential is the client's proof of identity: either a previously issued
// access token, or a personal-message signature from the wallet.
type Credential struct {
	AccessToken   string `json:"accessToken,omitempty"`
	SignedMessage string `json:"signedMessage,omitempty"`
	Signature     string `json:"signature,omitempty"`
}

// Result is the outcome of a successful authentication. RemoveSession is set
// only when a provisional user was merged into the authenticated account; the
// transport layer clears the anonymous-session cookie and the client is told
// to drop its copy of the session.
type Result struct {
	WalletAddress string `json:"walletAddress"`
	AccessToken   string `json:"accessToken"`
	RemoveSession bool   `json:"removeSession"`
}

type Service struct {
	store    store.Store
	codec    *token.Codec
	tokenTTL time.Duration
}

func NewService(st store.Store, codec *token.Codec, tokenTTL time.Duration) *Service {
	return &Service{store: st, codec: codec, tokenTTL: tokenTTL}
}

// Authenticate resolves a credential to an account. A valid access token is
// honored as-is; otherwise the wallet address is recovered from the
// signature, the account is created on first login, and any provisional user
// behind sessionID is merged into it before the token is issued.
func (s *Service) Authenticate(ctx context.Context, cred Credential, sessionID string) (Result, error) {
	if cred.AccessToken != "" {
		return s.authenticateToken(ctx, cred.AccessToken)
	}
	if cred.SignedMessage != "" && cred.Signature != "" {
		return s.authenticateSignature(ctx, cred, sessionID)
	}
	return Result{}, ErrMissingCredentials
}

func (s *Service) authenticateToken(ctx context.Context, accessToken string) (Result, error) {
	claims, err := s.codec.Verify(accessToken)
	if err != nil {
		return Result{}, ErrInvalidAccessToken
	}
	user, err := s.store.FindUserByWallet(ctx, claims.WalletAddress)
	if errors.Is(err, store.ErrNotFound) {
		return Result{}, ErrInvalidAccessToken
	}
	if err != nil {
		return Result{}, err
	}
	return Result{WalletAddress: user.WalletAddress, AccessToken: accessToken}, nil
}

func (s *Service) authenticateSignature(ctx context.Context, cred Credential, sessionID string) (Result, error) {
	addr, err := token.RecoverAddress(cred.SignedMessage, cred.Signature)
	if err != nil {
		return Result{}, err
	}
	addr = strings.ToLower(addr)
	if !token.IsValidWalletAddress(addr) {
		return Result{}, ErrInvalidWalletAddress
	}

	user, err := s.store.FindUserByWallet(ctx, addr)
	if errors.Is(err, store.ErrNotFound) {
		user, err = s.createWalletUser(ctx, addr)
	}
	if err != nil {
		return Result{}, err
	}

	merged := false
	if sessionID != "" {
		merged, err = s.store.MergeProvisionalUser(ctx, user.ID, sessionID)
		if err != nil {
			return Result{}, err
		}
	}

	signed, err := s.codec.Sign(user, s.tokenTTL)
	if err != nil {
		return Result{}, err
	}
	return Result{WalletAddress: user.WalletAddress, AccessToken: signed, RemoveSession: merged}, nil
}

func (s *Service) createWalletUser(ctx context.Context, addr string) (model.User, error) {
	u := model.User{
		ID:            uuid.NewString(),
		WalletAddress: addr,
		Name:          shortAddress(addr),
		Role:          model.RoleUser,
		CreatedAt:     time.Now(),
	}
	err := s.store.CreateUser(ctx, &u)
	if errors.Is(err, store.ErrDuplicateWallet) {
		// Lost a concurrent first-login race; the existing row wins.
		return s.store.FindUserByWallet(ctx, addr)
	}
	if err != nil {
		return model.User{}, err
	}
	return u, nil
}

func shortAddress(addr string) string {
	if len(addr) < 10 {
		return addr
	}
	return addr[:6] + "..." + addr[len(addr)-4:]
}
