// Package token signs and verifies bearer tokens and recovers wallet
// addresses from personal-message signatures.
package token

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/echoboard/echoboard/internal/model"

	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/sha3"
)

var (
	ErrInvalidToken     = errors.New("invalid token")
	ErrInvalidSignature = errors.New("invalid signature")
)

// Claims is the token payload: the full user record plus registered claims.
type Claims struct {
	jwt.RegisteredClaims
	UserID        string `json:"id"`
	WalletAddress string `json:"walletAddress,omitempty"`
	SessionID     string `json:"sessionId,omitempty"`
	IsProvisional bool   `json:"isProvisional,omitempty"`
	Name          string `json:"name,omitempty"`
	Avatar        string `json:"avatar,omitempty"`
	Role          string `json:"role"`
}

// Codec signs and verifies HS256 tokens with a shared secret.
type Codec struct {
	secret []byte
}

func NewCodec(secret string) *Codec {
	return &Codec{secret: []byte(secret)}
}

func (c *Codec) Sign(user model.User, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		UserID:        user.ID,
		WalletAddress: user.WalletAddress,
		SessionID:     user.SessionID,
		IsProvisional: user.IsProvisional,
		Name:          user.Name,
		Avatar:        user.Avatar,
		Role:          user.Role,
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := t.SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify checks the signature and expiry and returns the claims.
func (c *Codec) Verify(tokenStr string) (Claims, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(tokenStr, &claims, func(t *jwt.Token) (any, error) {
		return c.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return Claims{}, ErrInvalidToken
	}
	return claims, nil
}

// DecodeUnverified extracts claims without checking the signature. Callers
// that make admission decisions must use Verify instead.
func (c *Codec) DecodeUnverified(tokenStr string) *Claims {
	var claims Claims
	if _, _, err := jwt.NewParser().ParseUnverified(tokenStr, &claims); err != nil {
		return nil
	}
	return &claims
}

// RecoverAddress recovers the lowercase 0x-prefixed wallet address that
// produced signature over message, following the Ethereum personal_sign
// scheme: keccak256 over a length-prefixed envelope, then secp256k1 public
// key recovery from the 65-byte r||s||v signature.
func RecoverAddress(message, signature string) (string, error) {
	sig, err := decodeHex(signature)
	if err != nil {
		return "", ErrInvalidSignature
	}
	if len(sig) != 65 {
		return "", ErrInvalidSignature
	}

	// RecoverCompact wants the recovery code first; Ethereum puts it last.
	v := sig[64]
	if v < 27 {
		v += 27
	}
	compact := make([]byte, 65)
	compact[0] = v
	copy(compact[1:], sig[:64])

	hash := personalHash([]byte(message))
	pub, _, err := ecdsa.RecoverCompact(compact, hash)
	if err != nil {
		return "", ErrInvalidSignature
	}

	raw := pub.SerializeUncompressed()
	h := sha3.NewLegacyKeccak256()
	h.Write(raw[1:])
	sum := h.Sum(nil)
	return "0x" + hex.EncodeToString(sum[12:]), nil
}

// IsValidWalletAddress reports whether addr is a lowercase-normalized
// 42-character 0x-prefixed hex address.
func IsValidWalletAddress(addr string) bool {
	if len(addr) != 42 || !strings.HasPrefix(addr, "0x") {
		return false
	}
	if addr != strings.ToLower(addr) {
		return false
	}
	_, err := hex.DecodeString(addr[2:])
	return err == nil
}

func personalHash(msg []byte) []byte {
	prefix := fmt.Sprintf("\x19Ethereum Signed Message:\n%d", len(msg))
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(prefix))
	h.Write(msg)
	return h.Sum(nil)
}

func decodeHex(input string) ([]byte, error) {
	clean := strings.TrimPrefix(strings.TrimSpace(input), "0x")
	return hex.DecodeString(clean)
}
