// Package client provides a Go client for the Echoboard API.
package client

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"time"

	"github.com/echoboard/echoboard/internal/model"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"golang.org/x/crypto/sha3"
)

// Client is an Echoboard API client. The cookie jar carries the
// anonymous-session cookie, so an unauthenticated client behaves like a
// browser visitor.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	Token      string
	// SessionMerged reports whether the last Authenticate call merged this
	// client's anonymous-session content into the wallet's account.
	SessionMerged bool
}

// Wallet holds a secp256k1 keypair and its derived address.
type Wallet struct {
	Address    string
	PrivateKey *secp256k1.PrivateKey
}

func New(baseURL string) *Client {
	jar, _ := cookiejar.New(nil)
	return &Client{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: 30 * time.Second, Jar: jar},
	}
}

// GenerateWallet creates a fresh keypair.
func GenerateWallet() (*Wallet, error) {
	priv, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}
	return &Wallet{Address: addressOf(priv), PrivateKey: priv}, nil
}

// WalletFromKey restores a wallet from a hex-encoded private key.
func WalletFromKey(privHex string) (*Wallet, error) {
	raw, err := hex.DecodeString(privHex)
	if err != nil {
		return nil, fmt.Errorf("decode private key: %w", err)
	}
	priv := secp256k1.PrivKeyFromBytes(raw)
	return &Wallet{Address: addressOf(priv), PrivateKey: priv}, nil
}

// KeyHex returns the private key as hex for persistence.
func (w *Wallet) KeyHex() string {
	return hex.EncodeToString(w.PrivateKey.Serialize())
}

// Sign produces a personal-message signature in r||s||v form.
func (w *Wallet) Sign(message string) string {
	hash := personalHash([]byte(message))
	compact := ecdsa.SignCompact(w.PrivateKey, hash, false)
	sig := make([]byte, 65)
	copy(sig, compact[1:])
	sig[64] = compact[0]
	return "0x" + hex.EncodeToString(sig)
}

// Authenticate signs a login message and exchanges it for a bearer token.
// Content created under this client's anonymous session is merged into the
// wallet's account by the server.
func (c *Client) Authenticate(w *Wallet) error {
	message := fmt.Sprintf("Sign in to Echoboard at %s", time.Now().UTC().Format(time.RFC3339))
	reqBody := map[string]string{
		"signedMessage": message,
		"signature":     w.Sign(message),
	}

	resp, err := c.doRequest(http.MethodPost, "/api/auth/authenticate", reqBody)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("auth failed (%d): %s", resp.StatusCode, string(body))
	}

	var result struct {
		WalletAddress string `json:"walletAddress"`
		AccessToken   string `json:"accessToken"`
		RemoveSession bool   `json:"removeSession"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return err
	}
	if result.AccessToken == "" {
		return errors.New("no access token in response")
	}
	c.Token = result.AccessToken
	c.SessionMerged = result.RemoveSession
	return nil
}

func (c *Client) IsAuthenticated() bool {
	return c.Token != ""
}

func (c *Client) doRequest(method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequest(method, c.BaseURL+path, bodyReader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	return c.HTTPClient.Do(req)
}

func decode[T any](resp *http.Response, action string) (T, error) {
	defer resp.Body.Close()
	var zero T
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return zero, fmt.Errorf("%s failed (%d): %s", action, resp.StatusCode, string(body))
	}
	var out T
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return zero, err
	}
	return out, nil
}

// CreateBoard creates a feedback board. Requires authentication.
func (c *Client) CreateBoard(name, theme string) (*model.Board, error) {
	resp, err := c.doRequest(http.MethodPost, "/api/boards", map[string]string{"name": name, "theme": theme})
	if err != nil {
		return nil, err
	}
	board, err := decode[model.Board](resp, "create board")
	if err != nil {
		return nil, err
	}
	return &board, nil
}

// ListBoards lists the authenticated user's boards.
func (c *Client) ListBoards() ([]model.Board, error) {
	resp, err := c.doRequest(http.MethodGet, "/api/boards", nil)
	if err != nil {
		return nil, err
	}
	return decode[[]model.Board](resp, "list boards")
}

// BoardBySlug fetches a board and its posts by public slug.
func (c *Client) BoardBySlug(slug string) (*model.Board, []model.Post, error) {
	resp, err := c.doRequest(http.MethodGet, "/api/boards/by-slug/"+slug, nil)
	if err != nil {
		return nil, nil, err
	}
	result, err := decode[struct {
		Board model.Board  `json:"board"`
		Posts []model.Post `json:"posts"`
	}](resp, "get board")
	if err != nil {
		return nil, nil, err
	}
	return &result.Board, result.Posts, nil
}

// CreatePost creates a post on a board. Works unauthenticated via the
// anonymous session.
func (c *Client) CreatePost(boardID, title, description string) (*model.Post, error) {
	resp, err := c.doRequest(http.MethodPost, "/api/posts", map[string]string{
		"boardId":     boardID,
		"title":       title,
		"description": description,
	})
	if err != nil {
		return nil, err
	}
	post, err := decode[model.Post](resp, "create post")
	if err != nil {
		return nil, err
	}
	return &post, nil
}

// GetPost fetches a single post.
func (c *Client) GetPost(id string) (*model.Post, error) {
	resp, err := c.doRequest(http.MethodGet, "/api/posts/"+id, nil)
	if err != nil {
		return nil, err
	}
	post, err := decode[model.Post](resp, "get post")
	if err != nil {
		return nil, err
	}
	return &post, nil
}

// PostBySlug fetches a post by its public slug.
func (c *Client) PostBySlug(slug string) (*model.Post, error) {
	resp, err := c.doRequest(http.MethodGet, "/api/posts/by-slug/"+slug, nil)
	if err != nil {
		return nil, err
	}
	post, err := decode[model.Post](resp, "get post")
	if err != nil {
		return nil, err
	}
	return &post, nil
}

// ListPosts lists posts, optionally filtered by board and search term.
func (c *Client) ListPosts(boardID, search string) ([]model.Post, error) {
	path := "/api/posts"
	sep := "?"
	if boardID != "" {
		path += sep + "boardId=" + boardID
		sep = "&"
	}
	if search != "" {
		path += sep + "search=" + search
	}
	resp, err := c.doRequest(http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	return decode[[]model.Post](resp, "list posts")
}

// DeletePost deletes a post you own.
func (c *Client) DeletePost(id string) error {
	resp, err := c.doRequest(http.MethodDelete, "/api/posts/"+id, nil)
	if err != nil {
		return err
	}
	_, err = decode[map[string]string](resp, "delete post")
	return err
}

// SetPostStatus moves a post through the workflow. Board owner or admin only.
func (c *Client) SetPostStatus(id, status string) (*model.Post, error) {
	resp, err := c.doRequest(http.MethodPut, "/api/posts/"+id, map[string]string{"status": status})
	if err != nil {
		return nil, err
	}
	post, err := decode[model.Post](resp, "update post")
	if err != nil {
		return nil, err
	}
	return &post, nil
}

// Upvote toggles the caller's upvote on a post and reports the new state.
func (c *Client) Upvote(postID string) (bool, error) {
	resp, err := c.doRequest(http.MethodPost, "/api/posts/"+postID+"/upvote", nil)
	if err != nil {
		return false, err
	}
	result, err := decode[struct {
		Upvoted bool `json:"upvoted"`
	}](resp, "upvote")
	if err != nil {
		return false, err
	}
	return result.Upvoted, nil
}

// CreateComment comments on a post. Works unauthenticated via the anonymous
// session.
func (c *Client) CreateComment(postID, content string) (*model.Comment, error) {
	resp, err := c.doRequest(http.MethodPost, "/api/comments", map[string]string{
		"postId":  postID,
		"content": content,
	})
	if err != nil {
		return nil, err
	}
	comment, err := decode[model.Comment](resp, "create comment")
	if err != nil {
		return nil, err
	}
	return &comment, nil
}

// ListComments fetches comments on a post.
func (c *Client) ListComments(postID string) ([]model.Comment, error) {
	resp, err := c.doRequest(http.MethodGet, "/api/comments?postId="+postID, nil)
	if err != nil {
		return nil, err
	}
	return decode[[]model.Comment](resp, "list comments")
}

// Me returns the authenticated user's record.
func (c *Client) Me() (*model.User, error) {
	resp, err := c.doRequest(http.MethodGet, "/api/users/me", nil)
	if err != nil {
		return nil, err
	}
	user, err := decode[model.User](resp, "get user")
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func addressOf(priv *secp256k1.PrivateKey) string {
	raw := priv.PubKey().SerializeUncompressed()
	h := sha3.NewLegacyKeccak256()
	h.Write(raw[1:])
	sum := h.Sum(nil)
	return "0x" + hex.EncodeToString(sum[12:])
}

func personalHash(msg []byte) []byte {
	prefix := fmt.Sprintf("\x19Ethereum Signed Message:\n%d", len(msg))
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(prefix))
	h.Write(msg)
	return h.Sum(nil)
}

// TestHelper provides utilities for creating authenticated clients in tests.
type TestHelper struct {
	BaseURL string
}

func NewTestHelper(baseURL string) *TestHelper {
	return &TestHelper{BaseURL: baseURL}
}

// CreateAuthenticatedClient generates a wallet and returns a client
// authenticated as it.
func (h *TestHelper) CreateAuthenticatedClient() (*Client, *Wallet, error) {
	w, err := GenerateWallet()
	if err != nil {
		return nil, nil, fmt.Errorf("generate wallet: %w", err)
	}
	c := New(h.BaseURL)
	if err := c.Authenticate(w); err != nil {
		return nil, nil, err
	}
	return c, w, nil
}

// GetToken generates a wallet, authenticates, and returns just the token.
func (h *TestHelper) GetToken() (string, error) {
	c, _, err := h.CreateAuthenticatedClient()
	if err != nil {
		return "", err
	}
	return c.Token, nil
}
