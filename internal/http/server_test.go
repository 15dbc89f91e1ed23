package httpapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/echoboard/echoboard/internal/auth"
	"github.com/echoboard/echoboard/internal/client"
	"github.com/echoboard/echoboard/internal/config"
	"github.com/echoboard/echoboard/internal/model"
	"github.com/echoboard/echoboard/internal/rate"
	"github.com/echoboard/echoboard/internal/session"
	"github.com/echoboard/echoboard/internal/store/sqlite"
	"github.com/echoboard/echoboard/internal/token"
)

type allowAllLimiter struct{}

func (allowAllLimiter) Allow(key string, limit int, window time.Duration) (bool, time.Duration) {
	return true, 0
}

func testConfig() config.Config {
	return config.Config{
		JWTSecret: "test-secret",
		TokenTTL:  time.Hour,
		RateLimits: config.RateLimits{
			AuthLimit: 100, AuthWindow: time.Minute,
			CreateLimit: 100, CreateWindow: time.Minute,
			DefaultLimit: 1000, DefaultWindow: time.Minute,
		},
		Version: "test",
	}
}

func newTestServer(t *testing.T, limiter rate.Limiter) (*httptest.Server, *sqlite.Store, *token.Codec) {
	t.Helper()
	st, err := sqlite.Open(fmt.Sprintf("file:http_%s?mode=memory&cache=shared", t.Name()))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	cfg := testConfig()
	codec := token.NewCodec(cfg.JWTSecret)
	sessions := session.NewRegistry(st, false, "")
	authSvc := auth.NewService(st, codec, cfg.TokenTTL)
	resolver := auth.NewResolver(codec, sessions)

	server := NewServer(st, authSvc, resolver, sessions, limiter, cfg)
	ts := httptest.NewServer(server)
	t.Cleanup(ts.Close)
	return ts, st, codec
}

// doJSON fires a raw request for routes the client package does not cover.
func doJSON(t *testing.T, method, url, bearer string, payload any) (*http.Response, map[string]any) {
	t.Helper()
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, url, body)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()

	var decoded map[string]any
	raw, _ := io.ReadAll(resp.Body)
	_ = json.Unmarshal(raw, &decoded)
	return resp, decoded
}

func TestVersionAndStats(t *testing.T) {
	ts, _, _ := newTestServer(t, allowAllLimiter{})

	resp, body := doJSON(t, http.MethodGet, ts.URL+"/api/version", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("version: %d", resp.StatusCode)
	}
	if body["version"] != "test" {
		t.Fatalf("version = %v", body["version"])
	}

	resp, body = doJSON(t, http.MethodGet, ts.URL+"/api/stats", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stats: %d", resp.StatusCode)
	}
	if _, ok := body["posts"]; !ok {
		t.Fatalf("stats missing posts: %v", body)
	}
}

func TestErrorEnvelope(t *testing.T) {
	ts, _, _ := newTestServer(t, allowAllLimiter{})

	resp, body := doJSON(t, http.MethodGet, ts.URL+"/api/nope", "", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if body["success"] != false {
		t.Fatalf("expected success=false, got %v", body)
	}
	if body["message"] == "" || body["message"] == nil {
		t.Fatalf("expected message, got %v", body)
	}
}

func TestBoardLifecycle(t *testing.T) {
	ts, _, _ := newTestServer(t, allowAllLimiter{})
	helper := client.NewTestHelper(ts.URL)

	c, _, err := helper.CreateAuthenticatedClient()
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}

	board, err := c.CreateBoard("My Product", "indigo")
	if err != nil {
		t.Fatalf("create board: %v", err)
	}
	if board.Slug != "my-product" {
		t.Fatalf("slug = %q", board.Slug)
	}

	// Same name gets a numbered slug.
	second, err := c.CreateBoard("My Product", "")
	if err != nil {
		t.Fatalf("create second board: %v", err)
	}
	if second.Slug != "my-product-2" {
		t.Fatalf("second slug = %q", second.Slug)
	}

	boards, err := c.ListBoards()
	if err != nil {
		t.Fatalf("list boards: %v", err)
	}
	if len(boards) != 2 {
		t.Fatalf("len = %d, want 2", len(boards))
	}

	gotBoard, posts, err := c.BoardBySlug("my-product")
	if err != nil {
		t.Fatalf("by slug: %v", err)
	}
	if gotBoard.ID != board.ID || len(posts) != 0 {
		t.Fatalf("unexpected by-slug result: %+v, %d posts", gotBoard, len(posts))
	}

	// Creating a board requires a token.
	resp, _ := doJSON(t, http.MethodPost, ts.URL+"/api/boards", "", map[string]string{"name": "Nope"})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unauthenticated create: %d", resp.StatusCode)
	}
}

func TestBoardOwnership(t *testing.T) {
	ts, _, _ := newTestServer(t, allowAllLimiter{})
	helper := client.NewTestHelper(ts.URL)

	owner, _, err := helper.CreateAuthenticatedClient()
	if err != nil {
		t.Fatalf("authenticate owner: %v", err)
	}
	board, err := owner.CreateBoard("Owned", "")
	if err != nil {
		t.Fatalf("create board: %v", err)
	}

	intruderToken, err := helper.GetToken()
	if err != nil {
		t.Fatalf("intruder token: %v", err)
	}

	resp, body := doJSON(t, http.MethodPut, ts.URL+"/api/boards/"+board.ID, intruderToken, map[string]string{"name": "Mine now"})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("foreign update: %d (%v)", resp.StatusCode, body)
	}
	resp, _ = doJSON(t, http.MethodDelete, ts.URL+"/api/boards/"+board.ID, intruderToken, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("foreign delete: %d", resp.StatusCode)
	}

	resp, _ = doJSON(t, http.MethodPut, ts.URL+"/api/boards/"+board.ID, owner.Token, map[string]string{"name": "Renamed"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("owner update: %d", resp.StatusCode)
	}
	resp, _ = doJSON(t, http.MethodDelete, ts.URL+"/api/boards/"+board.ID, owner.Token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("owner delete: %d", resp.StatusCode)
	}
}

func TestAnonymousPostAndMerge(t *testing.T) {
	ts, st, _ := newTestServer(t, allowAllLimiter{})
	helper := client.NewTestHelper(ts.URL)

	boardOwner, _, err := helper.CreateAuthenticatedClient()
	if err != nil {
		t.Fatalf("authenticate owner: %v", err)
	}
	board, err := boardOwner.CreateBoard("Feedback", "")
	if err != nil {
		t.Fatalf("create board: %v", err)
	}

	// An anonymous visitor posts; the cookie jar keeps the session.
	visitor := client.New(ts.URL)
	post, err := visitor.CreatePost(board.ID, "Dark mode", "please")
	if err != nil {
		t.Fatalf("anonymous post: %v", err)
	}
	if post.User == nil || post.User.Name != "Anonymous" {
		t.Fatalf("expected anonymous author, got %+v", post.User)
	}

	comment, err := visitor.CreateComment(post.ID, "bump")
	if err != nil {
		t.Fatalf("anonymous comment: %v", err)
	}

	// The visitor signs in; their provisional content merges into the account.
	w, err := client.GenerateWallet()
	if err != nil {
		t.Fatalf("generate wallet: %v", err)
	}
	if err := visitor.Authenticate(w); err != nil {
		t.Fatalf("authenticate visitor: %v", err)
	}
	if !visitor.SessionMerged {
		t.Fatal("removeSession not reported after merge")
	}
	if boardOwner.SessionMerged {
		t.Fatal("removeSession reported for a login with nothing to merge")
	}

	me, err := visitor.Me()
	if err != nil {
		t.Fatalf("me: %v", err)
	}
	got, err := st.GetPost(context.Background(), post.ID, "")
	if err != nil {
		t.Fatalf("get post: %v", err)
	}
	if got.UserID != me.ID {
		t.Fatalf("post not merged into account: %s vs %s", got.UserID, me.ID)
	}
	gotComment, err := st.GetComment(context.Background(), comment.ID)
	if err != nil {
		t.Fatalf("get comment: %v", err)
	}
	if gotComment.UserID != me.ID {
		t.Fatalf("comment not merged: %s", gotComment.UserID)
	}

	// Ownership followed the merge: the visitor can now delete their post.
	if err := visitor.DeletePost(post.ID); err != nil {
		t.Fatalf("delete merged post: %v", err)
	}
}

func TestPostBySlug(t *testing.T) {
	ts, _, _ := newTestServer(t, allowAllLimiter{})
	helper := client.NewTestHelper(ts.URL)

	owner, _, err := helper.CreateAuthenticatedClient()
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	board, err := owner.CreateBoard("Feedback", "")
	if err != nil {
		t.Fatalf("create board: %v", err)
	}
	post, err := owner.CreatePost(board.ID, "Dark mode", "")
	if err != nil {
		t.Fatalf("create post: %v", err)
	}
	if _, err := owner.Upvote(post.ID); err != nil {
		t.Fatalf("upvote: %v", err)
	}

	got, err := owner.PostBySlug(post.Slug)
	if err != nil {
		t.Fatalf("by slug: %v", err)
	}
	if got.ID != post.ID || !got.IsUpvoted || got.UpvoteCount != 1 {
		t.Fatalf("unexpected by-slug result: %+v", got)
	}

	// An anonymous reader sees the post without viewer state.
	anon, err := client.New(ts.URL).PostBySlug(post.Slug)
	if err != nil {
		t.Fatalf("anonymous by slug: %v", err)
	}
	if anon.IsUpvoted {
		t.Fatal("anonymous viewer should have no upvote state")
	}

	resp, _ := doJSON(t, http.MethodGet, ts.URL+"/api/posts/by-slug/missing", "", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("missing slug: %d, want 404", resp.StatusCode)
	}
}

func TestPostOwnershipAcrossSessions(t *testing.T) {
	ts, _, _ := newTestServer(t, allowAllLimiter{})
	helper := client.NewTestHelper(ts.URL)

	owner, _, err := helper.CreateAuthenticatedClient()
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	board, err := owner.CreateBoard("Feedback", "")
	if err != nil {
		t.Fatalf("create board: %v", err)
	}

	a := client.New(ts.URL)
	post, err := a.CreatePost(board.ID, "From session A", "")
	if err != nil {
		t.Fatalf("post: %v", err)
	}

	// A different anonymous session is a different provisional user.
	b := client.New(ts.URL)
	if err := b.DeletePost(post.ID); err == nil {
		t.Fatal("foreign session deleted the post")
	}

	// The owning session can delete its own post.
	if err := a.DeletePost(post.ID); err != nil {
		t.Fatalf("own delete: %v", err)
	}
}

func TestPostStatusWorkflow(t *testing.T) {
	ts, _, _ := newTestServer(t, allowAllLimiter{})
	helper := client.NewTestHelper(ts.URL)

	owner, _, err := helper.CreateAuthenticatedClient()
	if err != nil {
		t.Fatalf("authenticate owner: %v", err)
	}
	board, err := owner.CreateBoard("Feedback", "")
	if err != nil {
		t.Fatalf("create board: %v", err)
	}

	visitor, _, err := helper.CreateAuthenticatedClient()
	if err != nil {
		t.Fatalf("authenticate visitor: %v", err)
	}
	post, err := visitor.CreatePost(board.ID, "Webhooks", "")
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	if post.Status != model.StatusNew {
		t.Fatalf("initial status = %s", post.Status)
	}

	// The author cannot move the workflow; the board owner can.
	if _, err := visitor.SetPostStatus(post.ID, model.StatusPlanned); err == nil {
		t.Fatal("author changed status")
	}
	updated, err := owner.SetPostStatus(post.ID, model.StatusPlanned)
	if err != nil {
		t.Fatalf("owner status change: %v", err)
	}
	if updated.Status != model.StatusPlanned {
		t.Fatalf("status = %s", updated.Status)
	}

	resp, _ := doJSON(t, http.MethodPut, ts.URL+"/api/posts/"+post.ID, owner.Token, map[string]string{"status": "SHIPPED"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("invalid status: %d", resp.StatusCode)
	}
}

func TestUpvoteToggle(t *testing.T) {
	ts, _, _ := newTestServer(t, allowAllLimiter{})
	helper := client.NewTestHelper(ts.URL)

	c, _, err := helper.CreateAuthenticatedClient()
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	board, err := c.CreateBoard("Feedback", "")
	if err != nil {
		t.Fatalf("create board: %v", err)
	}
	post, err := c.CreatePost(board.ID, "Dark mode", "")
	if err != nil {
		t.Fatalf("post: %v", err)
	}

	// Upvoting needs a real account, not an anonymous session.
	resp, _ := doJSON(t, http.MethodPost, ts.URL+"/api/posts/"+post.ID+"/upvote", "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("anonymous upvote: %d", resp.StatusCode)
	}

	on, err := c.Upvote(post.ID)
	if err != nil {
		t.Fatalf("upvote: %v", err)
	}
	if !on {
		t.Fatal("first toggle should upvote")
	}

	got, err := c.GetPost(post.ID)
	if err != nil {
		t.Fatalf("get post: %v", err)
	}
	if got.UpvoteCount != 1 || !got.IsUpvoted {
		t.Fatalf("unexpected post state: %+v", got)
	}

	off, err := c.Upvote(post.ID)
	if err != nil {
		t.Fatalf("second upvote: %v", err)
	}
	if off {
		t.Fatal("second toggle should remove")
	}
}

func TestCommentPermissions(t *testing.T) {
	ts, _, _ := newTestServer(t, allowAllLimiter{})
	helper := client.NewTestHelper(ts.URL)

	owner, _, err := helper.CreateAuthenticatedClient()
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	board, err := owner.CreateBoard("Feedback", "")
	if err != nil {
		t.Fatalf("create board: %v", err)
	}
	post, err := owner.CreatePost(board.ID, "Dark mode", "")
	if err != nil {
		t.Fatalf("post: %v", err)
	}

	author, _, err := helper.CreateAuthenticatedClient()
	if err != nil {
		t.Fatalf("authenticate author: %v", err)
	}
	comment, err := author.CreateComment(post.ID, "original")
	if err != nil {
		t.Fatalf("comment: %v", err)
	}

	resp, _ := doJSON(t, http.MethodPatch, ts.URL+"/api/comments/"+comment.ID, owner.Token, map[string]string{"content": "hijacked"})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("foreign edit: %d", resp.StatusCode)
	}

	resp, body := doJSON(t, http.MethodPatch, ts.URL+"/api/comments/"+comment.ID, author.Token, map[string]string{"content": "edited"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("own edit: %d (%v)", resp.StatusCode, body)
	}

	comments, err := author.ListComments(post.ID)
	if err != nil {
		t.Fatalf("list comments: %v", err)
	}
	if len(comments) != 1 || comments[0].Content != "edited" {
		t.Fatalf("unexpected comments: %+v", comments)
	}
}

func TestValidation(t *testing.T) {
	ts, _, _ := newTestServer(t, allowAllLimiter{})
	helper := client.NewTestHelper(ts.URL)

	c, _, err := helper.CreateAuthenticatedClient()
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	board, err := c.CreateBoard("Feedback", "")
	if err != nil {
		t.Fatalf("create board: %v", err)
	}

	cases := []struct {
		name    string
		payload map[string]string
	}{
		{"missing title", map[string]string{"boardId": board.ID}},
		{"bad board id", map[string]string{"title": "x", "boardId": "not-a-uuid"}},
		{"unknown field", map[string]string{"title": "x", "boardId": board.ID, "bogus": "y"}},
	}
	for _, tc := range cases {
		resp, _ := doJSON(t, http.MethodPost, ts.URL+"/api/posts", c.Token, tc.payload)
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", tc.name, resp.StatusCode)
		}
	}

	// Markup is stripped before storage.
	post, err := c.CreatePost(board.ID, "<b>Bold</b>   title", "desc<script>alert(1)</script>")
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	if post.Title != "Bold title" {
		t.Fatalf("title = %q", post.Title)
	}
	if post.Description != "descalert(1)" {
		t.Fatalf("description = %q", post.Description)
	}

	resp, _ := doJSON(t, http.MethodGet, ts.URL+"/api/posts/not-a-uuid", "", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad post id: %d", resp.StatusCode)
	}
}

func TestAdminUserListing(t *testing.T) {
	ts, _, codec := newTestServer(t, allowAllLimiter{})
	helper := client.NewTestHelper(ts.URL)

	userToken, err := helper.GetToken()
	if err != nil {
		t.Fatalf("token: %v", err)
	}

	resp, _ := doJSON(t, http.MethodGet, ts.URL+"/api/users", userToken, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("non-admin listing: %d", resp.StatusCode)
	}
	resp, _ = doJSON(t, http.MethodGet, ts.URL+"/api/users", "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("anonymous listing: %d", resp.StatusCode)
	}

	adminToken, err := codec.Sign(model.User{ID: "admin", WalletAddress: "0xad", Role: model.RoleAdmin}, time.Hour)
	if err != nil {
		t.Fatalf("sign admin token: %v", err)
	}
	resp, body := doJSON(t, http.MethodGet, ts.URL+"/api/users?page=1&limit=5", adminToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("admin listing: %d", resp.StatusCode)
	}
	if _, ok := body["users"]; !ok {
		t.Fatalf("missing users field: %v", body)
	}
	if body["total"].(float64) < 1 {
		t.Fatalf("total = %v", body["total"])
	}
}

func TestRateLimitAuthRoute(t *testing.T) {
	limiter := rate.NewMemory()
	ts, _, _ := newTestServer(t, limiter)

	// The auth class admits 100 per minute in the test config; exhaust it.
	var last *http.Response
	for i := 0; i < 101; i++ {
		last, _ = doJSON(t, http.MethodPost, ts.URL+"/api/auth/authenticate", "", map[string]string{})
	}
	if last.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", last.StatusCode)
	}
	if last.Header.Get("Retry-After") == "" {
		t.Fatal("missing Retry-After header")
	}

	// Other route classes are keyed separately and still admit.
	resp, _ := doJSON(t, http.MethodGet, ts.URL+"/api/stats", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stats after auth exhaustion: %d", resp.StatusCode)
	}
}
