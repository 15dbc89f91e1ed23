package auth

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/echoboard/echoboard/internal/client"
	"github.com/echoboard/echoboard/internal/model"
	"github.com/echoboard/echoboard/internal/store"
	"github.com/echoboard/echoboard/internal/store/sqlite"
	"github.com/echoboard/echoboard/internal/token"
)

func newTestService(t *testing.T) (*Service, *sqlite.Store, *token.Codec) {
	t.Helper()
	st, err := sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name()))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	codec := token.NewCodec("test-secret")
	return NewService(st, codec, time.Hour), st, codec
}

func signedCredential(t *testing.T, w *client.Wallet) Credential {
	t.Helper()
	message := "Sign in to Echoboard"
	return Credential{
		SignedMessage: message,
		Signature:     w.Sign(message),
	}
}

func TestAuthenticateMissingCredentials(t *testing.T) {
	svc, _, _ := newTestService(t)

	cases := []Credential{
		{},
		{SignedMessage: "only a message"},
		{Signature: "0xabcd"},
	}
	for _, cred := range cases {
		if _, err := svc.Authenticate(context.Background(), cred, ""); !errors.Is(err, ErrMissingCredentials) {
			t.Fatalf("cred %+v: expected ErrMissingCredentials, got %v", cred, err)
		}
	}
}

func TestAuthenticateSignatureCreatesUser(t *testing.T) {
	svc, st, codec := newTestService(t)
	ctx := context.Background()

	w, err := client.GenerateWallet()
	if err != nil {
		t.Fatalf("generate wallet: %v", err)
	}

	res, err := svc.Authenticate(ctx, signedCredential(t, w), "")
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if res.WalletAddress != w.Address {
		t.Fatalf("wallet = %s, want %s", res.WalletAddress, w.Address)
	}
	if res.RemoveSession {
		t.Fatal("RemoveSession without a provisional user")
	}

	claims, err := codec.Verify(res.AccessToken)
	if err != nil {
		t.Fatalf("issued token does not verify: %v", err)
	}
	if claims.WalletAddress != w.Address || claims.Role != model.RoleUser {
		t.Fatalf("unexpected claims: %+v", claims)
	}

	user, err := st.FindUserByWallet(ctx, w.Address)
	if err != nil {
		t.Fatalf("user not created: %v", err)
	}
	if user.IsProvisional {
		t.Fatal("wallet user marked provisional")
	}

	// Second login reuses the account.
	res2, err := svc.Authenticate(ctx, signedCredential(t, w), "")
	if err != nil {
		t.Fatalf("second authenticate: %v", err)
	}
	claims2, err := codec.Verify(res2.AccessToken)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims2.UserID != user.ID {
		t.Fatalf("second login minted a new account: %s vs %s", claims2.UserID, user.ID)
	}
}

func TestAuthenticateTokenBranch(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	w, err := client.GenerateWallet()
	if err != nil {
		t.Fatalf("generate wallet: %v", err)
	}
	first, err := svc.Authenticate(ctx, signedCredential(t, w), "")
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}

	res, err := svc.Authenticate(ctx, Credential{AccessToken: first.AccessToken}, "")
	if err != nil {
		t.Fatalf("token authenticate: %v", err)
	}
	if res.AccessToken != first.AccessToken {
		t.Fatal("token branch should return the same token")
	}
	if res.WalletAddress != w.Address {
		t.Fatalf("wallet = %s", res.WalletAddress)
	}
	if res.RemoveSession {
		t.Fatal("token branch never merges")
	}
}

func TestAuthenticateTokenWinsOverSignature(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	w1, _ := client.GenerateWallet()
	w2, _ := client.GenerateWallet()

	first, err := svc.Authenticate(ctx, signedCredential(t, w1), "")
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}

	cred := signedCredential(t, w2)
	cred.AccessToken = first.AccessToken
	res, err := svc.Authenticate(ctx, cred, "")
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if res.WalletAddress != w1.Address {
		t.Fatalf("signature overrode the token: %s", res.WalletAddress)
	}
}

func TestAuthenticateRejectsBadToken(t *testing.T) {
	svc, _, codec := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Authenticate(ctx, Credential{AccessToken: "garbage"}, ""); !errors.Is(err, ErrInvalidAccessToken) {
		t.Fatalf("expected ErrInvalidAccessToken, got %v", err)
	}

	// A well-formed token for an account that does not exist is also invalid.
	ghost, err := codec.Sign(model.User{ID: "ghost", WalletAddress: "0x1111111111111111111111111111111111111111", Role: model.RoleUser}, time.Hour)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := svc.Authenticate(ctx, Credential{AccessToken: ghost}, ""); !errors.Is(err, ErrInvalidAccessToken) {
		t.Fatalf("expected ErrInvalidAccessToken, got %v", err)
	}
}

func TestAuthenticateRejectsBadSignature(t *testing.T) {
	svc, _, _ := newTestService(t)

	cred := Credential{SignedMessage: "msg", Signature: "0x1234"}
	if _, err := svc.Authenticate(context.Background(), cred, ""); !errors.Is(err, token.ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
}

func TestAuthenticateMergesProvisionalSession(t *testing.T) {
	svc, st, _ := newTestService(t)
	ctx := context.Background()

	prov := model.User{ID: "prov", SessionID: "sess-1", IsProvisional: true, Name: "Anonymous", Role: model.RoleUser, CreatedAt: time.Now()}
	if err := st.CreateUser(ctx, &prov); err != nil {
		t.Fatalf("create provisional: %v", err)
	}
	owner := model.User{ID: "owner", WalletAddress: "0xcc", Name: "o", Role: model.RoleUser, CreatedAt: time.Now()}
	if err := st.CreateUser(ctx, &owner); err != nil {
		t.Fatalf("create owner: %v", err)
	}
	board := model.Board{ID: "b", Name: "B", Slug: "b", UserID: owner.ID, CreatedAt: time.Now()}
	if err := st.CreateBoard(ctx, &board); err != nil {
		t.Fatalf("create board: %v", err)
	}
	post := model.Post{ID: "p", Title: "T", Status: model.StatusNew, Slug: "t", BoardID: board.ID, UserID: prov.ID, CreatedAt: time.Now()}
	if err := st.CreatePost(ctx, &post); err != nil {
		t.Fatalf("create post: %v", err)
	}

	w, _ := client.GenerateWallet()
	res, err := svc.Authenticate(ctx, signedCredential(t, w), "sess-1")
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if !res.RemoveSession {
		t.Fatal("expected RemoveSession after merge")
	}

	user, err := st.FindUserByWallet(ctx, w.Address)
	if err != nil {
		t.Fatalf("find user: %v", err)
	}
	got, err := st.GetPost(ctx, post.ID, "")
	if err != nil {
		t.Fatalf("get post: %v", err)
	}
	if got.UserID != user.ID {
		t.Fatalf("post not merged: %s", got.UserID)
	}
	if _, err := st.GetUser(ctx, prov.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatal("provisional user survived the merge")
	}

	// Re-authenticating with the same stale cookie is a clean no-op.
	res2, err := svc.Authenticate(ctx, signedCredential(t, w), "sess-1")
	if err != nil {
		t.Fatalf("second authenticate: %v", err)
	}
	if res2.RemoveSession {
		t.Fatal("second merge should not report RemoveSession")
	}
}
