package store

import (
	"context"
	"errors"

	"github.com/echoboard/echoboard/internal/model"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrDuplicateWallet  = errors.New("duplicate wallet address")
	ErrDuplicateSession = errors.New("duplicate session")
	ErrDuplicateSlug    = errors.New("duplicate slug")
)

type UserListOpts struct {
	Offset int
	Limit  int
}

type PostListOpts struct {
	BoardID  string
	ViewerID string
	Search   string
}

type Store interface {
	UserStore
	BoardStore
	PostStore
	CommentStore
	UpvoteStore
	GetSiteStats(ctx context.Context) (model.SiteStats, error)
	Close() error
}

type UserStore interface {
	CreateUser(ctx context.Context, user *model.User) error
	GetUser(ctx context.Context, id string) (model.User, error)
	FindUserByWallet(ctx context.Context, walletAddress string) (model.User, error)
	FindProvisionalUserBySession(ctx context.Context, sessionID string) (model.User, error)
	ListUsers(ctx context.Context, opts UserListOpts) ([]model.User, int64, error)
	// MergeProvisionalUser reassigns the session's provisional content to
	// targetUserID and deletes the provisional row, all in one transaction.
	// Returns false when the session has no provisional user.
	MergeProvisionalUser(ctx context.Context, targetUserID, sessionID string) (bool, error)
}

type BoardStore interface {
	CreateBoard(ctx context.Context, board *model.Board) error
	GetBoard(ctx context.Context, id string) (model.Board, error)
	GetBoardBySlug(ctx context.Context, slug string) (model.Board, error)
	ListBoardsByUser(ctx context.Context, userID string) ([]model.Board, error)
	UpdateBoard(ctx context.Context, board *model.Board) error
	DeleteBoard(ctx context.Context, id string) error
}

type PostStore interface {
	CreatePost(ctx context.Context, post *model.Post) error
	GetPost(ctx context.Context, id, viewerID string) (model.Post, error)
	FindPostBySlug(ctx context.Context, slug, viewerID string) (model.Post, error)
	ListPosts(ctx context.Context, opts PostListOpts) ([]model.Post, error)
	UpdatePost(ctx context.Context, post *model.Post) error
	DeletePost(ctx context.Context, id string) error
}

type CommentStore interface {
	CreateComment(ctx context.Context, comment *model.Comment) error
	GetComment(ctx context.Context, id string) (model.Comment, error)
	ListCommentsByPost(ctx context.Context, postID string) ([]model.Comment, error)
	UpdateComment(ctx context.Context, id, content string) error
	DeleteComment(ctx context.Context, id string) error
}

type UpvoteStore interface {
	// ToggleUpvote adds the (post, user) upvote link, or removes it when it
	// already exists. Returns whether the post is upvoted afterwards.
	ToggleUpvote(ctx context.Context, postID, userID string) (bool, error)
}
