package model

import "time"

// Roles carried in token claims and user rows.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// Post workflow states.
const (
	StatusNew        = "NEW"
	StatusPlanned    = "PLANNED"
	StatusInProgress = "IN_PROGRESS"
	StatusDone       = "DONE"
	StatusClosed     = "CLOSED"
)

// User is either a wallet-identified account or a provisional placeholder
// created for an anonymous session. Exactly one of WalletAddress and
// (IsProvisional + SessionID) is set.
type User struct {
	ID            string    `json:"id"`
	WalletAddress string    `json:"walletAddress,omitempty"`
	SessionID     string    `json:"sessionId,omitempty"`
	IsProvisional bool      `json:"isProvisional"`
	Name          string    `json:"name"`
	Avatar        string    `json:"avatar,omitempty"`
	Role          string    `json:"role"`
	CreatedAt     time.Time `json:"createdAt"`
}

// PublicUser is the author shape embedded in posts and comments.
type PublicUser struct {
	WalletAddress string `json:"walletAddress,omitempty"`
	Name          string `json:"name"`
	Avatar        string `json:"avatar,omitempty"`
}

type Board struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Slug      string    `json:"slug"`
	Theme     string    `json:"theme,omitempty"`
	UserID    string    `json:"userId"`
	CreatedAt time.Time `json:"createdAt"`
}

type Post struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Status      string    `json:"status"`
	Slug        string    `json:"slug"`
	BoardID     string    `json:"boardId"`
	UserID      string    `json:"userId"`
	CreatedAt   time.Time `json:"createdAt"`

	User         *PublicUser `json:"user,omitempty"`
	CommentCount int         `json:"commentCount"`
	UpvoteCount  int         `json:"upvoteCount"`
	IsUpvoted    bool        `json:"isUpvoted"`
}

type Comment struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	PostID    string    `json:"postId"`
	UserID    string    `json:"userId"`
	CreatedAt time.Time `json:"createdAt"`

	User *PublicUser `json:"user,omitempty"`
}

type SiteStats struct {
	Users    int64 `json:"users"`
	Boards   int64 `json:"boards"`
	Posts    int64 `json:"posts"`
	Comments int64 `json:"comments"`
}

// ValidStatus reports whether s is one of the post workflow states.
func ValidStatus(s string) bool {
	switch s {
	case StatusNew, StatusPlanned, StatusInProgress, StatusDone, StatusClosed:
		return true
	}
	return false
}
