package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/echoboard/echoboard/internal/model"
	"github.com/echoboard/echoboard/internal/store"

	_ "modernc.org/sqlite"
)

type Store struct {
	db *sql.DB
}

func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON;"); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := applySchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// migrations is an ordered list of SQL migrations.
// Each migration runs exactly once, tracked by schema_version table.
var migrations = []string{
	// Migration 1: Initial schema
	`
CREATE TABLE IF NOT EXISTS users (
	id TEXT PRIMARY KEY,
	wallet_address TEXT,
	session_id TEXT,
	is_provisional INTEGER NOT NULL DEFAULT 0,
	name TEXT NOT NULL,
	avatar TEXT,
	role TEXT NOT NULL DEFAULT 'user',
	created_at INTEGER NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_users_wallet ON users(wallet_address) WHERE wallet_address IS NOT NULL;
CREATE UNIQUE INDEX IF NOT EXISTS idx_users_session ON users(session_id) WHERE session_id IS NOT NULL;

CREATE TABLE IF NOT EXISTS boards (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	slug TEXT NOT NULL,
	theme TEXT,
	user_id TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	FOREIGN KEY(user_id) REFERENCES users(id)
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_boards_slug ON boards(slug);

CREATE TABLE IF NOT EXISTS posts (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	description TEXT,
	status TEXT NOT NULL DEFAULT 'NEW',
	slug TEXT NOT NULL,
	board_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	FOREIGN KEY(board_id) REFERENCES boards(id),
	FOREIGN KEY(user_id) REFERENCES users(id)
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_posts_slug ON posts(slug);
CREATE INDEX IF NOT EXISTS idx_posts_board_id ON posts(board_id);
CREATE INDEX IF NOT EXISTS idx_posts_user_id ON posts(user_id);
CREATE INDEX IF NOT EXISTS idx_posts_created_at ON posts(created_at DESC);

CREATE TABLE IF NOT EXISTS comments (
	id TEXT PRIMARY KEY,
	content TEXT NOT NULL,
	post_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	FOREIGN KEY(post_id) REFERENCES posts(id),
	FOREIGN KEY(user_id) REFERENCES users(id)
);
CREATE INDEX IF NOT EXISTS idx_comments_post_id ON comments(post_id);
CREATE INDEX IF NOT EXISTS idx_comments_user_id ON comments(user_id);

CREATE TABLE IF NOT EXISTS post_upvotes (
	post_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	PRIMARY KEY(post_id, user_id),
	FOREIGN KEY(post_id) REFERENCES posts(id),
	FOREIGN KEY(user_id) REFERENCES users(id)
);
CREATE INDEX IF NOT EXISTS idx_post_upvotes_user_id ON post_upvotes(user_id);
`,
	// Future migrations go here:
	// Migration 2: `ALTER TABLE ...`,
}

func applySchema(db *sql.DB) error {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY
		)
	`); err != nil {
		return err
	}

	var currentVersion int
	row := db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_version`)
	if err := row.Scan(&currentVersion); err != nil {
		return err
	}

	for i := currentVersion; i < len(migrations); i++ {
		if _, err := db.Exec(migrations[i]); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
		if _, err := db.Exec(`INSERT INTO schema_version (version) VALUES (?)`, i+1); err != nil {
			return fmt.Errorf("failed to record migration %d: %w", i+1, err)
		}
	}

	return nil
}

// ----------------------------------------------------------------------------
// Users

func (s *Store) CreateUser(ctx context.Context, user *model.User) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO users (id, wallet_address, session_id, is_provisional, name, avatar, role, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
`, user.ID, nullIfEmpty(user.WalletAddress), nullIfEmpty(user.SessionID), boolToInt(user.IsProvisional),
		user.Name, nullIfEmpty(user.Avatar), user.Role, user.CreatedAt.Unix())
	if err != nil {
		if isUniqueViolation(err) {
			if strings.Contains(err.Error(), "session_id") {
				return store.ErrDuplicateSession
			}
			return store.ErrDuplicateWallet
		}
		return err
	}
	return nil
}

func (s *Store) GetUser(ctx context.Context, id string) (model.User, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, wallet_address, session_id, is_provisional, name, avatar, role, created_at
FROM users
WHERE id = ?
`, id)
	return scanUser(row)
}

func (s *Store) FindUserByWallet(ctx context.Context, walletAddress string) (model.User, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, wallet_address, session_id, is_provisional, name, avatar, role, created_at
FROM users
WHERE wallet_address = ?
`, walletAddress)
	return scanUser(row)
}

func (s *Store) FindProvisionalUserBySession(ctx context.Context, sessionID string) (model.User, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, wallet_address, session_id, is_provisional, name, avatar, role, created_at
FROM users
WHERE session_id = ? AND is_provisional = 1
`, sessionID)
	return scanUser(row)
}

func (s *Store) ListUsers(ctx context.Context, opts store.UserListOpts) ([]model.User, int64, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 10
	}
	var total int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT id, wallet_address, session_id, is_provisional, name, avatar, role, created_at
FROM users
ORDER BY created_at ASC
LIMIT ? OFFSET ?
`, limit, opts.Offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var users []model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, 0, err
		}
		users = append(users, u)
	}
	return users, total, rows.Err()
}

func (s *Store) MergeProvisionalUser(ctx context.Context, targetUserID, sessionID string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var provisionalID string
	err = tx.QueryRowContext(ctx, `
SELECT id FROM users WHERE session_id = ? AND is_provisional = 1
`, sessionID).Scan(&provisionalID)
	if errors.Is(err, sql.ErrNoRows) {
		err = nil
		_ = tx.Rollback()
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if _, err = tx.ExecContext(ctx, `UPDATE posts SET user_id = ? WHERE user_id = ?`, targetUserID, provisionalID); err != nil {
		return false, err
	}
	if _, err = tx.ExecContext(ctx, `UPDATE comments SET user_id = ? WHERE user_id = ?`, targetUserID, provisionalID); err != nil {
		return false, err
	}
	// Carry upvote links over; links the target already holds would collide
	// with the primary key, so those provisional rows are dropped instead.
	if _, err = tx.ExecContext(ctx, `UPDATE OR IGNORE post_upvotes SET user_id = ? WHERE user_id = ?`, targetUserID, provisionalID); err != nil {
		return false, err
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM post_upvotes WHERE user_id = ?`, provisionalID); err != nil {
		return false, err
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, provisionalID); err != nil {
		return false, err
	}

	if err = tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

// ----------------------------------------------------------------------------
// Boards

func (s *Store) CreateBoard(ctx context.Context, board *model.Board) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO boards (id, name, slug, theme, user_id, created_at)
VALUES (?, ?, ?, ?, ?, ?)
`, board.ID, board.Name, board.Slug, nullIfEmpty(board.Theme), board.UserID, board.CreatedAt.Unix())
	if err != nil && isUniqueViolation(err) {
		return store.ErrDuplicateSlug
	}
	return err
}

func (s *Store) GetBoard(ctx context.Context, id string) (model.Board, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, name, slug, theme, user_id, created_at FROM boards WHERE id = ?
`, id)
	return scanBoard(row)
}

func (s *Store) GetBoardBySlug(ctx context.Context, slug string) (model.Board, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, name, slug, theme, user_id, created_at FROM boards WHERE slug = ?
`, slug)
	return scanBoard(row)
}

func (s *Store) ListBoardsByUser(ctx context.Context, userID string) ([]model.Board, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, name, slug, theme, user_id, created_at
FROM boards
WHERE user_id = ?
ORDER BY created_at DESC
`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var boards []model.Board
	for rows.Next() {
		b, err := scanBoard(rows)
		if err != nil {
			return nil, err
		}
		boards = append(boards, b)
	}
	return boards, rows.Err()
}

func (s *Store) UpdateBoard(ctx context.Context, board *model.Board) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE boards SET name = ?, theme = ? WHERE id = ?
`, board.Name, nullIfEmpty(board.Theme), board.ID)
	if err != nil {
		return err
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteBoard(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	if _, err = tx.ExecContext(ctx, `
DELETE FROM post_upvotes WHERE post_id IN (SELECT id FROM posts WHERE board_id = ?)
`, id); err != nil {
		return err
	}
	if _, err = tx.ExecContext(ctx, `
DELETE FROM comments WHERE post_id IN (SELECT id FROM posts WHERE board_id = ?)
`, id); err != nil {
		return err
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM posts WHERE board_id = ?`, id); err != nil {
		return err
	}
	var res sql.Result
	if res, err = tx.ExecContext(ctx, `DELETE FROM boards WHERE id = ?`, id); err != nil {
		return err
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		err = store.ErrNotFound
		return err
	}
	return tx.Commit()
}

// ----------------------------------------------------------------------------
// Posts

const postColumns = `
p.id, p.title, p.description, p.status, p.slug, p.board_id, p.user_id, p.created_at,
u.wallet_address, u.name, u.avatar,
(SELECT COUNT(*) FROM comments c WHERE c.post_id = p.id),
(SELECT COUNT(*) FROM post_upvotes v WHERE v.post_id = p.id),
EXISTS(SELECT 1 FROM post_upvotes v WHERE v.post_id = p.id AND v.user_id = ?)`

func (s *Store) CreatePost(ctx context.Context, post *model.Post) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO posts (id, title, description, status, slug, board_id, user_id, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
`, post.ID, post.Title, nullIfEmpty(post.Description), post.Status, post.Slug, post.BoardID, post.UserID, post.CreatedAt.Unix())
	if err != nil && isUniqueViolation(err) {
		return store.ErrDuplicateSlug
	}
	return err
}

func (s *Store) GetPost(ctx context.Context, id, viewerID string) (model.Post, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT `+postColumns+`
FROM posts p
LEFT JOIN users u ON u.id = p.user_id
WHERE p.id = ?
`, viewerID, id)
	return scanPost(row)
}

func (s *Store) FindPostBySlug(ctx context.Context, slug, viewerID string) (model.Post, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT `+postColumns+`
FROM posts p
LEFT JOIN users u ON u.id = p.user_id
WHERE p.slug = ?
`, viewerID, slug)
	return scanPost(row)
}

func (s *Store) ListPosts(ctx context.Context, opts store.PostListOpts) ([]model.Post, error) {
	query := `
SELECT ` + postColumns + `
FROM posts p
LEFT JOIN users u ON u.id = p.user_id
`
	args := []any{opts.ViewerID}
	var conds []string
	if opts.BoardID != "" {
		conds = append(conds, "p.board_id = ?")
		args = append(args, opts.BoardID)
	}
	if opts.Search != "" {
		conds = append(conds, "(p.title LIKE ? OR p.description LIKE ?)")
		pattern := "%" + opts.Search + "%"
		args = append(args, pattern, pattern)
	}
	if len(conds) > 0 {
		query += "WHERE " + strings.Join(conds, " AND ") + "\n"
	}
	query += "ORDER BY p.created_at DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var posts []model.Post
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, err
		}
		posts = append(posts, p)
	}
	return posts, rows.Err()
}

func (s *Store) UpdatePost(ctx context.Context, post *model.Post) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE posts SET title = ?, description = ?, status = ?, board_id = ? WHERE id = ?
`, post.Title, nullIfEmpty(post.Description), post.Status, post.BoardID, post.ID)
	if err != nil {
		return err
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) DeletePost(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	if _, err = tx.ExecContext(ctx, `DELETE FROM post_upvotes WHERE post_id = ?`, id); err != nil {
		return err
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM comments WHERE post_id = ?`, id); err != nil {
		return err
	}
	var res sql.Result
	if res, err = tx.ExecContext(ctx, `DELETE FROM posts WHERE id = ?`, id); err != nil {
		return err
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		err = store.ErrNotFound
		return err
	}
	return tx.Commit()
}

// ----------------------------------------------------------------------------
// Comments

func (s *Store) CreateComment(ctx context.Context, comment *model.Comment) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO comments (id, content, post_id, user_id, created_at)
VALUES (?, ?, ?, ?, ?)
`, comment.ID, comment.Content, comment.PostID, comment.UserID, comment.CreatedAt.Unix())
	return err
}

func (s *Store) GetComment(ctx context.Context, id string) (model.Comment, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT c.id, c.content, c.post_id, c.user_id, c.created_at, u.wallet_address, u.name, u.avatar
FROM comments c
LEFT JOIN users u ON u.id = c.user_id
WHERE c.id = ?
`, id)
	return scanComment(row)
}

func (s *Store) ListCommentsByPost(ctx context.Context, postID string) ([]model.Comment, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT c.id, c.content, c.post_id, c.user_id, c.created_at, u.wallet_address, u.name, u.avatar
FROM comments c
LEFT JOIN users u ON u.id = c.user_id
WHERE c.post_id = ?
ORDER BY c.created_at DESC
`, postID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var comments []model.Comment
	for rows.Next() {
		c, err := scanComment(rows)
		if err != nil {
			return nil, err
		}
		comments = append(comments, c)
	}
	return comments, rows.Err()
}

func (s *Store) UpdateComment(ctx context.Context, id, content string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE comments SET content = ? WHERE id = ?`, content, id)
	if err != nil {
		return err
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteComment(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM comments WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return store.ErrNotFound
	}
	return nil
}

// ----------------------------------------------------------------------------
// Upvotes

func (s *Store) ToggleUpvote(ctx context.Context, postID, userID string) (bool, error) {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO post_upvotes (post_id, user_id, created_at)
VALUES (?, ?, ?)
`, postID, userID, time.Now().Unix())
	if err == nil {
		return true, nil
	}
	if !isUniqueViolation(err) {
		return false, err
	}
	if _, err := s.db.ExecContext(ctx, `
DELETE FROM post_upvotes WHERE post_id = ? AND user_id = ?
`, postID, userID); err != nil {
		return false, err
	}
	return false, nil
}

// ----------------------------------------------------------------------------
// Stats

func (s *Store) GetSiteStats(ctx context.Context) (model.SiteStats, error) {
	var stats model.SiteStats
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&stats.Users); err != nil {
		return stats, err
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM boards`).Scan(&stats.Boards); err != nil {
		return stats, err
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM posts`).Scan(&stats.Posts); err != nil {
		return stats, err
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM comments`).Scan(&stats.Comments); err != nil {
		return stats, err
	}
	return stats, nil
}

// ----------------------------------------------------------------------------
// Helpers

func scanUser(scanner interface{ Scan(dest ...any) error }) (model.User, error) {
	var u model.User
	var wallet, session, avatar sql.NullString
	var provisional int
	var created int64
	if err := scanner.Scan(&u.ID, &wallet, &session, &provisional, &u.Name, &avatar, &u.Role, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.User{}, store.ErrNotFound
		}
		return model.User{}, err
	}
	if wallet.Valid {
		u.WalletAddress = wallet.String
	}
	if session.Valid {
		u.SessionID = session.String
	}
	if avatar.Valid {
		u.Avatar = avatar.String
	}
	u.IsProvisional = provisional == 1
	u.CreatedAt = time.Unix(created, 0)
	return u, nil
}

func scanBoard(scanner interface{ Scan(dest ...any) error }) (model.Board, error) {
	var b model.Board
	var theme sql.NullString
	var created int64
	if err := scanner.Scan(&b.ID, &b.Name, &b.Slug, &theme, &b.UserID, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Board{}, store.ErrNotFound
		}
		return model.Board{}, err
	}
	if theme.Valid {
		b.Theme = theme.String
	}
	b.CreatedAt = time.Unix(created, 0)
	return b, nil
}

func scanPost(scanner interface{ Scan(dest ...any) error }) (model.Post, error) {
	var p model.Post
	var description, wallet, name, avatar sql.NullString
	var created int64
	var upvoted int
	if err := scanner.Scan(&p.ID, &p.Title, &description, &p.Status, &p.Slug, &p.BoardID, &p.UserID, &created,
		&wallet, &name, &avatar, &p.CommentCount, &p.UpvoteCount, &upvoted); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Post{}, store.ErrNotFound
		}
		return model.Post{}, err
	}
	if description.Valid {
		p.Description = description.String
	}
	if name.Valid {
		author := model.PublicUser{Name: name.String}
		if wallet.Valid {
			author.WalletAddress = wallet.String
		}
		if avatar.Valid {
			author.Avatar = avatar.String
		}
		p.User = &author
	}
	p.IsUpvoted = upvoted == 1
	p.CreatedAt = time.Unix(created, 0)
	return p, nil
}

func scanComment(scanner interface{ Scan(dest ...any) error }) (model.Comment, error) {
	var c model.Comment
	var wallet, name, avatar sql.NullString
	var created int64
	if err := scanner.Scan(&c.ID, &c.Content, &c.PostID, &c.UserID, &created, &wallet, &name, &avatar); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Comment{}, store.ErrNotFound
		}
		return model.Comment{}, err
	}
	if name.Valid {
		author := model.PublicUser{Name: name.String}
		if wallet.Valid {
			author.WalletAddress = wallet.String
		}
		if avatar.Valid {
			author.Avatar = avatar.String
		}
		c.User = &author
	}
	c.CreatedAt = time.Unix(created, 0)
	return c, nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
