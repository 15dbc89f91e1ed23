// Package httpapp serves the JSON API: wallet authentication, boards, posts,
// comments, upvotes, and the admin surface. Routing is a hand-rolled segment
// switch under /api; every request passes the rate limiter before it is
// dispatched.
package httpapp

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/echoboard/echoboard/internal/auth"
	"github.com/echoboard/echoboard/internal/config"
	"github.com/echoboard/echoboard/internal/model"
	"github.com/echoboard/echoboard/internal/rate"
	"github.com/echoboard/echoboard/internal/session"
	"github.com/echoboard/echoboard/internal/store"
	"github.com/echoboard/echoboard/internal/token"

	_ "github.com/echoboard/echoboard/docs" // swagger docs

	"github.com/google/uuid"
	httpSwagger "github.com/swaggo/http-swagger"
	"github.com/swaggo/swag"
)

type Server struct {
	store    store.Store
	auth     *auth.Service
	resolver *auth.Resolver
	sessions *session.Registry
	limiter  rate.Limiter
	classes  rate.Classifier
	cfg      config.Config
}

func NewServer(st store.Store, authSvc *auth.Service, resolver *auth.Resolver, sessions *session.Registry, limiter rate.Limiter, cfg config.Config) *Server {
	return &Server{
		store:    st,
		auth:     authSvc,
		resolver: resolver,
		sessions: sessions,
		limiter:  limiter,
		classes: rate.Classifier{
			Auth:    rate.Class{Limit: cfg.RateLimits.AuthLimit, Window: cfg.RateLimits.AuthWindow},
			Create:  rate.Class{Limit: cfg.RateLimits.CreateLimit, Window: cfg.RateLimits.CreateWindow},
			Default: rate.Class{Limit: cfg.RateLimits.DefaultLimit, Window: cfg.RateLimits.DefaultWindow},
		},
		cfg: cfg,
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if strings.HasPrefix(r.URL.Path, "/api/") {
		s.handleAPI(w, r)
		return
	}
	if strings.HasPrefix(r.URL.Path, "/swagger/") {
		httpSwagger.WrapHandler.ServeHTTP(w, r)
		return
	}
	notFound(w)
}

func (s *Server) handleAPI(w http.ResponseWriter, r *http.Request) {
	if !s.allowRateLimit(w, r) {
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/api")
	segments := splitPath(path)

	switch {
	case len(segments) == 2 && segments[0] == "auth" && segments[1] == "authenticate":
		if r.Method == http.MethodPost {
			s.handleAuthenticate(w, r)
			return
		}
	case len(segments) == 1 && segments[0] == "boards":
		if r.Method == http.MethodPost {
			s.handleCreateBoard(w, r)
			return
		}
		if r.Method == http.MethodGet {
			s.handleListBoards(w, r)
			return
		}
	case len(segments) == 3 && segments[0] == "boards" && segments[1] == "by-slug":
		if r.Method == http.MethodGet {
			s.handleBoardBySlug(w, r, segments[2])
			return
		}
	case len(segments) == 2 && segments[0] == "boards":
		if r.Method == http.MethodGet {
			s.handleGetBoard(w, r, segments[1])
			return
		}
		if r.Method == http.MethodPut {
			s.handleUpdateBoard(w, r, segments[1])
			return
		}
		if r.Method == http.MethodDelete {
			s.handleDeleteBoard(w, r, segments[1])
			return
		}
	case len(segments) == 1 && segments[0] == "posts":
		if r.Method == http.MethodGet {
			s.handleListPosts(w, r)
			return
		}
		if r.Method == http.MethodPost {
			s.handleCreatePost(w, r)
			return
		}
	case len(segments) == 3 && segments[0] == "posts" && segments[1] == "by-slug":
		if r.Method == http.MethodGet {
			s.handlePostBySlug(w, r, segments[2])
			return
		}
	case len(segments) == 2 && segments[0] == "posts":
		if r.Method == http.MethodGet {
			s.handleGetPost(w, r, segments[1])
			return
		}
		if r.Method == http.MethodPut {
			s.handleUpdatePost(w, r, segments[1])
			return
		}
		if r.Method == http.MethodDelete {
			s.handleDeletePost(w, r, segments[1])
			return
		}
	case len(segments) == 3 && segments[0] == "posts" && segments[2] == "upvote":
		if r.Method == http.MethodPost {
			s.handleUpvotePost(w, r, segments[1])
			return
		}
	case len(segments) == 1 && segments[0] == "comments":
		if r.Method == http.MethodGet {
			s.handleListComments(w, r)
			return
		}
		if r.Method == http.MethodPost {
			s.handleCreateComment(w, r)
			return
		}
	case len(segments) == 2 && segments[0] == "comments":
		if r.Method == http.MethodPatch {
			s.handleUpdateComment(w, r, segments[1])
			return
		}
		if r.Method == http.MethodDelete {
			s.handleDeleteComment(w, r, segments[1])
			return
		}
	case len(segments) == 1 && segments[0] == "users":
		if r.Method == http.MethodGet {
			s.handleListUsers(w, r)
			return
		}
	case len(segments) == 2 && segments[0] == "users" && segments[1] == "me":
		if r.Method == http.MethodGet {
			s.handleMe(w, r)
			return
		}
	case len(segments) == 1 && segments[0] == "version":
		if r.Method == http.MethodGet {
			s.handleVersion(w, r)
			return
		}
	case len(segments) == 1 && segments[0] == "stats":
		if r.Method == http.MethodGet {
			s.handleGetStats(w, r)
			return
		}
	case len(segments) == 1 && segments[0] == "openapi.json":
		if r.Method == http.MethodGet {
			s.serveOpenAPIJSON(w, r)
			return
		}
	default:
		notFound(w)
		return
	}
	methodNotAllowed(w)
}

// ----------------------------------------------------------------------------
// Auth

// handleAuthenticate godoc
//
//	@Summary		Authenticate with a wallet
//	@Description	Exchange a personal-message signature (or an existing access token) for a bearer token. Content written under the anonymous session is merged into the account and the session cookie is cleared.
//	@Tags			Auth
//	@Accept			json
//	@Produce		json
//	@Param			credential	body		object{accessToken=string,signedMessage=string,signature=string}	true	"Credential"
//	@Success		200			{object}	map[string]any
//	@Failure		400			{object}	map[string]any	"Validation error"
//	@Failure		401			{object}	map[string]any	"Bad token or signature"
//	@Failure		429			{object}	map[string]any	"Rate limited"
//	@Router			/api/auth/authenticate [post]
func (s *Server) handleAuthenticate(w http.ResponseWriter, r *http.Request) {
	var cred auth.Credential
	if err := readJSON(r.Body, &cred); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	sessionID := s.sessions.PeekSessionID(r)
	res, err := s.auth.Authenticate(r.Context(), cred, sessionID)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrMissingCredentials), errors.Is(err, auth.ErrInvalidWalletAddress):
			writeError(w, http.StatusBadRequest, err)
		case errors.Is(err, auth.ErrInvalidAccessToken), errors.Is(err, token.ErrInvalidSignature):
			writeError(w, http.StatusUnauthorized, err)
		default:
			writeError(w, http.StatusInternalServerError, err)
		}
		return
	}

	if res.RemoveSession {
		s.sessions.ClearSession(w)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":       true,
		"walletAddress": res.WalletAddress,
		"accessToken":   res.AccessToken,
		"removeSession": res.RemoveSession,
	})
}

// ----------------------------------------------------------------------------
// Boards

// handleCreateBoard godoc
//
//	@Summary		Create a board
//	@Description	Create a feedback board owned by the authenticated user. The slug is derived from the name.
//	@Tags			Boards
//	@Accept			json
//	@Produce		json
//	@Security		BearerAuth
//	@Param			board	body		object{name=string,theme=string}	true	"Board data"
//	@Success		200		{object}	model.Board
//	@Failure		400		{object}	map[string]any	"Validation error"
//	@Failure		401		{object}	map[string]any	"Authentication required"
//	@Router			/api/boards [post]
func (s *Server) handleCreateBoard(w http.ResponseWriter, r *http.Request) {
	id, ok := s.resolve(w, r, auth.Required)
	if !ok {
		return
	}
	var req struct {
		Name  string `json:"name"`
		Theme string `json:"theme"`
	}
	if err := readJSON(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	name := sanitizeText(req.Name)
	if name == "" || len(name) > 50 {
		writeError(w, http.StatusBadRequest, errors.New("name must be 1-50 chars"))
		return
	}
	theme := sanitizeText(req.Theme)
	if len(theme) > 30 {
		writeError(w, http.StatusBadRequest, errors.New("theme must be <= 30 chars"))
		return
	}

	board := model.Board{
		ID:        uuid.NewString(),
		Name:      name,
		Theme:     theme,
		UserID:    id.UserID,
		CreatedAt: time.Now(),
	}
	err := s.createWithSlug(slugify(name), func(slug string) error {
		board.Slug = slug
		return s.store.CreateBoard(r.Context(), &board)
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, board)
}

// handleListBoards godoc
//
//	@Summary	List your boards
//	@Tags		Boards
//	@Produce	json
//	@Security	BearerAuth
//	@Success	200	{array}		model.Board
//	@Failure	401	{object}	map[string]any	"Authentication required"
//	@Router		/api/boards [get]
func (s *Server) handleListBoards(w http.ResponseWriter, r *http.Request) {
	id, ok := s.resolve(w, r, auth.Required)
	if !ok {
		return
	}
	boards, err := s.store.ListBoardsByUser(r.Context(), id.UserID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if boards == nil {
		boards = []model.Board{}
	}
	writeJSON(w, http.StatusOK, boards)
}

// handleGetBoard godoc
//
//	@Summary	Get a board
//	@Tags		Boards
//	@Produce	json
//	@Param		id	path		string	true	"Board ID"
//	@Success	200	{object}	model.Board
//	@Failure	404	{object}	map[string]any	"Not found"
//	@Router		/api/boards/{id} [get]
func (s *Server) handleGetBoard(w http.ResponseWriter, r *http.Request, idStr string) {
	if !validUUID(idStr) {
		writeError(w, http.StatusBadRequest, errors.New("invalid board id"))
		return
	}
	board, err := s.store.GetBoard(r.Context(), idStr)
	if err != nil {
		writeError(w, storeStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, board)
}

// handleBoardBySlug godoc
//
//	@Summary		Get a board by slug
//	@Description	Resolve a board by its public slug, including its posts.
//	@Tags			Boards
//	@Produce		json
//	@Param			slug	path		string	true	"Board slug"
//	@Success		200		{object}	map[string]any
//	@Failure		404		{object}	map[string]any	"Not found"
//	@Router			/api/boards/by-slug/{slug} [get]
func (s *Server) handleBoardBySlug(w http.ResponseWriter, r *http.Request, slug string) {
	board, err := s.store.GetBoardBySlug(r.Context(), slug)
	if err != nil {
		writeError(w, storeStatus(err), err)
		return
	}

	viewerID := ""
	if id, _ := s.resolver.Resolve(w, r, auth.Optional); id != nil {
		viewerID = id.UserID
	}
	posts, err := s.store.ListPosts(r.Context(), store.PostListOpts{BoardID: board.ID, ViewerID: viewerID})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if posts == nil {
		posts = []model.Post{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"board": board,
		"posts": posts,
	})
}

// handleUpdateBoard godoc
//
//	@Summary	Update a board
//	@Tags		Boards
//	@Accept		json
//	@Produce	json
//	@Security	BearerAuth
//	@Param		id		path		string								true	"Board ID"
//	@Param		board	body		object{name=string,theme=string}	true	"Fields to update"
//	@Success	200		{object}	model.Board
//	@Failure	403		{object}	map[string]any	"Not the owner"
//	@Router		/api/boards/{id} [put]
func (s *Server) handleUpdateBoard(w http.ResponseWriter, r *http.Request, idStr string) {
	id, ok := s.resolve(w, r, auth.Required)
	if !ok {
		return
	}
	if !validUUID(idStr) {
		writeError(w, http.StatusBadRequest, errors.New("invalid board id"))
		return
	}
	board, err := s.store.GetBoard(r.Context(), idStr)
	if err != nil {
		writeError(w, storeStatus(err), err)
		return
	}
	if board.UserID != id.UserID && !id.IsAdmin() {
		writeError(w, http.StatusForbidden, errors.New("you can only modify your own boards"))
		return
	}

	var req struct {
		Name  *string `json:"name"`
		Theme *string `json:"theme"`
	}
	if err := readJSON(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Name != nil {
		name := sanitizeText(*req.Name)
		if name == "" || len(name) > 50 {
			writeError(w, http.StatusBadRequest, errors.New("name must be 1-50 chars"))
			return
		}
		board.Name = name
	}
	if req.Theme != nil {
		theme := sanitizeText(*req.Theme)
		if len(theme) > 30 {
			writeError(w, http.StatusBadRequest, errors.New("theme must be <= 30 chars"))
			return
		}
		board.Theme = theme
	}
	if err := s.store.UpdateBoard(r.Context(), &board); err != nil {
		writeError(w, storeStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, board)
}

// handleDeleteBoard godoc
//
//	@Summary		Delete a board
//	@Description	Delete a board along with its posts, comments, and upvotes.
//	@Tags			Boards
//	@Produce		json
//	@Security		BearerAuth
//	@Param			id	path		string	true	"Board ID"
//	@Success		200	{object}	map[string]string
//	@Failure		403	{object}	map[string]any	"Not the owner"
//	@Router			/api/boards/{id} [delete]
func (s *Server) handleDeleteBoard(w http.ResponseWriter, r *http.Request, idStr string) {
	id, ok := s.resolve(w, r, auth.Required)
	if !ok {
		return
	}
	if !validUUID(idStr) {
		writeError(w, http.StatusBadRequest, errors.New("invalid board id"))
		return
	}
	board, err := s.store.GetBoard(r.Context(), idStr)
	if err != nil {
		writeError(w, storeStatus(err), err)
		return
	}
	if board.UserID != id.UserID && !id.IsAdmin() {
		writeError(w, http.StatusForbidden, errors.New("you can only delete your own boards"))
		return
	}
	if err := s.store.DeleteBoard(r.Context(), idStr); err != nil {
		writeError(w, storeStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "board deleted"})
}

// ----------------------------------------------------------------------------
// Posts

// handleListPosts godoc
//
//	@Summary		List posts
//	@Description	List posts, newest first. With a valid bearer token the isUpvoted flag reflects the caller's upvotes.
//	@Tags			Posts
//	@Produce		json
//	@Param			boardId	query		string	false	"Filter by board"
//	@Param			search	query		string	false	"Substring match on title and description"
//	@Success		200		{array}		model.Post
//	@Failure		400		{object}	map[string]any	"Validation error"
//	@Router			/api/posts [get]
func (s *Server) handleListPosts(w http.ResponseWriter, r *http.Request) {
	opts := store.PostListOpts{
		BoardID: r.URL.Query().Get("boardId"),
		Search:  sanitizeText(r.URL.Query().Get("search")),
	}
	if opts.BoardID != "" && !validUUID(opts.BoardID) {
		writeError(w, http.StatusBadRequest, errors.New("invalid board id"))
		return
	}
	if id, _ := s.resolver.Resolve(w, r, auth.Optional); id != nil {
		opts.ViewerID = id.UserID
	}

	posts, err := s.store.ListPosts(r.Context(), opts)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if posts == nil {
		posts = []model.Post{}
	}
	writeJSON(w, http.StatusOK, posts)
}

// handleCreatePost godoc
//
//	@Summary		Create a post
//	@Description	Create a feedback post. Works without authentication: anonymous callers act as the session's provisional user and their content is merged into their account when they log in.
//	@Tags			Posts
//	@Accept			json
//	@Produce		json
//	@Security		BearerAuth
//	@Param			post	body		object{title=string,description=string,boardId=string}	true	"Post data"
//	@Success		200		{object}	model.Post
//	@Failure		400		{object}	map[string]any	"Validation error"
//	@Failure		429		{object}	map[string]any	"Rate limited"
//	@Router			/api/posts [post]
func (s *Server) handleCreatePost(w http.ResponseWriter, r *http.Request) {
	id, ok := s.resolve(w, r, auth.AnonymousCapable)
	if !ok {
		return
	}
	var req struct {
		Title       string `json:"title"`
		Description string `json:"description"`
		BoardID     string `json:"boardId"`
	}
	if err := readJSON(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	title := sanitizeText(req.Title)
	if title == "" || len(title) > 100 {
		writeError(w, http.StatusBadRequest, errors.New("title must be 1-100 chars"))
		return
	}
	description := sanitizeText(req.Description)
	if len(description) > 2000 {
		writeError(w, http.StatusBadRequest, errors.New("description must be <= 2000 chars"))
		return
	}
	if !validUUID(req.BoardID) {
		writeError(w, http.StatusBadRequest, errors.New("invalid board id"))
		return
	}
	if _, err := s.store.GetBoard(r.Context(), req.BoardID); err != nil {
		writeError(w, storeStatus(err), err)
		return
	}

	post := model.Post{
		ID:          uuid.NewString(),
		Title:       title,
		Description: description,
		Status:      model.StatusNew,
		BoardID:     req.BoardID,
		UserID:      id.UserID,
		CreatedAt:   time.Now(),
	}
	err := s.createWithSlug(slugify(title), func(slug string) error {
		post.Slug = slug
		return s.store.CreatePost(r.Context(), &post)
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	created, err := s.store.GetPost(r.Context(), post.ID, id.UserID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, created)
}

// handleGetPost godoc
//
//	@Summary	Get a post
//	@Tags		Posts
//	@Produce	json
//	@Param		id	path		string	true	"Post ID"
//	@Success	200	{object}	model.Post
//	@Failure	404	{object}	map[string]any	"Not found"
//	@Router		/api/posts/{id} [get]
func (s *Server) handleGetPost(w http.ResponseWriter, r *http.Request, idStr string) {
	if !validUUID(idStr) {
		writeError(w, http.StatusBadRequest, errors.New("invalid post id"))
		return
	}
	viewerID := ""
	if id, _ := s.resolver.Resolve(w, r, auth.Optional); id != nil {
		viewerID = id.UserID
	}
	post, err := s.store.GetPost(r.Context(), idStr, viewerID)
	if err != nil {
		writeError(w, storeStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, post)
}

// handlePostBySlug godoc
//
//	@Summary	Get a post by slug
//	@Tags		Posts
//	@Produce	json
//	@Param		slug	path		string	true	"Post slug"
//	@Success	200		{object}	model.Post
//	@Failure	404		{object}	map[string]any	"Not found"
//	@Router		/api/posts/by-slug/{slug} [get]
func (s *Server) handlePostBySlug(w http.ResponseWriter, r *http.Request, slug string) {
	viewerID := ""
	if id, _ := s.resolver.Resolve(w, r, auth.Optional); id != nil {
		viewerID = id.UserID
	}
	post, err := s.store.FindPostBySlug(r.Context(), slug, viewerID)
	if err != nil {
		writeError(w, storeStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, post)
}

// handleUpdatePost godoc
//
//	@Summary		Update a post
//	@Description	Post authors edit title and description; workflow status is changed by the board owner or an admin.
//	@Tags			Posts
//	@Accept			json
//	@Produce		json
//	@Security		BearerAuth
//	@Param			id		path		string													true	"Post ID"
//	@Param			post	body		object{title=string,description=string,status=string}	true	"Fields to update"
//	@Success		200		{object}	model.Post
//	@Failure		403		{object}	map[string]any	"Not allowed"
//	@Router			/api/posts/{id} [put]
func (s *Server) handleUpdatePost(w http.ResponseWriter, r *http.Request, idStr string) {
	id, ok := s.resolve(w, r, auth.AnonymousCapable)
	if !ok {
		return
	}
	if !validUUID(idStr) {
		writeError(w, http.StatusBadRequest, errors.New("invalid post id"))
		return
	}
	post, err := s.store.GetPost(r.Context(), idStr, id.UserID)
	if err != nil {
		writeError(w, storeStatus(err), err)
		return
	}

	var req struct {
		Title       *string `json:"title"`
		Description *string `json:"description"`
		Status      *string `json:"status"`
	}
	if err := readJSON(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	isOwner := post.UserID == id.UserID
	if (req.Title != nil || req.Description != nil) && !isOwner && !id.IsAdmin() {
		writeError(w, http.StatusForbidden, errors.New("you can only edit your own posts"))
		return
	}
	if req.Status != nil && *req.Status != post.Status {
		if !s.canModerate(r, id, post.BoardID) {
			writeError(w, http.StatusForbidden, errors.New("only the board owner can change post status"))
			return
		}
		if !model.ValidStatus(*req.Status) {
			writeError(w, http.StatusBadRequest, errors.New("invalid status"))
			return
		}
		post.Status = *req.Status
	}
	if req.Title != nil {
		title := sanitizeText(*req.Title)
		if title == "" || len(title) > 100 {
			writeError(w, http.StatusBadRequest, errors.New("title must be 1-100 chars"))
			return
		}
		post.Title = title
	}
	if req.Description != nil {
		description := sanitizeText(*req.Description)
		if len(description) > 2000 {
			writeError(w, http.StatusBadRequest, errors.New("description must be <= 2000 chars"))
			return
		}
		post.Description = description
	}

	if err := s.store.UpdatePost(r.Context(), &post); err != nil {
		writeError(w, storeStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, post)
}

// handleDeletePost godoc
//
//	@Summary	Delete a post
//	@Tags		Posts
//	@Produce	json
//	@Security	BearerAuth
//	@Param		id	path		string	true	"Post ID"
//	@Success	200	{object}	map[string]string
//	@Failure	403	{object}	map[string]any	"Not the owner"
//	@Router		/api/posts/{id} [delete]
func (s *Server) handleDeletePost(w http.ResponseWriter, r *http.Request, idStr string) {
	id, ok := s.resolve(w, r, auth.AnonymousCapable)
	if !ok {
		return
	}
	if !validUUID(idStr) {
		writeError(w, http.StatusBadRequest, errors.New("invalid post id"))
		return
	}
	post, err := s.store.GetPost(r.Context(), idStr, id.UserID)
	if err != nil {
		writeError(w, storeStatus(err), err)
		return
	}
	if post.UserID != id.UserID && !s.canModerate(r, id, post.BoardID) {
		writeError(w, http.StatusForbidden, errors.New("you can only delete your own posts"))
		return
	}
	if err := s.store.DeletePost(r.Context(), idStr); err != nil {
		writeError(w, storeStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "post deleted"})
}

// handleUpvotePost godoc
//
//	@Summary		Toggle an upvote
//	@Description	Add the caller's upvote to a post, or remove it when already present.
//	@Tags			Posts
//	@Produce		json
//	@Security		BearerAuth
//	@Param			id	path		string	true	"Post ID"
//	@Success		200	{object}	map[string]any
//	@Failure		401	{object}	map[string]any	"Authentication required"
//	@Failure		404	{object}	map[string]any	"Not found"
//	@Router			/api/posts/{id}/upvote [post]
func (s *Server) handleUpvotePost(w http.ResponseWriter, r *http.Request, idStr string) {
	id, ok := s.resolve(w, r, auth.Required)
	if !ok {
		return
	}
	if !validUUID(idStr) {
		writeError(w, http.StatusBadRequest, errors.New("invalid post id"))
		return
	}
	if _, err := s.store.GetPost(r.Context(), idStr, id.UserID); err != nil {
		writeError(w, storeStatus(err), err)
		return
	}
	upvoted, err := s.store.ToggleUpvote(r.Context(), idStr, id.UserID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	post, err := s.store.GetPost(r.Context(), idStr, id.UserID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"upvoted":     upvoted,
		"upvoteCount": post.UpvoteCount,
	})
}

// ----------------------------------------------------------------------------
// Comments

// handleListComments godoc
//
//	@Summary	List comments on a post
//	@Tags		Comments
//	@Produce	json
//	@Param		postId	query		string	true	"Post ID"
//	@Success	200		{array}		model.Comment
//	@Failure	400		{object}	map[string]any	"Validation error"
//	@Router		/api/comments [get]
func (s *Server) handleListComments(w http.ResponseWriter, r *http.Request) {
	postID := r.URL.Query().Get("postId")
	if !validUUID(postID) {
		writeError(w, http.StatusBadRequest, errors.New("invalid post id"))
		return
	}
	comments, err := s.store.ListCommentsByPost(r.Context(), postID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if comments == nil {
		comments = []model.Comment{}
	}
	writeJSON(w, http.StatusOK, comments)
}

// handleCreateComment godoc
//
//	@Summary		Post a comment
//	@Description	Comment on a post. Works without authentication via the anonymous session.
//	@Tags			Comments
//	@Accept			json
//	@Produce		json
//	@Security		BearerAuth
//	@Param			comment	body		object{content=string,postId=string}	true	"Comment data"
//	@Success		200		{object}	model.Comment
//	@Failure		400		{object}	map[string]any	"Validation error"
//	@Failure		429		{object}	map[string]any	"Rate limited"
//	@Router			/api/comments [post]
func (s *Server) handleCreateComment(w http.ResponseWriter, r *http.Request) {
	id, ok := s.resolve(w, r, auth.AnonymousCapable)
	if !ok {
		return
	}
	var req struct {
		Content string `json:"content"`
		PostID  string `json:"postId"`
	}
	if err := readJSON(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	content := sanitizeText(req.Content)
	if content == "" || len(content) > 1000 {
		writeError(w, http.StatusBadRequest, errors.New("content must be 1-1000 chars"))
		return
	}
	if !validUUID(req.PostID) {
		writeError(w, http.StatusBadRequest, errors.New("invalid post id"))
		return
	}
	if _, err := s.store.GetPost(r.Context(), req.PostID, ""); err != nil {
		writeError(w, storeStatus(err), err)
		return
	}

	comment := model.Comment{
		ID:        uuid.NewString(),
		Content:   content,
		PostID:    req.PostID,
		UserID:    id.UserID,
		CreatedAt: time.Now(),
	}
	if err := s.store.CreateComment(r.Context(), &comment); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	created, err := s.store.GetComment(r.Context(), comment.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, created)
}

// handleUpdateComment godoc
//
//	@Summary	Edit a comment
//	@Tags		Comments
//	@Accept		json
//	@Produce	json
//	@Security	BearerAuth
//	@Param		id		path		string					true	"Comment ID"
//	@Param		comment	body		object{content=string}	true	"New content"
//	@Success	200		{object}	model.Comment
//	@Failure	403		{object}	map[string]any	"Not the author"
//	@Router		/api/comments/{id} [patch]
func (s *Server) handleUpdateComment(w http.ResponseWriter, r *http.Request, idStr string) {
	id, ok := s.resolve(w, r, auth.AnonymousCapable)
	if !ok {
		return
	}
	if !validUUID(idStr) {
		writeError(w, http.StatusBadRequest, errors.New("invalid comment id"))
		return
	}
	comment, err := s.store.GetComment(r.Context(), idStr)
	if err != nil {
		writeError(w, storeStatus(err), err)
		return
	}
	if comment.UserID != id.UserID && !id.IsAdmin() {
		writeError(w, http.StatusForbidden, errors.New("you can only edit your own comments"))
		return
	}

	var req struct {
		Content string `json:"content"`
	}
	if err := readJSON(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	content := sanitizeText(req.Content)
	if content == "" || len(content) > 1000 {
		writeError(w, http.StatusBadRequest, errors.New("content must be 1-1000 chars"))
		return
	}
	if err := s.store.UpdateComment(r.Context(), idStr, content); err != nil {
		writeError(w, storeStatus(err), err)
		return
	}
	comment.Content = content
	writeJSON(w, http.StatusOK, comment)
}

// handleDeleteComment godoc
//
//	@Summary	Delete a comment
//	@Tags		Comments
//	@Produce	json
//	@Security	BearerAuth
//	@Param		id	path		string	true	"Comment ID"
//	@Success	200	{object}	map[string]string
//	@Failure	403	{object}	map[string]any	"Not the author"
//	@Router		/api/comments/{id} [delete]
func (s *Server) handleDeleteComment(w http.ResponseWriter, r *http.Request, idStr string) {
	id, ok := s.resolve(w, r, auth.AnonymousCapable)
	if !ok {
		return
	}
	if !validUUID(idStr) {
		writeError(w, http.StatusBadRequest, errors.New("invalid comment id"))
		return
	}
	comment, err := s.store.GetComment(r.Context(), idStr)
	if err != nil {
		writeError(w, storeStatus(err), err)
		return
	}
	if comment.UserID != id.UserID && !id.IsAdmin() {
		writeError(w, http.StatusForbidden, errors.New("you can only delete your own comments"))
		return
	}
	if err := s.store.DeleteComment(r.Context(), idStr); err != nil {
		writeError(w, storeStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "comment deleted"})
}

// ----------------------------------------------------------------------------
// Users

// handleListUsers godoc
//
//	@Summary	List users (admin)
//	@Tags		Users
//	@Produce	json
//	@Security	BearerAuth
//	@Param		page	query		int	false	"Page number (1-based)"
//	@Param		limit	query		int	false	"Page size (max 100)"
//	@Success	200		{object}	map[string]any
//	@Failure	403		{object}	map[string]any	"Admin required"
//	@Router		/api/users [get]
func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.resolve(w, r, auth.AdminOnly); !ok {
		return
	}
	page := parseIntDefault(r.URL.Query().Get("page"), 1)
	if page < 1 {
		page = 1
	}
	limit := parseIntDefault(r.URL.Query().Get("limit"), 10)
	if limit < 1 {
		limit = 10
	}
	if limit > 100 {
		limit = 100
	}

	users, total, err := s.store.ListUsers(r.Context(), store.UserListOpts{
		Offset: (page - 1) * limit,
		Limit:  limit,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if users == nil {
		users = []model.User{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"users": users,
		"total": total,
		"page":  page,
		"limit": limit,
	})
}

// handleMe godoc
//
//	@Summary	Get your user record
//	@Tags		Users
//	@Produce	json
//	@Security	BearerAuth
//	@Success	200	{object}	model.User
//	@Failure	401	{object}	map[string]any	"Authentication required"
//	@Router		/api/users/me [get]
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	id, ok := s.resolve(w, r, auth.Required)
	if !ok {
		return
	}
	user, err := s.store.GetUser(r.Context(), id.UserID)
	if err != nil {
		writeError(w, storeStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// ----------------------------------------------------------------------------
// Meta

// handleVersion godoc
//
//	@Summary	Get server version
//	@Tags		Meta
//	@Produce	json
//	@Success	200	{object}	map[string]string
//	@Router		/api/version [get]
func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"version":    s.cfg.Version,
		"commit":     s.cfg.Commit,
		"build_time": s.cfg.BuildTime,
	})
}

// handleGetStats godoc
//
//	@Summary	Get site statistics
//	@Tags		Meta
//	@Produce	json
//	@Success	200	{object}	model.SiteStats
//	@Router		/api/stats [get]
func (s *Server) handleGetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.GetSiteStats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) serveOpenAPIJSON(w http.ResponseWriter, r *http.Request) {
	doc, err := swag.ReadDoc()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = io.WriteString(w, doc)
}

// ----------------------------------------------------------------------------
// Admission

func (s *Server) allowRateLimit(w http.ResponseWriter, r *http.Request) bool {
	class := s.classes.Classify(r.URL.Path, r.Method)
	if class.Limit <= 0 {
		return true
	}
	key := fmt.Sprintf("%s:%s:%s", s.clientIP(r), r.URL.Path, r.Method)
	if ok, retry := s.limiter.Allow(key, class.Limit, class.Window); !ok {
		writeRateLimit(w, retry)
		return false
	}
	return true
}

// resolve applies a route policy and writes the admission error itself.
func (s *Server) resolve(w http.ResponseWriter, r *http.Request, policy auth.Policy) (*auth.Identity, bool) {
	id, err := s.resolver.Resolve(w, r, policy)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrUnauthorized):
			writeError(w, http.StatusUnauthorized, err)
		case errors.Is(err, auth.ErrForbidden):
			writeError(w, http.StatusForbidden, err)
		default:
			writeError(w, http.StatusInternalServerError, err)
		}
		return nil, false
	}
	return id, true
}

// canModerate reports whether id may manage posts on the board: admins and
// the board owner.
func (s *Server) canModerate(r *http.Request, id *auth.Identity, boardID string) bool {
	if id.IsAdmin() {
		return true
	}
	board, err := s.store.GetBoard(r.Context(), boardID)
	if err != nil {
		return false
	}
	return board.UserID == id.UserID
}

func (s *Server) clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		return strings.TrimSpace(parts[0])
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// createWithSlug runs create with the base slug, then numbered variants while
// the slug is taken.
func (s *Server) createWithSlug(base string, create func(slug string) error) error {
	for i := 1; i <= 50; i++ {
		slug := base
		if i > 1 {
			slug = fmt.Sprintf("%s-%d", base, i)
		}
		err := create(slug)
		if !errors.Is(err, store.ErrDuplicateSlug) {
			return err
		}
	}
	// Pathological collision run; fall back to a unique suffix.
	return create(base + "-" + uuid.NewString()[:8])
}

// ----------------------------------------------------------------------------
// Helpers

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]any{"success": false, "message": err.Error()})
}

func writeRateLimit(w http.ResponseWriter, retry time.Duration) {
	w.Header().Set("Retry-After", strconv.Itoa(int(retry.Seconds())+1))
	writeJSON(w, http.StatusTooManyRequests, map[string]any{
		"success": false,
		"message": "Too many requests, please try again later.",
	})
}

// storeStatus maps store errors onto HTTP statuses.
func storeStatus(err error) int {
	if errors.Is(err, store.ErrNotFound) {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

func notFound(w http.ResponseWriter) {
	writeError(w, http.StatusNotFound, errors.New("not found"))
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
}

func readJSON(body io.ReadCloser, dest any) error {
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	return dec.Decode(dest)
}

func parseIntDefault(value string, def int) int {
	if value == "" {
		return def
	}
	if n, err := strconv.Atoi(value); err == nil {
		return n
	}
	return def
}

func validUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil && len(s) == 36
}

var (
	tagPattern     = regexp.MustCompile(`<[^>]*>`)
	controlPattern = regexp.MustCompile(`[\x00-\x08\x0b\x0c\x0e-\x1f\x7f]`)
	spacePattern   = regexp.MustCompile(`\s+`)
	slugPattern    = regexp.MustCompile(`[^a-z0-9]+`)
)

// sanitizeText strips markup and control characters and collapses runs of
// whitespace.
func sanitizeText(s string) string {
	s = tagPattern.ReplaceAllString(s, "")
	s = controlPattern.ReplaceAllString(s, "")
	s = spacePattern.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

func slugify(s string) string {
	s = strings.ToLower(s)
	s = slugPattern.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-")
	if s == "" {
		s = uuid.NewString()[:8]
	}
	return s
}

func splitPath(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}
