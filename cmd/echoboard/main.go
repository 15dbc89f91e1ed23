package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/echoboard/echoboard/internal/auth"
	"github.com/echoboard/echoboard/internal/client"
	"github.com/echoboard/echoboard/internal/config"
	httpapp "github.com/echoboard/echoboard/internal/http"
	"github.com/echoboard/echoboard/internal/rate"
	"github.com/echoboard/echoboard/internal/session"
	"github.com/echoboard/echoboard/internal/store/sqlite"
	"github.com/echoboard/echoboard/internal/token"
)

// Set at build time via -ldflags.
var (
	version   = "dev"
	commit    = ""
	buildTime = ""
)

// CLIConfig holds the CLI client configuration persisted to disk.
type CLIConfig struct {
	BaseURL    string `json:"base_url"`
	WalletName string `json:"wallet_name"`
	Address    string `json:"address"`
	PrivateKey string `json:"private_key"`
	Token      string `json:"token"`
}

func main() {
	if len(os.Args) < 2 {
		runServer()
		return
	}

	cmd := os.Args[1]

	if cmd == "-h" || cmd == "--help" || cmd == "help" {
		printUsage()
		return
	}

	if cmd == "-v" || cmd == "--version" || cmd == "version" {
		fmt.Printf("echoboard %s\n", version)
		return
	}

	if strings.HasPrefix(cmd, "-") {
		runServer()
		return
	}

	args := os.Args[2:]

	switch cmd {
	case "server", "serve":
		runServer()
	case "login", "auth":
		cmdLogin(args)
	case "board":
		cmdBoard(args)
	case "post":
		cmdPost(args)
	case "comment":
		cmdComment(args)
	case "upvote":
		cmdUpvote(args)
	case "read", "list":
		cmdRead(args)
	case "status", "whoami":
		cmdStatus(args)
	case "use", "switch":
		cmdUse(args)
	case "wallets":
		cmdWallets(args)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`echoboard - Feedback boards with wallet login

Usage: echoboard <command> [options]

Quick Start:
  echoboard login --name my-wallet                # Generate wallet + sign in
  echoboard board --create --name "My Product"
  echoboard post --board <id> --title "Dark mode please"

Client Commands:
  login               Generate (or reuse) a wallet and sign in
  board               Create or list boards
  post                Create a feedback post
  comment             Comment on a post
  upvote              Toggle your upvote on a post
  read                Browse a board by slug
  status              Show current wallet and token status

Multi-Wallet:
  wallets             List saved wallets
  use <name>          Switch to a different wallet

Server:
  server              Start the Echoboard server (default if no command)

Environment Variables (server):
  ECHOBOARD_ADDR            Listen address (default: :8080)
  ECHOBOARD_DB              Database path (default: echoboard.db)
  ECHOBOARD_JWT_SECRET      Token signing secret
  ECHOBOARD_TOKEN_TTL       Token lifetime (default: 24h)
  ECHOBOARD_COOKIE_DOMAIN   Anonymous-session cookie domain
  ECHOBOARD_PRODUCTION      Set Secure on cookies (default: false)`)
}

// ============================================================================
// SERVER
// ============================================================================

func runServer() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("bad configuration: %v", err)
	}
	cfg.Version = version
	cfg.Commit = commit
	cfg.BuildTime = buildTime

	store, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		log.Fatalf("failed to open db: %v", err)
	}
	defer store.Close()

	codec := token.NewCodec(cfg.JWTSecret)
	sessions := session.NewRegistry(store, cfg.Production, cfg.CookieDomain)
	authSvc := auth.NewService(store, codec, cfg.TokenTTL)
	resolver := auth.NewResolver(codec, sessions)
	limiter := rate.NewMemory()

	server := httpapp.NewServer(store, authSvc, resolver, sessions, limiter, cfg)

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Printf("echoboard listening on %s", cfg.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	log.Println("shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(ctx)
}

// ============================================================================
// CLIENT COMMANDS
// ============================================================================

func cmdLogin(args []string) {
	fs := flag.NewFlagSet("login", flag.ExitOnError)
	name := fs.String("name", "", "Wallet name (required for a new wallet)")
	url := fs.String("url", "http://localhost:8080", "Echoboard server URL")
	fs.Parse(args)

	cfg, err := loadCLIConfig()
	if err != nil {
		if *name == "" {
			fmt.Fprintln(os.Stderr, "Error: --name is required for first-time login")
			fmt.Fprintln(os.Stderr, "Usage: echoboard login --name <wallet-name>")
			os.Exit(1)
		}
		w, err := client.GenerateWallet()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error generating wallet: %v\n", err)
			os.Exit(1)
		}
		cfg = CLIConfig{
			BaseURL:    strings.TrimSuffix(*url, "/"),
			WalletName: *name,
			Address:    w.Address,
			PrivateKey: w.KeyHex(),
		}
		if err := saveCLIConfig(cfg); err != nil {
			fmt.Fprintf(os.Stderr, "Error saving config: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("✓ Generated wallet '%s' (%s)\n", *name, w.Address)
	}

	w, err := client.WalletFromKey(cfg.PrivateKey)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading wallet: %v\n", err)
		os.Exit(1)
	}

	c := client.New(cfg.BaseURL)
	if err := c.Authenticate(w); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	cfg.Token = c.Token
	if err := saveCLIConfig(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error saving token: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("✓ Signed in as %s\n", w.Address)
}

func cmdBoard(args []string) {
	fs := flag.NewFlagSet("board", flag.ExitOnError)
	create := fs.Bool("create", false, "Create a board")
	name := fs.String("name", "", "Board name (with --create)")
	theme := fs.String("theme", "", "Optional theme")
	fs.Parse(args)

	c, err := loadAuthenticatedClient()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if *create {
		if *name == "" {
			fmt.Fprintln(os.Stderr, "Error: --name is required")
			os.Exit(1)
		}
		board, err := c.CreateBoard(*name, *theme)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("✓ Created board '%s'\n", board.Name)
		fmt.Printf("  ID:   %s\n", board.ID)
		fmt.Printf("  Slug: %s\n", board.Slug)
		return
	}

	boards, err := c.ListBoards()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if len(boards) == 0 {
		fmt.Println("No boards yet. Create one with: echoboard board --create --name <name>")
		return
	}
	fmt.Println("Your boards:")
	for _, b := range boards {
		fmt.Printf("  %s  %s (/%s)\n", b.ID, b.Name, b.Slug)
	}
}

func cmdPost(args []string) {
	fs := flag.NewFlagSet("post", flag.ExitOnError)
	boardID := fs.String("board", "", "Board ID (required)")
	title := fs.String("title", "", "Post title (required)")
	text := fs.String("text", "", "Post description")
	fs.Parse(args)

	if *boardID == "" || *title == "" {
		fmt.Fprintln(os.Stderr, "Error: --board and --title are required")
		os.Exit(1)
	}

	// Posting works without login too; an authenticated client attributes
	// the post to the wallet account.
	c := loadClientMaybeAuthenticated()

	post, err := c.CreatePost(*boardID, *title, *text)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("✓ Posted: %s\n", post.Title)
	fmt.Printf("  ID: %s\n", post.ID)
}

func cmdComment(args []string) {
	fs := flag.NewFlagSet("comment", flag.ExitOnError)
	postID := fs.String("post", "", "Post ID (required)")
	text := fs.String("text", "", "Comment text (required)")
	fs.Parse(args)

	if *postID == "" || *text == "" {
		fmt.Fprintln(os.Stderr, "Error: --post and --text are required")
		os.Exit(1)
	}

	c := loadClientMaybeAuthenticated()

	comment, err := c.CreateComment(*postID, *text)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("✓ Commented on post %s\n", *postID)
	fmt.Printf("  ID: %s\n", comment.ID)
}

func cmdUpvote(args []string) {
	fs := flag.NewFlagSet("upvote", flag.ExitOnError)
	postID := fs.String("post", "", "Post ID (required)")
	fs.Parse(args)

	if *postID == "" {
		fmt.Fprintln(os.Stderr, "Error: --post is required")
		os.Exit(1)
	}

	c, err := loadAuthenticatedClient()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	upvoted, err := c.Upvote(*postID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if upvoted {
		fmt.Printf("✓ Upvoted post %s\n", *postID)
	} else {
		fmt.Printf("✓ Removed upvote from post %s\n", *postID)
	}
}

func cmdRead(args []string) {
	fs := flag.NewFlagSet("read", flag.ExitOnError)
	slug := fs.String("board", "", "Board slug (required)")
	postID := fs.String("post", "", "Show a single post with comments")
	fs.Parse(args)

	cfg, _ := loadCLIConfig()
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	c := client.New(baseURL)

	if *postID != "" {
		post, err := c.GetPost(*postID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("\n%s [%s]\n", post.Title, post.Status)
		fmt.Printf("  %d upvotes | %d comments\n", post.UpvoteCount, post.CommentCount)
		if post.Description != "" {
			fmt.Printf("\n  %s\n", post.Description)
		}
		comments, err := c.ListComments(*postID)
		if err == nil && len(comments) > 0 {
			fmt.Printf("\n  --- Comments (%d) ---\n", len(comments))
			for _, comment := range comments {
				name := "Anonymous"
				if comment.User != nil {
					name = comment.User.Name
				}
				fmt.Printf("  [%s] %s: %s\n", comment.ID[:8], name, comment.Content)
			}
		}
		return
	}

	if *slug == "" {
		fmt.Fprintln(os.Stderr, "Error: --board <slug> or --post <id> is required")
		os.Exit(1)
	}

	board, posts, err := c.BoardBySlug(*slug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("\n%s\n\n", board.Name)
	for i, p := range posts {
		fmt.Printf("%d. %s [%s]\n", i+1, p.Title, p.Status)
		fmt.Printf("   %d upvotes | %d comments | #%s\n\n", p.UpvoteCount, p.CommentCount, p.ID)
	}
}

func cmdStatus(args []string) {
	cfg, err := loadCLIConfig()
	if err != nil {
		fmt.Println("Status: Not initialized")
		fmt.Println("\nRun: echoboard login --name <name>")
		return
	}

	fmt.Printf("Wallet: %s\n", cfg.WalletName)
	fmt.Printf("Server: %s\n", cfg.BaseURL)
	fmt.Printf("Addr:   %s\n", cfg.Address)

	if cfg.Token == "" {
		fmt.Println("Token:  Not signed in")
		fmt.Println("\nRun: echoboard login")
	} else {
		fmt.Println("Token:  Present (re-login if rejected)")
	}
}

func cmdUse(args []string) {
	if len(args) == 0 {
		current := getCurrentWallet()
		if current == "" {
			fmt.Println("No wallet selected")
		} else {
			fmt.Printf("Current wallet: %s\n", current)
		}
		fmt.Println("\nUsage: echoboard use <wallet-name>")
		return
	}

	walletName := args[0]
	if _, err := os.Stat(walletConfigPath(walletName)); os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "Error: wallet '%s' not found\n", walletName)
		fmt.Fprintln(os.Stderr, "Run 'echoboard wallets' to see saved wallets")
		os.Exit(1)
	}

	if err := setCurrentWallet(walletName); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("✓ Switched to '%s'\n", walletName)
}

func cmdWallets(args []string) {
	wallets, err := listWallets()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if len(wallets) == 0 {
		fmt.Println("No wallets saved")
		fmt.Println("\nRun: echoboard login --name <name>")
		return
	}

	current := getCurrentWallet()
	fmt.Println("Saved wallets:")
	for _, w := range wallets {
		if w == current {
			fmt.Printf("  * %s (current)\n", w)
		} else {
			fmt.Printf("    %s\n", w)
		}
	}
}

// ============================================================================
// HELPERS
// ============================================================================

func echoboardDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".echoboard")
}

func currentWalletPath() string {
	return filepath.Join(echoboardDir(), "current")
}

func walletConfigPath(walletName string) string {
	return filepath.Join(echoboardDir(), "wallets", walletName, "config.json")
}

func getCurrentWallet() string {
	data, err := os.ReadFile(currentWalletPath())
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

func setCurrentWallet(walletName string) error {
	if err := os.MkdirAll(echoboardDir(), 0700); err != nil {
		return err
	}
	return os.WriteFile(currentWalletPath(), []byte(walletName), 0600)
}

func listWallets() ([]string, error) {
	walletsDir := filepath.Join(echoboardDir(), "wallets")
	entries, err := os.ReadDir(walletsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var wallets []string
	for _, e := range entries {
		if e.IsDir() {
			if _, err := os.Stat(filepath.Join(walletsDir, e.Name(), "config.json")); err == nil {
				wallets = append(wallets, e.Name())
			}
		}
	}
	return wallets, nil
}

func loadCLIConfig() (CLIConfig, error) {
	current := getCurrentWallet()
	if current == "" {
		return CLIConfig{}, errors.New("no wallet selected - run 'echoboard login --name <name>' or 'echoboard use <name>'")
	}
	data, err := os.ReadFile(walletConfigPath(current))
	if err != nil {
		return CLIConfig{}, errors.New("not initialized")
	}
	var cfg CLIConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return CLIConfig{}, err
	}
	return cfg, nil
}

func saveCLIConfig(cfg CLIConfig) error {
	path := walletConfigPath(cfg.WalletName)
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	data, _ := json.MarshalIndent(cfg, "", "  ")
	if err := os.WriteFile(path, data, 0600); err != nil {
		return err
	}
	return setCurrentWallet(cfg.WalletName)
}

func loadAuthenticatedClient() (*client.Client, error) {
	cfg, err := loadCLIConfig()
	if err != nil {
		return nil, err
	}
	if cfg.Token == "" {
		return nil, errors.New("not signed in - run 'echoboard login'")
	}
	c := client.New(cfg.BaseURL)
	c.Token = cfg.Token
	return c, nil
}

// loadClientMaybeAuthenticated returns an authenticated client when a wallet
// is signed in, and an anonymous one otherwise.
func loadClientMaybeAuthenticated() *client.Client {
	if c, err := loadAuthenticatedClient(); err == nil {
		return c
	}
	cfg, _ := loadCLIConfig()
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	return client.New(baseURL)
}
