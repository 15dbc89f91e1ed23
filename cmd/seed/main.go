package main

import (
	"flag"
	"log"
	"math/rand"
	"time"

	"github.com/echoboard/echoboard/internal/client"
)

var boards = []struct {
	name  string
	theme string
}{
	{"Echoboard Feedback", "indigo"},
	{"Mobile App", "emerald"},
	{"API & Integrations", "amber"},
}

var posts = []struct {
	title       string
	description string
}{
	{"Dark mode", "Reading the roadmap at night burns my eyes. A dark theme would help a lot."},
	{"Keyboard shortcuts", "Power users want to triage feedback without touching the mouse."},
	{"Slack notifications", "Ping a channel when a post changes status."},
	{"Export to CSV", "We review feedback in spreadsheets during planning."},
	{"Public roadmap page", "Let visitors see what is planned without signing in."},
	{"Merge duplicate posts", "The same request shows up five times with different wording."},
	{"Email digests", "A weekly summary of new posts per board."},
	{"Custom statuses", "Our workflow has a 'needs design' stage that doesn't map to the defaults."},
	{"Rate limit headers", "Expose the remaining quota so API clients can back off early."},
	{"Webhooks", "Fire an event on every new post and comment."},
}

var comments = []string{
	"This would save our team hours every week.",
	"We need this too. Any timeline?",
	"Workaround: we script it against the API for now.",
	"Please prioritize this one.",
	"Came here to request exactly this.",
	"This is the only thing keeping us on the old tool.",
	"Happy to beta test.",
	"Linking our internal ticket to this post.",
	"Upvoted. Our customers ask about this constantly.",
	"Would be great if this also worked for comments.",
}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "Echoboard server URL")
	flag.Parse()

	log.Printf("Seeding database at %s...\n", *baseURL)

	// One wallet per board owner, plus a pool of commenters.
	var owners []*client.Client
	for range boards {
		c, err := authenticatedClient(*baseURL)
		if err != nil {
			log.Fatalf("create board owner: %v", err)
		}
		owners = append(owners, c)
	}

	var visitors []*client.Client
	for i := 0; i < 5; i++ {
		c, err := authenticatedClient(*baseURL)
		if err != nil {
			log.Fatalf("create visitor: %v", err)
		}
		visitors = append(visitors, c)
	}
	// One anonymous visitor exercising the session flow.
	visitors = append(visitors, client.New(*baseURL))

	var boardIDs []string
	for i, b := range boards {
		board, err := owners[i].CreateBoard(b.name, b.theme)
		if err != nil {
			log.Fatalf("create board %q: %v", b.name, err)
		}
		boardIDs = append(boardIDs, board.ID)
		log.Printf("✓ Created board %q (/%s)", board.Name, board.Slug)
	}

	var postIDs []string
	for _, p := range posts {
		c := visitors[rand.Intn(len(visitors))]
		post, err := c.CreatePost(boardIDs[rand.Intn(len(boardIDs))], p.title, p.description)
		if err != nil {
			log.Printf("✗ Failed to post: %v", err)
			continue
		}
		postIDs = append(postIDs, post.ID)
		log.Printf("✓ Posted %q", post.Title)

		// Small delay to spread out created_at times
		time.Sleep(50 * time.Millisecond)
	}

	for _, postID := range postIDs {
		numComments := rand.Intn(3) + 1
		for i := 0; i < numComments; i++ {
			c := visitors[rand.Intn(len(visitors))]
			if _, err := c.CreateComment(postID, comments[rand.Intn(len(comments))]); err != nil {
				log.Printf("✗ Failed to comment: %v", err)
			}
		}
	}

	for _, c := range visitors {
		if !c.IsAuthenticated() {
			continue
		}
		for _, postID := range postIDs {
			if rand.Float32() < 0.5 {
				if _, err := c.Upvote(postID); err != nil {
					log.Printf("✗ Failed to upvote: %v", err)
				}
			}
		}
	}

	log.Printf("Done: %d boards, %d posts", len(boardIDs), len(postIDs))
}

func authenticatedClient(baseURL string) (*client.Client, error) {
	w, err := client.GenerateWallet()
	if err != nil {
		return nil, err
	}
	c := client.New(baseURL)
	if err := c.Authenticate(w); err != nil {
		return nil, err
	}
	return c, nil
}
