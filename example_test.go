package gitnote_test

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/YusukeImai797/Gitnote"
)

// Example_basic opens a workspace, writes a note and syncs it through every
// tier.
func Example_basic() {
	root, err := os.MkdirTemp("", "gitnote-example-*")
	if err != nil {
		log.Fatal(err)
	}
	defer os.RemoveAll(root)

	cfg := gitnote.DefaultConfig()
	cfg.Repository.Gitless = true
	cfg.Metadata.Backend = "memory"
	cfg.Bus.Backend = "none"

	ctx := context.Background()
	ws, err := gitnote.Init(ctx, root, cfg)
	if err != nil {
		log.Fatal(err)
	}
	defer ws.Close()

	s, err := ws.Engine.Create(ctx, "")
	if err != nil {
		log.Fatal(err)
	}
	n := s.Note()
	n.Title = "Groceries"
	n.Body = "eggs, milk"
	if err := s.Edit(n); err != nil {
		log.Fatal(err)
	}
	if err := s.Sync(ctx); err != nil {
		log.Fatal(err)
	}

	fmt.Println(s.Note().Title, s.Status())
	// Output:
	// Groceries synced
}
