package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"socialfeed/feed"
	"socialfeed/memstore"
)

func TestPrintFeed(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()

	s := feed.New(store)
	defer s.Close()
	changes, stop := s.Changes()
	defer stop()

	s.SetUser(ctx, &feed.User{ID: "u1", Email: "ann@example.com", DisplayName: "Ann"})
	if _, err := s.CreatePost(ctx, "hello\nworld", ""); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	timeout := time.After(5 * time.Second)
	for len(s.Posts()) == 0 {
		select {
		case <-changes:
		case <-timeout:
			t.Fatalf("Timed out waiting for the post")
		}
	}

	out := &bytes.Buffer{}
	printFeed(out, s)

	want := "---- Ann\nAnn: hello world  [0 likes, 0 comments]\n"
	if got := out.String(); got != want {
		t.Errorf("Bad output; got %q, want %q", got, want)
	}
}

func TestPrintEmptyFeed(t *testing.T) {
	s := feed.New(memstore.New())
	defer s.Close()
	s.SetUser(context.Background(), &feed.User{ID: "u1", Email: "ann@example.com"})

	out := &bytes.Buffer{}
	printFeed(out, s)
	if !strings.Contains(out.String(), "(no posts)") {
		t.Errorf("Bad output for empty feed: %q", out.String())
	}
}
