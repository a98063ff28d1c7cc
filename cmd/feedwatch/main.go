// feedwatch signs in and prints the live feed every time it changes.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"socialfeed/backends"
	"socialfeed/feed"

	"golang.org/x/term"
)

var (
	email       = flag.String("email", "", "Email to sign in with.")
	post        = flag.String("post", "", "If set, publish a post with this text after signing in.")
	backend     = flag.String("backend", backends.Firestore, "Data store: firestore or postgres.")
	dataProject = flag.String("data-project", "", "GCP project that contains the application state.")
	postgresDSN = flag.String("postgres-dsn", "", "Postgres connection string, for --backend=postgres.")
)

// printFeed writes one screenful of the feed: each post with its like and
// comment counts.
func printFeed(w io.Writer, s *feed.State) {
	fmt.Fprintf(w, "---- %s\n", s.User().Name())
	if msg := s.Error(); msg != "" {
		fmt.Fprintf(w, "! %s\n", msg)
	}
	posts := s.Posts()
	if len(posts) == 0 {
		fmt.Fprintln(w, "(no posts)")
	}
	for _, p := range posts {
		text := strings.ReplaceAll(p.Text, "\n", " ")
		fmt.Fprintf(w, "%s: %s  [%d likes, %d comments]\n", p.UserName, text, len(p.Likes), len(s.CommentsForPost(p.ID)))
	}
}

func do(ctx context.Context) error {
	fmt.Print("Password: ")
	pass, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return fmt.Errorf("while reading password: %w", err)
	}

	be, err := backends.Open(ctx, backends.Config{
		Kind:        *backend,
		Project:     *dataProject,
		PostgresDSN: *postgresDSN,
	})
	if err != nil {
		return fmt.Errorf("while opening %s backend: %w", *backend, err)
	}
	defer be.Close()

	auth := feed.NewAuth(be.Accounts, be.Store)
	session, user, err := auth.SignIn(ctx, *email, string(pass))
	if err != nil {
		return fmt.Errorf("while signing in: %w", err)
	}
	defer func() {
		if err := auth.SignOut(context.WithoutCancel(ctx), session.Cookie); err != nil {
			log.Printf("Error while signing out: %v", err)
		}
	}()

	state := feed.New(be.Store, feed.WithProfileUpdater(auth))
	defer state.Close()

	changes, stop := state.Changes()
	defer stop()

	state.SetUser(ctx, user)
	defer state.SignOut(context.WithoutCancel(ctx))

	if *post != "" {
		if _, err := state.CreatePost(ctx, *post, ""); err != nil {
			return fmt.Errorf("while posting: %w", err)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-changes:
		}
		if state.PostsLoading() {
			continue
		}
		printFeed(os.Stdout, state)
	}
}

func main() {
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := do(ctx); err != nil {
		log.Printf("Error: %v", err)
		os.Exit(1)
	}
}
