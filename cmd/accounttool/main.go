// accounttool creates accounts directly in the data store, or prints the
// password hash stored for a password.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"syscall"

	"socialfeed/backends"
	"socialfeed/feed"

	"golang.org/x/term"
)

var (
	hashOnly    = flag.Bool("hash-only", false, "Only print the bcrypt hash of the password.")
	name        = flag.String("name", "", "Display name of the new account.")
	email       = flag.String("email", "", "Email of the new account.")
	backend     = flag.String("backend", backends.Firestore, "Data store: firestore or postgres.")
	dataProject = flag.String("data-project", "", "GCP project that contains the application state.")
	postgresDSN = flag.String("postgres-dsn", "", "Postgres connection string, for --backend=postgres.")
)

func readPassword() (string, error) {
	fmt.Print("Password: ")
	pass, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("while reading password: %w", err)
	}
	return string(pass), nil
}

func do(ctx context.Context) error {
	pass, err := readPassword()
	if err != nil {
		return err
	}

	if *hashOnly {
		hash, err := feed.HashPassword(pass)
		if err != nil {
			return err
		}
		fmt.Println(hash)
		return nil
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

	user, err := feed.NewAuth(be.Accounts, be.Store).SignUp(ctx, *name, *email, pass)
	if err != nil {
		return fmt.Errorf("while creating account: %w", err)
	}

	fmt.Printf("Created account %s for %s\n", user.ID, user.Email)
	return nil
}

func main() {
	flag.Parse()

	if err := do(context.Background()); err != nil {
		log.Printf("Error: %v", err)
		os.Exit(1)
	}
}
