// Package backends opens the data store selected by configuration.
package backends

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"socialfeed/dblayer"
	"socialfeed/feed"
	"socialfeed/memstore"
	"socialfeed/pgstore"

	"cloud.google.com/go/compute/metadata"
	"cloud.google.com/go/firestore"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
)

const (
	Firestore = "firestore"
	Postgres  = "postgres"
	Memory    = "memory"
)

var ErrUnknownBackend = errors.New("unknown backend")

// Config selects and configures a backend.
type Config struct {
	// Kind is one of Firestore, Postgres or Memory.
	Kind string

	// Project is the GCP project holding the Firestore database.  If empty,
	// the project of the application default credentials is used, then the
	// project of the GCE metadata server.
	Project string

	PostgresDSN string
}

// Backend is an opened data store.
type Backend struct {
	Store    feed.Store
	Accounts feed.AccountStore

	// Ready reports whether the backend can serve requests.
	Ready func(ctx context.Context) error

	closer func() error
}

func (b *Backend) Close() error {
	if b.closer == nil {
		return nil
	}
	return b.closer()
}

// Open connects to the backend described by cfg.
func Open(ctx context.Context, cfg Config) (*Backend, error) {
	switch cfg.Kind {
	case Firestore:
		return openFirestore(ctx, cfg)
	case Postgres:
		return openPostgres(ctx, cfg)
	case Memory:
		s := memstore.New()
		return &Backend{
			Store:    s,
			Accounts: s,
			Ready:    func(context.Context) error { return nil },
		}, nil
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownBackend, cfg.Kind)
	}
}

func openFirestore(ctx context.Context, cfg Config) (*Backend, error) {
	creds, err := google.FindDefaultCredentials(ctx, "https://www.googleapis.com/auth/datastore", "https://www.googleapis.com/auth/cloud-platform")
	if err != nil {
		return nil, fmt.Errorf("while finding application default credentials: %w", err)
	}

	project := cfg.Project
	if project == "" {
		project = creds.ProjectID
	}
	if project == "" && metadata.OnGCE() {
		project, err = metadata.ProjectID()
		if err != nil {
			return nil, fmt.Errorf("while reading project from metadata server: %w", err)
		}
	}
	if project == "" {
		return nil, errors.New("no GCP project configured for Firestore")
	}
	slog.InfoContext(ctx, "Using Firestore", slog.String("project", project))

	fstore, err := firestore.NewClient(ctx, project, option.WithCredentials(creds))
	if err != nil {
		return nil, fmt.Errorf("while creating FireStore client: %w", err)
	}

	db := dblayer.New(fstore)
	return &Backend{
		Store:    db,
		Accounts: db,
		Ready: func(ctx context.Context) error {
			_, err := db.GetUserStatus(ctx, "readyz")
			return err
		},
		closer: fstore.Close,
	}, nil
}

func openPostgres(ctx context.Context, cfg Config) (*Backend, error) {
	if cfg.PostgresDSN == "" {
		return nil, errors.New("no Postgres DSN configured")
	}

	s, err := pgstore.New(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, err
	}
	return &Backend{
		Store:    s,
		Accounts: s,
		Ready:    s.Ping,
		closer: func() error {
			s.Close()
			return nil
		},
	}, nil
}
