package rawstore

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/avast/retry-go"

	"github.com/roach88/matchlog/internal/record"
)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("rawstore: closed")

// Store persists records keyed by ID.
type Store interface {
	// Exists reports whether a record for id is stored.
	Exists(ctx context.Context, id record.ID) (bool, error)

	// Write stores rec unless a record with the same ID exists.
	// written is false when the ID was already stored.
	Write(ctx context.Context, rec record.Record) (written bool, err error)

	Close() error
}

// Options tunes Open.
type Options struct {
	// CacheSize wraps the backend in an LRU existence cache. Zero disables it.
	CacheSize int

	// ConnectAttempts bounds the startup connectivity check of network
	// backends.
	ConnectAttempts uint

	// S3 credentials and endpoint for s3:// locations.
	S3 S3Options
}

// S3Options configures the object-storage backend.
type S3Options struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
}

// Open creates a store from a location string. See the package doc for the
// accepted forms.
func Open(ctx context.Context, location string, opts Options) (Store, error) {
	s, err := openBackend(ctx, location, opts)
	if err != nil {
		return nil, err
	}
	if opts.CacheSize > 0 {
		return NewCached(s, opts.CacheSize)
	}
	return s, nil
}

func openBackend(ctx context.Context, location string, opts Options) (Store, error) {
	scheme, rest, ok := strings.Cut(location, ":")
	if !ok {
		return nil, fmt.Errorf("invalid store location %q: missing scheme", location)
	}
	switch scheme {
	case "mem":
		return NewMemory(), nil
	case "sqlite":
		s, err := OpenSQLite(rest)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "dir":
		s, err := OpenDir(rest)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "postgres", "postgresql":
		var s *PostgresStore
		err := connectWithRetry(ctx, opts.ConnectAttempts, func() error {
			var err error
			s, err = OpenPostgres(ctx, location)
			return err
		})
		if err != nil {
			return nil, err
		}
		return s, nil
	case "s3":
		u, err := url.Parse(location)
		if err != nil {
			return nil, fmt.Errorf("invalid store location %q: %w", location, err)
		}
		var s *ObjectStore
		err = connectWithRetry(ctx, opts.ConnectAttempts, func() error {
			var err error
			s, err = OpenObject(ctx, ObjectConfig{
				Endpoint:  opts.S3.Endpoint,
				AccessKey: opts.S3.AccessKey,
				SecretKey: opts.S3.SecretKey,
				Region:    opts.S3.Region,
				UseSSL:    opts.S3.UseSSL,
				Bucket:    u.Host,
				Prefix:    strings.Trim(u.Path, "/"),
			})
			return err
		})
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	return nil, fmt.Errorf("invalid store location %q: unknown scheme %q", location, scheme)
}

// connectWithRetry retries fn with exponential backoff until it succeeds,
// attempts are exhausted, or ctx is done.
func connectWithRetry(ctx context.Context, attempts uint, fn func() error) error {
	if attempts == 0 {
		attempts = 5
	}
	return retry.Do(
		fn,
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(500*time.Millisecond),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
	)
}
