package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/redis/go-redis/v9"
)

// ErrConnectionLost marks a failure of the store connection itself, as
// opposed to an error reply from the server. Callers treat it as fatal.
var ErrConnectionLost = errors.New("store connection lost")

// Open connects to one logical database of the server at url.
// Each namespace gets its own client, so no command ever switches databases.
func Open(ctx context.Context, url string, db int) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	opts.DB = db
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis db %d: %w", db, Classify(err))
	}
	return client, nil
}

// Namespaces bundles the three logical databases.
type Namespaces struct {
	Subscribers *redis.Client
	Messages    *redis.Client
	Config      *redis.Client
}

type NamespaceDBs struct {
	Subscribers int
	Messages    int
	Config      int
}

func OpenNamespaces(ctx context.Context, url string, dbs NamespaceDBs) (*Namespaces, error) {
	ns := &Namespaces{}
	var err error
	if ns.Subscribers, err = Open(ctx, url, dbs.Subscribers); err != nil {
		return nil, err
	}
	if ns.Messages, err = Open(ctx, url, dbs.Messages); err != nil {
		_ = ns.Close()
		return nil, err
	}
	if ns.Config, err = Open(ctx, url, dbs.Config); err != nil {
		_ = ns.Close()
		return nil, err
	}
	return ns, nil
}

func (ns *Namespaces) Close() error {
	var errs []error
	for _, c := range []*redis.Client{ns.Subscribers, ns.Messages, ns.Config} {
		if c != nil {
			errs = append(errs, c.Close())
		}
	}
	return errors.Join(errs...)
}

// IsConnectionError reports whether err came from the transport rather than
// from a server reply. redis.Nil and context errors are not connection errors.
func IsConnectionError(err error) bool {
	if err == nil || errors.Is(err, redis.Nil) {
		return false
	}
	if errors.Is(err, ErrConnectionLost) {
		return true
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var reply redis.Error
	if errors.As(err, &reply) {
		return false
	}
	var netErr net.Error
	return errors.Is(err, redis.ErrClosed) || errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) || errors.As(err, &netErr)
}

// Classify wraps connection-level failures with ErrConnectionLost.
func Classify(err error) error {
	if err == nil || errors.Is(err, ErrConnectionLost) {
		return err
	}
	if IsConnectionError(err) {
		return fmt.Errorf("%w: %w", ErrConnectionLost, err)
	}
	return err
}
