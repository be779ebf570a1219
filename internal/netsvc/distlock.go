package netsvc

import (
	"context"
	"fmt"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"

	"netspectra-core/internal/config"
)

// DistributedLock coordinates exclusive ownership of a key across
// multiple Service instances, the cluster-wide equivalent of a Session's
// in-process streaming lock. A Service without one configured only
// serializes streaming within its own process.
type DistributedLock interface {
	// Lock blocks until key is acquired or ctx is done, returning a
	// function that releases it.
	Lock(ctx context.Context, key string) (unlock func() error, err error)
}

// EtcdLock implements DistributedLock using etcd's concurrency package.
type EtcdLock struct {
	client  *clientv3.Client
	session *concurrency.Session
	prefix  string
}

// NewEtcdLock connects to the etcd cluster described by cfg and opens a
// lease-backed session that locks are scoped to: if this process dies,
// its locks are released once the lease expires.
func NewEtcdLock(cfg config.EtcdConfig) (*EtcdLock, error) {
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Endpoints,
		DialTimeout: cfg.DialTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("netsvc: connecting to etcd: %w", err)
	}
	sess, err := concurrency.NewSession(cli)
	if err != nil {
		cli.Close()
		return nil, fmt.Errorf("netsvc: opening etcd session: %w", err)
	}
	return &EtcdLock{client: cli, session: sess, prefix: "/netspectra/netsvc/sessions/"}, nil
}

func (l *EtcdLock) Lock(ctx context.Context, key string) (func() error, error) {
	mu := concurrency.NewMutex(l.session, l.prefix+key)
	if err := mu.Lock(ctx); err != nil {
		return nil, fmt.Errorf("netsvc: acquiring distributed lock for %q: %w", key, err)
	}
	return func() error {
		return mu.Unlock(context.Background())
	}, nil
}

// Close releases the etcd session and connection.
func (l *EtcdLock) Close() error {
	l.session.Close()
	return l.client.Close()
}
