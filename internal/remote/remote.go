// Package remote is the contract boundary spec §1 names as "the
// remote-storage HTTP service": an out-of-scope external collaborator this
// module only ever calls through a narrow interface, never implements
// sync logic for. Remote wraps any Backend — HTTPBackend in this package
// is the concrete client, a thin net/http GET/PUT/DELETE/HEAD wrapper —
// with a circuit breaker and retry policy so upsync task execution can
// call out to it without retry-storming a flaky remote (spec §5
// expansion). StorageAdapter publishes a Remote as a
// capabilities.StorageBackend so application code reaches it through the
// same typed capability protocol as every other exposed capability.
package remote

import (
	"context"
	"fmt"

	"github.com/xspvault/xspcore/internal/circuit"
	"github.com/xspvault/xspcore/pkg/objid"
	"github.com/xspvault/xspcore/pkg/retry"
	"github.com/xspvault/xspcore/pkg/xerrors"
)

// Backend is the narrow shape this module requires of a remote-storage
// client. HTTPBackend satisfies it; so would any other object-store
// client with get/put/delete/head semantics.
type Backend interface {
	GetObject(ctx context.Context, key string, offset, size int64) ([]byte, error)
	PutObject(ctx context.Context, key string, data []byte) error
	DeleteObject(ctx context.Context, key string) error
	HealthCheck(ctx context.Context) error
}

// Remote is the capability exposer's handle onto the out-of-scope
// remote-storage service: every call is guarded by a circuit breaker, and
// every call except HealthCheck is retried per pkg/retry's policy.
type Remote struct {
	backend Backend
	breaker *circuit.Breaker
	retryer *retry.Retryer
}

// New builds a Remote over backend, guarded by breaker (a
// circuit.Manager-issued breaker keyed by endpoint name is the intended
// caller pattern) and retried per retryConfig.
func New(backend Backend, breaker *circuit.Breaker, retryConfig retry.Config) *Remote {
	return &Remote{backend: backend, breaker: breaker, retryer: retry.New(retryConfig)}
}

// objectKey derives the remote key for one version of one object — the
// wire-level identifier the remote-storage service addresses, distinct
// from the on-disk folder path (internal/objstore/folders) used locally.
func objectKey(id objid.ID, v objid.Version) string {
	if id.IsRoot() {
		return fmt.Sprintf("=root=/%d", v)
	}
	return fmt.Sprintf("%s/%d", string(id), v)
}

// UploadVersion sends one version's encrypted bytes to the remote side
// (the eventual backing for an `upload` upsync task).
func (r *Remote) UploadVersion(ctx context.Context, id objid.ID, v objid.Version, data []byte) error {
	key := objectKey(id, v)
	err := r.breaker.ExecuteWithContext(ctx, func(ctx context.Context) error {
		return r.retryer.DoWithContext(ctx, func(ctx context.Context) error {
			return r.backend.PutObject(ctx, key, data)
		})
	})
	if err != nil {
		return translateErr(err, "upload version", key)
	}
	return nil
}

// DownloadVersion fetches the full byte range of one remote version.
func (r *Remote) DownloadVersion(ctx context.Context, id objid.ID, v objid.Version) ([]byte, error) {
	key := objectKey(id, v)
	var out []byte
	err := r.breaker.ExecuteWithContext(ctx, func(ctx context.Context) error {
		return r.retryer.DoWithContext(ctx, func(ctx context.Context) error {
			data, err := r.backend.GetObject(ctx, key, 0, -1)
			if err != nil {
				return err
			}
			out = data
			return nil
		})
	})
	if err != nil {
		return nil, translateErr(err, "download version", key)
	}
	return out, nil
}

// RemoveVersions propagates a `removal` upsync task: deletes every named
// version's remote object. Best-effort per version — the first failure is
// returned, but earlier successful deletions are not rolled back (the
// remote side has no transactional delete).
func (r *Remote) RemoveVersions(ctx context.Context, id objid.ID, versions []objid.Version) error {
	for _, v := range versions {
		key := objectKey(id, v)
		err := r.breaker.ExecuteWithContext(ctx, func(ctx context.Context) error {
			return r.retryer.DoWithContext(ctx, func(ctx context.Context) error {
				return r.backend.DeleteObject(ctx, key)
			})
		})
		if err != nil {
			return translateErr(err, "remove version", key)
		}
	}
	return nil
}

// HealthCheck reports whether the remote side is currently reachable,
// through the same breaker every other call uses.
func (r *Remote) HealthCheck(ctx context.Context) error {
	err := r.breaker.ExecuteWithContext(ctx, func(ctx context.Context) error {
		return r.backend.HealthCheck(ctx)
	})
	if err != nil {
		return translateErr(err, "health check", "")
	}
	return nil
}

func translateErr(err error, op, key string) error {
	if _, ok := err.(*xerrors.Error); ok {
		return err
	}
	e := xerrors.New(xerrors.KindStorage, xerrors.CodeNotFound, op).WithCause(err)
	if key != "" {
		e = e.WithContext("key", key)
	}
	return e
}
