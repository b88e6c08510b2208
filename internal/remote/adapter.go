package remote

import (
	"context"

	"github.com/xspvault/xspcore/pkg/objid"
)

// StorageAdapter exposes a Remote as a plain string/uint64 API — the
// shape internal/ipc/capabilities.StorageBackend requires of whatever it
// publishes as the storage entry point (spec §4.L). Remote's own methods
// take pkg/objid's typed ID/Version instead, so this is nothing more than
// the type conversion at that boundary.
type StorageAdapter struct {
	remote *Remote
}

// NewStorageAdapter wraps r for use as a capabilities.StorageBackend.
func NewStorageAdapter(r *Remote) *StorageAdapter {
	return &StorageAdapter{remote: r}
}

// UploadVersion converts objID/version to their typed form and delegates
// to Remote.UploadVersion.
func (a *StorageAdapter) UploadVersion(ctx context.Context, objID string, version uint64, data []byte) error {
	return a.remote.UploadVersion(ctx, objid.ID(objID), objid.Version(version), data)
}

// DownloadVersion converts objID/version to their typed form and
// delegates to Remote.DownloadVersion.
func (a *StorageAdapter) DownloadVersion(ctx context.Context, objID string, version uint64) ([]byte, error) {
	return a.remote.DownloadVersion(ctx, objid.ID(objID), objid.Version(version))
}

// RemoveVersions converts objID/versions to their typed form and
// delegates to Remote.RemoveVersions.
func (a *StorageAdapter) RemoveVersions(ctx context.Context, objID string, versions []uint64) error {
	typed := make([]objid.Version, len(versions))
	for i, v := range versions {
		typed[i] = objid.Version(v)
	}
	return a.remote.RemoveVersions(ctx, objid.ID(objID), typed)
}

// HealthCheck delegates to Remote.HealthCheck; no conversion needed.
func (a *StorageAdapter) HealthCheck(ctx context.Context) error {
	return a.remote.HealthCheck(ctx)
}
