package storage

import (
	"context"

	digest "github.com/opencontainers/go-digest"
)

// vacuum removes a blob unconditionally, bypassing reference counting.
// Used only by the garbage collector, which has already established that
// nothing references the blob.
func (reg *Registry) vacuumBlob(ctx context.Context, dgst digest.Digest) (int64, error) {
	desc, statErr := reg.blobStore.stat(ctx, dgst)

	if _, err := reg.blobStore.delete(ctx, dgst); err != nil {
		return 0, err
	}

	if statErr != nil {
		return 0, nil
	}
	return desc.Size, nil
}
