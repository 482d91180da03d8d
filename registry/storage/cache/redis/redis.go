// Package redis implements a blob descriptor cache backed by Redis. Blob
// descriptors are stored in two parts: a set per repository for fast
// membership checks, and a hash keyed by digest holding the descriptor
// fields. There is no implied relationship between the two — a blob may
// exist in one, both, or neither.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	digest "github.com/opencontainers/go-digest"
	goredis "github.com/redis/go-redis/v9"

	"github.com/ocireg/registry/manifest"
	"github.com/ocireg/registry/registry/storage/cache"
	"github.com/ocireg/registry/registry/storage/cache/provider"
)

func init() {
	provider.Register("redis", NewBlobDescriptorCacheProvider)
}

// ErrMissingAddr is returned when a redis cache is configured without an
// address.
var ErrMissingAddr = errors.New("redis: missing addr parameter")

type redisBlobDescriptorService struct {
	client *goredis.Client
}

var _ cache.BlobDescriptorCacheProvider = &redisBlobDescriptorService{}

// NewBlobDescriptorCacheProvider returns a new redis-based
// BlobDescriptorCacheProvider using the supplied connection parameters.
func NewBlobDescriptorCacheProvider(ctx context.Context, params map[string]interface{}) (cache.BlobDescriptorCacheProvider, error) {
	addr, _ := params["addr"].(string)
	if addr == "" {
		return nil, ErrMissingAddr
	}

	opts := &goredis.Options{Addr: addr}
	if v, ok := params["password"].(string); ok {
		opts.Password = v
	}
	if v, ok := params["db"]; ok {
		switch n := v.(type) {
		case int:
			opts.DB = n
		case string:
			db, err := strconv.Atoi(n)
			if err == nil {
				opts.DB = db
			}
		}
	}

	client := goredis.NewClient(opts)
	return &redisBlobDescriptorService{client: client}, nil
}

func (r *redisBlobDescriptorService) RepositoryScoped(repo string) (cache.BlobDescriptorService, error) {
	return &repositoryScopedRedisBlobDescriptorService{repo: repo, upstream: r}, nil
}

var _ cache.Pinger = &redisBlobDescriptorService{}

// Ping confirms the Redis connection is reachable, for the "cache" health
// check registered when this provider is configured.
func (r *redisBlobDescriptorService) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *redisBlobDescriptorService) Stat(ctx context.Context, dgst digest.Digest) (manifest.Descriptor, error) {
	if err := dgst.Validate(); err != nil {
		return manifest.Descriptor{}, err
	}
	return r.stat(ctx, dgst)
}

func (r *redisBlobDescriptorService) Clear(ctx context.Context, dgst digest.Digest) error {
	if err := dgst.Validate(); err != nil {
		return err
	}

	n, err := r.client.HDel(ctx, r.blobDescriptorHashKey(dgst), "digest", "size", "mediatype").Result()
	if err != nil {
		return err
	}
	if n == 0 {
		return cache.ErrBlobUnknown
	}
	return nil
}

func (r *redisBlobDescriptorService) stat(ctx context.Context, dgst digest.Digest) (manifest.Descriptor, error) {
	reply, err := r.client.HMGet(ctx, r.blobDescriptorHashKey(dgst), "digest", "size", "mediatype").Result()
	if err != nil {
		return manifest.Descriptor{}, err
	}

	if len(reply) < 3 || reply[0] == nil || reply[1] == nil {
		return manifest.Descriptor{}, cache.ErrBlobUnknown
	}

	digestString, ok := reply[0].(string)
	if !ok {
		return manifest.Descriptor{}, fmt.Errorf("redis: digest field is not a string")
	}
	sizeString, ok := reply[1].(string)
	if !ok {
		return manifest.Descriptor{}, fmt.Errorf("redis: size field is not a string")
	}
	size, err := strconv.ParseInt(sizeString, 10, 64)
	if err != nil {
		return manifest.Descriptor{}, err
	}

	desc := manifest.Descriptor{
		Digest: digest.Digest(digestString),
		Size:   size,
	}
	if reply[2] != nil {
		if mediaType, ok := reply[2].(string); ok {
			desc.MediaType = mediaType
		}
	}
	return desc, nil
}

func (r *redisBlobDescriptorService) SetDescriptor(ctx context.Context, dgst digest.Digest, desc manifest.Descriptor) error {
	if err := dgst.Validate(); err != nil {
		return err
	}
	if err := cache.ValidateDescriptor(desc); err != nil {
		return err
	}
	return r.setDescriptor(ctx, dgst, desc)
}

func (r *redisBlobDescriptorService) setDescriptor(ctx context.Context, dgst digest.Digest, desc manifest.Descriptor) error {
	if err := r.client.HSet(ctx, r.blobDescriptorHashKey(dgst), "digest", desc.Digest.String(), "size", desc.Size).Err(); err != nil {
		return err
	}
	return r.client.HSetNX(ctx, r.blobDescriptorHashKey(dgst), "mediatype", desc.MediaType).Err()
}

func (r *redisBlobDescriptorService) blobDescriptorHashKey(dgst digest.Digest) string {
	return "blobs::" + dgst.String()
}

type repositoryScopedRedisBlobDescriptorService struct {
	repo     string
	upstream *redisBlobDescriptorService
}

var _ cache.BlobDescriptorService = &repositoryScopedRedisBlobDescriptorService{}

// Stat checks repository membership first, then forwards to the global
// descriptor store, overriding the media type if the repository has set
// its own.
func (r *repositoryScopedRedisBlobDescriptorService) Stat(ctx context.Context, dgst digest.Digest) (manifest.Descriptor, error) {
	if err := dgst.Validate(); err != nil {
		return manifest.Descriptor{}, err
	}

	client := r.upstream.client
	member, err := client.SIsMember(ctx, r.repositoryBlobSetKey(), dgst.String()).Result()
	if err != nil {
		return manifest.Descriptor{}, err
	}
	if !member {
		return manifest.Descriptor{}, cache.ErrBlobUnknown
	}

	desc, err := r.upstream.stat(ctx, dgst)
	if err != nil {
		return manifest.Descriptor{}, err
	}

	mediaType, err := client.HGet(ctx, r.blobDescriptorHashKey(dgst), "mediatype").Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return manifest.Descriptor{}, cache.ErrBlobUnknown
		}
		return manifest.Descriptor{}, err
	}
	if mediaType != "" {
		desc.MediaType = mediaType
	}
	return desc, nil
}

func (r *repositoryScopedRedisBlobDescriptorService) Clear(ctx context.Context, dgst digest.Digest) error {
	if err := dgst.Validate(); err != nil {
		return err
	}

	member, err := r.upstream.client.SIsMember(ctx, r.repositoryBlobSetKey(), dgst.String()).Result()
	if err != nil {
		return err
	}
	if !member {
		return cache.ErrBlobUnknown
	}
	return r.upstream.Clear(ctx, dgst)
}

func (r *repositoryScopedRedisBlobDescriptorService) SetDescriptor(ctx context.Context, dgst digest.Digest, desc manifest.Descriptor) error {
	if err := dgst.Validate(); err != nil {
		return err
	}
	if err := cache.ValidateDescriptor(desc); err != nil {
		return err
	}

	client := r.upstream.client
	if _, err := client.SAdd(ctx, r.repositoryBlobSetKey(), dgst.String()).Result(); err != nil {
		return err
	}
	if err := r.upstream.setDescriptor(ctx, dgst, desc); err != nil {
		return err
	}
	return client.HSet(ctx, r.blobDescriptorHashKey(dgst), "mediatype", desc.MediaType).Err()
}

func (r *repositoryScopedRedisBlobDescriptorService) blobDescriptorHashKey(dgst digest.Digest) string {
	return "repository::" + r.repo + "::blobs::" + dgst.String()
}

func (r *repositoryScopedRedisBlobDescriptorService) repositoryBlobSetKey() string {
	return "repository::" + r.repo + "::blobs"
}
