package storage

import (
	"context"
	"time"

	digest "github.com/opencontainers/go-digest"
	"golang.org/x/sync/errgroup"

	"github.com/ocireg/registry/manifest"
	"github.com/ocireg/registry/metrics"
	storagedriver "github.com/ocireg/registry/registry/storage/driver"
)

// DefaultConcurrencyLimit bounds the fan-out of per-repository goroutines
// GC's mark phase spawns, and is reused by registry/handlers for its own
// errgroup-based fan-out (DeleteManifest's per-tag untag loop), so the two
// packages agree on one concurrency budget rather than each inventing its
// own.
const DefaultConcurrencyLimit = 5

// GCOptions controls a single garbage collection pass.
type GCOptions struct {
	// DryRun, if true, classifies blobs but deletes nothing.
	DryRun bool

	// MinAge is the minimum time an unreferenced blob must have existed
	// before it is eligible for deletion, guarding against a race with an
	// in-flight upload whose manifest has not yet arrived.
	MinAge time.Duration
}

// GCReport summarizes one garbage collection pass, per spec 4.8.
type GCReport struct {
	Total               int
	Referenced          int
	Orphaned            int
	Deleted             int
	SkippedTooNew       int
	SkippedActiveUpload int
	BytesReclaimed      int64
	Duration            time.Duration
	Errors              []error
}

// GarbageCollect runs the mark-and-sweep pass described in C8: mark every
// blob digest reachable from some repository's stored manifests, then
// sweep the global blob store, deleting anything unreached whose file was
// last modified at least opts.MinAge ago.
func (reg *Registry) GarbageCollect(ctx context.Context, opts GCOptions) (GCReport, error) {
	start := time.Now()

	reachable, err := reg.mark(ctx)
	if err != nil {
		return GCReport{}, err
	}

	report, err := reg.sweep(ctx, reachable, opts)
	report.Referenced = len(reachable)
	report.Duration = time.Since(start)

	metrics.GCRunDuration.UpdateSince(start)
	metrics.GCBytesFreed.Add(float64(report.BytesReclaimed))
	metrics.GCBlobsDeleted.Add(float64(report.Deleted))

	return report, err
}

// mark enumerates every repository's manifest revisions and collects the
// set of digests they keep alive: each manifest's own digest, plus every
// descriptor it references (config, layers, and — for indices — the
// sub-manifests it points at).
func (reg *Registry) mark(ctx context.Context) (map[digest.Digest]struct{}, error) {
	repos, err := listRepositories(ctx, reg.driver)
	if err != nil {
		return nil, err
	}

	type result struct {
		digests []digest.Digest
	}
	results := make([]result, len(repos))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(DefaultConcurrencyLimit)
	for i, name := range repos {
		i, name := i, name
		g.Go(func() error {
			digests, err := reg.markRepository(gctx, name)
			if err != nil {
				return err
			}
			results[i] = result{digests: digests}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	reachable := make(map[digest.Digest]struct{})
	for _, r := range results {
		for _, d := range r.digests {
			reachable[d] = struct{}{}
		}
	}
	return reachable, nil
}

// markRepository walks a single repository's manifest revisions directory
// and returns every digest it keeps alive.
func (reg *Registry) markRepository(ctx context.Context, name string) ([]digest.Digest, error) {
	root, err := canonicalPath(pathMapper{}, manifestRevisionsPathSpec{name: name})
	if err != nil {
		return nil, err
	}

	var digests []digest.Digest

	err = reg.driver.Walk(ctx, root, func(fi storagedriver.FileInfo) error {
		if fi.IsDir() || lastPathComponent(fi.Path()) != "link" {
			return nil
		}

		content, err := reg.driver.GetContent(ctx, fi.Path())
		if err != nil {
			return err
		}
		dgst, err := digest.Parse(string(content))
		if err != nil {
			return err
		}
		digests = append(digests, dgst)

		manifestBytes, err := reg.blobStore.get(ctx, dgst)
		if err != nil {
			// The revision link points at a blob that is already gone;
			// nothing further to mark from it.
			return nil
		}

		man, _, err := manifest.Unmarshal(detectMediaType(manifestBytes), manifestBytes)
		if err != nil {
			return nil
		}
		for _, ref := range man.References() {
			digests = append(digests, ref.Digest)
		}
		return nil
	})
	if err != nil {
		if _, ok := err.(storagedriver.PathNotFoundError); ok {
			return digests, nil
		}
		return nil, err
	}

	return digests, nil
}

// sweep walks the global blob store and removes every blob not in
// reachable, subject to the MinAge guard.
func (reg *Registry) sweep(ctx context.Context, reachable map[digest.Digest]struct{}, opts GCOptions) (GCReport, error) {
	const blobsRoot = "blobs"

	var report GCReport
	now := time.Now()

	err := reg.driver.Walk(ctx, blobsRoot, func(fi storagedriver.FileInfo) error {
		if fi.IsDir() {
			return nil
		}

		dgst, ok := digestFromBlobPath(blobsRoot, fi.Path())
		if !ok {
			return nil
		}

		report.Total++

		if _, ok := reachable[dgst]; ok {
			return nil
		}

		report.Orphaned++

		if reg.activeUploads.contains(dgst) {
			report.SkippedActiveUpload++
			return nil
		}

		if opts.MinAge > 0 && now.Sub(fi.ModTime()) < opts.MinAge {
			report.SkippedTooNew++
			return nil
		}

		if opts.DryRun {
			return nil
		}

		size, err := reg.vacuumBlob(ctx, dgst)
		if err != nil {
			report.Errors = append(report.Errors, err)
			return nil
		}
		report.Deleted++
		report.BytesReclaimed += size
		return nil
	})
	if err != nil {
		if _, ok := err.(storagedriver.PathNotFoundError); !ok {
			return report, err
		}
	}

	return report, nil
}

// digestFromBlobPath reconstructs a digest from a blob data file's path,
// i.e. blobs/<algorithm>/<prefix>/<hex>.
func digestFromBlobPath(root, p string) (digest.Digest, bool) {
	rest := p[len(root):]
	for len(rest) > 0 && rest[0] == '/' {
		rest = rest[1:]
	}

	var algorithm, hex string
	slash := -1
	for i := len(rest) - 1; i >= 0; i-- {
		if rest[i] == '/' {
			slash = i
			break
		}
	}
	if slash < 0 {
		return "", false
	}
	hex = rest[slash+1:]
	rest = rest[:slash]
	for i := len(rest) - 1; i >= 0; i-- {
		if rest[i] == '/' {
			algorithm = rest[:i]
			break
		}
	}
	if algorithm == "" {
		algorithm = rest
	}

	dgst := digest.NewDigestFromEncoded(digest.Algorithm(algorithm), hex)
	if err := dgst.Validate(); err != nil {
		return "", false
	}
	return dgst, true
}
