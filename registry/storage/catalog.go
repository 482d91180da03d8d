package storage

import (
	"context"
	"sort"
	"strings"

	digest "github.com/opencontainers/go-digest"

	storagedriver "github.com/ocireg/registry/registry/storage/driver"
)

// Catalog implements the listing half of C7's repository catalog: up to
// limit repository names strictly after last, lexicographically sorted,
// and whether more remain.
func (reg *Registry) Catalog(ctx context.Context, last string, limit int) (repos []string, more bool, err error) {
	all, err := listRepositories(ctx, reg.driver)
	if err != nil {
		return nil, false, err
	}

	page, more := paginate(all, last, limit)
	return page, more, nil
}

// DefaultPageSize and MaxPageSize expose the Registry's configured catalog
// pagination defaults so handlers can apply the same limits to both the
// catalog and tag listing routes without duplicating configuration.
func (reg *Registry) DefaultPageSize() int { return reg.catalog.DefaultLimit }
func (reg *Registry) MaxPageSize() int     { return reg.catalog.MaxLimit }

// listRepositories returns every repository name under the storage root,
// lexicographically sorted. A directory qualifies as a repository iff it
// has a "_manifests" child, matching the teacher's definition.
func listRepositories(ctx context.Context, driver storagedriver.StorageDriver) ([]string, error) {
	root, err := canonicalPath(pathMapper{}, repositoriesRootPathSpec{})
	if err != nil {
		return nil, err
	}

	var names []string
	err = driver.Walk(ctx, root, func(fi storagedriver.FileInfo) error {
		if !fi.IsDir() {
			return nil
		}
		if !strings.HasSuffix(fi.Path(), "/_manifests") {
			return nil
		}
		name := strings.TrimPrefix(strings.TrimSuffix(fi.Path(), "/_manifests"), root+"/")
		names = append(names, name)
		return nil
	})
	if err != nil {
		if _, ok := err.(storagedriver.PathNotFoundError); ok {
			return nil, nil
		}
		return nil, err
	}

	sort.Strings(names)
	return names, nil
}

// paginate applies the `n`/`last` OCI catalog and tag-list convention to a
// lexicographically sorted slice: entries strictly after last, up to limit
// of them, plus whether more remain.
func paginate(all []string, last string, limit int) (page []string, more bool) {
	start := 0
	if last != "" {
		start = sort.SearchStrings(all, last)
		if start < len(all) && all[start] == last {
			start++
		}
	}

	rest := all[start:]
	if len(rest) > limit {
		return rest[:limit], true
	}
	return rest, false
}

// countBlobReferences scans every repository's layer links for dgst,
// counting how many still reference it. Manifest revision links are not
// counted here: a manifest's own blob is kept alive by its revision link,
// which GC's mark phase walks independently.
func (reg *Registry) countBlobReferences(ctx context.Context, dgst digest.Digest) (int, error) {
	root, err := canonicalPath(pathMapper{}, repositoriesRootPathSpec{})
	if err != nil {
		return 0, err
	}
	var repos []string
	err = reg.driver.Walk(ctx, root, func(fi storagedriver.FileInfo) error {
		if fi.IsDir() && strings.HasSuffix(fi.Path(), "/_layers") {
			repos = append(repos, strings.TrimPrefix(strings.TrimSuffix(fi.Path(), "/_layers"), root+"/"))
		}
		return nil
	})
	if _, ok := err.(storagedriver.PathNotFoundError); err != nil && !ok {
		return 0, err
	}

	count := 0
	for _, name := range repos {
		statter := &linkedBlobStatter{blobStore: reg.blobStore, repo: name, linkSpec: layerLinkSpec}
		if ok, err := statter.hasLink(ctx, dgst); err != nil {
			return 0, err
		} else if ok {
			count++
		}
	}
	return count, nil
}
