package storage

import (
	"context"
	"sort"

	digest "github.com/opencontainers/go-digest"

	storagedriver "github.com/ocireg/registry/registry/storage/driver"
)

// TagService implements the listing half of C7: lexicographically sorted,
// paginated tag listing for one repository. Tag creation and resolution
// live on ManifestService, since a tag is just one way to name a manifest
// revision.
type TagService struct {
	repo   *Repository
	driver storagedriver.StorageDriver
}

// All returns up to limit tags strictly after last, lexicographically
// sorted, and whether more remain. If the repository itself does not
// exist, it returns errNameUnknown so callers can distinguish "no tags"
// from "no repository" as spec 4.7 requires.
func (t *TagService) All(ctx context.Context, last string, limit int) (tags []string, more bool, err error) {
	repoRoot, err := canonicalPath(pathMapper{}, manifestRevisionsPathSpec{name: t.repo.name})
	if err != nil {
		return nil, false, err
	}
	if exists, err := pathExists(ctx, t.driver, repoRoot); err != nil {
		return nil, false, err
	} else if !exists {
		return nil, false, errNameUnknown
	}

	all, err := t.list(ctx)
	if err != nil {
		return nil, false, err
	}

	page, more := paginate(all, last, limit)
	return page, more, nil
}

// list enumerates every tag directory for the repository, skipping any
// whose current/link is missing. A tag whose manifest revision was deleted
// keeps its current/link and is still listed.
func (t *TagService) list(ctx context.Context) ([]string, error) {
	root, err := canonicalPath(pathMapper{}, manifestTagsPathSpec{name: t.repo.name})
	if err != nil {
		return nil, err
	}

	entries, err := t.driver.List(ctx, root)
	if err != nil {
		if _, ok := err.(storagedriver.PathNotFoundError); ok {
			return nil, nil
		}
		return nil, err
	}

	var tags []string
	for _, entry := range entries {
		tag := lastPathComponent(entry)

		currentPath, err := canonicalPath(pathMapper{}, manifestTagCurrentPathSpec{name: t.repo.name, tag: tag})
		if err != nil {
			return nil, err
		}
		if ok, err := pathExists(ctx, t.driver, currentPath); err != nil {
			return nil, err
		} else if ok {
			tags = append(tags, tag)
		}
	}

	sort.Strings(tags)
	return tags, nil
}

// Untag removes a tag's current pointer without touching the manifest
// revision it pointed at.
func (t *TagService) Untag(ctx context.Context, tag string) error {
	p, err := canonicalPath(pathMapper{}, manifestTagPathSpec{name: t.repo.name, tag: tag})
	if err != nil {
		return err
	}
	return t.driver.Delete(ctx, p)
}

// Lookup returns every tag in this repository whose current link still
// points at dgst, so a caller deleting that revision can cascade the
// untag. Unlike All, this does not require the repository's
// _manifests directory to exist (a fresh repository with no tags at all
// is simply reported as having none).
func (t *TagService) Lookup(ctx context.Context, dgst digest.Digest) ([]string, error) {
	all, err := t.list(ctx)
	if err != nil {
		return nil, err
	}

	var matches []string
	for _, tag := range all {
		p, err := canonicalPath(pathMapper{}, manifestTagCurrentPathSpec{name: t.repo.name, tag: tag})
		if err != nil {
			return nil, err
		}
		content, err := t.driver.GetContent(ctx, p)
		if err != nil {
			if _, ok := err.(storagedriver.PathNotFoundError); ok {
				continue
			}
			return nil, err
		}
		if digest.Digest(content) == dgst {
			matches = append(matches, tag)
		}
	}
	return matches, nil
}

func lastPathComponent(p string) string {
	for i := len(p) - 1; i >= 0; i-- {
		if p[i] == '/' {
			return p[i+1:]
		}
	}
	return p
}
