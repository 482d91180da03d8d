package storage

import (
	"context"
	"strings"
	"time"

	storagedriver "github.com/ocireg/registry/registry/storage/driver"
)

// ReapUploads implements C9: it enumerates every upload session's
// startedat file and deletes the session directory for any session older
// than timeout. A missing or unparseable startedat is treated as expired,
// defensively, the same way a corrupt session is treated by Resume.
func (reg *Registry) ReapUploads(ctx context.Context, timeout time.Duration) (reaped int, err error) {
	// A repository with an in-flight upload and no manifest yet has no
	// _manifests directory, so listRepositories (which keys off that) would
	// never surface it. Walk for _uploads directories directly instead.
	repos, err := listUploadingRepositories(ctx, reg.driver)
	if err != nil {
		return 0, err
	}

	now := time.Now()

	for _, name := range repos {
		uploadsRoot, err := canonicalPath(pathMapper{}, uploadsPathSpec{name: name})
		if err != nil {
			return reaped, err
		}

		ids, err := reg.driver.List(ctx, uploadsRoot)
		if err != nil {
			if _, ok := err.(storagedriver.PathNotFoundError); ok {
				continue
			}
			return reaped, err
		}

		for _, sessionDir := range ids {
			id := lastPathComponent(sessionDir)

			expired, err := reg.uploadExpired(ctx, name, id, now, timeout)
			if err != nil {
				return reaped, err
			}
			if !expired {
				continue
			}

			if err := reg.driver.Delete(ctx, sessionDir); err != nil {
				return reaped, err
			}
			reaped++
		}
	}

	return reaped, nil
}

func (reg *Registry) uploadExpired(ctx context.Context, repo, id string, now time.Time, timeout time.Duration) (bool, error) {
	p, err := canonicalPath(pathMapper{}, uploadStartedAtPathSpec{name: repo, uuid: id})
	if err != nil {
		return false, err
	}

	content, err := reg.driver.GetContent(ctx, p)
	if err != nil {
		if _, ok := err.(storagedriver.PathNotFoundError); ok {
			return true, nil
		}
		return false, err
	}

	startedAt, err := time.Parse(time.RFC3339, string(content))
	if err != nil {
		return true, nil
	}

	return now.Sub(startedAt) > timeout, nil
}

// listUploadingRepositories returns every repository name that has an
// _uploads directory, lexicographically sorted.
func listUploadingRepositories(ctx context.Context, driver storagedriver.StorageDriver) ([]string, error) {
	root, err := canonicalPath(pathMapper{}, repositoriesRootPathSpec{})
	if err != nil {
		return nil, err
	}

	var names []string
	err = driver.Walk(ctx, root, func(fi storagedriver.FileInfo) error {
		if !fi.IsDir() {
			return nil
		}
		if !strings.HasSuffix(fi.Path(), "/_uploads") {
			return nil
		}
		name := strings.TrimPrefix(strings.TrimSuffix(fi.Path(), "/_uploads"), root+"/")
		names = append(names, name)
		return nil
	})
	if err != nil {
		if _, ok := err.(storagedriver.PathNotFoundError); ok {
			return nil, nil
		}
		return nil, err
	}

	return names, nil
}
