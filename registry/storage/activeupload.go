package storage

import (
	"sync"

	digest "github.com/opencontainers/go-digest"
)

// activeDigestSet tracks blob digests a BlobWriter.Commit call currently
// has in flight, so the sweep phase of garbage collection (C8) can skip a
// blob it would otherwise treat as a freshly-orphaned candidate for
// deletion: the digest becomes known only once Commit starts hashing the
// combined stream, and the blob lands in its content-addressed path (and
// so becomes visible to sweep's Walk) before the repository's manifest
// that will reference it has necessarily been PUT. Refcounted because two
// concurrent commits of identical content (a client retry racing the
// original, or two repositories pushing the same layer) both register and
// deregister the same digest independently.
type activeDigestSet struct {
	mu     sync.Mutex
	counts map[digest.Digest]int
}

func newActiveDigestSet() *activeDigestSet {
	return &activeDigestSet{counts: make(map[digest.Digest]int)}
}

func (s *activeDigestSet) add(dgst digest.Digest) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counts[dgst]++
}

func (s *activeDigestSet) remove(dgst digest.Digest) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.counts[dgst] <= 1 {
		delete(s.counts, dgst)
		return
	}
	s.counts[dgst]--
}

func (s *activeDigestSet) contains(dgst digest.Digest) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[dgst] > 0
}
