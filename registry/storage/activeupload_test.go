package storage

import (
	"testing"

	digest "github.com/opencontainers/go-digest"
	"github.com/stretchr/testify/require"
)

func TestActiveDigestSetRefcounts(t *testing.T) {
	s := newActiveDigestSet()
	dgst := digest.FromString("refcounted")

	require.False(t, s.contains(dgst))

	s.add(dgst)
	s.add(dgst)
	require.True(t, s.contains(dgst))

	s.remove(dgst)
	require.True(t, s.contains(dgst))

	s.remove(dgst)
	require.False(t, s.contains(dgst))
}

func TestActiveDigestSetRemoveWithoutAddIsNoop(t *testing.T) {
	s := newActiveDigestSet()
	dgst := digest.FromString("never added")

	require.NotPanics(t, func() { s.remove(dgst) })
	require.False(t, s.contains(dgst))
}
