package digest

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseValid(t *testing.T) {
	d, err := Parse("sha256:e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855")
	require.NoError(t, err)
	require.Equal(t, Algorithm("sha256"), d.Algorithm())
}

func TestParseInvalid(t *testing.T) {
	_, err := Parse("not-a-digest")
	require.ErrorIs(t, err, ErrDigestInvalidFormat)
}

func TestParseUnsupportedAlgorithm(t *testing.T) {
	_, err := Parse("md4:deadbeef")
	require.Error(t, err)
}

func TestFromBytesMatchesFromReader(t *testing.T) {
	content := []byte("hello registry")
	want := FromBytes(content)
	got, err := FromReader(bytes.NewReader(content))
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestEqual(t *testing.T) {
	a := FromBytes([]byte("a"))
	b := FromBytes([]byte("a"))
	c := FromBytes([]byte("b"))
	require.True(t, Equal(a, b))
	require.False(t, Equal(a, c))
}

func TestVerifier(t *testing.T) {
	content := []byte("verify me")
	d := FromBytes(content)

	v := NewVerifier(d)
	_, err := v.Write(content)
	require.NoError(t, err)
	require.True(t, v.Verified())

	v2 := NewVerifier(d)
	_, err = v2.Write([]byte("wrong content"))
	require.NoError(t, err)
	require.False(t, v2.Verified())
}

func TestTeeHash(t *testing.T) {
	content := []byte("tee me up")
	var buf bytes.Buffer

	tee := NewTeeHash(&buf, Canonical)
	n, err := tee.Write(content)
	require.NoError(t, err)
	require.Equal(t, len(content), n)
	require.Equal(t, content, buf.Bytes())
	require.Equal(t, FromBytes(content), tee.Digest())
}
