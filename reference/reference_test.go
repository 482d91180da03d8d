package reference

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestValidateNameValid(t *testing.T) {
	for _, name := range []string{
		"library/ubuntu",
		"foo",
		"foo/bar/baz",
		"foo-bar/baz_qux.quux",
	} {
		require.NoError(t, ValidateName(name), name)
	}
}

func TestValidateNameInvalid(t *testing.T) {
	for _, name := range []string{
		"",
		"Foo/Bar",
		"foo//bar",
		"/foo",
		"foo/",
		"foo..bar",
	} {
		require.Error(t, ValidateName(name), name)
	}
}

func TestValidateNameTooLong(t *testing.T) {
	long := ""
	for i := 0; i < 260; i++ {
		long += "a"
	}
	require.ErrorIs(t, ValidateName(long), ErrNameTooLong)
}

func TestValidateTag(t *testing.T) {
	require.NoError(t, ValidateTag("latest"))
	require.NoError(t, ValidateTag("v1.2.3"))
	require.Error(t, ValidateTag(""))
	require.Error(t, ValidateTag(".startswithdot"))
}

func TestValidateSessionID(t *testing.T) {
	require.NoError(t, ValidateSessionID(uuid.New().String()))
	require.Error(t, ValidateSessionID("not-a-uuid"))
}

func TestIsTag(t *testing.T) {
	require.True(t, IsTag("latest"))
	require.False(t, IsTag("sha256:e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"))
}

func TestSafeJoin(t *testing.T) {
	_, err := SafeJoin("/data", "repo", "_layers", "link")
	require.NoError(t, err)

	_, err = SafeJoin("/data", "..", "..", "etc", "passwd")
	require.Error(t, err)
}
