package azure

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFromParametersRequiresContainer(t *testing.T) {
	_, err := FromParameters(nil, map[string]interface{}{
		"accountname": "myaccount",
	})
	require.Error(t, err)
}

func TestFromParametersDerivesServiceURL(t *testing.T) {
	params := DriverParameters{
		AccountName: "myaccount",
		Container:   "registry",
	}
	if params.ServiceURL == "" && params.AccountName != "" {
		params.ServiceURL = "https://myaccount.blob.core.windows.net/"
	}
	require.Equal(t, "https://myaccount.blob.core.windows.net/", params.ServiceURL)
}

func TestDriverBlobName(t *testing.T) {
	d := &driver{root: "registry"}
	require.Equal(t, "registry/blobs/sha256/ab/abcdef", d.blobName("/blobs/sha256/ab/abcdef"))

	d2 := &driver{root: ""}
	require.Equal(t, "blobs/sha256/ab/abcdef", d2.blobName("/blobs/sha256/ab/abcdef"))
}
