// Package azure implements a storagedriver.StorageDriver backed by Azure
// Blob Storage, following the teacher's azure driver's container-client
// and factory conventions.
package azure

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"

	storagedriver "github.com/ocireg/registry/registry/storage/driver"
	"github.com/ocireg/registry/registry/storage/driver/base"
	"github.com/ocireg/registry/registry/storage/driver/factory"
)

const driverName = "azure"

// DriverParameters encapsulates all driver parameters after defaults have
// been applied.
type DriverParameters struct {
	AccountName   string
	AccountKey    string
	Container     string
	ServiceURL    string
	RootDirectory string
}

func init() {
	factory.Register(driverName, &azureDriverFactory{})
}

type azureDriverFactory struct{}

func (f *azureDriverFactory) Create(ctx context.Context, parameters map[string]interface{}) (storagedriver.StorageDriver, error) {
	return FromParameters(ctx, parameters)
}

func stringParam(parameters map[string]interface{}, key string) string {
	if v, ok := parameters[key]; ok {
		return fmt.Sprint(v)
	}
	return ""
}

// FromParameters constructs a new Driver from a parameter map, as supplied
// by configuration.Storage.Parameters().
func FromParameters(ctx context.Context, parameters map[string]interface{}) (*Driver, error) {
	params := DriverParameters{
		AccountName:   stringParam(parameters, "accountname"),
		AccountKey:    stringParam(parameters, "accountkey"),
		Container:     stringParam(parameters, "container"),
		ServiceURL:    stringParam(parameters, "serviceurl"),
		RootDirectory: stringParam(parameters, "rootdirectory"),
	}

	if params.Container == "" {
		return nil, fmt.Errorf("azure: no container parameter provided")
	}
	if params.ServiceURL == "" && params.AccountName != "" {
		params.ServiceURL = fmt.Sprintf("https://%s.blob.core.windows.net/", params.AccountName)
	}
	if params.ServiceURL == "" {
		return nil, fmt.Errorf("azure: no serviceurl or accountname parameter provided")
	}

	return New(ctx, params)
}

// Driver is a storagedriver.StorageDriver implementation backed by Azure
// Blob Storage.
type Driver struct {
	baseEmbed
}

type baseEmbed struct {
	base.Base
}

type driver struct {
	client *container.Client
	root   string
}

var _ storagedriver.StorageDriver = &driver{}

// New constructs a new Driver, resolving credentials the same way the
// teacher's driver does: shared-key auth when an account key is given,
// DefaultAzureCredential (managed identity / environment / CLI) otherwise.
func New(ctx context.Context, params DriverParameters) (*Driver, error) {
	var client *container.Client
	var err error

	if params.AccountKey != "" {
		cred, credErr := azblob.NewSharedKeyCredential(params.AccountName, params.AccountKey)
		if credErr != nil {
			return nil, fmt.Errorf("azure: creating shared key credential: %w", credErr)
		}
		svcClient, svcErr := azblob.NewClientWithSharedKeyCredential(params.ServiceURL, cred, nil)
		if svcErr != nil {
			return nil, fmt.Errorf("azure: creating service client: %w", svcErr)
		}
		client = svcClient.ServiceClient().NewContainerClient(params.Container)
	} else {
		cred, credErr := azidentity.NewDefaultAzureCredential(nil)
		if credErr != nil {
			return nil, fmt.Errorf("azure: creating default credential: %w", credErr)
		}
		svcClient, svcErr := azblob.NewClient(params.ServiceURL, cred, nil)
		if svcErr != nil {
			return nil, fmt.Errorf("azure: creating service client: %w", svcErr)
		}
		client = svcClient.ServiceClient().NewContainerClient(params.Container)
	}

	d := &driver{
		client: client,
		root:   strings.Trim(params.RootDirectory, "/"),
	}

	return &Driver{
		baseEmbed: baseEmbed{Base: base.Base{StorageDriver: d}},
	}, nil
}

func (d *driver) Name() string {
	return driverName
}

func (d *driver) blobName(subPath string) string {
	subPath = strings.TrimPrefix(subPath, "/")
	if d.root == "" {
		return subPath
	}
	return d.root + "/" + subPath
}

func (d *driver) GetContent(ctx context.Context, path string) ([]byte, error) {
	rc, err := d.Reader(ctx, path, 0)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

func (d *driver) PutContent(ctx context.Context, subPath string, contents []byte) error {
	blockBlob := d.client.NewBlockBlobClient(d.blobName(subPath))
	_, err := blockBlob.UploadBuffer(ctx, contents, nil)
	return err
}

func (d *driver) Reader(ctx context.Context, path string, offset int64) (io.ReadCloser, error) {
	blobClient := d.client.NewBlobClient(d.blobName(path))

	resp, err := blobClient.DownloadStream(ctx, &azblob.DownloadStreamOptions{
		Range: azblob.HTTPRange{Offset: offset},
	})
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound) {
			return nil, storagedriver.PathNotFoundError{Path: path}
		}
		if bloberror.HasCode(err, bloberror.InvalidRange) {
			return nil, storagedriver.InvalidOffsetError{Path: path, Offset: offset}
		}
		return nil, err
	}
	return resp.Body, nil
}

func (d *driver) Writer(ctx context.Context, subPath string, append bool) (storagedriver.FileWriter, error) {
	var buf bytes.Buffer
	if append {
		existing, err := d.GetContent(ctx, subPath)
		if err == nil {
			buf.Write(existing)
		} else if _, ok := err.(storagedriver.PathNotFoundError); !ok {
			return nil, err
		}
	}
	return &fileWriter{d: d, path: subPath, buf: buf}, nil
}

func (d *driver) Stat(ctx context.Context, subPath string) (storagedriver.FileInfo, error) {
	blobClient := d.client.NewBlobClient(d.blobName(subPath))
	props, err := blobClient.GetProperties(ctx, nil)
	if err == nil {
		var size int64
		if props.ContentLength != nil {
			size = *props.ContentLength
		}
		var modTime time.Time
		if props.LastModified != nil {
			modTime = *props.LastModified
		}
		return fileInfo{path: subPath, size: size, modTime: modTime}, nil
	}
	if !bloberror.HasCode(err, bloberror.BlobNotFound) {
		return nil, err
	}

	prefix := d.blobName(subPath)
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	pager := d.client.NewListBlobsFlatPager(&container.ListBlobsFlatOptions{Prefix: to.Ptr(prefix)})
	if pager.More() {
		page, pageErr := pager.NextPage(ctx)
		if pageErr != nil {
			return nil, pageErr
		}
		if len(page.Segment.BlobItems) > 0 {
			return fileInfo{path: subPath, isDir: true}, nil
		}
	}
	return nil, storagedriver.PathNotFoundError{Path: subPath}
}

func (d *driver) List(ctx context.Context, subPath string) ([]string, error) {
	prefix := d.blobName(subPath)
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	var out []string
	pager := d.client.NewListBlobsHierarchyPager("/", &container.ListBlobsHierarchyOptions{Prefix: to.Ptr(prefix)})
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, item := range page.Segment.BlobItems {
			out = append(out, "/"+strings.TrimPrefix(*item.Name, d.root+"/"))
		}
		for _, p := range page.Segment.BlobPrefixes {
			out = append(out, "/"+strings.TrimSuffix(strings.TrimPrefix(*p.Name, d.root+"/"), "/"))
		}
	}

	if len(out) == 0 {
		return nil, storagedriver.PathNotFoundError{Path: subPath}
	}
	sort.Strings(out)
	return out, nil
}

func (d *driver) Move(ctx context.Context, sourcePath string, destPath string) error {
	sourceClient := d.client.NewBlobClient(d.blobName(sourcePath))
	destClient := d.client.NewBlockBlobClient(d.blobName(destPath))

	_, err := destClient.StartCopyFromURL(ctx, sourceClient.URL(), nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound) {
			return storagedriver.PathNotFoundError{Path: sourcePath}
		}
		return err
	}

	return d.Delete(ctx, sourcePath)
}

func (d *driver) Delete(ctx context.Context, subPath string) error {
	var paths []string
	err := d.Walk(ctx, subPath, func(fi storagedriver.FileInfo) error {
		if !fi.IsDir() {
			paths = append(paths, fi.Path())
		}
		return nil
	})
	if err == nil && len(paths) == 0 {
		err = storagedriver.PathNotFoundError{Path: subPath}
	}
	if err != nil {
		if _, ok := err.(storagedriver.PathNotFoundError); ok {
			blobClient := d.client.NewBlobClient(d.blobName(subPath))
			_, delErr := blobClient.Delete(ctx, nil)
			if delErr != nil && bloberror.HasCode(delErr, bloberror.BlobNotFound) {
				return storagedriver.PathNotFoundError{Path: subPath}
			}
			return delErr
		}
		return err
	}

	for _, p := range paths {
		blobClient := d.client.NewBlobClient(d.blobName(p))
		if _, err := blobClient.Delete(ctx, nil); err != nil && !bloberror.HasCode(err, bloberror.BlobNotFound) {
			return err
		}
	}
	return nil
}

func (d *driver) RedirectURL(method string, path string) (string, error) {
	return "", nil
}

func (d *driver) Walk(ctx context.Context, from string, f storagedriver.WalkFn) error {
	prefix := d.blobName(from)
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	fromPath := "/" + strings.Trim(from, "/")
	seen := map[string]bool{}

	pager := d.client.NewListBlobsFlatPager(&container.ListBlobsFlatOptions{Prefix: to.Ptr(prefix)})
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return err
		}
		for _, item := range page.Segment.BlobItems {
			var size int64
			if item.Properties.ContentLength != nil {
				size = *item.Properties.ContentLength
			}
			var modTime time.Time
			if item.Properties.LastModified != nil {
				modTime = *item.Properties.LastModified
			}
			relPath := "/" + strings.TrimPrefix(*item.Name, d.root+"/")
			for i := len(fromPath) + 1; i < len(relPath); i++ {
				if relPath[i] == '/' && !seen[relPath[:i]] {
					seen[relPath[:i]] = true
					if err := f(fileInfo{path: relPath[:i], isDir: true}); err != nil {
						return err
					}
				}
			}
			if err := f(fileInfo{path: relPath, size: size, modTime: modTime}); err != nil {
				return err
			}
		}
	}
	return nil
}

type fileInfo struct {
	path    string
	size    int64
	modTime time.Time
	isDir   bool
}

func (fi fileInfo) Path() string       { return fi.path }
func (fi fileInfo) Size() int64        { return fi.size }
func (fi fileInfo) ModTime() time.Time { return fi.modTime }
func (fi fileInfo) IsDir() bool        { return fi.isDir }

// fileWriter buffers writes locally and, on Commit, uploads the full
// content in one UploadBuffer call. Azure block blobs are immutable once
// committed, so appends stage the prior content client-side just as the S3
// driver does.
type fileWriter struct {
	d         *driver
	path      string
	buf       bytes.Buffer
	closed    bool
	committed bool
	cancelled bool
}

func (w *fileWriter) Write(p []byte) (int, error) {
	if w.closed || w.committed || w.cancelled {
		return 0, fmt.Errorf("azure: writer no longer usable")
	}
	return w.buf.Write(p)
}

func (w *fileWriter) Size() int64 {
	return int64(w.buf.Len())
}

func (w *fileWriter) Close() error {
	w.closed = true
	return nil
}

func (w *fileWriter) Cancel(ctx context.Context) error {
	w.cancelled = true
	return nil
}

func (w *fileWriter) Commit(ctx context.Context) error {
	if w.committed || w.cancelled {
		return fmt.Errorf("azure: writer no longer usable")
	}
	w.committed = true
	return w.d.PutContent(ctx, w.path, w.buf.Bytes())
}
