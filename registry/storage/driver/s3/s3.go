// Package s3 implements a storagedriver.StorageDriver backed by Amazon S3,
// following the teacher's s3-aws driver's parameter/factory conventions but
// built on aws-sdk-go-v2 rather than the legacy v1 client.
//
// S3 offers only read-after-write consistency for new keys, so Writer
// stages the upload locally until Commit, then performs a single PutObject
// (or a multipart upload for large blobs), matching the atomic-visibility
// contract every StorageDriver implementation must honor.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	storagedriver "github.com/ocireg/registry/registry/storage/driver"
	"github.com/ocireg/registry/registry/storage/driver/base"
	"github.com/ocireg/registry/registry/storage/driver/factory"
)

const driverName = "s3"

// multipartThreshold is the blob size above which Commit uses a multipart
// upload instead of a single PutObject call.
const multipartThreshold = 32 * 1024 * 1024

const minPartSize = 5 * 1024 * 1024

// DriverParameters encapsulates all driver parameters after defaults have
// been applied.
type DriverParameters struct {
	AccessKey      string
	SecretKey      string
	Bucket         string
	Region         string
	RegionEndpoint string
	ForcePathStyle bool
	RootDirectory  string
}

func init() {
	factory.Register(driverName, &s3DriverFactory{})
}

type s3DriverFactory struct{}

func (f *s3DriverFactory) Create(ctx context.Context, parameters map[string]interface{}) (storagedriver.StorageDriver, error) {
	return FromParameters(ctx, parameters)
}

func stringParam(parameters map[string]interface{}, key string) string {
	if v, ok := parameters[key]; ok {
		return fmt.Sprint(v)
	}
	return ""
}

func boolParam(parameters map[string]interface{}, key string) bool {
	v, ok := parameters[key]
	if !ok {
		return false
	}
	b, _ := strconv.ParseBool(fmt.Sprint(v))
	return b
}

// FromParameters constructs a new Driver from a parameter map, as supplied
// by configuration.Storage.Parameters().
func FromParameters(ctx context.Context, parameters map[string]interface{}) (*Driver, error) {
	params := DriverParameters{
		AccessKey:      stringParam(parameters, "accesskey"),
		SecretKey:      stringParam(parameters, "secretkey"),
		Bucket:         stringParam(parameters, "bucket"),
		Region:         stringParam(parameters, "region"),
		RegionEndpoint: stringParam(parameters, "regionendpoint"),
		ForcePathStyle: boolParam(parameters, "forcepathstyle"),
		RootDirectory:  stringParam(parameters, "rootdirectory"),
	}

	if params.Bucket == "" {
		return nil, fmt.Errorf("s3: no bucket parameter provided")
	}

	return New(ctx, params)
}

// Driver is a storagedriver.StorageDriver implementation backed by S3.
type Driver struct {
	baseEmbed
}

type baseEmbed struct {
	base.Base
}

type driver struct {
	client s3Client
	bucket string
	root   string
}

type s3Client interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	DeleteObjects(ctx context.Context, params *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
	CopyObject(ctx context.Context, params *s3.CopyObjectInput, optFns ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
	CreateMultipartUpload(ctx context.Context, params *s3.CreateMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error)
	UploadPart(ctx context.Context, params *s3.UploadPartInput, optFns ...func(*s3.Options)) (*s3.UploadPartOutput, error)
	CompleteMultipartUpload(ctx context.Context, params *s3.CompleteMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error)
	AbortMultipartUpload(ctx context.Context, params *s3.AbortMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error)
}

var _ storagedriver.StorageDriver = &driver{}

// New constructs a new Driver from the given parameters, resolving AWS
// credentials the same way the teacher's driver does: static keys when
// given, the default credential chain otherwise.
func New(ctx context.Context, params DriverParameters) (*Driver, error) {
	var optFns []func(*awsconfig.LoadOptions) error
	if params.Region != "" {
		optFns = append(optFns, awsconfig.WithRegion(params.Region))
	}
	if params.AccessKey != "" && params.SecretKey != "" {
		optFns = append(optFns, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(params.AccessKey, params.SecretKey, ""),
		))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return nil, fmt.Errorf("s3: loading aws config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if params.RegionEndpoint != "" {
			o.BaseEndpoint = aws.String(params.RegionEndpoint)
		}
		o.UsePathStyle = params.ForcePathStyle
	})

	d := &driver{
		client: client,
		bucket: params.Bucket,
		root:   strings.Trim(params.RootDirectory, "/"),
	}

	return &Driver{
		baseEmbed: baseEmbed{
			Base: base.Base{StorageDriver: d},
		},
	}, nil
}

func (d *driver) Name() string {
	return driverName
}

func (d *driver) key(subPath string) string {
	subPath = strings.TrimPrefix(subPath, "/")
	if d.root == "" {
		return subPath
	}
	return d.root + "/" + subPath
}

func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	var nsk *types.NoSuchKey
	var nf *types.NotFound
	if errors.As(err, &nsk) || errors.As(err, &nf) {
		return true
	}
	return strings.Contains(err.Error(), "NotFound") || strings.Contains(err.Error(), "NoSuchKey")
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
	_, err := d.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(d.key(subPath)),
		Body:   bytes.NewReader(contents),
	})
	return err
}

func (d *driver) Reader(ctx context.Context, path string, offset int64) (io.ReadCloser, error) {
	rangeHeader := fmt.Sprintf("bytes=%d-", offset)
	out, err := d.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(d.key(path)),
		Range:  aws.String(rangeHeader),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, storagedriver.PathNotFoundError{Path: path}
		}
		if strings.Contains(err.Error(), "InvalidRange") {
			return nil, storagedriver.InvalidOffsetError{Path: path, Offset: offset}
		}
		return nil, err
	}
	return out.Body, nil
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
	key := d.key(subPath)

	head, err := d.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		var size int64
		if head.ContentLength != nil {
			size = *head.ContentLength
		}
		var modTime time.Time
		if head.LastModified != nil {
			modTime = *head.LastModified
		}
		return fileInfo{path: subPath, size: size, modTime: modTime}, nil
	}
	if !isNotFound(err) {
		return nil, err
	}

	prefix := key
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	listOut, err := d.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(d.bucket),
		Prefix:  aws.String(prefix),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		return nil, err
	}
	if len(listOut.Contents) == 0 {
		return nil, storagedriver.PathNotFoundError{Path: subPath}
	}
	return fileInfo{path: subPath, isDir: true}, nil
}

func (d *driver) List(ctx context.Context, subPath string) ([]string, error) {
	prefix := d.key(subPath)
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	var out []string
	var token *string
	for {
		resp, err := d.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(d.bucket),
			Prefix:            aws.String(prefix),
			Delimiter:         aws.String("/"),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, err
		}
		for _, obj := range resp.Contents {
			out = append(out, "/"+strings.TrimPrefix(*obj.Key, d.root+"/"))
		}
		for _, cp := range resp.CommonPrefixes {
			out = append(out, "/"+strings.TrimSuffix(strings.TrimPrefix(*cp.Prefix, d.root+"/"), "/"))
		}
		if resp.NextContinuationToken == nil {
			break
		}
		token = resp.NextContinuationToken
	}

	if len(out) == 0 {
		return nil, storagedriver.PathNotFoundError{Path: subPath}
	}
	sort.Strings(out)
	return out, nil
}

func (d *driver) Move(ctx context.Context, sourcePath string, destPath string) error {
	source := d.key(sourcePath)
	dest := d.key(destPath)

	_, err := d.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(d.bucket),
		Key:        aws.String(dest),
		CopySource: aws.String(d.bucket + "/" + source),
	})
	if err != nil {
		if isNotFound(err) {
			return storagedriver.PathNotFoundError{Path: sourcePath}
		}
		return err
	}

	return d.Delete(ctx, sourcePath)
}

func (d *driver) Delete(ctx context.Context, subPath string) error {
	key := d.key(subPath)

	var paths []string
	err := d.Walk(ctx, subPath, func(fi storagedriver.FileInfo) error {
		if !fi.IsDir() {
			paths = append(paths, fi.Path())
		}
		return nil
	})
	if err != nil {
		return err
	}

	if len(paths) == 0 {
		if _, err := d.Stat(ctx, subPath); err != nil {
			return err
		}
		_, err := d.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(d.bucket),
			Key:    aws.String(key),
		})
		return err
	}

	var objects []types.ObjectIdentifier
	for _, p := range paths {
		objects = append(objects, types.ObjectIdentifier{Key: aws.String(d.key(p))})
	}
	_, err = d.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
		Bucket: aws.String(d.bucket),
		Delete: &types.Delete{Objects: objects},
	})
	return err
}

func (d *driver) RedirectURL(method string, path string) (string, error) {
	return "", nil
}

func (d *driver) Walk(ctx context.Context, from string, f storagedriver.WalkFn) error {
	prefix := d.key(from)
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	fromPath := "/" + strings.Trim(from, "/")
	seen := map[string]bool{}

	var token *string
	for {
		resp, err := d.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(d.bucket),
			Prefix:            aws.String(prefix),
			ContinuationToken: token,
		})
		if err != nil {
			return err
		}
		for _, obj := range resp.Contents {
			var size int64
			if obj.Size != nil {
				size = *obj.Size
			}
			var modTime time.Time
			if obj.LastModified != nil {
				modTime = *obj.LastModified
			}
			relPath := "/" + strings.TrimPrefix(*obj.Key, d.root+"/")
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
		if resp.NextContinuationToken == nil {
			break
		}
		token = resp.NextContinuationToken
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
// content in one PutObject call, or via multipart for blobs at or above
// multipartThreshold.
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
		return 0, fmt.Errorf("s3: writer no longer usable")
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
		return fmt.Errorf("s3: writer no longer usable")
	}
	w.committed = true

	if w.buf.Len() < multipartThreshold {
		return w.d.PutContent(ctx, w.path, w.buf.Bytes())
	}
	return w.commitMultipart(ctx)
}

func (w *fileWriter) commitMultipart(ctx context.Context) error {
	key := w.d.key(w.path)

	created, err := w.d.client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket: aws.String(w.d.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return err
	}

	data := w.buf.Bytes()
	var parts []types.CompletedPart
	partNumber := int32(1)
	for offset := 0; offset < len(data); offset += minPartSize {
		end := offset + minPartSize
		if end > len(data) {
			end = len(data)
		}
		up, err := w.d.client.UploadPart(ctx, &s3.UploadPartInput{
			Bucket:     aws.String(w.d.bucket),
			Key:        aws.String(key),
			UploadId:   created.UploadId,
			PartNumber: aws.Int32(partNumber),
			Body:       bytes.NewReader(data[offset:end]),
		})
		if err != nil {
			w.d.client.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
				Bucket:   aws.String(w.d.bucket),
				Key:      aws.String(key),
				UploadId: created.UploadId,
			})
			return err
		}
		parts = append(parts, types.CompletedPart{ETag: up.ETag, PartNumber: aws.Int32(partNumber)})
		partNumber++
	}

	_, err = w.d.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(w.d.bucket),
		Key:             aws.String(key),
		UploadId:        created.UploadId,
		MultipartUpload: &types.CompletedMultipartUpload{Parts: parts},
	})
	return err
}
