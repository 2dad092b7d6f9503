package minio

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"path"
	"slices"
	"strings"

	"github.com/minio/minio-go/v7"

	"github.com/hupe1980/olapcache/blobstore"
)

const (
	// SegmentContentType is the content type of encoded segment blobs.
	SegmentContentType = "application/vnd.olapcache.segment"

	// DefaultPartSize is the multipart threshold and part size. Most
	// segments are far smaller and go up in a single request.
	DefaultPartSize = 16 << 20

	segmentSuffix = ".seg"
)

// Option configures a Store.
type Option func(*Store)

// WithContentType sets the content type of written objects.
func WithContentType(ct string) Option {
	return func(s *Store) { s.contentType = ct }
}

// WithStorageClass sets the storage class of written objects, e.g.
// "REDUCED_REDUNDANCY".
func WithStorageClass(class string) Option {
	return func(s *Store) { s.storageClass = class }
}

// WithPartSize sets the multipart part size.
func WithPartSize(n uint64) Option {
	return func(s *Store) {
		if n > 0 {
			s.partSize = n
		}
	}
}

// WithMetadata sets the function deriving user metadata from a blob name.
// A nil fn disables metadata.
func WithMetadata(fn func(name string) map[string]string) Option {
	return func(s *Store) { s.metadata = fn }
}

// Store keeps segment blobs in a MinIO or S3-compatible bucket.
type Store struct {
	client *minio.Client
	bucket string
	prefix string

	contentType  string
	storageClass string
	partSize     uint64
	metadata     func(name string) map[string]string
}

// NewStore creates a store writing below rootPrefix in bucket.
func NewStore(client *minio.Client, bucket, rootPrefix string, opts ...Option) *Store {
	s := &Store{
		client:      client,
		bucket:      bucket,
		prefix:      rootPrefix,
		contentType: SegmentContentType,
		partSize:    DefaultPartSize,
		metadata:    SegmentMetadata,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) key(name string) string {
	return path.Join(s.prefix, name)
}

// name maps an object key back to a blob name.
func (s *Store) name(key string) string {
	return strings.TrimPrefix(strings.TrimPrefix(key, s.prefix), "/")
}

func isNotFound(err error) bool {
	code := minio.ToErrorResponse(err).Code
	return code == "NoSuchKey" || code == "NotFound"
}

// SegmentMetadata labels a segment blob laid out as
// "<prefix>/<schema>/<cube>/<hash>.seg" with its schema and cube, so
// bucket tooling can find every segment of a cube. Other names get none.
func SegmentMetadata(name string) map[string]string {
	if !strings.HasSuffix(name, segmentSuffix) {
		return nil
	}
	parts := strings.Split(name, "/")
	if len(parts) < 3 {
		return nil
	}
	schema, err := url.PathUnescape(parts[len(parts)-3])
	if err != nil {
		return nil
	}
	cube, err := url.PathUnescape(parts[len(parts)-2])
	if err != nil {
		return nil
	}
	return map[string]string{"Schema": schema, "Cube": cube}
}

func (s *Store) putOptions(name string, size int) minio.PutObjectOptions {
	opts := minio.PutObjectOptions{
		ContentType:    s.contentType,
		StorageClass:   s.storageClass,
		PartSize:       s.partSize,
		SendContentMd5: true,
	}
	if uint64(size) < s.partSize {
		opts.DisableMultipart = true
	}
	if s.metadata != nil {
		opts.UserMetadata = s.metadata(name)
	}
	return opts
}

// Put writes a blob in one request unless it exceeds the part size.
func (s *Store) Put(ctx context.Context, name string, data []byte) error {
	_, err := s.client.PutObject(ctx, s.bucket, s.key(name), bytes.NewReader(data), int64(len(data)), s.putOptions(name, len(data)))
	if err != nil {
		return fmt.Errorf("minio: put %s: %w", name, err)
	}
	return nil
}

// Get reads a whole blob with a single GET.
func (s *Store) Get(ctx context.Context, name string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, s.key(name), minio.GetObjectOptions{})
	if err != nil {
		if isNotFound(err) {
			return nil, blobstore.ErrNotFound
		}
		return nil, err
	}
	defer obj.Close()

	// The request is sent on the first read.
	data, err := io.ReadAll(obj)
	if err != nil {
		if isNotFound(err) {
			return nil, blobstore.ErrNotFound
		}
		return nil, fmt.Errorf("minio: get %s: %w", name, err)
	}
	return data, nil
}

// Open stats a blob for ranged reads, e.g. of the segment header alone.
func (s *Store) Open(ctx context.Context, name string) (blobstore.Blob, error) {
	key := s.key(name)

	info, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if isNotFound(err) {
			return nil, blobstore.ErrNotFound
		}
		return nil, err
	}

	return &minioBlob{
		client: s.client,
		bucket: s.bucket,
		key:    key,
		etag:   info.ETag,
		size:   info.Size,
	}, nil
}

// Delete removes a blob.
func (s *Store) Delete(ctx context.Context, name string) error {
	err := s.client.RemoveObject(ctx, s.bucket, s.key(name), minio.RemoveObjectOptions{})
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("minio: delete %s: %w", name, err)
	}
	return nil
}

// List returns the sorted names of all blobs with the given prefix.
func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	var names []string
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    s.key(prefix),
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, obj.Err
		}
		if name := s.name(obj.Key); name != "" {
			names = append(names, name)
		}
	}

	slices.Sort(names)
	return names, nil
}

// minioBlob reads ranges of one object version. A blob replaced after Open
// fails the read instead of mixing versions.
type minioBlob struct {
	client *minio.Client
	bucket string
	key    string
	etag   string
	size   int64
}

func (b *minioBlob) Size() int64 {
	return b.size
}

func (b *minioBlob) get(ctx context.Context, off, end int64) (*minio.Object, error) {
	opts := minio.GetObjectOptions{}
	if err := opts.SetRange(off, end); err != nil {
		return nil, err
	}
	if b.etag != "" {
		if err := opts.SetMatchETag(b.etag); err != nil {
			return nil, err
		}
	}
	return b.client.GetObject(ctx, b.bucket, b.key, opts)
}

func (b *minioBlob) ReadAt(ctx context.Context, p []byte, off int64) (int, error) {
	if off >= b.size {
		return 0, io.EOF
	}
	end := min(off+int64(len(p)), b.size) - 1

	obj, err := b.get(ctx, off, end)
	if err != nil {
		return 0, err
	}
	defer obj.Close()

	n, err := io.ReadFull(obj, p[:end-off+1])
	if err == nil && n < len(p) {
		err = io.EOF
	}
	return n, err
}

func (b *minioBlob) ReadRange(ctx context.Context, off, length int64) (io.ReadCloser, error) {
	if off >= b.size || length <= 0 {
		return io.NopCloser(bytes.NewReader(nil)), nil
	}
	return b.get(ctx, off, min(off+length, b.size)-1)
}

func (b *minioBlob) Close() error {
	return nil
}
