package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/singleflight"

	"github.com/hupe1980/olapcache/blobstore"
	"github.com/hupe1980/olapcache/segment"
)

const blobSuffix = ".seg"

// BlobCache stores encoded segments in a blobstore.BlobStore.
//
// Each entry is one blob named <prefix>/<schema>/<cube>/<hash>.seg holding
// the encoded header followed by the compressed body. Reads verify the
// stored header, so a hash collision reads as a miss. Concurrent reads of
// the same blob are collapsed into one.
type BlobCache struct {
	store  blobstore.BlobStore
	reg    *segment.Registry
	enc    Encoding
	prefix string
	retry  func() backoff.BackOff
	logger *slog.Logger
	group  singleflight.Group
}

var _ SegmentCache = (*BlobCache)(nil)

// BlobOption configures a BlobCache.
type BlobOption func(*BlobCache)

// WithBlobRegistry sets the registry decoded headers are registered in.
// Use the registry of the engine so that fingerprints are comparable.
func WithBlobRegistry(reg *segment.Registry) BlobOption {
	return func(c *BlobCache) {
		if reg != nil {
			c.reg = reg
		}
	}
}

// WithBlobEncoding sets the segment encoding.
func WithBlobEncoding(enc Encoding) BlobOption {
	return func(c *BlobCache) {
		c.enc = enc
	}
}

// WithBlobPrefix sets the blob name prefix. Default: "segments".
func WithBlobPrefix(prefix string) BlobOption {
	return func(c *BlobCache) {
		c.prefix = strings.Trim(prefix, "/")
	}
}

// WithBlobRetry retries failed writes with exponential backoff for at most
// maxElapsed. Zero disables retries.
func WithBlobRetry(maxElapsed time.Duration) BlobOption {
	return func(c *BlobCache) {
		if maxElapsed <= 0 {
			c.retry = func() backoff.BackOff { return &backoff.StopBackOff{} }
			return
		}
		c.retry = func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 50 * time.Millisecond
			b.MaxElapsedTime = maxElapsed
			return b
		}
	}
}

// WithBlobLogger sets the logger.
func WithBlobLogger(l *slog.Logger) BlobOption {
	return func(c *BlobCache) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewBlobCache creates a cache over store.
func NewBlobCache(store blobstore.BlobStore, opts ...BlobOption) *BlobCache {
	c := &BlobCache{
		store:  store,
		reg:    segment.NewRegistry(),
		enc:    DefaultEncoding(),
		prefix: "segments",
		logger: slog.New(slog.DiscardHandler),
	}
	WithBlobRetry(5 * time.Second)(c)
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *BlobCache) name(h *segment.Header) string {
	return path.Join(c.prefix,
		url.PathEscape(h.Schema()),
		url.PathEscape(h.Cube()),
		fmt.Sprintf("%016x%s", h.Hash(), blobSuffix),
	)
}

// Get returns the stored body for h.
func (c *BlobCache) Get(ctx context.Context, h *segment.Header) (*segment.Body, error) {
	name := c.name(h)
	v, err, _ := c.group.Do(name, func() (any, error) {
		data, err := blobstore.ReadAll(ctx, c.store, name)
		if err != nil {
			return nil, err
		}
		stored, body, err := c.enc.DecodeEntry(c.reg, data)
		if err != nil {
			return nil, err
		}
		return entry{header: stored, body: body}, nil
	})
	if err != nil {
		if errors.Is(err, blobstore.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	e := v.(entry)
	if e.header.Key() != h.Key() {
		return nil, ErrNotFound
	}
	return e.body, nil
}

// Put encodes and uploads the entry, retrying transient failures.
func (c *BlobCache) Put(ctx context.Context, h *segment.Header, b *segment.Body) error {
	data, err := c.enc.EncodeEntry(h, b)
	if err != nil {
		return err
	}
	name := c.name(h)

	attempt := 0
	op := func() error {
		attempt++
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		err := c.store.Put(ctx, name, data)
		if err != nil {
			c.logger.Debug("blob put failed",
				slog.String("blob", name),
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()),
			)
		}
		return err
	}
	return backoff.Retry(op, backoff.WithContext(c.retry(), ctx))
}

// Remove deletes the entry for h if the stored header matches.
func (c *BlobCache) Remove(ctx context.Context, h *segment.Header) (bool, error) {
	ok, err := c.Contains(ctx, h)
	if err != nil || !ok {
		return false, err
	}
	if err := c.store.Delete(ctx, c.name(h)); err != nil {
		return false, err
	}
	return true, nil
}

// Contains reports whether an entry for h is stored. Only the header is read.
func (c *BlobCache) Contains(ctx context.Context, h *segment.Header) (bool, error) {
	stored, err := c.readHeader(ctx, c.name(h))
	if err != nil {
		if errors.Is(err, blobstore.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return stored.Key() == h.Key(), nil
}

// Headers lists and decodes all stored headers. Corrupt entries are skipped.
func (c *BlobCache) Headers(ctx context.Context) ([]*segment.Header, error) {
	names, err := c.store.List(ctx, c.prefix+"/")
	if err != nil {
		return nil, err
	}
	out := make([]*segment.Header, 0, len(names))
	for _, name := range names {
		if !strings.HasSuffix(name, blobSuffix) {
			continue
		}
		h, err := c.readHeader(ctx, name)
		if err != nil {
			if errors.Is(err, ErrCorruptEntry) || errors.Is(err, blobstore.ErrNotFound) {
				c.logger.Warn("skipping unreadable segment blob", slog.String("blob", name), slog.String("error", err.Error()))
				continue
			}
			return nil, err
		}
		out = append(out, h)
	}
	return out, nil
}

// Close is a no-op; the store is owned by the caller.
func (c *BlobCache) Close() error {
	return nil
}

func (c *BlobCache) readHeader(ctx context.Context, name string) (*segment.Header, error) {
	blob, err := c.store.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	defer blob.Close()

	prefix := make([]byte, entryPrefixSize)
	if _, err := blob.ReadAt(ctx, prefix, 0); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrCorruptEntry, name, err)
	}
	n, err := entryHeaderLen(prefix)
	if err != nil {
		return nil, err
	}
	if int64(entryPrefixSize+n) > blob.Size() {
		return nil, fmt.Errorf("%w: %s: truncated header", ErrCorruptEntry, name)
	}
	hdr := make([]byte, n)
	if _, err := blob.ReadAt(ctx, hdr, entryPrefixSize); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrCorruptEntry, name, err)
	}
	return c.enc.DecodeHeader(c.reg, hdr)
}
