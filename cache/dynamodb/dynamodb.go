package dynamodb

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
	"github.com/cenkalti/backoff/v4"

	"github.com/hupe1980/olapcache/cache"
	"github.com/hupe1980/olapcache/segment"
)

// MaxItemBytes is the DynamoDB item size limit.
const MaxItemBytes = 400 * 1024

// Attribute names.
const (
	attrKey       = "pk"
	attrHeader    = "header"
	attrBody      = "body"
	attrSchema    = "schema_name"
	attrCube      = "cube_name"
	attrMeasure   = "measure_name"
	attrExpiresAt = "expires_at"
)

// Client is the subset of the DynamoDB API used by Cache.
// *dynamodb.Client satisfies it.
type Client interface {
	dynamodb.ScanAPIClient
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// Cache is a cache.SegmentCache backed by a DynamoDB table.
type Cache struct {
	client     Client
	table      string
	reg        *segment.Registry
	enc        cache.Encoding
	ttl        time.Duration
	maxElapsed time.Duration
	logger     *slog.Logger
	now        func() time.Time
}

var _ cache.SegmentCache = (*Cache)(nil)

// Option configures a Cache.
type Option func(*Cache)

// WithRegistry sets the registry decoded headers are registered in.
func WithRegistry(reg *segment.Registry) Option {
	return func(c *Cache) {
		if reg != nil {
			c.reg = reg
		}
	}
}

// WithEncoding sets the segment encoding.
func WithEncoding(enc cache.Encoding) Option {
	return func(c *Cache) { c.enc = enc }
}

// WithTTL sets the expires_at attribute on written items.
func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) { c.ttl = ttl }
}

// WithRetry bounds the time spent retrying throttled writes. Zero disables retries.
func WithRetry(maxElapsed time.Duration) Option {
	return func(c *Cache) { c.maxElapsed = maxElapsed }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Cache) {
		if l != nil {
			c.logger = l
		}
	}
}

// New returns a cache over table.
func New(client Client, table string, opts ...Option) *Cache {
	c := &Cache{
		client:     client,
		table:      table,
		reg:        segment.NewRegistry(),
		enc:        cache.DefaultEncoding(),
		maxElapsed: 5 * time.Second,
		logger:     slog.New(slog.DiscardHandler),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func itemKey(h *segment.Header) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		attrKey: &types.AttributeValueMemberS{Value: fmt.Sprintf("%016x", h.Hash())},
	}
}

func (c *Cache) expired(item map[string]types.AttributeValue) bool {
	v, ok := item[attrExpiresAt].(*types.AttributeValueMemberN)
	if !ok {
		return false
	}
	sec, err := strconv.ParseInt(v.Value, 10, 64)
	return err == nil && c.now().Unix() >= sec
}

func (c *Cache) decodeHeader(item map[string]types.AttributeValue) (*segment.Header, error) {
	v, ok := item[attrHeader].(*types.AttributeValueMemberB)
	if !ok {
		return nil, fmt.Errorf("%w: missing %s attribute", cache.ErrCorruptEntry, attrHeader)
	}
	return c.enc.DecodeHeader(c.reg, v.Value)
}

// lookup returns the item for h, or nil if it is absent, expired, or
// belongs to a different header with the same hash.
func (c *Cache) lookup(ctx context.Context, h *segment.Header, attrs ...string) (map[string]types.AttributeValue, error) {
	in := &dynamodb.GetItemInput{
		TableName:      aws.String(c.table),
		Key:            itemKey(h),
		ConsistentRead: aws.Bool(true),
	}
	if len(attrs) > 0 {
		names := make(map[string]string, len(attrs))
		expr := ""
		for i, a := range attrs {
			alias := "#a" + strconv.Itoa(i)
			names[alias] = a
			if i > 0 {
				expr += ", "
			}
			expr += alias
		}
		in.ProjectionExpression = aws.String(expr)
		in.ExpressionAttributeNames = names
	}

	out, err := c.client.GetItem(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("dynamodb get: %w", err)
	}
	if len(out.Item) == 0 || c.expired(out.Item) {
		return nil, nil
	}
	stored, err := c.decodeHeader(out.Item)
	if err != nil {
		return nil, err
	}
	if stored.Key() != h.Key() {
		return nil, nil
	}
	return out.Item, nil
}

// Get returns the stored body for h.
func (c *Cache) Get(ctx context.Context, h *segment.Header) (*segment.Body, error) {
	item, err := c.lookup(ctx, h)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, cache.ErrNotFound
	}
	v, ok := item[attrBody].(*types.AttributeValueMemberB)
	if !ok {
		return nil, fmt.Errorf("%w: missing %s attribute", cache.ErrCorruptEntry, attrBody)
	}
	return c.enc.DecodeBody(v.Value)
}

// Put writes the entry. Entries over MaxItemBytes are rejected.
func (c *Cache) Put(ctx context.Context, h *segment.Header, b *segment.Body) error {
	hdr, err := c.enc.EncodeHeader(h)
	if err != nil {
		return err
	}
	body, err := c.enc.EncodeBody(b)
	if err != nil {
		return err
	}
	if size := len(hdr) + len(body) + len(h.Schema()) + len(h.Cube()) + len(h.Measure()) + 128; size > MaxItemBytes {
		return fmt.Errorf("%w: item of %d bytes exceeds %d", cache.ErrRejected, size, MaxItemBytes)
	}

	item := itemKey(h)
	item[attrHeader] = &types.AttributeValueMemberB{Value: hdr}
	item[attrBody] = &types.AttributeValueMemberB{Value: body}
	item[attrSchema] = &types.AttributeValueMemberS{Value: h.Schema()}
	item[attrCube] = &types.AttributeValueMemberS{Value: h.Cube()}
	item[attrMeasure] = &types.AttributeValueMemberS{Value: h.Measure()}
	if c.ttl > 0 {
		item[attrExpiresAt] = &types.AttributeValueMemberN{Value: strconv.FormatInt(c.now().Add(c.ttl).Unix(), 10)}
	}

	op := func() error {
		_, err := c.client.PutItem(ctx, &dynamodb.PutItemInput{
			TableName: aws.String(c.table),
			Item:      item,
		})
		if err == nil {
			return nil
		}
		if ctx.Err() != nil || !retryable(err) {
			return backoff.Permanent(fmt.Errorf("dynamodb put: %w", err))
		}
		c.logger.Debug("dynamodb put throttled", slog.String("error", err.Error()))
		return err
	}
	return backoff.Retry(op, backoff.WithContext(c.backoff(), ctx))
}

func (c *Cache) backoff() backoff.BackOff {
	if c.maxElapsed <= 0 {
		return &backoff.StopBackOff{}
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 25 * time.Millisecond
	b.MaxElapsedTime = c.maxElapsed
	return b
}

func retryable(err error) bool {
	var throttled *types.ProvisionedThroughputExceededException
	if errors.As(err, &throttled) {
		return true
	}
	var limit *types.RequestLimitExceeded
	if errors.As(err, &limit) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode() == "ThrottlingException" || apiErr.ErrorFault() == smithy.FaultServer
	}
	return false
}

// Remove deletes the entry for h if the stored header matches.
func (c *Cache) Remove(ctx context.Context, h *segment.Header) (bool, error) {
	hdr, err := c.enc.EncodeHeader(h)
	if err != nil {
		return false, err
	}
	_, err = c.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:           aws.String(c.table),
		Key:                 itemKey(h),
		ConditionExpression: aws.String("#h = :h"),
		ExpressionAttributeNames: map[string]string{
			"#h": attrHeader,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":h": &types.AttributeValueMemberB{Value: hdr},
		},
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return false, nil
		}
		return false, fmt.Errorf("dynamodb delete: %w", err)
	}
	return true, nil
}

// Contains reports whether an unexpired entry for h exists.
func (c *Cache) Contains(ctx context.Context, h *segment.Header) (bool, error) {
	item, err := c.lookup(ctx, h, attrHeader, attrExpiresAt)
	if err != nil {
		return false, err
	}
	return item != nil, nil
}

// Headers scans the table for all unexpired headers. Undecodable items are skipped.
func (c *Cache) Headers(ctx context.Context) ([]*segment.Header, error) {
	p := dynamodb.NewScanPaginator(c.client, &dynamodb.ScanInput{
		TableName:            aws.String(c.table),
		ProjectionExpression: aws.String("#h, #e"),
		ExpressionAttributeNames: map[string]string{
			"#h": attrHeader,
			"#e": attrExpiresAt,
		},
	})

	var out []*segment.Header
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("dynamodb scan: %w", err)
		}
		for _, item := range page.Items {
			if c.expired(item) {
				continue
			}
			h, err := c.decodeHeader(item)
			if err != nil {
				c.logger.Warn("skipping undecodable item", slog.String("error", err.Error()))
				continue
			}
			out = append(out, h)
		}
	}
	return out, nil
}

// Close is a no-op; the client is owned by the caller.
func (c *Cache) Close() error {
	return nil
}
