package s3

import (
	"context"
	"time"

	"github.com/kenneth/file-interrogator/internal/metrics"
)

// instrumentedClient wraps a Client and records an operation counter,
// duration, and error counter per call.
type instrumentedClient struct {
	inner   Client
	metrics *metrics.Metrics
}

// NewInstrumentedClient decorates a storage client with Prometheus
// instrumentation. A nil metrics instance returns the inner client
// unchanged.
func NewInstrumentedClient(inner Client, m *metrics.Metrics) Client {
	if m == nil {
		return inner
	}
	return &instrumentedClient{inner: inner, metrics: m}
}

func (c *instrumentedClient) observe(operation, bucket string, start time.Time, err error) {
	c.metrics.RecordStorageOperation(operation, bucket, time.Since(start), err)
}

func (c *instrumentedClient) ObjectExists(ctx context.Context, bucket, key string) (bool, error) {
	start := time.Now()
	exists, err := c.inner.ObjectExists(ctx, bucket, key)
	c.observe("object_exists", bucket, start, err)
	return exists, err
}

func (c *instrumentedClient) ObjectSize(ctx context.Context, bucket, key string) (int64, error) {
	start := time.Now()
	size, err := c.inner.ObjectSize(ctx, bucket, key)
	c.observe("object_size", bucket, start, err)
	return size, err
}

func (c *instrumentedClient) ReadRange(ctx context.Context, bucket, key string, rangeStart, rangeEnd int64) ([]byte, error) {
	start := time.Now()
	data, err := c.inner.ReadRange(ctx, bucket, key, rangeStart, rangeEnd)
	c.observe("read_range", bucket, start, err)
	return data, err
}

func (c *instrumentedClient) ComposeObject(ctx context.Context, dst ObjectRef, header []byte, src ObjectRef, payloadOffset int64) error {
	start := time.Now()
	err := c.inner.ComposeObject(ctx, dst, header, src, payloadOffset)
	c.observe("compose_object", dst.Bucket, start, err)
	return err
}

func (c *instrumentedClient) ListObjects(ctx context.Context, bucket, prefix string) ([]string, error) {
	start := time.Now()
	keys, err := c.inner.ListObjects(ctx, bucket, prefix)
	c.observe("list_objects", bucket, start, err)
	return keys, err
}

func (c *instrumentedClient) DeleteObject(ctx context.Context, bucket, key string) error {
	start := time.Now()
	err := c.inner.DeleteObject(ctx, bucket, key)
	c.observe("delete_object", bucket, start, err)
	return err
}
