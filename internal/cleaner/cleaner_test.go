package cleaner

import (
	"context"
	"fmt"
	"io"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kenneth/file-interrogator/internal/metrics"
	"github.com/kenneth/file-interrogator/internal/s3"
)

type fakeStorage struct {
	mu      sync.Mutex
	objects map[string]map[string][]byte // bucket -> key -> content
	failKey string
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{objects: make(map[string]map[string][]byte)}
}

func (f *fakeStorage) put(bucket, key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.objects[bucket] == nil {
		f.objects[bucket] = make(map[string][]byte)
	}
	f.objects[bucket][key] = []byte("content")
}

func (f *fakeStorage) ObjectExists(_ context.Context, bucket, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.objects[bucket][key]
	return ok, nil
}

func (f *fakeStorage) ObjectSize(context.Context, string, string) (int64, error) {
	return 0, nil
}

func (f *fakeStorage) ReadRange(context.Context, string, string, int64, int64) ([]byte, error) {
	return nil, nil
}

func (f *fakeStorage) ComposeObject(context.Context, s3.ObjectRef, []byte, s3.ObjectRef, int64) error {
	return nil
}

func (f *fakeStorage) ListObjects(_ context.Context, bucket, _ string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var keys []string
	for key := range f.objects[bucket] {
		keys = append(keys, key)
	}
	return keys, nil
}

func (f *fakeStorage) DeleteObject(_ context.Context, bucket, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if key == f.failKey {
		return fmt.Errorf("access denied")
	}
	delete(f.objects[bucket], key)
	return nil
}

type fakeAuthority struct {
	removable map[string]bool
	asked     []string
	err       error
}

func (f *fakeAuthority) CanRemove(_ context.Context, fileIDs []string) ([]string, error) {
	f.asked = append(f.asked, fileIDs...)
	if f.err != nil {
		return nil, f.err
	}
	var out []string
	for _, id := range fileIDs {
		if f.removable[id] {
			out = append(out, id)
		}
	}
	return out, nil
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestRunRemovesOnlyClearedObjects(t *testing.T) {
	storage := newFakeStorage()
	storage.put("inbox", "done-1")
	storage.put("inbox", "done-2")
	storage.put("inbox", "pending")

	authority := &fakeAuthority{removable: map[string]bool{"done-1": true, "done-2": true}}
	m := metrics.NewMetricsWithRegistry(prometheus.NewRegistry())
	c := New(storage, authority, nil, m, quietLogger(), "inbox")

	removed, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	exists, _ := storage.ObjectExists(context.Background(), "inbox", "pending")
	assert.True(t, exists, "uncleared object must survive the sweep")
	exists, _ = storage.ObjectExists(context.Background(), "inbox", "done-1")
	assert.False(t, exists)
	assert.Len(t, authority.asked, 3)
}

func TestRunEmptyBucketSkipsAuthority(t *testing.T) {
	storage := newFakeStorage()
	authority := &fakeAuthority{}
	m := metrics.NewMetricsWithRegistry(prometheus.NewRegistry())
	c := New(storage, authority, nil, m, quietLogger(), "inbox")

	removed, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, removed)
	assert.Empty(t, authority.asked)
}

func TestRunContinuesPastDeleteFailure(t *testing.T) {
	storage := newFakeStorage()
	storage.put("inbox", "stuck")
	storage.put("inbox", "fine")
	storage.failKey = "stuck"

	authority := &fakeAuthority{removable: map[string]bool{"stuck": true, "fine": true}}
	m := metrics.NewMetricsWithRegistry(prometheus.NewRegistry())
	c := New(storage, authority, nil, m, quietLogger(), "inbox")

	removed, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	exists, _ := storage.ObjectExists(context.Background(), "inbox", "stuck")
	assert.True(t, exists)
}

func TestRunAuthorityError(t *testing.T) {
	storage := newFakeStorage()
	storage.put("inbox", "obj")

	authority := &fakeAuthority{err: fmt.Errorf("central API down")}
	m := metrics.NewMetricsWithRegistry(prometheus.NewRegistry())
	c := New(storage, authority, nil, m, quietLogger(), "inbox")

	_, err := c.Run(context.Background())
	require.Error(t, err)

	exists, _ := storage.ObjectExists(context.Background(), "inbox", "obj")
	assert.True(t, exists)
}
