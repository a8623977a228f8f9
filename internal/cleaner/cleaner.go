// Package cleaner removes objects from storage once the central API
// confirms they are safely archived and no longer needed.
package cleaner

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/kenneth/file-interrogator/internal/audit"
	"github.com/kenneth/file-interrogator/internal/metrics"
	"github.com/kenneth/file-interrogator/internal/s3"
)

// RemovalAuthority answers which of the given file identifiers may be
// deleted from storage.
type RemovalAuthority interface {
	CanRemove(ctx context.Context, fileIDs []string) ([]string, error)
}

// Cleaner sweeps the configured buckets.
type Cleaner struct {
	storage s3.Client
	api     RemovalAuthority
	journal audit.Journal
	metrics *metrics.Metrics
	logger  *logrus.Logger
	buckets []string
}

// New creates a Cleaner sweeping the given buckets. journal may be nil.
func New(storage s3.Client, api RemovalAuthority, journal audit.Journal, m *metrics.Metrics, logger *logrus.Logger, buckets ...string) *Cleaner {
	return &Cleaner{
		storage: storage,
		api:     api,
		journal: journal,
		metrics: m,
		logger:  logger,
		buckets: buckets,
	}
}

// Run performs one sweep over all buckets and returns the number of
// objects removed. Objects the central API does not clear are left in
// place; individual delete failures are logged but do not abort the
// sweep.
func (c *Cleaner) Run(ctx context.Context) (int, error) {
	removed := 0
	for _, bucket := range c.buckets {
		n, err := c.sweep(ctx, bucket)
		removed += n
		if err != nil {
			return removed, fmt.Errorf("sweeping bucket %s: %w", bucket, err)
		}
	}
	c.metrics.RecordFilesRemoved(removed)
	return removed, nil
}

func (c *Cleaner) sweep(ctx context.Context, bucket string) (int, error) {
	keys, err := c.storage.ListObjects(ctx, bucket, "")
	if err != nil {
		return 0, fmt.Errorf("listing objects: %w", err)
	}
	if len(keys) == 0 {
		return 0, nil
	}

	removable, err := c.api.CanRemove(ctx, keys)
	c.metrics.RecordCentralRequest("can_remove", err)
	if err != nil {
		return 0, fmt.Errorf("querying removable files: %w", err)
	}

	log := c.logger.WithField("bucket", bucket)
	log.WithFields(logrus.Fields{
		"objects":   len(keys),
		"removable": len(removable),
	}).Info("sweep started")

	removed := 0
	for _, key := range removable {
		if err := c.storage.DeleteObject(ctx, bucket, key); err != nil {
			log.WithError(err).WithField("object", key).Warn("delete failed, leaving object in place")
			continue
		}
		removed++
		if c.journal != nil {
			fileID, parseErr := uuid.Parse(key)
			if parseErr != nil {
				fileID = uuid.Nil
			}
			c.journal.RecordRemoved(fileID, bucket, key)
		}
		log.WithField("object", key).Debug("object removed")
	}
	return removed, nil
}
