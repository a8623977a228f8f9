package interrogator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/kenneth/file-interrogator/internal/audit"
	"github.com/kenneth/file-interrogator/internal/c4gh"
	"github.com/kenneth/file-interrogator/internal/central"
	"github.com/kenneth/file-interrogator/internal/metrics"
	"github.com/kenneth/file-interrogator/internal/s3"
)

// CentralAPI is the slice of the central API client the pipeline uses.
type CentralAPI interface {
	GetRecipientPublicKey(ctx context.Context) ([32]byte, error)
	FetchNewUploads(ctx context.Context) ([]central.FileUpload, error)
	ReportOutcome(ctx context.Context, report *central.InterrogationReport) error
}

// Options carries the per-deployment constants of the pipeline.
type Options struct {
	InboxBucket         string
	InterrogationBucket string
	StorageAlias        string
	MaxHeaderSize       int64
}

// Interrogator processes one file at a time through the pipeline.
type Interrogator struct {
	storage  s3.Client
	api      CentralAPI
	claims   ClaimStore
	journal  audit.Journal
	metrics  *metrics.Metrics
	logger   *logrus.Logger
	reader   *c4gh.KeyPair
	opts     Options
	instance string
}

// New creates an Interrogator. All dependencies are required except
// journal, which may be nil to disable the outcome journal.
func New(storage s3.Client, api CentralAPI, claims ClaimStore, journal audit.Journal, m *metrics.Metrics, logger *logrus.Logger, reader *c4gh.KeyPair, opts Options) *Interrogator {
	return &Interrogator{
		storage:  storage,
		api:      api,
		claims:   claims,
		journal:  journal,
		metrics:  m,
		logger:   logger,
		reader:   reader,
		opts:     opts,
		instance: uuid.NewString(),
	}
}

// Process runs the full pipeline for one notified upload. Returned
// states are terminal for this attempt: StateReported on success,
// StateRejectedPermanent when the file can never be accepted,
// StateFailed with a non-nil error on recoverable problems (the claim
// is released and a later notification retries), and StateNotified
// when another worker holds the claim.
func (i *Interrogator) Process(ctx context.Context, upload central.FileUpload) (State, error) {
	start := time.Now()
	object := upload.Object()
	log := i.logger.WithFields(logrus.Fields{
		"file_id": upload.ID,
		"object":  object,
	})

	_, acquired, err := i.claims.Acquire(ctx, object, i.instance)
	if err != nil {
		return StateFailed, fmt.Errorf("claim acquisition: %w", err)
	}
	if !acquired {
		log.Debug("object already claimed, skipping")
		return StateNotified, nil
	}
	log.WithField("state", StateClaimed).Debug("claim acquired")

	// A previous attempt may have written the destination but failed
	// to report. Reporting is then retried without redoing the
	// re-encryption.
	written, err := i.storage.ObjectExists(ctx, i.opts.InterrogationBucket, object)
	if err != nil {
		return i.fail(ctx, log, upload, StateClaimed, start, err)
	}

	var kept, dropped int
	if !written {
		var state State
		state, kept, dropped, err = i.rewrapAndWrite(ctx, log, upload, start)
		// Only a successful write may proceed to the acceptance
		// report; rejections and failed attempts stop here.
		if err != nil || state != StateWritten {
			return state, err
		}
	} else {
		log.Info("destination object already present, reporting only")
	}

	report := &central.InterrogationReport{
		FileID:         upload.ID,
		StorageAlias:   i.opts.StorageAlias,
		InterrogatedAt: time.Now().UTC(),
		Status:         central.OutcomeAccepted,
	}
	if err := i.api.ReportOutcome(ctx, report); err != nil {
		i.metrics.RecordCentralRequest("report_outcome", err)
		return i.fail(ctx, log, upload, StateWritten, start, fmt.Errorf("reporting acceptance: %w", err))
	}
	i.metrics.RecordCentralRequest("report_outcome", nil)

	elapsed := time.Since(start)
	i.metrics.RecordInterrogation("accepted", elapsed)
	if i.journal != nil {
		i.journal.RecordAccepted(upload.ID, i.opts.InterrogationBucket, object, kept, dropped, elapsed)
	}
	if err := i.claims.Release(ctx, object, i.instance); err != nil {
		log.WithError(err).Warn("claim release failed after successful report")
	}
	log.WithField("duration", elapsed).Info("file accepted")
	return StateReported, nil
}

// rewrapAndWrite performs the header fetch, validation, rewrap and
// destination write. It returns the kept and dropped packet counts on
// success.
func (i *Interrogator) rewrapAndWrite(ctx context.Context, log *logrus.Entry, upload central.FileUpload, start time.Time) (State, int, int, error) {
	object := upload.Object()

	exists, err := i.storage.ObjectExists(ctx, i.opts.InboxBucket, object)
	if err != nil {
		state, err := i.fail(ctx, log, upload, StateClaimed, start, err)
		return state, 0, 0, err
	}
	if !exists {
		// Notification may have outrun the upload; retry later.
		state, err := i.fail(ctx, log, upload, StateClaimed, start,
			fmt.Errorf("object %s not found in inbox", object))
		return state, 0, 0, err
	}

	size, err := i.storage.ObjectSize(ctx, i.opts.InboxBucket, object)
	if err != nil {
		state, err := i.fail(ctx, log, upload, StateClaimed, start, err)
		return state, 0, 0, err
	}
	if size < c4gh.MinHeaderSize {
		// Too small to hold even an empty header; permanently invalid.
		state, err := i.reject(ctx, log, upload, StateHeaderValidated, start,
			&c4gh.MalformedHeaderError{Reason: fmt.Sprintf("object is %d bytes, too small for a header", size)})
		return state, 0, 0, err
	}

	end := i.opts.MaxHeaderSize
	if size < end {
		end = size
	}
	prefix, err := i.storage.ReadRange(ctx, i.opts.InboxBucket, object, 0, end-1)
	if err != nil {
		state, err := i.fail(ctx, log, upload, StateHeaderFetched, start, err)
		return state, 0, 0, err
	}
	log.WithField("state", StateHeaderFetched).Debug("header prefix fetched")

	header, consumed, err := c4gh.DecodePrefix(prefix)
	if err != nil {
		var malformed *c4gh.MalformedHeaderError
		if errors.As(err, &malformed) {
			state, err := i.reject(ctx, log, upload, StateHeaderValidated, start, err)
			return state, 0, 0, err
		}
		state, err := i.fail(ctx, log, upload, StateHeaderFetched, start, err)
		return state, 0, 0, err
	}
	log.WithFields(logrus.Fields{
		"state":   StateHeaderValidated,
		"packets": len(header.Packets),
	}).Debug("header decoded")

	recipient, err := i.api.GetRecipientPublicKey(ctx)
	i.metrics.RecordCentralRequest("get_recipient_key", err)
	if err != nil {
		state, err := i.fail(ctx, log, upload, StateHeaderValidated, start, err)
		return state, 0, 0, err
	}
	log.WithField("state", StateRecipientKeyResolved).Debug("recipient key resolved")

	rewrapped, err := c4gh.Rewrap(header, i.reader, recipient)
	if err != nil {
		// No decryptable data key, or a packet that decrypts under
		// the service key but carries invalid content: both are
		// permanent for this object.
		var malformed *c4gh.MalformedHeaderError
		if errors.Is(err, c4gh.ErrHeaderRejected) || errors.As(err, &malformed) {
			state, err := i.reject(ctx, log, upload, StateHeaderRewrapped, start, err)
			return state, 0, 0, err
		}
		state, err := i.fail(ctx, log, upload, StateHeaderRewrapped, start, err)
		return state, 0, 0, err
	}
	kept := len(rewrapped.Packets)
	dropped := len(header.Packets) - kept
	i.metrics.RecordHeaderPackets(kept, dropped)
	log.WithFields(logrus.Fields{
		"state":   StateHeaderRewrapped,
		"kept":    kept,
		"dropped": dropped,
	}).Debug("header rewrapped")

	dst := s3.ObjectRef{Bucket: i.opts.InterrogationBucket, Key: object}
	src := s3.ObjectRef{Bucket: i.opts.InboxBucket, Key: object}
	if err := i.storage.ComposeObject(ctx, dst, rewrapped.Encode(), src, int64(consumed)); err != nil {
		state, err := i.fail(ctx, log, upload, StateHeaderRewrapped, start, err)
		return state, 0, 0, err
	}
	log.WithField("state", StateWritten).Info("re-encrypted object written")
	return StateWritten, kept, dropped, nil
}

// reject reports a permanent rejection to the central API and resolves
// the claim. The claim is intentionally NOT released on a successful
// report: the object must not be picked up again. A rejection report
// that cannot be delivered fails the attempt, with a non-nil error so
// callers never mistake the object for accepted.
func (i *Interrogator) reject(ctx context.Context, log *logrus.Entry, upload central.FileUpload, stage State, start time.Time, cause error) (State, error) {
	report := &central.InterrogationReport{
		FileID:         upload.ID,
		StorageAlias:   i.opts.StorageAlias,
		InterrogatedAt: time.Now().UTC(),
		Status:         central.OutcomeRejected,
		Reason:         cause.Error(),
	}
	if err := i.api.ReportOutcome(ctx, report); err != nil {
		i.metrics.RecordCentralRequest("report_outcome", err)
		return i.fail(ctx, log, upload, stage, start, fmt.Errorf("reporting rejection: %w", err))
	}
	i.metrics.RecordCentralRequest("report_outcome", nil)

	elapsed := time.Since(start)
	i.metrics.RecordInterrogation("rejected", elapsed)
	if i.journal != nil {
		i.journal.RecordRejected(upload.ID, i.opts.InboxBucket, upload.Object(), stage.String(), cause, elapsed)
	}
	log.WithError(cause).WithField("stage", stage).Warn("file permanently rejected")
	return StateRejectedPermanent, nil
}

// fail releases the claim so a later notification can retry.
func (i *Interrogator) fail(ctx context.Context, log *logrus.Entry, upload central.FileUpload, stage State, start time.Time, cause error) (State, error) {
	elapsed := time.Since(start)
	i.metrics.RecordInterrogation("failed", elapsed)
	if i.journal != nil {
		i.journal.RecordFailed(upload.ID, i.opts.InboxBucket, upload.Object(), stage.String(), cause, elapsed)
	}
	if err := i.claims.Release(ctx, upload.Object(), i.instance); err != nil {
		log.WithError(err).Warn("claim release failed")
	}
	log.WithError(cause).WithField("stage", stage).Error("interrogation failed")
	return StateFailed, cause
}
