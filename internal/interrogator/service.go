package interrogator

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kenneth/file-interrogator/internal/central"
	"github.com/kenneth/file-interrogator/internal/metrics"
)

// Service polls the central API for new uploads and fans them out to a
// bounded pool of workers. Delivery is at least once: a file that
// fails transiently will reappear in a later poll.
type Service struct {
	interrogator *Interrogator
	api          CentralAPI
	metrics      *metrics.Metrics
	logger       *logrus.Logger
	workerCount  int
	pollInterval time.Duration
}

// NewService wires the polling loop around an Interrogator.
func NewService(i *Interrogator, api CentralAPI, m *metrics.Metrics, logger *logrus.Logger, workerCount int, pollInterval time.Duration) *Service {
	return &Service{
		interrogator: i,
		api:          api,
		metrics:      m,
		logger:       logger,
		workerCount:  workerCount,
		pollInterval: pollInterval,
	}
}

// Run blocks until ctx is cancelled. In-flight interrogations are
// allowed to finish before Run returns.
func (s *Service) Run(ctx context.Context) error {
	uploads := make(chan central.FileUpload)

	var wg sync.WaitGroup
	for n := 0; n < s.workerCount; n++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for upload := range uploads {
				s.metrics.WorkerStarted()
				if _, err := s.interrogator.Process(ctx, upload); err != nil {
					s.logger.WithError(err).WithField("file_id", upload.ID).
						Warn("interrogation attempt failed, will retry on next poll")
				}
				s.metrics.WorkerFinished()
			}
		}()
	}

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	s.poll(ctx, uploads)
	for {
		select {
		case <-ctx.Done():
			close(uploads)
			wg.Wait()
			return ctx.Err()
		case <-ticker.C:
			s.poll(ctx, uploads)
		}
	}
}

func (s *Service) poll(ctx context.Context, uploads chan<- central.FileUpload) {
	batch, err := s.api.FetchNewUploads(ctx)
	s.metrics.RecordCentralRequest("fetch_new_uploads", err)
	if err != nil {
		s.logger.WithError(err).Warn("polling for new uploads failed")
		return
	}
	if len(batch) > 0 {
		s.logger.WithField("count", len(batch)).Debug("uploads fetched")
	}
	for _, upload := range batch {
		select {
		case uploads <- upload:
		case <-ctx.Done():
			return
		}
	}
}
