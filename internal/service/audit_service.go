package service

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noteforge/noteforge/internal/models"
	"github.com/noteforge/noteforge/pkg/jobs"
)

type auditSink interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// AuditService persists audit events off the request path. Writes go through
// a worker queue with retries so transient store hiccups never slow down or
// fail an auth operation.
type AuditService struct {
	sink   auditSink
	queue  *jobs.Queue
	logger *zap.Logger
}

// NewAuditService constructs the audit writer. Start must be called before
// events flow through the queue; until then Record falls back to synchronous
// writes.
func NewAuditService(sink auditSink, logger *zap.Logger) *AuditService {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &AuditService{sink: sink, logger: logger}
	s.queue = jobs.NewQueue("audit", s.persist, jobs.QueueConfig{
		Workers:    2,
		MaxRetries: 3,
		Logger:     logger,
	})
	return s
}

// Start begins queue consumption.
func (s *AuditService) Start(ctx context.Context) {
	s.queue.Start(ctx)
}

// Stop drains the workers.
func (s *AuditService) Stop() {
	s.queue.Stop()
}

// Record enqueues an audit entry. When the queue is unavailable the entry is
// written synchronously instead of being dropped.
func (s *AuditService) Record(ctx context.Context, entry *models.AuditLog) {
	err := s.queue.Enqueue(jobs.Job{ID: uuid.NewString(), Type: entry.Action, Payload: entry})
	if err == nil {
		return
	}
	if err := s.sink.CreateAuditLog(ctx, entry); err != nil {
		s.logger.Warn("failed to record audit log",
			zap.String("action", entry.Action),
			zap.Error(err))
	}
}

func (s *AuditService) persist(ctx context.Context, job jobs.Job) error {
	entry, ok := job.Payload.(*models.AuditLog)
	if !ok {
		s.logger.Error("unexpected audit payload type", zap.String("job_id", job.ID))
		return nil
	}
	return s.sink.CreateAuditLog(ctx, entry)
}
