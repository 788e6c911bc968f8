// Package delivery implements the persistent certificate delivery
// queue: durable participant and job records, idempotent status
// transitions, and retry-safe dispatch through a mail transport.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/certrail/certrail/pkg/mail"
	"github.com/certrail/certrail/pkg/observability"
)

// sendTimeout bounds one transport call. A timeout marks the job failed
// and re-dispatchable; the provider may still have sent the message, so
// recovery consults persisted status, never resends blindly.
const sendTimeout = 60 * time.Second

// Engine orchestrates the queue: enqueue stages jobs, dispatch sends
// them. The two are decoupled so a batch import can stage many jobs
// before any network call happens.
type Engine struct {
	store     *Store
	transport mail.Transport
	lease     Lease // optional cross-process serialization
	logger    *observability.Logger

	// mu serializes dispatch runs within this process. A run snapshots
	// the pending set once; overlapping runs would double-send.
	mu sync.Mutex
}

func NewEngine(store *Store, transport mail.Transport, logger *observability.Logger) *Engine {
	if logger == nil {
		logger = observability.Nop()
	}
	return &Engine{store: store, transport: transport, logger: logger}
}

// WithLease adds a cross-process dispatch lease (e.g. redis-backed).
func (e *Engine) WithLease(l Lease) *Engine {
	e.lease = l
	return e
}

// Store exposes the underlying delivery store for read-side surfaces.
func (e *Engine) Store() *Store {
	return e.store
}

// EnqueueRequest stages one certificate delivery.
type EnqueueRequest struct {
	Name            string
	Email           string
	CertificateType string
	ArtifactPath    string
	Organization    *string
	Phone           *string
	Subject         string // optional, rendered from template when empty
	Body            string // optional, rendered from template when empty
}

// Enqueue validates the request, upserts the participant, and records a
// pending job. No email is sent here.
func (e *Engine) Enqueue(ctx context.Context, req EnqueueRequest) (int64, error) {
	if req.Name == "" || req.Email == "" || req.CertificateType == "" {
		return 0, fmt.Errorf("%w: name, email, and certificate type are required", ErrValidation)
	}
	if req.ArtifactPath == "" {
		return 0, fmt.Errorf("%w: artifact path is required", ErrValidation)
	}
	if info, err := os.Stat(req.ArtifactPath); err != nil || info.IsDir() {
		return 0, fmt.Errorf("%w: %s", ErrArtifactNotFound, req.ArtifactPath)
	}

	data := templateData{Name: req.Name, CertificateType: req.CertificateType}
	if req.Organization != nil {
		data.Organization = *req.Organization
	}

	subject := req.Subject
	if subject == "" {
		var err error
		if subject, err = renderDefault(defaultSubject, data); err != nil {
			return 0, err
		}
	}
	body := req.Body
	if body == "" {
		var err error
		if body, err = renderDefault(defaultBody, data); err != nil {
			return 0, err
		}
	}

	participantID, err := e.store.UpsertParticipant(ctx, req.Name, req.Email, req.Organization, req.Phone)
	if err != nil {
		return 0, err
	}

	jobID, err := e.store.CreateJob(ctx, participantID, req.CertificateType, req.ArtifactPath, subject, body)
	if err != nil {
		return 0, err
	}

	jobsEnqueued.Inc()
	e.logger.Info("delivery job enqueued",
		"job_id", jobID,
		"participant_id", participantID,
		"email", NormalizeEmail(req.Email),
		"certificate_type", req.CertificateType,
	)
	return jobID, nil
}

// DispatchOne sends a single job by id. Only pending and failed jobs
// are eligible; an already-sent job reports ErrJobNotFound. A transport
// failure is recorded on the job and returned.
func (e *Engine) DispatchOne(ctx context.Context, jobID int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	job, err := e.store.GetDispatchable(ctx, jobID)
	if err != nil {
		return err
	}
	return e.dispatch(ctx, job)
}

// DispatchAllPending snapshots the pending queue once and processes
// each job exactly once in creation order. One job's failure never
// aborts its siblings. Jobs enqueued concurrently with the run are left
// for the next invocation. Cancellation is honored between jobs; the
// in-flight job always ends persisted as sent or failed.
func (e *Engine) DispatchAllPending(ctx context.Context) (*DispatchReport, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.lease != nil {
		release, err := e.lease.Acquire(ctx)
		if err != nil {
			return nil, err
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				e.logger.Warn("failed to release dispatch lease", "error", err)
			}
		}()
	}

	pending, err := e.store.ListPending(ctx)
	if err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	report := &DispatchReport{Total: len(pending)}
	if len(pending) == 0 {
		e.logger.Info("no pending deliveries", "run_id", runID)
		return report, nil
	}

	e.logger.Info("dispatch run started", "run_id", runID, "pending", len(pending))
	for _, job := range pending {
		if err := ctx.Err(); err != nil {
			e.logger.Warn("dispatch run interrupted", "run_id", runID, "sent", report.Sent, "failed", report.Failed)
			return report, err
		}
		if err := e.dispatch(ctx, job); err != nil {
			report.Failed++
			continue
		}
		report.Sent++
	}

	e.logger.Info("dispatch run finished",
		"run_id", runID,
		"total", report.Total,
		"sent", report.Sent,
		"failed", report.Failed,
	)
	return report, nil
}

// dispatch attempts one send and persists the outcome. Whatever
// happens, the job ends as exactly one of sent or failed-with-message;
// a persistence error after a successful send is surfaced loudly since
// the email is already out.
func (e *Engine) dispatch(ctx context.Context, job *Job) error {
	timer := prometheus.NewTimer(dispatchLatency)
	defer timer.ObserveDuration()

	sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	msgID, sendErr := e.transport.Send(sendCtx, mail.Message{
		To:             job.Email,
		Subject:        job.EmailSubject,
		Body:           job.EmailBody,
		AttachmentPath: job.ArtifactPath,
	})
	if sendErr != nil {
		jobsDispatched.WithLabelValues(string(StatusFailed)).Inc()
		if markErr := e.store.MarkFailed(ctx, job.ID, sendErr.Error()); markErr != nil {
			return errors.Join(sendErr, markErr)
		}
		e.logger.Warn("delivery failed",
			"job_id", job.ID,
			"email", job.Email,
			"error", sendErr.Error(),
		)
		return fmt.Errorf("dispatch job %d: %w", job.ID, sendErr)
	}

	jobsDispatched.WithLabelValues(string(StatusSent)).Inc()
	if err := e.store.MarkSent(ctx, job.ID); err != nil {
		// The email went out but the status did not stick. Restart
		// recovery re-checks persisted status rather than resending
		// blindly, so report this instead of papering over it.
		e.logger.Error("sent but not recorded", "job_id", job.ID, "message_id", msgID, "error", err)
		return fmt.Errorf("record sent for job %d: %w", job.ID, err)
	}

	e.logger.Info("certificate delivered",
		"job_id", job.ID,
		"email", job.Email,
		"message_id", msgID,
	)
	return nil
}
