// Package workflowjob implements C7, the per-job worker process: it
// loads a job, gates on quota, fetches eligible leads, and drives C3/C4
// batch by batch until the job reaches a terminal state.
package workflowjob

import (
	"context"
	"time"

	"github.com/go-rod/rod"

	stderrors "outreach-engine/internal/errors"
	"outreach-engine/internal/invite"
	"outreach-engine/internal/leadstate"
	"outreach-engine/internal/logger"
	"outreach-engine/internal/metrics"
	"outreach-engine/internal/models"
	"outreach-engine/internal/ratelimit"
	"outreach-engine/internal/repository"
	"outreach-engine/internal/session"
)

const (
	batchSize       = 10
	interBatchDelay = 5 * time.Minute
)

// StatusPublisher is the subset of bus.Bus the worker needs to publish
// progress and terminal status, kept as an interface so tests can supply
// a fake without a live Redis connection.
type StatusPublisher interface {
	PublishStatus(ctx context.Context, jobID string, event StatusEvent) error
}

// ControlSource delivers pause/cancel signals, either from a live
// subscription or from DB-fallback polling.
type ControlSource interface {
	// Poll returns the job's current status column — used in fallback
	// mode after every completed lead.
	Poll(ctx context.Context, jobID string) (models.WorkflowJobStatus, error)
	// Live reports whether a pub/sub subscription is active. When true,
	// the worker skips the DB-fallback Poll — a live subscriber already
	// exits the process immediately on signal receipt.
	Live() bool
}

// StatusEvent mirrors bus.StatusEvent's shape without importing the bus
// package directly, so this package stays independent of the transport.
type StatusEvent struct {
	Type               string
	JobID              string
	CampaignID         string
	Status             string
	Progress           int
	TotalLeads         int
	ProcessedLeads     int
	CurrentLead        string
	FractionalProgress float64
	Stage              string
	Results            interface{}
	StartedAt          *time.Time
	CompletedAt        *time.Time
	ErrorMessage       string
}

// sessionValidatorFunc matches session.Validate's signature. A field of
// this type lets tests drive Run past session acquisition without a live
// browser.
type sessionValidatorFunc func(profileDir string, headless bool, bundle models.SessionBundle, keepOpen bool) (session.Result, error)

// batchRunnerFunc matches invite.ProcessInvites's signature.
type batchRunnerFunc func(ctx context.Context, page *rod.Page, leads []*models.Lead, customMessage, campaignID string, progress invite.ProgressCallback) (invite.Results, error)

type Worker struct {
	jobs      *repository.WorkflowJobRepository
	accounts  *repository.LinkedInAccountRepository
	leadState *leadstate.Manager
	rateLimit *ratelimit.Manager
	status    StatusPublisher
	control   ControlSource
	log       logger.Logger

	profileRoot string
	headless    bool

	validateSession sessionValidatorFunc
	processBatch    batchRunnerFunc
}

func NewWorker(
	jobs *repository.WorkflowJobRepository,
	accounts *repository.LinkedInAccountRepository,
	leadState *leadstate.Manager,
	rateLimit *ratelimit.Manager,
	status StatusPublisher,
	control ControlSource,
	log logger.Logger,
	profileRoot string,
	headless bool,
) *Worker {
	return &Worker{
		jobs: jobs, accounts: accounts, leadState: leadState, rateLimit: rateLimit,
		status: status, control: control, log: log, profileRoot: profileRoot, headless: headless,
		validateSession: session.Validate, processBatch: invite.ProcessInvites,
	}
}

// WithSessionValidator overrides session acquisition, for tests that drive
// Run end to end without a live browser.
func (w *Worker) WithSessionValidator(fn sessionValidatorFunc) *Worker {
	w.validateSession = fn
	return w
}

// WithBatchRunner overrides C4's batch entry point, for tests that supply
// canned per-lead outcomes instead of driving a real page.
func (w *Worker) WithBatchRunner(fn batchRunnerFunc) *Worker {
	w.processBatch = fn
	return w
}

// Run drives one job id from queued through a terminal status. The
// returned exit code follows §8: 0 for completed/skipped/paused/
// cancelled, 1 for failed.
func (w *Worker) Run(ctx context.Context, jobID string) int {
	start := time.Now()
	job, err := w.jobs.GetByID(ctx, jobID)
	if err != nil {
		w.log.WithError(err).Error("job not found", map[string]interface{}{"jobId": jobID})
		return 1
	}

	account, err := w.accounts.GetByID(ctx, job.LinkedInAccountID)
	if err != nil {
		w.failJob(ctx, job, start, stderrors.NewAccountNotFoundError(job.LinkedInAccountID).Error())
		return 1
	}

	quota, err := w.rateLimit.Check(ctx, account.ID, models.RateLimitInvite)
	if err != nil {
		w.failJob(ctx, job, start, err.Error())
		return 1
	}
	if !quota.CanProceed {
		w.failJob(ctx, job, start, stderrors.NewQuotaExhaustedError("invite", quota.ResetsAt).Error())
		return 1
	}

	fetched, err := w.leadState.FetchEligibleLeads(ctx, job.CampaignID)
	if err != nil {
		w.failJob(ctx, job, start, err.Error())
		return 1
	}
	if len(fetched.EligibleLeads) == 0 {
		w.completeSkipped(ctx, job, start, "all_leads_already_processed")
		return 0
	}

	if err := w.jobs.MarkProcessing(ctx, job.ID, len(fetched.EligibleLeads)); err != nil {
		w.log.WithError(err).Warn("mark processing failed", map[string]interface{}{"jobId": job.ID})
	}
	w.publish(ctx, job, StatusEvent{Type: "status", Status: string(models.WorkflowJobProcessing), Progress: 0, TotalLeads: len(fetched.EligibleLeads)})

	eligible := fetched.EligibleLeads
	remaining := quota.Remaining
	if len(eligible) > remaining {
		eligible = eligible[:remaining]
	}

	batches := splitBatches(eligible, batchSize)
	results := models.WorkflowResults{Total: len(eligible)}
	processed := 0

	for bi, batch := range batches {
		sess, err := w.validateSession(session.ProfileDir(w.profileRoot, account.ID), w.headless, account.Session, true)
		if err != nil || !sess.IsValid || sess.Session == nil {
			results.Failed += len(batch)
			processed += len(batch)
			metrics.BatchesProcessed.WithLabelValues("session_invalid").Inc()
			continue
		}

		outcome, ctrlErr := w.runBatch(ctx, job, account, sess.Session.Page, batch, &processed, len(eligible))
		session.Cleanup(sess.Session)
		metrics.BatchesProcessed.WithLabelValues("ok").Inc()

		results.Sent += outcome.Sent
		results.AlreadyConnected += outcome.AlreadyConnected
		results.AlreadyPending += outcome.AlreadyPending
		results.Failed += outcome.Failed
		results.Errors = append(results.Errors, outcome.Errors...)

		if ctrlErr != nil {
			// The control plane already wrote the paused/cancelled status;
			// the worker exits without rewriting the row.
			return 0
		}

		recheck, err := w.rateLimit.Check(ctx, account.ID, models.RateLimitInvite)
		if err == nil && !recheck.CanProceed {
			break
		}

		if bi < len(batches)-1 {
			time.Sleep(interBatchDelay)
		}
	}

	w.completeTerminal(ctx, job, start, results)
	return 0
}

func (w *Worker) runBatch(
	ctx context.Context, job *models.WorkflowJob, account *models.LinkedInAccount, page *rod.Page,
	batch []*models.Lead, processed *int, total int,
) (invite.Results, error) {
	callback := w.buildProgressCallback(ctx, job, account, processed, total)

	results, err := w.processBatch(ctx, page, batch, job.CustomMessage, job.CampaignID, callback)
	if err != nil {
		if _, ok := err.(*stderrors.WorkflowControlSignal); ok {
			return results, err
		}
		return results, nil
	}
	return results, nil
}

// buildProgressCallback builds C4's progress callback for one batch: it
// persists progress and per-campaign lead status through C2, increments
// C1's invite counter on a confirmed send, and surfaces a pause/cancel
// control signal for C4 to re-raise. Split out of runBatch so it can be
// exercised without a live page.
func (w *Worker) buildProgressCallback(
	ctx context.Context, job *models.WorkflowJob, account *models.LinkedInAccount, processed *int, total int,
) invite.ProgressCallback {
	return func(event invite.ProgressEvent) error {
		if event.Status != "" {
			*processed++
			progress := 0
			if total > 0 {
				progress = (*processed * 100) / total
			}
			if err := w.jobs.UpdateProgress(ctx, job.ID, *processed, progress); err != nil {
				w.log.WithError(err).Warn("update progress failed", map[string]interface{}{"jobId": job.ID})
			}
			w.publish(ctx, job, StatusEvent{
				Type: "status", Status: string(models.WorkflowJobProcessing),
				Progress: progress, ProcessedLeads: *processed, TotalLeads: total,
				CurrentLead: event.LeadID, FractionalProgress: event.Current, Stage: event.Stage,
			})

			status, inviteSent := leadStatusFor(event.Status)
			if err := w.leadState.UpdateLeadStatus(ctx, job.CampaignID, event.LeadID, status, inviteSent); err != nil {
				w.log.WithError(err).Warn("update lead status failed", map[string]interface{}{"jobId": job.ID, "leadId": event.LeadID})
			}

			if event.Status == "sent" {
				if err := w.rateLimit.Increment(ctx, account.ID, models.RateLimitInvite, 1); err != nil {
					w.log.WithError(err).Warn("increment invite quota failed", nil)
				}
				metrics.InvitesSent.WithLabelValues(account.ID).Inc()
			}
		}

		if w.control != nil && !w.control.Live() {
			status, err := w.control.Poll(ctx, job.ID)
			if err == nil {
				if status == models.WorkflowJobPaused {
					return stderrors.ErrWorkflowPaused
				}
				if status == models.WorkflowJobCancelled {
					return stderrors.ErrWorkflowCancelled
				}
			}
		}
		return nil
	}
}

// leadStatusFor maps a C4 per-lead outcome to the per-campaign invite
// status C2 persists. "alreadyPending" means an invite was already sent
// on a prior run and still reads as sent here, not a fresh send.
func leadStatusFor(outcome string) (models.InviteStatus, bool) {
	switch outcome {
	case "sent", "alreadyPending":
		return models.InviteStatusSent, true
	case "alreadyConnected":
		return models.InviteStatusAccepted, true
	default:
		return models.InviteStatusFailed, false
	}
}

func splitBatches(leads []*models.Lead, size int) [][]*models.Lead {
	var batches [][]*models.Lead
	for i := 0; i < len(leads); i += size {
		end := i + size
		if end > len(leads) {
			end = len(leads)
		}
		batches = append(batches, leads[i:end])
	}
	return batches
}

func (w *Worker) publish(ctx context.Context, job *models.WorkflowJob, event StatusEvent) {
	if w.status == nil {
		return
	}
	event.JobID = job.ID
	event.CampaignID = job.CampaignID
	if err := w.status.PublishStatus(ctx, job.ID, event); err != nil {
		w.log.WithError(err).Warn("publish status failed", map[string]interface{}{"jobId": job.ID})
	}
}

func (w *Worker) failJob(ctx context.Context, job *models.WorkflowJob, start time.Time, message string) {
	if err := w.jobs.MarkTerminal(ctx, job.ID, models.WorkflowJobFailed, models.WorkflowResults{}, message); err != nil {
		w.log.WithError(err).Error("mark failed job failed", map[string]interface{}{"jobId": job.ID})
	}
	w.publish(ctx, job, StatusEvent{Type: "status", Status: string(models.WorkflowJobFailed), ErrorMessage: message})
	metrics.WorkflowJobsFailed.WithLabelValues("job_failed").Inc()
	metrics.WorkflowJobDuration.WithLabelValues(string(models.WorkflowJobFailed)).Observe(time.Since(start).Seconds())
}

func (w *Worker) completeSkipped(ctx context.Context, job *models.WorkflowJob, start time.Time, reason string) {
	results := models.WorkflowResults{Skipped: true, SkipReason: reason}
	if err := w.jobs.MarkTerminal(ctx, job.ID, models.WorkflowJobCompleted, results, ""); err != nil {
		w.log.WithError(err).Error("mark skipped job failed", map[string]interface{}{"jobId": job.ID})
	}
	w.publish(ctx, job, StatusEvent{Type: "status", Status: string(models.WorkflowJobCompleted), Results: results})
	metrics.WorkflowJobsCompleted.WithLabelValues("skipped").Inc()
	metrics.WorkflowJobDuration.WithLabelValues("skipped").Observe(time.Since(start).Seconds())
}

func (w *Worker) completeTerminal(ctx context.Context, job *models.WorkflowJob, start time.Time, results models.WorkflowResults) {
	if err := w.jobs.MarkTerminal(ctx, job.ID, models.WorkflowJobCompleted, results, ""); err != nil {
		w.log.WithError(err).Error("mark completed job failed", map[string]interface{}{"jobId": job.ID})
	}
	w.publish(ctx, job, StatusEvent{Type: "status", Status: string(models.WorkflowJobCompleted), Progress: 100, Results: results})
	metrics.WorkflowJobsCompleted.WithLabelValues("completed").Inc()
	metrics.WorkflowJobDuration.WithLabelValues("completed").Observe(time.Since(start).Seconds())
}
