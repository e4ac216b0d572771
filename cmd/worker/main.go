// Command outreach-worker runs one workflow job to completion. It takes a
// single positional argument, the job id, and is spawned once per job by
// the control plane.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"outreach-engine/internal/bus"
	"outreach-engine/internal/config"
	"outreach-engine/internal/database"
	"outreach-engine/internal/leadstate"
	"outreach-engine/internal/logger"
	"outreach-engine/internal/models"
	"outreach-engine/internal/observability"
	"outreach-engine/internal/ratelimit"
	"outreach-engine/internal/repository"
	"outreach-engine/internal/workflowjob"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: outreach-worker <job-id>")
		os.Exit(1)
	}
	jobID := os.Args[1]

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	zapLogger := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	log := logger.NewZapAdapter(zapLogger)

	pg, err := database.NewPostgres(cfg.Postgres)
	if err != nil {
		log.WithError(err).Error("connect postgres failed", nil)
		os.Exit(1)
	}
	defer pg.Close()

	redisClient, err := database.NewRedis(cfg.Redis)
	if err != nil {
		log.WithError(err).Warn("connect redis failed, running without bus", nil)
	}

	obs := observability.New("outreach-worker")
	defer obs.Shutdown()

	jobsRepo := repository.NewWorkflowJobRepository(pg)
	accountsRepo := repository.NewLinkedInAccountRepository(pg)
	leadsRepo := repository.NewLeadRepository(pg)

	defaults := models.WorkflowLimits{
		Invite: cfg.Workflow.DailyInviteLimit, ConnectionCheck: cfg.Workflow.DailyConnectionCheckLimit, Message: cfg.Workflow.DailyMessageLimit,
	}
	rateLimitMgr := ratelimit.NewManager(accountsRepo, defaults)

	var b *bus.Bus
	var leadCache *bus.LeadCache
	if redisClient != nil {
		b = bus.New(redisClient.Client, log)
		leadCache = bus.NewLeadCache(redisClient.Client)
	}
	leadStateMgr := leadstate.NewManager(leadsRepo, leadCache, log)

	ctrl := newControlSource(b, jobsRepo, jobID, log)
	defer ctrl.Close()

	worker := workflowjob.NewWorker(
		jobsRepo, accountsRepo, leadStateMgr, rateLimitMgr,
		statusPublisherOrNil(b), ctrl, log,
		cfg.Browser.ProfileRoot, cfg.Browser.Headless,
	)

	start := time.Now()
	exitCode := worker.Run(context.Background(), jobID)
	obs.RecordJobDuration(context.Background(), time.Since(start), exitStatus(exitCode))
	obs.RecordJobProcessed(context.Background(), exitStatus(exitCode))

	os.Exit(exitCode)
}

func exitStatus(code int) string {
	if code == 0 {
		return "completed"
	}
	return "failed"
}

func statusPublisherOrNil(b *bus.Bus) workflowjob.StatusPublisher {
	if b == nil {
		return nil
	}
	return &statusAdapter{bus: b}
}

// statusAdapter translates workflowjob.StatusEvent into bus.StatusEvent
// so the worker package stays independent of the transport's wire shape.
type statusAdapter struct {
	bus *bus.Bus
}

func (a *statusAdapter) PublishStatus(ctx context.Context, jobID string, event workflowjob.StatusEvent) error {
	return a.bus.PublishStatus(ctx, jobID, bus.StatusEvent{
		Type: "status", JobID: event.JobID, CampaignID: event.CampaignID, Status: event.Status,
		Progress: event.Progress, TotalLeads: event.TotalLeads, ProcessedLeads: event.ProcessedLeads,
		CurrentLead: event.CurrentLead, FractionalProgress: event.FractionalProgress, Stage: event.Stage,
		Results: event.Results, StartedAt: event.StartedAt, CompletedAt: event.CompletedAt, ErrorMessage: event.ErrorMessage,
	})
}

// controlSource combines a live pub/sub subscription (when available,
// exits immediately on receipt) with a DB-fallback Poll used at every
// completed lead. The worker never rewrites the job row on signal
// receipt — the control plane already did that before publishing.
type controlSource struct {
	jobs *repository.WorkflowJobRepository
	sub  *bus.ControlSubscriber
	log  logger.Logger
}

func newControlSource(b *bus.Bus, jobs *repository.WorkflowJobRepository, jobID string, log logger.Logger) *controlSource {
	cs := &controlSource{jobs: jobs, log: log}
	if b == nil {
		return cs
	}
	sub, err := b.SubscribeControl(context.Background(), jobID)
	if err != nil {
		log.WithError(err).Warn("control subscription failed, falling back to DB polling", nil)
		return cs
	}
	cs.sub = sub
	go cs.watchLiveSignals()
	return cs
}

func (c *controlSource) watchLiveSignals() {
	for signal := range c.sub.Signals() {
		latency := time.Since(signal.Timestamp)
		c.log.Info("control signal received", map[string]interface{}{"action": signal.Action, "latencyMs": latency.Milliseconds()})
		// The control plane has already written paused/cancelled to the
		// job row before publishing; the worker exits immediately without
		// rewriting it, avoiding a race with the control plane's write.
		os.Exit(0)
	}
}

func (c *controlSource) Poll(ctx context.Context, jobID string) (models.WorkflowJobStatus, error) {
	return c.jobs.Status(ctx, jobID)
}

func (c *controlSource) Live() bool {
	return c.sub != nil
}

func (c *controlSource) Close() {
	if c.sub != nil {
		c.sub.Close()
	}
}
