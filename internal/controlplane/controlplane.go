// Package controlplane implements C8: it creates workflow jobs, spawns
// worker processes, and relays pause/cancel signals and status streams
// between API callers and the bus.
package controlplane

import (
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc"

	"outreach-engine/internal/bus"
	stderrors "outreach-engine/internal/errors"
	"outreach-engine/internal/logger"
	"outreach-engine/internal/models"
	"outreach-engine/internal/repository"
)

// Spawner launches a worker process for a job id. The default
// implementation execs the worker binary; tests substitute a fake.
type Spawner func(jobID string) error

type ControlPlane struct {
	jobs    *repository.WorkflowJobRepository
	bus     *bus.Bus
	spawn   Spawner
	log     logger.Logger
}

func New(jobs *repository.WorkflowJobRepository, b *bus.Bus, spawn Spawner, log logger.Logger) *ControlPlane {
	if spawn == nil {
		spawn = execWorker
	}
	return &ControlPlane{jobs: jobs, bus: b, spawn: spawn, log: log}
}

// execWorker runs the worker binary as a detached background process,
// the default Spawner.
func execWorker(jobID string) error {
	cmd := exec.Command("outreach-worker", jobID)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("spawn worker process: %w", err)
	}
	return nil
}

// StartWorkflow inserts a queued job row, spawns a worker, and returns
// the job id.
func (c *ControlPlane) StartWorkflow(ctx context.Context, userID, campaignID, accountID, customMessage string) (string, error) {
	active, err := c.jobs.ActiveJobForCampaign(ctx, userID, campaignID)
	if err != nil {
		return "", err
	}
	if active {
		return "", fmt.Errorf("a job is already processing for this campaign")
	}

	job := &models.WorkflowJob{
		ID:                uuid.NewString(),
		UserID:            userID,
		CampaignID:        campaignID,
		LinkedInAccountID: accountID,
		CustomMessage:     customMessage,
		Status:            models.WorkflowJobQueued,
	}
	if err := c.jobs.Insert(ctx, job); err != nil {
		return "", err
	}

	if err := c.spawn(job.ID); err != nil {
		return "", fmt.Errorf("spawn worker: %w", err)
	}
	return job.ID, nil
}

// PauseJob writes the target status to the store before publishing, so a
// worker relying on DB-fallback still observes the target even if it
// misses the pub/sub message.
func (c *ControlPlane) PauseJob(ctx context.Context, userID, jobID string) error {
	return c.transition(ctx, userID, jobID, models.WorkflowJobPaused, "pause")
}

// CancelJob is terminal; a cancelled job must never be restarted.
func (c *ControlPlane) CancelJob(ctx context.Context, userID, jobID string) error {
	return c.transition(ctx, userID, jobID, models.WorkflowJobCancelled, "cancel")
}

func (c *ControlPlane) transition(ctx context.Context, userID, jobID string, target models.WorkflowJobStatus, action string) error {
	job, err := c.jobs.GetByID(ctx, jobID)
	if err != nil {
		return stderrors.NewJobNotFoundError(jobID)
	}
	if job.UserID != userID {
		return fmt.Errorf("job %s does not belong to user %s", jobID, userID)
	}

	if err := c.jobs.MarkControlTarget(ctx, jobID, target); err != nil {
		return err
	}

	signal := bus.ControlSignal{Action: action, UserID: userID, Timestamp: time.Now().UTC()}
	if err := c.bus.PublishControl(ctx, jobID, signal); err != nil {
		c.log.WithError(err).Warn("publish control signal failed, relying on DB fallback", map[string]interface{}{"jobId": jobID})
	}
	return nil
}

// StatusStream re-emits status events for jobID, first replaying the last
// snapshot so a late subscriber catches the current state.
type StatusStream struct {
	Events <-chan bus.StatusEvent
	sub    *bus.StatusSubscriber
	// relay is non-nil when Events is fed by the snapshot-replay goroutine
	// below; Close waits for it so a panic in that goroutine surfaces to
	// the caller instead of vanishing silently.
	relay *conc.WaitGroup
}

func (s *StatusStream) Close() error {
	var err error
	if s.sub != nil {
		err = s.sub.Close()
	}
	if s.relay != nil {
		s.relay.Wait()
	}
	return err
}

// StreamStatus subscribes to job:{id}:status and seeds the stream with
// the last published snapshot, if any, so a late subscriber immediately
// observes the current state.
func (c *ControlPlane) StreamStatus(ctx context.Context, jobID string) (*StatusStream, error) {
	sub, err := c.bus.SubscribeStatus(ctx, jobID)
	if err != nil {
		return nil, err
	}

	last, err := c.bus.LastStatus(ctx, jobID)
	if err != nil {
		c.log.WithError(err).Warn("read status snapshot failed", map[string]interface{}{"jobId": jobID})
	}
	if last != nil {
		events := make(chan bus.StatusEvent, 16)
		events <- *last
		wg := conc.NewWaitGroup()
		wg.Go(func() {
			for e := range sub.Events() {
				events <- e
			}
			close(events)
		})
		return &StatusStream{Events: events, sub: sub, relay: wg}, nil
	}

	return &StatusStream{Events: sub.Events(), sub: sub}, nil
}
