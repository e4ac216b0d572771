// internal/repository/jobs.go
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"outreach-engine/internal/database"
	"outreach-engine/internal/models"
)

type WorkflowJobRepository struct {
	db *database.PostgresClient
}

func NewWorkflowJobRepository(db *database.PostgresClient) *WorkflowJobRepository {
	return &WorkflowJobRepository{db: db}
}

func (r *WorkflowJobRepository) GetByID(ctx context.Context, id string) (*models.WorkflowJob, error) {
	var j models.WorkflowJob
	var customMessage, errorMessage sql.NullString
	var startedAt, completedAt sql.NullTime
	var resultsJSON []byte

	err := r.db.QueryRow(ctx, `
		SELECT id, user_id, campaign_id, linkedin_account_id, custom_message, status,
		       total_leads, processed_leads, progress, results, error_message,
		       created_at, started_at, completed_at
		FROM workflow_jobs WHERE id = $1`, id).Scan(
		&j.ID, &j.UserID, &j.CampaignID, &j.LinkedInAccountID, &customMessage, &j.Status,
		&j.TotalLeads, &j.ProcessedLeads, &j.Progress, &resultsJSON, &errorMessage,
		&j.CreatedAt, &startedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}

	j.CustomMessage = customMessage.String
	j.ErrorMessage = errorMessage.String
	if startedAt.Valid {
		j.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		j.CompletedAt = &completedAt.Time
	}
	if len(resultsJSON) > 0 {
		if err := json.Unmarshal(resultsJSON, &j.Results); err != nil {
			return nil, fmt.Errorf("unmarshal results: %w", err)
		}
	}

	return &j, nil
}

// Status reads just the status column — the DB-fallback control poll
// hits this between completed leads when the bus subscriber isn't open.
func (r *WorkflowJobRepository) Status(ctx context.Context, id string) (models.WorkflowJobStatus, error) {
	var status models.WorkflowJobStatus
	err := r.db.QueryRow(ctx, `SELECT status FROM workflow_jobs WHERE id = $1`, id).Scan(&status)
	return status, err
}

// Insert creates a queued job row — C8's startWorkflow.
func (r *WorkflowJobRepository) Insert(ctx context.Context, j *models.WorkflowJob) error {
	resultsJSON, err := json.Marshal(j.Results)
	if err != nil {
		return fmt.Errorf("marshal results: %w", err)
	}
	_, err = r.db.Exec(ctx, `
		INSERT INTO workflow_jobs (id, user_id, campaign_id, linkedin_account_id, custom_message,
			status, total_leads, processed_leads, progress, results, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now())`,
		j.ID, j.UserID, j.CampaignID, j.LinkedInAccountID, nullString(j.CustomMessage),
		j.Status, j.TotalLeads, j.ProcessedLeads, j.Progress, resultsJSON,
	)
	if err != nil {
		return fmt.Errorf("insert workflow job: %w", err)
	}
	return nil
}

// MarkProcessing transitions a job to processing and stamps startedAt.
func (r *WorkflowJobRepository) MarkProcessing(ctx context.Context, id string, totalLeads int) error {
	_, err := r.db.Exec(ctx, `
		UPDATE workflow_jobs SET status = $1, total_leads = $2, started_at = now() WHERE id = $3`,
		models.WorkflowJobProcessing, totalLeads, id,
	)
	return err
}

// UpdateProgress writes processedLeads/progress — throttled by the
// caller to whole-lead boundaries to bound write volume (§4.7 step 8.b.ii).
func (r *WorkflowJobRepository) UpdateProgress(ctx context.Context, id string, processedLeads, progress int) error {
	_, err := r.db.Exec(ctx, `UPDATE workflow_jobs SET processed_leads = $1, progress = $2 WHERE id = $3`, processedLeads, progress, id)
	return err
}

// MarkTerminal writes a terminal status with aggregate results and an
// optional error message, stamping completedAt.
func (r *WorkflowJobRepository) MarkTerminal(ctx context.Context, id string, status models.WorkflowJobStatus, results models.WorkflowResults, errMsg string) error {
	resultsJSON, err := json.Marshal(results)
	if err != nil {
		return fmt.Errorf("marshal results: %w", err)
	}
	_, err = r.db.Exec(ctx, `
		UPDATE workflow_jobs
		SET status = $1, results = $2, error_message = $3, progress = 100, completed_at = now()
		WHERE id = $4`,
		status, resultsJSON, nullString(errMsg), id,
	)
	return err
}

// MarkControlTarget is the control plane's write-before-publish step:
// it moves the job row to paused/cancelled ahead of the pub/sub signal so
// the DB-fallback poll always observes the same target the bus carries.
func (r *WorkflowJobRepository) MarkControlTarget(ctx context.Context, id string, status models.WorkflowJobStatus) error {
	completedAtClause := ""
	if status.Terminal() {
		completedAtClause = ", completed_at = now()"
	}
	_, err := r.db.Exec(ctx, `UPDATE workflow_jobs SET status = $1`+completedAtClause+` WHERE id = $2`, status, id)
	return err
}

// ActiveJobForCampaign enforces "only one job per (user, campaign) may be
// processing at a time" by reporting whether one already is.
func (r *WorkflowJobRepository) ActiveJobForCampaign(ctx context.Context, userID, campaignID string) (bool, error) {
	var count int
	err := r.db.QueryRow(ctx, `
		SELECT count(*) FROM workflow_jobs
		WHERE user_id = $1 AND campaign_id = $2 AND status = $3`,
		userID, campaignID, models.WorkflowJobProcessing,
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
