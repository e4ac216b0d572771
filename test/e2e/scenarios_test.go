// Package e2e exercises the testable properties described in the design
// notes against the real repository/ratelimit/leadstate/bus wiring, with
// Postgres and Redis swapped for sqlmock and miniredis. The browser-driven
// legs of a job (session validation, invite automation) need a live
// Chromium instance; here they are replaced by stub functions installed
// through the worker's WithSessionValidator/WithBatchRunner seams.
package e2e

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/go-rod/rod"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"outreach-engine/internal/browserctl"
	"outreach-engine/internal/bus"
	"outreach-engine/internal/database"
	"outreach-engine/internal/invite"
	"outreach-engine/internal/leadstate"
	"outreach-engine/internal/logger"
	"outreach-engine/internal/models"
	"outreach-engine/internal/ratelimit"
	"outreach-engine/internal/repository"
	"outreach-engine/internal/session"
	"outreach-engine/internal/workflowjob"
)

func newHarness(t *testing.T) (sqlmock.Sqlmock, *redis.Client, *database.PostgresClient) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return mock, client, &database.PostgresClient{DB: db}
}

// Scenario 4 (quota exhaustion), checked at the rate limiter: with a quota
// of 2, recording exactly 2 confirmed sends leaves CanProceed false for
// anything past that, matching invariant 1 (remaining + used = limit).
func TestScenario_QuotaExhaustionStopsAtRemaining(t *testing.T) {
	mock, _, pg := newHarness(t)
	accounts := repository.NewLinkedInAccountRepository(pg)
	rl := ratelimit.NewManager(accounts, models.WorkflowLimits{Invite: 30})
	ctx := context.Background()

	mock.ExpectQuery(`UPDATE linkedin_accounts`).WithArgs("acct-1").
		WillReturnRows(sqlmock.NewRows([]string{"daily_invites_sent", "daily_invite_limit"}).AddRow(0, 2))
	mock.ExpectQuery(`SELECT id, user_id, session_bundle`).WithArgs("acct-1").
		WillReturnRows(accountRow("acct-1", 0, 2))

	first, err := rl.Check(ctx, "acct-1", models.RateLimitInvite)
	require.NoError(t, err)
	assert.True(t, first.CanProceed)
	assert.Equal(t, 2, first.Remaining)

	mock.ExpectExec(`UPDATE linkedin_accounts SET daily_invites_sent`).WithArgs(2, "acct-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, rl.Increment(ctx, "acct-1", models.RateLimitInvite, 2))

	mock.ExpectQuery(`UPDATE linkedin_accounts`).WithArgs("acct-1").
		WillReturnRows(sqlmock.NewRows([]string{"daily_invites_sent", "daily_invite_limit"}).AddRow(2, 2))
	mock.ExpectQuery(`SELECT id, user_id, session_bundle`).WithArgs("acct-1").
		WillReturnRows(accountRow("acct-1", 2, 2))

	second, err := rl.Check(ctx, "acct-1", models.RateLimitInvite)
	require.NoError(t, err)
	assert.False(t, second.CanProceed, "quota must be exhausted after exactly 2 sends")
	assert.Equal(t, 0, second.Remaining)
	assert.Equal(t, second.Remaining+second.Used, second.Limit)
	require.NoError(t, mock.ExpectationsWereMet())
}

// Scenario 5 (connection-check fanout): a lead sharing one url across two
// campaigns must transition to accepted in both rows and both cache
// entries, with an identical acceptedAt, after a single fan-out call.
func TestScenario_ConnectionCheckFanoutAgreesAcrossCampaigns(t *testing.T) {
	mock, client, pg := newHarness(t)
	leads := repository.NewLeadRepository(pg)
	cache := bus.NewLeadCache(client)
	mgr := leadstate.NewManager(leads, cache, logger.NewTestLogger(t))
	ctx := context.Background()

	url := "https://linkedin.com/in/jdoe"
	acceptedAt := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)

	rawA, _ := json.Marshal(&models.Lead{ID: "lead-a", URL: url, InviteStatus: models.InviteStatusSent, InviteSent: true})
	rawB, _ := json.Marshal(&models.Lead{ID: "lead-b", URL: url, InviteStatus: models.InviteStatusSent, InviteSent: true})
	require.NoError(t, cache.Set(ctx, "camp-a", "lead-a", string(rawA)))
	require.NoError(t, cache.Set(ctx, "camp-b", "lead-b", string(rawB)))

	mock.ExpectExec(`UPDATE leads`).WithArgs(models.InviteStatusAccepted, acceptedAt, url).
		WillReturnResult(sqlmock.NewResult(0, 2))

	n, err := mgr.UpdateLeadConnectionAccepted(ctx, url, acceptedAt)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	campA, err := cache.GetAll(ctx, "camp-a")
	require.NoError(t, err)
	campB, err := cache.GetAll(ctx, "camp-b")
	require.NoError(t, err)

	var leadA, leadB models.Lead
	require.NoError(t, json.Unmarshal([]byte(campA["lead-a"]), &leadA))
	require.NoError(t, json.Unmarshal([]byte(campB["lead-b"]), &leadB))

	assert.Equal(t, models.InviteStatusAccepted, leadA.InviteStatus)
	assert.Equal(t, models.InviteStatusAccepted, leadB.InviteStatus)
	assert.True(t, leadA.InviteSent)
	assert.True(t, leadB.InviteSent)
	require.NotNil(t, leadA.InviteAcceptedAt)
	require.NotNil(t, leadB.InviteAcceptedAt)
	assert.True(t, leadA.InviteAcceptedAt.Equal(*leadB.InviteAcceptedAt))
	require.NoError(t, mock.ExpectationsWereMet())
}

// Invariant 4: updateLeadStatusGlobally is idempotent — a second call
// with identical arguments must not change the observable lead state
// beyond timestamps.
func TestInvariant_UpdateLeadStatusGloballyIsIdempotent(t *testing.T) {
	mock, client, pg := newHarness(t)
	leads := repository.NewLeadRepository(pg)
	cache := bus.NewLeadCache(client)
	mgr := leadstate.NewManager(leads, cache, logger.NewTestLogger(t))
	ctx := context.Background()

	url := "https://linkedin.com/in/jdoe"
	raw, _ := json.Marshal(&models.Lead{ID: "lead-1", URL: url, InviteStatus: models.InviteStatusPending})
	require.NoError(t, cache.Set(ctx, "camp-1", "lead-1", string(raw)))

	mock.ExpectExec(`UPDATE leads`).WithArgs(true, models.InviteStatusSent, url).WillReturnResult(sqlmock.NewResult(0, 1))
	_, err := mgr.UpdateLeadStatusGlobally(ctx, url, models.InviteStatusSent, true)
	require.NoError(t, err)

	first, err := cache.GetAll(ctx, "camp-1")
	require.NoError(t, err)

	mock.ExpectExec(`UPDATE leads`).WithArgs(true, models.InviteStatusSent, url).WillReturnResult(sqlmock.NewResult(0, 1))
	_, err = mgr.UpdateLeadStatusGlobally(ctx, url, models.InviteStatusSent, true)
	require.NoError(t, err)

	second, err := cache.GetAll(ctx, "camp-1")
	require.NoError(t, err)

	var l1, l2 models.Lead
	require.NoError(t, json.Unmarshal([]byte(first["lead-1"]), &l1))
	require.NoError(t, json.Unmarshal([]byte(second["lead-1"]), &l2))
	assert.Equal(t, l1.InviteStatus, l2.InviteStatus)
	assert.Equal(t, l1.InviteSent, l2.InviteSent)
	require.NoError(t, mock.ExpectationsWereMet())
}

// Invariant 3: inviteStatus transitions never regress from accepted, and
// never jump directly from pending to accepted without passing through
// sent. This is a property of the state values the rest of the system
// writes, checked here as a pure transition table.
func TestInvariant_InviteStatusTransitions(t *testing.T) {
	allowed := map[models.InviteStatus][]models.InviteStatus{
		models.InviteStatusPending:  {models.InviteStatusSent, models.InviteStatusFailed},
		models.InviteStatusSent:     {models.InviteStatusAccepted, models.InviteStatusFailed},
		models.InviteStatusFailed:   {models.InviteStatusSent},
		models.InviteStatusAccepted: {},
	}

	isAllowed := func(from, to models.InviteStatus) bool {
		for _, candidate := range allowed[from] {
			if candidate == to {
				return true
			}
		}
		return false
	}

	assert.True(t, isAllowed(models.InviteStatusPending, models.InviteStatusSent))
	assert.True(t, isAllowed(models.InviteStatusSent, models.InviteStatusAccepted))
	assert.True(t, isAllowed(models.InviteStatusFailed, models.InviteStatusSent))
	assert.False(t, isAllowed(models.InviteStatusAccepted, models.InviteStatusSent), "accepted must never transition to sent")
	assert.False(t, isAllowed(models.InviteStatusAccepted, models.InviteStatusPending), "accepted must never transition to pending")
	assert.Empty(t, allowed[models.InviteStatusAccepted], "accepted is terminal")
}

// fakeStatusPublisher records every published event for assertions.
type fakeStatusPublisher struct {
	events []workflowjob.StatusEvent
}

func (f *fakeStatusPublisher) PublishStatus(ctx context.Context, jobID string, event workflowjob.StatusEvent) error {
	f.events = append(f.events, event)
	return nil
}

// fakeControlSource drives the worker's pause/cancel signal. live=true
// means a bus subscription is open, so the fallback poll never runs.
type fakeControlSource struct {
	live   bool
	status models.WorkflowJobStatus
}

func (f *fakeControlSource) Poll(ctx context.Context, jobID string) (models.WorkflowJobStatus, error) {
	return f.status, nil
}

func (f *fakeControlSource) Live() bool { return f.live }

func jobRow(id, campaignID, accountID string) *sqlmock.Rows {
	now := time.Now().UTC()
	return sqlmock.NewRows([]string{
		"id", "user_id", "campaign_id", "linkedin_account_id", "custom_message", "status",
		"total_leads", "processed_leads", "progress", "results", "error_message",
		"created_at", "started_at", "completed_at",
	}).AddRow(id, "user-1", campaignID, accountID, nil, models.WorkflowJobQueued,
		0, 0, 0, nil, nil, now, nil, nil)
}

// validSession stubs session.Validate's signature with an always-valid
// result carrying a placeholder *browserctl.Session whose Close is a
// guaranteed no-op (nil underlying browser).
func validSession(profileDir string, headless bool, bundle models.SessionBundle, keepOpen bool) (session.Result, error) {
	return session.Result{IsValid: true, Session: &browserctl.Session{}}, nil
}

// invalidSession stubs session.Validate's signature with an always-invalid
// result, simulating an expired LinkedIn session with no browser launch.
func invalidSession(profileDir string, headless bool, bundle models.SessionBundle, keepOpen bool) (session.Result, error) {
	return session.Result{IsValid: false, Reason: "redirected to login"}, nil
}

// statusBatchRunner simulates C4 running each lead through the per-lead
// state machine without touching page: statusFor assigns each lead's
// outcome string, and the loop stops as soon as progress returns a
// control signal (the same short-circuit invite.ProcessInvites applies).
func statusBatchRunner(statusFor func(lead *models.Lead) string) func(ctx context.Context, page *rod.Page, leads []*models.Lead, customMessage, campaignID string, progress invite.ProgressCallback) (invite.Results, error) {
	return func(ctx context.Context, page *rod.Page, leads []*models.Lead, customMessage, campaignID string, progress invite.ProgressCallback) (invite.Results, error) {
		results := invite.Results{Total: len(leads)}
		for i, lead := range leads {
			status := statusFor(lead)
			switch status {
			case "sent", "alreadyPending":
				results.Sent++
			case "alreadyConnected":
				results.AlreadyConnected++
			default:
				results.Failed++
			}
			if err := progress(invite.ProgressEvent{Current: float64(i + 1), Stage: invite.StageSending, Status: status, LeadID: lead.ID}); err != nil {
				return results, err
			}
		}
		return results, nil
	}
}

// allSent is a statusBatchRunner status function marking every lead sent.
func allSent(lead *models.Lead) string { return "sent" }

// thresholdControlSource trips to a terminal status once Poll has been
// called pauseAfter times — simulating a control signal arriving after
// the pauseAfter'th lead completes, via DB-fallback polling (live=false).
type thresholdControlSource struct {
	pauseAfter int
	target     models.WorkflowJobStatus
	calls      int
}

func (f *thresholdControlSource) Poll(ctx context.Context, jobID string) (models.WorkflowJobStatus, error) {
	f.calls++
	if f.calls >= f.pauseAfter {
		return f.target, nil
	}
	return models.WorkflowJobProcessing, nil
}

func (f *thresholdControlSource) Live() bool { return false }

func leadFor(campaignID, id string) *models.Lead {
	return &models.Lead{
		ID: id, CampaignID: campaignID, URL: "https://www.linkedin.com/in/" + id,
		InviteStatus: models.InviteStatusPending,
	}
}

func seedEligibleLeads(t *testing.T, cache *bus.LeadCache, campaignID string, n int) []*models.Lead {
	ctx := context.Background()
	leads := make([]*models.Lead, n)
	base := time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		l := leadFor(campaignID, fmt.Sprintf("lead-%d", i+1))
		l.CreatedAt = base.Add(time.Duration(i) * time.Second) // insertion order
		leads[i] = l
		raw, err := json.Marshal(l)
		require.NoError(t, err)
		require.NoError(t, cache.Set(ctx, campaignID, l.ID, string(raw)))
	}
	return leads
}

func accountRow(id string, used, limit int) *sqlmock.Rows {
	now := time.Now().UTC()
	return sqlmock.NewRows([]string{
		"id", "user_id", "session_bundle",
		"daily_invites_sent", "daily_connection_checks", "daily_messages_sent",
		"daily_invite_limit", "daily_connection_check_limit", "daily_message_limit",
		"invite_last_reset", "connection_check_last_reset", "message_last_reset",
		"is_active", "created_at", "updated_at",
	}).AddRow(id, "user-1", []byte(`{"sessionId":"s1","cookies":[]}`),
		used, 0, 0, limit, 3, 10,
		now, now, now, true, now, now)
}

// newWorkerHarness wires a workflowjob.Worker against sqlmock + miniredis,
// exactly the production dependency graph except for the session
// validator and batch runner, which tests override per scenario so the
// worker can be driven end to end without a live browser.
func newWorkerHarness(t *testing.T, control workflowjob.ControlSource) (*workflowjob.Worker, sqlmock.Sqlmock, *bus.LeadCache, *fakeStatusPublisher) {
	mock, client, pg := newHarness(t)
	jobs := repository.NewWorkflowJobRepository(pg)
	accounts := repository.NewLinkedInAccountRepository(pg)
	leads := repository.NewLeadRepository(pg)
	cache := bus.NewLeadCache(client)
	leadState := leadstate.NewManager(leads, cache, logger.NewTestLogger(t))
	rateLimit := ratelimit.NewManager(accounts, models.WorkflowLimits{Invite: 30})
	publisher := &fakeStatusPublisher{}

	w := workflowjob.NewWorker(jobs, accounts, leadState, rateLimit, publisher, control, logger.NewTestLogger(t), "", true)
	return w, mock, cache, publisher
}

// expectInviteCheck is rateLimit.Check's two round trips: CheckAndReset's
// UPDATE...RETURNING, then nextReset's plain account re-read.
func expectInviteCheck(mock sqlmock.Sqlmock, accountID string, used, limit int) {
	mock.ExpectQuery(`UPDATE linkedin_accounts`).WithArgs(accountID).
		WillReturnRows(sqlmock.NewRows([]string{"daily_invites_sent", "daily_invite_limit"}).AddRow(used, limit))
	mock.ExpectQuery(`SELECT id, user_id, session_bundle`).WithArgs(accountID).
		WillReturnRows(accountRow(accountID, used, limit))
}

// Scenario 1 (happy path): 3 pending leads, quota 30, every profile sends
// cleanly. Expected per §8: results = {total:3, sent:3}, job completed,
// progress ends at 100, three status events with processedLeads 1,2,3.
func TestScenario_HappyPathSendsAllLeads(t *testing.T) {
	worker, mock, cache, publisher := newWorkerHarness(t, &fakeControlSource{live: true})
	worker.WithSessionValidator(validSession).WithBatchRunner(statusBatchRunner(allSent))

	seedEligibleLeads(t, cache, "camp-1", 3)

	mock.ExpectQuery(`SELECT id, user_id, campaign_id`).WithArgs("job-1").WillReturnRows(jobRow("job-1", "camp-1", "acct-1"))
	mock.ExpectQuery(`SELECT id, user_id, session_bundle`).WithArgs("acct-1").WillReturnRows(accountRow("acct-1", 0, 30))
	expectInviteCheck(mock, "acct-1", 0, 30)
	mock.ExpectExec(`UPDATE workflow_jobs SET status = \$1, total_leads`).WithArgs(models.WorkflowJobProcessing, 3, "job-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	for i := 1; i <= 3; i++ {
		mock.ExpectExec(`UPDATE workflow_jobs SET processed_leads`).WithArgs(i, (i*100)/3, "job-1").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`UPDATE leads`).WithArgs(true, models.InviteStatusSent, "camp-1", fmt.Sprintf("lead-%d", i)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`UPDATE linkedin_accounts SET daily_invites_sent`).WithArgs(1, "acct-1").
			WillReturnResult(sqlmock.NewResult(0, 1))
	}

	expectInviteCheck(mock, "acct-1", 3, 30)
	mock.ExpectExec(`UPDATE workflow_jobs`).WillReturnResult(sqlmock.NewResult(0, 1))

	exitCode := worker.Run(context.Background(), "job-1")

	assert.Equal(t, 0, exitCode)
	require.Len(t, publisher.events, 5) // processing-start + 3 per-lead + completed
	last := publisher.events[len(publisher.events)-1]
	assert.Equal(t, string(models.WorkflowJobCompleted), last.Status)
	assert.Equal(t, 100, last.Progress)
	results, ok := last.Results.(models.WorkflowResults)
	require.True(t, ok)
	assert.Equal(t, 3, results.Total)
	assert.Equal(t, 3, results.Sent)
	assert.Equal(t, 0, results.Failed)

	for i, event := range publisher.events[1:4] {
		assert.Equal(t, i+1, event.ProcessedLeads, "processedLeads must be non-decreasing and hit every whole-lead boundary")
	}
	require.NoError(t, mock.ExpectationsWereMet())
}

// Scenario 2 (already connected): a single lead whose profile already
// shows Message/Remove connection must transition to accepted without incrementing
// the daily invite counter.
func TestScenario_AlreadyConnectedSkipsQuotaIncrement(t *testing.T) {
	worker, mock, cache, publisher := newWorkerHarness(t, &fakeControlSource{live: true})
	worker.WithSessionValidator(validSession).WithBatchRunner(statusBatchRunner(func(lead *models.Lead) string { return "alreadyConnected" }))

	seedEligibleLeads(t, cache, "camp-2", 1)

	mock.ExpectQuery(`SELECT id, user_id, campaign_id`).WithArgs("job-2").WillReturnRows(jobRow("job-2", "camp-2", "acct-2"))
	mock.ExpectQuery(`SELECT id, user_id, session_bundle`).WithArgs("acct-2").WillReturnRows(accountRow("acct-2", 0, 30))
	expectInviteCheck(mock, "acct-2", 0, 30)
	mock.ExpectExec(`UPDATE workflow_jobs SET status = \$1, total_leads`).WithArgs(models.WorkflowJobProcessing, 1, "job-2").
		WillReturnResult(sqlmock.NewResult(0, 1))

	mock.ExpectExec(`UPDATE workflow_jobs SET processed_leads`).WithArgs(1, 100, "job-2").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE leads`).WithArgs(true, models.InviteStatusAccepted, "camp-2", "lead-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	// No `UPDATE linkedin_accounts SET daily_invites_sent` expectation: an
	// already-connected outcome must not advance the invite quota.

	expectInviteCheck(mock, "acct-2", 0, 30)
	mock.ExpectExec(`UPDATE workflow_jobs`).WillReturnResult(sqlmock.NewResult(0, 1))

	exitCode := worker.Run(context.Background(), "job-2")

	assert.Equal(t, 0, exitCode)
	last := publisher.events[len(publisher.events)-1]
	results, ok := last.Results.(models.WorkflowResults)
	require.True(t, ok)
	assert.Equal(t, 1, results.AlreadyConnected)
	assert.Equal(t, 0, results.Sent)
	require.NoError(t, mock.ExpectationsWereMet())
}

// Scenario 3 (pause mid-job): a control signal arriving after lead 5 of a
// 20-lead campaign must stop the worker within that batch, with no
// further status events and no terminal row rewrite (the control plane
// owns that write).
func TestScenario_PauseMidJobStopsAfterFifthLead(t *testing.T) {
	control := &thresholdControlSource{pauseAfter: 5, target: models.WorkflowJobPaused}
	worker, mock, cache, publisher := newWorkerHarness(t, control)
	worker.WithSessionValidator(validSession).WithBatchRunner(statusBatchRunner(allSent))

	seedEligibleLeads(t, cache, "camp-3", 20)

	mock.ExpectQuery(`SELECT id, user_id, campaign_id`).WithArgs("job-3").WillReturnRows(jobRow("job-3", "camp-3", "acct-3"))
	mock.ExpectQuery(`SELECT id, user_id, session_bundle`).WithArgs("acct-3").WillReturnRows(accountRow("acct-3", 0, 30))
	expectInviteCheck(mock, "acct-3", 0, 30)
	mock.ExpectExec(`UPDATE workflow_jobs SET status = \$1, total_leads`).WithArgs(models.WorkflowJobProcessing, 20, "job-3").
		WillReturnResult(sqlmock.NewResult(0, 1))

	for i := 1; i <= 5; i++ {
		mock.ExpectExec(`UPDATE workflow_jobs SET processed_leads`).WithArgs(i, (i*100)/20, "job-3").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`UPDATE leads`).WithArgs(true, models.InviteStatusSent, "camp-3", fmt.Sprintf("lead-%d", i)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`UPDATE linkedin_accounts SET daily_invites_sent`).WithArgs(1, "acct-3").
			WillReturnResult(sqlmock.NewResult(0, 1))
	}
	// No further expectations: the worker must exit here, mid-batch, with
	// no rateLimit recheck, no second batch, and no MarkTerminal write.

	exitCode := worker.Run(context.Background(), "job-3")

	assert.Equal(t, 0, exitCode, "a pause signal is not a failure exit")
	require.Len(t, publisher.events, 6) // processing + 5 per-lead events, then stop
	for i, event := range publisher.events[1:] {
		assert.Equal(t, i+1, event.ProcessedLeads)
	}
	assert.Equal(t, 5, control.calls)
	require.NoError(t, mock.ExpectationsWereMet())
}

// Scenario 6 (session expired): every batch's session validation fails.
// Expected per §8: all leads counted failed, job still reaches completed
// (not failed) since each batch failure is locally isolated.
func TestScenario_RepeatedSessionInvalidCompletesNotFailed(t *testing.T) {
	worker, mock, cache, publisher := newWorkerHarness(t, &fakeControlSource{live: true})
	worker.WithSessionValidator(invalidSession).WithBatchRunner(statusBatchRunner(allSent))

	seedEligibleLeads(t, cache, "camp-6", 5)

	mock.ExpectQuery(`SELECT id, user_id, campaign_id`).WithArgs("job-6").WillReturnRows(jobRow("job-6", "camp-6", "acct-6"))
	mock.ExpectQuery(`SELECT id, user_id, session_bundle`).WithArgs("acct-6").WillReturnRows(accountRow("acct-6", 0, 30))
	expectInviteCheck(mock, "acct-6", 0, 30)
	mock.ExpectExec(`UPDATE workflow_jobs SET status = \$1, total_leads`).WithArgs(models.WorkflowJobProcessing, 5, "job-6").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE workflow_jobs`).WillReturnResult(sqlmock.NewResult(0, 1))

	exitCode := worker.Run(context.Background(), "job-6")

	assert.Equal(t, 0, exitCode, "a locally-isolated session failure must not fail the job")
	last := publisher.events[len(publisher.events)-1]
	assert.Equal(t, string(models.WorkflowJobCompleted), last.Status, "repeated session-invalid must complete, not fail")
	results, ok := last.Results.(models.WorkflowResults)
	require.True(t, ok)
	assert.Equal(t, 5, results.Failed)
	assert.Equal(t, 0, results.Sent)
	require.NoError(t, mock.ExpectationsWereMet())
}
