package leadstate

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"outreach-engine/internal/bus"
	"outreach-engine/internal/database"
	"outreach-engine/internal/logger"
	"outreach-engine/internal/models"
	"outreach-engine/internal/repository"
)

func newTestManager(t *testing.T) (*Manager, sqlmock.Sqlmock, *redis.Client) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	leads := repository.NewLeadRepository(&database.PostgresClient{DB: db})
	cache := bus.NewLeadCache(client)
	return NewManager(leads, cache, logger.NewTestLogger(t)), mock, client
}

func TestManager_UpdateLeadStatus_AbsentFromCache(t *testing.T) {
	m, mock, _ := newTestManager(t)
	mock.ExpectExec(`UPDATE leads`).
		WithArgs(true, models.InviteStatusSent, "camp-1", "lead-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := m.UpdateLeadStatus(context.Background(), "camp-1", "lead-1", models.InviteStatusSent, true)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestManager_UpdateLeadStatus_UpdatesCacheEntry(t *testing.T) {
	m, mock, client := newTestManager(t)
	ctx := context.Background()

	raw, _ := json.Marshal(&models.Lead{ID: "lead-1", URL: "https://linkedin.com/in/jdoe", InviteStatus: models.InviteStatusPending})
	require.NoError(t, m.cache.Set(ctx, "camp-1", "lead-1", string(raw)))

	mock.ExpectExec(`UPDATE leads`).
		WithArgs(true, models.InviteStatusSent, "camp-1", "lead-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, m.UpdateLeadStatus(ctx, "camp-1", "lead-1", models.InviteStatusSent, true))

	all, err := client.HGetAll(ctx, "campaign:camp-1:leads").Result()
	require.NoError(t, err)
	var updated models.Lead
	require.NoError(t, json.Unmarshal([]byte(all["lead-1"]), &updated))
	assert.Equal(t, models.InviteStatusSent, updated.InviteStatus)
	assert.True(t, updated.InviteSent)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestManager_UpdateLeadConnectionAccepted_FansOutAcrossCampaigns(t *testing.T) {
	m, mock, _ := newTestManager(t)
	ctx := context.Background()
	url := "https://linkedin.com/in/jdoe"
	now := time.Now().UTC()

	raw1, _ := json.Marshal(&models.Lead{ID: "lead-1", URL: url, InviteStatus: models.InviteStatusSent})
	raw2, _ := json.Marshal(&models.Lead{ID: "lead-2", URL: url, InviteStatus: models.InviteStatusSent})
	require.NoError(t, m.cache.Set(ctx, "camp-a", "lead-1", string(raw1)))
	require.NoError(t, m.cache.Set(ctx, "camp-b", "lead-2", string(raw2)))

	mock.ExpectExec(`UPDATE leads`).
		WithArgs(models.InviteStatusAccepted, now, url).
		WillReturnResult(sqlmock.NewResult(0, 2))

	n, err := m.UpdateLeadConnectionAccepted(ctx, url, now)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	campA, err := m.cache.GetAll(ctx, "camp-a")
	require.NoError(t, err)
	var leadA models.Lead
	require.NoError(t, json.Unmarshal([]byte(campA["lead-1"]), &leadA))
	assert.Equal(t, models.InviteStatusAccepted, leadA.InviteStatus)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestManager_FetchEligibleLeads_CacheHit(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	eligible, _ := json.Marshal(&models.Lead{ID: "lead-1", URL: "https://linkedin.com/in/a", InviteStatus: models.InviteStatusPending})
	ineligible, _ := json.Marshal(&models.Lead{ID: "lead-2", URL: "https://linkedin.com/in/b", InviteStatus: models.InviteStatusSent, InviteSent: true})
	require.NoError(t, m.cache.SetMany(ctx, "camp-1", map[string]string{"lead-1": string(eligible), "lead-2": string(ineligible)}))

	result, err := m.FetchEligibleLeads(ctx, "camp-1")
	require.NoError(t, err)
	assert.Equal(t, "redis", result.Source)
	assert.Len(t, result.AllLeads, 2)
	require.Len(t, result.EligibleLeads, 1)
	assert.Equal(t, "lead-1", result.EligibleLeads[0].ID)
}

func TestManager_FetchEligibleLeads_CacheMissFallsBackToStore(t *testing.T) {
	m, mock, _ := newTestManager(t)
	ctx := context.Background()
	now := time.Now().UTC()

	rows := sqlmock.NewRows([]string{
		"id", "user_id", "campaign_id", "url", "name", "title", "company", "location", "profile_picture",
		"scraping_status", "invite_sent", "invite_status", "invite_sent_at", "invite_accepted_at",
		"invite_retry_count", "last_connection_check_at", "message_sent", "message_sent_at", "message_error",
		"created_at", "updated_at",
	}).AddRow("lead-1", "user-1", "camp-1", "https://linkedin.com/in/a", "A", "", "", "", "",
		models.ScrapingStatusCompleted, false, models.InviteStatusPending, nil, nil,
		0, nil, false, nil, nil, now, now)

	mock.ExpectQuery(`SELECT .* FROM leads WHERE campaign_id = \$1`).WithArgs("camp-1").WillReturnRows(rows)

	result, err := m.FetchEligibleLeads(ctx, "camp-1")
	require.NoError(t, err)
	assert.Equal(t, "postgresql", result.Source)
	require.Len(t, result.EligibleLeads, 1)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetLeadAnalytics(t *testing.T) {
	leads := []*models.Lead{
		{InviteStatus: models.InviteStatusSent, InviteSent: true},
		{InviteStatus: models.InviteStatusAccepted, InviteSent: true},
		{InviteStatus: models.InviteStatusPending},
	}
	analytics := GetLeadAnalytics(leads)
	assert.Equal(t, 3, analytics.Total)
	assert.Equal(t, 2, analytics.LeadsWithInvites)
	assert.Equal(t, 1, analytics.InviteStats[models.InviteStatusSent])
}
