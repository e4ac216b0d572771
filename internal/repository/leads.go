// internal/repository/leads.go
package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"outreach-engine/internal/database"
	"outreach-engine/internal/models"
)

// LeadRepository wraps the leads table. Grounded on the teacher's single
// *sql.DB query-function style (query-postgresql/queries/user.go) rather
// than an ORM.
type LeadRepository struct {
	db *database.PostgresClient
}

func NewLeadRepository(db *database.PostgresClient) *LeadRepository {
	return &LeadRepository{db: db}
}

func scanLead(row interface {
	Scan(dest ...interface{}) error
}) (*models.Lead, error) {
	var l models.Lead
	var inviteSentAt, inviteAcceptedAt, lastConnCheckAt, messageSentAt sql.NullTime
	var messageError sql.NullString

	err := row.Scan(
		&l.ID, &l.UserID, &l.CampaignID, &l.URL,
		&l.Name, &l.Title, &l.Company, &l.Location, &l.ProfilePicture,
		&l.ScrapingStatus,
		&l.InviteSent, &l.InviteStatus, &inviteSentAt, &inviteAcceptedAt,
		&l.InviteRetryCount, &lastConnCheckAt,
		&l.MessageSent, &messageSentAt, &messageError,
		&l.CreatedAt, &l.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if inviteSentAt.Valid {
		l.InviteSentAt = &inviteSentAt.Time
	}
	if inviteAcceptedAt.Valid {
		l.InviteAcceptedAt = &inviteAcceptedAt.Time
	}
	if lastConnCheckAt.Valid {
		l.LastConnectionCheckAt = &lastConnCheckAt.Time
	}
	if messageSentAt.Valid {
		l.MessageSentAt = &messageSentAt.Time
	}
	if messageError.Valid {
		l.MessageError = messageError.String
	}

	return &l, nil
}

const leadColumns = `id, user_id, campaign_id, url, name, title, company, location, profile_picture,
	scraping_status, invite_sent, invite_status, invite_sent_at, invite_accepted_at,
	invite_retry_count, last_connection_check_at, message_sent, message_sent_at, message_error,
	created_at, updated_at`

// ListByCampaign returns a campaign's leads in insertion order (the order
// fetchEligibleLeads propagates through C7's per-job processing).
func (r *LeadRepository) ListByCampaign(ctx context.Context, campaignID string) ([]*models.Lead, error) {
	rows, err := r.db.Query(ctx, `SELECT `+leadColumns+` FROM leads WHERE campaign_id = $1 ORDER BY created_at ASC`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("list leads by campaign: %w", err)
	}
	defer rows.Close()

	var leads []*models.Lead
	for rows.Next() {
		l, err := scanLead(rows)
		if err != nil {
			return nil, fmt.Errorf("scan lead: %w", err)
		}
		leads = append(leads, l)
	}
	return leads, rows.Err()
}

// ListByUserAndInviteStatus returns a user's leads across all campaigns
// filtered to a single invite status — used by C6 to find sent-invite
// leads to check for acceptance.
func (r *LeadRepository) ListByUserAndInviteStatus(ctx context.Context, userID string, status models.InviteStatus) ([]*models.Lead, error) {
	rows, err := r.db.Query(ctx, `SELECT `+leadColumns+` FROM leads WHERE user_id = $1 AND invite_status = $2 ORDER BY created_at ASC`, userID, status)
	if err != nil {
		return nil, fmt.Errorf("list leads by user and invite status: %w", err)
	}
	defer rows.Close()

	var leads []*models.Lead
	for rows.Next() {
		l, err := scanLead(rows)
		if err != nil {
			return nil, fmt.Errorf("scan lead: %w", err)
		}
		leads = append(leads, l)
	}
	return leads, rows.Err()
}

// UpdateStatus writes a per-campaign invite status change to the lead row
// (the store half of C2's cache-first-then-store protocol).
func (r *LeadRepository) UpdateStatus(ctx context.Context, campaignID, leadID string, status models.InviteStatus, inviteSent bool) error {
	_, err := r.db.Exec(ctx, `
		UPDATE leads
		SET invite_sent = $1, invite_status = $2, invite_sent_at = now(), updated_at = now()
		WHERE campaign_id = $3 AND id = $4`,
		inviteSent, status, campaignID, leadID,
	)
	if err != nil {
		return fmt.Errorf("update lead status: %w", err)
	}
	return nil
}

// UpdateStatusGlobally updates every lead row sharing url, regardless of
// campaign. Returns the number of rows updated.
func (r *LeadRepository) UpdateStatusGlobally(ctx context.Context, url string, status models.InviteStatus, inviteSent bool) (int64, error) {
	res, err := r.db.Exec(ctx, `
		UPDATE leads
		SET invite_sent = $1, invite_status = $2, invite_sent_at = now(), updated_at = now()
		WHERE url = $3`,
		inviteSent, status, url,
	)
	if err != nil {
		return 0, fmt.Errorf("update lead status globally: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// UpdateConnectionAccepted fans out an accepted-connection transition by
// URL, forcing inviteSent, inviteStatus, and inviteAcceptedAt.
func (r *LeadRepository) UpdateConnectionAccepted(ctx context.Context, url string, acceptedAt time.Time) (int64, error) {
	res, err := r.db.Exec(ctx, `
		UPDATE leads
		SET invite_sent = true, invite_status = $1, invite_accepted_at = $2, updated_at = now()
		WHERE url = $3`,
		models.InviteStatusAccepted, acceptedAt, url,
	)
	if err != nil {
		return 0, fmt.Errorf("update connection accepted: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// UpdateMessageSent fans out a successful message send by URL.
func (r *LeadRepository) UpdateMessageSent(ctx context.Context, url string, sentAt time.Time) (int64, error) {
	res, err := r.db.Exec(ctx, `
		UPDATE leads
		SET message_sent = true, message_sent_at = $1, message_error = NULL, updated_at = now()
		WHERE url = $2`,
		sentAt, url,
	)
	if err != nil {
		return 0, fmt.Errorf("update message sent: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// UpdateMessageError fans out a failed message send by URL.
func (r *LeadRepository) UpdateMessageError(ctx context.Context, url string, errMsg string) (int64, error) {
	res, err := r.db.Exec(ctx, `
		UPDATE leads
		SET message_sent = false, message_error = $1, updated_at = now()
		WHERE url = $2`,
		errMsg, url,
	)
	if err != nil {
		return 0, fmt.Errorf("update message error: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// TouchConnectionCheck records lastConnectionCheckAt for a specific lead
// row (step 7 of C6, applied to every sentLead regardless of match).
func (r *LeadRepository) TouchConnectionCheck(ctx context.Context, leadID string, checkedAt time.Time) error {
	_, err := r.db.Exec(ctx, `UPDATE leads SET last_connection_check_at = $1, updated_at = now() WHERE id = $2`, checkedAt, leadID)
	if err != nil {
		return fmt.Errorf("touch connection check: %w", err)
	}
	return nil
}
