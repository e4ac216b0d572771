// internal/repository/accounts.go
package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"outreach-engine/internal/database"
	"outreach-engine/internal/models"
)

type LinkedInAccountRepository struct {
	db *database.PostgresClient
}

func NewLinkedInAccountRepository(db *database.PostgresClient) *LinkedInAccountRepository {
	return &LinkedInAccountRepository{db: db}
}

func (r *LinkedInAccountRepository) GetByID(ctx context.Context, id string) (*models.LinkedInAccount, error) {
	var a models.LinkedInAccount
	var sessionJSON []byte

	err := r.db.QueryRow(ctx, `
		SELECT id, user_id, session_bundle,
		       daily_invites_sent, daily_connection_checks, daily_messages_sent,
		       daily_invite_limit, daily_connection_check_limit, daily_message_limit,
		       invite_last_reset, connection_check_last_reset, message_last_reset,
		       is_active, created_at, updated_at
		FROM linkedin_accounts WHERE id = $1`, id).Scan(
		&a.ID, &a.UserID, &sessionJSON,
		&a.DailyInvitesSent, &a.DailyConnectionChecks, &a.DailyMessagesSent,
		&a.DailyInviteLimit, &a.DailyConnectionCheckLimit, &a.DailyMessageLimit,
		&a.InviteLastReset, &a.ConnectionCheckLastReset, &a.MessageLastReset,
		&a.IsActive, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(sessionJSON, &a.Session); err != nil {
		return nil, fmt.Errorf("unmarshal session bundle: %w", err)
	}

	return &a, nil
}

// CheckAndReset is C1's checkLimit read: a single UPDATE that resets the
// counter to zero and advances lastReset when 24h have elapsed, before
// returning the (possibly just-reset) used count and limit. Doing the
// reset and the read in one statement avoids a read-then-write race
// against a concurrent increment.
func (r *LinkedInAccountRepository) CheckAndReset(ctx context.Context, accountID string, kind models.RateLimitKind) (used, limit int, err error) {
	column, resetColumn, limitColumn, err := counterColumns(kind)
	if err != nil {
		return 0, 0, err
	}

	query := fmt.Sprintf(`
		UPDATE linkedin_accounts
		SET %[1]s = CASE WHEN now() - %[2]s >= interval '24 hours' THEN 0 ELSE %[1]s END,
		    %[2]s = CASE WHEN now() - %[2]s >= interval '24 hours' THEN now() ELSE %[2]s END,
		    updated_at = now()
		WHERE id = $1
		RETURNING %[1]s, %[3]s`, column, resetColumn, limitColumn)

	if err := r.db.QueryRow(ctx, query, accountID).Scan(&used, &limit); err != nil {
		return 0, 0, fmt.Errorf("check and reset %s: %w", kind, err)
	}
	return used, limit, nil
}

// Increment is C1's single-statement atomic add: it advances used[kind]
// and touches updated_at, without checking or resetting the limit — the
// caller must gate via CheckAndReset first.
func (r *LinkedInAccountRepository) Increment(ctx context.Context, accountID string, kind models.RateLimitKind, n int) error {
	column, _, _, err := counterColumns(kind)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`UPDATE linkedin_accounts SET %s = %s + $1, updated_at = now() WHERE id = $2`, column, column)
	if _, err := r.db.Exec(ctx, query, n, accountID); err != nil {
		return fmt.Errorf("increment %s: %w", kind, err)
	}
	return nil
}

// ResetCounter is the C1 admin/test reset operation.
func (r *LinkedInAccountRepository) ResetCounter(ctx context.Context, accountID string, kind models.RateLimitKind) error {
	column, resetColumn, _, err := counterColumns(kind)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`UPDATE linkedin_accounts SET %s = 0, %s = now(), updated_at = now() WHERE id = $1`, column, resetColumn)
	_, err = r.db.Exec(ctx, query, accountID)
	if err != nil {
		return fmt.Errorf("reset counter %s: %w", kind, err)
	}
	return nil
}

func counterColumns(kind models.RateLimitKind) (column, resetColumn, limitColumn string, err error) {
	switch kind {
	case models.RateLimitInvite:
		return "daily_invites_sent", "invite_last_reset", "daily_invite_limit", nil
	case models.RateLimitConnectionCheck:
		return "daily_connection_checks", "connection_check_last_reset", "daily_connection_check_limit", nil
	case models.RateLimitMessage:
		return "daily_messages_sent", "message_last_reset", "daily_message_limit", nil
	default:
		return "", "", "", fmt.Errorf("unknown rate limit kind %q", kind)
	}
}
