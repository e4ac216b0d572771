// internal/repository/messages.go
package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"outreach-engine/internal/database"
	"outreach-engine/internal/models"
)

type MessageRepository struct {
	db *database.PostgresClient
}

func NewMessageRepository(db *database.PostgresClient) *MessageRepository {
	return &MessageRepository{db: db}
}

func scanMessage(row interface {
	Scan(dest ...interface{}) error
}) (*models.Message, error) {
	var m models.Message
	var modelID, prompt sql.NullString
	var sentAt sql.NullTime

	err := row.Scan(
		&m.ID, &m.UserID, &m.LeadID, &m.CampaignID, &m.Content, &modelID, &prompt,
		&m.Status, &sentAt, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	m.ModelID = modelID.String
	m.Prompt = prompt.String
	if sentAt.Valid {
		m.SentAt = &sentAt.Time
	}
	return &m, nil
}

const messageColumns = `id, user_id, lead_id, campaign_id, content, model_id, prompt, status, sent_at, created_at, updated_at`

// GetByLeadID returns the most recently drafted message for a lead — C5
// composes from this row rather than generating copy itself.
func (r *MessageRepository) GetByLeadID(ctx context.Context, leadID string) (*models.Message, error) {
	row := r.db.QueryRow(ctx, `SELECT `+messageColumns+` FROM messages WHERE lead_id = $1 ORDER BY created_at DESC LIMIT 1`, leadID)
	m, err := scanMessage(row)
	if err != nil {
		return nil, fmt.Errorf("get message by lead: %w", err)
	}
	return m, nil
}

// MarkSent transitions a message to sent and stamps sentAt — the store
// half of C5's send confirmation, paired with leads.UpdateMessageSent for
// the lead's own URL-scoped fan-out.
func (r *MessageRepository) MarkSent(ctx context.Context, id string, sentAt time.Time) error {
	_, err := r.db.Exec(ctx, `UPDATE messages SET status = $1, sent_at = $2, updated_at = now() WHERE id = $3`,
		models.MessageStatusSent, sentAt, id,
	)
	if err != nil {
		return fmt.Errorf("mark message sent: %w", err)
	}
	return nil
}

// Insert creates a draft message row ahead of sending.
func (r *MessageRepository) Insert(ctx context.Context, m *models.Message) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO messages (id, user_id, lead_id, campaign_id, content, model_id, prompt, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now(), now())`,
		m.ID, m.UserID, m.LeadID, m.CampaignID, m.Content, nullString(m.ModelID), nullString(m.Prompt), m.Status,
	)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}
