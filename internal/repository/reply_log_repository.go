package repository

import (
	"context"
	"errors"

	"autodm/internal/entities"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ReplyLogRepository is the Postgres event store: claims plus the
// append-only reply log.
type ReplyLogRepository struct {
	db *pgxpool.Pool
}

func NewReplyLogRepository(db *pgxpool.Pool) *ReplyLogRepository {
	return &ReplyLogRepository{db: db}
}

func (r *ReplyLogRepository) Exists(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM reply_logs WHERE event_id = $1)",
		eventID).Scan(&exists)
	return exists, err
}

// Claim reserves eventID. Only the first caller gets true.
func (r *ReplyLogRepository) Claim(ctx context.Context, eventID string) (bool, error) {
	tag, err := r.db.Exec(ctx,
		"INSERT INTO event_claims (event_id) VALUES ($1) ON CONFLICT (event_id) DO NOTHING",
		eventID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// Insert appends a log entry. A second entry for the same event id returns
// entities.ErrDuplicateEvent.
func (r *ReplyLogRepository) Insert(ctx context.Context, l *entities.ReplyLog) error {
	tag, err := r.db.Exec(ctx, `
		INSERT INTO reply_logs
			(id, event_id, owner_id, account_id, rule_id, event_kind, text, author_id, author_username,
			 stage, reply_sent, dm_sent, follow_checked, is_following, processing_time_ms,
			 queued, queue_id, success, failure_reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
		ON CONFLICT (event_id) DO NOTHING
	`, l.ID, l.EventID, l.OwnerID, l.AccountID, l.RuleID, l.EventKind, l.Text, l.AuthorID, l.AuthorUsername,
		l.Stage, l.ReplySent, l.DMSent, l.FollowChecked, l.IsFollowing, l.ProcessingTimeMs,
		l.Queued, l.QueueID, l.Success, l.FailureReason, l.CreatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return entities.ErrDuplicateEvent
	}
	return nil
}

// GetLog returns the log entry for an event, or nil, nil.
func (r *ReplyLogRepository) GetLog(ctx context.Context, eventID string) (*entities.ReplyLog, error) {
	var l entities.ReplyLog
	err := r.db.QueryRow(ctx, `
		SELECT id, event_id, owner_id, account_id, rule_id, event_kind, text, author_id, author_username,
		       stage, reply_sent, dm_sent, follow_checked, is_following, processing_time_ms,
		       queued, queue_id, success, failure_reason, created_at
		FROM reply_logs WHERE event_id = $1
	`, eventID).Scan(&l.ID, &l.EventID, &l.OwnerID, &l.AccountID, &l.RuleID, &l.EventKind, &l.Text,
		&l.AuthorID, &l.AuthorUsername, &l.Stage, &l.ReplySent, &l.DMSent, &l.FollowChecked, &l.IsFollowing,
		&l.ProcessingTimeMs, &l.Queued, &l.QueueID, &l.Success, &l.FailureReason, &l.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &l, nil
}
