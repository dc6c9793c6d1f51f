// Package conversations provides a PostgreSQL-backed repository for
// conversation records and the sidebar summaries derived from them.
//
// Pairs are stored normalized (participant_a < participant_b), so callers may
// pass the two user ids in any order.
package conversations

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/gophchat/internal/common"
	"github.com/dmitrijs2005/gophchat/internal/dbx"
	"github.com/dmitrijs2005/gophchat/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func scanConversation(row *sql.Row) (*models.Conversation, error) {
	c := &models.Conversation{}
	err := row.Scan(&c.ID, &c.ParticipantA, &c.ParticipantB, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return c, nil
}

// FindByPair returns the conversation between a and b, or common.ErrorNotFound.
func (r *PostgresRepository) FindByPair(ctx context.Context, a, b string) (*models.Conversation, error) {
	a, b = models.NormalizePair(a, b)

	query :=
		`SELECT id, participant_a, participant_b, created_at, updated_at
		 FROM conversations
		 WHERE participant_a = $1 AND participant_b = $2
		 `

	return scanConversation(r.db.QueryRowContext(ctx, query, a, b))
}

// Create inserts a conversation for the pair. If a concurrent writer created
// it first, common.ErrorAlreadyExists is returned and the caller should
// re-read with FindByPair.
func (r *PostgresRepository) Create(ctx context.Context, a, b string) (*models.Conversation, error) {
	a, b = models.NormalizePair(a, b)

	query :=
		`INSERT INTO conversations (participant_a, participant_b)
		 VALUES ($1, $2)
		 ON CONFLICT ON CONSTRAINT conversations_pair_unique DO NOTHING
		 RETURNING id, participant_a, participant_b, created_at, updated_at
		 `

	c, err := scanConversation(r.db.QueryRowContext(ctx, query, a, b))
	if errors.Is(err, common.ErrorNotFound) {
		return nil, common.ErrorAlreadyExists
	}
	return c, err
}

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*models.Conversation, error) {
	query :=
		`SELECT id, participant_a, participant_b, created_at, updated_at
		 FROM conversations
		 WHERE id = $1
		 `

	return scanConversation(r.db.QueryRowContext(ctx, query, id))
}

// LockForAppend takes a row lock on the conversation for the rest of the
// enclosing transaction. Appends to one conversation are serialized by it.
func (r *PostgresRepository) LockForAppend(ctx context.Context, id string) (*models.Conversation, error) {
	query :=
		`SELECT id, participant_a, participant_b, created_at, updated_at
		 FROM conversations
		 WHERE id = $1
		 FOR UPDATE
		 `

	return scanConversation(r.db.QueryRowContext(ctx, query, id))
}

// Touch sets updated_at. It never moves the timestamp backwards.
func (r *PostgresRepository) Touch(ctx context.Context, id string, at time.Time) error {
	query :=
		`UPDATE conversations SET updated_at = GREATEST(updated_at, $2)
		 WHERE id = $1
		 `

	res, err := r.db.ExecContext(ctx, query, id, at)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return common.ErrorNotFound
	}

	return nil
}

// Summaries derives the sidebar rows for userID, newest activity first.
// Nothing is cached: every call recomputes counts and last messages.
func (r *PostgresRepository) Summaries(ctx context.Context, userID string) ([]*models.ConversationSummary, error) {
	query :=
		`SELECT c.id, c.updated_at,
		        u.id, u.name, u.email, u.profile_pic,
		        (SELECT count(*) FROM messages um WHERE um.conversation_id = c.id AND NOT um.seen) AS unseen,
		        lm.id, lm.seq, lm.author_id, lm.text, lm.image_url, lm.video_url, lm.seen, lm.created_at
		 FROM conversations c
		 JOIN users u ON u.id = CASE WHEN c.participant_a = $1 THEN c.participant_b ELSE c.participant_a END
		 LEFT JOIN LATERAL (
		     SELECT m.id, m.seq, m.author_id, m.text, m.image_url, m.video_url, m.seen, m.created_at
		     FROM messages m
		     WHERE m.conversation_id = c.id
		     ORDER BY m.seq DESC
		     LIMIT 1
		 ) lm ON TRUE
		 WHERE c.participant_a = $1 OR c.participant_b = $1
		 ORDER BY c.updated_at DESC, c.id
		 `

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	result := make([]*models.ConversationSummary, 0)

	for rows.Next() {
		var (
			s        models.ConversationSummary
			msgID    sql.NullString
			seq      sql.NullInt64
			authorID sql.NullString
			text     sql.NullString
			imageURL sql.NullString
			videoURL sql.NullString
			seen     sql.NullBool
			created  sql.NullTime
		)

		err := rows.Scan(&s.ConversationID, &s.UpdatedAt,
			&s.CounterpartUser.ID, &s.CounterpartUser.Name, &s.CounterpartUser.Email, &s.CounterpartUser.ProfilePic,
			&s.UnseenCount,
			&msgID, &seq, &authorID, &text, &imageURL, &videoURL, &seen, &created)
		if err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}

		if msgID.Valid {
			s.LastMessage = &models.Message{
				ID:             msgID.String,
				ConversationID: s.ConversationID,
				Seq:            seq.Int64,
				AuthorUserID:   authorID.String,
				Text:           text.String,
				ImageURL:       imageURL.String,
				VideoURL:       videoURL.String,
				Seen:           seen.Bool,
				CreatedAt:      created.Time,
			}
		}

		result = append(result, &s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return result, nil
}
