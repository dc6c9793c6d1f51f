// Package messages provides a PostgreSQL-backed repository for the append-only
// message log of each conversation.
package messages

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/gophchat/internal/dbx"
	"github.com/dmitrijs2005/gophchat/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Append stores a new unseen message at the end of the conversation. The
// caller must hold the conversation row lock so seq allocation cannot race.
func (r *PostgresRepository) Append(ctx context.Context, conversationID, authorID string, p models.Payload) (*models.Message, error) {
	query :=
		`INSERT INTO messages (conversation_id, seq, author_id, text, image_url, video_url)
		 SELECT $1, COALESCE(MAX(seq), 0) + 1, $2, $3, $4, $5
		 FROM messages WHERE conversation_id = $1
		 RETURNING id, seq, seen, created_at
		 `

	m := &models.Message{
		ConversationID: conversationID,
		AuthorUserID:   authorID,
		Text:           p.Text,
		ImageURL:       p.ImageURL,
		VideoURL:       p.VideoURL,
	}

	err := r.db.QueryRowContext(ctx, query, conversationID, authorID, p.Text, p.ImageURL, p.VideoURL).
		Scan(&m.ID, &m.Seq, &m.Seen, &m.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return m, nil
}

// ListByConversation returns the full history in append order.
func (r *PostgresRepository) ListByConversation(ctx context.Context, conversationID string) ([]*models.Message, error) {
	query :=
		`SELECT id, conversation_id, seq, author_id, text, image_url, video_url, seen, created_at
		 FROM messages
		 WHERE conversation_id = $1
		 ORDER BY seq
		 `

	rows, err := r.db.QueryContext(ctx, query, conversationID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	result := make([]*models.Message, 0)

	for rows.Next() {
		m := &models.Message{}
		err := rows.Scan(&m.ID, &m.ConversationID, &m.Seq, &m.AuthorUserID,
			&m.Text, &m.ImageURL, &m.VideoURL, &m.Seen, &m.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		result = append(result, m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return result, nil
}

// MarkSeen flips every unseen message by authorID in the conversation and
// returns how many rows changed. Already seen messages are left alone, so a
// repeated call reports zero.
func (r *PostgresRepository) MarkSeen(ctx context.Context, conversationID, authorID string) (int64, error) {
	query :=
		`UPDATE messages SET seen = TRUE
		 WHERE conversation_id = $1 AND author_id = $2 AND NOT seen
		 `

	res, err := r.db.ExecContext(ctx, query, conversationID, authorID)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}

	return n, nil
}
