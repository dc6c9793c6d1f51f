// Package services contains server-side business logic. This file implements
// ChatService: conversation resolution, the message pipeline, seen tracking
// and the derived views pushed to clients.
package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/gophchat/internal/common"
	"github.com/dmitrijs2005/gophchat/internal/dbx"
	"github.com/dmitrijs2005/gophchat/internal/logging"
	"github.com/dmitrijs2005/gophchat/internal/server/models"
	"github.com/dmitrijs2005/gophchat/internal/server/repositories/conversations"
	"github.com/dmitrijs2005/gophchat/internal/server/repositories/repomanager"
)

// SendResult is what a successful send produced. Conversation is nil when
// the message was stored but the populated view could not be read back.
type SendResult struct {
	Message      *models.Message
	SenderID     string
	ReceiverID   string
	Conversation *models.ConversationDetail
}

// SeenResult reports how many messages a seen acknowledgment flipped.
type SeenResult struct {
	ConversationID string
	CounterpartID  string
	Flipped        int64
}

type ChatService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	logger      logging.Logger
}

func NewChatService(db *sql.DB, m repomanager.RepositoryManager, logger logging.Logger) *ChatService {
	return &ChatService{
		db:          db,
		repomanager: m,
		logger:      logger.With("module", "chat"),
	}
}

// ResolveConversation returns the conversation for the unordered pair {a, b},
// creating it when absent. Concurrent callers for the same pair all get the
// single row that won the unique constraint.
func (s *ChatService) ResolveConversation(ctx context.Context, a, b string) (*models.Conversation, error) {
	a, err := canonicalID(a)
	if err != nil {
		return nil, err
	}
	b, err = canonicalID(b)
	if err != nil {
		return nil, err
	}
	if a == b {
		return nil, common.ErrSelfConversation
	}

	return s.resolve(ctx, s.repomanager.Conversations(s.db), a, b)
}

// resolve finds or creates the conversation for canonical, distinct ids
// through repo. Inside a transaction a losing Create waits for the winner to
// commit, so the re-read sees its row.
func (s *ChatService) resolve(ctx context.Context, repo conversations.Repository, a, b string) (*models.Conversation, error) {
	conv, err := repo.FindByPair(ctx, a, b)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, common.ErrorNotFound) {
		return nil, fmt.Errorf("error finding conversation: %w", err)
	}

	conv, err = repo.Create(ctx, a, b)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, common.ErrorAlreadyExists) {
		return nil, fmt.Errorf("error creating conversation: %w", err)
	}

	s.logger.Debug(ctx, "conversation created concurrently, re-reading", "a", a, "b", b)

	conv, err = repo.FindByPair(ctx, a, b)
	if err != nil {
		return nil, fmt.Errorf("error finding conversation: %w", err)
	}
	return conv, nil
}

// SendMessage validates and appends a message from senderID to receiverID.
// Creating the conversation, the append and the timestamp bump commit
// together, so a failed append leaves no empty conversation behind.
func (s *ChatService) SendMessage(ctx context.Context, senderID, receiverID string, p models.Payload) (*SendResult, error) {
	if receiverID == "" {
		return nil, common.ErrReceiverRequired
	}
	sender, err := canonicalID(senderID)
	if err != nil {
		return nil, err
	}
	receiver, err := canonicalID(receiverID)
	if err != nil {
		return nil, err
	}
	if sender == receiver {
		return nil, common.ErrSelfConversation
	}

	p = p.Normalize()
	if p.IsEmpty() {
		return nil, common.ErrEmptyMessage
	}

	if _, err := s.repomanager.Users(s.db).GetByID(ctx, receiver); err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrUserNotFound
		}
		return nil, fmt.Errorf("error getting receiver: %w", err)
	}

	var conv *models.Conversation
	msg, err := dbx.InTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) (*models.Message, error) {
		convRepo := s.repomanager.Conversations(tx)
		msgRepo := s.repomanager.Messages(tx)

		c, err := s.resolve(ctx, convRepo, sender, receiver)
		if err != nil {
			return nil, err
		}

		if _, err := convRepo.LockForAppend(ctx, c.ID); err != nil {
			return nil, err
		}

		m, err := msgRepo.Append(ctx, c.ID, sender, p)
		if err != nil {
			return nil, err
		}

		if err := convRepo.Touch(ctx, c.ID, m.CreatedAt); err != nil {
			return nil, err
		}

		snapshot := *c
		conv = &snapshot
		return m, nil
	})
	if err != nil {
		return nil, fmt.Errorf("error appending message: %w", err)
	}

	if msg.CreatedAt.After(conv.UpdatedAt) {
		conv.UpdatedAt = msg.CreatedAt
	}

	res := &SendResult{Message: msg, SenderID: sender, ReceiverID: receiver}

	// The message is committed; a failed read only costs the populated view.
	detail, err := s.detail(ctx, conv)
	if err != nil {
		s.logger.Error(ctx, "populate conversation after append", "conversation_id", conv.ID, "error", err)
		return res, nil
	}
	res.Conversation = detail

	return res, nil
}

// MarkSeen flips every unseen message authored by counterpartID in the
// conversation with viewerID. A conversation that exists but has nothing to
// flip is a success with Flipped == 0.
func (s *ChatService) MarkSeen(ctx context.Context, viewerID, counterpartID string) (*SeenResult, error) {
	if counterpartID == "" {
		return nil, common.ErrTargetRequired
	}
	viewer, err := canonicalID(viewerID)
	if err != nil {
		return nil, err
	}
	counterpart, err := canonicalID(counterpartID)
	if err != nil {
		return nil, err
	}

	conv, err := s.repomanager.Conversations(s.db).FindByPair(ctx, viewer, counterpart)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrConversationNotFound
		}
		return nil, fmt.Errorf("error finding conversation: %w", err)
	}

	n, err := s.repomanager.Messages(s.db).MarkSeen(ctx, conv.ID, counterpart)
	if err != nil {
		return nil, fmt.Errorf("error marking messages seen: %w", err)
	}

	return &SeenResult{ConversationID: conv.ID, CounterpartID: counterpart, Flipped: n}, nil
}

// Summaries recomputes the sidebar for userID, most recently updated first.
func (s *ChatService) Summaries(ctx context.Context, userID string) ([]*models.ConversationSummary, error) {
	id, err := canonicalID(userID)
	if err != nil {
		return nil, err
	}

	list, err := s.repomanager.Conversations(s.db).Summaries(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("error listing conversations: %w", err)
	}
	return list, nil
}

// ConversationPage returns the target's profile and, when the pair has talked
// before, the full conversation. A nil detail means no conversation yet.
func (s *ChatService) ConversationPage(ctx context.Context, viewerID, targetID string) (*models.User, *models.ConversationDetail, error) {
	if targetID == "" {
		return nil, nil, common.ErrTargetRequired
	}
	viewer, err := canonicalID(viewerID)
	if err != nil {
		return nil, nil, err
	}
	target, err := canonicalID(targetID)
	if err != nil {
		return nil, nil, err
	}

	user, err := s.repomanager.Users(s.db).GetByID(ctx, target)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, nil, common.ErrUserNotFound
		}
		return nil, nil, fmt.Errorf("error getting user: %w", err)
	}

	if viewer == target {
		return user, nil, nil
	}

	conv, err := s.repomanager.Conversations(s.db).FindByPair(ctx, viewer, target)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return user, nil, nil
		}
		return nil, nil, fmt.Errorf("error finding conversation: %w", err)
	}

	detail, err := s.detail(ctx, conv)
	if err != nil {
		return nil, nil, err
	}

	return user, detail, nil
}

// detail populates a conversation with both participant profiles and its
// messages in append order.
func (s *ChatService) detail(ctx context.Context, conv *models.Conversation) (*models.ConversationDetail, error) {
	usersRepo := s.repomanager.Users(s.db)

	a, err := usersRepo.GetByID(ctx, conv.ParticipantA)
	if err != nil {
		return nil, fmt.Errorf("error getting participant: %w", err)
	}
	b, err := usersRepo.GetByID(ctx, conv.ParticipantB)
	if err != nil {
		return nil, fmt.Errorf("error getting participant: %w", err)
	}

	msgs, err := s.repomanager.Messages(s.db).ListByConversation(ctx, conv.ID)
	if err != nil {
		return nil, fmt.Errorf("error listing messages: %w", err)
	}

	return &models.ConversationDetail{
		ID:        conv.ID,
		Sender:    *a,
		Receiver:  *b,
		Messages:  msgs,
		CreatedAt: conv.CreatedAt,
		UpdatedAt: conv.UpdatedAt,
	}, nil
}
