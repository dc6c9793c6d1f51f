package realtime

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/gophchat/internal/logging"
	"github.com/dmitrijs2005/gophchat/internal/server/models"
	"github.com/dmitrijs2005/gophchat/internal/server/presence"
	"github.com/dmitrijs2005/gophchat/internal/server/services"
)

// Chat is the part of services.ChatService the realtime layer drives.
type Chat interface {
	SendMessage(ctx context.Context, senderID, receiverID string, p models.Payload) (*services.SendResult, error)
	MarkSeen(ctx context.Context, viewerID, counterpartID string) (*services.SeenResult, error)
	Summaries(ctx context.Context, userID string) ([]*models.ConversationSummary, error)
	ConversationPage(ctx context.Context, viewerID, targetID string) (*models.User, *models.ConversationDetail, error)
}

// Dispatcher recomputes views and pushes them to exactly the connections
// that should see them. Every push is a full snapshot, so repeating one is
// harmless.
type Dispatcher struct {
	chat     Chat
	presence *presence.Registry
	logger   logging.Logger
}

func NewDispatcher(chat Chat, registry *presence.Registry, logger logging.Logger) *Dispatcher {
	return &Dispatcher{
		chat:     chat,
		presence: registry,
		logger:   logger.With("module", "dispatcher"),
	}
}

// ConversationList builds the sidebar frame for userID.
func (d *Dispatcher) ConversationList(ctx context.Context, userID string) ([]byte, error) {
	list, err := d.chat.Summaries(ctx, userID)
	if err != nil {
		return nil, err
	}
	return Encode(EventConversation, list)
}

// PushConversationList delivers the recomputed sidebar to every live
// connection of userID. A user with no connections costs no store query.
func (d *Dispatcher) PushConversationList(ctx context.Context, userID string) error {
	if !d.presence.IsOnline(userID) {
		return nil
	}
	payload, err := d.ConversationList(ctx, userID)
	if err != nil {
		return fmt.Errorf("conversation list for %s: %w", userID, err)
	}
	d.presence.SendToUser(userID, payload)
	return nil
}

// PushConversationDetail answers a message-page request on the requesting
// connection only.
func (d *Dispatcher) PushConversationDetail(ctx context.Context, conn presence.Conn, viewerID, counterpartID string) error {
	user, detail, err := d.chat.ConversationPage(ctx, viewerID, counterpartID)
	if err != nil {
		return err
	}

	payload, err := Encode(EventMessagePageData, MessagePageData{
		User:         models.Presence{User: *user, Online: d.presence.IsOnline(user.ID)},
		Conversation: detail,
	})
	if err != nil {
		return err
	}
	return conn.Send(payload)
}

// PushMessage sends the populated conversation to every connection of both
// participants.
func (d *Dispatcher) PushMessage(ctx context.Context, detail *models.ConversationDetail) {
	payload, err := Encode(EventMessage, detail)
	if err != nil {
		d.logger.Error(ctx, "encode message", "error", err)
		return
	}
	d.presence.SendToUser(detail.Sender.ID, payload)
	if detail.Receiver.ID != detail.Sender.ID {
		d.presence.SendToUser(detail.Receiver.ID, payload)
	}
}

// PushSeen tells the author's connections that viewerID has read their
// messages in the conversation.
func (d *Dispatcher) PushSeen(ctx context.Context, authorID, conversationID, viewerID string) {
	payload, err := Encode(EventMessagesSeen, MessagesSeenData{ConversationID: conversationID, UserID: viewerID})
	if err != nil {
		d.logger.Error(ctx, "encode messages-seen", "error", err)
		return
	}
	d.presence.SendToUser(authorID, payload)
}

// RefreshLists pushes the sidebar to each user, logging failures.
func (d *Dispatcher) RefreshLists(ctx context.Context, userIDs ...string) {
	for _, id := range userIDs {
		if err := d.PushConversationList(ctx, id); err != nil {
			d.logger.Error(ctx, "push conversation list", "user_id", id, "error", err)
		}
	}
}
