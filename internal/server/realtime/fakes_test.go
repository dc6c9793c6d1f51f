package realtime

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/dmitrijs2005/gophchat/internal/common"
	"github.com/dmitrijs2005/gophchat/internal/logging"
	"github.com/dmitrijs2005/gophchat/internal/server/models"
	"github.com/dmitrijs2005/gophchat/internal/server/services"
)

const (
	userA = "aaaaaaaa-0000-4000-8000-000000000001"
	userB = "bbbbbbbb-0000-4000-8000-000000000002"
	userC = "cccccccc-0000-4000-8000-000000000003"
)

func discardLogger() logging.Logger {
	return logging.NewJSONLogger(io.Discard, slog.LevelError)
}

type fakeVerifier struct {
	tokens map[string]*models.User
	err    error
}

func (v *fakeVerifier) Verify(ctx context.Context, token string) (*models.User, error) {
	if v.err != nil {
		return nil, v.err
	}
	u, ok := v.tokens[token]
	if !ok {
		return nil, fmt.Errorf("%w: bad token", common.ErrorUnauthorized)
	}
	return u, nil
}

// fakeChat is an in-memory stand-in for services.ChatService.
type fakeChat struct {
	mu    sync.Mutex
	users map[string]*models.User
	convs map[[2]string]*models.ConversationDetail
	seq   int

	summariesErr  error
	panicOnSend   bool
	detailMissing bool
}

func newFakeChat() *fakeChat {
	return &fakeChat{
		users: map[string]*models.User{
			userA: {ID: userA, Name: "Alice"},
			userB: {ID: userB, Name: "Bob"},
			userC: {ID: userC, Name: "Carol"},
		},
		convs: map[[2]string]*models.ConversationDetail{},
	}
}

func pairKey(a, b string) [2]string {
	a, b = models.NormalizePair(a, b)
	return [2]string{a, b}
}

func (c *fakeChat) SendMessage(ctx context.Context, senderID, receiverID string, p models.Payload) (*services.SendResult, error) {
	if c.panicOnSend {
		panic("boom")
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if receiverID == "" {
		return nil, common.ErrReceiverRequired
	}
	if senderID == receiverID {
		return nil, common.ErrSelfConversation
	}
	if p.IsEmpty() {
		return nil, common.ErrEmptyMessage
	}
	if _, ok := c.users[receiverID]; !ok {
		return nil, common.ErrUserNotFound
	}

	key := pairKey(senderID, receiverID)
	conv, ok := c.convs[key]
	if !ok {
		c.seq++
		conv = &models.ConversationDetail{
			ID:       fmt.Sprintf("conv-%d", c.seq),
			Sender:   *c.users[key[0]],
			Receiver: *c.users[key[1]],
			Messages: []*models.Message{},
		}
		c.convs[key] = conv
	}

	c.seq++
	m := &models.Message{
		ID:             fmt.Sprintf("msg-%d", c.seq),
		ConversationID: conv.ID,
		Seq:            int64(len(conv.Messages) + 1),
		AuthorUserID:   senderID,
		Text:           p.Text,
		ImageURL:       p.ImageURL,
		VideoURL:       p.VideoURL,
		CreatedAt:      time.Now(),
	}
	conv.Messages = append(conv.Messages, m)
	conv.UpdatedAt = m.CreatedAt

	res := &services.SendResult{Message: m, SenderID: senderID, ReceiverID: receiverID}
	if !c.detailMissing {
		res.Conversation = c.copyDetail(conv)
	}
	return res, nil
}

func (c *fakeChat) copyDetail(d *models.ConversationDetail) *models.ConversationDetail {
	cp := *d
	cp.Messages = make([]*models.Message, 0, len(d.Messages))
	for _, m := range d.Messages {
		mc := *m
		cp.Messages = append(cp.Messages, &mc)
	}
	return &cp
}

func (c *fakeChat) MarkSeen(ctx context.Context, viewerID, counterpartID string) (*services.SeenResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if counterpartID == "" {
		return nil, common.ErrTargetRequired
	}
	conv, ok := c.convs[pairKey(viewerID, counterpartID)]
	if !ok {
		return nil, common.ErrConversationNotFound
	}
	var n int64
	for _, m := range conv.Messages {
		if m.AuthorUserID == counterpartID && !m.Seen {
			m.Seen = true
			n++
		}
	}
	return &services.SeenResult{ConversationID: conv.ID, CounterpartID: counterpartID, Flipped: n}, nil
}

func (c *fakeChat) Summaries(ctx context.Context, userID string) ([]*models.ConversationSummary, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.summariesErr != nil {
		return nil, c.summariesErr
	}

	out := make([]*models.ConversationSummary, 0)
	for key, conv := range c.convs {
		if key[0] != userID && key[1] != userID {
			continue
		}
		s := &models.ConversationSummary{ConversationID: conv.ID, UpdatedAt: conv.UpdatedAt}
		if key[0] == userID {
			s.CounterpartUser = conv.Receiver
		} else {
			s.CounterpartUser = conv.Sender
		}
		for _, m := range conv.Messages {
			if !m.Seen {
				s.UnseenCount++
			}
		}
		if n := len(conv.Messages); n > 0 {
			last := *conv.Messages[n-1]
			s.LastMessage = &last
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (c *fakeChat) ConversationPage(ctx context.Context, viewerID, targetID string) (*models.User, *models.ConversationDetail, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if targetID == "" {
		return nil, nil, common.ErrTargetRequired
	}
	u, ok := c.users[targetID]
	if !ok {
		return nil, nil, common.ErrUserNotFound
	}
	conv, ok := c.convs[pairKey(viewerID, targetID)]
	if !ok {
		return u, nil, nil
	}
	return u, c.copyDetail(conv), nil
}

type fakeMedia struct{}

func (fakeMedia) UploadURL(ctx context.Context, userID string, kind services.MediaKind, contentType string) (*services.UploadTicket, error) {
	if kind != services.MediaImage && kind != services.MediaVideo {
		return nil, common.ErrUnsupportedMedia
	}
	key := string(kind) + "/" + userID + "/k"
	return &services.UploadTicket{Key: key, UploadURL: "http://s3/" + key + "?sig", FileURL: "http://cdn/" + key}, nil
}
