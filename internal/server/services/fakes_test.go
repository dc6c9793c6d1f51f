package services

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/gophchat/internal/common"
	"github.com/dmitrijs2005/gophchat/internal/dbx"
	"github.com/dmitrijs2005/gophchat/internal/server/models"
	"github.com/dmitrijs2005/gophchat/internal/server/repositories/conversations"
	"github.com/dmitrijs2005/gophchat/internal/server/repositories/messages"
	usersrepo "github.com/dmitrijs2005/gophchat/internal/server/repositories/users"
)

const (
	aliceID = "11111111-1111-4111-8111-111111111111"
	bobID   = "22222222-2222-4222-8222-222222222222"
	carolID = "33333333-3333-4333-8333-333333333333"
)

func newSQLMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	return db, mock
}

type fakeUsersRepo struct {
	users map[string]*models.User
	err   error
}

func (f *fakeUsersRepo) GetByID(ctx context.Context, id string) (*models.User, error) {
	if f.err != nil {
		return nil, f.err
	}
	u, ok := f.users[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	c := *u
	return &c, nil
}

type fakeConvRepo struct {
	mu    sync.Mutex
	byKey map[[2]string]*models.Conversation
	calls []string

	findErr   error
	createErr error
	lockErr   error
	touchErr  error

	// racer, when set, is stored by the first Create call to simulate a
	// concurrent writer winning the unique constraint.
	racer *models.Conversation

	summaries    []*models.ConversationSummary
	summariesErr error
}

func newFakeConvRepo() *fakeConvRepo {
	return &fakeConvRepo{byKey: map[[2]string]*models.Conversation{}}
}

func (f *fakeConvRepo) add(c *models.Conversation) {
	f.byKey[[2]string{c.ParticipantA, c.ParticipantB}] = c
}

func (f *fakeConvRepo) FindByPair(ctx context.Context, a, b string) (*models.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "find")
	if f.findErr != nil {
		return nil, f.findErr
	}
	a, b = models.NormalizePair(a, b)
	c, ok := f.byKey[[2]string{a, b}]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return c, nil
}

func (f *fakeConvRepo) Create(ctx context.Context, a, b string) (*models.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "create")
	if f.createErr != nil {
		return nil, f.createErr
	}
	a, b = models.NormalizePair(a, b)
	if f.racer != nil {
		f.byKey[[2]string{a, b}] = f.racer
		f.racer = nil
		return nil, common.ErrorAlreadyExists
	}
	if _, ok := f.byKey[[2]string{a, b}]; ok {
		return nil, common.ErrorAlreadyExists
	}
	now := time.Now()
	c := &models.Conversation{ID: "c-" + a[:4] + b[:4], ParticipantA: a, ParticipantB: b, CreatedAt: now, UpdatedAt: now}
	f.byKey[[2]string{a, b}] = c
	return c, nil
}

func (f *fakeConvRepo) GetByID(ctx context.Context, id string) (*models.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.byKey {
		if c.ID == id {
			return c, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (f *fakeConvRepo) LockForAppend(ctx context.Context, id string) (*models.Conversation, error) {
	f.mu.Lock()
	f.calls = append(f.calls, "lock")
	err := f.lockErr
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return f.GetByID(ctx, id)
}

func (f *fakeConvRepo) Touch(ctx context.Context, id string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "touch")
	if f.touchErr != nil {
		return f.touchErr
	}
	for _, c := range f.byKey {
		if c.ID == id {
			if at.After(c.UpdatedAt) {
				c.UpdatedAt = at
			}
			return nil
		}
	}
	return common.ErrorNotFound
}

func (f *fakeConvRepo) Summaries(ctx context.Context, userID string) ([]*models.ConversationSummary, error) {
	if f.summariesErr != nil {
		return nil, f.summariesErr
	}
	return f.summaries, nil
}

type fakeMsgRepo struct {
	mu     sync.Mutex
	byConv map[string][]*models.Message
	calls  []string

	appendErr error
	listErr   error
	seenErr   error
}

func newFakeMsgRepo() *fakeMsgRepo {
	return &fakeMsgRepo{byConv: map[string][]*models.Message{}}
}

func (f *fakeMsgRepo) Append(ctx context.Context, conversationID, authorID string, p models.Payload) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "append")
	if f.appendErr != nil {
		return nil, f.appendErr
	}
	list := f.byConv[conversationID]
	m := &models.Message{
		ID:             fmt.Sprintf("%s-m%d", conversationID, len(list)+1),
		ConversationID: conversationID,
		Seq:            int64(len(list) + 1),
		AuthorUserID:   authorID,
		Text:           p.Text,
		ImageURL:       p.ImageURL,
		VideoURL:       p.VideoURL,
		CreatedAt:      time.Now().Add(time.Hour),
	}
	f.byConv[conversationID] = append(list, m)
	return m, nil
}

func (f *fakeMsgRepo) ListByConversation(ctx context.Context, conversationID string) ([]*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]*models.Message, 0, len(f.byConv[conversationID]))
	for _, m := range f.byConv[conversationID] {
		c := *m
		out = append(out, &c)
	}
	return out, nil
}

func (f *fakeMsgRepo) MarkSeen(ctx context.Context, conversationID, authorID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.seenErr != nil {
		return 0, f.seenErr
	}
	var n int64
	for _, m := range f.byConv[conversationID] {
		if m.AuthorUserID == authorID && !m.Seen {
			m.Seen = true
			n++
		}
	}
	return n, nil
}

type fakeRepoManager struct {
	u *fakeUsersRepo
	c *fakeConvRepo
	m *fakeMsgRepo
}

func newFakeRepoManager() *fakeRepoManager {
	return &fakeRepoManager{
		u: &fakeUsersRepo{users: map[string]*models.User{
			aliceID: {ID: aliceID, Name: "Alice", Email: "alice@example.com"},
			bobID:   {ID: bobID, Name: "Bob", Email: "bob@example.com"},
			carolID: {ID: carolID, Name: "Carol", Email: "carol@example.com"},
		}},
		c: newFakeConvRepo(),
		m: newFakeMsgRepo(),
	}
}

func (m *fakeRepoManager) RunMigrations(context.Context, *sql.DB) error       { return nil }
func (m *fakeRepoManager) Users(db dbx.DBTX) usersrepo.Repository             { return m.u }
func (m *fakeRepoManager) Conversations(db dbx.DBTX) conversations.Repository { return m.c }
func (m *fakeRepoManager) Messages(db dbx.DBTX) messages.Repository           { return m.m }
