package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/gophchat/internal/server/models"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testOptions() Options {
	return Options{
		SendBufferSize:  64,
		PingPeriod:      time.Second,
		WriteWait:       time.Second,
		ReadTimeout:     5 * time.Second,
		EventsPerSecond: 1000,
		EventBurst:      1000,
	}
}

func newTestServer(t *testing.T, chat *fakeChat, opts Options) (*Server, string) {
	t.Helper()

	verifier := &fakeVerifier{tokens: map[string]*models.User{
		"token-a": {ID: userA, Name: "Alice"},
		"token-b": {ID: userB, Name: "Bob"},
		"token-c": {ID: userC, Name: "Carol"},
	}}
	srv := NewServer(verifier, chat, fakeMedia{}, opts, discardLogger())

	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	hs := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		srv.ServeConn(r.Context(), ws, r.URL.Query().Get("token"))
	}))
	t.Cleanup(hs.Close)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})

	return srv, "ws" + strings.TrimPrefix(hs.URL, "http")
}

func dial(t *testing.T, url, token string) *websocket.Conn {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial(url+"/?token="+token, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func send(t *testing.T, ws *websocket.Conn, event string, data any) {
	t.Helper()
	payload, err := Encode(event, data)
	require.NoError(t, err)
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, payload))
}

func readFrame(t *testing.T, ws *websocket.Conn) Frame {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, p, err := ws.ReadMessage()
	require.NoError(t, err)
	var f Frame
	require.NoError(t, json.Unmarshal(p, &f))
	return f
}

// waitFor reads until a frame of the wanted event arrives. Frames named in
// forbidden fail the test.
func waitFor(t *testing.T, ws *websocket.Conn, want string, forbidden ...string) json.RawMessage {
	t.Helper()
	for i := 0; i < 50; i++ {
		f := readFrame(t, ws)
		for _, bad := range forbidden {
			if f.Event == bad {
				t.Fatalf("unexpected %q frame: %s", bad, f.Data)
			}
		}
		if f.Event == want {
			return f.Data
		}
	}
	t.Fatalf("no %q frame received", want)
	return nil
}

func waitForOnline(t *testing.T, ws *websocket.Conn, want []string) {
	t.Helper()
	for i := 0; i < 50; i++ {
		var online []string
		require.NoError(t, json.Unmarshal(waitFor(t, ws, EventOnlineUser), &online))
		if assert.ObjectsAreEqual(want, online) {
			return
		}
	}
	t.Fatalf("online set never became %v", want)
}

func waitForClose(t *testing.T, ws *websocket.Conn) int {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		_, _, err := ws.ReadMessage()
		if err == nil {
			continue
		}
		var ce *websocket.CloseError
		if errors.As(err, &ce) {
			return ce.Code
		}
		t.Fatalf("expected close frame, got %v", err)
	}
}

func TestSession_RejectsBadToken(t *testing.T) {
	srv, url := newTestServer(t, newFakeChat(), testOptions())

	ws := dial(t, url, "forged")
	assert.Equal(t, CloseUnauthorized, waitForClose(t, ws))
	assert.Empty(t, srv.presence.OnlineUsers())
	assert.Equal(t, 0, srv.SessionCount())
}

func TestSession_RejectsMissingToken(t *testing.T) {
	srv, url := newTestServer(t, newFakeChat(), testOptions())

	ws := dial(t, url, "")
	assert.Equal(t, CloseUnauthorized, waitForClose(t, ws))
	assert.Empty(t, srv.presence.OnlineUsers())
}

func TestSession_PresenceLifecycle(t *testing.T) {
	srv, url := newTestServer(t, newFakeChat(), testOptions())

	a := dial(t, url, "token-a")
	waitForOnline(t, a, []string{userA})

	b := dial(t, url, "token-b")
	waitForOnline(t, a, []string{userA, userB})
	waitForOnline(t, b, []string{userA, userB})

	require.NoError(t, b.Close())
	waitForOnline(t, a, []string{userA})
	assert.Eventually(t, func() bool { return srv.SessionCount() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.False(t, srv.presence.IsOnline(userB))
}

func TestSession_NewMessageFansOutToBothParties(t *testing.T) {
	chat := newFakeChat()
	_, url := newTestServer(t, chat, testOptions())

	a := dial(t, url, "token-a")
	waitForOnline(t, a, []string{userA})
	b := dial(t, url, "token-b")
	waitForOnline(t, b, []string{userA, userB})

	send(t, a, EventNewMessage, NewMessageData{Receiver: userB, Text: "hi"})

	for _, ws := range []*websocket.Conn{a, b} {
		var detail models.ConversationDetail
		require.NoError(t, json.Unmarshal(waitFor(t, ws, EventMessage), &detail))
		require.Len(t, detail.Messages, 1)
		assert.Equal(t, "hi", detail.Messages[0].Text)
		assert.Equal(t, userA, detail.Messages[0].AuthorUserID)
		assert.False(t, detail.Messages[0].Seen)

		var list []models.ConversationSummary
		require.NoError(t, json.Unmarshal(waitFor(t, ws, EventConversation), &list))
		require.Len(t, list, 1)
		assert.Equal(t, 1, list[0].UnseenCount)
	}
}

func TestSession_StoredMessageRefreshesListsWithoutDetail(t *testing.T) {
	chat := newFakeChat()
	chat.detailMissing = true
	_, url := newTestServer(t, chat, testOptions())

	a := dial(t, url, "token-a")
	waitForOnline(t, a, []string{userA})
	b := dial(t, url, "token-b")
	waitForOnline(t, b, []string{userA, userB})

	send(t, a, EventNewMessage, NewMessageData{Receiver: userB, Text: "hi"})

	for _, ws := range []*websocket.Conn{a, b} {
		var list []models.ConversationSummary
		require.NoError(t, json.Unmarshal(waitFor(t, ws, EventConversation, EventMessage, EventError), &list))
		require.Len(t, list, 1)
		require.NotNil(t, list[0].LastMessage)
		assert.Equal(t, "hi", list[0].LastMessage.Text)
	}
}

func TestSession_ConcurrentSendersKeepEveryMessageOnce(t *testing.T) {
	chat := newFakeChat()
	_, url := newTestServer(t, chat, testOptions())

	a := dial(t, url, "token-a")
	waitForOnline(t, a, []string{userA})
	b := dial(t, url, "token-b")
	waitForOnline(t, b, []string{userA, userB})

	const perSender = 10
	var wg sync.WaitGroup
	for _, c := range []struct {
		ws *websocket.Conn
		to string
	}{{a, userB}, {b, userA}} {
		wg.Add(1)
		go func(ws *websocket.Conn, to string) {
			defer wg.Done()
			for i := 0; i < perSender; i++ {
				payload, err := Encode(EventNewMessage, NewMessageData{Receiver: to, Text: fmt.Sprintf("to-%s-%d", to[:4], i)})
				if err == nil {
					err = ws.WriteMessage(websocket.TextMessage, payload)
				}
				if err != nil {
					t.Errorf("send: %v", err)
					return
				}
			}
		}(c.ws, c.to)
	}
	wg.Wait()

	var msgs []*models.Message
	require.Eventually(t, func() bool {
		chat.mu.Lock()
		defer chat.mu.Unlock()
		conv, ok := chat.convs[pairKey(userA, userB)]
		if !ok || len(conv.Messages) != 2*perSender {
			return false
		}
		msgs = append([]*models.Message(nil), conv.Messages...)
		return true
	}, 3*time.Second, 10*time.Millisecond)

	texts := map[string]bool{}
	next := map[string]int{}
	lastSeq := map[string]int64{}
	for _, m := range msgs {
		assert.False(t, texts[m.Text], "duplicate message %q", m.Text)
		texts[m.Text] = true

		to := userB
		if m.AuthorUserID == userB {
			to = userA
		}
		assert.Equal(t, fmt.Sprintf("to-%s-%d", to[:4], next[m.AuthorUserID]), m.Text)
		next[m.AuthorUserID]++

		assert.Greater(t, m.Seq, lastSeq[m.AuthorUserID])
		lastSeq[m.AuthorUserID] = m.Seq
	}
	assert.Equal(t, perSender, next[userA])
	assert.Equal(t, perSender, next[userB])
}

func TestSession_SelfMessageIsRejected(t *testing.T) {
	chat := newFakeChat()
	_, url := newTestServer(t, chat, testOptions())

	a := dial(t, url, "token-a")
	waitForOnline(t, a, []string{userA})

	send(t, a, EventNewMessage, NewMessageData{Receiver: userA, Text: "me"})

	var e ErrorData
	require.NoError(t, json.Unmarshal(waitFor(t, a, EventError, EventMessage), &e))
	assert.Equal(t, msgSelfMessage, e.Message)

	chat.mu.Lock()
	defer chat.mu.Unlock()
	assert.Empty(t, chat.convs)
}

func TestSession_SeenNotifiesAuthorOnce(t *testing.T) {
	_, url := newTestServer(t, newFakeChat(), testOptions())

	a := dial(t, url, "token-a")
	waitForOnline(t, a, []string{userA})
	b := dial(t, url, "token-b")
	waitForOnline(t, b, []string{userA, userB})

	for i := 0; i < 3; i++ {
		send(t, a, EventNewMessage, NewMessageData{Receiver: userB, Text: "ping"})
		waitFor(t, a, EventMessage)
	}
	send(t, b, EventNewMessage, NewMessageData{Receiver: userA, Text: "pong"})
	waitFor(t, a, EventMessage)

	send(t, b, EventSeen, userA)
	var seen MessagesSeenData
	require.NoError(t, json.Unmarshal(waitFor(t, a, EventMessagesSeen), &seen))
	assert.Equal(t, userB, seen.UserID)
	assert.NotEmpty(t, seen.ConversationID)

	// Nothing left to flip: the next frame A gets for this conversation must
	// be the new message, not another messages-seen.
	send(t, b, EventSeen, userA)
	send(t, b, EventNewMessage, NewMessageData{Receiver: userA, Text: "again"})
	waitFor(t, a, EventMessage, EventMessagesSeen)
}

func TestSession_SeenWithoutConversation(t *testing.T) {
	_, url := newTestServer(t, newFakeChat(), testOptions())

	a := dial(t, url, "token-a")
	waitForOnline(t, a, []string{userA})

	send(t, a, EventSeen, userC)
	var resp ResponseError
	require.NoError(t, json.Unmarshal(waitFor(t, a, EventMessagesSeen), &resp))
	assert.Equal(t, msgConversationAbsent, resp.Error)

	send(t, a, EventSeen, nil)
	var e ErrorData
	require.NoError(t, json.Unmarshal(waitFor(t, a, EventError), &e))
	assert.Equal(t, msgSeenTargetRequired, e.Message)
}

func TestSession_MessagePage(t *testing.T) {
	_, url := newTestServer(t, newFakeChat(), testOptions())

	a := dial(t, url, "token-a")
	waitForOnline(t, a, []string{userA})
	dial(t, url, "token-b")
	waitForOnline(t, a, []string{userA, userB})

	send(t, a, EventMessagePage, userB)
	var page MessagePageData
	require.NoError(t, json.Unmarshal(waitFor(t, a, EventMessagePageData), &page))
	assert.Equal(t, "Bob", page.User.Name)
	assert.True(t, page.User.Online)
	assert.Nil(t, page.Conversation)

	send(t, a, EventMessagePage, "dddddddd-0000-4000-8000-000000000004")
	var resp ResponseError
	require.NoError(t, json.Unmarshal(waitFor(t, a, EventMessagePage), &resp))
	assert.Equal(t, msgUserNotFound, resp.Error)

	send(t, a, EventMessagePage, nil)
	require.NoError(t, json.Unmarshal(waitFor(t, a, EventMessagePage), &resp))
	assert.Equal(t, msgTargetRequired, resp.Error)

	send(t, a, EventMessagePage, 42)
	require.NoError(t, json.Unmarshal(waitFor(t, a, EventMessagePage), &resp))
	assert.Equal(t, msgInvalidTarget, resp.Error)
}

func TestSession_Sidebar(t *testing.T) {
	chat := newFakeChat()
	_, url := newTestServer(t, chat, testOptions())

	a := dial(t, url, "token-a")
	waitForOnline(t, a, []string{userA})

	send(t, a, EventSidebar, nil)
	var list []models.ConversationSummary
	require.NoError(t, json.Unmarshal(waitFor(t, a, EventConversation), &list))
	assert.Empty(t, list)

	chat.mu.Lock()
	chat.summariesErr = errors.New("db error: boom")
	chat.mu.Unlock()

	send(t, a, EventSidebar, nil)
	var resp ResponseError
	require.NoError(t, json.Unmarshal(waitFor(t, a, EventConversation), &resp))
	assert.Equal(t, msgSidebarFailed, resp.Error)
}

func TestSession_UploadURL(t *testing.T) {
	_, url := newTestServer(t, newFakeChat(), testOptions())

	a := dial(t, url, "token-a")
	waitForOnline(t, a, []string{userA})

	send(t, a, EventUploadURL, UploadURLData{Kind: "image", ContentType: "image/png"})
	var ticket map[string]string
	require.NoError(t, json.Unmarshal(waitFor(t, a, EventUploadURL), &ticket))
	assert.Equal(t, "http://cdn/image/"+userA+"/k", ticket["fileUrl"])

	send(t, a, EventUploadURL, UploadURLData{Kind: "audio"})
	var e ErrorData
	require.NoError(t, json.Unmarshal(waitFor(t, a, EventError), &e))
	assert.Equal(t, msgUnsupportedMedia, e.Message)
}

func TestSession_BadFramesKeepConnectionOpen(t *testing.T) {
	_, url := newTestServer(t, newFakeChat(), testOptions())

	a := dial(t, url, "token-a")
	waitForOnline(t, a, []string{userA})

	require.NoError(t, a.WriteMessage(websocket.TextMessage, []byte("{not json")))
	var e ErrorData
	require.NoError(t, json.Unmarshal(waitFor(t, a, EventError), &e))
	assert.Equal(t, msgMalformed, e.Message)

	send(t, a, "dance", nil)
	require.NoError(t, json.Unmarshal(waitFor(t, a, EventError), &e))
	assert.Equal(t, msgUnknown, e.Message)

	send(t, a, EventNewMessage, "not an object")
	require.NoError(t, json.Unmarshal(waitFor(t, a, EventError), &e))
	assert.Equal(t, msgMalformed, e.Message)

	send(t, a, EventSidebar, nil)
	waitFor(t, a, EventConversation)
}

func TestSession_PanicIsContained(t *testing.T) {
	chat := newFakeChat()
	chat.panicOnSend = true
	_, url := newTestServer(t, chat, testOptions())

	a := dial(t, url, "token-a")
	waitForOnline(t, a, []string{userA})

	send(t, a, EventNewMessage, NewMessageData{Receiver: userB, Text: "x"})
	var e ErrorData
	require.NoError(t, json.Unmarshal(waitFor(t, a, EventError), &e))
	assert.Equal(t, msgInternal, e.Message)

	send(t, a, EventSidebar, nil)
	waitFor(t, a, EventConversation)
}

func TestSession_RateLimit(t *testing.T) {
	opts := testOptions()
	opts.EventsPerSecond = 0.001
	opts.EventBurst = 1
	_, url := newTestServer(t, newFakeChat(), opts)

	a := dial(t, url, "token-a")
	waitForOnline(t, a, []string{userA})

	send(t, a, EventSidebar, nil)
	send(t, a, EventSidebar, nil)

	var e ErrorData
	require.NoError(t, json.Unmarshal(waitFor(t, a, EventError), &e))
	assert.Equal(t, msgRateLimited, e.Message)
}

func TestServer_ShutdownClosesSessions(t *testing.T) {
	srv, url := newTestServer(t, newFakeChat(), testOptions())

	a := dial(t, url, "token-a")
	waitForOnline(t, a, []string{userA})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, srv.Shutdown(ctx))

	assert.Equal(t, websocket.CloseGoingAway, waitForClose(t, a))
	assert.Empty(t, srv.presence.OnlineUsers())

	late := dial(t, url, "token-b")
	assert.Equal(t, websocket.CloseGoingAway, waitForClose(t, late))
}

func TestSession_JoinPresenceAfterClose(t *testing.T) {
	srv := NewServer(&fakeVerifier{}, newFakeChat(), fakeMedia{}, testOptions(), discardLogger())

	t.Run("open session joins", func(t *testing.T) {
		sess := newSession(srv, NewConnection(nil, 4, time.Second, time.Second), nil)
		sess.user = &models.User{ID: userA}
		require.True(t, srv.track(sess))
		sess.state.Store(int32(StateAuthenticated))

		assert.True(t, sess.joinPresence())
		assert.True(t, srv.presence.IsOnline(userA))

		sess.Close(websocket.CloseNormalClosure, "done")
		assert.False(t, srv.presence.IsOnline(userA))
		assert.Equal(t, 0, srv.SessionCount())
	})

	t.Run("closed during handshake", func(t *testing.T) {
		sess := newSession(srv, NewConnection(nil, 4, time.Second, time.Second), nil)
		sess.user = &models.User{ID: userB}
		require.True(t, srv.track(sess))
		sess.state.Store(int32(StateAuthenticated))

		sess.Close(websocket.CloseGoingAway, "server shutdown")

		assert.False(t, sess.joinPresence())
		assert.False(t, srv.presence.IsOnline(userB))
		assert.Empty(t, srv.presence.OnlineUsers())
		assert.Equal(t, 0, srv.SessionCount())
	})
}
