package realtime

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dmitrijs2005/gophchat/internal/common"
	"github.com/dmitrijs2005/gophchat/internal/logging"
	"github.com/dmitrijs2005/gophchat/internal/server/models"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

const (
	maxMessageSize = 1 << 20
	inboundQueue   = 16
	eventTimeout   = 10 * time.Second
)

// State is the lifecycle position of a session.
type State int32

const (
	StateConnecting State = iota
	StateAuthenticated
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticated:
		return "authenticated"
	default:
		return "closed"
	}
}

// Session binds one websocket to one authenticated user. The read loop only
// decodes and queues frames; a single dispatch loop handles them in order.
type Session struct {
	server *Server
	conn   *Connection
	ws     *websocket.Conn
	user   *models.User

	state     atomic.Int32
	limiter   *rate.Limiter
	inbound   chan Frame
	closeOnce sync.Once
	logger    logging.Logger
}

func newSession(server *Server, conn *Connection, ws *websocket.Conn) *Session {
	limit := rate.Inf
	if server.opts.EventsPerSecond > 0 {
		limit = rate.Limit(server.opts.EventsPerSecond)
	}
	burst := server.opts.EventBurst
	if burst <= 0 {
		burst = 1
	}

	return &Session{
		server:  server,
		conn:    conn,
		ws:      ws,
		limiter: rate.NewLimiter(limit, burst),
		inbound: make(chan Frame, inboundQueue),
		logger:  server.logger.With("conn_id", conn.ID()),
	}
}

func (s *Session) State() State { return State(s.state.Load()) }

func (s *Session) run(ctx context.Context, token string) {
	user, err := s.server.verifier.Verify(ctx, token)
	if err != nil {
		s.state.Store(int32(StateClosed))
		if errors.Is(err, common.ErrorUnauthorized) {
			s.logger.Info(ctx, "connection rejected", "error", err)
			s.conn.Reject(CloseUnauthorized, "unauthorized")
		} else {
			s.logger.Error(ctx, "verify token", "error", err)
			s.conn.Reject(websocket.CloseInternalServerErr, "internal error")
		}
		return
	}

	s.user = user
	s.logger = s.logger.With("user_id", user.ID)

	if !s.server.track(s) {
		s.state.Store(int32(StateClosed))
		s.conn.Reject(websocket.CloseGoingAway, "server shutting down")
		return
	}

	s.state.Store(int32(StateAuthenticated))
	s.conn.Start()
	if !s.joinPresence() {
		s.logger.Info(ctx, "session closed before it joined presence")
		return
	}
	s.logger.Info(ctx, "session opened")

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.dispatchLoop(ctx)
	}()

	s.readLoop(ctx)
	close(s.inbound)
	s.Close(websocket.CloseNormalClosure, "session closed")
	wg.Wait()

	s.logger.Info(ctx, "session closed")
}

// joinPresence registers the connection. A Close that ran before the
// registration could not remove it, so the entry is withdrawn here instead.
func (s *Session) joinPresence() bool {
	s.server.presence.Connect(s.user.ID, s.conn)
	if s.State() == StateClosed {
		s.server.presence.Disconnect(s.user.ID, s.conn)
		return false
	}
	return true
}

// Close moves the session to Closed. Presence is released exactly once no
// matter how many times or from where Close is called.
func (s *Session) Close(code int, reason string) {
	s.closeOnce.Do(func() {
		prev := State(s.state.Swap(int32(StateClosed)))
		if prev == StateAuthenticated {
			s.server.presence.Disconnect(s.user.ID, s.conn)
			s.server.untrack(s)
		}
		s.conn.Close(code, reason)
	})
}

func (s *Session) readLoop(ctx context.Context) {
	s.ws.SetReadLimit(maxMessageSize)
	_ = s.ws.SetReadDeadline(time.Now().Add(s.server.opts.ReadTimeout))
	s.ws.SetPongHandler(func(string) error {
		return s.ws.SetReadDeadline(time.Now().Add(s.server.opts.ReadTimeout))
	})

	for {
		_, data, err := s.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				s.logger.Debug(ctx, "read failed", "error", err)
			}
			return
		}
		_ = s.ws.SetReadDeadline(time.Now().Add(s.server.opts.ReadTimeout))

		frame, err := DecodeFrame(data)
		if err != nil {
			s.replyError(msgMalformed)
			continue
		}

		if !s.limiter.Allow() {
			s.logger.Warn(ctx, "event rate exceeded", "event", frame.Event)
			s.replyError(msgRateLimited)
			continue
		}

		select {
		case s.inbound <- frame:
		case <-s.conn.Done():
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *Session) dispatchLoop(ctx context.Context) {
	for f := range s.inbound {
		s.handle(ctx, f)
	}
}

func (s *Session) handle(ctx context.Context, f Frame) {
	ctx, cancel := context.WithTimeout(ctx, eventTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error(ctx, "event handler panic", "event", f.Event, "panic", r)
			s.replyError(msgInternal)
		}
	}()

	s.logger.Debug(ctx, "event received", "event", f.Event)

	switch f.Event {
	case EventSidebar:
		s.handleSidebar(ctx)
	case EventMessagePage:
		s.handleMessagePage(ctx, f)
	case EventNewMessage:
		s.handleNewMessage(ctx, f)
	case EventSeen:
		s.handleSeen(ctx, f)
	case EventUploadURL:
		s.handleUploadURL(ctx, f)
	default:
		s.replyError(msgUnknown)
	}
}

func (s *Session) handleSidebar(ctx context.Context) {
	payload, err := s.server.dispatcher.ConversationList(ctx, s.user.ID)
	if err != nil {
		s.logFailure(ctx, EventSidebar, err)
		s.reply(EventConversation, ResponseError{Error: msgSidebarFailed})
		return
	}
	_ = s.conn.Send(payload)
}

func (s *Session) handleMessagePage(ctx context.Context, f Frame) {
	target, err := decodeID(f.Data)
	if err == nil {
		err = s.server.dispatcher.PushConversationDetail(ctx, s.conn, s.user.ID, target)
	}
	if err != nil {
		if errors.Is(err, ErrConnectionClosed) || errors.Is(err, ErrSendBufferFull) {
			return
		}
		s.logFailure(ctx, EventMessagePage, err)
		s.reply(EventMessagePage, ResponseError{Error: messagePageError(err)})
	}
}

func (s *Session) handleNewMessage(ctx context.Context, f Frame) {
	var d NewMessageData
	if err := decodeData(f.Data, &d); err != nil {
		s.replyError(sendMessageError(err))
		return
	}

	res, err := s.server.chat.SendMessage(ctx, s.user.ID, d.Receiver, d.Payload())
	if err != nil {
		s.logFailure(ctx, EventNewMessage, err)
		s.replyError(sendMessageError(err))
		return
	}

	if res.Conversation != nil {
		s.server.dispatcher.PushMessage(ctx, res.Conversation)
	}
	s.server.dispatcher.RefreshLists(ctx, s.user.ID, res.ReceiverID)
}

func (s *Session) handleSeen(ctx context.Context, f Frame) {
	counterpart, err := decodeID(f.Data)
	if err != nil {
		s.replyError(seenError(err))
		return
	}

	res, err := s.server.chat.MarkSeen(ctx, s.user.ID, counterpart)
	if err != nil {
		s.logFailure(ctx, EventSeen, err)
		if errors.Is(err, common.ErrConversationNotFound) {
			s.reply(EventMessagesSeen, ResponseError{Error: seenError(err)})
			return
		}
		s.replyError(seenError(err))
		return
	}

	if res.Flipped == 0 {
		return
	}

	s.server.dispatcher.PushSeen(ctx, res.CounterpartID, res.ConversationID, s.user.ID)
	s.server.dispatcher.RefreshLists(ctx, s.user.ID, res.CounterpartID)
}

func (s *Session) handleUploadURL(ctx context.Context, f Frame) {
	var d UploadURLData
	if err := decodeData(f.Data, &d); err != nil {
		s.replyError(uploadError(err))
		return
	}

	ticket, err := s.server.media.UploadURL(ctx, s.user.ID, d.Kind, d.ContentType)
	if err != nil {
		s.logFailure(ctx, EventUploadURL, err)
		s.replyError(uploadError(err))
		return
	}

	s.reply(EventUploadURL, ticket)
}

func (s *Session) reply(event string, data any) {
	payload, err := Encode(event, data)
	if err != nil {
		s.logger.Error(context.Background(), "encode reply", "event", event, "error", err)
		return
	}
	_ = s.conn.Send(payload)
}

func (s *Session) replyError(message string) {
	s.reply(EventError, ErrorData{Message: message})
}

func (s *Session) logFailure(ctx context.Context, event string, err error) {
	if isClientError(err) {
		s.logger.Info(ctx, "event rejected", "event", event, "error", err)
		return
	}
	s.logger.Error(ctx, "event failed", "event", event, "error", err)
}
