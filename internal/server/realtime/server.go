package realtime

import (
	"context"
	"sync"
	"time"

	"github.com/dmitrijs2005/gophchat/internal/logging"
	"github.com/dmitrijs2005/gophchat/internal/server/config"
	"github.com/dmitrijs2005/gophchat/internal/server/models"
	"github.com/dmitrijs2005/gophchat/internal/server/presence"
	"github.com/dmitrijs2005/gophchat/internal/server/services"
	"github.com/gorilla/websocket"
)

// Verifier resolves the handshake token to a user.
type Verifier interface {
	Verify(ctx context.Context, token string) (*models.User, error)
}

// Media issues upload URLs for attachments.
type Media interface {
	UploadURL(ctx context.Context, userID string, kind services.MediaKind, contentType string) (*services.UploadTicket, error)
}

// Options tunes per-connection behaviour.
type Options struct {
	SendBufferSize  int
	PingPeriod      time.Duration
	WriteWait       time.Duration
	ReadTimeout     time.Duration
	EventsPerSecond float64
	EventBurst      int
}

func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		SendBufferSize:  cfg.SendBufferSize,
		PingPeriod:      cfg.PingPeriod,
		WriteWait:       cfg.WriteWait,
		ReadTimeout:     cfg.ReadTimeout,
		EventsPerSecond: cfg.EventsPerSecond,
		EventBurst:      cfg.EventBurst,
	}
}

// Server owns the presence registry and every live session.
type Server struct {
	verifier   Verifier
	chat       Chat
	media      Media
	presence   *presence.Registry
	dispatcher *Dispatcher
	opts       Options
	logger     logging.Logger

	mu       sync.Mutex
	sessions map[string]*Session
	closed   bool
	wg       sync.WaitGroup
}

func NewServer(verifier Verifier, chat Chat, media Media, opts Options, logger logging.Logger) *Server {
	registry := presence.NewRegistry(encodeOnlineUsers, logger)
	return &Server{
		verifier:   verifier,
		chat:       chat,
		media:      media,
		presence:   registry,
		dispatcher: NewDispatcher(chat, registry, logger),
		opts:       opts,
		logger:     logger.With("module", "realtime"),
		sessions:   make(map[string]*Session),
	}
}

// ServeConn runs one websocket until it closes. token is the credential the
// client presented during the handshake.
func (s *Server) ServeConn(ctx context.Context, ws *websocket.Conn, token string) {
	conn := NewConnection(ws, s.opts.SendBufferSize, s.opts.PingPeriod, s.opts.WriteWait)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		conn.Reject(websocket.CloseGoingAway, "server shutting down")
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	newSession(s, conn, ws).run(ctx, token)
}

// SessionCount returns the number of authenticated sessions.
func (s *Server) SessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Shutdown closes every session and waits for their handlers to return or
// for ctx to expire.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	sessions := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()

	for _, sess := range sessions {
		sess.Close(websocket.CloseGoingAway, "server shutdown")
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) track(sess *Session) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.sessions[sess.conn.ID()] = sess
	return true
}

func (s *Server) untrack(sess *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sess.conn.ID())
}
