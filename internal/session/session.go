// Package session is the command façade: the operations a UI triggers,
// sequenced over the store, the REST client and the push channel
// adapter. It owns the push subscriptions for the lifetime of one
// authenticated session and drops them all at teardown.
package session

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"molva/internal/api"
	"molva/internal/config"
	"molva/internal/directory"
	"molva/internal/models"
	"molva/internal/socket"
	"molva/internal/store"
)

type Session struct {
	log   *zap.Logger
	api   *api.Client
	store *store.Store
	sock  *socket.Adapter
	users *directory.Directory

	mu     sync.Mutex
	subs   []socket.Subscription
	joined string
}

// New wires the client stack from config. The context bounds background
// goroutines (directory cache cleanup); Close releases the rest.
func New(ctx context.Context, cfg *config.Config, log *zap.Logger) (*Session, error) {
	client := api.New(cfg.APIBaseURL, cfg.RequestTimeout, log.Named("api"))

	sock, err := socket.New(socket.Config{
		URL:        cfg.SocketURL,
		WireFormat: cfg.WireFormat,
		Retries:    cfg.SocketRetries,
		RetryDelay: cfg.SocketRetryDelay,
	}, log.Named("socket"))
	if err != nil {
		return nil, errors.Wrap(err, "failed to build push channel adapter")
	}

	s := &Session{
		log:   log,
		api:   client,
		sock:  sock,
		users: directory.New(ctx, client, cfg.UsersCacheTTL, log.Named("directory")),
		store: store.New(store.Config{
			Remote:        client,
			Logger:        log.Named("store"),
			PendingWindow: cfg.PendingWindow,
		}),
	}

	// A dropped push channel degrades to no-live-updates; synchronized
	// state stays as it is.
	sock.OnError(func(err error) {
		log.Warn("push channel error, live updates degraded", zap.Error(err))
	})
	sock.OnStateChange(func(connected bool) {
		s.store.SetCurrentUserOnline(connected)
	})

	return s, nil
}

// Store exposes the read selectors for the UI.
func (s *Session) Store() *store.Store { return s.store }

// Users exposes the cached users directory for the new-chat picker.
func (s *Session) Users() *directory.Directory { return s.users }

func (s *Session) Connected() bool { return s.sock.IsConnected() }

// Login authenticates, then brings the push channel up. The connect
// happens strictly after authentication succeeds: before that there is
// no chat context to attribute pushed events to. A failed connect is
// not a login failure; the session runs degraded until reconnect.
func (s *Session) Login(ctx context.Context, email, password string) error {
	if err := s.store.Login(ctx, email, password); err != nil {
		return err
	}
	s.connectPush(ctx)
	return nil
}

// Register creates the account, then runs the normal login path.
func (s *Session) Register(ctx context.Context, email, password, username, displayName string) error {
	if _, err := s.api.Register(ctx, email, password, username, displayName); err != nil {
		return err
	}
	return s.Login(ctx, email, password)
}

// Logout tears the session down: subscriptions dropped and the channel
// disconnected before the local state reset, so no further pushed event
// can be attributed to a stale session.
func (s *Session) Logout(ctx context.Context) {
	s.sock.Emit(socket.EventUpdateUserStatus, statusPayload{IsOnline: false})

	s.mu.Lock()
	subs := s.subs
	s.subs = nil
	s.joined = ""
	s.mu.Unlock()
	for _, sub := range subs {
		s.sock.Off(sub)
	}
	s.sock.Disconnect()

	s.store.Logout(ctx)
}

// OpenChat activates a chat, announces the switch on the push channel
// and loads its messages. Loading replaces the stored list, flushing
// any stale optimistic entries.
func (s *Session) OpenChat(ctx context.Context, chatID string) error {
	var target *models.Chat
	for _, c := range s.store.Chats() {
		if c.ID == chatID {
			chat := c
			target = &chat
			break
		}
	}
	if target == nil {
		return errors.Wrapf(models.ErrNotFound, "chat %s", chatID)
	}

	s.store.SetActiveChat(*target)

	s.mu.Lock()
	prev := s.joined
	s.joined = chatID
	s.mu.Unlock()
	if prev != "" && prev != chatID {
		s.sock.Emit(socket.EventLeaveChat, chatPayload{ChatID: prev})
	}
	if prev != chatID {
		s.sock.Emit(socket.EventJoinChat, chatPayload{ChatID: chatID})
	}

	_, err := s.store.LoadMessages(ctx, chatID)
	return err
}

// CreateChat creates (or returns the existing) 1:1 chat with the user.
func (s *Session) CreateChat(ctx context.Context, interlocutorID string) (models.Chat, error) {
	return s.store.CreateChat(ctx, interlocutorID)
}

// Send sends text to the active chat through the optimistic path.
func (s *Session) Send(ctx context.Context, text string, attachments ...models.Attachment) error {
	return s.store.SendMessageOfActiveChat(ctx, text, attachments...)
}

// Upload stores a file remotely and returns the attachment descriptor
// to pass to Send.
func (s *Session) Upload(ctx context.Context, name string, data []byte) (models.Attachment, error) {
	return s.api.UploadFile(ctx, name, data)
}

// SendTyping announces the typing state for the active chat. Typing is
// ephemeral UI state; it is emitted, never stored.
func (s *Session) SendTyping(isTyping bool) {
	user := s.store.CurrentUser()
	chat := s.store.ActiveChat()
	if user == nil || chat == nil {
		return
	}
	s.sock.Emit(socket.EventTyping, typingPayload{
		ChatID:   chat.ID,
		UserID:   user.ID,
		IsTyping: isTyping,
	})
}

// Close releases the push channel without touching the remote session.
func (s *Session) Close() {
	s.mu.Lock()
	s.subs = nil
	s.joined = ""
	s.mu.Unlock()
	s.sock.Disconnect()
}

func (s *Session) connectPush(ctx context.Context) {
	if !s.sock.IsConnected() {
		if err := s.sock.Connect(ctx); err != nil {
			s.log.Warn("push channel unavailable, continuing without live updates", zap.Error(err))
			return
		}
	}
	s.subscribe()
	s.sock.Emit(socket.EventUpdateUserStatus, statusPayload{IsOnline: true})
}

func (s *Session) subscribe() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.subs) > 0 {
		return
	}
	s.subs = append(s.subs,
		s.sock.On(socket.EventNewChat, s.handleNewChat),
		s.sock.On(socket.EventNewMessage, s.handleNewMessage),
		s.sock.On(socket.EventUserStatusChanged, s.handleUserStatus),
	)
}

// Pushed payloads missing required identity fields are dropped at this
// boundary; they never crash the store.

func (s *Session) handleNewChat(payload []byte) {
	var chat models.Chat
	if err := json.Unmarshal(payload, &chat); err != nil {
		s.log.Debug("dropping malformed new-chat event", zap.Error(err))
		return
	}
	s.store.AddNewChat(chat)
}

func (s *Session) handleNewMessage(payload []byte) {
	var msg models.Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		s.log.Debug("dropping malformed new-message event", zap.Error(err))
		return
	}
	s.store.AddNewMessage(msg)
}

func (s *Session) handleUserStatus(payload []byte) {
	var ev statusEvent
	if err := json.Unmarshal(payload, &ev); err != nil || ev.UserID == "" {
		s.log.Debug("dropping malformed user-status-changed event", zap.Error(err))
		return
	}
	s.store.UpdateInterlocutorStatus(ev.UserID, ev.IsOnline)
}

type statusPayload struct {
	IsOnline bool `json:"isOnline"`
}

type statusEvent struct {
	UserID   string `json:"userId"`
	IsOnline bool   `json:"isOnline"`
}

type chatPayload struct {
	ChatID string `json:"chatId"`
}

type typingPayload struct {
	ChatID   string `json:"chatId"`
	UserID   string `json:"userId"`
	IsTyping bool   `json:"isTyping"`
}
