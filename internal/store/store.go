// Package store is the reconciliation engine of the client. It owns the
// authoritative in-memory state for the session, chats and messages,
// applies every mutation through its own operations, and exposes read
// selectors that return copies.
//
// Two unordered input streams feed it: request/response call results and
// pushed events. The store never assumes arrival order; the message
// reconciliation in AddNewMessage makes their interleaving
// deterministic and idempotent.
package store

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/jinzhu/copier"
	"go.uber.org/zap"

	"molva/internal/models"
)

var (
	ErrNoActiveChat     = errors.New("no active chat")
	ErrNotAuthenticated = errors.New("not authenticated")
)

// Remote is the request/response half of the backend as the store needs
// it. *api.Client satisfies it.
type Remote interface {
	Login(ctx context.Context, email, password string) (models.User, error)
	Logout(ctx context.Context) error
	ListChats(ctx context.Context) ([]models.Chat, error)
	CreateChat(ctx context.Context, interlocutorID string) (models.Chat, error)
	ListMessages(ctx context.Context, chatID string) ([]models.Message, error)
	SendMessage(ctx context.Context, chatID, text string, attachments []models.Attachment) (models.Message, error)
}

type Config struct {
	Remote Remote
	Logger *zap.Logger
	// PendingWindow is the recency window for matching an optimistic
	// placeholder to its server confirmation.
	PendingWindow time.Duration
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Store is the single writer of chat/message/session state. All state
// transitions happen under its lock; remote calls are made outside it
// so the UI stays responsive while requests are in flight.
type Store struct {
	remote        Remote
	log           *zap.Logger
	pendingWindow time.Duration
	now           func() time.Time

	mu           sync.RWMutex
	currentUser  *models.User
	isAuth       bool
	chats        []models.Chat
	activeChatID string
	messages     map[string][]models.Message
	isLoading    bool
	lastErr      string
}

func New(cfg Config) *Store {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.PendingWindow <= 0 {
		cfg.PendingWindow = 5 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Store{
		remote:        cfg.Remote,
		log:           cfg.Logger,
		pendingWindow: cfg.PendingWindow,
		now:           cfg.Now,
		messages:      make(map[string][]models.Message),
	}
}

// Login authenticates and loads the chat list, committing both in one
// update. Nothing is partially applied: any failure rolls back to the
// signed-out state and records the error.
func (s *Store) Login(ctx context.Context, email, password string) error {
	s.mu.Lock()
	s.isLoading = true
	s.lastErr = ""
	s.mu.Unlock()

	user, err := s.remote.Login(ctx, email, password)
	if err != nil {
		s.failLogin(err)
		return err
	}

	chats, err := s.remote.ListChats(ctx)
	if err != nil {
		s.failLogin(err)
		return err
	}

	for i := range chats {
		chats[i].EmbedInterlocutor(user.ID)
	}

	s.mu.Lock()
	s.currentUser = &user
	s.isAuth = true
	s.chats = chats
	s.activeChatID = ""
	s.messages = make(map[string][]models.Message)
	s.isLoading = false
	s.lastErr = ""
	s.mu.Unlock()

	s.log.Info("logged in", zap.String("user_id", user.ID), zap.Int("chats", len(chats)))
	return nil
}

func (s *Store) failLogin(err error) {
	s.mu.Lock()
	s.currentUser = nil
	s.isAuth = false
	s.chats = nil
	s.isLoading = false
	s.lastErr = err.Error()
	s.mu.Unlock()
}

// Logout clears the session. The remote call is best effort: its
// failure is logged, never allowed to block the local reset.
func (s *Store) Logout(ctx context.Context) {
	if err := s.remote.Logout(ctx); err != nil {
		s.log.Warn("remote logout failed", zap.Error(err))
	}

	s.mu.Lock()
	s.currentUser = nil
	s.isAuth = false
	s.chats = nil
	s.activeChatID = ""
	s.messages = make(map[string][]models.Message)
	s.isLoading = false
	s.lastErr = ""
	s.mu.Unlock()
}

// SetActiveChat marks the chat as active. It does not load messages;
// that is a separate explicit step so callers control fetch timing. A
// chat unknown to the store is ignored, keeping the invariant that the
// active chat always references an entry in the chat list.
func (s *Store) SetActiveChat(chat models.Chat) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.findChatLocked(chat.ID) == nil {
		s.log.Debug("ignoring unknown active chat", zap.String("chat_id", chat.ID))
		return
	}
	s.activeChatID = chat.ID
}

// LoadMessages fetches the chat's full message list and replaces the
// stored one. Replacing rather than merging is deliberate: it is the
// synchronization point that discards stale optimistic or duplicate
// entries accumulated before the fetch.
func (s *Store) LoadMessages(ctx context.Context, chatID string) ([]models.Message, error) {
	s.mu.Lock()
	s.isLoading = true
	s.lastErr = ""
	s.mu.Unlock()

	msgs, err := s.remote.ListMessages(ctx, chatID)
	if err != nil {
		s.mu.Lock()
		s.isLoading = false
		s.lastErr = err.Error()
		s.mu.Unlock()
		return nil, err
	}

	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
	})

	s.mu.Lock()
	s.messages[chatID] = msgs
	s.isLoading = false
	s.mu.Unlock()

	return copyMessages(msgs), nil
}

// SetCurrentUserOnline mirrors the push channel state onto the current
// user's own presence flag.
func (s *Store) SetCurrentUserOnline(isOnline bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.currentUser == nil {
		return
	}
	s.currentUser.IsOnline = isOnline
	if !isOnline {
		s.currentUser.LastSeen = s.now()
	}
}

func (s *Store) findChatLocked(chatID string) *models.Chat {
	for i := range s.chats {
		if s.chats[i].ID == chatID {
			return &s.chats[i]
		}
	}
	return nil
}

// Selectors. Each returns a copy; callers never observe or mutate
// internal state directly.

func (s *Store) CurrentUser() *models.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.currentUser == nil {
		return nil
	}
	u := &models.User{}
	_ = copier.CopyWithOption(u, s.currentUser, copier.Option{DeepCopy: true})
	return u
}

func (s *Store) IsAuth() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isAuth
}

func (s *Store) Chats() []models.Chat {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Chat, 0, len(s.chats))
	_ = copier.CopyWithOption(&out, &s.chats, copier.Option{DeepCopy: true})
	return out
}

func (s *Store) ActiveChat() *models.Chat {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.activeChatID == "" {
		return nil
	}
	src := s.findChatLocked(s.activeChatID)
	if src == nil {
		return nil
	}
	c := &models.Chat{}
	_ = copier.CopyWithOption(c, src, copier.Option{DeepCopy: true})
	return c
}

func (s *Store) Messages(chatID string) []models.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyMessages(s.messages[chatID])
}

func (s *Store) IsLoading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isLoading
}

// Err returns the last recorded error text, verbatim as the remote
// reported it, or "" when the last operation succeeded.
func (s *Store) Err() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastErr
}

func copyMessages(src []models.Message) []models.Message {
	if src == nil {
		return nil
	}
	out := make([]models.Message, len(src))
	copy(out, src)
	return out
}
