package store

import (
	"context"

	"github.com/jinzhu/copier"
	"go.uber.org/zap"

	"molva/internal/models"
)

// CreateChat asks the remote to create a 1:1 chat and inserts the
// result unless an equivalent chat is already known. Create is
// idempotent: the existing chat is returned when the id, or the
// (currentUser, interlocutor) pair, is already present.
func (s *Store) CreateChat(ctx context.Context, interlocutorID string) (models.Chat, error) {
	s.mu.RLock()
	authed := s.isAuth
	s.mu.RUnlock()
	if !authed {
		return models.Chat{}, ErrNotAuthenticated
	}

	chat, err := s.remote.CreateChat(ctx, interlocutorID)
	if err != nil {
		s.mu.Lock()
		s.lastErr = err.Error()
		s.mu.Unlock()
		return models.Chat{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	stored := s.insertChatLocked(chat)
	out := models.Chat{}
	_ = copier.CopyWithOption(&out, stored, copier.Option{DeepCopy: true})
	return out, nil
}

// AddNewChat inserts a chat that arrived via the push channel, applying
// the same identity check as CreateChat. This guards the race where the
// local create response and the pushed new-chat event both arrive.
func (s *Store) AddNewChat(chat models.Chat) {
	if chat.ID == "" {
		s.log.Debug("dropping chat without id")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.insertChatLocked(chat)
}

// insertChatLocked appends the chat unless a chat with the same id or
// the same interlocutor already exists. It returns the stored entry,
// whether fresh or preexisting. Chat list order is insertion order.
func (s *Store) insertChatLocked(chat models.Chat) *models.Chat {
	if existing := s.findChatLocked(chat.ID); existing != nil {
		return existing
	}
	if s.currentUser != nil {
		chat.EmbedInterlocutor(s.currentUser.ID)
	}
	if chat.Interlocutor != nil {
		for i := range s.chats {
			if s.chats[i].HasInterlocutor(chat.Interlocutor.ID) {
				return &s.chats[i]
			}
		}
	}
	s.chats = append(s.chats, chat)
	return &s.chats[len(s.chats)-1]
}

// AddNewMessage reconciles an incoming message, whether it came from a
// pushed event or from a send response. The same copy may arrive on
// both paths in either order; applying it twice yields the same state
// as applying it once.
//
// Branches, in order:
//  1. no chat id: drop.
//  2. own message matching a recent pending placeholder (same text,
//     within the pending window): server confirmation. Replace the
//     placeholder in place, keep its position.
//  3. known server id: duplicate delivery. Merge fields into the
//     existing entry, no second insertion.
//  4. otherwise: insert in createdAt order.
//
// The unread count moves only on branch 4 and only for messages
// authored by someone else.
func (s *Store) AddNewMessage(m models.Message) {
	if m.ChatID == "" {
		s.log.Debug("dropping message without chat id", zap.String("message_id", m.ID))
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.messages[m.ChatID]
	own := s.currentUser != nil && m.UserID == s.currentUser.ID

	if own {
		for i := range list {
			if !list[i].IsPending() || list[i].Text != m.Text {
				continue
			}
			if s.now().Sub(list[i].CreatedAt) > s.pendingWindow {
				continue
			}
			m.Delivery = models.DeliveryConfirmed
			list[i] = m
			s.messages[m.ChatID] = list
			s.touchChatLocked(m, false)
			return
		}
	}

	if m.ID != "" {
		for i := range list {
			if list[i].ID != m.ID {
				continue
			}
			list[i] = mergeMessage(list[i], m)
			s.messages[m.ChatID] = list
			s.touchChatLocked(m, false)
			return
		}
	}

	if m.Delivery == "" {
		m.Delivery = models.DeliveryConfirmed
	}
	s.messages[m.ChatID] = insertByTime(list, m)
	s.touchChatLocked(m, !own)
}

// SendMessageOfActiveChat sends text to the active chat. A pending
// placeholder is inserted synchronously before the request goes out;
// the confirmed message then flows through AddNewMessage like any other
// arrival, so the sender's own echo is not special-cased. On failure
// the placeholder is retained and flagged, keeping the drafted text
// visible for retry.
func (s *Store) SendMessageOfActiveChat(ctx context.Context, text string, attachments ...models.Attachment) error {
	s.mu.Lock()
	if !s.isAuth || s.currentUser == nil {
		s.mu.Unlock()
		return ErrNotAuthenticated
	}
	if s.activeChatID == "" {
		s.mu.Unlock()
		return ErrNoActiveChat
	}
	chatID := s.activeChatID
	placeholder := models.NewPendingMessage(chatID, s.currentUser.ID, text, attachments, s.now())
	s.messages[chatID] = insertByTime(s.messages[chatID], placeholder)
	s.touchChatLocked(placeholder, false)
	token := placeholder.LocalToken
	s.mu.Unlock()

	confirmed, err := s.remote.SendMessage(ctx, chatID, text, attachments)
	if err != nil {
		s.markFailed(chatID, token, err)
		return err
	}

	s.AddNewMessage(confirmed)
	return nil
}

func (s *Store) markFailed(chatID, token string, cause error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastErr = cause.Error()
	list := s.messages[chatID]
	for i := range list {
		if list[i].LocalToken != token {
			continue
		}
		// The pushed copy may have confirmed the placeholder before the
		// request error surfaced; a confirmed entry stays confirmed.
		if !list[i].IsPending() {
			return
		}
		list[i].Delivery = models.DeliveryFailed
		list[i].FailReason = cause.Error()
		return
	}
}

// UpdateInterlocutorStatus flips the presence flag on every chat whose
// interlocutor snapshot matches, in one atomic update. The active chat
// is resolved out of the same list, so its copy can never disagree.
func (s *Store) UpdateInterlocutorStatus(userID string, isOnline bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.chats {
		it := s.chats[i].Interlocutor
		if it == nil || it.ID != userID {
			continue
		}
		it.IsOnline = isOnline
		if !isOnline {
			it.LastSeen = s.now()
		}
	}
}

// touchChatLocked refreshes the chat's last-message fields when m is
// the newest entry, and bumps the unread count when asked.
func (s *Store) touchChatLocked(m models.Message, countUnread bool) {
	chat := s.findChatLocked(m.ChatID)
	if chat == nil {
		return
	}
	if !m.CreatedAt.Before(chat.LastMessageDate) {
		snap := m
		chat.LastMessage = &snap
		chat.LastMessageText = m.Text
		chat.LastMessageDate = m.CreatedAt
	}
	if countUnread {
		chat.UnreadCount++
	}
}

// mergeMessage folds a redelivered copy into the existing entry,
// preferring the incoming fields but never downgrading a confirmed
// entry back to pending.
func mergeMessage(existing, incoming models.Message) models.Message {
	out := incoming
	if out.Delivery == "" || out.Delivery == models.DeliveryPending {
		out.Delivery = models.DeliveryConfirmed
	}
	if out.LocalToken == "" {
		out.LocalToken = existing.LocalToken
	}
	return out
}

// insertByTime inserts m keeping the list ascending by createdAt, so a
// late-arriving older message lands in its correct slot.
func insertByTime(list []models.Message, m models.Message) []models.Message {
	i := len(list)
	for i > 0 && list[i-1].CreatedAt.After(m.CreatedAt) {
		i--
	}
	list = append(list, models.Message{})
	copy(list[i+1:], list[i:])
	list[i] = m
	return list
}
