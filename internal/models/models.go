package models

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jinzhu/copier"
)

var (
	ErrNotFound = errors.New("not found")
)

// Delivery is the client-side delivery state of a message. The zero
// value means the message came from the server and needs no tracking.
type Delivery string

const (
	// DeliveryPending marks a locally synthesized placeholder shown
	// immediately on send, before the server confirms it.
	DeliveryPending Delivery = "pending"
	// DeliveryConfirmed marks a message the server has acknowledged,
	// either via the send response or via a pushed copy.
	DeliveryConfirmed Delivery = "confirmed"
	// DeliveryFailed marks a placeholder whose send request errored.
	// The entry is retained so the user keeps the drafted text.
	DeliveryFailed Delivery = "failed"
)

// User represents a user in the system.
type User struct {
	ID          string    `json:"id"`
	Email       string    `json:"email,omitempty"`
	Username    string    `json:"username"`
	DisplayName string    `json:"displayName,omitempty"`
	IsOnline    bool      `json:"isOnline"`
	LastSeen    time.Time `json:"lastSeen"`
}

// DisplayLabel returns the name to show for the user: display name
// first, then username, then the raw id.
func (u User) DisplayLabel() string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	if u.Username != "" {
		return u.Username
	}
	return u.ID
}

// Chat represents a chat conversation.
type Chat struct {
	ID      string `json:"id"`
	Name    string `json:"name,omitempty"`
	Members []User `json:"members,omitempty"`

	// Interlocutor is the other participant of a 1:1 chat. It is an
	// embedded snapshot, not a live reference: presence updates must be
	// propagated into it explicitly.
	Interlocutor *User `json:"interlocutor,omitempty"`

	LastMessage     *Message  `json:"lastMessage,omitempty"`
	LastMessageText string    `json:"lastMessageText,omitempty"`
	LastMessageDate time.Time `json:"lastMessageDate"`
	UnreadCount     int       `json:"unreadCount"`
}

// EmbedInterlocutor copies the member that is not the current user into
// Interlocutor. A chat that already carries an interlocutor snapshot
// from the server is left as is.
func (c *Chat) EmbedInterlocutor(currentUserID string) {
	if c.Interlocutor != nil {
		return
	}
	for i := range c.Members {
		if c.Members[i].ID == currentUserID {
			continue
		}
		snap := &User{}
		if err := copier.CopyWithOption(snap, &c.Members[i], copier.Option{DeepCopy: true}); err != nil {
			continue
		}
		c.Interlocutor = snap
		return
	}
}

// HasInterlocutor reports whether the chat is a 1:1 chat with the given
// user.
func (c *Chat) HasInterlocutor(userID string) bool {
	return c.Interlocutor != nil && c.Interlocutor.ID == userID
}

// DisplayName returns the chat name, falling back to the interlocutor
// label for unnamed 1:1 chats.
func (c *Chat) DisplayName() string {
	if c.Name != "" {
		return c.Name
	}
	if c.Interlocutor != nil {
		return c.Interlocutor.DisplayLabel()
	}
	return c.ID
}

type AttachmentType string

const (
	AttachmentTypeImage AttachmentType = "image"
	AttachmentTypeFile  AttachmentType = "file"
)

type Attachment struct {
	Type     AttachmentType `json:"type"`
	Name     string         `json:"name"`
	MimeType string         `json:"mimeType"`
	FileID   string         `json:"fileId"`
}

// Message represents a chat message. ID is the server id; a message
// that only exists locally has an empty ID and a LocalToken instead.
type Message struct {
	ID          string       `json:"id,omitempty"`
	ChatID      string       `json:"chatId"`
	UserID      string       `json:"userId"`
	Text        string       `json:"text"`
	CreatedAt   time.Time    `json:"createdAt"`
	IsRead      bool         `json:"isRead,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`

	Delivery   Delivery `json:"delivery,omitempty"`
	LocalToken string   `json:"-"`
	FailReason string   `json:"-"`
}

// IsPending reports whether the message is a local placeholder still
// waiting for server confirmation.
func (m Message) IsPending() bool {
	return m.Delivery == DeliveryPending
}

func (m Message) IsFailed() bool {
	return m.Delivery == DeliveryFailed
}

// NewPendingMessage builds the optimistic placeholder inserted at send
// time. The local token identifies the entry for failure marking; it is
// never sent upstream.
func NewPendingMessage(chatID, userID, text string, attachments []Attachment, at time.Time) Message {
	return Message{
		ChatID:      chatID,
		UserID:      userID,
		Text:        text,
		CreatedAt:   at,
		Attachments: attachments,
		Delivery:    DeliveryPending,
		LocalToken:  uuid.NewString(),
	}
}
