// Package testserver is a minimal in-process chat backend used by
// tests: the REST endpoints and the push channel the client stack talks
// to, with hooks to seed state, inject faults and observe emitted
// frames.
package testserver

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"molva/internal/models"
)

// Frame is one envelope received from or pushed to a client.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type account struct {
	user     models.User
	password string
}

type Server struct {
	httpSrv  *httptest.Server
	upgrader websocket.Upgrader

	mu       sync.Mutex
	accounts map[string]*account
	tokens   map[string]string
	chats    []models.Chat
	messages map[string][]models.Message
	conns    map[*conn]struct{}
	received []Frame

	// FailNextSend makes the next message POST answer 500.
	FailNextSend bool
	// RejectLogin makes every login answer 401.
	RejectLogin bool
}

type conn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (c *conn) write(f Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteJSON(f)
}

func New() *Server {
	s := &Server{
		accounts: make(map[string]*account),
		tokens:   make(map[string]string),
		messages: make(map[string][]models.Message),
		conns:    make(map[*conn]struct{}),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/login", s.handleLogin)
	mux.HandleFunc("POST /api/logout", s.handleLogout)
	mux.HandleFunc("POST /api/register", s.handleRegister)
	mux.HandleFunc("GET /api/chats", s.handleListChats)
	mux.HandleFunc("POST /api/chats", s.handleCreateChat)
	mux.HandleFunc("GET /api/chats/{id}/messages", s.handleListMessages)
	mux.HandleFunc("POST /api/chats/{id}/messages", s.handleSendMessage)
	mux.HandleFunc("GET /api/users", s.handleListUsers)
	mux.HandleFunc("POST /api/files", s.handleUpload)
	mux.HandleFunc("GET /socket", s.handleSocket)

	s.httpSrv = httptest.NewServer(mux)
	return s
}

func (s *Server) Close() {
	s.mu.Lock()
	for c := range s.conns {
		_ = c.ws.Close()
	}
	s.mu.Unlock()
	s.httpSrv.Close()
}

func (s *Server) URL() string { return s.httpSrv.URL }

func (s *Server) SocketURL() string {
	return "ws" + strings.TrimPrefix(s.httpSrv.URL, "http") + "/socket"
}

// SeedUser registers an account directly, bypassing the register
// endpoint.
func (s *Server) SeedUser(email, password, username, displayName string) models.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := models.User{
		ID:          uuid.NewString(),
		Email:       email,
		Username:    username,
		DisplayName: displayName,
	}
	s.accounts[u.ID] = &account{user: u, password: password}
	return u
}

// SeedChat creates a chat between two seeded users and returns it.
func (s *Server) SeedChat(a, b models.User) models.Chat {
	s.mu.Lock()
	defer s.mu.Unlock()
	chat := models.Chat{
		ID:      uuid.NewString(),
		Members: []models.User{a, b},
	}
	s.chats = append(s.chats, chat)
	return chat
}

// SeedMessage appends a message to a chat without broadcasting it.
func (s *Server) SeedMessage(chatID, userID, text string, at time.Time) models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := models.Message{
		ID:        uuid.NewString(),
		ChatID:    chatID,
		UserID:    userID,
		Text:      text,
		CreatedAt: at,
	}
	s.messages[chatID] = append(s.messages[chatID], m)
	return m
}

// Push broadcasts an event to every connected client.
func (s *Server) Push(event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		panic(fmt.Sprintf("testserver: marshal push payload: %v", err))
	}
	f := Frame{Event: event, Data: data}

	s.mu.Lock()
	conns := make([]*conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		_ = c.write(f)
	}
}

// Received returns a copy of every frame clients have emitted so far.
func (s *Server) Received() []Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Frame, len(s.received))
	copy(out, s.received)
	return out
}

// WaitFrame polls for an emitted frame with the given event name.
func (s *Server) WaitFrame(event string, timeout time.Duration) (Frame, bool) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		for _, f := range s.Received() {
			if f.Event == event {
				return f, true
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	return Frame{}, false
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.RejectLogin {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	for _, acc := range s.accounts {
		if acc.user.Email == req.Email && acc.password == req.Password {
			token := uuid.NewString()
			s.tokens[token] = acc.user.ID
			http.SetCookie(w, &http.Cookie{Name: "token", Value: token, Path: "/"})
			writeJSON(w, map[string]any{"user": acc.user})
			return
		}
	}
	writeError(w, http.StatusUnauthorized, "invalid credentials")
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if c, err := r.Cookie("token"); err == nil {
		s.mu.Lock()
		delete(s.tokens, c.Value)
		s.mu.Unlock()
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email       string `json:"email"`
		Password    string `json:"password"`
		Username    string `json:"username"`
		DisplayName string `json:"displayName"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, acc := range s.accounts {
		if acc.user.Email == req.Email {
			writeError(w, http.StatusConflict, "email already registered")
			return
		}
	}
	u := models.User{
		ID:          uuid.NewString(),
		Email:       req.Email,
		Username:    req.Username,
		DisplayName: req.DisplayName,
	}
	s.accounts[u.ID] = &account{user: u, password: req.Password}
	writeJSON(w, map[string]any{"user": u})
}

func (s *Server) authed(r *http.Request) (models.User, bool) {
	c, err := r.Cookie("token")
	if err != nil {
		return models.User{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.tokens[c.Value]
	if !ok {
		return models.User{}, false
	}
	acc, ok := s.accounts[id]
	if !ok {
		return models.User{}, false
	}
	return acc.user, true
}

func (s *Server) handleListChats(w http.ResponseWriter, r *http.Request) {
	user, ok := s.authed(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Chat, 0)
	for _, chat := range s.chats {
		for _, m := range chat.Members {
			if m.ID == user.ID {
				out = append(out, chat)
				break
			}
		}
	}
	writeJSON(w, out)
}

func (s *Server) handleCreateChat(w http.ResponseWriter, r *http.Request) {
	user, ok := s.authed(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return
	}
	var req struct {
		UserID string `json:"userId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request")
		return
	}

	s.mu.Lock()
	other, ok := s.accounts[req.UserID]
	if !ok {
		s.mu.Unlock()
		writeError(w, http.StatusNotFound, "user not found")
		return
	}
	for _, chat := range s.chats {
		if hasMember(chat, user.ID) && hasMember(chat, req.UserID) {
			s.mu.Unlock()
			writeJSON(w, chat)
			return
		}
	}
	chat := models.Chat{
		ID:      uuid.NewString(),
		Members: []models.User{user, other.user},
	}
	s.chats = append(s.chats, chat)
	s.mu.Unlock()

	s.Push("new-chat", chat)
	writeJSON(w, chat)
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.authed(r); !ok {
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return
	}
	chatID := r.PathValue("id")

	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.messages[chatID]
	if msgs == nil {
		msgs = []models.Message{}
	}
	writeJSON(w, msgs)
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	user, ok := s.authed(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return
	}
	chatID := r.PathValue("id")
	var req struct {
		Text        string              `json:"text"`
		Attachments []models.Attachment `json:"attachments"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request")
		return
	}

	s.mu.Lock()
	if s.FailNextSend {
		s.FailNextSend = false
		s.mu.Unlock()
		writeError(w, http.StatusInternalServerError, "message rejected")
		return
	}
	m := models.Message{
		ID:          uuid.NewString(),
		ChatID:      chatID,
		UserID:      user.ID,
		Text:        req.Text,
		CreatedAt:   time.Now().UTC(),
		Attachments: req.Attachments,
	}
	s.messages[chatID] = append(s.messages[chatID], m)
	s.mu.Unlock()

	s.Push("new-message", m)
	writeJSON(w, m)
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.authed(r); !ok {
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.User, 0, len(s.accounts))
	for _, acc := range s.accounts {
		out = append(out, acc.user)
	}
	writeJSON(w, out)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.authed(r); !ok {
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return
	}
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "malformed upload")
		return
	}
	writeJSON(w, models.Attachment{FileID: uuid.NewString()})
}

func (s *Server) handleSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c := &conn{ws: ws}
	s.mu.Lock()
	s.conns[c] = struct{}{}
	s.mu.Unlock()

	go func() {
		defer func() {
			s.mu.Lock()
			delete(s.conns, c)
			s.mu.Unlock()
			_ = ws.Close()
		}()
		for {
			var f Frame
			if err := ws.ReadJSON(&f); err != nil {
				return
			}
			s.mu.Lock()
			s.received = append(s.received, f)
			s.mu.Unlock()
		}
	}()
}

func hasMember(chat models.Chat, userID string) bool {
	for _, m := range chat.Members {
		if m.ID == userID {
			return true
		}
	}
	return false
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
