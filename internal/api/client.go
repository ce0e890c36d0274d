// Package api is the request/response half of the remote interface:
// a thin REST client carrying session credentials in a cookie jar.
package api

import (
	"context"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"molva/internal/models"
)

// Error is a rejection returned by the remote service. Message carries
// the server's human-readable "error" field verbatim; callers surface
// it unchanged as the store's error state.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return http.StatusText(e.Status)
}

// IsAuthError reports whether err is a credential rejection
// (login/register refused, session expired).
func IsAuthError(err error) bool {
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Status == http.StatusUnauthorized || apiErr.Status == http.StatusForbidden
}

// IsNetworkError reports whether err means the call never completed
// (as opposed to the server answering with a rejection).
func IsNetworkError(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *Error
	return !errors.As(err, &apiErr)
}

type Client struct {
	http *resty.Client
	log  *zap.Logger
}

func New(baseURL string, timeout time.Duration, log *zap.Logger) *Client {
	jar, _ := cookiejar.New(nil)
	return &Client{
		http: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(timeout).
			SetCookieJar(jar),
		log: log,
	}
}

type errorBody struct {
	Message string `json:"error"`
}

type loginResponse struct {
	User  models.User `json:"user"`
	Token string      `json:"token,omitempty"`
}

type registerRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	Username    string `json:"username"`
	DisplayName string `json:"displayName"`
}

// Login authenticates and establishes the cookie session all later
// calls ride on.
func (c *Client) Login(ctx context.Context, email, password string) (models.User, error) {
	var out loginResponse
	var errBody errorBody
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]string{"email": email, "password": password}).
		SetResult(&out).
		SetError(&errBody).
		Post("/api/login")
	if err != nil {
		return models.User{}, errors.Wrap(err, "login request failed")
	}
	if resp.IsError() {
		return models.User{}, &Error{Status: resp.StatusCode(), Message: errBody.Message}
	}
	c.log.Debug("logged in", zap.String("user_id", out.User.ID))
	return out.User, nil
}

// Logout invalidates the session server-side. Local state reset does
// not depend on it succeeding.
func (c *Client) Logout(ctx context.Context) error {
	var errBody errorBody
	resp, err := c.http.R().
		SetContext(ctx).
		SetError(&errBody).
		Post("/api/logout")
	if err != nil {
		return errors.Wrap(err, "logout request failed")
	}
	if resp.IsError() {
		return &Error{Status: resp.StatusCode(), Message: errBody.Message}
	}
	return nil
}

func (c *Client) Register(ctx context.Context, email, password, username, displayName string) (models.User, error) {
	var out loginResponse
	var errBody errorBody
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(registerRequest{Email: email, Password: password, Username: username, DisplayName: displayName}).
		SetResult(&out).
		SetError(&errBody).
		Post("/api/register")
	if err != nil {
		return models.User{}, errors.Wrap(err, "register request failed")
	}
	if resp.IsError() {
		return models.User{}, &Error{Status: resp.StatusCode(), Message: errBody.Message}
	}
	return out.User, nil
}

func (c *Client) ListChats(ctx context.Context) ([]models.Chat, error) {
	var out []models.Chat
	var errBody errorBody
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&out).
		SetError(&errBody).
		Get("/api/chats")
	if err != nil {
		return nil, errors.Wrap(err, "list chats request failed")
	}
	if resp.IsError() {
		return nil, &Error{Status: resp.StatusCode(), Message: errBody.Message}
	}
	return out, nil
}

func (c *Client) CreateChat(ctx context.Context, interlocutorID string) (models.Chat, error) {
	var out models.Chat
	var errBody errorBody
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]string{"userId": interlocutorID}).
		SetResult(&out).
		SetError(&errBody).
		Post("/api/chats")
	if err != nil {
		return models.Chat{}, errors.Wrap(err, "create chat request failed")
	}
	if resp.IsError() {
		return models.Chat{}, &Error{Status: resp.StatusCode(), Message: errBody.Message}
	}
	return out, nil
}

func (c *Client) ListMessages(ctx context.Context, chatID string) ([]models.Message, error) {
	var out []models.Message
	var errBody errorBody
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&out).
		SetError(&errBody).
		Get(fmt.Sprintf("/api/chats/%s/messages", chatID))
	if err != nil {
		return nil, errors.Wrap(err, "list messages request failed")
	}
	if resp.IsError() {
		return nil, &Error{Status: resp.StatusCode(), Message: errBody.Message}
	}
	return out, nil
}

type sendMessageRequest struct {
	Text        string              `json:"text"`
	Attachments []models.Attachment `json:"attachments,omitempty"`
}

func (c *Client) SendMessage(ctx context.Context, chatID, text string, attachments []models.Attachment) (models.Message, error) {
	var out models.Message
	var errBody errorBody
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(sendMessageRequest{Text: text, Attachments: attachments}).
		SetResult(&out).
		SetError(&errBody).
		Post(fmt.Sprintf("/api/chats/%s/messages", chatID))
	if err != nil {
		return models.Message{}, errors.Wrap(err, "send message request failed")
	}
	if resp.IsError() {
		return models.Message{}, &Error{Status: resp.StatusCode(), Message: errBody.Message}
	}
	return out, nil
}

func (c *Client) ListUsers(ctx context.Context) ([]models.User, error) {
	var out []models.User
	var errBody errorBody
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&out).
		SetError(&errBody).
		Get("/api/users")
	if err != nil {
		return nil, errors.Wrap(err, "list users request failed")
	}
	if resp.IsError() {
		return nil, &Error{Status: resp.StatusCode(), Message: errBody.Message}
	}
	return out, nil
}
