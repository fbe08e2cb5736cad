// Package telegram is a focused Bot API client covering the calls the study
// bot makes.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultBaseURL = "https://api.telegram.org"
	parseModeHTML  = "HTML"
	// MaxMessageLength is the Bot API limit on message text, in characters.
	MaxMessageLength = 4096
)

// TokenSource resolves API tokens by name.
type TokenSource interface {
	Token(ctx context.Context, name string) (string, error)
}

// APIError is a Bot API call that did not return ok.
type APIError struct {
	Method      string
	StatusCode  int
	ErrorCode   int
	Description string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram: %s failed with status %d: %s", e.Method, e.StatusCode, e.Description)
}

func (e *APIError) HTTPStatusCode() int {
	return e.StatusCode
}

type envelope struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	ErrorCode   int             `json:"error_code"`
	Description string          `json:"description"`
}

// Client calls the Telegram Bot API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     TokenSource
	tokenName  string
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// NewClient creates a Client whose bot token is resolved through tokens
// under tokenName on every call.
func NewClient(tokens TokenSource, tokenName string, opts ...Option) (*Client, error) {
	if tokens == nil {
		return nil, errors.New("telegram: token source must not be nil")
	}
	tokenName = strings.TrimSpace(tokenName)
	if tokenName == "" {
		return nil, errors.New("telegram: token name must not be empty")
	}
	c := &Client{
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: 70 * time.Second},
		tokens:     tokens,
		tokenName:  tokenName,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.baseURL == "" {
		c.baseURL = defaultBaseURL
	}
	return c, nil
}

// SendOptions are optional sendMessage parameters.
type SendOptions struct {
	ReplyToMessageID int64
	Keyboard         *InlineKeyboardMarkup
}

type sendMessageRequest struct {
	ChatID           int64                 `json:"chat_id"`
	Text             string                `json:"text"`
	ParseMode        string                `json:"parse_mode"`
	ReplyToMessageID int64                 `json:"reply_to_message_id,omitempty"`
	ReplyMarkup      *InlineKeyboardMarkup `json:"reply_markup,omitempty"`
}

// SendMessage sends HTML-formatted text to chatID.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string, opts SendOptions) (Message, error) {
	var msg Message
	err := c.call(ctx, "sendMessage", sendMessageRequest{
		ChatID:           chatID,
		Text:             text,
		ParseMode:        parseModeHTML,
		ReplyToMessageID: opts.ReplyToMessageID,
		ReplyMarkup:      opts.Keyboard,
	}, &msg)
	return msg, err
}

type editMessageTextRequest struct {
	ChatID      int64                 `json:"chat_id"`
	MessageID   int64                 `json:"message_id"`
	Text        string                `json:"text"`
	ParseMode   string                `json:"parse_mode"`
	ReplyMarkup *InlineKeyboardMarkup `json:"reply_markup,omitempty"`
}

// EditMessageText replaces the text and keyboard of a message sent by the bot.
func (c *Client) EditMessageText(ctx context.Context, chatID, messageID int64, text string, keyboard *InlineKeyboardMarkup) error {
	return c.call(ctx, "editMessageText", editMessageTextRequest{
		ChatID:      chatID,
		MessageID:   messageID,
		Text:        text,
		ParseMode:   parseModeHTML,
		ReplyMarkup: keyboard,
	}, nil)
}

type answerCallbackRequest struct {
	CallbackQueryID string `json:"callback_query_id"`
	Text            string `json:"text,omitempty"`
}

// AnswerCallbackQuery acknowledges a button press, optionally with a toast.
func (c *Client) AnswerCallbackQuery(ctx context.Context, id, text string) error {
	return c.call(ctx, "answerCallbackQuery", answerCallbackRequest{CallbackQueryID: id, Text: text}, nil)
}

type chatRequest struct {
	ChatID int64 `json:"chat_id"`
}

// GetChatAdministrators lists the administrators of a group chat.
func (c *Client) GetChatAdministrators(ctx context.Context, chatID int64) ([]ChatMember, error) {
	var members []ChatMember
	if err := c.call(ctx, "getChatAdministrators", chatRequest{ChatID: chatID}, &members); err != nil {
		return nil, err
	}
	return members, nil
}

type getFileRequest struct {
	FileID string `json:"file_id"`
}

// GetFile resolves a file id into a downloadable path.
func (c *Client) GetFile(ctx context.Context, fileID string) (File, error) {
	var f File
	err := c.call(ctx, "getFile", getFileRequest{FileID: fileID}, &f)
	return f, err
}

// DownloadFile fetches the content at filePath, as returned by GetFile,
// reading at most limit bytes.
func (c *Client) DownloadFile(ctx context.Context, filePath string, limit int64) ([]byte, error) {
	if strings.TrimSpace(filePath) == "" {
		return nil, errors.New("telegram: file path must not be empty")
	}
	token, err := c.tokens.Token(ctx, c.tokenName)
	if err != nil {
		return nil, fmt.Errorf("telegram: resolve bot token: %w", err)
	}
	u := c.baseURL + "/file/bot" + token + "/" + strings.TrimLeft(filePath, "/")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("telegram: create download request: %w", err)
	}
	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("telegram: download failed: %s", redact(err, token))
	}
	defer func() { _ = res.Body.Close() }()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return nil, &APIError{Method: "download", StatusCode: res.StatusCode, Description: http.StatusText(res.StatusCode)}
	}
	buf, err := io.ReadAll(io.LimitReader(res.Body, limit))
	if err != nil {
		return nil, fmt.Errorf("telegram: read download: %w", err)
	}
	return buf, nil
}

type getUpdatesRequest struct {
	Offset         int64    `json:"offset,omitempty"`
	Timeout        int      `json:"timeout"`
	AllowedUpdates []string `json:"allowed_updates"`
}

// GetUpdates long-polls for updates with ids at or above offset.
func (c *Client) GetUpdates(ctx context.Context, offset int64, timeoutSeconds int) ([]Update, error) {
	var updates []Update
	err := c.call(ctx, "getUpdates", getUpdatesRequest{
		Offset:         offset,
		Timeout:        timeoutSeconds,
		AllowedUpdates: []string{"message", "callback_query"},
	}, &updates)
	if err != nil {
		return nil, err
	}
	return updates, nil
}

// DeleteWebhook removes a configured webhook so that GetUpdates can be used.
func (c *Client) DeleteWebhook(ctx context.Context) error {
	return c.call(ctx, "deleteWebhook", struct{}{}, nil)
}

func (c *Client) call(ctx context.Context, method string, payload, out any) error {
	token, err := c.tokens.Token(ctx, c.tokenName)
	if err != nil {
		return fmt.Errorf("telegram: resolve bot token: %w", err)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("telegram: marshal %s: %w", method, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/bot"+token+"/"+method, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("telegram: create %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.httpClient.Do(req)
	if err != nil {
		// The request URL embeds the token.
		return fmt.Errorf("telegram: %s request failed: %s", method, redact(err, token))
	}
	defer func() { _ = res.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("telegram: read %s response: %w", method, err)
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		if res.StatusCode < 200 || res.StatusCode >= 300 {
			return &APIError{Method: method, StatusCode: res.StatusCode, Description: http.StatusText(res.StatusCode)}
		}
		return fmt.Errorf("telegram: decode %s response: %w", method, err)
	}
	if !env.OK || res.StatusCode < 200 || res.StatusCode >= 300 {
		return &APIError{Method: method, StatusCode: res.StatusCode, ErrorCode: env.ErrorCode, Description: env.Description}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return fmt.Errorf("telegram: decode %s result: %w", method, err)
	}
	return nil
}

func redact(err error, token string) string {
	msg := err.Error()
	if token == "" {
		return msg
	}
	msg = strings.ReplaceAll(msg, token, "<token>")
	return strings.ReplaceAll(msg, url.PathEscape(token), "<token>")
}
