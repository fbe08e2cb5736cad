package handler

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"studyroom-bot/internal/dispatch"
	"studyroom-bot/internal/domain"
	"studyroom-bot/internal/integrations/paramstore"
	"studyroom-bot/internal/integrations/telegram"
	"studyroom-bot/internal/usecase"
)

const (
	correlationHeader = "X-Correlation-Id"
	webhookHeader     = "X-Telegram-Bot-Api-Secret-Token"
	adminKeyHeader    = "X-Admin-Key"
	maxBodyBytes      = 1 << 20

	// DefaultUpdateTimeout bounds the processing of one webhook update so the
	// acknowledgement beats the 29 s API Gateway integration limit.
	DefaultUpdateTimeout = 25 * time.Second
)

type EventHandler interface {
	Handle(ctx context.Context, ev usecase.Event) error
}

type AdminService interface {
	ListUsers(ctx context.Context, p usecase.PageRequest) ([]domain.User, error)
	ListRooms(ctx context.Context, p usecase.PageRequest) ([]domain.Room, error)
	ListFiles(ctx context.Context, p usecase.PageRequest) ([]domain.File, error)
	Stats(ctx context.Context) (usecase.Stats, error)
	SetRole(ctx context.Context, userID int64, role string) (domain.User, error)
	DeactivateRoom(ctx context.Context, code string) (domain.Room, error)
}

type SecretSource interface {
	Token(ctx context.Context, name string) (string, error)
}

type Handler struct {
	bot         EventHandler
	admin       AdminService
	secrets     SecretSource
	botUsername string
	timeout     time.Duration
	logger      *slog.Logger
}

type Option func(*Handler)

// WithBotUsername makes commands addressed to other bots in groups ignored.
func WithBotUsername(name string) Option {
	return func(h *Handler) {
		h.botUsername = strings.TrimPrefix(strings.TrimSpace(name), "@")
	}
}

// WithUpdateTimeout replaces DefaultUpdateTimeout. Non-positive values are
// ignored.
func WithUpdateTimeout(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.timeout = d
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

func NewHandler(bot EventHandler, admin AdminService, secrets SecretSource, opts ...Option) (*Handler, error) {
	if bot == nil {
		return nil, errors.New("handler: bot must not be nil")
	}
	if admin == nil {
		return nil, errors.New("handler: admin service must not be nil")
	}
	if secrets == nil {
		return nil, errors.New("handler: secret source must not be nil")
	}
	h := &Handler{bot: bot, admin: admin, secrets: secrets, timeout: DefaultUpdateTimeout, logger: slog.Default()}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

type errorResponse struct {
	Error         string `json:"error"`
	CorrelationID string `json:"correlationId"`
}

type listResponse[T any] struct {
	Items []T `json:"items"`
	Page  int `json:"page"`
	Limit int `json:"limit"`
}

type roleRequest struct {
	Role string `json:"role"`
}

type userView struct {
	UserID          int64     `json:"userId"`
	Username        string    `json:"username,omitempty"`
	FirstName       string    `json:"firstName,omitempty"`
	CurrentRoomCode string    `json:"currentRoomCode,omitempty"`
	Role            string    `json:"role"`
	CreatedAt       time.Time `json:"createdAt"`
}

type roomView struct {
	Code            string    `json:"code"`
	Name            string    `json:"name"`
	Description     string    `json:"description,omitempty"`
	OwnerID         int64     `json:"ownerId"`
	Members         int       `json:"members"`
	LinkedChannelID int64     `json:"linkedChannelId,omitempty"`
	Active          bool      `json:"active"`
	CreatedAt       time.Time `json:"createdAt"`
}

type fileView struct {
	ID          string    `json:"id"`
	Kind        string    `json:"kind"`
	DisplayName string    `json:"displayName"`
	Caption     string    `json:"caption,omitempty"`
	UploaderID  int64     `json:"uploaderId"`
	RoomCode    string    `json:"roomCode"`
	Tags        []string  `json:"tags"`
	AITags      []string  `json:"aiTags"`
	CreatedAt   time.Time `json:"createdAt"`
}

func toUserView(u domain.User) userView {
	return userView{
		UserID:          u.UserID,
		Username:        u.Username,
		FirstName:       u.FirstName,
		CurrentRoomCode: u.CurrentRoomCode,
		Role:            string(u.Role),
		CreatedAt:       u.CreatedAt,
	}
}

func toRoomView(r domain.Room) roomView {
	return roomView{
		Code:            r.Code,
		Name:            r.Name,
		Description:     r.Description,
		OwnerID:         r.OwnerID,
		Members:         len(r.Members),
		LinkedChannelID: r.LinkedChannelID,
		Active:          r.Active,
		CreatedAt:       r.CreatedAt,
	}
}

func toFileView(f domain.File) fileView {
	return fileView{
		ID:          f.ID,
		Kind:        string(f.Kind),
		DisplayName: f.DisplayName,
		Caption:     f.Caption,
		UploaderID:  f.UploaderID,
		RoomCode:    f.RoomCode,
		Tags:        nonNil(f.Tags),
		AITags:      nonNil(f.AITags),
		CreatedAt:   f.CreatedAt,
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func mapSlice[T, V any](in []T, f func(T) V) []V {
	out := make([]V, 0, len(in))
	for _, v := range in {
		out = append(out, f(v))
	}
	return out
}

func (h *Handler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	start := time.Now()
	corrID := headerValue(req.Headers, correlationHeader)
	if corrID == "" {
		corrID = uuid.NewString()
	}
	resp := h.route(ctx, req, corrID)
	if resp.Headers == nil {
		resp.Headers = map[string]string{}
	}
	resp.Headers[correlationHeader] = corrID
	h.logger.Info("request handled",
		"method", req.HTTPMethod,
		"path", req.Path,
		"status", resp.StatusCode,
		"correlation_id", corrID,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return resp, nil
}

func (h *Handler) route(ctx context.Context, req events.APIGatewayProxyRequest, corrID string) events.APIGatewayProxyResponse {
	parts := strings.Split(strings.Trim(req.Path, "/"), "/")
	switch {
	case len(parts) == 1 && parts[0] == "telegram":
		if req.HTTPMethod != http.MethodPost {
			return h.writeError(http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", corrID)
		}
		return h.webhook(ctx, req, corrID)
	case len(parts) >= 2 && parts[0] == "admin":
		if !h.authorized(ctx, req, adminKeyHeader, paramstore.AdminKey, corrID) {
			return h.writeError(http.StatusForbidden, string(usecase.ErrorForbidden), corrID)
		}
		return h.adminRoute(ctx, req, parts[1:], corrID)
	default:
		return h.writeError(http.StatusNotFound, string(usecase.ErrorNotFound), corrID)
	}
}

// webhook handles one channel update. Anything other than a bad secret is
// acknowledged with 200 so the channel does not redeliver it.
func (h *Handler) webhook(ctx context.Context, req events.APIGatewayProxyRequest, corrID string) events.APIGatewayProxyResponse {
	if !h.authorized(ctx, req, webhookHeader, paramstore.WebhookSecret, corrID) {
		return h.writeError(http.StatusUnauthorized, string(usecase.ErrorForbidden), corrID)
	}
	ok := h.writeJSON(http.StatusOK, map[string]bool{"ok": true})
	if len(req.Body) > maxBodyBytes {
		h.logger.Warn("webhook body too large", "correlation_id", corrID, "bytes", len(req.Body))
		return ok
	}
	var u telegram.Update
	if err := json.Unmarshal([]byte(req.Body), &u); err != nil {
		h.logger.Warn("webhook body rejected", "correlation_id", corrID, "err", err)
		return ok
	}
	ev, act := dispatch.ToEvent(u, h.botUsername)
	if !act {
		return ok
	}
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()
	if err := h.bot.Handle(ctx, ev); err != nil {
		code := usecase.CodeOf(err)
		attrs := []any{"correlation_id", corrID, "update_id", u.UpdateID, "user_id", ev.UserID,
			"command", ev.Command, "error_code", code, "err", err}
		if code == usecase.ErrorInternal {
			h.logger.Error("update failed", attrs...)
		} else {
			h.logger.Warn("update rejected", attrs...)
		}
	}
	return ok
}

func (h *Handler) authorized(ctx context.Context, req events.APIGatewayProxyRequest, header, secretName, corrID string) bool {
	got := headerValue(req.Headers, header)
	if got == "" {
		return false
	}
	want, err := h.secrets.Token(ctx, secretName)
	if err != nil {
		h.logger.Error("secret unavailable", "correlation_id", corrID, "name", secretName, "err", err)
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

func (h *Handler) adminRoute(ctx context.Context, req events.APIGatewayProxyRequest, parts []string, corrID string) events.APIGatewayProxyResponse {
	method := req.HTTPMethod
	switch {
	case method == http.MethodGet && len(parts) == 1 && parts[0] == "users":
		p := pageRequest(req)
		users, err := h.admin.ListUsers(ctx, p)
		if err != nil {
			return h.fromError(err, corrID)
		}
		return h.writeJSON(http.StatusOK, listResponse[userView]{Items: mapSlice(users, toUserView), Page: p.Page, Limit: p.Limit})
	case method == http.MethodGet && len(parts) == 1 && parts[0] == "rooms":
		p := pageRequest(req)
		rooms, err := h.admin.ListRooms(ctx, p)
		if err != nil {
			return h.fromError(err, corrID)
		}
		return h.writeJSON(http.StatusOK, listResponse[roomView]{Items: mapSlice(rooms, toRoomView), Page: p.Page, Limit: p.Limit})
	case method == http.MethodGet && len(parts) == 1 && parts[0] == "files":
		p := pageRequest(req)
		files, err := h.admin.ListFiles(ctx, p)
		if err != nil {
			return h.fromError(err, corrID)
		}
		return h.writeJSON(http.StatusOK, listResponse[fileView]{Items: mapSlice(files, toFileView), Page: p.Page, Limit: p.Limit})
	case method == http.MethodGet && len(parts) == 1 && parts[0] == "stats":
		st, err := h.admin.Stats(ctx)
		if err != nil {
			return h.fromError(err, corrID)
		}
		return h.writeJSON(http.StatusOK, st)
	case method == http.MethodPost && len(parts) == 3 && parts[0] == "users" && parts[2] == "role":
		id, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return h.writeError(http.StatusBadRequest, string(usecase.ErrorValidation), corrID)
		}
		var in roleRequest
		if err := json.Unmarshal([]byte(req.Body), &in); err != nil {
			return h.writeError(http.StatusBadRequest, string(usecase.ErrorValidation), corrID)
		}
		u, err := h.admin.SetRole(ctx, id, in.Role)
		if err != nil {
			return h.fromError(err, corrID)
		}
		return h.writeJSON(http.StatusOK, toUserView(u))
	case method == http.MethodPost && len(parts) == 3 && parts[0] == "rooms" && parts[2] == "deactivate":
		r, err := h.admin.DeactivateRoom(ctx, parts[1])
		if err != nil {
			return h.fromError(err, corrID)
		}
		return h.writeJSON(http.StatusOK, toRoomView(r))
	default:
		return h.writeError(http.StatusNotFound, string(usecase.ErrorNotFound), corrID)
	}
}

func pageRequest(req events.APIGatewayProxyRequest) usecase.PageRequest {
	atoi := func(key string, def int) int {
		n, err := strconv.Atoi(req.QueryStringParameters[key])
		if err != nil || n <= 0 {
			return def
		}
		return n
	}
	return usecase.PageRequest{Page: atoi("page", 1), Limit: min(atoi("limit", 20), 100)}
}

func (h *Handler) fromError(err error, corrID string) events.APIGatewayProxyResponse {
	var ue *usecase.Error
	if !errors.As(err, &ue) {
		h.logger.Error("unexpected admin error", "correlation_id", corrID, "err", err)
		return h.writeError(http.StatusInternalServerError, string(usecase.ErrorInternal), corrID)
	}
	status := statusFor(ue.Code)
	if status >= http.StatusInternalServerError {
		h.logger.Error("admin request failed", "correlation_id", corrID, "code", ue.Code, "reason", ue.Reason, "err", ue.Err)
	}
	return h.writeError(status, string(ue.Code), corrID)
}

func statusFor(code usecase.ErrorCode) int {
	switch code {
	case usecase.ErrorValidation, usecase.ErrorTokenDecode:
		return http.StatusBadRequest
	case usecase.ErrorForbidden:
		return http.StatusForbidden
	case usecase.ErrorNotFound:
		return http.StatusNotFound
	case usecase.ErrorSessionInconsistent:
		return http.StatusConflict
	case usecase.ErrorQuotaExceeded:
		return http.StatusTooManyRequests
	case usecase.ErrorUpstreamDegraded:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(status int, code, corrID string) events.APIGatewayProxyResponse {
	return h.writeJSON(status, errorResponse{Error: code, CorrelationID: corrID})
}

func (h *Handler) writeJSON(status int, v any) events.APIGatewayProxyResponse {
	body, err := json.Marshal(v)
	if err != nil {
		h.logger.Error("response encoding failed", "err", err)
		status = http.StatusInternalServerError
		body = []byte(`{"error":"INTERNAL_ERROR"}`)
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       string(body),
	}
}

func headerValue(headers map[string]string, name string) string {
	if v, ok := headers[name]; ok {
		return strings.TrimSpace(v)
	}
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
