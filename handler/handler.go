package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"chatbot-agent/internal/domain"
	"chatbot-agent/internal/usecase"
)

const correlationHeader = "X-Correlation-Id"

type ChatUseCase interface {
	Chat(ctx context.Context, in usecase.ChatInput) (usecase.ChatOutput, error)
	History(ctx context.Context, callerID string, limit int) ([]domain.HistoryRecord, error)
}

type Handler struct {
	uc  ChatUseCase
	log *slog.Logger
}

type Option func(*Handler)

func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) {
		if l != nil {
			h.log = l
		}
	}
}

func NewHandler(uc ChatUseCase, opts ...Option) (*Handler, error) {
	if uc == nil {
		return nil, errors.New("handler: use case must not be nil")
	}
	h := &Handler{uc: uc, log: slog.Default()}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

type turnPayload struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Query       string        `json:"query"`
	ChatHistory []turnPayload `json:"chat_history"`
	ChatbotID   string        `json:"chatbot_id"`
	Language    string        `json:"language"`
}

type chatResponse struct {
	Answer  string          `json:"answer"`
	Sources []domain.Source `json:"sources"`
}

type historyItem struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

type historyResponse struct {
	History []historyItem `json:"history"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Handle routes an API Gateway proxy event. Failures are always rendered as
// JSON responses; the returned error is reserved for Lambda runtime faults.
func (h *Handler) Handle(ctx context.Context, event events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	corrID := correlationID(event.Headers)
	log := h.log.With("correlation_id", corrID, "method", event.HTTPMethod, "path", event.Path)

	route := event.HTTPMethod + " " + routePath(event)
	switch route {
	case http.MethodPost + " /chat":
		return h.chat(ctx, log, corrID, event, false), nil
	case http.MethodPost + " /chat/public":
		return h.chat(ctx, log, corrID, event, true), nil
	case http.MethodGet + " /history":
		return h.history(ctx, log, corrID, event), nil
	default:
		log.Warn("no route")
		return jsonResponse(http.StatusNotFound, corrID, errorResponse{Error: string(usecase.ErrorNotFound)}), nil
	}
}

func (h *Handler) chat(ctx context.Context, log *slog.Logger, corrID string, event events.APIGatewayProxyRequest, public bool) events.APIGatewayProxyResponse {
	var req chatRequest
	if err := decodeBody(event, &req); err != nil {
		log.Warn("invalid request body", "err", err)
		return jsonResponse(http.StatusBadRequest, corrID, errorResponse{Error: string(usecase.ErrorInvalidInput)})
	}

	in := usecase.ChatInput{
		Query:     req.Query,
		ChatbotID: req.ChatbotID,
		Language:  req.Language,
		Public:    public,
		History:   make([]domain.Turn, 0, len(req.ChatHistory)),
	}
	if !public {
		in.CallerID = callerID(event)
	}
	for _, t := range req.ChatHistory {
		in.History = append(in.History, domain.Turn{Role: domain.ParseRole(t.Role), Text: t.Content})
	}

	start := time.Now()
	out, err := h.uc.Chat(ctx, in)
	if err != nil {
		return errorResult(log, corrID, err)
	}
	sources := out.Sources
	if sources == nil {
		sources = []domain.Source{}
	}
	log.Info("chat answered", "chatbot_id", req.ChatbotID, "public", public, "duration_ms", time.Since(start).Milliseconds())
	return jsonResponse(http.StatusOK, corrID, chatResponse{Answer: out.Answer, Sources: sources})
}

func (h *Handler) history(ctx context.Context, log *slog.Logger, corrID string, event events.APIGatewayProxyRequest) events.APIGatewayProxyResponse {
	limit := 0
	if raw := strings.TrimSpace(event.QueryStringParameters["limit"]); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			log.Warn("invalid limit", "limit", raw)
			return jsonResponse(http.StatusBadRequest, corrID, errorResponse{Error: string(usecase.ErrorInvalidInput)})
		}
		limit = n
	}

	records, err := h.uc.History(ctx, callerID(event), limit)
	if err != nil {
		return errorResult(log, corrID, err)
	}
	out := historyResponse{History: make([]historyItem, 0, len(records))}
	for _, r := range records {
		out.History = append(out.History, historyItem{Role: string(r.Role), Content: r.Text, CreatedAt: r.CreatedAt})
	}
	return jsonResponse(http.StatusOK, corrID, out)
}

func errorResult(log *slog.Logger, corrID string, err error) events.APIGatewayProxyResponse {
	status, code := statusFor(err)
	var ucErr *usecase.Error
	if errors.As(err, &ucErr) {
		log.Warn("request failed", "code", ucErr.Code, "reason", ucErr.Reason, "status", status, "err", ucErr.Err)
	} else {
		log.Error("request failed", "status", status, "err", err)
	}
	return jsonResponse(status, corrID, errorResponse{Error: string(code)})
}

func statusFor(err error) (int, usecase.ErrorCode) {
	var ucErr *usecase.Error
	if !errors.As(err, &ucErr) {
		return http.StatusInternalServerError, usecase.ErrorInternal
	}
	switch ucErr.Code {
	case usecase.ErrorInvalidInput:
		return http.StatusBadRequest, ucErr.Code
	case usecase.ErrorUnauthorized:
		return http.StatusUnauthorized, ucErr.Code
	case usecase.ErrorNotFound:
		return http.StatusNotFound, ucErr.Code
	case usecase.ErrorRateLimited:
		return http.StatusTooManyRequests, ucErr.Code
	case usecase.ErrorUpstream:
		return http.StatusBadGateway, ucErr.Code
	case usecase.ErrorStorage:
		return http.StatusInternalServerError, ucErr.Code
	default:
		return http.StatusInternalServerError, usecase.ErrorInternal
	}
}

func decodeBody(event events.APIGatewayProxyRequest, v any) error {
	body := []byte(event.Body)
	if event.IsBase64Encoded {
		decoded, err := base64.StdEncoding.DecodeString(event.Body)
		if err != nil {
			return err
		}
		body = decoded
	}
	return json.Unmarshal(body, v)
}

func routePath(event events.APIGatewayProxyRequest) string {
	p := event.Path
	if p == "" {
		p = event.Resource
	}
	if len(p) > 1 {
		p = strings.TrimRight(p, "/")
	}
	return p
}

// callerID reads the authenticated principal set by the API Gateway
// authorizer: Cognito claims first, then a Lambda authorizer principal.
func callerID(event events.APIGatewayProxyRequest) string {
	auth := event.RequestContext.Authorizer
	if auth == nil {
		return ""
	}
	if claims, ok := auth["claims"].(map[string]interface{}); ok {
		if sub, ok := claims["sub"].(string); ok && strings.TrimSpace(sub) != "" {
			return strings.TrimSpace(sub)
		}
	}
	if principal, ok := auth["principalId"].(string); ok {
		return strings.TrimSpace(principal)
	}
	return ""
}

func correlationID(headers map[string]string) string {
	for k, v := range headers {
		if strings.EqualFold(k, correlationHeader) && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return uuid.NewString()
}

func jsonResponse(status int, corrID string, body any) events.APIGatewayProxyResponse {
	b, err := json.Marshal(body)
	if err != nil {
		status = http.StatusInternalServerError
		b = []byte(`{"error":"INTERNAL_ERROR"}`)
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers: map[string]string{
			"Content-Type":    "application/json",
			correlationHeader: corrID,
		},
		Body: string(b),
	}
}
