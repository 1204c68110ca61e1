package usecase

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"chatbot-agent/internal/domain"
)

const (
	defaultMaxContext   = 20
	defaultMaxQuery     = 2000
	defaultHistoryLimit = 10
	defaultTopK         = 5
	defaultStageTimeout = 15 * time.Second
)

type ParamBatchGetter interface {
	GetParameters(ctx context.Context, names []string) (map[string]string, error)
}

type LLMClient interface {
	Chat(ctx context.Context, model string, messages []domain.ChatMessage, opts domain.ChatOptions) (string, error)
}

type HistoryStore interface {
	Append(ctx context.Context, identity, text string, role domain.Role) error
	Recent(ctx context.Context, identity string, limit int) ([]domain.HistoryRecord, error)
}

type ChatbotResolver interface {
	Resolve(ctx context.Context, chatbotID string) (domain.ChatbotProfile, error)
}

type Retriever interface {
	Retrieve(ctx context.Context, req domain.RetrievalRequest) ([]domain.RetrievedChunk, error)
}

type Translator interface {
	Translate(ctx context.Context, text, target string) (string, error)
}

type LanguageDetector interface {
	Detect(ctx context.Context, text string) (string, error)
}

// Dependencies are the process-lifetime collaborators of a ChatService.
type Dependencies struct {
	Params     ParamBatchGetter
	LLM        LLMClient
	History    HistoryStore
	Chatbots   ChatbotResolver
	Retriever  Retriever
	Translator Translator
	Detector   LanguageDetector
	Logger     *slog.Logger
}

// Options tune request validation and pipeline behavior. Zero values take
// the defaults.
type Options struct {
	ParamPrefix     string
	MaxQueryLength  int
	MaxContextItems int
	HistoryLimit    int
	TopK            int
	StageTimeout    time.Duration
	// ExposeSources returns computed citations to callers. Off by default.
	ExposeSources bool
}

type ChatService struct {
	deps Dependencies
	log  *slog.Logger

	paramPrefix     string
	maxQueryLen     int
	maxContextItems int
	historyLimit    int
	topK            int
	stageTimeout    time.Duration
	exposeSources   bool

	cacheMu     sync.RWMutex
	cacheLoaded bool
	cfg         runtimeConfig
}

type ChatInput struct {
	Query     string
	History   []domain.Turn
	ChatbotID string
	Language  string
	// CallerID is the authenticated principal. Ignored when Public is set.
	CallerID string
	Public   bool
}

type ChatOutput struct {
	Answer  string
	Sources []domain.Source
}

func NewChatService(deps Dependencies, opts Options) (*ChatService, error) {
	switch {
	case deps.Params == nil:
		return nil, errors.New("usecase: param getter must not be nil")
	case deps.LLM == nil:
		return nil, errors.New("usecase: llm client must not be nil")
	case deps.History == nil:
		return nil, errors.New("usecase: history store must not be nil")
	case deps.Chatbots == nil:
		return nil, errors.New("usecase: chatbot resolver must not be nil")
	case deps.Retriever == nil:
		return nil, errors.New("usecase: retriever must not be nil")
	case deps.Translator == nil:
		return nil, errors.New("usecase: translator must not be nil")
	case deps.Detector == nil:
		return nil, errors.New("usecase: language detector must not be nil")
	}
	prefix := strings.TrimRight(strings.TrimSpace(opts.ParamPrefix), "/")
	if prefix == "" {
		return nil, errors.New("usecase: parameter prefix must not be empty")
	}

	s := &ChatService{
		deps:            deps,
		log:             deps.Logger,
		paramPrefix:     prefix,
		maxQueryLen:     orDefault(opts.MaxQueryLength, defaultMaxQuery),
		maxContextItems: orDefault(opts.MaxContextItems, defaultMaxContext),
		historyLimit:    orDefault(opts.HistoryLimit, defaultHistoryLimit),
		topK:            orDefault(opts.TopK, defaultTopK),
		stageTimeout:    opts.StageTimeout,
		exposeSources:   opts.ExposeSources,
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	if s.stageTimeout <= 0 {
		s.stageTimeout = defaultStageTimeout
	}
	return s, nil
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// Chat answers one user message for a chatbot and records the exchange.
func (s *ChatService) Chat(ctx context.Context, in ChatInput) (ChatOutput, error) {
	query := strings.TrimSpace(in.Query)
	if query == "" {
		return ChatOutput{}, newError(ErrorInvalidInput, "empty_query", nil)
	}
	if len(query) > s.maxQueryLen {
		return ChatOutput{}, newError(ErrorInvalidInput, "query_too_long", nil)
	}
	if strings.TrimSpace(in.ChatbotID) == "" {
		return ChatOutput{}, newError(ErrorInvalidInput, "missing_chatbot_id", nil)
	}

	access, err := s.resolveAccess(ctx, in)
	if err != nil {
		return ChatOutput{}, err
	}
	if err := s.ensureConfig(ctx); err != nil {
		return ChatOutput{}, newError(ErrorInternal, "ssm_load_error", err)
	}

	p := &pipelineContext{
		query:        query,
		history:      s.capHistory(in.History),
		languagePref: in.Language,
		scope:        access.scope,
		tenant:       access.tenant,
		identity:     access.historyIdentity,
		systemPrompt: access.systemPrompt,
		cfg:          s.config(),
	}
	if err := s.run(ctx, p); err != nil {
		return ChatOutput{}, err
	}

	sources := []domain.Source{}
	if s.exposeSources {
		sources = p.sources
	}
	return ChatOutput{Answer: p.answer, Sources: sources}, nil
}

// History returns the caller's most recent turns in ascending order.
func (s *ChatService) History(ctx context.Context, callerID string, limit int) ([]domain.HistoryRecord, error) {
	callerID = strings.TrimSpace(callerID)
	if callerID == "" {
		return nil, newError(ErrorUnauthorized, "missing_caller", nil)
	}
	if limit < 0 {
		return nil, newError(ErrorInvalidInput, "invalid_limit", nil)
	}
	if limit == 0 || limit > s.historyLimit {
		limit = s.historyLimit
	}
	records, err := s.deps.History.Recent(ctx, callerID, limit)
	if err != nil {
		return nil, newError(ErrorStorage, "history_read_error", err)
	}
	if records == nil {
		records = []domain.HistoryRecord{}
	}
	return records, nil
}

// capHistory drops empty turns and keeps the newest maxContextItems.
func (s *ChatService) capHistory(turns []domain.Turn) []domain.Turn {
	out := make([]domain.Turn, 0, len(turns))
	for _, t := range turns {
		text := strings.TrimSpace(t.Text)
		if text == "" {
			continue
		}
		out = append(out, domain.Turn{Role: domain.ParseRole(string(t.Role)), Text: text})
	}
	if len(out) > s.maxContextItems {
		out = out[len(out)-s.maxContextItems:]
	}
	return out
}

// stageContext bounds one collaborator call.
func (s *ChatService) stageContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.stageTimeout)
}
