package usecase

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"chatbot-agent/internal/domain"
	"chatbot-agent/internal/repository"
)

const testPrefix = "/prefix"

type mockParams struct {
	vals     map[string]string
	err      error
	failOnce bool
	calls    int
}

func (m *mockParams) GetParameters(_ context.Context, names []string) (map[string]string, error) {
	m.calls++
	if m.failOnce {
		m.failOnce = false
		return nil, errors.New("temporary ssm failure")
	}
	if m.err != nil {
		return nil, m.err
	}
	out := make(map[string]string, len(names))
	for _, n := range names {
		if v, ok := m.vals[n]; ok {
			out[n] = v
		}
	}
	return out, nil
}

func defaultParams() *mockParams {
	return &mockParams{
		vals: map[string]string{
			testPrefix + "/config/openai_model":    "gpt-4o-mini",
			testPrefix + "/config/embedding_model": "text-embedding-3-small",
		},
	}
}

const (
	kindIntent    = "intent"
	kindRewrite   = "rewrite"
	kindSmallTalk = "small_talk"
	kindSynthesis = "synthesis"
)

type llmReply struct {
	text string
	err  error
}

type llmCall struct {
	kind     string
	model    string
	messages []domain.ChatMessage
	opts     domain.ChatOptions
}

// scriptedLLM answers by prompt kind so tests do not depend on call order.
type scriptedLLM struct {
	mu      sync.Mutex
	replies map[string]llmReply
	calls   []llmCall
}

func newScriptedLLM() *scriptedLLM {
	return &scriptedLLM{replies: map[string]llmReply{
		kindIntent:    {text: "DOCUMENT_QUESTION"},
		kindRewrite:   {text: "NO_REPHRASE_NEEDED"},
		kindSmallTalk: {text: "Hello! How can I help you today?"},
		kindSynthesis: {text: "RAG lets the model cite documents."},
	}}
}

func (m *scriptedLLM) reply(kind, text string) { m.replies[kind] = llmReply{text: text} }

func (m *scriptedLLM) fail(kind string, err error) { m.replies[kind] = llmReply{err: err} }

func promptKind(messages []domain.ChatMessage) string {
	if len(messages) == 0 {
		return kindSynthesis
	}
	first := messages[0].Content
	switch {
	case strings.HasPrefix(first, "Classify the user's intent"):
		return kindIntent
	case strings.HasPrefix(first, "You are an expert conversational assistant"):
		return kindRewrite
	case strings.HasPrefix(first, "You are a friendly AI assistant"):
		return kindSmallTalk
	default:
		return kindSynthesis
	}
}

func (m *scriptedLLM) Chat(_ context.Context, model string, messages []domain.ChatMessage, opts domain.ChatOptions) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kind := promptKind(messages)
	m.calls = append(m.calls, llmCall{kind: kind, model: model, messages: messages, opts: opts})
	r := m.replies[kind]
	return r.text, r.err
}

func (m *scriptedLLM) callsOf(kind string) []llmCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []llmCall
	for _, c := range m.calls {
		if c.kind == kind {
			out = append(out, c)
		}
	}
	return out
}

// stubRetriever ignores the requested scope and returns whatever it holds.
type stubRetriever struct {
	chunks []domain.RetrievedChunk
	err    error
	calls  []domain.RetrievalRequest
}

func (s *stubRetriever) Retrieve(_ context.Context, req domain.RetrievalRequest) ([]domain.RetrievedChunk, error) {
	s.calls = append(s.calls, req)
	if s.err != nil {
		return nil, s.err
	}
	out := make([]domain.RetrievedChunk, len(s.chunks))
	copy(out, s.chunks)
	return out, nil
}

type translateCall struct {
	text   string
	target string
}

type mockTranslator struct {
	fn    func(text, target string) (string, error)
	calls []translateCall
}

func (m *mockTranslator) Translate(_ context.Context, text, target string) (string, error) {
	m.calls = append(m.calls, translateCall{text: text, target: target})
	if m.fn != nil {
		return m.fn(text, target)
	}
	return "[" + target + "] " + text, nil
}

type mockDetector struct {
	code  string
	err   error
	calls []string
}

func (m *mockDetector) Detect(_ context.Context, text string) (string, error) {
	m.calls = append(m.calls, text)
	return m.code, m.err
}

type resolverFunc func(ctx context.Context, chatbotID string) (domain.ChatbotProfile, error)

func (f resolverFunc) Resolve(ctx context.Context, chatbotID string) (domain.ChatbotProfile, error) {
	return f(ctx, chatbotID)
}

type failingHistory struct {
	*repository.MemoryHistoryStore
	appendErr error
	recentErr error
}

func (f *failingHistory) Append(ctx context.Context, identity, text string, role domain.Role) error {
	if f.appendErr != nil {
		return f.appendErr
	}
	return f.MemoryHistoryStore.Append(ctx, identity, text, role)
}

func (f *failingHistory) Recent(ctx context.Context, identity string, limit int) ([]domain.HistoryRecord, error) {
	if f.recentErr != nil {
		return nil, f.recentErr
	}
	return f.MemoryHistoryStore.Recent(ctx, identity, limit)
}

type fixture struct {
	params     *mockParams
	llm        *scriptedLLM
	history    *failingHistory
	chatbots   ChatbotResolver
	retriever  *stubRetriever
	translator *mockTranslator
	detector   *mockDetector
}

func newFixture() *fixture {
	return &fixture{
		params:  defaultParams(),
		llm:     newScriptedLLM(),
		history: &failingHistory{MemoryHistoryStore: repository.NewMemoryHistoryStore(10)},
		chatbots: repository.StaticChatbots{
			"bot-1": {ID: "bot-1", OwnerID: "owner-1", DocumentID: "doc-A", SystemPrompt: "Answer briefly."},
		},
		retriever: &stubRetriever{chunks: []domain.RetrievedChunk{
			{DocumentID: "doc-A", Page: 3, Label: "3", Text: "RAG combines retrieval with generation.", Score: 0.9},
		}},
		translator: &mockTranslator{},
		detector:   &mockDetector{code: "en"},
	}
}

func (f *fixture) deps() Dependencies {
	return Dependencies{
		Params:     f.params,
		LLM:        f.llm,
		History:    f.history,
		Chatbots:   f.chatbots,
		Retriever:  f.retriever,
		Translator: f.translator,
		Detector:   f.detector,
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func newTestService(t *testing.T, f *fixture, opts Options) *ChatService {
	t.Helper()
	if opts.ParamPrefix == "" {
		opts.ParamPrefix = testPrefix
	}
	svc, err := NewChatService(f.deps(), opts)
	require.NoError(t, err)
	return svc
}

func ownerInput(query string) ChatInput {
	return ChatInput{Query: query, ChatbotID: "bot-1", CallerID: "owner-1", Language: "en"}
}

func expectChatError(t *testing.T, err error, code ErrorCode, reason string) {
	t.Helper()
	var usecaseErr *Error
	require.ErrorAs(t, err, &usecaseErr)
	require.Equal(t, code, usecaseErr.Code)
	require.Equal(t, reason, usecaseErr.Reason)
}

func lastMessage(messages []domain.ChatMessage) domain.ChatMessage {
	return messages[len(messages)-1]
}

func joinContents(messages []domain.ChatMessage) string {
	parts := make([]string, 0, len(messages))
	for _, m := range messages {
		parts = append(parts, m.Content)
	}
	return strings.Join(parts, "\n")
}
