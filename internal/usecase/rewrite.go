package usecase

import (
	"context"
	"strings"

	"chatbot-agent/internal/domain"
)

const noRephraseSentinel = "NO_REPHRASE_NEEDED"

// Rewrite is the decoded rewriter result: either unchanged or a standalone
// replacement query.
type Rewrite struct {
	rewritten bool
	text      string
}

func Unchanged() Rewrite { return Rewrite{} }

func Rewritten(text string) Rewrite { return Rewrite{rewritten: true, text: text} }

func (r Rewrite) IsRewritten() bool { return r.rewritten }

// Resolve returns the query to use downstream.
func (r Rewrite) Resolve(original string) string {
	if r.rewritten {
		return r.text
	}
	return original
}

// decodeRewrite parses the rewriter reply once at the call boundary. Any reply
// that mentions the sentinel, however decorated, leaves the query unchanged.
func decodeRewrite(reply string) Rewrite {
	text := strings.TrimSpace(reply)
	if text == "" || strings.Contains(text, noRephraseSentinel) {
		return Unchanged()
	}
	return Rewritten(text)
}

// rewriteQuery turns a context-dependent follow-up into a standalone query.
// It calls the model only when there is history to resolve against.
func (s *ChatService) rewriteQuery(ctx context.Context, p *pipelineContext) Rewrite {
	if len(p.history) == 0 {
		return Unchanged()
	}

	ctx, cancel := s.stageContext(ctx)
	defer cancel()

	reply, err := s.deps.LLM.Chat(ctx, p.cfg.openAIModel, []domain.ChatMessage{
		{Role: string(domain.RoleSystem), Content: buildRewritePrompt(p.query, p.history)},
	}, domain.ChatOptions{Temperature: domain.Temperature(0)})
	if err != nil {
		s.log.Warn("query rewrite failed, keeping original query",
			"stage", "rewrite", "identity", p.identity, "err", err)
		return Unchanged()
	}
	rw := decodeRewrite(reply)
	if rw.IsRewritten() {
		s.log.Info("query rewritten", "identity", p.identity, "standalone_query", rw.text)
	}
	return rw
}
