package usecase

import (
	"context"
	"strings"

	"chatbot-agent/internal/domain"
)

// Intent is the decoded category of the latest user message.
type Intent int

const (
	IntentInformationSeeking Intent = iota
	IntentSmallTalk
)

func (i Intent) String() string {
	if i == IntentSmallTalk {
		return "SMALL_TALK"
	}
	return "INFORMATION_SEEKING"
}

const (
	intentLabelSmallTalk = "GREETING_OR_SMALLTALK"
	intentMaxTokens      = 20
	promptHistoryTurns   = 5
)

// decodeIntent maps the classifier reply onto an Intent. Anything that does
// not name the small-talk label seeks information.
func decodeIntent(reply string) Intent {
	if strings.Contains(strings.ToUpper(reply), intentLabelSmallTalk) {
		return IntentSmallTalk
	}
	return IntentInformationSeeking
}

// classifyIntent never fails: a broken call falls through to the full pipeline.
func (s *ChatService) classifyIntent(ctx context.Context, p *pipelineContext) Intent {
	ctx, cancel := s.stageContext(ctx)
	defer cancel()

	reply, err := s.deps.LLM.Chat(ctx, p.cfg.openAIModel, []domain.ChatMessage{
		{Role: string(domain.RoleSystem), Content: buildIntentPrompt(p.query, p.history)},
	}, domain.ChatOptions{Temperature: domain.Temperature(0), MaxTokens: intentMaxTokens})
	if err != nil {
		s.log.Warn("intent classification failed, defaulting to information seeking",
			"stage", "intent", "identity", p.identity, "err", err)
		return IntentInformationSeeking
	}
	intent := decodeIntent(reply)
	s.log.Info("intent classified", "intent", intent.String(), "identity", p.identity)
	return intent
}

// smallTalk produces a one-sentence acknowledgment. Failure is fatal.
func (s *ChatService) smallTalk(ctx context.Context, p *pipelineContext) (string, error) {
	ctx, cancel := s.stageContext(ctx)
	defer cancel()

	reply, err := s.deps.LLM.Chat(ctx, p.cfg.openAIModel, []domain.ChatMessage{
		{Role: string(domain.RoleSystem), Content: buildSmallTalkPrompt(p.query)},
	}, domain.ChatOptions{Temperature: domain.Temperature(0.7)})
	if err != nil {
		return "", upstreamError("small_talk", err)
	}
	answer := strings.TrimSpace(reply)
	if answer == "" {
		return "", newError(ErrorUpstream, "small_talk_empty_response", nil)
	}
	return answer, nil
}
