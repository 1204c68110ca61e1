package usecase

import (
	"context"
	"strings"

	"chatbot-agent/internal/domain"
)

// synthesize generates the grounded answer. It is the one fatal stage of the
// information-seeking path.
func (s *ChatService) synthesize(ctx context.Context, p *pipelineContext) (string, error) {
	ctx, cancel := s.stageContext(ctx)
	defer cancel()

	reply, err := s.deps.LLM.Chat(ctx, p.cfg.openAIModel, buildSynthesisMessages(synthesisInput{
		systemPrompt: p.systemPrompt,
		languageName: p.languageName,
		query:        p.standalone,
		chunks:       p.chunks,
		history:      p.history,
	}), domain.ChatOptions{})
	if err != nil {
		return "", upstreamError("synthesis", err)
	}
	answer := strings.TrimSpace(reply)
	if answer == "" {
		return "", newError(ErrorUpstream, "synthesis_empty_response", nil)
	}
	return answer, nil
}

// buildSources converts chunks to citations unless the answer reads as a
// refusal.
func buildSources(chunks []domain.RetrievedChunk, answer string, notFoundPhrases []string) []domain.Source {
	sources := []domain.Source{}
	if len(chunks) == 0 || isNotFoundAnswer(answer, notFoundPhrases) {
		return sources
	}
	for _, c := range chunks {
		sources = append(sources, c.Source())
	}
	return sources
}

func isNotFoundAnswer(answer string, phrases []string) bool {
	lower := strings.ToLower(answer)
	for _, phrase := range phrases {
		if phrase != "" && strings.Contains(lower, strings.ToLower(phrase)) {
			return true
		}
	}
	return false
}
