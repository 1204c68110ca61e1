package usecase

import (
	"context"
	"errors"
	"strings"

	"chatbot-agent/internal/domain"
)

// translateChunks rewrites chunk text into the resolved language in place.
// A single failure keeps that chunk's text; an unavailable translator
// restores every chunk and skips the rest.
func (s *ChatService) translateChunks(ctx context.Context, p *pipelineContext) {
	originals := make([]string, len(p.chunks))
	for i := range p.chunks {
		originals[i] = p.chunks[i].Text
	}

	translated := 0
	for i := range p.chunks {
		if strings.TrimSpace(p.chunks[i].Text) == "" {
			continue
		}
		text, err := s.translateOne(ctx, p.chunks[i].Text, p.languageCode)
		if errors.Is(err, domain.ErrTranslatorUnavailable) {
			for j := range p.chunks {
				p.chunks[j].Text = originals[j]
			}
			s.log.Error("translator unavailable, using original context",
				"stage", "translate", "identity", p.identity, "target", p.languageCode, "err", err)
			return
		}
		if err != nil {
			s.log.Warn("chunk translation failed, keeping original text",
				"stage", "translate", "identity", p.identity, "document_id", p.chunks[i].DocumentID, "err", err)
			continue
		}
		p.chunks[i].Text = text
		translated++
	}
	s.log.Info("context translated", "identity", p.identity, "target", p.languageCode,
		"translated", translated, "chunks", len(p.chunks))
}

func (s *ChatService) translateOne(ctx context.Context, text, target string) (string, error) {
	ctx, cancel := s.stageContext(ctx)
	defer cancel()
	return s.deps.Translator.Translate(ctx, text, target)
}
