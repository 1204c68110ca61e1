package usecase

import (
	"context"

	"chatbot-agent/internal/domain"
)

// retrieve fetches chunks for the standalone query and drops anything outside
// the chatbot's document scope, whatever the collaborator returned.
func (s *ChatService) retrieve(ctx context.Context, p *pipelineContext) ([]domain.RetrievedChunk, error) {
	ctx, cancel := s.stageContext(ctx)
	defer cancel()

	chunks, err := s.deps.Retriever.Retrieve(ctx, domain.RetrievalRequest{
		Tenant:         p.tenant,
		Query:          p.standalone,
		DocumentIDs:    p.scope,
		TopK:           s.topK,
		EmbeddingModel: p.cfg.embeddingModel,
	})
	if err != nil {
		return nil, upstreamError("retrieval", err)
	}
	return s.filterScope(p, chunks), nil
}

func (s *ChatService) filterScope(p *pipelineContext, chunks []domain.RetrievedChunk) []domain.RetrievedChunk {
	allowed := make(map[string]struct{}, len(p.scope))
	for _, id := range p.scope {
		allowed[id] = struct{}{}
	}

	kept := make([]domain.RetrievedChunk, 0, len(chunks))
	for _, c := range chunks {
		if _, ok := allowed[c.DocumentID]; !ok {
			s.log.Warn("dropping out-of-scope chunk",
				"stage", "retrieval", "identity", p.identity, "document_id", c.DocumentID)
			continue
		}
		kept = append(kept, c)
	}
	return kept
}
