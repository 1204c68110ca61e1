package usecase

import (
	"context"
	"fmt"
	"strings"
)

const (
	paramOpenAIModel     = "/config/openai_model"
	paramEmbeddingModel  = "/config/embedding_model"
	paramNotFoundPhrases = "/config/not_found_phrases"
)

// defaultNotFoundPhrases mark answers that decline to answer from the document.
var defaultNotFoundPhrases = []string{
	"couldn't find",
	"could not find",
	"not in the document",
	"does not provide",
	"does not contain",
	"no information on",
	"unable to find",
	"i'm sorry, but",
	"i cannot answer",
	"without more context",
}

type runtimeConfig struct {
	openAIModel     string
	embeddingModel  string
	notFoundPhrases []string
}

func (s *ChatService) ensureConfig(ctx context.Context) error {
	s.cacheMu.RLock()
	if s.cacheLoaded {
		s.cacheMu.RUnlock()
		return nil
	}
	s.cacheMu.RUnlock()

	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	if s.cacheLoaded {
		return nil
	}

	cfg, err := s.loadSSMParams(ctx)
	if err != nil {
		return err
	}
	s.cfg = cfg
	s.cacheLoaded = true
	return nil
}

func (s *ChatService) config() runtimeConfig {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()
	return s.cfg
}

func (s *ChatService) loadSSMParams(ctx context.Context) (runtimeConfig, error) {
	modelName := s.paramPrefix + paramOpenAIModel
	embeddingName := s.paramPrefix + paramEmbeddingModel
	phrasesName := s.paramPrefix + paramNotFoundPhrases

	vals, err := s.deps.Params.GetParameters(ctx, []string{modelName, embeddingName, phrasesName})
	if err != nil {
		return runtimeConfig{}, fmt.Errorf("usecase: load parameters: %w", err)
	}

	cfg := runtimeConfig{
		openAIModel:     strings.TrimSpace(vals[modelName]),
		embeddingModel:  strings.TrimSpace(vals[embeddingName]),
		notFoundPhrases: defaultNotFoundPhrases,
	}
	if cfg.openAIModel == "" {
		return runtimeConfig{}, fmt.Errorf("usecase: load openai model: %s is missing", modelName)
	}
	if cfg.embeddingModel == "" {
		return runtimeConfig{}, fmt.Errorf("usecase: load embedding model: %s is missing", embeddingName)
	}
	if phrases := parsePhrases(vals[phrasesName]); len(phrases) > 0 {
		cfg.notFoundPhrases = phrases
	}
	return cfg, nil
}

func parsePhrases(raw string) []string {
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
			out = append(out, p)
		}
	}
	return out
}
