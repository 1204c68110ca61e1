package usecase

import (
	"context"
	"fmt"

	"chatbot-agent/internal/domain"
)

type state int

const (
	stateStart state = iota
	stateIntentClassified
	stateSmallTalkResponse
	stateRewritten
	stateLanguageResolved
	stateRetrieved
	stateNoContextResponse
	stateTranslated
	stateSynthesized
	statePersisted
	stateDone
)

var stateNames = [...]string{
	stateStart:             "START",
	stateIntentClassified:  "INTENT_CLASSIFIED",
	stateSmallTalkResponse: "SMALL_TALK_RESPONSE",
	stateRewritten:         "REWRITTEN",
	stateLanguageResolved:  "LANGUAGE_RESOLVED",
	stateRetrieved:         "RETRIEVED",
	stateNoContextResponse: "NO_CONTEXT_RESPONSE",
	stateTranslated:        "TRANSLATED",
	stateSynthesized:       "SYNTHESIZED",
	statePersisted:         "PERSISTED",
	stateDone:              "DONE",
}

func (st state) String() string {
	if st < 0 || int(st) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(st))
	}
	return stateNames[st]
}

// pipelineContext is the per-request aggregate threaded through the stages.
type pipelineContext struct {
	query        string
	history      []domain.Turn
	languagePref string
	scope        []string
	tenant       string
	identity     string
	systemPrompt string
	cfg          runtimeConfig

	intent       Intent
	standalone   string
	languageCode string
	languageName string
	chunks       []domain.RetrievedChunk
	answer       string
	sources      []domain.Source

	state state
}

// step does the work that leaves the current state and returns the next one.
type step func(s *ChatService, ctx context.Context, p *pipelineContext) (state, error)

var transitions = map[state]step{
	stateStart:             (*ChatService).stepClassify,
	stateIntentClassified:  (*ChatService).stepBranchOnIntent,
	stateSmallTalkResponse: (*ChatService).stepPersist,
	stateRewritten:         (*ChatService).stepResolveLanguage,
	stateLanguageResolved:  (*ChatService).stepRetrieve,
	stateRetrieved:         (*ChatService).stepBranchOnContext,
	stateNoContextResponse: (*ChatService).stepPersist,
	stateTranslated:        (*ChatService).stepSynthesize,
	stateSynthesized:       (*ChatService).stepPersist,
	statePersisted:         (*ChatService).stepFinish,
}

func (s *ChatService) run(ctx context.Context, p *pipelineContext) error {
	p.state = stateStart
	for p.state != stateDone {
		next, ok := transitions[p.state]
		if !ok {
			return newError(ErrorInternal, "pipeline_invalid_state", fmt.Errorf("no transition from %s", p.state))
		}
		to, err := next(s, ctx, p)
		if err != nil {
			s.log.Error("pipeline stage failed", "stage", p.state.String(), "identity", p.identity, "err", err)
			return err
		}
		s.log.Debug("pipeline transition", "from", p.state.String(), "to", to.String(), "identity", p.identity)
		p.state = to
	}
	return nil
}

func (s *ChatService) stepClassify(ctx context.Context, p *pipelineContext) (state, error) {
	p.intent = s.classifyIntent(ctx, p)
	return stateIntentClassified, nil
}

func (s *ChatService) stepBranchOnIntent(ctx context.Context, p *pipelineContext) (state, error) {
	if p.intent == IntentSmallTalk {
		answer, err := s.smallTalk(ctx, p)
		if err != nil {
			return 0, err
		}
		p.answer = answer
		return stateSmallTalkResponse, nil
	}
	p.standalone = s.rewriteQuery(ctx, p).Resolve(p.query)
	return stateRewritten, nil
}

func (s *ChatService) stepResolveLanguage(ctx context.Context, p *pipelineContext) (state, error) {
	p.languageCode, p.languageName = s.resolveLanguage(ctx, p)
	return stateLanguageResolved, nil
}

func (s *ChatService) stepRetrieve(ctx context.Context, p *pipelineContext) (state, error) {
	chunks, err := s.retrieve(ctx, p)
	if err != nil {
		return 0, err
	}
	p.chunks = chunks
	return stateRetrieved, nil
}

func (s *ChatService) stepBranchOnContext(ctx context.Context, p *pipelineContext) (state, error) {
	if len(p.chunks) == 0 {
		p.answer = noContextAnswer(p.query)
		return stateNoContextResponse, nil
	}
	s.translateChunks(ctx, p)
	return stateTranslated, nil
}

func (s *ChatService) stepSynthesize(ctx context.Context, p *pipelineContext) (state, error) {
	answer, err := s.synthesize(ctx, p)
	if err != nil {
		return 0, err
	}
	p.answer = answer
	return stateSynthesized, nil
}

func (s *ChatService) stepPersist(ctx context.Context, p *pipelineContext) (state, error) {
	if err := s.deps.History.Append(ctx, p.identity, p.query, domain.RoleUser); err != nil {
		return 0, newError(ErrorStorage, "history_write_error", err)
	}
	if err := s.deps.History.Append(ctx, p.identity, p.answer, domain.RoleAssistant); err != nil {
		return 0, newError(ErrorStorage, "history_write_error", err)
	}
	return statePersisted, nil
}

func (s *ChatService) stepFinish(_ context.Context, p *pipelineContext) (state, error) {
	p.sources = buildSources(p.chunks, p.answer, p.cfg.notFoundPhrases)
	return stateDone, nil
}

func noContextAnswer(query string) string {
	return fmt.Sprintf("I'm sorry, but I couldn't find any information related to '%s' in the document. Is there anything else I can help you with?", query)
}
