package usecase

import (
	"context"
	"errors"
	"strings"

	"chatbot-agent/internal/domain"
)

const publicIdentityPrefix = "public_user_for_chatbot_"

type access struct {
	// tenant scopes retrieval to the chatbot owner's collection.
	tenant          string
	historyIdentity string
	scope           []string
	systemPrompt    string
}

// PublicIdentity is the history identity shared by anonymous users of a chatbot.
func PublicIdentity(chatbotID string) string {
	return publicIdentityPrefix + strings.TrimSpace(chatbotID)
}

func (s *ChatService) resolveAccess(ctx context.Context, in ChatInput) (access, error) {
	chatbotID := strings.TrimSpace(in.ChatbotID)
	caller := strings.TrimSpace(in.CallerID)
	if !in.Public && caller == "" {
		return access{}, newError(ErrorUnauthorized, "missing_caller", nil)
	}

	profile, err := s.deps.Chatbots.Resolve(ctx, chatbotID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return access{}, newError(ErrorNotFound, "chatbot_not_found", err)
		}
		return access{}, newError(ErrorStorage, "chatbot_lookup_error", err)
	}
	if strings.TrimSpace(profile.OwnerID) == "" {
		return access{}, newError(ErrorInternal, "chatbot_missing_owner", nil)
	}

	a := access{
		tenant:       profile.OwnerID,
		scope:        profile.DocumentScope(),
		systemPrompt: profile.SystemPrompt,
	}
	if in.Public {
		a.historyIdentity = PublicIdentity(chatbotID)
		return a, nil
	}
	if profile.OwnerID != caller {
		// Indistinguishable from an unknown chatbot.
		s.log.Warn("chat access denied", "chatbot_id", chatbotID, "caller", caller)
		return access{}, newError(ErrorNotFound, "chatbot_not_found", nil)
	}
	a.historyIdentity = caller
	return a, nil
}
