package domain

import "strings"

// ChatbotProfile is the read-only configuration of a chatbot owned by a user.
type ChatbotProfile struct {
	ID             string
	Title          string
	WelcomeMessage string
	SystemPrompt   string
	AvatarURL      string
	UserIconURL    string
	BubbleIconURL  string
	DocumentID     string
	OwnerID        string
}

// DocumentScope returns the document ids this chatbot may retrieve from.
// A chatbot without a trained document has an empty scope.
func (p ChatbotProfile) DocumentScope() []string {
	id := strings.TrimSpace(p.DocumentID)
	if id == "" {
		return []string{}
	}
	return []string{id}
}
