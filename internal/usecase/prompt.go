package usecase

import (
	"fmt"
	"strconv"
	"strings"

	"chatbot-agent/internal/domain"
)

const defaultSystemPrompt = "You are a helpful assistant. Answer the user's question using only the provided document context. " +
	"If the context does not contain the answer, say that you couldn't find it in the document."

func buildIntentPrompt(query string, history []domain.Turn) string {
	return strings.Join([]string{
		"Classify the user's intent based on their last message. Respond with ONLY one category:",
		"1.  **" + intentLabelSmallTalk + "**: For simple greetings (hi, hello), thanks, or farewells.",
		"2.  **DOCUMENT_QUESTION**: For any question that seems to be asking for information, assuming it should be answered from the document.",
		"",
		"Conversation History:",
		formatRecent(history, func(t domain.Turn) string { return string(t.Role) + ": " + t.Text }),
		"",
		fmt.Sprintf("User's Last Message: %q", query),
		"",
		"Category:",
	}, "\n")
}

func buildSmallTalkPrompt(query string) string {
	return fmt.Sprintf("You are a friendly AI assistant. The user said: '%s'. "+
		"Respond with a brief, friendly, and helpful greeting or acknowledgment. Keep it to one sentence.", query)
}

func buildRewritePrompt(query string, history []domain.Turn) string {
	return strings.Join([]string{
		"You are an expert conversational assistant. Your task is to determine if the user's last message is a follow-up question that depends on the conversation history.",
		"",
		"Conversation History (most recent first):",
		formatRecent(history, func(t domain.Turn) string { return "- " + t.Text }),
		"",
		fmt.Sprintf("User's Last Message: %q", query),
		"",
		"Your Task:",
		"1.  **Analyze:** Does the user's last message refer to something mentioned earlier in the conversation (e.g. \"it\", \"that\", \"the second one\", \"tell me more\")?",
		"2.  **Rewrite if Necessary:** If the message is a follow-up, rewrite it into a full question by adding the missing context from the history. Make it sound natural.",
		"3.  **No Change if Standalone:** If the message is already a complete, standalone question, respond with " + noRephraseSentinel + ".",
		"",
		"Examples:",
		"- History: \"What is Selenium?\" / Last Message: \"what are its features?\" -> \"What are the features of Selenium?\"",
		"- History: \"Tell me about SafePulse.\" / Last Message: \"who built it?\" -> \"Who built SafePulse?\"",
		"- History: \"What is Selenium?\" / Last Message: \"What is the capital of Germany?\" -> " + noRephraseSentinel,
		"",
		"Respond with ONLY the rewritten query OR the text \"" + noRephraseSentinel + "\".",
	}, "\n")
}

// formatRecent renders the newest promptHistoryTurns turns, newest first.
func formatRecent(history []domain.Turn, line func(domain.Turn) string) string {
	if len(history) == 0 {
		return "(none)"
	}
	start := len(history) - promptHistoryTurns
	if start < 0 {
		start = 0
	}
	recent := history[start:]
	lines := make([]string, 0, len(recent))
	for i := len(recent) - 1; i >= 0; i-- {
		lines = append(lines, line(recent[i]))
	}
	return strings.Join(lines, "\n")
}

type synthesisInput struct {
	systemPrompt string
	languageName string
	query        string
	chunks       []domain.RetrievedChunk
	history      []domain.Turn
}

func buildSynthesisMessages(in synthesisInput) []domain.ChatMessage {
	system := strings.TrimSpace(in.systemPrompt)
	if system == "" {
		system = defaultSystemPrompt
	}
	messages := []domain.ChatMessage{
		{Role: string(domain.RoleSystem), Content: system},
		{Role: string(domain.RoleSystem), Content: buildContextPrompt(in.chunks)},
	}
	for _, t := range in.history {
		role := t.Role
		if role != domain.RoleAssistant {
			role = domain.RoleUser
		}
		messages = append(messages, domain.ChatMessage{Role: string(role), Content: t.Text})
	}
	messages = append(messages, domain.ChatMessage{
		Role:    string(domain.RoleUser),
		Content: fmt.Sprintf("Answer in %s:\n%s", in.languageName, in.query),
	})
	return messages
}

func buildContextPrompt(chunks []domain.RetrievedChunk) string {
	var b strings.Builder
	b.WriteString("Document Context:")
	for _, c := range chunks {
		b.WriteString("\n\n")
		b.WriteString(sourceTag(c))
		b.WriteString("\n")
		b.WriteString(strings.TrimSpace(c.Text))
	}
	return b.String()
}

func sourceTag(c domain.RetrievedChunk) string {
	label := strings.TrimSpace(c.Label)
	if label == "" {
		label = strconv.Itoa(c.Page)
	}
	return fmt.Sprintf("[Source: %s p.%s]", c.DocumentID, label)
}
