package usecase

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"chatbot-agent/internal/domain"
)

func TestDecodeIntent(t *testing.T) {
	cases := map[string]Intent{
		"GREETING_OR_SMALLTALK":       IntentSmallTalk,
		"  greeting_or_smalltalk\n":   IntentSmallTalk,
		"**GREETING_OR_SMALLTALK**":   IntentSmallTalk,
		"DOCUMENT_QUESTION":           IntentInformationSeeking,
		"":                            IntentInformationSeeking,
		"I think this is small talk.": IntentInformationSeeking,
	}
	for reply, want := range cases {
		require.Equal(t, want, decodeIntent(reply), reply)
	}
	require.Equal(t, "SMALL_TALK", IntentSmallTalk.String())
	require.Equal(t, "INFORMATION_SEEKING", IntentInformationSeeking.String())
}

func TestDecodeRewrite(t *testing.T) {
	require.False(t, decodeRewrite("").IsRewritten())
	require.False(t, decodeRewrite("  NO_REPHRASE_NEEDED \n").IsRewritten())
	require.False(t, decodeRewrite(`"NO_REPHRASE_NEEDED"`).IsRewritten())
	require.False(t, decodeRewrite("NO_REPHRASE_NEEDED.").IsRewritten())
	require.False(t, decodeRewrite("**NO_REPHRASE_NEEDED**").IsRewritten())
	require.False(t, decodeRewrite("Output: NO_REPHRASE_NEEDED").IsRewritten())

	rw := decodeRewrite("  What are the features of Selenium?  ")
	require.True(t, rw.IsRewritten())
	require.Equal(t, "What are the features of Selenium?", rw.Resolve("what are its features?"))
	require.Equal(t, "original", Unchanged().Resolve("original"))
}

func TestLanguageName(t *testing.T) {
	cases := map[string]string{
		"en":    "English",
		"fr":    "French",
		"de":    "German",
		"es":    "Spanish",
		"pt-BR": "Portuguese",
		"zh":    "Chinese",
		"":      "English",
		"??":    "English",
	}
	for code, want := range cases {
		require.Equal(t, want, languageName(code), code)
	}
}

func TestBuildSources(t *testing.T) {
	chunks := []domain.RetrievedChunk{
		{DocumentID: "doc-A", Page: 1, Label: "1", Text: "alpha", Score: 0.5},
		{DocumentID: "doc-A", Page: 2, Label: "ii", Text: "beta", Score: 0.4},
	}

	got := buildSources(chunks, "Alpha and beta.", defaultNotFoundPhrases)
	require.Equal(t, []domain.Source{
		{DocumentID: "doc-A", Page: 1, Label: "1", Text: "alpha"},
		{DocumentID: "doc-A", Page: 2, Label: "ii", Text: "beta"},
	}, got)

	got = buildSources(chunks, "The document DOES NOT CONTAIN that.", defaultNotFoundPhrases)
	require.NotNil(t, got)
	require.Empty(t, got)

	got = buildSources(nil, "Alpha.", defaultNotFoundPhrases)
	require.NotNil(t, got)
	require.Empty(t, got)
}

func TestFormatRecent_NewestFirstAndBounded(t *testing.T) {
	var history []domain.Turn
	for _, text := range []string{"t1", "t2", "t3", "t4", "t5", "t6", "t7"} {
		history = append(history, domain.Turn{Role: domain.RoleUser, Text: text})
	}
	got := formatRecent(history, func(t domain.Turn) string { return t.Text })
	require.Equal(t, "t7\nt6\nt5\nt4\nt3", got)
	require.Equal(t, "(none)", formatRecent(nil, func(t domain.Turn) string { return t.Text }))
}

func TestBuildIntentPrompt_RendersRolesNewestFirst(t *testing.T) {
	prompt := buildIntentPrompt("thanks!", []domain.Turn{
		{Role: domain.RoleUser, Text: "What is RAG?"},
		{Role: domain.RoleAssistant, Text: "Retrieval-augmented generation."},
	})
	require.True(t, strings.HasPrefix(prompt, "Classify the user's intent"))
	require.Contains(t, prompt, "assistant: Retrieval-augmented generation.\nuser: What is RAG?")
	require.Contains(t, prompt, `User's Last Message: "thanks!"`)
	require.True(t, strings.HasSuffix(prompt, "Category:"))
}

func TestBuildRewritePrompt_NamesSentinel(t *testing.T) {
	prompt := buildRewritePrompt("who built it?", []domain.Turn{{Role: domain.RoleUser, Text: "Tell me about SafePulse."}})
	require.Contains(t, prompt, "- Tell me about SafePulse.")
	require.Contains(t, prompt, `Respond with ONLY the rewritten query OR the text "NO_REPHRASE_NEEDED".`)
}

func TestBuildSynthesisMessages_DefaultsSystemPrompt(t *testing.T) {
	msgs := buildSynthesisMessages(synthesisInput{
		languageName: "Spanish",
		query:        "¿Qué es RAG?",
		chunks:       []domain.RetrievedChunk{{DocumentID: "doc-A", Page: 7, Text: " texto "}},
	})
	require.Len(t, msgs, 3)
	require.Equal(t, domain.ChatMessage{Role: "system", Content: defaultSystemPrompt}, msgs[0])
	require.Equal(t, "Document Context:\n\n[Source: doc-A p.7]\ntexto", msgs[1].Content)
	require.Equal(t, domain.ChatMessage{Role: "user", Content: "Answer in Spanish:\n¿Qué es RAG?"}, msgs[2])
}

func TestState_String(t *testing.T) {
	require.Equal(t, "START", stateStart.String())
	require.Equal(t, "NO_CONTEXT_RESPONSE", stateNoContextResponse.String())
	require.Equal(t, "DONE", stateDone.String())
	require.Equal(t, "state(99)", state(99).String())
}

func TestTransitions_CoverEveryNonTerminalState(t *testing.T) {
	for st := stateStart; st < stateDone; st++ {
		_, ok := transitions[st]
		require.True(t, ok, st.String())
	}
	_, ok := transitions[stateDone]
	require.False(t, ok)
}

func TestPublicIdentity(t *testing.T) {
	require.Equal(t, "public_user_for_chatbot_bot-1", PublicIdentity(" bot-1 "))
}
