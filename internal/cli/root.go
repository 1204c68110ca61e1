// Package cli implements chatctl, a terminal front end that runs the same
// chat pipeline as the Lambda handler.
package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"chatbot-agent/internal/domain"
	"chatbot-agent/internal/usecase"
)

// Service is what the commands need from the chat pipeline.
type Service interface {
	Chat(ctx context.Context, in usecase.ChatInput) (usecase.ChatOutput, error)
	History(ctx context.Context, callerID string, limit int) ([]domain.HistoryRecord, error)
}

// Builder wires a Service for cfg. The returned closer releases stores and
// connections opened for it.
type Builder func(ctx context.Context, cfg Config) (Service, func() error, error)

// Config is the resolved command-line configuration.
type Config struct {
	HistoryDB    string
	HistoryTable string
	ChatbotTable string
	ParamPrefix  string

	// Model and EmbeddingModel, when set, replace parameter store lookups
	// with static values and OpenAIKey.
	Model          string
	EmbeddingModel string
	OpenAIKey      string
	OpenAIBaseURL  string

	MilvusAddress    string
	MilvusCollection string
	MilvusUser       string
	MilvusPassword   string

	HistoryLimit    int
	TopK            int
	StageTimeout    time.Duration
	ExposeSources   bool
	SkipTranslation bool
	LogLevel        string

	// Profile is served when no chatbot table is configured.
	Profile domain.ChatbotProfile
}

// NewRootCommand builds the chatctl command tree. defaults seeds values
// that come from the environment.
func NewRootCommand(defaults Config, build Builder) *cobra.Command {
	cfg := defaults

	root := &cobra.Command{
		Use:           "chatctl",
		Short:         "Run the document chat pipeline from a terminal",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&cfg.HistoryDB, "history-db", cfg.HistoryDB, "SQLite history file, or :memory: for an in-process store (default: DynamoDB --history-table)")
	pf.StringVar(&cfg.HistoryTable, "history-table", cfg.HistoryTable, "DynamoDB history table")
	pf.StringVar(&cfg.ParamPrefix, "param-prefix", cfg.ParamPrefix, "SSM parameter prefix")
	pf.StringVar(&cfg.Model, "model", cfg.Model, "chat model; skips SSM configuration when set")
	pf.StringVar(&cfg.EmbeddingModel, "embedding-model", cfg.EmbeddingModel, "embedding model used with --model")
	pf.StringVar(&cfg.OpenAIBaseURL, "openai-base-url", cfg.OpenAIBaseURL, "OpenAI-compatible API base URL")
	pf.StringVar(&cfg.MilvusAddress, "milvus-address", cfg.MilvusAddress, "Milvus address")
	pf.StringVar(&cfg.MilvusCollection, "milvus-collection", cfg.MilvusCollection, "Milvus collection")
	pf.IntVar(&cfg.HistoryLimit, "history-limit", cfg.HistoryLimit, "turns kept and returned per identity")
	pf.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (debug, info, warn, error)")

	root.AddCommand(newAskCommand(&cfg, build))
	root.AddCommand(newHistoryCommand(&cfg, build))
	return root
}

func newAskCommand(cfg *Config, build Builder) *cobra.Command {
	var (
		chatbotID string
		user      string
		public    bool
		language  string
		prompt    string
		document  string
		timeout   int
		withHist  bool
	)

	cmd := &cobra.Command{
		Use:   "ask QUERY...",
		Short: "Answer one query with a chatbot",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !public && strings.TrimSpace(user) == "" {
				return fmt.Errorf("--user is required unless --public is set")
			}
			c := *cfg
			if timeout > 0 {
				c.StageTimeout = time.Duration(timeout) * time.Second
			}
			owner := user
			if public {
				// A public run still needs an owner to scope retrieval.
				owner = firstNonEmpty(user, "local")
			}
			c.Profile = domain.ChatbotProfile{
				ID:           chatbotID,
				SystemPrompt: prompt,
				DocumentID:   document,
				OwnerID:      owner,
			}

			svc, closeFn, err := build(cmd.Context(), c)
			if err != nil {
				return err
			}
			defer closeFn()

			in := usecase.ChatInput{
				Query:     strings.Join(args, " "),
				ChatbotID: chatbotID,
				Language:  language,
				CallerID:  user,
				Public:    public,
			}
			if withHist {
				identity := user
				if public {
					identity = usecase.PublicIdentity(chatbotID)
				}
				if in.History, err = storedTurns(cmd.Context(), svc, identity); err != nil {
					return err
				}
			}

			out, err := svc.Chat(cmd.Context(), in)
			if err != nil {
				return err
			}
			printAnswer(cmd.OutOrStdout(), out)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&chatbotID, "chatbot", "local", "chatbot id")
	f.StringVar(&user, "user", "", "caller identity; must own the chatbot")
	f.BoolVar(&public, "public", false, "ask as an anonymous user of the chatbot")
	f.StringVar(&language, "language", "auto", "response language code, or auto to detect")
	f.StringVar(&prompt, "system-prompt", "", "system prompt of the local chatbot profile")
	f.StringVar(&document, "document", "", "document id the local chatbot may retrieve from")
	f.StringVar(&cfg.ChatbotTable, "chatbot-table", cfg.ChatbotTable, "DynamoDB chatbot table instead of the local profile")
	f.IntVar(&cfg.TopK, "top-k", cfg.TopK, "chunks retrieved per query")
	f.IntVar(&timeout, "stage-timeout", 0, "seconds allowed per pipeline stage")
	f.BoolVar(&cfg.ExposeSources, "sources", cfg.ExposeSources, "print the cited sources")
	f.BoolVar(&cfg.SkipTranslation, "skip-translation", cfg.SkipTranslation, "keep context untranslated and skip language detection")
	f.BoolVar(&withHist, "with-history", false, "send the stored turns of the identity as conversation history")
	return cmd
}

// storedTurns loads up to --history-limit stored turns of identity, oldest
// first.
func storedTurns(ctx context.Context, svc Service, identity string) ([]domain.Turn, error) {
	records, err := svc.History(ctx, identity, 0)
	if err != nil {
		return nil, err
	}
	turns := make([]domain.Turn, 0, len(records))
	for _, r := range records {
		turns = append(turns, r.Turn())
	}
	return turns, nil
}

func newHistoryCommand(cfg *Config, build Builder) *cobra.Command {
	var (
		user  string
		limit int
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print the most recent turns of an identity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, closeFn, err := build(cmd.Context(), *cfg)
			if err != nil {
				return err
			}
			defer closeFn()

			records, err := svc.History(cmd.Context(), user, limit)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if len(records) == 0 {
				fmt.Fprintln(w, "no history")
				return nil
			}
			for _, r := range records {
				fmt.Fprintf(w, "%s  %-9s %s\n", r.CreatedAt.UTC().Format(time.RFC3339), r.Role, r.Text)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&user, "user", "", "identity whose history to print")
	cmd.Flags().IntVar(&limit, "limit", 0, "number of turns (0 uses --history-limit)")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func printAnswer(w io.Writer, out usecase.ChatOutput) {
	fmt.Fprintln(w, out.Answer)
	if len(out.Sources) == 0 {
		return
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Sources:")
	for _, s := range out.Sources {
		label := s.Label
		if label == "" {
			label = fmt.Sprint(s.Page)
		}
		fmt.Fprintf(w, "  - %s p.%s\n", s.DocumentID, label)
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
