package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	awscomprehend "github.com/aws/aws-sdk-go-v2/service/comprehend"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	awstranslate "github.com/aws/aws-sdk-go-v2/service/translate"

	"chatbot-agent/internal/integrations/comprehend"
	"chatbot-agent/internal/integrations/milvus"
	"chatbot-agent/internal/integrations/openai"
	"chatbot-agent/internal/integrations/paramstore"
	"chatbot-agent/internal/integrations/translate"
	"chatbot-agent/internal/repository"
	"chatbot-agent/internal/usecase"
)

const (
	memoryHistoryDB    = ":memory:"
	defaultParamPrefix = "/local"
)

// params is everything the pipeline and the OpenAI client read from the
// parameter store.
type params interface {
	paramstore.Getter
	paramstore.BatchGetter
}

type closers []func() error

func (c closers) close() error {
	var errs []error
	for i := len(c) - 1; i >= 0; i-- {
		if err := c[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// awsLoader loads the AWS config at most once and only when a component
// needs it.
type awsLoader struct {
	ctx    context.Context
	cfg    aws.Config
	loaded bool
}

func (l *awsLoader) config() (aws.Config, error) {
	if l.loaded {
		return l.cfg, nil
	}
	cfg, err := config.LoadDefaultConfig(l.ctx)
	if err != nil {
		return aws.Config{}, fmt.Errorf("cli: load AWS config: %w", err)
	}
	l.cfg, l.loaded = cfg, true
	return cfg, nil
}

// BuildService wires the production collaborators for cfg.
func BuildService(ctx context.Context, cfg Config) (Service, func() error, error) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)}))
	prefix := firstNonEmpty(strings.TrimSpace(cfg.ParamPrefix), defaultParamPrefix)
	loader := &awsLoader{ctx: ctx}

	var cl closers
	fail := func(err error) (Service, func() error, error) {
		_ = cl.close()
		return nil, nil, err
	}

	ps, err := openParams(cfg, prefix, loader)
	if err != nil {
		return fail(err)
	}

	history, closeHistory, err := openHistory(cfg, loader)
	if err != nil {
		return fail(err)
	}
	cl = append(cl, closeHistory)

	chatbots, err := openChatbots(cfg, loader)
	if err != nil {
		return fail(err)
	}

	var llmOpts []openai.Option
	if cfg.OpenAIBaseURL != "" {
		llmOpts = append(llmOpts, openai.WithBaseURL(cfg.OpenAIBaseURL))
	}
	llm, err := openai.NewClient(ps, prefix, llmOpts...)
	if err != nil {
		return fail(err)
	}

	mc, err := milvus.Dial(ctx, cfg.MilvusAddress, cfg.MilvusUser, cfg.MilvusPassword)
	if err != nil {
		return fail(err)
	}
	cl = append(cl, mc.Close)
	retriever, err := milvus.NewRetriever(mc, llm, cfg.MilvusCollection, cfg.TopK)
	if err != nil {
		return fail(err)
	}

	translator, detector, err := openLanguage(cfg, loader)
	if err != nil {
		return fail(err)
	}

	svc, err := usecase.NewChatService(usecase.Dependencies{
		Params:     ps,
		LLM:        llm,
		History:    history,
		Chatbots:   chatbots,
		Retriever:  retriever,
		Translator: translator,
		Detector:   detector,
		Logger:     logger,
	}, usecase.Options{
		ParamPrefix:   prefix,
		HistoryLimit:  cfg.HistoryLimit,
		TopK:          cfg.TopK,
		StageTimeout:  cfg.StageTimeout,
		ExposeSources: cfg.ExposeSources,
	})
	if err != nil {
		return fail(err)
	}
	return svc, cl.close, nil
}

// openParams serves static values when a model is given on the command line
// and the parameter store otherwise.
func openParams(cfg Config, prefix string, loader *awsLoader) (params, error) {
	if strings.TrimSpace(cfg.Model) == "" {
		awsCfg, err := loader.config()
		if err != nil {
			return nil, err
		}
		return paramstore.New(awsssm.NewFromConfig(awsCfg))
	}
	return staticParams(cfg, prefix)
}

func staticParams(cfg Config, prefix string) (paramstore.Static, error) {
	if strings.TrimSpace(cfg.OpenAIKey) == "" {
		return nil, errors.New("cli: an OpenAI API key is required with --model")
	}
	token, err := json.Marshal(map[string]string{"token": cfg.OpenAIKey})
	if err != nil {
		return nil, fmt.Errorf("cli: encode token: %w", err)
	}
	return paramstore.Static{
		prefix + "/open-ai-token":          string(token),
		prefix + "/config/openai_model":    strings.TrimSpace(cfg.Model),
		prefix + "/config/embedding_model": strings.TrimSpace(cfg.EmbeddingModel),
	}, nil
}

func openHistory(cfg Config, loader *awsLoader) (usecase.HistoryStore, func() error, error) {
	noop := func() error { return nil }
	switch db := strings.TrimSpace(cfg.HistoryDB); db {
	case memoryHistoryDB:
		return repository.NewMemoryHistoryStore(cfg.HistoryLimit), noop, nil
	case "":
		if strings.TrimSpace(cfg.HistoryTable) == "" {
			return nil, nil, errors.New("cli: set --history-db or --history-table")
		}
		awsCfg, err := loader.config()
		if err != nil {
			return nil, nil, err
		}
		store, err := repository.NewHistoryClient(awsdynamodb.NewFromConfig(awsCfg), cfg.HistoryTable, cfg.HistoryLimit)
		if err != nil {
			return nil, nil, err
		}
		return store, noop, nil
	default:
		dsn, err := repository.SQLiteHistoryDSNForFile(db)
		if err != nil {
			return nil, nil, err
		}
		store, err := repository.NewSQLiteHistoryStore(dsn, cfg.HistoryLimit)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	}
}

func openChatbots(cfg Config, loader *awsLoader) (usecase.ChatbotResolver, error) {
	if strings.TrimSpace(cfg.ChatbotTable) == "" {
		return repository.StaticChatbots{cfg.Profile.ID: cfg.Profile}, nil
	}
	awsCfg, err := loader.config()
	if err != nil {
		return nil, err
	}
	return repository.NewChatbotClient(awsdynamodb.NewFromConfig(awsCfg), cfg.ChatbotTable)
}

func openLanguage(cfg Config, loader *awsLoader) (usecase.Translator, usecase.LanguageDetector, error) {
	if cfg.SkipTranslation {
		return passthroughTranslator{}, fixedDetector(defaultLanguage), nil
	}
	awsCfg, err := loader.config()
	if err != nil {
		return nil, nil, err
	}
	tr, err := translate.New(awstranslate.NewFromConfig(awsCfg))
	if err != nil {
		return nil, nil, err
	}
	det, err := comprehend.New(awscomprehend.NewFromConfig(awsCfg))
	if err != nil {
		return nil, nil, err
	}
	return tr, det, nil
}

const defaultLanguage = "en"

type passthroughTranslator struct{}

func (passthroughTranslator) Translate(_ context.Context, text, _ string) (string, error) {
	return text, nil
}

type fixedDetector string

func (d fixedDetector) Detect(context.Context, string) (string, error) {
	return string(d), nil
}

func parseLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelWarn
	}
	return level
}
