package main

import (
	"context"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/config"
	awscomprehend "github.com/aws/aws-sdk-go-v2/service/comprehend"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	awstranslate "github.com/aws/aws-sdk-go-v2/service/translate"

	"chatbot-agent/handler"
	"chatbot-agent/internal/integrations/comprehend"
	"chatbot-agent/internal/integrations/milvus"
	"chatbot-agent/internal/integrations/openai"
	"chatbot-agent/internal/integrations/paramstore"
	"chatbot-agent/internal/integrations/translate"
	"chatbot-agent/internal/repository"
	"chatbot-agent/internal/usecase"
)

func main() {
	ctx := context.Background()

	// ---- Configuration (read only here) ----
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: envLevel("LOG_LEVEL")})))

	historyTable := mustEnv("HISTORY_TABLE")
	chatbotTable := mustEnv("CHATBOT_TABLE")
	paramPrefix := mustEnv("PARAM_PREFIX")
	milvusAddress := mustEnv("MILVUS_ADDRESS")
	milvusCollection := mustEnv("MILVUS_COLLECTION")
	milvusUser := os.Getenv("MILVUS_USERNAME")
	milvusPassword := os.Getenv("MILVUS_PASSWORD")
	historyLimit := envInt("HISTORY_LIMIT", 10)
	opts := usecase.Options{
		ParamPrefix:     paramPrefix,
		MaxQueryLength:  envInt("MAX_QUERY_LENGTH", 2000),
		MaxContextItems: envInt("MAX_CONTEXT_ITEMS", 20),
		HistoryLimit:    historyLimit,
		TopK:            envInt("RETRIEVAL_TOP_K", 5),
		StageTimeout:    envDuration("STAGE_TIMEOUT_SECONDS", 15*time.Second),
		ExposeSources:   envBool("EXPOSE_SOURCES", false),
	}

	// ---- AWS SDK config ----
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		slog.Error("failed to load AWS config", "err", err)
		os.Exit(1)
	}

	// ---- Clients ----
	ssmClient, err := paramstore.New(awsssm.NewFromConfig(cfg))
	if err != nil {
		slog.Error("failed to create SSM client", "err", err)
		os.Exit(1)
	}
	dynamoClient := awsdynamodb.NewFromConfig(cfg)
	historyClient, err := repository.NewHistoryClient(dynamoClient, historyTable, historyLimit)
	if err != nil {
		slog.Error("failed to create history client", "err", err)
		os.Exit(1)
	}
	chatbotClient, err := repository.NewChatbotClient(dynamoClient, chatbotTable)
	if err != nil {
		slog.Error("failed to create chatbot client", "err", err)
		os.Exit(1)
	}

	openaiClient, err := openai.NewClient(ssmClient, paramPrefix)
	if err != nil {
		slog.Error("failed to create OpenAI client", "err", err)
		os.Exit(1)
	}

	milvusClient, err := milvus.Dial(ctx, milvusAddress, milvusUser, milvusPassword)
	if err != nil {
		slog.Error("failed to connect to Milvus", "err", err)
		os.Exit(1)
	}
	retriever, err := milvus.NewRetriever(milvusClient, openaiClient, milvusCollection, opts.TopK)
	if err != nil {
		slog.Error("failed to create retriever", "err", err)
		os.Exit(1)
	}

	translator, err := translate.New(awstranslate.NewFromConfig(cfg))
	if err != nil {
		slog.Error("failed to create translate client", "err", err)
		os.Exit(1)
	}
	detector, err := comprehend.New(awscomprehend.NewFromConfig(cfg))
	if err != nil {
		slog.Error("failed to create comprehend client", "err", err)
		os.Exit(1)
	}

	// ---- Handler ----
	chatService, err := usecase.NewChatService(usecase.Dependencies{
		Params:     ssmClient,
		LLM:        openaiClient,
		History:    historyClient,
		Chatbots:   chatbotClient,
		Retriever:  retriever,
		Translator: translator,
		Detector:   detector,
		Logger:     slog.Default(),
	}, opts)
	if err != nil {
		slog.Error("failed to create chat service", "err", err)
		os.Exit(1)
	}

	h, err := handler.NewHandler(chatService, handler.WithLogger(slog.Default()))
	if err != nil {
		slog.Error("failed to create handler", "err", err)
		os.Exit(1)
	}

	lambda.Start(h.Handle)
}

func mustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		slog.Error("required environment variable is not set", "key", key)
		os.Exit(1)
	}
	return v
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

// envDuration reads a whole number of seconds.
func envDuration(key string, def time.Duration) time.Duration {
	n := envInt(key, 0)
	if n <= 0 {
		return def
	}
	return time.Duration(n) * time.Second
}

func envLevel(key string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(os.Getenv(key)))); err != nil {
		return slog.LevelInfo
	}
	return level
}
