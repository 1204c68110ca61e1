package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"

	"chatbot-agent/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	// ---- Configuration (read only here) ----
	defaults := cli.Config{
		HistoryTable:     os.Getenv("HISTORY_TABLE"),
		ChatbotTable:     os.Getenv("CHATBOT_TABLE"),
		ParamPrefix:      os.Getenv("PARAM_PREFIX"),
		EmbeddingModel:   envOr("EMBEDDING_MODEL", "text-embedding-3-small"),
		OpenAIKey:        os.Getenv("OPENAI_API_KEY"),
		OpenAIBaseURL:    os.Getenv("OPENAI_BASE_URL"),
		MilvusAddress:    envOr("MILVUS_ADDRESS", "localhost:19530"),
		MilvusCollection: envOr("MILVUS_COLLECTION", "document_chunks"),
		MilvusUser:       os.Getenv("MILVUS_USERNAME"),
		MilvusPassword:   os.Getenv("MILVUS_PASSWORD"),
		HistoryLimit:     envInt("HISTORY_LIMIT", 10),
		TopK:             envInt("RETRIEVAL_TOP_K", 5),
		LogLevel:         envOr("LOG_LEVEL", "warn"),
	}

	if err := cli.NewRootCommand(defaults, cli.BuildService).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "chatctl:", err)
		os.Exit(1)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
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
