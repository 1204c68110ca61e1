package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"chatbot-agent/internal/domain"
)

const (
	chatbotPKPrefix = "BOT#"
	skProfile       = "PROFILE#"
)

type getItemAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
}

// ChatbotClient resolves chatbot profiles written by the management API.
type ChatbotClient struct {
	api       getItemAPI
	tableName string
}

// NewChatbotClient creates a ChatbotClient reading from tableName.
func NewChatbotClient(api getItemAPI, tableName string) (*ChatbotClient, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &ChatbotClient{api: api, tableName: tableName}, nil
}

func chatbotPK(chatbotID string) string {
	return chatbotPKPrefix + chatbotID
}

// Resolve loads the profile for chatbotID. A missing item yields an error
// wrapping domain.ErrNotFound.
func (c *ChatbotClient) Resolve(ctx context.Context, chatbotID string) (domain.ChatbotProfile, error) {
	chatbotID = strings.TrimSpace(chatbotID)
	if chatbotID == "" {
		return domain.ChatbotProfile{}, errors.New("repository: Resolve: chatbot id is required")
	}

	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(c.tableName),
		Key: map[string]types.AttributeValue{
			"PK": stringValue(chatbotPK(chatbotID)),
			"SK": stringValue(skProfile),
		},
	})
	if err != nil {
		return domain.ChatbotProfile{}, fmt.Errorf("repository: Resolve get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return domain.ChatbotProfile{}, fmt.Errorf("repository: Resolve chatbot %q: %w", chatbotID, domain.ErrNotFound)
	}

	owner, err := strAttr(out.Item, "ownerId")
	if err != nil {
		return domain.ChatbotProfile{}, fmt.Errorf("repository: Resolve decode: %w", err)
	}
	return domain.ChatbotProfile{
		ID:             chatbotID,
		Title:          optStrAttr(out.Item, "title"),
		WelcomeMessage: optStrAttr(out.Item, "welcomeMessage"),
		SystemPrompt:   optStrAttr(out.Item, "systemPrompt"),
		AvatarURL:      optStrAttr(out.Item, "avatarUrl"),
		UserIconURL:    optStrAttr(out.Item, "userIconUrl"),
		BubbleIconURL:  optStrAttr(out.Item, "bubbleIconUrl"),
		DocumentID:     optStrAttr(out.Item, "documentId"),
		OwnerID:        owner,
	}, nil
}

// StaticChatbots serves profiles from memory. It backs the local CLI where
// no profile table is configured.
type StaticChatbots map[string]domain.ChatbotProfile

// Resolve returns the profile registered under chatbotID.
func (s StaticChatbots) Resolve(_ context.Context, chatbotID string) (domain.ChatbotProfile, error) {
	p, ok := s[strings.TrimSpace(chatbotID)]
	if !ok {
		return domain.ChatbotProfile{}, fmt.Errorf("repository: Resolve chatbot %q: %w", chatbotID, domain.ErrNotFound)
	}
	return p, nil
}
