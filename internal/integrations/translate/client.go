package translate

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awstranslate "github.com/aws/aws-sdk-go-v2/service/translate"
	"github.com/aws/aws-sdk-go-v2/service/translate/types"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"chatbot-agent/internal/domain"
)

// sourceAuto lets the service detect the source language of each text.
const sourceAuto = "auto"

// translateAPI is the minimal Amazon Translate interface required by Client.
type translateAPI interface {
	TranslateText(ctx context.Context, in *awstranslate.TranslateTextInput, optFns ...func(*awstranslate.Options)) (*awstranslate.TranslateTextOutput, error)
}

// Client translates text into a target language code.
type Client struct {
	api translateAPI
}

// New creates a Client with the given Translate API implementation.
func New(api translateAPI) (*Client, error) {
	if api == nil {
		return nil, errors.New("translate: api must not be nil")
	}
	return &Client{api: api}, nil
}

// Translate returns text rendered in target. Failures that would repeat for
// every text of the request wrap domain.ErrTranslatorUnavailable.
func (c *Client) Translate(ctx context.Context, text, target string) (string, error) {
	target = strings.ToLower(strings.TrimSpace(target))
	if target == "" {
		return "", errors.New("translate: target language is required")
	}
	if strings.TrimSpace(text) == "" {
		return text, nil
	}

	out, err := c.api.TranslateText(ctx, &awstranslate.TranslateTextInput{
		Text:               aws.String(text),
		SourceLanguageCode: aws.String(sourceAuto),
		TargetLanguageCode: aws.String(target),
	})
	if err != nil {
		if isUnavailable(err) {
			return "", fmt.Errorf("translate: TranslateText to %q: %w: %w", target, domain.ErrTranslatorUnavailable, err)
		}
		return "", fmt.Errorf("translate: TranslateText to %q: %w", target, err)
	}
	if out == nil || out.TranslatedText == nil {
		return "", errors.New("translate: empty translation in response")
	}
	return *out.TranslatedText, nil
}

func isUnavailable(err error) bool {
	var sendErr *smithyhttp.RequestSendError
	if errors.As(err, &sendErr) {
		return true
	}
	var pairErr *types.UnsupportedLanguagePairException
	// With an auto-detected source, an unsupported pair means the target is unusable.
	return errors.As(err, &pairErr)
}
