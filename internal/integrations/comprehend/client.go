package comprehend

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscomprehend "github.com/aws/aws-sdk-go-v2/service/comprehend"
)

// maxTextBytes keeps requests under the DetectDominantLanguage size limit.
const maxTextBytes = 100 * 1024

type comprehendAPI interface {
	DetectDominantLanguage(ctx context.Context, in *awscomprehend.DetectDominantLanguageInput, optFns ...func(*awscomprehend.Options)) (*awscomprehend.DetectDominantLanguageOutput, error)
}

// Detector reports the dominant language of a text as a lowercase code.
type Detector struct {
	api comprehendAPI
}

func New(api comprehendAPI) (*Detector, error) {
	if api == nil {
		return nil, errors.New("comprehend: api must not be nil")
	}
	return &Detector{api: api}, nil
}

// Detect returns the highest-scoring language code for text.
func (d *Detector) Detect(ctx context.Context, text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", errors.New("comprehend: text is required")
	}
	if len(text) > maxTextBytes {
		text = truncateUTF8(text, maxTextBytes)
	}

	out, err := d.api.DetectDominantLanguage(ctx, &awscomprehend.DetectDominantLanguageInput{
		Text: aws.String(text),
	})
	if err != nil {
		return "", fmt.Errorf("comprehend: DetectDominantLanguage: %w", err)
	}
	if out == nil {
		return "", errors.New("comprehend: no languages detected")
	}

	var (
		best  string
		score float32 = -1
	)
	for _, l := range out.Languages {
		if l.LanguageCode == nil || *l.LanguageCode == "" {
			continue
		}
		s := aws.ToFloat32(l.Score)
		if s > score {
			best, score = *l.LanguageCode, s
		}
	}
	if best == "" {
		return "", errors.New("comprehend: no languages detected")
	}
	return best, nil
}

func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	// Back up to a rune boundary.
	for n > 0 && (s[n]&0xC0) == 0x80 {
		n--
	}
	return s[:n]
}
