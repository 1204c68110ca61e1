package usecase

import (
	"context"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

const (
	languageAuto        = "auto"
	defaultLanguageCode = "en"
	defaultLanguageName = "English"
)

// resolveLanguage returns the response language code and its English name.
// Detection runs on the user's original wording.
func (s *ChatService) resolveLanguage(ctx context.Context, p *pipelineContext) (code, name string) {
	code = canonicalCode(p.languagePref)
	if code == "" || strings.EqualFold(code, languageAuto) {
		code = s.detectLanguage(ctx, p)
	}
	return code, languageName(code)
}

func (s *ChatService) detectLanguage(ctx context.Context, p *pipelineContext) string {
	ctx, cancel := s.stageContext(ctx)
	defer cancel()

	code, err := s.deps.Detector.Detect(ctx, p.query)
	code = canonicalCode(code)
	if err != nil || code == "" {
		s.log.Warn("language detection failed, defaulting to english",
			"stage", "language", "identity", p.identity, "err", err)
		return defaultLanguageCode
	}
	return code
}

// canonicalCode normalizes the case of a language tag ("FR" -> "fr",
// "zh-tw" -> "zh-TW") without replacing any subtag. Codes that do not parse
// are returned trimmed.
func canonicalCode(code string) string {
	code = strings.TrimSpace(code)
	if code == "" {
		return ""
	}
	tag, err := language.Raw.Parse(code)
	if err != nil {
		return code
	}
	return tag.String()
}

// languageName renders code's base language in English, falling back to
// "English" for codes x/text cannot parse or name.
func languageName(code string) string {
	tag, err := language.Parse(code)
	if err != nil {
		return defaultLanguageName
	}
	base, conf := tag.Base()
	if conf == language.No {
		return defaultLanguageName
	}
	name := display.English.Languages().Name(base)
	if name == "" {
		return defaultLanguageName
	}
	return name
}
