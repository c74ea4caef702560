package document

import (
	"fmt"
	"regexp"
	"unicode"

	"github.com/elwassit-org/api-translation-wasslago/internal/domain"
)

// Alternation order decides ties at the same offset: emails before URLs before phones.
var sensitiveRe = regexp.MustCompile(
	`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}` +
		`|https?://[^\s<>\[\]"]+` +
		`|\+?\(?\d[\d ().-]{6,}\d`,
)

const (
	minPhoneDigits = 8
	maxPhoneDigits = 15
)

// RegexAnonymizer masks emails, URLs and phone numbers with <TOKEN_n>
// placeholders. Each distinct value gets one token, reused on repeats.
type RegexAnonymizer struct{}

// NewRegexAnonymizer creates an anonymizer.
func NewRegexAnonymizer() *RegexAnonymizer {
	return &RegexAnonymizer{}
}

// Anonymize implements domain.Anonymizer.
func (a *RegexAnonymizer) Anonymize(text string) (string, domain.TokenMap, error) {
	tokens := domain.TokenMap{}
	byValue := map[string]string{}

	masked := sensitiveRe.ReplaceAllStringFunc(text, func(match string) string {
		if !isEmailOrURL(match) && !plausiblePhone(match) {
			return match
		}
		if token, ok := byValue[match]; ok {
			return token
		}
		token := fmt.Sprintf("<TOKEN_%d>", len(tokens)+1)
		tokens[token] = match
		byValue[match] = token
		return token
	})

	return masked, tokens, nil
}

func isEmailOrURL(s string) bool {
	for _, r := range s {
		if r == '@' || r == ':' {
			return true
		}
	}
	return false
}

func plausiblePhone(s string) bool {
	digits := 0
	for _, r := range s {
		if unicode.IsDigit(r) {
			digits++
		}
	}
	return digits >= minPhoneDigits && digits <= maxPhoneDigits
}
