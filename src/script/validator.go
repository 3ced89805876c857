// Package script owns the candidate-script lifecycle: structural validation,
// normalization of model output into an executable body, and the bounded
// generate/validate/execute/repair loop.
package script

import (
	"fmt"
	"strings"
)

// Validator checks a candidate script before execution. A nil return accepts
// the script; a non-nil error is the short human-readable rejection.
type Validator interface {
	Validate(script string) error
}

// DefaultForbiddenKeywords is the baseline deny list; hosts extend it through
// configuration.
var DefaultForbiddenKeywords = []string{
	"load(",
	"__import__",
	"subprocess",
	"os.system",
}

// KeywordValidator rejects scripts containing any configured substring.
type KeywordValidator struct {
	Keywords []string
}

// NewKeywordValidator combines the default deny list with extra keywords.
func NewKeywordValidator(extra ...string) *KeywordValidator {
	keywords := make([]string, 0, len(DefaultForbiddenKeywords)+len(extra))
	keywords = append(keywords, DefaultForbiddenKeywords...)
	for _, k := range extra {
		if k = strings.TrimSpace(k); k != "" {
			keywords = append(keywords, k)
		}
	}
	return &KeywordValidator{Keywords: keywords}
}

func (v *KeywordValidator) Validate(script string) error {
	for _, keyword := range v.Keywords {
		if strings.Contains(script, keyword) {
			return fmt.Errorf("script uses the forbidden keyword %q", keyword)
		}
	}
	return nil
}
