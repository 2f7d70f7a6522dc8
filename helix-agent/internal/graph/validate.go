package graph

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrValidationRejected is returned for query text that could write to the
// graph. It is never retried or rewritten.
var ErrValidationRejected = errors.New("query rejected")

var mutationKeywords = []string{"create", "merge", "delete", "detach"}

var mutationClause = regexp.MustCompile(`(?i)\b(set|remove|drop)\b`)

// ValidateQuery refuses query text that is empty or contains a mutation
// keyword. create, merge, delete and detach match anywhere, case-insensitively,
// so n.created_at is refused too. set, remove and drop are refused as whole
// words in any position, which includes aliases: RETURN n.name AS set fails
// while n.dataset passes.
func ValidateQuery(text string) error {
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("%w: empty query", ErrValidationRejected)
	}

	lower := strings.ToLower(text)
	for _, kw := range mutationKeywords {
		if strings.Contains(lower, kw) {
			return fmt.Errorf("%w: contains %q", ErrValidationRejected, strings.ToUpper(kw))
		}
	}
	if m := mutationClause.FindString(text); m != "" {
		return fmt.Errorf("%w: contains %q", ErrValidationRejected, strings.ToUpper(m))
	}
	return nil
}
