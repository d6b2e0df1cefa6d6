package gateway

import (
	"strings"

	"fiscalhub/internal/domain/fiscal"
)

// StatusNormalizer maps a vendor status vocabulary onto document statuses.
// Lookups ignore case and surrounding blanks.
type StatusNormalizer struct {
	vocab map[string]fiscal.Status
}

// NewStatusNormalizer builds a normalizer from vendor word lists. The internal
// status names always map to themselves.
func NewStatusNormalizer(words map[fiscal.Status][]string) StatusNormalizer {
	vocab := make(map[string]fiscal.Status)
	for _, s := range []fiscal.Status{
		fiscal.StatusPending, fiscal.StatusProcessing, fiscal.StatusAuthorized,
		fiscal.StatusRejected, fiscal.StatusCancelled,
	} {
		vocab[string(s)] = s
	}
	for status, list := range words {
		for _, w := range list {
			vocab[normalizeWord(w)] = status
		}
	}
	return StatusNormalizer{vocab: vocab}
}

// Normalize returns the document status for a vendor word.
func (n StatusNormalizer) Normalize(vendor string) (fiscal.Status, bool) {
	s, ok := n.vocab[normalizeWord(vendor)]
	return s, ok
}

func normalizeWord(w string) string {
	return strings.ToLower(strings.TrimSpace(w))
}
