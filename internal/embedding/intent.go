package embedding

import (
	"fmt"
	"strings"
)

// Intent selects how a text is phrased before encoding.
type Intent string

const (
	// IntentDocument is a passage to be retrieved. No prefix.
	IntentDocument Intent = "document"
	// IntentQuery is a search query. Prefixed with QueryInstruction.
	IntentQuery Intent = "query"
)

// QueryInstruction is prepended to query texts. The retrieval quality of instruction-aware
// models depends on this exact byte sequence.
const QueryInstruction = "Instruct: Given a search query, retrieve relevant passages that answer the query\nQuery: "

// PrefixFor returns the prefix for intent. Unknown intents get no prefix.
func PrefixFor(intent Intent) string {
	if intent == IntentQuery {
		return QueryInstruction
	}
	return ""
}

// Valid reports whether intent is one of the known values.
func (i Intent) Valid() bool {
	return i == IntentDocument || i == IntentQuery
}

// ParseIntent converts a wire value to an Intent. Empty means document.
func ParseIntent(s string) (Intent, error) {
	switch Intent(strings.TrimSpace(s)) {
	case "", IntentDocument:
		return IntentDocument, nil
	case IntentQuery:
		return IntentQuery, nil
	default:
		return "", newError(KindInvalidInput, "parse intent",
			fmt.Errorf("unknown instruction_type %q (want document or query)", s))
	}
}
