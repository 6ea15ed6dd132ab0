package prompts

import "fmt"

// DefaultCondensationQuery stands in for the user's question when the
// originating tool call carried no query argument.
const DefaultCondensationQuery = "the user's original request"

// condensationTemplate asks the lightweight engine to shrink an
// oversized tool result. Format verbs: query, text.
const condensationTemplate = `You are a data analysis assistant. Read the long text below and extract
only the information most relevant to the user's question. Your output must
be concise, contain only the key data points, and ignore everything else.

Question: '%s'

Text to condense:

---
%s
---`

// CondensationPrompt returns the prompt for condensing text with respect
// to query. An empty query uses DefaultCondensationQuery.
func CondensationPrompt(query, text string) string {
	if query == "" {
		query = DefaultCondensationQuery
	}
	return fmt.Sprintf(condensationTemplate, query, text)
}
