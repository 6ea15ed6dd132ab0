package prompts

import "fmt"

// searchSynthesisTemplate turns search snippets into a short answer for
// providers that do not synthesize one. Format verbs: query, results.
const searchSynthesisTemplate = `Answer the question using only the search results below. Be concise and
factual. If the results do not contain the answer, say so.

Question: %s

Search results:
%s

Answer:`

// SearchSynthesisPrompt returns the prompt for answering query from
// formatted search results.
func SearchSynthesisPrompt(query, results string) string {
	return fmt.Sprintf(searchSynthesisTemplate, query, results)
}
