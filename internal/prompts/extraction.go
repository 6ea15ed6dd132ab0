package prompts

import "fmt"

// ExtractionSystem is the system prompt for schema-guided extraction.
const ExtractionSystem = `You are a precise information extraction engine. Your only task is to
extract information from the given text according to the JSON Schema the
user provides. Output a single JSON object that conforms to the schema and
nothing else: no explanations, no comments, no markdown. If the text lacks
information for a field, use null for that field.`

// extractionTemplate carries the schema and the text. Format verbs:
// schema JSON, text.
const extractionTemplate = `JSON Schema:
%s

Extract information from the following text:
---TEXT---
%s
---END TEXT---`

// ExtractionPrompt returns the user prompt for an extraction request.
func ExtractionPrompt(schemaJSON, text string) string {
	return fmt.Sprintf(extractionTemplate, schemaJSON, text)
}
