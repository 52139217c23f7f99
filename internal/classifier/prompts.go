package classifier

import (
	"fmt"
	"strings"

	"github.com/vietddude/triage/internal/core/domain"
)

// SystemPrompt instructs the model to answer with the three labels only.
func SystemPrompt() string {
	return fmt.Sprintf(`You are a feedback analyzer. Analyze the given feedback and categorize it.

Category options: %s
Sentiment options: %s
Urgency options: %s

Respond ONLY with valid JSON matching this exact structure:
{"category": "...", "sentiment": "...", "urgency": "..."}`,
		strings.Join(domain.EnumValues(domain.Categories), ", "),
		strings.Join(domain.EnumValues(domain.Sentiments), ", "),
		strings.Join(domain.EnumValues(domain.Urgencies), ", "),
	)
}

// UserPrompt frames one feedback item.
func UserPrompt(source, text string) string {
	return fmt.Sprintf("Analyze this feedback from %s: %q", source, text)
}

// ResponseSchema is the JSON schema constraining the model output where the
// provider supports structured output.
func ResponseSchema() map[string]any {
	enum := func(values []string) map[string]any {
		return map[string]any{"type": "string", "enum": values}
	}
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"category":  enum(domain.EnumValues(domain.Categories)),
			"sentiment": enum(domain.EnumValues(domain.Sentiments)),
			"urgency":   enum(domain.EnumValues(domain.Urgencies)),
		},
		"required": labelKeys,
	}
}
