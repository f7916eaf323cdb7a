package oracle

import (
	"fmt"
	"strings"

	"github.com/mikey/mail-trust/internal/core"
)

// SystemPrompt is sent as the system message by providers that support one
const SystemPrompt = "You are an email classification system. Respond only with JSON."

const promptFormat = `You are an email classification system. Classify the following email into exactly one category.
Categories: %s

Respond with a JSON object containing:
- category: string (one of the categories above)
- confidence: number between 0 and 1 (how confident you are in the category)
- summary: string (one sentence summary of the email)
- deadline: string (ISO 8601 date of any deadline mentioned, or empty)
- needs_reply: boolean (true if the sender expects a reply)
- suggested_labels: array of short label names
- suggested_action: string (one of: none, reply, archive, delete, follow_up)
- key_entities: array of people, companies or amounts mentioned

Email:
From: %s
To: %s
Subject: %s
Body:
%s

Respond only with the JSON object and nothing else.`

// BuildPrompt renders the classification prompt. The body must already be truncated and sanitized.
func BuildPrompt(email *core.Email, body string) string {
	categories := make([]string, len(core.Categories))
	for i, c := range core.Categories {
		categories[i] = string(c)
	}

	from := email.From
	if email.FromName != "" && !strings.Contains(from, "<") {
		from = fmt.Sprintf("%s <%s>", email.FromName, email.From)
	}

	to := ""
	if len(email.To) > 0 {
		to = email.To[0]
		if len(email.To) > 1 {
			to += fmt.Sprintf(" and %d others", len(email.To)-1)
		}
	}

	return fmt.Sprintf(promptFormat, strings.Join(categories, ", "), from, to, email.Subject, body)
}
