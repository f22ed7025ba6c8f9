// Package conversation projects a stored conversation into the request an
// adapter receives.
package conversation

import "glimpse/model"

// Projection is the adapter-facing view of a conversation turn.
type Projection struct {
	History []model.Message
	Text    string
}

// Build truncates history to the newest limit turns and folds a rolling
// summary into the text.
//
// With limit <= 0 no truncation happens. If truncation leaves assistant
// turns first, they are dropped too. A non-empty summary is prepended to the
// first remaining history message, or to newText when history is empty; no
// synthetic turn is ever added. The input slice is not modified.
func Build(history []model.Message, newText, summary string, limit int) Projection {
	start := 0
	if limit > 0 && len(history) > limit {
		start = len(history) - limit
		for start < len(history) && history[start].Role == model.RoleAssistant {
			start++
		}
	}

	out := make([]model.Message, len(history)-start)
	copy(out, history[start:])

	text := newText
	if summary != "" {
		if len(out) > 0 {
			out[0].Text = prefix(summary, out[0].Text)
		} else {
			text = prefix(summary, newText)
		}
	}

	return Projection{History: out, Text: text}
}

// Request assembles the adapter request for a projection.
func (p Projection) Request(image *model.Image, systemPrompt string) model.ChatRequest {
	return model.ChatRequest{
		Text:         p.Text,
		Image:        image,
		History:      p.History,
		SystemPrompt: systemPrompt,
	}
}

func prefix(summary, text string) string {
	if text == "" {
		return summary
	}
	return summary + "\n\n" + text
}
