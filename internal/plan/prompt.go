package plan

import (
	"github.com/maphy9/mind-flow/internal/assistant"
)

// Greeting is the first assistant line shown in a fresh conversation.
const Greeting = "Hi, how can I help you?"

const SystemPrompt = `You are MindBot, a warm, concise mental-wellness guide. Keep replies short and practical.

Your output must be ONLY a single valid JSON object of the form:
{"message": "<your reply to the user>", "actions": [{"text": "<task>", "time": "<when>"}]}
Do not include any other text, prose, or markdown code fences.

Rules:
- "actions" lists at most 5 small, concrete tasks that would help the user. Use an empty array when no task fits.
- "time" must use one of: "HH:mm" for a daily habit, "today HH:mm" for a one-off later today, or "in N minutes" / "in N hours".
- Use 24-hour clock times.`

// BuildPrompt assembles the assistant messages for one turn: the system
// prompt followed by the prior conversation (system entries skipped) and the
// new user text.
func BuildPrompt(history []assistant.Message, text string) []assistant.Message {
	messages := []assistant.Message{
		{Role: "system", Content: SystemPrompt},
	}
	for _, m := range history {
		if m.Role == "system" {
			continue
		}
		messages = append(messages, m)
	}
	return append(messages, assistant.Message{Role: "user", Content: text})
}
