package plan

import (
	"encoding/json"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// MaxActions caps the number of suggested actions attached to one message.
const MaxActions = 5

// ActionItem is a single task suggested by the assistant.
// Checked is presentation state and is never read from assistant output.
type ActionItem struct {
	Text    string `json:"text"`
	Time    string `json:"time"`
	Checked bool   `json:"checked,omitempty"`
}

// Plan is the validated shape of an assistant turn.
type Plan struct {
	Message string       `json:"message"`
	Actions []ActionItem `json:"actions"`
}

// Validate extracts a Plan from raw assistant text. The outermost {...}
// region is decoded (with one repair attempt for near-JSON output); the
// result must carry a string message and an actions array. Malformed action
// entries are dropped and the rest truncated to MaxActions. The boolean is
// false when no plan could be recovered; Validate never panics.
func Validate(raw string) (Plan, bool) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return Plan{}, false
	}

	obj, ok := decodeObject(raw[start : end+1])
	if !ok {
		return Plan{}, false
	}

	message, ok := obj["message"].(string)
	if !ok {
		return Plan{}, false
	}
	entries, ok := obj["actions"].([]any)
	if !ok {
		return Plan{}, false
	}

	actions := make([]ActionItem, 0, min(len(entries), MaxActions))
	for _, e := range entries {
		if len(actions) == MaxActions {
			break
		}
		item, ok := e.(map[string]any)
		if !ok {
			continue
		}
		text, _ := item["text"].(string)
		at, _ := item["time"].(string)
		text, at = strings.TrimSpace(text), strings.TrimSpace(at)
		if text == "" || at == "" {
			continue
		}
		actions = append(actions, ActionItem{Text: text, Time: at})
	}

	return Plan{Message: message, Actions: actions}, true
}

func decodeObject(region string) (map[string]any, bool) {
	var obj map[string]any
	if err := json.Unmarshal([]byte(region), &obj); err == nil {
		return obj, obj != nil
	}

	repaired, ok := repair(region)
	if !ok {
		return nil, false
	}
	obj = nil
	if err := json.Unmarshal([]byte(repaired), &obj); err != nil {
		return nil, false
	}
	return obj, obj != nil
}

func repair(region string) (out string, ok bool) {
	defer func() {
		if recover() != nil {
			out, ok = "", false
		}
	}()
	repaired, err := jsonrepair.JSONRepair(region)
	if err != nil {
		return "", false
	}
	return repaired, true
}
