package relay

import (
	"strings"

	"github.com/tidwall/gjson"
)

// A strategy interprets one data-frame payload. Strategies are tried in
// order until one yields text; adding a new backend payload shape means
// appending a strategy, not touching the read loop.
type strategy struct {
	name    string
	extract func(payload string) (string, bool)
}

// tokenFieldPaths are the JSON fields backends put incremental text in,
// in priority order. OpenAI-style chunks come last since their field is
// the most deeply nested.
var tokenFieldPaths = []string{
	"response",
	"token",
	"text",
	"content",
	"delta.text",
	"choices.0.delta.content",
}

func defaultStrategies() []strategy {
	strategies := make([]strategy, 0, len(tokenFieldPaths)+1)
	for _, path := range tokenFieldPaths {
		strategies = append(strategies, strategy{name: "json:" + path, extract: jsonField(path)})
	}
	strategies = append(strategies, strategy{name: "raw", extract: rawText})
	return strategies
}

// jsonField pulls a single string field out of a JSON payload. Non-JSON
// payloads and missing or empty fields yield nothing.
func jsonField(path string) func(string) (string, bool) {
	return func(payload string) (string, bool) {
		if !gjson.Valid(payload) {
			return "", false
		}
		v := gjson.Get(payload, path)
		if !v.Exists() || v.Type != gjson.String || v.Str == "" {
			return "", false
		}
		return v.Str, true
	}
}

// rawText passes a non-JSON payload through as-is. Backends occasionally
// emit bare text frames; treating them as tokens beats dropping them.
func rawText(payload string) (string, bool) {
	if gjson.Valid(payload) {
		return "", false
	}
	text := strings.TrimSpace(payload)
	return text, text != ""
}
