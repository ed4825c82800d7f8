package llm

import (
	"encoding/json"
	"regexp"
	"strings"
)

var codeFencePattern = regexp.MustCompile("(?s)^```[a-zA-Z]*\\s*\\n?(.*?)\\n?```$")

// StripCodeFence removes a surrounding markdown code block, if any.
// Models often wrap JSON or SQL in ```json / ```sql blocks.
func StripCodeFence(content string) string {
	trimmed := strings.TrimSpace(content)
	if m := codeFencePattern.FindStringSubmatch(trimmed); len(m) == 2 {
		return strings.TrimSpace(m[1])
	}
	return trimmed
}

// DecodeJSONObject decodes the first JSON object found in content into v.
// Text before the first '{' and after the matching '}' is ignored.
func DecodeJSONObject(content string, v any) error {
	body := StripCodeFence(content)
	if start := strings.Index(body, "{"); start > 0 {
		body = body[start:]
	}
	if end := strings.LastIndex(body, "}"); end >= 0 && end < len(body)-1 {
		body = body[:end+1]
	}
	return json.Unmarshal([]byte(body), v)
}
