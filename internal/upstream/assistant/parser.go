package assistant

import (
	"encoding/json"
	"regexp"
	"strings"
)

// The backend response is not line-delimited JSON: zero or more
// "content":"..." fragments are embedded in the payload, and the same
// fragments may appear again behind a message-type event marker. The true
// event framing is undocumented, so this is a best-effort compatibility
// parser: extract every occurrence of both shapes, deduplicate exact
// repeats while preserving first-seen order, and concatenate the rest.
var (
	contentPattern = regexp.MustCompile(`"content"\s*:\s*"((?:[^"\\]|\\.)*)"`)
	eventPattern   = regexp.MustCompile(`:message-typeevent(\{[^}]+\})`)
)

// extractContent parses the raw generateAssistantResponse payload into
// ordered text.
func extractContent(raw string) string {
	var parts []string

	for _, match := range contentPattern.FindAllStringSubmatch(raw, -1) {
		if content := unescapeFragment(match[1]); content != "" {
			parts = append(parts, content)
		}
	}

	for _, match := range eventPattern.FindAllStringSubmatch(raw, -1) {
		var event struct {
			Content string `json:"content"`
		}
		if err := json.Unmarshal([]byte(match[1]), &event); err != nil {
			continue
		}
		if event.Content != "" {
			parts = append(parts, event.Content)
		}
	}

	seen := make(map[string]bool, len(parts))
	var sb strings.Builder
	for _, part := range parts {
		if seen[part] {
			continue
		}
		seen[part] = true
		sb.WriteString(part)
	}
	return sb.String()
}

var fragmentUnescaper = strings.NewReplacer(
	`\n`, "\n",
	`\t`, "\t",
	`\"`, `"`,
	`\\`, `\`,
)

func unescapeFragment(s string) string {
	return fragmentUnescaper.Replace(s)
}
