package assistant

// Backend model identifiers, keyed by the public model names callers use.
// Unknown names fall back to DefaultModelID.
var modelIDs = map[string]string{
	"claude-opus-4-5": "CLAUDE_OPUS_4_5_V1_0",
	"claude-opus-4.5": "CLAUDE_OPUS_4_5_V1_0",
	"claude-4-opus":   "CLAUDE_OPUS_4_5_V1_0",
	"opus":            "CLAUDE_OPUS_4_5_V1_0",

	"claude-sonnet-4-5": "CLAUDE_SONNET_4_5_V1_0",
	"claude-sonnet-4.5": "CLAUDE_SONNET_4_5_V1_0",
	"claude-4-sonnet":   "CLAUDE_SONNET_4_5_V1_0",

	"claude-sonnet-4":          "CLAUDE_SONNET_4_20250514_V1_0",
	"claude-sonnet-4-20250514": "CLAUDE_SONNET_4_20250514_V1_0",
	"sonnet":                   "CLAUDE_SONNET_4_20250514_V1_0",

	"claude-haiku-4-5": "CLAUDE_HAIKU_4_5_V1_0",
	"claude-haiku-4.5": "CLAUDE_HAIKU_4_5_V1_0",
	"haiku":            "CLAUDE_HAIKU_4_5_V1_0",

	"auto": "AUTO",
}

// DefaultModelID is used when the requested model name is unknown.
const DefaultModelID = "CLAUDE_SONNET_4_20250514_V1_0"

// ResolveModelID maps a public model name to its backend identifier.
func ResolveModelID(name string) string {
	if id, ok := modelIDs[name]; ok {
		return id
	}
	return DefaultModelID
}
