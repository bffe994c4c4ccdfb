package provider

// Short model aliases accepted in requests. Unrecognized names pass
// through unchanged so new vendor models work without a release.
var modelAliases = map[string]string{
	"haiku":    "claude-haiku-4-5",
	"sonnet":   "claude-sonnet-4-5",
	"opus":     "claude-opus-4-1",
	"gpt":      "gpt-4o",
	"gpt-mini": "gpt-4o-mini",
	"o3":       "o3-2025-04-16",
}

// ResolveModel maps a short alias to a full vendor model identifier.
func ResolveModel(name string) string {
	if full, ok := modelAliases[name]; ok {
		return full
	}
	return name
}
