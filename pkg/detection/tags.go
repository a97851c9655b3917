package detection

import "strings"

// TagSeparator joins tag lists for display and editing.
const TagSeparator = ", "

// SplitTags parses a comma-separated tag list. Each tag is trimmed of
// surrounding whitespace. A blank string yields an empty, non-nil slice.
func SplitTags(s string) []string {
	if strings.TrimSpace(s) == "" {
		return []string{}
	}
	parts := strings.Split(s, ",")
	tags := make([]string, 0, len(parts))
	for _, p := range parts {
		tags = append(tags, strings.TrimSpace(p))
	}
	return tags
}

// JoinTags renders a tag list for display and editing.
func JoinTags(tags []string) string {
	return strings.Join(tags, TagSeparator)
}
