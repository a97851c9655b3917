package detection

import "strconv"

// FormatScore renders an optional score for display.
func FormatScore(v *float64) string {
	if v == nil {
		return "N/A"
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

// FormatTags renders a tag list for display.
func FormatTags(tags []string) string {
	if len(tags) == 0 {
		return "None"
	}
	return JoinTags(tags)
}
