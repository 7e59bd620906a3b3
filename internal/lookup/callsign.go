package lookup

import "strings"

// StripMarkers removes the "-#" marker skimmer feeds append to spotted
// callsigns, along with stray '#' and hyphens, and upper-cases the result.
func StripMarkers(raw string) string {
	raw = strings.ToUpper(strings.TrimSpace(raw))
	if idx := strings.Index(raw, "-#"); idx != -1 {
		raw = raw[:idx]
	}
	raw = strings.ReplaceAll(raw, "#", "")
	return strings.Trim(raw, "- ")
}
