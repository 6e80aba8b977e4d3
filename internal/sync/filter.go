package sync

import (
	"regexp"
	"strings"

	"citasync/internal/core"
)

// IsExcluded tests the event's combined summary and description against
// every exclusion pattern; any match excludes it.
func IsExcluded(e core.EventRecord, patterns []*regexp.Regexp) bool {
	text := strings.ToLower(e.Summary + "\n" + e.Description)
	for _, p := range patterns {
		if p.MatchString(text) {
			return true
		}
	}
	return false
}

// SplitExcluded routes raw events into the keep stream and the removal
// stream. Excluded events go to removal rather than being silently
// skipped: an event stored by a prior sync that a new pattern now matches
// must be actively deleted.
func SplitExcluded(events []core.EventRecord, patterns []*regexp.Regexp) (kept []core.EventRecord, excluded []core.EventKey) {
	for _, e := range events {
		if IsExcluded(e, patterns) {
			excluded = append(excluded, e.Key())
			continue
		}
		kept = append(kept, e)
	}
	return kept, excluded
}
