package runner

import (
	"strings"
	"time"

	"github.com/reportmailer/internal/portal"
)

// TimeWindow is the span of submissions a run reports on.
type TimeWindow struct {
	Start time.Time
	End   time.Time
}

func NewWindow(now time.Time, length time.Duration) TimeWindow {
	return TimeWindow{Start: now.Add(-length), End: now}
}

// Fresh reports whether an item created at t belongs to this run. There is
// no upper bound: reports generated by the run are created after End.
func (w TimeWindow) Fresh(t time.Time) bool {
	return t.After(w.Start)
}

// Select keeps the report items created inside the window whose description
// mentions the survey. Everything else stays in the portal untouched.
func Select(items []portal.Item, w TimeWindow, surveyID string) []portal.Item {
	var keep []portal.Item
	for _, it := range items {
		if !w.Fresh(it.CreatedAt()) {
			continue
		}
		if !strings.Contains(it.Description, surveyID) {
			continue
		}
		keep = append(keep, it)
	}
	return keep
}
