package alerts

import (
	"time"

	"github.com/ternarybob/linkaudit/internal/common"
)

// Gate decides whether a collection's report goes out today
type Gate struct {
	days map[time.Weekday]bool
	mode string
	now  func() time.Time
}

// NewGate creates a gate for the given alert weekdays and email mode
func NewGate(days []time.Weekday, mode string) *Gate {
	set := make(map[time.Weekday]bool, len(days))
	for _, d := range days {
		set[d] = true
	}
	return &Gate{days: set, mode: mode, now: time.Now}
}

// ShouldSend reports whether to send and why. force is set by the run when
// reconciliation found new, missing, reappeared or renamed files.
func (g *Gate) ShouldSend(lastEmail time.Time, force bool) (bool, string) {
	now := g.now()
	switch {
	case g.mode == common.EmailModeForce:
		return true, "forced by email mode"
	case force:
		return true, "forced by reconciliation changes"
	case !g.days[now.Weekday()]:
		return false, "not an alert day"
	case sameDay(lastEmail, now):
		return false, "already sent today"
	}
	return true, "scheduled alert day"
}

func sameDay(a, b time.Time) bool {
	if a.IsZero() {
		return false
	}
	a = a.In(b.Location())
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
