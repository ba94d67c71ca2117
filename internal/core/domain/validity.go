package domain

import "time"

// Window is a message validity window. A nil bound is unconstrained.
type Window struct {
	NotBefore    *time.Time
	NotOnOrAfter *time.Time
}

// Check reports whether ref falls inside the window: ref >= NotBefore (when
// present) and ref < NotOnOrAfter (when present). NotBefore is inclusive,
// NotOnOrAfter exclusive.
//
// This is a pure function for domain logic - no I/O.
func (w Window) Check(ref time.Time) bool {
	if w.NotBefore != nil && ref.Before(*w.NotBefore) {
		return false
	}
	if w.NotOnOrAfter != nil && !ref.Before(*w.NotOnOrAfter) {
		return false
	}
	return true
}

// Slack computes the widened window [ref - maxNotBefore, ref + maxNotOnOrAfter].
// Either slack may be zero, in which case the corresponding bound sits at ref.
func Slack(ref time.Time, maxNotBefore, maxNotOnOrAfter time.Duration) Window {
	nb := ref.Add(-maxNotBefore)
	na := ref.Add(maxNotOnOrAfter)
	return Window{NotBefore: &nb, NotOnOrAfter: &na}
}
