package pipeline

// BestResultTracker keeps the highest-scoring document seen across repair
// cycles. Upgrades require a strictly greater score, so the kept HTML is
// always the first one to reach the current maximum.
type BestResultTracker struct {
	html  string
	score float64
	set   bool
}

// Offer records a candidate and reports whether it became the new best.
func (t *BestResultTracker) Offer(html string, score float64) bool {
	if t.set && score <= t.score {
		return false
	}
	t.html = html
	t.score = score
	t.set = true
	return true
}

// Best returns the winning document. ok is false when nothing was offered.
func (t *BestResultTracker) Best() (html string, score float64, ok bool) {
	return t.html, t.score, t.set
}
