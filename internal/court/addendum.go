package court

import "fmt"

func (t *transition) submitAddendum(text string) error {
	if err := t.requirePhase(PhaseVerdict, ActionSubmitAddendum); err != nil {
		return err
	}
	if t.s.AddendumCount >= t.s.AddendumLimit {
		return fmt.Errorf("%w: %d of %d addenda used", ErrAddendumLimit, t.s.AddendumCount, t.s.AddendumLimit)
	}
	t.s.AddendumCount++
	t.s.Addenda = append(t.s.Addenda, Addendum{Author: t.role, Text: text, SubmittedAt: t.now})
	t.s.Acceptances = Pair[bool]{}
	t.deliberate()
	return nil
}

// AddendaRemaining is how many re-deliberations the session still allows.
func (s *Session) AddendaRemaining() int {
	if s == nil || s.AddendumCount >= s.AddendumLimit {
		return 0
	}
	return s.AddendumLimit - s.AddendumCount
}
