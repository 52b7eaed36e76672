package court

import "fmt"

// Settlement is an overlay: it never changes Phase until both participants
// agree, so it composes with every open phase of the ladder, PENDING included.

func (t *transition) requestSettlement() error {
	if t.s.Settlement != nil {
		if t.s.Settlement.RequestedBy == t.role {
			return nil
		}
		// Both sides asked for it.
		t.settle()
		return nil
	}
	t.s.Settlement = &Settlement{RequestedBy: t.role, RequestedAt: t.now}
	t.mark()
	return nil
}

func (t *transition) acceptSettlement() error {
	if t.s.Settlement == nil {
		return fmt.Errorf("%w: no settlement request pending", ErrInvalidPhase)
	}
	if t.s.Settlement.RequestedBy == t.role {
		return fmt.Errorf("%w: cannot accept your own settlement request", ErrForbiddenRole)
	}
	t.settle()
	return nil
}

// declineSettlement lets the counterpart decline or the requester withdraw.
func (t *transition) declineSettlement() error {
	if t.s.Settlement == nil {
		return nil
	}
	t.s.Settlement = nil
	t.mark()
	return nil
}

func (t *transition) settle() {
	closeSession(t.s, OutcomeSettled, t.now)
	t.emit(Effect{Kind: EffectCompleted, Outcome: OutcomeSettled})
	t.mark()
}
