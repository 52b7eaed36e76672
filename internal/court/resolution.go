package court

import "fmt"

const hybridOptionID = "hybrid"

func (t *transition) markPrimingComplete() error {
	if t.s.PrimingDone.Get(t.role) {
		return nil
	}
	if err := t.requirePhase(PhasePriming, ActionMarkPrimingComplete); err != nil {
		return err
	}
	t.s.PrimingDone.Set(t.role, true)
	if t.s.PrimingDone.Creator && t.s.PrimingDone.Partner {
		t.s.Phase = PhaseJointMenu
	}
	t.mark()
	return nil
}

func (t *transition) markJointReady() error {
	if t.s.JointReady.Get(t.role) {
		return nil
	}
	if err := t.requirePhase(PhaseJointMenu, ActionMarkJointReady); err != nil {
		return err
	}
	t.s.JointReady.Set(t.role, true)
	if t.s.JointReady.Creator && t.s.JointReady.Partner {
		t.s.Phase = PhaseResolution
	}
	t.mark()
	return nil
}

func (t *transition) submitResolutionPick(optionID string) error {
	if err := t.requirePhase(PhaseResolution, ActionSubmitResolutionPick); err != nil {
		return err
	}
	if t.s.HybridPending {
		return fmt.Errorf("%w: hybrid resolution in progress", ErrInvalidPhase)
	}
	option, ok := t.s.Analysis.Option(optionID)
	if !ok {
		return fmt.Errorf("%w: unknown resolution option %q", ErrInvalidInput, optionID)
	}
	if t.s.Picks.Get(t.role) == optionID {
		return nil
	}
	t.s.Picks.Set(t.role, optionID)
	t.mark()
	if t.s.Picks.Get(t.role.Other()) == optionID {
		t.finalize(option)
	}
	return nil
}

func (t *transition) requestHybridResolution() error {
	if err := t.requirePhase(PhaseResolution, ActionRequestHybridResolution); err != nil {
		return err
	}
	if !t.s.picksDiffer() {
		return fmt.Errorf("%w: hybrid resolution requires two different picks", ErrInvalidPhase)
	}
	if t.s.HybridPending {
		return nil
	}
	t.s.HybridPending = true
	t.s.GenerationError = ""
	t.s.Deliberation++
	t.emit(Effect{Kind: EffectGenerateHybrid, Seq: t.s.Deliberation})
	t.mark()
	return nil
}

// finalize records the agreed resolution and publishes the pending ruling
// as a verdict version.
func (t *transition) finalize(option ResolutionOption) {
	t.s.Resolution = &option
	var ruling Ruling
	if t.s.PendingRuling != nil {
		ruling = *t.s.PendingRuling
	}
	appendVerdict(t.s, ruling, nil, cloneOption(&option), t.now)
	t.s.PendingRuling = nil
	t.s.HybridPending = false
	t.s.Phase = PhaseVerdict
	t.mark()
}

func (s *Session) picksDiffer() bool {
	return s.Picks.Creator != "" && s.Picks.Partner != "" && s.Picks.Creator != s.Picks.Partner
}
