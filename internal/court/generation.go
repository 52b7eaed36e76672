package court

import "strings"

// Generation is a successful answer from the verdict service.
type Generation struct {
	Ruling   Ruling
	Analysis *Analysis
}

const defaultGenerationError = "verdict generation failed"

// ApplyGeneration applies the ruling for deliberation seq. Results for a
// deliberation the session has moved past return ErrStaleGeneration.
func ApplyGeneration(current *Session, seq int, gen Generation, env Env) (Result, error) {
	if current == nil || current.Phase != PhaseAnalyzing || current.Deliberation != seq {
		return Result{Session: current}, ErrStaleGeneration
	}
	next := current.Clone()
	next.GenerationError = ""
	if gen.Analysis != nil {
		next.Analysis = cloneAnalysis(gen.Analysis)
	}

	if next.Flow == FlowGuided && len(next.Verdicts) == 0 && hasOptions(next.Analysis) {
		ruling := cloneRuling(gen.Ruling)
		next.PendingRuling = &ruling
		next.Phase = PhasePriming
	} else {
		var addendum *Addendum
		if len(next.Verdicts) > 0 && len(next.Addenda) > 0 {
			last := next.Addenda[len(next.Addenda)-1]
			addendum = &last
		}
		appendVerdict(next, gen.Ruling, addendum, cloneOption(next.Resolution), env.Now)
		next.Phase = PhaseVerdict
	}
	touch(next, env.Now)
	return Result{Session: next, Changed: true}, nil
}

// ApplyHybrid finalizes the guided path with a synthesized option.
func ApplyHybrid(current *Session, seq int, option ResolutionOption, env Env) (Result, error) {
	if current == nil || current.Phase != PhaseResolution || !current.HybridPending || current.Deliberation != seq {
		return Result{Session: current}, ErrStaleGeneration
	}
	next := current.Clone()
	option.Hybrid = true
	if strings.TrimSpace(option.ID) == "" {
		option.ID = hybridOptionID
	}
	next.GenerationError = ""
	t := &transition{s: next, now: env.Now}
	t.finalize(option)
	touch(next, env.Now)
	return Result{Session: next, Changed: true}, nil
}

// ApplyGenerationFailure records a failed verdict or hybrid generation.
// A failed deliberation stays in ANALYZING until retried or dismissed; a
// failed hybrid request lets the participants re-pick or ask again.
func ApplyGenerationFailure(current *Session, seq int, message string, env Env) (Result, error) {
	if current == nil || current.Deliberation != seq {
		return Result{Session: current}, ErrStaleGeneration
	}
	hybrid := current.Phase == PhaseResolution && current.HybridPending
	if current.Phase != PhaseAnalyzing && !hybrid {
		return Result{Session: current}, ErrStaleGeneration
	}
	message = strings.TrimSpace(message)
	if message == "" {
		message = defaultGenerationError
	}
	next := current.Clone()
	next.GenerationError = message
	if hybrid {
		next.HybridPending = false
	}
	touch(next, env.Now)
	return Result{Session: next, Changed: true}, nil
}

func hasOptions(a *Analysis) bool {
	return a != nil && len(a.ResolutionOptions) > 0
}
