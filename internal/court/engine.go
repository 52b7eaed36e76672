package court

import (
	"fmt"
	"strings"
	"time"

	"courtroom/api/internal/rbac"
)

// Env carries the impure inputs of a transition.
type Env struct {
	Now           time.Time
	NewID         func() string
	AddendumLimit int
}

type EffectKind string

const (
	// EffectGenerateVerdict asks the caller to invoke the verdict service for
	// deliberation Seq.
	EffectGenerateVerdict EffectKind = "generate_verdict"
	// EffectGenerateHybrid asks the caller to synthesize a hybrid resolution.
	EffectGenerateHybrid EffectKind = "generate_hybrid"
	// EffectCompleted signals a resolved or settled session.
	EffectCompleted EffectKind = "completed"
)

type Effect struct {
	Kind    EffectKind
	Seq     int
	Outcome Outcome
}

type Result struct {
	// Session is the state after the action. It is the unchanged input when
	// Changed is false, and nil only when no session exists at all.
	Session *Session
	// Retired is the creator's previous closed session, dismissed implicitly
	// by serving a new one. It must be persisted alongside Session.
	Retired *Session
	Effects []Effect
	Changed bool
}

// Apply validates action against the current session of actorID and
// returns the next state. current is never modified.
func Apply(current *Session, actorID string, action Action, env Env) (Result, error) {
	action = action.Normalize()
	if err := action.Validate(); err != nil {
		return Result{}, err
	}
	actorID = strings.TrimSpace(actorID)
	if actorID == "" {
		return Result{}, fmt.Errorf("%w: actor is required", ErrInvalidInput)
	}

	switch action.Kind {
	case ActionServe:
		return serve(current, actorID, action, env)
	case ActionDismiss:
		return dismiss(current, actorID, env)
	}

	if current == nil {
		return Result{}, ErrNoSession
	}
	role, ok := current.RoleOf(actorID)
	if !ok {
		return Result{}, ErrNotParticipant
	}
	if !rbac.Can(rbac.Role(role), rbac.Action(action.Kind)) {
		return Result{}, fmt.Errorf("%w: %s may not %s", ErrForbiddenRole, role, action.Kind)
	}
	if current.Phase == PhaseClosed {
		if closedRepeat(current, action.Kind) {
			return Result{Session: current}, nil
		}
		return Result{}, fmt.Errorf("%w: session is closed", ErrInvalidPhase)
	}

	t := &transition{s: current.Clone(), role: role, now: env.Now}
	var err error
	switch action.Kind {
	case ActionAccept:
		err = t.accept()
	case ActionCancel:
		err = t.cancel()
	case ActionSubmitEvidence:
		err = t.submitEvidence(action)
	case ActionAcceptVerdict:
		err = t.acceptVerdict()
	case ActionSubmitAddendum:
		err = t.submitAddendum(action.Text)
	case ActionRetryVerdict:
		err = t.retryVerdict()
	case ActionRequestSettlement:
		err = t.requestSettlement()
	case ActionAcceptSettlement:
		err = t.acceptSettlement()
	case ActionDeclineSettlement:
		err = t.declineSettlement()
	case ActionMarkPrimingComplete:
		err = t.markPrimingComplete()
	case ActionMarkJointReady:
		err = t.markJointReady()
	case ActionSubmitResolutionPick:
		err = t.submitResolutionPick(action.OptionID)
	case ActionRequestHybridResolution:
		err = t.requestHybridResolution()
	default:
		err = fmt.Errorf("%w: %q", ErrUnknownAction, action.Kind)
	}
	if err != nil {
		return Result{}, err
	}
	if !t.changed {
		return Result{Session: current}, nil
	}
	touch(t.s, env.Now)
	return Result{Session: t.s, Effects: t.effects, Changed: true}, nil
}

// closedRepeat reports whether action re-asserts the contribution that
// closed the session, which is answered as a no-op instead of an error.
func closedRepeat(s *Session, kind ActionKind) bool {
	switch kind {
	case ActionAcceptVerdict:
		return s.Outcome == OutcomeResolved
	case ActionAcceptSettlement, ActionRequestSettlement:
		return s.Outcome == OutcomeSettled
	case ActionCancel:
		return s.Outcome == OutcomeCancelled
	}
	return false
}

func serve(current *Session, creatorID string, action Action, env Env) (Result, error) {
	if action.PartnerID == creatorID {
		return Result{}, fmt.Errorf("%w: cannot serve yourself", ErrInvalidInput)
	}
	if current.Open() {
		return Result{}, ErrSessionOpen
	}
	if env.NewID == nil {
		return Result{}, fmt.Errorf("%w: session id generator missing", ErrInvalidInput)
	}

	var retired *Session
	if role, ok := current.RoleOf(creatorID); ok && !current.Dismissed.Get(role) {
		retired = current.Clone()
		retired.Dismissed.Set(role, true)
		touch(retired, env.Now)
	}

	limit := env.AddendumLimit
	if limit <= 0 {
		limit = DefaultAddendumLimit
	}
	next := &Session{
		ID:            env.NewID(),
		CreatorID:     creatorID,
		PartnerID:     action.PartnerID,
		JudgeType:     action.JudgeType,
		Flow:          action.Flow,
		Phase:         PhasePending,
		AddendumLimit: limit,
		CreatedAt:     env.Now,
	}
	touch(next, env.Now)
	for _, previous := range []*Session{current, retired} {
		if previous != nil && next.Revision <= previous.Revision {
			next.Revision = previous.Revision + 1
		}
	}
	return Result{Session: next, Retired: retired, Changed: true}, nil
}

func dismiss(current *Session, actorID string, env Env) (Result, error) {
	if current == nil {
		return Result{}, nil
	}
	role, ok := current.RoleOf(actorID)
	if !ok {
		return Result{}, ErrNotParticipant
	}
	if current.Phase == PhaseClosed && current.Dismissed.Get(role) {
		return Result{Session: current}, nil
	}
	next := current.Clone()
	if next.Phase != PhaseClosed {
		closeSession(next, OutcomeDismissed, env.Now)
	}
	next.Dismissed.Set(role, true)
	touch(next, env.Now)
	return Result{Session: next, Changed: true}, nil
}

type transition struct {
	s       *Session
	role    Role
	now     time.Time
	changed bool
	effects []Effect
}

func (t *transition) mark() {
	t.changed = true
}

func (t *transition) emit(effect Effect) {
	t.effects = append(t.effects, effect)
}

func (t *transition) requirePhase(phase Phase, action ActionKind) error {
	if t.s.Phase != phase {
		return fmt.Errorf("%w: %s requires %s, session is %s", ErrInvalidPhase, action, phase, t.s.Phase)
	}
	return nil
}

// deliberate moves the session into ANALYZING and requests a new ruling.
func (t *transition) deliberate() {
	t.s.Phase = PhaseAnalyzing
	t.s.GenerationError = ""
	t.s.Deliberation++
	t.emit(Effect{Kind: EffectGenerateVerdict, Seq: t.s.Deliberation})
	t.mark()
}

func (t *transition) accept() error {
	switch t.s.Phase {
	case PhasePending:
	case PhaseEvidence:
		// Duplicate accept.
		return nil
	default:
		return t.requirePhase(PhasePending, ActionAccept)
	}
	t.s.Phase = PhaseEvidence
	t.mark()
	return nil
}

func (t *transition) cancel() error {
	if err := t.requirePhase(PhasePending, ActionCancel); err != nil {
		return err
	}
	closeSession(t.s, OutcomeCancelled, t.now)
	t.s.Dismissed = Pair[bool]{Creator: true, Partner: true}
	t.mark()
	return nil
}

func (t *transition) submitEvidence(action Action) error {
	if t.s.Evidence.Get(t.role) != nil {
		return nil
	}
	if err := t.requirePhase(PhaseEvidence, ActionSubmitEvidence); err != nil {
		return err
	}
	t.s.Evidence.Set(t.role, &Evidence{
		Facts:       action.Evidence,
		Feelings:    action.Feelings,
		Needs:       action.Needs,
		SubmittedAt: t.now,
	})
	t.mark()
	if t.s.Evidence.Creator != nil && t.s.Evidence.Partner != nil {
		t.deliberate()
	}
	return nil
}

func (t *transition) acceptVerdict() error {
	if err := t.requirePhase(PhaseVerdict, ActionAcceptVerdict); err != nil {
		return err
	}
	if t.s.Acceptances.Get(t.role) {
		return nil
	}
	t.s.Acceptances.Set(t.role, true)
	t.mark()
	if t.s.Acceptances.Creator && t.s.Acceptances.Partner {
		closeSession(t.s, OutcomeResolved, t.now)
		t.emit(Effect{Kind: EffectCompleted, Outcome: OutcomeResolved})
	}
	return nil
}

func (t *transition) retryVerdict() error {
	if t.s.Phase != PhaseAnalyzing || t.s.GenerationError == "" {
		return fmt.Errorf("%w: no failed verdict generation to retry", ErrInvalidPhase)
	}
	t.deliberate()
	return nil
}

func closeSession(s *Session, outcome Outcome, now time.Time) {
	s.Phase = PhaseClosed
	s.Outcome = outcome
	closedAt := now
	s.ClosedAt = &closedAt
	s.HybridPending = false
	if outcome != OutcomeSettled {
		s.Settlement = nil
	}
}

func appendVerdict(s *Session, ruling Ruling, addendum *Addendum, resolution *ResolutionOption, now time.Time) {
	s.Verdicts = append(s.Verdicts, VerdictVersion{
		Version:    len(s.Verdicts) + 1,
		Ruling:     cloneRuling(ruling),
		Addendum:   addendum,
		Resolution: resolution,
		CreatedAt:  now,
	})
}

// touch advances the freshness marker. Revisions grow by at least one per
// mutation and never fall behind the wall clock in microseconds, so a newer
// session of the same user always outranks an older one.
func touch(s *Session, now time.Time) {
	s.UpdatedAt = now
	next := s.Revision + 1
	if micros := now.UnixMicro(); micros > next {
		next = micros
	}
	s.Revision = next
}
