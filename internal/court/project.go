package court

import "time"

// View is what one participant is allowed to see. Session is nil for IDLE.
type View struct {
	Phase   ViewPhase    `json:"phase"`
	Role    Role         `json:"role,omitempty"`
	Version int64        `json:"version"`
	Session *SessionView `json:"session,omitempty"`
}

type SettlementView struct {
	RequestedByMe      bool      `json:"requestedByMe"`
	RequestedByPartner bool      `json:"requestedByPartner"`
	RequestedAt        time.Time `json:"requestedAt"`
}

type SessionView struct {
	ID            string `json:"id"`
	Role          Role   `json:"role"`
	CreatorID     string `json:"creatorId"`
	PartnerID     string `json:"partnerId"`
	CounterpartID string `json:"counterpartId"`
	JudgeType     string `json:"judgeType"`
	Flow          Flow   `json:"flow"`
	Phase         Phase  `json:"phase"`

	MyEvidence       *Evidence `json:"myEvidence,omitempty"`
	PartnerEvidence  *Evidence `json:"partnerEvidence,omitempty"`
	PartnerSubmitted bool      `json:"partnerSubmitted"`

	Verdicts          []VerdictVersion `json:"verdicts"`
	CurrentVersion    int              `json:"currentVersion"`
	MyAcceptance      bool             `json:"myAcceptance"`
	PartnerAcceptance bool             `json:"partnerAcceptance"`
	Settlement        *SettlementView  `json:"settlement,omitempty"`

	AddendumCount     int        `json:"addendumCount"`
	AddendumLimit     int        `json:"addendumLimit"`
	CanSubmitAddendum bool       `json:"canSubmitAddendum"`
	Addenda           []Addendum `json:"addenda"`

	Priming           string             `json:"priming,omitempty"`
	JointSummary      string             `json:"jointSummary,omitempty"`
	Themes            []string           `json:"themes,omitempty"`
	ResolutionOptions []ResolutionOption `json:"resolutionOptions,omitempty"`
	MyPick            string             `json:"myPick,omitempty"`
	PartnerPick       string             `json:"partnerPick,omitempty"`
	PartnerPicked     bool               `json:"partnerPicked"`
	Resolution        *ResolutionOption  `json:"resolution,omitempty"`
	HybridPending     bool               `json:"hybridPending"`

	GenerationError string     `json:"generationError,omitempty"`
	Outcome         Outcome    `json:"outcome,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
	ClosedAt        *time.Time `json:"closedAt,omitempty"`
}

// Idle is the view of a user with no visible session.
func Idle() View {
	return View{Phase: ViewIdle}
}

// Project derives the view of viewerID. The result shares no memory with s.
func Project(s *Session, viewerID string) View {
	if s == nil {
		return Idle()
	}
	role, ok := s.RoleOf(viewerID)
	if !ok {
		return Idle()
	}
	if s.Phase == PhaseClosed && s.Dismissed.Get(role) {
		return View{Phase: ViewIdle, Role: role, Version: s.Revision}
	}

	other := role.Other()
	bothSubmitted := s.Evidence.Creator != nil && s.Evidence.Partner != nil
	bothPicked := s.Picks.Creator != "" && s.Picks.Partner != ""

	sv := &SessionView{
		ID:                s.ID,
		Role:              role,
		CreatorID:         s.CreatorID,
		PartnerID:         s.PartnerID,
		CounterpartID:     s.ParticipantID(other),
		JudgeType:         s.JudgeType,
		Flow:              s.Flow,
		Phase:             s.Phase,
		MyEvidence:        cloneEvidence(s.Evidence.Get(role)),
		PartnerSubmitted:  s.Evidence.Get(other) != nil,
		Verdicts:          cloneVerdicts(s.Verdicts),
		MyAcceptance:      s.Acceptances.Get(role),
		PartnerAcceptance: s.Acceptances.Get(other),
		AddendumCount:     s.AddendumCount,
		AddendumLimit:     s.AddendumLimit,
		CanSubmitAddendum: s.Phase == PhaseVerdict && s.AddendumCount < s.AddendumLimit,
		Addenda:           append([]Addendum(nil), s.Addenda...),
		MyPick:            s.Picks.Get(role),
		PartnerPicked:     s.Picks.Get(other) != "",
		Resolution:        cloneOption(s.Resolution),
		HybridPending:     s.HybridPending,
		GenerationError:   s.GenerationError,
		Outcome:           s.Outcome,
		CreatedAt:         s.CreatedAt,
		UpdatedAt:         s.UpdatedAt,
	}
	if bothSubmitted {
		sv.PartnerEvidence = cloneEvidence(s.Evidence.Get(other))
	}
	if bothPicked {
		sv.PartnerPick = s.Picks.Get(other)
	}
	if current := s.CurrentVerdict(); current != nil {
		sv.CurrentVersion = current.Version
	}
	if s.Settlement != nil {
		sv.Settlement = &SettlementView{
			RequestedByMe:      s.Settlement.RequestedBy == role,
			RequestedByPartner: s.Settlement.RequestedBy == other,
			RequestedAt:        s.Settlement.RequestedAt,
		}
	}
	if s.Analysis != nil {
		sv.Priming = s.Analysis.Priming(role)
		sv.JointSummary = s.Analysis.JointSummary
		sv.Themes = append([]string(nil), s.Analysis.Themes...)
		sv.ResolutionOptions = append([]ResolutionOption(nil), s.Analysis.ResolutionOptions...)
	}
	if s.ClosedAt != nil {
		closedAt := *s.ClosedAt
		sv.ClosedAt = &closedAt
	}

	return View{Phase: viewPhase(s, role), Role: role, Version: s.Revision, Session: sv}
}

func viewPhase(s *Session, role Role) ViewPhase {
	switch s.Phase {
	case PhasePending:
		if role == RoleCreator {
			return ViewPendingCreator
		}
		return ViewPendingPartner
	case PhaseEvidence:
		if s.Evidence.Get(role) != nil {
			return ViewWaitingEvidence
		}
		return ViewEvidence
	case PhaseAnalyzing:
		return ViewAnalyzing
	case PhasePriming:
		if s.PrimingDone.Get(role) {
			return ViewWaitingPriming
		}
		return ViewPriming
	case PhaseJointMenu:
		if s.JointReady.Get(role) {
			return ViewWaitingJoint
		}
		return ViewJointMenu
	case PhaseResolution:
		switch {
		case s.picksDiffer():
			return ViewResolutionMismatch
		case s.Picks.Get(role) != "":
			return ViewWaitingResolution
		default:
			return ViewResolutionSelect
		}
	case PhaseVerdict:
		if s.Acceptances.Get(role) {
			return ViewWaitingAccept
		}
		return ViewVerdict
	default:
		return ViewClosed
	}
}
