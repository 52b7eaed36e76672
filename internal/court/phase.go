package court

// Phase is the canonical state shared by both participants. A missing
// session stands for the IDLE rest state.
type Phase string

const (
	PhasePending    Phase = "PENDING"
	PhaseEvidence   Phase = "EVIDENCE"
	PhaseAnalyzing  Phase = "ANALYZING"
	PhasePriming    Phase = "PRIMING"
	PhaseJointMenu  Phase = "JOINT_MENU"
	PhaseResolution Phase = "RESOLUTION"
	PhaseVerdict    Phase = "VERDICT"
	PhaseClosed     Phase = "CLOSED"
)

// ViewPhase is the role-relative label one participant sees.
type ViewPhase string

const (
	ViewIdle               ViewPhase = "IDLE"
	ViewPendingCreator     ViewPhase = "PENDING_CREATOR"
	ViewPendingPartner     ViewPhase = "PENDING_PARTNER"
	ViewEvidence           ViewPhase = "EVIDENCE"
	ViewWaitingEvidence    ViewPhase = "WAITING_EVIDENCE"
	ViewAnalyzing          ViewPhase = "ANALYZING"
	ViewPriming            ViewPhase = "PRIMING"
	ViewWaitingPriming     ViewPhase = "WAITING_PRIMING"
	ViewJointMenu          ViewPhase = "JOINT_MENU"
	ViewWaitingJoint       ViewPhase = "WAITING_JOINT"
	ViewResolutionSelect   ViewPhase = "RESOLUTION_SELECT"
	ViewResolutionMismatch ViewPhase = "RESOLUTION_MISMATCH"
	ViewWaitingResolution  ViewPhase = "WAITING_RESOLUTION"
	ViewVerdict            ViewPhase = "VERDICT"
	ViewWaitingAccept      ViewPhase = "WAITING_ACCEPT"
	ViewClosed             ViewPhase = "CLOSED"
)

type Flow string

const (
	FlowClassic Flow = "classic"
	FlowGuided  Flow = "guided"
)

// Outcome records why a session closed.
type Outcome string

const (
	OutcomeResolved  Outcome = "resolved"
	OutcomeSettled   Outcome = "settled"
	OutcomeCancelled Outcome = "cancelled"
	OutcomeDismissed Outcome = "dismissed"
)

const DefaultAddendumLimit = 2
