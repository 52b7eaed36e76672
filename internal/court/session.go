// Package court holds the two-party court session record, the phase engine
// that mutates it, and the per-participant view projection.
//
// Everything in this package is pure: no I/O, no clocks, no goroutines. The
// caller supplies time and id generation through Env and persists whatever
// Apply returns.
package court

import "time"

type Role string

const (
	RoleCreator Role = "creator"
	RolePartner Role = "partner"
)

func (r Role) Other() Role {
	if r == RoleCreator {
		return RolePartner
	}
	return RoleCreator
}

// Pair holds one value per participant.
type Pair[T any] struct {
	Creator T `json:"creator"`
	Partner T `json:"partner"`
}

func (p Pair[T]) Get(role Role) T {
	if role == RoleCreator {
		return p.Creator
	}
	return p.Partner
}

func (p *Pair[T]) Set(role Role, value T) {
	if role == RoleCreator {
		p.Creator = value
		return
	}
	p.Partner = value
}

type Evidence struct {
	Facts       string    `json:"facts"`
	Feelings    string    `json:"feelings"`
	Needs       string    `json:"needs"`
	SubmittedAt time.Time `json:"submittedAt"`
}

// Ruling is the document produced by the external verdict service.
type Ruling struct {
	Summary        string   `json:"summary"`
	Validations    []string `json:"validations"`
	Accountability []string `json:"accountability"`
	RepairAction   string   `json:"repairAction"`
	ClosingRemarks string   `json:"closingRemarks"`
}

type ResolutionOption struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Hybrid      bool   `json:"hybrid,omitempty"`
}

// Analysis is auxiliary metadata returned next to a ruling. The guided flow
// uses the priming notes and resolution options.
type Analysis struct {
	Themes            []string           `json:"themes"`
	CreatorPriming    string             `json:"creatorPriming"`
	PartnerPriming    string             `json:"partnerPriming"`
	JointSummary      string             `json:"jointSummary"`
	ResolutionOptions []ResolutionOption `json:"resolutionOptions"`
}

func (a *Analysis) Priming(role Role) string {
	if a == nil {
		return ""
	}
	if role == RoleCreator {
		return a.CreatorPriming
	}
	return a.PartnerPriming
}

func (a *Analysis) Option(id string) (ResolutionOption, bool) {
	if a == nil {
		return ResolutionOption{}, false
	}
	for _, option := range a.ResolutionOptions {
		if option.ID == id {
			return option, true
		}
	}
	return ResolutionOption{}, false
}

type Addendum struct {
	Author      Role      `json:"author"`
	Text        string    `json:"text"`
	SubmittedAt time.Time `json:"submittedAt"`
}

// VerdictVersion is immutable once appended to a session.
type VerdictVersion struct {
	Version    int               `json:"version"`
	Ruling     Ruling            `json:"ruling"`
	Addendum   *Addendum         `json:"addendum,omitempty"`
	Resolution *ResolutionOption `json:"resolution,omitempty"`
	CreatedAt  time.Time         `json:"createdAt"`
}

type Settlement struct {
	RequestedBy Role      `json:"requestedBy"`
	RequestedAt time.Time `json:"requestedAt"`
}

type Session struct {
	ID        string `json:"id"`
	CreatorID string `json:"creatorId"`
	PartnerID string `json:"partnerId"`
	JudgeType string `json:"judgeType"`
	Flow      Flow   `json:"flow"`
	Phase     Phase  `json:"phase"`

	Evidence    Pair[*Evidence]  `json:"evidence"`
	Verdicts    []VerdictVersion `json:"verdicts"`
	Acceptances Pair[bool]       `json:"acceptances"`
	Settlement  *Settlement      `json:"settlement,omitempty"`

	AddendumCount int        `json:"addendumCount"`
	AddendumLimit int        `json:"addendumLimit"`
	Addenda       []Addendum `json:"addenda"`

	Analysis      *Analysis         `json:"analysis,omitempty"`
	PendingRuling *Ruling           `json:"pendingRuling,omitempty"`
	PrimingDone   Pair[bool]        `json:"primingDone"`
	JointReady    Pair[bool]        `json:"jointReady"`
	Picks         Pair[string]      `json:"picks"`
	Resolution    *ResolutionOption `json:"resolution,omitempty"`
	HybridPending bool              `json:"hybridPending"`

	Deliberation    int    `json:"deliberation"`
	GenerationError string `json:"generationError,omitempty"`

	Outcome   Outcome    `json:"outcome,omitempty"`
	Dismissed Pair[bool] `json:"dismissed"`

	Revision  int64      `json:"revision"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
	ClosedAt  *time.Time `json:"closedAt,omitempty"`
}

func (s *Session) RoleOf(userID string) (Role, bool) {
	if s == nil || userID == "" {
		return "", false
	}
	switch userID {
	case s.CreatorID:
		return RoleCreator, true
	case s.PartnerID:
		return RolePartner, true
	}
	return "", false
}

func (s *Session) ParticipantID(role Role) string {
	if role == RoleCreator {
		return s.CreatorID
	}
	return s.PartnerID
}

func (s *Session) Open() bool {
	return s != nil && s.Phase != PhaseClosed
}

// CurrentVerdict returns the actionable version, or nil before the first ruling.
func (s *Session) CurrentVerdict() *VerdictVersion {
	if s == nil || len(s.Verdicts) == 0 {
		return nil
	}
	return &s.Verdicts[len(s.Verdicts)-1]
}

// Clone returns a deep copy. Verdict versions are copied as well so the
// returned value never aliases the receiver's slices.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	next := *s
	next.Evidence = Pair[*Evidence]{
		Creator: cloneEvidence(s.Evidence.Creator),
		Partner: cloneEvidence(s.Evidence.Partner),
	}
	next.Verdicts = cloneVerdicts(s.Verdicts)
	if s.Settlement != nil {
		settlement := *s.Settlement
		next.Settlement = &settlement
	}
	next.Addenda = append([]Addendum(nil), s.Addenda...)
	next.Analysis = cloneAnalysis(s.Analysis)
	if s.PendingRuling != nil {
		ruling := cloneRuling(*s.PendingRuling)
		next.PendingRuling = &ruling
	}
	next.Resolution = cloneOption(s.Resolution)
	if s.ClosedAt != nil {
		closedAt := *s.ClosedAt
		next.ClosedAt = &closedAt
	}
	return &next
}

func cloneEvidence(e *Evidence) *Evidence {
	if e == nil {
		return nil
	}
	copied := *e
	return &copied
}

func cloneRuling(r Ruling) Ruling {
	r.Validations = append([]string(nil), r.Validations...)
	r.Accountability = append([]string(nil), r.Accountability...)
	return r
}

func cloneOption(o *ResolutionOption) *ResolutionOption {
	if o == nil {
		return nil
	}
	copied := *o
	return &copied
}

func cloneAnalysis(a *Analysis) *Analysis {
	if a == nil {
		return nil
	}
	copied := *a
	copied.Themes = append([]string(nil), a.Themes...)
	copied.ResolutionOptions = append([]ResolutionOption(nil), a.ResolutionOptions...)
	return &copied
}

func cloneVerdicts(items []VerdictVersion) []VerdictVersion {
	if items == nil {
		return nil
	}
	out := make([]VerdictVersion, len(items))
	for i, item := range items {
		out[i] = item
		out[i].Ruling = cloneRuling(item.Ruling)
		if item.Addendum != nil {
			addendum := *item.Addendum
			out[i].Addendum = &addendum
		}
		out[i].Resolution = cloneOption(item.Resolution)
	}
	return out
}
