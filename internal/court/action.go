package court

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

type ActionKind string

const (
	ActionServe                   ActionKind = "serve"
	ActionAccept                  ActionKind = "accept"
	ActionCancel                  ActionKind = "cancel"
	ActionSubmitEvidence          ActionKind = "submitEvidence"
	ActionAcceptVerdict           ActionKind = "acceptVerdict"
	ActionSubmitAddendum          ActionKind = "submitAddendum"
	ActionRetryVerdict            ActionKind = "retryVerdict"
	ActionRequestSettlement       ActionKind = "requestSettlement"
	ActionAcceptSettlement        ActionKind = "acceptSettlement"
	ActionDeclineSettlement       ActionKind = "declineSettlement"
	ActionDismiss                 ActionKind = "dismiss"
	ActionMarkPrimingComplete     ActionKind = "markPrimingComplete"
	ActionMarkJointReady          ActionKind = "markJointReady"
	ActionSubmitResolutionPick    ActionKind = "submitResolutionPick"
	ActionRequestHybridResolution ActionKind = "requestHybridResolution"
)

var actionKinds = map[ActionKind]struct{}{
	ActionServe:                   {},
	ActionAccept:                  {},
	ActionCancel:                  {},
	ActionSubmitEvidence:          {},
	ActionAcceptVerdict:           {},
	ActionSubmitAddendum:          {},
	ActionRetryVerdict:            {},
	ActionRequestSettlement:       {},
	ActionAcceptSettlement:        {},
	ActionDeclineSettlement:       {},
	ActionDismiss:                 {},
	ActionMarkPrimingComplete:     {},
	ActionMarkJointReady:          {},
	ActionSubmitResolutionPick:    {},
	ActionRequestHybridResolution: {},
}

const (
	DefaultJudgeType = "logical"

	maxJudgeTypeRunes = 32
	maxEvidenceRunes  = 4000
	maxAddendumRunes  = 2000
)

func ParseActionKind(name string) (ActionKind, error) {
	kind := ActionKind(strings.TrimSpace(name))
	if _, ok := actionKinds[kind]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownAction, name)
	}
	return kind, nil
}

// LongRunning reports whether the action may invoke the verdict service
// before acknowledging, which warrants a longer client-side ack timeout.
func (k ActionKind) LongRunning() bool {
	switch k {
	case ActionSubmitAddendum, ActionRequestHybridResolution, ActionRetryVerdict:
		return true
	}
	return false
}

// Action is an intent sent by a participant. Only the fields relevant to
// Kind are read.
type Action struct {
	Kind      ActionKind `json:"action"`
	PartnerID string     `json:"partnerId,omitempty"`
	JudgeType string     `json:"judgeType,omitempty"`
	Flow      Flow       `json:"flow,omitempty"`
	Evidence  string     `json:"evidence,omitempty"`
	Feelings  string     `json:"feelings,omitempty"`
	Needs     string     `json:"needs,omitempty"`
	Text      string     `json:"text,omitempty"`
	OptionID  string     `json:"optionId,omitempty"`
}

// Normalize trims free-text fields and fills defaults.
func (a Action) Normalize() Action {
	a.PartnerID = strings.TrimSpace(a.PartnerID)
	a.JudgeType = strings.TrimSpace(a.JudgeType)
	if a.Kind == ActionServe && a.JudgeType == "" {
		a.JudgeType = DefaultJudgeType
	}
	if a.Kind == ActionServe && a.Flow == "" {
		a.Flow = FlowClassic
	}
	a.Evidence = strings.TrimSpace(a.Evidence)
	a.Feelings = strings.TrimSpace(a.Feelings)
	a.Needs = strings.TrimSpace(a.Needs)
	a.Text = strings.TrimSpace(a.Text)
	a.OptionID = strings.TrimSpace(a.OptionID)
	return a
}

// Validate checks the shape of the action, independent of session state.
func (a Action) Validate() error {
	if _, ok := actionKinds[a.Kind]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownAction, a.Kind)
	}
	switch a.Kind {
	case ActionServe:
		if a.PartnerID == "" {
			return fmt.Errorf("%w: partnerId is required", ErrInvalidInput)
		}
		if utf8.RuneCountInString(a.JudgeType) > maxJudgeTypeRunes {
			return fmt.Errorf("%w: judgeType must be at most %d characters", ErrInvalidInput, maxJudgeTypeRunes)
		}
		if a.Flow != FlowClassic && a.Flow != FlowGuided {
			return fmt.Errorf("%w: flow must be %q or %q", ErrInvalidInput, FlowClassic, FlowGuided)
		}
	case ActionSubmitEvidence:
		if a.Evidence == "" {
			return fmt.Errorf("%w: evidence is required", ErrInvalidInput)
		}
		for name, value := range map[string]string{"evidence": a.Evidence, "feelings": a.Feelings, "needs": a.Needs} {
			if utf8.RuneCountInString(value) > maxEvidenceRunes {
				return fmt.Errorf("%w: %s must be at most %d characters", ErrInvalidInput, name, maxEvidenceRunes)
			}
		}
	case ActionSubmitAddendum:
		if a.Text == "" {
			return fmt.Errorf("%w: text is required", ErrInvalidInput)
		}
		if utf8.RuneCountInString(a.Text) > maxAddendumRunes {
			return fmt.Errorf("%w: text must be at most %d characters", ErrInvalidInput, maxAddendumRunes)
		}
	case ActionSubmitResolutionPick:
		if a.OptionID == "" {
			return fmt.Errorf("%w: optionId is required", ErrInvalidInput)
		}
	}
	return nil
}
