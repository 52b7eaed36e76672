// Package verdict is the contract with the external service that writes
// rulings, plus the providers the server can be configured with.
package verdict

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"courtroom/api/internal/court"
)

type Request struct {
	SessionID string           `json:"sessionId"`
	JudgeType string           `json:"judgeType"`
	Flow      court.Flow       `json:"flow"`
	Creator   court.Evidence   `json:"creator"`
	Partner   court.Evidence   `json:"partner"`
	Addenda   []court.Addendum `json:"addenda"`
	// Prior holds earlier rulings of the same session, oldest first.
	Prior []court.Ruling `json:"prior"`
}

type Result struct {
	Ruling   court.Ruling    `json:"ruling"`
	Analysis *court.Analysis `json:"analysis,omitempty"`
}

type HybridRequest struct {
	SessionID   string                   `json:"sessionId"`
	JudgeType   string                   `json:"judgeType"`
	Creator     court.Evidence           `json:"creator"`
	Partner     court.Evidence           `json:"partner"`
	Options     []court.ResolutionOption `json:"options"`
	CreatorPick court.ResolutionOption   `json:"creatorPick"`
	PartnerPick court.ResolutionOption   `json:"partnerPick"`
}

type Generator interface {
	Generate(ctx context.Context, req Request) (Result, error)
	Hybrid(ctx context.Context, req HybridRequest) (court.ResolutionOption, error)
}

var ErrMalformed = errors.New("malformed verdict")

// RequestFor builds the deliberation input from the full session history.
func RequestFor(s *court.Session) Request {
	req := Request{
		SessionID: s.ID,
		JudgeType: s.JudgeType,
		Flow:      s.Flow,
		Addenda:   append([]court.Addendum(nil), s.Addenda...),
	}
	if s.Evidence.Creator != nil {
		req.Creator = *s.Evidence.Creator
	}
	if s.Evidence.Partner != nil {
		req.Partner = *s.Evidence.Partner
	}
	for _, version := range s.Verdicts {
		req.Prior = append(req.Prior, version.Ruling)
	}
	return req
}

func HybridRequestFor(s *court.Session) HybridRequest {
	base := RequestFor(s)
	req := HybridRequest{
		SessionID: base.SessionID,
		JudgeType: base.JudgeType,
		Creator:   base.Creator,
		Partner:   base.Partner,
	}
	if s.Analysis != nil {
		req.Options = append(req.Options, s.Analysis.ResolutionOptions...)
	}
	req.CreatorPick, _ = s.Analysis.Option(s.Picks.Creator)
	req.PartnerPick, _ = s.Analysis.Option(s.Picks.Partner)
	return req
}

// Validate rejects rulings the court cannot show to participants.
func (r Result) Validate() error {
	if strings.TrimSpace(r.Ruling.Summary) == "" {
		return fmt.Errorf("%w: summary is empty", ErrMalformed)
	}
	if r.Analysis != nil {
		seen := make(map[string]struct{}, len(r.Analysis.ResolutionOptions))
		for _, option := range r.Analysis.ResolutionOptions {
			if strings.TrimSpace(option.ID) == "" {
				return fmt.Errorf("%w: resolution option without id", ErrMalformed)
			}
			if _, dup := seen[option.ID]; dup {
				return fmt.Errorf("%w: duplicate resolution option %q", ErrMalformed, option.ID)
			}
			seen[option.ID] = struct{}{}
		}
	}
	return nil
}

func validateOption(option court.ResolutionOption) error {
	if strings.TrimSpace(option.Title) == "" {
		return fmt.Errorf("%w: hybrid option has no title", ErrMalformed)
	}
	return nil
}
