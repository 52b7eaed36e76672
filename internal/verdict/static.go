package verdict

import (
	"context"
	"fmt"
	"strings"

	"courtroom/api/internal/court"
)

// Static writes deterministic rulings from the evidence alone. It backs
// development servers and tests.
type Static struct{}

func (Static) Generate(ctx context.Context, req Request) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	judge := req.JudgeType
	if judge == "" {
		judge = court.DefaultJudgeType
	}

	summary := fmt.Sprintf("The %s judge heard %q and %q.", judge, excerpt(req.Creator.Facts), excerpt(req.Partner.Facts))
	if n := len(req.Addenda); n > 0 {
		summary += fmt.Sprintf(" Deliberation %d considered the addendum %q.", len(req.Prior)+1, excerpt(req.Addenda[n-1].Text))
	}

	result := Result{
		Ruling: court.Ruling{
			Summary:        summary,
			Validations:    nonEmpty(req.Creator.Feelings, req.Partner.Feelings),
			Accountability: nonEmpty(req.Creator.Needs, req.Partner.Needs),
			RepairAction:   "Spend ten minutes each restating what the other needs.",
			ClosingRemarks: "Both of you showed up. That counts.",
		},
	}
	if req.Flow == court.FlowGuided {
		result.Analysis = &court.Analysis{
			Themes:         []string{"communication", "fairness"},
			CreatorPriming: "Think about what you most want your partner to understand.",
			PartnerPriming: "Think about what you most want your partner to understand.",
			JointSummary:   "You both want to feel heard before deciding anything.",
			ResolutionOptions: []court.ResolutionOption{
				{ID: "talk", Title: "Scheduled talk", Description: "Set a weekly check-in."},
				{ID: "swap", Title: "Swap roles", Description: "Trade the disputed task for a week."},
				{ID: "pause", Title: "Cooling off", Description: "Pause and revisit in two days."},
			},
		}
	}
	return result, nil
}

func (Static) Hybrid(ctx context.Context, req HybridRequest) (court.ResolutionOption, error) {
	if err := ctx.Err(); err != nil {
		return court.ResolutionOption{}, err
	}
	return court.ResolutionOption{
		ID:          "hybrid",
		Title:       req.CreatorPick.Title + " + " + req.PartnerPick.Title,
		Description: strings.TrimSpace(req.CreatorPick.Description + " " + req.PartnerPick.Description),
		Hybrid:      true,
	}, nil
}

func excerpt(text string) string {
	const limit = 80
	runes := []rune(strings.TrimSpace(text))
	if len(runes) <= limit {
		return string(runes)
	}
	return string(runes[:limit]) + "…"
}

func nonEmpty(values ...string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		if value = strings.TrimSpace(value); value != "" {
			out = append(out, value)
		}
	}
	return out
}
