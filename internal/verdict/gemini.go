package verdict

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"courtroom/api/internal/court"
)

const defaultGeminiModel = "gemini-2.5-flash"

// contentGenerator is the subset of genai.Models used here.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Gemini asks a Gemini model for rulings in JSON.
type Gemini struct {
	models contentGenerator
	model  string
}

func NewGemini(ctx context.Context, apiKey, model string) (*Gemini, error) {
	gc, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: %w", err)
	}
	return newGemini(gc.Models, model), nil
}

func newGemini(models contentGenerator, model string) *Gemini {
	if strings.TrimSpace(model) == "" {
		model = defaultGeminiModel
	}
	return &Gemini{models: models, model: model}
}

func (g *Gemini) Generate(ctx context.Context, req Request) (Result, error) {
	prompt, err := json.Marshal(req)
	if err != nil {
		return Result{}, fmt.Errorf("marshal verdict request: %w", err)
	}
	var out Result
	if err := g.generateJSON(ctx, rulingInstruction(req), string(prompt), &out); err != nil {
		return Result{}, err
	}
	if req.Flow != court.FlowGuided {
		out.Analysis = nil
	}
	if err := out.Validate(); err != nil {
		return Result{}, err
	}
	return out, nil
}

func (g *Gemini) Hybrid(ctx context.Context, req HybridRequest) (court.ResolutionOption, error) {
	prompt, err := json.Marshal(req)
	if err != nil {
		return court.ResolutionOption{}, fmt.Errorf("marshal hybrid request: %w", err)
	}
	var out court.ResolutionOption
	if err := g.generateJSON(ctx, hybridInstruction(req.JudgeType), string(prompt), &out); err != nil {
		return court.ResolutionOption{}, err
	}
	if err := validateOption(out); err != nil {
		return court.ResolutionOption{}, err
	}
	out.Hybrid = true
	return out, nil
}

func (g *Gemini) generateJSON(ctx context.Context, instruction, prompt string, out any) error {
	config := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		SystemInstruction: &genai.Content{
			Parts: []*genai.Part{{Text: instruction}},
		},
	}
	contents := []*genai.Content{{
		Role:  "user",
		Parts: []*genai.Part{{Text: prompt}},
	}}

	resp, err := g.models.GenerateContent(ctx, g.model, contents, config)
	if err != nil {
		return fmt.Errorf("gemini: %w", err)
	}
	text := responseText(resp)
	if text == "" {
		return fmt.Errorf("%w: empty response", ErrMalformed)
	}
	if err := json.Unmarshal([]byte(text), out); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part == nil || part.Thought {
			continue
		}
		b.WriteString(part.Text)
	}
	return strings.TrimSpace(b.String())
}

func persona(judgeType string) string {
	switch strings.ToLower(judgeType) {
	case "empathetic":
		return "You are a warm, empathetic judge who names feelings before facts."
	case "blunt":
		return "You are a blunt judge who says plainly who should change what."
	default:
		return "You are a calm, logical judge who weighs each account evenly."
	}
}

func rulingInstruction(req Request) string {
	var b strings.Builder
	b.WriteString(persona(req.JudgeType))
	b.WriteString(" Two partners submitted evidence about a disagreement. ")
	b.WriteString(`Reply with JSON {"ruling":{"summary","validations":[],"accountability":[],"repairAction","closingRemarks"}`)
	if req.Flow == court.FlowGuided {
		b.WriteString(`,"analysis":{"themes":[],"creatorPriming","partnerPriming","jointSummary","resolutionOptions":[{"id","title","description"}]}`)
	}
	b.WriteString("}.")
	if len(req.Addenda) > 0 {
		b.WriteString(" Earlier rulings are in prior; revise them in light of the addenda.")
	}
	return b.String()
}

func hybridInstruction(judgeType string) string {
	return persona(judgeType) + " The partners picked different resolutions. " +
		`Reply with JSON {"id","title","description"} describing one option that combines both picks.`
}
