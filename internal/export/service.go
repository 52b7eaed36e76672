package export

import (
	"context"
	"fmt"
	"time"
)

// PDFRenderer turns an HTML page into a PDF.
type PDFRenderer func(ctx context.Context, html string, title string) (*Result, error)

type Service struct {
	renderPDF PDFRenderer
	now       func() time.Time
}

func NewService() *Service {
	return &Service{renderPDF: exportPDF, now: time.Now}
}

// WithPDFRenderer replaces the headless Chrome renderer.
func (s *Service) WithPDFRenderer(fn PDFRenderer) *Service {
	s.renderPDF = fn
	return s
}

func (s *Service) Export(ctx context.Context, req Request) (*Result, error) {
	doc, err := s.document(req)
	if err != nil {
		return nil, err
	}

	html, err := RenderHTML(doc)
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}
	title := fmt.Sprintf("verdict-%s-v%d", doc.SessionID, doc.Version)

	switch req.Format {
	case FormatHTML, "":
		return &Result{
			Data:     []byte(html),
			Filename: sanitizeFilename(title) + ".html",
			MimeType: "text/html; charset=utf-8",
		}, nil
	case FormatPDF:
		return s.renderPDF(ctx, html, title)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, req.Format)
	}
}

func (s *Service) document(req Request) (Document, error) {
	role, ok := req.Session.RoleOf(req.ViewerID)
	if !ok {
		return Document{}, ErrNotParticipant
	}
	current := req.Session.CurrentVerdict()
	if current == nil {
		return Document{}, ErrVersionNotFound
	}
	number := req.Version
	if number == 0 {
		number = current.Version
	}

	for _, v := range req.Session.Verdicts {
		if v.Version != number {
			continue
		}
		return Document{
			SessionID:   req.Session.ID,
			Version:     v.Version,
			Current:     v.Version == current.Version,
			JudgeType:   req.Session.JudgeType,
			Flow:        req.Session.Flow,
			Viewer:      role,
			Ruling:      v.Ruling,
			Addendum:    v.Addendum,
			Resolution:  v.Resolution,
			Outcome:     req.Session.Outcome,
			CreatedAt:   v.CreatedAt,
			GeneratedAt: s.now().UTC(),
		}, nil
	}
	return Document{}, fmt.Errorf("%w: v%d", ErrVersionNotFound, number)
}
