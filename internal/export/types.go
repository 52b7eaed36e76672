// Package export renders verdict versions to HTML and PDF.
package export

import (
	"errors"
	"time"

	"courtroom/api/internal/court"
)

type Format string

const (
	FormatHTML Format = "html"
	FormatPDF  Format = "pdf"
)

func ParseFormat(raw string) (Format, error) {
	switch Format(raw) {
	case "", FormatHTML:
		return FormatHTML, nil
	case FormatPDF:
		return FormatPDF, nil
	}
	return "", ErrUnsupportedFormat
}

// Request selects one verdict version of a session as seen by ViewerID.
type Request struct {
	Session  *court.Session
	ViewerID string
	Version  int // 0 selects the current version
	Format   Format
}

// Result contains the export output
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

// Document is the template input for one verdict version.
type Document struct {
	SessionID   string
	Version     int
	Current     bool
	JudgeType   string
	Flow        court.Flow
	Viewer      court.Role
	Ruling      court.Ruling
	Addendum    *court.Addendum
	Resolution  *court.ResolutionOption
	Outcome     court.Outcome
	CreatedAt   time.Time
	GeneratedAt time.Time
}

var (
	// ErrVersionNotFound indicates the requested verdict version does not exist.
	ErrVersionNotFound = errors.New("export verdict version not found")
	// ErrNotParticipant indicates the viewer is not part of the session.
	ErrNotParticipant = errors.New("export viewer is not a participant")
	// ErrUnsupportedFormat indicates an unknown export format.
	ErrUnsupportedFormat = errors.New("export format not supported")
	// ErrPDFDependencyMissing indicates PDF export runtime dependencies are unavailable.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
)
