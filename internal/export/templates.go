package export

import (
	"bytes"
	"embed"
	"html/template"
	"strings"
	"time"
)

//go:embed templates/*.html
var templateFS embed.FS

var verdictTemplate = template.Must(
	template.New("verdict.html").Funcs(template.FuncMap{
		"title": func(s string) string {
			if s == "" {
				return s
			}
			return strings.ToUpper(s[:1]) + s[1:]
		},
		"formatDate": func(t time.Time, layout string) string {
			return t.Format(layout)
		},
	}).ParseFS(templateFS, "templates/verdict.html"),
)

// RenderHTML renders one verdict version as a standalone HTML page.
func RenderHTML(doc Document) (string, error) {
	var buf bytes.Buffer
	if err := verdictTemplate.Execute(&buf, doc); err != nil {
		return "", err
	}
	return buf.String(), nil
}
