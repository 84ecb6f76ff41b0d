// Package render turns trigger tables into the HTML dashboard.
package render

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

var pageNames = []string{"dashboard", "error"}

// Renderer holds the parsed page templates and the markdown pipeline used
// for free-text configuration fields.
type Renderer struct {
	pages    map[string]*template.Template
	markdown goldmark.Markdown
	policy   *bluemonday.Policy
}

// ErrorPage is the view model of a standalone error page.
type ErrorPage struct {
	Title   string
	Message string
}

// New parses the embedded templates.
func New() (*Renderer, error) {
	base, err := template.New("layout.tmpl").ParseFS(templateFS, "templates/layout.tmpl")
	if err != nil {
		return nil, fmt.Errorf("parse layout: %w", err)
	}

	r := &Renderer{
		pages:    make(map[string]*template.Template, len(pageNames)),
		markdown: goldmark.New(goldmark.WithExtensions(extension.Table, extension.Linkify)),
		policy:   bluemonday.UGCPolicy(),
	}
	for _, name := range pageNames {
		layout, err := base.Clone()
		if err != nil {
			return nil, err
		}
		page, err := layout.ParseFS(templateFS, "templates/"+name+".tmpl")
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", name, err)
		}
		r.pages[name] = page
	}
	return r, nil
}

// RenderDashboard writes a dashboard page.
func (r *Renderer) RenderDashboard(w io.Writer, p DashboardPage) error {
	return r.execute(w, "dashboard", p)
}

// RenderError writes a standalone error page.
func (r *Renderer) RenderError(w io.Writer, p ErrorPage) error {
	return r.execute(w, "error", p)
}

// execute renders into a buffer first so a failing template never leaves a
// half-written response.
func (r *Renderer) execute(w io.Writer, name string, data any) error {
	var buf bytes.Buffer
	if err := r.pages[name].ExecuteTemplate(&buf, "layout", data); err != nil {
		return fmt.Errorf("render %s: %w", name, err)
	}
	_, err := buf.WriteTo(w)
	return err
}

// Markdown converts configuration text to sanitized HTML.
func (r *Renderer) Markdown(src string) template.HTML {
	if strings.TrimSpace(src) == "" {
		return ""
	}
	var buf bytes.Buffer
	if err := r.markdown.Convert([]byte(src), &buf); err != nil {
		return template.HTML("<p>" + template.HTMLEscapeString(src) + "</p>")
	}
	return template.HTML(r.policy.SanitizeBytes(buf.Bytes())) //nolint:gosec // sanitized above
}
