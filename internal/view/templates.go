package view

import (
	"bytes"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/filingdesk/filingdesk/internal/shared"
	"github.com/filingdesk/filingdesk/web"
)

// Engine renders HTML templates. Each page is parsed into its own set on top
// of the shared layouts and partials so pages can define the same blocks.
type Engine struct {
	pages map[string]*template.Template
}

// Viewer describes the signed-in user shown in the navigation.
type Viewer struct {
	Name  string
	Email string
	Role  shared.Role
}

// IsAdmin reports whether the navigation should show admin links.
func (v *Viewer) IsAdmin() bool {
	return v != nil && v.Role == shared.RoleAdmin
}

// TemplateData contains values shared across templates.
type TemplateData struct {
	Title       string
	CSRFToken   string
	Flash       *shared.FlashMessage
	CurrentPath string
	Viewer      *Viewer
	Data        any
}

// NewEngine parses templates at build-time.
func NewEngine() (*Engine, error) {
	base, err := template.New("root").Funcs(Funcs()).ParseFS(web.Templates, "templates/layouts/*.html", "templates/partials/*.html")
	if err != nil {
		return nil, fmt.Errorf("view: parse layouts: %w", err)
	}
	files, err := fs.Glob(web.Templates, "templates/pages/*.html")
	if err != nil {
		return nil, fmt.Errorf("view: list pages: %w", err)
	}
	pages := make(map[string]*template.Template, len(files))
	for _, file := range files {
		set, err := base.Clone()
		if err != nil {
			return nil, err
		}
		if _, err := set.ParseFS(web.Templates, file); err != nil {
			return nil, fmt.Errorf("view: parse %s: %w", file, err)
		}
		pages["pages/"+path.Base(file)] = set
	}
	return &Engine{pages: pages}, nil
}

// Render executes the page's layout with TemplateData. Output is buffered so
// a template error never leaves a half-written page.
func (e *Engine) Render(w http.ResponseWriter, name string, status int, data TemplateData) error {
	if e == nil {
		return fmt.Errorf("template engine not initialised")
	}
	set, ok := e.pages[name]
	if !ok {
		return fmt.Errorf("view: unknown page %q", name)
	}
	var buf bytes.Buffer
	if err := set.ExecuteTemplate(&buf, "layout", data); err != nil {
		return fmt.Errorf("view: render %s: %w", name, err)
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, err := buf.WriteTo(w)
	return err
}

// Funcs returns the helpers available to every template.
func Funcs() template.FuncMap {
	return template.FuncMap{
		"formatDate": func(t time.Time) string {
			if t.IsZero() {
				return ""
			}
			return t.Format("02 Jan 2006")
		},
		"formatDateTime": func(t time.Time) string {
			if t.IsZero() {
				return ""
			}
			return t.Format("02 Jan 2006 15:04")
		},
		"isoDate": func(t time.Time) string {
			if t.IsZero() {
				return ""
			}
			return t.Format(time.DateOnly)
		},
		"money":     Money,
		"decimal":   func(d decimal.Decimal) string { return d.String() },
		"upper":     strings.ToUpper,
		"title":     titleCase,
		"add":       func(a, b int) int { return a + b },
		"sameMoney": func(a, b decimal.Decimal) bool { return a.Equal(b) },
	}
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
