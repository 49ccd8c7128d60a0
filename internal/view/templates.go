package view

import (
	"fmt"
	"html/template"
	"net/http"
	"strings"
	"time"

	"github.com/gadgetcloud/portal/internal/gate"
	"github.com/gadgetcloud/portal/internal/identity"
	"github.com/gadgetcloud/portal/internal/navigation"
	"github.com/gadgetcloud/portal/internal/permission"
	"github.com/gadgetcloud/portal/internal/shared"
	"github.com/gadgetcloud/portal/web"
)

// Engine renders HTML templates.
type Engine struct {
	templates *template.Template
}

// TemplateData contains values shared across templates.
type TemplateData struct {
	Title       string
	CSRFToken   string
	Flash       *shared.FlashMessage
	CurrentPath string
	User        *identity.Identity
	Menu        *navigation.Menu
	Perms       permission.Evaluator
	Data        any
}

// NewEngine parses the embedded templates.
func NewEngine() (*Engine, error) {
	tpl, err := template.New("root").Funcs(Funcs()).ParseFS(web.Templates, "templates/layouts/*.html", "templates/partials/*.html", "templates/pages/*.html")
	if err != nil {
		return nil, err
	}
	return &Engine{templates: tpl}, nil
}

// Funcs returns the template helpers. can, canAny and canAll gate markup on
// the request's evaluator and treat an empty requirement as hidden.
func Funcs() template.FuncMap {
	return template.FuncMap{
		"formatDate": func(t time.Time) string {
			if t.IsZero() {
				return ""
			}
			return t.Format("02 Jan 2006 15:04")
		},
		"can": func(eval permission.Evaluator, resource, action string) bool {
			return gate.Visible(eval, permission.Require(resource, action))
		},
		"canAny": func(eval permission.Evaluator, checks ...string) bool {
			return gate.Visible(eval, permission.RequireAny(parseChecks(checks)...))
		},
		"canAll": func(eval permission.Evaluator, checks ...string) bool {
			return gate.Visible(eval, permission.RequireAll(parseChecks(checks)...))
		},
		"active": func(current, route string) bool {
			return current == route || strings.HasPrefix(current, route+"/")
		},
		"roleLabel": func(r identity.Role) string { return r.Label() },
	}
}

// parseChecks reads "resource:action" pairs, skipping malformed entries.
func parseChecks(raw []string) []permission.Check {
	out := make([]permission.Check, 0, len(raw))
	for _, item := range raw {
		resource, action, ok := strings.Cut(item, ":")
		if !ok || resource == "" || action == "" {
			continue
		}
		out = append(out, permission.Check{Resource: resource, Action: action})
	}
	return out
}

// Render executes a named template with TemplateData.
func (e *Engine) Render(w http.ResponseWriter, name string, data TemplateData) error {
	if e == nil {
		return fmt.Errorf("template engine not initialised")
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	return e.templates.ExecuteTemplate(w, name, data)
}
