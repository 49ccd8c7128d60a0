// Package gate renders permission-gated fragments. A Gate tracks a
// permission cache and flips its visibility whenever the cache changes.
package gate

import (
	"bytes"
	"html/template"
	"io"
	"sync"

	"github.com/gadgetcloud/portal/internal/permission"
)

// RenderFunc writes a fragment.
type RenderFunc func(w io.Writer) error

// Source is a permission cache that announces changes.
type Source interface {
	permission.Source
	Subscribe(fn permission.Listener) func()
}

// Visible evaluates req against eval. A zero requirement is never visible.
func Visible(eval permission.Evaluator, req permission.Requirement) bool {
	if req.IsZero() {
		return false
	}
	return eval.Satisfies(req)
}

// Fragment renders fn when req holds and returns the markup, or empty
// markup otherwise.
func Fragment(eval permission.Evaluator, req permission.Requirement, fn RenderFunc) (template.HTML, error) {
	if !Visible(eval, req) || fn == nil {
		return "", nil
	}
	var buf bytes.Buffer
	if err := fn(&buf); err != nil {
		return "", err
	}
	return template.HTML(buf.String()), nil
}

// Gate is a long-lived fragment bound to a cache.
type Gate struct {
	req    permission.Requirement
	render RenderFunc

	mu       sync.RWMutex
	visible  bool
	onChange func(visible bool)
	stop     func()
}

// Option customises a Gate.
type Option func(*Gate)

// OnChange registers fn to run whenever visibility flips.
func OnChange(fn func(visible bool)) Option {
	return func(g *Gate) { g.onChange = fn }
}

// New evaluates req against the current contents of src and subscribes to
// further changes until Close.
func New(src Source, req permission.Requirement, render RenderFunc, opts ...Option) *Gate {
	g := &Gate{req: req, render: render}
	for _, opt := range opts {
		opt(g)
	}
	g.visible = Visible(permission.NewEvaluator(src), req)
	g.stop = src.Subscribe(g.refresh)
	return g
}

type fixed struct{ set *permission.RoleSet }

func (f fixed) Get() *permission.RoleSet { return f.set }

func (g *Gate) refresh(set *permission.RoleSet) {
	next := Visible(permission.NewEvaluator(fixed{set: set}), g.req)

	g.mu.Lock()
	changed := next != g.visible
	g.visible = next
	onChange := g.onChange
	g.mu.Unlock()

	if changed && onChange != nil {
		onChange(next)
	}
}

// Visible reports whether the fragment is currently shown.
func (g *Gate) Visible() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.visible
}

// Render writes the fragment to w when visible and nothing otherwise.
func (g *Gate) Render(w io.Writer) error {
	if !g.Visible() || g.render == nil {
		return nil
	}
	return g.render(w)
}

// Close stops tracking the cache. The gate keeps its last visibility.
func (g *Gate) Close() {
	g.mu.Lock()
	stop := g.stop
	g.stop = nil
	g.mu.Unlock()
	if stop != nil {
		stop()
	}
}
