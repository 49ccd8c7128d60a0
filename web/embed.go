// Package web holds the portal's page templates and static assets.
package web

import (
	"embed"
	"io/fs"
)

// Templates embeds the layouts, partials and pages parsed by the view engine.
//
//go:embed templates/layouts/*.html templates/partials/*.html templates/pages/*.html
var Templates embed.FS

//go:embed static
var static embed.FS

// StaticFS returns the assets rooted at static/, as served under /static/.
func StaticFS() (fs.FS, error) {
	return fs.Sub(static, "static")
}
