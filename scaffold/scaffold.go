// Package scaffold creates a new hutch deployment directory from
// embedded templates, the starting point a beamline team edits into
// their real configuration.
package scaffold

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"text/template"
)

//go:embed templates/*.tmpl
var templates embed.FS

// Params fill the deployment templates.
type Params struct {
	// Hutch is the lowercase hutch name (tmo, xpp, tst).
	Hutch string
}

var subdirs = []string{"experiments", "presets", "logs"}

var files = map[string]string{
	"conf.yml":      "templates/conf.yml.tmpl",
	"camviewer.cfg": "templates/camviewer.cfg.tmpl",
}

// Create writes a deployment for hutch under parent and returns the
// deployment directory. An existing deployment is never overwritten.
func Create(parent, hutch string) (string, error) {
	if hutch == "" {
		return "", fmt.Errorf("hutch name is empty")
	}
	dir := filepath.Join(parent, hutch)
	if _, err := os.Stat(filepath.Join(dir, "conf.yml")); err == nil {
		return "", fmt.Errorf("deployment %s already exists", dir)
	}

	for _, sub := range subdirs {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o777); err != nil {
			return "", fmt.Errorf("create %s: %w", sub, err)
		}
	}

	params := Params{Hutch: hutch}
	for name, src := range files {
		tmpl, err := template.ParseFS(templates, src)
		if err != nil {
			return "", fmt.Errorf("parse template %s: %w", src, err)
		}
		out, err := os.Create(filepath.Join(dir, name))
		if err != nil {
			return "", fmt.Errorf("create %s: %w", name, err)
		}
		if err := tmpl.Execute(out, params); err != nil {
			out.Close()
			return "", fmt.Errorf("render %s: %w", name, err)
		}
		if err := out.Close(); err != nil {
			return "", fmt.Errorf("write %s: %w", name, err)
		}
	}
	return dir, nil
}
