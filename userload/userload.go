// Package userload runs beamline-specific Go modules inside the
// session through the yaegi interpreter. A module is a package main
// file under the deployment directory; everything it exports is
// harvested into the session namespace. Interpreted code reaches the
// objects loaded so far through a small injected "beamline" package.
package userload

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"reflect"
	"sort"
	"strings"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"

	"beamsh"
)

// ErrDeclined is returned when the operator chooses not to continue
// after a module fails to load. It is the only load failure that ends
// the session.
var ErrDeclined = errors.New("operator declined to continue")

// Prompter asks the operator a yes/no question.
type Prompter interface {
	Confirm(prompt string) bool
}

// NewInterpreter builds a yaegi interpreter with the stdlib and the
// bridge package exposing ns to interpreted code.
func NewInterpreter(ns *beamsh.Namespace) (*interp.Interpreter, error) {
	i := interp.New(interp.Options{})
	if err := i.Use(stdlib.Symbols); err != nil {
		return nil, fmt.Errorf("load stdlib symbols: %w", err)
	}
	if err := i.Use(bridgeExports(ns)); err != nil {
		return nil, fmt.Errorf("load beamline symbols: %w", err)
	}
	i.ImportUsed()
	return i, nil
}

// bridgeExports exposes namespace access to interpreted modules as
// the importable package "beamline".
func bridgeExports(ns *beamsh.Namespace) interp.Exports {
	get := func(name string) any {
		obj, _ := ns.Get(name)
		return obj
	}
	mustGet := func(name string) any {
		obj, ok := ns.Get(name)
		if !ok {
			panic(fmt.Sprintf("no object named %q in the session", name))
		}
		return obj
	}
	return interp.Exports{
		"beamline/beamline": {
			"Get":     reflect.ValueOf(get),
			"MustGet": reflect.ValueOf(mustGet),
			"Names":   reflect.ValueOf(ns.SortedNames),
			"Doc":     reflect.ValueOf(ns.Doc),
		},
	}
}

// ModulePath maps a conf.yml module name to its file under dir.
// Names may be plain ("beamline"), nested ("tmo/beamline"), or
// already file paths.
func ModulePath(dir, name string) string {
	if strings.HasSuffix(name, ".go") {
		if filepath.IsAbs(name) {
			return name
		}
		return filepath.Join(dir, name)
	}
	return filepath.Join(dir, filepath.FromSlash(name)+".go")
}

// LoadFile interprets one module file and returns its exported
// symbols as a namespace, names lowercased for the shell.
func LoadFile(path string, ns *beamsh.Namespace) (*beamsh.Namespace, error) {
	i, err := NewInterpreter(ns)
	if err != nil {
		return nil, err
	}
	if _, err := i.EvalPath(path); err != nil {
		return nil, fmt.Errorf("eval %s: %w", path, err)
	}
	return harvest(i), nil
}

// harvest collects the exported package-level symbols the module
// defined in package main.
func harvest(i *interp.Interpreter) *beamsh.Namespace {
	out := beamsh.NewNamespace()
	for pkg, symbols := range i.Symbols("main") {
		if pkg != "main" {
			continue
		}
		names := make([]string, 0, len(symbols))
		for name := range symbols {
			names = append(names, name)
		}
		// Stable order so repeated loads fill the namespace the
		// same way.
		sort.Strings(names)
		for _, name := range names {
			v := symbols[name]
			if !v.IsValid() || !v.CanInterface() {
				continue
			}
			out.Set(strings.ToLower(name), v.Interface())
		}
	}
	return out
}

// LoadModules loads each named module into ns in order. A failed
// module logs its full error chain and asks the operator whether the
// session should keep going; declining returns ErrDeclined.
func LoadModules(dir string, names []string, ns *beamsh.Namespace, prompt Prompter, log *slog.Logger) error {
	if log == nil {
		log = slog.Default()
	}
	for _, name := range names {
		path := ModulePath(dir, name)
		loaded, err := LoadFile(path, ns)
		if err != nil {
			log.Error("Could not load user module.", "module", name, "err", err)
			if prompt != nil && !prompt.Confirm(fmt.Sprintf("Module %s failed to load. Continue anyway?", name)) {
				return fmt.Errorf("module %s: %w", name, ErrDeclined)
			}
			continue
		}
		mergeWithWarnings(ns, loaded, name, log)
		log.Info("Loaded user module.", "module", name, "objects", loaded.Len())
	}
	return nil
}

// ExperimentFile returns the path of an experiment's session file.
func ExperimentFile(dir, experiment string) string {
	return filepath.Join(dir, "experiments", experiment+".go")
}

// mergeWithWarnings copies src into dst, warning when a module
// shadows an existing object.
func mergeWithWarnings(dst, src *beamsh.Namespace, contributor string, log *slog.Logger) {
	src.Walk(func(name string, obj any) {
		if replaced := dst.Set(name, obj); replaced {
			log.Warn("Object name collision, the newer object wins.",
				"name", name, "contributor", contributor)
		}
		if doc := src.Doc(name); doc != "" {
			dst.SetDoc(name, doc)
		}
	})
}
