package jig

import (
	"fmt"

	"golang.org/x/mod/modfile"
)

// GoModLibDeps reads the go.mod at gomod, declaring it as a
// dependency, and records the module paths of its direct requirements
// as library dependencies of dir. Indirect requirements are skipped.
func GoModLibDeps(gomod, dir Path) Build[struct{}] {
	return Bind(Contents(gomod), func(data string) Build[struct{}] {
		if data == "" {
			// Approximate evaluation sees no contents; the dependency on
			// gomod is already declared, which is all the closure needs.
			return Return(struct{}{})
		}
		f, err := modfile.ParseLax(gomod.String(), []byte(data), nil)
		if err != nil {
			return FailWith[struct{}](fmt.Errorf("parse %s: %w", gomod, err))
		}
		var mods []string
		for _, req := range f.Require {
			if !req.Indirect {
				mods = append(mods, req.Mod.Path)
			}
		}
		return RecordLibDeps(dir, mods...)
	})
}

// GoVersionOf reads the go directive from the go.mod at gomod.
func GoVersionOf(gomod Path) Build[string] {
	return Bind(Contents(gomod), func(data string) Build[string] {
		if data == "" {
			return Return("")
		}
		f, err := modfile.ParseLax(gomod.String(), []byte(data), nil)
		if err != nil {
			return FailWith[string](fmt.Errorf("parse %s: %w", gomod, err))
		}
		if f.Go == nil {
			return FailWith[string](fmt.Errorf("no go directive in %s", gomod))
		}
		return Return(f.Go.Version)
	})
}
