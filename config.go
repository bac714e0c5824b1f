package jig

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Manifest is the parsed form of a jig.yaml rules file: the build
// contexts to register and the declarative rules to compile into
// pre-rules. Rules whose dependencies cannot be written down up front
// are registered programmatically instead; the manifest covers the
// common declarative shapes.
type Manifest struct {
	// Contexts lists build flavour names. Each gets a _build subtree.
	Contexts []string `yaml:"contexts"`

	// Rules are compiled into pre-rules in listed order.
	Rules []ManifestRule `yaml:"rules"`
}

// ManifestRule is one declarative rule. Exactly one of Run, Copy or
// Write must be set.
type ManifestRule struct {
	// Targets the rule promises to produce.
	Targets []string `yaml:"targets"`

	// Deps are statically known dependencies.
	Deps []string `yaml:"deps,omitempty"`

	// DepsFrom names a file whose lines are additional dependencies,
	// read while the rule is evaluated.
	DepsFrom string `yaml:"deps_from,omitempty"`

	// GoModDeps names a go.mod file whose direct requirements are
	// recorded as library dependencies of the first target's directory.
	GoModDeps string `yaml:"go_mod_deps,omitempty"`

	// LibDeps are library requirements recorded against the first
	// target's directory.
	LibDeps []string `yaml:"lib_deps,omitempty"`

	// Sandbox runs the action in an isolated directory.
	Sandbox bool `yaml:"sandbox,omitempty"`

	Run   *RunSpec   `yaml:"run,omitempty"`
	Copy  *CopySpec  `yaml:"copy,omitempty"`
	Write *WriteSpec `yaml:"write,omitempty"`
}

// RunSpec invokes a process.
type RunSpec struct {
	Dir  string   `yaml:"dir"`
	Argv []string `yaml:"argv"`

	// Updates lists targets the process rewrites in place.
	Updates []string `yaml:"updates,omitempty"`
}

// CopySpec copies a file.
type CopySpec struct {
	Src string `yaml:"src"`
	Dst string `yaml:"dst"`
}

// WriteSpec writes literal data to a file.
type WriteSpec struct {
	Target string `yaml:"target"`
	Data   string `yaml:"data"`
}

// LoadManifest reads and validates a manifest file.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	if err := m.validate(); err != nil {
		return nil, fmt.Errorf("manifest %s: %w", path, err)
	}
	return &m, nil
}

func (m *Manifest) validate() error {
	for i, r := range m.Rules {
		if len(r.Targets) == 0 {
			return fmt.Errorf("rule %d: no targets", i)
		}
		actions := 0
		if r.Run != nil {
			actions++
			if len(r.Run.Argv) == 0 {
				return fmt.Errorf("rule %d: run without argv", i)
			}
		}
		if r.Copy != nil {
			actions++
		}
		if r.Write != nil {
			actions++
		}
		if actions != 1 {
			return fmt.Errorf("rule %d: want exactly one of run, copy, write; got %d", i, actions)
		}
	}
	return nil
}

// manifestPath interprets a manifest path string: absolute paths are
// external, everything else is local under the engine root.
func manifestPath(s string) Path {
	if filepath.IsAbs(s) {
		return External(filepath.ToSlash(s))
	}
	return Local(s)
}

func manifestPaths(ss []string) []Path {
	out := make([]Path, len(ss))
	for i, s := range ss {
		out[i] = manifestPath(s)
	}
	return out
}

// Apply registers the manifest's contexts and rules with the engine.
func (m *Manifest) Apply(e *Engine) error {
	for _, name := range m.Contexts {
		e.AddContext(Context{Name: name})
	}
	for i := range m.Rules {
		if err := e.AddPreRule(m.Rules[i].preRule()); err != nil {
			return err
		}
	}
	return nil
}

// preRule compiles one manifest rule into a pre-rule. The arrow
// declares the static deps, folds in deps_from lines and go.mod
// requirements, records lib_deps, and returns the action.
func (r *ManifestRule) preRule() PreRule {
	targets := manifestPaths(r.Targets)
	ruleDir := targets[0].Dir()

	var action Action
	switch {
	case r.Run != nil:
		action = &RunAction{
			DirPath: manifestPath(r.Run.Dir),
			Argv:    r.Run.Argv,
			Updates: manifestPaths(r.Run.Updates),
		}
	case r.Copy != nil:
		action = &CopyFileAction{Src: manifestPath(r.Copy.Src), Dst: manifestPath(r.Copy.Dst)}
	case r.Write != nil:
		action = &WriteFileAction{Target: manifestPath(r.Write.Target), Data: r.Write.Data}
	}

	build := DeclareDeps(manifestPaths(r.Deps)...)
	if r.DepsFrom != "" {
		from := manifestPath(r.DepsFrom)
		build = Bind(build, func(struct{}) Build[struct{}] {
			return Bind(LinesOf(from), func(lines []string) Build[struct{}] {
				return DeclareDeps(manifestPaths(lines)...)
			})
		})
	}
	if r.GoModDeps != "" {
		gomod := manifestPath(r.GoModDeps)
		build = Bind(build, func(struct{}) Build[struct{}] {
			return GoModLibDeps(gomod, ruleDir)
		})
	}
	if len(r.LibDeps) > 0 {
		libs := r.LibDeps
		build = Bind(build, func(struct{}) Build[struct{}] {
			return RecordLibDeps(ruleDir, libs...)
		})
	}

	return PreRule{
		Build:   Map(build, func(struct{}) Action { return action }),
		Targets: targets,
		Sandbox: r.Sandbox,
	}
}
