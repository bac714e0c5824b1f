package jig

// AddSourceCopyRules synthesises a copy-rule staging each source file
// into c's build directory. A source that is itself the target of some
// other rule is skipped. The rules register as overridable so that a
// real generator for the same staged path replaces the plain copy.
func (e *Engine) AddSourceCopyRules(c Context, sources []Path) error {
	for _, src := range sources {
		if e.IsTarget(src) {
			continue
		}
		dst := c.BuildDirPath().Join(src.String())
		build := Map(DeclareDeps(src), func(struct{}) Action {
			return &CopyFileAction{Src: src, Dst: dst}
		})
		pr := PreRule{
			Build:         build,
			Targets:       []Path{dst},
			AllowOverride: true,
		}
		if err := e.AddPreRule(pr); err != nil {
			return err
		}
	}
	return nil
}
