package cli

import (
	"fmt"
	"path/filepath"
	"sort"

	"github.com/fredrikaverpil/jig"
	"github.com/spf13/cobra"
)

// setup creates an engine rooted at --root with the --manifest rules
// and source-copy bridge applied. The caller owns Close.
func setup(cmd *cobra.Command) (*jig.Engine, error) {
	root, err := cmd.Flags().GetString("root")
	if err != nil {
		return nil, err
	}
	manifest, err := cmd.Flags().GetString("manifest")
	if err != nil {
		return nil, err
	}

	eng, err := jig.New(root)
	if err != nil {
		return nil, err
	}
	m, err := jig.LoadManifest(filepath.Join(eng.Root(), manifest))
	if err != nil {
		return nil, err
	}
	if err := m.Apply(eng); err != nil {
		return nil, err
	}

	sources, err := eng.SourceFiles()
	if err != nil {
		return nil, err
	}
	for _, c := range eng.Contexts() {
		if err := eng.AddSourceCopyRules(c, sources); err != nil {
			return nil, err
		}
	}
	return eng, nil
}

func runBuild(cmd *cobra.Command, args []string) error {
	eng, err := setup(cmd)
	if err != nil {
		return err
	}
	defer eng.Close()

	if noGC, _ := cmd.Flags().GetBool("no-gc"); !noGC {
		if err := eng.RemoveOldArtifacts(); err != nil {
			return err
		}
	}

	targets := make([]jig.Path, len(args))
	for i, a := range args {
		targets[i] = jig.Local(a)
	}
	return eng.DoBuild(cmd.Context(), targets...)
}

func runDeps(cmd *cobra.Command, args []string) error {
	eng, err := setup(cmd)
	if err != nil {
		return err
	}
	defer eng.Close()

	targets := make([]jig.Path, len(args))
	for i, a := range args {
		targets[i] = jig.Local(a)
	}

	byContext, _ := cmd.Flags().GetBool("by-context")
	var groups map[string][]string
	if byContext {
		groups, err = eng.LibDepsByContext(cmd.Context(), targets...)
	} else {
		groups, err = eng.LibDeps(cmd.Context(), targets...)
	}
	if err != nil {
		return err
	}

	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		for _, dep := range groups[k] {
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", k, dep)
		}
	}
	return nil
}

func runClean(cmd *cobra.Command, args []string) error {
	eng, err := setup(cmd)
	if err != nil {
		return err
	}
	defer eng.Close()
	return eng.RemoveOldArtifacts()
}

func runTrace(cmd *cobra.Command, args []string) error {
	eng, err := setup(cmd)
	if err != nil {
		return err
	}
	defer eng.Close()

	trace := eng.Trace()
	keys := make([]string, 0, len(trace))
	for k := range trace {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", k, trace[k])
	}
	return nil
}
