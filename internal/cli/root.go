package cli

import (
	"github.com/spf13/cobra"
)

// NewRootCommand builds the jig command tree.
func NewRootCommand(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "jig",
		Short: "Incremental build engine driven by a rules manifest",
		Long: `Jig brings requested targets up to date by running just the rules
whose inputs changed. Rules come from a jig.yaml manifest; outputs
live under _build/ together with the persisted rule trace.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringP("root", "C", ".", "Project root directory")
	rootCmd.PersistentFlags().String("manifest", "jig.yaml", "Rules manifest, relative to the root")

	buildCmd := &cobra.Command{
		Use:   "build <target>...",
		Short: "Bring targets up to date",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runBuild,
	}
	buildCmd.Flags().Bool("no-gc", false, "Skip removal of stale artifacts before building")

	depsCmd := &cobra.Command{
		Use:   "deps <target>...",
		Short: "Show library requirements of the targets' rule closure",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runDeps,
	}
	depsCmd.Flags().Bool("by-context", false, "Group requirements by build context")

	cleanCmd := &cobra.Command{
		Use:   "clean",
		Short: "Remove artifacts no registered rule promises",
		Args:  cobra.NoArgs,
		RunE:  runClean,
	}

	traceCmd := &cobra.Command{
		Use:   "trace",
		Short: "Print the persisted rule trace",
		Args:  cobra.NoArgs,
		RunE:  runTrace,
	}

	rootCmd.AddCommand(buildCmd, depsCmd, cleanCmd, traceCmd)
	return rootCmd
}
