package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aweris/dimgreg"
)

var deleteCmd = &cobra.Command{
	Use:   "delete <repo> <tag>",
	Short: "Delete the image behind a tag",
	Long:  "Delete the manifest a tag points to. Other tags sharing that manifest disappear too.",
	Args:  cobra.ExactArgs(2),
	RunE:  runDelete,
}

var flushStagesCmd = &cobra.Command{
	Use:   "flush-stages <repo>",
	Short: "Delete all stage tags",
	Long:  "Delete every image tagged with the stage prefix in the repository.",
	Args:  cobra.ExactArgs(1),
	RunE:  runFlushStages,
}

func init() {
	deleteCmd.Flags().String("suffix", "", "sub-repository of the image")
	flushStagesCmd.Flags().Bool("dry-run", false, "only print the stage tags that would be deleted")
	rootCmd.AddCommand(deleteCmd, flushStagesCmd)
}

func runDelete(cmd *cobra.Command, args []string) error {
	suffix, _ := cmd.Flags().GetString("suffix")
	tag := args[1]

	return withView(args[0], func(view *dimgreg.View) error {
		if err := view.DeleteImage(cmd.Context(), tag, suffix); err != nil {
			return fmt.Errorf("delete failed: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", tag)
		return nil
	})
}

func runFlushStages(cmd *cobra.Command, args []string) error {
	dryRun, _ := cmd.Flags().GetBool("dry-run")

	return withView(args[0], func(view *dimgreg.View) error {
		removed, err := view.FlushStages(cmd.Context(), dryRun)
		out := cmd.OutOrStdout()
		for _, tag := range removed {
			if dryRun {
				fmt.Fprintf(out, "Would delete %s\n", tag)
			} else {
				fmt.Fprintf(out, "Deleted %s\n", tag)
			}
		}
		if err != nil {
			return fmt.Errorf("flush failed: %w", err)
		}
		if len(removed) == 0 {
			fmt.Fprintln(out, "(no stage tags)")
		}
		return nil
	})
}
