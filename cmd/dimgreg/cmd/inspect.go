package cmd

import (
	"fmt"
	"slices"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/aweris/dimgreg"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <repo> <tag>",
	Short: "Show image ID, parent and labels",
	Args:  cobra.ExactArgs(2),
	RunE:  runInspect,
}

var historyCmd = &cobra.Command{
	Use:   "history <repo> <tag>",
	Short: "Show image history",
	Args:  cobra.ExactArgs(2),
	RunE:  runHistory,
}

func init() {
	inspectCmd.Flags().String("suffix", "", "sub-repository of the image")
	historyCmd.Flags().String("suffix", "", "sub-repository of the image")
	historyCmd.Flags().Bool("no-trunc", false, "do not truncate commands")
	rootCmd.AddCommand(inspectCmd, historyCmd)
}

func runInspect(cmd *cobra.Command, args []string) error {
	suffix, _ := cmd.Flags().GetString("suffix")
	tag := args[1]

	return withView(args[0], func(view *dimgreg.View) error {
		ctx := cmd.Context()

		id, err := view.ImageID(ctx, tag, suffix)
		if err != nil {
			return err
		}
		parent, err := view.ImageParentID(ctx, tag, suffix)
		if err != nil {
			return err
		}
		labels, err := view.ImageLabels(ctx, tag, suffix)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "ID:      %s\n", id)
		if parent == "" {
			parent = "-"
		}
		fmt.Fprintf(out, "Parent:  %s\n", parent)
		fmt.Fprintln(out, "Labels:")

		keys := make([]string, 0, len(labels))
		for k := range labels {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		for _, k := range keys {
			fmt.Fprintf(out, "  %s=%s\n", k, labels[k])
		}
		return nil
	})
}

func runHistory(cmd *cobra.Command, args []string) error {
	suffix, _ := cmd.Flags().GetString("suffix")
	noTrunc, _ := cmd.Flags().GetBool("no-trunc")
	tag := args[1]

	return withView(args[0], func(view *dimgreg.View) error {
		history, err := view.ImageHistory(cmd.Context(), tag, suffix)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "CREATED\tCREATED BY\tCOMMENT")
		// Newest first, as docker history prints it.
		for i := len(history) - 1; i >= 0; i-- {
			h := history[i]
			created := "-"
			if !h.Created.IsZero() {
				created = h.Created.UTC().Format(time.RFC3339)
			}
			createdBy := strings.TrimSpace(h.CreatedBy)
			if !noTrunc && len(createdBy) > 60 {
				createdBy = createdBy[:57] + "..."
			}
			fmt.Fprintf(w, "%s\t%s\t%s\n", created, createdBy, h.Comment)
		}
		return w.Flush()
	})
}
