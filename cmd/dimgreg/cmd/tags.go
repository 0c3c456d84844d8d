package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/aweris/dimgreg"
)

var tagsCmd = &cobra.Command{
	Use:   "tags <repo>",
	Short: "List repository tags",
	Long:  "List tags of a repository, optionally only build stages or only named releases.",
	Args:  cobra.ExactArgs(1),
	RunE:  runTags,
}

func init() {
	tagsCmd.Flags().Bool("stages", false, "only stage tags")
	tagsCmd.Flags().Bool("named", false, "only named tags")
	tagsCmd.Flags().String("suffix", "", "sub-repository to list")
	tagsCmd.Flags().BoolP("long", "l", false, "show image and parent IDs")
	tagsCmd.MarkFlagsMutuallyExclusive("stages", "named")
	tagsCmd.MarkFlagsMutuallyExclusive("stages", "suffix")
	tagsCmd.MarkFlagsMutuallyExclusive("named", "suffix")
	rootCmd.AddCommand(tagsCmd)
}

func runTags(cmd *cobra.Command, args []string) error {
	stages, _ := cmd.Flags().GetBool("stages")
	named, _ := cmd.Flags().GetBool("named")
	suffix, _ := cmd.Flags().GetString("suffix")
	long, _ := cmd.Flags().GetBool("long")

	return withView(args[0], func(view *dimgreg.View) error {
		ctx := cmd.Context()

		var (
			tags []string
			err  error
		)
		switch {
		case stages:
			tags, err = view.StageTags(ctx)
		case named:
			tags, err = view.NamedTags(ctx)
		case suffix != "":
			tags, err = view.TagsForRepository(ctx, suffix)
		default:
			tags, err = view.Tags(ctx)
		}
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if len(tags) == 0 {
			fmt.Fprintln(out, "(no tags)")
			return nil
		}

		if !long {
			for _, tag := range tags {
				fmt.Fprintln(out, tag)
			}
			return nil
		}

		infos, err := view.DescribeTags(ctx, tags, suffix)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "TAG\tIMAGE ID\tPARENT")
		for _, info := range infos {
			fmt.Fprintf(w, "%s\t%s\t%s\n", info.Tag, shortID(info.ImageID), shortID(info.ParentID))
		}
		return w.Flush()
	})
}

// shortID trims "sha256:" and keeps 12 hex characters, like docker images.
func shortID(id string) string {
	const prefix = "sha256:"
	if len(id) > len(prefix) && id[:len(prefix)] == prefix {
		id = id[len(prefix):]
	}
	if len(id) > 12 {
		return id[:12]
	}
	if id == "" {
		return "-"
	}
	return id
}
