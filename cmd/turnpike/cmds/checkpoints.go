package cmds

import (
	"fmt"
	"path/filepath"
	"text/tabwriter"

	"github.com/go-go-golems/turnpike/pkg/checkpoint"
	"github.com/go-go-golems/turnpike/pkg/config"
	"github.com/spf13/cobra"
)

func NewCheckpointsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "checkpoints",
		Short: "Inspect and restore checkpoints written before file-modifying tools ran",
	}
	cmd.AddCommand(newListCheckpointsCommand(), newRestoreCheckpointCommand())
	return cmd
}

func newListCheckpointsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List checkpoints",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := config.Load()
			if err != nil {
				return err
			}
			infos, err := checkpoint.List(s.CheckpointDir)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tTOOL\tFILE\tCOMMIT")
			for _, i := range infos {
				rec, err := checkpoint.Load(i.Path)
				if err != nil {
					fmt.Fprintf(w, "%s\t?\t?\t?\n", i.Name)
					continue
				}
				commit := rec.CommitHash
				if len(commit) > 8 {
					commit = commit[:8]
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", i.Name, rec.ToolCall.Name, rec.FilePath, commit)
			}
			return w.Flush()
		},
	}
}

func newRestoreCheckpointCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "restore <checkpoint>",
		Short: "Restore the workspace files of a checkpoint",
		Long:  "Restore the workspace files of a checkpoint. The conversation is restored with /restore inside a chat.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := config.Load()
			if err != nil {
				return err
			}
			path := args[0]
			if !filepath.IsAbs(path) && filepath.Dir(path) == "." {
				path = filepath.Join(s.CheckpointDir, path)
			}
			snapshotter := checkpoint.NewGitSnapshotter(s.Workspace, s.ShadowGitDir)
			rec, err := checkpoint.Restore(cmd.Context(), path, snapshotter)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "restored %s to %s\n", s.Workspace, rec.CommitHash)
			return err
		},
	}
}
