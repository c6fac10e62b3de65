package cli

import (
	"fmt"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	cuteshm "github.com/MPI-IS/cute-shm"
	"github.com/MPI-IS/cute-shm/dataset"
)

var (
	loadOverwrite  bool
	loadEphemeral  bool
	loadNoProgress bool
)

var loadCmd = &cobra.Command{
	Use:   "load <project> <dataset.json>",
	Short: "Transfer a hierarchical dataset file to shared memory",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		project, file := args[0], args[1]
		m := newManager()
		src := dataset.OpenJSON(file)

		total, count, err := dataset.TotalBytes(src)
		if err != nil {
			return err
		}

		opts := dataset.TransferOptions{
			Persistent: !loadEphemeral,
			Overwrite:  loadOverwrite,
		}
		if !loadNoProgress && !verbose {
			bar := progressbar.DefaultBytes(total, "transferring")
			opts.Progress = func(copied, _ int64) {
				_ = bar.Set64(copied)
			}
		}

		if err := dataset.Transfer(m, project, src, opts); err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Catalog file: %s\n", m.CatalogPath(project))
		fmt.Fprintf(cmd.OutOrStdout(), "Datasets transferred: %d\n", count)
		fmt.Fprintf(cmd.OutOrStdout(), "Total memory size: %s\n", cuteshm.BytesToHuman(total))
		return nil
	},
}

func init() {
	loadCmd.Flags().BoolVarP(&loadOverwrite, "overwrite", "o", false, "overwrite an existing project of the same name")
	loadCmd.Flags().BoolVar(&loadEphemeral, "ephemeral", false, "mark the project ephemeral instead of persistent")
	loadCmd.Flags().BoolVar(&loadNoProgress, "no-progress", false, "disable the progress bar")
	rootCmd.AddCommand(loadCmd)
}
