package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var unlinkCmd = &cobra.Command{
	Use:   "unlink <project>",
	Short: "Remove a project's shared memory and catalog",
	Long: "Remove every shared-memory segment of a project and then its " +
		"catalog file. Unlinking an already absent project succeeds, so " +
		"cleanup is safe to run speculatively.",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		project := args[0]
		if err := newManager().Unlink(project); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Shared memory for project '%s' has been cleaned up.\n", project)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(unlinkCmd)
}
