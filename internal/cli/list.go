package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	cuteshm "github.com/MPI-IS/cute-shm"
)

var listShort bool

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "Display published shared-memory projects",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		m := newManager()
		infos, err := m.Overview(listShort)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()

		if len(infos) == 0 {
			fmt.Fprintln(out, "No cute-shm project found.")
			return nil
		}

		if listShort {
			printShort(out, infos)
			return nil
		}
		printFull(out, infos)
		return nil
	},
}

func init() {
	listCmd.Flags().BoolVar(&listShort, "short", false, "display only per-project summaries")
	rootCmd.AddCommand(listCmd)
}

var tableStyle = lipgloss.NewStyle().Padding(0, 1)

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		StyleFunc(func(int, int) lipgloss.Style { return tableStyle }).
		Headers(headers...)
}

func printShort(out io.Writer, infos []cuteshm.ProjectInfo) {
	t := newTable("Project", "Catalog", "Arrays", "Size", "Integrity")
	for _, info := range infos {
		if info.Corrupt {
			t.Row(info.Name, info.CatalogPath, "corrupt", "-", "x")
			continue
		}
		integrity := "ok"
		if info.MissingSegments {
			integrity = "x"
		}
		t.Row(info.Name, info.CatalogPath,
			fmt.Sprintf("%d", info.ArrayCount),
			cuteshm.BytesToHuman(info.TotalBytes),
			integrity)
	}
	fmt.Fprintln(out, t)
}

func printFull(out io.Writer, infos []cuteshm.ProjectInfo) {
	var damaged []string
	for _, info := range infos {
		if info.Corrupt {
			fmt.Fprintf(out, "\nProject %s: failed to parse catalog %s\n", info.Name, info.CatalogPath)
			continue
		}

		fmt.Fprintf(out, "\nProject: %s - %s - %s\n",
			info.Name, info.CatalogPath, cuteshm.BytesToHuman(info.TotalBytes))
		t := newTable("Key Path", "Shape", "Dtype", "Size", "Attributes", "Shared Memory Name")
		for _, leaf := range info.Leaves {
			name := leaf.SHMName
			if leaf.Missing {
				name = "* MISSING *"
			}
			t.Row(
				strings.Join(leaf.Path, "."),
				fmt.Sprintf("%v", leaf.Shape),
				string(leaf.DType),
				cuteshm.BytesToHuman(leaf.NumBytes),
				strings.Join(leaf.AttrKeys, ", "),
				name,
			)
		}
		fmt.Fprintln(out, t)
		if info.MissingSegments {
			damaged = append(damaged, info.Name)
		}
	}

	if len(damaged) > 0 {
		fmt.Fprintf(out, "\nWarning! project(s) with missing shared memory segment(s): %s\n",
			strings.Join(damaged, ", "))
	}
}
