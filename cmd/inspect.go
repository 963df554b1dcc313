package cmd

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"tinypng/internal/ingest"
	"tinypng/internal/tui"
	"tinypng/pkg/imgutil"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <path>...",
	Short: "Describe images without uploading them",
	Long:  "Report format, dimensions, size and embedded metadata for each image, and whether the shrink service accepts it.",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		files, err := ingest.Collect(imgutil.Classifier{}, args...)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		for i, path := range files {
			if i > 0 {
				fmt.Fprintln(out)
			}
			desc, err := imgutil.Describe(path)
			if err != nil {
				fmt.Fprintf(out, "%s\n  %s %s\n", inspectFileStyle.Render(path), inspectBulletStyle.Render("-"), inspectErrorStyle.Render(err.Error()))
				continue
			}
			writeDescription(out, desc)
		}
		return nil
	},
}

func writeDescription(out io.Writer, desc imgutil.Description) {
	fmt.Fprintf(out, "%s\n", inspectFileStyle.Render(desc.Path))

	format := desc.Kind.String()
	if desc.MIME != "" {
		format += " (" + desc.MIME + ")"
	}
	dimensions := "unknown"
	if desc.Width > 0 && desc.Height > 0 {
		dimensions = fmt.Sprintf("%dx%d", desc.Width, desc.Height)
	}
	accepted := inspectOKStyle.Render("yes")
	if !desc.Compressible() {
		accepted = inspectErrorStyle.Render("no")
	}

	field := func(label, value string) {
		fmt.Fprintf(out, "  %s %s\n", inspectCategoryStyle.Render(label+":"), inspectValueStyle.Render(value))
	}
	field("Format", format)
	field("Size", tui.FormatBytes(desc.Size))
	field("Dimensions", dimensions)
	fmt.Fprintf(out, "  %s %s\n", inspectCategoryStyle.Render("Compressible:"), accepted)

	if len(desc.Metadata) == 0 {
		fmt.Fprintf(out, "  %s %s\n", inspectCategoryStyle.Render("Metadata:"), inspectDimStyle.Render("none"))
		return
	}
	fmt.Fprintf(out, "  %s\n", inspectCategoryStyle.Render("Metadata:"))
	for _, category := range desc.Metadata {
		fmt.Fprintf(out, "    %s\n", inspectCategoryStyle.Render(category.Name))
		for _, value := range category.Values {
			fmt.Fprintf(out, "      %s %s\n", inspectBulletStyle.Render("-"), inspectValueStyle.Render(value))
		}
	}
}

var (
	inspectFileStyle     = lipgloss.NewStyle().Bold(true).Foreground(tui.ColorAccent)
	inspectCategoryStyle = lipgloss.NewStyle().Foreground(tui.ColorAccentAlt)
	inspectValueStyle    = lipgloss.NewStyle().Foreground(tui.ColorInk)
	inspectDimStyle      = lipgloss.NewStyle().Foreground(tui.ColorDim)
	inspectBulletStyle   = lipgloss.NewStyle().Foreground(tui.ColorDim)
	inspectOKStyle       = lipgloss.NewStyle().Foreground(tui.ColorSuccess)
	inspectErrorStyle    = lipgloss.NewStyle().Foreground(tui.ColorError)
)

func init() {
	rootCmd.AddCommand(inspectCmd)
}
