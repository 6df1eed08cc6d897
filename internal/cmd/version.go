package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/elagerway/magpipe/internal/update"
)

// version is set at build time via ldflags
var version = "dev"

func newVersionCmd() *cobra.Command {
	var check bool

	cmd := &cobra.Command{
		Use:     "version",
		Aliases: []string{"v"},
		Short:   "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "magpipe version %s\n", version)

			if !check {
				return
			}
			result := update.CheckForUpdate(cmd.Context(), version)
			switch {
			case result == nil:
				_, _ = fmt.Fprintln(out, "Release check unavailable.")
			case result.UpdateAvailable:
				_, _ = fmt.Fprintf(out, "Update available: %s -> %s\n", result.CurrentVersion, result.LatestVersion)
				_, _ = fmt.Fprintf(out, "Download: %s\n", result.UpdateURL)
			default:
				_, _ = fmt.Fprintln(out, "You are on the latest release.")
			}
		},
	}

	cmd.Flags().BoolVar(&check, "check", false, "Check for a newer release")
	return cmd
}
