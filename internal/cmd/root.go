package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/elagerway/magpipe/internal/debug"
	"github.com/elagerway/magpipe/internal/filter"
	"github.com/elagerway/magpipe/internal/outfmt"
)

// rootFlags holds global CLI flags
type rootFlags struct {
	Output string
	JSON   bool
	JQ     string
	Debug  bool
}

// flags holds the global command flags. This is package-level mutable state
// that MUST be reset at the start of every execute() call. Tests depend on
// this reset to get clean state.
var flags = rootFlags{
	Output: defaultOutput(),
}

func defaultOutput() string {
	value := strings.TrimSpace(os.Getenv("MAGPIPE_OUTPUT"))
	if value != "" {
		return normalizeOutputFormat(value)
	}
	return "text"
}

func normalizeOutputFormat(value string) string {
	value = strings.TrimSpace(value)
	if value == "ndjson" {
		return "jsonl"
	}
	return value
}

// loadMagpipeEnv loads environment variables from ~/.magpipe/.env if the file
// exists. Variables already set in the environment are not overwritten, so
// explicit exports always take precedence.
func loadMagpipeEnv() {
	home, err := os.UserHomeDir()
	if err != nil {
		return
	}
	path := filepath.Join(home, ".magpipe", ".env")
	if _, err := os.Stat(path); err != nil {
		return
	}
	_ = godotenv.Load(path)
}

// Execute runs the root command
func Execute(ctx context.Context, args []string) error {
	return execute(ctx, args, os.Stdout, os.Stderr)
}

func execute(ctx context.Context, args []string, out, errOut io.Writer) error {
	loadMagpipeEnv()

	// Reset flags to defaults for each execution; see the invariant comment
	// on the flags declaration above.
	flags = rootFlags{
		Output: defaultOutput(),
	}

	root := &cobra.Command{
		Use:           "magpipe",
		Short:         "Unified inbox for SMS, calls, web chat, and email",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			flags.Output = normalizeOutputFormat(flags.Output)
			if flags.JSON {
				if cmd.Flags().Changed("output") && flags.Output != "json" {
					return fmt.Errorf("--json conflicts with --output %s", flags.Output)
				}
				flags.Output = "json"
			}
			if flags.JQ != "" && flags.Output != "json" && flags.Output != "jsonl" {
				if cmd.Flags().Changed("output") {
					return fmt.Errorf("--jq requires --output json or jsonl/ndjson (or --json)")
				}
				flags.Output = "json"
			}

			mode, err := outfmt.Parse(flags.Output)
			if err != nil {
				return err
			}
			ctx = outfmt.WithMode(ctx, mode)

			debug.SetupLogger(flags.Debug)
			ctx = debug.WithDebug(ctx, flags.Debug)

			cmd.SetContext(ctx)
			return nil
		},
	}

	root.SetContext(ctx)
	root.SetArgs(args)
	root.SetOut(out)
	root.SetErr(errOut)

	root.PersistentFlags().StringVarP(&flags.Output, "output", "o", flags.Output, "Output format: text|json|jsonl|ndjson (env MAGPIPE_OUTPUT)")
	root.PersistentFlags().BoolVarP(&flags.JSON, "json", "j", false, "Shorthand for --output json")
	root.PersistentFlags().StringVar(&flags.JQ, "jq", "", "JQ expression to filter JSON output")
	root.PersistentFlags().BoolVar(&flags.Debug, "debug", false, "Enable debug logging")

	root.AddCommand(newAuthCmd())
	root.AddCommand(newListCmd())
	root.AddCommand(newShowCmd())
	root.AddCommand(newFollowCmd())
	root.AddCommand(newReadCmd())
	root.AddCommand(newHideCmd())
	root.AddCommand(newUnhideCmd())
	root.AddCommand(newDeleteCmd())
	root.AddCommand(newSyncCmd())
	root.AddCommand(newVersionCmd())

	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(root.ErrOrStderr(), err)
		return err
	}
	return nil
}

// isJSON reports whether the command should emit structured output.
func isJSON(cmd *cobra.Command) bool {
	return outfmt.IsJSON(cmd.Context())
}

// printJSON writes v in the active JSON mode, applying --jq when set.
func printJSON(cmd *cobra.Command, v any) error {
	if expr := strings.TrimSpace(flags.JQ); expr != "" {
		data, err := json.Marshal(v)
		if err != nil {
			return err
		}
		var decoded any
		if err := json.Unmarshal(data, &decoded); err != nil {
			return err
		}
		filtered, err := filter.Apply(decoded, expr)
		if err != nil {
			return err
		}
		v = filtered
	}
	if outfmt.IsJSONL(cmd.Context()) {
		return outfmt.WriteJSONL(cmd.OutOrStdout(), v)
	}
	return outfmt.WriteJSON(cmd.OutOrStdout(), v)
}
