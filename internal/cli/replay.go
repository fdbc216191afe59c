package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/unkn0wn-root/entrysync/source"
)

func NewReplayCommand(root *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "replay [file|-]",
		Short: "Handle storage events read from a JSON lines file",
		Long: `Read one JSON event per line and handle them in order.

Each line looks like:
  {"kind":"artifact.stored","storage":"storage0","repository":"releases","path":"org/a/1.0/a.jar"}

Blank lines and lines starting with # are skipped. Without a file, or with -,
events are read from stdin.

Examples:
  entrysync replay events.jsonl
  cat events.jsonl | entrysync replay -`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := cmd.InOrStdin()
			if len(args) == 1 && args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return WrapExitError(ExitCommandError, "open events", err)
				}
				defer f.Close()
				in = f
			}
			return runReplay(cmd.Context(), root, in, cmd.OutOrStdout())
		},
	}
}

func runReplay(ctx context.Context, root *RootOptions, in io.Reader, out io.Writer) error {
	a, err := build(ctx, root)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	st, err := source.ReadLines(ctx, in, a.Dispatcher, a.Log)
	if err != nil {
		return WrapExitError(ExitFailure, fmt.Sprintf("replay stopped after %d events", st.Handled), err)
	}
	if root.Format == "json" {
		return json.NewEncoder(out).Encode(map[string]int{"handled": st.Handled, "skipped": st.Skipped})
	}
	fmt.Fprintf(out, "handled %d events, skipped %d lines\n", st.Handled, st.Skipped)
	return nil
}
